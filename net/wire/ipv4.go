// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"net"
)

// IPv4HeaderLen is the length of an IPv4 header with no options, the only
// form this stack's IPv4 layer ever emits or parses.
const IPv4HeaderLen = 20

// IPProtocol identifies the payload protocol carried by an IPv4 datagram.
type IPProtocol uint8

const (
	IPProtoICMP IPProtocol = 1
	IPProtoTCP  IPProtocol = 6
	IPProtoUDP  IPProtocol = 17
)

const ipv4DontFragment = 1 << 1

// IPv4 is a view over a 20-byte-or-longer buffer holding an IPv4 datagram.
type IPv4 struct {
	buf []byte
}

// ZeroedIPv4 allocates a fresh datagram with version/IHL pre-set to 4/5
// (no options) and the Don't Fragment flag set, matching this stack's
// egress policy.
func ZeroedIPv4(payloadLen int) *IPv4 {
	buf := make([]byte, IPv4HeaderLen+payloadLen)
	buf[0] = 0x45
	binary.BigEndian.PutUint16(buf[2:4], uint16(IPv4HeaderLen+payloadLen))
	buf[6] = ipv4DontFragment << 5
	buf[8] = 64 // default TTL
	return &IPv4{buf: buf}
}

// IPv4FromBytes wraps buf as an IPv4 view without copying it.
func IPv4FromBytes(buf []byte) (*IPv4, error) {
	if len(buf) < IPv4HeaderLen {
		return nil, ErrShortBuffer
	}
	v := &IPv4{buf: buf}
	if v.IHL() < 5 {
		return nil, ErrShortBuffer
	}
	return v, nil
}

func (p *IPv4) IntoBytes() []byte { return p.buf }

func (p *IPv4) Version() uint8 { return p.buf[0] >> 4 }
func (p *IPv4) IHL() uint8     { return p.buf[0] & 0x0f }

func (p *IPv4) TotalLength() uint16 { return binary.BigEndian.Uint16(p.buf[2:4]) }
func (p *IPv4) SetTotalLength(n uint16) {
	binary.BigEndian.PutUint16(p.buf[2:4], n)
}

func (p *IPv4) ID() uint16 { return binary.BigEndian.Uint16(p.buf[4:6]) }
func (p *IPv4) SetID(id uint16) {
	binary.BigEndian.PutUint16(p.buf[4:6], id)
}

func (p *IPv4) DontFragment() bool { return p.buf[6]&0x40 != 0 }
func (p *IPv4) SetDontFragment(set bool) {
	if set {
		p.buf[6] |= 0x40
	} else {
		p.buf[6] &^= 0x40
	}
}

func (p *IPv4) TTL() uint8     { return p.buf[8] }
func (p *IPv4) SetTTL(t uint8) { p.buf[8] = t }

func (p *IPv4) Protocol() IPProtocol     { return IPProtocol(p.buf[9]) }
func (p *IPv4) SetProtocol(pr IPProtocol) { p.buf[9] = uint8(pr) }

func (p *IPv4) Checksum() uint16 { return binary.BigEndian.Uint16(p.buf[10:12]) }

func (p *IPv4) SrcIP() net.IP { return net.IP(p.buf[12:16]) }
func (p *IPv4) DstIP() net.IP { return net.IP(p.buf[16:20]) }

func (p *IPv4) SetSrcIP(ip net.IP) { copy(p.buf[12:16], ip.To4()) }
func (p *IPv4) SetDstIP(ip net.IP) { copy(p.buf[16:20], ip.To4()) }

// Header returns the fixed 20-byte header slice, used as checksum input.
func (p *IPv4) Header() []byte { return p.buf[:IPv4HeaderLen] }

// Payload returns the bytes following the header.
func (p *IPv4) Payload() []byte { return p.buf[IPv4HeaderLen:p.TotalLength()] }

// SetPayload copies pl after the header and updates TotalLength.
func (p *IPv4) SetPayload(pl []byte) {
	need := IPv4HeaderLen + len(pl)
	if cap(p.buf) < need {
		nb := make([]byte, need)
		copy(nb, p.buf[:IPv4HeaderLen])
		p.buf = nb
	} else {
		p.buf = p.buf[:need]
	}
	copy(p.buf[IPv4HeaderLen:], pl)
	p.SetTotalLength(uint16(need))
}

// FinalizeChecksum recomputes and stores the header checksum over the
// current header bytes (with the checksum field itself zeroed first): a
// correctly checksummed header folds to all-ones.
func (p *IPv4) FinalizeChecksum() {
	p.buf[10] = 0
	p.buf[11] = 0
	binary.LittleEndian.PutUint16(p.buf[10:12], checksum(p.Header()))
}

// VerifyChecksum reports whether the header checksum field makes the
// one's-complement sum over the whole header equal to zero.
func (p *IPv4) VerifyChecksum() bool {
	return checksum(p.Header()) == 0
}

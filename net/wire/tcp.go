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

// TCPHeaderLen is the length of a TCP header with no options, the only
// form this stack's TCP engine ever emits or parses; there is no window
// scaling or other option support.
const TCPHeaderLen = 20

// TCP flag bits, packed into the low 6 bits of byte 13.
const (
	TCPFlagFIN uint8 = 1 << 0
	TCPFlagSYN uint8 = 1 << 1
	TCPFlagRST uint8 = 1 << 2
	TCPFlagPSH uint8 = 1 << 3
	TCPFlagACK uint8 = 1 << 4
	TCPFlagURG uint8 = 1 << 5
)

// TCP is a view over a 20-byte-or-longer buffer holding a TCP segment.
type TCP struct {
	buf []byte
}

// ZeroedTCP allocates a fresh segment with DataOffset pre-set to 5 (no
// options).
func ZeroedTCP(payloadLen int) *TCP {
	buf := make([]byte, TCPHeaderLen+payloadLen)
	buf[12] = 5 << 4
	return &TCP{buf: buf}
}

// TCPFromBytes wraps buf as a TCP view without copying it.
func TCPFromBytes(buf []byte) (*TCP, error) {
	if len(buf) < TCPHeaderLen {
		return nil, ErrShortBuffer
	}
	return &TCP{buf: buf}, nil
}

func (s *TCP) IntoBytes() []byte { return s.buf }

func (s *TCP) SrcPort() uint16 { return binary.BigEndian.Uint16(s.buf[0:2]) }
func (s *TCP) DstPort() uint16 { return binary.BigEndian.Uint16(s.buf[2:4]) }

func (s *TCP) SetSrcPort(p uint16) { binary.BigEndian.PutUint16(s.buf[0:2], p) }
func (s *TCP) SetDstPort(p uint16) { binary.BigEndian.PutUint16(s.buf[2:4], p) }

func (s *TCP) Seq() uint32 { return binary.BigEndian.Uint32(s.buf[4:8]) }
func (s *TCP) SetSeq(v uint32) { binary.BigEndian.PutUint32(s.buf[4:8], v) }

func (s *TCP) Ack() uint32 { return binary.BigEndian.Uint32(s.buf[8:12]) }
func (s *TCP) SetAck(v uint32) { binary.BigEndian.PutUint32(s.buf[8:12], v) }

func (s *TCP) DataOffset() uint8 { return s.buf[12] >> 4 }

func (s *TCP) Flags() uint8     { return s.buf[13] & 0x3f }
func (s *TCP) SetFlags(f uint8) { s.buf[13] = f & 0x3f }

func (s *TCP) HasFlag(f uint8) bool { return s.Flags()&f != 0 }

func (s *TCP) Window() uint16 { return binary.BigEndian.Uint16(s.buf[14:16]) }
func (s *TCP) SetWindow(w uint16) {
	binary.BigEndian.PutUint16(s.buf[14:16], w)
}

func (s *TCP) Checksum() uint16 { return binary.BigEndian.Uint16(s.buf[16:18]) }

func (s *TCP) Urgent() uint16 { return binary.BigEndian.Uint16(s.buf[18:20]) }

// HeaderLen returns DataOffset converted to bytes.
func (s *TCP) HeaderLen() int { return int(s.DataOffset()) * 4 }

func (s *TCP) Payload() []byte { return s.buf[s.HeaderLen():] }

func (s *TCP) SetPayload(p []byte) {
	hl := s.HeaderLen()
	need := hl + len(p)
	if cap(s.buf) < need {
		nb := make([]byte, need)
		copy(nb, s.buf[:hl])
		s.buf = nb
	} else {
		s.buf = s.buf[:need]
	}
	copy(s.buf[hl:], p)
}

// FinalizeChecksum recomputes and stores the checksum over the IPv4
// pseudo-header (src, dst, zero, protocol, TCP length) followed by the
// segment itself, per RFC 793 §3.1.
func (s *TCP) FinalizeChecksum(src, dst net.IP, length uint16) {
	s.buf[16] = 0
	s.buf[17] = 0

	sum := pseudoHeaderSum(src, dst, uint8(IPProtoTCP), length)
	sum = runningSum(sum, s.buf)
	binary.LittleEndian.PutUint16(s.buf[16:18], foldChecksum(sum))
}

// VerifyChecksum reports whether the segment's checksum field is valid
// given the IPv4 addresses it arrived under.
func (s *TCP) VerifyChecksum(src, dst net.IP, length uint16) bool {
	sum := pseudoHeaderSum(src, dst, uint8(IPProtoTCP), length)
	sum = runningSum(sum, s.buf)
	return foldChecksum(sum) == 0
}

func pseudoHeaderSum(src, dst net.IP, proto uint8, length uint16) uint32 {
	var hdr [12]byte
	copy(hdr[0:4], src.To4())
	copy(hdr[4:8], dst.To4())
	hdr[8] = 0
	hdr[9] = proto
	binary.BigEndian.PutUint16(hdr[10:12], length)
	return runningSum(0, hdr[:])
}

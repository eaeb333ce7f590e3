// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package wire

import "encoding/binary"

// ICMPHeaderLen is the fixed 8-byte ICMP header length (RFC 792): type,
// code, checksum and a 4-byte rest-of-header (id/sequence for echo).
const ICMPHeaderLen = 8

// ICMPType is the ICMP message type.
type ICMPType uint8

const (
	ICMPEchoReply   ICMPType = 0
	ICMPEchoRequest ICMPType = 8
)

// ICMP is a view over an 8-byte-or-longer buffer holding an ICMP message.
type ICMP struct {
	buf []byte
}

// ZeroedICMP allocates a fresh header-plus-payload buffer.
func ZeroedICMP(payloadLen int) *ICMP {
	return &ICMP{buf: make([]byte, ICMPHeaderLen+payloadLen)}
}

// ICMPFromBytes wraps buf as an ICMP view without copying it.
func ICMPFromBytes(buf []byte) (*ICMP, error) {
	if len(buf) < ICMPHeaderLen {
		return nil, ErrShortBuffer
	}
	return &ICMP{buf: buf}, nil
}

func (m *ICMP) IntoBytes() []byte { return m.buf }

func (m *ICMP) Type() ICMPType     { return ICMPType(m.buf[0]) }
func (m *ICMP) SetType(t ICMPType) { m.buf[0] = uint8(t) }

func (m *ICMP) Code() uint8     { return m.buf[1] }
func (m *ICMP) SetCode(c uint8) { m.buf[1] = c }

func (m *ICMP) Checksum() uint16 { return binary.BigEndian.Uint16(m.buf[2:4]) }

func (m *ICMP) Identifier() uint16 { return binary.BigEndian.Uint16(m.buf[4:6]) }
func (m *ICMP) SetIdentifier(id uint16) {
	binary.BigEndian.PutUint16(m.buf[4:6], id)
}

func (m *ICMP) Sequence() uint16 { return binary.BigEndian.Uint16(m.buf[6:8]) }
func (m *ICMP) SetSequence(seq uint16) {
	binary.BigEndian.PutUint16(m.buf[6:8], seq)
}

func (m *ICMP) Payload() []byte { return m.buf[ICMPHeaderLen:] }

func (m *ICMP) SetPayload(p []byte) {
	need := ICMPHeaderLen + len(p)
	if cap(m.buf) < need {
		nb := make([]byte, need)
		copy(nb, m.buf[:ICMPHeaderLen])
		m.buf = nb
	} else {
		m.buf = m.buf[:need]
	}
	copy(m.buf[ICMPHeaderLen:], p)
}

// FinalizeChecksum recomputes and stores the checksum over the whole
// message (header and payload); ICMP, unlike TCP, has no pseudo-header.
func (m *ICMP) FinalizeChecksum() {
	m.buf[2] = 0
	m.buf[3] = 0
	binary.LittleEndian.PutUint16(m.buf[2:4], checksum(m.buf))
}

// VerifyChecksum reports whether the message's checksum field is valid.
func (m *ICMP) VerifyChecksum() bool {
	return checksum(m.buf) == 0
}

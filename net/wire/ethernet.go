// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"fmt"
	"net"
)

// EthernetHeaderLen is the fixed length of an Ethernet II header: two
// 6-byte MAC addresses plus a 2-byte EtherType.
const EthernetHeaderLen = 14

// EtherType identifies the payload protocol carried by an Ethernet frame.
type EtherType uint16

const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
	EtherTypeIPv6 EtherType = 0x86DD
)

func (t EtherType) String() string {
	switch t {
	case EtherTypeIPv4:
		return "IPv4"
	case EtherTypeARP:
		return "ARP"
	case EtherTypeIPv6:
		return "IPv6"
	default:
		return fmt.Sprintf("EtherType(0x%04x)", uint16(t))
	}
}

// BroadcastMAC is the all-ones Ethernet broadcast address.
var BroadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Ethernet is a view over a 14-byte-or-longer buffer holding an Ethernet II
// frame: no field is copied out, every accessor reads or writes directly
// into the backing buffer.
type Ethernet struct {
	buf []byte
}

// ZeroedEthernet allocates a fresh zero-filled header-plus-payload buffer.
func ZeroedEthernet(payloadLen int) *Ethernet {
	return &Ethernet{buf: make([]byte, EthernetHeaderLen+payloadLen)}
}

// EthernetFromBytes wraps buf as an Ethernet view without copying it.
func EthernetFromBytes(buf []byte) (*Ethernet, error) {
	if len(buf) < EthernetHeaderLen {
		return nil, ErrShortBuffer
	}
	return &Ethernet{buf: buf}, nil
}

// IntoBytes yields the backing buffer back to the caller.
func (e *Ethernet) IntoBytes() []byte { return e.buf }

func (e *Ethernet) Dst() net.HardwareAddr { return net.HardwareAddr(e.buf[0:6]) }
func (e *Ethernet) Src() net.HardwareAddr { return net.HardwareAddr(e.buf[6:12]) }

func (e *Ethernet) SetDst(mac net.HardwareAddr) { copy(e.buf[0:6], mac) }
func (e *Ethernet) SetSrc(mac net.HardwareAddr) { copy(e.buf[6:12], mac) }

func (e *Ethernet) EtherType() EtherType {
	return EtherType(binary.BigEndian.Uint16(e.buf[12:14]))
}

func (e *Ethernet) SetEtherType(t EtherType) {
	binary.BigEndian.PutUint16(e.buf[12:14], uint16(t))
}

// Payload returns the frame bytes following the header, still backed by the
// same buffer.
func (e *Ethernet) Payload() []byte { return e.buf[EthernetHeaderLen:] }

// SetPayload copies p into the frame immediately after the header,
// resizing the backing buffer if necessary.
func (e *Ethernet) SetPayload(p []byte) {
	need := EthernetHeaderLen + len(p)
	if cap(e.buf) < need {
		nb := make([]byte, need)
		copy(nb, e.buf[:EthernetHeaderLen])
		e.buf = nb
	} else {
		e.buf = e.buf[:need]
	}
	copy(e.buf[EthernetHeaderLen:], p)
}

// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package wire

import (
	"net"
	"testing"
)

func TestEthernetRoundTrip(t *testing.T) {
	e := ZeroedEthernet(4)
	e.SetDst(net.HardwareAddr{1, 2, 3, 4, 5, 6})
	e.SetSrc(net.HardwareAddr{6, 5, 4, 3, 2, 1})
	e.SetEtherType(EtherTypeIPv4)
	e.SetPayload([]byte{0xde, 0xad, 0xbe, 0xef})

	got, err := EthernetFromBytes(e.IntoBytes())
	if err != nil {
		t.Fatal(err)
	}
	if got.Dst().String() != "01:02:03:04:05:06" {
		t.Fatalf("dst = %v", got.Dst())
	}
	if got.EtherType() != EtherTypeIPv4 {
		t.Fatalf("ethertype = %v", got.EtherType())
	}
	if string(got.Payload()) != "\xde\xad\xbe\xef" {
		t.Fatalf("payload = %x", got.Payload())
	}
}

func TestARPRoundTrip(t *testing.T) {
	a := ZeroedARP()
	a.SetOpcode(ARPRequest)
	a.SetSenderMAC(net.HardwareAddr{1, 1, 1, 1, 1, 1})
	a.SetSenderIP(net.IPv4(10, 0, 0, 1))
	a.SetTargetIP(net.IPv4(10, 0, 0, 2))

	got, err := ARPFromBytes(a.IntoBytes())
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsEthernetIPv4() {
		t.Fatalf("expected ethernet/ipv4 combination")
	}
	if got.Opcode() != ARPRequest {
		t.Fatalf("opcode = %v", got.Opcode())
	}
	if !got.SenderIP().Equal(net.IPv4(10, 0, 0, 1)) {
		t.Fatalf("sender ip = %v", got.SenderIP())
	}
}

func TestIPv4ChecksumZeroProperty(t *testing.T) {
	p := ZeroedIPv4(0)
	p.SetSrcIP(net.IPv4(192, 168, 1, 1))
	p.SetDstIP(net.IPv4(192, 168, 1, 2))
	p.SetProtocol(IPProtoICMP)
	p.SetID(0xbeef)
	p.FinalizeChecksum()

	if !p.VerifyChecksum() {
		t.Fatalf("checksum did not verify to zero")
	}

	// Flipping any header byte must break the invariant.
	p.IntoBytes()[0] ^= 0xff
	if p.VerifyChecksum() {
		t.Fatalf("corrupted header still verified")
	}
}

func TestICMPRoundTripAndChecksum(t *testing.T) {
	m := ZeroedICMP(4)
	m.SetType(ICMPEchoRequest)
	m.SetIdentifier(7)
	m.SetSequence(1)
	m.SetPayload([]byte("ping"))
	m.FinalizeChecksum()

	if !m.VerifyChecksum() {
		t.Fatalf("icmp checksum did not verify")
	}

	got, err := ICMPFromBytes(m.IntoBytes())
	if err != nil {
		t.Fatal(err)
	}
	if got.Type() != ICMPEchoRequest || got.Identifier() != 7 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestTCPFlagsAndChecksum(t *testing.T) {
	src := net.IPv4(10, 0, 0, 1)
	dst := net.IPv4(10, 0, 0, 2)

	s := ZeroedTCP(0)
	s.SetSrcPort(1000)
	s.SetDstPort(80)
	s.SetSeq(0)
	s.SetAck(1001)
	s.SetFlags(TCPFlagSYN | TCPFlagACK)
	s.SetWindow(1024)
	s.FinalizeChecksum(src, dst, uint16(len(s.IntoBytes())))

	if !s.HasFlag(TCPFlagSYN) || !s.HasFlag(TCPFlagACK) || s.HasFlag(TCPFlagFIN) {
		t.Fatalf("flags = %08b", s.Flags())
	}
	if !s.VerifyChecksum(src, dst, uint16(len(s.IntoBytes()))) {
		t.Fatalf("tcp checksum did not verify")
	}
}

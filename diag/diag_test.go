// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package diag

import (
	"net"
	"strings"
	"testing"

	"github.com/foundryos/unikernel/net/wire"
)

func TestSummarizeARPRequest(t *testing.T) {
	src, _ := net.ParseMAC("52:54:00:12:34:56")
	dst, _ := net.ParseMAC("ff:ff:ff:ff:ff:ff")

	pkt := wire.ZeroedARP()
	pkt.SetOpcode(wire.ARPRequest)
	pkt.SetSenderMAC(src)
	pkt.SetSenderIP(net.IPv4(10, 0, 2, 2))
	pkt.SetTargetIP(net.IPv4(10, 0, 2, 15))

	frame := wire.ZeroedEthernet(len(pkt.IntoBytes()))
	frame.SetSrc(src)
	frame.SetDst(dst)
	frame.SetEtherType(wire.EtherTypeARP)
	frame.SetPayload(pkt.IntoBytes())

	s := Summarize(frame.IntoBytes())
	if !strings.Contains(s, "ETH") || !strings.Contains(s, "ARP") {
		t.Fatalf("summary = %q, want ETH and ARP layers", s)
	}
	if !strings.Contains(s, "10.0.2.2") || !strings.Contains(s, "10.0.2.15") {
		t.Fatalf("summary = %q, want both addresses present", s)
	}
}

func TestSummarizeUnparsedFrame(t *testing.T) {
	s := Summarize([]byte{0x01, 0x02})
	if !strings.Contains(s, "2 bytes") {
		t.Fatalf("summary = %q, want a byte-count fallback", s)
	}
}

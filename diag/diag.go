// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package diag decodes raw Ethernet frames for diagnostic logging: dropped
// or malformed traffic the protocol layers couldn't make sense of is handed
// here instead of dumped as a raw hex blob, since a one-line layer summary
// is what actually gets read off a serial console during bring-up.
package diag

import (
	"fmt"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Summarize decodes buf as an Ethernet frame and renders a single-line,
// layer-by-layer description (e.g. "ETH 52:54:00:12:34:56->ff:ff:ff:ff:ff:ff
// type=ARP ARP request 10.0.2.2->10.0.2.15"), falling back to a byte count if it doesn't even
// parse as Ethernet. It never panics on malformed input: gopacket's lazy
// decoding surfaces truncated/garbage layers as a trailing error note rather
// than failing outright.
func Summarize(buf []byte) string {
	packet := gopacket.NewPacket(buf, layers.LayerTypeEthernet, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})

	if packet.Layer(layers.LayerTypeEthernet) == nil {
		return fmt.Sprintf("unparsed frame, %d bytes", len(buf))
	}

	var parts []string
	for _, l := range packet.Layers() {
		parts = append(parts, describeLayer(l))
	}

	if err := packet.ErrorLayer(); err != nil {
		parts = append(parts, fmt.Sprintf("decode-error(%v)", err.Error()))
	}

	if len(parts) == 0 {
		return fmt.Sprintf("unparsed frame, %d bytes", len(buf))
	}

	return strings.Join(parts, " ")
}

func describeLayer(l gopacket.Layer) string {
	switch v := l.(type) {
	case *layers.Ethernet:
		return fmt.Sprintf("ETH %s->%s type=%s", v.SrcMAC, v.DstMAC, v.EthernetType)

	case *layers.ARP:
		op := "request"
		if v.Operation == layers.ARPReply {
			op = "reply"
		}
		return fmt.Sprintf("ARP %s %s->%s", op, ipFromBytes(v.SourceProtAddress), ipFromBytes(v.DstProtAddress))

	case *layers.IPv4:
		return fmt.Sprintf("IPv4 %s->%s proto=%s ttl=%d", v.SrcIP, v.DstIP, v.Protocol, v.TTL)

	case *layers.ICMPv4:
		return fmt.Sprintf("ICMPv4 type=%s id=%d seq=%d", v.TypeCode, v.Id, v.Seq)

	case *layers.TCP:
		return fmt.Sprintf("TCP %d->%d flags=%s seq=%d ack=%d win=%d len=%d",
			v.SrcPort, v.DstPort, tcpFlagString(v), v.Seq, v.Ack, v.Window, len(v.Payload))

	default:
		return l.LayerType().String()
	}
}

func tcpFlagString(t *layers.TCP) string {
	var b strings.Builder
	add := func(set bool, c string) {
		if set {
			b.WriteString(c)
		}
	}
	add(t.SYN, "S")
	add(t.ACK, "A")
	add(t.FIN, "F")
	add(t.RST, "R")
	add(t.PSH, "P")
	add(t.URG, "U")
	if b.Len() == 0 {
		return "-"
	}
	return b.String()
}

func ipFromBytes(b []byte) string {
	if len(b) != 4 {
		return fmt.Sprintf("%x", b)
	}
	return fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3])
}

// IPv4 ingress/egress.
// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package ipv4 implements the IPv4 layer: locally-bound-address
// filtering, proto dispatch (ICMP/TCP), and an egress path that resolves
// the destination MAC via ARP before handing a wrapped Ethernet frame to
// the Ethernet layer's TX routing table.
package ipv4

import (
	"net"
	"sync/atomic"

	"github.com/foundryos/unikernel/net/arp"
	"github.com/foundryos/unikernel/net/ethernet"
	"github.com/foundryos/unikernel/net/wire"
	"github.com/foundryos/unikernel/task"
)

// IDGen hands out the monotonically incrementing IPv4 identification field
// values stamped into every outgoing datagram.
type IDGen struct{ next atomic.Uint32 }

// Next returns the next identification value.
func (g *IDGen) Next() uint16 {
	return uint16(g.next.Add(1))
}

// BuildDatagram constructs a complete, checksum-finalized IPv4 datagram
// with flags=DF, the given id, ttl=64, and the given payload.
func BuildDatagram(src, dst net.IP, proto wire.IPProtocol, payload []byte, id uint16) []byte {
	pkt := wire.ZeroedIPv4(len(payload))
	pkt.SetSrcIP(src)
	pkt.SetDstIP(dst)
	pkt.SetProtocol(proto)
	pkt.SetID(id)
	pkt.SetDontFragment(true)
	pkt.SetTTL(64)
	pkt.SetPayload(payload)
	pkt.FinalizeChecksum()
	return pkt.IntoBytes()
}

// ICMPHandler processes an ICMP message's bytes and optionally returns a
// reply ICMP message's bytes.
type ICMPHandler func(payload []byte) (reply []byte, ok bool)

// TCPHandler processes a TCP segment arriving from srcIP to dstIP and
// optionally returns a reply segment's bytes.
type TCPHandler func(srcIP, dstIP net.IP, segment []byte) (reply []byte, ok bool)

// IsLocal reports whether ip is one of the addresses this stack answers
// for.
type IsLocal func(ip net.IP) bool

// Ingress implements IPv4 ingress: discard silently if
// dst-ip is not locally bound or the checksum is invalid, else dispatch by
// protocol. Returns a ready-to-wrap reply datagram, or ok=false.
func Ingress(buf []byte, isLocal IsLocal, ids *IDGen, onICMP ICMPHandler, onTCP TCPHandler) (reply []byte, ok bool) {
	pkt, err := wire.IPv4FromBytes(buf)
	if err != nil || !pkt.VerifyChecksum() {
		return nil, false
	}

	if !isLocal(pkt.DstIP()) {
		return nil, false
	}

	switch pkt.Protocol() {
	case wire.IPProtoICMP:
		replyPayload, ok := onICMP(pkt.Payload())
		if !ok {
			return nil, false
		}
		return BuildDatagram(pkt.DstIP(), pkt.SrcIP(), wire.IPProtoICMP, replyPayload, ids.Next()), true

	case wire.IPProtoTCP:
		replyPayload, ok := onTCP(pkt.SrcIP(), pkt.DstIP(), pkt.Payload())
		if !ok {
			return nil, false
		}
		return BuildDatagram(pkt.DstIP(), pkt.SrcIP(), wire.IPProtoTCP, replyPayload, ids.Next()), true

	default:
		return nil, false
	}
}

// Egress resolves the destination IP to a MAC via ARP and hands a wrapped
// frame to the Ethernet layer; the frame is dropped silently if resolution
// fails or times out.
type Egress struct {
	Cache    *arp.Cache
	Ethernet *ethernet.Layer
	LocalMAC net.HardwareAddr
	IDs      *IDGen
}

type egressFuture struct {
	e       *Egress
	dstIP   net.IP
	srcIP   net.IP
	proto   wire.IPProtocol
	payload []byte
	resolve task.Future
}

// Send returns a Future that completes once the frame has been resolved and
// enqueued (or silently dropped, on ARP timeout).
func (e *Egress) Send(payload []byte, proto wire.IPProtocol, dstIP, srcIP net.IP) task.Future {
	return &egressFuture{e: e, dstIP: dstIP, srcIP: srcIP, proto: proto, payload: payload}
}

func (f *egressFuture) Poll(w *task.Waker) bool {
	if f.resolve == nil {
		if mac, ok := f.e.Cache.Lookup(f.dstIP); ok {
			f.send(mac)
			return true
		}
		f.resolve = f.e.Cache.Resolve(f.dstIP, f.srcIP, f.e.LocalMAC, ethernetSender{f.e})
	}

	if !f.resolve.Poll(w) {
		return false
	}

	if r, ok := f.resolve.(interface{ Result() (net.HardwareAddr, bool) }); ok {
		if mac, ok := r.Result(); ok {
			f.send(mac)
		}
		// Resolution failed: drop silently.
	}

	return true
}

func (f *egressFuture) send(dstMAC net.HardwareAddr) {
	datagram := BuildDatagram(f.srcIP, f.dstIP, f.proto, f.payload, f.e.IDs.Next())

	frame := wire.ZeroedEthernet(len(datagram))
	frame.SetDst(dstMAC)
	frame.SetSrc(f.e.LocalMAC)
	frame.SetEtherType(wire.EtherTypeIPv4)
	frame.SetPayload(datagram)

	f.e.Ethernet.HandleTX(frame)
}

// ethernetSender adapts Egress to arp.Sender, for ARP requests emitted
// during resolution.
type ethernetSender struct{ e *Egress }

func (s ethernetSender) SendEthernet(dst net.HardwareAddr, ethertype wire.EtherType, payload []byte) {
	frame := wire.ZeroedEthernet(len(payload))
	frame.SetDst(dst)
	frame.SetSrc(s.e.LocalMAC)
	frame.SetEtherType(ethertype)
	frame.SetPayload(payload)
	s.e.Ethernet.HandleTX(frame)
}

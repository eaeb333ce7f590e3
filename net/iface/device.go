// Single-NIC network device: wires the NIC driver to the protocol stack.
// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package iface ties one bound (MAC, IP) pair to a concrete NIC driver and
// the ARP/Ethernet/IPv4/ICMP/TCP layers that process its traffic. It is the
// only package that imports every protocol layer plus the driver package,
// since every other layer is deliberately kept ignorant of its neighbors to
// avoid import cycles (see net/tcp/stream.go's Egress interface and
// net/ipv4's ethernetSender).
package iface

import (
	"net"

	"github.com/foundryos/unikernel/async"
	"github.com/foundryos/unikernel/bootlog"
	"github.com/foundryos/unikernel/diag"
	"github.com/foundryos/unikernel/net/arp"
	"github.com/foundryos/unikernel/net/ethernet"
	"github.com/foundryos/unikernel/net/icmp"
	"github.com/foundryos/unikernel/net/ipv4"
	"github.com/foundryos/unikernel/net/rtl8139"
	"github.com/foundryos/unikernel/net/tcp"
	"github.com/foundryos/unikernel/net/wire"
	"github.com/foundryos/unikernel/task"
)

// Device is one bound network interface: a driver, the address it answers
// for, and the protocol stack instances that process its frames.
type Device struct {
	driver *rtl8139.Driver
	arp    *arp.Cache
	eth    *ethernet.Layer
	ids    *ipv4.IDGen
	tcp    *tcp.Engine
	egress *ipv4.Egress

	localMAC net.HardwareAddr
	localIP  net.IP

	log interface {
		Info(msg string, args ...interface{})
		Debug(msg string, args ...interface{})
	}
}

// NewDevice binds localIP to driver's burned-in MAC and constructs the ARP
// cache, Ethernet routing table, IPv4 egress path, and TCP engine a single
// interface needs. Call Serve to start processing its traffic and Init (on
// driver) beforehand to bring the hardware up.
func NewDevice(driver *rtl8139.Driver, localIP net.IP) *Device {
	mac := driver.MAC()

	cache := arp.NewCache()
	cache.Bind(localIP, mac)

	eth := ethernet.NewLayer()
	eth.RegisterRoute(mac, driver)

	ids := &ipv4.IDGen{}

	d := &Device{
		driver:   driver,
		arp:      cache,
		eth:      eth,
		ids:      ids,
		tcp:      tcp.NewEngine(),
		localMAC: mac,
		localIP:  localIP,
		log:      bootlog.Named("iface"),
	}

	d.egress = &ipv4.Egress{Cache: cache, Ethernet: eth, LocalMAC: mac, IDs: ids}

	d.log.Info("bound", "mac", mac.String(), "ip", localIP.String())

	return d
}

// MAC returns the interface's bound Ethernet address.
func (d *Device) MAC() net.HardwareAddr { return d.localMAC }

// IP returns the interface's bound IPv4 address.
func (d *Device) IP() net.IP { return d.localIP }

// Listen binds a TCP listener to port, for later Accept calls.
func (d *Device) Listen(port uint16) (*tcp.Listener, error) {
	return d.tcp.Listeners().Listen(port)
}

type acceptFuture struct {
	d      *Device
	inner  task.Future
	stream *tcp.Stream
}

// streamResult is satisfied by tcp's internal accept future; asserted
// against rather than imported, since tcp.Listener.Accept returns the
// task.Future interface rather than a concrete exported type.
type streamResult interface {
	Stream() *tcp.Stream
}

// Accept returns a Future resolving to the next Stream accepted by l, with
// its IPv4 egress path already bound so Write/Close work without further
// wiring.
func (d *Device) Accept(l *tcp.Listener) task.Future {
	return &acceptFuture{d: d, inner: l.Accept()}
}

func (f *acceptFuture) Poll(w *task.Waker) bool {
	if !f.inner.Poll(w) {
		return false
	}

	if sr, ok := f.inner.(streamResult); ok {
		f.stream = sr.Stream()
		f.stream.BindEgress(f.d.egress)
	}

	return true
}

// Stream returns the accepted connection; only valid once Poll has returned
// true.
func (f *acceptFuture) Stream() *tcp.Stream { return f.stream }

type serveFuture struct {
	d     *Device
	frame task.Future
}

// frameResult is satisfied by async's channel receive future.
type frameResult interface {
	Result() async.RecvResult[[]byte]
}

// Serve returns a Future that never resolves: it pulls frames off the
// driver's RX queue as they arrive and dispatches each through the
// Ethernet/ARP/IPv4 stack. Spawn it once per device at boot.
func (d *Device) Serve() task.Future {
	return &serveFuture{d: d, frame: d.driver.Frames()}
}

func (f *serveFuture) Poll(w *task.Waker) bool {
	for {
		if !f.frame.Poll(w) {
			return false
		}

		if fr, ok := f.frame.(frameResult); ok {
			res := fr.Result()
			if !res.Terminal {
				f.d.handleFrame(res.Value)
			}
		}

		f.frame = f.d.driver.Frames()
	}
}

func (d *Device) handleFrame(buf []byte) {
	frame, err := wire.EthernetFromBytes(buf)
	if err != nil {
		d.log.Debug("dropped malformed frame", "error", err, "summary", diag.Summarize(buf))
		return
	}

	d.eth.HandleRX(frame, d.localMAC, map[wire.EtherType]ethernet.ProtocolHandler{
		wire.EtherTypeARP:  d.handleARP,
		wire.EtherTypeIPv4: d.handleIPv4,
	})
}

func (d *Device) handleARP(payload []byte, localMAC net.HardwareAddr) ([]byte, wire.EtherType, bool) {
	pkt, err := wire.ARPFromBytes(payload)
	if err != nil || !pkt.IsEthernetIPv4() {
		return nil, 0, false
	}

	d.arp.HandleRequest(pkt, ethernetSender{eth: d.eth, localMAC: localMAC})

	// HandleRequest sends its own reply directly through ethernetSender;
	// there is nothing further for HandleRX to wrap and retransmit.
	return nil, 0, false
}

func (d *Device) handleIPv4(payload []byte, _ net.HardwareAddr) ([]byte, wire.EtherType, bool) {
	reply, ok := ipv4.Ingress(payload, d.arp.IsLocal, d.ids, icmp.HandleEcho, d.tcp.HandleSegment)
	return reply, wire.EtherTypeIPv4, ok
}

// ethernetSender adapts the Ethernet layer to arp.Sender, for ARP replies
// raised directly out of Cache.HandleRequest rather than through the normal
// ProtocolHandler return path.
type ethernetSender struct {
	eth      *ethernet.Layer
	localMAC net.HardwareAddr
}

func (s ethernetSender) SendEthernet(dst net.HardwareAddr, ethertype wire.EtherType, payload []byte) {
	frame := wire.ZeroedEthernet(len(payload))
	frame.SetDst(dst)
	frame.SetSrc(s.localMAC)
	frame.SetEtherType(ethertype)
	frame.SetPayload(payload)
	s.eth.HandleTX(frame)
}

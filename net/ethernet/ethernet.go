// Ethernet II dispatch and TX routing.
// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package ethernet implements the Ethernet layer: a routing
// table from a local interface's MAC to its TX sink (registered by each NIC
// driver at bring-up) plus RX/TX dispatch.
package ethernet

import (
	"net"
	"sync"

	"github.com/foundryos/unikernel/net/wire"
)

// Sink accepts a raw frame for transmission; *rtl8139.Driver satisfies this
// via its StartSend method.
type Sink interface {
	StartSend(buf []byte)
}

// Layer owns the local-MAC -> TX sink routing table. Only task context
// enters it; a plain RWMutex suffices since every operation is
// a bounded map lookup, never a suspending wait.
type Layer struct {
	mu     sync.RWMutex
	routes map[string]Sink
}

// NewLayer constructs an empty Ethernet layer.
func NewLayer() *Layer {
	return &Layer{routes: make(map[string]Sink)}
}

// RegisterRoute binds localMAC (the address of one locally-bound interface)
// to the sink its frames should be enqueued on.
func (l *Layer) RegisterRoute(localMAC net.HardwareAddr, sink Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.routes[localMAC.String()] = sink
}

// HandleTX enqueues frame onto the sink registered for frame's source MAC
// (the local interface the caller already selected when it wrapped the
// frame). A true multi-NIC bridge would key this by destination MAC and a
// learned forwarding table; with exactly one interface bound at boot, the
// two are equivalent, and keying by source avoids needing a second,
// unspecified learning table.
func (l *Layer) HandleTX(frame *wire.Ethernet) {
	l.mu.RLock()
	sink, ok := l.routes[frame.Src().String()]
	l.mu.RUnlock()

	if !ok {
		return
	}

	sink.StartSend(frame.IntoBytes())
}

// ProtocolHandler processes a dispatched payload and optionally returns a
// reply payload plus its EtherType, to be wrapped back to the frame's
// sender.
type ProtocolHandler func(payload []byte, localMAC net.HardwareAddr) (replyPayload []byte, replyType wire.EtherType, hasReply bool)

// HandleRX dispatches frame's payload by EtherType to the registered
// handler (arp or ipv4, wired in by net/iface), and if the handler returns
// a reply, wraps it in an Ethernet frame with dst=frame.Src(),
// src=localMAC, and the reply's EtherType, then hands it back to HandleTX.
func (l *Layer) HandleRX(frame *wire.Ethernet, localMAC net.HardwareAddr, dispatch map[wire.EtherType]ProtocolHandler) {
	handler, ok := dispatch[frame.EtherType()]
	if !ok {
		return
	}

	replyPayload, replyType, hasReply := handler(frame.Payload(), localMAC)
	if !hasReply {
		return
	}

	reply := wire.ZeroedEthernet(len(replyPayload))
	reply.SetDst(frame.Src())
	reply.SetSrc(localMAC)
	reply.SetEtherType(replyType)
	reply.SetPayload(replyPayload)

	l.HandleTX(reply)
}

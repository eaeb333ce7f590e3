// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package tcp

import (
	"net"

	"github.com/foundryos/unikernel/net/wire"
)

// Engine ties the connection map to the listener registry and implements
// segment-arrival processing. It is the TCPHandler wired
// into ipv4.Ingress.
type Engine struct {
	conns     *ConnectionMap
	listeners *Registry
}

// NewEngine constructs an empty TCP engine.
func NewEngine() *Engine {
	return &Engine{conns: newConnectionMap(), listeners: newRegistry()}
}

// Listeners returns the engine's listener registry, for Listen/Accept.
func (e *Engine) Listeners() *Registry { return e.listeners }

// HandleSegment implements ipv4.TCPHandler: dispatch an arriving segment to
// the accept path (no existing connection) or the established path.
func (e *Engine) HandleSegment(srcIP, dstIP net.IP, segBytes []byte) (reply []byte, ok bool) {
	seg, err := wire.TCPFromBytes(segBytes)
	if err != nil {
		return nil, false
	}
	if !seg.VerifyChecksum(srcIP, dstIP, uint16(len(segBytes))) {
		return nil, false
	}

	quad := FourTuple{
		RemoteIP:   srcIP.String(),
		RemotePort: seg.SrcPort(),
		LocalIP:    dstIP.String(),
		LocalPort:  seg.DstPort(),
	}

	if conn, found := e.conns.get(quad); found {
		return e.handleEstablished(conn, seg, srcIP, dstIP)
	}

	return e.handleAccept(quad, seg, srcIP, dstIP)
}

// handleAccept processes a segment against no existing connection: RST and
// bare-ACK segments are rejected, a SYN to a listening port spawns a new
// connection and stream, and everything else is dropped.
func (e *Engine) handleAccept(quad FourTuple, seg *wire.TCP, srcIP, dstIP net.IP) (reply []byte, ok bool) {
	if seg.HasFlag(wire.TCPFlagRST) {
		return nil, false
	}

	if seg.HasFlag(wire.TCPFlagACK) && !seg.HasFlag(wire.TCPFlagSYN) {
		return buildRST(dstIP, srcIP, quad.LocalPort, quad.RemotePort, seg.Ack(), 0), true
	}

	if !seg.HasFlag(wire.TCPFlagSYN) {
		return nil, false
	}

	// Unknown ports on SYN silently drop, policy choice.
	l, found := e.listeners.lookup(quad.LocalPort)
	if !found {
		return nil, false
	}

	conn := newConnection(quad, seg.Seq(), seg.Window())
	e.conns.insert(conn)

	stream := newStream(conn, e, dstIP, srcIP)
	l.deliver(stream)

	return buildReply(dstIP, srcIP, quad.LocalPort, quad.RemotePort,
		wire.TCPFlagSYN|wire.TCPFlagACK, conn.sndISS, conn.rcvNxt, conn.rcvWnd, nil), true
}

var rstEligible = map[State]bool{
	StateSynReceived: true, StateEstablished: true,
	StateFinWait1: true, StateFinWait2: true, StateCloseWait: true,
}

// handleEstablished implements established-segment processing: RST and SYN
// handling, ACK validation and window tracking, in-order payload delivery,
// and FIN-driven close transitions.
//
// A strictly-greater-than SND.UNA requirement on every incoming ack would
// RST a connection the moment a duplicate ack (carrying no new
// acknowledgment) arrives after the handshake completes, which a live TCP
// peer does routinely. Only an ack of data never sent (SEG.ACK > SND.NXT)
// is treated as the desync worth resetting; an ack at or behind SND.UNA is
// an ordinary duplicate, safe to ignore.
func (e *Engine) handleEstablished(conn *Connection, seg *wire.TCP, srcIP, dstIP net.IP) (reply []byte, ok bool) {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	wasEstablished := conn.state == StateEstablished

	if seg.HasFlag(wire.TCPFlagRST) {
		if rstEligible[conn.state] {
			conn.state = StateClosed
			e.conns.remove(conn.quad)
		}
		return nil, false
	}

	if seg.HasFlag(wire.TCPFlagSYN) {
		conn.state = StateClosed
		e.conns.remove(conn.quad)
		return buildRST(dstIP, srcIP, conn.quad.LocalPort, conn.quad.RemotePort, 0, 0), true
	}

	if seg.HasFlag(wire.TCPFlagACK) {
		if seqGT(seg.Ack(), conn.sndNxt) {
			if conn.state == StateSynReceived || conn.state == StateEstablished {
				conn.state = StateClosed
				e.conns.remove(conn.quad)
				return buildRST(dstIP, srcIP, conn.quad.LocalPort, conn.quad.RemotePort, 0, 0), true
			}
			return nil, false
		}
		e.applyACK(conn, seg)
	}

	gotPayload := false
	if payload := seg.Payload(); len(payload) > 0 && seg.Seq() == conn.rcvNxt {
		conn.recvMu.Lock()
		conn.recvBuf = append(conn.recvBuf, payload...)
		conn.recvMu.Unlock()

		conn.rcvNxt += uint32(len(payload))
		gotPayload = true

		if w := conn.recvWaker.Swap(nil); w != nil {
			w.Wake()
		}
	}

	gotFin := false
	if seg.HasFlag(wire.TCPFlagFIN) {
		gotFin = e.applyFIN(conn)
	}

	switch {
	case gotFin || gotPayload:
		return buildReply(dstIP, srcIP, conn.quad.LocalPort, conn.quad.RemotePort,
			wire.TCPFlagACK, conn.sndNxt, conn.rcvNxt, conn.sndWnd, nil), true

	case wasEstablished && seg.Flags() == wire.TCPFlagACK && len(seg.Payload()) == 0:
		// Bare keep-alive ACK, carrying no new data or flags. Excluded from
		// the handshake-completing ACK (wasEstablished is false there) so a
		// freshly-established connection's first ACK produces no spurious
		// reply of its own.
		return buildReply(dstIP, srcIP, conn.quad.LocalPort, conn.quad.RemotePort,
			wire.TCPFlagACK, conn.sndNxt, conn.rcvNxt, conn.sndWnd, nil), true

	default:
		return nil, false
	}
}

// applyACK advances SND.UNA (when the ack is not stale), updates the send
// window per WL1/WL2 ordering, and drives state transitions when it
// acknowledges our own FIN. Caller holds conn.mu and has already verified
// SEG.ACK <= SND.NXT.
func (e *Engine) applyACK(conn *Connection, seg *wire.TCP) {
	if conn.state == StateSynReceived {
		conn.state = StateEstablished
	}

	if seqLT(seg.Ack(), conn.sndUna) {
		return // stale duplicate ack, safe to ignore
	}

	conn.sndUna = seg.Ack()

	if seqGT(seg.Seq(), conn.wl1) || (seg.Seq() == conn.wl1 && seqGE(seg.Ack(), conn.wl2)) {
		conn.sndWnd = seg.Window()
		conn.wl1 = seg.Seq()
		conn.wl2 = seg.Ack()
	}

	if conn.finSent && seqGT(conn.sndUna, conn.finSeq) {
		switch conn.state {
		case StateFinWait1:
			conn.state = StateFinWait2
		case StateClosing:
			conn.state = StateTimeWait
		case StateLastAck:
			conn.state = StateClosed
			e.conns.remove(conn.quad)
		}
	}
}

// applyFIN advances RCV.NXT and drives the close-side state transitions
// triggered by a peer FIN. Caller holds conn.mu.
func (e *Engine) applyFIN(conn *Connection) bool {
	if conn.closed {
		return false
	}

	conn.rcvNxt++
	conn.closed = true

	if w := conn.recvWaker.Swap(nil); w != nil {
		w.Wake()
	}

	switch conn.state {
	case StateSynReceived, StateEstablished:
		conn.state = StateCloseWait
	case StateFinWait1:
		conn.state = StateClosing
	case StateFinWait2:
		conn.state = StateTimeWait
	case StateTimeWait:
		// Restarts the 2MSL timer in a full implementation; this engine
		// has no retransmission/timeout queue, so there is
		// nothing further to do beyond re-acking.
	}

	return true
}

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
	"github.com/foundryos/unikernel/task"
)

// Egress abstracts handing an originating TCP segment to the IPv4 layer,
// implemented by *ipv4.Egress; kept minimal to avoid a dependency cycle
// (net/ipv4 never needs to import net/tcp).
type Egress interface {
	Send(payload []byte, proto wire.IPProtocol, dstIP, srcIP net.IP) task.Future
}

// Stream is one accepted TCP connection, handed to a task via
// Listener.Accept. Reads drain the connection's receive buffer and suspend
// on the connection's single waker slot when empty; writes build a
// PSH,ACK segment from the connection's current send state and hand it to
// the IPv4 egress path.
type Stream struct {
	conn   *Connection
	engine *Engine
	egress Egress
	srcIP  net.IP // our bound address, used as the TCP source IP
	dstIP  net.IP // the peer's address
}

func newStream(conn *Connection, e *Engine, srcIP, dstIP net.IP) *Stream {
	return &Stream{conn: conn, engine: e, srcIP: srcIP, dstIP: dstIP}
}

// BindEgress attaches the IPv4 egress path this stream's writes go through.
// net/iface wires this in at connection-accept time, since the engine
// itself has no dependency on ipv4 (avoiding an import cycle: ipv4.Egress
// already depends on net/arp and net/ethernet, and tcp.Engine is wired as
// ipv4's TCPHandler).
func (s *Stream) BindEgress(eg Egress) { s.egress = eg }

// State returns the connection's current state.
func (s *Stream) State() State { return s.conn.State() }

type readFuture struct {
	conn *Connection
	buf  []byte
	n    int
}

// Read returns a Future copying min(len(buf), available) bytes out of the
// connection's receive buffer into buf. If nothing is
// buffered yet, the future registers a waker and suspends until new data
// or a FIN arrives.
func (s *Stream) Read(buf []byte) task.Future {
	return &readFuture{conn: s.conn, buf: buf}
}

func (f *readFuture) Poll(w *task.Waker) bool {
	f.conn.recvMu.Lock()
	if len(f.conn.recvBuf) > 0 {
		n := copy(f.buf, f.conn.recvBuf)
		f.conn.recvBuf = f.conn.recvBuf[n:]
		f.conn.recvMu.Unlock()
		f.n = n
		return true
	}
	f.conn.recvMu.Unlock()

	if f.conn.State() == StateCloseWait || f.conn.State() == StateClosed {
		f.n = 0
		return true // peer closed, nothing left to read
	}

	f.conn.recvWaker.Store(w)

	// Re-check after registering, closing the lost-wakeup window: a
	// segment may have arrived between the unlock above and the store.
	f.conn.recvMu.Lock()
	if len(f.conn.recvBuf) > 0 {
		n := copy(f.buf, f.conn.recvBuf)
		f.conn.recvBuf = f.conn.recvBuf[n:]
		f.conn.recvMu.Unlock()
		f.conn.recvWaker.CompareAndSwap(w, nil)
		f.n = n
		return true
	}
	f.conn.recvMu.Unlock()

	return false
}

// N returns the number of bytes copied; only valid once Poll returns true.
func (f *readFuture) N() int { return f.n }

// Write builds a PSH,ACK segment carrying buf at the connection's current
// SND.NXT/RCV.NXT, advances SND.NXT by len(buf), and hands the segment to
// the IPv4 egress path. There is no retransmission queue: once
// handed off, the data is not retried.
func (s *Stream) Write(buf []byte) task.Future {
	s.conn.mu.Lock()
	seg := buildReply(s.srcIP, s.dstIP, s.conn.quad.LocalPort, s.conn.quad.RemotePort,
		wire.TCPFlagPSH|wire.TCPFlagACK, s.conn.sndNxt, s.conn.rcvNxt, s.conn.sndWnd, buf)
	s.conn.sndNxt += uint32(len(buf))
	s.conn.mu.Unlock()

	return s.egress.Send(seg, wire.IPProtoTCP, s.dstIP, s.srcIP)
}

// Close initiates connection teardown by sending a FIN and transitioning to
// FIN-WAIT-1.
func (s *Stream) Close() task.Future {
	s.conn.mu.Lock()
	seg := buildReply(s.srcIP, s.dstIP, s.conn.quad.LocalPort, s.conn.quad.RemotePort,
		wire.TCPFlagFIN|wire.TCPFlagACK, s.conn.sndNxt, s.conn.rcvNxt, s.conn.sndWnd, nil)

	s.conn.finSeq = s.conn.sndNxt
	s.conn.finSent = true
	s.conn.sndNxt++

	switch s.conn.state {
	case StateEstablished:
		s.conn.state = StateFinWait1
	case StateCloseWait:
		s.conn.state = StateLastAck
	}
	s.conn.mu.Unlock()

	return s.egress.Send(seg, wire.IPProtoTCP, s.dstIP, s.srcIP)
}


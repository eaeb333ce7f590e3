// RFC 793-style TCP connection state machine.
// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package tcp implements a TCP connection engine: a 4-tuple-keyed
// connection map, a listener registry consulted on first SYN, and the
// accept/established-segment state machine, including serial-number-safe
// ACK validity checks and RST construction.
package tcp

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/foundryos/unikernel/net/wire"
	"github.com/foundryos/unikernel/task"
)

// State is one of the TCP connection states.
type State int

const (
	StateListen State = iota
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateClosing
	StateLastAck
	StateTimeWait
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN-SENT"
	case StateSynReceived:
		return "SYN-RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN-WAIT-1"
	case StateFinWait2:
		return "FIN-WAIT-2"
	case StateCloseWait:
		return "CLOSE-WAIT"
	case StateClosing:
		return "CLOSING"
	case StateLastAck:
		return "LAST-ACK"
	case StateTimeWait:
		return "TIME-WAIT"
	default:
		return "CLOSED"
	}
}

// FourTuple identifies a connection by (remote IP, remote port, local IP,
// local port).
type FourTuple struct {
	RemoteIP   string
	RemotePort uint16
	LocalIP    string
	LocalPort  uint16
}

const defaultWindow = 1024

// Connection is one TCP connection's control block.
type Connection struct {
	mu sync.Mutex

	quad  FourTuple
	state State

	sndUna uint32
	sndNxt uint32
	sndWnd uint16
	sndISS uint32
	wl1    uint32
	wl2    uint32
	finSeq uint32 // SND.NXT at the moment our FIN was sent, if any
	finSent bool

	rcvNxt uint32
	rcvIRS uint32
	rcvWnd uint16

	recvMu    sync.Mutex
	recvBuf   []byte
	recvWaker atomic.Pointer[task.Waker]

	closed bool
}

func newConnection(quad FourTuple, peerSeq uint32, peerWindow uint16) *Connection {
	return &Connection{
		quad:   quad,
		state:  StateSynReceived,
		sndISS: 0,
		sndUna: 0,
		sndNxt: 1,
		sndWnd: defaultWindow,
		rcvIRS: peerSeq,
		rcvNxt: peerSeq + 1,
		rcvWnd: peerWindow,
	}
}

// State returns the connection's current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectionMap is the 4-tuple-keyed connection table. Only task context
// enters it; a plain RWMutex is enough since every operation is a bounded
// map lookup.
type ConnectionMap struct {
	mu    sync.RWMutex
	conns map[FourTuple]*Connection
}

func newConnectionMap() *ConnectionMap {
	return &ConnectionMap{conns: make(map[FourTuple]*Connection)}
}

func (m *ConnectionMap) get(q FourTuple) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[q]
	return c, ok
}

func (m *ConnectionMap) insert(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[c.quad] = c
}

func (m *ConnectionMap) remove(q FourTuple) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, q)
}

// buildReply constructs a TCP segment from local to remote with the given
// flags/seq/ack/window/payload and a finalized checksum.
func buildReply(localIP, remoteIP net.IP, localPort, remotePort uint16, flags uint8, seq, ack uint32, window uint16, payload []byte) []byte {
	seg := wire.ZeroedTCP(len(payload))
	seg.SetSrcPort(localPort)
	seg.SetDstPort(remotePort)
	seg.SetSeq(seq)
	seg.SetAck(ack)
	seg.SetFlags(flags)
	seg.SetWindow(window)
	if len(payload) > 0 {
		seg.SetPayload(payload)
	}
	seg.FinalizeChecksum(localIP, remoteIP, uint16(len(seg.IntoBytes())))
	return seg.IntoBytes()
}

// buildRST builds a reset segment with the given seq/ack, used by the
// accept path's "ACK with no SYN" case (seq set to the peer's ack) and by
// the established path's invalid-ACK and SYN-injection cases (seq/ack
// fixed at zero, since the connection is being torn down regardless).
func buildRST(localIP, remoteIP net.IP, localPort, remotePort uint16, seq, ack uint32) []byte {
	return buildReply(localIP, remoteIP, localPort, remotePort, wire.TCPFlagRST, seq, ack, 0, nil)
}

// Address Resolution Protocol cache and responder.
// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package arp implements the ARP layer: a local (bound) IP↔MAC
// table, a remote (learned) cache with no aging (entries persist until
// reboot), a request responder and a resolve-with-retry operation built
// on async.Sleep.
package arp

import (
	"net"
	"sync"

	"github.com/foundryos/unikernel/async"
	"github.com/foundryos/unikernel/net/wire"
	"github.com/foundryos/unikernel/task"
)

// Cache holds the local (bound) address table and the remote (learned)
// table. Only task context ever enters it; a plain RWMutex is
// enough since every operation here is a bounded map lookup, never a
// suspending wait.
type Cache struct {
	mu     sync.RWMutex
	local  map[string]net.HardwareAddr // bound IP -> our MAC
	remote map[string]net.HardwareAddr // learned peer IP -> MAC
}

// NewCache constructs an empty cache.
func NewCache() *Cache {
	return &Cache{
		local:  make(map[string]net.HardwareAddr),
		remote: make(map[string]net.HardwareAddr),
	}
}

// Bind registers ip as locally owned with the given MAC, e.g. at interface
// bring-up.
func (c *Cache) Bind(ip net.IP, mac net.HardwareAddr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local[ip.String()] = mac
}

// LocalMAC returns the MAC bound to ip, if any.
func (c *Cache) LocalMAC(ip net.IP) (net.HardwareAddr, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	mac, ok := c.local[ip.String()]
	return mac, ok
}

// IsLocal reports whether ip is one of our bound addresses.
func (c *Cache) IsLocal(ip net.IP) bool {
	_, ok := c.LocalMAC(ip)
	return ok
}

// Learn records (ip, mac) into the remote table, overwriting any prior
// entry (last writer wins; there is no aging).
func (c *Cache) Learn(ip net.IP, mac net.HardwareAddr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote[ip.String()] = append(net.HardwareAddr(nil), mac...)
}

// Lookup returns the learned MAC for ip, if any.
func (c *Cache) Lookup(ip net.IP) (net.HardwareAddr, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	mac, ok := c.remote[ip.String()]
	return mac, ok
}

// Sender abstracts enqueuing an outbound Ethernet frame, implemented by
// net/iface.Device; kept minimal here to avoid a dependency cycle.
type Sender interface {
	SendEthernet(dst net.HardwareAddr, ethertype wire.EtherType, payload []byte)
}

const (
	maxResolveAttempts = 5
	resolveRetryMs     = 1000
)

// HandleRequest implements ARP request/reply handling:
// requests targeting a locally-bound IP get a reply with smac/tmac and
// sip/tip swapped; any opcode also learns the sender's (ip, mac).
func (c *Cache) HandleRequest(pkt *wire.ARP, out Sender) {
	c.Learn(pkt.SenderIP(), pkt.SenderMAC())

	if pkt.Opcode() != wire.ARPRequest {
		return
	}

	localMAC, ok := c.LocalMAC(pkt.TargetIP())
	if !ok {
		return
	}

	reply := wire.ZeroedARP()
	reply.SetOpcode(wire.ARPReply)
	reply.SetSenderMAC(localMAC)
	reply.SetSenderIP(pkt.TargetIP())
	reply.SetTargetMAC(pkt.SenderMAC())
	reply.SetTargetIP(pkt.SenderIP())

	out.SendEthernet(pkt.SenderMAC(), wire.EtherTypeARP, reply.IntoBytes())
}

// resolveFuture drives address resolution's retry loop: check the cache,
// and if absent, emit a request and sleep before retrying, up to
// maxResolveAttempts times.
type resolveFuture struct {
	cache    *Cache
	out      Sender
	targetIP net.IP
	localIP  net.IP
	localMAC net.HardwareAddr

	attempts int
	sleeping *async.Sleep
	result   net.HardwareAddr
	timedOut bool
}

// Resolve returns a Future yielding the cached MAC for ip once known,
// emitting up to 5 ARP requests at 1-second intervals.
// Result() is valid once Poll returns true; ok is false on timeout.
func (c *Cache) Resolve(ip net.IP, localIP net.IP, localMAC net.HardwareAddr, out Sender) task.Future {
	return &resolveFuture{cache: c, out: out, targetIP: ip, localIP: localIP, localMAC: localMAC}
}

func (f *resolveFuture) Poll(w *task.Waker) bool {
	if mac, ok := f.cache.Lookup(f.targetIP); ok {
		f.result = mac
		return true
	}

	if f.sleeping != nil {
		if !f.sleeping.Poll(w) {
			return false
		}
		f.sleeping = nil

		if mac, ok := f.cache.Lookup(f.targetIP); ok {
			f.result = mac
			return true
		}
	}

	if f.attempts >= maxResolveAttempts {
		f.timedOut = true
		return true
	}

	f.attempts++
	f.emitRequest()
	f.sleeping = async.SleepFor(resolveRetryMs)
	return false
}

func (f *resolveFuture) emitRequest() {
	req := wire.ZeroedARP()
	req.SetOpcode(wire.ARPRequest)
	req.SetSenderMAC(f.localMAC)
	req.SetSenderIP(f.localIP)
	req.SetTargetMAC(net.HardwareAddr{0, 0, 0, 0, 0, 0})
	req.SetTargetIP(f.targetIP)

	f.out.SendEthernet(wire.BroadcastMAC, wire.EtherTypeARP, req.IntoBytes())
}

// Result returns the resolved MAC and whether resolution succeeded; only
// valid once Poll has returned true.
func (f *resolveFuture) Result() (net.HardwareAddr, bool) {
	return f.result, !f.timedOut
}

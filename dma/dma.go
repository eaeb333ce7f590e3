// First-fit memory allocator for DMA buffers.
// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dma provides primitives for direct memory allocation, alignment
// and virtual-to-physical address translation, used by device drivers (the
// NIC in particular) to hand the hardware buffers that are never touched by
// the Go garbage collector.
//
// A single-region, first-fit allocator tracked with a container/list free
// list; addresses here are 64-bit physical addresses as required by PCI
// bus-master DMA on x86_64.
package dma

import (
	"container/list"
	"fmt"
	"sync"
)

type block struct {
	addr uint64
	size int
	// reserved blocks (Reserve/Release) are distinguished from regular
	// ones (Alloc/Free) so that releasing a block through the other pair
	// is caught.
	res bool
	buf []byte
}

// Region represents a contiguous range of physical memory set aside for DMA
// allocation.
type Region struct {
	mu sync.Mutex

	Start uint64
	Size  int

	free *list.List
	used map[uint64]*block
}

// NewRegion creates and initializes a DMA region starting at the given
// physical address.
func NewRegion(start uint64, size int) *Region {
	r := &Region{Start: start, Size: size}
	r.free = list.New()
	r.free.PushFront(&block{addr: start, size: size})
	r.used = make(map[uint64]*block)
	return r
}

func align(v int, a int) int {
	if a <= 0 {
		a = 4
	}
	if a < 4 {
		a = 4
	}
	if rem := v % a; rem != 0 {
		v += a - rem
	}
	return v
}

func (r *Region) allocLocked(size int, alignment int) *block {
	size = align(size, 4)

	for e := r.free.Front(); e != nil; e = e.Next() {
		fb := e.Value.(*block)

		start := fb.addr
		if alignment > 0 {
			if rem := start % uint64(alignment); rem != 0 {
				start += uint64(alignment) - rem
			}
		}
		pad := int(start - fb.addr)

		if fb.size-pad < size {
			continue
		}

		b := &block{addr: start, size: size}

		remaining := fb.size - pad - size
		if remaining > 0 {
			fb.addr = start + uint64(size)
			fb.size = remaining
		} else {
			r.free.Remove(e)
		}

		return b
	}

	panic("dma: region exhausted")
}

// Reserve carves out size bytes (with optional alignment) and returns the
// physical address and a byte slice view onto it. Contents are
// uninitialized.
func (r *Region) Reserve(size int, alignment int) (addr uint64, buf []byte) {
	if size == 0 {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.allocLocked(size, alignment)
	b.res = true
	b.buf = make([]byte, size)
	r.used[b.addr] = b

	return b.addr, b.buf
}

// Release frees a buffer previously obtained with Reserve.
func (r *Region) Release(addr uint64) {
	r.free0(addr, true)
}

// Alloc copies buf into a freshly carved DMA block and returns its physical
// address. The block can be freed with Free.
func (r *Region) Alloc(buf []byte, alignment int) uint64 {
	if len(buf) == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.allocLocked(len(buf), alignment)
	b.buf = append([]byte(nil), buf...)
	r.used[b.addr] = b

	return b.addr
}

// Read copies size bytes at offset off from the block at addr into buf.
func (r *Region) Read(addr uint64, off int, buf []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.used[addr]
	if !ok {
		panic("dma: read of unallocated block")
	}

	if off+len(buf) > len(b.buf) {
		panic(fmt.Sprintf("dma: invalid read at %#x off %d len %d", addr, off, len(buf)))
	}

	copy(buf, b.buf[off:off+len(buf)])
}

// Write copies buf into the block at addr, offset off.
func (r *Region) Write(addr uint64, off int, buf []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.used[addr]
	if !ok {
		return
	}

	if off+len(buf) > len(b.buf) {
		panic(fmt.Sprintf("dma: invalid write at %#x off %d len %d", addr, off, len(buf)))
	}

	copy(b.buf[off:off+len(buf)], buf)
}

// Free releases a buffer previously obtained with Alloc.
func (r *Region) Free(addr uint64) {
	r.free0(addr, false)
}

func (r *Region) free0(addr uint64, reserved bool) {
	if addr == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.used[addr]
	if !ok {
		return
	}
	if b.res != reserved {
		panic("dma: Free/Release called on mismatched block kind")
	}

	delete(r.used, addr)
	r.free.PushBack(&block{addr: b.addr, size: b.size})
}

var def *Region
var defOnce sync.Once

// Default returns (initializing on first use) the process-wide DMA region
// used when a driver doesn't supply its own.
func Default() *Region {
	defOnce.Do(func() {
		// 16 MiB arena: enough for the RX ring, TX descriptors and
		// scratch buffers of every NIC instance the kernel brings up.
		def = NewRegion(0x10000000, 16<<20)
	})
	return def
}

// VirtToPhys translates a virtual address within a reserved DMA region to
// its physical address. On this target DMA memory is identity-mapped by
// the page tables the arch package installs during boot, so translation is
// the identity function guarded by a region membership check.
func VirtToPhys(addr uint64) (uint64, bool) {
	d := Default()
	d.mu.Lock()
	defer d.mu.Unlock()

	if addr < d.Start || addr >= d.Start+uint64(d.Size) {
		return 0, false
	}

	return addr, true
}

// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package arch

import "unsafe"

const (
	interruptGate = 0b10001110
	vectors       = 256
)

// gate is an IDT gate descriptor (Intel SDM Vol. 3A, 6.14.1).
type gate struct {
	offsetLow  uint16
	selector   uint16
	ist        uint8
	attributes uint8
	offsetMid  uint16
	offsetHigh uint32
	reserved   uint32
}

var idt [vectors]gate

func setGate(i int, handlerAddr uintptr) {
	idt[i] = gate{
		selector:   1 << 3,
		attributes: interruptGate,
		offsetLow:  uint16(handlerAddr),
		offsetMid:  uint16(handlerAddr >> 16),
		offsetHigh: uint32(handlerAddr >> 32),
	}
}

func initIDT() {
	base, trampolineStride := commonTrampolineInfo()

	for i := 0; i < vectors; i++ {
		setGate(i, base+uintptr(i)*trampolineStride)
	}

	loadIDT(uintptr(unsafe.Pointer(&idt[0])), uint16(len(idt)*16-1))
}

// commonTrampolineInfo returns the address of irqVectors, the per-vector
// CALL-slot jump table, and its fixed 5-byte stride: gate i's offset is
// base+i*stride, landing squarely on slot i's own CALL instruction.
//
// defined in arch_amd64.s
func commonTrampolineInfo() (base uintptr, stride uintptr)

func sendEOI(vector int) {
	if vector >= 32 && vector < 48 {
		if vector >= 40 {
			outb(0xa0, 0x20)
		}
		outb(0x20, 0x20)
	}
}

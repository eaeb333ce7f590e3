// VGA text mode and COM1 serial console sinks.
// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package console implements the kernel's boot-time output sinks: VGA text
// mode and a COM1 16550 UART, wired to the Go runtime's own print
// statements via the linkname hook below.
package console

import (
	"sync"
	_ "unsafe"

	"github.com/foundryos/unikernel/internal/reg"
)

const com1 uint16 = 0x3f8

// vgaBase is the identity-mapped physical address of the VGA text buffer.
const vgaBase = 0xb8000
const vgaCols = 80
const vgaRows = 25

var (
	mu      sync.Mutex
	vgaRow  int
	vgaCol  int
	serial  bool
)

// InitSerial programs COM1 for 38400 8N1.
func InitSerial() {
	reg.Out8(com1+1, 0x00)
	reg.Out8(com1+3, 0x80)
	reg.Out8(com1+0, 0x03)
	reg.Out8(com1+1, 0x00)
	reg.Out8(com1+3, 0x03)
	reg.Out8(com1+2, 0xc7)
	reg.Out8(com1+4, 0x0b)
	serial = true
}

func serialTx(c byte) {
	for reg.In8(com1+5)&0x20 == 0 {
	}
	reg.Out8(com1, c)
}

func vgaPut(c byte) {
	if c == '\n' {
		vgaCol = 0
		vgaRow++
	} else {
		off := uintptr(vgaBase + 2*(vgaRow*vgaCols+vgaCol))
		reg.Write32(off&^3, uint32(c)|0x0f00<<((off&3)*8))
		vgaCol++
		if vgaCol >= vgaCols {
			vgaCol = 0
			vgaRow++
		}
	}

	if vgaRow >= vgaRows {
		vgaRow = 0
	}
}

// Putc writes a single byte to every enabled sink (VGA always, serial once
// InitSerial has run), emitting a CR before every LF the way a real
// terminal expects from a UART.
func Putc(c byte) {
	mu.Lock()
	defer mu.Unlock()

	vgaPut(c)

	if serial {
		serialTx(c)
		if c == '\n' {
			serialTx('\r')
		}
	}
}

// Writer adapts the console sinks to io.Writer, so that bootlog (built on
// hashicorp/go-hclog) can address them without its own knowledge of ports
// or the VGA buffer layout.
type Writer struct{}

func (Writer) Write(p []byte) (int, error) {
	for _, c := range p {
		Putc(c)
	}
	return len(p), nil
}

//go:linkname printk runtime.printk
func printk(c byte) {
	Putc(c)
}

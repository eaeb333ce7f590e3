// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package arch

// Legacy 8259 Programmable Interrupt Controller ports and commands.
const (
	pic1Cmd  = 0x20
	pic1Data = 0x21
	pic2Cmd  = 0xa0
	pic2Data = 0xa1

	icw1Init = 0x11
	icw4_8086 = 0x01
)

// initPIC remaps IRQs 0-7 and 8-15 to vectors 32-39 and 40-47 respectively,
// so that they never collide with CPU exception vectors 0-31, and unmasks
// every line on both controllers.
func initPIC() {
	outb(pic1Cmd, icw1Init)
	outb(pic2Cmd, icw1Init)
	outb(pic1Data, 32)
	outb(pic2Data, 40)
	outb(pic1Data, 4) // tell master about slave at IRQ2
	outb(pic2Data, 2) // tell slave its cascade identity
	outb(pic1Data, icw4_8086)
	outb(pic2Data, icw4_8086)
	outb(pic1Data, 0x00)
	outb(pic2Data, 0x00)
}

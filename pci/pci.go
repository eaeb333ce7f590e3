// Intel/QEMU i440fx Peripheral Component Interconnect (PCI) enumeration.
// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package pci implements config-space access through the legacy
// CONFIG_ADDRESS/CONFIG_DATA I/O ports, BAR decoding, and bus-master/IRQ
// toggling. There is no dynamic PCI driver registration — the kernel only
// ever probes for the single RTL8139-class device it drives.
package pci

import (
	"github.com/foundryos/unikernel/internal/bits"
	"github.com/foundryos/unikernel/internal/reg"
)

const (
	configAddress uint16 = 0x0cf8
	configData    uint16 = 0x0cfc
)

// Header type 0x0 register offsets.
const (
	offVendorID    = 0x00
	offCommand     = 0x04
	offRevisionID  = 0x08
	offBAR0        = 0x10
	offInterrupt   = 0x3c
	maxBuses       = 1
	maxDevicesSlot = 32
)

const (
	// CommandBusMaster enables the device as a DMA bus master.
	CommandBusMaster uint32 = 1 << 2
	// CommandIOSpace enables the device's I/O space BARs.
	CommandIOSpace uint32 = 1 << 0
	// CommandInterruptDisable, when set, masks the device's legacy INTx line.
	CommandInterruptDisable uint32 = 1 << 10
)

// Device represents a probed PCI device.
type Device struct {
	Bus    uint32
	Slot   uint32
	Vendor uint16
	DevID  uint16
	// IRQLine is the legacy INTx line assigned by the BIOS, read from the
	// interrupt-line register (offset 0x3c, low byte).
	IRQLine uint8
}

func address(bus, slot, fn, off uint32) uint32 {
	return 1<<31 | bus<<16 | slot<<11 | fn<<8 | off&0xfc
}

// Read32 reads a 32-bit config-space register.
func (d *Device) Read32(off uint32) uint32 {
	reg.Out32(configAddress, address(d.Bus, d.Slot, 0, off))
	return reg.In32(configData)
}

// Write32 writes a 32-bit config-space register, offset must be 4-byte
// aligned.
func (d *Device) Write32(off uint32, val uint32) {
	reg.Out32(configAddress, address(d.Bus, d.Slot, 0, off))
	reg.Out32(configData, val)
}

// BaseAddress decodes BAR n, returning its I/O port (for an I/O BAR) or
// memory address (for a memory BAR) and whether it is an I/O BAR.
func (d *Device) BaseAddress(n int) (addr uint32, isIO bool) {
	if n > 5 {
		return 0, false
	}

	bar := d.Read32(uint32(offBAR0 + n*4))
	isIO = bits.IsSet(bar, 0)

	if isIO {
		return bar &^ 0x3, true
	}

	return bar &^ 0xf, false
}

// EnableBusMaster sets the bus-master and I/O-space bits in the command
// register, required before the device may perform DMA.
func (d *Device) EnableBusMaster() {
	cmd := d.Read32(offCommand)
	cmd |= CommandBusMaster | CommandIOSpace
	cmd &^= CommandInterruptDisable
	d.Write32(offCommand, cmd)
}

func (d *Device) probe() bool {
	val := d.Read32(offVendorID)
	vendor := uint16(val)

	if vendor == 0xffff {
		return false
	}

	d.Vendor = vendor
	d.DevID = uint16(val >> 16)
	d.IRQLine = uint8(d.Read32(offInterrupt))

	return true
}

// Probe searches bus 0 for the first device matching vendor/device IDs.
func Probe(vendor, device uint16) *Device {
	for slot := uint32(0); slot < maxDevicesSlot; slot++ {
		d := &Device{Slot: slot}

		if d.probe() && d.Vendor == vendor && d.DevID == device {
			return d
		}
	}

	return nil
}

// Enumerate returns every responding device on bus 0.
func Enumerate() (devices []*Device) {
	for slot := uint32(0); slot < maxDevicesSlot; slot++ {
		d := &Device{Slot: slot}

		if d.probe() {
			devices = append(devices, d)
		}
	}

	return
}

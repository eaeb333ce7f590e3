// RTL8139-class NIC driver: ring-buffer RX, 4-slot TX FIFO, ISR bridge.
// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package rtl8139 drives the RTL8139-class NIC: a PCI device exposing an
// 8KiB+16-byte RX ring buffer, a 4-slot TX descriptor FIFO, and a legacy
// INTx interrupt line. It hands the rest of the stack a frame stream (an
// async.Channel fed from the ISR) and a frame sink (StartSend/Flush).
// Hardware state is guarded by a single mutex shared between the ISR and
// task-context TX flush; the ISR only ever attempts a non-blocking
// TryLock and bails out on contention rather than spinning in interrupt
// context.
package rtl8139

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/foundryos/unikernel/arch"
	"github.com/foundryos/unikernel/async"
	"github.com/foundryos/unikernel/bootlog"
	"github.com/foundryos/unikernel/dma"
	"github.com/foundryos/unikernel/internal/reg"
	"github.com/foundryos/unikernel/pci"
	"github.com/foundryos/unikernel/task"
)

// VendorID and DeviceID identify the RTL8139 family on the PCI bus.
const (
	VendorID uint16 = 0x10ec
	DeviceID uint16 = 0x8139
)

// Register offsets, bit-exact datasheet citation.
const (
	offIDR0    = 0x00 // MAC address, 6 bytes
	offRBStart = 0x30
	offCmd     = 0x37
	offCAPR    = 0x38
	offIMR     = 0x3c
	offISR     = 0x3e
	offRCR     = 0x44
	offConfig1 = 0x52
	offTSD0    = 0x10 // TX status/command, +4 per slot
	offTSAD0   = 0x20 // TX descriptor physical address, +4 per slot
)

// CMD register bits.
const (
	cmdBufEmpty uint8 = 1 << 0
	cmdTE       uint8 = 1 << 2
	cmdRE       uint8 = 1 << 3
	cmdReset    uint8 = 1 << 4
)

// TSD (TX status/command) bits.
const tsdTOK uint32 = 1 << 15 // set by the card once the slot's frame sent ok

// RCR bits: accept-physical-match, accept-broadcast, unlimited DMA burst, no
// RX FIFO threshold, ring wrap — bring-up sequence.
const (
	rcrAPM            uint32 = 1 << 1
	rcrAB             uint32 = 1 << 3
	rcrWrap           uint32 = 1 << 7
	rcrMXDMAUnlimited uint32 = 0b111 << 8
	rcrRXFTHNone      uint32 = 0b111 << 13
	rcrValue                 = rcrAPM | rcrAB | rcrWrap | rcrMXDMAUnlimited | rcrRXFTHNone
)

// IMR/ISR bits unmasked during bring-up: RxOK, TxOK, RxErr,
// TxErr, RDU (receive buffer overflow), TDU, SysErr.
const (
	isrROK   uint16 = 1 << 0
	isrRER   uint16 = 1 << 1
	isrTOK   uint16 = 1 << 2
	isrTER   uint16 = 1 << 3
	isrRXOVW uint16 = 1 << 4
	isrTDU   uint16 = 1 << 7
	isrSERR  uint16 = 1 << 15

	imrMask = isrROK | isrRER | isrTOK | isrTER | isrRXOVW | isrTDU | isrSERR
)

const (
	rxBufLen   = 8192
	rxWrapPad  = 16
	rxRegionSz = rxBufLen + rxWrapPad
	txSlots    = 4
	txSlotCap  = 1600
)

type hclogger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// Driver is one RTL8139-class NIC instance.
type Driver struct {
	// mu serializes every hardware register access between the ISR and task
	// context. The ISR only ever TryLocks it; Flush blocks (spins, via the
	// executor's Pending retry) when contended.
	mu sync.Mutex

	dev      *pci.Device
	portBase uint16
	mac      net.HardwareAddr

	rxRegion *dma.Region
	rxAddr   uint64
	rxBuf    []byte
	cursor   uint16

	txRegion *dma.Region
	txAddr   [txSlots]uint64
	txBuf    [txSlots][]byte
	txCursor int

	frames *async.Channel[[]byte]
	sender *async.Sender[[]byte]

	pendingMu sync.Mutex
	pending   [][]byte

	rxDropped atomic.Uint64
	txErrors  atomic.Uint64

	log hclogger
}

// Probe locates the first RTL8139-class device on the PCI bus, or nil.
func Probe() *pci.Device {
	return pci.Probe(VendorID, DeviceID)
}

// New constructs a driver bound to dev but does not yet touch hardware; call
// Init to run the bring-up sequence.
func New(dev *pci.Device) *Driver {
	d := &Driver{
		dev:    dev,
		frames: async.NewChannel[[]byte](),
		log:    bootlog.Named("rtl8139"),
	}
	d.sender = d.frames.NewSender()
	return d
}

func (d *Driver) in8(off uint16) uint8       { return reg.In8(d.portBase + off) }
func (d *Driver) out8(off uint16, v uint8)   { reg.Out8(d.portBase+off, v) }
func (d *Driver) in16(off uint16) uint16     { return reg.In16(d.portBase + off) }
func (d *Driver) out16(off uint16, v uint16) { reg.Out16(d.portBase+off, v) }
func (d *Driver) in32(off uint16) uint32     { return reg.In32(d.portBase + off) }
func (d *Driver) out32(off uint16, v uint32) { reg.Out32(d.portBase+off, v) }

// Init runs the bring-up sequence: power on, reset, read the MAC, program
// RCR and the RX buffer pointer, enable TX/RX, register the IRQ handler,
// and unmask the interrupt set.
func (d *Driver) Init() error {
	base, isIO := d.dev.BaseAddress(0)
	if !isIO {
		return fmt.Errorf("rtl8139: BAR0 is not an I/O BAR")
	}
	d.portBase = uint16(base)
	d.dev.EnableBusMaster()

	d.log.Info("config start", "port_base", fmt.Sprintf("%#x", d.portBase))

	d.out8(offConfig1, 0x00)
	d.out8(offCmd, cmdReset)
	for d.in8(offCmd)&cmdReset != 0 {
	}

	var mac [6]byte
	for i := 0; i < 6; i++ {
		mac[i] = d.in8(uint16(offIDR0 + i))
	}
	d.mac = net.HardwareAddr(mac[:])
	d.log.Info("mac address", "mac", d.mac.String())

	d.rxRegion = dma.Default()
	d.rxAddr, d.rxBuf = d.rxRegion.Reserve(rxRegionSz, 4)
	d.out32(offRBStart, uint32(d.rxAddr))
	d.out32(offRCR, rcrValue)

	d.txRegion = dma.Default()
	for i := 0; i < txSlots; i++ {
		d.txAddr[i], d.txBuf[i] = d.txRegion.Reserve(txSlotCap, 4)
	}

	d.out8(offCmd, cmdTE|cmdRE)
	d.cursor = 0

	d.out16(offIMR, imrMask)

	vector := 32 + int(d.dev.IRQLine)
	arch.RegisterInterrupt(vector, d.handleInterrupt)

	d.log.Info("bring-up complete", "irq", d.dev.IRQLine)
	return nil
}

// MAC returns the card's burned-in Ethernet address.
func (d *Driver) MAC() net.HardwareAddr { return d.mac }

// Frames returns a Future yielding the next received Ethernet frame off
// the driver's RX queue.
func (d *Driver) Frames() task.Future { return d.frames.Recv() }

// handleInterrupt is the ISR: read-and-acknowledge the status register,
// count TX outcomes, and drain RX while the CMD buffer-empty bit is clear.
// It runs to completion before EOI is sent, so it never re-enters itself;
// the TryLock below only guards against a concurrent task-context Flush.
func (d *Driver) handleInterrupt() {
	isr := d.in16(offISR)
	d.out16(offISR, isr)

	if isr&(isrTER|isrSERR) != 0 {
		d.txErrors.Add(1)
		d.log.Warn("tx/system error", "isr", fmt.Sprintf("%#04x", isr))
	}

	if isr&(isrROK|isrRXOVW) == 0 {
		return
	}

	if !d.mu.TryLock() {
		// Contended with a Flush in progress; the frame is observed on
		// the next RX interrupt.
		return
	}
	defer d.mu.Unlock()

	d.drainRX()
}

// drainRX drains the RX ring into frames. Caller holds d.mu.
func (d *Driver) drainRX() {
	for d.in8(offCmd)&cmdBufEmpty == 0 {
		hdr := d.rxBuf[d.cursor : d.cursor+4]
		length := uint16(hdr[2]) | uint16(hdr[3])<<8

		if length < 4 || int(length) > rxBufLen {
			// Corrupt header: nothing sane to recover to, stop this
			// round and let the card's own error counters reflect it.
			d.rxDropped.Add(1)
			break
		}

		start, end := frameRange(d.cursor, length)

		var frame []byte
		if end <= rxBufLen {
			frame = append([]byte(nil), d.rxBuf[start:end]...)
		} else {
			// Ring wrap: the frame straddles the end of the buffer.
			frame = make([]byte, length-4)
			n := copy(frame, d.rxBuf[start:rxBufLen])
			copy(frame[n:], d.rxBuf[:end-rxBufLen])
		}

		d.sender.Send(frame)

		newCursor, capr := advanceCursor(d.cursor, length)
		d.out16(offCAPR, capr)
		d.cursor = newCursor
	}
}

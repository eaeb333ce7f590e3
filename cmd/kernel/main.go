// Kernel boot entrypoint.
// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Command kernel is the single-address-space unikernel's entrypoint:
// hardware bring-up, network stack wiring, and a sample TCP echo listener.
package main

import (
	"fmt"
	"net"

	"github.com/hashicorp/go-multierror"

	"github.com/foundryos/unikernel/arch"
	"github.com/foundryos/unikernel/async"
	"github.com/foundryos/unikernel/bootlog"
	"github.com/foundryos/unikernel/console"
	"github.com/foundryos/unikernel/net/iface"
	"github.com/foundryos/unikernel/net/rtl8139"
	"github.com/foundryos/unikernel/net/tcp"
	"github.com/foundryos/unikernel/task"
	"github.com/foundryos/unikernel/timerdrv"
)

// boundIP is this kernel's statically configured address; there is no DHCP
// client, matching the single-interface, single-tenant scope this stack
// targets.
var boundIP = net.IPv4(10, 0, 2, 15)

const echoPort = 7

func main() {
	console.InitSerial()
	log := bootlog.Named("boot")

	if err := bringUp(log); err != nil {
		log.Error("bring-up failed", "error", err)
		arch.QEMUExit(arch.ExitFailed)
		return
	}

	// The run queue, timer wheel and NIC frame channel are all reachable
	// from ISR context (PIT tick, NIC IRQ); wire them to real
	// cli/pushf-popf masking before any driver or executor touches them,
	// and well before interrupts are ever unmasked.
	task.SetInterruptGuard(task.InterruptGuard{Save: arch.IRQSave, Restore: arch.IRQRestore})
	async.SetInterruptGuard(async.InterruptGuard{Save: arch.IRQSave, Restore: arch.IRQRestore})

	dev, err := attachNIC(log)
	if err != nil {
		log.Error("nic attach failed", "error", err)
		arch.QEMUExit(arch.ExitFailed)
		return
	}

	ex := task.NewExecutor(64, task.IdleHooks{
		DisableInterrupts: arch.DisableInterrupts,
		EnableInterrupts:  arch.EnableInterrupts,
		EnableAndHalt:     arch.EnableInterruptsAndHalt,
	})

	timerdrv.SetDeadlineHandler(async.DefaultWheel().WakeDue)
	arch.RegisterInterrupt(arch.VectorPITTick, timerdrv.Tick)

	ex.Spawn(dev.Serve())

	l, err := dev.Listen(echoPort)
	if err != nil {
		log.Error("listen failed", "port", echoPort, "error", err)
		arch.QEMUExit(arch.ExitFailed)
		return
	}
	ex.Spawn(newAcceptLoop(ex, dev, l, bootlog.Named("echo")))

	log.Info("boot complete", "ip", dev.IP().String(), "mac", dev.MAC().String())

	ex.Run()
}

// bringUp initializes the CPU-level primitives and the millisecond timer.
// The two steps are independent of each other, so failures are aggregated
// with go-multierror rather than stopping at the first one: a caller
// diagnosing a bad boot wants to see everything that went wrong, not just
// whichever step happened to run first.
func bringUp(log interface {
	Info(msg string, args ...interface{})
}) error {
	var errs *multierror.Error

	func() {
		defer func() {
			if r := recover(); r != nil {
				errs = multierror.Append(errs, fmt.Errorf("arch.Init panicked: %v", r))
			}
		}()
		arch.Init()
	}()

	func() {
		defer func() {
			if r := recover(); r != nil {
				errs = multierror.Append(errs, fmt.Errorf("timerdrv.Init panicked: %v", r))
			}
		}()
		timerdrv.Init(timerdrv.TargetHz)
	}()

	log.Info("arch and timer bring-up done")

	return errs.ErrorOrNil()
}

// attachNIC probes for the RTL8139-class device, brings it up, and
// constructs the bound network interface. The driver registers its own
// interrupt handler against its assigned IRQ line during Init.
func attachNIC(log interface {
	Info(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}) (*iface.Device, error) {
	dev := rtl8139.Probe()
	if dev == nil {
		return nil, fmt.Errorf("no RTL8139-class device found on PCI bus")
	}

	driver := rtl8139.New(dev)
	if err := driver.Init(); err != nil {
		return nil, fmt.Errorf("nic init: %w", err)
	}

	log.Info("nic ready", "vendor", fmt.Sprintf("%#04x", rtl8139.VendorID), "device", fmt.Sprintf("%#04x", rtl8139.DeviceID))

	return iface.NewDevice(driver, boundIP), nil
}

type echoLogger interface {
	Info(msg string, args ...interface{})
}

// acceptLoop spawns one echo task per connection accepted on l, forever.
type acceptLoop struct {
	ex     *task.Executor
	dev    *iface.Device
	l      *tcp.Listener
	log    echoLogger
	accept task.Future
}

func newAcceptLoop(ex *task.Executor, dev *iface.Device, l *tcp.Listener, log echoLogger) task.Future {
	return &acceptLoop{ex: ex, dev: dev, l: l, log: log, accept: dev.Accept(l)}
}

func (a *acceptLoop) Poll(w *task.Waker) bool {
	for {
		if !a.accept.Poll(w) {
			return false
		}

		if sr, ok := a.accept.(interface{ Stream() *tcp.Stream }); ok {
			stream := sr.Stream()
			a.log.Info("connection accepted")
			a.ex.Spawn(newEcho(stream))
		}

		a.accept = a.dev.Accept(a.l)
	}
}

// echo reads and writes back whatever a connected peer sends, until the
// peer closes its side, at which point it closes its own.
type echo struct {
	stream  *tcp.Stream
	buf     []byte
	reading task.Future
	writing task.Future
	closing task.Future
}

func newEcho(stream *tcp.Stream) task.Future {
	return &echo{stream: stream, buf: make([]byte, 512)}
}

func (e *echo) Poll(w *task.Waker) bool {
	for {
		if e.closing != nil {
			return e.closing.Poll(w)
		}

		if e.writing != nil {
			if !e.writing.Poll(w) {
				return false
			}
			e.writing = nil
		}

		if e.reading == nil {
			e.reading = e.stream.Read(e.buf)
		}

		if !e.reading.Poll(w) {
			return false
		}

		n := 0
		if nr, ok := e.reading.(interface{ N() int }); ok {
			n = nr.N()
		}
		e.reading = nil

		if n == 0 {
			e.closing = e.stream.Close()
			continue
		}

		e.writing = e.stream.Write(append([]byte(nil), e.buf[:n]...))
	}
}

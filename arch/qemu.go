// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package arch

import "github.com/foundryos/unikernel/internal/reg"

// QEMU isa-debug-exit device.
const (
	qemuExitPort = 0xf4

	ExitSuccess uint32 = 0x10
	ExitFailed  uint32 = 0x11
)

// QEMUExit writes an exit code to the isa-debug-exit port, terminating the
// virtual machine. It is a no-op (as the port will simply not exist) on
// real hardware.
func QEMUExit(code uint32) {
	reg.Out32(qemuExitPort, code)
}

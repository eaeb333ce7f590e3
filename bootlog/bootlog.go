// Leveled boot/init logging.
// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package bootlog wraps hashicorp/go-hclog over the console sinks for
// initialization, hardware bring-up, and fatal messages. It is reached from
// init() sequences, driver bring-up and the panic path, and on two packet
// paths: the RTL8139 ISR warns on a TX or system error, and net/iface logs
// each frame it drops as malformed at Debug level. Per-segment TCP
// processing does not log.
package bootlog

import (
	"github.com/hashicorp/go-hclog"

	"github.com/foundryos/unikernel/console"
)

// Log is the kernel-wide boot logger.
var Log hclog.Logger = hclog.New(&hclog.LoggerOptions{
	Name:            "kernel",
	Level:           hclog.Debug,
	Output:          console.Writer{},
	IncludeLocation: false,
	Color:           hclog.ColorOff,
})

// Named returns a sub-logger scoped to a component name, e.g.
// bootlog.Named("rtl8139") for the NIC driver's bring-up messages.
func Named(name string) hclog.Logger {
	return Log.Named(name)
}

// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package arch

import "golang.org/x/sys/cpu"

// Features reports the subset of CPUID-derived feature bits the kernel
// cares about, read off golang.org/x/sys/cpu's feature tables rather than
// hand-rolling the CPUID opcode.
type Features struct {
	SSE2   bool
	RDRAND bool
	Invariant bool
}

// Probe reads the current core's feature bits.
func Probe() Features {
	return Features{
		SSE2:      cpu.X86.HasSSE2,
		RDRAND:    cpu.X86.HasRDRAND,
		Invariant: cpu.X86.HasRDTSCP,
	}
}

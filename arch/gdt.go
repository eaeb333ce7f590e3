// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package arch

// descriptor is a single 8-byte GDT entry.
type descriptor uint64

// A flat, long-mode GDT: null, 64-bit code, 64-bit data. Segmentation does
// no real work on x86_64 besides selecting ring 0, so this table never
// grows; it is the minimum the IDT's segment selector field requires.
var gdt = [3]descriptor{
	0x0000000000000000, // null
	0x00af9a000000ffff, // ring-0 code, long mode
	0x00af92000000ffff, // ring-0 data
}

func initGDT() {
	// Loading the GDT register needs raw assembly; loadGDTAndReload
	// (arch_amd64.s) runs LGDT on the table above. It does not reload
	// CS/SS: the segment registers keep the selectors already loaded.
	loadGDTAndReload(uintptr(ptrOf(&gdt[0])), uint16(len(gdt)*8-1))
}

// defined in arch_amd64.s
func loadGDTAndReload(addr uintptr, limit uint16)

// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package reg

import "unsafe"

func ptr32(addr uintptr) unsafe.Pointer {
	return unsafe.Pointer(addr) //nolint:govet
}

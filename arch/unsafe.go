// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package arch

import "unsafe"

func ptrOf(v *descriptor) unsafe.Pointer {
	return unsafe.Pointer(v)
}

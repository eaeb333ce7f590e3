// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package rtl8139

import "testing"

// TestAdvanceCursorMatchesInvariant reproduces RX cursor
// property: new = ((old + L + 4 + 3) & !3) mod 8192.
func TestAdvanceCursorMatchesInvariant(t *testing.T) {
	cases := []struct {
		old, length uint16
	}{
		{0, 64},
		{0, 65},
		{100, 60},
		{8000, 1514},
		{8188, 64},
	}

	for _, c := range cases {
		want := uint16((uint32(c.old) + uint32(c.length) + 4 + 3) &^ 3 % rxBufLen)
		got, _ := advanceCursor(c.old, c.length)
		if got != want {
			t.Fatalf("advanceCursor(%d, %d) = %d, want %d", c.old, c.length, got, want)
		}
	}
}

func TestAdvanceCursorCAPRTrailsBy16(t *testing.T) {
	newCursor, capr := advanceCursor(0, 64)
	if int(newCursor)-int(capr) != 16 {
		t.Fatalf("capr should trail cursor by 16: cursor=%d capr=%d", newCursor, capr)
	}
}

func TestAdvanceCursorCAPRWrapsNonNegative(t *testing.T) {
	// A tiny advance near cursor 0 must not drive CAPR negative.
	_, capr := advanceCursor(0, 4)
	if capr >= rxBufLen {
		t.Fatalf("capr = %d out of ring range", capr)
	}
}

func TestFrameRangeExcludesHeaderAndCRC(t *testing.T) {
	start, end := frameRange(0, 68)
	if start != 4 {
		t.Fatalf("start = %d, want 4", start)
	}
	if end-start != 64 {
		t.Fatalf("frame length = %d, want 64", end-start)
	}
}

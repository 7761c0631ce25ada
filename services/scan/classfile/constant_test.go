// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classfile

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestDecodeModifiedUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"ascii", []byte("com/acme/A"), "com/acme/A"},
		{"empty", nil, ""},
		{"two byte", []byte{0xC3, 0xA9}, "é"},
		{"three byte", []byte{0xE2, 0x82, 0xAC}, "€"},
		{"nul", []byte{'a', 0xC0, 0x80, 'b'}, "a\x00b"},
		{"surrogate pair", []byte{0xED, 0xA0, 0xBD, 0xED, 0xB8, 0x80}, "😀"},
		{"pair between ascii", []byte{'x', 0xED, 0xA0, 0xBD, 0xED, 0xB8, 0x80, 'y'}, "x😀y"},
		{"lone high surrogate", []byte{0xED, 0xA0, 0xBD, 'z'}, string(utf8.RuneError) + "z"},
		{"lone low surrogate", []byte{0xED, 0xB8, 0x80}, string(utf8.RuneError)},
		{"truncated", []byte{'a', 0xE2, 0x82}, "a" + string(utf8.RuneError) + string(utf8.RuneError)},
		{"four byte form rejected", []byte{0xF0, 0x9F}, string(utf8.RuneError) + string(utf8.RuneError)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeModifiedUTF8(tt.in)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

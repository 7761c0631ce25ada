// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classfiletest

import (
	"bytes"
	"encoding/binary"
	"strings"
	"unicode/utf16"

	"github.com/AleutianAI/AleutianScan/services/scan/classfile"
)

// pool is a de-duplicating constant pool writer.
type pool struct {
	buf     bytes.Buffer
	next    uint16
	utf8s   map[string]uint16
	classes map[string]uint16
	ints    map[int32]uint16
}

func newPool() *pool {
	return &pool{
		next:    1,
		utf8s:   make(map[string]uint16),
		classes: make(map[string]uint16),
		ints:    make(map[int32]uint16),
	}
}

func (p *pool) utf8(s string) uint16 {
	if idx, ok := p.utf8s[s]; ok {
		return idx
	}
	enc := modifiedUTF8(s)
	p.buf.WriteByte(byte(classfile.ConstantUtf8))
	put16(&p.buf, uint16(len(enc)))
	p.buf.Write(enc)
	idx := p.next
	p.next++
	p.utf8s[s] = idx
	return idx
}

func (p *pool) class(binaryName string) uint16 {
	if idx, ok := p.classes[binaryName]; ok {
		return idx
	}
	nameIdx := p.utf8(strings.ReplaceAll(binaryName, ".", "/"))
	p.buf.WriteByte(byte(classfile.ConstantClass))
	put16(&p.buf, nameIdx)
	idx := p.next
	p.next++
	p.classes[binaryName] = idx
	return idx
}

func (p *pool) integer(v int32) uint16 {
	if idx, ok := p.ints[v]; ok {
		return idx
	}
	p.buf.WriteByte(byte(classfile.ConstantInteger))
	put32(&p.buf, uint32(v))
	idx := p.next
	p.next++
	p.ints[v] = idx
	return idx
}

// long writes a CONSTANT_Long, which occupies two pool slots.
func (p *pool) long(v int64) uint16 {
	p.buf.WriteByte(byte(classfile.ConstantLong))
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	p.buf.Write(b[:])
	idx := p.next
	p.next += 2
	return idx
}

func (p *pool) writeTo(w *bytes.Buffer) {
	put16(w, p.next)
	w.Write(p.buf.Bytes())
}

// modifiedUTF8 encodes s the way javac does: NUL as C0 80 and
// supplementary characters as two three-byte surrogates.
func modifiedUTF8(s string) []byte {
	out := make([]byte, 0, len(s))
	put3 := func(r rune) {
		out = append(out, byte(0xE0|r>>12), byte(0x80|(r>>6)&0x3F), byte(0x80|r&0x3F))
	}
	for _, r := range s {
		switch {
		case r == 0:
			out = append(out, 0xC0, 0x80)
		case r < 0x80:
			out = append(out, byte(r))
		case r < 0x800:
			out = append(out, byte(0xC0|r>>6), byte(0x80|r&0x3F))
		case r < 0x10000:
			put3(r)
		default:
			hi, lo := utf16.EncodeRune(r)
			put3(hi)
			put3(lo)
		}
	}
	return out
}

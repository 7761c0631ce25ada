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
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// ConstantKind is the tag byte of a constant pool entry.
type ConstantKind uint8

// Constant pool tags defined by the JVM class file format.
const (
	ConstantUtf8               ConstantKind = 1
	ConstantInteger            ConstantKind = 3
	ConstantFloat              ConstantKind = 4
	ConstantLong               ConstantKind = 5
	ConstantDouble             ConstantKind = 6
	ConstantClass              ConstantKind = 7
	ConstantString             ConstantKind = 8
	ConstantFieldref           ConstantKind = 9
	ConstantMethodref          ConstantKind = 10
	ConstantInterfaceMethodref ConstantKind = 11
	ConstantNameAndType        ConstantKind = 12
	ConstantMethodHandle       ConstantKind = 15
	ConstantMethodType         ConstantKind = 16
	ConstantDynamic            ConstantKind = 17
	ConstantInvokeDynamic      ConstantKind = 18
	ConstantModule             ConstantKind = 19
	ConstantPackage            ConstantKind = 20

	// constantPlaceholder fills slot 0 and the unusable slot after every
	// Long and Double entry, keeping the pool 1-indexed.
	constantPlaceholder ConstantKind = 255
)

// payloadSize is the fixed payload length for every tag except Utf8.
var payloadSize = map[ConstantKind]int{
	ConstantInteger:            4,
	ConstantFloat:              4,
	ConstantLong:               8,
	ConstantDouble:             8,
	ConstantClass:              2,
	ConstantString:             2,
	ConstantFieldref:           4,
	ConstantMethodref:          4,
	ConstantInterfaceMethodref: 4,
	ConstantNameAndType:        4,
	ConstantMethodHandle:       3,
	ConstantMethodType:         2,
	ConstantDynamic:            4,
	ConstantInvokeDynamic:      4,
	ConstantModule:             2,
	ConstantPackage:            2,
}

// constant is one decoded pool entry. Only the fields needed for
// structural metadata are kept.
type constant struct {
	kind ConstantKind

	// utf8 holds the text of a Utf8 entry.
	utf8 string

	// ref holds the first u2 of Class/String/MethodType/Module/Package entries.
	ref uint16
}

// constantPool is the decoded, 1-indexed constant pool.
type constantPool []constant

// readConstantPool decodes count-1 entries from r.
func readConstantPool(r *reader, count uint16) (constantPool, error) {
	if count == 0 {
		return nil, &DecodeError{Offset: r.off, Section: "constant_pool", Err: fmt.Errorf("%w: zero pool count", ErrInvalidConstant)}
	}
	pool := make(constantPool, 1, count)
	pool[0] = constant{kind: constantPlaceholder}

	for i := 1; i < int(count); i++ {
		start := r.off
		kind := ConstantKind(r.u1())

		switch kind {
		case ConstantUtf8:
			n := int(r.u2())
			pool = append(pool, constant{kind: kind, utf8: decodeModifiedUTF8(r.bytes(n))})
		case ConstantClass, ConstantString, ConstantMethodType, ConstantModule, ConstantPackage:
			pool = append(pool, constant{kind: kind, ref: r.u2()})
		case ConstantLong, ConstantDouble:
			r.skip(payloadSize[kind])
			pool = append(pool, constant{kind: kind}, constant{kind: constantPlaceholder})
			i++
		default:
			size, ok := payloadSize[kind]
			if !ok {
				return nil, &DecodeError{Offset: start, Section: "constant_pool", Err: fmt.Errorf("%w: tag %d at index %d", ErrInvalidConstant, kind, i)}
			}
			r.skip(size)
			pool = append(pool, constant{kind: kind})
		}

		if r.err != nil {
			return nil, &DecodeError{Offset: start, Section: "constant_pool", Err: r.err}
		}
	}
	return pool, nil
}

// utf8At returns the text of the Utf8 entry at idx.
func (p constantPool) utf8At(idx uint16) (string, error) {
	if int(idx) >= len(p) || p[idx].kind != ConstantUtf8 {
		return "", fmt.Errorf("%w: index %d is not Utf8", ErrInvalidConstant, idx)
	}
	return p[idx].utf8, nil
}

// classAt returns the binary name of the Class entry at idx.
func (p constantPool) classAt(idx uint16) (string, error) {
	if int(idx) >= len(p) || p[idx].kind != ConstantClass {
		return "", fmt.Errorf("%w: index %d is not Class", ErrInvalidConstant, idx)
	}
	name, err := p.utf8At(p[idx].ref)
	if err != nil {
		return "", err
	}
	return BinaryName(name), nil
}

// decodeModifiedUTF8 decodes the class file string encoding: NUL is the
// two-byte form C0 80 and supplementary characters are surrogate pairs of
// three-byte forms. Malformed sequences decode to utf8.RuneError.
func decodeModifiedUTF8(b []byte) string {
	ascii := true
	for _, c := range b {
		if c == 0 || c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b)
	}

	var sb strings.Builder
	sb.Grow(len(b))
	high := rune(-1)
	flush := func() {
		if high >= 0 {
			sb.WriteRune(utf8.RuneError)
			high = -1
		}
	}
	for i := 0; i < len(b); {
		c := b[i]
		var r rune
		switch {
		case c < 0x80:
			r, i = rune(c), i+1
		case c&0xE0 == 0xC0 && i+1 < len(b) && b[i+1]&0xC0 == 0x80:
			r = rune(c&0x1F)<<6 | rune(b[i+1]&0x3F)
			i += 2
		case c&0xF0 == 0xE0 && i+2 < len(b) && b[i+1]&0xC0 == 0x80 && b[i+2]&0xC0 == 0x80:
			r = rune(c&0x0F)<<12 | rune(b[i+1]&0x3F)<<6 | rune(b[i+2]&0x3F)
			i += 3
		default:
			r, i = utf8.RuneError, i+1
		}

		switch {
		case utf16.IsSurrogate(r) && r < 0xDC00:
			flush()
			high = r
		case utf16.IsSurrogate(r):
			if high < 0 {
				sb.WriteRune(utf8.RuneError)
				continue
			}
			sb.WriteRune(utf16.DecodeRune(high, r))
			high = -1
		default:
			flush()
			sb.WriteRune(r)
		}
	}
	flush()
	return sb.String()
}

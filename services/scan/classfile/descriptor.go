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
)

// AccessFlags is the access_flags bitmask of a class, field, or method.
type AccessFlags uint16

// Access flag bits. Several bits are reused with different meanings for
// classes, fields, and methods; the names follow the class meaning where
// they collide, with the member meaning noted.
const (
	AccPublic     AccessFlags = 0x0001
	AccPrivate    AccessFlags = 0x0002
	AccProtected  AccessFlags = 0x0004
	AccStatic     AccessFlags = 0x0008
	AccFinal      AccessFlags = 0x0010
	AccSuper      AccessFlags = 0x0020 // ACC_SYNCHRONIZED on methods
	AccVolatile   AccessFlags = 0x0040 // ACC_BRIDGE on methods
	AccTransient  AccessFlags = 0x0080 // ACC_VARARGS on methods
	AccNative     AccessFlags = 0x0100
	AccInterface  AccessFlags = 0x0200
	AccAbstract   AccessFlags = 0x0400
	AccStrict     AccessFlags = 0x0800
	AccSynthetic  AccessFlags = 0x1000
	AccAnnotation AccessFlags = 0x2000
	AccEnum       AccessFlags = 0x4000
	AccModule     AccessFlags = 0x8000
)

// Has reports whether every bit in flag is set.
func (a AccessFlags) Has(flag AccessFlags) bool {
	return a&flag == flag
}

// IsInterface reports whether ACC_INTERFACE is set.
func (a AccessFlags) IsInterface() bool { return a.Has(AccInterface) }

// IsAnnotation reports whether ACC_ANNOTATION is set.
func (a AccessFlags) IsAnnotation() bool { return a.Has(AccAnnotation) }

// IsEnum reports whether ACC_ENUM is set.
func (a AccessFlags) IsEnum() bool { return a.Has(AccEnum) }

// Well-known member names.
const (
	ConstructorName       = "<init>"
	StaticInitializerName = "<clinit>"
)

// BinaryName converts an internal name (com/acme/A) to a binary name (com.acme.A).
func BinaryName(internal string) string {
	return strings.ReplaceAll(internal, "/", ".")
}

// InternalName converts a binary name (com.acme.A) to an internal name (com/acme/A).
func InternalName(binary string) string {
	return strings.ReplaceAll(binary, ".", "/")
}

// PackageName returns the package portion of a binary name, or "" for
// the unnamed package.
func PackageName(binary string) string {
	if i := strings.LastIndexByte(binary, '.'); i >= 0 {
		return binary[:i]
	}
	return ""
}

// SimpleName returns the part of a binary name after the last dot.
func SimpleName(binary string) string {
	return binary[strings.LastIndexByte(binary, '.')+1:]
}

// TypeName converts a field descriptor into a source-style type name.
//
// Examples:
//
//	"I"                    → "int"
//	"Ljava/lang/String;"   → "java.lang.String"
//	"[[Lcom/acme/A;"       → "com.acme.A[][]"
func TypeName(desc string) (string, error) {
	name, rest, err := nextType(desc)
	if err != nil {
		return "", err
	}
	if rest != "" {
		return "", fmt.Errorf("%w: trailing data in %q", ErrInvalidDescriptor, desc)
	}
	return name, nil
}

// ParameterTypes returns the source-style parameter types of a method descriptor.
//
// Example:
//
//	"(ILjava/lang/String;[J)V" → ["int", "java.lang.String", "long[]"]
func ParameterTypes(desc string) ([]string, error) {
	if !strings.HasPrefix(desc, "(") {
		return nil, fmt.Errorf("%w: method descriptor %q", ErrInvalidDescriptor, desc)
	}
	rest := desc[1:]
	var params []string
	for !strings.HasPrefix(rest, ")") {
		if rest == "" {
			return nil, fmt.Errorf("%w: unterminated parameters in %q", ErrInvalidDescriptor, desc)
		}
		var name string
		var err error
		name, rest, err = nextType(rest)
		if err != nil {
			return nil, err
		}
		params = append(params, name)
	}
	if _, tail, err := nextType(rest[1:]); err != nil || tail != "" {
		return nil, fmt.Errorf("%w: return type in %q", ErrInvalidDescriptor, desc)
	}
	return params, nil
}

var baseTypes = map[byte]string{
	'B': "byte",
	'C': "char",
	'D': "double",
	'F': "float",
	'I': "int",
	'J': "long",
	'S': "short",
	'Z': "boolean",
	'V': "void",
}

// nextType decodes one type from the front of desc.
func nextType(desc string) (string, string, error) {
	dims := 0
	for dims < len(desc) && desc[dims] == '[' {
		dims++
	}
	if dims == len(desc) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidDescriptor, desc)
	}

	var name, rest string
	switch c := desc[dims]; c {
	case 'L':
		end := strings.IndexByte(desc[dims:], ';')
		if end < 2 {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidDescriptor, desc)
		}
		name = BinaryName(desc[dims+1 : dims+end])
		rest = desc[dims+end+1:]
	default:
		base, ok := baseTypes[c]
		if !ok {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidDescriptor, desc)
		}
		name, rest = base, desc[dims+1:]
	}
	return name + strings.Repeat("[]", dims), rest, nil
}

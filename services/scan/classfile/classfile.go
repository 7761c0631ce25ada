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
	"io"
)

// Magic is the first four bytes of every class file.
const Magic uint32 = 0xCAFEBABE

// MaxClassFileSize bounds how much Parse reads from a stream.
const MaxClassFileSize = 64 << 20

// Attribute names the decoder interprets. All others are skipped.
const (
	attrRuntimeVisibleAnnotations            = "RuntimeVisibleAnnotations"
	attrRuntimeInvisibleAnnotations          = "RuntimeInvisibleAnnotations"
	attrRuntimeVisibleParameterAnnotations   = "RuntimeVisibleParameterAnnotations"
	attrRuntimeInvisibleParameterAnnotations = "RuntimeInvisibleParameterAnnotations"
)

// ClassFile is the structural metadata of one class file.
type ClassFile struct {
	// MinorVersion and MajorVersion are the class file format version.
	MinorVersion uint16 `json:"minor_version"`
	MajorVersion uint16 `json:"major_version"`

	// Access holds the class access_flags.
	Access AccessFlags `json:"access"`

	// Name is the binary name of this class.
	Name string `json:"name"`

	// SuperName is the binary name of the superclass. Empty for
	// java.lang.Object and module-info.
	SuperName string `json:"super_name,omitempty"`

	// Interfaces lists the binary names of directly implemented (or, for
	// an interface, directly extended) interfaces in declaration order.
	Interfaces []string `json:"interfaces,omitempty"`

	// Fields lists declared fields in declaration order.
	Fields []Member `json:"fields,omitempty"`

	// Methods lists declared methods, constructors ("<init>"), and static
	// initializers ("<clinit>") in declaration order.
	Methods []Member `json:"methods,omitempty"`

	// Annotations lists annotations on the class itself.
	Annotations []Annotation `json:"annotations,omitempty"`
}

// Member is a declared field or method.
type Member struct {
	Access     AccessFlags `json:"access"`
	Name       string      `json:"name"`
	Descriptor string      `json:"descriptor"`

	// Annotations lists annotations on the member.
	Annotations []Annotation `json:"annotations,omitempty"`

	// ParameterAnnotations holds annotations per formal parameter, indexed
	// by the position given in the parameter annotation attribute. Nil for
	// fields and for methods without parameter annotations.
	ParameterAnnotations [][]Annotation `json:"parameter_annotations,omitempty"`
}

// Annotation is one annotation usage.
type Annotation struct {
	// Type is the binary name of the annotation interface.
	Type string `json:"type"`

	// Visible is true for RuntimeVisible* attributes (RUNTIME retention)
	// and false for RuntimeInvisible* attributes (CLASS retention).
	Visible bool `json:"visible"`

	// Elements lists the element names present on this usage, in order.
	Elements []string `json:"elements,omitempty"`
}

// Parse reads a complete class file from r and decodes it.
//
// Description:
//
//	Reads at most MaxClassFileSize bytes, then decodes the result with
//	ParseBytes.
//
// Inputs:
//
//	r - Stream positioned at the start of a class file.
//
// Outputs:
//
//	*ClassFile - The decoded metadata.
//	error - I/O errors from r are returned as-is; structural problems are
//	        returned as *DecodeError wrapping a package sentinel.
func Parse(r io.Reader) (*ClassFile, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxClassFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading class file: %w", err)
	}
	if len(data) > MaxClassFileSize {
		return nil, ErrTooLarge
	}
	return ParseBytes(data)
}

// ParseBytes decodes an in-memory class file.
//
// Description:
//
//	Validates the magic number, decodes the constant pool, the class
//	header, every field and method with their annotation attributes, and
//	the class-level annotation attributes. Unknown attributes are skipped
//	by length. Trailing bytes after the last attribute are ignored.
//
// Inputs:
//
//	data - The class file bytes. Not retained after return.
//
// Outputs:
//
//	*ClassFile - The decoded metadata.
//	error - *DecodeError wrapping ErrInvalidMagic, ErrTruncated, or
//	        ErrInvalidConstant.
//
// Thread Safety: Safe for concurrent use.
func ParseBytes(data []byte) (*ClassFile, error) {
	r := &reader{buf: data}

	if magic := r.u4(); r.err != nil || magic != Magic {
		err := r.err
		if err == nil {
			err = fmt.Errorf("%w: 0x%08X", ErrInvalidMagic, magic)
		}
		return nil, &DecodeError{Offset: 0, Section: "header", Err: err}
	}

	cf := &ClassFile{}
	cf.MinorVersion = r.u2()
	cf.MajorVersion = r.u2()
	count := r.u2()
	if r.err != nil {
		return nil, &DecodeError{Offset: r.off, Section: "header", Err: r.err}
	}

	pool, err := readConstantPool(r, count)
	if err != nil {
		return nil, err
	}

	start := r.off
	cf.Access = AccessFlags(r.u2())
	thisIdx := r.u2()
	superIdx := r.u2()
	ifaceCount := int(r.u2())
	ifaceIdx := make([]uint16, 0, ifaceCount)
	for i := 0; i < ifaceCount; i++ {
		ifaceIdx = append(ifaceIdx, r.u2())
	}
	if r.err != nil {
		return nil, &DecodeError{Offset: start, Section: "class", Err: r.err}
	}

	if cf.Name, err = pool.classAt(thisIdx); err != nil {
		return nil, &DecodeError{Offset: start, Section: "this_class", Err: err}
	}
	if superIdx != 0 {
		if cf.SuperName, err = pool.classAt(superIdx); err != nil {
			return nil, &DecodeError{Offset: start, Section: "super_class", Err: err}
		}
	}
	for _, idx := range ifaceIdx {
		name, err := pool.classAt(idx)
		if err != nil {
			return nil, &DecodeError{Offset: start, Section: "interfaces", Err: err}
		}
		cf.Interfaces = append(cf.Interfaces, name)
	}

	if cf.Fields, err = readMembers(r, pool, "field"); err != nil {
		return nil, err
	}
	if cf.Methods, err = readMembers(r, pool, "method"); err != nil {
		return nil, err
	}

	var holder Member
	if err := readAttributes(r, pool, "class", &holder); err != nil {
		return nil, err
	}
	cf.Annotations = holder.Annotations

	return cf, nil
}

// readMembers decodes a fields or methods table.
func readMembers(r *reader, pool constantPool, section string) ([]Member, error) {
	count := int(r.u2())
	if r.err != nil {
		return nil, &DecodeError{Offset: r.off, Section: section, Err: r.err}
	}

	members := make([]Member, 0, count)
	for i := 0; i < count; i++ {
		start := r.off
		access := AccessFlags(r.u2())
		nameIdx := r.u2()
		descIdx := r.u2()
		if r.err != nil {
			return nil, &DecodeError{Offset: start, Section: section, Err: r.err}
		}

		name, err := pool.utf8At(nameIdx)
		if err != nil {
			return nil, &DecodeError{Offset: start, Section: section, Err: err}
		}
		desc, err := pool.utf8At(descIdx)
		if err != nil {
			return nil, &DecodeError{Offset: start, Section: section, Err: err}
		}

		m := Member{Access: access, Name: name, Descriptor: desc}
		if err := readAttributes(r, pool, section, &m); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, nil
}

// readAttributes decodes an attributes table, collecting annotation
// attributes into m and skipping everything else.
func readAttributes(r *reader, pool constantPool, section string, m *Member) error {
	count := int(r.u2())
	for i := 0; i < count; i++ {
		start := r.off
		nameIdx := r.u2()
		length := int(r.u4())
		body := r.bytes(length)
		if r.err != nil {
			return &DecodeError{Offset: start, Section: section + " attribute", Err: r.err}
		}

		name, err := pool.utf8At(nameIdx)
		if err != nil {
			return &DecodeError{Offset: start, Section: section + " attribute", Err: err}
		}

		sub := &reader{buf: body}
		switch name {
		case attrRuntimeVisibleAnnotations, attrRuntimeInvisibleAnnotations:
			anns, err := readAnnotations(sub, pool, name == attrRuntimeVisibleAnnotations)
			if err != nil {
				return &DecodeError{Offset: start, Section: name, Err: err}
			}
			m.Annotations = append(m.Annotations, anns...)
		case attrRuntimeVisibleParameterAnnotations, attrRuntimeInvisibleParameterAnnotations:
			params, err := readParameterAnnotations(sub, pool, name == attrRuntimeVisibleParameterAnnotations)
			if err != nil {
				return &DecodeError{Offset: start, Section: name, Err: err}
			}
			m.ParameterAnnotations = mergeParameterAnnotations(m.ParameterAnnotations, params)
		}
	}
	if r.err != nil {
		return &DecodeError{Offset: r.off, Section: section + " attributes", Err: r.err}
	}
	return nil
}

// mergeParameterAnnotations appends src into dst position by position.
func mergeParameterAnnotations(dst, src [][]Annotation) [][]Annotation {
	for len(dst) < len(src) {
		dst = append(dst, nil)
	}
	for i, anns := range src {
		dst[i] = append(dst[i], anns...)
	}
	return dst
}

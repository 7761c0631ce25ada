// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classfiletest writes minimal, well-formed class files for tests.
//
// Classes carry headers, members, annotation attributes, and optional raw
// attributes. Method bodies are never emitted.
//
// Example:
//
//	data := classfiletest.NewClass("com.acme.B").
//		Super("com.acme.A").
//		Annotate("com.acme.X").
//		Bytes()
package classfiletest

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/AleutianAI/AleutianScan/services/scan/classfile"
)

// DefaultMajorVersion is the class file version written by Builder (Java 17).
const DefaultMajorVersion = 61

// Element is one name/value pair on an annotation usage.
type Element struct {
	Name  string
	Value Value
}

// Value is an element_value. Build one with the *Value helpers.
type Value struct {
	tag    byte
	str    string
	num    int32
	enum   [2]string
	nested *Usage
	array  []Value
}

// StringValue returns a String element value.
func StringValue(s string) Value { return Value{tag: 's', str: s} }

// IntValue returns an int element value.
func IntValue(n int32) Value { return Value{tag: 'I', num: n} }

// EnumValue returns an enum element value of the given enum binary name.
func EnumValue(enumType, constName string) Value {
	return Value{tag: 'e', enum: [2]string{enumType, constName}}
}

// ClassValue returns a Class element value for the binary name.
func ClassValue(binary string) Value { return Value{tag: 'c', str: binary} }

// NestedValue returns an annotation-valued element.
func NestedValue(annType string, elems ...Element) Value {
	return Value{tag: '@', nested: &Usage{Type: annType, Visible: true, Elements: elems}}
}

// ArrayValue returns an array element value.
func ArrayValue(vals ...Value) Value { return Value{tag: '[', array: vals} }

// Usage is one annotation usage to be written.
type Usage struct {
	Type     string
	Visible  bool
	Elements []Element
}

// Builder accumulates one class file.
type Builder struct {
	name       string
	super      string
	noSuper    bool
	interfaces []string
	access     classfile.AccessFlags
	major      uint16
	anns       []Usage
	fields     []*MemberBuilder
	methods    []*MemberBuilder
	raw        []rawAttribute
	longs      []int64
}

type rawAttribute struct {
	name string
	data []byte
}

// MemberBuilder accumulates one field or method.
type MemberBuilder struct {
	owner      *Builder
	access     classfile.AccessFlags
	name       string
	desc       string
	anns       []Usage
	paramAnns  map[int][]Usage
	paramCount int
}

// NewClass starts a public class extending java.lang.Object.
func NewClass(binaryName string) *Builder {
	return &Builder{
		name:   binaryName,
		super:  "java.lang.Object",
		access: classfile.AccPublic | classfile.AccSuper,
		major:  DefaultMajorVersion,
	}
}

// NewInterface starts a public interface.
func NewInterface(binaryName string, extends ...string) *Builder {
	b := NewClass(binaryName)
	b.access = classfile.AccPublic | classfile.AccInterface | classfile.AccAbstract
	b.interfaces = append(b.interfaces, extends...)
	return b
}

// NewAnnotation starts an annotation interface: java.lang.Object super
// and java.lang.annotation.Annotation as its only interface.
func NewAnnotation(binaryName string) *Builder {
	b := NewInterface(binaryName, "java.lang.annotation.Annotation")
	b.access |= classfile.AccAnnotation
	return b
}

// NewPackageInfo starts a package-info class for the given package.
func NewPackageInfo(pkg string) *Builder {
	b := NewClass(pkg + ".package-info")
	b.access = classfile.AccInterface | classfile.AccAbstract | classfile.AccSynthetic
	return b
}

// Super sets the superclass binary name.
func (b *Builder) Super(binaryName string) *Builder {
	b.super = binaryName
	b.noSuper = binaryName == ""
	return b
}

// Implements appends interface binary names.
func (b *Builder) Implements(names ...string) *Builder {
	b.interfaces = append(b.interfaces, names...)
	return b
}

// Access replaces the class access flags.
func (b *Builder) Access(flags classfile.AccessFlags) *Builder {
	b.access = flags
	return b
}

// Annotate adds a runtime-visible annotation to the class.
func (b *Builder) Annotate(annType string, elems ...Element) *Builder {
	b.anns = append(b.anns, Usage{Type: annType, Visible: true, Elements: elems})
	return b
}

// AnnotateInvisible adds a class-retention annotation to the class.
func (b *Builder) AnnotateInvisible(annType string, elems ...Element) *Builder {
	b.anns = append(b.anns, Usage{Type: annType, Visible: false, Elements: elems})
	return b
}

// RawAttribute adds an uninterpreted class-level attribute.
func (b *Builder) RawAttribute(name string, data []byte) *Builder {
	b.raw = append(b.raw, rawAttribute{name: name, data: data})
	return b
}

// LongConstant adds a CONSTANT_Long entry to the pool.
func (b *Builder) LongConstant(v int64) *Builder {
	b.longs = append(b.longs, v)
	return b
}

// Field adds a public field and returns its builder.
func (b *Builder) Field(name, desc string) *MemberBuilder {
	m := &MemberBuilder{owner: b, access: classfile.AccPublic, name: name, desc: desc}
	b.fields = append(b.fields, m)
	return m
}

// Method adds a public method and returns its builder.
func (b *Builder) Method(name, desc string) *MemberBuilder {
	m := &MemberBuilder{owner: b, access: classfile.AccPublic, name: name, desc: desc}
	b.methods = append(b.methods, m)
	return m
}

// Constructor adds a public constructor and returns its builder.
func (b *Builder) Constructor(desc string) *MemberBuilder {
	return b.Method(classfile.ConstructorName, desc)
}

// Access replaces the member access flags.
func (m *MemberBuilder) Access(flags classfile.AccessFlags) *MemberBuilder {
	m.access = flags
	return m
}

// Annotate adds a runtime-visible annotation to the member.
func (m *MemberBuilder) Annotate(annType string, elems ...Element) *MemberBuilder {
	m.anns = append(m.anns, Usage{Type: annType, Visible: true, Elements: elems})
	return m
}

// AnnotateInvisible adds a class-retention annotation to the member.
func (m *MemberBuilder) AnnotateInvisible(annType string, elems ...Element) *MemberBuilder {
	m.anns = append(m.anns, Usage{Type: annType, Visible: false, Elements: elems})
	return m
}

// AnnotateParam adds a runtime-visible annotation to parameter index.
func (m *MemberBuilder) AnnotateParam(index int, annType string) *MemberBuilder {
	if m.paramAnns == nil {
		m.paramAnns = make(map[int][]Usage)
	}
	m.paramAnns[index] = append(m.paramAnns[index], Usage{Type: annType, Visible: true})
	if index+1 > m.paramCount {
		m.paramCount = index + 1
	}
	return m
}

// Done returns the owning class builder.
func (m *MemberBuilder) Done() *Builder {
	return m.owner
}

// Bytes returns the encoded class file.
func (b *Builder) Bytes() []byte {
	p := newPool()
	thisIdx := p.class(b.name)
	var superIdx uint16
	if !b.noSuper && b.name != "java.lang.Object" {
		superIdx = p.class(b.super)
	}
	ifaceIdx := make([]uint16, len(b.interfaces))
	for i, iface := range b.interfaces {
		ifaceIdx[i] = p.class(iface)
	}
	for _, v := range b.longs {
		p.long(v)
	}

	var body bytes.Buffer
	put16(&body, uint16(b.access))
	put16(&body, thisIdx)
	put16(&body, superIdx)
	put16(&body, uint16(len(ifaceIdx)))
	for _, idx := range ifaceIdx {
		put16(&body, idx)
	}

	writeMembers(&body, p, b.fields)
	writeMembers(&body, p, b.methods)

	attrs := annotationAttributes(p, b.anns)
	for _, r := range b.raw {
		attrs = append(attrs, attribute{nameIdx: p.utf8(r.name), data: r.data})
	}
	writeAttributes(&body, attrs)

	var out bytes.Buffer
	put32(&out, classfile.Magic)
	put16(&out, 0)
	put16(&out, b.major)
	p.writeTo(&out)
	out.Write(body.Bytes())
	return out.Bytes()
}

func writeMembers(w *bytes.Buffer, p *pool, members []*MemberBuilder) {
	put16(w, uint16(len(members)))
	for _, m := range members {
		put16(w, uint16(m.access))
		put16(w, p.utf8(m.name))
		put16(w, p.utf8(m.desc))

		attrs := annotationAttributes(p, m.anns)
		if m.paramCount > 0 {
			var buf bytes.Buffer
			buf.WriteByte(byte(m.paramCount))
			for i := 0; i < m.paramCount; i++ {
				writeAnnotations(&buf, p, m.paramAnns[i])
			}
			attrs = append(attrs, attribute{
				nameIdx: p.utf8("RuntimeVisibleParameterAnnotations"),
				data:    buf.Bytes(),
			})
		}
		writeAttributes(w, attrs)
	}
}

type attribute struct {
	nameIdx uint16
	data    []byte
}

func annotationAttributes(p *pool, anns []Usage) []attribute {
	var visible, invisible []Usage
	for _, a := range anns {
		if a.Visible {
			visible = append(visible, a)
		} else {
			invisible = append(invisible, a)
		}
	}

	var attrs []attribute
	if len(visible) > 0 {
		var buf bytes.Buffer
		writeAnnotations(&buf, p, visible)
		attrs = append(attrs, attribute{nameIdx: p.utf8("RuntimeVisibleAnnotations"), data: buf.Bytes()})
	}
	if len(invisible) > 0 {
		var buf bytes.Buffer
		writeAnnotations(&buf, p, invisible)
		attrs = append(attrs, attribute{nameIdx: p.utf8("RuntimeInvisibleAnnotations"), data: buf.Bytes()})
	}
	return attrs
}

func writeAttributes(w *bytes.Buffer, attrs []attribute) {
	put16(w, uint16(len(attrs)))
	for _, a := range attrs {
		put16(w, a.nameIdx)
		put32(w, uint32(len(a.data)))
		w.Write(a.data)
	}
}

func writeAnnotations(w *bytes.Buffer, p *pool, anns []Usage) {
	put16(w, uint16(len(anns)))
	for _, a := range anns {
		writeAnnotation(w, p, a)
	}
}

func writeAnnotation(w *bytes.Buffer, p *pool, a Usage) {
	put16(w, p.utf8(descriptorOf(a.Type)))
	put16(w, uint16(len(a.Elements)))
	for _, e := range a.Elements {
		put16(w, p.utf8(e.Name))
		writeValue(w, p, e.Value)
	}
}

func writeValue(w *bytes.Buffer, p *pool, v Value) {
	w.WriteByte(v.tag)
	switch v.tag {
	case 's':
		put16(w, p.utf8(v.str))
	case 'c':
		put16(w, p.utf8(descriptorOf(v.str)))
	case 'I':
		put16(w, p.integer(v.num))
	case 'e':
		put16(w, p.utf8(descriptorOf(v.enum[0])))
		put16(w, p.utf8(v.enum[1]))
	case '@':
		writeAnnotation(w, p, *v.nested)
	case '[':
		put16(w, uint16(len(v.array)))
		for _, item := range v.array {
			writeValue(w, p, item)
		}
	}
}

// descriptorOf returns the field descriptor of a binary class name.
func descriptorOf(binary string) string {
	return "L" + strings.ReplaceAll(binary, ".", "/") + ";"
}

func put16(w *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.Write(b[:])
}

func put32(w *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

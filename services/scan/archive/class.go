// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package archive

import (
	"slices"

	"github.com/AleutianAI/AleutianScan/services/scan/classfile"
)

// Class is the loaded, linked view of one class.
//
// Description:
//
//	A Class is produced by Loader.Load after its superclass and interfaces
//	have loaded. Annotation lists hold only runtime-visible annotation
//	type names. Platform classes that are absent from the archive are
//	represented by stubs with Platform set and no members.
//
// Thread Safety:
//
//	Immutable after Load returns.
type Class struct {
	Name       string
	Access     classfile.AccessFlags
	Superclass *Class
	Interfaces []*Class

	// Platform is true for stubs synthesized for platform names.
	Platform bool

	Annotations  []string
	Fields       []*Field
	Methods      []*Method
	Constructors []*Method
}

// Method is a declared method or constructor.
type Method struct {
	Declaring  *Class
	Name       string
	Descriptor string
	Access     classfile.AccessFlags

	// ParameterTypes are source-style type names derived from Descriptor.
	ParameterTypes []string

	Annotations []string

	// ParameterAnnotations is indexed like ParameterTypes. Entries may be nil.
	ParameterAnnotations [][]string
}

// Field is a declared field.
type Field struct {
	Declaring   *Class
	Name        string
	Descriptor  string
	Type        string
	Access      classfile.AccessFlags
	Annotations []string
}

// Parameter is one formal parameter of a Method.
type Parameter struct {
	Method      *Method
	Index       int
	Type        string
	Annotations []string
}

// IsInterface reports whether c is an interface.
func (c *Class) IsInterface() bool {
	return c.Access.IsInterface()
}

// IsAnnotation reports whether c is an annotation interface.
func (c *Class) IsAnnotation() bool {
	return c.Access.IsAnnotation()
}

// IsAnnotationPresent reports whether c carries a runtime-visible
// annotation of the given type.
func (c *Class) IsAnnotationPresent(annotation string) bool {
	return slices.Contains(c.Annotations, annotation)
}

// IsAssignableFrom reports whether other is c or a subtype of c.
func (c *Class) IsAssignableFrom(other *Class) bool {
	if other == nil {
		return false
	}
	seen := make(map[string]bool)
	stack := []*Class{other}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == nil || seen[cur.Name] {
			continue
		}
		if cur.Name == c.Name {
			return true
		}
		seen[cur.Name] = true
		stack = append(stack, cur.Superclass)
		stack = append(stack, cur.Interfaces...)
	}
	return false
}

// Method returns the declared method or constructor with the given name
// and descriptor, or nil.
func (c *Class) Method(name, descriptor string) *Method {
	list := c.Methods
	if name == classfile.ConstructorName {
		list = c.Constructors
	}
	for _, m := range list {
		if m.Name == name && m.Descriptor == descriptor {
			return m
		}
	}
	return nil
}

// Field returns the declared field with the given name, or nil.
func (c *Class) Field(name string) *Field {
	for _, f := range c.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// IsConstructor reports whether m is an instance initializer.
func (m *Method) IsConstructor() bool {
	return m.Name == classfile.ConstructorName
}

// IsAnnotationPresent reports whether m carries a runtime-visible
// annotation of the given type.
func (m *Method) IsAnnotationPresent(annotation string) bool {
	return slices.Contains(m.Annotations, annotation)
}

// Parameters returns the formal parameters of m.
func (m *Method) Parameters() []*Parameter {
	params := make([]*Parameter, len(m.ParameterTypes))
	for i, typ := range m.ParameterTypes {
		p := &Parameter{Method: m, Index: i, Type: typ}
		if i < len(m.ParameterAnnotations) {
			p.Annotations = m.ParameterAnnotations[i]
		}
		params[i] = p
	}
	return params
}

// IsAnnotationPresent reports whether f carries a runtime-visible
// annotation of the given type.
func (f *Field) IsAnnotationPresent(annotation string) bool {
	return slices.Contains(f.Annotations, annotation)
}

// IsAnnotationPresent reports whether p carries a runtime-visible
// annotation of the given type.
func (p *Parameter) IsAnnotationPresent(annotation string) bool {
	return slices.Contains(p.Annotations, annotation)
}

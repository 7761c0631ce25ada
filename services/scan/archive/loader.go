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
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianScan/services/scan/classfile"
)

// DefaultPlatformPrefixes are the binary-name prefixes of the Java
// platform. Loaders synthesize stubs for these when bytecode is absent,
// and the finder treats them as linking terminals.
var DefaultPlatformPrefixes = []string{
	"java.",
	"javax.",
	"jdk.",
	"sun.",
	"org.ietf.",
	"org.omg.",
	"org.w3c.",
	"org.xml.",
}

// IsPlatform reports whether name starts with one of prefixes.
func IsPlatform(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// BytecodeFunc opens the bytecode stream for a binary name. It returns
// an error wrapping ErrClassNotFound when the name is absent.
type BytecodeFunc func(name string) (io.ReadCloser, error)

// Loader turns bytecode into linked *Class values.
//
// Description:
//
//	Load resolves a name by decoding its bytecode, then loading its
//	superclass and interfaces. Results and failures are both cached, so
//	every name is decoded at most once per Loader.
//
// Thread Safety:
//
//	Safe for concurrent use. Loads are serialized by a single mutex.
type Loader struct {
	open     BytecodeFunc
	platform []string

	mu       sync.Mutex
	classes  map[string]*Class
	failures map[string]error
	loading  map[string]bool
}

// NewLoader creates a loader over open. A nil prefixes slice selects
// DefaultPlatformPrefixes.
func NewLoader(open BytecodeFunc, prefixes []string) *Loader {
	if prefixes == nil {
		prefixes = DefaultPlatformPrefixes
	}
	return &Loader{
		open:     open,
		platform: prefixes,
		classes:  make(map[string]*Class),
		failures: make(map[string]error),
		loading:  make(map[string]bool),
	}
}

// Load returns the linked class for a binary name.
//
// Outputs:
//
//	*Class - The loaded class, or a platform stub.
//	error - *LoadError wrapping ErrClassNotFound, ErrCircularity, or a
//	        classfile decode error.
func (l *Loader) Load(name string) (*Class, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadLocked(name)
}

// loadLocked loads name. Caller must hold l.mu.
func (l *Loader) loadLocked(name string) (*Class, error) {
	if c, ok := l.classes[name]; ok {
		return c, nil
	}
	if err, ok := l.failures[name]; ok {
		return nil, err
	}
	if l.loading[name] {
		return nil, &LoadError{Name: name, Err: ErrCircularity}
	}

	l.loading[name] = true
	c, err := l.defineLocked(name)
	delete(l.loading, name)

	if err != nil {
		l.failures[name] = err
		return nil, err
	}
	l.classes[name] = c
	return c, nil
}

// defineLocked decodes and links one class. Caller must hold l.mu.
func (l *Loader) defineLocked(name string) (*Class, error) {
	rc, err := l.open(name)
	if err != nil {
		if errors.Is(err, ErrClassNotFound) && IsPlatform(name, l.platform) {
			return &Class{Name: name, Access: classfile.AccPublic, Platform: true}, nil
		}
		return nil, &LoadError{Name: name, Err: err}
	}
	cf, err := classfile.Parse(rc)
	rc.Close()
	if err != nil {
		return nil, &LoadError{Name: name, Err: err}
	}
	if cf.Name != name {
		return nil, &LoadError{Name: name, Err: fmt.Errorf("%w: bytecode defines %s", ErrClassNotFound, cf.Name)}
	}

	c := &Class{
		Name:        name,
		Access:      cf.Access,
		Annotations: visibleTypes(cf.Annotations),
	}

	if cf.SuperName != "" {
		super, err := l.loadLocked(cf.SuperName)
		if err != nil {
			return nil, &LoadError{Name: name, Err: err}
		}
		c.Superclass = super
	}
	for _, iname := range cf.Interfaces {
		iface, err := l.loadLocked(iname)
		if err != nil {
			return nil, &LoadError{Name: name, Err: err}
		}
		c.Interfaces = append(c.Interfaces, iface)
	}

	for _, f := range cf.Fields {
		typ, err := classfile.TypeName(f.Descriptor)
		if err != nil {
			return nil, &LoadError{Name: name, Err: err}
		}
		c.Fields = append(c.Fields, &Field{
			Declaring:   c,
			Name:        f.Name,
			Descriptor:  f.Descriptor,
			Type:        typ,
			Access:      f.Access,
			Annotations: visibleTypes(f.Annotations),
		})
	}

	for _, m := range cf.Methods {
		if m.Name == classfile.StaticInitializerName {
			continue
		}
		params, err := classfile.ParameterTypes(m.Descriptor)
		if err != nil {
			return nil, &LoadError{Name: name, Err: err}
		}
		method := &Method{
			Declaring:      c,
			Name:           m.Name,
			Descriptor:     m.Descriptor,
			Access:         m.Access,
			ParameterTypes: params,
			Annotations:    visibleTypes(m.Annotations),
		}
		for _, anns := range m.ParameterAnnotations {
			method.ParameterAnnotations = append(method.ParameterAnnotations, visibleTypes(anns))
		}
		if method.IsConstructor() {
			c.Constructors = append(c.Constructors, method)
		} else {
			c.Methods = append(c.Methods, method)
		}
	}

	return c, nil
}

// visibleTypes returns the type names of runtime-visible annotations.
func visibleTypes(anns []classfile.Annotation) []string {
	var out []string
	for _, a := range anns {
		if a.Visible {
			out = append(out, a.Type)
		}
	}
	return out
}

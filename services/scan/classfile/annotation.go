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
)

// maxElementDepth bounds nesting of annotation-valued and array-valued
// elements so a hostile file cannot exhaust the stack.
const maxElementDepth = 64

// readAnnotations decodes a RuntimeVisibleAnnotations or
// RuntimeInvisibleAnnotations body.
func readAnnotations(r *reader, pool constantPool, visible bool) ([]Annotation, error) {
	count := int(r.u2())
	anns := make([]Annotation, 0, count)
	for i := 0; i < count; i++ {
		ann, err := readAnnotation(r, pool, 0)
		if err != nil {
			return nil, err
		}
		ann.Visible = visible
		anns = append(anns, ann)
	}
	if r.err != nil {
		return nil, r.err
	}
	return anns, nil
}

// readParameterAnnotations decodes a Runtime*ParameterAnnotations body.
func readParameterAnnotations(r *reader, pool constantPool, visible bool) ([][]Annotation, error) {
	numParams := int(r.u1())
	params := make([][]Annotation, numParams)
	for p := 0; p < numParams; p++ {
		anns, err := readAnnotations(r, pool, visible)
		if err != nil {
			return nil, err
		}
		if len(anns) > 0 {
			params[p] = anns
		}
	}
	return params, nil
}

// readAnnotation decodes one annotation structure: type_index followed
// by element_value_pairs.
func readAnnotation(r *reader, pool constantPool, depth int) (Annotation, error) {
	typeIdx := r.u2()
	pairs := int(r.u2())
	if r.err != nil {
		return Annotation{}, r.err
	}

	desc, err := pool.utf8At(typeIdx)
	if err != nil {
		return Annotation{}, err
	}
	typeName, err := TypeName(desc)
	if err != nil {
		return Annotation{}, err
	}

	ann := Annotation{Type: typeName}
	for i := 0; i < pairs; i++ {
		nameIdx := r.u2()
		if r.err != nil {
			return Annotation{}, r.err
		}
		elem, err := pool.utf8At(nameIdx)
		if err != nil {
			return Annotation{}, err
		}
		ann.Elements = append(ann.Elements, elem)
		if err := skipElementValue(r, pool, depth+1); err != nil {
			return Annotation{}, err
		}
	}
	return ann, nil
}

// skipElementValue advances past one element_value.
func skipElementValue(r *reader, pool constantPool, depth int) error {
	if depth > maxElementDepth {
		return fmt.Errorf("%w: element_value nesting exceeds %d", ErrInvalidConstant, maxElementDepth)
	}

	tag := r.u1()
	switch tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's', 'c':
		r.skip(2)
	case 'e':
		r.skip(4)
	case '@':
		if _, err := readAnnotation(r, pool, depth); err != nil {
			return err
		}
	case '[':
		n := int(r.u2())
		for i := 0; i < n; i++ {
			if err := skipElementValue(r, pool, depth+1); err != nil {
				return err
			}
		}
	default:
		if r.err != nil {
			return r.err
		}
		return fmt.Errorf("%w: element_value tag %q", ErrInvalidConstant, tag)
	}
	return r.err
}

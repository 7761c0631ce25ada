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
	"fmt"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/AleutianAI/AleutianScan/services/scan/classfile"
)

// Filter selects which class names an archive lists.
//
// Patterns are doublestar globs matched against internal names without
// the .class suffix, e.g. "com/acme/**" or "**/*Test". An empty Include
// list admits every name. Exclude wins over Include.
//
// Filtering only affects ClassNames. Bytecode and LoadClass still resolve
// excluded names so supertypes outside the selection can be linked.
type Filter struct {
	Include []string
	Exclude []string
}

// Validate returns ErrInvalidPattern for the first malformed pattern.
func (f Filter) Validate() error {
	for _, set := range [][]string{f.Include, f.Exclude} {
		for _, p := range set {
			if !doublestar.ValidatePattern(p) {
				return fmt.Errorf("%w: %q", ErrInvalidPattern, p)
			}
		}
	}
	return nil
}

// Allows reports whether the binary name passes the filter.
func (f Filter) Allows(name string) bool {
	path := classfile.InternalName(name)
	for _, p := range f.Exclude {
		if matched, err := doublestar.Match(p, path); err == nil && matched {
			return false
		}
	}
	if len(f.Include) == 0 {
		return true
	}
	for _, p := range f.Include {
		if matched, err := doublestar.Match(p, path); err == nil && matched {
			return true
		}
	}
	return false
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/AleutianAI/AleutianScan/services/scan/classfile"
)

// Change kinds reported in ClassDiff.Changes.
const (
	ChangeSuperclass  = "superclass_changed"
	ChangeInterfaces  = "interfaces_changed"
	ChangeAnnotations = "annotations_changed"
	ChangeMembers     = "members_changed"
	ChangeAccess      = "access_changed"
)

// Diff contains the differences between two snapshots.
type Diff struct {
	// BaseSnapshotID is the ID of the base snapshot.
	BaseSnapshotID string `json:"base_snapshot_id"`

	// TargetSnapshotID is the ID of the target snapshot.
	TargetSnapshotID string `json:"target_snapshot_id"`

	// ClassesAdded are classes present in target but not in base.
	ClassesAdded []string `json:"classes_added"`

	// ClassesRemoved are classes present in base but not in target.
	ClassesRemoved []string `json:"classes_removed"`

	// ClassesModified are classes whose declaration changed.
	ClassesModified []ClassDiff `json:"classes_modified"`

	// AnnotationsAdded are annotation types used in target but not in base.
	AnnotationsAdded []string `json:"annotations_added"`

	// AnnotationsRemoved are annotation types used in base but not in target.
	AnnotationsRemoved []string `json:"annotations_removed"`

	// Summary contains aggregate statistics about the diff.
	Summary DiffSummary `json:"summary"`
}

// ClassDiff describes how a single class changed.
type ClassDiff struct {
	Name    string   `json:"name"`
	Changes []string `json:"changes"`
}

// DiffSummary contains aggregate statistics about a diff.
type DiffSummary struct {
	// TotalChanges is added + removed + modified classes.
	TotalChanges int `json:"total_changes"`

	// PackagesAffected is the number of distinct packages with changed classes.
	PackagesAffected int `json:"packages_affected"`

	// ChangeRatio is the fraction of classes that changed (0.0 to 1.0).
	ChangeRatio float64 `json:"change_ratio"`
}

// DiffPayloads computes the differences between two snapshot payloads.
//
// Description:
//
//	Classes are matched by binary name. A class present in both is
//	modified when its access flags, superclass, interfaces, class
//	annotations or member signatures and annotations differ. Annotation
//	types are compared by usage anywhere in the payload.
//
// Inputs:
//
//	base - The base payload. Must not be nil.
//	target - The target payload. Must not be nil.
//	baseID, targetID - Snapshot IDs used for labeling.
//
// Outputs:
//
//	*Diff - The computed differences, sorted by name.
//	error - Non-nil if either payload is nil.
//
// Thread Safety: Safe for concurrent use on payloads nobody mutates.
func DiffPayloads(base, target *Payload, baseID, targetID string) (*Diff, error) {
	if base == nil {
		return nil, fmt.Errorf("base payload must not be nil")
	}
	if target == nil {
		return nil, fmt.Errorf("target payload must not be nil")
	}

	diff := &Diff{
		BaseSnapshotID:     baseID,
		TargetSnapshotID:   targetID,
		ClassesAdded:       []string{},
		ClassesRemoved:     []string{},
		ClassesModified:    []ClassDiff{},
		AnnotationsAdded:   []string{},
		AnnotationsRemoved: []string{},
	}

	baseClasses := byName(base.Classes)
	targetClasses := byName(target.Classes)
	packages := make(map[string]bool)

	for name, tc := range targetClasses {
		bc, ok := baseClasses[name]
		if !ok {
			diff.ClassesAdded = append(diff.ClassesAdded, name)
			packages[packageOf(name)] = true
			continue
		}
		if changes := classChanges(bc, tc); len(changes) > 0 {
			diff.ClassesModified = append(diff.ClassesModified, ClassDiff{Name: name, Changes: changes})
			packages[packageOf(name)] = true
		}
	}
	for name := range baseClasses {
		if _, ok := targetClasses[name]; !ok {
			diff.ClassesRemoved = append(diff.ClassesRemoved, name)
			packages[packageOf(name)] = true
		}
	}

	slices.Sort(diff.ClassesAdded)
	slices.Sort(diff.ClassesRemoved)
	slices.SortFunc(diff.ClassesModified, func(a, b ClassDiff) int {
		return cmp.Compare(a.Name, b.Name)
	})

	baseAnns := annotationTypes(base.Classes)
	targetAnns := annotationTypes(target.Classes)
	for t := range targetAnns {
		if !baseAnns[t] {
			diff.AnnotationsAdded = append(diff.AnnotationsAdded, t)
		}
	}
	for t := range baseAnns {
		if !targetAnns[t] {
			diff.AnnotationsRemoved = append(diff.AnnotationsRemoved, t)
		}
	}
	slices.Sort(diff.AnnotationsAdded)
	slices.Sort(diff.AnnotationsRemoved)

	changed := len(diff.ClassesAdded) + len(diff.ClassesRemoved) + len(diff.ClassesModified)
	total := max(len(baseClasses), len(targetClasses))
	ratio := 0.0
	if total > 0 {
		ratio = float64(changed) / float64(total)
	}
	diff.Summary = DiffSummary{
		TotalChanges:     changed,
		PackagesAffected: len(packages),
		ChangeRatio:      ratio,
	}
	return diff, nil
}

// Diff loads two snapshots and compares them.
//
// Outputs:
//
//	*Diff - The differences from baseID to targetID.
//	error - ErrNotFound, ErrIntegrity, ErrSchema or a storage error.
func (m *Manager) Diff(ctx context.Context, baseID, targetID string) (*Diff, error) {
	base, _, err := m.Load(ctx, baseID)
	if err != nil {
		return nil, fmt.Errorf("loading base: %w", err)
	}
	target, _, err := m.Load(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("loading target: %w", err)
	}
	return DiffPayloads(base, target, baseID, targetID)
}

func byName(classes []*classfile.ClassFile) map[string]*classfile.ClassFile {
	out := make(map[string]*classfile.ClassFile, len(classes))
	for _, c := range classes {
		if c != nil {
			out[c.Name] = c
		}
	}
	return out
}

func classChanges(base, target *classfile.ClassFile) []string {
	var changes []string
	if base.Access != target.Access {
		changes = append(changes, ChangeAccess)
	}
	if base.SuperName != target.SuperName {
		changes = append(changes, ChangeSuperclass)
	}
	if !slices.Equal(base.Interfaces, target.Interfaces) {
		changes = append(changes, ChangeInterfaces)
	}
	if !slices.Equal(annotationKeys(base.Annotations), annotationKeys(target.Annotations)) {
		changes = append(changes, ChangeAnnotations)
	}
	if !slices.Equal(memberKeys(base), memberKeys(target)) {
		changes = append(changes, ChangeMembers)
	}
	return changes
}

// annotationKeys returns sorted "type/visible" keys so reordering is not a change.
func annotationKeys(anns []classfile.Annotation) []string {
	keys := make([]string, 0, len(anns))
	for _, a := range anns {
		keys = append(keys, fmt.Sprintf("%s/%t", a.Type, a.Visible))
	}
	slices.Sort(keys)
	return keys
}

// memberKeys returns one sorted key per field and method, covering its
// signature and every annotation on it or its parameters.
func memberKeys(c *classfile.ClassFile) []string {
	keys := make([]string, 0, len(c.Fields)+len(c.Methods))
	add := func(kind string, m classfile.Member) {
		key := fmt.Sprintf("%s %s%s %d %v", kind, m.Name, m.Descriptor, m.Access, annotationKeys(m.Annotations))
		for i, params := range m.ParameterAnnotations {
			key += fmt.Sprintf(" p%d%v", i, annotationKeys(params))
		}
		keys = append(keys, key)
	}
	for _, f := range c.Fields {
		add("F", f)
	}
	for _, m := range c.Methods {
		add("M", m)
	}
	slices.Sort(keys)
	return keys
}

func annotationTypes(classes []*classfile.ClassFile) map[string]bool {
	out := make(map[string]bool)
	addAll := func(anns []classfile.Annotation) {
		for _, a := range anns {
			out[a.Type] = true
		}
	}
	for _, c := range classes {
		if c == nil {
			continue
		}
		addAll(c.Annotations)
		for _, m := range append(slices.Clone(c.Fields), c.Methods...) {
			addAll(m.Annotations)
			for _, params := range m.ParameterAnnotations {
				addAll(params)
			}
		}
	}
	return out
}

func packageOf(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i]
		}
	}
	return ""
}

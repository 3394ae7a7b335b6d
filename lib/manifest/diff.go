// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import "slices"

// ChangeKind classifies one entry in a [Diff].
type ChangeKind string

const (
	Added    ChangeKind = "added"
	Removed  ChangeKind = "removed"
	Modified ChangeKind = "modified"
)

// Change is one differing entry.
type Change struct {
	Kind ChangeKind `json:"kind"`
	Name string     `json:"name"`
}

// Diff lists the entries that differ between from and to, sorted by
// name. Content is compared by fingerprint when both sides carry one,
// so recompressed but identical entries are unchanged. Otherwise the
// size and stored digest are compared.
func Diff(from, to *Manifest) []Change {
	before := make(map[string]Entry, len(from.Entries))
	for _, entry := range from.Entries {
		before[entry.Name] = entry
	}

	var changes []Change
	for _, entry := range to.Entries {
		previous, ok := before[entry.Name]
		if !ok {
			changes = append(changes, Change{Kind: Added, Name: entry.Name})
			continue
		}
		delete(before, entry.Name)
		if !sameContent(previous, entry) {
			changes = append(changes, Change{Kind: Modified, Name: entry.Name})
		}
	}
	for name := range before {
		changes = append(changes, Change{Kind: Removed, Name: name})
	}
	slices.SortFunc(changes, func(a, b Change) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return changes
}

func sameContent(a, b Entry) bool {
	if a.Size != b.Size {
		return false
	}
	if a.Fingerprint != nil && b.Fingerprint != nil {
		return *a.Fingerprint == *b.Fingerprint
	}
	return a.Digest == b.Digest
}

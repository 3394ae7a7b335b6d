// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/pixelneko/nekofs/lib/nekodata"
)

// treeNode is one directory or file of the mounted tree.
type treeNode struct {
	name string

	// Files only.
	reader *nekodata.Reader
	entry  string
	size   int64

	// Directories only. Non-nil marks a directory.
	children map[string]*treeNode
}

func newDirectory(name string) *treeNode {
	return &treeNode{name: name, children: make(map[string]*treeNode)}
}

func (n *treeNode) isDirectory() bool { return n.children != nil }

// sortedChildren returns the children ordered by name.
func (n *treeNode) sortedChildren() []*treeNode {
	children := make([]*treeNode, 0, len(n.children))
	for _, child := range n.children {
		children = append(children, child)
	}
	slices.SortFunc(children, func(a, b *treeNode) int { return strings.Compare(a.name, b.name) })
	return children
}

// treeBuilder turns archive directories into a tree. Nested archives
// it opens are kept in opened so they can be closed on unmount.
type treeBuilder struct {
	expandNested bool
	logger       *slog.Logger
	opened       []*nekodata.Reader
}

func (b *treeBuilder) build(reader *nekodata.Reader) *treeNode {
	root := newDirectory("")
	b.populate(root, reader)
	return root
}

func (b *treeBuilder) populate(directory *treeNode, reader *nekodata.Reader) {
	for _, entry := range reader.Entries() {
		components, ok := splitName(entry.Name)
		if !ok {
			b.logger.Warn("skipping entry with unusable name", "name", entry.Name)
			continue
		}
		parent := directory
		for _, component := range components[:len(components)-1] {
			child, exists := parent.children[component]
			if exists && !child.isDirectory() {
				b.logger.Warn("directory hides file", "name", child.entry)
				exists = false
			}
			if !exists {
				child = newDirectory(component)
				parent.children[component] = child
			}
			parent = child
		}

		leaf := components[len(components)-1]
		if existing, exists := parent.children[leaf]; exists && existing.isDirectory() {
			b.logger.Warn("directory hides file", "name", entry.Name)
			continue
		}
		if b.expandNested && entry.Opaque() {
			if nested, err := reader.OpenNested(entry.Name); err == nil {
				b.opened = append(b.opened, nested)
				child := newDirectory(leaf)
				b.populate(child, nested)
				parent.children[leaf] = child
				continue
			}
		}
		parent.children[leaf] = &treeNode{name: leaf, reader: reader, entry: entry.Name, size: entry.OriginalSize}
	}
}

// splitName splits an entry name into path components, rejecting
// names that would escape the mount or name nothing.
func splitName(name string) ([]string, bool) {
	var components []string
	for component := range strings.SplitSeq(name, "/") {
		switch component {
		case "", ".":
			continue
		case "..":
			return nil, false
		}
		components = append(components, component)
	}
	return components, len(components) > 0
}

func (b *treeBuilder) close() {
	for _, nested := range b.opened {
		nested.Close()
	}
	b.opened = nil
}

// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package fsnode is the arena-of-indices catalog tree shared by every
// filesystem engine (internal/dos33, internal/prodos, internal/hfs,
// internal/pascal, internal/cpm). It generalizes internal/fskeleton's
// read-only, build-once slice-of-structs tree into a mutable one: nodes
// can be renamed, resized, added and removed after construction, which
// a read-write engine needs for create/delete/rename/move operations.
// Indices replace pointers for the same reason fskeleton used them: a
// flat slice survives reallocation-free growth and keeps the whole tree
// in one contiguous allocation, which matters when a catalog can run to
// tens of thousands of entries.
package fsnode

import "github.com/go-vdisk/vdisk"

// Ref is a node index into an Arena. Zero is reserved for "no node" and
// Ref 1 is always the root directory's index.
type Ref uint32

const (
	Nil  Ref = 0
	Root Ref = 1
)

// Node is one catalog entry: a file or a directory. Doubly-linked
// siblings give O(1) removal, unlike fskeleton's singly-linked list
// (which must walk to find the predecessor when unlinking).
type Node struct {
	Name string
	Kind vdisk.EntryKind

	Parent               Ref
	FirstChild, LastChild Ref
	PrevSibling, NextSibling Ref

	// Engine-private per-node state: a DOS 3.x T/S-list head, a ProDOS
	// key-block number, an HFS CNID, a Pascal directory-entry index, a
	// CP/M extent list. Opaque to fsnode itself.
	Engine any

	free bool // true once Free'd; slot is on the free list
}

// Arena owns every node in a single filesystem tree. The zero value is
// not usable; call New.
type Arena struct {
	nodes    []Node
	freeList []Ref
}

// New returns an Arena with its root directory already allocated at Root.
func New(rootName string) *Arena {
	a := &Arena{nodes: make([]Node, 2, 64)} // index 0 unused (Nil), index 1 is Root
	a.nodes[Root] = Node{Name: rootName, Kind: vdisk.KindDirectory}
	return a
}

// Get returns the node at ref. Callers must not retain the pointer
// across a Create/Free call, which may reallocate the backing slice.
func (a *Arena) Get(ref Ref) *Node {
	return &a.nodes[ref]
}

// Create allocates a new node as a child of parent, appending it to
// parent's child list, and returns its Ref. It reuses a freed slot when
// one is available.
func (a *Arena) Create(parent Ref, name string, kind vdisk.EntryKind) Ref {
	var ref Ref
	if n := len(a.freeList); n > 0 {
		ref = a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
		a.nodes[ref] = Node{}
	} else {
		a.nodes = append(a.nodes, Node{})
		ref = Ref(len(a.nodes) - 1)
	}

	node := &a.nodes[ref]
	node.Name = name
	node.Kind = kind
	node.Parent = parent

	p := &a.nodes[parent]
	if p.LastChild == Nil {
		p.FirstChild = ref
	} else {
		a.nodes[p.LastChild].NextSibling = ref
	}
	node.PrevSibling = p.LastChild
	p.LastChild = ref

	return ref
}

// Free detaches ref from its parent's child list and marks the slot
// reusable. ref must have no children.
func (a *Arena) Free(ref Ref) {
	node := &a.nodes[ref]
	if node.FirstChild != Nil {
		panic("fsnode: Free on a non-empty directory")
	}

	p := &a.nodes[node.Parent]
	if node.PrevSibling != Nil {
		a.nodes[node.PrevSibling].NextSibling = node.NextSibling
	} else {
		p.FirstChild = node.NextSibling
	}
	if node.NextSibling != Nil {
		a.nodes[node.NextSibling].PrevSibling = node.PrevSibling
	} else {
		p.LastChild = node.PrevSibling
	}

	*node = Node{free: true}
	a.freeList = append(a.freeList, ref)
}

// Move relinks ref as the last child of newParent, unlinking it from its
// current parent first. Used by the ProDOS and HFS engines' MoveFile for
// rename-across-directories.
func (a *Arena) Move(ref, newParent Ref) {
	node := &a.nodes[ref]
	oldParent := &a.nodes[node.Parent]

	if node.PrevSibling != Nil {
		a.nodes[node.PrevSibling].NextSibling = node.NextSibling
	} else {
		oldParent.FirstChild = node.NextSibling
	}
	if node.NextSibling != Nil {
		a.nodes[node.NextSibling].PrevSibling = node.PrevSibling
	} else {
		oldParent.LastChild = node.PrevSibling
	}

	node.Parent = newParent
	node.PrevSibling = Nil
	node.NextSibling = Nil

	np := &a.nodes[newParent]
	if np.LastChild == Nil {
		np.FirstChild = ref
	} else {
		a.nodes[np.LastChild].NextSibling = ref
	}
	node.PrevSibling = np.LastChild
	np.LastChild = ref
}

// Children returns every direct child of parent, in list order.
func (a *Arena) Children(parent Ref) []Ref {
	var out []Ref
	for c := a.nodes[parent].FirstChild; c != Nil; c = a.nodes[c].NextSibling {
		out = append(out, c)
	}
	return out
}

// Lookup finds a direct child of parent by name, or Nil.
func (a *Arena) Lookup(parent Ref, name string) Ref {
	for c := a.nodes[parent].FirstChild; c != Nil; c = a.nodes[c].NextSibling {
		if a.nodes[c].Name == name {
			return c
		}
	}
	return Nil
}

// Path reconstructs the slash-joined path from Root to ref.
func (a *Arena) Path(ref Ref) string {
	if ref == Root {
		return "."
	}
	var parts []string
	for r := ref; r != Root && r != Nil; r = a.nodes[r].Parent {
		parts = append(parts, a.nodes[r].Name)
	}
	out := ""
	for i := len(parts) - 1; i >= 0; i-- {
		if out != "" {
			out += "/"
		}
		out += parts[i]
	}
	return out
}

// Walk visits ref and every descendant, depth first, calling fn with
// each node's Ref. fn returning false stops descent into that node's
// children (but sibling traversal continues).
func (a *Arena) Walk(ref Ref, fn func(Ref) bool) {
	if !fn(ref) {
		return
	}
	for c := a.nodes[ref].FirstChild; c != Nil; c = a.nodes[c].NextSibling {
		a.Walk(c, fn)
	}
}

// Count returns the number of live (non-free) nodes, including Root.
func (a *Arena) Count() int {
	return len(a.nodes) - 1 - len(a.freeList)
}

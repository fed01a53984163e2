// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rawview

import "fmt"

// TreeLayout selects the node layout of a red-black tree.
type TreeLayout int

const (
	// StandardNodes stores parent, left and right indexes followed by a
	// one-byte color.
	StandardNodes TreeLayout = iota
	// CompactNodes stores the color in the most significant bit of the
	// parent index (set means black), followed by left and right.
	CompactNodes
)

func (l TreeLayout) String() string {
	switch l {
	case StandardNodes:
		return "standard"
	case CompactNodes:
		return "compact"
	default:
		return fmt.Sprintf("TreeLayout(%d)", int(l))
	}
}

// referenceSize is the size of a node holding a pointer-sized key.
func (l TreeLayout) referenceSize() uintptr {
	if l == CompactNodes {
		return 32
	}
	return 40
}

// TreeStorage selects how tree nodes are allocated.
type TreeStorage int

const (
	// PoolStorage keeps nodes in pool slots followed by the pool's free list
	// header. Live nodes may be anywhere below the high water mark.
	PoolStorage TreeStorage = iota
	// ContiguousStorage keeps the live nodes packed in [0, size).
	ContiguousStorage
)

func (s TreeStorage) String() string {
	switch s {
	case PoolStorage:
		return "pool"
	case ContiguousStorage:
		return "contiguous"
	default:
		return fmt.Sprintf("TreeStorage(%d)", int(s))
	}
}

const colorBit = 1 << 63

// TreeNodeSize returns the size of one node.
func TreeNodeSize(keySize uintptr, layout TreeLayout) uintptr {
	return alignUp(layout.referenceSize()-indexSize+keySize, indexSize)
}

// TreeSize returns the size of a tree image: the node storage followed by
// {root uint64, size uint64}.
func TreeSize(keySize uintptr, capacity int, layout TreeLayout, storage TreeStorage) uintptr {
	return treeHeader(keySize, capacity, layout, storage) + 2*indexSize
}

func treeHeader(keySize uintptr, capacity int, layout TreeLayout, storage TreeStorage) uintptr {
	nodes := uintptr(capacity) * TreeNodeSize(keySize, layout)
	if storage == PoolStorage {
		// Node slots are at least indexSize and 8 aligned already.
		nodes += 2 * indexSize
	}
	return nodes
}

// TreeNode is a decoded tree node. Parent, Left and Right are Cap() when
// absent.
type TreeNode struct {
	Key    []byte
	Parent uint64
	Left   uint64
	Right  uint64
	Black  bool
}

// TreeView reads the image of a red-black tree map or set. Iteration is an
// in-order walk, i.e. key order. The walk only follows links, so a view can
// read trees of either storage kind.
type TreeView struct {
	b        []byte
	keySize  uintptr
	nodeSize uintptr
	fields   uintptr
	capacity uint64
	header   uintptr
	layout   TreeLayout
	storage  TreeStorage
}

// NewTreeView returns a view of the tree image at the start of b. The key
// alignment must not exceed 8.
func NewTreeView(
	b []byte, keySize, keyAlign uintptr, capacity int, layout TreeLayout, storage TreeStorage,
) (TreeView, error) {
	if err := checkAlign("key", keyAlign); err != nil {
		return TreeView{}, err
	}
	if keyAlign > indexSize {
		return TreeView{}, fmt.Errorf("%w: key alignment %d exceeds %d", ErrInvalidLayout, keyAlign, indexSize)
	}
	if layout != StandardNodes && layout != CompactNodes {
		return TreeView{}, fmt.Errorf("%w: %s", ErrInvalidLayout, layout)
	}
	if storage != PoolStorage && storage != ContiguousStorage {
		return TreeView{}, fmt.Errorf("%w: %s", ErrInvalidLayout, storage)
	}
	if err := checkCapacity(capacity); err != nil {
		return TreeView{}, err
	}
	size := TreeSize(keySize, capacity, layout, storage)
	if err := checkSize(b, size); err != nil {
		return TreeView{}, fmt.Errorf("tree: %w", err)
	}
	return TreeView{
		b:        b[:size],
		keySize:  keySize,
		nodeSize: TreeNodeSize(keySize, layout),
		fields:   alignUp(keySize, indexSize),
		capacity: uint64(capacity),
		header:   treeHeader(keySize, capacity, layout, storage),
		layout:   layout,
		storage:  storage,
	}, nil
}

// Root returns the index of the root node, or Cap() for an empty tree.
func (v TreeView) Root() uint64 {
	if word(v.b, v.header+indexSize) == 0 {
		// A zero image records root 0 with size 0.
		return v.capacity
	}
	return word(v.b, v.header)
}

// Len returns the recorded number of nodes.
func (v TreeView) Len() int {
	return int(min(word(v.b, v.header+indexSize), v.capacity+1))
}

// Cap returns the capacity, which is also the null index.
func (v TreeView) Cap() int {
	return int(v.capacity)
}

// Node decodes node i.
func (v TreeView) Node(i uint64) (TreeNode, error) {
	if i >= v.capacity {
		return TreeNode{}, fmt.Errorf("%w: tree index %d beyond capacity %d", ErrCorrupt, i, v.capacity)
	}
	if v.storage == ContiguousStorage && i >= word(v.b, v.header+indexSize) {
		return TreeNode{}, fmt.Errorf("%w: tree index %d beyond contiguous size", ErrCorrupt, i)
	}
	off := uintptr(i) * v.nodeSize
	f := off + v.fields
	n := TreeNode{
		Key:    v.b[off : off+v.keySize : off+v.keySize],
		Parent: word(v.b, f),
		Left:   word(v.b, f+indexSize),
		Right:  word(v.b, f+2*indexSize),
	}
	switch v.layout {
	case CompactNodes:
		n.Black = n.Parent&colorBit != 0
		n.Parent &^= colorBit
	default:
		n.Black = v.b[f+3*indexSize] != 0
	}
	return n, nil
}

// Iter returns an iterator over the nodes in key order.
func (v TreeView) Iter() Iterator {
	return Iterator{src: v, pos: v.capacity}
}

// All calls yield for each node index and key in key order.
func (v TreeView) All(yield func(index uint64, key []byte) bool) {
	drain(v.Iter(), yield)
}

// leftmost descends left links from i. The descent is bounded by the
// capacity so that a cyclic image cannot hang it.
func (v TreeView) leftmost(i uint64) (uint64, error) {
	for steps := uint64(0); ; steps++ {
		n, err := v.Node(i)
		if err != nil {
			return 0, err
		}
		if n.Left == v.capacity {
			return i, nil
		}
		if steps >= v.capacity {
			return 0, fmt.Errorf("%w: tree left spine longer than capacity", ErrCorrupt)
		}
		i = n.Left
	}
}

// successor returns the in-order successor of i, or Cap().
func (v TreeView) successor(i uint64) (uint64, error) {
	n, err := v.Node(i)
	if err != nil {
		return 0, err
	}
	if n.Right != v.capacity {
		return v.leftmost(n.Right)
	}
	for steps := uint64(0); n.Parent != v.capacity; steps++ {
		if steps >= v.capacity {
			return 0, fmt.Errorf("%w: tree parent chain longer than capacity", ErrCorrupt)
		}
		p, err := v.Node(n.Parent)
		if err != nil {
			return 0, err
		}
		if p.Right != i {
			return n.Parent, nil
		}
		i, n = n.Parent, p
	}
	return v.capacity, nil
}

func (v TreeView) advance(it *Iterator) bool {
	if it.n >= v.Len() {
		return false
	}
	if it.n >= int(v.capacity) {
		return it.corrupt("tree size %d exceeds capacity %d", word(v.b, v.header+indexSize), v.capacity)
	}
	var next uint64
	var err error
	if it.n == 0 {
		next, err = v.leftmost(v.Root())
	} else {
		next, err = v.successor(it.pos)
	}
	if err != nil {
		it.err = err
		return false
	}
	if next == v.capacity {
		return it.corrupt("tree walk ends after %d of %d nodes", it.n, v.Len())
	}
	it.pos = next
	n, _ := v.Node(next)
	return it.yield(next, n.Key)
}

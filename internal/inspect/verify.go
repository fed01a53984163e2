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

package inspect

import (
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring"
	"github.com/cockroachdb/fixed/rawview"
)

// Problem is a structural defect found by Verify.
type Problem struct {
	Index   uint64 `json:"index"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	return fmt.Sprintf("slot %d: %s", p.Index, p.Message)
}

type problems []Problem

func (ps *problems) add(index uint64, format string, args ...interface{}) {
	*ps = append(*ps, Problem{Index: index, Message: fmt.Sprintf(format, args...)})
}

// Verify walks the links of the image described by l and reports every
// index which is out of range or reached twice, back links which disagree
// with forward links, and a walk length which differs from the recorded
// size. Trees are also checked for a black root, red nodes with red
// parents and unequal black heights. An error is returned only when the
// layout itself is unusable.
func Verify(l Layout, b []byte) ([]Problem, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if l.Capacity > math.MaxUint32 {
		return nil, fmt.Errorf("%w: capacity %d too large to verify", ErrInvalidDescriptor, l.Capacity)
	}
	b, err := region(l, b)
	if err != nil {
		return nil, err
	}

	switch l.Kind {
	case KindList, KindSet:
		v, err := rawview.NewListView(b, uintptr(l.Element.Size), uintptr(l.Element.Align), l.Capacity)
		if err != nil {
			return nil, err
		}
		return verifyList(v), nil
	case KindMap:
		p, err := rawview.NewPairView(
			uintptr(l.Key.Size), uintptr(l.Key.Align), uintptr(l.Value.Size), uintptr(l.Value.Align))
		if err != nil {
			return nil, err
		}
		v, err := rawview.NewListView(b, p.Size, p.Align, l.Capacity)
		if err != nil {
			return nil, err
		}
		return verifyList(v), nil
	case KindDeque:
		v, err := rawview.NewCircularView(
			b, uintptr(l.Element.Size), uintptr(l.Element.Align), l.Capacity)
		if err != nil {
			return nil, err
		}
		var ps problems
		if v.Len() > v.Cap() {
			ps.add(v.Physical(0), "recorded length exceeds capacity %d", v.Cap())
		}
		return ps, nil
	default:
		v, err := treeView(l, b)
		if err != nil {
			return nil, err
		}
		return verifyTree(v), nil
	}
}

func verifyList(v rawview.ListView) []Problem {
	var ps problems
	null := uint64(v.Cap())
	visited := roaring.New()
	cur, n := null, 0
	// Every step adds a new index below null to visited, so the walk ends
	// after at most null steps.
	for {
		_, next, _ := v.Links(cur)
		if next == null {
			break
		}
		if next > null {
			ps.add(cur, "next link %d out of range", next)
			break
		}
		if !visited.CheckedAdd(uint32(next)) {
			ps.add(next, "reached twice, the chain has a cycle")
			break
		}
		if prev, _, _ := v.Links(next); prev != cur {
			ps.add(next, "prev link %d, expected %d", prev, cur)
		}
		cur = next
		n++
	}
	if len(ps) == 0 {
		if last, _, _ := v.Links(null); last != cur {
			ps.add(null, "sentinel prev link %d, expected %d", last, cur)
		}
	}
	if n != v.Len() {
		ps.add(null, "chain holds %d elements, recorded size %d", n, v.Len())
	}
	for i := uint64(0); i < null; i++ {
		if v.Exists(i) && !visited.Contains(uint32(i)) {
			ps.add(i, "live slot not reachable from the sentinel")
		}
	}
	return ps
}

func verifyTree(v rawview.TreeView) []Problem {
	var ps problems
	null := uint64(v.Cap())
	root := v.Root()
	if root == null {
		if v.Len() != 0 {
			ps.add(null, "no root, recorded size %d", v.Len())
		}
		return ps
	}
	n, err := v.Node(root)
	if err != nil {
		ps.add(root, "root: %v", err)
		return ps
	}
	if n.Parent != null {
		ps.add(root, "root has parent %d", n.Parent)
	}
	if !n.Black {
		ps.add(root, "root is red")
	}

	// Each frame carries the number of black nodes from the root down to
	// and including its node. Every path to a missing child must count
	// the same number.
	type frame struct {
		i     uint64
		black int
	}
	blackOf := func(n rawview.TreeNode) int {
		if n.Black {
			return 1
		}
		return 0
	}
	var heights problems
	height := -1
	visited := roaring.New()
	visited.Add(uint32(root))
	stack := []frame{{root, blackOf(n)}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, err := v.Node(f.i)
		if err != nil {
			ps.add(f.i, "%v", err)
			continue
		}
		if n.Left == null || n.Right == null {
			if height < 0 {
				height = f.black
			} else if f.black != height {
				heights.add(f.i, "black height %d, expected %d", f.black, height)
			}
		}
		for _, c := range [2]uint64{n.Left, n.Right} {
			if c == null {
				continue
			}
			if c > null {
				ps.add(f.i, "child link %d out of range", c)
				continue
			}
			if !visited.CheckedAdd(uint32(c)) {
				ps.add(c, "reached twice, the tree has a cycle")
				continue
			}
			child, err := v.Node(c)
			if err != nil {
				ps.add(c, "%v", err)
				continue
			}
			if child.Parent != f.i {
				ps.add(c, "parent link %d, expected %d", child.Parent, f.i)
			}
			if !n.Black && !child.Black {
				ps.add(c, "red node has red parent %d", f.i)
			}
			stack = append(stack, frame{c, f.black + blackOf(child)})
		}
	}
	// Black heights are only meaningful once the links are sound.
	if len(ps) == 0 {
		ps = append(ps, heights...)
	}
	if got := visited.GetCardinality(); got != uint64(v.Len()) {
		ps.add(null, "tree holds %d nodes, recorded size %d", got, v.Len())
	}
	return ps
}

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

package fixed

import (
	"math/rand"
	"slices"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func (l *List[T]) values() []T {
	var r []T
	l.All(func(_ int, v T) bool {
		r = append(r, v)
		return true
	})
	return r
}

func TestPoolLayout(t *testing.T) {
	testCases := []struct {
		elemSize, elemAlign uintptr
		slotSize, slotAlign uintptr
	}{
		{1, 1, 8, 8},
		{4, 4, 8, 8},
		{8, 8, 8, 8},
		{12, 4, 16, 8},
		{16, 8, 16, 8},
		{0, 1, 8, 8},
	}
	for _, c := range testCases {
		slotSize, slotAlign, size := poolLayout(c.elemSize, c.elemAlign, 5)
		require.Equal(t, c.slotSize, slotSize, "%+v", c)
		require.Equal(t, c.slotAlign, slotAlign, "%+v", c)
		require.Equal(t, 5*c.slotSize+16, size, "%+v", c)
	}
}

func TestPoolFreeList(t *testing.T) {
	_, _, size := poolLayout(8, 8, 4)
	p := makePool(newArena(defaultAllocator{}, size), 8, 8, 4)
	for i := uintptr(0); i < 4; i++ {
		require.Equal(t, i, p.emplace())
	}
	require.True(t, p.full())
	p.delete(1)
	p.delete(3)
	require.False(t, p.full())
	require.Equal(t, 2, p.freeCount())
	// The free list is LIFO.
	require.EqualValues(t, 3, p.emplace())
	require.EqualValues(t, 1, p.emplace())
	require.True(t, p.full())
}

func TestListBasic(t *testing.T) {
	l := NewList[int32](4)
	require.Equal(t, 0, l.Len())
	require.Equal(t, l.Null(), l.Front())
	require.Equal(t, l.Null(), l.Back())

	b := l.PushBack(2)
	a := l.PushFront(1)
	d := l.PushBack(4)
	c := l.InsertBefore(d, 3)
	require.Equal(t, []int32{1, 2, 3, 4}, l.values())
	require.True(t, l.Full())
	require.Equal(t, a, l.Front())
	require.Equal(t, d, l.Back())
	require.Equal(t, c, l.Next(b))
	require.Equal(t, b, l.Prev(c))
	require.Equal(t, l.Front(), l.Next(l.Null()))
	require.Equal(t, l.Back(), l.Prev(l.Null()))

	require.Equal(t, c, l.Delete(b))
	require.False(t, l.Exists(b))
	require.Equal(t, []int32{1, 3, 4}, l.values())

	// The freed slot is reused.
	e := l.InsertAfter(a, 5)
	require.Equal(t, b, e)
	require.Equal(t, []int32{1, 5, 3, 4}, l.values())
	*l.At(e) = 6
	require.Equal(t, []int32{1, 6, 3, 4}, l.values())

	require.Equal(t, l.Null(), l.DeleteRange(l.Next(a), l.Null()))
	require.Equal(t, []int32{1}, l.values())
	l.Clear()
	require.Equal(t, 0, l.Len())
	require.Nil(t, l.values())
}

func TestListIndexStability(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	l := NewList[uint64](64)
	live := make(map[int]uint64)
	var order []int
	for i := 0; i < 5000; i++ {
		if len(live) > 0 && (l.Full() || rng.Intn(2) == 0) {
			j := rng.Intn(len(order))
			idx := order[j]
			l.Delete(idx)
			delete(live, idx)
			order = append(order[:j], order[j+1:]...)
		} else {
			v := rng.Uint64()
			var idx int
			if len(order) > 0 && rng.Intn(2) == 0 {
				// Insert before a random element.
				j := rng.Intn(len(order))
				idx = l.InsertBefore(order[j], v)
				order = append(order[:j], append([]int{idx}, order[j:]...)...)
			} else {
				idx = l.PushBack(v)
				order = append(order, idx)
			}
			live[idx] = v
		}
		require.Equal(t, len(live), l.Len())
		for idx, v := range live {
			require.True(t, l.Exists(idx))
			require.Equal(t, v, *l.At(idx))
		}
		var got []int
		l.All(func(i int, _ uint64) bool {
			got = append(got, i)
			return true
		})
		require.True(t, slices.Equal(order, got), "%v != %v", order, got)
	}
}

func TestListDeleteRangeUnreachable(t *testing.T) {
	p := &recordingPolicy{}
	l := NewList[int](4, WithPolicy(p))
	a := l.PushBack(1)
	b := l.PushBack(2)
	l.PushBack(3)
	// a is not reachable from b.
	require.Equal(t, l.Null(), l.DeleteRange(b, a))
	require.Len(t, p.violations, 1)
	require.Equal(t, InvalidIndex, p.violations[0].Kind)
	// A rejected range deletes nothing.
	require.Equal(t, []int{1, 2, 3}, l.values())
	require.Equal(t, 3, l.Len())

	require.Equal(t, b, l.DeleteRange(a, b))
	require.Equal(t, []int{2, 3}, l.values())
}

func TestListSelfCopy(t *testing.T) {
	p := &recordingPolicy{}
	l := NewList[int](4, WithPolicy(p))
	l.PushBack(1)
	l.PushBack(2)
	l.PushFront(0)
	before := slices.Clone(l.Bytes())

	l.CopyFrom(l)
	require.Equal(t, before, l.Bytes())
	l.MoveFrom(l)
	require.Equal(t, before, l.Bytes())
	require.Equal(t, []int{0, 1, 2}, l.values())
	require.Empty(t, p.violations)
}

func TestListCopy(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	l := NewList[uint64](32)
	var idxs []int
	for i := 0; i < 200; i++ {
		if len(idxs) > 0 && (l.Full() || rng.Intn(3) == 0) {
			j := rng.Intn(len(idxs))
			l.Delete(idxs[j])
			idxs = append(idxs[:j], idxs[j+1:]...)
		} else {
			idxs = append(idxs, l.PushFront(rng.Uint64()))
		}
	}
	for l.Full() {
		front := l.Front()
		l.Delete(front)
		idxs = slices.DeleteFunc(idxs, func(i int) bool { return i == front })
	}

	c := l.Clone()
	require.Equal(t, l.Bytes(), c.Bytes())
	// The chains are identical, so every index refers to the same element.
	chain, sizeOff, _ := listLayoutOf[uint64](32)
	require.Equal(t, l.Bytes()[chain:sizeOff], c.Bytes()[chain:sizeOff])
	for _, i := range idxs {
		require.Equal(t, *l.At(i), *c.At(i))
	}

	// Copying over a populated list replaces its free list as well.
	d := NewList[uint64](32)
	for i := 0; i < 10; i++ {
		d.PushBack(uint64(i))
	}
	d.CopyFrom(l)
	require.Equal(t, l.Bytes(), d.Bytes())
	require.Equal(t, l.PushBack(7), d.PushBack(7))

	e := NewList[uint64](32)
	e.MoveFrom(d)
	require.Equal(t, 0, d.Len())
	require.Equal(t, l.values(), e.values())

	require.Panics(t, func() {
		NewList[uint64](31).CopyFrom(l)
	})
}

func TestListLayout(t *testing.T) {
	type elem struct {
		a uint16
		b [5]byte
	}
	l := NewList[elem](3)
	require.Equal(t, uintptr(7), unsafe.Sizeof(elem{}))
	// 3 slots of 8 bytes, the pool header, 4 chain entries and the size.
	require.Len(t, l.Bytes(), 3*8+16+4*16+8)

	i := l.PushBack(elem{a: 0x102, b: [5]byte{3, 4, 5, 6, 7}})
	require.Equal(t, 0, i)
	require.Equal(t, []byte{3, 4, 5, 6, 7}, l.Bytes()[2:7])
}

func TestListCapacityExceeded(t *testing.T) {
	l := NewList[int](1)
	l.PushBack(1)
	defer func() {
		err, ok := recover().(*ViolationError)
		require.True(t, ok)
		require.Regexp(t, `^fixed: capacity exceeded: attempted=2 capacity=1 at list_test\.go:\d+$`, err.Error())
	}()
	l.PushBack(2)
}

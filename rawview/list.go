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

// ListSize returns the size of the image of a pool-backed list:
//
//	slots     [capacity]slot
//	freeHead  uint64
//	highWater uint64
//	chain     [capacity+1]{prev, next uint64}
//	size      uint64
//
// rounded up to the slot alignment.
func ListSize(elemSize, elemAlign uintptr, capacity int) uintptr {
	_, _, _, size := listLayout(elemSize, elemAlign, capacity)
	return size
}

func listLayout(
	elemSize, elemAlign uintptr, capacity int,
) (slotSize, chain, sizeOff, size uintptr) {
	slotSize, slotAlign, poolSize := poolLayout(elemSize, elemAlign, capacity)
	chain = poolSize
	sizeOff = chain + uintptr(capacity+1)*2*indexSize
	return slotSize, chain, sizeOff, alignUp(sizeOff+indexSize, slotAlign)
}

// ListView reads the image of a List, or of the entry list at the start of a
// Map or Set image. Iteration follows the chain from the front.
type ListView struct {
	b        []byte
	elemSize uintptr
	slotSize uintptr
	capacity uint64
	chain    uintptr
	sizeOff  uintptr
}

// NewListView returns a view of the list image at the start of b.
func NewListView(b []byte, elemSize, elemAlign uintptr, capacity int) (ListView, error) {
	if err := checkAlign("element", elemAlign); err != nil {
		return ListView{}, err
	}
	if err := checkCapacity(capacity); err != nil {
		return ListView{}, err
	}
	slotSize, chain, sizeOff, size := listLayout(elemSize, elemAlign, capacity)
	if err := checkSize(b, size); err != nil {
		return ListView{}, fmt.Errorf("list: %w", err)
	}
	return ListView{
		b:        b[:size],
		elemSize: elemSize,
		slotSize: slotSize,
		capacity: uint64(capacity),
		chain:    chain,
		sizeOff:  sizeOff,
	}, nil
}

// Len returns the recorded number of elements.
func (v ListView) Len() int {
	return int(min(word(v.b, v.sizeOff), v.capacity+1))
}

// Cap returns the capacity, which is also the null index.
func (v ListView) Cap() int {
	return int(v.capacity)
}

// Size returns the size of the image.
func (v ListView) Size() uintptr {
	return uintptr(len(v.b))
}

func (v ListView) highWater() uint64 {
	return word(v.b, v.chain-indexSize)
}

// Links returns the chain entry of slot i (i == Cap() is the sentinel).
func (v ListView) Links(i uint64) (prev, next uint64, err error) {
	if i > v.capacity {
		return 0, 0, fmt.Errorf("%w: list index %d beyond capacity %d", ErrCorrupt, i, v.capacity)
	}
	off := v.chain + uintptr(i)*2*indexSize
	prev, next = word(v.b, off), word(v.b, off+indexSize)
	// The zero image links the sentinel to slot 0 rather than to itself.
	if i == v.capacity && word(v.b, v.sizeOff) == 0 {
		prev, next = v.capacity, v.capacity
	}
	return prev, next, nil
}

// Exists reports whether slot i holds a live element.
func (v ListView) Exists(i uint64) bool {
	if i >= v.capacity || i >= v.highWater() {
		return false
	}
	prev, _, _ := v.Links(i)
	return prev != freeLink
}

// At returns the element bytes of slot i.
func (v ListView) At(i uint64) []byte {
	off := uintptr(i) * v.slotSize
	return v.b[off : off+v.elemSize : off+v.elemSize]
}

// Iter returns an iterator over the elements in list order.
func (v ListView) Iter() Iterator {
	return Iterator{src: v, pos: v.capacity}
}

// All calls yield for each slot index and element in list order. It stops
// silently at the first sign of corruption; use Iter to observe errors.
func (v ListView) All(yield func(index uint64, span []byte) bool) {
	drain(v.Iter(), yield)
}

func (v ListView) advance(it *Iterator) bool {
	if it.n >= v.Len() {
		return false
	}
	if it.n >= int(v.capacity) {
		return it.corrupt("list size %d exceeds capacity %d", word(v.b, v.sizeOff), v.capacity)
	}
	_, next, err := v.Links(it.pos)
	if err != nil {
		return it.corrupt("list chain leaves the image at element %d", it.n)
	}
	if next >= v.capacity {
		return it.corrupt("list chain ends after %d of %d elements", it.n, v.Len())
	}
	if prev, _, _ := v.Links(next); prev != it.pos {
		return it.corrupt("list slot %d: prev %d, expected %d", next, prev, it.pos)
	}
	it.pos = next
	return it.yield(next, v.At(next))
}

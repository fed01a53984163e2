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

import "unsafe"

// pool is a fixed array of slots at the start of an arena. Each slot either
// holds a live element or is linked into a free list. Slots are never
// moved, so the index of a live element is stable until it is deleted.
//
// The image is:
//
//	slots     [capacity]slot    // slotSize bytes each
//	freeHead  uint64            // 0: empty free list, else index+1
//	highWater uint64            // slots >= highWater have never been used
//
// A free slot holds the encoded link to the next free slot in its first 8
// bytes, which is why a slot is at least indexSize bytes. An all-zero image
// is a valid empty pool.
type pool struct {
	mem      arena
	capacity uintptr
	slotSize uintptr
	header   uintptr
}

// poolLayout returns the slot stride, slot alignment and the total size of
// a pool image holding capacity elements.
func poolLayout(elemSize, elemAlign, capacity uintptr) (slotSize, slotAlign, size uintptr) {
	slotAlign = max(elemAlign, indexSize)
	slotSize = alignUp(max(elemSize, indexSize), slotAlign)
	return slotSize, slotAlign, capacity*slotSize + 2*indexSize
}

func makePool(mem arena, elemSize, elemAlign, capacity uintptr) pool {
	slotSize, _, _ := poolLayout(elemSize, elemAlign, capacity)
	return pool{
		mem:      mem,
		capacity: capacity,
		slotSize: slotSize,
		header:   capacity * slotSize,
	}
}

func (p *pool) freeHead() *uint64 {
	return p.mem.word(p.header)
}

func (p *pool) highWater() *uint64 {
	return p.mem.word(p.header + indexSize)
}

// at returns the slot at index i.
func (p *pool) at(i uintptr) unsafe.Pointer {
	return p.mem.at(i * p.slotSize)
}

func (p *pool) full() bool {
	return *p.freeHead() == 0 && *p.highWater() == uint64(p.capacity)
}

// emplace claims a slot and returns its index. The slot is zeroed. The pool
// must not be full.
func (p *pool) emplace() uintptr {
	var i uintptr
	if head := *p.freeHead(); head != 0 {
		i = uintptr(head - 1)
		*p.freeHead() = *(*uint64)(p.at(i))
	} else {
		i = uintptr(*p.highWater())
		*p.highWater()++
	}
	p.mem.zero(i*p.slotSize, p.slotSize)
	return i
}

// delete returns slot i to the free list.
func (p *pool) delete(i uintptr) {
	p.mem.zero(i*p.slotSize, p.slotSize)
	*(*uint64)(p.at(i)) = *p.freeHead()
	*p.freeHead() = uint64(i) + 1
}

// used reports whether slot i has ever been handed out. It does not tell
// whether the slot is currently free; the owner of the pool tracks that.
func (p *pool) used(i uintptr) bool {
	return uint64(i) < *p.highWater()
}

// copyFreeListFrom makes the free list of p identical to the free list of
// o: the same head, the same high water mark and the same links stored in
// the same free slots. Slots that are live in o are left untouched.
func (p *pool) copyFreeListFrom(o *pool) {
	*p.freeHead() = *o.freeHead()
	*p.highWater() = *o.highWater()
	for head := *o.freeHead(); head != 0; {
		i := uintptr(head - 1)
		head = *(*uint64)(o.at(i))
		*(*uint64)(p.at(i)) = head
	}
}

// freeCount walks the free list. Used for invariant checking.
func (p *pool) freeCount() int {
	var n int
	for head := *p.freeHead(); head != 0 && n <= int(p.capacity); n++ {
		head = *(*uint64)(p.at(uintptr(head - 1)))
	}
	return n
}

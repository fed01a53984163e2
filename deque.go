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
	"fmt"
	"math"
	"unsafe"
)

// Deque is a fixed-capacity double-ended queue backed by a circular buffer.
// The image is the element array followed by two words:
//
//	elements [capacity]T
//	start    uint64   // aligned to 8
//	distance uint64   // number of elements
//
// start is an unbounded counter. Logical element i lives at physical index
// (start mod capacity + i) mod capacity. start is rebased, preserving its
// residue, when it would wrap around.
//
// The element type must be pointer free. A Deque is NOT goroutine-safe.
type Deque[T any] struct {
	allocator Allocator
	policy    CheckingPolicy
	mem       arena
	elems     unsafeSlice[T]
	capacity  uint64
	header    uintptr
}

// dequeLayout returns the offset of the {start, distance} record and the
// total size of a deque image.
func dequeLayout(elemSize, capacity uintptr) (header, size uintptr) {
	header = alignUp(capacity*elemSize, indexSize)
	return header, header + 2*indexSize
}

// NewDeque constructs a Deque holding at most capacity elements.
func NewDeque[T any](capacity int, options ...option) *Deque[T] {
	c := makeConfig(options)
	if capacity < 0 {
		violateConfig(c.policy, capacity, "negative capacity")
		capacity = 0
	}
	if !pointerFree(typeOf[T]()) {
		violateConfig(c.policy, capacity, "element type %s contains pointers", typeOf[T]())
		capacity = 0
	}
	var t T
	header, size := dequeLayout(unsafe.Sizeof(t), uintptr(capacity))
	d := &Deque[T]{
		allocator: c.allocator,
		policy:    c.policy,
		mem:       newArena(c.allocator, size),
		capacity:  uint64(capacity),
		header:    header,
	}
	d.elems = unsafeSlice[T]{ptr: d.mem.ptr}
	start := uint64(defaultStartIndex)
	if c.haveStartIndex {
		start = c.startIndex
	}
	*d.start() = start
	return d
}

// Close releases the image back to the configured allocator.
func (d *Deque[T]) Close() {
	if d.allocator != nil {
		d.allocator.Free(d.mem.words)
		d.allocator = nil
	}
}

func (d *Deque[T]) start() *uint64 {
	return d.mem.word(d.header)
}

func (d *Deque[T]) distance() *uint64 {
	return d.mem.word(d.header + indexSize)
}

// physical maps logical index i (< capacity) to a slot without overflowing.
func (d *Deque[T]) physical(i uint64) uintptr {
	return uintptr((*d.start()%d.capacity + i) % d.capacity)
}

func (d *Deque[T]) at(i uint64) *T {
	return d.elems.At(d.physical(i))
}

// Len returns the number of elements.
func (d *Deque[T]) Len() int {
	return int(*d.distance())
}

// Cap returns the capacity.
func (d *Deque[T]) Cap() int {
	return int(d.capacity)
}

// Full reports whether Len() == Cap().
func (d *Deque[T]) Full() bool {
	return *d.distance() == d.capacity
}

// PushBack appends v.
func (d *Deque[T]) PushBack(v T) {
	if d.Full() {
		violate(d.policy, CapacityExceeded, d.Len()+1, d.Cap())
		return
	}
	*d.at(*d.distance()) = v
	*d.distance()++
	d.checkInvariants()
}

// PushFront prepends v.
func (d *Deque[T]) PushFront(v T) {
	if d.Full() {
		violate(d.policy, CapacityExceeded, d.Len()+1, d.Cap())
		return
	}
	if s := d.start(); *s == 0 {
		*s = defaultStartIndex - defaultStartIndex%d.capacity
	}
	*d.start()--
	*d.at(0) = v
	*d.distance()++
	d.checkInvariants()
}

// PopFront removes and returns the first element.
func (d *Deque[T]) PopFront() (v T) {
	if *d.distance() == 0 {
		violate(d.policy, InvalidIndex, 0, d.Cap())
		return v
	}
	p := d.at(0)
	v, *p = *p, v
	if s := d.start(); *s == math.MaxUint64 {
		*s %= d.capacity
	}
	*d.start()++
	*d.distance()--
	d.checkInvariants()
	return v
}

// PopBack removes and returns the last element.
func (d *Deque[T]) PopBack() (v T) {
	if *d.distance() == 0 {
		violate(d.policy, InvalidIndex, 0, d.Cap())
		return v
	}
	*d.distance()--
	p := d.at(*d.distance())
	v, *p = *p, v
	d.checkInvariants()
	return v
}

// Front returns a pointer to the first element.
func (d *Deque[T]) Front() *T {
	return d.At(0)
}

// Back returns a pointer to the last element.
func (d *Deque[T]) Back() *T {
	return d.At(d.Len() - 1)
}

// At returns a pointer to the logical element i, counted from the front.
func (d *Deque[T]) At(i int) *T {
	if i < 0 || uint64(i) >= *d.distance() {
		violate(d.policy, InvalidIndex, i, d.Cap())
		return nil
	}
	return d.at(uint64(i))
}

// StartIndex returns the current start counter.
func (d *Deque[T]) StartIndex() uint64 {
	return *d.start()
}

// All calls yield for each element from front to back until yield returns
// false.
func (d *Deque[T]) All(yield func(i int, v T) bool) {
	for i, n := uint64(0), *d.distance(); i < n; i++ {
		if !yield(int(i), *d.at(i)) {
			return
		}
	}
}

// Clear removes every element. The start counter is kept.
func (d *Deque[T]) Clear() {
	d.mem.zero(0, d.header)
	*d.distance() = 0
}

// CopyFrom replaces the contents of d with a copy of src, which must have
// the same capacity. Elements keep their physical slots. Copying a deque
// onto itself does nothing.
func (d *Deque[T]) CopyFrom(src *Deque[T]) {
	if src == d {
		return
	}
	if src.capacity != d.capacity {
		violate(d.policy, CapacityExceeded, src.Len(), d.Cap())
		return
	}
	d.mem.copyRange(src.mem, 0, d.mem.size)
	d.checkInvariants()
}

// MoveFrom is CopyFrom followed by src.Clear(). Moving a deque onto itself
// does nothing.
func (d *Deque[T]) MoveFrom(src *Deque[T]) {
	if src == d {
		return
	}
	if src.capacity != d.capacity {
		violate(d.policy, CapacityExceeded, src.Len(), d.Cap())
		return
	}
	d.CopyFrom(src)
	src.Clear()
}

// Clone returns a copy of d using the same allocator and checking policy.
func (d *Deque[T]) Clone() *Deque[T] {
	r := NewDeque[T](d.Cap(), WithAllocator(d.allocator), WithPolicy(d.policy))
	r.CopyFrom(d)
	return r
}

// Bytes returns the image of the deque. The slice aliases the deque and is
// only valid until the deque is closed.
func (d *Deque[T]) Bytes() []byte {
	return d.mem.bytes()
}

func (d *Deque[T]) checkInvariants() {
	if invariants {
		if *d.distance() > d.capacity {
			panic(fmt.Sprintf("invariant failed: distance %d exceeds capacity %d", *d.distance(), d.capacity))
		}
	}
}

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

// CircularSize returns the size of a circular buffer image:
//
//	elements [capacity]elem
//	start    uint64   // at the next multiple of 8
//	distance uint64
func CircularSize(elemSize uintptr, capacity int) uintptr {
	return circularHeader(elemSize, capacity) + 2*indexSize
}

func circularHeader(elemSize uintptr, capacity int) uintptr {
	return alignUp(uintptr(capacity)*elemSize, indexSize)
}

// CircularView reads the image of a circular buffer (Deque). Logical
// element i lives at physical index (start mod capacity + i) mod capacity.
type CircularView struct {
	b        []byte
	elemSize uintptr
	capacity uint64
	header   uintptr
}

// NewCircularView returns a view of the circular buffer image at the start
// of b. elemSize must be a multiple of elemAlign.
func NewCircularView(b []byte, elemSize, elemAlign uintptr, capacity int) (CircularView, error) {
	if err := checkAlign("element", elemAlign); err != nil {
		return CircularView{}, err
	}
	if err := checkCapacity(capacity); err != nil {
		return CircularView{}, err
	}
	if elemSize%elemAlign != 0 {
		return CircularView{}, fmt.Errorf("%w: element size %d is not a multiple of alignment %d",
			ErrInvalidLayout, elemSize, elemAlign)
	}
	size := CircularSize(elemSize, capacity)
	if err := checkSize(b, size); err != nil {
		return CircularView{}, fmt.Errorf("circular: %w", err)
	}
	return CircularView{
		b:        b[:size],
		elemSize: elemSize,
		capacity: uint64(capacity),
		header:   circularHeader(elemSize, capacity),
	}, nil
}

// Start returns the recorded start counter.
func (v CircularView) Start() uint64 {
	return word(v.b, v.header)
}

// Len returns the recorded number of elements.
func (v CircularView) Len() int {
	return int(min(word(v.b, v.header+indexSize), v.capacity+1))
}

// Cap returns the capacity.
func (v CircularView) Cap() int {
	return int(v.capacity)
}

// Physical maps a logical index to a physical slot.
func (v CircularView) Physical(i uint64) uint64 {
	return (v.Start()%v.capacity + i%v.capacity) % v.capacity
}

// At returns the bytes of physical slot i.
func (v CircularView) At(i uint64) []byte {
	off := uintptr(i) * v.elemSize
	return v.b[off : off+v.elemSize : off+v.elemSize]
}

// Iter returns an iterator from the front to the back.
func (v CircularView) Iter() Iterator {
	return Iterator{src: v}
}

// All calls yield for each physical index and element from front to back.
func (v CircularView) All(yield func(index uint64, span []byte) bool) {
	drain(v.Iter(), yield)
}

func (v CircularView) advance(it *Iterator) bool {
	if it.n >= v.Len() {
		return false
	}
	if it.pos >= v.capacity {
		return it.corrupt("circular distance %d exceeds capacity %d",
			word(v.b, v.header+indexSize), v.capacity)
	}
	p := v.Physical(it.pos)
	it.pos++
	return it.yield(p, v.At(p))
}

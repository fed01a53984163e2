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

// Package rawview decodes the images of fixed-capacity containers without
// knowing their element types. A view is constructed over a byte slice plus
// the layout parameters of the container (element size, element alignment
// and capacity) and yields each logical element as a span of bytes, in the
// container's iteration order.
//
// Views never write to the image, and never trust it: every index read from
// the image is bounds checked and iteration never yields more spans than the
// recorded length. A damaged image ends iteration with ErrCorrupt. A
// zero-filled image decodes as an empty container of any kind.
//
// All bookkeeping words are native-endian uint64s and the null index of a
// container is its capacity.
package rawview

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"
)

var (
	// ErrInvalidLayout is returned for unusable layout parameters: a
	// non-positive capacity or an alignment which is not a power of two.
	ErrInvalidLayout = errors.New("rawview: invalid layout")
	// ErrShortBuffer is returned when the image is smaller than its layout.
	ErrShortBuffer = errors.New("rawview: image too small for layout")
	// ErrCorrupt is returned by an iterator which read an index that does not
	// fit the layout, or whose walk disagrees with the recorded length.
	ErrCorrupt = errors.New("rawview: corrupt image")
)

const (
	indexSize = 8
	freeLink  = ^uint64(0)
)

func alignUp(n, a uintptr) uintptr {
	return (n + a - 1) &^ (a - 1)
}

func checkAlign(what string, align uintptr) error {
	if align == 0 || align&(align-1) != 0 {
		return fmt.Errorf("%w: %s alignment %d is not a power of two", ErrInvalidLayout, what, align)
	}
	return nil
}

func checkCapacity(capacity int) error {
	if capacity <= 0 {
		return fmt.Errorf("%w: capacity %d", ErrInvalidLayout, capacity)
	}
	return nil
}

func checkSize(b []byte, size uintptr) error {
	if uintptr(len(b)) < size {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrShortBuffer, len(b), size)
	}
	return nil
}

// word reads the bookkeeping word at off. The caller has checked the image
// size against the layout.
func word(b []byte, off uintptr) uint64 {
	return binary.NativeEndian.Uint64(b[off : off+indexSize])
}

// FromAddress returns the n bytes starting at p, e.g. the image of a live
// container whose address was obtained from a debugger. The memory must
// stay valid and unmodified while the slice is in use.
func FromAddress(p unsafe.Pointer, n int) []byte {
	return unsafe.Slice((*byte)(p), n)
}

// poolLayout mirrors the slot and header arithmetic of pool storage.
func poolLayout(elemSize, elemAlign uintptr, capacity int) (slotSize, slotAlign, size uintptr) {
	slotAlign = max(elemAlign, indexSize)
	slotSize = alignUp(max(elemSize, indexSize), slotAlign)
	return slotSize, slotAlign, uintptr(capacity)*slotSize + 2*indexSize
}

// cursor advances an Iterator over one kind of container.
type cursor interface {
	advance(it *Iterator) bool
}

// Iterator is a forward iterator over the elements of a view:
//
//	it := v.Iter()
//	for it.Next() {
//		use(it.Index(), it.Span())
//	}
//	if err := it.Err(); err != nil {
//		...
//	}
type Iterator struct {
	src cursor
	// pos is the cursor's position: a slot index, or a logical index for
	// circular buffers.
	pos   uint64
	index uint64
	span  []byte
	n     int
	err   error
}

// Next advances to the next element, reporting whether there is one.
func (it *Iterator) Next() bool {
	if it.src == nil || it.err != nil {
		return false
	}
	return it.src.advance(it)
}

// Span returns the bytes of the current element. The slice aliases the
// image.
func (it *Iterator) Span() []byte {
	return it.span
}

// Index returns the slot index of the current element (the physical index
// for circular buffers).
func (it *Iterator) Index() uint64 {
	return it.index
}

// Err returns the error which ended iteration early, if any.
func (it *Iterator) Err() error {
	return it.err
}

func (it *Iterator) corrupt(format string, args ...interface{}) bool {
	it.err = fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
	it.span = nil
	return false
}

func (it *Iterator) yield(index uint64, span []byte) bool {
	it.index = index
	it.span = span
	it.n++
	return true
}

// drain calls yield for every element of it until yield returns false or
// the iterator is exhausted.
func drain(it Iterator, yield func(index uint64, span []byte) bool) {
	for it.Next() {
		if !yield(it.Index(), it.Span()) {
			return
		}
	}
}

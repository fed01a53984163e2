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
	"reflect"
	"unsafe"
)

const (
	// indexSize is the width of every bookkeeping word in a container image
	// (free list links, chain links, sizes, start offsets).
	indexSize = 8

	// freeLink marks the chain entry of a slot that is not part of the list.
	freeLink = ^uint64(0)
)

// alignUp rounds n up to the next multiple of a, which must be a power of 2.
func alignUp(n, a uintptr) uintptr {
	return (n + a - 1) &^ (a - 1)
}

// arena is the single block of memory holding a container image. It is
// allocated as a slice of words so that every offset which is a multiple of
// 8 is suitably aligned for any Go type. The words are not scanned by the
// GC, which is why element types must be pointer free.
type arena struct {
	words []uint64
	ptr   unsafe.Pointer
	size  uintptr
}

func newArena(a Allocator, size uintptr) arena {
	words := a.Alloc(int((size + indexSize - 1) / indexSize))
	clear(words)
	return arena{
		words: words,
		ptr:   unsafe.Pointer(unsafe.SliceData(words)),
		size:  size,
	}
}

// at returns a pointer to the byte at offset off.
func (a arena) at(off uintptr) unsafe.Pointer {
	if invariants && off > a.size {
		panic("fixed: arena offset out of range")
	}
	return unsafe.Add(a.ptr, off)
}

// word returns a pointer to the bookkeeping word at offset off.
func (a arena) word(off uintptr) *uint64 {
	return (*uint64)(a.at(off))
}

// bytes returns the container image.
func (a arena) bytes() []byte {
	return unsafe.Slice((*byte)(a.ptr), a.size)
}

func (a arena) zero(off, n uintptr) {
	clear(a.bytes()[off : off+n])
}

func (a arena) copyRange(src arena, off, n uintptr) {
	copy(a.bytes()[off:off+n], src.bytes()[off:off+n])
}

// pointerFree reports whether values of type t can live in an arena, i.e.
// whether t contains no pointers the GC would need to see.
func pointerFree(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return t.Len() == 0 || pointerFree(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if !pointerFree(t.Field(i).Type) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// noescape hides a pointer from escape analysis.  noescape is
// the identity function but escape analysis doesn't think the
// output depends on the input.  noescape is inlined and currently
// compiles down to zero instructions.
// USE CAREFULLY!
//
//go:nosplit
//go:nocheckptr
func noescape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}

// unsafeSlice provides semi-ergonomic limited slice-like functionality
// without bounds checking for fixed sized slices.
type unsafeSlice[T any] struct {
	ptr unsafe.Pointer
}

// At returns a pointer to the element at index i.
func (s unsafeSlice[T]) At(i uintptr) *T {
	var t T
	return (*T)(unsafe.Add(s.ptr, unsafe.Sizeof(t)*i))
}

// Slice returns a Go slice akin to slice[start:end] for a Go builtin slice.
func (s unsafeSlice[T]) Slice(start, end uintptr) []T {
	return unsafe.Slice((*T)(s.ptr), end)[start:end]
}

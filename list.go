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
	"strings"
	"unsafe"
)

// links is one entry of the chain array.
type links struct {
	prev uint64
	next uint64
}

// list is an intrusive doubly linked list threaded through a pool. The
// image starts at offset 0 of its arena:
//
//	pool  [poolSize]byte             // see pool
//	chain [capacity+1]links          // entry capacity is the sentinel
//	size  uint64
//
// The sentinel entry anchors the circular chain: its next is the front and
// its prev is the back. The index capacity doubles as the null index, so
// "no neighbor" and "the sentinel" are the same thing. The chain entry of a
// free slot is {freeLink, freeLink}.
type list[T any] struct {
	mem      arena
	pool     pool
	capacity uintptr
	chain    uintptr
	sizeOff  uintptr
	policy   CheckingPolicy
}

// listLayout returns the offsets of the chain array and size word, and the
// total size of a list image.
func listLayout(elemSize, elemAlign, capacity uintptr) (chain, sizeOff, size uintptr) {
	_, slotAlign, poolSize := poolLayout(elemSize, elemAlign, capacity)
	chain = poolSize
	sizeOff = chain + (capacity+1)*unsafe.Sizeof(links{})
	return chain, sizeOff, alignUp(sizeOff+indexSize, slotAlign)
}

func listLayoutOf[T any](capacity uintptr) (chain, sizeOff, size uintptr) {
	var t T
	return listLayout(unsafe.Sizeof(t), unsafe.Alignof(t), capacity)
}

// init lays the list out over the start of mem, which must be zeroed.
func (l *list[T]) init(mem arena, capacity uintptr, policy CheckingPolicy) {
	var t T
	l.mem = mem
	l.pool = makePool(mem, unsafe.Sizeof(t), unsafe.Alignof(t), capacity)
	l.capacity = capacity
	l.chain, l.sizeOff, _ = listLayoutOf[T](capacity)
	l.policy = policy
	*l.link(capacity) = links{prev: uint64(capacity), next: uint64(capacity)}
}

func (l *list[T]) link(i uintptr) *links {
	return (*links)(l.mem.at(l.chain + i*unsafe.Sizeof(links{})))
}

func (l *list[T]) null() uintptr {
	return l.capacity
}

func (l *list[T]) len() int {
	return int(*l.mem.word(l.sizeOff))
}

func (l *list[T]) full() bool {
	return l.pool.full()
}

func (l *list[T]) at(i uintptr) *T {
	return (*T)(l.pool.at(i))
}

func (l *list[T]) front() uintptr {
	return uintptr(l.link(l.null()).next)
}

func (l *list[T]) back() uintptr {
	return uintptr(l.link(l.null()).prev)
}

func (l *list[T]) next(i uintptr) uintptr {
	return uintptr(l.link(i).next)
}

func (l *list[T]) prev(i uintptr) uintptr {
	return uintptr(l.link(i).prev)
}

// exists reports whether i is the index of a live element.
func (l *list[T]) exists(i uintptr) bool {
	return i < l.capacity && l.pool.used(i) && l.link(i).prev != freeLink
}

// checkIndex reports whether i is a live element, invoking the checking
// policy if it is not. allowNull permits the sentinel.
func (l *list[T]) checkIndex(i int, allowNull bool) bool {
	if i >= 0 && (l.exists(uintptr(i)) || (allowNull && uintptr(i) == l.null())) {
		return true
	}
	violate(l.policy, InvalidIndex, i, int(l.capacity))
	return false
}

// emplaceAfter splices a new element holding v between i and its successor
// and returns its index. i must be live or the null index.
func (l *list[T]) emplaceAfter(i uintptr, v T) uintptr {
	if l.pool.full() {
		violate(l.policy, CapacityExceeded, l.len()+1, int(l.capacity))
		return l.null()
	}
	n := l.pool.emplace()
	*l.at(n) = v
	next := uintptr(l.link(i).next)
	*l.link(n) = links{prev: uint64(i), next: uint64(next)}
	l.link(i).next = uint64(n)
	l.link(next).prev = uint64(n)
	*l.mem.word(l.sizeOff)++
	return n
}

func (l *list[T]) emplaceBefore(i uintptr, v T) uintptr {
	return l.emplaceAfter(uintptr(l.link(i).prev), v)
}

func (l *list[T]) emplaceBack(v T) uintptr {
	return l.emplaceAfter(l.back(), v)
}

func (l *list[T]) emplaceFront(v T) uintptr {
	return l.emplaceBefore(l.front(), v)
}

// deleteAt unlinks and frees the live element i, returning the index that
// followed it (the null index if i was the back).
func (l *list[T]) deleteAt(i uintptr) uintptr {
	e := *l.link(i)
	l.link(uintptr(e.prev)).next = e.next
	l.link(uintptr(e.next)).prev = e.prev
	*l.link(i) = links{prev: freeLink, next: freeLink}
	// NB: the pool never relocates a live element, so there is no
	// repositioned index to report back to the caller.
	l.pool.delete(i)
	*l.mem.word(l.sizeOff)--
	return uintptr(e.next)
}

// deleteRange deletes [from, to) and returns to.
func (l *list[T]) deleteRange(from, to uintptr) uintptr {
	for from != to {
		from = l.deleteAt(from)
	}
	return to
}

// reachable reports whether to is reached by walking forward from from. The
// null index is reachable from every index. The walk takes at most len()+1
// steps.
func (l *list[T]) reachable(from, to uintptr) bool {
	for i, n := from, 0; n <= l.len(); i, n = l.next(i), n+1 {
		if i == to {
			return true
		}
		if i == l.null() {
			return false
		}
	}
	return false
}

func (l *list[T]) clear() {
	l.deleteRange(l.front(), l.null())
}

// copyFrom makes l an exact physical copy of src: every element keeps its
// index. It copies the free list bookkeeping verbatim, then the chain array
// verbatim, then every live element in place, walking src front to back.
// Clearing and reinserting would renumber the elements, which would
// invalidate anything (e.g. hash buckets) referring to them by index.
func (l *list[T]) copyFrom(src *list[T]) {
	if src == l {
		return
	}
	l.mem.zero(0, l.sizeOff+indexSize)
	l.pool.copyFreeListFrom(&src.pool)
	l.mem.copyRange(src.mem, l.chain, l.sizeOff-l.chain)
	for i := src.front(); i != src.null(); i = src.next(i) {
		*l.at(i) = *src.at(i)
	}
	*l.mem.word(l.sizeOff) = *src.mem.word(src.sizeOff)
}

func (l *list[T]) checkInvariants() {
	if invariants {
		var n int
		prev := l.null()
		for i := l.front(); i != l.null(); i = l.next(i) {
			if !l.exists(i) {
				panic(fmt.Sprintf("invariant failed: chain visits free slot %d\n%s", i, l.debugString()))
			}
			if l.prev(i) != prev {
				panic(fmt.Sprintf("invariant failed: prev(%d)=%d, expected %d\n%s", i, l.prev(i), prev, l.debugString()))
			}
			prev = i
			if n++; n > int(l.capacity) {
				panic(fmt.Sprintf("invariant failed: chain cycle\n%s", l.debugString()))
			}
		}
		if l.back() != prev {
			panic(fmt.Sprintf("invariant failed: back=%d, expected %d\n%s", l.back(), prev, l.debugString()))
		}
		if n != l.len() {
			panic(fmt.Sprintf("invariant failed: found %d elements, but size is %d\n%s", n, l.len(), l.debugString()))
		}
		if free := l.pool.freeCount(); n+free != int(*l.pool.highWater()) {
			panic(fmt.Sprintf("invariant failed: %d live + %d free != high water %d\n%s",
				n, free, *l.pool.highWater(), l.debugString()))
		}
	}
}

func (l *list[T]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  size=%d  free-head=%d  high-water=%d\n",
		l.capacity, l.len(), *l.pool.freeHead(), *l.pool.highWater())
	for i := uintptr(0); i <= l.capacity; i++ {
		e := l.link(i)
		switch {
		case i == l.null():
			fmt.Fprintf(&buf, "  %4d: sentinel prev=%d next=%d\n", i, e.prev, e.next)
		case !l.pool.used(i):
		case e.prev == freeLink:
			fmt.Fprintf(&buf, "  %4d: free\n", i)
		default:
			fmt.Fprintf(&buf, "  %4d: %v prev=%d next=%d\n", i, *l.at(i), e.prev, e.next)
		}
	}
	return buf.String()
}

// List is a fixed-capacity doubly linked list. Elements live in a pool of
// slots and never move: the index returned when an element is inserted
// stays valid until that element is deleted, regardless of other
// insertions and deletions. Iteration is in list order.
//
// Indexes are ints in [0, Cap()); Null() (== Cap()) stands for "no
// element" and is returned past the ends of the list.
//
// The element type must be pointer free. A List is NOT goroutine-safe.
type List[T any] struct {
	allocator Allocator
	list      list[T]
}

// NewList constructs a List holding at most capacity elements. The memory
// for all of them is allocated up front.
func NewList[T any](capacity int, options ...option) *List[T] {
	c := makeConfig(options)
	if capacity < 0 {
		violateConfig(c.policy, capacity, "negative capacity")
		capacity = 0
	}
	if !pointerFree(typeOf[T]()) {
		violateConfig(c.policy, capacity, "element type %s contains pointers", typeOf[T]())
		capacity = 0
	}
	_, _, size := listLayoutOf[T](uintptr(capacity))
	l := &List[T]{allocator: c.allocator}
	l.list.init(newArena(c.allocator, size), uintptr(capacity), c.policy)
	return l
}

// Close releases the image back to the configured allocator. It is invalid
// to use a List after it has been closed.
func (l *List[T]) Close() {
	if l.allocator != nil {
		l.allocator.Free(l.list.mem.words)
		l.allocator = nil
	}
}

// Len returns the number of elements in the list.
func (l *List[T]) Len() int { return l.list.len() }

// Cap returns the capacity of the list.
func (l *List[T]) Cap() int { return int(l.list.capacity) }

// Full reports whether Len() == Cap().
func (l *List[T]) Full() bool { return l.list.full() }

// Null returns the null index, which is also Cap().
func (l *List[T]) Null() int { return int(l.list.null()) }

// Front returns the index of the first element, or Null().
func (l *List[T]) Front() int { return int(l.list.front()) }

// Back returns the index of the last element, or Null().
func (l *List[T]) Back() int { return int(l.list.back()) }

// Next returns the index following i. Next(Null()) is Front().
func (l *List[T]) Next(i int) int {
	if !l.list.checkIndex(i, true) {
		return l.Null()
	}
	return int(l.list.next(uintptr(i)))
}

// Prev returns the index preceding i. Prev(Null()) is Back().
func (l *List[T]) Prev(i int) int {
	if !l.list.checkIndex(i, true) {
		return l.Null()
	}
	return int(l.list.prev(uintptr(i)))
}

// Exists reports whether i is the index of a live element.
func (l *List[T]) Exists(i int) bool {
	return i >= 0 && l.list.exists(uintptr(i))
}

// At returns a pointer to the element at index i. The pointer is valid until
// the element is deleted.
func (l *List[T]) At(i int) *T {
	if !l.list.checkIndex(i, false) {
		return nil
	}
	return l.list.at(uintptr(i))
}

// PushBack appends v and returns its index.
func (l *List[T]) PushBack(v T) int { return int(l.list.emplaceBack(v)) }

// PushFront prepends v and returns its index.
func (l *List[T]) PushFront(v T) int { return int(l.list.emplaceFront(v)) }

// InsertAfter inserts v after the element at i (at the front if i is Null())
// and returns the new index.
func (l *List[T]) InsertAfter(i int, v T) int {
	if !l.list.checkIndex(i, true) {
		return l.Null()
	}
	return int(l.list.emplaceAfter(uintptr(i), v))
}

// InsertBefore inserts v before the element at i (at the back if i is
// Null()) and returns the new index.
func (l *List[T]) InsertBefore(i int, v T) int {
	if !l.list.checkIndex(i, true) {
		return l.Null()
	}
	return int(l.list.emplaceBefore(uintptr(i), v))
}

// Delete deletes the element at i and returns the index that followed it.
func (l *List[T]) Delete(i int) int {
	if !l.list.checkIndex(i, false) {
		return l.Null()
	}
	next := l.list.deleteAt(uintptr(i))
	l.list.checkInvariants()
	return int(next)
}

// DeleteRange deletes the elements in [from, to), where to is reachable
// from from, and returns to.
func (l *List[T]) DeleteRange(from, to int) int {
	if !l.list.checkIndex(from, true) || !l.list.checkIndex(to, true) {
		return l.Null()
	}
	if !l.list.reachable(uintptr(from), uintptr(to)) {
		violate(l.list.policy, InvalidIndex, to, l.Cap())
		return l.Null()
	}
	for from != to {
		from = int(l.list.deleteAt(uintptr(from)))
	}
	l.list.checkInvariants()
	return to
}

// Clear deletes every element.
func (l *List[T]) Clear() {
	l.list.clear()
}

// All calls yield sequentially for each index and element in list order. If
// yield returns false, iteration stops. Deleting the element being visited
// is allowed.
func (l *List[T]) All(yield func(i int, v T) bool) {
	for i := l.list.front(); i != l.list.null(); {
		next := l.list.next(i)
		if !yield(int(i), *l.list.at(i)) {
			return
		}
		i = next
	}
}

// CopyFrom replaces the contents of l with an exact copy of src, preserving
// the index of every element. Both lists must have the same capacity.
// Copying a list onto itself does nothing.
func (l *List[T]) CopyFrom(src *List[T]) {
	if src == l {
		return
	}
	if src.list.capacity != l.list.capacity {
		violate(l.list.policy, CapacityExceeded, src.Len(), l.Cap())
		return
	}
	l.list.copyFrom(&src.list)
	l.list.checkInvariants()
}

// MoveFrom is CopyFrom followed by src.Clear(). Moving a list onto itself
// does nothing.
func (l *List[T]) MoveFrom(src *List[T]) {
	if src == l {
		return
	}
	if src.list.capacity != l.list.capacity {
		violate(l.list.policy, CapacityExceeded, src.Len(), l.Cap())
		return
	}
	l.list.copyFrom(&src.list)
	l.list.checkInvariants()
	src.list.clear()
}

// Clone returns a copy of l with identical indexes, allocated with the same
// allocator and using the same checking policy.
func (l *List[T]) Clone() *List[T] {
	c := NewList[T](l.Cap(), WithAllocator(l.allocator), WithPolicy(l.list.policy))
	c.list.copyFrom(&l.list)
	return c
}

// Bytes returns the image of the list. The slice aliases the list and is
// only valid until the list is closed.
func (l *List[T]) Bytes() []byte {
	return l.list.mem.bytes()
}

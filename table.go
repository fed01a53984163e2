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

// table is the engine shared by Map and Set: a list of entries of type E
// indexed by a Robin-Hood bucket array. The key of an entry is stored at
// offset 0 of E (E is either the key itself or an entry[K, V]).
type table[K comparable, E any] struct {
	hash      hashFn[K]
	allocator Allocator
	policy    CheckingPolicy
	mem       arena
	values    list[E]
	index     robinHood
}

func (t *table[K, E]) init(capacity int, c *config) {
	hash, ok := resolveHash[K](c)
	if !ok {
		violateConfig(c.policy, capacity, "hash function does not accept %s keys", typeOf[K]())
	}
	if capacity < 0 || capacity > maxBucketCount {
		violateConfig(c.policy, capacity, "capacity out of range [0, %d]", maxBucketCount)
		capacity = 0
	}
	if !pointerFree(typeOf[E]()) {
		violateConfig(c.policy, capacity, "entry type %s contains pointers", typeOf[E]())
		capacity = 0
	}
	bucketCount := c.bucketCount
	if bucketCount == 0 {
		bucketCount = min(defaultBucketCount(capacity), maxBucketCount)
	} else if bucketCount < max(capacity, 1) || bucketCount > maxBucketCount {
		violateConfig(c.policy, capacity, "bucket count %d out of range [%d, %d]",
			bucketCount, max(capacity, 1), maxBucketCount)
		bucketCount = min(defaultBucketCount(capacity), maxBucketCount)
	}

	_, _, listSize := listLayoutOf[E](uintptr(capacity))
	bucketsOff, size := bucketsLayout(listSize, bucketCount)

	t.hash = hash
	t.allocator = c.allocator
	t.policy = c.policy
	t.mem = newArena(c.allocator, size)
	t.values.init(t.mem, uintptr(capacity), c.policy)
	t.index = robinHood{
		buckets: unsafeSlice[bucket]{ptr: t.mem.at(bucketsOff)},
		count:   uint32(bucketCount),
	}
}

func (t *table[K, E]) close() {
	if t.allocator != nil {
		t.allocator.Free(t.mem.words)
		t.allocator = nil
	}
}

// key returns the key of the entry at list index i.
func (t *table[K, E]) key(i uintptr) *K {
	return (*K)(unsafe.Pointer(t.values.at(i)))
}

// lookup returns the opaque index for key: its bucket if present, otherwise
// where it would be inserted.
func (t *table[K, E]) lookup(key *K) opaqueIndex {
	// The hash function is opaque to escape analysis, which would otherwise
	// move every key passed by value to the heap.
	key = (*K)(noescape(unsafe.Pointer(key)))
	h := t.hash(key)
	return t.index.find(h, func(valueIndex uint32) bool {
		return *t.key(uintptr(valueIndex)) == *key
	})
}

// slot returns the list index referenced by a found opaque index.
func (t *table[K, E]) slot(oi opaqueIndex) uintptr {
	return uintptr(t.index.at(oi.bucketIndex).valueIndex)
}

// find returns the list index of key, or the null index.
func (t *table[K, E]) find(key *K) uintptr {
	oi := t.lookup(key)
	if !oi.found() {
		return t.values.null()
	}
	return t.slot(oi)
}

// emplace inserts an entry whose key is known not to be in the table at the
// position described by oi, returning its list index.
func (t *table[K, E]) emplace(oi opaqueIndex, e E) uintptr {
	if t.values.full() {
		violate(t.policy, CapacityExceeded, t.values.len()+1, int(t.values.capacity))
		return t.values.null()
	}
	i := t.values.emplaceBack(e)
	t.index.placeAndShiftUp(bucket{
		distAndFingerprint: oi.distAndFingerprint,
		valueIndex:         uint32(i),
	}, oi.bucketIndex)
	t.checkInvariants()
	return i
}

// tryEmplace inserts e if its key is absent. It returns the list index of
// the entry for the key and whether e was inserted.
func (t *table[K, E]) tryEmplace(e E) (uintptr, bool) {
	oi := t.lookup((*K)(unsafe.Pointer(&e)))
	if oi.found() {
		return t.slot(oi), false
	}
	i := t.emplace(oi, e)
	return i, i != t.values.null()
}

// erase removes the entry referenced by bucket b and returns the list index
// of the entry which followed it in iteration order.
func (t *table[K, E]) erase(b uint32) uintptr {
	valueIndex := t.index.eraseBucket(b)
	next := t.values.deleteAt(uintptr(valueIndex))
	t.checkInvariants()
	return next
}

func (t *table[K, E]) delete(key *K) bool {
	oi := t.lookup(key)
	if !oi.found() {
		return false
	}
	t.erase(oi.bucketIndex)
	return true
}

// deleteAt erases the live entry at list index i. Its bucket is found by
// looking up its key.
func (t *table[K, E]) deleteAt(i int) uintptr {
	if !t.values.checkIndex(i, false) {
		return t.values.null()
	}
	oi := t.lookup(t.key(uintptr(i)))
	if !oi.found() {
		panic(fmt.Sprintf("invariant failed: entry %d not indexed\n%s", i, t.debugString()))
	}
	return t.erase(oi.bucketIndex)
}

// deleteRange erases [from, to) in iteration order. Bucket order is
// unrelated to iteration order, so each entry is looked up individually.
func (t *table[K, E]) deleteRange(from, to int) uintptr {
	null := t.values.null()
	if !t.values.checkIndex(from, true) || !t.values.checkIndex(to, true) {
		return null
	}
	if !t.values.reachable(uintptr(from), uintptr(to)) {
		violate(t.policy, InvalidIndex, to, int(t.values.capacity))
		return null
	}
	for from != to {
		from = int(t.deleteAt(from))
	}
	return uintptr(to)
}

func (t *table[K, E]) next(i int) uintptr {
	if !t.values.checkIndex(i, true) {
		return t.values.null()
	}
	return t.values.next(uintptr(i))
}

func (t *table[K, E]) prev(i int) uintptr {
	if !t.values.checkIndex(i, true) {
		return t.values.null()
	}
	return t.values.prev(uintptr(i))
}

// entryAt returns the entry at a live list index, or nil.
func (t *table[K, E]) entryAt(i int) *E {
	if !t.values.checkIndex(i, false) {
		return nil
	}
	return t.values.at(uintptr(i))
}

func (t *table[K, E]) clear() {
	t.values.clear()
	t.index.clear()
	t.checkInvariants()
}

// copyFrom makes t an exact copy of src: the same entries at the same list
// indexes referenced from the same buckets. t adopts the hash of src. It
// reports false if nothing was copied, either because src is t or because
// the shapes differ.
func (t *table[K, E]) copyFrom(src *table[K, E]) bool {
	if src == t {
		return false
	}
	if src.values.capacity != t.values.capacity || src.index.count != t.index.count {
		violate(t.policy, CapacityExceeded, src.values.len(), int(t.values.capacity))
		return false
	}
	t.hash = src.hash
	t.values.copyFrom(&src.values)
	copy(t.index.buckets.Slice(0, uintptr(t.index.count)), src.index.buckets.Slice(0, uintptr(src.index.count)))
	t.checkInvariants()
	return true
}

// cloneInto initializes r as an exact copy of t, using the same allocator
// and checking policy.
func (t *table[K, E]) cloneInto(r *table[K, E]) {
	c := makeConfig([]option{
		WithAllocator(t.allocator),
		WithPolicy(t.policy),
		WithBucketCount(int(t.index.count)),
	})
	r.init(int(t.values.capacity), &c)
	r.copyFrom(t)
}

func (t *table[K, E]) checkInvariants() {
	if invariants {
		t.values.checkInvariants()

		var used int
		t.index.occupied(func(i uint32, b bucket) {
			used++
			if !t.values.exists(uintptr(b.valueIndex)) {
				panic(fmt.Sprintf("invariant failed: bucket(%d) refers to free slot %d\n%s",
					i, b.valueIndex, t.debugString()))
			}
			key := t.key(uintptr(b.valueIndex))
			if oi := t.lookup(key); !oi.found() || oi.bucketIndex != i {
				h := t.hash(key)
				panic(fmt.Sprintf("invariant failed: bucket(%d): %v not found [fp=%02x home=%d]\n%s",
					i, *key, h&fingerprintMask, t.index.bucketIndexFromHash(h), t.debugString()))
			}
			// A displaced resident has an occupied predecessor that is at most
			// one bucket closer to its own home.
			if d := b.dist(); d > 1 {
				prev := t.index.at((i + t.index.count - 1) % t.index.count)
				if prev.empty() || prev.dist()+1 < d {
					panic(fmt.Sprintf("invariant failed: bucket(%d): dist %d after dist %d\n%s",
						i, d, prev.dist(), t.debugString()))
				}
			}
		})

		if used != t.values.len() {
			panic(fmt.Sprintf("invariant failed: found %d used buckets, but used count is %d\n%s",
				used, t.values.len(), t.debugString()))
		}
	}
}

func (t *table[K, E]) debugString() string {
	var buf strings.Builder
	buf.WriteString(t.values.debugString())
	buf.WriteString(t.index.debugString(func(valueIndex uint32) string {
		if !t.values.exists(uintptr(valueIndex)) {
			return "<free>"
		}
		return fmt.Sprint(*t.key(uintptr(valueIndex)))
	}))
	return buf.String()
}

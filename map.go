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

// Package fixed implements fixed-capacity containers whose entire state lives
// in a single, pointer free block of memory allocated when the container is
// constructed. Nothing is allocated afterwards, and the bytes of a container
// are self describing given only the element size, element alignment and
// capacity. The rawview package decodes those bytes without any type
// information, e.g. for debuggers or for inspecting a container image that
// was copied out of another process.
//
// # Unordered maps
//
// Map and Set are built from two independent pieces:
//
//   - a pool-backed intrusive doubly linked list (List) which stores the
//     entries. A slot never moves while its entry is live, so an entry is
//     identified by its slot index for its whole lifetime, and iteration
//     follows insertion order.
//   - a Robin-Hood open addressing index mapping hashes to slot indexes. Each
//     bucket is 8 bytes: a packed distance and 8-bit fingerprint, and the
//     slot index of the entry.
//
// Lookups start at the home bucket (hash >> 8 modulo the bucket count) and
// walk forward while the resident's packed distance and fingerprint is at
// least the candidate's. Residents are kept ordered along every probe run, so
// the walk ends as soon as the candidate would have displaced the resident,
// without scanning to an empty bucket. Insertion swaps the new bucket into
// place and shifts the displaced residents forward one bucket each. Deletion
// shifts the following residents back until one is at its home bucket, so
// there are no tombstones and performance does not degrade under churn. The
// index never reorders the list; bucket order is not observable.
//
// # Layout
//
// Every bookkeeping word is a native-endian uint64 and the null index of a
// container is its capacity. A List image is
//
//	slots     [capacity]slot             // max(elem, 8) bytes, aligned
//	freeHead  uint64                     // 0 or index+1
//	highWater uint64
//	chain     [capacity+1]{prev, next}   // entry capacity is the sentinel
//	size      uint64
//
// A Map image is the List image of its entries followed by the bucket array.
// An entry is the key followed by the value at the next multiple of the
// value's alignment. A Set stores bare keys. A Deque image is the element
// array followed by a {start, distance} pair.
package fixed

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Map is an unordered map from keys to values with a fixed capacity. Entries
// are iterated in insertion order, and each entry has an index which stays
// valid until the entry is deleted. By default, keys are hashed by running
// xxhash over their bytes; a different hash function can be specified using
// the WithHash option.
//
// Inserting into a full map, or using an index which does not refer to a
// live entry, invokes the configured CheckingPolicy (AbortPolicy by default).
//
// Key and value types must be pointer free. A Map is NOT goroutine-safe.
type Map[K comparable, V any] struct {
	t table[K, entry[K, V]]
}

// NewMap constructs a Map which can hold capacity entries. The memory for
// the entries and the hash buckets is allocated up front.
func NewMap[K comparable, V any](capacity int, options ...option) *Map[K, V] {
	c := makeConfig(options)
	m := &Map[K, V]{}
	m.t.init(capacity, &c)
	return m
}

// Close releases the image back to the configured allocator. It is invalid
// to use a Map after it has been closed, though Close itself is idempotent.
func (m *Map[K, V]) Close() {
	m.t.close()
}

// Put inserts an entry into the map, overwriting an existing value if an
// entry with the same key already exists. Overwriting does not change the
// position of the entry in iteration order.
func (m *Map[K, V]) Put(key K, value V) {
	oi := m.t.lookup(&key)
	if oi.found() {
		m.t.values.at(m.t.slot(oi)).value = value
		return
	}
	m.t.emplace(oi, entry[K, V]{key: key, value: value})
}

// TryEmplace inserts an entry if key is not present. It returns the index of
// the entry for key and whether it was inserted.
func (m *Map[K, V]) TryEmplace(key K, value V) (index int, inserted bool) {
	i, inserted := m.t.tryEmplace(entry[K, V]{key: key, value: value})
	return int(i), inserted
}

// Get retrieves the value from the map for the specified key, return ok=false
// if the key is not present.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	if p := m.GetPtr(key); p != nil {
		return *p, true
	}
	return value, false
}

// GetPtr returns a pointer to the value for key, or nil if the key is not
// present. The pointer is valid until the entry is deleted.
func (m *Map[K, V]) GetPtr(key K) *V {
	oi := m.t.lookup(&key)
	if !oi.found() {
		return nil
	}
	return &m.t.values.at(m.t.slot(oi)).value
}

// Contains reports whether key is present.
func (m *Map[K, V]) Contains(key K) bool {
	return m.t.lookup(&key).found()
}

// Find returns the index of the entry for key, or End() if the key is not
// present.
func (m *Map[K, V]) Find(key K) int {
	return int(m.t.find(&key))
}

// Delete deletes the entry corresponding to the specified key from the map,
// reporting whether it was present.
func (m *Map[K, V]) Delete(key K) bool {
	return m.t.delete(&key)
}

// DeleteAt deletes the entry at index i and returns the index of the next
// entry in iteration order (End() if i was the last).
func (m *Map[K, V]) DeleteAt(i int) int {
	return int(m.t.deleteAt(i))
}

// DeleteRange deletes the entries in [from, to) in iteration order and
// returns to.
func (m *Map[K, V]) DeleteRange(from, to int) int {
	return int(m.t.deleteRange(from, to))
}

// First returns the index of the first entry in iteration order, or End().
func (m *Map[K, V]) First() int {
	return int(m.t.values.front())
}

// Last returns the index of the last entry in iteration order, or End().
func (m *Map[K, V]) Last() int {
	return int(m.t.values.back())
}

// End returns the null index, which is also Cap().
func (m *Map[K, V]) End() int {
	return int(m.t.values.null())
}

// Next returns the index of the entry following i in iteration order.
// Next(End()) is First().
func (m *Map[K, V]) Next(i int) int {
	return int(m.t.next(i))
}

// Prev returns the index of the entry preceding i in iteration order.
// Prev(End()) is Last().
func (m *Map[K, V]) Prev(i int) int {
	return int(m.t.prev(i))
}

// KeyAt returns the key of the entry at index i.
func (m *Map[K, V]) KeyAt(i int) (key K) {
	if e := m.t.entryAt(i); e != nil {
		key = e.key
	}
	return key
}

// ValueAt returns a pointer to the value of the entry at index i.
func (m *Map[K, V]) ValueAt(i int) *V {
	if e := m.t.entryAt(i); e != nil {
		return &e.value
	}
	return nil
}

// All calls yield sequentially for each key and value present in the map,
// in insertion order. If yield returns false, iteration stops. Deleting the
// entry being visited is allowed.
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	l := &m.t.values
	for i := l.front(); i != l.null(); {
		next := l.next(i)
		e := l.at(i)
		if !yield(e.key, e.value) {
			return
		}
		i = next
	}
}

// Clear deletes all entries from the map.
func (m *Map[K, V]) Clear() {
	m.t.clear()
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.t.values.len()
}

// Cap returns the maximum number of entries.
func (m *Map[K, V]) Cap() int {
	return int(m.t.values.capacity)
}

// BucketCount returns the number of hash buckets.
func (m *Map[K, V]) BucketCount() int {
	return int(m.t.index.count)
}

// CopyFrom replaces the contents of m with an exact copy of src: the same
// entries at the same indexes in the same buckets. Both maps must have the
// same capacity and bucket count. m adopts the hash function of src.
func (m *Map[K, V]) CopyFrom(src *Map[K, V]) {
	m.t.copyFrom(&src.t)
}

// MoveFrom is CopyFrom followed by src.Clear().
func (m *Map[K, V]) MoveFrom(src *Map[K, V]) {
	if m.t.copyFrom(&src.t) {
		src.t.clear()
	}
}

// Clone returns an exact copy of m using the same allocator, checking policy
// and hash function.
func (m *Map[K, V]) Clone() *Map[K, V] {
	r := &Map[K, V]{}
	m.t.cloneInto(&r.t)
	return r
}

// Bytes returns the image of the map: the entry list followed by the hash
// buckets. The slice aliases the map and is only valid until the map is
// closed.
func (m *Map[K, V]) Bytes() []byte {
	return m.t.mem.bytes()
}

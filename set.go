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

// Set is an unordered set of keys with a fixed capacity. It shares its
// engine with Map, but its list holds bare keys: the image of a Set is the
// image of a List[K] followed by the hash buckets.
type Set[K comparable] struct {
	t table[K, K]
}

// NewSet constructs a Set which can hold capacity keys.
func NewSet[K comparable](capacity int, options ...option) *Set[K] {
	c := makeConfig(options)
	s := &Set[K]{}
	s.t.init(capacity, &c)
	return s
}

// Close releases the image back to the configured allocator.
func (s *Set[K]) Close() {
	s.t.close()
}

// Add inserts key, reporting whether it was not already present.
func (s *Set[K]) Add(key K) bool {
	_, inserted := s.t.tryEmplace(key)
	return inserted
}

// TryEmplace inserts key if it is not present. It returns the index of key
// and whether it was inserted.
func (s *Set[K]) TryEmplace(key K) (index int, inserted bool) {
	i, inserted := s.t.tryEmplace(key)
	return int(i), inserted
}

// Contains reports whether key is present.
func (s *Set[K]) Contains(key K) bool {
	return s.t.lookup(&key).found()
}

// Find returns the index of key, or End().
func (s *Set[K]) Find(key K) int {
	return int(s.t.find(&key))
}

// Delete removes key, reporting whether it was present.
func (s *Set[K]) Delete(key K) bool {
	return s.t.delete(&key)
}

// DeleteAt removes the key at index i and returns the next index.
func (s *Set[K]) DeleteAt(i int) int {
	return int(s.t.deleteAt(i))
}

// DeleteRange removes the keys in [from, to) in iteration order.
func (s *Set[K]) DeleteRange(from, to int) int {
	return int(s.t.deleteRange(from, to))
}

// KeyAt returns the key at index i.
func (s *Set[K]) KeyAt(i int) (key K) {
	if p := s.t.entryAt(i); p != nil {
		key = *p
	}
	return key
}

func (s *Set[K]) First() int       { return int(s.t.values.front()) }
func (s *Set[K]) Last() int        { return int(s.t.values.back()) }
func (s *Set[K]) End() int         { return int(s.t.values.null()) }
func (s *Set[K]) Next(i int) int   { return int(s.t.next(i)) }
func (s *Set[K]) Prev(i int) int   { return int(s.t.prev(i)) }
func (s *Set[K]) Len() int         { return s.t.values.len() }
func (s *Set[K]) Cap() int         { return int(s.t.values.capacity) }
func (s *Set[K]) BucketCount() int { return int(s.t.index.count) }

// All calls yield for each key in insertion order until yield returns
// false.
func (s *Set[K]) All(yield func(key K) bool) {
	l := &s.t.values
	for i := l.front(); i != l.null(); {
		next := l.next(i)
		if !yield(*l.at(i)) {
			return
		}
		i = next
	}
}

// Clear removes every key.
func (s *Set[K]) Clear() {
	s.t.clear()
}

// CopyFrom replaces the contents of s with an exact copy of src.
func (s *Set[K]) CopyFrom(src *Set[K]) {
	s.t.copyFrom(&src.t)
}

// MoveFrom is CopyFrom followed by src.Clear().
func (s *Set[K]) MoveFrom(src *Set[K]) {
	if s.t.copyFrom(&src.t) {
		src.t.clear()
	}
}

// Clone returns an exact copy of s.
func (s *Set[K]) Clone() *Set[K] {
	r := &Set[K]{}
	s.t.cloneInto(&r.t)
	return r
}

// Bytes returns the image of the set.
func (s *Set[K]) Bytes() []byte {
	return s.t.mem.bytes()
}

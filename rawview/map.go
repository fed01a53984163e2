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

// bucketSize is the size of one hash bucket: a uint32 packing distance and
// fingerprint, and a uint32 slot index.
const bucketSize = 8

// PairView splits the bytes of a map entry into key and value. The value
// follows the key at the next multiple of the value's alignment.
type PairView struct {
	KeySize     uintptr
	ValueOffset uintptr
	ValueSize   uintptr
	// Size and Align describe the whole entry.
	Size  uintptr
	Align uintptr
}

// NewPairView computes the entry layout for the given key and value.
func NewPairView(keySize, keyAlign, valueSize, valueAlign uintptr) (PairView, error) {
	if err := checkAlign("key", keyAlign); err != nil {
		return PairView{}, err
	}
	if err := checkAlign("value", valueAlign); err != nil {
		return PairView{}, err
	}
	p := PairView{
		KeySize:     keySize,
		ValueOffset: alignUp(keySize, valueAlign),
		ValueSize:   valueSize,
		Align:       max(keyAlign, valueAlign),
	}
	p.Size = alignUp(p.ValueOffset+valueSize, p.Align)
	return p, nil
}

// Key returns the key bytes of an entry.
func (p PairView) Key(entry []byte) []byte {
	return entry[:p.KeySize:p.KeySize]
}

// Value returns the value bytes of an entry.
func (p PairView) Value(entry []byte) []byte {
	end := p.ValueOffset + p.ValueSize
	return entry[p.ValueOffset:end:end]
}

// MapSize returns the size of a map image: the entry list followed by the
// bucket array at the next multiple of 8.
func MapSize(keySize, keyAlign, valueSize, valueAlign uintptr, capacity, bucketCount int) uintptr {
	p, err := NewPairView(keySize, keyAlign, valueSize, valueAlign)
	if err != nil {
		return 0
	}
	return alignUp(ListSize(p.Size, p.Align, capacity), bucketSize) + uintptr(bucketCount)*bucketSize
}

// SetSize returns the size of a set image, whose entries are bare keys.
func SetSize(keySize, keyAlign uintptr, capacity, bucketCount int) uintptr {
	return alignUp(ListSize(keySize, keyAlign, capacity), bucketSize) + uintptr(bucketCount)*bucketSize
}

// MapView reads the image of a Map. Only the entry list is needed to
// enumerate the entries; the buckets are not consulted. A Set image is read
// with a ListView over its keys.
type MapView struct {
	List ListView
	Pair PairView
}

// NewMapView returns a view of the map image at the start of b. The image
// must hold at least the entry list.
func NewMapView(
	b []byte, keySize, keyAlign, valueSize, valueAlign uintptr, capacity int,
) (MapView, error) {
	p, err := NewPairView(keySize, keyAlign, valueSize, valueAlign)
	if err != nil {
		return MapView{}, err
	}
	l, err := NewListView(b, p.Size, p.Align, capacity)
	if err != nil {
		return MapView{}, fmt.Errorf("map: %w", err)
	}
	return MapView{List: l, Pair: p}, nil
}

// Len returns the recorded number of entries.
func (v MapView) Len() int {
	return v.List.Len()
}

// Iter returns an iterator over the entries in insertion order.
func (v MapView) Iter() MapIterator {
	return MapIterator{Iterator: v.List.Iter(), pair: v.Pair}
}

// All calls yield for each key and value in insertion order.
func (v MapView) All(yield func(key, value []byte) bool) {
	it := v.Iter()
	for it.Next() {
		if !yield(it.Key(), it.Value()) {
			return
		}
	}
}

// MapIterator is an Iterator which also splits each entry.
type MapIterator struct {
	Iterator
	pair PairView
}

// Key returns the key bytes of the current entry.
func (it *MapIterator) Key() []byte {
	return it.pair.Key(it.Span())
}

// Value returns the value bytes of the current entry.
func (it *MapIterator) Value() []byte {
	return it.pair.Value(it.Span())
}

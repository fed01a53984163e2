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

package inspect

import (
	"fmt"

	"github.com/cockroachdb/fixed/rawview"
)

// Entry is one decoded element. Value is only set for maps. Key and Value
// alias the image.
type Entry struct {
	Index uint64
	Key   []byte
	Value []byte
}

// Image is the decoded content of a container image, in iteration order.
type Image struct {
	Kind     Kind
	Capacity int
	Len      int
	Entries  []Entry
}

// region returns the image bytes described by l.
func region(l Layout, b []byte) ([]byte, error) {
	if l.Offset > int64(len(b)) {
		return nil, fmt.Errorf("inspect: offset %d beyond %d byte dump: %w",
			l.Offset, len(b), rawview.ErrShortBuffer)
	}
	return b[l.Offset:], nil
}

// Decode reads the image described by l from b. A corrupt image yields the
// entries read before the corruption was detected along with the error.
func Decode(l Layout, b []byte) (*Image, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	b, err := region(l, b)
	if err != nil {
		return nil, err
	}
	img := &Image{Kind: l.Kind, Capacity: l.Capacity}

	var it rawview.Iterator
	switch l.Kind {
	case KindList, KindSet:
		v, err := rawview.NewListView(b, uintptr(l.Element.Size), uintptr(l.Element.Align), l.Capacity)
		if err != nil {
			return nil, err
		}
		img.Len, it = v.Len(), v.Iter()
	case KindDeque:
		v, err := rawview.NewCircularView(
			b, uintptr(l.Element.Size), uintptr(l.Element.Align), l.Capacity)
		if err != nil {
			return nil, err
		}
		img.Len, it = v.Len(), v.Iter()
	case KindTree:
		v, err := treeView(l, b)
		if err != nil {
			return nil, err
		}
		img.Len, it = v.Len(), v.Iter()
	case KindMap:
		v, err := rawview.NewMapView(b, uintptr(l.Key.Size), uintptr(l.Key.Align),
			uintptr(l.Value.Size), uintptr(l.Value.Align), l.Capacity)
		if err != nil {
			return nil, err
		}
		img.Len = v.Len()
		mi := v.Iter()
		for mi.Next() {
			img.Entries = append(img.Entries, Entry{Index: mi.Index(), Key: mi.Key(), Value: mi.Value()})
		}
		return img, mi.Err()
	}

	for it.Next() {
		img.Entries = append(img.Entries, Entry{Index: it.Index(), Key: it.Span()})
	}
	return img, it.Err()
}

func treeView(l Layout, b []byte) (rawview.TreeView, error) {
	tl, err := l.treeLayout()
	if err != nil {
		return rawview.TreeView{}, err
	}
	ts, err := l.treeStorage()
	if err != nil {
		return rawview.TreeView{}, err
	}
	return rawview.NewTreeView(b, uintptr(l.Element.Size), uintptr(l.Element.Align), l.Capacity, tl, ts)
}

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

// Package inspect decodes and checks dumped container images described by
// a TOML layout descriptor:
//
//	kind = "map"
//	capacity = 16
//	offset = 0
//	[key]
//	size = 8
//	align = 8
//	[value]
//	size = 4
//	align = 4
package inspect

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/fixed/rawview"
)

// Kind names the container an image was written by.
type Kind string

const (
	KindList  Kind = "list"
	KindSet   Kind = "set"
	KindMap   Kind = "map"
	KindDeque Kind = "deque"
	KindTree  Kind = "tree"
)

// ErrInvalidDescriptor is returned for a descriptor which does not describe
// a usable layout.
var ErrInvalidDescriptor = errors.New("inspect: invalid layout descriptor")

// Field is the size and alignment of an element, key or value type.
type Field struct {
	Size  int `toml:"size"`
	Align int `toml:"align"`
}

// TreeOptions selects the node layout and storage of a tree image.
type TreeOptions struct {
	Layout  string `toml:"layout"`
	Storage string `toml:"storage"`
}

// Layout describes a container image.
type Layout struct {
	Kind     Kind  `toml:"kind"`
	Capacity int   `toml:"capacity"`
	Offset   int64 `toml:"offset"`
	// Element describes list, set and deque elements, and tree keys.
	Element Field `toml:"element"`
	// Key and Value describe map entries.
	Key   Field       `toml:"key"`
	Value Field       `toml:"value"`
	Tree  TreeOptions `toml:"tree"`
}

// LoadLayout reads the descriptor at path. Unknown keys are rejected so
// that a misspelled field is not silently ignored.
func LoadLayout(path string) (Layout, error) {
	var l Layout
	md, err := toml.DecodeFile(path, &l)
	if err != nil {
		return Layout{}, fmt.Errorf("inspect: reading %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Layout{}, fmt.Errorf("%w: unknown keys %s", ErrInvalidDescriptor, strings.Join(keys, ", "))
	}
	return l, l.Validate()
}

// ParseLayout decodes a descriptor held in memory.
func ParseLayout(data string) (Layout, error) {
	var l Layout
	if _, err := toml.Decode(data, &l); err != nil {
		return Layout{}, fmt.Errorf("inspect: %w", err)
	}
	return l, l.Validate()
}

// Validate checks the fields the kind requires. Alignment and size
// arithmetic is checked again by the views.
func (l Layout) Validate() error {
	if l.Capacity <= 0 {
		return fmt.Errorf("%w: capacity %d", ErrInvalidDescriptor, l.Capacity)
	}
	if l.Offset < 0 {
		return fmt.Errorf("%w: offset %d", ErrInvalidDescriptor, l.Offset)
	}
	switch l.Kind {
	case KindList, KindSet, KindDeque:
		return l.Element.validate("element")
	case KindMap:
		if err := l.Key.validate("key"); err != nil {
			return err
		}
		return l.Value.validate("value")
	case KindTree:
		if err := l.Element.validate("element"); err != nil {
			return err
		}
		if _, err := l.treeLayout(); err != nil {
			return err
		}
		_, err := l.treeStorage()
		return err
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDescriptor, l.Kind)
	}
}

func (f Field) validate(what string) error {
	if f.Align <= 0 {
		return fmt.Errorf("%w: %s alignment missing", ErrInvalidDescriptor, what)
	}
	if f.Size < 0 {
		return fmt.Errorf("%w: %s size %d", ErrInvalidDescriptor, what, f.Size)
	}
	return nil
}

func (l Layout) treeLayout() (rawview.TreeLayout, error) {
	switch l.Tree.Layout {
	case "", "standard":
		return rawview.StandardNodes, nil
	case "compact":
		return rawview.CompactNodes, nil
	}
	return 0, fmt.Errorf("%w: tree layout %q", ErrInvalidDescriptor, l.Tree.Layout)
}

func (l Layout) treeStorage() (rawview.TreeStorage, error) {
	switch l.Tree.Storage {
	case "", "pool":
		return rawview.PoolStorage, nil
	case "contiguous":
		return rawview.ContiguousStorage, nil
	}
	return 0, fmt.Errorf("%w: tree storage %q", ErrInvalidDescriptor, l.Tree.Storage)
}

// Size returns the number of bytes the image occupies after Offset. Map and
// set images are followed by a bucket array which the views do not read;
// Size covers only the entry list for those.
func (l Layout) Size() uintptr {
	switch l.Kind {
	case KindList, KindSet:
		return rawview.ListSize(uintptr(l.Element.Size), uintptr(l.Element.Align), l.Capacity)
	case KindMap:
		p, err := rawview.NewPairView(
			uintptr(l.Key.Size), uintptr(l.Key.Align), uintptr(l.Value.Size), uintptr(l.Value.Align))
		if err != nil {
			return 0
		}
		return rawview.ListSize(p.Size, p.Align, l.Capacity)
	case KindDeque:
		return rawview.CircularSize(uintptr(l.Element.Size), l.Capacity)
	case KindTree:
		tl, _ := l.treeLayout()
		ts, _ := l.treeStorage()
		return rawview.TreeSize(uintptr(l.Element.Size), l.Capacity, tl, ts)
	}
	return 0
}

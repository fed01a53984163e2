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
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

// hashFn hashes a key. It must be deterministic and free of side effects.
type hashFn[K comparable] func(key *K) uint64

// bytesHasher returns a hashFn which runs xxhash over the in-memory
// representation of the key. Keys are pointer free (they live in an arena),
// so their bytes are their value.
func bytesHasher[K comparable]() hashFn[K] {
	var k K
	size := int(unsafe.Sizeof(k))
	return func(key *K) uint64 {
		return xxhash.Sum64(unsafe.Slice((*byte)(noescape(unsafe.Pointer(key))), size))
	}
}

// resolveHash picks the configured hash function for K, falling back to
// bytesHasher. ok is false if a hash function for a different key type was
// configured.
func resolveHash[K comparable](c *config) (h hashFn[K], ok bool) {
	switch fn := c.hash.(type) {
	case nil:
		return bytesHasher[K](), true
	case func(key *K) uint64:
		return fn, true
	default:
		return bytesHasher[K](), false
	}
}

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

import "math"

// option provide an interface to do work on a container while it is being
// created.
type option interface {
	apply(c *config)
}

// config collects the options shared by all containers. Options which do not
// apply to a container (e.g. WithBucketCount for a List) are ignored.
type config struct {
	hash           any
	policy         CheckingPolicy
	allocator      Allocator
	bucketCount    int
	startIndex     uint64
	haveStartIndex bool
}

func makeConfig(options []option) config {
	c := config{
		policy:    AbortPolicy{},
		allocator: defaultAllocator{},
	}
	for _, op := range options {
		op.apply(&c)
	}
	return c
}

type hashOption[K comparable] struct {
	hash func(key *K) uint64
}

func (op hashOption[K]) apply(c *config) {
	c.hash = op.hash
}

// WithHash is an option to specify the hash function to use for a Map[K,V]
// or Set[K]. The function must be deterministic and must return equal hashes
// for equal keys. The default hashes the raw bytes of the key with xxhash,
// which is only correct for key types without padding whose equality is
// bitwise (i.e. not floats and not structs with holes).
func WithHash[K comparable](hash func(key *K) uint64) option {
	return hashOption[K]{hash}
}

type policyOption struct {
	policy CheckingPolicy
}

func (op policyOption) apply(c *config) {
	if op.policy != nil {
		c.policy = op.policy
	}
}

// WithPolicy is an option to specify the CheckingPolicy invoked on capacity
// overflow and invalid indexes. The default is AbortPolicy.
func WithPolicy(policy CheckingPolicy) option {
	return policyOption{policy}
}

type bucketCountOption struct {
	n int
}

func (op bucketCountOption) apply(c *config) {
	c.bucketCount = op.n
}

// WithBucketCount is an option to override the number of hash buckets of a
// Map or Set. The count must be at least the capacity. The default is
// defaultBucketCount(capacity).
func WithBucketCount(n int) option {
	return bucketCountOption{n}
}

type startIndexOption struct {
	start uint64
}

func (op startIndexOption) apply(c *config) {
	c.startIndex = op.start
	c.haveStartIndex = true
}

// WithStartIndex is an option to specify the initial start index of a Deque.
// The start index is an unbounded counter that is reduced modulo the
// capacity, so any value is valid.
func WithStartIndex(start uint64) option {
	return startIndexOption{start}
}

// defaultStartIndex is the initial start index of a Deque, chosen so that
// pushing to the front never underflows in practice.
const defaultStartIndex = math.MaxUint64 / 2

// Allocator specifies an interface for allocating and releasing the memory
// holding a container image. Each container allocates exactly once, during
// construction (and Clone). The default allocator utilizes Go's builtin
// make() and allows the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that images be
// freed then Close must be called in order to ensure Free is called.
type Allocator interface {
	// Alloc should return a slice equivalent to make([]uint64, n).
	Alloc(n int) []uint64

	// Free can optional release the memory associated with the supplied
	// slice that is guaranteed to have been allocated by Alloc.
	Free(v []uint64)
}

type defaultAllocator struct{}

func (defaultAllocator) Alloc(n int) []uint64 {
	return make([]uint64, n)
}

func (defaultAllocator) Free(v []uint64) {
}

type allocatorOption struct {
	allocator Allocator
}

func (op allocatorOption) apply(c *config) {
	if op.allocator != nil {
		c.allocator = op.allocator
	}
}

// WithAllocator is an option for specify the Allocator to use for a
// container.
func WithAllocator(allocator Allocator) option {
	return allocatorOption{allocator}
}

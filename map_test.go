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
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

// toBuiltinMap returns the elements as a map[K]V. Useful for testing.
func (m *Map[K, V]) toBuiltinMap() map[K]V {
	r := make(map[K]V)
	m.All(func(k K, v V) bool {
		r[k] = v
		return true
	})
	return r
}

// keys returns the keys in iteration order.
func (m *Map[K, V]) keys() []K {
	var r []K
	m.All(func(k K, _ V) bool {
		r = append(r, k)
		return true
	})
	return r
}

// randElement returns the element n steps from the front, with n chosen
// uniformly at random.
func (m *Map[K, V]) randElement(rng *rand.Rand) (key K, value V, ok bool) {
	if m.Len() == 0 {
		return key, value, false
	}
	i := m.First()
	for n := rng.Intn(m.Len()); n > 0; n-- {
		i = m.Next(i)
	}
	return m.KeyAt(i), *m.ValueAt(i), true
}

// decimalHash places key x in home bucket x mod the bucket count, with
// fingerprint x & 0xff.
func decimalHash(key *int) uint64 {
	x := uint64(*key)
	return x&0xff | x<<8
}

// bucketState renders every bucket as "key/dist", or "" if empty.
func bucketState[K comparable, E any](t *table[K, E]) []string {
	r := make([]string, t.index.count)
	t.index.occupied(func(i uint32, b bucket) {
		r[i] = fmt.Sprintf("%v/%d", *t.key(uintptr(b.valueIndex)), b.dist())
	})
	return r
}

// requireRobinHood checks the bucket array independently of the
// invariants build tag: every key is found in the bucket that refers to it,
// and residents along a run are never more than one step further from home
// than their predecessor.
func requireRobinHood[K comparable, E any](t *testing.T, tbl *table[K, E]) {
	t.Helper()
	var used int
	tbl.index.occupied(func(i uint32, b bucket) {
		used++
		key := tbl.key(uintptr(b.valueIndex))
		oi := tbl.lookup(key)
		require.True(t, oi.found(), "bucket %d: %v", i, *key)
		require.Equal(t, i, oi.bucketIndex)

		h := tbl.hash(key)
		home := tbl.index.bucketIndexFromHash(h)
		require.Equal(t, (home+b.dist()-1)%tbl.index.count, i, "bucket %d: %v", i, *key)
		require.Equal(t, uint32(h&fingerprintMask), b.distAndFingerprint&fingerprintMask)
		if b.dist() > 1 {
			prev := tbl.index.at((i + tbl.index.count - 1) % tbl.index.count)
			require.False(t, prev.empty(), "bucket %d: displaced after an empty bucket", i)
			require.GreaterOrEqual(t, prev.dist()+1, b.dist(), "bucket %d", i)
		}
	})
	require.Equal(t, tbl.values.len(), used)
}

type recordingPolicy struct {
	violations []Violation
}

func (p *recordingPolicy) Violated(v Violation) {
	p.violations = append(p.violations, v)
}

func TestDisplacement(t *testing.T) {
	m := NewMap[int, int](10, WithBucketCount(10), WithHash(decimalHash))
	m.Put(13, 0)
	m.Put(33, 0)
	require.Equal(t, []string{"", "", "", "33/1", "13/2", "", "", "", "", ""}, bucketState(&m.t))
	requireRobinHood(t, &m.t)
	// Iteration order is insertion order, regardless of bucket order.
	require.Equal(t, []int{13, 33}, m.keys())
}

func TestBackwardShiftDeletion(t *testing.T) {
	m := NewMap[int, int](10, WithBucketCount(10), WithHash(decimalHash))
	keys := []int{13, 33, 9, 43, 6, 23, 66, 128, 0}
	for _, k := range keys {
		m.Put(k, k*10)
	}
	require.Equal(t, []string{
		"9/2", "0/2", "", "43/1", "33/2", "23/3", "13/4", "66/2", "6/3", "128/2",
	}, bucketState(&m.t))
	requireRobinHood(t, &m.t)

	// 0 has an empty successor: only its own bucket changes.
	require.True(t, m.Delete(0))
	require.Equal(t, 8, m.Len())
	require.Equal(t, []string{
		"9/2", "", "", "43/1", "33/2", "23/3", "13/4", "66/2", "6/3", "128/2",
	}, bucketState(&m.t))

	// 6 is followed by 128 and 9 (wrapping around), which move back one
	// bucket each. The shift stops at the empty bucket 1.
	require.True(t, m.Delete(6))
	require.Equal(t, 7, m.Len())
	require.Equal(t, []string{
		"", "", "", "43/1", "33/2", "23/3", "13/4", "66/2", "128/1", "9/1",
	}, bucketState(&m.t))
	requireRobinHood(t, &m.t)

	require.Equal(t, []int{13, 33, 9, 43, 23, 66, 128}, m.keys())
	for _, k := range []int{13, 33, 9, 43, 23, 66, 128} {
		v, ok := m.Get(k)
		require.True(t, ok)
		require.Equal(t, k*10, v)
	}
}

func TestBasic(t *testing.T) {
	test := func(t *testing.T, m *Map[int, int]) {
		const count = 100

		e := make(map[int]int)
		require.EqualValues(t, 0, m.Len())

		// Non-existent.
		for i := 0; i < count; i++ {
			_, ok := m.Get(i)
			require.False(t, ok)
			require.Equal(t, m.End(), m.Find(i))
		}

		// Insert.
		for i := 0; i < count; i++ {
			m.Put(i, i+count)
			e[i] = i + count
			v, ok := m.Get(i)
			require.True(t, ok)
			require.EqualValues(t, i+count, v)
			require.EqualValues(t, i+1, m.Len())
			require.Equal(t, e, m.toBuiltinMap())
		}
		requireRobinHood(t, &m.t)

		// Update.
		for i := 0; i < count; i++ {
			m.Put(i, i+2*count)
			e[i] = i + 2*count
			v, ok := m.Get(i)
			require.True(t, ok)
			require.EqualValues(t, i+2*count, v)
			require.EqualValues(t, count, m.Len())
			require.Equal(t, e, m.toBuiltinMap())
		}

		// Delete.
		for i := 0; i < count; i++ {
			require.True(t, m.Delete(i))
			require.False(t, m.Delete(i))
			delete(e, i)
			require.EqualValues(t, count-i-1, m.Len())
			_, ok := m.Get(i)
			require.False(t, ok)
			require.Equal(t, e, m.toBuiltinMap())
			requireRobinHood(t, &m.t)
		}
	}

	t.Run("normal", func(t *testing.T) {
		test(t, NewMap[int, int](100))
	})

	t.Run("full", func(t *testing.T) {
		test(t, NewMap[int, int](100, WithBucketCount(100)))
	})

	t.Run("degenerate", func(t *testing.T) {
		testDegenerate := func(t *testing.T, h uint64) {
			m := NewMap[int, int](100,
				WithHash(func(key *int) uint64 {
					return h
				}))
			test(t, m)
		}

		for _, v := range []uint64{0, ^uint64(0)} {
			t.Run(fmt.Sprintf("%016x", v), func(t *testing.T) {
				testDegenerate(t, v)
			})
		}
		for i := 0; i < 10; i++ {
			v := rand.Uint64()
			t.Run(fmt.Sprintf("%016x", v), func(t *testing.T) {
				testDegenerate(t, v)
			})
		}
	})
}

func TestRandom(t *testing.T) {
	test := func(t *testing.T, m *Map[int, int], keySpace int) {
		rng := rand.New(rand.NewSource(rand.Int63()))
		e := make(map[int]int)
		var order []int
		for i := 0; i < 10000; i++ {
			switch r := rng.Float64(); {
			case r < 0.5: // 50% inserts
				k, v := rng.Intn(keySpace), rng.Int()
				if _, ok := e[k]; !ok {
					if m.Len() == m.Cap() {
						continue
					}
					order = append(order, k)
				}
				m.Put(k, v)
				e[k] = v
			case r < 0.65: // 15% updates
				if k, _, ok := m.randElement(rng); !ok {
					require.EqualValues(t, 0, m.Len(), e)
				} else {
					v := rng.Int()
					*m.GetPtr(k) = v
					e[k] = v
				}
			case r < 0.80: // 15% deletes
				if k, _, ok := m.randElement(rng); !ok {
					require.EqualValues(t, 0, m.Len(), e)
				} else {
					require.True(t, m.Delete(k))
					delete(e, k)
					order = slices.DeleteFunc(order, func(x int) bool { return x == k })
				}
			case r < 0.95: // 15% lookups
				if k, v, ok := m.randElement(rng); !ok {
					require.EqualValues(t, 0, m.Len(), e)
				} else {
					require.EqualValues(t, e[k], v)
				}
			default: // 5% iterate
				require.Equal(t, e, m.toBuiltinMap())
				require.True(t, slices.Equal(order, m.keys()))
				requireRobinHood(t, &m.t)
			}
			require.EqualValues(t, len(e), m.Len())
		}
		require.True(t, slices.Equal(order, m.keys()))
		requireRobinHood(t, &m.t)
	}

	t.Run("normal", func(t *testing.T) {
		test(t, NewMap[int, int](500), 1000)
	})

	t.Run("full-table", func(t *testing.T) {
		test(t, NewMap[int, int](64, WithBucketCount(64)), 100)
	})

	t.Run("few-fingerprints", func(t *testing.T) {
		// Every key shares one of four fingerprints and one of eight homes.
		m := NewMap[int, int](200, WithHash(func(key *int) uint64 {
			x := uint64(*key)
			return x&3 | (x%8)<<8
		}))
		test(t, m, 400)
	})

	t.Run("degenerate", func(t *testing.T) {
		for _, v := range []uint64{0, ^uint64(0)} {
			t.Run(fmt.Sprintf("%016x", v), func(t *testing.T) {
				m := NewMap[int, int](100, WithHash(func(key *int) uint64 {
					return v
				}))
				test(t, m, 150)
			})
		}
	})
}

func TestPerfectCollisions(t *testing.T) {
	// Every key has the same home bucket and fingerprint, and the table is
	// completely full, so each run covers the whole bucket array.
	const n = 32
	m := NewMap[int, int](n, WithBucketCount(n), WithHash(func(key *int) uint64 {
		return 7<<8 | 0x5a
	}))
	for i := 0; i < n; i++ {
		_, inserted := m.TryEmplace(i, i)
		require.True(t, inserted)
	}
	requireRobinHood(t, &m.t)
	for i := 0; i < n; i++ {
		require.Equal(t, i, *m.GetPtr(i))
	}

	rng := rand.New(rand.NewSource(1))
	for _, i := range rng.Perm(n) {
		require.True(t, m.Delete(i))
		require.False(t, m.Contains(i))
		requireRobinHood(t, &m.t)
	}
	require.Equal(t, 0, m.Len())
}

func TestTryEmplace(t *testing.T) {
	m := NewMap[int, int](4)
	i, inserted := m.TryEmplace(1, 10)
	require.True(t, inserted)
	j, inserted := m.TryEmplace(1, 20)
	require.False(t, inserted)
	require.Equal(t, i, j)
	require.Equal(t, 10, *m.ValueAt(i))
	require.Equal(t, 1, m.KeyAt(i))
	require.Equal(t, i, m.Find(1))
}

func TestIndexStability(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m := NewMap[int, int](100)
	indexes := make(map[int]int)
	for i := 0; i < 1000; i++ {
		k := rng.Intn(200)
		if idx, ok := indexes[k]; ok {
			require.Equal(t, k, m.KeyAt(idx))
			if rng.Intn(2) == 0 {
				next := m.Next(idx)
				require.Equal(t, next, m.DeleteAt(idx))
				delete(indexes, k)
			}
		} else if len(indexes) < m.Cap() {
			idx, inserted := m.TryEmplace(k, k)
			require.True(t, inserted)
			indexes[k] = idx
		}
		// Inserting and deleting other entries never moves an entry.
		for key, idx := range indexes {
			require.Equal(t, key, m.KeyAt(idx))
			require.Equal(t, key, *m.ValueAt(idx))
		}
	}
}

func TestIterateMutate(t *testing.T) {
	m := NewMap[int, int](100)
	for i := 0; i < 100; i++ {
		m.Put(i, i)
	}
	e := m.toBuiltinMap()
	require.EqualValues(t, 100, m.Len())

	// Deleting the entry being visited does not disturb iteration.
	vals := make(map[int]int)
	m.All(func(k, v int) bool {
		if k%2 == 0 {
			m.Delete(k)
		}
		vals[k] = v
		return true
	})
	require.EqualValues(t, e, vals)
	require.EqualValues(t, 50, m.Len())
}

func TestIterationOrder(t *testing.T) {
	m := NewMap[int, int](8)
	for _, k := range []int{5, 3, 9, 1} {
		m.Put(k, k)
	}
	m.Delete(3)
	m.Put(7, 7)
	m.Put(5, 50)
	require.Equal(t, []int{5, 9, 1, 7}, m.keys())

	var rev []int
	for i := m.Last(); i != m.End(); i = m.Prev(i) {
		rev = append(rev, m.KeyAt(i))
	}
	require.Equal(t, []int{7, 1, 9, 5}, rev)
	require.Equal(t, m.First(), m.Next(m.End()))
	require.Equal(t, m.Last(), m.Prev(m.End()))
}

func TestDeleteRange(t *testing.T) {
	m := NewMap[int, int](10)
	for i := 0; i < 10; i++ {
		m.Put(i, i)
	}
	from := m.Find(3)
	to := m.Find(7)
	require.Equal(t, to, m.DeleteRange(from, to))
	require.Equal(t, []int{0, 1, 2, 7, 8, 9}, m.keys())
	requireRobinHood(t, &m.t)

	require.Equal(t, m.End(), m.DeleteRange(m.Find(8), m.End()))
	require.Equal(t, []int{0, 1, 2, 7}, m.keys())

	require.Equal(t, m.End(), m.DeleteRange(m.First(), m.End()))
	require.Equal(t, 0, m.Len())
	requireRobinHood(t, &m.t)
}

func TestDeleteRangeUnreachable(t *testing.T) {
	p := &recordingPolicy{}
	m := NewMap[int, int](4, WithPolicy(p))
	for i := 1; i <= 3; i++ {
		m.Put(i, i*10)
	}
	// Find(1) comes before Find(2) in iteration order.
	require.Equal(t, m.End(), m.DeleteRange(m.Find(2), m.Find(1)))
	require.Len(t, p.violations, 1)
	require.Equal(t, InvalidIndex, p.violations[0].Kind)
	require.Equal(t, []int{1, 2, 3}, m.keys())
	require.Equal(t, map[int]int{1: 10, 2: 20, 3: 30}, m.toBuiltinMap())
	requireRobinHood(t, &m.t)

	s := NewSet[int](4, WithPolicy(p))
	s.Add(1)
	s.Add(2)
	require.Equal(t, s.End(), s.DeleteRange(s.Find(2), s.Find(1)))
	require.Len(t, p.violations, 2)
	require.Equal(t, []int{1, 2}, s.keys())
}

func TestSelfCopy(t *testing.T) {
	p := &recordingPolicy{}
	m := NewMap[int, int](4, WithPolicy(p))
	m.Put(1, 10)
	m.Put(2, 20)
	m.CopyFrom(m)
	m.MoveFrom(m)
	require.Equal(t, map[int]int{1: 10, 2: 20}, m.toBuiltinMap())
	require.Equal(t, []int{1, 2}, m.keys())
	requireRobinHood(t, &m.t)

	s := NewSet[int](4, WithPolicy(p))
	s.Add(1)
	s.Add(2)
	s.CopyFrom(s)
	s.MoveFrom(s)
	require.Equal(t, []int{1, 2}, s.keys())
	requireRobinHood(t, &s.t)
	require.Empty(t, p.violations)
}

func TestClear(t *testing.T) {
	m := NewMap[int, int](1000)
	for i := 0; i < 1000; i++ {
		m.Put(i, i)
	}
	m.Clear()
	require.EqualValues(t, 0, m.Len())
	require.EqualValues(t, 1000, m.Cap())
	m.All(func(k, v int) bool {
		require.Fail(t, "should not iterate")
		return true
	})
	m.t.index.occupied(func(i uint32, _ bucket) {
		require.Fail(t, "bucket still occupied", "%d", i)
	})

	// The map is reusable after clearing.
	for i := 0; i < 1000; i++ {
		m.Put(i, -i)
	}
	require.EqualValues(t, 1000, m.Len())
}

func TestCopyFidelity(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m := NewMap[uint64, uint64](200)
	for i := 0; i < 2000; i++ {
		k := uint64(rng.Intn(400))
		if rng.Intn(3) == 0 {
			m.Delete(k)
		} else if m.Len() < m.Cap() || m.Contains(k) {
			m.Put(k, k*k)
		}
	}

	c := m.Clone()
	// Entries, chain, free list and buckets are copied slot for slot.
	require.Equal(t, m.Bytes(), c.Bytes())
	require.Equal(t, m.keys(), c.keys())
	requireRobinHood(t, &c.t)
	for i := m.First(); i != m.End(); i = m.Next(i) {
		require.Equal(t, i, c.Find(m.KeyAt(i)))
	}

	// Both copies evolve identically.
	for i := 0; i < 500; i++ {
		k := uint64(rng.Intn(400))
		if rng.Intn(2) == 0 {
			m.Delete(k)
			c.Delete(k)
		} else if m.Len() < m.Cap() || m.Contains(k) {
			m.Put(k, k)
			c.Put(k, k)
		}
	}
	require.Equal(t, m.Bytes(), c.Bytes())

	d := NewMap[uint64, uint64](200)
	d.Put(12345, 1)
	d.MoveFrom(c)
	require.Equal(t, m.Bytes(), d.Bytes())
	require.Equal(t, 0, c.Len())
	require.False(t, d.Contains(12345))
}

func TestCapacityExceeded(t *testing.T) {
	m := NewMap[int, int](2)
	m.Put(1, 1)
	m.Put(2, 2)
	// Overwriting never needs a new slot.
	m.Put(2, 3)

	func() {
		defer func() {
			err, ok := recover().(*ViolationError)
			require.True(t, ok)
			require.Equal(t, CapacityExceeded, err.Kind)
			require.Equal(t, 3, err.Attempted)
			require.Equal(t, 2, err.Capacity)
			require.Contains(t, err.Location, "map_test.go:")
			require.Contains(t, err.Error(), "capacity exceeded")
		}()
		m.Put(3, 3)
	}()

	p := &recordingPolicy{}
	m = NewMap[int, int](2, WithPolicy(p))
	m.Put(1, 1)
	m.Put(2, 2)
	idx, inserted := m.TryEmplace(3, 3)
	require.False(t, inserted)
	require.Equal(t, m.End(), idx)
	require.Len(t, p.violations, 1)
	require.Equal(t, CapacityExceeded, p.violations[0].Kind)
	require.Equal(t, 2, m.Len())
	requireRobinHood(t, &m.t)
}

func TestInvalidIndex(t *testing.T) {
	p := &recordingPolicy{}
	m := NewMap[int, int](4, WithPolicy(p))
	i := m.Find(0)
	require.Equal(t, m.End(), i)
	m.Put(0, 0)
	i = m.Find(0)
	m.Put(1, 1)
	m.Delete(0)

	require.Equal(t, m.End(), m.DeleteAt(i))
	require.Equal(t, 0, m.KeyAt(m.End()))
	require.Nil(t, m.ValueAt(-1))
	require.Equal(t, m.End(), m.Next(17))
	require.Len(t, p.violations, 4)
	for _, v := range p.violations {
		require.Equal(t, InvalidIndex, v.Kind)
	}
	require.Equal(t, 1, m.Len())

	require.Panics(t, func() {
		NewMap[int, int](4).KeyAt(2)
	})
}

func TestInvalidConfiguration(t *testing.T) {
	testCases := []struct {
		name string
		fn   func(p CheckingPolicy) int
	}{
		{"negative-capacity", func(p CheckingPolicy) int {
			return NewMap[int, int](-1, WithPolicy(p)).Cap()
		}},
		{"too-few-buckets", func(p CheckingPolicy) int {
			return NewMap[int, int](10, WithPolicy(p), WithBucketCount(9)).BucketCount()
		}},
		{"hash-key-type", func(p CheckingPolicy) int {
			return NewMap[int, int](10, WithPolicy(p), WithHash(func(key *int32) uint64 { return 0 })).Cap()
		}},
		{"pointer-value", func(p CheckingPolicy) int {
			return NewMap[int, string](10, WithPolicy(p)).Cap()
		}},
		{"pointer-key", func(p CheckingPolicy) int {
			return NewSet[*int](10, WithPolicy(p)).Cap()
		}},
	}
	for _, c := range testCases {
		t.Run(c.name, func(t *testing.T) {
			p := &recordingPolicy{}
			c.fn(p)
			require.Len(t, p.violations, 1)
			require.Equal(t, InvalidConfiguration, p.violations[0].Kind)
			require.NotEmpty(t, p.violations[0].Detail)
		})
	}

	require.Panics(t, func() {
		NewMap[int, []byte](1)
	})
}

func TestZeroCapacity(t *testing.T) {
	p := &recordingPolicy{}
	m := NewMap[int, int](0, WithPolicy(p))
	require.Equal(t, 1, m.BucketCount())
	require.False(t, m.Contains(1))
	m.Put(1, 1)
	require.Len(t, p.violations, 1)
	require.Equal(t, 0, m.Len())
}

type countingAllocator struct {
	alloc int
	free  int
}

func (a *countingAllocator) Alloc(n int) []uint64 {
	a.alloc++
	return make([]uint64, n)
}

func (a *countingAllocator) Free(_ []uint64) {
	a.free++
}

func TestAllocator(t *testing.T) {
	a := &countingAllocator{}
	m := NewMap[int, int](100, WithAllocator(a))

	for i := 0; i < 100; i++ {
		m.Put(i, i)
	}
	for i := 0; i < 100; i += 2 {
		m.Delete(i)
	}
	// The image is allocated once, up front.
	require.EqualValues(t, 1, a.alloc)
	require.EqualValues(t, 0, a.free)

	c := m.Clone()
	require.EqualValues(t, 2, a.alloc)

	m.Close()
	m.Close()
	require.EqualValues(t, 1, a.free)
	c.Close()
	require.EqualValues(t, 2, a.free)
}

func TestNoAllocations(t *testing.T) {
	if invariants {
		t.Skip("invariant checks allocate")
	}
	m := NewMap[int, int](1000)
	allocs := testing.AllocsPerRun(10, func() {
		for i := 0; i < 1000; i++ {
			m.Put(i, i)
		}
		for i := 0; i < 1000; i++ {
			m.Get(i)
		}
		for i := 0; i < 1000; i++ {
			m.Delete(i)
		}
	})
	require.Zero(t, allocs)
}

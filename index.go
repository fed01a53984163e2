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

const (
	debug = false

	fingerprintBits = 8
	fingerprintMask = 1<<fingerprintBits - 1
	// distInc is one unit of distance in a packed distAndFingerprint.
	distInc = 1 << fingerprintBits

	// maxBucketCount bounds the bucket count so that a distance (at most the
	// bucket count plus one) always fits in the 24 high bits of
	// distAndFingerprint.
	maxBucketCount = 1<<(32-fingerprintBits) - 2
)

// bucket is one slot of the Robin-Hood array. distAndFingerprint packs the
// low fingerprintBits of the hash below a 1-based distance from the home
// bucket; zero means the bucket is empty. valueIndex is the list index of
// the entry.
type bucket struct {
	distAndFingerprint uint32
	valueIndex         uint32
}

func (b bucket) empty() bool {
	return b.distAndFingerprint == 0
}

func (b bucket) dist() uint32 {
	return b.distAndFingerprint >> fingerprintBits
}

// opaqueIndex is the result of a lookup. If distAndFingerprint is zero the
// key was found in bucketIndex. Otherwise the key is absent and an insertion
// would place a bucket with distAndFingerprint at bucketIndex.
type opaqueIndex struct {
	bucketIndex        uint32
	distAndFingerprint uint32
}

func (o opaqueIndex) found() bool {
	return o.distAndFingerprint == 0
}

// defaultBucketCount returns the bucket count for a table holding n values:
// 30% more buckets than values, which keeps probe sequences short.
func defaultBucketCount(n int) int {
	return max(n+n*3/10, 1)
}

// robinHood is an open addressing index with Robin-Hood displacement and
// backward-shift deletion, so it never needs tombstones. It maps hashes to
// list indexes; it has no notion of iteration order.
//
// The buckets are ordered along every probe run by distAndFingerprint:
// distance first, fingerprint second. A lookup for a candidate can stop as
// soon as the candidate's packed value exceeds the resident's, because the
// candidate would have displaced that resident when it was inserted.
type robinHood struct {
	buckets unsafeSlice[bucket]
	count   uint32
}

// bucketIndexFromHash shifts out the fingerprint bits before reducing the
// hash, so that the home bucket and the fingerprint are independent. If they
// overlapped, every key in a bucket would share its fingerprint and the
// fingerprint would never reject anything.
func (r *robinHood) bucketIndexFromHash(h uint64) uint32 {
	return uint32((h >> fingerprintBits) % uint64(r.count))
}

func distAndFingerprintFromHash(h uint64) uint32 {
	return distInc | uint32(h&fingerprintMask)
}

func (r *robinHood) next(i uint32) uint32 {
	if i++; i == r.count {
		return 0
	}
	return i
}

func (r *robinHood) at(i uint32) *bucket {
	return r.buckets.At(uintptr(i))
}

// find probes for a key with hash h. match reports whether the key stored at
// a list index equals the key being looked up.
func (r *robinHood) find(h uint64, match func(valueIndex uint32) bool) opaqueIndex {
	daf := distAndFingerprintFromHash(h)
	i := r.bucketIndexFromHash(h)
	if debug {
		fmt.Printf("find(%016x): home=%d daf=%08x\n", h, i, daf)
	}
	for {
		b := r.at(i)
		if daf == b.distAndFingerprint {
			if match(b.valueIndex) {
				return opaqueIndex{bucketIndex: i}
			}
		} else if daf > b.distAndFingerprint {
			if debug {
				fmt.Printf("find(not-found): bucket=%d daf=%08x resident=%08x\n", i, daf, b.distAndFingerprint)
			}
			return opaqueIndex{bucketIndex: i, distAndFingerprint: daf}
		}
		daf += distInc
		i = r.next(i)
	}
}

// placeAndShiftUp stores b at bucket i. Every resident from i up to the next
// empty bucket moves one bucket further from its home. The table must have an
// empty bucket.
func (r *robinHood) placeAndShiftUp(b bucket, i uint32) {
	for !r.at(i).empty() {
		b, *r.at(i) = *r.at(i), b
		b.distAndFingerprint += distInc
		i = r.next(i)
	}
	if debug {
		fmt.Printf("place: bucket=%d daf=%08x value=%d\n", i, b.distAndFingerprint, b.valueIndex)
	}
	*r.at(i) = b
}

// eraseBucket empties bucket i by shifting the following residents back one
// bucket, stopping at the first bucket that is empty or already at its home.
// It returns the list index that bucket i referred to.
func (r *robinHood) eraseBucket(i uint32) uint32 {
	valueIndex := r.at(i).valueIndex
	next := r.next(i)
	// A completely full table can form a single run with no resident at its
	// home, so the shift is also bounded by the bucket count.
	for n := uint32(1); n < r.count && r.at(next).distAndFingerprint >= 2*distInc; n++ {
		b := *r.at(next)
		b.distAndFingerprint -= distInc
		*r.at(i) = b
		i, next = next, r.next(next)
	}
	*r.at(i) = bucket{}
	return valueIndex
}

// clear empties every bucket.
func (r *robinHood) clear() {
	clear(r.buckets.Slice(0, uintptr(r.count)))
}

// occupied calls fn for every occupied bucket.
func (r *robinHood) occupied(fn func(i uint32, b bucket)) {
	for i := uint32(0); i < r.count; i++ {
		if b := *r.at(i); !b.empty() {
			fn(i, b)
		}
	}
}

func (r *robinHood) debugString(key func(valueIndex uint32) string) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "buckets=%d\n", r.count)
	for i := uint32(0); i < r.count; i++ {
		b := *r.at(i)
		if b.empty() {
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
			continue
		}
		fmt.Fprintf(&buf, "  %4d: %s [dist=%d fp=%02x value=%d]\n",
			i, key(b.valueIndex), b.dist(), b.distAndFingerprint&fingerprintMask, b.valueIndex)
	}
	return buf.String()
}

// bucketsLayout returns the offset of the bucket array following a list image
// of listSize bytes, and the total image size.
func bucketsLayout(listSize uintptr, count int) (off, size uintptr) {
	off = alignUp(listSize, unsafe.Alignof(bucket{}))
	return off, off + uintptr(count)*unsafe.Sizeof(bucket{})
}

// Copyright 2025 The itable Authors
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

// Package itable implements a slot-allocation container: every inserted
// item is assigned a stable integer index, and items can be retrieved or
// removed either by value or by that index.
//
// The index space is partitioned into fixed-size contiguous ranges owned
// by buckets. A bucket with ordinal o and capacity S owns the indices
// [o*S, o*S+S). An item's index therefore identifies its bucket and its
// slot within that bucket directly:
//
//	ordinal = index / S
//	offset  = index % S
//
// In effect the index is its own hash and the table is collision-free: no
// two items are ever assigned the same slot, and no probing or collision
// resolution is needed on the index path. This is the same trick a slab
// allocator plays, with the additional twist that bucket ordinals are
// recycled.
//
// Insertion is first-fit: the first bucket in the table's internal order
// with a free slot receives the item, and within a bucket the lowest free
// offset is used. When every bucket is full a new one is allocated. A
// bucket is destroyed the moment its last item is removed, and its ordinal
// is pushed onto a LIFO reclaim stack; the next bucket allocation pops the
// stack before advancing the high-water ordinal. Consequently an index can
// be reassigned to a different item after the item it referenced was
// removed and its bucket recycled. Callers must not hold on to an index
// across removal of the item it refers to.
//
// Slot occupancy is tracked with an explicit bitmap per bucket rather than
// a reserved "empty" item value, so any comparable type can be stored,
// including its zero value. Absence is reported through comma-ok returns.
//
// Index-based operations (At, RemoveAt) are O(1): buckets are registered
// in a map keyed by ordinal. Value-based operations (IndexOf, Remove,
// Insert into a non-full table) scan buckets linearly and are O(buckets*S)
// in the worst case.
//
// A Table is NOT goroutine-safe.
package itable

import (
	"fmt"
	"math"
	"strings"
	"unsafe"

	"github.com/bits-and-blooms/bitset"
)

// invariants enables internal consistency checks after every mutation.
// Meant for debugging; checks are O(n) and will tank performance.
const invariants = false

// bucket holds one fixed-size range of the index space. slots is always
// bucketCap in length and live marks which slots currently hold an item.
// filled mirrors live.Count so that first-fit scans don't touch the bitmap.
type bucket[V comparable] struct {
	slots   []V
	live    *bitset.BitSet
	filled  int
	ordinal uint32
}

// freeSlot returns the lowest unoccupied offset in the bucket.
func (b *bucket[V]) freeSlot() (int, bool) {
	if b.filled == len(b.slots) {
		return 0, false
	}
	i, ok := b.live.NextClear(0)
	return int(i), ok
}

// slotOf returns the lowest occupied offset holding v. Equal items are
// indistinguishable; with duplicates this always finds the lowest offset.
func (b *bucket[V]) slotOf(v V) (int, bool) {
	for i, ok := b.live.NextSet(0); ok; i, ok = b.live.NextSet(i + 1) {
		if b.slots[i] == v {
			return int(i), true
		}
	}
	return 0, false
}

// insert writes v into the lowest free slot and returns its offset. The
// caller must have verified the bucket is not full.
func (b *bucket[V]) insert(v V) int {
	off, ok := b.freeSlot()
	if !ok {
		panic("itable: insert into full bucket")
	}
	b.slots[off] = v
	b.live.Set(uint(off))
	b.filled++
	return off
}

// removeAt vacates the slot at off. The caller must have verified the slot
// is occupied. The slot value is zeroed so the table doesn't pin garbage.
func (b *bucket[V]) removeAt(off int) {
	var zero V
	b.slots[off] = zero
	b.live.Clear(uint(off))
	b.filled--
}

// Table assigns stable integer indices to inserted items. See the package
// documentation for the index scheme. The zero value is not usable; use
// New.
type Table[V comparable] struct {
	// The allocator used for bucket slot storage.
	alloc Allocator[V]
	// Live buckets in discovery order. This order, not ordinal order, is
	// what first-fit insertion and value searches walk, so the bucket
	// created (or recycled) most recently is searched last.
	buckets []*bucket[V]
	// byOrdinal indexes live buckets by ordinal for O(1) index lookups.
	byOrdinal map[uint32]*bucket[V]
	// reclaimed is a LIFO stack of ordinals freed by destroyed buckets.
	reclaimed []uint32
	// nextOrdinal is the next never-used ordinal, handed out only when the
	// reclaim stack is empty.
	nextOrdinal uint32
	// The number of items across all buckets.
	used int
	// The fixed slot count of every bucket.
	bucketCap int
	// The number of empty buckets to pre-create during New. Consulted only
	// by New, via WithInitialBuckets.
	cache int
}

// New constructs a Table whose buckets each hold bucketCapacity slots.
// The capacity is fixed for the lifetime of the table and must be at
// least 1. Use WithInitialBuckets to pre-allocate empty buckets and avoid
// first-insert allocation latency.
func New[V comparable](bucketCapacity int, options ...option[V]) *Table[V] {
	if bucketCapacity < 1 {
		panic(fmt.Sprintf("itable: bucket capacity %d out of range", bucketCapacity))
	}
	t := &Table[V]{
		alloc:     defaultAllocator[V]{},
		byOrdinal: make(map[uint32]*bucket[V]),
		bucketCap: bucketCapacity,
	}

	for _, op := range options {
		op.apply(t)
	}

	for i := 0; i < t.cache; i++ {
		t.newBucket()
	}

	t.checkInvariants()
	return t
}

// Close releases slot storage back to the configured allocator. It is
// unnecessary to close a table using the default allocator. It is invalid
// to use a Table after it has been closed, though Close itself is
// idempotent.
func (t *Table[V]) Close() {
	for _, b := range t.buckets {
		t.alloc.FreeSlots(b.slots)
		b.slots = nil
		b.live = nil
		b.filled = 0
	}
	t.buckets = nil
	t.byOrdinal = nil
	t.reclaimed = nil
	t.nextOrdinal = 0
	t.used = 0
	t.alloc = nil
}

// Insert stores v and returns its index. Insert always succeeds; storing
// the same value twice is allowed, though the duplicates are then
// indistinguishable to value-based lookup and removal.
func (t *Table[V]) Insert(v V) int {
	// First-fit over discovery order: the first bucket with room wins,
	// regardless of its ordinal.
	var b *bucket[V]
	for _, cur := range t.buckets {
		if cur.filled < t.bucketCap {
			b = cur
			break
		}
	}
	if b == nil {
		b = t.newBucket()
	}
	off := b.insert(v)
	t.used++
	t.checkInvariants()
	return int(b.ordinal)*t.bucketCap + off
}

// Remove removes the first occurrence of v and returns the index it
// occupied. It returns ok=false if v is not present.
func (t *Table[V]) Remove(v V) (index int, ok bool) {
	for _, b := range t.buckets {
		off, found := b.slotOf(v)
		if !found {
			continue
		}
		b.removeAt(off)
		t.used--
		index = int(b.ordinal)*t.bucketCap + off
		if b.filled == 0 {
			t.destroy(b)
		}
		t.checkInvariants()
		return index, true
	}
	return 0, false
}

// RemoveAt removes and returns the item at index. It returns ok=false,
// with no change to the table, if index is out of range, the owning
// bucket no longer exists, or the slot is vacant. The vacancy check must
// come before any mutation: blindly vacating would corrupt the fill count
// and could tear down a bucket that still holds items.
func (t *Table[V]) RemoveAt(index int) (v V, ok bool) {
	b, off, ok := t.locate(index)
	if !ok || !b.live.Test(uint(off)) {
		var zero V
		return zero, false
	}
	v = b.slots[off]
	b.removeAt(off)
	t.used--
	if b.filled == 0 {
		t.destroy(b)
	}
	t.checkInvariants()
	return v, true
}

// IndexOf returns the index of the first occurrence of v, or ok=false if
// v is not present.
func (t *Table[V]) IndexOf(v V) (index int, ok bool) {
	for _, b := range t.buckets {
		if off, found := b.slotOf(v); found {
			return int(b.ordinal)*t.bucketCap + off, true
		}
	}
	return 0, false
}

// At returns the item at index, or ok=false if the index does not
// currently hold one.
func (t *Table[V]) At(index int) (v V, ok bool) {
	b, off, ok := t.locate(index)
	if !ok || !b.live.Test(uint(off)) {
		var zero V
		return zero, false
	}
	return b.slots[off], true
}

// All calls yield sequentially for each index and item in the table,
// walking buckets in discovery order and slots in ascending offset order.
// If yield returns false, iteration stops. The table must not be mutated
// during iteration.
func (t *Table[V]) All(yield func(index int, v V) bool) {
	for _, b := range t.buckets {
		base := int(b.ordinal) * t.bucketCap
		for i, ok := b.live.NextSet(0); ok; i, ok = b.live.NextSet(i + 1) {
			if !yield(base+int(i), b.slots[i]) {
				return
			}
		}
	}
}

// Clear removes all items. Buckets are retained empty, keeping their
// ordinals and slot storage, so a cleared table behaves like one
// constructed with the same buckets pre-allocated.
func (t *Table[V]) Clear() {
	var zero V
	for _, b := range t.buckets {
		for i, ok := b.live.NextSet(0); ok; i, ok = b.live.NextSet(i + 1) {
			b.slots[i] = zero
		}
		b.live.ClearAll()
		b.filled = 0
	}
	t.used = 0
	t.checkInvariants()
}

// Len returns the number of items in the table.
func (t *Table[V]) Len() int {
	return t.used
}

// BucketCapacity returns the fixed per-bucket slot count S. Every bucket
// of a table owns a contiguous index range of exactly this size.
func (t *Table[V]) BucketCapacity() int {
	return t.bucketCap
}

// ItemSize returns the in-memory size of a single stored item.
func (t *Table[V]) ItemSize() uintptr {
	var v V
	return unsafe.Sizeof(v)
}

// locate resolves an index to its owning bucket and slot offset. ok=false
// if the index is out of range or no live bucket owns its range.
func (t *Table[V]) locate(index int) (*bucket[V], int, bool) {
	if index < 0 {
		return nil, 0, false
	}
	ord := index / t.bucketCap
	if uint64(ord) > math.MaxUint32 {
		return nil, 0, false
	}
	b, ok := t.byOrdinal[uint32(ord)]
	if !ok {
		return nil, 0, false
	}
	return b, index % t.bucketCap, true
}

// newBucket allocates a bucket on the next available ordinal: the top of
// the reclaim stack if any bucket has been destroyed, else a fresh
// ordinal past the high-water mark.
func (t *Table[V]) newBucket() *bucket[V] {
	var ord uint32
	if n := len(t.reclaimed); n > 0 {
		ord = t.reclaimed[n-1]
		t.reclaimed = t.reclaimed[:n-1]
	} else {
		ord = t.nextOrdinal
		t.nextOrdinal++
	}
	b := &bucket[V]{
		slots:   t.alloc.AllocSlots(t.bucketCap),
		live:    bitset.New(uint(t.bucketCap)),
		ordinal: ord,
	}
	t.buckets = append(t.buckets, b)
	t.byOrdinal[ord] = b
	return b
}

// destroy unlinks an emptied bucket, pushes its ordinal onto the reclaim
// stack, and returns its slot storage to the allocator. Destruction is
// terminal: the ordinal may be reused but never by this bucket.
func (t *Table[V]) destroy(b *bucket[V]) {
	for i, cur := range t.buckets {
		if cur == b {
			t.buckets = append(t.buckets[:i], t.buckets[i+1:]...)
			break
		}
	}
	delete(t.byOrdinal, b.ordinal)
	t.reclaimed = append(t.reclaimed, b.ordinal)
	t.alloc.FreeSlots(b.slots)
	b.slots = nil
	b.live = nil
}

// bucketCount returns the number of live buckets.
func (t *Table[V]) bucketCount() int {
	return len(t.buckets)
}

func (t *Table[V]) checkInvariants() {
	if invariants {
		if len(t.buckets) != len(t.byOrdinal) {
			panic(fmt.Sprintf("invariant failed: %d buckets but %d ordinal entries\n%s",
				len(t.buckets), len(t.byOrdinal), t.debugString()))
		}

		var used int
		for _, b := range t.buckets {
			if got := t.byOrdinal[b.ordinal]; got != b {
				panic(fmt.Sprintf("invariant failed: ordinal %d maps to a different bucket\n%s",
					b.ordinal, t.debugString()))
			}
			if b.ordinal >= t.nextOrdinal {
				panic(fmt.Sprintf("invariant failed: ordinal %d at or above high-water %d\n%s",
					b.ordinal, t.nextOrdinal, t.debugString()))
			}
			if len(b.slots) != t.bucketCap {
				panic(fmt.Sprintf("invariant failed: bucket %d has %d slots, want %d\n%s",
					b.ordinal, len(b.slots), t.bucketCap, t.debugString()))
			}
			if c := int(b.live.Count()); c != b.filled {
				panic(fmt.Sprintf("invariant failed: bucket %d filled=%d but %d live slots\n%s",
					b.ordinal, b.filled, c, t.debugString()))
			}
			used += b.filled
		}
		if used != t.used {
			panic(fmt.Sprintf("invariant failed: found %d items, but used count is %d\n%s",
				used, t.used, t.debugString()))
		}

		for _, ord := range t.reclaimed {
			if _, live := t.byOrdinal[ord]; live {
				panic(fmt.Sprintf("invariant failed: reclaimed ordinal %d is still live\n%s",
					ord, t.debugString()))
			}
			if ord >= t.nextOrdinal {
				panic(fmt.Sprintf("invariant failed: reclaimed ordinal %d at or above high-water %d\n%s",
					ord, t.nextOrdinal, t.debugString()))
			}
		}
	}
}

func (t *Table[V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  used=%d  high-water=%d  reclaimed=%v\n",
		t.bucketCap, t.used, t.nextOrdinal, t.reclaimed)
	for _, b := range t.buckets {
		fmt.Fprintf(&buf, "bucket %d: filled=%d\n", b.ordinal, b.filled)
		for i := 0; i < len(b.slots); i++ {
			if b.live.Test(uint(i)) {
				fmt.Fprintf(&buf, "  %4d: %v\n", int(b.ordinal)*t.bucketCap+i, b.slots[i])
			} else {
				fmt.Fprintf(&buf, "  %4d: empty\n", int(b.ordinal)*t.bucketCap+i)
			}
		}
	}
	return buf.String()
}

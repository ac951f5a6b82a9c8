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

package itable

// option provide an interface to do work on Table while it is being
// created.
type option[V comparable] interface {
	apply(t *Table[V])
}

type initialBucketsOption[V comparable] struct {
	n int
}

func (op initialBucketsOption[V]) apply(t *Table[V]) {
	t.cache = op.n
}

// WithInitialBuckets is an option to pre-create n empty buckets during
// New, as a cache that avoids bucket allocation on the first inserts. The
// cached buckets take ordinals 0 through n-1 and stay live while empty.
func WithInitialBuckets[V comparable](n int) option[V] {
	return initialBucketsOption[V]{n}
}

// Allocator specifies an interface for allocating and releasing the slot
// storage used by a Table's buckets. The default allocator utilizes Go's
// builtin make() and allows the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that slots be
// freed then Table.Close must be called in order to ensure FreeSlots is
// called for every bucket still live. Slots of buckets destroyed earlier
// have already been freed.
type Allocator[V comparable] interface {
	// AllocSlots should return a slice equivalent to make([]V, n).
	AllocSlots(n int) []V

	// FreeSlots can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocSlots.
	FreeSlots(v []V)
}

type defaultAllocator[V comparable] struct{}

func (defaultAllocator[V]) AllocSlots(n int) []V {
	return make([]V, n)
}

func (defaultAllocator[V]) FreeSlots(v []V) {
}

type allocatorOption[V comparable] struct {
	allocator Allocator[V]
}

func (op allocatorOption[V]) apply(t *Table[V]) {
	t.alloc = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a
// Table[V].
func WithAllocator[V comparable](allocator Allocator[V]) option[V] {
	return allocatorOption[V]{allocator}
}

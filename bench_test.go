package itable

import (
	"fmt"
	"io"
	"strconv"
	"testing"

	"github.com/aclements/go-perfevent/perfbench"
)

func benchSizes(f func(b *testing.B, n int)) func(*testing.B) {
	var cases = []int{
		16,
		128,
		1024,
		8192,
		1 << 16,
	}

	return func(b *testing.B) {
		for _, n := range cases {
			b.Run("len="+strconv.Itoa(n), func(b *testing.B) { f(b, n) })
		}
	}
}

func benchCapacities(f func(b *testing.B, capacity int)) func(*testing.B) {
	return func(b *testing.B) {
		for _, capacity := range []int{8, 64, 512} {
			b.Run("capacity="+strconv.Itoa(capacity), func(b *testing.B) { f(b, capacity) })
		}
	}
}

// The runtime-map baselines assign indices from a counter, which is the
// closest builtin approximation of what the table does.

func BenchmarkInsertGrow(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(func(b *testing.B, n int) {
		perfbench.Open(b)
		for i := 0; i < b.N; i++ {
			m := make(map[int]int64)
			for j := 0; j < n; j++ {
				m[j] = int64(j)
			}
		}
	}))
	b.Run("impl=itable", benchCapacities(func(b *testing.B, capacity int) {
		benchSizes(func(b *testing.B, n int) {
			perfbench.Open(b)
			for i := 0; i < b.N; i++ {
				tbl := New[int64](capacity)
				for j := 0; j < n; j++ {
					tbl.Insert(int64(j))
				}
			}
		})(b)
	}))
}

func BenchmarkInsertPreAllocate(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(func(b *testing.B, n int) {
		perfbench.Open(b)
		for i := 0; i < b.N; i++ {
			m := make(map[int]int64, n)
			for j := 0; j < n; j++ {
				m[j] = int64(j)
			}
		}
	}))
	b.Run("impl=itable", benchCapacities(func(b *testing.B, capacity int) {
		benchSizes(func(b *testing.B, n int) {
			buckets := (n + capacity - 1) / capacity
			perfbench.Open(b)
			for i := 0; i < b.N; i++ {
				tbl := New[int64](capacity, WithInitialBuckets[int64](buckets))
				for j := 0; j < n; j++ {
					tbl.Insert(int64(j))
				}
			}
		})(b)
	}))
}

func BenchmarkAt(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(func(b *testing.B, n int) {
		m := make(map[int]int64, n)
		for j := 0; j < n; j++ {
			m[j] = int64(j)
		}
		perfbench.Open(b)
		b.ResetTimer()
		var v int64
		for i := 0; i < b.N; i++ {
			v = m[i%n]
		}
		b.StopTimer()
		fmt.Fprint(io.Discard, v)
	}))
	b.Run("impl=itable", benchCapacities(func(b *testing.B, capacity int) {
		benchSizes(func(b *testing.B, n int) {
			tbl := New[int64](capacity)
			indices := make([]int, n)
			for j := 0; j < n; j++ {
				indices[j] = tbl.Insert(int64(j))
			}
			perfbench.Open(b)
			b.ResetTimer()
			var v int64
			var ok bool
			for i := 0; i < b.N; i++ {
				v, ok = tbl.At(indices[i%n])
			}
			b.StopTimer()
			fmt.Fprint(io.Discard, v, ok)
		})(b)
	}))
}

// IndexOf is a linear scan over buckets and slots; this mostly documents
// how it degrades with size.
func BenchmarkIndexOf(b *testing.B) {
	benchCapacities(func(b *testing.B, capacity int) {
		benchSizes(func(b *testing.B, n int) {
			tbl := New[int64](capacity)
			for j := 0; j < n; j++ {
				tbl.Insert(int64(j))
			}
			perfbench.Open(b)
			b.ResetTimer()
			var idx int
			var ok bool
			for i := 0; i < b.N; i++ {
				idx, ok = tbl.IndexOf(int64(i % n))
			}
			b.StopTimer()
			fmt.Fprint(io.Discard, idx, ok)
		})(b)
	})(b)
}

// Steady-state churn: remove by index, reinsert, at a stable size. With
// small buckets this also exercises bucket destruction and ordinal
// recycling.
func BenchmarkRemoveAtInsert(b *testing.B) {
	benchCapacities(func(b *testing.B, capacity int) {
		benchSizes(func(b *testing.B, n int) {
			tbl := New[int64](capacity)
			indices := make([]int, n)
			for j := 0; j < n; j++ {
				indices[j] = tbl.Insert(int64(j))
			}
			perfbench.Open(b)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				j := i % n
				v, _ := tbl.RemoveAt(indices[j])
				indices[j] = tbl.Insert(v)
			}
		})(b)
	})(b)
}

// Package mempool provides size-classed buffer pools for the per-frame hot
// path. Every Get must be paired with a Put; Outstanding reports the balance
// so tests can assert that frames do not leak buffers.
package mempool

import (
	"sync"
	"sync/atomic"
)

const classStep = 1024

// sizeClass rounds n up to the next multiple of 1024, with 1024 as the minimum.
func sizeClass(n int) int {
	if n <= classStep {
		return classStep
	}
	return (n + classStep - 1) / classStep * classStep
}

type slicePool[T any] struct {
	pools       sync.Map // size class -> *sync.Pool
	outstanding atomic.Int64
}

func (sp *slicePool[T]) pool(cls int) *sync.Pool {
	if p, ok := sp.pools.Load(cls); ok {
		return p.(*sync.Pool)
	}
	p, _ := sp.pools.LoadOrStore(cls, &sync.Pool{New: func() any {
		buf := make([]T, cls)
		return &buf
	}})
	return p.(*sync.Pool)
}

func (sp *slicePool[T]) get(n int, zero bool) []T {
	cls := sizeClass(n)
	bp, _ := sp.pool(cls).Get().(*[]T)
	var buf []T
	if bp == nil || cap(*bp) < cls {
		buf = make([]T, cls)
	} else {
		buf = (*bp)[:cap(*bp)]
	}
	buf = buf[:max(n, 0)]
	if zero {
		clear(buf)
	}
	sp.outstanding.Add(1)
	return buf
}

func (sp *slicePool[T]) put(buf []T) {
	if buf == nil {
		return
	}
	sp.outstanding.Add(-1)
	full := buf[:cap(buf)]
	sp.pool(sizeClass(cap(full))).Put(&full)
}

var (
	uint8Pool   slicePool[uint8]
	float32Pool slicePool[float32]
	boolPool    slicePool[bool]
)

// GetUint8 returns a zeroed []uint8 of length n. Return it with PutUint8.
func GetUint8(n int) []uint8 { return uint8Pool.get(n, true) }

// PutUint8 returns a buffer obtained from GetUint8. nil is ignored.
func PutUint8(buf []uint8) { uint8Pool.put(buf) }

// GetFloat32 returns a []float32 of length n. Contents are not cleared.
func GetFloat32(n int) []float32 { return float32Pool.get(n, false) }

// PutFloat32 returns a buffer obtained from GetFloat32. nil is ignored.
func PutFloat32(buf []float32) { float32Pool.put(buf) }

// GetBool returns a []bool of length n with every element false.
func GetBool(n int) []bool { return boolPool.get(n, true) }

// PutBool returns a buffer obtained from GetBool. nil is ignored.
func PutBool(buf []bool) { boolPool.put(buf) }

// Outstanding reports how many buffers have been handed out and not returned,
// across all pools.
func Outstanding() int64 {
	return uint8Pool.outstanding.Load() + float32Pool.outstanding.Load() + boolPool.outstanding.Load()
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gathernd

import (
	"math"
	"sync/atomic"
	"unsafe"
)

// atomicAddFloat32 adds delta to *addr with a compare-and-swap loop on the bit pattern.
func atomicAddFloat32(addr *float32, delta float32) {
	ptr := (*uint32)(unsafe.Pointer(addr))
	for {
		old := atomic.LoadUint32(ptr)
		sum := math.Float32bits(math.Float32frombits(old) + delta)
		if atomic.CompareAndSwapUint32(ptr, old, sum) {
			return
		}
	}
}

// atomicAddFloat64 adds delta to *addr with a compare-and-swap loop on the bit pattern.
func atomicAddFloat64(addr *float64, delta float64) {
	ptr := (*uint64)(unsafe.Pointer(addr))
	for {
		old := atomic.LoadUint64(ptr)
		sum := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(ptr, old, sum) {
			return
		}
	}
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gathernd/pkg/core/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Scratch is an operation-scoped temporary buffer owned by whoever allocated it, until Release is called.
//
// The contents of a newly allocated Scratch are undefined: buffers are recycled.
type Scratch[T dtypes.Supported] struct {
	backend  *Backend
	key      scratchPoolKey
	flat     []T
	released bool
}

type scratchPoolKey struct {
	dtype  dtypes.DType
	length int
}

// getScratchPool for given dtype/length.
func getScratchPool[T dtypes.Supported](b *Backend, key scratchPoolKey) *sync.Pool {
	poolInterface, ok := b.scratchPools.Load(key)
	if !ok {
		poolInterface, _ = b.scratchPools.LoadOrStore(key, &sync.Pool{
			New: func() interface{} {
				return &Scratch[T]{
					backend: b,
					key:     key,
					flat:    make([]T, key.length),
				}
			},
		})
	}
	return poolInterface.(*sync.Pool)
}

// AllocateScratch returns a scratch buffer with count elements of type T, taken from the backend pools.
// Call Scratch.Release when done with it.
func AllocateScratch[T dtypes.Supported](b *Backend, count int) (*Scratch[T], error) {
	if err := b.CheckValid(); err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, errors.Errorf("AllocateScratch: negative count %d", count)
	}
	key := scratchPoolKey{dtype: dtypes.FromGenericsType[T](), length: count}
	s := getScratchPool[T](b, key).Get().(*Scratch[T])
	s.released = false
	if klog.V(2).Enabled() {
		klog.Infof("scratch allocated: %d x %s (%s)", count, key.dtype, humanize.Bytes(uint64(count*key.dtype.Size())))
	}
	return s, nil
}

// Flat returns the scratch contents. It is invalid after Release.
func (s *Scratch[T]) Flat() []T {
	return s.flat
}

// Len returns the number of elements in the scratch buffer.
func (s *Scratch[T]) Len() int {
	return len(s.flat)
}

// Release returns the buffer to the backend pools. Any references to Flat() should be dropped.
// Calling Release more than once is a no-op.
func (s *Scratch[T]) Release() {
	if s == nil || s.released {
		return
	}
	s.released = true
	if s.backend.CheckValid() != nil {
		return
	}
	getScratchPool[T](s.backend, s.key).Put(s)
}

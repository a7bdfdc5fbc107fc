// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"github.com/gomlx/gathernd/pkg/core/dtypes"
	"github.com/pkg/errors"
)

// CopyHostToDevice transfers src into the execution domain buffer dst.
//
// The CPU backend executes on host memory, so this is a bulk copy, but kernels should only read tables
// (e.g. the stride table) through buffers transferred this way.
func CopyHostToDevice[T dtypes.Supported](dst *Scratch[T], src []T) error {
	if dst == nil || dst.released {
		return errors.New("CopyHostToDevice: destination scratch buffer is nil or released")
	}
	if len(src) != dst.Len() {
		return errors.Errorf("CopyHostToDevice: source has %d elements, destination has %d", len(src), dst.Len())
	}
	copy(dst.flat, src)
	return nil
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/gomlx/gathernd/pkg/core/dtypes"
	"github.com/pkg/errors"
)

// Attribute names understood by the registered operations.
const (
	AttrBatchDims  = "batch_dims"
	AttrIndexDType = "index_dtype"
)

// Attributes are the static (non-tensor) parameters of an operation invocation.
// A nil Attributes is valid and has no values set.
type Attributes map[string]any

// Int returns the integer attribute key, or defaultValue if it is not set.
func (a Attributes) Int(key string, defaultValue int) (int, error) {
	value, found := a[key]
	if !found {
		return defaultValue, nil
	}
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	}
	return 0, errors.Errorf("attribute %q must be an integer, got %T", key, value)
}

// DType returns the dtype attribute key, given either as a dtypes.DType or by name, or defaultValue
// if it is not set.
func (a Attributes) DType(key string, defaultValue dtypes.DType) (dtypes.DType, error) {
	value, found := a[key]
	if !found {
		return defaultValue, nil
	}
	switch v := value.(type) {
	case dtypes.DType:
		return v, nil
	case string:
		dtype, err := dtypes.FromName(v)
		if err != nil {
			return dtypes.InvalidDType, errors.WithMessagef(err, "attribute %q", key)
		}
		return dtype, nil
	}
	return dtypes.InvalidDType, errors.Errorf("attribute %q must be a dtype, got %T", key, value)
}

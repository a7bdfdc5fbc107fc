// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ops holds a Registry of the operations available by name, with their input conventions,
// attributes and kernels.
//
// There is no global registry: create one with NewRegistry (which registers "Gather" and "GatherGrad")
// and pass it to whatever needs to execute operations by name.
//
// Input conventions:
//
//   - Gather(data, indices), attributes batch_dims (default 0) and index_dtype (default Int64).
//   - GatherGrad(shape, indices, updates), where shape is an Int64 tensor of rank 1 with the dimensions
//     of the gradient (the shape of the forward data). Same attributes as Gather. It requires a
//     backend in training mode.
package ops

import (
	"slices"
	"sync"

	"github.com/gomlx/gathernd/backends"
	"github.com/gomlx/gathernd/backends/gathernd"
	"github.com/gomlx/gathernd/pkg/core/dtypes"
	"github.com/gomlx/gathernd/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrNotRegistered is returned when looking up an unknown operation name.
	ErrNotRegistered = errors.New("operation not registered")

	// ErrAlreadyRegistered is returned when registering a name twice.
	ErrAlreadyRegistered = errors.New("operation already registered")

	// ErrWrongNumberOfInputs is returned by Execute when the number of inputs doesn't match the definition.
	ErrWrongNumberOfInputs = errors.New("wrong number of inputs")
)

// Kernel executes an operation on the backend.
type Kernel func(backend *backends.Backend, inputs []*tensors.Tensor, attrs Attributes) (*tensors.Tensor, error)

// Definition describes a registered operation.
type Definition struct {
	Name string
	Type OpType

	// NumInputs is the exact number of input tensors the operation takes.
	NumInputs int

	// TrainingOnly operations can only be executed on backends in training mode.
	TrainingOnly bool

	// DTypes are the supported element types of the input DataInput. If empty any dtype is accepted.
	DTypes    []dtypes.DType
	DataInput int

	// IndexDType is the only supported dtype for indices.
	IndexDType dtypes.DType

	Kernel Kernel
}

// Registry maps operation names to their definitions. It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewEmptyRegistry returns a Registry without any operations.
func NewEmptyRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// NewRegistry returns a Registry with the GatherND operations registered:
// "Gather" (stable) and "GatherGrad" (training only).
func NewRegistry() *Registry {
	r := NewEmptyRegistry()
	for _, def := range []Definition{
		{
			Name:       "Gather",
			Type:       OpTypeGather,
			NumInputs:  2,
			DTypes:     gathernd.SupportedDTypes(),
			IndexDType: gathernd.IndexDType,
			Kernel:     execGather,
		},
		{
			Name:         "GatherGrad",
			Type:         OpTypeGatherGrad,
			NumInputs:    3,
			TrainingOnly: true,
			DTypes:       gathernd.SupportedDTypes(),
			DataInput:    2,
			IndexDType:   gathernd.IndexDType,
			Kernel:       execGatherGrad,
		},
	} {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds the operation definition to the registry.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return errors.New("Registry.Register: operation name is empty")
	}
	if def.Kernel == nil {
		return errors.Errorf("Registry.Register(%q): nil kernel", def.Name)
	}
	if def.NumInputs < 0 {
		return errors.Errorf("Registry.Register(%q): negative number of inputs %d", def.Name, def.NumInputs)
	}
	if len(def.DTypes) > 0 && (def.DataInput < 0 || def.DataInput >= def.NumInputs) {
		return errors.Errorf("Registry.Register(%q): data input #%d out of range for %d inputs",
			def.Name, def.DataInput, def.NumInputs)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.defs[def.Name]; found {
		return errors.Wrapf(ErrAlreadyRegistered, "Registry.Register(%q)", def.Name)
	}
	def.DTypes = slices.Clone(def.DTypes)
	r.defs[def.Name] = &def
	klog.V(2).Infof("registered operation %q (%s, training only=%v)", def.Name, def.Type, def.TrainingOnly)
	return nil
}

// Lookup returns the definition of the named operation.
// The returned definition should not be modified.
func (r *Registry) Lookup(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, found := r.defs[name]
	if !found {
		return nil, errors.Wrapf(ErrNotRegistered, "operation %q", name)
	}
	return def, nil
}

// SupportedOps returns the sorted names of the registered operations.
func (r *Registry) SupportedOps() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Execute runs the named operation on the backend.
//
// Before calling the kernel it checks the number of inputs, the dtype of the data input
// (gathernd.ErrUnsupportedElementType), the training mode requirement (gathernd.ErrGradientUnsupported)
// and the index_dtype attribute (gathernd.ErrUnsupportedIndexType).
func (r *Registry) Execute(backend *backends.Backend, name string, inputs []*tensors.Tensor, attrs Attributes) (*tensors.Tensor, error) {
	def, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	if len(inputs) != def.NumInputs {
		return nil, errors.Wrapf(ErrWrongNumberOfInputs, "%s takes %d inputs, %d given", name, def.NumInputs, len(inputs))
	}
	for ii, input := range inputs {
		if input == nil {
			return nil, errors.Errorf("%s: input #%d is nil", name, ii)
		}
	}
	if len(def.DTypes) > 0 {
		if dtype := inputs[def.DataInput].DType(); !slices.Contains(def.DTypes, dtype) {
			return nil, errors.Wrapf(gathernd.ErrUnsupportedElementType, "%s: input #%d has dtype %s, supported dtypes are %v",
				name, def.DataInput, dtype, def.DTypes)
		}
	}
	if def.TrainingOnly && !backend.IsTraining() {
		return nil, errors.Wrapf(gathernd.ErrGradientUnsupported, "%s on backend %s", name, backend)
	}
	indexDType, err := attrs.DType(AttrIndexDType, def.IndexDType)
	if err != nil {
		return nil, errors.WithMessage(err, name)
	}
	if indexDType != def.IndexDType {
		return nil, errors.Wrapf(gathernd.ErrUnsupportedIndexType, "%s: %s=%s, only %s is supported",
			name, AttrIndexDType, indexDType, def.IndexDType)
	}
	klog.V(1).Infof("executing %s with %d inputs", name, len(inputs))
	return def.Kernel(backend, inputs, attrs)
}

func execGather(backend *backends.Backend, inputs []*tensors.Tensor, attrs Attributes) (*tensors.Tensor, error) {
	batchDims, err := attrs.Int(AttrBatchDims, 0)
	if err != nil {
		return nil, err
	}
	return gathernd.Gather(backend, inputs[0], inputs[1], batchDims)
}

func execGatherGrad(backend *backends.Backend, inputs []*tensors.Tensor, attrs Attributes) (*tensors.Tensor, error) {
	batchDims, err := attrs.Int(AttrBatchDims, 0)
	if err != nil {
		return nil, err
	}
	shape := inputs[0]
	if shape.DType() != dtypes.Int64 || shape.Rank() != 1 {
		return nil, errors.Errorf("GatherGrad: shape input must be an Int64 tensor of rank 1, got %s", shape.Shape())
	}
	var targetDims []int
	if err := tensors.ConstFlatData(shape, func(flat []int64) {
		targetDims = make([]int, len(flat))
		for ii, dim := range flat {
			targetDims[ii] = int(dim)
		}
	}); err != nil {
		return nil, err
	}
	return gathernd.GatherGrad(backend, targetDims, inputs[1], inputs[2], batchDims)
}

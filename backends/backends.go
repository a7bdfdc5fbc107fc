// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the CPU Backend the gathernd operations execute on.
//
// A Backend owns the services the operations need from their surroundings: a pool of workers for
// data-parallel kernels, pools of scratch buffers for operation-scoped temporary storage, the
// host-to-device copy primitive, and the configuration (parallelism, training mode, bounds checking).
//
// Backends are created explicitly with New (or NewFromEnv, which reads $GATHERND_BACKEND), and
// passed to the operations -- there is no global default backend.
package backends

import (
	"os"
	"sync"

	"github.com/gomlx/gathernd/internal/workerspool"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ConfigEnvVar is the environment variable with the default backend configuration to use.
//
// See ParseConfig for the format of the configuration string.
const ConfigEnvVar = "GATHERND_BACKEND"

// DefaultConfig is used by NewFromEnv if ConfigEnvVar is not set.
var DefaultConfig = ""

// ErrFinalized is returned when using a Backend after Finalize was called.
var ErrFinalized = errors.New("backend already finalized")

// Backend executes gathernd operations on the CPU.
type Backend struct {
	config  Config
	workers *workerspool.Pool

	// scratchPools are a map to pools of scratch buffers that can be reused.
	// The underlying type is map[scratchPoolKey]*sync.Pool.
	scratchPools sync.Map

	mu        sync.Mutex
	finalized bool
}

// New constructs a new Backend with the given configuration string. See ParseConfig for the format.
func New(config string) (*Backend, error) {
	cfg, err := ParseConfig(config)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg), nil
}

// NewWithConfig constructs a new Backend from an already parsed Config.
func NewWithConfig(cfg Config) *Backend {
	b := &Backend{
		config:  cfg,
		workers: workerspool.NewWithParallelism(cfg.Parallelism),
	}
	klog.V(1).Infof("gathernd backend created: %s", cfg)
	return b
}

// NewFromEnv constructs a new Backend configured by $GATHERND_BACKEND, or DefaultConfig if it is not set.
func NewFromEnv() (*Backend, error) {
	config, found := os.LookupEnv(ConfigEnvVar)
	if !found {
		config = DefaultConfig
	}
	b, err := New(config)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid $%s", ConfigEnvVar)
	}
	return b, nil
}

// MustNew is like New, but panics on error.
func MustNew(config string) *Backend {
	b, err := New(config)
	if err != nil {
		panic(err)
	}
	return b
}

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return "gathernd (cpu)"
}

// String implements fmt.Stringer.
func (b *Backend) String() string {
	return b.Name() + " " + b.config.String()
}

// Config returns the backend configuration.
func (b *Backend) Config() Config {
	return b.config
}

// Workers returns the pool of workers used for parallel kernels.
func (b *Backend) Workers() *workerspool.Pool {
	return b.workers
}

// IsTraining returns whether reverse-mode differentiation (gradient operations) is enabled.
func (b *Backend) IsTraining() bool {
	return b.config.Training
}

// CheckBounds returns whether index tuples are bounds-checked before kernels run.
func (b *Backend) CheckBounds() bool {
	return b.config.CheckBounds
}

// MinChunk is the minimum number of elements processed by one parallel task.
func (b *Backend) MinChunk() int {
	return b.config.MinChunk
}

// CheckValid returns ErrFinalized if the backend was finalized.
func (b *Backend) CheckValid() error {
	if b == nil {
		return errors.New("nil backend")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return errors.WithStack(ErrFinalized)
	}
	return nil
}

// Finalize releases all the associated resources immediately, and makes the backend invalid.
func (b *Backend) Finalize() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return
	}
	b.finalized = true
	b.scratchPools.Clear()
	klog.V(1).Infof("gathernd backend finalized")
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultMinChunk is the default minimum number of elements copied or accumulated by one parallel task.
const DefaultMinChunk = 4096

// Config of a Backend.
type Config struct {
	// Parallelism is the soft target of parallel workers: 0 disables parallelism, -1 is unlimited.
	Parallelism int

	// Training enables gradient operations (GatherGrad).
	Training bool

	// CheckBounds validates every index tuple component against the target dimensions before any
	// kernel runs. Off by default: out-of-range indices are then unchecked.
	CheckBounds bool

	// MinChunk is the minimum number of elements processed by one parallel task.
	MinChunk int
}

// ParseConfig parses a comma-separated list of options:
//
//   - "parallelism=N": soft target of parallel workers. 0 disables parallelism, -1 is unlimited.
//     Default is runtime.NumCPU().
//   - "training" or "inference": enables or disables gradient operations. Default is "inference".
//   - "checkbounds": enables bounds checking of index tuples.
//   - "chunk=N": minimum number of elements per parallel task. Default is DefaultMinChunk.
//
// An empty string returns the default configuration.
func ParseConfig(config string) (Config, error) {
	cfg := Config{
		Parallelism: runtime.NumCPU(),
		MinChunk:    DefaultMinChunk,
	}
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		switch key {
		case "parallelism":
			n, err := parseIntValue(key, value, hasValue)
			if err != nil {
				return cfg, err
			}
			if n < -1 {
				return cfg, errors.Errorf("backend config %q: parallelism must be >= -1, got %d", part, n)
			}
			cfg.Parallelism = n
		case "chunk":
			n, err := parseIntValue(key, value, hasValue)
			if err != nil {
				return cfg, err
			}
			if n <= 0 {
				return cfg, errors.Errorf("backend config %q: chunk must be > 0, got %d", part, n)
			}
			cfg.MinChunk = n
		case "training":
			cfg.Training = true
		case "inference":
			cfg.Training = false
		case "checkbounds":
			cfg.CheckBounds = true
		default:
			return cfg, errors.Errorf("unknown backend config option %q in %q", key, config)
		}
	}
	return cfg, nil
}

func parseIntValue(key, value string, hasValue bool) (int, error) {
	if !hasValue {
		return 0, errors.Errorf("backend config option %q requires a value (%s=N)", key, key)
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "backend config option %q has invalid value %q", key, value)
	}
	return n, nil
}

// String returns the configuration in the format accepted by ParseConfig.
func (c Config) String() string {
	parts := []string{fmt.Sprintf("parallelism=%d", c.Parallelism), fmt.Sprintf("chunk=%d", c.MinChunk)}
	if c.Training {
		parts = append(parts, "training")
	} else {
		parts = append(parts, "inference")
	}
	if c.CheckBounds {
		parts = append(parts, "checkbounds")
	}
	return strings.Join(parts, ",")
}

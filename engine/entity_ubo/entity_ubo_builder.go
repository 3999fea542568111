package entity_ubo

import (
	"log/slog"

	"github.com/Carmen-Shannon/oxy-deferred/engine/buffer_pool"
)

type registryConfig struct {
	picking     bool
	workers     int
	chunkSize   int
	debug       bool
	logger      *slog.Logger
	poolOptions []buffer_pool.PoolBuilderOption
}

// RegistryBuilderOption is a functional option for configuring a Registry.
type RegistryBuilderOption func(*registryConfig)

// WithPicking enables the per-entity picking id slice.
//
// Parameters:
//   - enabled: true to allocate a GPUPickingID slice for every entry
//
// Returns:
//   - RegistryBuilderOption: a function that applies the picking option
func WithPicking(enabled bool) RegistryBuilderOption {
	return func(c *registryConfig) {
		c.picking = enabled
	}
}

// WithWorkers sets how many workers run the per-frame transform update.
//
// Parameters:
//   - n: the worker count; values below 1 use one worker
//
// Returns:
//   - RegistryBuilderOption: a function that applies the worker count
func WithWorkers(n int) RegistryBuilderOption {
	return func(c *registryConfig) {
		c.workers = n
	}
}

// WithChunkSize sets how many entries one transform update task handles.
//
// Parameters:
//   - n: entries per task
//
// Returns:
//   - RegistryBuilderOption: a function that applies the chunk size
func WithChunkSize(n int) RegistryBuilderOption {
	return func(c *registryConfig) {
		c.chunkSize = n
	}
}

// WithDebug turns contract violations into panics: stale entries during Update, and double releases in the
// backing pools.
//
// Parameters:
//   - debug: true to enable the checks
//
// Returns:
//   - RegistryBuilderOption: a function that applies the debug option
func WithDebug(debug bool) RegistryBuilderOption {
	return func(c *registryConfig) {
		c.debug = debug
	}
}

// WithLogger sets the logger for the registry and its pools.
//
// Parameters:
//   - l: the logger; nil uses the package default
//
// Returns:
//   - RegistryBuilderOption: a function that applies the logger
func WithLogger(l *slog.Logger) RegistryBuilderOption {
	return func(c *registryConfig) {
		c.logger = l
	}
}

// WithPoolOptions passes extra options to every backing pool, such as initial and maximum capacity.
//
// Parameters:
//   - opts: options applied after the registry's own pool options
//
// Returns:
//   - RegistryBuilderOption: a function that applies the pool options
func WithPoolOptions(opts ...buffer_pool.PoolBuilderOption) RegistryBuilderOption {
	return func(c *registryConfig) {
		c.poolOptions = append(c.poolOptions, opts...)
	}
}

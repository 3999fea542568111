package buffer_pool

import "log/slog"

type poolConfig struct {
	label           string
	initialCapacity uint32
	maxCapacity     uint32
	alignment       uint64
	debug           bool
	logger          *slog.Logger
}

// PoolBuilderOption is a function that configures a Pool during construction.
type PoolBuilderOption func(*poolConfig)

// WithLabel is an option builder that sets the debug label used for device pages and log lines.
//
// Parameters:
//   - label: the pool label
//
// Returns:
//   - PoolBuilderOption: a function that applies the label option
func WithLabel(label string) PoolBuilderOption {
	return func(c *poolConfig) {
		c.label = label
	}
}

// WithInitialCapacity is an option builder that sets the slice count of the first page.
// Every later page doubles the total capacity. Defaults to 64.
//
// Parameters:
//   - n: the number of slices in the first page
//
// Returns:
//   - PoolBuilderOption: a function that applies the initial capacity option
func WithInitialCapacity(n uint32) PoolBuilderOption {
	return func(c *poolConfig) {
		c.initialCapacity = n
	}
}

// WithMaxCapacity is an option builder that caps the total slice count. Acquire returns
// ErrPoolExhausted once the cap is reached. Zero means unbounded.
//
// Parameters:
//   - n: the maximum number of slices
//
// Returns:
//   - PoolBuilderOption: a function that applies the max capacity option
func WithMaxCapacity(n uint32) PoolBuilderOption {
	return func(c *poolConfig) {
		c.maxCapacity = n
	}
}

// WithAlignment is an option builder that sets the stride alignment in bytes. Defaults to 256,
// the WebGPU minimum uniform buffer offset alignment, so every slice can be bound by offset.
//
// Parameters:
//   - align: the alignment in bytes, a power of two
//
// Returns:
//   - PoolBuilderOption: a function that applies the alignment option
func WithAlignment(align uint64) PoolBuilderOption {
	return func(c *poolConfig) {
		if align > 0 {
			c.alignment = align
		}
	}
}

// WithDebug is an option builder that turns on ownership checks that panic on double release.
//
// Parameters:
//   - debug: whether debug checks are enabled
//
// Returns:
//   - PoolBuilderOption: a function that applies the debug option
func WithDebug(debug bool) PoolBuilderOption {
	return func(c *poolConfig) {
		c.debug = debug
	}
}

// WithLogger is an option builder that sets the logger. Defaults to the package logger.
//
// Parameters:
//   - l: the logger
//
// Returns:
//   - PoolBuilderOption: a function that applies the logger option
func WithLogger(l *slog.Logger) PoolBuilderOption {
	return func(c *poolConfig) {
		c.logger = l
	}
}

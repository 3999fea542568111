// Package frame_graph defines the contract between render passes and the layer that schedules
// them on a device. Passes declare what they read and write; a Graph decides how to order them,
// inserting the barriers and layout transitions a backend needs.
package frame_graph

import (
	"errors"

	"github.com/Carmen-Shannon/oxy-deferred/common"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/pipeline"
)

// Signal identifies the completion of a submitted pass, in the manner of a timeline semaphore value.
// A pass that waits on a Signal does not start until the pass that produced it has finished.
type Signal uint64

// NoSignal is the zero Signal. Waiting on it imposes no ordering.
const NoSignal Signal = 0

var (
	// ErrUnknownSignal is returned when a pass waits on a signal the graph never produced.
	ErrUnknownSignal = errors.New("frame_graph: unknown signal")

	// ErrInvalidPass is returned when a pass description is malformed.
	ErrInvalidPass = errors.New("frame_graph: invalid pass")

	// ErrUnknownPipeline is returned when a draw references a pipeline that was never registered.
	ErrUnknownPipeline = errors.New("frame_graph: pipeline not registered")
)

// ImageDescriptor describes an image to create.
type ImageDescriptor struct {
	Label  string
	Width  int
	Height int
	Format common.TextureFormat
}

// Image is a 2D device image owned by a Graph.
type Image interface {
	Label() string
	Width() int
	Height() int
	Format() common.TextureFormat
}

// BufferDescriptor describes a device buffer to create.
type BufferDescriptor struct {
	Label string
	Size  uint64
}

// Buffer is a device buffer owned by a Graph. Buffers created through a Graph are usable as
// uniform or storage bindings and as copy destinations.
type Buffer interface {
	Label() string
	Size() uint64
}

// Graph schedules passes on a device and owns the images and buffers they use.
type Graph interface {
	// CreateImage allocates a device image.
	//
	// Parameters:
	//   - desc: the image size, format and debug label
	//
	// Returns:
	//   - Image: the created image
	//   - error: an error if the device could not allocate the image
	CreateImage(desc ImageDescriptor) (Image, error)

	// ReleaseImage frees a device image. The image must not be referenced by passes submitted afterwards.
	//
	// Parameters:
	//   - img: the image to release
	ReleaseImage(img Image)

	// CreateBuffer allocates a device buffer.
	//
	// Parameters:
	//   - desc: the buffer size and debug label
	//
	// Returns:
	//   - Buffer: the created buffer
	//   - error: an error if the device could not allocate the buffer
	CreateBuffer(desc BufferDescriptor) (Buffer, error)

	// WriteBuffer schedules a host-to-device write that is visible to every pass submitted afterwards.
	//
	// Parameters:
	//   - buf: the destination buffer
	//   - offset: the byte offset into buf, a multiple of 4
	//   - data: the bytes to write, a multiple of 4 in length
	//
	// Returns:
	//   - error: an error if the write is out of range
	WriteBuffer(buf Buffer, offset uint64, data []byte) error

	// ReleaseBuffer frees a device buffer.
	//
	// Parameters:
	//   - buf: the buffer to release
	ReleaseBuffer(buf Buffer)

	// RegisterPipeline compiles a pipeline for the backend. Pipelines must be registered once before any
	// pass draws with them; registering the same key again is a no-op.
	//
	// Parameters:
	//   - p: the pipeline description
	//
	// Returns:
	//   - error: an error if compilation fails
	RegisterPipeline(p pipeline.Pipeline) error

	// Submit records and submits a pass without blocking. The pass starts only after pass.Wait has
	// completed and after every earlier submitted pass that writes an image this pass touches.
	//
	// Parameters:
	//   - pass: the pass description
	//
	// Returns:
	//   - Signal: the signal completed when this pass finishes
	//   - error: an error if the pass is invalid or the device rejects it
	Submit(pass *Pass) (Signal, error)
}

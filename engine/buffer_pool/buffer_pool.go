package buffer_pool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Carmen-Shannon/oxy-deferred/common"
	"github.com/Carmen-Shannon/oxy-deferred/engine/logger"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/frame_graph"
)

// ErrPoolExhausted is returned by Acquire when the pool has reached its configured maximum capacity.
var ErrPoolExhausted = errors.New("buffer_pool: pool exhausted")

// ErrInvalidSlice is returned when a slice was not handed out by the pool or has already been released.
var ErrInvalidSlice = errors.New("buffer_pool: invalid slice")

// Record is the constraint for pooled record types: a pointer to a fixed-size GPU struct that
// knows its size and its little-endian wire layout.
type Record[T any] interface {
	*T
	Size() int
	Marshal() []byte
}

// Device allocates the device pages backing a pool.
type Device interface {
	CreateBuffer(desc frame_graph.BufferDescriptor) (frame_graph.Buffer, error)
	ReleaseBuffer(buf frame_graph.Buffer)
}

// Uploader receives the batched writes produced by Upload.
type Uploader interface {
	WriteBuffer(buf frame_graph.Buffer, offset uint64, data []byte) error
}

// Slice is a handle to one fixed-stride record inside a pool. The zero Slice is invalid.
type Slice struct {
	id uint32
}

// Valid reports whether the slice was handed out by a pool (it may since have been released).
func (s Slice) Valid() bool {
	return s.id != 0
}

// Index returns the slice's position across all pages, usable as an instance index in shaders.
func (s Slice) Index() uint32 {
	return s.id - 1
}

func (s Slice) String() string {
	if !s.Valid() {
		return "slice(invalid)"
	}
	return fmt.Sprintf("slice(%d)", s.Index())
}

type page struct {
	buffer   frame_graph.Buffer
	start    uint32
	capacity uint32
}

// Pool hands out and reclaims fixed-stride slices of device memory holding records of type T.
//
// Each pool is independent; subsystems keep one pool per record kind. A slice is exclusively
// owned by its holder from Acquire until Release. Record contents live on the host until Upload
// flushes the dirty ones to the device.
type Pool[T any] interface {
	// Acquire returns a free, zeroed slice, growing the pool by a new device page when none is free.
	//
	// Returns:
	//   - Slice: the acquired slice
	//   - error: ErrPoolExhausted when the maximum capacity is reached, or the device allocation error
	Acquire() (Slice, error)

	// Release returns a slice to the free list. The caller must not use the slice afterwards.
	// With debug enabled a double release panics; otherwise it is ignored.
	//
	// Parameters:
	//   - s: the slice to release
	Release(s Slice)

	// Write opens a scoped writer over the slice's record. The pool stays locked until the writer is
	// closed, and closing marks the slice dirty. Always pair with defer w.Close().
	//
	// Parameters:
	//   - s: an owned slice
	//
	// Returns:
	//   - *Writer[T]: the open writer
	//   - error: ErrInvalidSlice if s is not currently owned
	Write(s Slice) (*Writer[T], error)

	// Update runs fn against the slice's record inside a scoped writer, closing it on every exit path.
	//
	// Parameters:
	//   - s: an owned slice
	//   - fn: the mutation; its error is returned unchanged
	//
	// Returns:
	//   - error: ErrInvalidSlice, or the error returned by fn
	Update(s Slice, fn func(rec *T) error) error

	// Read returns a copy of the slice's record.
	//
	// Parameters:
	//   - s: an owned slice
	//
	// Returns:
	//   - T: the record
	//   - error: ErrInvalidSlice if s is not currently owned
	Read(s Slice) (T, error)

	// Binding returns the byte range of the page buffer that holds the slice, ready to be attached to a draw.
	// The offset is a multiple of the pool alignment and the size is the record size.
	//
	// Parameters:
	//   - s: an owned slice
	//
	// Returns:
	//   - frame_graph.BufferBinding: the page buffer, record offset and record size
	//   - error: ErrInvalidSlice if s is not currently owned
	Binding(s Slice) (frame_graph.BufferBinding, error)

	// Owns reports whether s is currently handed out.
	Owns(s Slice) bool

	// Upload flushes every dirty record to the device, coalescing contiguous dirty slices of a page
	// into a single write.
	//
	// Parameters:
	//   - u: the upload target, usually the frame graph
	//
	// Returns:
	//   - error: the first write error; dirty state is kept for the pages that failed
	Upload(u Uploader) error

	// Len returns the number of live (acquired) slices.
	Len() int

	// FreeLen returns the number of slices on the free list.
	FreeLen() int

	// Capacity returns the total number of slices across all pages.
	Capacity() int

	// Stride returns the distance in bytes between consecutive records.
	Stride() uint64

	// Label returns the pool's debug label.
	Label() string

	// Destroy releases every device page. The pool must not be used afterwards.
	Destroy()
}

type poolImpl[T any, P Record[T]] struct {
	mu     *sync.Mutex
	device Device
	log    *slog.Logger

	label           string
	stride          uint64
	recordSize      int
	initialCapacity uint32
	maxCapacity     uint32
	debug           bool

	records []T
	pages   []page
	free    []uint32
	owned   bitset
	dirty   bitset
	live    int
}

// NewPool creates a pool of records of type T whose pages are allocated from device.
// No device memory is allocated until the first Acquire.
//
// Parameters:
//   - device: the allocator for device pages
//   - opts: variadic list of PoolBuilderOption functions to configure the pool
//
// Returns:
//   - Pool[T]: the new pool
func NewPool[T any, P Record[T]](device Device, opts ...PoolBuilderOption) Pool[T] {
	cfg := poolConfig{
		label:           "buffer_pool",
		initialCapacity: 64,
		alignment:       256,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	size := P(new(T)).Size()
	return &poolImpl[T, P]{
		mu:              &sync.Mutex{},
		device:          device,
		log:             logger.Or(cfg.logger).With("pool", cfg.label),
		label:           cfg.label,
		stride:          common.AlignUp(uint64(size), cfg.alignment),
		recordSize:      size,
		initialCapacity: max(cfg.initialCapacity, 1),
		maxCapacity:     cfg.maxCapacity,
		debug:           cfg.debug,
	}
}

func (p *poolImpl[T, P]) Acquire() (Slice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		if err := p.grow(); err != nil {
			return Slice{}, err
		}
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	var zero T
	p.records[idx] = zero
	p.owned.set(idx)
	p.dirty.set(idx)
	p.live++
	p.checkLiveLocked()
	return Slice{id: idx + 1}, nil
}

// grow adds a page doubling the current capacity. Caller must hold the mutex.
func (p *poolImpl[T, P]) grow() error {
	total := uint32(len(p.records))
	if p.maxCapacity > 0 && total >= p.maxCapacity {
		return fmt.Errorf("%w: %q holds %d slices", ErrPoolExhausted, p.label, total)
	}
	capacity := max(total, p.initialCapacity)
	if p.maxCapacity > 0 && total+capacity > p.maxCapacity {
		capacity = p.maxCapacity - total
	}

	buf, err := p.device.CreateBuffer(frame_graph.BufferDescriptor{
		Label: fmt.Sprintf("%s page %d", p.label, len(p.pages)),
		Size:  uint64(capacity) * p.stride,
	})
	if err != nil {
		return fmt.Errorf("failed to grow pool %q by %d slices: %w", p.label, capacity, err)
	}
	p.pages = append(p.pages, page{buffer: buf, start: total, capacity: capacity})
	p.records = append(p.records, make([]T, capacity)...)
	p.owned.grow(total + capacity)
	p.dirty.grow(total + capacity)

	// Push in reverse so the lowest index is handed out first.
	for i := total + capacity; i > total; i-- {
		p.free = append(p.free, i-1)
	}
	p.log.Debug("pool grew", "page", len(p.pages)-1, "slices", capacity, "capacity", total+capacity)
	return nil
}

func (p *poolImpl[T, P]) Release(s Slice) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ownsLocked(s) {
		if p.debug {
			panic(fmt.Sprintf("buffer_pool: release of %s not owned by %q (double release or foreign slice)", s, p.label))
		}
		return
	}
	idx := s.Index()
	p.owned.clear(idx)
	p.dirty.clear(idx)
	p.free = append(p.free, idx)
	p.live--
	p.checkLiveLocked()
}

// checkLiveLocked panics in debug mode when the owned bitmap and the live counter disagree. Caller must
// hold the mutex.
func (p *poolImpl[T, P]) checkLiveLocked() {
	if !p.debug {
		return
	}
	if n := p.owned.count(); n != p.live {
		panic(fmt.Sprintf("buffer_pool: %q owns %d slices but counts %d live", p.label, n, p.live))
	}
}

func (p *poolImpl[T, P]) Write(s Slice) (*Writer[T], error) {
	p.mu.Lock()
	if !p.ownsLocked(s) {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: write to %s in %q", ErrInvalidSlice, s, p.label)
	}
	idx := s.Index()
	return &Writer[T]{
		Record: &p.records[idx],
		done: func() {
			p.dirty.set(idx)
			p.mu.Unlock()
		},
	}, nil
}

func (p *poolImpl[T, P]) Update(s Slice, fn func(rec *T) error) error {
	w, err := p.Write(s)
	if err != nil {
		return err
	}
	defer w.Close()
	return fn(w.Record)
}

func (p *poolImpl[T, P]) Read(s Slice) (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ownsLocked(s) {
		var zero T
		return zero, fmt.Errorf("%w: read of %s in %q", ErrInvalidSlice, s, p.label)
	}
	return p.records[s.Index()], nil
}

func (p *poolImpl[T, P]) Binding(s Slice) (frame_graph.BufferBinding, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ownsLocked(s) {
		return frame_graph.BufferBinding{}, fmt.Errorf("%w: binding of %s in %q", ErrInvalidSlice, s, p.label)
	}
	pg := p.pageOf(s.Index())
	return frame_graph.BufferBinding{
		Buffer: pg.buffer,
		Offset: uint64(s.Index()-pg.start) * p.stride,
		Size:   uint64(p.recordSize),
	}, nil
}

func (p *poolImpl[T, P]) Owns(s Slice) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ownsLocked(s)
}

func (p *poolImpl[T, P]) ownsLocked(s Slice) bool {
	return s.Valid() && s.Index() < uint32(len(p.records)) && p.owned.test(s.Index())
}

// pageOf returns the page containing the global index. Pages are few, so a linear scan is enough.
func (p *poolImpl[T, P]) pageOf(idx uint32) *page {
	for i := range p.pages {
		pg := &p.pages[i]
		if idx >= pg.start && idx < pg.start+pg.capacity {
			return pg
		}
	}
	return nil
}

func (p *poolImpl[T, P]) Upload(u Uploader) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for pi := range p.pages {
		pg := &p.pages[pi]
		end := pg.start + pg.capacity
		for idx := pg.start; idx < end; {
			if !p.dirty.test(idx) {
				idx++
				continue
			}
			runStart := idx
			for idx < end && p.dirty.test(idx) {
				idx++
			}
			if err := p.writeRun(u, pg, runStart, idx); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeRun marshals records [from, to) of a page into one buffer and writes it. Caller must hold the mutex.
func (p *poolImpl[T, P]) writeRun(u Uploader, pg *page, from, to uint32) error {
	data := make([]byte, uint64(to-from)*p.stride)
	for idx := from; idx < to; idx++ {
		off := uint64(idx-from) * p.stride
		copy(data[off:off+uint64(p.recordSize)], P(&p.records[idx]).Marshal())
	}
	offset := uint64(from-pg.start) * p.stride
	if err := u.WriteBuffer(pg.buffer, offset, data); err != nil {
		return fmt.Errorf("failed to upload %d slices of pool %q at offset %d: %w", to-from, p.label, offset, err)
	}
	for idx := from; idx < to; idx++ {
		p.dirty.clear(idx)
	}
	return nil
}

func (p *poolImpl[T, P]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

func (p *poolImpl[T, P]) FreeLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

func (p *poolImpl[T, P]) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

func (p *poolImpl[T, P]) Stride() uint64 {
	return p.stride
}

func (p *poolImpl[T, P]) Label() string {
	return p.label
}

func (p *poolImpl[T, P]) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pg := range p.pages {
		p.device.ReleaseBuffer(pg.buffer)
	}
	p.pages = nil
	p.records = nil
	p.free = nil
	p.owned = nil
	p.dirty = nil
	p.live = 0
}

// Writer is a scoped, exclusive view of one pooled record. Close marks the record dirty and
// releases the pool; it is safe to call more than once.
type Writer[T any] struct {
	Record *T
	done   func()
	closed bool
}

// Close ends the write scope.
func (w *Writer[T]) Close() {
	if w.closed {
		return
	}
	w.closed = true
	w.Record = nil
	w.done()
}

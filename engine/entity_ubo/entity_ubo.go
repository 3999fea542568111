// Package entity_ubo keeps the per-entity GPU buffers of the renderer: for every (instance, sub-part,
// material pass) triple there is at most one live bundle of pooled slices holding its transforms,
// material indices and picking id.
package entity_ubo

import (
	"bytes"
	"cmp"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-deferred/common"
	"github.com/Carmen-Shannon/oxy-deferred/engine/buffer_pool"
	"github.com/Carmen-Shannon/oxy-deferred/engine/logger"
	"github.com/Carmen-Shannon/oxy-deferred/engine/scene"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// Key identifies one per-entity buffer bundle. Keys compare structurally and are used directly as map keys.
type Key struct {
	Instance uuid.UUID
	SubPart  uint32
	Pass     common.PassID
}

// Hash returns a stable FNV-1a hash over all three fields. The registry does not rely on it for identity;
// it is meant for logs, debug overlays and picking ids.
//
// Returns:
//   - uint64: the hash
func (k Key) Hash() uint64 {
	h := fnv.New64a()
	var tail [8]byte
	binary.LittleEndian.PutUint32(tail[:], k.SubPart)
	binary.LittleEndian.PutUint32(tail[4:], uint32(k.Pass))
	h.Write(k.Instance[:])
	h.Write(tail[:])
	return h.Sum64()
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%s", k.Instance, k.SubPart, k.Pass)
}

func compareKeys(a, b Key) int {
	if c := bytes.Compare(a.Instance[:], b.Instance[:]); c != 0 {
		return c
	}
	if c := cmp.Compare(a.SubPart, b.SubPart); c != 0 {
		return c
	}
	return cmp.Compare(a.Pass, b.Pass)
}

// Entry is the bundle of pooled slices owned by one Key. Entries are created by the registry and are never
// shared between keys. Once invalidated an entry's slices belong to the pools again and must not be used.
type Entry struct {
	key       Key
	transform buffer_pool.Slice
	material  buffer_pool.Slice
	picking   buffer_pool.Slice

	current  mgl32.Mat4
	previous mgl32.Mat4
	fresh    bool
}

// Key returns the key the entry was created for.
func (e *Entry) Key() Key { return e.key }

// TransformSlice returns the slice holding the entry's GPUEntityTransform.
func (e *Entry) TransformSlice() buffer_pool.Slice { return e.transform }

// MaterialSlice returns the slice holding the entry's GPUMaterialIndices.
func (e *Entry) MaterialSlice() buffer_pool.Slice { return e.material }

// PickingSlice returns the slice holding the entry's GPUPickingID. It is invalid when picking is disabled.
func (e *Entry) PickingSlice() buffer_pool.Slice { return e.picking }

// Current returns the transform written by the latest Update.
func (e *Entry) Current() mgl32.Mat4 { return e.current }

// Previous returns the transform written by the Update before the latest one.
func (e *Entry) Previous() mgl32.Mat4 { return e.previous }

// TransformSource resolves the latest world transform of a renderable instance.
type TransformSource interface {
	// Transform returns the instance's world-from-object transform and whether the instance is known.
	Transform(instance uuid.UUID) (mgl32.Mat4, bool)
}

// Registry maps entity keys to their pooled GPU buffers.
//
// Entries are created on first reference, dropped when the instance's material pass changes or the instance
// is removed, and refreshed once per frame by Update. Mutation is meant for the host thread; the internal
// lock only guarantees that readers never observe a half-finished SwapPass.
type Registry interface {
	scene.InstanceListener

	// GetOrCreate returns the entry for key, acquiring one slice from each pool when it does not exist yet.
	// Repeated calls with the same key return the identical *Entry.
	//
	// Parameters:
	//   - key: the entity key
	//
	// Returns:
	//   - *Entry: the live entry
	//   - error: a wrapped buffer_pool.ErrPoolExhausted or device error; no slices are leaked on failure
	GetOrCreate(key Key) (*Entry, error)

	// Get returns the entry for key without creating it.
	//
	// Parameters:
	//   - key: the entity key
	//
	// Returns:
	//   - *Entry: the entry, or nil
	//   - bool: whether the entry exists
	Get(key Key) (*Entry, bool)

	// Invalidate releases every entry of the instance, returning their slices to the pools.
	//
	// Parameters:
	//   - instance: the renderable instance
	//
	// Returns:
	//   - int: the number of entries released
	Invalidate(instance uuid.UUID) int

	// SwapPass moves a sub-part from one material pass to another. The old entry is released before the new
	// one is created, so the new entry may reuse the old slices. Readers see either the old entry or the new
	// one, never both and never neither.
	//
	// Parameters:
	//   - instance: the renderable instance
	//   - subPart: the sub-part whose material changed
	//   - oldPass: the pass the sub-part was drawn with
	//   - newPass: the pass it is drawn with from now on
	//
	// Returns:
	//   - *Entry: the entry for the new key
	//   - error: the acquisition error for the new entry; the old entry is released regardless
	SwapPass(instance uuid.UUID, subPart uint32, oldPass, newPass common.PassID) (*Entry, error)

	// SetMaterial writes the material index table of an existing entry.
	//
	// Parameters:
	//   - key: the entity key
	//   - indices: the table to write
	//
	// Returns:
	//   - error: ErrUnknownKey when the entry does not exist
	SetMaterial(key Key, indices GPUMaterialIndices) error

	// Entries returns a snapshot of the live entries ordered by key.
	Entries() []*Entry

	// ForEach calls fn for every live entry in key order until fn returns false. The registry is locked while
	// fn runs, so fn must not call back into the registry.
	ForEach(fn func(e *Entry) bool)

	// Len returns the number of live entries.
	Len() int

	// Update shifts every entry's current transform into its previous one, reads the new current transform
	// from src and writes both into the transform slice. The work is spread over the registry's workers in
	// chunks and Update returns once every chunk has finished.
	//
	// Parameters:
	//   - ctx: cancels the update between chunks
	//   - src: the source of the latest transforms
	//
	// Returns:
	//   - error: ctx.Err() or the first pool write error
	Update(ctx context.Context, src TransformSource) error

	// Upload flushes the dirty records of every pool.
	//
	// Parameters:
	//   - u: the upload target, usually the frame graph
	//
	// Returns:
	//   - error: the joined pool upload errors
	Upload(u buffer_pool.Uploader) error

	// Transforms returns the pool of transform records.
	Transforms() buffer_pool.Pool[GPUEntityTransform]

	// Materials returns the pool of material index records.
	Materials() buffer_pool.Pool[GPUMaterialIndices]

	// Picking returns the pool of picking ids, or nil when picking is disabled.
	Picking() buffer_pool.Pool[GPUPickingID]

	// Close stops the workers, releases every entry and destroys the pools.
	Close()
}

// ErrUnknownKey is returned when an operation needs an entry that does not exist.
var ErrUnknownKey = errors.New("entity_ubo: unknown key")

type registryImpl struct {
	mu  *sync.Mutex
	log *slog.Logger

	debug     bool
	chunkSize int

	entries    map[Key]*Entry
	transforms buffer_pool.Pool[GPUEntityTransform]
	materials  buffer_pool.Pool[GPUMaterialIndices]
	picking    buffer_pool.Pool[GPUPickingID]

	workers worker.DynamicWorkerPool
}

var _ Registry = &registryImpl{}

// NewRegistry creates a registry whose pools allocate their pages from device.
//
// Parameters:
//   - device: the allocator for the pool pages, usually the frame graph
//   - opts: variadic list of RegistryBuilderOption functions to configure the registry
//
// Returns:
//   - Registry: the new registry
func NewRegistry(device buffer_pool.Device, opts ...RegistryBuilderOption) Registry {
	cfg := registryConfig{
		workers:   runtime.NumCPU(),
		chunkSize: 64,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	log := logger.Or(cfg.logger)

	poolOpts := func(label string) []buffer_pool.PoolBuilderOption {
		return append([]buffer_pool.PoolBuilderOption{
			buffer_pool.WithLabel(label),
			buffer_pool.WithDebug(cfg.debug),
			buffer_pool.WithLogger(log),
		}, cfg.poolOptions...)
	}

	r := &registryImpl{
		mu:         &sync.Mutex{},
		log:        log,
		debug:      cfg.debug,
		chunkSize:  max(cfg.chunkSize, 1),
		entries:    make(map[Key]*Entry),
		transforms: buffer_pool.NewPool[GPUEntityTransform](device, poolOpts("entity transforms")...),
		materials:  buffer_pool.NewPool[GPUMaterialIndices](device, poolOpts("entity materials")...),
		workers:    worker.NewDynamicWorkerPool(max(cfg.workers, 1), 256, 1*time.Second),
	}
	if cfg.picking {
		r.picking = buffer_pool.NewPool[GPUPickingID](device, poolOpts("entity picking")...)
	}
	return r
}

func (r *registryImpl) GetOrCreate(key Key) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(key)
}

// getOrCreateLocked acquires the entry's slices in pool order, handing back the ones already acquired when a
// later pool fails. Caller must hold the mutex.
func (r *registryImpl) getOrCreateLocked(key Key) (*Entry, error) {
	if e, ok := r.entries[key]; ok {
		return e, nil
	}

	e := &Entry{key: key, current: mgl32.Ident4(), previous: mgl32.Ident4(), fresh: true}
	var err error
	if e.transform, err = r.transforms.Acquire(); err != nil {
		return nil, fmt.Errorf("failed to acquire transform slice for %s: %w", key, err)
	}
	if e.material, err = r.materials.Acquire(); err != nil {
		r.transforms.Release(e.transform)
		return nil, fmt.Errorf("failed to acquire material slice for %s: %w", key, err)
	}
	if r.picking != nil {
		if e.picking, err = r.picking.Acquire(); err != nil {
			r.transforms.Release(e.transform)
			r.materials.Release(e.material)
			return nil, fmt.Errorf("failed to acquire picking slice for %s: %w", key, err)
		}
		id := GPUPickingID{Object: e.transform.Index() + 1, SubPart: key.SubPart, Pass: uint32(key.Pass)}
		if err := r.picking.Update(e.picking, func(rec *GPUPickingID) error {
			*rec = id
			return nil
		}); err != nil {
			r.releaseLocked(e)
			return nil, err
		}
	}

	identity := GPUEntityTransform{Model: mgl32.Ident4(), PrevModel: mgl32.Ident4()}
	if err := r.transforms.Update(e.transform, func(rec *GPUEntityTransform) error {
		*rec = identity
		return nil
	}); err != nil {
		r.releaseLocked(e)
		return nil, err
	}
	if err := r.materials.Update(e.material, func(rec *GPUMaterialIndices) error {
		*rec = NewGPUMaterialIndices(0)
		return nil
	}); err != nil {
		r.releaseLocked(e)
		return nil, err
	}

	r.entries[key] = e
	return e, nil
}

// releaseLocked returns the entry's slices to their pools. Caller must hold the mutex.
func (r *registryImpl) releaseLocked(e *Entry) {
	r.transforms.Release(e.transform)
	r.materials.Release(e.material)
	if r.picking != nil && e.picking.Valid() {
		r.picking.Release(e.picking)
	}
}

func (r *registryImpl) Get(key Key) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	return e, ok
}

func (r *registryImpl) Invalidate(instance uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for key, e := range r.entries {
		if key.Instance != instance {
			continue
		}
		r.releaseLocked(e)
		delete(r.entries, key)
		n++
	}
	if n > 0 {
		r.log.Debug("entity_ubo: invalidated instance", "instance", instance, "entries", n)
	}
	return n
}

func (r *registryImpl) SwapPass(instance uuid.UUID, subPart uint32, oldPass, newPass common.PassID) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldKey := Key{Instance: instance, SubPart: subPart, Pass: oldPass}
	if e, ok := r.entries[oldKey]; ok {
		r.releaseLocked(e)
		delete(r.entries, oldKey)
	}
	return r.getOrCreateLocked(Key{Instance: instance, SubPart: subPart, Pass: newPass})
}

func (r *registryImpl) SetMaterial(key Key, indices GPUMaterialIndices) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return r.materials.Update(e.material, func(rec *GPUMaterialIndices) error {
		*rec = indices
		return nil
	})
}

func (r *registryImpl) Entries() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked()
}

// sortedLocked returns the live entries in key order. Caller must hold the mutex.
func (r *registryImpl) sortedLocked() []*Entry {
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *Entry) int { return compareKeys(a.key, b.key) })
	return out
}

func (r *registryImpl) ForEach(fn func(e *Entry) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.sortedLocked() {
		if !fn(e) {
			return
		}
	}
}

func (r *registryImpl) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *registryImpl) Update(ctx context.Context, src TransformSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.sortedLocked()
	chunks := slices.Collect(slices.Chunk(entries, r.chunkSize))
	stale := make([][]Key, len(chunks))
	errs := make([]error, len(chunks))

	// The worker pool's own Wait blocks until workers go idle, so a WaitGroup marks the end of the frame.
	var wg sync.WaitGroup
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			break
		}
		wg.Add(1)
		r.workers.SubmitTask(worker.Task{
			ID: i,
			Do: func() (any, error) {
				defer wg.Done()
				stale[i], errs[i] = r.updateChunk(chunk, src)
				return nil, errs[i]
			},
		})
	}
	wg.Wait()

	for _, keys := range stale {
		for _, key := range keys {
			if r.debug {
				panic(fmt.Sprintf("entity_ubo: stale entry %s: instance is unknown to the transform source", key))
			}
			r.log.Warn("entity_ubo: stale entry keeps its last transform", "key", key, "hash", key.Hash())
		}
	}
	return errors.Join(errs...)
}

// updateChunk refreshes the transforms of one chunk. Chunks are disjoint, so entries are written without the
// registry lock; the pool serialises the record writes.
func (r *registryImpl) updateChunk(chunk []*Entry, src TransformSource) ([]Key, error) {
	var stale []Key
	for _, e := range chunk {
		m, ok := src.Transform(e.key.Instance)
		if !ok {
			stale = append(stale, e.key)
			continue
		}
		if e.fresh {
			e.current, e.fresh = m, false
		}
		e.previous, e.current = e.current, m

		rec := GPUEntityTransform{Model: e.current, PrevModel: e.previous}
		if err := r.transforms.Update(e.transform, func(t *GPUEntityTransform) error {
			*t = rec
			return nil
		}); err != nil {
			return stale, fmt.Errorf("failed to write transform of %s: %w", e.key, err)
		}
	}
	return stale, nil
}

func (r *registryImpl) Upload(u buffer_pool.Uploader) error {
	errs := []error{r.transforms.Upload(u), r.materials.Upload(u)}
	if r.picking != nil {
		errs = append(errs, r.picking.Upload(u))
	}
	return errors.Join(errs...)
}

func (r *registryImpl) Transforms() buffer_pool.Pool[GPUEntityTransform] {
	return r.transforms
}

func (r *registryImpl) Materials() buffer_pool.Pool[GPUMaterialIndices] {
	return r.materials
}

func (r *registryImpl) Picking() buffer_pool.Pool[GPUPickingID] {
	return r.picking
}

func (r *registryImpl) Close() {
	r.workers.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.entries {
		r.releaseLocked(e)
		delete(r.entries, key)
	}
	r.transforms.Destroy()
	r.materials.Destroy()
	if r.picking != nil {
		r.picking.Destroy()
	}
}

// OnInstanceAdded creates the entries of every sub-part up front so the first frame does not allocate.
func (r *registryImpl) OnInstanceAdded(instance uuid.UUID, passes []common.PassID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, pass := range passes {
		if _, err := r.getOrCreateLocked(Key{Instance: instance, SubPart: uint32(i), Pass: pass}); err != nil {
			return err
		}
	}
	return nil
}

// OnMaterialChanged swaps the affected sub-part to its new pass.
func (r *registryImpl) OnMaterialChanged(instance uuid.UUID, subPart uint32, oldPass, newPass common.PassID) error {
	_, err := r.SwapPass(instance, subPart, oldPass, newPass)
	return err
}

// OnInstanceRemoved releases every entry of the instance.
func (r *registryImpl) OnInstanceRemoved(instance uuid.UUID) error {
	r.Invalidate(instance)
	return nil
}

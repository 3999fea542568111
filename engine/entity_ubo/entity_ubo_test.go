package entity_ubo

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/Carmen-Shannon/oxy-deferred/common"
	"github.com/Carmen-Shannon/oxy-deferred/engine/buffer_pool"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/frame_graph"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBuffer struct {
	label string
	size  uint64
}

func (b *fakeBuffer) Label() string { return b.label }
func (b *fakeBuffer) Size() uint64  { return b.size }

type fakeDevice struct {
	mu      sync.Mutex
	created int
	refuse  string
}

var errOutOfMemory = errors.New("out of device memory")

func (d *fakeDevice) CreateBuffer(desc frame_graph.BufferDescriptor) (frame_graph.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refuse != "" && strings.HasPrefix(desc.Label, d.refuse) {
		return nil, errOutOfMemory
	}
	d.created++
	return &fakeBuffer{label: desc.Label, size: desc.Size}, nil
}

func (d *fakeDevice) ReleaseBuffer(frame_graph.Buffer) {}

type countingUploader struct {
	bytes int
}

func (u *countingUploader) WriteBuffer(_ frame_graph.Buffer, _ uint64, data []byte) error {
	u.bytes += len(data)
	return nil
}

type transformMap map[uuid.UUID]mgl32.Mat4

func (m transformMap) Transform(id uuid.UUID) (mgl32.Mat4, bool) {
	t, ok := m[id]
	return t, ok
}

func newTestRegistry(t *testing.T, opts ...RegistryBuilderOption) Registry {
	t.Helper()
	r := NewRegistry(&fakeDevice{}, append([]RegistryBuilderOption{WithWorkers(2), WithChunkSize(2)}, opts...)...)
	t.Cleanup(r.Close)
	return r
}

func TestRecordSizes(t *testing.T) {
	assert.Equal(t, 128, (&GPUEntityTransform{}).Size())
	assert.Len(t, (&GPUEntityTransform{}).Marshal(), 128)
	assert.Equal(t, 32, (&GPUMaterialIndices{}).Size())
	assert.Len(t, (&GPUMaterialIndices{}).Marshal(), 32)
	assert.Equal(t, 16, (&GPUPickingID{}).Size())
	assert.Len(t, (&GPUPickingID{}).Marshal(), 16)
}

func TestKeyHashIsStableAndCoversEveryField(t *testing.T) {
	id := uuid.MustParse("6f1c8a52-7a0e-4f5e-9d55-0a7c2b1e3f44")
	k := Key{Instance: id, SubPart: 1, Pass: common.PassGBuffer}

	assert.Equal(t, k.Hash(), Key{Instance: id, SubPart: 1, Pass: common.PassGBuffer}.Hash())
	assert.NotEqual(t, k.Hash(), Key{Instance: id, SubPart: 2, Pass: common.PassGBuffer}.Hash())
	assert.NotEqual(t, k.Hash(), Key{Instance: id, SubPart: 1, Pass: common.PassShadow}.Hash())
	assert.NotEqual(t, k.Hash(), Key{Instance: uuid.New(), SubPart: 1, Pass: common.PassGBuffer}.Hash())
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	key := Key{Instance: uuid.New(), SubPart: 0, Pass: common.PassGBuffer}

	a, err := r.GetOrCreate(key)
	require.NoError(t, err)
	b, err := r.GetOrCreate(key)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, r.Transforms().Len())
	assert.Equal(t, 1, r.Materials().Len())
	assert.Nil(t, r.Picking())
	assert.False(t, a.PickingSlice().Valid())
}

func TestNoSliceIsSharedBetweenEntries(t *testing.T) {
	r := newTestRegistry(t, WithPicking(true))
	seen := map[buffer_pool.Slice]Key{}
	for i := range 3 {
		for sub := range uint32(4) {
			key := Key{Instance: uuid.New(), SubPart: sub, Pass: common.PassID(i % 2)}
			e, err := r.GetOrCreate(key)
			require.NoError(t, err)
			require.True(t, e.PickingSlice().Valid())
			_, dup := seen[e.TransformSlice()]
			require.False(t, dup, "transform slice handed out twice")
			seen[e.TransformSlice()] = key
		}
	}
	assert.Equal(t, 12, r.Transforms().Len())
	assert.Equal(t, 12, r.Picking().Len())

	e, _ := r.Get(r.Entries()[0].Key())
	id, err := r.Picking().Read(e.PickingSlice())
	require.NoError(t, err)
	assert.Equal(t, e.Key().SubPart, id.SubPart)
}

func TestPickingIDsAreDistinctAndNonZero(t *testing.T) {
	r := newTestRegistry(t, WithPicking(true))
	for range 40 {
		_, err := r.GetOrCreate(Key{Instance: uuid.New(), Pass: common.PassGBuffer})
		require.NoError(t, err)
	}

	objects := map[uint32]bool{}
	for _, e := range r.Entries() {
		id, err := r.Picking().Read(e.PickingSlice())
		require.NoError(t, err)
		assert.NotZero(t, id.Object)
		assert.Equal(t, e.TransformSlice().Index()+1, id.Object)
		assert.False(t, objects[id.Object], "object id %d handed out twice", id.Object)
		objects[id.Object] = true
	}
	assert.Len(t, objects, 40)
}

func TestInvalidateReturnsSlicesToPools(t *testing.T) {
	r := newTestRegistry(t)
	a, b := uuid.New(), uuid.New()
	for sub := range uint32(3) {
		_, err := r.GetOrCreate(Key{Instance: a, SubPart: sub})
		require.NoError(t, err)
	}
	_, err := r.GetOrCreate(Key{Instance: b})
	require.NoError(t, err)

	assert.Equal(t, 3, r.Invalidate(a))
	assert.Equal(t, 0, r.Invalidate(a))
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, r.Transforms().Len())
	assert.Equal(t, 1, r.Materials().Len())

	_, ok := r.Get(Key{Instance: a})
	assert.False(t, ok)
}

func TestSwapPassReleasesOldEntryAndCreatesNewKey(t *testing.T) {
	r := newTestRegistry(t)
	id := uuid.New()
	oldKey := Key{Instance: id, SubPart: 1, Pass: common.PassGBuffer}
	old, err := r.GetOrCreate(oldKey)
	require.NoError(t, err)
	oldTransform := old.TransformSlice()

	e, err := r.SwapPass(id, 1, common.PassGBuffer, common.PassShadow)
	require.NoError(t, err)

	assert.Equal(t, Key{Instance: id, SubPart: 1, Pass: common.PassShadow}, e.Key())
	_, ok := r.Get(oldKey)
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, r.Transforms().Len())
	// The released slice is at the top of the free list, so the new entry reuses it.
	assert.Equal(t, oldTransform, e.TransformSlice())
}

func TestListenerHooks(t *testing.T) {
	r := newTestRegistry(t)
	id := uuid.New()

	require.NoError(t, r.OnInstanceAdded(id, []common.PassID{common.PassGBuffer, common.PassGBuffer}))
	assert.Equal(t, 2, r.Len())

	require.NoError(t, r.OnMaterialChanged(id, 0, common.PassGBuffer, common.PassShadow))
	_, ok := r.Get(Key{Instance: id, SubPart: 0, Pass: common.PassShadow})
	assert.True(t, ok)
	_, ok = r.Get(Key{Instance: id, SubPart: 1, Pass: common.PassGBuffer})
	assert.True(t, ok, "other sub-parts are untouched")

	require.NoError(t, r.OnInstanceRemoved(id))
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.Transforms().Len())
}

func TestGetOrCreateReportsExhaustion(t *testing.T) {
	r := newTestRegistry(t, WithPicking(true), WithPoolOptions(buffer_pool.WithInitialCapacity(1), buffer_pool.WithMaxCapacity(1)))
	_, err := r.GetOrCreate(Key{Instance: uuid.New()})
	require.NoError(t, err)

	_, err = r.GetOrCreate(Key{Instance: uuid.New()})
	require.ErrorIs(t, err, buffer_pool.ErrPoolExhausted)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, r.Transforms().Len())
	assert.Equal(t, 1, r.Materials().Len())
}

func TestGetOrCreateReleasesEarlierSlicesOnFailure(t *testing.T) {
	r := NewRegistry(&fakeDevice{refuse: "entity picking"}, WithPicking(true), WithWorkers(1))
	t.Cleanup(r.Close)

	_, err := r.GetOrCreate(Key{Instance: uuid.New()})
	require.ErrorIs(t, err, errOutOfMemory)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.Transforms().Len())
	assert.Equal(t, 0, r.Materials().Len())
}

func TestUpdateShiftsCurrentIntoPrevious(t *testing.T) {
	r := newTestRegistry(t)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	src := transformMap{}
	for i, id := range ids {
		_, err := r.GetOrCreate(Key{Instance: id})
		require.NoError(t, err)
		src[id] = mgl32.Translate3D(float32(i), 0, 0)
	}

	require.NoError(t, r.Update(context.Background(), src))
	for i, id := range ids {
		e, _ := r.Get(Key{Instance: id})
		assert.Equal(t, mgl32.Translate3D(float32(i), 0, 0), e.Current())
		assert.Equal(t, e.Current(), e.Previous(), "a new entry starts without motion")
	}

	for i, id := range ids {
		src[id] = mgl32.Translate3D(float32(i), 5, 0)
	}
	require.NoError(t, r.Update(context.Background(), src))
	for i, id := range ids {
		e, _ := r.Get(Key{Instance: id})
		assert.Equal(t, mgl32.Translate3D(float32(i), 5, 0), e.Current())
		assert.Equal(t, mgl32.Translate3D(float32(i), 0, 0), e.Previous())

		rec, err := r.Transforms().Read(e.TransformSlice())
		require.NoError(t, err)
		assert.Equal(t, e.Current(), rec.Model)
		assert.Equal(t, e.Previous(), rec.PrevModel)
	}

	u := &countingUploader{}
	require.NoError(t, r.Upload(u))
	assert.Equal(t, len(ids)*int(r.Transforms().Stride()+r.Materials().Stride()), u.bytes, "one contiguous run per pool")

	u.bytes = 0
	require.NoError(t, r.Upload(u))
	assert.Zero(t, u.bytes)
}

func TestUpdateStaleEntry(t *testing.T) {
	id := uuid.New()

	r := newTestRegistry(t)
	_, err := r.GetOrCreate(Key{Instance: id})
	require.NoError(t, err)
	require.NoError(t, r.Update(context.Background(), transformMap{id: mgl32.Translate3D(1, 2, 3)}))
	require.NoError(t, r.Update(context.Background(), transformMap{}))
	e, _ := r.Get(Key{Instance: id})
	assert.Equal(t, mgl32.Translate3D(1, 2, 3), e.Current(), "a stale entry keeps its last transform")

	debug := newTestRegistry(t, WithDebug(true))
	_, err = debug.GetOrCreate(Key{Instance: id})
	require.NoError(t, err)
	assert.Panics(t, func() { _ = debug.Update(context.Background(), transformMap{}) })
}

func TestUpdateHonoursCancelledContext(t *testing.T) {
	r := newTestRegistry(t)
	id := uuid.New()
	_, err := r.GetOrCreate(Key{Instance: id})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = r.Update(ctx, transformMap{id: mgl32.Ident4()})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSetMaterial(t *testing.T) {
	r := newTestRegistry(t)
	key := Key{Instance: uuid.New()}
	assert.ErrorIs(t, r.SetMaterial(key, NewGPUMaterialIndices(3)), ErrUnknownKey)

	e, err := r.GetOrCreate(key)
	require.NoError(t, err)
	idx := NewGPUMaterialIndices(3)
	idx.Albedo = 7
	require.NoError(t, r.SetMaterial(key, idx))

	rec, err := r.Materials().Read(e.MaterialSlice())
	require.NoError(t, err)
	assert.Equal(t, idx, rec)
}

package buffer_pool

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/frame_graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	Value uint32
}

func (c *counter) Size() int { return 4 }

func (c *counter) Marshal() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, c.Value)
	return buf
}

type fakeBuffer struct {
	label string
	size  uint64
}

func (b *fakeBuffer) Label() string { return b.label }
func (b *fakeBuffer) Size() uint64  { return b.size }

type fakeDevice struct {
	created  []*fakeBuffer
	released int
	fail     error
}

func (d *fakeDevice) CreateBuffer(desc frame_graph.BufferDescriptor) (frame_graph.Buffer, error) {
	if d.fail != nil {
		return nil, d.fail
	}
	b := &fakeBuffer{label: desc.Label, size: desc.Size}
	d.created = append(d.created, b)
	return b, nil
}

func (d *fakeDevice) ReleaseBuffer(frame_graph.Buffer) { d.released++ }

type write struct {
	buf    frame_graph.Buffer
	offset uint64
	data   []byte
}

type fakeUploader struct {
	writes []write
	fail   error
}

func (u *fakeUploader) WriteBuffer(buf frame_graph.Buffer, offset uint64, data []byte) error {
	if u.fail != nil {
		return u.fail
	}
	u.writes = append(u.writes, write{buf: buf, offset: offset, data: append([]byte(nil), data...)})
	return nil
}

func newCounterPool(t *testing.T, dev *fakeDevice, opts ...PoolBuilderOption) Pool[counter] {
	t.Helper()
	return NewPool[counter](dev, append([]PoolBuilderOption{WithAlignment(16)}, opts...)...)
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	dev := &fakeDevice{}
	p := newCounterPool(t, dev, WithInitialCapacity(4))

	assert.Equal(t, 0, p.Capacity())
	s, err := p.Acquire()
	require.NoError(t, err)
	assert.True(t, s.Valid())
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, 3, p.FreeLen())
	assert.Equal(t, 4, p.Capacity())
	assert.Len(t, dev.created, 1)

	p.Release(s)
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, 4, p.FreeLen())
	assert.False(t, p.Owns(s))

	again, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, s, again, "a released slice is reused first")
	assert.Len(t, dev.created, 1)
}

func TestAcquireGrowsByDoubling(t *testing.T) {
	dev := &fakeDevice{}
	p := newCounterPool(t, dev, WithInitialCapacity(2))

	seen := map[Slice]bool{}
	for range 8 {
		s, err := p.Acquire()
		require.NoError(t, err)
		assert.False(t, seen[s], "slice %s handed out twice", s)
		seen[s] = true
	}
	assert.Equal(t, 8, p.Capacity())
	require.Len(t, dev.created, 3)
	assert.Equal(t, uint64(2*16), dev.created[0].size)
	assert.Equal(t, uint64(2*16), dev.created[1].size)
	assert.Equal(t, uint64(4*16), dev.created[2].size)
}

func TestAcquireExhausted(t *testing.T) {
	p := newCounterPool(t, &fakeDevice{}, WithInitialCapacity(2), WithMaxCapacity(3))

	for range 3 {
		_, err := p.Acquire()
		require.NoError(t, err)
	}
	_, err := p.Acquire()
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestAcquireDeviceFailure(t *testing.T) {
	boom := errors.New("out of memory")
	p := newCounterPool(t, &fakeDevice{fail: boom})

	_, err := p.Acquire()
	assert.ErrorIs(t, err, boom)
}

func TestAcquireZeroesRecycledRecord(t *testing.T) {
	p := newCounterPool(t, &fakeDevice{})
	s, err := p.Acquire()
	require.NoError(t, err)
	require.NoError(t, p.Update(s, func(c *counter) error {
		c.Value = 42
		return nil
	}))
	p.Release(s)

	s, err = p.Acquire()
	require.NoError(t, err)
	rec, err := p.Read(s)
	require.NoError(t, err)
	assert.Zero(t, rec.Value)
}

func TestDoubleReleasePanicsInDebug(t *testing.T) {
	p := newCounterPool(t, &fakeDevice{}, WithDebug(true))
	s, err := p.Acquire()
	require.NoError(t, err)
	p.Release(s)

	assert.Panics(t, func() { p.Release(s) })
}

func TestDoubleReleaseIgnoredWithoutDebug(t *testing.T) {
	p := newCounterPool(t, &fakeDevice{}, WithInitialCapacity(2))
	s, err := p.Acquire()
	require.NoError(t, err)
	p.Release(s)

	assert.NotPanics(t, func() { p.Release(s) })
	assert.Equal(t, 2, p.FreeLen(), "free list must not hold the slice twice")
}

func TestUploadCoalescesContiguousRuns(t *testing.T) {
	p := newCounterPool(t, &fakeDevice{}, WithInitialCapacity(8))
	slices := make([]Slice, 8)
	for i := range slices {
		s, err := p.Acquire()
		require.NoError(t, err)
		slices[i] = s
	}

	u := &fakeUploader{}
	require.NoError(t, p.Upload(u))
	require.Len(t, u.writes, 1, "all freshly acquired slices share one write")
	assert.Equal(t, uint64(0), u.writes[0].offset)
	assert.Len(t, u.writes[0].data, 8*16)

	for _, i := range []int{1, 2, 5} {
		require.NoError(t, p.Update(slices[i], func(c *counter) error {
			c.Value = uint32(i) + 100
			return nil
		}))
	}
	u = &fakeUploader{}
	require.NoError(t, p.Upload(u))
	require.Len(t, u.writes, 2)
	assert.Equal(t, uint64(16), u.writes[0].offset)
	assert.Len(t, u.writes[0].data, 32)
	assert.Equal(t, uint32(101), binary.LittleEndian.Uint32(u.writes[0].data[0:]))
	assert.Equal(t, uint32(102), binary.LittleEndian.Uint32(u.writes[0].data[16:]))
	assert.Equal(t, uint64(80), u.writes[1].offset)
	assert.Equal(t, uint32(105), binary.LittleEndian.Uint32(u.writes[1].data))

	u = &fakeUploader{}
	require.NoError(t, p.Upload(u))
	assert.Empty(t, u.writes, "dirty state is cleared after upload")
}

func TestUploadFailureKeepsDirtyState(t *testing.T) {
	p := newCounterPool(t, &fakeDevice{})
	_, err := p.Acquire()
	require.NoError(t, err)

	boom := errors.New("queue lost")
	assert.ErrorIs(t, p.Upload(&fakeUploader{fail: boom}), boom)

	u := &fakeUploader{}
	require.NoError(t, p.Upload(u))
	assert.Len(t, u.writes, 1)
}

func TestUpdateClosesWriterOnError(t *testing.T) {
	p := newCounterPool(t, &fakeDevice{})
	s, err := p.Acquire()
	require.NoError(t, err)
	require.NoError(t, p.Upload(&fakeUploader{}))

	boom := errors.New("bad transform")
	err = p.Update(s, func(c *counter) error {
		c.Value = 7
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// The pool must be unlocked and the partial write flagged dirty.
	rec, err := p.Read(s)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), rec.Value)
	u := &fakeUploader{}
	require.NoError(t, p.Upload(u))
	assert.Len(t, u.writes, 1)
}

func TestUpdateClosesWriterOnPanic(t *testing.T) {
	p := newCounterPool(t, &fakeDevice{})
	s, err := p.Acquire()
	require.NoError(t, err)

	assert.Panics(t, func() {
		_ = p.Update(s, func(*counter) error { panic("boom") })
	})
	assert.Equal(t, 1, p.Len(), "pool is usable after a panicking writer")
}

func TestWriterCloseIsIdempotent(t *testing.T) {
	p := newCounterPool(t, &fakeDevice{})
	s, err := p.Acquire()
	require.NoError(t, err)

	w, err := p.Write(s)
	require.NoError(t, err)
	w.Record.Value = 3
	w.Close()
	w.Close()

	rec, err := p.Read(s)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), rec.Value)
}

func TestInvalidSliceOperations(t *testing.T) {
	p := newCounterPool(t, &fakeDevice{})
	_, err := p.Write(Slice{})
	assert.ErrorIs(t, err, ErrInvalidSlice)
	_, err = p.Read(Slice{id: 99})
	assert.ErrorIs(t, err, ErrInvalidSlice)
	_, err = p.Binding(Slice{})
	assert.ErrorIs(t, err, ErrInvalidSlice)
}

func TestBindingOffsetsAcrossPages(t *testing.T) {
	dev := &fakeDevice{}
	p := newCounterPool(t, dev, WithInitialCapacity(2))
	var last Slice
	for range 3 {
		s, err := p.Acquire()
		require.NoError(t, err)
		last = s
	}

	b, err := p.Binding(last)
	require.NoError(t, err)
	assert.Same(t, dev.created[1], b.Buffer)
	assert.Equal(t, uint64(0), b.Offset)
	assert.Equal(t, uint64(4), b.Size)
	assert.Equal(t, uint32(2), last.Index())

	first, err := p.Binding(Slice{id: 2})
	require.NoError(t, err)
	assert.Same(t, dev.created[0], first.Buffer)
	assert.Equal(t, p.Stride(), first.Offset)
}

func TestDebugLiveCountMatchesOwnedSlices(t *testing.T) {
	p := newCounterPool(t, &fakeDevice{}, WithDebug(true))
	a, err := p.Acquire()
	require.NoError(t, err)
	b, err := p.Acquire()
	require.NoError(t, err)
	assert.NotPanics(t, func() { p.Release(a) })

	impl := p.(*poolImpl[counter, *counter])
	impl.owned.set(a.Index())
	assert.Panics(t, func() { p.Release(b) })
}

func TestDestroyReleasesPages(t *testing.T) {
	dev := &fakeDevice{}
	p := newCounterPool(t, dev, WithInitialCapacity(1))
	for range 3 {
		_, err := p.Acquire()
		require.NoError(t, err)
	}
	p.Destroy()
	assert.Equal(t, len(dev.created), dev.released)
	assert.Equal(t, 0, p.Capacity())
}

func TestStrideAlignment(t *testing.T) {
	p := NewPool[counter](&fakeDevice{})
	assert.Equal(t, uint64(256), p.Stride())
}

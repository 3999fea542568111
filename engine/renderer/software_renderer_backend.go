package renderer

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/Carmen-Shannon/oxy-deferred/common"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/frame_graph"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/pipeline"
)

// softwareImage is a host-memory image. Color formats store Channels float32 values per texel;
// depth formats store one float32 depth and, when the format has one, an 8-bit stencil per texel.
type softwareImage struct {
	label    string
	width    int
	height   int
	format   common.TextureFormat
	color    []float32
	depth    []float32
	stencil  []uint8
	released bool
}

func (i *softwareImage) Label() string                { return i.label }
func (i *softwareImage) Width() int                   { return i.width }
func (i *softwareImage) Height() int                  { return i.height }
func (i *softwareImage) Format() common.TextureFormat { return i.format }

// texel returns the value at (x, y) clamped to the image edge, as a shader's textureLoad would see it.
func (i *softwareImage) texel(x, y int) [4]float32 {
	x = min(max(x, 0), i.width-1)
	y = min(max(y, 0), i.height-1)
	idx := y*i.width + x
	if i.format.HasDepth() {
		return [4]float32{i.depth[idx], 0, 0, 1}
	}
	out := [4]float32{0, 0, 0, 1}
	ch := i.format.Channels()
	copy(out[:ch], i.color[idx*ch:idx*ch+ch])
	return out
}

type softwareBuffer struct {
	label    string
	data     []byte
	released bool
}

func (b *softwareBuffer) Label() string { return b.label }
func (b *softwareBuffer) Size() uint64  { return uint64(len(b.data)) }

// softwarePass is a submitted pass waiting to run. deps lists the still-pending passes it must follow:
// its wait signal plus every earlier pass it has an image hazard with. buffers holds, per draw, the bytes of
// each bound buffer range captured at submit, so later writes stay invisible to it as on a GPU queue.
type softwarePass struct {
	signal  frame_graph.Signal
	pass    frame_graph.Pass
	deps    []frame_graph.Signal
	buffers [][][]byte
}

// softwareRendererBackend executes passes on the CPU. Submission only records a pass; passes run when a
// caller waits on their signal or reads an image they write, in dependency order. Passes with no path
// to the awaited signal stay pending, so the only ordering between passes is the one they declare.
type softwareRendererBackend struct {
	mu  *sync.Mutex
	log *slog.Logger

	pipelines map[string]pipeline.Pipeline
	images    map[*softwareImage]struct{}

	lastSignal frame_graph.Signal
	pending    map[frame_graph.Signal]*softwarePass
	order      []frame_graph.Signal
}

var _ RendererBackend = &softwareRendererBackend{}

func newSoftwareRendererBackend(log *slog.Logger) *softwareRendererBackend {
	log.Info("using software renderer backend")
	return &softwareRendererBackend{
		mu:        &sync.Mutex{},
		log:       log,
		pipelines: make(map[string]pipeline.Pipeline),
		images:    make(map[*softwareImage]struct{}),
		pending:   make(map[frame_graph.Signal]*softwarePass),
	}
}

func (b *softwareRendererBackend) CreateImage(desc frame_graph.ImageDescriptor) (frame_graph.Image, error) {
	if desc.Width <= 0 || desc.Height <= 0 {
		return nil, fmt.Errorf("software backend: image %q has invalid size %dx%d", desc.Label, desc.Width, desc.Height)
	}
	n := desc.Width * desc.Height
	img := &softwareImage{label: desc.Label, width: desc.Width, height: desc.Height, format: desc.Format}
	switch {
	case desc.Format.HasDepth():
		img.depth = make([]float32, n)
		if desc.Format.HasStencil() {
			img.stencil = make([]uint8, n)
		}
	case desc.Format.Channels() > 0:
		img.color = make([]float32, n*desc.Format.Channels())
	default:
		return nil, fmt.Errorf("software backend: image %q has unsupported format %s", desc.Label, desc.Format)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.images[img] = struct{}{}
	return img, nil
}

func (b *softwareRendererBackend) ReleaseImage(img frame_graph.Image) {
	si, ok := img.(*softwareImage)
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	si.released = true
	delete(b.images, si)
}

func (b *softwareRendererBackend) CreateBuffer(desc frame_graph.BufferDescriptor) (frame_graph.Buffer, error) {
	return &softwareBuffer{label: desc.Label, data: make([]byte, desc.Size)}, nil
}

func (b *softwareRendererBackend) WriteBuffer(buf frame_graph.Buffer, offset uint64, data []byte) error {
	sb, ok := buf.(*softwareBuffer)
	if !ok {
		return fmt.Errorf("software backend: buffer %q was not created by this backend", buf.Label())
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if sb.released {
		return fmt.Errorf("software backend: buffer %q was released", sb.label)
	}
	if offset+uint64(len(data)) > uint64(len(sb.data)) {
		return fmt.Errorf("software backend: write of %d bytes at %d overruns buffer %q of %d bytes", len(data), offset, sb.label, len(sb.data))
	}
	copy(sb.data[offset:], data)
	return nil
}

func (b *softwareRendererBackend) ReleaseBuffer(buf frame_graph.Buffer) {
	if sb, ok := buf.(*softwareBuffer); ok {
		b.mu.Lock()
		defer b.mu.Unlock()
		sb.released = true
	}
}

func (b *softwareRendererBackend) RegisterPipeline(p pipeline.Pipeline) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pipelines[p.PipelineKey()] = p
	return nil
}

func (b *softwareRendererBackend) Submit(pass *frame_graph.Pass) (frame_graph.Signal, error) {
	if err := pass.Validate(); err != nil {
		return frame_graph.NoSignal, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if pass.Wait > b.lastSignal {
		return frame_graph.NoSignal, fmt.Errorf("%w: pass %q waits on %d", frame_graph.ErrUnknownSignal, pass.Label, pass.Wait)
	}
	for _, img := range append(pass.Reads(), pass.Writes()...) {
		si, ok := img.(*softwareImage)
		if !ok || si.released {
			return frame_graph.NoSignal, fmt.Errorf("%w: pass %q uses image %q that is not live on this backend", frame_graph.ErrInvalidPass, pass.Label, img.Label())
		}
	}
	for i, d := range pass.Draws {
		if _, ok := b.pipelines[d.Pipeline.PipelineKey()]; !ok {
			return frame_graph.NoSignal, fmt.Errorf("%w: pass %q draw %d uses %q", frame_graph.ErrUnknownPipeline, pass.Label, i, d.Pipeline.PipelineKey())
		}
	}

	buffers, err := captureBuffers(pass)
	if err != nil {
		return frame_graph.NoSignal, err
	}
	sp := &softwarePass{pass: clonePass(pass), buffers: buffers}
	if _, ok := b.pending[pass.Wait]; ok {
		sp.deps = append(sp.deps, pass.Wait)
	}
	for _, sig := range b.order {
		if hazard(b.pending[sig].pass, sp.pass) && !slices.Contains(sp.deps, sig) {
			sp.deps = append(sp.deps, sig)
		}
	}

	b.lastSignal++
	sp.signal = b.lastSignal
	b.pending[sp.signal] = sp
	b.order = append(b.order, sp.signal)
	return sp.signal, nil
}

// clonePass copies the parts of a pass its caller may reuse after Submit returns.
func clonePass(p *frame_graph.Pass) frame_graph.Pass {
	out := *p
	out.Sampled = slices.Clone(p.Sampled)
	out.Color = slices.Clone(p.Color)
	if p.DepthStencil != nil {
		ds := *p.DepthStencil
		out.DepthStencil = &ds
	}
	if p.Copy != nil {
		c := *p.Copy
		out.Copy = &c
	}
	out.Draws = make([]frame_graph.DrawCommand, len(p.Draws))
	for i, d := range p.Draws {
		d.Uniforms = slices.Clone(d.Uniforms)
		out.Draws[i] = d
	}
	return out
}

// captureBuffers copies the bound range of every draw's buffers. Caller must hold the mutex.
func captureBuffers(p *frame_graph.Pass) ([][][]byte, error) {
	out := make([][][]byte, len(p.Draws))
	for i, d := range p.Draws {
		for j, bind := range d.Buffers {
			sb, ok := bind.Buffer.(*softwareBuffer)
			if !ok || sb.released {
				return nil, fmt.Errorf("%w: pass %q draw %d binds buffer %q that is not live on this backend", frame_graph.ErrInvalidPass, p.Label, i, bind.Buffer.Label())
			}
			if j == 0 {
				out[i] = make([][]byte, len(d.Buffers))
			}
			out[i][j] = slices.Clone(sb.data[bind.Offset : bind.Offset+bind.Size])
		}
	}
	return out, nil
}

// hazard reports whether later must run after earlier: a write by either pass to an image the other uses.
func hazard(earlier, later frame_graph.Pass) bool {
	ew, lw := earlier.Writes(), later.Writes()
	for _, w := range ew {
		if slices.Contains(later.Reads(), w) || slices.Contains(lw, w) {
			return true
		}
	}
	for _, w := range lw {
		if slices.Contains(earlier.Reads(), w) {
			return true
		}
	}
	return false
}

func (b *softwareRendererBackend) Wait(sig frame_graph.Signal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sig > b.lastSignal {
		return fmt.Errorf("%w: wait on %d", frame_graph.ErrUnknownSignal, sig)
	}
	return b.resolve(sig)
}

// resolve runs the pass that produces sig after its dependencies. Caller must hold the mutex.
func (b *softwareRendererBackend) resolve(sig frame_graph.Signal) error {
	sp, ok := b.pending[sig]
	if !ok {
		return nil
	}
	for _, dep := range sp.deps {
		if err := b.resolve(dep); err != nil {
			return err
		}
	}
	delete(b.pending, sig)
	b.order = slices.DeleteFunc(b.order, func(s frame_graph.Signal) bool { return s == sig })
	return b.execute(sp)
}

func (b *softwareRendererBackend) execute(sp *softwarePass) error {
	p := &sp.pass
	if p.Copy != nil {
		src := p.Copy.Source.(*softwareImage)
		dst := p.Copy.Destination.(*softwareImage)
		copy(dst.color, src.color)
		copy(dst.depth, src.depth)
		copy(dst.stencil, src.stencil)
		return nil
	}

	targets := make([]*softwareImage, len(p.Color))
	for i, c := range p.Color {
		targets[i] = c.Image.(*softwareImage)
		if c.LoadOp == frame_graph.LoadOpClear {
			targets[i].fill(c.ClearValue)
		}
	}
	var ds *softwareImage
	if p.DepthStencil != nil {
		ds = p.DepthStencil.Image.(*softwareImage)
		if p.DepthStencil.DepthLoadOp == frame_graph.LoadOpClear && !p.DepthStencil.DepthReadOnly {
			for i := range ds.depth {
				ds.depth[i] = p.DepthStencil.DepthClearValue
			}
		}
		if p.DepthStencil.StencilLoadOp == frame_graph.LoadOpClear {
			for i := range ds.stencil {
				ds.stencil[i] = p.DepthStencil.StencilClearValue
			}
		}
	}
	sampled := make([]*softwareImage, len(p.Sampled))
	for i, img := range p.Sampled {
		sampled[i] = img.(*softwareImage)
	}

	r := rasterTarget{color: targets, depthStencil: ds, sampled: sampled}
	if ds != nil {
		r.depthReadOnly = p.DepthStencil.DepthReadOnly
	}
	if len(targets) > 0 {
		r.width, r.height = targets[0].width, targets[0].height
	} else if ds != nil {
		r.width, r.height = ds.width, ds.height
	}
	for i := range p.Draws {
		r.draw(&p.Draws[i], sp.buffers[i])
	}
	return nil
}

// fill sets every texel of a color image to v.
func (i *softwareImage) fill(v [4]float32) {
	ch := i.format.Channels()
	for t := 0; t < len(i.color); t += ch {
		copy(i.color[t:t+ch], v[:ch])
	}
}

func (b *softwareRendererBackend) ReadImage(img frame_graph.Image) (*ImageData, error) {
	si, ok := img.(*softwareImage)
	if !ok || si.released {
		return nil, fmt.Errorf("software backend: image %q is not live on this backend", img.Label())
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sig := range slices.Clone(b.order) {
		sp, ok := b.pending[sig]
		if ok && slices.Contains(sp.pass.Writes(), img) {
			if err := b.resolve(sig); err != nil {
				return nil, err
			}
		}
	}

	if si.format.HasDepth() {
		return &ImageData{Width: si.width, Height: si.height, Channels: 1, Pixels: slices.Clone(si.depth)}, nil
	}
	return &ImageData{Width: si.width, Height: si.height, Channels: si.format.Channels(), Pixels: slices.Clone(si.color)}, nil
}

// ReadStencil completes the passes writing img and returns a copy of its stencil aspect.
func (b *softwareRendererBackend) ReadStencil(img frame_graph.Image) ([]uint8, error) {
	if _, err := b.ReadImage(img); err != nil {
		return nil, err
	}
	si := img.(*softwareImage)
	if !si.format.HasStencil() {
		return nil, fmt.Errorf("software backend: image %q has no stencil aspect", si.label)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(si.stencil), nil
}

// Pending returns the number of submitted passes that have not run yet.
func (b *softwareRendererBackend) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *softwareRendererBackend) Present(...frame_graph.Image) error { return nil }

func (b *softwareRendererBackend) ConfigureSurface(int, int) {}

func (b *softwareRendererBackend) SetPresentMode(PresentMode) {}

func (b *softwareRendererBackend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for img := range b.images {
		img.released = true
	}
	clear(b.images)
	clear(b.pending)
	b.order = nil
}

package renderer

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"github.com/Carmen-Shannon/oxy-deferred/common"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/frame_graph"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/pipeline"
	"github.com/cogentcore/webgpu/wgpu"
)

//go:embed assets/depth_blit.wgsl
var depthBlitSource string

//go:embed assets/present.wgsl
var presentSource string

// uniformAlignment is the WebGPU minimum uniform buffer offset alignment.
const uniformAlignment = 256

type wgpuImage struct {
	label   string
	width   int
	height  int
	format  common.TextureFormat
	texture *wgpu.Texture

	// view covers every aspect and is used for attachments and copies.
	view *wgpu.TextureView
	// sampleView is the depth-only view for depth formats and equal to view otherwise.
	sampleView *wgpu.TextureView
}

func (i *wgpuImage) Label() string                { return i.label }
func (i *wgpuImage) Width() int                   { return i.width }
func (i *wgpuImage) Height() int                  { return i.height }
func (i *wgpuImage) Format() common.TextureFormat { return i.format }

func (i *wgpuImage) release() {
	if i.sampleView != nil && i.sampleView != i.view {
		i.sampleView.Release()
	}
	if i.view != nil {
		i.view.Release()
	}
	if i.texture != nil {
		i.texture.Release()
	}
	i.view, i.sampleView, i.texture = nil, nil, nil
}

type wgpuBuffer struct {
	label  string
	size   uint64
	buffer *wgpu.Buffer
}

func (b *wgpuBuffer) Label() string { return b.label }
func (b *wgpuBuffer) Size() uint64  { return b.size }

type wgpuPipeline struct {
	description pipeline.Pipeline
	render      *wgpu.RenderPipeline
	layout      *wgpu.BindGroupLayout

	// uniforms holds the per-draw uniform blocks of the pass being encoded. It lives as long as the pipeline
	// and only grows, so steady-state frames allocate nothing.
	uniforms *wgpu.Buffer
}

func (p *wgpuPipeline) release() {
	if p.uniforms != nil {
		p.uniforms.Release()
		p.uniforms = nil
	}
	p.render.Release()
	p.layout.Release()
}

type wgpuMesh struct {
	vertex     *wgpu.Buffer
	index      *wgpu.Buffer
	indexCount uint32
}

// wgpuRendererBackendImpl runs frame graph passes on a single WebGPU queue. Every Submit encodes and submits
// its own command buffer, so queue order already satisfies both wait signals and image hazards; signals are a
// counter used to validate waits and to report completion.
type wgpuRendererBackendImpl struct {
	mu  *sync.Mutex
	log *slog.Logger

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	surface  *wgpu.Surface

	surfaceFormat *wgpu.TextureFormat
	presentMode   wgpu.PresentMode

	pipelines  map[string]*wgpuPipeline
	meshes     map[*frame_graph.Mesh]*wgpuMesh
	blackImage *wgpuImage
	present    *wgpuPipeline

	lastSignal frame_graph.Signal
}

var _ RendererBackend = &wgpuRendererBackendImpl{}

// newWGPURendererBackend requests an adapter and device. A nil surfaceDescriptor creates a headless backend
// that can render and read back images but not present.
func newWGPURendererBackend(surfaceDescriptor *wgpu.SurfaceDescriptor, forceFallbackAdapter bool, log *slog.Logger) *wgpuRendererBackendImpl {
	runtime.LockOSThread()
	w := &wgpuRendererBackendImpl{
		mu:          &sync.Mutex{},
		log:         log,
		instance:    wgpu.CreateInstance(nil),
		presentMode: wgpu.PresentModeFifo,
		pipelines:   make(map[string]*wgpuPipeline),
		meshes:      make(map[*frame_graph.Mesh]*wgpuMesh),
	}
	if surfaceDescriptor != nil {
		w.surface = w.instance.CreateSurface(surfaceDescriptor)
	}

	a, err := w.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
		CompatibleSurface:    w.surface,
	})
	if err != nil {
		panic(err)
	}
	w.adapter = a

	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Main Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: wgpu.DefaultLimits(),
		},
	})
	if err != nil {
		panic(err)
	}
	w.device = d
	w.queue = d.GetQueue()

	log.Info("wgpu device ready", "fallback_adapter", forceFallbackAdapter, "headless", w.surface == nil)
	return w
}

func (b *wgpuRendererBackendImpl) ConfigureSurface(width, height int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.surface == nil || width <= 0 || height <= 0 {
		return
	}
	capabilities := b.surface.GetCapabilities(b.adapter)
	format := capabilities.Formats[0]
	if b.surfaceFormat == nil || *b.surfaceFormat != format {
		// The present pipeline targets the surface format.
		b.present = nil
	}
	b.surfaceFormat = &format

	b.surface.Configure(b.adapter, b.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      format,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: b.presentMode,
		AlphaMode:   capabilities.AlphaModes[0],
	})
}

func (b *wgpuRendererBackendImpl) SetPresentMode(mode PresentMode) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch mode {
	case PresentModeVSync:
		b.presentMode = wgpu.PresentModeFifo
	case PresentModeUncapped:
		fallthrough
	default:
		b.presentMode = wgpu.PresentModeImmediate
	}
}

func (b *wgpuRendererBackendImpl) CreateImage(desc frame_graph.ImageDescriptor) (frame_graph.Image, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.createImage(desc)
}

// createImage allocates a texture usable as attachment, sampled input and copy source or destination.
// Caller must hold the mutex.
func (b *wgpuRendererBackendImpl) createImage(desc frame_graph.ImageDescriptor) (*wgpuImage, error) {
	format, err := textureFormatToWGPU(desc.Format)
	if err != nil {
		return nil, fmt.Errorf("image %q: %w", desc.Label, err)
	}
	usage := wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst
	if desc.Format != common.TextureFormatDepth24PlusStencil8 {
		usage |= wgpu.TextureUsageCopySrc
	}
	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: desc.Label,
		Usage: usage,
		Size: wgpu.Extent3D{
			Width:              uint32(desc.Width),
			Height:             uint32(desc.Height),
			DepthOrArrayLayers: 1,
		},
		Dimension:     wgpu.TextureDimension2D,
		Format:        format,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create image %q: %w", desc.Label, err)
	}
	img := &wgpuImage{label: desc.Label, width: desc.Width, height: desc.Height, format: desc.Format, texture: tex}
	if img.view, err = tex.CreateView(nil); err != nil {
		img.release()
		return nil, fmt.Errorf("failed to create view of image %q: %w", desc.Label, err)
	}
	img.sampleView = img.view
	if desc.Format.HasStencil() {
		img.sampleView, err = tex.CreateView(&wgpu.TextureViewDescriptor{
			Label:           desc.Label + " depth",
			Format:          format,
			Dimension:       wgpu.TextureViewDimension2D,
			BaseMipLevel:    0,
			MipLevelCount:   1,
			BaseArrayLayer:  0,
			ArrayLayerCount: 1,
			Aspect:          wgpu.TextureAspectDepthOnly,
		})
		if err != nil {
			img.release()
			return nil, fmt.Errorf("failed to create depth view of image %q: %w", desc.Label, err)
		}
	}
	return img, nil
}

func (b *wgpuRendererBackendImpl) ReleaseImage(img frame_graph.Image) {
	if wi, ok := img.(*wgpuImage); ok {
		b.mu.Lock()
		defer b.mu.Unlock()
		wi.release()
	}
}

func (b *wgpuRendererBackendImpl) CreateBuffer(desc frame_graph.BufferDescriptor) (frame_graph.Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            desc.Label,
		Size:             common.AlignUp(desc.Size, 4),
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer %q: %w", desc.Label, err)
	}
	return &wgpuBuffer{label: desc.Label, size: desc.Size, buffer: buf}, nil
}

func (b *wgpuRendererBackendImpl) WriteBuffer(buf frame_graph.Buffer, offset uint64, data []byte) error {
	wb, ok := buf.(*wgpuBuffer)
	if !ok || wb.buffer == nil {
		return fmt.Errorf("wgpu backend: buffer %q is not live on this backend", buf.Label())
	}
	if offset+uint64(len(data)) > wb.size {
		return fmt.Errorf("wgpu backend: write of %d bytes at %d overruns buffer %q of %d bytes", len(data), offset, wb.label, wb.size)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.WriteBuffer(wb.buffer, offset, data)
}

func (b *wgpuRendererBackendImpl) ReleaseBuffer(buf frame_graph.Buffer) {
	if wb, ok := buf.(*wgpuBuffer); ok && wb.buffer != nil {
		b.mu.Lock()
		defer b.mu.Unlock()
		wb.buffer.Release()
		wb.buffer = nil
	}
}

func (b *wgpuRendererBackendImpl) RegisterPipeline(p pipeline.Pipeline) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.pipelines[p.PipelineKey()]; exists {
		return nil
	}
	targets := make([]wgpu.TextureFormat, len(p.ColorFormats()))
	for i, f := range p.ColorFormats() {
		wf, err := textureFormatToWGPU(f)
		if err != nil {
			return fmt.Errorf("pipeline %q color target %d: %w", p.PipelineKey(), i, err)
		}
		targets[i] = wf
	}
	created, err := b.createRenderPipeline(p, targets)
	if err != nil {
		return err
	}
	b.pipelines[p.PipelineKey()] = created
	return nil
}

// createRenderPipeline compiles a pipeline description. Bind group 0 holds the uniform block at binding 0,
// one texture per sampled input from binding 1, then one uniform range per buffer binding. Caller must hold
// the mutex.
func (b *wgpuRendererBackendImpl) createRenderPipeline(p pipeline.Pipeline, targets []wgpu.TextureFormat) (*wgpuPipeline, error) {
	module, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: p.PipelineKey(),
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: p.Source(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compile shader of pipeline %q: %w", p.PipelineKey(), err)
	}

	var entries []wgpu.BindGroupLayoutEntry
	if p.UniformSize() > 0 {
		entries = append(entries, wgpu.BindGroupLayoutEntry{
			Binding:    0,
			Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment,
			Buffer: wgpu.BufferBindingLayout{
				Type:           wgpu.BufferBindingTypeUniform,
				MinBindingSize: uint64(p.UniformSize()),
			},
		})
	}
	for i, f := range p.SampledInputFormats() {
		sampleType := wgpu.TextureSampleTypeUnfilterableFloat
		if f.HasDepth() {
			sampleType = wgpu.TextureSampleTypeDepth
		}
		entries = append(entries, wgpu.BindGroupLayoutEntry{
			Binding:    uint32(i + 1),
			Visibility: wgpu.ShaderStageFragment,
			Texture: wgpu.TextureBindingLayout{
				SampleType:    sampleType,
				ViewDimension: wgpu.TextureViewDimension2D,
				Multisampled:  false,
			},
		})
	}
	for j, size := range p.BufferBindingSizes() {
		entries = append(entries, wgpu.BindGroupLayoutEntry{
			Binding:    bufferBindingSlot(p, j),
			Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment,
			Buffer: wgpu.BufferBindingLayout{
				Type:           wgpu.BufferBindingTypeUniform,
				MinBindingSize: uint64(size),
			},
		})
	}
	layout, err := b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   p.PipelineKey(),
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bind group layout of pipeline %q: %w", p.PipelineKey(), err)
	}
	pipelineLayout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            p.PipelineKey(),
		BindGroupLayouts: []*wgpu.BindGroupLayout{layout},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create layout of pipeline %q: %w", p.PipelineKey(), err)
	}

	var vertexLayouts []wgpu.VertexBufferLayout
	if p.VertexPositions() {
		vertexLayouts = []wgpu.VertexBufferLayout{{
			ArrayStride: 12,
			StepMode:    wgpu.VertexStepModeVertex,
			Attributes: []wgpu.VertexAttribute{
				{Format: wgpu.VertexFormatFloat32x3, Offset: 0, ShaderLocation: 0},
			},
		}}
	}

	colorTargets := make([]wgpu.ColorTargetState, len(targets))
	for i, f := range targets {
		colorTargets[i] = wgpu.ColorTargetState{Format: f, WriteMask: wgpu.ColorWriteMaskAll}
		if !p.ColorWriteEnabled() {
			colorTargets[i].WriteMask = wgpu.ColorWriteMaskNone
		}
		if p.BlendMode() == pipeline.BlendModeAdditive {
			add := wgpu.BlendComponent{
				SrcFactor: wgpu.BlendFactorOne,
				DstFactor: wgpu.BlendFactorOne,
				Operation: wgpu.BlendOperationAdd,
			}
			colorTargets[i].Blend = &wgpu.BlendState{Color: add, Alpha: add}
		}
	}

	var depthStencil *wgpu.DepthStencilState
	if p.DepthStencilFormat() != common.TextureFormatUndefined {
		format, err := textureFormatToWGPU(p.DepthStencilFormat())
		if err != nil {
			return nil, fmt.Errorf("pipeline %q depth-stencil: %w", p.PipelineKey(), err)
		}
		st := p.Stencil()
		depthStencil = &wgpu.DepthStencilState{
			Format:            format,
			DepthWriteEnabled: p.DepthWriteEnabled(),
			DepthCompare:      compareFunctionToWGPU(p.DepthCompare()),
			StencilFront:      wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
			StencilBack:       wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
			StencilReadMask:   0xFF,
			StencilWriteMask:  0,
		}
		if st.Enabled {
			depthStencil.StencilFront = stencilFaceToWGPU(st.Front)
			depthStencil.StencilBack = stencilFaceToWGPU(st.Back)
			depthStencil.StencilReadMask = uint32(st.ReadMask)
			depthStencil.StencilWriteMask = uint32(st.WriteMask)
		}
	}

	created, err := b.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  p.PipelineKey() + " Render Pipeline",
		Layout: pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     module,
			EntryPoint: p.VertexEntryPoint(),
			Buffers:    vertexLayouts,
		},
		Fragment: &wgpu.FragmentState{
			Module:     module,
			EntryPoint: p.FragmentEntryPoint(),
			Targets:    colorTargets,
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: frontFaceToWGPU(p.FrontFace()),
			CullMode:  cullModeToWGPU(p.CullMode()),
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
		DepthStencil: depthStencil,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create render pipeline %q: %w", p.PipelineKey(), err)
	}
	return &wgpuPipeline{description: p, render: created, layout: layout}, nil
}

func (b *wgpuRendererBackendImpl) Submit(pass *frame_graph.Pass) (frame_graph.Signal, error) {
	if err := pass.Validate(); err != nil {
		return frame_graph.NoSignal, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if pass.Wait > b.lastSignal {
		return frame_graph.NoSignal, fmt.Errorf("%w: pass %q waits on %d", frame_graph.ErrUnknownSignal, pass.Label, pass.Wait)
	}

	encoder, err := b.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: pass.Label})
	if err != nil {
		return frame_graph.NoSignal, fmt.Errorf("failed to create encoder for pass %q: %w", pass.Label, err)
	}
	defer encoder.Release()

	var transient []func()
	defer func() {
		for _, release := range transient {
			release()
		}
	}()

	if pass.Copy != nil {
		transient, err = b.encodeCopy(encoder, pass)
	} else {
		transient, err = b.encodeDraws(encoder, pass)
	}
	if err != nil {
		return frame_graph.NoSignal, err
	}

	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		return frame_graph.NoSignal, fmt.Errorf("failed to finish pass %q: %w", pass.Label, err)
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()

	b.lastSignal++
	return b.lastSignal, nil
}

// encodeCopy records a full-image copy. Depth24PlusStencil8 is not copyable in WebGPU, so depth formats are
// copied by the depth blit pipeline instead. Caller must hold the mutex.
func (b *wgpuRendererBackendImpl) encodeCopy(encoder *wgpu.CommandEncoder, pass *frame_graph.Pass) ([]func(), error) {
	src, ok1 := pass.Copy.Source.(*wgpuImage)
	dst, ok2 := pass.Copy.Destination.(*wgpuImage)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: pass %q copies images not created by this backend", frame_graph.ErrInvalidPass, pass.Label)
	}

	if !src.format.HasDepth() {
		encoder.CopyTextureToTexture(
			&wgpu.ImageCopyTexture{Texture: src.texture, MipLevel: 0, Origin: wgpu.Origin3D{}, Aspect: wgpu.TextureAspectAll},
			&wgpu.ImageCopyTexture{Texture: dst.texture, MipLevel: 0, Origin: wgpu.Origin3D{}, Aspect: wgpu.TextureAspectAll},
			&wgpu.Extent3D{Width: uint32(src.width), Height: uint32(src.height), DepthOrArrayLayers: 1},
		)
		return nil, nil
	}

	blit, err := b.depthBlitPipeline(src.format)
	if err != nil {
		return nil, err
	}
	bindGroup, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   pass.Label,
		Layout:  blit.layout,
		Entries: []wgpu.BindGroupEntry{{Binding: 1, TextureView: src.sampleView}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to bind source of pass %q: %w", pass.Label, err)
	}

	attachment := &wgpu.RenderPassDepthStencilAttachment{
		View:            dst.view,
		DepthLoadOp:     wgpu.LoadOpClear,
		DepthStoreOp:    wgpu.StoreOpStore,
		DepthClearValue: 1.0,
	}
	if dst.format.HasStencil() {
		attachment.StencilLoadOp = wgpu.LoadOpClear
		attachment.StencilStoreOp = wgpu.StoreOpStore
		attachment.StencilClearValue = 0
	}
	rp := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label:                  pass.Label,
		DepthStencilAttachment: attachment,
	})
	rp.SetPipeline(blit.render)
	rp.SetBindGroup(0, bindGroup, nil)
	rp.Draw(3, 1, 0, 0)
	rp.End()
	return []func(){bindGroup.Release}, nil
}

// depthBlitPipeline returns the depth copy pipeline for a format, compiling it on first use. Caller must hold the mutex.
func (b *wgpuRendererBackendImpl) depthBlitPipeline(format common.TextureFormat) (*wgpuPipeline, error) {
	key := "depth_blit/" + format.String()
	if p, ok := b.pipelines[key]; ok {
		return p, nil
	}
	desc := pipeline.NewPipeline(key,
		pipeline.WithShaderSource(depthBlitSource, "vs_main", "fs_main"),
		pipeline.WithDepthStencilFormat(format),
		pipeline.WithSampledInputs(format),
		pipeline.WithDepthCompare(pipeline.CompareFunctionAlways),
		pipeline.WithDepthWriteEnabled(true),
	)
	p, err := b.createRenderPipeline(desc, nil)
	if err != nil {
		return nil, err
	}
	b.pipelines[key] = p
	return p, nil
}

// bufferBindingSlot returns the binding index of a pipeline's j-th buffer binding.
func bufferBindingSlot(p pipeline.Pipeline, j int) uint32 {
	return uint32(1 + len(p.SampledInputFormats()) + j)
}

// ensureUniforms grows a pipeline's uniform buffer to hold size bytes, with headroom for growth. The old
// buffer stays alive for work already submitted. Caller must hold the mutex.
func (b *wgpuRendererBackendImpl) ensureUniforms(p *wgpuPipeline, size uint64) error {
	if p.uniforms != nil && p.uniforms.GetSize() >= size {
		return nil
	}
	capacity := common.AlignUp(size+size/2, uniformAlignment)
	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            p.description.PipelineKey() + " Uniforms",
		Size:             capacity,
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		MappedAtCreation: false,
	})
	if err != nil {
		return fmt.Errorf("failed to grow uniforms of pipeline %q to %d bytes: %w", p.description.PipelineKey(), capacity, err)
	}
	if p.uniforms != nil {
		p.uniforms.Release()
	}
	p.uniforms = buf
	b.log.Debug("pipeline uniforms grew", "pipeline", p.description.PipelineKey(), "bytes", capacity)
	return nil
}

// stageUniforms writes every draw's uniform block into its own 256-byte aligned range of the draw pipeline's
// uniform buffer, one queue write per pipeline. Queue writes land after earlier submissions, so reusing the
// buffer for every pass is safe. Caller must hold the mutex.
func (b *wgpuRendererBackendImpl) stageUniforms(pass *frame_graph.Pass) ([]*wgpuPipeline, []uint64, error) {
	pipes := make([]*wgpuPipeline, len(pass.Draws))
	offsets := make([]uint64, len(pass.Draws))
	staged := make(map[*wgpuPipeline][]byte)
	var order []*wgpuPipeline
	for i, d := range pass.Draws {
		p, ok := b.pipelines[d.Pipeline.PipelineKey()]
		if !ok {
			return nil, nil, fmt.Errorf("%w: pass %q draw %d uses %q", frame_graph.ErrUnknownPipeline, pass.Label, i, d.Pipeline.PipelineKey())
		}
		pipes[i] = p
		if len(d.Uniforms) == 0 {
			continue
		}
		data, seen := staged[p]
		if !seen {
			order = append(order, p)
		}
		offsets[i] = uint64(len(data))
		padded := common.AlignUp(uint64(len(d.Uniforms)), uniformAlignment)
		data = append(data, d.Uniforms...)
		staged[p] = append(data, make([]byte, padded-uint64(len(d.Uniforms)))...)
	}
	for _, p := range order {
		data := staged[p]
		if err := b.ensureUniforms(p, uint64(len(data))); err != nil {
			return nil, nil, err
		}
		if err := b.queue.WriteBuffer(p.uniforms, 0, data); err != nil {
			return nil, nil, fmt.Errorf("failed to write uniforms of pass %q: %w", pass.Label, err)
		}
	}
	return pipes, offsets, nil
}

// encodeDraws records a render pass. Caller must hold the mutex.
func (b *wgpuRendererBackendImpl) encodeDraws(encoder *wgpu.CommandEncoder, pass *frame_graph.Pass) ([]func(), error) {
	var transient []func()

	pipes, offsets, err := b.stageUniforms(pass)
	if err != nil {
		return nil, err
	}

	sampled := make([]*wgpuImage, len(pass.Sampled))
	for i, img := range pass.Sampled {
		wi, ok := img.(*wgpuImage)
		if !ok || wi.texture == nil {
			return transient, fmt.Errorf("%w: pass %q samples image %q that is not live on this backend", frame_graph.ErrInvalidPass, pass.Label, img.Label())
		}
		sampled[i] = wi
	}

	desc := &wgpu.RenderPassDescriptor{Label: pass.Label}
	for _, c := range pass.Color {
		wi, ok := c.Image.(*wgpuImage)
		if !ok || wi.texture == nil {
			return transient, fmt.Errorf("%w: pass %q targets image %q that is not live on this backend", frame_graph.ErrInvalidPass, pass.Label, c.Image.Label())
		}
		desc.ColorAttachments = append(desc.ColorAttachments, wgpu.RenderPassColorAttachment{
			View:    wi.view,
			LoadOp:  loadOpToWGPU(c.LoadOp),
			StoreOp: wgpu.StoreOpStore,
			ClearValue: wgpu.Color{
				R: float64(c.ClearValue[0]),
				G: float64(c.ClearValue[1]),
				B: float64(c.ClearValue[2]),
				A: float64(c.ClearValue[3]),
			},
		})
	}
	if ds := pass.DepthStencil; ds != nil {
		wi, ok := ds.Image.(*wgpuImage)
		if !ok || wi.texture == nil {
			return transient, fmt.Errorf("%w: pass %q targets image %q that is not live on this backend", frame_graph.ErrInvalidPass, pass.Label, ds.Image.Label())
		}
		attachment := &wgpu.RenderPassDepthStencilAttachment{
			View:            wi.view,
			DepthReadOnly:   ds.DepthReadOnly,
			DepthClearValue: ds.DepthClearValue,
		}
		if !ds.DepthReadOnly {
			attachment.DepthLoadOp = loadOpToWGPU(ds.DepthLoadOp)
			attachment.DepthStoreOp = wgpu.StoreOpStore
		}
		if wi.format.HasStencil() {
			attachment.StencilLoadOp = loadOpToWGPU(ds.StencilLoadOp)
			attachment.StencilStoreOp = wgpu.StoreOpStore
			attachment.StencilClearValue = uint32(ds.StencilClearValue)
		}
		desc.DepthStencilAttachment = attachment
	}

	rp := encoder.BeginRenderPass(desc)
	for i, d := range pass.Draws {
		p := pipes[i]

		var entries []wgpu.BindGroupEntry
		if len(d.Uniforms) > 0 {
			entries = append(entries, wgpu.BindGroupEntry{
				Binding: 0,
				Buffer:  p.uniforms,
				Offset:  offsets[i],
				Size:    uint64(len(d.Uniforms)),
			})
		}
		for s, img := range sampled {
			entries = append(entries, wgpu.BindGroupEntry{Binding: uint32(s + 1), TextureView: img.sampleView})
		}
		for j, bind := range d.Buffers {
			wb, ok := bind.Buffer.(*wgpuBuffer)
			if !ok || wb.buffer == nil {
				rp.End()
				return transient, fmt.Errorf("%w: pass %q draw %d binds buffer %q that is not live on this backend", frame_graph.ErrInvalidPass, pass.Label, i, bind.Buffer.Label())
			}
			if bind.Offset%uniformAlignment != 0 {
				rp.End()
				return transient, fmt.Errorf("%w: pass %q draw %d binds %q at offset %d, not a multiple of %d", frame_graph.ErrInvalidPass, pass.Label, i, wb.label, bind.Offset, uniformAlignment)
			}
			entries = append(entries, wgpu.BindGroupEntry{
				Binding: bufferBindingSlot(d.Pipeline, j),
				Buffer:  wb.buffer,
				Offset:  bind.Offset,
				Size:    bind.Size,
			})
		}
		bindGroup, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:   fmt.Sprintf("%s draw %d", pass.Label, i),
			Layout:  p.layout,
			Entries: entries,
		})
		if err != nil {
			rp.End()
			return transient, fmt.Errorf("failed to bind inputs of pass %q draw %d: %w", pass.Label, i, err)
		}
		transient = append(transient, bindGroup.Release)

		rp.SetPipeline(p.render)
		rp.SetBindGroup(0, bindGroup, nil)
		if st := d.Pipeline.Stencil(); st.Enabled {
			rp.SetStencilReference(uint32(st.Reference))
		}
		if d.Mesh == nil {
			rp.Draw(3, 1, 0, 0)
			continue
		}
		mesh, err := b.meshBuffers(d.Mesh)
		if err != nil {
			rp.End()
			return transient, err
		}
		rp.SetVertexBuffer(0, mesh.vertex, 0, wgpu.WholeSize)
		rp.SetIndexBuffer(mesh.index, wgpu.IndexFormatUint32, 0, wgpu.WholeSize)
		rp.DrawIndexed(mesh.indexCount, 1, 0, 0, 0)
	}
	rp.End()
	return transient, nil
}

// meshBuffers returns the device buffers of a mesh, uploading it on first use. Meshes are immutable once
// drawn. Caller must hold the mutex.
func (b *wgpuRendererBackendImpl) meshBuffers(m *frame_graph.Mesh) (*wgpuMesh, error) {
	if cached, ok := b.meshes[m]; ok {
		return cached, nil
	}
	vertexData := make([]byte, len(m.Positions)*12)
	for i, p := range m.Positions {
		common.PutVec3(vertexData[i*12:], p)
	}
	indexData := make([]byte, len(m.Indices)*4)
	for i, idx := range m.Indices {
		binary.LittleEndian.PutUint32(indexData[i*4:], idx)
	}

	vertex, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            m.Label + " Vertex Buffer",
		Size:             uint64(len(vertexData)),
		Usage:            wgpu.BufferUsageVertex | wgpu.BufferUsageCopyDst,
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex buffer of mesh %q: %w", m.Label, err)
	}
	index, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            m.Label + " Index Buffer",
		Size:             uint64(len(indexData)),
		Usage:            wgpu.BufferUsageIndex | wgpu.BufferUsageCopyDst,
		MappedAtCreation: false,
	})
	if err != nil {
		vertex.Release()
		return nil, fmt.Errorf("failed to create index buffer of mesh %q: %w", m.Label, err)
	}
	if err := b.queue.WriteBuffer(vertex, 0, vertexData); err != nil {
		vertex.Release()
		index.Release()
		return nil, fmt.Errorf("failed to upload mesh %q: %w", m.Label, err)
	}
	if err := b.queue.WriteBuffer(index, 0, indexData); err != nil {
		vertex.Release()
		index.Release()
		return nil, fmt.Errorf("failed to upload mesh %q: %w", m.Label, err)
	}

	cached := &wgpuMesh{vertex: vertex, index: index, indexCount: uint32(len(m.Indices))}
	b.meshes[m] = cached
	return cached, nil
}

func (b *wgpuRendererBackendImpl) Wait(sig frame_graph.Signal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sig > b.lastSignal {
		return fmt.Errorf("%w: wait on %d", frame_graph.ErrUnknownSignal, sig)
	}
	b.device.Poll(true, nil)
	return nil
}

func (b *wgpuRendererBackendImpl) ReadImage(img frame_graph.Image) (*ImageData, error) {
	wi, ok := img.(*wgpuImage)
	if !ok || wi.texture == nil {
		return nil, fmt.Errorf("wgpu backend: image %q is not live on this backend", img.Label())
	}
	texelSize, channels := readbackLayout(wi.format)
	if texelSize == 0 {
		return nil, fmt.Errorf("wgpu backend: image %q of format %s cannot be read back", wi.label, wi.format)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	bytesPerRow := uint32(common.AlignUp(uint64(wi.width*texelSize), 256))
	size := uint64(bytesPerRow) * uint64(wi.height)
	readback, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: wi.label + " Readback",
		Size:  size,
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readback buffer for %q: %w", wi.label, err)
	}
	defer readback.Release()

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	defer encoder.Release()
	aspect := wgpu.TextureAspectAll
	if wi.format.HasDepth() {
		aspect = wgpu.TextureAspectDepthOnly
	}
	encoder.CopyTextureToBuffer(
		&wgpu.ImageCopyTexture{Texture: wi.texture, MipLevel: 0, Origin: wgpu.Origin3D{}, Aspect: aspect},
		&wgpu.ImageCopyBuffer{
			Buffer: readback,
			Layout: wgpu.TextureDataLayout{
				Offset:       0,
				BytesPerRow:  bytesPerRow,
				RowsPerImage: uint32(wi.height),
			},
		},
		&wgpu.Extent3D{Width: uint32(wi.width), Height: uint32(wi.height), DepthOrArrayLayers: 1},
	)
	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to finish readback of %q: %w", wi.label, err)
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()

	status := wgpu.BufferMapAsyncStatusUnknown
	readback.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
	})
	b.device.Poll(true, nil)
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("failed to map readback of %q: status %v", wi.label, status)
	}
	data := readback.GetMappedRange(0, uint(size))
	defer readback.Unmap()

	out := &ImageData{Width: wi.width, Height: wi.height, Channels: channels, Pixels: make([]float32, wi.width*wi.height*channels)}
	for y := range wi.height {
		row := data[uint32(y)*bytesPerRow:]
		for x := range wi.width {
			px := (y*wi.width + x) * channels
			decodeTexel(wi.format, row[x*texelSize:(x+1)*texelSize], out.Pixels[px:px+channels])
		}
	}
	return out, nil
}

func (b *wgpuRendererBackendImpl) Present(images ...frame_graph.Image) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.surface == nil || b.surfaceFormat == nil {
		return nil
	}
	if len(images) == 0 || len(images) > 2 {
		return fmt.Errorf("wgpu backend: present takes one or two images, got %d", len(images))
	}
	views := make([]*wgpu.TextureView, 2)
	for i, img := range images {
		wi, ok := img.(*wgpuImage)
		if !ok || wi.texture == nil {
			return fmt.Errorf("wgpu backend: image %q is not live on this backend", img.Label())
		}
		views[i] = wi.sampleView
	}
	if views[1] == nil {
		black, err := b.black()
		if err != nil {
			return err
		}
		views[1] = black.sampleView
	}

	if b.present == nil {
		desc := pipeline.NewPipeline("present",
			pipeline.WithShaderSource(presentSource, "vs_main", "fs_main"),
			pipeline.WithSampledInputs(common.TextureFormatRGBA16Float, common.TextureFormatRGBA16Float),
		)
		p, err := b.createRenderPipeline(desc, []wgpu.TextureFormat{*b.surfaceFormat})
		if err != nil {
			return err
		}
		b.present = p
	}

	surfaceTexture, err := b.surface.GetCurrentTexture()
	if err != nil {
		return err
	}
	defer surfaceTexture.Release()
	view, err := surfaceTexture.CreateView(nil)
	if err != nil {
		return err
	}
	defer view.Release()

	bindGroup, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "present",
		Layout: b.present.layout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 1, TextureView: views[0]},
			{Binding: 2, TextureView: views[1]},
		},
	})
	if err != nil {
		return err
	}
	defer bindGroup.Release()

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	defer encoder.Release()
	rp := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       view,
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{R: 0, G: 0, B: 0, A: 1},
		}},
	})
	rp.SetPipeline(b.present.render)
	rp.SetBindGroup(0, bindGroup, nil)
	rp.Draw(3, 1, 0, 0)
	rp.End()

	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		return err
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
	b.surface.Present()
	return nil
}

// black returns a 1x1 zero image used when only one image is presented. Caller must hold the mutex.
func (b *wgpuRendererBackendImpl) black() (*wgpuImage, error) {
	if b.blackImage != nil {
		return b.blackImage, nil
	}
	img, err := b.createImage(frame_graph.ImageDescriptor{Label: "black", Width: 1, Height: 1, Format: common.TextureFormatRGBA16Float})
	if err != nil {
		return nil, err
	}
	b.blackImage = img
	return img, nil
}

func (b *wgpuRendererBackendImpl) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, m := range b.meshes {
		m.vertex.Release()
		m.index.Release()
	}
	clear(b.meshes)
	for _, p := range b.pipelines {
		p.release()
	}
	clear(b.pipelines)
	if b.present != nil {
		b.present.release()
		b.present = nil
	}
	if b.blackImage != nil {
		b.blackImage.release()
		b.blackImage = nil
	}
	b.queue.Release()
	b.device.Release()
	b.adapter.Release()
	if b.surface != nil {
		b.surface.Release()
	}
	b.instance.Release()
}

func textureFormatToWGPU(f common.TextureFormat) (wgpu.TextureFormat, error) {
	switch f {
	case common.TextureFormatRGBA8Unorm:
		return wgpu.TextureFormatRGBA8Unorm, nil
	case common.TextureFormatBGRA8Unorm:
		return wgpu.TextureFormatBGRA8Unorm, nil
	case common.TextureFormatRGBA16Float:
		return wgpu.TextureFormatRGBA16Float, nil
	case common.TextureFormatR32Float:
		return wgpu.TextureFormatR32Float, nil
	case common.TextureFormatRG32Float:
		return wgpu.TextureFormatRG32Float, nil
	case common.TextureFormatDepth32Float:
		return wgpu.TextureFormatDepth32Float, nil
	case common.TextureFormatDepth24PlusStencil8:
		return wgpu.TextureFormatDepth24PlusStencil8, nil
	default:
		return wgpu.TextureFormatUndefined, fmt.Errorf("unsupported texture format %s", f)
	}
}

func compareFunctionToWGPU(c pipeline.CompareFunction) wgpu.CompareFunction {
	switch c {
	case pipeline.CompareFunctionNever:
		return wgpu.CompareFunctionNever
	case pipeline.CompareFunctionLess:
		return wgpu.CompareFunctionLess
	case pipeline.CompareFunctionLessEqual:
		return wgpu.CompareFunctionLessEqual
	case pipeline.CompareFunctionEqual:
		return wgpu.CompareFunctionEqual
	case pipeline.CompareFunctionNotEqual:
		return wgpu.CompareFunctionNotEqual
	case pipeline.CompareFunctionGreater:
		return wgpu.CompareFunctionGreater
	case pipeline.CompareFunctionGreaterEqual:
		return wgpu.CompareFunctionGreaterEqual
	default:
		return wgpu.CompareFunctionAlways
	}
}

func stencilOperationToWGPU(o pipeline.StencilOperation) wgpu.StencilOperation {
	switch o {
	case pipeline.StencilOperationZero:
		return wgpu.StencilOperationZero
	case pipeline.StencilOperationReplace:
		return wgpu.StencilOperationReplace
	case pipeline.StencilOperationInvert:
		return wgpu.StencilOperationInvert
	case pipeline.StencilOperationIncrementClamp:
		return wgpu.StencilOperationIncrementClamp
	case pipeline.StencilOperationDecrementClamp:
		return wgpu.StencilOperationDecrementClamp
	case pipeline.StencilOperationIncrementWrap:
		return wgpu.StencilOperationIncrementWrap
	case pipeline.StencilOperationDecrementWrap:
		return wgpu.StencilOperationDecrementWrap
	default:
		return wgpu.StencilOperationKeep
	}
}

func stencilFaceToWGPU(f pipeline.StencilFaceState) wgpu.StencilFaceState {
	return wgpu.StencilFaceState{
		Compare:     compareFunctionToWGPU(f.Compare),
		FailOp:      stencilOperationToWGPU(f.FailOp),
		DepthFailOp: stencilOperationToWGPU(f.DepthFailOp),
		PassOp:      stencilOperationToWGPU(f.PassOp),
	}
}

func cullModeToWGPU(c pipeline.CullMode) wgpu.CullMode {
	switch c {
	case pipeline.CullModeFront:
		return wgpu.CullModeFront
	case pipeline.CullModeBack:
		return wgpu.CullModeBack
	default:
		return wgpu.CullModeNone
	}
}

func frontFaceToWGPU(f pipeline.FrontFace) wgpu.FrontFace {
	if f == pipeline.FrontFaceCW {
		return wgpu.FrontFaceCW
	}
	return wgpu.FrontFaceCCW
}

func loadOpToWGPU(op frame_graph.LoadOp) wgpu.LoadOp {
	if op == frame_graph.LoadOpClear {
		return wgpu.LoadOpClear
	}
	return wgpu.LoadOpLoad
}

// readbackLayout returns the texel size in bytes and the decoded channel count of a readable format.
func readbackLayout(f common.TextureFormat) (int, int) {
	switch f {
	case common.TextureFormatRGBA8Unorm, common.TextureFormatBGRA8Unorm:
		return 4, 4
	case common.TextureFormatRGBA16Float:
		return 8, 4
	case common.TextureFormatR32Float, common.TextureFormatDepth32Float:
		return 4, 1
	case common.TextureFormatRG32Float:
		return 8, 2
	default:
		return 0, 0
	}
}

func decodeTexel(f common.TextureFormat, src []byte, dst []float32) {
	switch f {
	case common.TextureFormatRGBA8Unorm:
		for c := range 4 {
			dst[c] = float32(src[c]) / 255
		}
	case common.TextureFormatBGRA8Unorm:
		dst[0], dst[1], dst[2], dst[3] = float32(src[2])/255, float32(src[1])/255, float32(src[0])/255, float32(src[3])/255
	case common.TextureFormatRGBA16Float:
		for c := range 4 {
			dst[c] = halfToFloat32(binary.LittleEndian.Uint16(src[c*2:]))
		}
	default:
		for c := range dst {
			dst[c] = math.Float32frombits(binary.LittleEndian.Uint32(src[c*4:]))
		}
	}
}

// halfToFloat32 widens an IEEE 754 binary16 value.
func halfToFloat32(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1F
	mant := uint32(h) & 0x3FF
	switch {
	case exp == 0 && mant == 0:
		return math.Float32frombits(sign)
	case exp == 0:
		// Subnormal: renormalize.
		for mant&0x400 == 0 {
			mant <<= 1
			exp--
		}
		exp++
		mant &= 0x3FF
	case exp == 0x1F:
		return math.Float32frombits(sign | 0x7F800000 | mant<<13)
	}
	return math.Float32frombits(sign | (exp+112)<<23 | mant<<13)
}

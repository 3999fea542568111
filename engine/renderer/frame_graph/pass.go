package frame_graph

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/pipeline"
	"github.com/go-gl/mathgl/mgl32"
)

// LoadOp selects what happens to an attachment's contents at the start of a pass.
type LoadOp int

const (
	LoadOpLoad LoadOp = iota
	LoadOpClear
)

// ColorAttachment binds a color image as a render target.
type ColorAttachment struct {
	Image      Image
	LoadOp     LoadOp
	ClearValue [4]float32
}

// DepthStencilAttachment binds a depth or depth-stencil image.
type DepthStencilAttachment struct {
	Image             Image
	DepthLoadOp       LoadOp
	DepthClearValue   float32
	DepthReadOnly     bool
	StencilLoadOp     LoadOp
	StencilClearValue uint8
}

// CopyCommand copies the full contents of Source into Destination. Both images must share size and format.
type CopyCommand struct {
	Source      Image
	Destination Image
}

// Mesh is an indexed triangle list in object space. Triangles wind counter-clockwise when seen from outside.
type Mesh struct {
	Label     string
	Positions []mgl32.Vec3
	Indices   []uint32
}

// TriangleCount returns the number of triangles in the mesh.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// BufferBinding is a byte range of a Buffer bound to a draw.
type BufferBinding struct {
	Buffer Buffer
	Offset uint64
	Size   uint64
}

// VertexInput is what a CPU vertex function sees for one draw.
type VertexInput struct {
	Uniforms []byte

	// Buffers holds the bytes of each bound buffer range as they were when the pass was submitted.
	Buffers [][]byte
}

// VertexFunc is the CPU reference of a pipeline's vertex stage. It returns the clip-from-object transform
// of the draw.
type VertexFunc func(in *VertexInput) mgl32.Mat4

// FragmentInput is what a CPU fragment function sees for one covered pixel.
type FragmentInput struct {
	X, Y        int
	Depth       float32
	FrontFacing bool
	Uniforms    []byte
	Buffers     [][]byte

	// Sample returns the texel at (x, y) of the pass's i-th sampled image.
	Sample func(i, x, y int) [4]float32
}

// FragmentFunc is the CPU reference of a pipeline's fragment stage. It writes one color per target into out
// and returns false to discard the fragment.
type FragmentFunc func(in *FragmentInput, out [][4]float32) bool

// DrawCommand draws a mesh, or a full-screen triangle when Mesh is nil.
//
// Uniforms is written to the pipeline's uniform block before the draw and Buffers are bound after the sampled
// inputs. CPU backends take the clip-from-object transform from Vertex when it is set and from Transform
// otherwise, then run Fragment.
type DrawCommand struct {
	Pipeline  pipeline.Pipeline
	Mesh      *Mesh
	Transform mgl32.Mat4
	Uniforms  []byte
	Buffers   []BufferBinding
	Vertex    VertexFunc
	Fragment  FragmentFunc
}

// Pass is one unit of submitted work: either a full-image copy or a set of draws into attachments.
type Pass struct {
	Label        string
	Wait         Signal
	Sampled      []Image
	Color        []ColorAttachment
	DepthStencil *DepthStencilAttachment
	Copy         *CopyCommand
	Draws        []DrawCommand
}

// Reads returns every image the pass reads.
func (p *Pass) Reads() []Image {
	out := append([]Image(nil), p.Sampled...)
	if p.Copy != nil {
		out = append(out, p.Copy.Source)
	}
	for _, c := range p.Color {
		if c.LoadOp == LoadOpLoad {
			out = append(out, c.Image)
		}
	}
	if p.DepthStencil != nil {
		out = append(out, p.DepthStencil.Image)
	}
	return out
}

// Writes returns every image the pass writes.
func (p *Pass) Writes() []Image {
	var out []Image
	if p.Copy != nil {
		out = append(out, p.Copy.Destination)
	}
	for _, c := range p.Color {
		out = append(out, c.Image)
	}
	if p.DepthStencil != nil && (!p.DepthStencil.DepthReadOnly || p.DepthStencil.Image.Format().HasStencil()) {
		out = append(out, p.DepthStencil.Image)
	}
	return out
}

// Validate checks the structural rules every backend relies on.
//
// Returns:
//   - error: a wrapped ErrInvalidPass describing the first violation, or nil
func (p *Pass) Validate() error {
	if p.Copy != nil {
		if len(p.Draws) > 0 || len(p.Color) > 0 || p.DepthStencil != nil {
			return fmt.Errorf("%w: %q mixes a copy with attachments", ErrInvalidPass, p.Label)
		}
		src, dst := p.Copy.Source, p.Copy.Destination
		if src == nil || dst == nil {
			return fmt.Errorf("%w: %q copy needs a source and destination", ErrInvalidPass, p.Label)
		}
		if src.Width() != dst.Width() || src.Height() != dst.Height() || src.Format() != dst.Format() {
			return fmt.Errorf("%w: %q copy %s %dx%d into %s %dx%d", ErrInvalidPass, p.Label,
				src.Format(), src.Width(), src.Height(), dst.Format(), dst.Width(), dst.Height())
		}
		return nil
	}
	if len(p.Color) == 0 && p.DepthStencil == nil {
		return fmt.Errorf("%w: %q has no attachments", ErrInvalidPass, p.Label)
	}
	width, height := -1, -1
	check := func(img Image) error {
		if img == nil {
			return fmt.Errorf("%w: %q has a nil attachment", ErrInvalidPass, p.Label)
		}
		if width < 0 {
			width, height = img.Width(), img.Height()
			return nil
		}
		if img.Width() != width || img.Height() != height {
			return fmt.Errorf("%w: %q attachment %q is %dx%d, want %dx%d", ErrInvalidPass, p.Label, img.Label(), img.Width(), img.Height(), width, height)
		}
		return nil
	}
	for _, c := range p.Color {
		if err := check(c.Image); err != nil {
			return err
		}
	}
	if p.DepthStencil != nil {
		if err := check(p.DepthStencil.Image); err != nil {
			return err
		}
	}
	for i, d := range p.Draws {
		if d.Pipeline == nil {
			return fmt.Errorf("%w: %q draw %d has no pipeline", ErrInvalidPass, p.Label, i)
		}
		if got, want := len(p.Sampled), len(d.Pipeline.SampledInputFormats()); got != want {
			return fmt.Errorf("%w: %q draw %d samples %d images, pipeline %q expects %d", ErrInvalidPass, p.Label, i, got, d.Pipeline.PipelineKey(), want)
		}
		if (d.Mesh != nil) != d.Pipeline.VertexPositions() {
			return fmt.Errorf("%w: %q draw %d mesh presence does not match the vertex input of pipeline %q", ErrInvalidPass, p.Label, i, d.Pipeline.PipelineKey())
		}
		if len(d.Uniforms) != d.Pipeline.UniformSize() {
			return fmt.Errorf("%w: %q draw %d has %d uniform bytes, pipeline %q expects %d", ErrInvalidPass, p.Label, i, len(d.Uniforms), d.Pipeline.PipelineKey(), d.Pipeline.UniformSize())
		}
		if err := d.validateBuffers(p.Label, i); err != nil {
			return err
		}
	}
	return nil
}

func (d *DrawCommand) validateBuffers(label string, i int) error {
	sizes := d.Pipeline.BufferBindingSizes()
	if len(d.Buffers) != len(sizes) {
		return fmt.Errorf("%w: %q draw %d binds %d buffers, pipeline %q expects %d", ErrInvalidPass, label, i, len(d.Buffers), d.Pipeline.PipelineKey(), len(sizes))
	}
	for j, b := range d.Buffers {
		if b.Buffer == nil {
			return fmt.Errorf("%w: %q draw %d buffer %d is nil", ErrInvalidPass, label, i, j)
		}
		if b.Size != uint64(sizes[j]) {
			return fmt.Errorf("%w: %q draw %d buffer %d binds %d bytes, pipeline %q expects %d", ErrInvalidPass, label, i, j, b.Size, d.Pipeline.PipelineKey(), sizes[j])
		}
		if b.Offset+b.Size > b.Buffer.Size() {
			return fmt.Errorf("%w: %q draw %d buffer %d range [%d, %d) overruns %q of %d bytes", ErrInvalidPass, label, i, j, b.Offset, b.Offset+b.Size, b.Buffer.Label(), b.Buffer.Size())
		}
	}
	return nil
}

// FullscreenTriangle is the clip-space triangle drawn when a DrawCommand has no mesh.
// It covers the whole viewport with a single counter-clockwise triangle.
var FullscreenTriangle = [3]mgl32.Vec4{
	{-1, -1, 0, 1},
	{3, -1, 0, 1},
	{-1, 3, 0, 1},
}

package renderer

import (
	"math"

	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/frame_graph"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/pipeline"
	"github.com/go-gl/mathgl/mgl32"
)

// rasterTarget is the attachment set of one software pass.
type rasterTarget struct {
	width, height int
	color         []*softwareImage
	depthStencil  *softwareImage
	depthReadOnly bool
	sampled       []*softwareImage
}

// screenVertex is a post-divide vertex: x and y in pixels with y pointing down, z in [0, 1].
type screenVertex struct {
	x, y, z float32
}

// clipPlanes keep the clip-space volume WebGPU rasterizes: 0 <= z <= w, with w bounded away from zero.
var clipPlanes = [...]func(v mgl32.Vec4) float32{
	func(v mgl32.Vec4) float32 { return v.Z() },
	func(v mgl32.Vec4) float32 { return v.W() - v.Z() },
	func(v mgl32.Vec4) float32 { return v.W() - 1e-6 },
}

// draw rasterizes one draw command into the target. buffers holds the bytes of the draw's bound buffer ranges.
func (r *rasterTarget) draw(d *frame_graph.DrawCommand, buffers [][]byte) {
	var tris [][3]mgl32.Vec4
	if d.Mesh == nil {
		tris = append(tris, frame_graph.FullscreenTriangle)
	} else {
		transform := d.Transform
		if d.Vertex != nil {
			transform = d.Vertex(&frame_graph.VertexInput{Uniforms: d.Uniforms, Buffers: buffers})
		}
		clip := make([]mgl32.Vec4, len(d.Mesh.Positions))
		for i, p := range d.Mesh.Positions {
			clip[i] = transform.Mul4x1(p.Vec4(1))
		}
		for t := 0; t+2 < len(d.Mesh.Indices); t += 3 {
			idx := d.Mesh.Indices[t : t+3]
			tris = append(tris, [3]mgl32.Vec4{clip[idx[0]], clip[idx[1]], clip[idx[2]]})
		}
	}

	in := &frame_graph.FragmentInput{
		Uniforms: d.Uniforms,
		Buffers:  buffers,
		Sample: func(i, x, y int) [4]float32 {
			return r.sampled[i].texel(x, y)
		},
	}
	out := make([][4]float32, len(r.color))

	for _, tri := range tris {
		poly := clipPolygon(tri[:])
		if len(poly) < 3 {
			continue
		}
		sv := make([]screenVertex, len(poly))
		for i, v := range poly {
			inv := 1 / v.W()
			sv[i] = screenVertex{
				x: (v.X()*inv + 1) * 0.5 * float32(r.width),
				y: (1 - v.Y()*inv) * 0.5 * float32(r.height),
				z: v.Z() * inv,
			}
		}
		for i := 1; i+1 < len(sv); i++ {
			r.triangle(d, sv[0], sv[i], sv[i+1], in, out)
		}
	}
}

// clipPolygon clips a convex polygon against every clip plane (Sutherland-Hodgman).
func clipPolygon(poly []mgl32.Vec4) []mgl32.Vec4 {
	for _, dist := range clipPlanes {
		if len(poly) == 0 {
			return nil
		}
		var next []mgl32.Vec4
		for i, cur := range poly {
			prev := poly[(i+len(poly)-1)%len(poly)]
			dc, dp := dist(cur), dist(prev)
			if dc >= 0 {
				if dp < 0 {
					next = append(next, lerp4(prev, cur, dp/(dp-dc)))
				}
				next = append(next, cur)
			} else if dp >= 0 {
				next = append(next, lerp4(prev, cur, dp/(dp-dc)))
			}
		}
		poly = next
	}
	return poly
}

func lerp4(a, b mgl32.Vec4, t float32) mgl32.Vec4 {
	return a.Add(b.Sub(a).Mul(t))
}

// edge is the signed area of (a, b, p), positive when p is on the interior side of a counter-clockwise
// triangle as seen on screen.
func edge(a, b screenVertex, px, py float32) float32 {
	return (px-a.x)*(b.y-a.y) - (py-a.y)*(b.x-a.x)
}

// topLeft reports whether the directed edge a->b of a counter-clockwise screen triangle is a top or left
// edge. Pixel centers exactly on an edge are covered only by top and left edges, so triangles sharing an
// edge never both shade it.
func topLeft(a, b screenVertex) bool {
	dx, dy := b.x-a.x, b.y-a.y
	return (dy == 0 && dx < 0) || dy > 0
}

func covers(w float32, a, b screenVertex) bool {
	return w > 0 || (w == 0 && topLeft(a, b))
}

// triangle rasterizes one screen-space triangle with culling, depth, stencil and blending.
func (r *rasterTarget) triangle(d *frame_graph.DrawCommand, v0, v1, v2 screenVertex, in *frame_graph.FragmentInput, out [][4]float32) {
	p := d.Pipeline
	area := edge(v0, v1, v2.x, v2.y)
	if area == 0 {
		return
	}
	ccw := area > 0
	front := ccw == (p.FrontFace() == pipeline.FrontFaceCCW)
	switch p.CullMode() {
	case pipeline.CullModeFront:
		if front {
			return
		}
	case pipeline.CullModeBack:
		if !front {
			return
		}
	}
	if !ccw {
		v1, v2 = v2, v1
		area = -area
	}

	minX := max(0, int(math.Floor(float64(min(v0.x, v1.x, v2.x)))))
	maxX := min(r.width-1, int(math.Ceil(float64(max(v0.x, v1.x, v2.x)))))
	minY := max(0, int(math.Floor(float64(min(v0.y, v1.y, v2.y)))))
	maxY := min(r.height-1, int(math.Ceil(float64(max(v0.y, v1.y, v2.y)))))

	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			px, py := float32(x)+0.5, float32(y)+0.5
			w0 := edge(v1, v2, px, py)
			w1 := edge(v2, v0, px, py)
			w2 := edge(v0, v1, px, py)
			if !covers(w0, v1, v2) || !covers(w1, v2, v0) || !covers(w2, v0, v1) {
				continue
			}
			z := (w0*v0.z + w1*v1.z + w2*v2.z) / area
			r.fragment(d, x, y, z, front, in, out)
		}
	}
}

// fragment runs the per-sample tests and writes for one covered pixel. The order follows the GPU:
// stencil test, depth test, fragment stage, then stencil pass op, depth write and blending.
// A discarded fragment writes nothing.
func (r *rasterTarget) fragment(d *frame_graph.DrawCommand, x, y int, z float32, front bool, in *frame_graph.FragmentInput, out [][4]float32) {
	p := d.Pipeline
	idx := y*r.width + x
	ds := r.depthStencil

	st := p.Stencil()
	useStencil := st.Enabled && ds != nil && ds.stencil != nil
	face := st.Back
	if front {
		face = st.Front
	}
	stencilOp := func(op pipeline.StencilOperation) {
		cur := ds.stencil[idx]
		ds.stencil[idx] = (cur &^ st.WriteMask) | (op.Apply(cur, st.Reference) & st.WriteMask)
	}

	if useStencil {
		ref := float32(st.Reference & st.ReadMask)
		stored := float32(ds.stencil[idx] & st.ReadMask)
		if !face.Compare.Compare(ref, stored) {
			stencilOp(face.FailOp)
			return
		}
	}
	if ds != nil && ds.depth != nil && !p.DepthCompare().Compare(z, ds.depth[idx]) {
		if useStencil {
			stencilOp(face.DepthFailOp)
		}
		return
	}

	writeColor := p.ColorWriteEnabled() && d.Fragment != nil && len(r.color) > 0
	if d.Fragment != nil {
		in.X, in.Y, in.Depth, in.FrontFacing = x, y, z, front
		for i := range out {
			out[i] = [4]float32{}
		}
		if !d.Fragment(in, out) {
			return
		}
	}

	if useStencil {
		stencilOp(face.PassOp)
	}
	if ds != nil && ds.depth != nil && p.DepthWriteEnabled() && !r.depthReadOnly {
		ds.depth[idx] = z
	}
	if !writeColor {
		return
	}
	for i, img := range r.color {
		ch := img.format.Channels()
		dst := img.color[idx*ch : idx*ch+ch]
		for c := range ch {
			if p.BlendMode() == pipeline.BlendModeAdditive {
				dst[c] += out[i][c]
			} else {
				dst[c] = out[i][c]
			}
		}
	}
}

package light

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// The functions in this file are the host-side reference of the light pass shaders in assets/.
// The software renderer runs them per pixel, so they must stay in step with the WGSL.

// WorldPosition reconstructs the world-space position of a pixel center from its depth.
//
// Parameters:
//   - x, y: the pixel coordinates, y pointing down
//   - depth: the scene depth at the pixel, in [0, 1]
//   - u: the uniform block carrying the inverse view-projection and viewport
//
// Returns:
//   - mgl32.Vec3: the world-space position
func WorldPosition(x, y int, depth float32, u *GPULightPassUniform) mgl32.Vec3 {
	ux := (float32(x) + 0.5) / u.Viewport[0]
	uy := (float32(y) + 0.5) / u.Viewport[1]
	world := u.InvViewProj.Mul4x1(mgl32.Vec4{ux*2 - 1, 1 - uy*2, depth, 1})
	return world.Vec3().Mul(1 / world.W())
}

// Attenuation is the windowed inverse-square falloff, reaching zero at lightRange.
func Attenuation(distance, lightRange float32) float32 {
	ratio := distance / lightRange
	falloff := mgl32.Clamp(1-ratio*ratio*ratio*ratio, 0, 1)
	return falloff * falloff / (distance*distance + 1)
}

// Shade computes the diffuse and specular energy one light adds at a surface point.
//
// Parameters:
//   - u: the light's uniform block
//   - world: the surface position
//   - normal: the surface normal, not necessarily normalized; a zero normal receives no light
//   - shininess: the Blinn-Phong specular exponent
//   - shadow: the visibility of the light from the surface in [0, 1]
//
// Returns:
//   - diffuse: the diffuse energy
//   - specular: the specular energy
func Shade(u *GPULightPassUniform, world, normal mgl32.Vec3, shininess, shadow float32) (diffuse, specular mgl32.Vec3) {
	if normal.Dot(normal) < 1e-8 {
		return
	}

	toLight := u.Direction.Mul(-1)
	att := float32(1)
	if LightType(u.LightType) != LightTypeDirectional {
		delta := u.Position.Sub(world)
		dist := delta.Len()
		toLight = delta.Mul(1 / max(dist, 1e-4))
		att = Attenuation(dist, u.Range)
		if LightType(u.LightType) == LightTypeSpot {
			att *= smoothstep(u.OuterCone, u.InnerCone, toLight.Mul(-1).Dot(u.Direction))
		}
	}
	if att <= 0 {
		return
	}

	n := normal.Normalize()
	nDotL := max(n.Dot(toLight), 0)
	if nDotL <= 0 {
		return
	}
	radiance := u.Color.Mul(u.Intensity * att * shadow)
	halfDir := toLight.Add(u.CameraPosition.Sub(world).Normalize()).Normalize()
	highlight := float32(math.Pow(float64(max(n.Dot(halfDir), 0)), float64(max(shininess, 1))))
	return radiance.Mul(nDotL), radiance.Mul(highlight)
}

// ShadowFactor returns the visibility of the light from world according to its shadow map.
//
// Parameters:
//   - u: the light's uniform block
//   - s: the shadow block of the map
//   - world: the receiver position
//   - sample: reads the shadow image texel at (x, y), clamped to the image
//
// Returns:
//   - float32: 1 when fully lit, 0 when fully occluded
func ShadowFactor(u *GPULightPassUniform, s *GPUShadowData, world mgl32.Vec3, sample func(x, y int) [4]float32) float32 {
	width, height := 1/s.TexelSize[0], 1/s.TexelSize[1]
	var tx, ty, receiver float32
	if LightType(u.LightType) == LightTypePoint {
		delta := world.Sub(u.Position)
		fu, fv, face := CubeFaceUV(delta)
		tx, ty = (float32(face)+fu)*height, fv*height
		receiver = delta.Len() / u.Range
	} else {
		clip := s.LightVP.Mul4x1(world.Vec4(1))
		if clip.W() <= 0 {
			return 1
		}
		ndc := clip.Vec3().Mul(1 / clip.W())
		if abs(ndc.X()) > 1 || abs(ndc.Y()) > 1 || ndc.Z() < 0 || ndc.Z() > 1 {
			return 1
		}
		tx, ty = (ndc.X()*0.5+0.5)*width, (0.5-ndc.Y()*0.5)*height
		receiver = ndc.Z()
	}
	x := min(max(int(tx), 0), int(width)-1)
	y := min(max(int(ty), 0), int(height)-1)
	occluder := sample(x, y)
	return shadowVisibility(s, occluder[0], occluder[1], receiver)
}

func shadowVisibility(s *GPUShadowData, m1, m2, receiver float32) float32 {
	if ShadowKind(s.Kind) == ShadowKindVariance {
		if receiver <= m1 {
			return 1
		}
		variance := max(m2-m1*m1, 0.00002)
		d := receiver - m1
		return variance / (variance + d*d)
	}
	if receiver-s.Bias > m1 {
		return 0
	}
	return 1
}

// smoothstep degrades to a step at edge1 when the edges meet or cross, as they do for a hard-edged spot cone.
func smoothstep(edge0, edge1, x float32) float32 {
	if edge1 <= edge0 {
		if x >= edge1 {
			return 1
		}
		return 0
	}
	t := mgl32.Clamp((x-edge0)/(edge1-edge0), 0, 1)
	return t * t * (3 - 2*t)
}

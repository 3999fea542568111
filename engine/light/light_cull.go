package light

import "github.com/Carmen-Shannon/oxy-deferred/common"

// IsVisible reports whether a light can contribute to a view bounded by frustum.
// Disabled lights are never visible; directional lights always are; local lights are visible
// when their bounding sphere intersects the frustum.
//
// Parameters:
//   - l: the light to test
//   - frustum: the view frustum
//
// Returns:
//   - bool: true if the light may light something in view
func IsVisible(l Light, frustum *common.Frustum) bool {
	if !l.Enabled() {
		return false
	}
	if l.Type() == LightTypeDirectional {
		return true
	}
	return frustum.IntersectsSphere(l.Bounds())
}

// Cull returns the lights of type t that are visible in frustum, preserving their order.
//
// Parameters:
//   - lights: the candidate lights
//   - t: the light type to keep
//   - frustum: the view frustum
//
// Returns:
//   - []Light: the visible lights of type t
func Cull(lights []Light, t LightType, frustum *common.Frustum) []Light {
	var out []Light
	for _, l := range lights {
		if l.Type() == t && IsVisible(l, frustum) {
			out = append(out, l)
		}
	}
	return out
}

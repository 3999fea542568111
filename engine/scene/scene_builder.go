package scene

import (
	"log/slog"

	"github.com/Carmen-Shannon/oxy-deferred/engine/light"
)

// SceneBuilderOption is a functional option for configuring a Scene.
// Use the With* functions to create options.
type SceneBuilderOption func(s *scene)

// WithListener registers an instance listener at construction time.
//
// Parameters:
//   - l: the listener
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithListener(l InstanceListener) SceneBuilderOption {
	return func(s *scene) {
		s.listeners = append(s.listeners, l)
	}
}

// WithLights adds initial lights to the scene.
//
// Parameters:
//   - lights: the lights to add
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithLights(lights ...light.Light) SceneBuilderOption {
	return func(s *scene) {
		s.lights = append(s.lights, lights...)
	}
}

// WithLogger sets the scene's logger.
//
// Parameters:
//   - l: the logger; nil uses the package default
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithLogger(l *slog.Logger) SceneBuilderOption {
	return func(s *scene) {
		s.log = l
	}
}

// WithShadowHalfExtent sets the half-width of the orthographic volume used for directional shadow maps.
//
// Parameters:
//   - halfExtent: half the side length of the shadow volume in world units
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithShadowHalfExtent(halfExtent float32) SceneBuilderOption {
	return func(s *scene) {
		s.shadowHalfExtent = halfExtent
	}
}

// WithShadowNearFar sets the near and far planes of the directional shadow volume.
//
// Parameters:
//   - near: near plane distance
//   - far: far plane distance
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithShadowNearFar(near, far float32) SceneBuilderOption {
	return func(s *scene) {
		s.shadowNear = near
		s.shadowFar = far
	}
}

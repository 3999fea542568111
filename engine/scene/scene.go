package scene

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/Carmen-Shannon/oxy-deferred/common"
	"github.com/Carmen-Shannon/oxy-deferred/engine/camera"
	"github.com/Carmen-Shannon/oxy-deferred/engine/game_object"
	"github.com/Carmen-Shannon/oxy-deferred/engine/light"
	"github.com/Carmen-Shannon/oxy-deferred/engine/logger"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

var (
	// ErrDuplicateObject is returned by Add when an object with the same ID is already in the scene.
	ErrDuplicateObject = errors.New("scene: duplicate object")

	// ErrUnknownObject is returned when an operation names an object that is not in the scene.
	ErrUnknownObject = errors.New("scene: unknown object")

	// ErrUnknownSubPart is returned when a sub-part index is out of range for the object.
	ErrUnknownSubPart = errors.New("scene: unknown sub-part")
)

// InstanceListener is notified of renderable instance lifetime and material changes. Listeners are called on
// the goroutine that mutates the scene, in registration order.
type InstanceListener interface {
	// OnInstanceAdded is called after an instance joins the scene.
	//
	// Parameters:
	//   - instance: the instance identity
	//   - passes: the material pass of every sub-part, indexed by sub-part
	//
	// Returns:
	//   - error: a failure that aborts the add
	OnInstanceAdded(instance uuid.UUID, passes []common.PassID) error

	// OnMaterialChanged is called when one sub-part moves to another material pass.
	//
	// Parameters:
	//   - instance: the instance identity
	//   - subPart: the affected sub-part
	//   - oldPass: the pass the sub-part was drawn with
	//   - newPass: the pass it is drawn with from now on
	//
	// Returns:
	//   - error: a failure reported to the caller of SetMaterialPass
	OnMaterialChanged(instance uuid.UUID, subPart uint32, oldPass, newPass common.PassID) error

	// OnInstanceRemoved is called after an instance leaves the scene.
	//
	// Parameters:
	//   - instance: the instance identity
	//
	// Returns:
	//   - error: a failure reported to the caller of Remove
	OnInstanceRemoved(instance uuid.UUID) error
}

// Scene holds the lights and renderable instances of one view. It caches the light list for the lighting
// pass, resolves instance transforms for the per-entity buffers and reports instance changes to its listeners.
// Thread-safe for concurrent access.
type Scene interface {
	// Name returns the scene's identifier.
	Name() string

	// SetName sets the scene's identifier.
	SetName(name string)

	// Camera returns the scene's camera.
	Camera() camera.Camera

	// SetCamera replaces the scene's camera.
	//
	// Parameters:
	//   - cam: the new camera
	SetCamera(cam camera.Camera)

	// AddListener registers a listener for instance changes. Instances already in the scene are replayed to it.
	//
	// Parameters:
	//   - l: the listener
	//
	// Returns:
	//   - error: the first error returned while replaying
	AddListener(l InstanceListener) error

	// AddLight adds a light source to the scene.
	//
	// Parameters:
	//   - l: the Light to add
	AddLight(l light.Light)

	// RemoveLight removes a light source from the scene by reference.
	//
	// Parameters:
	//   - l: the Light to remove
	//
	// Returns:
	//   - bool: whether the light was in the scene
	RemoveLight(l light.Light) bool

	// Lights returns all lights currently registered in the scene, in insertion order.
	//
	// Returns:
	//   - []light.Light: a copy of the scene's light list
	Lights() []light.Light

	// VisibleLights returns the enabled lights of type t that can affect what cam sees, in insertion order.
	// Directional lights are always visible; point and spot lights are tested against the camera frustum.
	//
	// Parameters:
	//   - t: the light type
	//   - cam: the viewing camera
	//
	// Returns:
	//   - []light.Light: the visible lights
	VisibleLights(t light.LightType, cam camera.Camera) []light.Light

	// Add adds a GameObject to the scene and notifies the listeners. The object's attached light, if any, is
	// added too. When a listener fails, the listeners already notified are told the instance was removed and
	// the object is not added.
	//
	// Parameters:
	//   - obj: the GameObject to add
	//
	// Returns:
	//   - error: ErrDuplicateObject, or the listener error
	Add(obj game_object.GameObject) error

	// Get retrieves a GameObject by its ID.
	//
	// Parameters:
	//   - id: the object's ID
	//
	// Returns:
	//   - game_object.GameObject: the object, or nil
	//   - bool: whether the object exists
	Get(id uuid.UUID) (game_object.GameObject, bool)

	// Remove removes a GameObject and its attached light, then notifies the listeners.
	//
	// Parameters:
	//   - id: the object's ID
	//
	// Returns:
	//   - error: ErrUnknownObject, or the joined listener errors
	Remove(id uuid.UUID) error

	// Objects returns the scene's objects in insertion order.
	Objects() []game_object.GameObject

	// Count returns the number of objects in the scene.
	Count() int

	// SetMaterialPass moves one sub-part of an object to another material pass and notifies the listeners.
	// Setting the pass the sub-part already uses does nothing.
	//
	// Parameters:
	//   - id: the object's ID
	//   - subPart: the sub-part index
	//   - pass: the new pass
	//
	// Returns:
	//   - error: ErrUnknownObject, ErrUnknownSubPart, or the joined listener errors
	SetMaterialPass(id uuid.UUID, subPart uint32, pass common.PassID) error

	// Transform returns the world transform of an object, enabled or not.
	//
	// Parameters:
	//   - id: the object's ID
	//
	// Returns:
	//   - mgl32.Mat4: the object's model matrix
	//   - bool: false when the object is not in the scene
	Transform(id uuid.UUID) (mgl32.Mat4, bool)

	// Update advances every object by dt and refreshes the camera matrices.
	//
	// Parameters:
	//   - dt: elapsed seconds
	Update(dt float32)

	// UpdateShadowTransforms refreshes the light view-projection of every shadow map attached to a
	// shadow-casting light. Directional shadow volumes are centered on center. Rendering the shadow maps and
	// marking them populated is left to the shadow subsystem.
	//
	// Parameters:
	//   - center: the world-space point directional shadow volumes follow
	UpdateShadowTransforms(center mgl32.Vec3)
}

type scene struct {
	mu  *sync.RWMutex
	log *slog.Logger

	name      string
	cam       camera.Camera
	listeners []InstanceListener

	lights  []light.Light
	objects map[uuid.UUID]game_object.GameObject
	order   []uuid.UUID

	shadowHalfExtent float32
	shadowNear       float32
	shadowFar        float32
}

var _ Scene = &scene{}

// NewScene creates an empty scene.
//
// Parameters:
//   - name: the scene's identifier
//   - cam: the scene's camera; may be nil
//   - options: functional options to configure the scene
//
// Returns:
//   - Scene: the new scene
func NewScene(name string, cam camera.Camera, options ...SceneBuilderOption) Scene {
	s := &scene{
		mu:               &sync.RWMutex{},
		name:             name,
		cam:              cam,
		objects:          make(map[uuid.UUID]game_object.GameObject),
		shadowHalfExtent: light.DefaultShadowHalfExtent,
		shadowNear:       light.DefaultShadowNear,
		shadowFar:        light.DefaultShadowFar,
	}
	for _, option := range options {
		option(s)
	}
	s.log = logger.Or(s.log).With("scene", name)
	return s
}

func (s *scene) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *scene) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

func (s *scene) Camera() camera.Camera {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cam
}

func (s *scene) SetCamera(cam camera.Camera) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cam = cam
}

func (s *scene) AddListener(l InstanceListener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
	for _, id := range s.order {
		if err := l.OnInstanceAdded(id, s.objects[id].Passes()); err != nil {
			return fmt.Errorf("failed to replay instance %s: %w", id, err)
		}
	}
	return nil
}

func (s *scene) AddLight(l light.Light) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lights = append(s.lights, l)
}

func (s *scene) RemoveLight(l light.Light) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLightLocked(l)
}

// removeLightLocked drops l from the light list. Caller must hold the mutex.
func (s *scene) removeLightLocked(l light.Light) bool {
	i := slices.Index(s.lights, l)
	if i < 0 {
		return false
	}
	s.lights = slices.Delete(s.lights, i, i+1)
	return true
}

func (s *scene) Lights() []light.Light {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.lights)
}

func (s *scene) VisibleLights(t light.LightType, cam camera.Camera) []light.Light {
	frustum := cam.Frustum()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return light.Cull(s.lights, t, &frustum)
}

func (s *scene) Add(obj game_object.GameObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := obj.ID()
	if _, ok := s.objects[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateObject, id)
	}
	passes := obj.Passes()
	for i, l := range s.listeners {
		if err := l.OnInstanceAdded(id, passes); err != nil {
			for _, done := range s.listeners[:i] {
				if rerr := done.OnInstanceRemoved(id); rerr != nil {
					s.log.Warn("scene: rollback of instance failed", "instance", id, "error", rerr)
				}
			}
			return fmt.Errorf("failed to add instance %s: %w", id, err)
		}
	}

	s.objects[id] = obj
	s.order = append(s.order, id)
	if l := obj.Light(); l != nil {
		s.lights = append(s.lights, l)
	}
	return nil
}

func (s *scene) Get(id uuid.UUID) (game_object.GameObject, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[id]
	return obj, ok
}

func (s *scene) Remove(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownObject, id)
	}
	delete(s.objects, id)
	s.order = slices.DeleteFunc(s.order, func(o uuid.UUID) bool { return o == id })
	if l := obj.Light(); l != nil {
		s.removeLightLocked(l)
	}

	var errs []error
	for _, l := range s.listeners {
		errs = append(errs, l.OnInstanceRemoved(id))
	}
	return errors.Join(errs...)
}

func (s *scene) Objects() []game_object.GameObject {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]game_object.GameObject, len(s.order))
	for i, id := range s.order {
		out[i] = s.objects[id]
	}
	return out
}

func (s *scene) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (s *scene) SetMaterialPass(id uuid.UUID, subPart uint32, pass common.PassID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownObject, id)
	}
	old, ok := obj.SetPass(subPart, pass)
	if !ok {
		return fmt.Errorf("%w: %s has no sub-part %d", ErrUnknownSubPart, id, subPart)
	}
	if old == pass {
		return nil
	}

	var errs []error
	for _, l := range s.listeners {
		errs = append(errs, l.OnMaterialChanged(id, subPart, old, pass))
	}
	return errors.Join(errs...)
}

func (s *scene) Transform(id uuid.UUID) (mgl32.Mat4, bool) {
	s.mu.RLock()
	obj, ok := s.objects[id]
	s.mu.RUnlock()
	if !ok {
		return mgl32.Mat4{}, false
	}
	return obj.Transform(), true
}

func (s *scene) Update(dt float32) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		s.objects[id].Tick(dt)
	}
	if s.cam != nil {
		s.cam.Update()
	}
}

func (s *scene) UpdateShadowTransforms(center mgl32.Vec3) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.lights {
		sm := l.ShadowMap()
		if !l.CastsShadows() || sm == nil {
			continue
		}
		switch l.Type() {
		case light.LightTypeDirectional:
			sm.SetLightVP(light.DirectionalLightVP(l.Direction(), center, s.shadowHalfExtent, s.shadowNear, s.shadowFar))
		case light.LightTypeSpot:
			sm.SetLightVP(light.SpotLightVP(l))
		}
	}
}

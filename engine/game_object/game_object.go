package game_object

import (
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-deferred/common"
	"github.com/Carmen-Shannon/oxy-deferred/engine/light"
	"github.com/Carmen-Shannon/oxy-deferred/engine/model"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

type gameObject struct {
	mu *sync.RWMutex

	id            uuid.UUID
	enabled       atomic.Bool
	passes        []common.PassID
	model         model.Model
	attachedLight light.Light
	lightOffset   mgl32.Vec3

	position      mgl32.Vec3
	scale         mgl32.Vec3
	rotation      mgl32.Vec3 // euler angles in radians, applied X then Y then Z
	rotationSpeed mgl32.Vec3 // radians per second
}

// GameObject defines the interface for a renderable scene instance.
//
// An object is made of sub-parts, each drawn with one material pass; sub-part i uses Passes()[i]. The scene
// reports the object's lifetime and material changes to its listeners, which keep per-entity GPU buffers for
// every (object, sub-part, pass) triple.
type GameObject interface {
	// ID returns the object's stable identity.
	//
	// Returns:
	//   - uuid.UUID: the object ID
	ID() uuid.UUID

	// Enabled returns whether this object is enabled for rendering.
	//
	// Returns:
	//   - bool: true if enabled
	Enabled() bool

	// Passes returns a copy of the material pass of every sub-part, indexed by sub-part.
	//
	// Returns:
	//   - []common.PassID: the passes
	Passes() []common.PassID

	// Model returns the model drawn for the object, or nil for an object without geometry.
	Model() model.Model

	// Position returns the object's world-space position.
	Position() mgl32.Vec3

	// Rotation returns the object's euler rotation in radians.
	Rotation() mgl32.Vec3

	// RotationSpeed returns the object's spin in radians per second.
	RotationSpeed() mgl32.Vec3

	// Scale returns the object's scale factors.
	Scale() mgl32.Vec3

	// Transform composes the world-from-object matrix as translation * rotation * scale.
	//
	// Returns:
	//   - mgl32.Mat4: the model matrix
	Transform() mgl32.Mat4

	// Tick advances the rotation by the rotation speed and moves the attached light with the object.
	//
	// Parameters:
	//   - dt: elapsed seconds
	Tick(dt float32)

	// SetEnabled sets whether the object is enabled for rendering.
	//
	// Parameters:
	//   - enabled: true to enable
	SetEnabled(enabled bool)

	// SetPass changes the material pass of one sub-part. Callers that own the object through a scene should use
	// the scene's SetMaterialPass so listeners are notified.
	//
	// Parameters:
	//   - subPart: the sub-part index
	//   - pass: the new pass
	//
	// Returns:
	//   - common.PassID: the previous pass
	//   - bool: false if subPart is out of range
	SetPass(subPart uint32, pass common.PassID) (common.PassID, bool)

	// SetPosition sets the object's world-space position.
	//
	// Parameters:
	//   - position: new position
	SetPosition(position mgl32.Vec3)

	// SetRotation sets the object's euler rotation in radians.
	//
	// Parameters:
	//   - rotation: new rotation angles
	SetRotation(rotation mgl32.Vec3)

	// SetRotationSpeed sets the object's spin in radians per second.
	//
	// Parameters:
	//   - speed: new rotation speed values
	SetRotationSpeed(speed mgl32.Vec3)

	// SetScale sets the object's scale factors.
	//
	// Parameters:
	//   - scale: new scale factors
	SetScale(scale mgl32.Vec3)

	// Light returns the Light attached to this object, or nil if none is set.
	//
	// Returns:
	//   - light.Light: the attached light or nil
	Light() light.Light

	// SetLight attaches a Light to this object. The light follows the object's position, shifted by offset, on
	// every Tick. Pass nil to detach.
	//
	// Parameters:
	//   - l: the Light to attach, or nil to detach
	//   - offset: the light position relative to the object
	SetLight(l light.Light, offset mgl32.Vec3)
}

var _ GameObject = &gameObject{}

// NewGameObject creates a new GameObject configured with the given options.
// Without WithPasses every part of the object's model, or a single sub-part when there is no model, is drawn
// by the G-buffer pass.
//
// Parameters:
//   - options: functional options to configure the object
//
// Returns:
//   - GameObject: the newly created object
func NewGameObject(options ...GameObjectBuilderOption) GameObject {
	obj := &gameObject{
		mu:     &sync.RWMutex{},
		id:     uuid.New(),
		scale:  mgl32.Vec3{1, 1, 1},
	}
	obj.enabled.Store(true)
	for _, option := range options {
		option(obj)
	}
	if obj.passes == nil {
		parts := 1
		if obj.model != nil {
			parts = max(obj.model.PartCount(), 1)
		}
		obj.passes = make([]common.PassID, parts)
		for i := range obj.passes {
			obj.passes[i] = common.PassGBuffer
		}
	}
	obj.syncLight()
	return obj
}

func (g *gameObject) ID() uuid.UUID {
	return g.id
}

func (g *gameObject) Enabled() bool {
	return g.enabled.Load()
}

func (g *gameObject) Passes() []common.PassID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]common.PassID(nil), g.passes...)
}

func (g *gameObject) Model() model.Model {
	return g.model
}

func (g *gameObject) Position() mgl32.Vec3 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.position
}

func (g *gameObject) Rotation() mgl32.Vec3 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rotation
}

func (g *gameObject) RotationSpeed() mgl32.Vec3 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rotationSpeed
}

func (g *gameObject) Scale() mgl32.Vec3 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.scale
}

func (g *gameObject) Transform() mgl32.Mat4 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rot := mgl32.HomogRotate3DZ(g.rotation.Z()).
		Mul4(mgl32.HomogRotate3DY(g.rotation.Y())).
		Mul4(mgl32.HomogRotate3DX(g.rotation.X()))
	return mgl32.Translate3D(g.position.Elem()).
		Mul4(rot).
		Mul4(mgl32.Scale3D(g.scale.Elem()))
}

func (g *gameObject) Tick(dt float32) {
	g.mu.Lock()
	g.rotation = g.rotation.Add(g.rotationSpeed.Mul(dt))
	g.mu.Unlock()
	g.syncLight()
}

// syncLight moves the attached light to the object's position plus its offset.
func (g *gameObject) syncLight() {
	g.mu.RLock()
	l, p := g.attachedLight, g.position.Add(g.lightOffset)
	g.mu.RUnlock()
	if l != nil {
		l.SetPosition(p)
	}
}

func (g *gameObject) SetEnabled(enabled bool) {
	g.enabled.Store(enabled)
}

func (g *gameObject) SetPass(subPart uint32, pass common.PassID) (common.PassID, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if int(subPart) >= len(g.passes) {
		return 0, false
	}
	old := g.passes[subPart]
	g.passes[subPart] = pass
	return old, true
}

func (g *gameObject) SetPosition(position mgl32.Vec3) {
	g.mu.Lock()
	g.position = position
	g.mu.Unlock()
	g.syncLight()
}

func (g *gameObject) SetRotation(rotation mgl32.Vec3) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rotation = rotation
}

func (g *gameObject) SetRotationSpeed(speed mgl32.Vec3) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rotationSpeed = speed
}

func (g *gameObject) SetScale(scale mgl32.Vec3) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scale = scale
}

func (g *gameObject) Light() light.Light {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.attachedLight
}

func (g *gameObject) SetLight(l light.Light, offset mgl32.Vec3) {
	g.mu.Lock()
	g.attachedLight = l
	g.lightOffset = offset
	g.mu.Unlock()
	g.syncLight()
}

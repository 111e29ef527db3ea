package physics

import (
	"math"
	"sort"

	"github.com/annel0/matta-server/internal/vec"
)

// Гравитация и плоскость земли встроенного мира
const (
	Gravity     = -9.81
	groundLevel = 0.0
)

// KinematicWorld — встроенная реализация World: интеграция скоростей,
// гравитация, плоскость земли и расталкивание пересекающихся AABB.
// Обход тел всегда идёт в порядке возрастания хэндлов, поэтому результат
// шага детерминирован.
type KinematicWorld struct {
	bodies     map[uint64]*Body
	nextHandle uint64
}

// NewKinematicWorld создаёт пустой физический мир
func NewKinematicWorld() *KinematicWorld {
	return &KinematicWorld{
		bodies:     make(map[uint64]*Body),
		nextHandle: 1,
	}
}

// CreateBody добавляет тело и возвращает его хэндл
func (kw *KinematicWorld) CreateBody(pos vec.Vec3, half vec.Vec3) uint64 {
	handle := kw.nextHandle
	kw.nextHandle++
	kw.bodies[handle] = &Body{
		Handle:   handle,
		Position: pos,
		Half:     half,
	}
	return handle
}

// RemoveBody удаляет тело
func (kw *KinematicWorld) RemoveBody(handle uint64) {
	delete(kw.bodies, handle)
}

// SetVelocity задаёт горизонтальную скорость тела
func (kw *KinematicWorld) SetVelocity(handle uint64, v vec.Vec3) {
	if b, ok := kw.bodies[handle]; ok {
		b.Velocity.X = v.X
		b.Velocity.Z = v.Z
	}
}

// Jump придаёт вертикальный импульс стоящему на опоре телу
func (kw *KinematicWorld) Jump(handle uint64, speed float32) {
	if b, ok := kw.bodies[handle]; ok && b.Grounded {
		b.Velocity.Y = speed
		b.Grounded = false
	}
}

// SetPosition телепортирует тело, сбрасывая его скорость
func (kw *KinematicWorld) SetPosition(handle uint64, pos vec.Vec3) {
	if b, ok := kw.bodies[handle]; ok {
		b.Position = pos
		b.Velocity = vec.Vec3{}
	}
}

// Body возвращает копию состояния тела
func (kw *KinematicWorld) Body(handle uint64) (Body, bool) {
	if b, ok := kw.bodies[handle]; ok {
		return *b, true
	}
	return Body{}, false
}

// Step продвигает все тела на фиксированный dt.
// Валидация идёт до интеграции: при ошибке ни одно тело не сдвигается,
// шаг либо применяется целиком, либо не применяется вовсе.
func (kw *KinematicWorld) Step(dt float32) error {
	handles := make([]uint64, 0, len(kw.bodies))
	for h := range kw.bodies {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	for _, h := range handles {
		b := kw.bodies[h]
		if !isFinite(b.Position) || !isFinite(b.Velocity) {
			return &PhysicsError{Handle: h, Reason: "non-finite transform"}
		}
	}

	for _, h := range handles {
		b := kw.bodies[h]

		if !b.Grounded {
			b.Velocity.Y += Gravity * dt
		}

		b.Position = b.Position.Add(b.Velocity.Mul(dt))

		// Плоскость земли: тело не проваливается ниже своей полувысоты
		floor := float32(groundLevel) + b.Half.Y
		if b.Position.Y <= floor {
			b.Position.Y = floor
			b.Velocity.Y = 0
			b.Grounded = true
		} else {
			b.Grounded = false
		}
	}

	// Расталкивание пересекающихся тел по горизонтали.
	// Пары обходу подлежат в фиксированном порядке хэндлов.
	for i, h1 := range handles {
		for _, h2 := range handles[i+1:] {
			a, b := kw.bodies[h1], kw.bodies[h2]
			if overlaps(a, b) {
				separate(a, b)
			}
		}
	}

	return nil
}

// overlaps проверяет пересечение двух AABB
func overlaps(a, b *Body) bool {
	return a.Position.X+a.Half.X > b.Position.X-b.Half.X &&
		a.Position.X-a.Half.X < b.Position.X+b.Half.X &&
		a.Position.Y+a.Half.Y > b.Position.Y-b.Half.Y &&
		a.Position.Y-a.Half.Y < b.Position.Y+b.Half.Y &&
		a.Position.Z+a.Half.Z > b.Position.Z-b.Half.Z &&
		a.Position.Z-a.Half.Z < b.Position.Z+b.Half.Z
}

// separate раздвигает тела вдоль оси наименьшего проникновения (X или Z)
func separate(a, b *Body) {
	dx := (a.Half.X + b.Half.X) - abs32(a.Position.X-b.Position.X)
	dz := (a.Half.Z + b.Half.Z) - abs32(a.Position.Z-b.Position.Z)

	if dx < dz {
		shift := dx / 2
		if a.Position.X < b.Position.X {
			shift = -shift
		}
		a.Position.X += shift
		b.Position.X -= shift
	} else {
		shift := dz / 2
		if a.Position.Z < b.Position.Z {
			shift = -shift
		}
		a.Position.Z += shift
		b.Position.Z -= shift
	}
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func isFinite(v vec.Vec3) bool {
	for _, c := range [3]float32{v.X, v.Y, v.Z} {
		f := float64(c)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

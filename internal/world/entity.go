package world

import (
	"github.com/annel0/matta-server/internal/protocol"
	"github.com/annel0/matta-server/internal/vec"
)

// Entity представляет сущность авторитативного мира.
// Сущностью владеет исключительно World; другие компоненты получают
// только копии состояния через снапшоты.
type Entity struct {
	ID       uint64
	Kind     protocol.EntityKind
	Position vec.Vec3
	Rotation vec.Vec2 // yaw, pitch
	Velocity vec.Vec3
	Health   float32

	// Намерение движения, накопленное из команд ввода текущего тика.
	// Сбрасывается после шага физики.
	IntendedMove vec.Vec3
	PendingJump  bool
	PendingFire  bool

	// Хэндл тела в физическом мире; 0 — у сущности нет тела
	BodyHandle uint64

	// Игровые компоненты
	OwnerID  uint64 // Для снарядов: ID сущности-владельца
	TTLTicks int    // Для снарядов: оставшееся время жизни в тиках
	Grounded bool   // Стоит ли сущность на опоре

	// Сущность помечена на удаление в конце тика
	destroyed bool
}

// State возвращает реплицируемую часть состояния сущности
func (e *Entity) State() protocol.EntityState {
	return protocol.EntityState{
		ID:       e.ID,
		Kind:     e.Kind,
		Position: e.Position,
		Rotation: e.Rotation,
		Velocity: e.Velocity,
		Health:   e.Health,
	}
}

// MarkDestroyed помечает сущность на удаление в конце тика
func (e *Entity) MarkDestroyed() { e.destroyed = true }

// Destroyed сообщает, помечена ли сущность на удаление
func (e *Entity) Destroyed() bool { return e.destroyed }

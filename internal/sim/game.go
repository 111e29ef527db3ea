package sim

import (
	"math"

	"github.com/annel0/matta-server/internal/protocol"
	"github.com/annel0/matta-server/internal/vec"
	"github.com/annel0/matta-server/internal/world"
)

// Игровые константы. Скорости в единицах мира в секунду,
// времена жизни в тиках.
const (
	moveSpeed        = 6.0  // Горизонтальная скорость игрока
	jumpSpeed        = 5.0  // Вертикальная скорость прыжка
	projectileSpeed  = 30.0 // Скорость снаряда
	projectileTTL    = 120  // Время жизни снаряда (2 секунды при 60 Гц)
	projectileDamage = 25.0
	projectileRadius = 0.5 // Радиус попадания снаряда
	maxHealth        = 100.0
)

// Точка возрождения игроков
var spawnPoint = vec.Vec3{X: 0, Y: 1, Z: 0}

// applyInput накапливает команду клиента в намерении сущности.
// Команды одного тика складываются: несколько пакетов движения
// дают суммарное направление, действия — объединение по ИЛИ.
func applyInput(e *world.Entity, cmd protocol.Input) {
	e.IntendedMove = e.IntendedMove.Add(cmd.Move)
	e.Rotation = cmd.Look
	if cmd.Actions&protocol.ActionJump != 0 {
		e.PendingJump = true
	}
	if cmd.Actions&protocol.ActionFire != 0 {
		e.PendingFire = true
	}
}

// intendedVelocity переводит накопленное намерение в скорость тела.
// Вертикальная компонента принадлежит физике (гравитация, прыжок)
// и из намерения не берётся.
func intendedVelocity(e *world.Entity) vec.Vec3 {
	move := e.IntendedMove
	move.Y = 0
	if !move.IsZero() {
		move = move.Normalized().Mul(moveSpeed)
	}
	return vec.Vec3{X: move.X, Y: e.Velocity.Y, Z: move.Z}
}

// stepEntity выполняет игровую логику одной сущности за тик.
// Вызывается в порядке возрастания EntityId.
func (l *Loop) stepEntity(e *world.Entity, tick uint64) {
	switch e.Kind {
	case protocol.KindPlayer:
		l.stepPlayer(e)
	case protocol.KindProjectile:
		l.stepProjectile(e)
	}
}

func (l *Loop) stepPlayer(e *world.Entity) {
	if e.PendingFire {
		e.PendingFire = false
		l.spawnProjectile(e)
	}

	if e.Health <= 0 {
		// Возрождение на точке старта с полным здоровьем
		e.Health = maxHealth
		e.Position = spawnPoint
		e.Velocity = vec.Vec3{}
		if e.BodyHandle != 0 {
			l.phys.SetPosition(e.BodyHandle, spawnPoint)
		}
		l.logger.Debug("Игрок %d возрождён", e.ID)
	}
}

func (l *Loop) stepProjectile(e *world.Entity) {
	e.TTLTicks--
	if e.TTLTicks <= 0 {
		e.MarkDestroyed()
		return
	}

	// Баллистика снаряда без физического тела: прямолинейный полёт
	e.Position = e.Position.Add(e.Velocity.Mul(l.dt))

	// Попадание: ближайший игрок в радиусе, кроме владельца
	for _, id := range l.world.OrderedIDs() {
		target := l.world.Get(id)
		if target == nil || target.Kind != protocol.KindPlayer || target.ID == e.OwnerID {
			continue
		}
		if target.Position.DistanceTo(e.Position) <= projectileRadius {
			target.Health -= projectileDamage
			e.MarkDestroyed()
			l.logger.Debug("Снаряд %d попал в игрока %d (health=%.0f)", e.ID, target.ID, target.Health)
			return
		}
	}
}

// spawnProjectile создаёт снаряд перед стреляющим
func (l *Loop) spawnProjectile(owner *world.Entity) {
	dir := forwardFromYaw(owner.Rotation.X)
	origin := owner.Position.Add(dir.Mul(1.0))

	p := l.world.Spawn(protocol.KindProjectile, origin)
	p.Velocity = dir.Mul(projectileSpeed)
	p.OwnerID = owner.ID
	p.TTLTicks = projectileTTL
	p.Health = 1
}

// forwardFromYaw возвращает горизонтальное направление взгляда по yaw
func forwardFromYaw(yaw float32) vec.Vec3 {
	return vec.Vec3{X: sin32(yaw), Y: 0, Z: cos32(yaw)}
}

func sin32(v float32) float32 { return float32(math.Sin(float64(v))) }
func cos32(v float32) float32 { return float32(math.Cos(float64(v))) }

// Package world содержит авторитативное состояние мира.
// Мир принадлежит единственному потоку — циклу симуляции; никакой другой
// поток не читает и не мутирует его напрямую. Все внешние чтения идут
// через неизменяемые снапшоты, снятые внутри тика.
package world

import (
	"sort"

	"github.com/annel0/matta-server/internal/protocol"
	"github.com/annel0/matta-server/internal/vec"
)

// World — отображение EntityId -> Entity плюс текущий тик.
// Идентификаторы выдаются монотонно и не переиспользуются в рамках сессии.
type World struct {
	entities map[uint64]*Entity
	nextID   uint64
	tick     uint64
}

// NewWorld создаёт пустой мир
func NewWorld() *World {
	return &World{
		entities: make(map[uint64]*Entity),
		nextID:   1000, // Первые ID зарезервированы под служебные нужды
	}
}

// Tick возвращает номер последнего завершённого тика
func (w *World) Tick() uint64 { return w.tick }

// AdvanceTick инкрементирует счётчик тиков; вызывается только циклом симуляции
func (w *World) AdvanceTick() uint64 {
	w.tick++
	return w.tick
}

// Spawn создаёт сущность указанного вида и возвращает её
func (w *World) Spawn(kind protocol.EntityKind, pos vec.Vec3) *Entity {
	id := w.nextID
	w.nextID++

	e := &Entity{
		ID:       id,
		Kind:     kind,
		Position: pos,
		Health:   100,
	}
	w.entities[id] = e
	return e
}

// Get возвращает сущность по ID или nil
func (w *World) Get(id uint64) *Entity {
	return w.entities[id]
}

// Remove удаляет сущность из мира
func (w *World) Remove(id uint64) {
	delete(w.entities, id)
}

// Len возвращает число сущностей
func (w *World) Len() int { return len(w.entities) }

// OrderedIDs возвращает ID всех сущностей по возрастанию.
// Фиксированный порядок обхода исключает расхождения, зависящие от
// порядка итерации по map.
func (w *World) OrderedIDs() []uint64 {
	ids := make([]uint64, 0, len(w.entities))
	for id := range w.entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CollectDestroyed удаляет помеченные сущности и возвращает их ID по возрастанию
func (w *World) CollectDestroyed() []uint64 {
	var removed []uint64
	for id, e := range w.entities {
		if e.destroyed {
			removed = append(removed, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	for _, id := range removed {
		delete(w.entities, id)
	}
	return removed
}

// States возвращает реплицируемое состояние всех сущностей,
// отсортированное по ID. Результат детерминирован для идентичного мира.
func (w *World) States() []protocol.EntityState {
	states := make([]protocol.EntityState, 0, len(w.entities))
	for _, id := range w.OrderedIDs() {
		states = append(states, w.entities[id].State())
	}
	return states
}

// InterestSet возвращает ID сущностей в радиусе релевантности от центра,
// по возрастанию. Сущности вне радиуса не реплицируются клиенту.
func (w *World) InterestSet(center vec.Vec3, radius float32) map[uint64]struct{} {
	set := make(map[uint64]struct{})
	for id, e := range w.entities {
		if e.Position.DistanceTo(center) <= radius {
			set[id] = struct{}{}
		}
	}
	return set
}

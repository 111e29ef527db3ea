// Package snapshot строит реплицируемые снапшоты мира: полные кейфреймы
// и дельты относительно подтверждённого клиентом базового тика.
// Для идентичных (мир, база, интерес) результат побайтово идентичен.
package snapshot

import (
	"sort"

	"github.com/annel0/matta-server/internal/protocol"
)

// Builder хранит историю состояний мира по тикам как базу для дельт.
// История ограничена по глубине; база старше окна считается вытесненной,
// и клиент получает кейфрейм.
type Builder struct {
	history map[uint64]map[uint64]protocol.EntityState // tick -> id -> state
	ticks   []uint64                                   // Тики в истории по возрастанию
	depth   int
}

// NewBuilder создаёт построитель с указанной глубиной истории
func NewBuilder(depth int) *Builder {
	if depth <= 0 {
		depth = 64
	}
	return &Builder{
		history: make(map[uint64]map[uint64]protocol.EntityState),
		depth:   depth,
	}
}

// Record фиксирует состояние мира завершённого тика.
// Вызывается циклом симуляции сразу после шага игровой логики,
// до любых рассылок — порядок snapshot-then-mutate.
func (b *Builder) Record(tick uint64, states []protocol.EntityState) {
	byID := make(map[uint64]protocol.EntityState, len(states))
	for _, s := range states {
		byID[s.ID] = s
	}
	b.history[tick] = byID
	b.ticks = append(b.ticks, tick)

	for len(b.ticks) > b.depth {
		delete(b.history, b.ticks[0])
		b.ticks = b.ticks[1:]
	}
}

// HasBaseline сообщает, доступен ли тик как база для дельты
func (b *Builder) HasBaseline(tick uint64) bool {
	_, ok := b.history[tick]
	return ok
}

// LatestTick возвращает последний записанный тик (0, если истории нет)
func (b *Builder) LatestTick() uint64 {
	if len(b.ticks) == 0 {
		return 0
	}
	return b.ticks[len(b.ticks)-1]
}

// BuildKeyframe строит полный снапшот текущего тика, ограниченный
// набором релевантных сущностей. interest == nil означает без фильтра.
func (b *Builder) BuildKeyframe(tick uint64, interest map[uint64]struct{}) *protocol.KeyframeSnapshot {
	current, ok := b.history[tick]
	if !ok {
		return &protocol.KeyframeSnapshot{Tick: tick}
	}

	ids := sortedIDs(current)
	kf := &protocol.KeyframeSnapshot{Tick: tick}
	for _, id := range ids {
		if !relevant(id, interest) {
			continue
		}
		kf.Entities = append(kf.Entities, current[id])
	}
	return kf
}

// BuildDelta строит дельту от baseTick к tick, ограниченную набором
// релевантных сущностей. Возвращает nil, если база вытеснена из истории —
// в этом случае клиенту нужен кейфрейм.
//
// baseView — набор сущностей, которые клиент реально видел в снапшоте
// базового тика (nil — весь базовый тик). Дельта строится против вида
// клиента, а не против глобальной истории: сущность, существовавшая на
// базовом тике вне вида клиента, кодируется как созданная.
// Сущность, покинувшая радиус интереса, кодируется как уничтоженная:
// для клиента она перестаёт существовать до повторного входа в радиус.
func (b *Builder) BuildDelta(baseTick, tick uint64, baseView, interest map[uint64]struct{}) *protocol.DeltaSnapshot {
	base, ok := b.history[baseTick]
	if !ok {
		return nil
	}
	current, ok := b.history[tick]
	if !ok {
		return nil
	}

	delta := &protocol.DeltaSnapshot{BaseTick: baseTick, Tick: tick}

	for _, id := range unionIDs(base, current) {
		cur, inCurrent := current[id]
		prev, inBase := base[id]
		if inBase && !relevant(id, baseView) {
			// Клиент эту сущность на базовом тике не видел
			inBase = false
		}
		inInterest := relevant(id, interest)

		switch {
		case inCurrent && inInterest && !inBase:
			delta.Changes = append(delta.Changes, protocol.EntityChange{
				ID:     id,
				Fields: protocol.FieldCreated,
				State:  cur,
			})
		case (!inCurrent || !inInterest) && inBase:
			delta.Changes = append(delta.Changes, protocol.EntityChange{
				ID:     id,
				Fields: protocol.FieldDestroyed,
			})
		case inCurrent && inBase && inInterest:
			if change, changed := diffStates(id, prev, cur); changed {
				delta.Changes = append(delta.Changes, change)
			}
		}
	}

	return delta
}

// diffStates сравнивает два состояния и возвращает изменение с маской полей
func diffStates(id uint64, prev, cur protocol.EntityState) (protocol.EntityChange, bool) {
	change := protocol.EntityChange{ID: id, State: cur}

	if cur.Position != prev.Position {
		change.Fields |= protocol.FieldPosition
	}
	if cur.Rotation != prev.Rotation {
		change.Fields |= protocol.FieldRotation
	}
	if cur.Velocity != prev.Velocity {
		change.Fields |= protocol.FieldVelocity
	}
	if cur.Health != prev.Health {
		change.Fields |= protocol.FieldHealth
	}

	return change, change.Fields != 0
}

// ApplyDelta применяет дельту к полному состоянию базового тика.
// Используется в тестах и верификации реплея: результат обязан совпадать
// с полным состоянием целевого тика (закон кругового обхода).
func ApplyDelta(base []protocol.EntityState, delta *protocol.DeltaSnapshot) []protocol.EntityState {
	byID := make(map[uint64]protocol.EntityState, len(base))
	for _, s := range base {
		byID[s.ID] = s
	}

	for _, c := range delta.Changes {
		if c.Fields&protocol.FieldDestroyed != 0 {
			delete(byID, c.ID)
			continue
		}
		if c.Fields&protocol.FieldCreated != 0 {
			byID[c.ID] = c.State
			continue
		}

		s := byID[c.ID]
		s.ID = c.ID
		if c.Fields&protocol.FieldPosition != 0 {
			s.Position = c.State.Position
		}
		if c.Fields&protocol.FieldRotation != 0 {
			s.Rotation = c.State.Rotation
		}
		if c.Fields&protocol.FieldVelocity != 0 {
			s.Velocity = c.State.Velocity
		}
		if c.Fields&protocol.FieldHealth != 0 {
			s.Health = c.State.Health
		}
		byID[c.ID] = s
	}

	out := make([]protocol.EntityState, 0, len(byID))
	for _, id := range sortedIDs(byID) {
		out = append(out, byID[id])
	}
	return out
}

func relevant(id uint64, interest map[uint64]struct{}) bool {
	if interest == nil {
		return true
	}
	_, ok := interest[id]
	return ok
}

func sortedIDs(m map[uint64]protocol.EntityState) []uint64 {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func unionIDs(a, b map[uint64]protocol.EntityState) []uint64 {
	seen := make(map[uint64]struct{}, len(a)+len(b))
	for id := range a {
		seen[id] = struct{}{}
	}
	for id := range b {
		seen[id] = struct{}{}
	}
	ids := make([]uint64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/matta-server/internal/protocol"
	"github.com/annel0/matta-server/internal/vec"
)

func state(id uint64, x float32, health float32) protocol.EntityState {
	return protocol.EntityState{
		ID:       id,
		Kind:     protocol.KindPlayer,
		Position: vec.Vec3{X: x},
		Health:   health,
	}
}

func TestBuildKeyframeSortedAndFiltered(t *testing.T) {
	b := NewBuilder(8)
	b.Record(1, []protocol.EntityState{state(5, 0, 100), state(2, 0, 100), state(9, 0, 100)})

	kf := b.BuildKeyframe(1, map[uint64]struct{}{9: {}, 2: {}})
	require.NotNil(t, kf)
	require.Len(t, kf.Entities, 2)
	assert.Equal(t, uint64(2), kf.Entities[0].ID, "сущности идут по возрастанию ID")
	assert.Equal(t, uint64(9), kf.Entities[1].ID)
}

func TestBuildDeltaRoundTrip(t *testing.T) {
	b := NewBuilder(8)

	baseStates := []protocol.EntityState{state(1, 0, 100), state(2, 5, 100), state(3, 9, 50)}
	b.Record(10, baseStates)

	// Тик 11: сущность 1 сдвинулась, 2 потеряла здоровье,
	// 3 уничтожена, 4 появилась
	curStates := []protocol.EntityState{state(1, 1, 100), state(2, 5, 80), state(4, 2, 1)}
	b.Record(11, curStates)

	delta := b.BuildDelta(10, 11, nil, nil)
	require.NotNil(t, delta)

	// Закон кругового обхода: база + дельта == текущее состояние
	applied := ApplyDelta(baseStates, delta)
	assert.Equal(t, curStates, applied)
}

func TestBuildDeltaFieldMask(t *testing.T) {
	b := NewBuilder(8)
	b.Record(1, []protocol.EntityState{state(7, 0, 100)})
	b.Record(2, []protocol.EntityState{state(7, 3, 100)})

	delta := b.BuildDelta(1, 2, nil, nil)
	require.NotNil(t, delta)
	require.Len(t, delta.Changes, 1)
	assert.Equal(t, protocol.FieldPosition, delta.Changes[0].Fields,
		"изменилась только позиция — в маске только её бит")
}

func TestBuildDeltaNoChanges(t *testing.T) {
	b := NewBuilder(8)
	s := []protocol.EntityState{state(1, 0, 100)}
	b.Record(1, s)
	b.Record(2, s)

	delta := b.BuildDelta(1, 2, nil, nil)
	require.NotNil(t, delta)
	assert.Empty(t, delta.Changes)
}

func TestBuildDeltaBaseEvicted(t *testing.T) {
	b := NewBuilder(3)
	for tick := uint64(1); tick <= 5; tick++ {
		b.Record(tick, []protocol.EntityState{state(1, float32(tick), 100)})
	}

	assert.False(t, b.HasBaseline(1), "тик 1 вытеснен из окна истории")
	assert.Nil(t, b.BuildDelta(1, 5, nil, nil), "дельта от вытесненной базы невозможна")
	assert.NotNil(t, b.BuildDelta(3, 5, nil, nil))
}

func TestLeavingInterestEncodedAsDestroyed(t *testing.T) {
	b := NewBuilder(8)
	b.Record(1, []protocol.EntityState{state(1, 0, 100), state(2, 50, 100)})
	b.Record(2, []protocol.EntityState{state(1, 0, 100), state(2, 500, 100)})

	// Сущность 2 ушла из радиуса интереса клиента
	delta := b.BuildDelta(1, 2, nil, map[uint64]struct{}{1: {}})
	require.NotNil(t, delta)
	require.Len(t, delta.Changes, 1)
	assert.Equal(t, uint64(2), delta.Changes[0].ID)
	assert.Equal(t, protocol.FieldDestroyed, delta.Changes[0].Fields)
}

func TestEnteringInterestEncodedAsCreated(t *testing.T) {
	b := NewBuilder(8)
	b.Record(1, []protocol.EntityState{state(1, 0, 100)})
	b.Record(2, []protocol.EntityState{state(1, 0, 100), state(2, 10, 100)})

	delta := b.BuildDelta(1, 2, nil, map[uint64]struct{}{1: {}, 2: {}})
	require.NotNil(t, delta)
	require.Len(t, delta.Changes, 1)
	assert.Equal(t, protocol.FieldCreated, delta.Changes[0].Fields)
	assert.Equal(t, protocol.KindPlayer, delta.Changes[0].State.Kind)
}

func TestUnseenAtBaseEncodedAsCreated(t *testing.T) {
	b := NewBuilder(8)

	// Сущность 2 была в мире на базовом тике, но вне вида клиента;
	// её состояние между тиками не менялось
	b.Record(1, []protocol.EntityState{state(1, 0, 100), state(2, 10, 100)})
	b.Record(2, []protocol.EntityState{state(1, 0, 100), state(2, 10, 100)})

	baseView := map[uint64]struct{}{1: {}}
	interest := map[uint64]struct{}{1: {}, 2: {}}

	delta := b.BuildDelta(1, 2, baseView, interest)
	require.NotNil(t, delta)
	require.Len(t, delta.Changes, 1, "невиданная клиентом сущность обязана войти в дельту")
	assert.Equal(t, uint64(2), delta.Changes[0].ID)
	assert.Equal(t, protocol.FieldCreated, delta.Changes[0].Fields,
		"для клиента сущность новая — полное состояние, а не дифф полей")

	// Закон кругового обхода относительно вида клиента
	clientBase := []protocol.EntityState{state(1, 0, 100)}
	applied := ApplyDelta(clientBase, delta)
	require.Len(t, applied, 2)
	assert.Equal(t, state(2, 10, 100), applied[1])
}

func TestUnseenAtBaseOutsideInterestOmitted(t *testing.T) {
	b := NewBuilder(8)
	b.Record(1, []protocol.EntityState{state(1, 0, 100), state(2, 500, 100)})
	b.Record(2, []protocol.EntityState{state(1, 0, 100), state(2, 500, 100)})

	// Сущность 2 и не видна клиенту, и вне интереса: в дельте её нет
	delta := b.BuildDelta(1, 2, map[uint64]struct{}{1: {}}, map[uint64]struct{}{1: {}})
	require.NotNil(t, delta)
	assert.Empty(t, delta.Changes)
}

func TestDeterministicEncoding(t *testing.T) {
	// Два построителя с одинаковой историей дают побайтово равные кадры
	mk := func() []byte {
		b := NewBuilder(8)
		b.Record(1, []protocol.EntityState{state(3, 1, 100), state(1, 2, 90), state(2, 3, 80)})
		kf := b.BuildKeyframe(1, nil)
		frame, err := protocol.Encode(1, kf)
		require.NoError(t, err)
		return frame
	}

	assert.Equal(t, mk(), mk())
}

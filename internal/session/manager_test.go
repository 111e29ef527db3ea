package session

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderedByJoinSequence(t *testing.T) {
	m := NewManager()

	first := m.Add(uuid.New(), "первый", 16)
	second := m.Add(uuid.New(), "второй", 16)
	third := m.Add(uuid.New(), "третий", 16)

	ordered := m.Ordered()
	require.Len(t, ordered, 3)
	assert.Equal(t, first.ID, ordered[0].ID)
	assert.Equal(t, second.ID, ordered[1].ID)
	assert.Equal(t, third.ID, ordered[2].ID)

	// Порядок стабилен после удаления из середины
	m.Remove(second.ID)
	ordered = m.Ordered()
	require.Len(t, ordered, 2)
	assert.Equal(t, first.ID, ordered[0].ID)
	assert.Equal(t, third.ID, ordered[1].ID)
}

func TestNewSessionNeedsKeyframe(t *testing.T) {
	m := NewManager()
	s := m.Add(uuid.New(), "новичок", 16)

	assert.True(t, s.NeedKeyframe, "новая сессия начинает с кейфрейма")
	_, acked := s.LastAcked()
	assert.False(t, acked)
}

func TestAcknowledgeMonotonic(t *testing.T) {
	m := NewManager()
	s := m.Add(uuid.New(), "клиент", 16)

	s.Acknowledge(10)
	tick, ok := s.LastAcked()
	require.True(t, ok)
	assert.Equal(t, uint64(10), tick)

	// Запоздавшее подтверждение более старого тика игнорируется
	s.Acknowledge(7)
	tick, _ = s.LastAcked()
	assert.Equal(t, uint64(10), tick)

	s.Acknowledge(12)
	tick, _ = s.LastAcked()
	assert.Equal(t, uint64(12), tick)
}

func TestInvalidateBaseline(t *testing.T) {
	m := NewManager()
	s := m.Add(uuid.New(), "клиент", 16)
	s.NeedKeyframe = false

	s.Acknowledge(5)
	s.InvalidateBaseline()

	_, ok := s.LastAcked()
	assert.False(t, ok, "после инвалидации базы подтверждений нет")
	assert.True(t, s.NeedKeyframe)
	assert.Nil(t, s.BaseView)
}

func TestBaseViewFollowsAcknowledgedTick(t *testing.T) {
	m := NewManager()
	s := m.Add(uuid.New(), "клиент", 16)
	s.NeedKeyframe = false

	s.RecordView(1, map[uint64]struct{}{5: {}})
	s.RecordView(2, map[uint64]struct{}{5: {}, 6: {}})

	s.Acknowledge(1)
	assert.Equal(t, map[uint64]struct{}{5: {}}, s.BaseView)
	assert.False(t, s.NeedKeyframe)

	s.Acknowledge(2)
	assert.Equal(t, map[uint64]struct{}{5: {}, 6: {}}, s.BaseView,
		"база следует за подтверждённым тиком")
}

func TestAckOfUnknownTickForcesKeyframe(t *testing.T) {
	m := NewManager()
	s := m.Add(uuid.New(), "клиент", 16)
	s.NeedKeyframe = false

	// Снапшот тика 9 не отправлялся: вид клиента неизвестен
	s.Acknowledge(9)

	tick, ok := s.LastAcked()
	require.True(t, ok)
	assert.Equal(t, uint64(9), tick)
	assert.Nil(t, s.BaseView)
	assert.True(t, s.NeedKeyframe)
}

func TestViewHistoryBounded(t *testing.T) {
	m := NewManager()
	s := m.Add(uuid.New(), "клиент", 16)
	s.NeedKeyframe = false

	for tick := uint64(1); tick <= viewHistoryDepth+10; tick++ {
		s.RecordView(tick, map[uint64]struct{}{tick: {}})
	}

	// Тик 1 вытеснен из истории видов: его подтверждение вынуждает кейфрейм
	s.Acknowledge(1)
	assert.True(t, s.NeedKeyframe)

	s.NeedKeyframe = false
	s.Acknowledge(viewHistoryDepth + 10)
	assert.False(t, s.NeedKeyframe)
	assert.Equal(t, map[uint64]struct{}{uint64(viewHistoryDepth + 10): {}}, s.BaseView)
}

func TestRemoveReturnsSession(t *testing.T) {
	m := NewManager()
	id := uuid.New()
	m.Add(id, "уходящий", 16)

	s := m.Remove(id)
	require.NotNil(t, s)
	assert.Nil(t, m.Get(id))
	assert.Nil(t, m.Remove(id), "повторное удаление возвращает nil")
}

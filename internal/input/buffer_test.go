package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/matta-server/internal/protocol"
)

func cmd(tick uint32) protocol.Input {
	return protocol.Input{ClientTick: tick}
}

func TestPushKeepsOrder(t *testing.T) {
	b := NewBuffer(16)

	// Пакеты прибывают не по порядку
	assert.True(t, b.Push(cmd(3)))
	assert.True(t, b.Push(cmd(1)))
	assert.True(t, b.Push(cmd(2)))

	due := b.DrainDue(10, 0)
	require.Len(t, due, 3)
	assert.Equal(t, uint32(1), due[0].ClientTick)
	assert.Equal(t, uint32(2), due[1].ClientTick)
	assert.Equal(t, uint32(3), due[2].ClientTick)
}

func TestPushDropsDuplicates(t *testing.T) {
	b := NewBuffer(16)

	require.True(t, b.Push(cmd(5)))
	assert.False(t, b.Push(cmd(5)), "повтор того же тика отбрасывается")
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, uint64(1), b.StaleDropped())
}

func TestPushDropsStaleAfterDrain(t *testing.T) {
	b := NewBuffer(16)

	b.Push(cmd(5))
	due := b.DrainDue(5, 0)
	require.Len(t, due, 1)
	assert.Equal(t, uint32(5), b.LastConsumed())

	// Команда тика 3 прибыла после того, как тик 5 уже потреблён
	assert.False(t, b.Push(cmd(3)))
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, uint64(1), b.StaleDropped())
}

func TestOverflowDropsOldest(t *testing.T) {
	b := NewBuffer(3)

	b.Push(cmd(1))
	b.Push(cmd(2))
	b.Push(cmd(3))
	b.Push(cmd(4)) // Переполнение: команда тика 1 теряется

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, uint64(1), b.OverflowDropped())

	due := b.DrainDue(10, 0)
	require.Len(t, due, 3)
	assert.Equal(t, uint32(2), due[0].ClientTick)
	assert.Equal(t, uint32(4), due[2].ClientTick)
}

func TestDrainRespectsLookahead(t *testing.T) {
	b := NewBuffer(16)

	b.Push(cmd(10))
	b.Push(cmd(11))
	b.Push(cmd(12))
	b.Push(cmd(20)) // Слишком далеко в будущем

	due := b.DrainDue(10, 2)
	require.Len(t, due, 3, "в окно тик+2 попадают 10, 11 и 12")
	assert.Equal(t, 1, b.Len(), "команда тика 20 ждёт своего окна")

	due = b.DrainDue(20, 2)
	require.Len(t, due, 1)
	assert.Equal(t, uint32(20), due[0].ClientTick)
}

func TestDrainEmpty(t *testing.T) {
	b := NewBuffer(16)
	assert.Nil(t, b.DrainDue(1, 2))
}

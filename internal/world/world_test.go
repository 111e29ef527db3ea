package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/matta-server/internal/protocol"
	"github.com/annel0/matta-server/internal/vec"
)

func TestSpawnAssignsMonotonicIDs(t *testing.T) {
	w := NewWorld()

	a := w.Spawn(protocol.KindPlayer, vec.Vec3{})
	b := w.Spawn(protocol.KindProp, vec.Vec3{})

	assert.Less(t, a.ID, b.ID, "идентификаторы выдаются монотонно")
	assert.Equal(t, float32(100), a.Health)
	assert.Equal(t, 2, w.Len())
}

func TestOrderedIDsSorted(t *testing.T) {
	w := NewWorld()
	for i := 0; i < 20; i++ {
		w.Spawn(protocol.KindProp, vec.Vec3{})
	}

	ids := w.OrderedIDs()
	require.Len(t, ids, 20)
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i])
	}
}

func TestCollectDestroyed(t *testing.T) {
	w := NewWorld()
	a := w.Spawn(protocol.KindPlayer, vec.Vec3{})
	b := w.Spawn(protocol.KindProjectile, vec.Vec3{})
	c := w.Spawn(protocol.KindProp, vec.Vec3{})

	b.MarkDestroyed()
	c.MarkDestroyed()

	removed := w.CollectDestroyed()
	assert.Equal(t, []uint64{b.ID, c.ID}, removed)
	assert.Equal(t, 1, w.Len())
	assert.NotNil(t, w.Get(a.ID))
	assert.Nil(t, w.Get(b.ID))
}

func TestStatesDeterministic(t *testing.T) {
	w := NewWorld()
	w.Spawn(protocol.KindPlayer, vec.Vec3{X: 1})
	w.Spawn(protocol.KindProp, vec.Vec3{X: 2})
	w.Spawn(protocol.KindProp, vec.Vec3{X: 3})

	first := w.States()
	second := w.States()
	assert.Equal(t, first, second)

	for i := 1; i < len(first); i++ {
		assert.Less(t, first[i-1].ID, first[i].ID)
	}
}

func TestInterestSet(t *testing.T) {
	w := NewWorld()
	near := w.Spawn(protocol.KindPlayer, vec.Vec3{X: 10})
	far := w.Spawn(protocol.KindProp, vec.Vec3{X: 500})

	set := w.InterestSet(vec.Vec3{}, 100)
	assert.Contains(t, set, near.ID)
	assert.NotContains(t, set, far.ID)
}

func TestAdvanceTick(t *testing.T) {
	w := NewWorld()
	assert.Equal(t, uint64(0), w.Tick())
	assert.Equal(t, uint64(1), w.AdvanceTick())
	assert.Equal(t, uint64(2), w.AdvanceTick())
}

package sim

import (
	"github.com/annel0/matta-server/internal/protocol"
	"github.com/annel0/matta-server/internal/util"
	"github.com/annel0/matta-server/internal/vec"
)

// Параметры начального наполнения мира пропами
const (
	populateExtent  = 80   // Полуширина засеиваемой области
	populateStep    = 8    // Шаг сетки размещения
	populateCutoff  = 0.58 // Порог шума: выше — в узле появляется проп
	populateScale   = 0.05 // Масштаб координат при выборке шума
	propHealthValue = 50.0
)

// Полуразмеры коллайдера пропа
var propHalf = vec.Vec3{X: 0.5, Y: 0.5, Z: 0.5}

// PopulateWorld детерминированно засеивает мир статичными пропами
// по полю шума Перлина. Вызывается один раз до старта цикла.
func (l *Loop) PopulateWorld(seed int64) {
	noise := util.NewNoiseField(seed)
	spawned := 0

	for x := -populateExtent; x <= populateExtent; x += populateStep {
		for z := -populateExtent; z <= populateExtent; z += populateStep {
			v := noise.At(float64(x)*populateScale, float64(z)*populateScale)
			if v < populateCutoff {
				continue
			}
			pos := vec.Vec3{X: float32(x), Y: propHalf.Y, Z: float32(z)}
			prop := l.world.Spawn(protocol.KindProp, pos)
			prop.Health = propHealthValue
			prop.BodyHandle = l.phys.CreateBody(pos, propHalf)
			spawned++
		}
	}

	l.logger.Info("🌍 Мир засеян: %d пропов (seed=%d)", spawned, seed)
}

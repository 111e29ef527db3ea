package util

import (
	"github.com/aquilax/go-perlin"
)

// NoiseField — детерминированное поле шума Перлина.
// Одно и то же зерно всегда даёт одни и те же значения: наполнение
// мира воспроизводимо между запусками.
type NoiseField struct {
	p *perlin.Perlin
}

// NewNoiseField создаёт поле шума с указанным зерном
func NewNoiseField(seed int64) *NoiseField {
	alpha := 2.0  // Сглаживание шума
	beta := 2.0   // Частота шума
	n := int32(3) // Количество октав
	return &NoiseField{p: perlin.NewPerlin(alpha, beta, n, seed)}
}

// At возвращает значение шума в точке, приведённое к диапазону [0, 1]
func (nf *NoiseField) At(x, y float64) float64 {
	return (nf.p.Noise2D(x, y) + 1.0) / 2.0
}

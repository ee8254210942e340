// Package util содержит вспомогательные сервисы: детерминированный 2D-шум.
package util

import (
	"github.com/aquilax/go-perlin"
)

// Noise определяет детерминированное 2D скалярное поле.
// Один и тот же экземпляр для одинаковых (seed, координаты) обязан
// давать одинаковый результат в любом процессе — на этом контракте
// держится согласованность генерации между сервером и персистентностью.
type Noise interface {
	// Noise2D возвращает значение шума в диапазоне [0, 1].
	Noise2D(x, y float64) float64
}

// PerlinNoise реализует Noise на основе шума Перлина.
type PerlinNoise struct {
	p *perlin.Perlin
}

// NewPerlinNoise создаёт генератор шума Перлина с указанным сидом.
// Генератор привязан к экземпляру, а не к процессу: два мира с разными
// сидами могут сосуществовать.
func NewPerlinNoise(seed int64) *PerlinNoise {
	alpha := 2.0  // Сглаживание шума
	beta := 2.0   // Частота шума
	n := int32(3) // Количество октав
	return &PerlinNoise{p: perlin.NewPerlin(alpha, beta, n, seed)}
}

// Noise2D возвращает значение шума Перлина для указанных координат (от 0 до 1).
func (pn *PerlinNoise) Noise2D(x, y float64) float64 {
	// Базовый генератор возвращает значения от -1 до 1.
	noise := pn.p.Noise2D(x, y)
	v := (noise + 1.0) / 2.0
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	return v
}

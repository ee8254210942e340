package world

import (
	"sync"

	"github.com/annel0/voxel-world/internal/util"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/block"
	"github.com/annel0/voxel-world/internal/world/chunk"
	"github.com/annel0/voxel-world/internal/world/overlay"
)

// EmptyGenerator создаёт пустые чанки.
type EmptyGenerator struct{}

// GenerateChunk реализует Generator.
func (EmptyGenerator) GenerateChunk(pos vec.ChunkPos, _ uint64) (*chunk.Buffer, error) {
	return chunk.NewBuffer(pos), nil
}

// Параметры стандартной цепочки ландшафта.
const (
	terrainFrequency  = 0.01
	terrainBaseHeight = 16
	terrainVariation  = 8

	bedrockFrequency = 0.07
	bedrockThreshold = 0.55
	bedrockBase      = 2
	bedrockExtra     = 1

	dirtDepth = 3
)

// TerrainGenerator строит ландшафт цепочкой оверлеев: каменный рельеф
// по карте высот, бедрок переменной толщины на дне мира, слой земли
// под поверхностью и трава сверху.
type TerrainGenerator struct {
	mu    sync.Mutex
	seed  uint64
	chain *overlay.Chain
}

// NewTerrainGenerator создаёт генератор ландшафта.
func NewTerrainGenerator() *TerrainGenerator {
	return &TerrainGenerator{}
}

// chainFor возвращает цепочку оверлеев для сида, пересобирая её при смене.
// Цепочка детерминирована: одинаковый сид даёт одинаковый шум.
func (g *TerrainGenerator) chainFor(seed uint64) *overlay.Chain {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.chain == nil || g.seed != seed {
		noise := util.NewPerlinNoise(int64(seed))
		g.seed = seed
		g.chain = overlay.NewChain(
			&overlay.TerrainHeight{
				Noise:      noise,
				Frequency:  terrainFrequency,
				BaseHeight: terrainBaseHeight,
				Variation:  terrainVariation,
				Block:      block.Stone,
			},
			&overlay.PerlinHeightColumn{
				Noise:         noise,
				Frequency:     bedrockFrequency,
				Threshold:     bedrockThreshold,
				BaseThickness: bedrockBase,
				Extra:         bedrockExtra,
				Block:         block.Bedrock,
			},
			&overlay.LayerReplace{
				From:      block.Stone,
				To:        block.Dirt,
				FromTop:   0,
				Thickness: dirtDepth,
			},
			&overlay.Surface{Block: block.Grass},
		)
	}
	return g.chain
}

// GenerateChunk реализует Generator.
func (g *TerrainGenerator) GenerateChunk(pos vec.ChunkPos, seed uint64) (*chunk.Buffer, error) {
	buf := chunk.NewBuffer(pos)
	g.chainFor(seed).GenerateInto(buf, nil)
	return buf, nil
}

// ChainGenerator оборачивает произвольную цепочку оверлеев в Generator.
type ChainGenerator struct {
	Chain *overlay.Chain
}

// GenerateChunk реализует Generator.
func (g *ChainGenerator) GenerateChunk(pos vec.ChunkPos, _ uint64) (*chunk.Buffer, error) {
	buf := chunk.NewBuffer(pos)
	g.Chain.GenerateInto(buf, nil)
	return buf, nil
}

package world

import (
	"hash/fnv"
	"math/rand"

	citynav "citynav"
	"citynav/internal/geom"
)

// DefaultSeed seeds Generate when GenerateConfig.Seed is empty.
const DefaultSeed = "citynav"

// GenerateConfig shapes a synthetic city: a square road lattice with buildings
// scattered inside each block.
type GenerateConfig struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Seed   string  `json:"seed"`

	// BlockSize is the spacing between parallel roads. Zero disables roads and
	// treats the whole map as a single block.
	BlockSize float64 `json:"blockSize"`
	// BuildingsPerBlock is the placement target per block; overlapping
	// candidates are dropped so fewer may be placed.
	BuildingsPerBlock int     `json:"buildingsPerBlock"`
	MinBuildingSize   float64 `json:"minBuildingSize"`
	MaxBuildingSize   float64 `json:"maxBuildingSize"`
	// Margin keeps buildings off the road centerlines and apart from each
	// other.
	Margin float64 `json:"margin"`
}

// DefaultGenerateConfig matches a 4000x3000 city with 400 unit blocks.
func DefaultGenerateConfig() GenerateConfig {
	return GenerateConfig{
		Width:             4000,
		Height:            3000,
		Seed:              DefaultSeed,
		BlockSize:         400,
		BuildingsPerBlock: 3,
		MinBuildingSize:   60,
		MaxBuildingSize:   160,
		Margin:            40,
	}
}

// SeedValue derives a stable RNG seed from a root seed and a label.
func SeedValue(rootSeed, label string) int64 {
	hasher := fnv.New64a()
	hasher.Write([]byte(rootSeed))
	hasher.Write([]byte{0})
	hasher.Write([]byte(label))
	sum := hasher.Sum64()
	if sum == 0 {
		sum = 1
	}
	return int64(sum)
}

// Generate builds a deterministic snapshot from cfg. The same config always
// yields the same world.
func Generate(cfg GenerateConfig) citynav.World {
	def := DefaultGenerateConfig()
	if !(cfg.Width > 0) || !(cfg.Height > 0) {
		cfg.Width, cfg.Height = def.Width, def.Height
	}
	if cfg.Seed == "" {
		cfg.Seed = def.Seed
	}
	if cfg.MinBuildingSize <= 0 {
		cfg.MinBuildingSize = def.MinBuildingSize
	}
	if cfg.MaxBuildingSize < cfg.MinBuildingSize {
		cfg.MaxBuildingSize = cfg.MinBuildingSize
	}
	if cfg.Margin < 0 {
		cfg.Margin = 0
	}

	w := citynav.World{Width: cfg.Width, Height: cfg.Height}
	blockW, blockH := cfg.Width, cfg.Height
	if cfg.BlockSize > 0 {
		blockW, blockH = cfg.BlockSize, cfg.BlockSize
		w.Roads = roadLattice(cfg.Width, cfg.Height, cfg.BlockSize)
	}

	rng := rand.New(rand.NewSource(SeedValue(cfg.Seed, "buildings")))
	for top := 0.0; top < cfg.Height; top += blockH {
		for left := 0.0; left < cfg.Width; left += blockW {
			block := geom.Rect{
				X:      left + cfg.Margin,
				Y:      top + cfg.Margin,
				Width:  min(blockW, cfg.Width-left) - 2*cfg.Margin,
				Height: min(blockH, cfg.Height-top) - 2*cfg.Margin,
			}
			w.Buildings = append(w.Buildings, fillBlock(rng, block, cfg)...)
		}
	}
	return w
}

func roadLattice(width, height, spacing float64) []geom.Segment {
	var roads []geom.Segment
	for x := spacing; x < width; x += spacing {
		roads = append(roads, geom.Segment{StartX: x, StartY: 0, EndX: x, EndY: height})
	}
	for y := spacing; y < height; y += spacing {
		roads = append(roads, geom.Segment{StartX: 0, StartY: y, EndX: width, EndY: y})
	}
	return roads
}

func fillBlock(rng *rand.Rand, block geom.Rect, cfg GenerateConfig) []geom.Rect {
	if cfg.BuildingsPerBlock <= 0 || block.Width < cfg.MinBuildingSize || block.Height < cfg.MinBuildingSize {
		return nil
	}
	placed := make([]geom.Rect, 0, cfg.BuildingsPerBlock)
	attempts := 0
	maxAttempts := cfg.BuildingsPerBlock * 20

	for len(placed) < cfg.BuildingsPerBlock && attempts < maxAttempts {
		attempts++

		width := min(cfg.MinBuildingSize+rng.Float64()*(cfg.MaxBuildingSize-cfg.MinBuildingSize), block.Width)
		height := min(cfg.MinBuildingSize+rng.Float64()*(cfg.MaxBuildingSize-cfg.MinBuildingSize), block.Height)
		candidate := geom.Rect{
			X:      block.X + rng.Float64()*(block.Width-width),
			Y:      block.Y + rng.Float64()*(block.Height-height),
			Width:  width,
			Height: height,
		}

		overlaps := false
		for _, other := range placed {
			if rectsOverlap(candidate, other, cfg.Margin/2) {
				overlaps = true
				break
			}
		}
		if overlaps {
			continue
		}
		placed = append(placed, candidate)
	}
	return placed
}

func rectsOverlap(a, b geom.Rect, padding float64) bool {
	return a.X-padding < b.X+b.Width+padding &&
		a.X+a.Width+padding > b.X-padding &&
		a.Y-padding < b.Y+b.Height+padding &&
		a.Y+a.Height+padding > b.Y-padding
}

package tileset

import (
	"gitlab.com/tozd/go/errors"
)

const (
	DefaultLeafGeometricError    = 512.0
	DefaultTilesetGeometricError = 4096.0
)

// ContentBox is the axis aligned bounds of one content, addressed by its URI
type ContentBox struct {
	URI      string
	Min, Max [3]float64
}

// 🏗️ FromContents builds a 1.1 tileset with one leaf tile per content below
// an additive root that encloses them all
func FromContents(contents []ContentBox) (*Tileset, error) {
	if len(contents) == 0 {
		return nil, errors.Errorf("%w: no contents to build a tileset from", ErrInvalidTileset)
	}

	leaves := make([]*Tile, 0, len(contents))
	for _, c := range contents {
		if c.URI == "" {
			return nil, errors.Errorf("%w: content without uri", ErrInvalidTileset)
		}
		leaves = append(leaves, &Tile{
			BoundingVolume: aabb{min: c.Min, max: c.Max}.box(),
			GeometricError: DefaultLeafGeometricError,
			Content:        &Content{URI: c.URI},
		})
	}

	rootVolume, err := UnionBoundingVolumes(leaves)
	if err != nil {
		return nil, err
	}
	return &Tileset{
		Asset:          Asset{Version: "1.1"},
		GeometricError: DefaultTilesetGeometricError,
		Root: &Tile{
			BoundingVolume: rootVolume,
			GeometricError: DefaultTilesetGeometricError,
			Refine:         "ADD",
			Children:       leaves,
		},
	}, nil
}

// Package implicit decodes the availability information of implicitly tiled
// tilesets: which tiles, contents and child subtrees of a subtree exist.
package implicit

import (
	"gitlab.com/tozd/go/errors"
)

// ErrImplicitTiling is returned for inconsistent implicit tiling data
var ErrImplicitTiling = errors.Base("invalid implicit tiling")

// 🌲 SubdivisionScheme selects the branching factor of the tree
type SubdivisionScheme string

const (
	Quadtree SubdivisionScheme = "QUADTREE"
	Octree   SubdivisionScheme = "OCTREE"
)

// 📐 Tiling is the implicit tiling configuration of a tile
type Tiling struct {
	SubdivisionScheme SubdivisionScheme `json:"subdivisionScheme"`
	SubtreeLevels     uint              `json:"subtreeLevels"`
	MaximumLevel      uint              `json:"maximumLevel"`
}

// bitsPerLevel is log2 of the branching factor
func (t Tiling) bitsPerLevel() (uint, error) {
	switch t.SubdivisionScheme {
	case Quadtree:
		return 2, nil
	case Octree:
		return 3, nil
	default:
		return 0, errors.Errorf("%w: unknown subdivision scheme %q", ErrImplicitTiling, t.SubdivisionScheme)
	}
}

// BranchingFactor is 4 for quadtrees and 8 for octrees
func (t Tiling) BranchingFactor() (uint64, error) {
	bits, err := t.bitsPerLevel()
	if err != nil {
		return 0, err
	}
	return 1 << bits, nil
}

// 🔢 NodesInLevel returns b^level
func NodesInLevel(t Tiling, level uint) (uint64, error) {
	bits, err := t.bitsPerLevel()
	if err != nil {
		return 0, err
	}
	shift := bits * level
	if shift >= 64 {
		return 0, errors.Errorf("%w: level %d of a %s overflows", ErrImplicitTiling, level, t.SubdivisionScheme)
	}
	return 1 << shift, nil
}

// 🔢 NodesPerSubtree returns (b^subtreeLevels - 1) / (b - 1)
func NodesPerSubtree(t Tiling) (uint64, error) {
	b, err := t.BranchingFactor()
	if err != nil {
		return 0, err
	}
	pow, err := NodesInLevel(t, t.SubtreeLevels)
	if err != nil {
		return 0, err
	}
	return (pow - 1) / (b - 1), nil
}

// 📋 Availability is the JSON description of one availability bitstream
type Availability struct {
	Constant       *int `json:"constant,omitempty"`
	Bitstream      *int `json:"bitstream,omitempty"`
	AvailableCount *int `json:"availableCount,omitempty"`
}

// CreateTileOrContent builds the availability of tiles or contents of a subtree
func CreateTileOrContent(av Availability, bufferViews [][]byte, t Tiling) (AvailabilityInfo, error) {
	n, err := NodesPerSubtree(t)
	if err != nil {
		return nil, err
	}
	return createAvailabilityInfo(av, bufferViews, n)
}

// CreateChildSubtree builds the availability of the child subtrees of a subtree
func CreateChildSubtree(av Availability, bufferViews [][]byte, t Tiling) (AvailabilityInfo, error) {
	n, err := NodesInLevel(t, t.SubtreeLevels)
	if err != nil {
		return nil, err
	}
	return createAvailabilityInfo(av, bufferViews, n)
}

func createAvailabilityInfo(av Availability, bufferViews [][]byte, length uint64) (AvailabilityInfo, error) {
	if length > uint64(maxInt) {
		return nil, errors.Errorf("%w: availability length %d is too large", ErrImplicitTiling, length)
	}
	n := int(length)

	switch {
	case av.Constant != nil:
		return NewConstantAvailabilityInfo(*av.Constant == 1, n), nil
	case av.Bitstream != nil:
		idx := *av.Bitstream
		if idx < 0 || idx >= len(bufferViews) {
			return nil, errors.Errorf("%w: bitstream %d does not refer to one of %d buffer views", ErrImplicitTiling, idx, len(bufferViews))
		}
		return NewBufferAvailabilityInfo(bufferViews[idx], n)
	default:
		return nil, errors.Errorf("%w: availability has neither constant nor bitstream", ErrImplicitTiling)
	}
}

const maxInt = int(^uint(0) >> 1)

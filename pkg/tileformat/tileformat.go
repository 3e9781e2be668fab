// Package tileformat reads and writes the legacy binary tile containers
// (b3dm, i3dm, pnts) and the composite container (cmpt).
//
// All multi-byte fields are little-endian. A legacy tile is a fixed header
// followed by five segments in order: feature table JSON, feature table
// binary, batch table JSON, batch table binary and the payload (an embedded
// GLB for b3dm, a GLB or a URI for i3dm, empty for pnts).
package tileformat

import (
	"gitlab.com/tozd/go/errors"
)

const (
	MagicB3DM = "b3dm"
	MagicI3DM = "i3dm"
	MagicPNTS = "pnts"
	MagicCMPT = "cmpt"

	// HeaderByteLength is the header size of b3dm and pnts
	HeaderByteLength = 28
	// I3dmHeaderByteLength adds the gltfFormat field
	I3dmHeaderByteLength = 32
	// CompositeHeaderByteLength covers magic, version, byteLength and tilesLength
	CompositeHeaderByteLength = 16

	// GltfFormatURI means the i3dm payload is a URI to an external GLB
	GltfFormatURI uint32 = 0
	// GltfFormatEmbedded means the i3dm payload is the GLB itself
	GltfFormatEmbedded uint32 = 1

	defaultVersion uint32 = 1
)

// ErrFormat is returned for any structurally malformed tile buffer
var ErrFormat = errors.Base("invalid tile format")

// 📋 Header is the fixed-size prefix of a legacy tile
type Header struct {
	Magic                        string
	Version                      uint32
	ByteLength                   uint32
	FeatureTableJSONByteLength   uint32
	FeatureTableBinaryByteLength uint32
	BatchTableJSONByteLength     uint32
	BatchTableBinaryByteLength   uint32
	// GltfFormat is only present in i3dm headers
	GltfFormat uint32
}

// Size returns the number of header bytes for the header's magic
func (h Header) Size() int {
	return headerSize(h.Magic)
}

// 📊 Table is a feature table or batch table: a JSON part plus a binary body
type Table struct {
	JSON   map[string]any
	Binary []byte
}

// 📦 TileData is a decoded legacy tile. Segment slices alias the buffer they
// were read from.
type TileData struct {
	Header       Header
	FeatureTable Table
	BatchTable   Table
	Payload      []byte
}

// 🗺️ Layout describes where each segment of a tile lives in its buffer
type Layout struct {
	HeaderByteOffset             int `json:"headerByteOffset"`
	HeaderByteLength             int `json:"headerByteLength"`
	FeatureTableJSONByteOffset   int `json:"featureTableJsonByteOffset"`
	FeatureTableJSONByteLength   int `json:"featureTableJsonByteLength"`
	FeatureTableBinaryByteOffset int `json:"featureTableBinaryByteOffset"`
	FeatureTableBinaryByteLength int `json:"featureTableBinaryByteLength"`
	BatchTableJSONByteOffset     int `json:"batchTableJsonByteOffset"`
	BatchTableJSONByteLength     int `json:"batchTableJsonByteLength"`
	BatchTableBinaryByteOffset   int `json:"batchTableBinaryByteOffset"`
	BatchTableBinaryByteLength   int `json:"batchTableBinaryByteLength"`
	PayloadByteOffset            int `json:"payloadByteOffset"`
	PayloadByteLength            int `json:"payloadByteLength"`
}

// ComputeLayout derives segment offsets from a header
func ComputeLayout(h Header) Layout {
	l := Layout{HeaderByteLength: h.Size()}
	l.FeatureTableJSONByteOffset = l.HeaderByteOffset + l.HeaderByteLength
	l.FeatureTableJSONByteLength = int(h.FeatureTableJSONByteLength)
	l.FeatureTableBinaryByteOffset = l.FeatureTableJSONByteOffset + l.FeatureTableJSONByteLength
	l.FeatureTableBinaryByteLength = int(h.FeatureTableBinaryByteLength)
	l.BatchTableJSONByteOffset = l.FeatureTableBinaryByteOffset + l.FeatureTableBinaryByteLength
	l.BatchTableJSONByteLength = int(h.BatchTableJSONByteLength)
	l.BatchTableBinaryByteOffset = l.BatchTableJSONByteOffset + l.BatchTableJSONByteLength
	l.BatchTableBinaryByteLength = int(h.BatchTableBinaryByteLength)
	l.PayloadByteOffset = l.BatchTableBinaryByteOffset + l.BatchTableBinaryByteLength
	l.PayloadByteLength = int(h.ByteLength) - l.PayloadByteOffset
	return l
}

func headerSize(magic string) int {
	if magic == MagicI3DM {
		return I3dmHeaderByteLength
	}
	return HeaderByteLength
}

func isLegacyMagic(magic string) bool {
	switch magic {
	case MagicB3DM, MagicI3DM, MagicPNTS:
		return true
	default:
		return false
	}
}

package tileformat

import (
	"encoding/binary"
	"encoding/json"
	"math"

	"gitlab.com/tozd/go/errors"
)

const alignment = 8

// 🏗️ CreateTileDataBuffer serializes a tile. Every header length is
// recomputed from the actual segments; JSON segments are padded with spaces
// so the segment after them starts 8-byte aligned, binary segments and the
// payload are written as-is.
func CreateTileDataBuffer(td *TileData) ([]byte, error) {
	magic := td.Header.Magic
	if !isLegacyMagic(magic) {
		return nil, errors.Errorf("%w: cannot write tile with magic %q", ErrFormat, magic)
	}
	size := headerSize(magic)

	ftJSON, err := encodeJSON(td.FeatureTable.JSON, size)
	if err != nil {
		return nil, errors.Errorf("encoding feature table JSON: %w", err)
	}
	ftBinary := td.FeatureTable.Binary

	btJSON, err := encodeJSON(td.BatchTable.JSON, size+len(ftJSON)+len(ftBinary))
	if err != nil {
		return nil, errors.Errorf("encoding batch table JSON: %w", err)
	}
	btBinary := td.BatchTable.Binary

	total := size + len(ftJSON) + len(ftBinary) + len(btJSON) + len(btBinary) + len(td.Payload)
	if uint64(total) > math.MaxUint32 {
		return nil, errors.Errorf("%w: tile of %d bytes exceeds the 32-bit byteLength field", ErrFormat, total)
	}

	version := td.Header.Version
	if version == 0 {
		version = defaultVersion
	}

	buf := make([]byte, size, total)
	le := binary.LittleEndian
	copy(buf[0:4], magic)
	le.PutUint32(buf[4:], version)
	le.PutUint32(buf[8:], uint32(total))
	le.PutUint32(buf[12:], uint32(len(ftJSON)))
	le.PutUint32(buf[16:], uint32(len(ftBinary)))
	le.PutUint32(buf[20:], uint32(len(btJSON)))
	le.PutUint32(buf[24:], uint32(len(btBinary)))
	if magic == MagicI3DM {
		le.PutUint32(buf[28:], td.Header.GltfFormat)
	}

	buf = append(buf, ftJSON...)
	buf = append(buf, ftBinary...)
	buf = append(buf, btJSON...)
	buf = append(buf, btBinary...)
	buf = append(buf, td.Payload...)
	return buf, nil
}

// encodeJSON writes an empty map as zero bytes
func encodeJSON(m map[string]any, offset int) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	pad := (alignment - (offset+len(b))%alignment) % alignment
	for i := 0; i < pad; i++ {
		b = append(b, ' ')
	}
	return b, nil
}

// 🏭 CreateB3dmTileDataFromGlb wraps a GLB in a b3dm with the given tables
func CreateB3dmTileDataFromGlb(glb []byte, featureTable, batchTable Table) *TileData {
	return &TileData{
		Header:       Header{Magic: MagicB3DM, Version: defaultVersion},
		FeatureTable: featureTable,
		BatchTable:   batchTable,
		Payload:      glb,
	}
}

// 🏭 CreateDefaultB3dmTileDataFromGlb wraps a GLB in a b3dm with a zero batch length
func CreateDefaultB3dmTileDataFromGlb(glb []byte) *TileData {
	return CreateB3dmTileDataFromGlb(glb, Table{
		JSON: map[string]any{"BATCH_LENGTH": 0},
	}, Table{})
}

// 🏭 CreateI3dmTileDataFromGlb wraps an embedded GLB in an i3dm with the given tables
func CreateI3dmTileDataFromGlb(glb []byte, featureTable, batchTable Table) *TileData {
	return &TileData{
		Header:       Header{Magic: MagicI3DM, Version: defaultVersion, GltfFormat: GltfFormatEmbedded},
		FeatureTable: featureTable,
		BatchTable:   batchTable,
		Payload:      glb,
	}
}

// 🏭 CreateDefaultI3dmTileDataFromGlb places a single instance of the GLB at the origin
func CreateDefaultI3dmTileDataFromGlb(glb []byte) *TileData {
	return CreateI3dmTileDataFromGlb(glb, Table{
		JSON: map[string]any{
			"INSTANCES_LENGTH": 1,
			"POSITION":         map[string]any{"byteOffset": 0},
		},
		// one float32 vec3
		Binary: make([]byte, 12),
	}, Table{})
}

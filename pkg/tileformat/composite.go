package tileformat

import (
	"encoding/binary"
	"math"

	"github.com/walteh/tilepack/pkg/contenttype"
	"gitlab.com/tozd/go/errors"
)

// innerHeaderPeek is how many bytes of an inner tile are needed to read its byteLength
const innerHeaderPeek = 12

// 📋 CompositeHeader is the 16 byte cmpt header
type CompositeHeader struct {
	Magic       string
	Version     uint32
	ByteLength  uint32
	TilesLength uint32
}

// 📦 CompositeTileData is a decoded cmpt. Inner tiles alias the source buffer.
type CompositeTileData struct {
	Header     CompositeHeader
	InnerTiles [][]byte
}

// 🔍 ReadCompositeTileData splits a cmpt buffer into its inner tiles. Each
// inner tile is located by the byteLength field at offset 8 of its own header.
func ReadCompositeTileData(buf []byte) (*CompositeTileData, error) {
	if len(buf) < CompositeHeaderByteLength {
		return nil, errors.Errorf("%w: buffer of %d bytes is shorter than the cmpt header", ErrFormat, len(buf))
	}
	if string(buf[:4]) != MagicCMPT {
		return nil, errors.Errorf("%w: expected magic %q, got %q", ErrFormat, MagicCMPT, string(buf[:4]))
	}

	le := binary.LittleEndian
	h := CompositeHeader{
		Magic:       MagicCMPT,
		Version:     le.Uint32(buf[4:]),
		ByteLength:  le.Uint32(buf[8:]),
		TilesLength: le.Uint32(buf[12:]),
	}
	if int(h.ByteLength) != len(buf) {
		return nil, errors.Errorf("%w: cmpt byteLength %d does not match buffer length %d", ErrFormat, h.ByteLength, len(buf))
	}

	capacity := int(h.TilesLength)
	if limit := len(buf) / innerHeaderPeek; capacity > limit {
		capacity = limit
	}
	ctd := &CompositeTileData{Header: h, InnerTiles: make([][]byte, 0, capacity)}

	offset := CompositeHeaderByteLength
	for i := uint32(0); i < h.TilesLength; i++ {
		if offset+innerHeaderPeek > len(buf) {
			return nil, errors.Errorf("%w: inner tile %d of %d at offset %d does not fit in %d bytes",
				ErrFormat, i, h.TilesLength, offset, len(buf))
		}
		innerLength := le.Uint32(buf[offset+8:])
		if innerLength < innerHeaderPeek {
			return nil, errors.Errorf("%w: inner tile %d at offset %d declares byteLength %d",
				ErrFormat, i, offset, innerLength)
		}
		end := uint64(offset) + uint64(innerLength)
		if end > uint64(len(buf)) {
			return nil, errors.Errorf("%w: inner tile %d at offset %d with byteLength %d exceeds buffer length %d",
				ErrFormat, i, offset, innerLength, len(buf))
		}
		ctd.InnerTiles = append(ctd.InnerTiles, buf[offset:int(end)])
		offset = int(end)
	}

	return ctd, nil
}

// 🏗️ CreateCompositeTileDataBuffer concatenates inner tiles behind a cmpt header
func CreateCompositeTileDataBuffer(version uint32, innerTiles [][]byte) ([]byte, error) {
	if version == 0 {
		version = defaultVersion
	}
	total := CompositeHeaderByteLength
	for _, t := range innerTiles {
		total += len(t)
	}
	if uint64(total) > math.MaxUint32 {
		return nil, errors.Errorf("%w: composite of %d bytes exceeds the 32-bit byteLength field", ErrFormat, total)
	}

	buf := make([]byte, CompositeHeaderByteLength, total)
	le := binary.LittleEndian
	copy(buf[0:4], MagicCMPT)
	le.PutUint32(buf[4:], version)
	le.PutUint32(buf[8:], uint32(total))
	le.PutUint32(buf[12:], uint32(len(innerTiles)))
	for _, t := range innerTiles {
		buf = append(buf, t...)
	}
	return buf, nil
}

// 🌳 Node is the recursive view of tile content: a leaf holds the bytes of a
// single tile, a composite additionally holds its decoded inner nodes.
type Node struct {
	Data  []byte
	Inner []Node
}

// IsComposite reports whether the node was decoded from a cmpt
func (n Node) IsComposite() bool {
	return n.Inner != nil
}

// ParseTree decodes buf into a Node, recursing through nested composites
func ParseTree(buf []byte) (Node, error) {
	if contenttype.Detect(buf) != contenttype.CMPT {
		return Node{Data: buf}, nil
	}
	ctd, err := ReadCompositeTileData(buf)
	if err != nil {
		return Node{}, err
	}
	n := Node{Data: buf, Inner: make([]Node, 0, len(ctd.InnerTiles))}
	for i, inner := range ctd.InnerTiles {
		child, err := ParseTree(inner)
		if err != nil {
			return Node{}, errors.Errorf("inner tile %d: %w", i, err)
		}
		n.Inner = append(n.Inner, child)
	}
	return n, nil
}

// Leaves returns the non-composite nodes in depth-first order
func (n Node) Leaves() [][]byte {
	if !n.IsComposite() {
		return [][]byte{n.Data}
	}
	var out [][]byte
	for _, c := range n.Inner {
		out = append(out, c.Leaves()...)
	}
	return out
}

// 📤 ExtractGlbBuffers collects every embedded GLB in depth-first order: the
// payload of each b3dm and of each i3dm with an embedded GLB. Other content
// contributes nothing; an empty result is not an error.
func ExtractGlbBuffers(buf []byte) ([][]byte, error) {
	root, err := ParseTree(buf)
	if err != nil {
		return nil, err
	}

	var glbs [][]byte
	for _, leaf := range root.Leaves() {
		switch contenttype.Detect(leaf) {
		case contenttype.B3DM:
			td, err := ReadTileDataAs(leaf, MagicB3DM)
			if err != nil {
				return nil, err
			}
			glbs = append(glbs, td.Payload)
		case contenttype.I3DM:
			td, err := ReadTileDataAs(leaf, MagicI3DM)
			if err != nil {
				return nil, err
			}
			if td.Header.GltfFormat == GltfFormatEmbedded {
				glbs = append(glbs, td.Payload)
			}
		}
	}
	return glbs, nil
}

package tileformat

import (
	"bytes"
	"encoding/binary"
	"encoding/json"

	"gitlab.com/tozd/go/errors"
)

// 🔍 ReadTileData decodes a b3dm, i3dm or pnts buffer
func ReadTileData(buf []byte) (*TileData, error) {
	if len(buf) < 4 {
		return nil, errors.Errorf("%w: buffer of %d bytes has no magic", ErrFormat, len(buf))
	}
	magic := string(buf[:4])
	if !isLegacyMagic(magic) {
		return nil, errors.Errorf("%w: unexpected magic %q", ErrFormat, magic)
	}
	return readTileData(buf, magic)
}

// 🔍 ReadTileDataAs decodes a buffer that must carry the given magic
func ReadTileDataAs(buf []byte, magic string) (*TileData, error) {
	if !isLegacyMagic(magic) {
		return nil, errors.Errorf("%w: %q is not a legacy tile magic", ErrFormat, magic)
	}
	if len(buf) < 4 || string(buf[:4]) != magic {
		return nil, errors.Errorf("%w: expected magic %q", ErrFormat, magic)
	}
	return readTileData(buf, magic)
}

// ReadHeader decodes only the header, without checking segment bounds
func ReadHeader(buf []byte) (Header, error) {
	if len(buf) < 4 {
		return Header{}, errors.Errorf("%w: buffer of %d bytes has no magic", ErrFormat, len(buf))
	}
	h := Header{Magic: string(buf[:4])}
	if !isLegacyMagic(h.Magic) {
		return Header{}, errors.Errorf("%w: unexpected magic %q", ErrFormat, h.Magic)
	}
	size := h.Size()
	if len(buf) < size {
		return Header{}, errors.Errorf("%w: buffer of %d bytes is shorter than the %d byte %s header", ErrFormat, len(buf), size, h.Magic)
	}

	le := binary.LittleEndian
	h.Version = le.Uint32(buf[4:])
	h.ByteLength = le.Uint32(buf[8:])
	h.FeatureTableJSONByteLength = le.Uint32(buf[12:])
	h.FeatureTableBinaryByteLength = le.Uint32(buf[16:])
	h.BatchTableJSONByteLength = le.Uint32(buf[20:])
	h.BatchTableBinaryByteLength = le.Uint32(buf[24:])
	if h.Magic == MagicI3DM {
		h.GltfFormat = le.Uint32(buf[28:])
	}
	return h, nil
}

func readTileData(buf []byte, magic string) (*TileData, error) {
	h, err := ReadHeader(buf)
	if err != nil {
		return nil, err
	}
	if h.Magic != magic {
		return nil, errors.Errorf("%w: expected magic %q, got %q", ErrFormat, magic, h.Magic)
	}
	if int(h.ByteLength) != len(buf) {
		return nil, errors.Errorf("%w: header byteLength %d does not match buffer length %d", ErrFormat, h.ByteLength, len(buf))
	}

	r := segmentReader{buf: buf, offset: h.Size()}
	ftJSON, err := r.next("feature table JSON", h.FeatureTableJSONByteLength)
	if err != nil {
		return nil, err
	}
	ftBinary, err := r.next("feature table binary", h.FeatureTableBinaryByteLength)
	if err != nil {
		return nil, err
	}
	btJSON, err := r.next("batch table JSON", h.BatchTableJSONByteLength)
	if err != nil {
		return nil, err
	}
	btBinary, err := r.next("batch table binary", h.BatchTableBinaryByteLength)
	if err != nil {
		return nil, err
	}

	td := &TileData{
		Header:  h,
		Payload: buf[r.offset:],
	}
	td.FeatureTable.Binary = ftBinary
	td.BatchTable.Binary = btBinary

	if td.FeatureTable.JSON, err = decodeJSON(ftJSON); err != nil {
		return nil, errors.Errorf("%w: feature table JSON at offset %d: %v", ErrFormat, h.Size(), err)
	}
	if td.BatchTable.JSON, err = decodeJSON(btJSON); err != nil {
		offset := h.Size() + len(ftJSON) + len(ftBinary)
		return nil, errors.Errorf("%w: batch table JSON at offset %d: %v", ErrFormat, offset, err)
	}

	return td, nil
}

// segmentReader hands out consecutive sub-slices of a buffer
type segmentReader struct {
	buf    []byte
	offset int
}

func (r *segmentReader) next(name string, length uint32) ([]byte, error) {
	end := uint64(r.offset) + uint64(length)
	if end > uint64(len(r.buf)) {
		return nil, errors.Errorf("%w: %s segment of %d bytes at offset %d exceeds buffer length %d",
			ErrFormat, name, length, r.offset, len(r.buf))
	}
	seg := r.buf[r.offset:int(end)]
	r.offset = int(end)
	return seg, nil
}

// decodeJSON tolerates trailing space or NUL padding; empty input is an empty map
func decodeJSON(data []byte) (map[string]any, error) {
	data = bytes.TrimRight(data, " \t\r\n\x00")
	out := map[string]any{}
	if len(data) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// ExternalGlbURI returns the URI of an i3dm whose payload references an
// external GLB
func (td *TileData) ExternalGlbURI() (string, bool) {
	if td.Header.Magic != MagicI3DM || td.Header.GltfFormat != GltfFormatURI {
		return "", false
	}
	uri := string(bytes.TrimRight(td.Payload, " \x00"))
	return uri, uri != ""
}

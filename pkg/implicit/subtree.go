package implicit

import (
	"bytes"
	"encoding/binary"
	"encoding/json"

	"gitlab.com/tozd/go/errors"
)

const (
	SubtreeMagic = "subt"

	subtreeHeaderByteLength = 24
)

// BufferResolver loads an external buffer referenced by URI
type BufferResolver func(uri string) ([]byte, error)

// 📋 SubtreeJSON is the JSON part of a subtree file
type SubtreeJSON struct {
	Buffers []struct {
		URI        string `json:"uri,omitempty"`
		ByteLength int    `json:"byteLength"`
	} `json:"buffers,omitempty"`
	BufferViews []struct {
		Buffer     int `json:"buffer"`
		ByteOffset int `json:"byteOffset"`
		ByteLength int `json:"byteLength"`
	} `json:"bufferViews,omitempty"`
	TileAvailability         Availability   `json:"tileAvailability"`
	ContentAvailability      []Availability `json:"contentAvailability,omitempty"`
	ChildSubtreeAvailability Availability   `json:"childSubtreeAvailability"`
}

// 🌳 Subtree is a decoded subtree with its buffer views resolved to bytes
type Subtree struct {
	JSON        SubtreeJSON
	BufferViews [][]byte
}

// 🔍 IsSubtree reports whether buf starts with the binary subtree magic
func IsSubtree(buf []byte) bool {
	return len(buf) >= 4 && string(buf[:4]) == SubtreeMagic
}

// ParseSubtree decodes a binary (.subtree) or JSON subtree. External buffers
// are loaded through resolve, which may be nil when none are referenced.
func ParseSubtree(buf []byte, resolve BufferResolver) (*Subtree, error) {
	var jsonPart, binPart []byte
	if IsSubtree(buf) {
		if len(buf) < subtreeHeaderByteLength {
			return nil, errors.Errorf("%w: subtree of %d bytes is shorter than its header", ErrImplicitTiling, len(buf))
		}
		le := binary.LittleEndian
		version := le.Uint32(buf[4:])
		if version != 1 {
			return nil, errors.Errorf("%w: unsupported subtree version %d", ErrImplicitTiling, version)
		}
		jsonLength := le.Uint64(buf[8:])
		binLength := le.Uint64(buf[16:])
		jsonEnd := uint64(subtreeHeaderByteLength) + jsonLength
		binEnd := jsonEnd + binLength
		if jsonEnd < jsonLength || binEnd < binLength || binEnd > uint64(len(buf)) {
			return nil, errors.Errorf("%w: subtree chunks of %d and %d bytes exceed buffer length %d",
				ErrImplicitTiling, jsonLength, binLength, len(buf))
		}
		jsonPart = buf[subtreeHeaderByteLength:jsonEnd]
		binPart = buf[jsonEnd:binEnd]
	} else {
		jsonPart = buf
	}

	var st Subtree
	if err := json.Unmarshal(bytes.TrimRight(jsonPart, " \x00"), &st.JSON); err != nil {
		return nil, errors.Errorf("%w: decoding subtree JSON: %v", ErrImplicitTiling, err)
	}

	buffers := make([][]byte, len(st.JSON.Buffers))
	binaryUsed := false
	for i, b := range st.JSON.Buffers {
		var data []byte
		switch {
		case b.URI == "" && !binaryUsed:
			data = binPart
			binaryUsed = true
		case b.URI == "":
			return nil, errors.Errorf("%w: buffer %d has no uri and the binary chunk is already used", ErrImplicitTiling, i)
		case resolve == nil:
			return nil, errors.Errorf("%w: buffer %d refers to %q but no resolver was given", ErrImplicitTiling, i, b.URI)
		default:
			var err error
			if data, err = resolve(b.URI); err != nil {
				return nil, errors.Errorf("resolving subtree buffer %q: %w", b.URI, err)
			}
		}
		if b.ByteLength < 0 || len(data) < b.ByteLength {
			return nil, errors.Errorf("%w: buffer %d has %d bytes, declares %d", ErrImplicitTiling, i, len(data), b.ByteLength)
		}
		buffers[i] = data[:b.ByteLength]
	}

	st.BufferViews = make([][]byte, len(st.JSON.BufferViews))
	for i, bv := range st.JSON.BufferViews {
		if bv.Buffer < 0 || bv.Buffer >= len(buffers) {
			return nil, errors.Errorf("%w: buffer view %d refers to missing buffer %d", ErrImplicitTiling, i, bv.Buffer)
		}
		data := buffers[bv.Buffer]
		if bv.ByteOffset < 0 || bv.ByteLength < 0 || bv.ByteOffset > len(data) || bv.ByteLength > len(data)-bv.ByteOffset {
			return nil, errors.Errorf("%w: buffer view %d [%d, +%d) exceeds buffer %d of %d bytes",
				ErrImplicitTiling, i, bv.ByteOffset, bv.ByteLength, bv.Buffer, len(data))
		}
		st.BufferViews[i] = data[bv.ByteOffset : bv.ByteOffset+bv.ByteLength]
	}

	return &st, nil
}

// 📊 SubtreeAvailability groups the three kinds of availability of a subtree
type SubtreeAvailability struct {
	Tile         AvailabilityInfo
	Content      []AvailabilityInfo
	ChildSubtree AvailabilityInfo
}

// Availability decodes tile, content and child subtree availability
func (s *Subtree) Availability(t Tiling) (*SubtreeAvailability, error) {
	tile, err := CreateTileOrContent(s.JSON.TileAvailability, s.BufferViews, t)
	if err != nil {
		return nil, errors.Errorf("tile availability: %w", err)
	}
	out := &SubtreeAvailability{Tile: tile}
	for i, ca := range s.JSON.ContentAvailability {
		info, err := CreateTileOrContent(ca, s.BufferViews, t)
		if err != nil {
			return nil, errors.Errorf("content availability %d: %w", i, err)
		}
		out.Content = append(out.Content, info)
	}
	if out.ChildSubtree, err = CreateChildSubtree(s.JSON.ChildSubtreeAvailability, s.BufferViews, t); err != nil {
		return nil, errors.Errorf("child subtree availability: %w", err)
	}
	return out, nil
}

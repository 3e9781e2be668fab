// Package glb reads the binary glTF container framing. It does not interpret
// the glTF JSON beyond decoding it.
package glb

import (
	"encoding/binary"
	"encoding/json"

	"gitlab.com/tozd/go/errors"
)

const (
	Magic = "glTF"

	headerByteLength      = 12
	chunkHeaderByteLength = 8

	// glTF 1.0 binary: contentLength and contentFormat follow the header
	v1HeaderByteLength = 20

	chunkTypeJSON uint32 = 0x4E4F534A
	chunkTypeBIN  uint32 = 0x004E4942
)

var ErrInvalidGlb = errors.Base("invalid glb")

// 📦 GLB is a parsed container. JSON and Binary alias the source buffer.
type GLB struct {
	Version uint32
	Length  uint32
	JSON    []byte
	Binary  []byte
}

// 🔍 Parse decodes a glTF 1.0 or 2.0 binary container
func Parse(buf []byte) (*GLB, error) {
	if len(buf) < headerByteLength {
		return nil, errors.Errorf("%w: buffer of %d bytes is shorter than the header", ErrInvalidGlb, len(buf))
	}
	if string(buf[:4]) != Magic {
		return nil, errors.Errorf("%w: unexpected magic %q", ErrInvalidGlb, string(buf[:4]))
	}

	le := binary.LittleEndian
	g := &GLB{
		Version: le.Uint32(buf[4:]),
		Length:  le.Uint32(buf[8:]),
	}
	if uint64(g.Length) > uint64(len(buf)) {
		return nil, errors.Errorf("%w: declared length %d exceeds buffer length %d", ErrInvalidGlb, g.Length, len(buf))
	}
	buf = buf[:g.Length]

	switch g.Version {
	case 1:
		return parseV1(g, buf)
	case 2:
		return parseV2(g, buf)
	default:
		return nil, errors.Errorf("%w: unsupported version %d", ErrInvalidGlb, g.Version)
	}
}

func parseV1(g *GLB, buf []byte) (*GLB, error) {
	if len(buf) < v1HeaderByteLength {
		return nil, errors.Errorf("%w: glTF 1.0 header truncated", ErrInvalidGlb)
	}
	le := binary.LittleEndian
	contentLength := le.Uint32(buf[12:])
	contentFormat := le.Uint32(buf[16:])
	if contentFormat != 0 {
		return nil, errors.Errorf("%w: unsupported glTF 1.0 content format %d", ErrInvalidGlb, contentFormat)
	}
	end := uint64(v1HeaderByteLength) + uint64(contentLength)
	if end > uint64(len(buf)) {
		return nil, errors.Errorf("%w: glTF 1.0 content of %d bytes exceeds buffer", ErrInvalidGlb, contentLength)
	}
	g.JSON = buf[v1HeaderByteLength:int(end)]
	g.Binary = buf[int(end):]
	return g, nil
}

func parseV2(g *GLB, buf []byte) (*GLB, error) {
	le := binary.LittleEndian
	offset := headerByteLength
	for offset < len(buf) {
		if offset+chunkHeaderByteLength > len(buf) {
			return nil, errors.Errorf("%w: chunk header at offset %d truncated", ErrInvalidGlb, offset)
		}
		chunkLength := le.Uint32(buf[offset:])
		chunkType := le.Uint32(buf[offset+4:])
		start := offset + chunkHeaderByteLength
		end := uint64(start) + uint64(chunkLength)
		if end > uint64(len(buf)) {
			return nil, errors.Errorf("%w: chunk at offset %d of %d bytes exceeds buffer", ErrInvalidGlb, offset, chunkLength)
		}
		switch chunkType {
		case chunkTypeJSON:
			if g.JSON == nil {
				g.JSON = buf[start:int(end)]
			}
		case chunkTypeBIN:
			if g.Binary == nil {
				g.Binary = buf[start:int(end)]
			}
		}
		offset = int(end)
	}
	if g.JSON == nil {
		return nil, errors.Errorf("%w: missing JSON chunk", ErrInvalidGlb)
	}
	return g, nil
}

// Version returns the container version without parsing chunks
func Version(buf []byte) (uint32, error) {
	if len(buf) < headerByteLength || string(buf[:4]) != Magic {
		return 0, errors.Errorf("%w: not a glb", ErrInvalidGlb)
	}
	return binary.LittleEndian.Uint32(buf[4:]), nil
}

// 📄 ExtractJSON returns the decoded glTF JSON of a GLB
func ExtractJSON(buf []byte) (map[string]any, error) {
	g, err := Parse(buf)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(trimPadding(g.JSON), &out); err != nil {
		return nil, errors.Errorf("%w: decoding JSON chunk: %v", ErrInvalidGlb, err)
	}
	return out, nil
}

// 🏗️ Build assembles a glTF 2.0 container from a JSON document and an optional
// binary chunk, padding JSON with spaces and binary with zeros.
func Build(jsonChunk, binChunk []byte) []byte {
	jsonChunk = pad(jsonChunk, ' ')
	total := headerByteLength + chunkHeaderByteLength + len(jsonChunk)
	if binChunk != nil {
		binChunk = pad(binChunk, 0)
		total += chunkHeaderByteLength + len(binChunk)
	}

	le := binary.LittleEndian
	buf := make([]byte, headerByteLength+chunkHeaderByteLength, total)
	copy(buf, Magic)
	le.PutUint32(buf[4:], 2)
	le.PutUint32(buf[8:], uint32(total))
	le.PutUint32(buf[12:], uint32(len(jsonChunk)))
	le.PutUint32(buf[16:], chunkTypeJSON)
	buf = append(buf, jsonChunk...)
	if binChunk != nil {
		var ch [chunkHeaderByteLength]byte
		le.PutUint32(ch[0:], uint32(len(binChunk)))
		le.PutUint32(ch[4:], chunkTypeBIN)
		buf = append(buf, ch[:]...)
		buf = append(buf, binChunk...)
	}
	return buf
}

func pad(b []byte, with byte) []byte {
	out := append([]byte{}, b...)
	for len(out)%4 != 0 {
		out = append(out, with)
	}
	return out
}

func trimPadding(b []byte) []byte {
	end := len(b)
	for end > 0 && (b[end-1] == ' ' || b[end-1] == 0) {
		end--
	}
	return b[:end]
}

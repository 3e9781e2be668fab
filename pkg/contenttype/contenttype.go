package contenttype

import (
	"bytes"
	"strings"

	"gitlab.com/tozd/go/errors"
)

// 🏷️ Type is the closed set of tile content kinds a buffer can be classified as
type Type string

const (
	B3DM    Type = "B3DM"
	I3DM    Type = "I3DM"
	PNTS    Type = "PNTS"
	CMPT    Type = "CMPT"
	GLB     Type = "GLB"
	GLTF    Type = "GLTF"
	UNKNOWN Type = "UNKNOWN"
)

// legacyPrefix is how older pipeline files spell content types (CONTENT_TYPE_B3DM)
const legacyPrefix = "CONTENT_TYPE_"

var (
	magicB3DM = []byte("b3dm")
	magicI3DM = []byte("i3dm")
	magicPNTS = []byte("pnts")
	magicCMPT = []byte("cmpt")
	magicGLB  = []byte("glTF")
	utf8BOM   = []byte{0xEF, 0xBB, 0xBF}
	gzipMagic = []byte{0x1f, 0x8b}
)

// All lists every Type, UNKNOWN last
var All = []Type{B3DM, I3DM, PNTS, CMPT, GLB, GLTF, UNKNOWN}

// 🔍 Detect classifies a buffer by its leading bytes. It never fails; anything
// unrecognised is UNKNOWN.
func Detect(buf []byte) Type {
	if len(buf) >= 4 {
		switch {
		case bytes.Equal(buf[:4], magicB3DM):
			return B3DM
		case bytes.Equal(buf[:4], magicI3DM):
			return I3DM
		case bytes.Equal(buf[:4], magicPNTS):
			return PNTS
		case bytes.Equal(buf[:4], magicCMPT):
			return CMPT
		case bytes.Equal(buf[:4], magicGLB):
			return GLB
		}
	}
	if looksLikeJSONObject(buf) {
		return GLTF
	}
	return UNKNOWN
}

// looksLikeJSONObject is a byte-level sniff, the buffer is not parsed
func looksLikeJSONObject(buf []byte) bool {
	buf = bytes.TrimPrefix(buf, utf8BOM)
	for _, b := range buf {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}

// 📦 IsGzipped reports whether the buffer starts with the gzip member header
func IsGzipped(buf []byte) bool {
	return bytes.HasPrefix(buf, gzipMagic)
}

// IsTileContent reports whether t is one of the binary tile formats or glTF
func (t Type) IsTileContent() bool {
	switch t {
	case B3DM, I3DM, PNTS, CMPT, GLB:
		return true
	default:
		return false
	}
}

func (t Type) String() string {
	return string(t)
}

// 🔄 Parse accepts both B3DM and CONTENT_TYPE_B3DM spellings, case-insensitively
func Parse(s string) (Type, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, legacyPrefix)
	for _, t := range All {
		if string(t) == name {
			return t, nil
		}
	}
	return UNKNOWN, errors.Errorf("unknown content type %q", s)
}

// ParseAll parses a list of names, failing on the first unknown one
func ParseAll(names []string) ([]Type, error) {
	out := make([]Type, 0, len(names))
	for _, n := range names {
		t, err := Parse(n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// 🎯 Filter decides which content types a stage applies to. An empty include
// list admits everything; the exclude list always wins.
type Filter struct {
	Included []Type
	Excluded []Type
}

// Matches reports whether t passes the filter
func (f Filter) Matches(t Type) bool {
	for _, e := range f.Excluded {
		if e == t {
			return false
		}
	}
	if len(f.Included) == 0 {
		return true
	}
	for _, i := range f.Included {
		if i == t {
			return true
		}
	}
	return false
}

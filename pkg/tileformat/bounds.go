package tileformat

import (
	"encoding/binary"
	"encoding/json"
	"math"

	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tilepack/pkg/contenttype"
	"github.com/walteh/tilepack/pkg/glb"
)

// 📐 ContentBounds returns the bounds of a tile content buffer in the z-up
// frame of its tile. Instanced models are enclosed by a sphere around each
// instance position, ignoring instance rotation and scale.
func ContentBounds(buf []byte) (glb.Bounds, error) {
	switch t := contenttype.Detect(buf); t {
	case contenttype.GLB:
		return glb.ComputeBounds(buf)
	case contenttype.B3DM:
		return b3dmBounds(buf)
	case contenttype.I3DM:
		return i3dmBounds(buf)
	case contenttype.PNTS:
		return pntsBounds(buf)
	case contenttype.CMPT:
		ctd, err := ReadCompositeTileData(buf)
		if err != nil {
			return glb.Bounds{}, err
		}
		var b glb.Bounds
		for i, inner := range ctd.InnerTiles {
			ib, err := ContentBounds(inner)
			if err != nil {
				return glb.Bounds{}, errors.Errorf("inner tile %d: %w", i, err)
			}
			b.Union(ib)
		}
		if !b.Valid {
			return glb.Bounds{}, errors.Errorf("%w: composite has no inner tiles", ErrFormat)
		}
		return b, nil
	default:
		return glb.Bounds{}, errors.Errorf("%w: no bounds for %s content", ErrFormat, t)
	}
}

func b3dmBounds(buf []byte) (glb.Bounds, error) {
	td, err := ReadTileDataAs(buf, MagicB3DM)
	if err != nil {
		return glb.Bounds{}, err
	}
	b, err := glb.ComputeBounds(td.Payload)
	if err != nil {
		return glb.Bounds{}, err
	}
	rtc, ok, err := td.FeatureTable.vec3("RTC_CENTER")
	if err != nil {
		return glb.Bounds{}, err
	}
	if ok {
		b = b.Translate(rtc)
	}
	return b, nil
}

func i3dmBounds(buf []byte) (glb.Bounds, error) {
	td, err := ReadTileDataAs(buf, MagicI3DM)
	if err != nil {
		return glb.Bounds{}, err
	}
	count, err := td.FeatureTable.count("INSTANCES_LENGTH")
	if err != nil {
		return glb.Bounds{}, err
	}
	positions, err := td.FeatureTable.positions(count)
	if err != nil {
		return glb.Bounds{}, err
	}

	var radius float64
	if td.Header.GltfFormat == GltfFormatEmbedded {
		model, err := glb.ComputeBounds(td.Payload)
		if err != nil {
			return glb.Bounds{}, err
		}
		for _, c := range model.Corners() {
			radius = math.Max(radius, math.Sqrt(c[0]*c[0]+c[1]*c[1]+c[2]*c[2]))
		}
	}

	var b glb.Bounds
	for _, p := range positions {
		b.Extend([3]float64{p[0] - radius, p[1] - radius, p[2] - radius})
		b.Extend([3]float64{p[0] + radius, p[1] + radius, p[2] + radius})
	}
	if !b.Valid {
		return glb.Bounds{}, errors.Errorf("%w: i3dm has no instances", ErrFormat)
	}
	return b, nil
}

func pntsBounds(buf []byte) (glb.Bounds, error) {
	td, err := ReadTileDataAs(buf, MagicPNTS)
	if err != nil {
		return glb.Bounds{}, err
	}
	count, err := td.FeatureTable.count("POINTS_LENGTH")
	if err != nil {
		return glb.Bounds{}, err
	}
	positions, err := td.FeatureTable.positions(count)
	if err != nil {
		return glb.Bounds{}, err
	}
	var b glb.Bounds
	for _, p := range positions {
		b.Extend(p)
	}
	if !b.Valid {
		return glb.Bounds{}, errors.Errorf("%w: pnts has no points", ErrFormat)
	}
	return b, nil
}

// positions reads POSITION or POSITION_QUANTIZED and adds RTC_CENTER
func (t Table) positions(count int) ([][3]float64, error) {
	rtc, _, err := t.vec3("RTC_CENTER")
	if err != nil {
		return nil, err
	}
	le := binary.LittleEndian

	if offset, ok, err := t.binaryOffset("POSITION"); err != nil {
		return nil, err
	} else if ok {
		if err := t.fits("POSITION", offset, count*12); err != nil {
			return nil, err
		}
		out := make([][3]float64, 0, count)
		for i := 0; i < count; i++ {
			var p [3]float64
			for axis := 0; axis < 3; axis++ {
				p[axis] = float64(math.Float32frombits(le.Uint32(t.Binary[offset+i*12+axis*4:]))) + rtc[axis]
			}
			out = append(out, p)
		}
		return out, nil
	}

	offset, ok, err := t.binaryOffset("POSITION_QUANTIZED")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Errorf("%w: feature table has no POSITION or POSITION_QUANTIZED", ErrFormat)
	}
	if err := t.fits("POSITION_QUANTIZED", offset, count*6); err != nil {
		return nil, err
	}
	volumeOffset, okOffset, err := t.vec3("QUANTIZED_VOLUME_OFFSET")
	if err != nil {
		return nil, err
	}
	volumeScale, okScale, err := t.vec3("QUANTIZED_VOLUME_SCALE")
	if err != nil {
		return nil, err
	}
	if !okOffset || !okScale {
		return nil, errors.Errorf("%w: POSITION_QUANTIZED without QUANTIZED_VOLUME_OFFSET and QUANTIZED_VOLUME_SCALE", ErrFormat)
	}
	out := make([][3]float64, 0, count)
	for i := 0; i < count; i++ {
		var p [3]float64
		for axis := 0; axis < 3; axis++ {
			q := float64(le.Uint16(t.Binary[offset+i*6+axis*2:]))
			p[axis] = volumeOffset[axis] + q/65535*volumeScale[axis] + rtc[axis]
		}
		out = append(out, p)
	}
	return out, nil
}

func (t Table) fits(name string, offset, length int) error {
	if offset < 0 || length < 0 || offset > len(t.Binary) || length > len(t.Binary)-offset {
		return errors.Errorf("%w: %s [%d, +%d) exceeds the feature table binary of %d bytes", ErrFormat, name, offset, length, len(t.Binary))
	}
	return nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	}
	return 0, false
}

// count reads a global integer property
func (t Table) count(name string) (int, error) {
	f, ok := number(t.JSON[name])
	if !ok || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, errors.Errorf("%w: feature table %s is missing or not a count", ErrFormat, name)
	}
	return int(f), nil
}

// binaryOffset reads a {"byteOffset": n} reference into the binary body
func (t Table) binaryOffset(name string) (int, bool, error) {
	v, ok := t.JSON[name]
	if !ok {
		return 0, false, nil
	}
	ref, ok := v.(map[string]any)
	if !ok {
		return 0, false, errors.Errorf("%w: feature table %s is not a binary reference", ErrFormat, name)
	}
	f, ok := number(ref["byteOffset"])
	if !ok || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false, errors.Errorf("%w: feature table %s has no valid byteOffset", ErrFormat, name)
	}
	return int(f), true, nil
}

// vec3 reads a global three component property, inline or from the binary body
func (t Table) vec3(name string) ([3]float64, bool, error) {
	var out [3]float64
	v, ok := t.JSON[name]
	if !ok {
		return out, false, nil
	}
	if values, ok := v.([]any); ok {
		if len(values) != 3 {
			return out, false, errors.Errorf("%w: feature table %s has %d components", ErrFormat, name, len(values))
		}
		for i, value := range values {
			f, ok := number(value)
			if !ok {
				return out, false, errors.Errorf("%w: feature table %s is not numeric", ErrFormat, name)
			}
			out[i] = f
		}
		return out, true, nil
	}
	offset, _, err := t.binaryOffset(name)
	if err != nil {
		return out, false, err
	}
	if err := t.fits(name, offset, 12); err != nil {
		return out, false, err
	}
	for i := 0; i < 3; i++ {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(t.Binary[offset+i*4:])))
	}
	return out, true, nil
}

package tileset

import (
	"math"

	"gitlab.com/tozd/go/errors"
)

// WGS84 ellipsoid
const (
	wgs84A  = 6378137.0
	wgs84E2 = 0.0066943799901413165
)

// Identity is the column-major 4x4 identity transform
var Identity = []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}

func isIdentity(m []float64) bool {
	if len(m) == 0 {
		return true
	}
	if len(m) != 16 {
		return false
	}
	for i := range m {
		if m[i] != Identity[i] {
			return false
		}
	}
	return true
}

// MultiplyTransforms returns a*b for column-major 4x4 matrices; nil is identity
func MultiplyTransforms(a, b []float64) []float64 {
	if isIdentity(a) {
		return b
	}
	if isIdentity(b) {
		return a
	}
	out := make([]float64, 16)
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += a[k*4+row] * b[col*4+k]
			}
			out[col*4+row] = sum
		}
	}
	return out
}

func transformPoint(m []float64, p [3]float64) [3]float64 {
	if isIdentity(m) {
		return p
	}
	return [3]float64{
		m[0]*p[0] + m[4]*p[1] + m[8]*p[2] + m[12],
		m[1]*p[0] + m[5]*p[1] + m[9]*p[2] + m[13],
		m[2]*p[0] + m[6]*p[1] + m[10]*p[2] + m[14],
	}
}

// maxScale is the largest column length of the rotation/scale part
func maxScale(m []float64) float64 {
	if isIdentity(m) {
		return 1
	}
	s := 0.0
	for col := 0; col < 3; col++ {
		s = math.Max(s, math.Hypot(math.Hypot(m[col*4], m[col*4+1]), m[col*4+2]))
	}
	return s
}

// cartographicToCartesian maps longitude/latitude in radians and height in
// meters to earth-centered coordinates
func cartographicToCartesian(lon, lat, height float64) [3]float64 {
	sinLat := math.Sin(lat)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
	return [3]float64{
		(n + height) * math.Cos(lat) * math.Cos(lon),
		(n + height) * math.Cos(lat) * math.Sin(lon),
		(n*(1-wgs84E2) + height) * sinLat,
	}
}

type aabb struct {
	min, max [3]float64
	empty    bool
}

func newAABB() aabb {
	return aabb{empty: true}
}

func (b *aabb) extend(p [3]float64) {
	if b.empty {
		b.min, b.max, b.empty = p, p, false
		return
	}
	for i := 0; i < 3; i++ {
		b.min[i] = math.Min(b.min[i], p[i])
		b.max[i] = math.Max(b.max[i], p[i])
	}
}

func (b aabb) box() BoundingVolume {
	box := make([]float64, 12)
	for i := 0; i < 3; i++ {
		box[i] = (b.min[i] + b.max[i]) / 2
		box[3+i*4] = (b.max[i] - b.min[i]) / 2
	}
	return BoundingVolume{Box: box}
}

// points returns points whose axis aligned bounds enclose the volume after
// the transform is applied. Regions are geographic and ignore the transform.
func (bv BoundingVolume) points(transform []float64) ([][3]float64, error) {
	switch {
	case len(bv.Box) == 12:
		c := [3]float64{bv.Box[0], bv.Box[1], bv.Box[2]}
		var out [][3]float64
		for _, sx := range []float64{-1, 1} {
			for _, sy := range []float64{-1, 1} {
				for _, sz := range []float64{-1, 1} {
					var p [3]float64
					for i := 0; i < 3; i++ {
						p[i] = c[i] + sx*bv.Box[3+i] + sy*bv.Box[6+i] + sz*bv.Box[9+i]
					}
					out = append(out, transformPoint(transform, p))
				}
			}
		}
		return out, nil
	case len(bv.Sphere) == 4:
		c := transformPoint(transform, [3]float64{bv.Sphere[0], bv.Sphere[1], bv.Sphere[2]})
		r := bv.Sphere[3] * maxScale(transform)
		return [][3]float64{
			{c[0] - r, c[1] - r, c[2] - r},
			{c[0] + r, c[1] + r, c[2] + r},
		}, nil
	case len(bv.Region) == 6:
		west, south, east, north := bv.Region[0], bv.Region[1], bv.Region[2], bv.Region[3]
		if east < west {
			east += 2 * math.Pi
		}
		var out [][3]float64
		const steps = 4
		for i := 0; i <= steps; i++ {
			lon := west + (east-west)*float64(i)/steps
			for j := 0; j <= steps; j++ {
				lat := south + (north-south)*float64(j)/steps
				for _, h := range []float64{bv.Region[4], bv.Region[5]} {
					out = append(out, cartographicToCartesian(lon, lat, h))
				}
			}
		}
		return out, nil
	default:
		return nil, errors.Errorf("%w: bounding volume has no box, region or sphere", ErrInvalidTileset)
	}
}

// 📦 UnionBoundingVolumes encloses the root volumes of tiles. All regions
// without transforms union into a region; anything else becomes a box.
func UnionBoundingVolumes(tiles []*Tile) (BoundingVolume, error) {
	if len(tiles) == 0 {
		return BoundingVolume{}, errors.Errorf("%w: no bounding volumes to union", ErrInvalidTileset)
	}

	allRegions := true
	for _, t := range tiles {
		if len(t.BoundingVolume.Region) != 6 || !isIdentity(t.Transform) {
			allRegions = false
			break
		}
	}
	if allRegions {
		region := append([]float64{}, tiles[0].BoundingVolume.Region...)
		for _, t := range tiles[1:] {
			r := t.BoundingVolume.Region
			region[0] = math.Min(region[0], r[0])
			region[1] = math.Min(region[1], r[1])
			region[2] = math.Max(region[2], r[2])
			region[3] = math.Max(region[3], r[3])
			region[4] = math.Min(region[4], r[4])
			region[5] = math.Max(region[5], r[5])
		}
		return BoundingVolume{Region: region}, nil
	}

	bounds := newAABB()
	for _, t := range tiles {
		pts, err := t.BoundingVolume.points(t.Transform)
		if err != nil {
			return BoundingVolume{}, err
		}
		for _, p := range pts {
			bounds.extend(p)
		}
	}
	return bounds.box(), nil
}

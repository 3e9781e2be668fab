package glb

import (
	"encoding/json"
	"math"

	"gitlab.com/tozd/go/errors"
)

// 📐 Bounds is an axis aligned box. The zero value is empty.
type Bounds struct {
	Min, Max [3]float64
	Valid    bool
}

// Extend grows b to include p
func (b *Bounds) Extend(p [3]float64) {
	if !b.Valid {
		b.Min, b.Max, b.Valid = p, p, true
		return
	}
	for i := 0; i < 3; i++ {
		b.Min[i] = math.Min(b.Min[i], p[i])
		b.Max[i] = math.Max(b.Max[i], p[i])
	}
}

// Union grows b to include o
func (b *Bounds) Union(o Bounds) {
	if o.Valid {
		b.Extend(o.Min)
		b.Extend(o.Max)
	}
}

// Translate moves the box by d
func (b Bounds) Translate(d [3]float64) Bounds {
	if !b.Valid {
		return b
	}
	for i := 0; i < 3; i++ {
		b.Min[i] += d[i]
		b.Max[i] += d[i]
	}
	return b
}

// Corners are the eight corners of the box
func (b Bounds) Corners() [8][3]float64 {
	var out [8][3]float64
	for i := range out {
		for axis := 0; axis < 3; axis++ {
			if i&(1<<axis) == 0 {
				out[i][axis] = b.Min[axis]
			} else {
				out[i][axis] = b.Max[axis]
			}
		}
	}
	return out
}

type boundsDoc struct {
	Scene  *int `json:"scene"`
	Scenes []struct {
		Nodes []int `json:"nodes"`
	} `json:"scenes"`
	Nodes []struct {
		Children    []int     `json:"children"`
		Mesh        *int      `json:"mesh"`
		Matrix      []float64 `json:"matrix"`
		Translation []float64 `json:"translation"`
		Rotation    []float64 `json:"rotation"`
		Scale       []float64 `json:"scale"`
	} `json:"nodes"`
	Meshes []struct {
		Primitives []struct {
			Attributes map[string]int `json:"attributes"`
		} `json:"primitives"`
	} `json:"meshes"`
	Accessors []struct {
		Min []float64 `json:"min"`
		Max []float64 `json:"max"`
	} `json:"accessors"`
	Extensions struct {
		CesiumRTC *struct {
			Center []float64 `json:"center"`
		} `json:"CESIUM_RTC"`
	} `json:"extensions"`
}

// 📐 ComputeBounds returns the bounds of the POSITION accessors of the
// default scene, in the z-up frame of a tileset. Node transforms are applied
// and a CESIUM_RTC center is added. Only glTF 2.0 is supported.
func ComputeBounds(buf []byte) (Bounds, error) {
	g, err := Parse(buf)
	if err != nil {
		return Bounds{}, err
	}
	if g.Version != 2 {
		return Bounds{}, errors.Errorf("%w: bounds need glTF 2.0, got %d", ErrInvalidGlb, g.Version)
	}
	var doc boundsDoc
	if err := json.Unmarshal(trimPadding(g.JSON), &doc); err != nil {
		return Bounds{}, errors.Errorf("%w: decoding JSON chunk: %v", ErrInvalidGlb, err)
	}

	var b Bounds
	visited := make([]bool, len(doc.Nodes))
	var walk func(node int, parent mat4) error
	walk = func(node int, parent mat4) error {
		if node < 0 || node >= len(doc.Nodes) {
			return errors.Errorf("%w: missing node %d", ErrInvalidGlb, node)
		}
		if visited[node] {
			return errors.Errorf("%w: node %d is reachable twice", ErrInvalidGlb, node)
		}
		visited[node] = true

		n := doc.Nodes[node]
		local := identity()
		switch {
		case len(n.Matrix) == 16:
			copy(local[:], n.Matrix)
		default:
			local = trs(n.Translation, n.Rotation, n.Scale)
		}
		world := parent.mul(local)

		if n.Mesh != nil {
			if *n.Mesh < 0 || *n.Mesh >= len(doc.Meshes) {
				return errors.Errorf("%w: node %d refers to missing mesh %d", ErrInvalidGlb, node, *n.Mesh)
			}
			for _, p := range doc.Meshes[*n.Mesh].Primitives {
				idx, ok := p.Attributes["POSITION"]
				if !ok {
					continue
				}
				if idx < 0 || idx >= len(doc.Accessors) {
					return errors.Errorf("%w: missing POSITION accessor %d", ErrInvalidGlb, idx)
				}
				acc := doc.Accessors[idx]
				if len(acc.Min) != 3 || len(acc.Max) != 3 {
					return errors.Errorf("%w: POSITION accessor %d has no min and max", ErrInvalidGlb, idx)
				}
				box := Bounds{Min: [3]float64(acc.Min), Max: [3]float64(acc.Max), Valid: true}
				for _, c := range box.Corners() {
					b.Extend(world.apply(c))
				}
			}
		}
		for _, child := range n.Children {
			if err := walk(child, world); err != nil {
				return err
			}
		}
		return nil
	}

	for _, root := range sceneRoots(&doc) {
		if err := walk(root, identity()); err != nil {
			return Bounds{}, err
		}
	}
	if !b.Valid {
		return Bounds{}, errors.Errorf("%w: no POSITION accessor in the scene", ErrInvalidGlb)
	}

	// y-up to z-up
	var up Bounds
	for _, c := range b.Corners() {
		up.Extend([3]float64{c[0], -c[2], c[1]})
	}
	if rtc := doc.Extensions.CesiumRTC; rtc != nil && len(rtc.Center) == 3 {
		up = up.Translate([3]float64(rtc.Center))
	}
	return up, nil
}

// sceneRoots are the nodes of the default scene, or every node no other node
// lists as a child when the document has no scenes
func sceneRoots(doc *boundsDoc) []int {
	if len(doc.Scenes) > 0 {
		scene := 0
		if doc.Scene != nil && *doc.Scene >= 0 && *doc.Scene < len(doc.Scenes) {
			scene = *doc.Scene
		}
		return doc.Scenes[scene].Nodes
	}
	child := make([]bool, len(doc.Nodes))
	for _, n := range doc.Nodes {
		for _, c := range n.Children {
			if c >= 0 && c < len(child) {
				child[c] = true
			}
		}
	}
	var roots []int
	for i, isChild := range child {
		if !isChild {
			roots = append(roots, i)
		}
	}
	return roots
}

// mat4 is a column-major 4x4 matrix
type mat4 [16]float64

func identity() mat4 {
	return mat4{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
}

func (a mat4) mul(b mat4) mat4 {
	var out mat4
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

func (a mat4) apply(p [3]float64) [3]float64 {
	return [3]float64{
		a[0]*p[0] + a[4]*p[1] + a[8]*p[2] + a[12],
		a[1]*p[0] + a[5]*p[1] + a[9]*p[2] + a[13],
		a[2]*p[0] + a[6]*p[1] + a[10]*p[2] + a[14],
	}
}

// trs composes translation * rotation * scale; missing parts are identity
func trs(t, r, s []float64) mat4 {
	m := identity()
	if len(r) == 4 {
		x, y, z, w := r[0], r[1], r[2], r[3]
		m[0], m[1], m[2] = 1-2*(y*y+z*z), 2*(x*y+z*w), 2*(x*z-y*w)
		m[4], m[5], m[6] = 2*(x*y-z*w), 1-2*(x*x+z*z), 2*(y*z+x*w)
		m[8], m[9], m[10] = 2*(x*z+y*w), 2*(y*z-x*w), 1-2*(x*x+y*y)
	}
	if len(s) == 3 {
		for col := 0; col < 3; col++ {
			for row := 0; row < 3; row++ {
				m[col*4+row] *= s[col]
			}
		}
	}
	if len(t) == 3 {
		m[12], m[13], m[14] = t[0], t[1], t[2]
	}
	return m
}

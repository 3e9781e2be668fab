package external

import (
	"context"
	"strconv"
)

// DefaultGltfpackPath is looked up in PATH
const DefaultGltfpackPath = "gltfpack"

// ⚙️ GltfpackOptions mirrors the gltfpack flags; the JSON names are the flag
// names so pipeline files can spell them the same way.
type GltfpackOptions struct {
	Compress           bool    `json:"c,omitempty" yaml:"c,omitempty"`
	CompressMore       bool    `json:"cc,omitempty" yaml:"cc,omitempty"`
	Simplify           float64 `json:"si,omitempty" yaml:"si,omitempty"`
	SimplifyAggressive bool    `json:"sa,omitempty" yaml:"sa,omitempty"`
	KeepNodes          bool    `json:"kn,omitempty" yaml:"kn,omitempty"`
	KeepMaterials      bool    `json:"km,omitempty" yaml:"km,omitempty"`
	KeepExtras         bool    `json:"ke,omitempty" yaml:"ke,omitempty"`
	NoQuantization     bool    `json:"noq,omitempty" yaml:"noq,omitempty"`
	TextureCompress    bool    `json:"tc,omitempty" yaml:"tc,omitempty"`
	PositionBits       int     `json:"vp,omitempty" yaml:"vp,omitempty"`
	TexcoordBits       int     `json:"vt,omitempty" yaml:"vt,omitempty"`
	NormalBits         int     `json:"vn,omitempty" yaml:"vn,omitempty"`
}

// Args renders the options as command line flags
func (o GltfpackOptions) Args() []string {
	var args []string
	flag := func(on bool, name string) {
		if on {
			args = append(args, name)
		}
	}
	value := func(v int, name string) {
		if v > 0 {
			args = append(args, name, strconv.Itoa(v))
		}
	}
	flag(o.Compress, "-c")
	flag(o.CompressMore, "-cc")
	if o.Simplify > 0 {
		args = append(args, "-si", strconv.FormatFloat(o.Simplify, 'f', -1, 64))
	}
	flag(o.SimplifyAggressive, "-sa")
	flag(o.KeepNodes, "-kn")
	flag(o.KeepMaterials, "-km")
	flag(o.KeepExtras, "-ke")
	flag(o.NoQuantization, "-noq")
	flag(o.TextureCompress, "-tc")
	value(o.PositionBits, "-vp")
	value(o.TexcoordBits, "-vt")
	value(o.NormalBits, "-vn")
	return args
}

// 📦 Gltfpack optimises GLBs with the gltfpack executable
type Gltfpack struct {
	Path    string
	Options GltfpackOptions
}

func NewGltfpack(path string, opts GltfpackOptions) *Gltfpack {
	if path == "" {
		path = DefaultGltfpackPath
	}
	return &Gltfpack{Path: path, Options: opts}
}

func (g *Gltfpack) Optimize(ctx context.Context, glb []byte) ([]byte, error) {
	inv, err := newInvocation(g.Path, glb)
	if err != nil {
		return nil, err
	}
	defer inv.cleanup()

	args := append([]string{"-i", inv.input, "-o", inv.output}, g.Options.Args()...)
	return inv.run(ctx, args)
}

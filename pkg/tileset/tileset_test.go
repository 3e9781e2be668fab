package tileset

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walteh/tilepack/pkg/implicit"
)

func setupTestLogger(t *testing.T) context.Context {
	logger := zerolog.New(zerolog.TestWriter{T: t}).With().Timestamp().Logger()
	return logger.WithContext(context.Background())
}

const sampleTileset = `{
  "asset": {"version": "1.0", "extras": {"producer": "test"}},
  "geometricError": 500,
  "properties": {"Height": {"minimum": 1, "maximum": 10}},
  "root": {
    "boundingVolume": {"region": [-1.3, 0.6, -1.2, 0.7, 0, 100]},
    "geometricError": 100,
    "refine": "add",
    "content": {"url": "root.b3dm"},
    "children": [
      {
        "boundingVolume": {"box": [0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1]},
        "geometricError": 0,
        "content": {"uri": "tiles/a.b3dm?v=1"}
      },
      {
        "boundingVolume": {"sphere": [0, 0, 0, 5]},
        "geometricError": 10,
        "content": {"uri": "external/tileset.json"},
        "children": [
          {"boundingVolume": {"sphere": [1, 1, 1, 1]}, "geometricError": 0, "contents": [{"uri": "c1.pnts"}, {"uri": "c2.i3dm"}]}
        ]
      }
    ]
  }
}`

func TestParseAndMarshal(t *testing.T) {
	ts, err := Parse([]byte(sampleTileset))
	require.NoError(t, err)

	assert.Equal(t, "1.0", ts.Asset.Version)
	assert.Equal(t, 500.0, ts.GeometricError)
	require.Len(t, ts.Root.Children, 2)
	assert.Equal(t, "root.b3dm", ts.Root.Content.Ref())

	out, err := Marshal(ts)
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, map[string]any{"Height": map[string]any{"minimum": 1.0, "maximum": 10.0}}, back["properties"], "raw sections round trip")
	root := back["root"].(map[string]any)
	child := root["children"].([]any)[0].(map[string]any)
	assert.Equal(t, 0.0, child["geometricError"], "zero geometric error is kept")
}

func TestMarshalKeepsUndeclaredProperties(t *testing.T) {
	doc := `{
	  "asset": {"version": "1.0", "gltfUpAxis": "Z"},
	  "geometricError": 10,
	  "vendorRoot": {"a": [1, 2]},
	  "root": {
	    "boundingVolume": {"sphere": [0, 0, 0, 1], "note": "tight"},
	    "geometricError": 0,
	    "vendorTile": true,
	    "content": {"uri": "a.b3dm", "vendorContent": 3}
	  }
	}`
	ts, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"Z"`), ts.Asset.Unknown["gltfUpAxis"])
	assert.NotContains(t, ts.Unknown, "asset", "declared properties are not duplicated")

	ts.Root.Content.SetRef("a.glb")
	out, err := Marshal(ts)
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, map[string]any{"version": "1.0", "gltfUpAxis": "Z"}, back["asset"])
	assert.Equal(t, map[string]any{"a": []any{1.0, 2.0}}, back["vendorRoot"])

	root := back["root"].(map[string]any)
	assert.Equal(t, true, root["vendorTile"])
	assert.Equal(t, map[string]any{"sphere": []any{0.0, 0.0, 0.0, 1.0}, "note": "tight"}, root["boundingVolume"])
	assert.Equal(t, map[string]any{"uri": "a.glb", "vendorContent": 3.0}, root["content"])
}

func TestParseErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"not_json":     `{"asset":`,
		"missing_root": `{"asset":{"version":"1.1"},"geometricError":1}`,
		"wrong_type":   `{"asset":{"version":"1.1"},"geometricError":"x","root":{}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalidTileset)
		})
	}
}

func TestContentURIs(t *testing.T) {
	ts, err := Parse([]byte(sampleTileset))
	require.NoError(t, err)

	assert.Equal(t, []string{"root.b3dm", "tiles/a.b3dm?v=1", "external/tileset.json", "c1.pnts", "c2.i3dm"}, ts.ContentURIs())

	ts.RewriteContentURIs(func(ref string) string { return "p/" + ref })
	assert.Equal(t, "p/root.b3dm", ts.Root.Content.URL, "legacy spelling is kept")
	assert.Empty(t, ts.Root.Content.URI)
	assert.Equal(t, "p/c2.i3dm", ts.Root.Children[1].Children[0].Contents[1].URI)
}

func TestWalk(t *testing.T) {
	ts, err := Parse([]byte(sampleTileset))
	require.NoError(t, err)

	var depths []int
	require.NoError(t, Walk(ts.Root, func(tile, parent *Tile, depth int) error {
		depths = append(depths, depth)
		if depth == 0 {
			assert.Nil(t, parent)
		}
		return nil
	}))
	assert.Equal(t, []int{0, 1, 1, 2}, depths)

	visited := 0
	require.NoError(t, Walk(ts.Root, func(tile, _ *Tile, depth int) error {
		visited++
		if depth == 1 {
			return SkipChildren
		}
		return nil
	}))
	assert.Equal(t, 3, visited)
}

func TestResolveKey(t *testing.T) {
	tests := []struct {
		base, ref string
		want      string
		wantOK    bool
	}{
		{base: "tileset.json", ref: "tiles/a.b3dm", want: "tiles/a.b3dm", wantOK: true},
		{base: "sub/tileset.json", ref: "../tiles/a.b3dm", want: "tiles/a.b3dm", wantOK: true},
		{base: "sub/tileset.json", ref: "./a%20b.b3dm?x=1#f", want: "sub/a b.b3dm", wantOK: true},
		{base: "tileset.json", ref: "../outside.b3dm"},
		{base: "tileset.json", ref: "https://example.com/a.b3dm"},
		{base: "tileset.json", ref: "data:application/octet-stream;base64,AA=="},
		{base: "tileset.json", ref: "/absolute.b3dm"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, ok := ResolveKey(tt.base, tt.ref)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRelativeRef(t *testing.T) {
	assert.Equal(t, "tiles/a.b3dm", RelativeRef("tileset.json", "tiles/a.b3dm"))
	assert.Equal(t, "a.b3dm", RelativeRef("tiles/tileset.json", "tiles/a.b3dm"))
	assert.Equal(t, "../other/a.b3dm", RelativeRef("tiles/x/tileset.json", "tiles/other/a.b3dm"))
	assert.Equal(t, "../../a.b3dm", RelativeRef("x/y/tileset.json", "a.b3dm"))
}

func TestIsExternalTileset(t *testing.T) {
	assert.True(t, IsExternalTileset("sub/tileset.json"))
	assert.True(t, IsExternalTileset("sub/TILESET.JSON?v=2"))
	assert.False(t, IsExternalTileset("a.b3dm"))
	assert.False(t, IsExternalTileset("json"))
}

func TestImplicitTilingTiling(t *testing.T) {
	maxLevel := uint(5)
	tests := []struct {
		name    string
		it      ImplicitTiling
		want    implicit.Tiling
		wantErr bool
	}{
		{
			name: "available_levels",
			it:   ImplicitTiling{SubdivisionScheme: "QUADTREE", SubtreeLevels: 3, AvailableLevels: 6},
			want: implicit.Tiling{SubdivisionScheme: implicit.Quadtree, SubtreeLevels: 3, MaximumLevel: 5},
		},
		{
			name: "legacy_maximum_level",
			it:   ImplicitTiling{SubdivisionScheme: "OCTREE", SubtreeLevels: 2, MaximumLevel: &maxLevel},
			want: implicit.Tiling{SubdivisionScheme: implicit.Octree, SubtreeLevels: 2, MaximumLevel: 5},
		},
		{name: "no_levels", it: ImplicitTiling{SubdivisionScheme: "QUADTREE", SubtreeLevels: 2}, wantErr: true},
		{name: "bad_scheme", it: ImplicitTiling{SubdivisionScheme: "BINARY", SubtreeLevels: 2, AvailableLevels: 2}, wantErr: true},
		{name: "zero_subtree_levels", it: ImplicitTiling{SubdivisionScheme: "QUADTREE", AvailableLevels: 2}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.it.Tiling()
			if tt.wantErr {
				assert.ErrorIs(t, err, implicit.ErrImplicitTiling)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnionBoundingVolumes(t *testing.T) {
	t.Run("regions", func(t *testing.T) {
		bv, err := UnionBoundingVolumes([]*Tile{
			{BoundingVolume: BoundingVolume{Region: []float64{-1, -0.5, 0, 0, 10, 20}}},
			{BoundingVolume: BoundingVolume{Region: []float64{-0.5, -1, 0.5, 0.2, 0, 15}}},
		})
		require.NoError(t, err)
		assert.Equal(t, []float64{-1, -1, 0.5, 0.2, 0, 20}, bv.Region)
		assert.Nil(t, bv.Box)
	})

	t.Run("boxes_with_transform", func(t *testing.T) {
		translate := []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 10, 0, 0, 1}
		bv, err := UnionBoundingVolumes([]*Tile{
			{BoundingVolume: BoundingVolume{Box: []float64{0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1}}},
			{BoundingVolume: BoundingVolume{Box: []float64{0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1}}, Transform: translate},
		})
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{5, 0, 0, 6, 0, 0, 0, 1, 0, 0, 0, 1}, bv.Box, 1e-9)
	})

	t.Run("sphere_and_box", func(t *testing.T) {
		bv, err := UnionBoundingVolumes([]*Tile{
			{BoundingVolume: BoundingVolume{Sphere: []float64{0, 0, 0, 2}}},
			{BoundingVolume: BoundingVolume{Box: []float64{3, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1}}},
		})
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{1, 0, 0, 3, 0, 0, 0, 2, 0, 0, 0, 2}, bv.Box, 1e-9)
	})

	t.Run("region_and_box", func(t *testing.T) {
		bv, err := UnionBoundingVolumes([]*Tile{
			{BoundingVolume: BoundingVolume{Region: []float64{0, 0, 0.01, 0.01, 0, 0}}},
			{BoundingVolume: BoundingVolume{Box: []float64{0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1}}},
		})
		require.NoError(t, err)
		require.Len(t, bv.Box, 12)
		// the region sits on the equator at the prime meridian
		assert.InDelta(t, wgs84A, bv.Box[0]+bv.Box[3], 1e-3)
		assert.InDelta(t, -1, bv.Box[0]-bv.Box[3], 1e-9)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := UnionBoundingVolumes(nil)
		assert.ErrorIs(t, err, ErrInvalidTileset)
		_, err = UnionBoundingVolumes([]*Tile{{}})
		assert.ErrorIs(t, err, ErrInvalidTileset)
	})
}

func TestMultiplyTransforms(t *testing.T) {
	scale := []float64{2, 0, 0, 0, 0, 2, 0, 0, 0, 0, 2, 0, 0, 0, 0, 1}
	translate := []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 1, 2, 3, 1}

	m := MultiplyTransforms(translate, scale)
	p := transformPoint(m, [3]float64{1, 1, 1})
	assert.Equal(t, [3]float64{3, 4, 5}, p, "scale first, then translate")

	assert.Equal(t, scale, MultiplyTransforms(nil, scale))
	assert.Equal(t, scale, MultiplyTransforms(scale, Identity))
	assert.InDelta(t, 2.0, maxScale(scale), 1e-12)
}

func TestCartographicToCartesian(t *testing.T) {
	p := cartographicToCartesian(0, math.Pi/2, 0)
	assert.InDelta(t, 0, p[0], 1e-6)
	assert.InDelta(t, 6356752.314245, p[2], 1e-3, "polar radius")
}

func TestFromContents(t *testing.T) {
	ts, err := FromContents([]ContentBox{
		{URI: "a.b3dm", Min: [3]float64{0, 0, 0}, Max: [3]float64{2, 2, 2}},
		{URI: "sub/b.pnts", Min: [3]float64{4, -2, 0}, Max: [3]float64{6, 0, 1}},
	})
	require.NoError(t, err)

	assert.Equal(t, "1.1", ts.Asset.Version)
	assert.Equal(t, DefaultTilesetGeometricError, ts.GeometricError)
	assert.Equal(t, "ADD", ts.Root.Refine)
	assert.Equal(t, []string{"a.b3dm", "sub/b.pnts"}, ts.ContentURIs())

	require.Len(t, ts.Root.Children, 2)
	leaf := ts.Root.Children[0]
	assert.Equal(t, DefaultLeafGeometricError, leaf.GeometricError)
	assert.Equal(t, []float64{1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 0, 1}, leaf.BoundingVolume.Box)
	assert.Equal(t, []float64{3, 0, 1, 3, 0, 0, 0, 2, 0, 0, 0, 1}, ts.Root.BoundingVolume.Box)

	_, err = FromContents(nil)
	assert.ErrorIs(t, err, ErrInvalidTileset)
}

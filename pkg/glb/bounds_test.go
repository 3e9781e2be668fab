package glb

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertBounds(t *testing.T, want [2][3]float64, got Bounds) {
	t.Helper()
	require.True(t, got.Valid)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, want[0][i], got.Min[i], 1e-9, "min[%d]", i)
		assert.InDelta(t, want[1][i], got.Max[i], 1e-9, "max[%d]", i)
	}
}

func TestComputeBounds(t *testing.T) {
	const mesh = `"accessors":[{"min":[-1,0,-2],"max":[1,3,2]}],
		"meshes":[{"primitives":[{"attributes":{"POSITION":0}}]}]`

	tests := []struct {
		name string
		json string
		want [2][3]float64
	}{
		{
			name: "translated_node_to_z_up",
			json: `{` + mesh + `,"nodes":[{"mesh":0,"translation":[10,0,0]}],"scenes":[{"nodes":[0]}]}`,
			want: [2][3]float64{{9, -2, 0}, {11, 2, 3}},
		},
		{
			name: "cesium_rtc_center",
			json: `{` + mesh + `,"nodes":[{"mesh":0}],"scenes":[{"nodes":[0]}],
				"extensions":{"CESIUM_RTC":{"center":[100,200,300]}}}`,
			want: [2][3]float64{{99, 198, 300}, {101, 202, 303}},
		},
		{
			name: "child_of_scaled_parent",
			json: `{` + mesh + `,"nodes":[{"children":[1],"scale":[2,2,2]},{"mesh":0,"matrix":[1,0,0,0,0,1,0,0,0,0,1,0,0,1,0,1]}]}`,
			want: [2][3]float64{{-2, -4, 2}, {2, 4, 8}},
		},
		{
			name: "rotation_about_z",
			json: `{"accessors":[{"min":[1,0,0],"max":[1,0,0]}],
				"meshes":[{"primitives":[{"attributes":{"POSITION":0}}]}],
				"nodes":[{"mesh":0,"rotation":[0,0,` + ftoa(math.Sqrt2/2) + `,` + ftoa(math.Sqrt2/2) + `]}],
				"scene":0,"scenes":[{"nodes":[0]}]}`,
			want: [2][3]float64{{0, 0, 1}, {0, 0, 1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := ComputeBounds(Build([]byte(tt.json), nil))
			require.NoError(t, err)
			assertBounds(t, tt.want, b)
		})
	}
}

func TestComputeBoundsErrors(t *testing.T) {
	for name, buf := range map[string][]byte{
		"no_positions":   Build([]byte(`{"nodes":[{}],"scenes":[{"nodes":[0]}]}`), nil),
		"missing_minmax": Build([]byte(`{"accessors":[{}],"meshes":[{"primitives":[{"attributes":{"POSITION":0}}]}],"nodes":[{"mesh":0}]}`), nil),
		"missing_node":   Build([]byte(`{"scenes":[{"nodes":[3]}]}`), nil),
		"node_cycle":     Build([]byte(`{"nodes":[{"children":[1]},{"children":[0]}],"scenes":[{"nodes":[0]}]}`), nil),
		"not_a_glb":      []byte("b3dm0000000000"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ComputeBounds(buf)
			assert.ErrorIs(t, err, ErrInvalidGlb)
		})
	}
}

func TestBoundsUnion(t *testing.T) {
	var b Bounds
	b.Union(Bounds{})
	assert.False(t, b.Valid, "empty bounds add nothing")

	b.Union(Bounds{Min: [3]float64{0, 0, 0}, Max: [3]float64{1, 1, 1}, Valid: true})
	b.Union(Bounds{Min: [3]float64{-1, 2, 0}, Max: [3]float64{0, 3, 0.5}, Valid: true})
	assertBounds(t, [2][3]float64{{-1, 0, 0}, {1, 3, 1}}, b)
	assertBounds(t, [2][3]float64{{0, 1, 2}, {2, 4, 3}}, b.Translate([3]float64{1, 1, 2}))
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

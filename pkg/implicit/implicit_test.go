package implicit

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"
)

func intPtr(i int) *int { return &i }

func TestNodeCounts(t *testing.T) {
	tests := []struct {
		name        string
		tiling      Tiling
		level       uint
		wantLevel   uint64
		wantSubtree uint64
	}{
		{name: "quadtree_3", tiling: Tiling{SubdivisionScheme: Quadtree, SubtreeLevels: 3}, level: 2, wantLevel: 16, wantSubtree: 21},
		{name: "octree_2", tiling: Tiling{SubdivisionScheme: Octree, SubtreeLevels: 2}, level: 2, wantLevel: 64, wantSubtree: 9},
		{name: "quadtree_1", tiling: Tiling{SubdivisionScheme: Quadtree, SubtreeLevels: 1}, level: 0, wantLevel: 1, wantSubtree: 1},
		{name: "octree_5", tiling: Tiling{SubdivisionScheme: Octree, SubtreeLevels: 5}, level: 1, wantLevel: 8, wantSubtree: 4681},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NodesInLevel(tt.tiling, tt.level)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLevel, got)

			got, err = NodesPerSubtree(tt.tiling)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSubtree, got)
		})
	}
}

func TestNodeCountsErrors(t *testing.T) {
	_, err := NodesInLevel(Tiling{SubdivisionScheme: "HEXTREE"}, 1)
	assert.True(t, errors.Is(err, ErrImplicitTiling))

	_, err = NodesInLevel(Tiling{SubdivisionScheme: Octree}, 22)
	assert.True(t, errors.Is(err, ErrImplicitTiling))

	_, err = NodesPerSubtree(Tiling{SubdivisionScheme: Quadtree, SubtreeLevels: 32})
	assert.True(t, errors.Is(err, ErrImplicitTiling))
}

func TestCreateTileOrContent(t *testing.T) {
	tiling := Tiling{SubdivisionScheme: Quadtree, SubtreeLevels: 3}

	t.Run("constant_available", func(t *testing.T) {
		info, err := CreateTileOrContent(Availability{Constant: intPtr(1)}, nil, tiling)
		require.NoError(t, err)
		assert.Equal(t, 21, info.Len())
		for i := 0; i < info.Len(); i++ {
			assert.True(t, info.IsAvailable(i))
		}
	})

	t.Run("constant_unavailable", func(t *testing.T) {
		info, err := CreateTileOrContent(Availability{Constant: intPtr(0)}, nil, tiling)
		require.NoError(t, err)
		assert.Equal(t, 0, CountAvailable(info))
	})

	t.Run("bitstream", func(t *testing.T) {
		views := [][]byte{{0xFF}, {0b0000_0101, 0x00, 0b0001_0000}}
		info, err := CreateTileOrContent(Availability{Bitstream: intPtr(1)}, views, tiling)
		require.NoError(t, err)
		assert.Equal(t, 21, info.Len())
		assert.True(t, info.IsAvailable(0))
		assert.False(t, info.IsAvailable(1))
		assert.True(t, info.IsAvailable(2))
		assert.False(t, info.IsAvailable(8))
		assert.True(t, info.IsAvailable(20))
		assert.Equal(t, 3, CountAvailable(info))
	})

	t.Run("neither", func(t *testing.T) {
		_, err := CreateTileOrContent(Availability{}, nil, tiling)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrImplicitTiling))
	})

	t.Run("bitstream_out_of_range", func(t *testing.T) {
		_, err := CreateTileOrContent(Availability{Bitstream: intPtr(2)}, [][]byte{{0}}, tiling)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrImplicitTiling))
	})

	t.Run("bitstream_too_short", func(t *testing.T) {
		_, err := CreateTileOrContent(Availability{Bitstream: intPtr(0)}, [][]byte{{0xFF, 0xFF}}, tiling)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrImplicitTiling))
	})
}

func TestCreateChildSubtree(t *testing.T) {
	tiling := Tiling{SubdivisionScheme: Quadtree, SubtreeLevels: 2}

	info, err := CreateChildSubtree(Availability{Bitstream: intPtr(0)}, [][]byte{{0x00, 0x80}}, tiling)
	require.NoError(t, err)
	assert.Equal(t, 16, info.Len())
	assert.True(t, info.IsAvailable(15))
	assert.False(t, info.IsAvailable(14))
}

func TestIsAvailableOutOfRangePanics(t *testing.T) {
	c := NewConstantAvailabilityInfo(true, 4)
	assert.Panics(t, func() { c.IsAvailable(4) })
	assert.Panics(t, func() { c.IsAvailable(-1) })

	b, err := NewBufferAvailabilityInfo([]byte{0xFF}, 5)
	require.NoError(t, err)
	assert.Panics(t, func() { b.IsAvailable(5) })
}

func buildSubtree(t *testing.T, jsonPart string, bin []byte) []byte {
	t.Helper()
	j := []byte(jsonPart)
	for len(j)%8 != 0 {
		j = append(j, ' ')
	}
	buf := make([]byte, subtreeHeaderByteLength)
	copy(buf, SubtreeMagic)
	le := binary.LittleEndian
	le.PutUint32(buf[4:], 1)
	le.PutUint64(buf[8:], uint64(len(j)))
	le.PutUint64(buf[16:], uint64(len(bin)))
	buf = append(buf, j...)
	return append(buf, bin...)
}

func TestParseSubtree(t *testing.T) {
	tiling := Tiling{SubdivisionScheme: Quadtree, SubtreeLevels: 2}

	t.Run("binary_with_internal_buffer", func(t *testing.T) {
		buf := buildSubtree(t, `{
			"buffers": [{"byteLength": 8}],
			"bufferViews": [{"buffer": 0, "byteOffset": 0, "byteLength": 1}, {"buffer": 0, "byteOffset": 1, "byteLength": 2}],
			"tileAvailability": {"bitstream": 0, "availableCount": 3},
			"contentAvailability": [{"constant": 1}],
			"childSubtreeAvailability": {"bitstream": 1}
		}`, []byte{0b0000_0111, 0x01, 0x00, 0, 0, 0, 0, 0})

		st, err := ParseSubtree(buf, nil)
		require.NoError(t, err)
		require.Len(t, st.BufferViews, 2)

		av, err := st.Availability(tiling)
		require.NoError(t, err)
		assert.Equal(t, 5, av.Tile.Len())
		assert.Equal(t, 3, CountAvailable(av.Tile))
		require.Len(t, av.Content, 1)
		assert.Equal(t, 5, CountAvailable(av.Content[0]))
		assert.Equal(t, 16, av.ChildSubtree.Len())
		assert.Equal(t, 1, CountAvailable(av.ChildSubtree))
	})

	t.Run("json_with_external_buffer", func(t *testing.T) {
		buf := []byte(`{
			"buffers": [{"uri": "0.0.0.bin", "byteLength": 1}],
			"bufferViews": [{"buffer": 0, "byteOffset": 0, "byteLength": 1}],
			"tileAvailability": {"constant": 1},
			"childSubtreeAvailability": {"constant": 0}
		}`)
		var requested string
		st, err := ParseSubtree(buf, func(uri string) ([]byte, error) {
			requested = uri
			return []byte{0xAA}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, "0.0.0.bin", requested)
		assert.Equal(t, []byte{0xAA}, st.BufferViews[0])
	})

	t.Run("external_buffer_without_resolver", func(t *testing.T) {
		_, err := ParseSubtree([]byte(`{"buffers":[{"uri":"a.bin","byteLength":1}]}`), nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrImplicitTiling))
	})

	t.Run("truncated_binary", func(t *testing.T) {
		buf := buildSubtree(t, `{}`, []byte{1, 2})
		_, err := ParseSubtree(buf[:len(buf)-1], nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrImplicitTiling))
	})

	t.Run("negative_lengths", func(t *testing.T) {
		for name, doc := range map[string]string{
			"buffer":      `{"buffers":[{"byteLength":-1}],"tileAvailability":{"constant":1},"childSubtreeAvailability":{"constant":0}}`,
			"buffer_view": `{"buffers":[{"byteLength":1}],"bufferViews":[{"buffer":0,"byteOffset":0,"byteLength":-1}]}`,
			"huge_offset": `{"buffers":[{"byteLength":1}],"bufferViews":[{"buffer":0,"byteOffset":9223372036854775807,"byteLength":1}]}`,
		} {
			t.Run(name, func(t *testing.T) {
				buf := buildSubtree(t, doc, []byte{1, 0, 0, 0, 0, 0, 0, 0})
				require.NotPanics(t, func() {
					_, err := ParseSubtree(buf, nil)
					require.Error(t, err)
					assert.True(t, errors.Is(err, ErrImplicitTiling))
				})
			})
		}
	})

	t.Run("buffer_view_out_of_bounds", func(t *testing.T) {
		buf := buildSubtree(t, `{"buffers":[{"byteLength":1}],"bufferViews":[{"buffer":0,"byteOffset":0,"byteLength":4}]}`, []byte{1})
		_, err := ParseSubtree(buf, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrImplicitTiling))
	})
}

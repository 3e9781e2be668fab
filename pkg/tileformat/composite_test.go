package tileformat

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"
)

func mustComposite(t *testing.T, inner ...[]byte) []byte {
	t.Helper()
	buf, err := CreateCompositeTileDataBuffer(1, inner)
	require.NoError(t, err)
	return buf
}

func TestReadCompositeTileData(t *testing.T) {
	b3dm := rawTile(MagicB3DM, 0, []byte(`{"BATCH_LENGTH":0}`), nil, nil, nil, fakeGlb)
	pnts := rawTile(MagicPNTS, 0, []byte(`{"POINTS_LENGTH":0}`), nil, nil, nil, nil)

	buf := mustComposite(t, b3dm, pnts)

	ctd, err := ReadCompositeTileData(buf)
	require.NoError(t, err)
	assert.Equal(t, MagicCMPT, ctd.Header.Magic)
	assert.Equal(t, uint32(2), ctd.Header.TilesLength)
	assert.Equal(t, uint32(len(buf)), ctd.Header.ByteLength)
	require.Len(t, ctd.InnerTiles, 2)
	assert.Equal(t, b3dm, ctd.InnerTiles[0])
	assert.Equal(t, pnts, ctd.InnerTiles[1])
}

func TestReadCompositeTileDataErrors(t *testing.T) {
	b3dm := rawTile(MagicB3DM, 0, nil, nil, nil, nil, fakeGlb)

	tests := []struct {
		name        string
		buf         func(t *testing.T) []byte
		errContains string
	}{
		{
			name:        "short",
			buf:         func(t *testing.T) []byte { return []byte("cmpt") },
			errContains: "shorter than the cmpt header",
		},
		{
			name: "wrong_magic",
			buf: func(t *testing.T) []byte {
				b := mustComposite(t, b3dm)
				copy(b, "cmpX")
				return b
			},
			errContains: "expected magic",
		},
		{
			name: "fewer_tiles_than_declared",
			buf: func(t *testing.T) []byte {
				b := mustComposite(t, b3dm)
				binary.LittleEndian.PutUint32(b[12:], 3)
				return b
			},
			errContains: "does not fit",
		},
		{
			name: "inner_tile_overflows",
			buf: func(t *testing.T) []byte {
				b := mustComposite(t, b3dm)
				binary.LittleEndian.PutUint32(b[CompositeHeaderByteLength+8:], uint32(len(b)))
				return b
			},
			errContains: "exceeds buffer length",
		},
		{
			name: "inner_tile_too_small",
			buf: func(t *testing.T) []byte {
				b := mustComposite(t, b3dm)
				binary.LittleEndian.PutUint32(b[CompositeHeaderByteLength+8:], 4)
				return b
			},
			errContains: "declares byteLength",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCompositeTileData(tt.buf(t))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrFormat))
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestCompositeRoundTrip(t *testing.T) {
	b3dm := rawTile(MagicB3DM, 0, []byte(`{"BATCH_LENGTH":0}`), nil, nil, nil, fakeGlb)
	first := mustComposite(t, b3dm, b3dm)

	ctd, err := ReadCompositeTileData(first)
	require.NoError(t, err)

	second, err := CreateCompositeTileDataBuffer(ctd.Header.Version, ctd.InnerTiles)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParseTree(t *testing.T) {
	b3dm := rawTile(MagicB3DM, 0, nil, nil, nil, nil, fakeGlb)
	inner := mustComposite(t, b3dm)
	outer := mustComposite(t, inner, b3dm)

	root, err := ParseTree(outer)
	require.NoError(t, err)
	assert.True(t, root.IsComposite())
	require.Len(t, root.Inner, 2)
	assert.True(t, root.Inner[0].IsComposite())
	assert.False(t, root.Inner[1].IsComposite())
	assert.Len(t, root.Leaves(), 2)

	leaf, err := ParseTree(b3dm)
	require.NoError(t, err)
	assert.False(t, leaf.IsComposite())
}

func TestExtractGlbBuffers(t *testing.T) {
	glbA := []byte("glTF\x02\x00\x00\x00AAAA")
	glbB := []byte("glTF\x02\x00\x00\x00BBBB")

	b3dm := rawTile(MagicB3DM, 0, []byte(`{"BATCH_LENGTH":0}`), nil, nil, nil, glbA)
	i3dmEmbedded := rawTile(MagicI3DM, GltfFormatEmbedded, nil, nil, nil, nil, glbB)
	i3dmExternal := rawTile(MagicI3DM, GltfFormatURI, nil, nil, nil, nil, []byte("x.glb"))
	pnts := rawTile(MagicPNTS, 0, nil, nil, nil, nil, nil)

	tests := []struct {
		name string
		buf  []byte
		want [][]byte
	}{
		{name: "b3dm", buf: b3dm, want: [][]byte{glbA}},
		{name: "i3dm_external_yields_nothing", buf: i3dmExternal, want: nil},
		{name: "pnts_yields_nothing", buf: pnts, want: nil},
		{name: "glb_yields_nothing", buf: glbA, want: nil},
		{
			name: "nested_composite_depth_first",
			buf:  mustComposite(t, b3dm, mustComposite(t, i3dmEmbedded, pnts), i3dmExternal),
			want: [][]byte{glbA, glbB},
		},
		{name: "empty_composite", buf: mustComposite(t), want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractGlbBuffers(tt.buf)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractGlbBuffersPropagatesInnerErrors(t *testing.T) {
	broken := rawTile(MagicB3DM, 0, nil, nil, nil, nil, fakeGlb)
	binary.LittleEndian.PutUint32(broken[12:], 1000)
	buf := mustComposite(t, broken)

	_, err := ExtractGlbBuffers(buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFormat))
}

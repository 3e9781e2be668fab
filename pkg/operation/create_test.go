package operation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walteh/tilepack/pkg/convert"
	"github.com/walteh/tilepack/pkg/glb"
	"github.com/walteh/tilepack/pkg/tilesetdata"
)

// unitGlb spans [0,1] on every axis
func unitGlb() []byte {
	return glb.Build([]byte(`{
		"accessors":[{"min":[0,0,0],"max":[1,1,1]}],
		"meshes":[{"primitives":[{"attributes":{"POSITION":0}}]}],
		"nodes":[{"mesh":0}],
		"scenes":[{"nodes":[0]}]
	}`), nil)
}

func TestCreateTilesetJSONFromDirectory(t *testing.T) {
	ctx := setupTestLogger(t)
	in := t.TempDir()

	b3dm, err := convert.GlbToB3dm(unitGlb())
	require.NoError(t, err)
	gzipped, err := convert.Gzip(unitGlb(), 0)
	require.NoError(t, err)
	writeFiles(t, in, map[string][]byte{
		"a.b3dm":       b3dm,
		"nested/b.glb": gzipped,
		"readme.txt":   []byte("not content"),
	})

	out := filepath.Join(t.TempDir(), "tileset.json")
	op := &CreateTilesetJSON{Input: in, Output: out}
	require.NoError(t, op.Execute(ctx))
	assert.Equal(t, "createTilesetJson", op.Name())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	ts := parseOutputTileset(t, data)
	assert.Equal(t, []string{"a.b3dm", "nested/b.glb"}, ts.ContentURIs(), "non-content files are skipped")
	assert.Equal(t, []float64{0.5, -0.5, 0.5, 0.5, 0, 0, 0, 0.5, 0, 0, 0, 0.5}, ts.Root.Children[0].BoundingVolume.Box)

	err = op.Execute(ctx)
	assert.ErrorIs(t, err, tilesetdata.ErrAlreadyExists, "existing output without force")
}

func TestCreateTilesetJSONFromFile(t *testing.T) {
	ctx := setupTestLogger(t)
	in := t.TempDir()
	writeFiles(t, in, map[string][]byte{
		"model.glb": unitGlb(),
		"notes.txt": []byte("x"),
	})
	out := filepath.Join(t.TempDir(), "out", "tileset.json")

	require.NoError(t, (&CreateTilesetJSON{Input: filepath.Join(in, "model.glb"), Output: out}).Execute(ctx))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"model.glb"}, parseOutputTileset(t, data).ContentURIs())

	err = (&CreateTilesetJSON{Input: filepath.Join(in, "notes.txt"), Output: out, Force: true}).Execute(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not tile content")

	err = (&CreateTilesetJSON{Input: filepath.Join(in, "missing.glb"), Output: out, Force: true}).Execute(ctx)
	assert.Error(t, err)
}

func TestCreateTilesetJSONWithoutContent(t *testing.T) {
	ctx := setupTestLogger(t)
	in := t.TempDir()
	writeFiles(t, in, map[string][]byte{"readme.txt": []byte("x")})

	err := (&CreateTilesetJSON{Input: in, Output: filepath.Join(t.TempDir(), "tileset.json")}).Execute(ctx)
	assert.Error(t, err)
}

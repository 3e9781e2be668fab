package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tilepack/pkg/contenttype"
	"github.com/walteh/tilepack/pkg/convert"
	"github.com/walteh/tilepack/pkg/external"
	"github.com/walteh/tilepack/pkg/glb"
	"github.com/walteh/tilepack/pkg/metrics"
	"github.com/walteh/tilepack/pkg/tileset"
	"github.com/walteh/tilepack/pkg/tilesetdata"
)

func setupTestLogger(t *testing.T) context.Context {
	logger := zerolog.New(zerolog.TestWriter{T: t}).With().Timestamp().Logger()
	return logger.WithContext(context.Background())
}

type mockOptimizer struct {
	mock.Mock
}

func (m *mockOptimizer) Optimize(ctx context.Context, data []byte) ([]byte, error) {
	args := m.Called(ctx, data)
	if b, ok := args.Get(0).([]byte); ok {
		return b, args.Error(1)
	}
	return nil, args.Error(1)
}

func testGlb() []byte {
	return glb.Build([]byte(`{"asset":{"version":"2.0"}}`), []byte{1, 2, 3, 4})
}

const rootTileset = `{
  "asset": {"version": "1.1"},
  "geometricError": 100,
  "root": {
    "boundingVolume": {"sphere": [0, 0, 0, 10]},
    "geometricError": 50,
    "content": {"uri": "a.b3dm"},
    "children": [
      {
        "boundingVolume": {"sphere": [0, 0, 0, 5]},
        "geometricError": 0,
        "content": {"uri": "sub/external.json"}
      }
    ]
  }
}`

const externalTileset = `{
  "asset": {"version": "1.1"},
  "geometricError": 50,
  "root": {
    "boundingVolume": {"sphere": [0, 0, 0, 5]},
    "geometricError": 0,
    "content": {"uri": "c.b3dm"}
  }
}`

// writeFixture creates a directory package with a descriptor, an external
// tileset, two b3dm tiles and one unreferenced glb
func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	b3dm, err := convert.GlbToB3dm(testGlb())
	require.NoError(t, err)

	files := map[string][]byte{
		"tileset.json":      []byte(rootTileset),
		"sub/external.json": []byte(externalTileset),
		"a.b3dm":            b3dm,
		"sub/c.b3dm":        b3dm,
		"loose.glb":         testGlb(),
	}
	for name, data := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, data, 0644))
	}
	return dir
}

func readOutput(t *testing.T, ctx context.Context, location string) map[string][]byte {
	t.Helper()
	src, _, err := tilesetdata.OpenSource(ctx, location, tilesetdata.Options{})
	require.NoError(t, err)
	defer src.Close()

	out := map[string][]byte{}
	keys, err := tilesetdata.CollectKeys(ctx, src)
	require.NoError(t, err)
	for _, k := range keys {
		v, ok, err := src.ValueContext(ctx, k)
		require.NoError(t, err)
		require.True(t, ok)
		out[k] = v
	}
	return out
}

func build(t *testing.T, ctx context.Context, def *Definition, env Env) *Pipeline {
	t.Helper()
	p, err := Build(ctx, def, env)
	require.NoError(t, err)
	return p
}

func TestExecuteRenamesReferences(t *testing.T) {
	ctx := setupTestLogger(t)
	in := writeFixture(t)
	out := filepath.Join(t.TempDir(), "out")

	p := build(t, ctx, &Definition{
		Input:  in,
		Output: out,
		TilesetStages: []TilesetStageDefinition{{
			Name:          "convert",
			ContentStages: []ContentStageDefinition{{Name: StageB3dmToGlb}},
		}},
	}, Env{})

	m := metrics.New()
	exec := NewExecutor(tilesetdata.Options{}, m)
	require.NoError(t, exec.Execute(ctx, p, false))
	assert.Equal(t, StateDone, exec.State())
	assert.NotEmpty(t, exec.RunID())

	entries := readOutput(t, ctx, out)
	assert.Contains(t, entries, "a.glb")
	assert.Contains(t, entries, "sub/c.glb")
	assert.NotContains(t, entries, "a.b3dm")
	assert.Equal(t, testGlb(), entries["a.glb"])
	assert.Equal(t, testGlb(), entries["loose.glb"])

	root, err := tileset.Parse(entries["tileset.json"])
	require.NoError(t, err)
	assert.Equal(t, []string{"a.glb", "sub/external.json"}, root.ContentURIs())

	ext, err := tileset.Parse(entries["sub/external.json"])
	require.NoError(t, err)
	assert.Equal(t, []string{"c.glb"}, ext.ContentURIs())
}

func TestExecuteRenameKeepsUndeclaredProperties(t *testing.T) {
	ctx := setupTestLogger(t)
	in := t.TempDir()
	b3dm, err := convert.GlbToB3dm(testGlb())
	require.NoError(t, err)

	doc := `{
	  "asset": {"version": "1.0", "gltfUpAxis": "Z"},
	  "geometricError": 10,
	  "vendorRoot": 1,
	  "root": {
	    "boundingVolume": {"sphere": [0, 0, 0, 1]},
	    "geometricError": 0,
	    "vendorTile": "kept",
	    "content": {"uri": "a.b3dm"}
	  }
	}`
	require.NoError(t, os.WriteFile(filepath.Join(in, "tileset.json"), []byte(doc), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(in, "a.b3dm"), b3dm, 0644))

	out := filepath.Join(t.TempDir(), "out")
	p := build(t, ctx, &Definition{
		Input:  in,
		Output: out,
		TilesetStages: []TilesetStageDefinition{{
			Name:          "convert",
			ContentStages: []ContentStageDefinition{{Name: StageB3dmToGlb}},
		}},
	}, Env{})
	require.NoError(t, NewExecutor(tilesetdata.Options{}, metrics.New()).Execute(ctx, p, false))

	got := string(readOutput(t, ctx, out)["tileset.json"])
	assert.Contains(t, got, `"a.glb"`)
	assert.Contains(t, got, `"gltfUpAxis": "Z"`)
	assert.Contains(t, got, `"vendorRoot": 1`)
	assert.Contains(t, got, `"vendorTile": "kept"`)
}

func TestExecuteMultipleStages(t *testing.T) {
	ctx := setupTestLogger(t)
	in := writeFixture(t)
	out := filepath.Join(t.TempDir(), "out.3tz")

	p := build(t, ctx, &Definition{
		Input:  in,
		Output: out,
		TilesetStages: []TilesetStageDefinition{
			{Name: StageGzip},
			{Name: "unzip", ContentStages: []ContentStageDefinition{{Name: StageUngzip}}},
		},
	}, Env{})

	observer := &recordingObserver{}
	exec := NewExecutor(tilesetdata.Options{}, nil)
	exec.Observer = observer
	require.NoError(t, exec.Execute(ctx, p, false))

	original := readOutput(t, ctx, in)
	assert.Equal(t, original, readOutput(t, ctx, out))
	assert.Equal(t, []string{"gzip 0/2 5", "unzip 1/2 5"}, observer.started)
}

type recordingObserver struct {
	started []string
}

func (r *recordingObserver) StageStarted(_ context.Context, name string, index, total, entries int) {
	r.started = append(r.started, fmt.Sprintf("%s %d/%d %d", name, index, total, entries))
}

func TestExecuteTypeFilter(t *testing.T) {
	ctx := setupTestLogger(t)
	in := writeFixture(t)
	out := filepath.Join(t.TempDir(), "out")

	p := build(t, ctx, &Definition{
		Input:  in,
		Output: out,
		TilesetStages: []TilesetStageDefinition{{
			Name:                 StageGzip,
			IncludedContentTypes: []string{"CONTENT_TYPE_B3DM"},
			ExcludedKeys:         []string{"sub/**"},
		}},
	}, Env{})

	require.NoError(t, NewExecutor(tilesetdata.Options{}, nil).Execute(ctx, p, false))

	entries := readOutput(t, ctx, out)
	assert.True(t, contenttype.IsGzipped(entries["a.b3dm"]))
	assert.Equal(t, contenttype.B3DM, contenttype.Detect(entries["sub/c.b3dm"]), "excluded by key")
	assert.Equal(t, contenttype.GLB, contenttype.Detect(entries["loose.glb"]), "excluded by type")
	assert.Equal(t, rootTileset, string(entries["tileset.json"]))
}

func TestExecuteFailureAbortsOutput(t *testing.T) {
	ctx := setupTestLogger(t)
	in := writeFixture(t)
	out := filepath.Join(t.TempDir(), "out.3tz")

	opt := &mockOptimizer{}
	opt.On("Optimize", mock.Anything, mock.Anything).Return(nil, errors.New("gltfpack crashed"))

	p := build(t, ctx, &Definition{
		Input:  in,
		Output: out,
		TilesetStages: []TilesetStageDefinition{{
			Name:          "optimize",
			ContentStages: []ContentStageDefinition{{Name: StageOptimizeGlb}},
		}},
	}, Env{NewOptimizer: func(external.GltfpackOptions) external.GlbOptimizer { return opt }})

	exec := NewExecutor(tilesetdata.Options{}, nil)
	err := exec.Execute(ctx, p, false)
	require.Error(t, err)
	assert.ErrorContains(t, err, "gltfpack crashed")
	assert.Equal(t, StateFailed, exec.State())

	details := errors.AllDetails(err)
	assert.Equal(t, "loose.glb", details["key"])
	assert.Equal(t, "optimize", details["stage"])
	assert.Equal(t, filepath.Join(in, "loose.glb"), details["location"])

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "aborted archive is not created")
}

func TestExecuteOverwriteGuard(t *testing.T) {
	ctx := setupTestLogger(t)
	in := writeFixture(t)
	out := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(out, "existing"), []byte("x"), 0644))

	p := build(t, ctx, &Definition{Input: in, Output: out}, Env{})

	exec := NewExecutor(tilesetdata.Options{}, nil)
	err := exec.Execute(ctx, p, false)
	assert.ErrorIs(t, err, tilesetdata.ErrAlreadyExists)
	assert.Equal(t, StateFailed, exec.State())

	require.NoError(t, exec.Execute(ctx, p, true))
	assert.Equal(t, StateDone, exec.State())
}

func TestExecuteMissingInput(t *testing.T) {
	ctx := setupTestLogger(t)
	p := build(t, ctx, &Definition{Input: filepath.Join(t.TempDir(), "nope.3tz"), Output: t.TempDir()}, Env{})

	exec := NewExecutor(tilesetdata.Options{}, nil)
	assert.Error(t, exec.Execute(ctx, p, true))
	assert.Equal(t, StateFailed, exec.State())
}

func TestExecuteDiscoversNetworkKeys(t *testing.T) {
	ctx := setupTestLogger(t)
	in := writeFixture(t)
	srv := httptest.NewServer(http.FileServer(http.Dir(in)))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "out")
	p := build(t, ctx, &Definition{Input: srv.URL + "/tileset.json", Output: out}, Env{})

	exec := NewExecutor(tilesetdata.Options{HTTPClient: srv.Client()}, nil)
	require.NoError(t, exec.Execute(ctx, p, false))

	entries := readOutput(t, ctx, out)
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{"tileset.json", "a.b3dm", "sub/external.json", "sub/c.b3dm"}, keys)
}

func TestBuildErrors(t *testing.T) {
	ctx := setupTestLogger(t)
	base := func(stages ...TilesetStageDefinition) *Definition {
		return &Definition{Input: "in", Output: "out", TilesetStages: stages}
	}

	tests := []struct {
		name string
		def  *Definition
		want error
	}{
		{name: "missing_input", def: &Definition{Output: "out"}, want: ErrInvalidDefinition},
		{name: "missing_output", def: &Definition{Input: "in"}, want: ErrInvalidDefinition},
		{name: "unknown_bare_stage", def: base(TilesetStageDefinition{Name: "compress"}), want: ErrUnknownStage},
		{
			name: "unknown_content_stage",
			def:  base(TilesetStageDefinition{Name: "x", ContentStages: []ContentStageDefinition{{Name: "draco"}}}),
			want: ErrUnknownStage,
		},
		{
			name: "unknown_option",
			def:  base(TilesetStageDefinition{Name: StageGzip, Options: []byte(`{"level": 5, "fast": true}`)}),
			want: ErrInvalidOptions,
		},
		{
			name: "bad_gzip_level",
			def:  base(TilesetStageDefinition{Name: StageGzip, Options: []byte(`{"level": 42}`)}),
			want: ErrInvalidOptions,
		},
		{
			name: "bad_subtree_tiling",
			def: base(TilesetStageDefinition{Name: "v", ContentStages: []ContentStageDefinition{{
				Name:    StageValidateSubtrees,
				Options: []byte(`{"subdivisionScheme": "BINARY", "subtreeLevels": 2, "availableLevels": 4}`),
			}}}),
			want: ErrInvalidOptions,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(ctx, tt.def, Env{})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := Build(ctx, base(TilesetStageDefinition{Name: StageGzip, IncludedContentTypes: []string{"VCTR"}}), Env{})
	assert.Error(t, err)

	_, err = Build(ctx, base(TilesetStageDefinition{Name: StageGzip, IncludedKeys: []string{"[a-"}}), Env{})
	assert.Error(t, err)
}

func TestKeyFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter KeyFilter
		key    string
		want   bool
	}{
		{name: "empty_admits_all", filter: KeyFilter{}, key: "a/b.b3dm", want: true},
		{name: "include_match", filter: KeyFilter{Included: []string{"**/*.b3dm"}}, key: "a/b.b3dm", want: true},
		{name: "include_miss", filter: KeyFilter{Included: []string{"**/*.b3dm"}}, key: "a/b.glb", want: false},
		{name: "exclude_wins", filter: KeyFilter{Included: []string{"**"}, Excluded: []string{"a/**"}}, key: "a/b.b3dm", want: false},
		{name: "top_level", filter: KeyFilter{Included: []string{"*.json"}}, key: "tileset.json", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(tt.key))
		})
	}
}

func TestStageNames(t *testing.T) {
	names := StageNames()
	for _, n := range []string{StageIdentity, StageGzip, StageUngzip, StageB3dmToGlb, StageI3dmToGlb, StageGlbToB3dm,
		StageGlbToI3dm, StageOptimizeGlb, StageOptimizeB3dm, StageOptimizeI3dm, StageUpgradeGlb, StageValidateSubtrees} {
		assert.Contains(t, names, n)
	}
	assert.True(t, IsRegistered(StageGzip))
	assert.False(t, IsRegistered("draco"))
	assert.Panics(t, func() {
		Register(StageGzip, nil, func(env Env, _ NoOptions) (Transform, error) { return nil, nil })
	})
}

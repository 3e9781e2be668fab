package external

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walteh/tilepack/pkg/glb"
	"github.com/walteh/tilepack/pkg/resource"
)

func setupTestLogger(t *testing.T) context.Context {
	logger := zerolog.New(zerolog.TestWriter{T: t}).With().Timestamp().Logger()
	return logger.WithContext(context.Background())
}

// copyTool copies the -i file to the -o file after appending a marker, and
// records its arguments in $FAKE_TOOL_ARGS
const copyTool = `#!/bin/sh
echo "$@" > "$FAKE_TOOL_ARGS"
for want in $FAKE_TOOL_REQUIRES; do
  test -f "$want" || { echo "missing $want" >&2; exit 4; }
done
while [ $# -gt 0 ]; do
  case "$1" in
    -i) in="$2"; shift ;;
    -o) out="$2"; shift ;;
  esac
  shift
done
cp "$in" "$out"
printf 'X' >> "$out"
`

const failingTool = `#!/bin/sh
echo "cannot read input" >&2
exit 3
`

func writeTool(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	p := filepath.Join(t.TempDir(), "tool")
	require.NoError(t, os.WriteFile(p, []byte(script), 0755))
	argsFile := filepath.Join(t.TempDir(), "args")
	t.Setenv("FAKE_TOOL_ARGS", argsFile)
	return p
}

func recordedArgs(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(os.Getenv("FAKE_TOOL_ARGS"))
	require.NoError(t, err)
	return strings.Fields(string(data))
}

func TestGltfpackOptionsArgs(t *testing.T) {
	tests := []struct {
		name string
		opts GltfpackOptions
		want []string
	}{
		{name: "none", opts: GltfpackOptions{}, want: nil},
		{name: "compress", opts: GltfpackOptions{Compress: true, CompressMore: true}, want: []string{"-c", "-cc"}},
		{
			name: "simplify_and_bits",
			opts: GltfpackOptions{Simplify: 0.5, SimplifyAggressive: true, PositionBits: 14, NormalBits: 8},
			want: []string{"-si", "0.5", "-sa", "-vp", "14", "-vn", "8"},
		},
		{
			name: "keep_and_textures",
			opts: GltfpackOptions{KeepNodes: true, KeepMaterials: true, KeepExtras: true, NoQuantization: true, TextureCompress: true, TexcoordBits: 12},
			want: []string{"-kn", "-km", "-ke", "-noq", "-tc", "-vt", "12"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.opts.Args())
		})
	}
}

func TestGltfpackOptimize(t *testing.T) {
	ctx := setupTestLogger(t)
	tool := writeTool(t, copyTool)

	g := NewGltfpack(tool, GltfpackOptions{Compress: true, Simplify: 0.25})
	out, err := g.Optimize(ctx, []byte("glb"))
	require.NoError(t, err)
	assert.Equal(t, []byte("glbX"), out)

	args := recordedArgs(t)
	require.Len(t, args, 7)
	assert.Equal(t, "-i", args[0])
	assert.Equal(t, "-o", args[2])
	assert.Equal(t, []string{"-c", "-si", "0.25"}, args[4:])
	_, err = os.Stat(filepath.Dir(args[1]))
	assert.True(t, os.IsNotExist(err), "temp directory is removed")
}

func TestToolErrors(t *testing.T) {
	ctx := setupTestLogger(t)

	_, err := NewGltfpack(filepath.Join(t.TempDir(), "does-not-exist"), GltfpackOptions{}).Optimize(ctx, []byte("glb"))
	assert.ErrorIs(t, err, ErrToolNotFound)

	tool := writeTool(t, failingTool)
	_, err = NewGltfpack(tool, GltfpackOptions{}).Optimize(ctx, []byte("glb"))
	assert.ErrorIs(t, err, ErrToolFailed)
	assert.Contains(t, err.Error(), "cannot read input")

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NewGltfPipeline(writeTool(t, copyTool)).Upgrade(canceled, []byte("glb"), UpgradeOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

type mapResolver map[string][]byte

func (m mapResolver) Resolve(ctx context.Context, uri string) ([]byte, bool, error) {
	data, ok := m[uri]
	return data, ok, nil
}

func (m mapResolver) Derive(uri string) resource.Resolver { return m }

func TestGltfPipelineUpgrade(t *testing.T) {
	ctx := setupTestLogger(t)
	tool := writeTool(t, copyTool)
	t.Setenv("FAKE_TOOL_REQUIRES", "mesh.bin textures/a.png")

	in := glb.Build([]byte(`{"buffers":[{"uri":"mesh.bin"}],"images":[{"uri":"textures/a.png"},{"uri":"../outside.png"}]}`), nil)
	out, err := NewGltfPipeline(tool).Upgrade(ctx, in, UpgradeOptions{
		KeepLegacyExtensions: true,
		Stats:                true,
		Resources: mapResolver{
			"mesh.bin":       []byte{1, 2, 3},
			"textures/a.png": []byte("png"),
		},
	})
	require.NoError(t, err, "resources are staged next to the input")
	assert.Equal(t, append(append([]byte{}, in...), 'X'), out)

	args := recordedArgs(t)
	assert.Equal(t, []string{"--keepLegacyExtensions", "--stats"}, args[4:])

	_, err = NewGltfPipeline(tool).Upgrade(ctx, in, UpgradeOptions{})
	assert.ErrorIs(t, err, ErrToolFailed, "without a resolver the resources are missing")
}

func TestPassthrough(t *testing.T) {
	ctx := setupTestLogger(t)

	v2 := glb.Build([]byte(`{"asset":{"version":"2.0"}}`), nil)
	out, err := Passthrough{}.Upgrade(ctx, v2, UpgradeOptions{})
	require.NoError(t, err)
	assert.Equal(t, v2, out)

	v1 := append([]byte{}, v2...)
	v1[4] = 1
	_, err = Passthrough{}.Upgrade(ctx, v1, UpgradeOptions{})
	assert.ErrorIs(t, err, ErrUpgradeUnavailable)

	_, err = Passthrough{}.Upgrade(ctx, []byte("b3dm"), UpgradeOptions{})
	assert.ErrorIs(t, err, glb.ErrInvalidGlb)

	var _ GlbUpgrader = Passthrough{}
	var _ GlbUpgrader = &GltfPipeline{}
	var _ GlbOptimizer = &Gltfpack{}
}

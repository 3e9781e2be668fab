package operation

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/walteh/tilepack/pkg/convert"
	"github.com/walteh/tilepack/pkg/external"
	"github.com/walteh/tilepack/pkg/glb"
	"github.com/walteh/tilepack/pkg/tileformat"
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

// versionUpgrader turns any glTF 1.0 GLB into upgradedGlb
type versionUpgrader struct {
	calls int
}

func (u *versionUpgrader) Upgrade(_ context.Context, data []byte, _ external.UpgradeOptions) ([]byte, error) {
	u.calls++
	v, err := glb.Version(data)
	if err != nil {
		return nil, err
	}
	if v == 1 {
		return upgradedGlb(), nil
	}
	return data, nil
}

func testGlb() []byte {
	return glb.Build([]byte(`{"asset":{"version":"2.0"}}`), []byte{1, 2, 3, 4})
}

func upgradedGlb() []byte {
	return glb.Build([]byte(`{"asset":{"version":"2.0"},"extras":{"upgraded":true}}`), nil)
}

// legacyGlb is a glTF 1.0 binary with an empty scene
func legacyGlb() []byte {
	content := []byte(`{"scene":"s","scenes":{"s":{"nodes":[]}}}   `)
	buf := make([]byte, 20, 20+len(content))
	copy(buf, glb.Magic)
	le := binary.LittleEndian
	le.PutUint32(buf[4:], 1)
	le.PutUint32(buf[8:], uint32(20+len(content)))
	le.PutUint32(buf[12:], uint32(len(content)))
	return append(buf, content...)
}

func testB3dm(t *testing.T) []byte {
	t.Helper()
	b, err := convert.GlbToB3dm(testGlb())
	require.NoError(t, err)
	return b
}

func externalI3dm(t *testing.T, uri string) []byte {
	t.Helper()
	td := tileformat.CreateDefaultI3dmTileDataFromGlb([]byte(uri))
	td.Header.GltfFormat = tileformat.GltfFormatURI
	buf, err := tileformat.CreateTileDataBuffer(td)
	require.NoError(t, err)
	return buf
}

func writeFiles(t *testing.T, dir string, files map[string][]byte) {
	t.Helper()
	for name, data := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, data, 0644))
	}
}

func readPackage(t *testing.T, ctx context.Context, location string) map[string][]byte {
	t.Helper()
	src, _, err := tilesetdata.OpenSource(ctx, location, tilesetdata.Options{})
	require.NoError(t, err)
	defer src.Close()

	keys, err := tilesetdata.CollectKeys(ctx, src)
	require.NoError(t, err)
	out := map[string][]byte{}
	for _, k := range keys {
		v, ok, err := src.ValueContext(ctx, k)
		require.NoError(t, err)
		require.True(t, ok)
		out[k] = v
	}
	return out
}

func TestEnsureCanWrite(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "existing.glb")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0644))

	tests := []struct {
		name    string
		path    string
		force   bool
		wantErr error
	}{
		{name: "missing", path: filepath.Join(dir, "missing.glb")},
		{name: "existing", path: existing, wantErr: tilesetdata.ErrAlreadyExists},
		{name: "existing_forced", path: existing, force: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ensureCanWrite(tt.path, tt.force)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestEnvUpgraderDefaultsToPassthrough(t *testing.T) {
	assert.IsType(t, external.Passthrough{}, Env{}.upgrader())

	u := &versionUpgrader{}
	assert.Same(t, u, Env{Upgrader: u}.upgrader())
}

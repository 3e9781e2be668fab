package status

import (
	"bytes"
	"context"
	"testing"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"
)

func setupTestLogger(t *testing.T) (context.Context, *zerolog.Logger) {
	logger := zerolog.New(zerolog.TestWriter{T: t}).With().Timestamp().Logger().Level(zerolog.DebugLevel)
	return logger.WithContext(context.Background()), &logger
}

func TestDigest(t *testing.T) {
	// BLAKE3 of the empty input
	assert.Equal(t, "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262", Digest(nil))
	assert.Len(t, Digest([]byte("b3dm")), 64)
	assert.NotEqual(t, Digest([]byte("a")), Digest([]byte("b")))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		sourceKey string
		key       string
		in, out   []byte
		want      EntryStatus
	}{
		{name: "generated", key: "tileset.json", out: []byte("{}"), want: StatusNew},
		{name: "copied", sourceKey: "a.b3dm", key: "a.b3dm", in: []byte("x"), out: []byte("x"), want: StatusCopied},
		{name: "transformed", sourceKey: "a.b3dm", key: "a.b3dm", in: []byte("x"), out: []byte("y"), want: StatusTransformed},
		{name: "renamed", sourceKey: "a.b3dm", key: "a.glb", in: []byte("x"), out: []byte("y"), want: StatusRenamed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.sourceKey, tt.key, tt.in, tt.out))
		})
	}
}

func TestTracker(t *testing.T) {
	ctx, logger := setupTestLogger(t)
	tr := New(logger)

	tr.StartOperation(ctx, 3)
	tr.Record(ctx, "a.b3dm", "a.glb", "GLB", []byte("b3dm"), []byte("glb!"))
	tr.Record(ctx, "tileset.json", "tileset.json", "GLTF", []byte("{}"), []byte("{}"))
	tr.RecordFailure(ctx, "broken.i3dm", errors.New("bad header"))
	tr.FinishOperation(ctx)

	info, err := tr.GetEntryInfo(ctx, "a.glb")
	require.NoError(t, err)
	assert.Equal(t, StatusRenamed, info.Status)
	assert.Equal(t, "a.b3dm", info.SourceKey)
	assert.Equal(t, int64(4), info.Size)
	assert.Equal(t, Digest([]byte("glb!")), info.Digest)

	_, err = tr.GetEntryInfo(ctx, "missing")
	assert.Error(t, err)

	entries, err := tr.ListEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"a.glb", "broken.i3dm", "tileset.json"}, []string{entries[0].Key, entries[1].Key, entries[2].Key})
	assert.Equal(t, StatusFailed, entries[1].Status)

	s := tr.Summary()
	assert.Equal(t, 1, s.Counts[StatusRenamed])
	assert.Equal(t, 1, s.Counts[StatusCopied])
	assert.Equal(t, 1, s.Counts[StatusFailed])
	assert.Equal(t, int64(6), s.Bytes)
	assert.Equal(t, 3, tr.processed)
}

func TestWriteReport(t *testing.T) {
	color.NoColor = true
	ctx, logger := setupTestLogger(t)
	tr := New(logger)
	tr.Record(ctx, "a.b3dm", "a.glb", "GLB", nil, []byte("glb!"))
	tr.Record(ctx, "", "tileset.json", "GLTF", nil, []byte("{}"))

	var buf bytes.Buffer
	require.NoError(t, tr.WriteReport(ctx, &buf))
	out := buf.String()
	assert.Contains(t, out, "a.b3dm → a.glb")
	assert.Contains(t, out, Digest([]byte("glb!"))[:digestWidth])
	assert.Contains(t, out, "✓ tileset.json")
	assert.Contains(t, out, "1 new, 1 renamed (6 bytes)")
}

func TestNilTracker(t *testing.T) {
	ctx := context.Background()
	var tr *Tracker
	assert.NotPanics(t, func() {
		tr.StartOperation(ctx, 1)
		tr.Record(ctx, "a", "a", "GLB", nil, nil)
		tr.RecordFailure(ctx, "b", errors.New("x"))
		tr.FinishOperation(ctx)
	})
	entries, err := tr.ListEntries(ctx)
	assert.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, tr.Summary().Counts)

	assert.NotNil(t, New(nil).logger)
}

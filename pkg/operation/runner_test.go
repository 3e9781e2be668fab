package operation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tilepack/pkg/metrics"
)

type funcOperation struct {
	name string
	fn   func(ctx context.Context) error
}

func (f *funcOperation) Name() string                      { return f.name }
func (f *funcOperation) Execute(ctx context.Context) error { return f.fn(ctx) }

func TestRunner(t *testing.T) {
	errBoom := errors.Base("boom")

	tests := []struct {
		name    string
		async   bool
		fn      func(ctx context.Context) error
		wantErr error
	}{
		{name: "sync_success", fn: func(context.Context) error { return nil }},
		{name: "sync_failure", fn: func(context.Context) error { return errBoom }, wantErr: errBoom},
		{name: "async_success", async: true, fn: func(context.Context) error { return nil }},
		{name: "async_failure", async: true, fn: func(context.Context) error { return errBoom }, wantErr: errBoom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := setupTestLogger(t)
			runner := NewRunner(zerolog.Ctx(ctx), tt.async, nil)
			err := runner.Run(ctx, &funcOperation{name: tt.name, fn: tt.fn})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRunnerAsyncCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(setupTestLogger(t))
	release := make(chan struct{})
	defer close(release)

	started := make(chan struct{})
	op := &funcOperation{name: "blocked", fn: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}

	go func() {
		<-started
		cancel()
	}()

	runner := NewRunner(nil, true, nil)
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx, op) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not return after cancellation")
	}
}

func TestRunnerObservesRuns(t *testing.T) {
	ctx := setupTestLogger(t)
	m := metrics.New()
	runner := NewRunner(zerolog.Ctx(ctx), false, m)

	require.NoError(t, runner.Run(ctx, &funcOperation{name: "convert", fn: func(context.Context) error { return nil }}))
	assert.Error(t, runner.Run(ctx, &funcOperation{name: "convert", fn: func(context.Context) error { return errors.New("failed") }}))

	path := filepath.Join(t.TempDir(), "runs.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `tilepack_runs_total{kind="convert",result="success"} 1`)
	assert.Contains(t, string(data), `tilepack_runs_total{kind="convert",result="failure"} 1`)
}

func TestRunnerRunsPackageOperation(t *testing.T) {
	ctx := setupTestLogger(t)
	input := packageFixture(t)
	output := filepath.Join(t.TempDir(), "out.3tz")

	runner := NewRunner(zerolog.Ctx(ctx), true, nil)
	require.NoError(t, runner.Run(ctx, &Convert{Input: input, Output: output}))
	assert.FileExists(t, output)
}

// Package external runs the command line tools that optimise and upgrade
// glTF binaries. Each call writes its input to a private temp directory, runs
// the tool and reads the output back.
package external

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

var (
	// ErrToolNotFound is returned when the executable cannot be located
	ErrToolNotFound = errors.Base("external tool not found")
	// ErrToolFailed is returned when the tool exits unsuccessfully
	ErrToolFailed = errors.Base("external tool failed")
)

// 🛠️ GlbOptimizer rewrites a GLB, for example to compress its meshes
type GlbOptimizer interface {
	Optimize(ctx context.Context, glb []byte) ([]byte, error)
}

// ⬆️ GlbUpgrader converts a GLB to glTF 2.0
type GlbUpgrader interface {
	Upgrade(ctx context.Context, glb []byte, opts UpgradeOptions) ([]byte, error)
}

// invocation is one tool run over a temp directory holding in.glb
type invocation struct {
	tool   string
	dir    string
	input  string
	output string
}

func newInvocation(tool string, glb []byte) (*invocation, error) {
	dir, err := os.MkdirTemp("", "tilepack-"+filepath.Base(tool)+"-*")
	if err != nil {
		return nil, errors.Errorf("creating temp dir: %w", err)
	}
	inv := &invocation{
		tool:   tool,
		dir:    dir,
		input:  filepath.Join(dir, "in.glb"),
		output: filepath.Join(dir, "out.glb"),
	}
	if err := os.WriteFile(inv.input, glb, 0644); err != nil {
		inv.cleanup()
		return nil, errors.Errorf("writing tool input: %w", err)
	}
	return inv, nil
}

func (inv *invocation) cleanup() {
	os.RemoveAll(inv.dir)
}

func (inv *invocation) run(ctx context.Context, args []string) ([]byte, error) {
	logger := zerolog.Ctx(ctx)

	path, err := exec.LookPath(inv.tool)
	if err != nil {
		return nil, errors.Errorf("%w: %s: %v", ErrToolNotFound, inv.tool, err)
	}

	logger.Debug().Str("tool", path).Strs("args", args).Msg("running external tool")
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = inv.dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err = cmd.Run()
	if stdout.Len() > 0 {
		logger.Trace().Str("tool", inv.tool).Str("stdout", stdout.String()).Msg("tool output")
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.Errorf("%w: %s: %v: %s", ErrToolFailed, inv.tool, err, strings.TrimSpace(stderr.String()))
	}

	out, err := os.ReadFile(inv.output)
	if err != nil {
		return nil, errors.Errorf("%w: %s produced no output: %v", ErrToolFailed, inv.tool, err)
	}
	return out, nil
}

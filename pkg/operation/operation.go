// Copyright 2025 walteh LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package operation

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tilepack/pkg/contenttype"
	"github.com/walteh/tilepack/pkg/external"
	"github.com/walteh/tilepack/pkg/pipeline"
	"github.com/walteh/tilepack/pkg/status"
	"github.com/walteh/tilepack/pkg/tilesetdata"
)

var (
	// ErrNoContent is returned when a composite tile holds no GLB
	ErrNoContent = errors.Base("no content")
	// ErrExternalGlbStored ends the upgrade of an i3dm that refers to an
	// external GLB: the upgraded GLB was written at its own key and the i3dm
	// itself is left unchanged
	ErrExternalGlbStored = errors.Base("external glb stored")
)

// 🎯 Operation is one executable command
type Operation interface {
	Name() string
	Execute(ctx context.Context) error
}

// 🔌 Env carries the collaborators operations are built with
type Env struct {
	// Packages configures the backends of inputs and outputs
	Packages tilesetdata.Options
	// Optimizer runs for the optimize operations
	Optimizer external.GlbOptimizer
	// Upgrader converts GLBs to glTF 2.0; Passthrough when nil
	Upgrader external.GlbUpgrader
	// Tracker records written entries and may be nil
	Tracker *status.Tracker
}

func (e Env) upgrader() external.GlbUpgrader {
	if e.Upgrader == nil {
		return external.Passthrough{}
	}
	return e.Upgrader
}

// 🛡️ ensureCanWrite fails when path exists and force is not set
func ensureCanWrite(path string, force bool) error {
	if force {
		return nil
	}
	_, err := os.Stat(path)
	if err == nil {
		return errors.WithDetails(errors.Errorf("%w: %s", tilesetdata.ErrAlreadyExists, path), "path", path)
	}
	if !os.IsNotExist(err) {
		return errors.Errorf("checking %s: %w", path, err)
	}
	return nil
}

func writeFile(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Errorf("creating parent directories: %w", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return errors.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// packageIO is an input package being read into an output package. finish
// closes the output when the operation succeeded and aborts it otherwise.
type packageIO struct {
	env    Env
	src    tilesetdata.Source
	srcLoc tilesetdata.Location
	dst    tilesetdata.Target
	dstLoc tilesetdata.Location
}

func openPackages(ctx context.Context, env Env, input, output string, force bool) (*packageIO, error) {
	src, srcLoc, err := tilesetdata.OpenSource(ctx, input, env.Packages)
	if err != nil {
		return nil, errors.Errorf("opening input: %w", err)
	}
	dst, dstLoc, err := tilesetdata.OpenTarget(ctx, output, force, env.Packages)
	if err != nil {
		closeSource(ctx, src)
		return nil, errors.Errorf("opening output: %w", err)
	}
	return &packageIO{env: env, src: src, srcLoc: srcLoc, dst: dst, dstLoc: dstLoc}, nil
}

// keys lists the input, following references from the descriptor when the
// backend cannot enumerate
func (p *packageIO) keys(ctx context.Context) ([]string, error) {
	return sourceKeys(ctx, p.src, p.srcLoc.DescriptorKey)
}

func sourceKeys(ctx context.Context, src tilesetdata.Source, descriptorKey string) ([]string, error) {
	keys, err := tilesetdata.CollectKeys(ctx, src)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return pipeline.DiscoverKeys(ctx, src, descriptorKey)
	}
	return keys, nil
}

// read returns the value of a key that must exist
func (p *packageIO) read(ctx context.Context, key string) ([]byte, error) {
	return readRequired(ctx, p.src, key)
}

func readRequired(ctx context.Context, src tilesetdata.Source, key string) ([]byte, error) {
	value, ok, err := src.ValueContext(ctx, key)
	if err != nil {
		return nil, errors.Errorf("reading %s: %w", key, err)
	}
	if !ok {
		return nil, errors.WithDetails(errors.Errorf("entry %s not found", key), "key", key)
	}
	return value, nil
}

// write adds an entry to the output and tracks it against its input
func (p *packageIO) write(ctx context.Context, sourceKey, key string, in, out []byte) error {
	if err := p.dst.AddEntry(ctx, key, out); err != nil {
		p.env.Tracker.RecordFailure(ctx, key, err)
		return errors.WithDetails(errors.Errorf("writing %s: %w", key, err), "key", key)
	}
	p.env.Tracker.Record(ctx, sourceKey, key, contenttype.Detect(out).String(), in, out)
	return nil
}

func (p *packageIO) finish(ctx context.Context, err error) error {
	defer closeSource(ctx, p.src)
	if err != nil {
		if abortErr := p.dst.Abort(ctx); abortErr != nil {
			zerolog.Ctx(ctx).Warn().Err(abortErr).Msg("aborting output")
		}
		return err
	}
	if err := p.dst.Close(ctx); err != nil {
		return errors.Errorf("closing output: %w", err)
	}
	return nil
}

func closeSource(ctx context.Context, src tilesetdata.Source) {
	if err := src.Close(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("closing input")
	}
}

func readInputFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithDetails(errors.Errorf("reading %s: %w", path, err), "input", path)
	}
	return data, nil
}

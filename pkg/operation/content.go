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
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tilepack/pkg/convert"
	"github.com/walteh/tilepack/pkg/external"
	"github.com/walteh/tilepack/pkg/resource"
	"github.com/walteh/tilepack/pkg/tileformat"
	"github.com/walteh/tilepack/pkg/tilesetdata"
)

// ConvertFunc turns the bytes of one tile content file into another
type ConvertFunc func(ctx context.Context, input string, data []byte) ([]byte, error)

// 🔁 ContentConversion converts a single file into a single file
type ContentConversion struct {
	name    string
	Input   string
	Output  string
	Force   bool
	convert ConvertFunc
}

func (c *ContentConversion) Name() string { return c.name }

func (c *ContentConversion) Execute(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Str("input", c.Input).Str("output", c.Output).Bool("force", c.Force).Msg("executing " + c.name)

	if err := ensureCanWrite(c.Output, c.Force); err != nil {
		return err
	}
	data, err := readInputFile(c.Input)
	if err != nil {
		return err
	}
	out, err := c.convert(ctx, c.Input, data)
	if err != nil {
		return errors.WithDetails(errors.Errorf("%s %s: %w", c.name, c.Input, err), "input", c.Input)
	}
	if err := writeFile(c.Output, out); err != nil {
		return err
	}
	logger.Debug().Str("output", c.Output).Int("bytes", len(out)).Msg("executing " + c.name + " done")
	return nil
}

func newConversion(name, input, output string, force bool, fn ConvertFunc) *ContentConversion {
	return &ContentConversion{name: name, Input: input, Output: output, Force: force, convert: fn}
}

// NewB3dmToGlb extracts the GLB payload of a b3dm
func NewB3dmToGlb(input, output string, force bool) *ContentConversion {
	return newConversion("b3dmToGlb", input, output, force, func(_ context.Context, _ string, data []byte) ([]byte, error) {
		return convert.B3dmToGlb(data)
	})
}

// NewI3dmToGlb extracts the GLB of an i3dm. An external GLB is read from
// next to the input file.
func NewI3dmToGlb(input, output string, force bool) *ContentConversion {
	return newConversion("i3dmToGlb", input, output, force, func(ctx context.Context, input string, data []byte) ([]byte, error) {
		out, err := convert.I3dmToGlb(data)
		if !errors.Is(err, convert.ErrNoEmbeddedGlb) {
			return out, err
		}
		td, err := tileformat.ReadTileDataAs(data, tileformat.MagicI3DM)
		if err != nil {
			return nil, err
		}
		uri, _ := td.ExternalGlbURI()
		return resolveBesideFile(ctx, input, uri)
	})
}

// NewGlbToB3dm wraps a GLB in a b3dm with default tables
func NewGlbToB3dm(input, output string, force bool) *ContentConversion {
	return newConversion("glbToB3dm", input, output, force, func(_ context.Context, _ string, data []byte) ([]byte, error) {
		return convert.GlbToB3dm(data)
	})
}

// NewGlbToI3dm wraps a GLB in an i3dm with a single instance
func NewGlbToI3dm(input, output string, force bool) *ContentConversion {
	return newConversion("glbToI3dm", input, output, force, func(_ context.Context, _ string, data []byte) ([]byte, error) {
		return convert.GlbToI3dm(data)
	})
}

// NewOptimizeB3dm runs the optimizer on the GLB of a b3dm
func NewOptimizeB3dm(input, output string, force bool, optimizer external.GlbOptimizer) *ContentConversion {
	return newConversion("optimizeB3dm", input, output, force, func(ctx context.Context, _ string, data []byte) ([]byte, error) {
		return convert.OptimizeB3dm(ctx, data, optimizer)
	})
}

// NewOptimizeI3dm runs the optimizer on the embedded GLB of an i3dm
func NewOptimizeI3dm(input, output string, force bool, optimizer external.GlbOptimizer) *ContentConversion {
	return newConversion("optimizeI3dm", input, output, force, func(ctx context.Context, _ string, data []byte) ([]byte, error) {
		return convert.OptimizeI3dm(ctx, data, optimizer)
	})
}

// resolveBesideFile reads uri relative to the directory of file
func resolveBesideFile(ctx context.Context, file, uri string) ([]byte, error) {
	src := tilesetdata.NewDirectorySource()
	if err := src.Open(ctx, filepath.Dir(file)); err != nil {
		return nil, err
	}
	defer closeSource(ctx, src)

	data, ok, err := resource.NewSourceResolver(src, filepath.Base(file)).Resolve(ctx, uri)
	if err != nil {
		return nil, errors.Errorf("resolving %s: %w", uri, err)
	}
	if !ok {
		return nil, errors.WithDetails(errors.Errorf("external glb %s not found", uri), "uri", uri)
	}
	return data, nil
}

// 📦 CmptToGlb writes every GLB of a composite tile, upgraded to glTF 2.0.
// Several GLBs are written as <output>_<i>.glb.
type CmptToGlb struct {
	Input  string
	Output string
	Force  bool
	Env    Env
}

func (c *CmptToGlb) Name() string { return "cmptToGlb" }

func (c *CmptToGlb) Execute(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)

	data, err := readInputFile(c.Input)
	if err != nil {
		return err
	}
	glbs, err := tileformat.ExtractGlbBuffers(data)
	if err != nil {
		return errors.Errorf("extracting glbs of %s: %w", c.Input, err)
	}
	if len(glbs) == 0 {
		return errors.WithDetails(errors.Errorf("%w: no glbs found in %s", ErrNoContent, c.Input), "input", c.Input)
	}

	paths := []string{c.Output}
	if len(glbs) > 1 {
		prefix := strings.TrimSuffix(c.Output, filepath.Ext(c.Output))
		paths = make([]string, len(glbs))
		for i := range glbs {
			paths[i] = fmt.Sprintf("%s_%d.glb", prefix, i)
		}
	}
	for _, p := range paths {
		if err := ensureCanWrite(p, c.Force); err != nil {
			return err
		}
	}

	upgrader := c.Env.upgrader()
	for i, g := range glbs {
		out, err := upgrader.Upgrade(ctx, g, external.UpgradeOptions{})
		if err != nil {
			return errors.WithDetails(errors.Errorf("upgrading glb %d: %w", i, err), "input", c.Input, "index", i)
		}
		if err := writeFile(paths[i], out); err != nil {
			return err
		}
		logger.Debug().Str("output", paths[i]).Int("index", i).Msg("wrote glb")
	}
	return nil
}

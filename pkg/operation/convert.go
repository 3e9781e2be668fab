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
	"path"

	"github.com/rs/zerolog"

	"github.com/walteh/tilepack/pkg/tilesetdata"
)

// 🔄 Convert copies every entry of a package into a package of another
// backend. A descriptor with another name is stored as tileset.json when it
// sits at the top of the package.
type Convert struct {
	Input  string
	Output string
	Force  bool
	// InputDescriptor overrides the descriptor key of the input
	InputDescriptor string
	Env             Env
}

func (c *Convert) Name() string { return "convert" }

func (c *Convert) Execute(ctx context.Context) (err error) {
	logger := zerolog.Ctx(ctx)

	p, err := openPackages(ctx, c.Env, c.Input, c.Output, c.Force)
	if err != nil {
		return err
	}
	defer func() { err = p.finish(ctx, err) }()

	descriptorKey := p.srcLoc.DescriptorKey
	if c.InputDescriptor != "" {
		descriptorKey = c.InputDescriptor
	}
	keys, err := sourceKeys(ctx, p.src, descriptorKey)
	if err != nil {
		return err
	}

	renamed := ""
	if descriptorKey != tilesetdata.DefaultDescriptorKey {
		if path.Dir(descriptorKey) == "." {
			renamed = tilesetdata.DefaultDescriptorKey
		} else {
			logger.Warn().Str("descriptor", descriptorKey).Msg("keeping nested descriptor name, its references are relative to it")
		}
	}

	c.Env.Tracker.StartOperation(ctx, len(keys))
	defer c.Env.Tracker.FinishOperation(ctx)

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		value, ok, err := p.src.ValueContext(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			logger.Warn().Str("key", key).Msg("entry disappeared, skipping")
			continue
		}
		outKey := key
		if key == descriptorKey && renamed != "" {
			outKey = renamed
			logger.Debug().Str("from", key).Str("to", outKey).Msg("renaming descriptor")
		}
		if err := p.write(ctx, key, outKey, value, value); err != nil {
			return err
		}
	}
	logger.Info().Int("entries", len(keys)).Str("output", c.Output).Msg("converted")
	return nil
}

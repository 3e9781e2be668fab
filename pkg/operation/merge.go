package operation

import (
	"context"
	"fmt"
	"math"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"

	"github.com/walteh/tilepack/pkg/tileset"
	"github.com/walteh/tilepack/pkg/tilesetdata"
)

// 🔗 Merge puts several packages under one root. Each input is copied below
// a unique prefix derived from its name and becomes a child of the new root
// that references its descriptor. The root volume encloses the input roots.
type Merge struct {
	Inputs []string
	Output string
	Force  bool
	Env    Env
}

func (m *Merge) Name() string { return "merge" }

type mergeInput struct {
	location string
	src      tilesetdata.Source
	loc      tilesetdata.Location
	ts       *tileset.Tileset
	prefix   string
}

func (m *Merge) Execute(ctx context.Context) (err error) {
	logger := zerolog.Ctx(ctx)
	if len(m.Inputs) == 0 {
		return errors.New("merge needs at least one input")
	}

	inputs := make([]*mergeInput, len(m.Inputs))
	defer func() {
		for _, in := range inputs {
			if in != nil && in.src != nil {
				closeSource(ctx, in.src)
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i, location := range m.Inputs {
		g.Go(func() error {
			in, err := m.openInput(gctx, location)
			if in != nil {
				inputs[i] = in
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	assignPrefixes(inputs)

	dst, dstLoc, err := tilesetdata.OpenTarget(ctx, m.Output, m.Force, m.Env.Packages)
	if err != nil {
		return errors.Errorf("opening output: %w", err)
	}
	out := &packageIO{env: m.Env, dst: dst, dstLoc: dstLoc}
	defer func() {
		if err != nil {
			if abortErr := dst.Abort(ctx); abortErr != nil {
				logger.Warn().Err(abortErr).Msg("aborting output")
			}
			return
		}
		if closeErr := dst.Close(ctx); closeErr != nil {
			err = errors.Errorf("closing output: %w", closeErr)
		}
	}()

	merged, err := mergedTileset(inputs)
	if err != nil {
		return err
	}
	descriptor, err := tileset.Marshal(merged)
	if err != nil {
		return err
	}
	if err := out.write(ctx, "", dstLoc.DescriptorKey, nil, descriptor); err != nil {
		return err
	}

	for _, in := range inputs {
		keys, err := sourceKeys(ctx, in.src, in.loc.DescriptorKey)
		if err != nil {
			return errors.WithDetails(err, "input", in.location)
		}
		m.Env.Tracker.StartOperation(ctx, len(keys))
		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				return err
			}
			value, ok, err := in.src.ValueContext(ctx, key)
			if err != nil {
				return errors.WithDetails(err, "input", in.location, "key", key)
			}
			if !ok {
				continue
			}
			if err := out.write(ctx, key, in.prefix+"/"+key, value, value); err != nil {
				return err
			}
		}
		m.Env.Tracker.FinishOperation(ctx)
		logger.Debug().Str("input", in.location).Str("prefix", in.prefix).Int("entries", len(keys)).Msg("merged input")
	}
	logger.Info().Int("inputs", len(inputs)).Str("output", m.Output).Msg("merged")
	return nil
}

func (m *Merge) openInput(ctx context.Context, location string) (*mergeInput, error) {
	src, loc, err := tilesetdata.OpenSource(ctx, location, m.Env.Packages)
	if err != nil {
		return nil, errors.Errorf("opening input %s: %w", location, err)
	}
	in := &mergeInput{location: location, src: src, loc: loc}
	value, err := readRequired(ctx, src, loc.DescriptorKey)
	if err != nil {
		return in, errors.WithDetails(err, "input", location)
	}
	if in.ts, err = parseDescriptor(value); err != nil {
		return in, errors.WithDetails(err, "input", location)
	}
	return in, nil
}

// assignPrefixes names each input after its location, numbering duplicates
func assignPrefixes(inputs []*mergeInput) {
	used := map[string]bool{}
	for _, in := range inputs {
		name := filepath.Base(strings.TrimRight(in.loc.Path, "/\\"))
		if in.loc.Kind != tilesetdata.KindDirectory {
			name = strings.TrimSuffix(name, filepath.Ext(name))
		}
		if name == "" || name == "." || name == string(filepath.Separator) {
			name = "tileset"
		}
		prefix := name
		for i := 1; used[prefix]; i++ {
			prefix = fmt.Sprintf("%s-%d", name, i)
		}
		used[prefix] = true
		in.prefix = prefix
	}
}

func mergedTileset(inputs []*mergeInput) (*tileset.Tileset, error) {
	roots := make([]*tileset.Tile, len(inputs))
	geometricError := 0.0
	for i, in := range inputs {
		roots[i] = in.ts.Root
		geometricError = math.Max(geometricError, in.ts.GeometricError)
	}
	volume, err := tileset.UnionBoundingVolumes(roots)
	if err != nil {
		return nil, err
	}

	root := &tileset.Tile{
		BoundingVolume: volume,
		GeometricError: geometricError,
		Refine:         "ADD",
	}
	for _, in := range inputs {
		childVolume, err := tileset.UnionBoundingVolumes([]*tileset.Tile{in.ts.Root})
		if err != nil {
			return nil, err
		}
		root.Children = append(root.Children, &tileset.Tile{
			BoundingVolume: childVolume,
			GeometricError: in.ts.GeometricError,
			Content:        &tileset.Content{URI: path.Join(in.prefix, in.loc.DescriptorKey)},
		})
	}

	version := inputs[0].ts.Asset.Version
	if version == "" {
		version = tileset.DefaultTargetVersion
	}
	return &tileset.Tileset{
		Asset:          tileset.Asset{Version: version},
		GeometricError: geometricError,
		Root:           root,
	}, nil
}

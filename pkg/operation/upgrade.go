package operation

import (
	"context"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tilepack/pkg/contenttype"
	"github.com/walteh/tilepack/pkg/convert"
	"github.com/walteh/tilepack/pkg/external"
	"github.com/walteh/tilepack/pkg/glb"
	"github.com/walteh/tilepack/pkg/pipeline"
	"github.com/walteh/tilepack/pkg/resource"
	"github.com/walteh/tilepack/pkg/tileformat"
	"github.com/walteh/tilepack/pkg/tileset"
)

// ⬆️ Upgrade rewrites a package for a newer 3D Tiles version: descriptors get
// the schema upgrade and the GLBs of b3dm, i3dm and glb contents go through
// the GLB upgrader. Other entries are copied.
type Upgrade struct {
	Input  string
	Output string
	Force  bool
	// TargetVersion is the asset version to produce; empty means 1.1
	TargetVersion string
	// Options are passed to the GLB upgrader
	Options external.UpgradeOptions
	Env     Env
}

func (u *Upgrade) Name() string { return "upgrade" }

type upgrader struct {
	*Upgrade
	p *packageIO
	// written holds GLB keys already in the output
	written map[string]bool
}

func (u *Upgrade) Execute(ctx context.Context) (err error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Str("input", u.Input).Str("output", u.Output).Str("target", u.TargetVersion).Msg("executing upgrade")

	p, err := openPackages(ctx, u.Env, u.Input, u.Output, u.Force)
	if err != nil {
		return err
	}
	defer func() { err = p.finish(ctx, err) }()

	keys, err := p.keys(ctx)
	if err != nil {
		return err
	}
	u.Env.Tracker.StartOperation(ctx, len(keys))
	defer u.Env.Tracker.FinishOperation(ctx)

	up := &upgrader{Upgrade: u, p: p, written: map[string]bool{}}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if up.written[key] {
			logger.Debug().Str("key", key).Msg("already written as an external glb")
			continue
		}
		value, ok, err := p.src.ValueContext(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		out, err := up.entry(ctx, key, value)
		if errors.Is(err, ErrExternalGlbStored) {
			logger.Debug().Err(err).Str("key", key).Msg("keeping i3dm unchanged")
			out, err = value, nil
		}
		if err != nil {
			return errors.WithDetails(err, "key", key)
		}
		if err := p.write(ctx, key, key, value, out); err != nil {
			return err
		}
		if contenttype.Detect(out) == contenttype.GLB {
			up.written[key] = true
		}
	}
	logger.Debug().Msg("executing upgrade done")
	return nil
}

// entry upgrades one value, keeping gzip framing
func (u *upgrader) entry(ctx context.Context, key string, value []byte) ([]byte, error) {
	plain, err := convert.Ungzip(value)
	if err != nil {
		return nil, err
	}

	var out []byte
	switch {
	case key == u.p.srcLoc.DescriptorKey || pipeline.IsTilesetJSON(plain):
		out, err = u.tileset(ctx, plain)
	case contenttype.Detect(plain) == contenttype.B3DM:
		out, err = u.b3dm(ctx, key, plain)
	case contenttype.Detect(plain) == contenttype.I3DM:
		out, err = u.i3dm(ctx, key, plain)
	case contenttype.Detect(plain) == contenttype.GLB:
		out, err = u.glb(ctx, key, plain)
	default:
		return value, nil
	}
	if err != nil {
		return nil, err
	}
	if contenttype.IsGzipped(value) {
		return convert.Gzip(out, 0)
	}
	return out, nil
}

func (u *upgrader) tileset(ctx context.Context, plain []byte) ([]byte, error) {
	ts, err := tileset.Parse(plain)
	if err != nil {
		return nil, err
	}
	if err := tileset.Upgrade(ctx, ts, u.TargetVersion); err != nil {
		return nil, err
	}
	return tileset.Marshal(ts)
}

func (u *upgrader) upgradeGlb(ctx context.Context, key string, data []byte) ([]byte, error) {
	opts := u.Options
	opts.Resources = resource.NewSourceResolver(u.p.src, key)
	out, err := u.Env.upgrader().Upgrade(ctx, data, opts)
	if err != nil {
		return nil, errors.Errorf("upgrading glb of %s: %w", key, err)
	}
	return out, nil
}

func (u *upgrader) glb(ctx context.Context, key string, plain []byte) ([]byte, error) {
	return u.upgradeGlb(ctx, key, plain)
}

// b3dm upgrades the payload and moves a CESIUM_RTC center into the feature
// table as RTC_CENTER
func (u *upgrader) b3dm(ctx context.Context, key string, plain []byte) ([]byte, error) {
	td, err := tileformat.ReadTileDataAs(plain, tileformat.MagicB3DM)
	if err != nil {
		return nil, err
	}
	out, err := u.upgradeGlb(ctx, key, td.Payload)
	if err != nil {
		return nil, err
	}
	if version, err := glb.Version(out); err == nil && version == 2 {
		var center []float64
		if out, center, err = glb.RemoveCesiumRTC(out); err != nil {
			return nil, err
		}
		if center != nil {
			ft := copyTableJSON(td.FeatureTable.JSON)
			ft["RTC_CENTER"] = center
			td.FeatureTable.JSON = ft
			zerolog.Ctx(ctx).Debug().Str("key", key).Floats64("center", center).Msg("moved CESIUM_RTC to RTC_CENTER")
		}
	}
	return tileformat.CreateTileDataBuffer(tileformat.CreateB3dmTileDataFromGlb(out, td.FeatureTable, td.BatchTable))
}

// i3dm upgrades an embedded GLB in place. An external GLB is upgraded and
// written at its own key, and the i3dm ends in ErrExternalGlbStored.
func (u *upgrader) i3dm(ctx context.Context, key string, plain []byte) ([]byte, error) {
	td, err := tileformat.ReadTileDataAs(plain, tileformat.MagicI3DM)
	if err != nil {
		return nil, err
	}
	uri, isExternal := td.ExternalGlbURI()
	if !isExternal {
		out, err := u.upgradeGlb(ctx, key, td.Payload)
		if err != nil {
			return nil, err
		}
		return tileformat.CreateTileDataBuffer(tileformat.CreateI3dmTileDataFromGlb(out, td.FeatureTable, td.BatchTable))
	}

	glbKey, ok := tileset.ResolveKey(key, uri)
	if !ok {
		return nil, errors.WithDetails(errors.Errorf("external glb %s is outside the package", uri), "uri", uri)
	}
	if u.written[glbKey] {
		return nil, errors.WithDetails(errors.Errorf("%w: %s", ErrExternalGlbStored, glbKey), "glb", glbKey)
	}
	data, err := u.p.read(ctx, glbKey)
	if err != nil {
		return nil, err
	}
	out, err := u.upgradeGlb(ctx, glbKey, data)
	if err != nil {
		return nil, err
	}
	if err := u.p.write(ctx, glbKey, glbKey, data, out); err != nil {
		return nil, err
	}
	u.written[glbKey] = true
	return nil, errors.WithDetails(errors.Errorf("%w: %s", ErrExternalGlbStored, glbKey), "glb", glbKey)
}

func copyTableJSON(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

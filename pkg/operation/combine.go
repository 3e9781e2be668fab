package operation

import (
	"context"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tilepack/pkg/contenttype"
	"github.com/walteh/tilepack/pkg/convert"
	"github.com/walteh/tilepack/pkg/tileset"
)

// 🧩 Combine inlines every external tileset into the descriptor. A tile whose
// content is an external tileset loses that content and gets the external
// root as a child. The external descriptors are dropped from the output and
// every other entry is copied.
type Combine struct {
	Input  string
	Output string
	Force  bool
	Env    Env
}

func (c *Combine) Name() string { return "combine" }

func (c *Combine) Execute(ctx context.Context) (err error) {
	logger := zerolog.Ctx(ctx)

	p, err := openPackages(ctx, c.Env, c.Input, c.Output, c.Force)
	if err != nil {
		return err
	}
	defer func() { err = p.finish(ctx, err) }()

	rootKey := p.srcLoc.DescriptorKey
	rootValue, err := p.read(ctx, rootKey)
	if err != nil {
		return err
	}
	root, err := parseDescriptor(rootValue)
	if err != nil {
		return errors.WithDetails(err, "key", rootKey)
	}

	cb := &combiner{p: p, rootKey: rootKey, inlined: map[string]bool{}}
	if err := cb.inline(ctx, root.Root, rootKey, map[string]bool{rootKey: true}); err != nil {
		return err
	}

	keys, err := p.keys(ctx)
	if err != nil {
		return err
	}
	c.Env.Tracker.StartOperation(ctx, len(keys))
	defer c.Env.Tracker.FinishOperation(ctx)

	combined, err := tileset.Marshal(root)
	if err != nil {
		return err
	}
	outKey := p.dstLoc.DescriptorKey
	if err := p.write(ctx, rootKey, outKey, rootValue, combined); err != nil {
		return err
	}

	for _, key := range keys {
		if key == rootKey || cb.inlined[key] {
			continue
		}
		value, ok, err := p.src.ValueContext(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := p.write(ctx, key, key, value, value); err != nil {
			return err
		}
	}
	logger.Info().Int("inlined", len(cb.inlined)).Str("output", c.Output).Msg("combined")
	return nil
}

type combiner struct {
	p       *packageIO
	rootKey string
	inlined map[string]bool
}

// inline replaces external tileset contents below tile, whose references are
// relative to baseKey, and rebases every reference onto the root descriptor.
// path holds the descriptors being inlined to detect cycles.
func (cb *combiner) inline(ctx context.Context, tile *tileset.Tile, baseKey string, path map[string]bool) error {
	return tileset.Walk(tile, func(t, _ *tileset.Tile, _ int) error {
		var kept []*tileset.Content
		var externals []string

		for _, content := range t.AllContents() {
			ref := content.Ref()
			key, ok := tileset.ResolveKey(baseKey, ref)
			if !ok {
				kept = append(kept, content)
				continue
			}
			if tileset.IsExternalTileset(ref) {
				externals = append(externals, key)
				continue
			}
			content.SetRef(tileset.RelativeRef(cb.rootKey, key))
			kept = append(kept, content)
		}
		if it := t.ImplicitTiling; it != nil && it.Subtrees.URI != "" {
			if key, ok := tileset.ResolveKey(baseKey, it.Subtrees.URI); ok {
				it.Subtrees.URI = tileset.RelativeRef(cb.rootKey, key)
			}
		}
		if len(externals) == 0 {
			return nil
		}

		// inlined roots are already rebased, so the original children are
		// walked here and the walk stops below t
		setContents(t, kept)
		for _, child := range t.Children {
			if err := cb.inline(ctx, child, baseKey, path); err != nil {
				return err
			}
		}
		for _, key := range externals {
			if path[key] {
				return errors.WithDetails(errors.Errorf("%w: external tileset cycle through %s", tileset.ErrInvalidTileset, key), "key", key)
			}
			child, err := cb.load(ctx, key)
			if err != nil {
				return err
			}
			path[key] = true
			err = cb.inline(ctx, child.Root, key, path)
			delete(path, key)
			if err != nil {
				return err
			}
			t.Children = append(t.Children, child.Root)
			cb.inlined[key] = true
			zerolog.Ctx(ctx).Debug().Str("key", key).Msg("inlined external tileset")
		}
		return tileset.SkipChildren
	})
}

func (cb *combiner) load(ctx context.Context, key string) (*tileset.Tileset, error) {
	value, err := cb.p.read(ctx, key)
	if err != nil {
		return nil, err
	}
	ts, err := parseDescriptor(value)
	if err != nil {
		return nil, errors.WithDetails(err, "key", key)
	}
	return ts, nil
}

// setContents stores contents the way the tile held them before
func setContents(t *tileset.Tile, contents []*tileset.Content) {
	switch {
	case len(contents) == 0:
		t.Content, t.Contents = nil, nil
	case t.Contents == nil && len(contents) == 1:
		t.Content = contents[0]
	default:
		t.Content, t.Contents = nil, contents
	}
}

// parseDescriptor decodes a descriptor that may be gzipped
func parseDescriptor(value []byte) (*tileset.Tileset, error) {
	plain, err := convert.Ungzip(value)
	if err != nil {
		return nil, err
	}
	if contenttype.Detect(plain) != contenttype.GLTF {
		return nil, errors.Errorf("%w: descriptor is %s", tileset.ErrInvalidTileset, contenttype.Detect(plain))
	}
	return tileset.Parse(plain)
}

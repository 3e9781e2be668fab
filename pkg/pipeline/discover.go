package pipeline

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tilepack/pkg/contenttype"
	"github.com/walteh/tilepack/pkg/convert"
	"github.com/walteh/tilepack/pkg/glb"
	"github.com/walteh/tilepack/pkg/tileformat"
	"github.com/walteh/tilepack/pkg/tileset"
	"github.com/walteh/tilepack/pkg/tilesetdata"
)

// 🧭 DiscoverKeys finds the keys of a package that cannot list them by
// following references from the descriptor: tile contents, external
// tilesets, external GLBs of i3dm tiles and external glTF resources.
// Implicit tiling templates are not expanded.
func DiscoverKeys(ctx context.Context, src tilesetdata.Source, descriptorKey string) ([]string, error) {
	logger := zerolog.Ctx(ctx)

	seen := map[string]bool{descriptorKey: true}
	queue := []string{descriptorKey}
	var keys []string

	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]

		value, ok, err := src.ValueContext(ctx, key)
		if err != nil {
			return nil, errors.Errorf("reading %s: %w", key, err)
		}
		if !ok {
			logger.Warn().Str("key", key).Msg("referenced entry not found")
			continue
		}
		keys = append(keys, key)

		for _, ref := range references(value) {
			if strings.Contains(ref, "{") {
				continue
			}
			next, ok := tileset.ResolveKey(key, ref)
			if !ok {
				logger.Debug().Str("key", key).Str("ref", ref).Msg("skipping reference outside the package")
				continue
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}

	logger.Debug().Int("keys", len(keys)).Msg("discovered keys")
	return keys, nil
}

// references lists what an entry refers to; undecodable entries refer to nothing
func references(value []byte) []string {
	plain, err := convert.Ungzip(value)
	if err != nil {
		return nil
	}
	switch contenttype.Detect(plain) {
	case contenttype.GLTF:
		if ts, err := tileset.Parse(plain); err == nil {
			return ts.ContentURIs()
		}
	case contenttype.I3DM:
		if td, err := tileformat.ReadTileData(plain); err == nil {
			if uri, ok := td.ExternalGlbURI(); ok {
				return []string{uri}
			}
		}
	case contenttype.GLB:
		if uris, err := glb.ExternalURIs(plain); err == nil {
			return uris
		}
	case contenttype.CMPT:
		root, err := tileformat.ParseTree(plain)
		if err != nil {
			return nil
		}
		var refs []string
		for _, leaf := range root.Leaves() {
			refs = append(refs, references(leaf)...)
		}
		return refs
	}
	return nil
}

// IsTilesetJSON reports whether an entry, gzipped or not, is a tileset descriptor
func IsTilesetJSON(value []byte) bool {
	plain, err := convert.Ungzip(value)
	if err != nil || contenttype.Detect(plain) != contenttype.GLTF {
		return false
	}
	_, err = tileset.Parse(plain)
	return err == nil
}

// applyRenames points the content references of a descriptor stored at key
// at renamed entries. The descriptor is returned unchanged when no reference
// is affected, and stays gzipped when it was.
func applyRenames(key string, value []byte, renames map[string]string) ([]byte, error) {
	if len(renames) == 0 {
		return value, nil
	}
	plain, err := convert.Ungzip(value)
	if err != nil {
		return nil, err
	}
	ts, err := tileset.Parse(plain)
	if err != nil {
		return nil, err
	}

	changed := false
	ts.RewriteContentURIs(func(ref string) string {
		target, ok := tileset.ResolveKey(key, ref)
		if !ok {
			return ref
		}
		renamed, ok := renames[target]
		if !ok {
			return ref
		}
		changed = true
		return tileset.RelativeRef(key, renamed)
	})
	if !changed {
		return value, nil
	}

	out, err := tileset.Marshal(ts)
	if err != nil {
		return nil, err
	}
	if contenttype.IsGzipped(value) {
		return convert.Gzip(out, 0)
	}
	return out, nil
}

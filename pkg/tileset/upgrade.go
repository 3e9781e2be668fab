package tileset

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

const (
	extMultipleContents = "3DTILES_multiple_contents"
	extImplicitTiling   = "3DTILES_implicit_tiling"
	extContentGltf      = "3DTILES_content_gltf"
)

// DefaultTargetVersion is the asset version Upgrade produces when none is given
const DefaultTargetVersion = "1.1"

// ⬆️ Upgrade rewrites a descriptor in place to the target asset version:
// content url becomes uri, refine is upper-cased and, for 1.1, the
// extensions that became core are promoted and 3DTILES_content_gltf is dropped.
func Upgrade(ctx context.Context, ts *Tileset, targetVersion string) error {
	logger := zerolog.Ctx(ctx)
	if targetVersion == "" {
		targetVersion = DefaultTargetVersion
	}
	if targetVersion != "1.0" && targetVersion != "1.1" {
		return errors.Errorf("unsupported target version %q", targetVersion)
	}

	if ts.Asset.Version != targetVersion {
		logger.Debug().Str("from", ts.Asset.Version).Str("to", targetVersion).Msg("upgrading asset version")
		ts.Asset.Version = targetVersion
	}

	promoted := map[string]bool{}
	err := Walk(ts.Root, func(tile, _ *Tile, depth int) error {
		for _, c := range tile.AllContents() {
			if c.URL != "" {
				if c.URI == "" {
					c.URI = c.URL
				}
				c.URL = ""
			}
		}
		tile.Refine = strings.ToUpper(tile.Refine)
		if targetVersion != "1.1" {
			return nil
		}

		if raw, ok := tile.Extensions[extMultipleContents]; ok {
			if err := promoteMultipleContents(tile, raw); err != nil {
				return errors.Errorf("tile at depth %d: %w", depth, err)
			}
			delete(tile.Extensions, extMultipleContents)
			promoted[extMultipleContents] = true
		}
		if raw, ok := tile.Extensions[extImplicitTiling]; ok {
			var it ImplicitTiling
			if err := json.Unmarshal(raw, &it); err != nil {
				return errors.Errorf("%w: tile at depth %d: decoding %s: %v", ErrInvalidTileset, depth, extImplicitTiling, err)
			}
			tile.ImplicitTiling = &it
			delete(tile.Extensions, extImplicitTiling)
			promoted[extImplicitTiling] = true
		}
		if it := tile.ImplicitTiling; it != nil && it.MaximumLevel != nil {
			it.AvailableLevels = *it.MaximumLevel + 1
			it.MaximumLevel = nil
		}
		if len(tile.Extensions) == 0 {
			tile.Extensions = nil
		}
		return nil
	})
	if err != nil {
		return err
	}

	if targetVersion == "1.1" {
		drop := []string{extContentGltf}
		for name := range promoted {
			drop = append(drop, name)
		}
		ts.ExtensionsUsed = removeAll(ts.ExtensionsUsed, drop)
		ts.ExtensionsRequired = removeAll(ts.ExtensionsRequired, drop)
		delete(ts.Extensions, extContentGltf)
		if len(ts.Extensions) == 0 {
			ts.Extensions = nil
		}
	}
	logger.Debug().Int("promoted_extensions", len(promoted)).Msg("tileset upgraded")
	return nil
}

// promoteMultipleContents accepts both the "contents" and the older "content"
// spelling of the extension
func promoteMultipleContents(tile *Tile, raw json.RawMessage) error {
	var ext struct {
		Contents []*Content `json:"contents"`
		Content  []*Content `json:"content"`
	}
	if err := json.Unmarshal(raw, &ext); err != nil {
		return errors.Errorf("%w: decoding %s: %v", ErrInvalidTileset, extMultipleContents, err)
	}
	contents := ext.Contents
	if contents == nil {
		contents = ext.Content
	}
	for _, c := range contents {
		if c.URI == "" {
			c.URI, c.URL = c.URL, ""
		}
	}
	tile.Contents = append(tile.Contents, contents...)
	return nil
}

func removeAll(list, drop []string) []string {
	var out []string
	for _, name := range list {
		keep := true
		for _, d := range drop {
			if name == d {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, name)
		}
	}
	return out
}

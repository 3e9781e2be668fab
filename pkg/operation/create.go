package operation

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tilepack/pkg/contenttype"
	"github.com/walteh/tilepack/pkg/convert"
	"github.com/walteh/tilepack/pkg/tileformat"
	"github.com/walteh/tilepack/pkg/tileset"
	"github.com/walteh/tilepack/pkg/tilesetdata"
)

// 🏗️ CreateTilesetJSON writes a tileset descriptor for one content file or
// for every content file below a directory. Each content becomes a leaf tile
// bounded by a box around its geometry. Content URIs are relative to the
// input directory, or the file name for a single file.
type CreateTilesetJSON struct {
	Input  string
	Output string
	Force  bool
}

func (c *CreateTilesetJSON) Name() string { return "createTilesetJson" }

func (c *CreateTilesetJSON) Execute(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)

	if err := ensureCanWrite(c.Output, c.Force); err != nil {
		return err
	}
	info, err := os.Stat(c.Input)
	if err != nil {
		return errors.WithDetails(errors.Errorf("reading %s: %w", c.Input, err), "input", c.Input)
	}

	baseDir, single := c.Input, !info.IsDir()
	if single {
		baseDir = filepath.Dir(c.Input)
	}
	src := tilesetdata.NewDirectorySource()
	if err := src.Open(ctx, baseDir); err != nil {
		return err
	}
	defer closeSource(ctx, src)

	keys := []string{filepath.Base(c.Input)}
	if !single {
		if keys, err = tilesetdata.CollectKeys(ctx, src); err != nil {
			return err
		}
	}

	var contents []tileset.ContentBox
	for _, key := range keys {
		value, err := readRequired(ctx, src, key)
		if err != nil {
			return err
		}
		plain, err := convert.Ungzip(value)
		if err != nil {
			return errors.WithDetails(errors.Errorf("reading %s: %w", key, err), "key", key)
		}
		if t := contenttype.Detect(plain); !t.IsTileContent() {
			if single {
				return errors.WithDetails(errors.Errorf("%s is %s, not tile content", key, t), "key", key)
			}
			logger.Debug().Str("key", key).Str("type", t.String()).Msg("skipping non-content file")
			continue
		}
		b, err := tileformat.ContentBounds(plain)
		if err != nil {
			return errors.WithDetails(errors.Errorf("computing bounds of %s: %w", key, err), "key", key)
		}
		contents = append(contents, tileset.ContentBox{URI: key, Min: b.Min, Max: b.Max})
	}
	logger.Info().Int("contents", len(contents)).Str("input", c.Input).Msg("creating tileset.json")

	ts, err := tileset.FromContents(contents)
	if err != nil {
		return errors.WithDetails(err, "input", c.Input)
	}
	out, err := tileset.Marshal(ts)
	if err != nil {
		return err
	}
	return writeFile(c.Output, out)
}

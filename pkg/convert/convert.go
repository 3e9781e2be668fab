// Package convert holds the content conversions shared by the pipeline stages
// and the one-shot commands: unwrapping and wrapping GLBs in legacy tiles,
// optimising embedded GLBs and gzip encoding.
package convert

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tilepack/pkg/contenttype"
	"github.com/walteh/tilepack/pkg/external"
	"github.com/walteh/tilepack/pkg/tileformat"
)

// ErrNoEmbeddedGlb is returned for an i3dm whose payload is a URI
var ErrNoEmbeddedGlb = errors.Base("tile has no embedded glb")

// B3dmToGlb returns the GLB payload of a b3dm
func B3dmToGlb(buf []byte) ([]byte, error) {
	td, err := tileformat.ReadTileDataAs(buf, tileformat.MagicB3DM)
	if err != nil {
		return nil, err
	}
	return td.Payload, nil
}

// I3dmToGlb returns the GLB payload of an i3dm with an embedded GLB
func I3dmToGlb(buf []byte) ([]byte, error) {
	td, err := tileformat.ReadTileDataAs(buf, tileformat.MagicI3DM)
	if err != nil {
		return nil, err
	}
	if uri, ok := td.ExternalGlbURI(); ok {
		return nil, errors.Errorf("%w: payload refers to %s", ErrNoEmbeddedGlb, uri)
	}
	return td.Payload, nil
}

// GlbToB3dm wraps a GLB in a b3dm with default tables
func GlbToB3dm(glb []byte) ([]byte, error) {
	return tileformat.CreateTileDataBuffer(tileformat.CreateDefaultB3dmTileDataFromGlb(glb))
}

// GlbToI3dm wraps a GLB in an i3dm holding one instance at the origin
func GlbToI3dm(glb []byte) ([]byte, error) {
	return tileformat.CreateTileDataBuffer(tileformat.CreateDefaultI3dmTileDataFromGlb(glb))
}

// ⚡ OptimizeB3dm runs the optimizer over the GLB of a b3dm, keeping its tables
func OptimizeB3dm(ctx context.Context, buf []byte, optimizer external.GlbOptimizer) ([]byte, error) {
	return optimizeTile(ctx, buf, tileformat.MagicB3DM, optimizer)
}

// ⚡ OptimizeI3dm runs the optimizer over the embedded GLB of an i3dm
func OptimizeI3dm(ctx context.Context, buf []byte, optimizer external.GlbOptimizer) ([]byte, error) {
	return optimizeTile(ctx, buf, tileformat.MagicI3DM, optimizer)
}

func optimizeTile(ctx context.Context, buf []byte, magic string, optimizer external.GlbOptimizer) ([]byte, error) {
	td, err := tileformat.ReadTileDataAs(buf, magic)
	if err != nil {
		return nil, err
	}
	if uri, ok := td.ExternalGlbURI(); ok {
		return nil, errors.Errorf("%w: payload refers to %s", ErrNoEmbeddedGlb, uri)
	}
	glb, err := optimizer.Optimize(ctx, td.Payload)
	if err != nil {
		return nil, errors.Errorf("optimizing %s payload: %w", magic, err)
	}
	td.Payload = glb
	return tileformat.CreateTileDataBuffer(td)
}

// 🗜️ Gzip compresses buf at the given level; 0 selects the default level
func Gzip(buf []byte, level int) ([]byte, error) {
	if level == 0 {
		level = gzip.DefaultCompression
	}
	var out bytes.Buffer
	w, err := gzip.NewWriterLevel(&out, level)
	if err != nil {
		return nil, errors.Errorf("creating gzip writer: %w", err)
	}
	if _, err := w.Write(buf); err != nil {
		return nil, errors.Errorf("compressing: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, errors.Errorf("finishing gzip stream: %w", err)
	}
	return out.Bytes(), nil
}

// Ungzip decompresses buf; data without the gzip magic is returned as it is
func Ungzip(buf []byte) ([]byte, error) {
	if !contenttype.IsGzipped(buf) {
		return buf, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(buf))
	if err != nil {
		return nil, errors.Errorf("reading gzip header: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Errorf("decompressing: %w", err)
	}
	return out, nil
}

// ReplaceExtension swaps a key's extension (case-insensitive) for another.
// Keys with a different extension are returned unchanged.
func ReplaceExtension(key, from, to string) string {
	ext := path.Ext(key)
	if !strings.EqualFold(ext, from) {
		return key
	}
	return strings.TrimSuffix(key, ext) + to
}

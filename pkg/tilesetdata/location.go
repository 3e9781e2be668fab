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

package tilesetdata

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// DefaultDescriptorKey is the key of the tileset JSON when a location does not name one
const DefaultDescriptorKey = "tileset.json"

// 🗂️ Kind names a storage backend
type Kind string

const (
	KindDirectory Kind = "directory"
	KindArchive   Kind = "3tz"
	KindDatabase  Kind = "3dtiles"
	KindNetwork   Kind = "http"
	KindS3        Kind = "s3"
)

// 📍 Location is a parsed package location
type Location struct {
	Kind Kind
	// Path is what the backend opens: a directory, a file, a base URL or an s3 URL
	Path string
	// DescriptorKey is the key of the tileset JSON inside the package
	DescriptorKey string
}

// 🔍 ParseLocation chooses the backend for a location string. A location
// naming a .json file selects its parent as the package and the file as the
// descriptor.
func ParseLocation(location string) Location {
	lower := strings.ToLower(location)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		loc := Location{Kind: KindNetwork, Path: location, DescriptorKey: DefaultDescriptorKey}
		if u, err := url.Parse(location); err == nil && strings.HasSuffix(strings.ToLower(u.Path), ".json") {
			loc.DescriptorKey = path.Base(u.Path)
			u.Path = path.Dir(u.Path) + "/"
			loc.Path = u.String()
		}
		return loc
	case strings.HasPrefix(lower, "s3://"):
		return Location{Kind: KindS3, Path: location, DescriptorKey: DefaultDescriptorKey}
	case strings.HasSuffix(lower, ".3tz"):
		return Location{Kind: KindArchive, Path: location, DescriptorKey: DefaultDescriptorKey}
	case strings.HasSuffix(lower, ".3dtiles"):
		return Location{Kind: KindDatabase, Path: location, DescriptorKey: DefaultDescriptorKey}
	case strings.HasSuffix(lower, ".json"):
		return Location{Kind: KindDirectory, Path: filepath.Dir(location), DescriptorKey: filepath.Base(location)}
	default:
		return Location{Kind: KindDirectory, Path: location, DescriptorKey: DefaultDescriptorKey}
	}
}

// ⚙️ Options configures backend construction
type Options struct {
	// HTTPTimeout bounds each network read
	HTTPTimeout time.Duration
	// HTTPClient overrides the client used by the network backend
	HTTPClient *http.Client
	// ArchiveCompression selects how archive entries are written
	ArchiveCompression Compression
	// S3 configures the s3 backend client when S3Client is nil
	S3 S3Options
	// S3Client overrides the s3 client
	S3Client S3API
}

// NewSource creates an unopened Source for the kind
func NewSource(ctx context.Context, kind Kind, opts Options) (Source, error) {
	switch kind {
	case KindDirectory:
		return NewDirectorySource(), nil
	case KindArchive:
		return NewArchiveSource(), nil
	case KindDatabase:
		return NewDatabaseSource(), nil
	case KindNetwork:
		return NewNetworkSource(opts.HTTPClient, opts.HTTPTimeout), nil
	case KindS3:
		client, err := s3Client(ctx, opts)
		if err != nil {
			return nil, err
		}
		return NewS3Source(client), nil
	default:
		return nil, errors.Errorf("unknown package kind %q", kind)
	}
}

// NewTarget creates an unopened Target for the kind
func NewTarget(ctx context.Context, kind Kind, opts Options) (Target, error) {
	switch kind {
	case KindDirectory:
		return NewDirectoryTarget(), nil
	case KindArchive:
		return NewArchiveTarget(opts.ArchiveCompression), nil
	case KindDatabase:
		return NewDatabaseTarget(), nil
	case KindNetwork:
		return nil, errors.Errorf("%w: network packages are read-only", ErrUnsupportedOperation)
	case KindS3:
		client, err := s3Client(ctx, opts)
		if err != nil {
			return nil, err
		}
		return NewS3Target(client), nil
	default:
		return nil, errors.Errorf("unknown package kind %q", kind)
	}
}

// 📥 OpenSource parses the location and opens the matching Source
func OpenSource(ctx context.Context, location string, opts Options) (Source, Location, error) {
	loc := ParseLocation(location)
	zerolog.Ctx(ctx).Debug().Str("location", location).Str("kind", string(loc.Kind)).Msg("opening source")

	src, err := NewSource(ctx, loc.Kind, opts)
	if err != nil {
		return nil, loc, err
	}
	if err := src.Open(ctx, loc.Path); err != nil {
		return nil, loc, errors.Errorf("opening %s source %s: %w", loc.Kind, loc.Path, err)
	}
	return src, loc, nil
}

// 📤 OpenTarget parses the location and opens the matching Target
func OpenTarget(ctx context.Context, location string, overwrite bool, opts Options) (Target, Location, error) {
	loc := ParseLocation(location)
	zerolog.Ctx(ctx).Debug().Str("location", location).Str("kind", string(loc.Kind)).Bool("overwrite", overwrite).Msg("opening target")

	dst, err := NewTarget(ctx, loc.Kind, opts)
	if err != nil {
		return nil, loc, err
	}
	if err := dst.Open(ctx, loc.Path, overwrite); err != nil {
		return nil, loc, errors.Errorf("opening %s target %s: %w", loc.Kind, loc.Path, err)
	}
	return dst, loc, nil
}

func s3Client(ctx context.Context, opts Options) (S3API, error) {
	if opts.S3Client != nil {
		return opts.S3Client, nil
	}
	return NewS3Client(ctx, opts.S3)
}

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

// Package resource resolves URIs found inside tile content (external GLBs,
// buffers, images) to their bytes.
package resource

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tilepack/pkg/tileset"
	"github.com/walteh/tilepack/pkg/tilesetdata"
)

// ErrInvalidDataURI is returned for a data URI that cannot be decoded
var ErrInvalidDataURI = errors.Base("invalid data uri")

// 🔗 Resolver returns the bytes a URI refers to. A URI the resolver cannot
// find is reported as ok == false with a nil error.
type Resolver interface {
	Resolve(ctx context.Context, uri string) (data []byte, ok bool, err error)
	// Derive returns a resolver for URIs relative to uri
	Derive(uri string) Resolver
}

// 📄 DecodeDataURI decodes a data: URI with base64 or percent-encoded payload
func DecodeDataURI(uri string) ([]byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, errors.Errorf("%w: missing data: prefix", ErrInvalidDataURI)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, errors.Errorf("%w: missing comma", ErrInvalidDataURI)
	}
	if strings.HasSuffix(meta, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, errors.Errorf("%w: %v", ErrInvalidDataURI, err)
		}
		return data, nil
	}
	data, err := url.PathUnescape(payload)
	if err != nil {
		return nil, errors.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	return []byte(data), nil
}

// 📦 SourceResolver resolves package-relative URIs against the key of the
// entry that references them.
type SourceResolver struct {
	source  tilesetdata.Source
	baseKey string
}

// NewSourceResolver resolves relative to baseKey, the key of the referencing entry
func NewSourceResolver(source tilesetdata.Source, baseKey string) *SourceResolver {
	return &SourceResolver{source: source, baseKey: baseKey}
}

func (r *SourceResolver) Resolve(ctx context.Context, uri string) ([]byte, bool, error) {
	if strings.HasPrefix(uri, "data:") {
		data, err := DecodeDataURI(uri)
		return data, err == nil, err
	}
	key, ok := tileset.ResolveKey(r.baseKey, uri)
	if !ok {
		return nil, false, nil
	}
	return r.source.ValueContext(ctx, key)
}

func (r *SourceResolver) Derive(uri string) Resolver {
	key, ok := tileset.ResolveKey(r.baseKey, uri)
	if !ok {
		return r
	}
	return &SourceResolver{source: r.source, baseKey: key}
}

// 🌐 HTTPResolver fetches URIs relative to a base URL. Failed requests are
// reported as absent.
type HTTPResolver struct {
	client  *http.Client
	base    *url.URL
	timeout time.Duration
}

func NewHTTPResolver(client *http.Client, baseURL string, timeout time.Duration) (*HTTPResolver, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Errorf("parsing base url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = tilesetdata.DefaultHTTPTimeout
	}
	return &HTTPResolver{client: client, base: base, timeout: timeout}, nil
}

func (r *HTTPResolver) Resolve(ctx context.Context, uri string) ([]byte, bool, error) {
	if strings.HasPrefix(uri, "data:") {
		data, err := DecodeDataURI(uri)
		return data, err == nil, err
	}
	ref, err := url.Parse(uri)
	if err != nil {
		return nil, false, nil
	}
	target := r.base.ResolveReference(ref).String()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, false, errors.Errorf("creating request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("url", target).Msg("resource request failed")
		return nil, false, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		zerolog.Ctx(ctx).Debug().Int("status", resp.StatusCode).Str("url", target).Msg("resource not available")
		return nil, false, nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, errors.Errorf("reading %s: %w", target, err)
	}
	return data, true, nil
}

func (r *HTTPResolver) Derive(uri string) Resolver {
	ref, err := url.Parse(uri)
	if err != nil {
		return r
	}
	return &HTTPResolver{client: r.client, base: r.base.ResolveReference(ref), timeout: r.timeout}
}

// ⛓️ Chain asks each resolver in turn and returns the first hit
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, uri string) ([]byte, bool, error) {
	for _, r := range c {
		data, ok, err := r.Resolve(ctx, uri)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return data, true, nil
		}
	}
	return nil, false, nil
}

func (c Chain) Derive(uri string) Resolver {
	out := make(Chain, len(c))
	for i, r := range c {
		out[i] = r.Derive(uri)
	}
	return out
}

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
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// DefaultHTTPTimeout bounds a single network read when no timeout is configured
const DefaultHTTPTimeout = 30 * time.Second

// 🌐 NetworkSource is a read-only package served over HTTP. It cannot list its
// keys and cannot read synchronously; ValueContext fetches base URL + key.
// Network failures and non-200 answers are reported as absent values.
type NetworkSource struct {
	lc      lifecycle
	client  *http.Client
	timeout time.Duration
	base    *url.URL
}

func NewNetworkSource(client *http.Client, timeout time.Duration) *NetworkSource {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &NetworkSource{client: client, timeout: timeout}
}

func (s *NetworkSource) Open(ctx context.Context, location string) error {
	u, err := url.Parse(location)
	if err != nil {
		return errors.Errorf("parsing base url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Errorf("%q is not an http(s) url", location)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if err := s.lc.begin(); err != nil {
		return err
	}
	s.base = u
	return nil
}

// Keys is always empty for a network package
func (s *NetworkSource) Keys(ctx context.Context) iter.Seq2[string, error] {
	if err := s.lc.check(); err != nil {
		return errSeq(err)
	}
	return emptySeq()
}

func (s *NetworkSource) Value(key string) ([]byte, bool, error) {
	if err := s.lc.check(); err != nil {
		return nil, false, err
	}
	return nil, false, errors.Errorf("%w: synchronous reads from a network package", ErrUnsupportedOperation)
}

func (s *NetworkSource) ValueContext(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.lc.check(); err != nil {
		return nil, false, err
	}
	logger := zerolog.Ctx(ctx)

	u, ok := s.Locate(key)
	if !ok {
		logger.Debug().Str("key", key).Msg("key is not a valid url reference")
		return nil, false, nil
	}

	data, err := s.fetch(ctx, u)
	if err != nil {
		logger.Debug().Err(err).Str("url", u).Msg("network read failed")
		return nil, false, nil
	}
	return data, true, nil
}

func (s *NetworkSource) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Errorf("creating request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Errorf("requesting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Errorf("reading body: %w", err)
	}
	return data, nil
}

// Locate returns the URL a key is fetched from
func (s *NetworkSource) Locate(key string) (string, bool) {
	if s.lc.check() != nil {
		return "", false
	}
	ref, err := url.Parse(key)
	if err != nil {
		return "", false
	}
	return s.base.ResolveReference(ref).String(), true
}

func (s *NetworkSource) Close() error {
	return s.lc.end()
}

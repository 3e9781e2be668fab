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
	"io/fs"
	"iter"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// 📁 DirectorySource reads a package laid out as files below a root directory.
// Keys are slash-separated paths relative to the root.
type DirectorySource struct {
	lc   lifecycle
	root string
}

func NewDirectorySource() *DirectorySource {
	return &DirectorySource{}
}

func (s *DirectorySource) Open(ctx context.Context, location string) error {
	if err := s.lc.check(); err == nil {
		return ErrAlreadyOpen
	}
	info, err := os.Stat(location)
	if err != nil {
		return errors.Errorf("checking directory: %w", err)
	}
	if !info.IsDir() {
		return errors.Errorf("%s is not a directory", location)
	}
	if err := s.lc.begin(); err != nil {
		return err
	}
	s.root = filepath.Clean(location)
	return nil
}

// Keys walks the tree in lexical order
func (s *DirectorySource) Keys(ctx context.Context) iter.Seq2[string, error] {
	if err := s.lc.check(); err != nil {
		return errSeq(err)
	}
	root := s.root
	return func(yield func(string, error) bool) {
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			if !yield(filepath.ToSlash(rel), nil) {
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil {
			yield("", errors.Errorf("walking %s: %w", root, err))
		}
	}
}

func (s *DirectorySource) Value(key string) ([]byte, bool, error) {
	if err := s.lc.check(); err != nil {
		return nil, false, err
	}
	p, err := keyPath(s.root, key)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Errorf("reading %s: %w", key, err)
	}
	return data, true, nil
}

func (s *DirectorySource) ValueContext(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	return s.Value(key)
}

// Locate returns the file path of a key
func (s *DirectorySource) Locate(key string) (string, bool) {
	if s.lc.check() != nil {
		return "", false
	}
	p, err := keyPath(s.root, key)
	if err != nil {
		return "", false
	}
	return p, true
}

func (s *DirectorySource) Close() error {
	return s.lc.end()
}

// 📁 DirectoryTarget writes entries as files below a root directory. Each file
// is written atomically; a failed run leaves the files written so far.
type DirectoryTarget struct {
	lc   lifecycle
	root string
}

func NewDirectoryTarget() *DirectoryTarget {
	return &DirectoryTarget{}
}

// Open fails with ErrAlreadyExists for a non-empty directory unless overwrite
// is set, in which case existing files are replaced as entries are written.
func (t *DirectoryTarget) Open(ctx context.Context, location string, overwrite bool) error {
	if err := t.lc.check(); err == nil {
		return ErrAlreadyOpen
	}
	entries, err := os.ReadDir(location)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return errors.Errorf("checking directory: %w", err)
	case len(entries) > 0 && !overwrite:
		return errors.Errorf("%w: directory %s is not empty", ErrAlreadyExists, location)
	}

	if err := os.MkdirAll(location, 0755); err != nil {
		return errors.Errorf("creating directory: %w", err)
	}
	if err := t.lc.begin(); err != nil {
		return err
	}
	t.root = filepath.Clean(location)
	zerolog.Ctx(ctx).Debug().Str("root", t.root).Msg("directory target opened")
	return nil
}

func (t *DirectoryTarget) AddEntry(ctx context.Context, key string, value []byte) error {
	if err := t.lc.check(); err != nil {
		return err
	}
	p, err := keyPath(t.root, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return errors.Errorf("creating parent directories: %w", err)
	}
	return writeFileAtomic(p, value)
}

func (t *DirectoryTarget) Close(ctx context.Context) error {
	return t.lc.end()
}

func (t *DirectoryTarget) Abort(ctx context.Context) error {
	zerolog.Ctx(ctx).Warn().Str("root", t.root).Msg("directory target aborted, written files are kept")
	return t.lc.end()
}

// keyPath maps a key below root, rejecting keys that would escape it
func keyPath(root, key string) (string, error) {
	rel := filepath.FromSlash(key)
	if !filepath.IsLocal(rel) {
		return "", errors.Errorf("key %q is not a relative path inside the package", key)
	}
	return filepath.Join(root, rel), nil
}

func writeFileAtomic(path string, content []byte) error {
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return errors.Errorf("writing temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return errors.Errorf("renaming temp file: %w", err)
	}

	return nil
}

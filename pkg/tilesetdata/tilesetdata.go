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

// Package tilesetdata is the storage abstraction of a tileset package: a
// keyed collection of entries (the tileset JSON plus its content files) that
// can be read from a Source and written to a Target, independent of the
// backend holding it.
package tilesetdata

import (
	"context"
	"iter"

	"gitlab.com/tozd/go/errors"
)

var (
	// ErrNotOpen is returned by accessors called before Open or after Close
	ErrNotOpen = errors.Base("package is not open")
	// ErrAlreadyOpen is returned by a second Open
	ErrAlreadyOpen = errors.Base("package is already open")
	// ErrAlreadyExists guards targets that would overwrite existing content
	ErrAlreadyExists = errors.Base("target already exists")
	// ErrUnsupportedOperation marks operations a backend cannot provide
	ErrUnsupportedOperation = errors.Base("unsupported operation")
	// ErrSchema is returned for a database whose layout is not a tileset package
	ErrSchema = errors.Base("invalid package schema")
	// ErrInvalidArchive is returned for a malformed archive or archive index
	ErrInvalidArchive = errors.Base("invalid archive")
)

// 📄 Entry is one keyed value of a package
type Entry struct {
	Key   string
	Value []byte
}

// 📥 Source reads entries from a package.
//
// Keys is lazy and can be ranged over repeatedly; each range restarts the
// enumeration. Value is a synchronous read. ValueContext is the read every
// backend supports, including those that have to go over the network; it
// honours cancellation and deadlines of ctx. A missing key is reported as
// ok == false with a nil error.
type Source interface {
	Open(ctx context.Context, location string) error
	Keys(ctx context.Context) iter.Seq2[string, error]
	Value(key string) (value []byte, ok bool, err error)
	ValueContext(ctx context.Context, key string) (value []byte, ok bool, err error)
	Close() error
}

// 📤 Target writes entries into a package.
//
// Close finalizes the package (commits, writes indexes, moves temp files into
// place). Abort releases the target without finalizing it, so that a failed
// write leaves no partially committed package behind where the backend can
// guarantee it.
type Target interface {
	Open(ctx context.Context, location string, overwrite bool) error
	AddEntry(ctx context.Context, key string, value []byte) error
	Close(ctx context.Context) error
	Abort(ctx context.Context) error
}

// 📍 Locator is implemented by sources whose keys have a location outside the
// package, a file path or a URL, that external tools can be pointed at.
type Locator interface {
	Locate(key string) (string, bool)
}

// lifecycle tracks the open state shared by every backend
type lifecycle struct {
	open bool
}

func (l *lifecycle) begin() error {
	if l.open {
		return ErrAlreadyOpen
	}
	l.open = true
	return nil
}

func (l *lifecycle) check() error {
	if !l.open {
		return ErrNotOpen
	}
	return nil
}

func (l *lifecycle) end() error {
	if !l.open {
		return ErrNotOpen
	}
	l.open = false
	return nil
}

// errSeq yields a single error
func errSeq(err error) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield("", err)
	}
}

// emptySeq yields nothing
func emptySeq() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {}
}

// 📋 CollectKeys drains a key sequence into a slice
func CollectKeys(ctx context.Context, src Source) ([]string, error) {
	var keys []string
	for key, err := range src.Keys(ctx) {
		if err != nil {
			return nil, errors.Errorf("listing keys: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// 📋 CopyAll writes every entry of src into dst in enumeration order
func CopyAll(ctx context.Context, src Source, dst Target) (int, error) {
	n := 0
	for key, err := range src.Keys(ctx) {
		if err != nil {
			return n, errors.Errorf("listing keys: %w", err)
		}
		value, ok, err := src.ValueContext(ctx, key)
		if err != nil {
			return n, errors.Errorf("reading %s: %w", key, err)
		}
		if !ok {
			continue
		}
		if err := dst.AddEntry(ctx, key, value); err != nil {
			return n, errors.Errorf("writing %s: %w", key, err)
		}
		n++
	}
	return n, nil
}

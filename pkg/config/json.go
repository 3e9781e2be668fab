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

package config

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gitlab.com/tozd/go/errors"
)

func init() {
	Register(&JSONParser{})
}

// 🔧 JSONParser reads .json config files. Comments and trailing commas are
// allowed, the same as in pipeline files.
type JSONParser struct{}

func (p *JSONParser) CanParse(filename string) bool {
	return strings.EqualFold(filepath.Ext(strings.TrimSpace(filename)), ".json")
}

func (p *JSONParser) Parse(ctx context.Context, data []byte) (*Config, error) {
	data = jsonc.ToJSON(bytes.TrimPrefix(data, []byte("\xEF\xBB\xBF")))

	var cfg Config
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, errors.Errorf("parsing JSON: %w", err)
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.Errorf("parsing JSON: unexpected data after the config object")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

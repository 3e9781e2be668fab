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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tilepack/pkg/external"
	"github.com/walteh/tilepack/pkg/tilesetdata"
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.Base("invalid config")

// DefaultFileNames are searched, in order, when no config path is given
var DefaultFileNames = []string{".tilepack.yaml", ".tilepack.yml", ".tilepack.json", ".tilepack.hcl"}

// 🔌 Parser is the interface for config parsers
type Parser interface {
	// 📝 Parse parses the config from bytes
	Parse(ctx context.Context, data []byte) (*Config, error)

	// 🔍 CanParse checks if this parser can handle the given file
	CanParse(filename string) bool
}

var (
	// 🗺️ parsers is a list of available parsers
	parsers []Parser
)

// 📝 Register registers a parser
func Register(p Parser) {
	parsers = append(parsers, p)
}

// 🎯 GetParser returns a parser that can handle the given file
func GetParser(filename string) Parser {
	for _, p := range parsers {
		if p.CanParse(filename) {
			return p
		}
	}
	return nil
}

// 📜 LogConfig controls the process logger
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	File   string `json:"file,omitempty" yaml:"file,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// 🌐 HTTPConfig controls the network backend
type HTTPConfig struct {
	// Timeout is a Go duration such as "30s"
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// 🗜️ ArchiveConfig controls how 3tz archives are written
type ArchiveConfig struct {
	Compression string `json:"compression,omitempty" yaml:"compression,omitempty"`
}

// ☁️ S3Config configures the s3 backend
type S3Config struct {
	Region          string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint        string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	UsePathStyle    bool   `json:"use_path_style,omitempty" yaml:"use_path_style,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"`
	SessionToken    string `json:"session_token,omitempty" yaml:"session_token,omitempty"`
}

// 🔧 ToolConfig locates an external executable
type ToolConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// 📚 Config represents the complete configuration
type Config struct {
	Log          LogConfig     `json:"log" yaml:"log"`
	HTTP         HTTPConfig    `json:"http" yaml:"http"`
	Archive      ArchiveConfig `json:"archive" yaml:"archive"`
	S3           S3Config      `json:"s3" yaml:"s3"`
	Gltfpack     ToolConfig    `json:"gltfpack" yaml:"gltfpack"`
	GltfPipeline ToolConfig    `json:"gltf_pipeline" yaml:"gltf_pipeline"`
	MetricsFile  string        `json:"metrics_file,omitempty" yaml:"metrics_file,omitempty"`

	location string
	timeout  time.Duration
}

// Default returns the configuration used when no file is found
func Default() *Config {
	cfg := &Config{}
	// defaults always validate
	_ = cfg.Validate()
	return cfg
}

// 🎯 Load loads the configuration from a file
func Load(ctx context.Context, path string) (*Config, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Str("path", path).Msg("loading configuration")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Errorf("reading config file: %w", err)
	}

	p := GetParser(path)
	if p == nil {
		return nil, errors.Errorf("no parser found for file: %s", path)
	}

	cfg, err := p.Parse(ctx, data)
	if err != nil {
		return nil, errors.Errorf("parsing config: %w", err)
	}
	cfg.location = path

	if err := cfg.Validate(); err != nil {
		return nil, errors.Errorf("validating config: %w", err)
	}

	logger.Debug().Str("path", path).Str("config", cfg.String()).Msg("configuration loaded")
	return cfg, nil
}

// 🔍 Find returns the first default config file in dir, or "" when there is none
func Find(dir string) string {
	for _, name := range DefaultFileNames {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// 🔍 Validate checks if the configuration is valid and fills in defaults
func (cfg *Config) Validate() error {
	if cfg.Log.Level == "" {
		cfg.Log.Level = zerolog.InfoLevel.String()
	}
	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		return errors.Errorf("%w: log.level %q", ErrInvalidConfig, cfg.Log.Level)
	}

	switch cfg.Log.Format {
	case "":
		cfg.Log.Format = "console"
	case "console", "json":
	default:
		return errors.Errorf("%w: log.format must be console or json, got %q", ErrInvalidConfig, cfg.Log.Format)
	}

	cfg.timeout = 0
	if cfg.HTTP.Timeout != "" {
		d, err := time.ParseDuration(cfg.HTTP.Timeout)
		if err != nil || d < 0 {
			return errors.Errorf("%w: http.timeout %q", ErrInvalidConfig, cfg.HTTP.Timeout)
		}
		cfg.timeout = d
	}

	if cfg.Archive.Compression != "" {
		if _, err := tilesetdata.ParseCompression(cfg.Archive.Compression); err != nil {
			return errors.Errorf("%w: archive.compression: %w", ErrInvalidConfig, err)
		}
	}

	if (cfg.S3.AccessKeyID == "") != (cfg.S3.SecretAccessKey == "") {
		return errors.Errorf("%w: s3.access_key_id and s3.secret_access_key go together", ErrInvalidConfig)
	}

	if cfg.Log.File != "" {
		cfg.Log.File = filepath.Clean(cfg.Log.File)
	}
	if cfg.MetricsFile != "" {
		cfg.MetricsFile = filepath.Clean(cfg.MetricsFile)
	}
	return nil
}

// Location is the file the config was loaded from
func (cfg *Config) Location() string {
	return cfg.location
}

// HTTPTimeout is the parsed http.timeout, zero for the backend default
func (cfg *Config) HTTPTimeout() time.Duration {
	return cfg.timeout
}

// 📦 PackageOptions configures the tileset package backends
func (cfg *Config) PackageOptions() tilesetdata.Options {
	opts := tilesetdata.Options{
		HTTPTimeout: cfg.timeout,
		S3: tilesetdata.S3Options{
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			UsePathStyle:    cfg.S3.UsePathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			SessionToken:    cfg.S3.SessionToken,
		},
	}
	if c, err := tilesetdata.ParseCompression(cfg.Archive.Compression); err == nil {
		opts.ArchiveCompression = c
	}
	return opts
}

// ⚡ Optimizer runs the configured gltfpack
func (cfg *Config) Optimizer(opts external.GltfpackOptions) external.GlbOptimizer {
	return external.NewGltfpack(cfg.Gltfpack.Path, opts)
}

// ⬆️ Upgrader runs the configured gltf-pipeline, or passes GLBs through when
// no path is set
func (cfg *Config) Upgrader() external.GlbUpgrader {
	if cfg.GltfPipeline.Path == "" {
		return external.Passthrough{}
	}
	return external.NewGltfPipeline(cfg.GltfPipeline.Path)
}

// 📝 String returns a string representation of the config
func (cfg *Config) String() string {
	s := fmt.Sprintf("log=%s/%s", cfg.Log.Level, cfg.Log.Format)
	if cfg.timeout > 0 {
		s += fmt.Sprintf(" http.timeout=%s", cfg.timeout)
	}
	if cfg.Archive.Compression != "" {
		s += " archive.compression=" + cfg.Archive.Compression
	}
	if cfg.S3.Region != "" || cfg.S3.Endpoint != "" {
		s += fmt.Sprintf(" s3=%s@%s", cfg.S3.Region, cfg.S3.Endpoint)
	}
	if cfg.MetricsFile != "" {
		s += " metrics=" + cfg.MetricsFile
	}
	return s
}

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
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"gitlab.com/tozd/go/errors"
)

func init() {
	Register(&HCLParser{})
}

// 🔧 HCLParser implements the Parser interface for HCL files. Expressions can
// read the process environment through the env object:
//
//	s3 {
//	  region = env.AWS_REGION
//	}
type HCLParser struct {
	// Environ overrides os.Environ for the env object
	Environ func() []string
}

// 🔍 CanParse checks if this parser can handle the given file
func (p *HCLParser) CanParse(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ".hcl")
}

type hclLog struct {
	Level  string `hcl:"level,optional"`
	File   string `hcl:"file,optional"`
	Format string `hcl:"format,optional"`
}

type hclHTTP struct {
	Timeout string `hcl:"timeout,optional"`
}

type hclArchive struct {
	Compression string `hcl:"compression,optional"`
}

type hclS3 struct {
	Region          string `hcl:"region,optional"`
	Endpoint        string `hcl:"endpoint,optional"`
	UsePathStyle    bool   `hcl:"use_path_style,optional"`
	AccessKeyID     string `hcl:"access_key_id,optional"`
	SecretAccessKey string `hcl:"secret_access_key,optional"`
	SessionToken    string `hcl:"session_token,optional"`
}

type hclTool struct {
	Path string `hcl:"path,optional"`
}

type hclConfig struct {
	Log          *hclLog     `hcl:"log,block"`
	HTTP         *hclHTTP    `hcl:"http,block"`
	Archive      *hclArchive `hcl:"archive,block"`
	S3           *hclS3      `hcl:"s3,block"`
	Gltfpack     *hclTool    `hcl:"gltfpack,block"`
	GltfPipeline *hclTool    `hcl:"gltf_pipeline,block"`
	MetricsFile  string      `hcl:"metrics_file,optional"`
}

// 📝 Parse parses the config from HCL
func (p *HCLParser) Parse(ctx context.Context, data []byte) (*Config, error) {
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCL(data, "config.hcl")
	if diags.HasErrors() {
		return nil, errors.Errorf("parsing HCL: %s", diags.Error())
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": p.envObject(),
		},
	}

	var hclCfg hclConfig
	diags = gohcl.DecodeBody(hclFile.Body, evalCtx, &hclCfg)
	if diags.HasErrors() {
		return nil, errors.Errorf("decoding HCL: %s", diags.Error())
	}

	cfg := &Config{MetricsFile: hclCfg.MetricsFile}
	if l := hclCfg.Log; l != nil {
		cfg.Log = LogConfig{Level: l.Level, File: l.File, Format: l.Format}
	}
	if h := hclCfg.HTTP; h != nil {
		cfg.HTTP.Timeout = h.Timeout
	}
	if a := hclCfg.Archive; a != nil {
		cfg.Archive.Compression = a.Compression
	}
	if s := hclCfg.S3; s != nil {
		cfg.S3 = S3Config(*s)
	}
	if g := hclCfg.Gltfpack; g != nil {
		cfg.Gltfpack.Path = g.Path
	}
	if g := hclCfg.GltfPipeline; g != nil {
		cfg.GltfPipeline.Path = g.Path
	}
	return cfg, nil
}

func (p *HCLParser) envObject() cty.Value {
	environ := os.Environ
	if p.Environ != nil {
		environ = p.Environ
	}
	vars := map[string]cty.Value{}
	for _, kv := range environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	return cty.ObjectVal(vars)
}

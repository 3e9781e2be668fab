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
	"bytes"
	"context"
	"io"
	"iter"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// ☁️ S3API is the part of the s3 client the backend uses
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options configures the default s3 client. Static credentials replace the
// default credential chain when both halves are set.
type S3Options struct {
	Region          string
	Endpoint        string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// NewS3Client loads the default AWS configuration chain
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Errorf("loading aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

// parseS3Location splits s3://bucket/prefix; the prefix gets a trailing slash
func parseS3Location(location string) (bucket, prefix string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", errors.Errorf("parsing s3 location: %w", err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", errors.Errorf("%q is not an s3://bucket/prefix location", location)
	}
	prefix = strings.TrimPrefix(u.Path, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return u.Host, prefix, nil
}

// ☁️ S3Source reads the objects below a bucket prefix; keys are object keys
// with the prefix removed.
type S3Source struct {
	lc     lifecycle
	client S3API
	bucket string
	prefix string
}

func NewS3Source(client S3API) *S3Source {
	return &S3Source{client: client}
}

func (s *S3Source) Open(ctx context.Context, location string) error {
	bucket, prefix, err := parseS3Location(location)
	if err != nil {
		return err
	}
	if err := s.lc.begin(); err != nil {
		return err
	}
	s.bucket, s.prefix = bucket, prefix
	return nil
}

func (s *S3Source) Keys(ctx context.Context) iter.Seq2[string, error] {
	if err := s.lc.check(); err != nil {
		return errSeq(err)
	}
	client, bucket, prefix := s.client, s.bucket, s.prefix
	return func(yield func(string, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
			Bucket: aws.String(bucket),
			Prefix: aws.String(prefix),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield("", errors.Errorf("listing s3://%s/%s: %w", bucket, prefix, err))
				return
			}
			for _, obj := range page.Contents {
				key := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
				if key == "" || strings.HasSuffix(key, "/") {
					continue
				}
				if !yield(key, nil) {
					return
				}
			}
		}
	}
}

func (s *S3Source) Value(key string) ([]byte, bool, error) {
	return s.ValueContext(context.Background(), key)
}

func (s *S3Source) ValueContext(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.lc.check(); err != nil {
		return nil, false, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, false, nil
		}
		return nil, false, errors.Errorf("getting %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, errors.Errorf("reading %s: %w", key, err)
	}
	return data, true, nil
}

func (s *S3Source) Close() error {
	return s.lc.end()
}

// ☁️ S3Target puts one object per entry. Objects are visible as soon as they
// are written, so Abort cannot undo a partial run.
type S3Target struct {
	lc     lifecycle
	client S3API
	bucket string
	prefix string
}

func NewS3Target(client S3API) *S3Target {
	return &S3Target{client: client}
}

func (t *S3Target) Open(ctx context.Context, location string, overwrite bool) error {
	bucket, prefix, err := parseS3Location(location)
	if err != nil {
		return err
	}
	if !overwrite {
		out, err := t.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:  aws.String(bucket),
			Prefix:  aws.String(prefix),
			MaxKeys: aws.Int32(1),
		})
		if err != nil {
			return errors.Errorf("checking s3://%s/%s: %w", bucket, prefix, err)
		}
		if len(out.Contents) > 0 {
			return errors.Errorf("%w: s3://%s/%s is not empty", ErrAlreadyExists, bucket, prefix)
		}
	}
	if err := t.lc.begin(); err != nil {
		return err
	}
	t.bucket, t.prefix = bucket, prefix
	return nil
}

func (t *S3Target) AddEntry(ctx context.Context, key string, value []byte) error {
	if err := t.lc.check(); err != nil {
		return err
	}
	_, err := t.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.prefix + key),
		Body:   bytes.NewReader(value),
	})
	if err != nil {
		return errors.Errorf("putting %s: %w", key, err)
	}
	return nil
}

func (t *S3Target) Close(ctx context.Context) error {
	return t.lc.end()
}

func (t *S3Target) Abort(ctx context.Context) error {
	zerolog.Ctx(ctx).Warn().Str("bucket", t.bucket).Str("prefix", t.prefix).Msg("s3 target aborted, written objects are kept")
	return t.lc.end()
}

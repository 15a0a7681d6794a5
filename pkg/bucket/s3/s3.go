// Copyright 2018-2024 CERN
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
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

package s3

import (
	"context"
	"io"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"github.com/dwarfkeep/dwarfkeep/pkg/bucket"
	"github.com/dwarfkeep/dwarfkeep/pkg/bucket/registry"
	"github.com/dwarfkeep/dwarfkeep/pkg/errtypes"
	"github.com/dwarfkeep/dwarfkeep/pkg/utils/cfg"
)

func init() {
	registry.Register("s3", New)
}

type config struct {
	Endpoint  string `mapstructure:"endpoint" validate:"required"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket" validate:"required"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// New returns a bucket backed by any s3 compatible object store.
func New(m map[string]interface{}) (bucket.Bucket, error) {
	var c config
	if err := cfg.Decode(m, &c); err != nil {
		return nil, err
	}

	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "s3: failed to parse endpoint")
	}

	useSSL := u.Scheme != "http"
	client, err := minio.New(u.Host, &minio.Options{
		Region: c.Region,
		Creds:  credentials.NewStaticV4(c.AccessKey, c.SecretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "s3: failed to setup client")
	}

	return &bkt{
		client: client,
		bucket: c.Bucket,
	}, nil
}

type bkt struct {
	client *minio.Client
	bucket string
}

func (b *bkt) Put(ctx context.Context, key string, r io.Reader) error {
	// Size -1 streams the payload in parts; the final size is not known
	// before the last chunk arrives.
	_, err := b.client.PutObject(ctx, b.bucket, key, r, -1, minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return errors.Wrapf(err, "s3: could not store object '%s' into bucket '%s'", key, b.bucket)
	}
	return nil
}

func (b *bkt) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "s3: could not download object '%s' from bucket '%s'", key, b.bucket)
	}

	// GetObject defers the request to the first read; stat now so a
	// missing key surfaces as not found instead of a read error later.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, errtypes.NotFound(key)
		}
		return nil, errors.Wrapf(err, "s3: could not stat object '%s' in bucket '%s'", key, b.bucket)
	}
	return obj, nil
}

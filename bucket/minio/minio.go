// Copyright 2026 RetailNext, Inc.
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

// Package minio stores backups on S3 compatible servers.
package minio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/encrypt"
	"github.com/retailnext/sstablebackup/bucket/store"
	"github.com/retailnext/sstablebackup/config"
	"go.uber.org/zap"
)

const (
	freshenedMetadata = "Freshened"
	kmsKeyIDHeader    = "X-Amz-Server-Side-Encryption-Aws-Kms-Key-Id"
)

type Store struct {
	client       *minio.Client
	bucket       string
	region       string
	storageClass string
	sse          encrypt.ServerSide
}

func New(s config.Storage) (*Store, error) {
	endpoint := s.Endpoint
	secure := !s.Insecure
	if strings.HasPrefix(endpoint, "http://") {
		secure = false
	}
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")

	creds := credentials.NewStaticV4(s.AccessKeyID, s.SecretAccessKey, "")
	if s.AccessKeyID == "" {
		creds = credentials.NewEnvMinio()
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:        creds,
		Secure:       secure,
		Region:       s.Region,
		Transport:    http.DefaultTransport.(*http.Transport).Clone(),
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, err
	}

	st := &Store{
		client: client,
		bucket: s.Bucket,
		region: s.Region,
	}
	if s.StorageClass != "" && s.StorageClass != "STANDARD_IA" {
		st.storageClass = s.StorageClass
	}
	if s.EncryptionKeyID != "" {
		sse, err := encrypt.NewSSEKMS(s.EncryptionKeyID, nil)
		if err != nil {
			return nil, fmt.Errorf("encryption key %q: %w", s.EncryptionKeyID, err)
		}
		st.sse = sse
	}
	return st, nil
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return true
	}
	return false
}

func wrapNotFound(err error) error {
	if err != nil && isNotFound(err) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	return err
}

func (s *Store) Stat(ctx context.Context, path string) (store.ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{})
	if err != nil {
		return store.ObjectInfo{}, wrapNotFound(err)
	}
	return store.ObjectInfo{
		Path:            path,
		Size:            info.Size,
		LastModified:    info.LastModified,
		EncryptionKeyID: info.Metadata.Get(kmsKeyIDHeader),
	}, nil
}

// Touch copies the object onto itself with new metadata, which moves its
// modification time without sending the bytes.
func (s *Store) Touch(ctx context.Context, path string) error {
	dst := minio.CopyDestOptions{
		Bucket:          s.bucket,
		Object:          path,
		ReplaceMetadata: true,
		UserMetadata: map[string]string{
			freshenedMetadata: time.Now().UTC().Format(time.RFC3339),
		},
		Encryption: s.sse,
	}
	src := minio.CopySrcOptions{
		Bucket: s.bucket,
		Object: path,
	}
	_, err := s.client.CopyObject(ctx, dst, src)
	return wrapNotFound(err)
}

func (s *Store) Put(ctx context.Context, path string, body store.Body) error {
	opts := minio.PutObjectOptions{
		ServerSideEncryption: s.sse,
		StorageClass:         s.storageClass,
		SendContentMd5:       true,
	}
	_, err := s.client.PutObject(ctx, s.bucket, path, body.Reader(), body.Size, opts)
	return err
}

func (s *Store) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, wrapNotFound(err)
	}
	// GetObject is lazy; Stat surfaces a missing object before any bytes
	// are expected.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, wrapNotFound(err)
	}
	return obj, nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	return s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{})
}

func (s *Store) List(ctx context.Context, prefix string, fn func(store.ObjectInfo) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return obj.Err
		}
		info := store.ObjectInfo{
			Path:         obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		}
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var result []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return result, obj.Err
		}
		if strings.HasSuffix(obj.Key, "/") {
			result = append(result, obj.Key)
		} else {
			zap.S().Warnw("unexpected_objects_in_bucket", "keys", []string{obj.Key})
		}
	}
	return result, nil
}

func (s *Store) BucketExists(ctx context.Context) (bool, error) {
	return s.client.BucketExists(ctx, s.bucket)
}

func (s *Store) CreateBucket(ctx context.Context) error {
	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
}

func (s *Store) DeleteBucket(ctx context.Context) error {
	return s.client.RemoveBucket(ctx, s.bucket)
}

func (s *Store) Close() error {
	return nil
}

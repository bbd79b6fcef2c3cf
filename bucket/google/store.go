// Copyright 2019 RetailNext, Inc.
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

// Package google stores backups in Cloud Storage.
package google

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"github.com/retailnext/sstablebackup/bucket/store"
	"github.com/retailnext/sstablebackup/config"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
)

const freshenedMetadata = "freshened"

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

type Store struct {
	storageClient *storage.Client
	bucket        string
	project       string
	location      string
	kmsKeyName    string
	storageClass  string
}

func New(ctx context.Context, s config.Storage) (*Store, error) {
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	st := &Store{
		storageClient: storageClient,
		bucket:        s.Bucket,
		project:       s.Project,
		location:      s.Region,
		kmsKeyName:    s.EncryptionKeyID,
	}
	if s.StorageClass != "" && s.StorageClass != "STANDARD_IA" {
		st.storageClass = s.StorageClass
	}
	st.validateBucketConfiguration(ctx)
	return st, nil
}

func (s *Store) validateBucketConfiguration(ctx context.Context) {
	attrs, err := s.storageClient.Bucket(s.bucket).Attrs(ctx)
	if err != nil {
		zap.S().Warnw("failed_to_validate_bucket_configuration", "bucket", s.bucket, "err", err)
		return
	}
	if attrs.RetentionPolicy != nil {
		zap.S().Infow("bucket_retention_policy", "bucket", s.bucket, "period", attrs.RetentionPolicy.RetentionPeriod)
	}
	if s.kmsKeyName == "" && attrs.Encryption != nil && attrs.Encryption.DefaultKMSKeyName != "" {
		zap.S().Infow("bucket_default_kms_key", "bucket", s.bucket, "key", attrs.Encryption.DefaultKMSKeyName)
	}
}

func wrapNotFound(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	return err
}

func (s *Store) object(path string) *storage.ObjectHandle {
	return s.storageClient.Bucket(s.bucket).Object(path)
}

func (s *Store) Stat(ctx context.Context, path string) (store.ObjectInfo, error) {
	attrs, err := s.object(path).Attrs(ctx)
	if err != nil {
		return store.ObjectInfo{}, wrapNotFound(err)
	}
	return store.ObjectInfo{
		Path:            path,
		Size:            attrs.Size,
		LastModified:    attrs.Updated,
		EncryptionKeyID: attrs.KMSKeyName,
	}, nil
}

// Touch updates object metadata, which moves the update time without
// rewriting the object.
func (s *Store) Touch(ctx context.Context, path string) error {
	_, err := s.object(path).Update(ctx, storage.ObjectAttrsToUpdate{
		Metadata: map[string]string{
			freshenedMetadata: time.Now().UTC().Format(time.RFC3339),
		},
	})
	return wrapNotFound(err)
}

func (s *Store) Put(ctx context.Context, path string, body store.Body) error {
	sum := crc32.New(castagnoli)
	if _, err := io.Copy(sum, io.NewSectionReader(body.ReaderAt, 0, body.Size)); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := s.object(path).NewWriter(ctx)
	w.KMSKeyName = s.kmsKeyName
	w.StorageClass = s.storageClass
	w.CRC32C = sum.Sum32()
	w.SendCRC32C = true
	if _, err := io.Copy(w, body.Reader()); err != nil {
		// Cancelling before Close abandons the upload.
		cancel()
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (s *Store) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := s.object(path).NewReader(ctx)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return r, nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	err := s.object(path).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}

func (s *Store) List(ctx context.Context, prefix string, fn func(store.ObjectInfo) error) error {
	objects := s.storageClient.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := objects.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return err
		}
		info := store.ObjectInfo{
			Path:            attrs.Name,
			Size:            attrs.Size,
			LastModified:    attrs.Updated,
			EncryptionKeyID: attrs.KMSKeyName,
		}
		if err := fn(info); err != nil {
			return err
		}
	}
}

func (s *Store) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	query := &storage.Query{
		Delimiter: "/",
		Prefix:    prefix,
	}
	var result []string
	objects := s.storageClient.Bucket(s.bucket).Objects(ctx, query)
	for {
		attrs, err := objects.Next()
		if err == iterator.Done {
			return result, nil
		}
		if err != nil {
			return result, err
		}
		if attrs.Name != "" {
			zap.S().Warnw("unexpected_objects_in_bucket", "keys", []string{attrs.Name})
			continue
		}
		result = append(result, attrs.Prefix)
	}
}

func (s *Store) BucketExists(ctx context.Context) (bool, error) {
	_, err := s.storageClient.Bucket(s.bucket).Attrs(ctx)
	if errors.Is(err, storage.ErrBucketNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) CreateBucket(ctx context.Context) error {
	if s.project == "" {
		return errors.New("creating a GCS bucket needs --gcs-project")
	}
	attrs := &storage.BucketAttrs{
		Location: s.location,
	}
	if s.kmsKeyName != "" {
		attrs.Encryption = &storage.BucketEncryption{DefaultKMSKeyName: s.kmsKeyName}
	}
	return s.storageClient.Bucket(s.bucket).Create(ctx, s.project, attrs)
}

func (s *Store) DeleteBucket(ctx context.Context) error {
	return s.storageClient.Bucket(s.bucket).Delete(ctx)
}

func (s *Store) Close() error {
	return s.storageClient.Close()
}

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

// Package aws stores backups in S3.
package aws

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/retailnext/sstablebackup/bucket/store"
	"github.com/retailnext/sstablebackup/config"
	"go.uber.org/zap"
)

const freshenedTag = "freshened"

// s3API is the part of *s3.Client the store uses.
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	PutObjectTagging(ctx context.Context, params *s3.PutObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	DeleteBucket(ctx context.Context, params *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
	GetBucketEncryption(ctx context.Context, params *s3.GetBucketEncryptionInput, optFns ...func(*s3.Options)) (*s3.GetBucketEncryptionOutput, error)
	s3.ListObjectsV2APIClient
}

type Store struct {
	s3Svc    s3API
	bucket   string
	region   string
	uploader *safeUploader
}

func New(ctx context.Context, s config.Storage) (*Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if s.Region != "" {
		opts = append(opts, awsconfig.WithRegion(s.Region))
	}
	awsConf, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	s3Svc := s3.NewFromConfig(awsConf, func(o *s3.Options) {
		if s.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.Endpoint)
			o.UsePathStyle = true
		}
	})

	st := &Store{
		s3Svc:  s3Svc,
		bucket: s.Bucket,
		region: awsConf.Region,
		uploader: &safeUploader{
			s3Svc:        s3Svc,
			bucket:       s.Bucket,
			storageClass: types.StorageClass(s.StorageClass),
			partSize:     defaultPartSize,
			concurrency:  4,
		},
	}
	if s.EncryptionKeyID != "" {
		st.uploader.serverSideEncryption = types.ServerSideEncryptionAwsKms
		st.uploader.kmsKeyID = aws.String(s.EncryptionKeyID)
	} else {
		st.uploader.serverSideEncryption = types.ServerSideEncryptionAes256
	}
	st.validateEncryptionConfiguration(ctx)
	return st, nil
}

// validateEncryptionConfiguration warns about buckets without default
// encryption. The bucket may not exist yet when it is about to be created.
func (s *Store) validateEncryptionConfiguration(ctx context.Context) {
	output, err := s.s3Svc.GetBucketEncryption(ctx, &s3.GetBucketEncryptionInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		zap.S().Warnw("failed_to_validate_bucket_encryption", "bucket", s.bucket, "err", err)
		return
	}
	if output.ServerSideEncryptionConfiguration != nil {
		for _, rule := range output.ServerSideEncryptionConfiguration.Rules {
			if rule.ApplyServerSideEncryptionByDefault != nil && rule.ApplyServerSideEncryptionByDefault.SSEAlgorithm != "" {
				return
			}
		}
	}
	zap.S().Warnw("bucket_not_configured_with_sse_algorithm", "bucket", s.bucket)
}

func IsNoSuchKey(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}

func wrapNotFound(err error) error {
	if err != nil && IsNoSuchKey(err) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	return err
}

func (s *Store) Stat(ctx context.Context, path string) (store.ObjectInfo, error) {
	output, err := s.s3Svc.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return store.ObjectInfo{}, wrapNotFound(err)
	}
	if aws.ToBool(output.DeleteMarker) {
		zap.S().Infow("stat_saw_delete_marker", "key", path)
		return store.ObjectInfo{}, store.ErrNotFound
	}
	return store.ObjectInfo{
		Path:            path,
		Size:            aws.ToInt64(output.ContentLength),
		LastModified:    aws.ToTime(output.LastModified),
		EncryptionKeyID: aws.ToString(output.SSEKMSKeyId),
	}, nil
}

// Touch retags the object so that tag based lifecycle rules see it as live.
func (s *Store) Touch(ctx context.Context, path string) error {
	_, err := s.s3Svc.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
		Tagging: &types.Tagging{
			TagSet: []types.Tag{
				{
					Key:   aws.String(freshenedTag),
					Value: aws.String(time.Now().UTC().Format(time.RFC3339)),
				},
			},
		},
	})
	return wrapNotFound(err)
}

func (s *Store) Put(ctx context.Context, path string, body store.Body) error {
	return s.uploader.upload(ctx, path, body)
}

func (s *Store) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	output, err := s.s3Svc.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return output.Body, nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.s3Svc.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	return err
}

func (s *Store) List(ctx context.Context, prefix string, fn func(store.ObjectInfo) error) error {
	paginator := s3.NewListObjectsV2Paginator(s.s3Svc, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			info := store.ObjectInfo{
				Path:         aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			}
			if err := fn(info); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.s3Svc, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	var result []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return result, err
		}
		for _, p := range page.CommonPrefixes {
			result = append(result, aws.ToString(p.Prefix))
		}
		if len(page.Contents) > 0 {
			unexpected := make([]string, 0, len(page.Contents))
			for _, o := range page.Contents {
				unexpected = append(unexpected, aws.ToString(o.Key))
			}
			zap.S().Warnw("unexpected_objects_in_bucket", "keys", unexpected)
		}
	}
	return result, nil
}

func (s *Store) BucketExists(ctx context.Context) (bool, error) {
	_, err := s.s3Svc.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		if IsNoSuchKey(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) CreateBucket(ctx context.Context) error {
	input := &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	}
	if s.region != "" && s.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	_, err := s.s3Svc.CreateBucket(ctx, input)
	return err
}

func (s *Store) DeleteBucket(ctx context.Context) error {
	_, err := s.s3Svc.DeleteBucket(ctx, &s3.DeleteBucketInput{
		Bucket: aws.String(s.bucket),
	})
	return err
}

func (s *Store) Close() error {
	return nil
}

// contentMD5 hashes the unfiltered bytes of a part so that S3 rejects a part
// that was corrupted in flight.
func contentMD5(r io.ReaderAt, offset, length int64) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, io.NewSectionReader(r, offset, length)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

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

package aws

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/retailnext/sstablebackup/bucket/store"
	"go.uber.org/zap"
)

const (
	defaultPartSize = 64 * 1024 * 1024
	maxParts        = 10000
)

// safeUploader sends every part with its Content-MD5 so that S3 verifies each
// part independently, and aborts multipart uploads that do not complete.
type safeUploader struct {
	s3Svc s3API

	bucket               string
	serverSideEncryption types.ServerSideEncryption
	kmsKeyID             *string
	storageClass         types.StorageClass

	partSize    int64
	concurrency int
}

func (u *safeUploader) upload(ctx context.Context, key string, body store.Body) error {
	partSize := u.partSize
	for body.Size > partSize*maxParts {
		partSize *= 2
	}
	if body.Size <= partSize {
		return u.uploadSinglePart(ctx, key, body)
	}
	upl := fileUploader{
		safeUploader: u,
		key:          key,
		body:         body,
		partSize:     partSize,
		parts:        int32((body.Size + partSize - 1) / partSize),
		errors:       make(map[int32]error),
		etags:        make(map[int32]string),
	}
	return upl.upload(ctx)
}

func (u *safeUploader) uploadSinglePart(ctx context.Context, key string, body store.Body) error {
	md5, err := contentMD5(body.ReaderAt, 0, body.Size)
	if err != nil {
		return err
	}
	input := &s3.PutObjectInput{
		Bucket:               aws.String(u.bucket),
		Key:                  aws.String(key),
		ContentLength:        aws.Int64(body.Size),
		ContentMD5:           aws.String(md5),
		ServerSideEncryption: u.serverSideEncryption,
		SSEKMSKeyId:          u.kmsKeyID,
		StorageClass:         u.storageClass,
		Body:                 body.Reader(),
	}
	_, err = u.s3Svc.PutObject(ctx, input)
	return err
}

type fileUploader struct {
	*safeUploader

	key      string
	body     store.Body
	partSize int64
	parts    int32

	ctx       context.Context
	ctxCancel context.CancelFunc

	wg      sync.WaitGroup
	limiter chan struct{}

	lock     sync.Mutex
	errors   map[int32]error
	etags    map[int32]string
	uploadID string
}

func (u *fileUploader) upload(ctx context.Context) (err error) {
	u.ctx, u.ctxCancel = context.WithCancel(ctx)
	defer u.ctxCancel()

	output, err := u.s3Svc.CreateMultipartUpload(u.ctx, &s3.CreateMultipartUploadInput{
		Bucket:               aws.String(u.bucket),
		Key:                  aws.String(u.key),
		ServerSideEncryption: u.serverSideEncryption,
		SSEKMSKeyId:          u.kmsKeyID,
		StorageClass:         u.storageClass,
	})
	if err != nil {
		return err
	}
	u.uploadID = aws.ToString(output.UploadId)
	defer func() {
		if err != nil {
			u.abort()
		}
	}()

	u.limiter = make(chan struct{}, u.concurrency)
	doneCh := u.ctx.Done()
partLoop:
	for partNumber := int32(1); partNumber <= u.parts; partNumber++ {
		select {
		case <-doneCh:
			break partLoop
		case u.limiter <- struct{}{}:
			u.wg.Add(1)
			go u.uploadPart(partNumber)
		}
	}
	u.wg.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return u.tryToComplete(ctx)
}

func (u *fileUploader) tryToComplete(ctx context.Context) error {
	u.lock.Lock()
	defer u.lock.Unlock()

	parts := make([]types.CompletedPart, 0, u.parts)
	for partNumber := int32(1); partNumber <= u.parts; partNumber++ {
		etag, ok := u.etags[partNumber]
		if !ok {
			if _, alreadyError := u.errors[partNumber]; !alreadyError && len(u.errors) == 0 {
				u.errors[partNumber] = fmt.Errorf("etag missing")
			}
			continue
		}
		parts = append(parts, types.CompletedPart{
			PartNumber: aws.Int32(partNumber),
			ETag:       aws.String(etag),
		})
	}
	if len(u.errors) > 0 {
		return UploadPartFailures(u.errors)
	}

	_, err := u.s3Svc.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(u.bucket),
		Key:      aws.String(u.key),
		UploadId: aws.String(u.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: parts,
		},
	})
	return err
}

func (u *fileUploader) abort() {
	lgr := zap.S()
	// The caller's context may be the reason for aborting.
	_, err := u.s3Svc.AbortMultipartUpload(context.Background(), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.bucket),
		Key:      aws.String(u.key),
		UploadId: aws.String(u.uploadID),
	})
	if err != nil {
		lgr.Errorw("abort_multipart_upload_error", "key", u.key, "err", err)
	} else {
		lgr.Infow("abort_multipart_upload_ok", "key", u.key)
	}
}

func (u *fileUploader) uploadPart(partNumber int32) {
	var err error
	defer func() {
		if err != nil {
			u.lock.Lock()
			u.errors[partNumber] = err
			u.ctxCancel()
			u.lock.Unlock()
		}
		<-u.limiter
		u.wg.Done()
	}()

	offset := int64(partNumber-1) * u.partSize
	length := u.partSize
	if offset+length > u.body.Size {
		length = u.body.Size - offset
	}
	md5, err := contentMD5(u.body.ReaderAt, offset, length)
	if err != nil {
		return
	}
	var output *s3.UploadPartOutput
	output, err = u.s3Svc.UploadPart(u.ctx, &s3.UploadPartInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(u.key),
		UploadId:      aws.String(u.uploadID),
		PartNumber:    aws.Int32(partNumber),
		ContentLength: aws.Int64(length),
		ContentMD5:    aws.String(md5),
		Body:          u.body.Section(offset, length),
	})
	if err != nil {
		return
	}

	u.lock.Lock()
	u.etags[partNumber] = aws.ToString(output.ETag)
	u.lock.Unlock()
}

type UploadPartFailures map[int32]error

func (e UploadPartFailures) Error() string {
	return fmt.Sprintf("%d parts failed to upload", len(e))
}

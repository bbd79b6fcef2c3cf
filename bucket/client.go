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

package bucket

import (
	"context"
	"errors"
	"io"

	"github.com/retailnext/sstablebackup/bucket/existscache"
	"github.com/retailnext/sstablebackup/bucket/keystore"
	"github.com/retailnext/sstablebackup/bucket/store"
	"github.com/retailnext/sstablebackup/manifests"
	"github.com/retailnext/sstablebackup/paranoid"
	"github.com/retailnext/sstablebackup/retrier"
	"golang.org/x/time/rate"
)

type Options struct {
	Store   store.ObjectStore
	Keys    keystore.KeyStore
	Retrier *retrier.Retrier
	// ExistsCache may be nil, in which case every freshen asks the store.
	ExistsCache *existscache.ExistsCache
	// MetadataRate limits freshen calls per second. Zero is unlimited.
	MetadataRate float64
	// EncryptionKeyID is the key new objects are written with, used to
	// decide whether an existing object can be kept.
	EncryptionKeyID string
}

type client struct {
	store           store.ObjectStore
	keys            keystore.KeyStore
	retrier         *retrier.Retrier
	exists          *existscache.ExistsCache
	limiter         *rate.Limiter
	encryptionKeyID string
}

func New(opts Options) Client {
	r := opts.Retrier
	if r == nil {
		r = retrier.New(retrier.Spec{}, nil)
	}
	limit := rate.Inf
	burst := 1
	if opts.MetadataRate > 0 {
		limit = rate.Limit(opts.MetadataRate)
		burst = int(opts.MetadataRate)
		if burst < 1 {
			burst = 1
		}
	}
	return &client{
		store:           opts.Store,
		keys:            opts.Keys,
		retrier:         r,
		exists:          opts.ExistsCache,
		limiter:         rate.NewLimiter(limit, burst),
		encryptionKeyID: opts.EncryptionKeyID,
	}
}

// call runs op under the retrier. Missing objects and cancellation are final;
// every other store error is worth another attempt.
func (c *client) call(ctx context.Context, op func() error) error {
	return c.retrier.Submit(ctx, func() error {
		err := op()
		if err == nil || errors.Is(err, store.ErrNotFound) || ctx.Err() != nil {
			return err
		}
		var mismatch *paranoid.FingerprintMismatch
		if errors.As(err, &mismatch) {
			return err
		}
		return retrier.Retriable(err)
	})
}

func (c *client) ObjectKeyToRemoteReference(objectKey string) RemoteRef {
	return RemoteRef{
		ObjectKey: objectKey,
		Path:      c.keys.Absolute(objectKey),
	}
}

func (c *client) ObjectKeyToNodeAwareRemoteReference(objectKey string) RemoteRef {
	return RemoteRef{
		ObjectKey: objectKey,
		Path:      c.keys.NodeAware(objectKey),
	}
}

func (c *client) Node() keystore.Node {
	return c.keys.Node
}

func (c *client) ForNode(node keystore.Node) Client {
	other := *c
	other.keys = c.keys.ForNode(node)
	return &other
}

func (c *client) Bucket() BucketService {
	return bucketService{c}
}

func (c *client) Close() error {
	return c.store.Close()
}

func (c *client) UploadFile(ctx context.Context, entry manifests.ManifestEntry, ref RemoteRef, filter store.ReaderFilter) error {
	file, err := paranoid.NewFile(entry.LocalFile)
	if err != nil {
		return err
	}
	return c.call(ctx, func() error {
		osFile, err := file.Open()
		if err != nil {
			return err
		}
		defer func() {
			_ = osFile.Close()
		}()
		body := store.Body{
			ReaderAt: osFile,
			Size:     file.Len(),
			Filter:   filter,
		}
		if err := c.store.Put(ctx, ref.Path, body); err != nil {
			return err
		}
		if err := osFile.Verify(); err != nil {
			return err
		}
		c.exists.Put(ref.Path, c.encryptionKeyID)
		return nil
	})
}

func (c *client) DownloadFile(ctx context.Context, ref RemoteRef, w io.Writer, filter store.ReaderFilter) (int64, error) {
	// A partial copy cannot be rewound on an arbitrary writer, so only
	// opening the object is retried.
	var body io.ReadCloser
	err := c.call(ctx, func() error {
		var err error
		body, err = c.store.Open(ctx, ref.Path)
		return err
	})
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = body.Close()
	}()
	var reader io.Reader = body
	if filter != nil {
		reader = filter(body)
	}
	return io.Copy(w, reader)
}

func (c *client) Delete(ctx context.Context, ref RemoteRef) error {
	err := c.call(ctx, func() error {
		return c.store.Delete(ctx, ref.Path)
	})
	c.exists.Forget(ref.Path, c.encryptionKeyID)
	return err
}

type bucketService struct {
	c *client
}

func (b bucketService) Exists(ctx context.Context) (bool, error) {
	var exists bool
	err := b.c.call(ctx, func() error {
		var err error
		exists, err = b.c.store.BucketExists(ctx)
		return err
	})
	return exists, err
}

func (b bucketService) Create(ctx context.Context) error {
	return b.c.call(ctx, func() error {
		return b.c.store.CreateBucket(ctx)
	})
}

func (b bucketService) Delete(ctx context.Context) error {
	return b.c.call(ctx, func() error {
		return b.c.store.DeleteBucket(ctx)
	})
}

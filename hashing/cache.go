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

package hashing

import (
	"context"
	"time"

	"github.com/retailnext/sstablebackup/cache"
	"github.com/retailnext/sstablebackup/metrics"
	"github.com/retailnext/sstablebackup/paranoid"
)

const cacheName = "digests"

// FileHasher digests fingerprinted files. Hasher computes every time; Cache
// remembers results across runs.
type FileHasher interface {
	Algorithm() Algorithm
	Digest(ctx context.Context, file paranoid.File) (string, error)
}

// Digest hashes file and fails if it changed while being read.
func (h Hasher) Digest(ctx context.Context, file paranoid.File) (string, error) {
	if !h.Enabled() {
		return "", nil
	}
	osFile, err := file.Open()
	if err != nil {
		return "", &IOFailure{Path: file.Name(), Err: err}
	}
	defer func() {
		_ = osFile.Close()
	}()
	sum, err := h.Hash(ctx, osFile)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &IOFailure{Path: file.Name(), Err: err}
	}
	if err := osFile.Verify(); err != nil {
		return "", err
	}
	return sum, nil
}

type Cache struct {
	c      *cache.Cache
	hasher Hasher
}

func NewCache(storage *cache.Storage, hasher Hasher) *Cache {
	return &Cache{
		c:      storage.Cache(cacheName),
		hasher: hasher,
	}
}

func (c *Cache) Algorithm() Algorithm {
	return c.hasher.Algorithm()
}

func (c *Cache) Digest(ctx context.Context, file paranoid.File) (string, error) {
	if !c.hasher.Enabled() {
		return "", nil
	}
	key := file.CacheKey(c.hasher.Algorithm().String())
	var result string
	getErr := c.c.Get(key, func(wrapped []byte) error {
		unwrapped := file.UnwrapCacheEntry(wrapped)
		if len(unwrapped) == 0 {
			return cache.DoNotPromote
		}
		result = string(unwrapped)
		return nil
	})
	switch getErr {
	case nil:
		metrics.Digest.Hit(file.Len())
		return result, nil
	case cache.NotFound, cache.DoNotPromote:
	default:
		return "", getErr
	}

	t0 := time.Now()
	result, err := c.hasher.Digest(ctx, file)
	if err != nil {
		return "", err
	}
	metrics.Digest.Miss(file.Len(), time.Since(t0).Seconds())

	if putErr := c.c.Put(key, file.WrapCacheEntry([]byte(result))); putErr != nil {
		return "", putErr
	}
	return result, nil
}

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

// Package existscache remembers objects that were recently freshened so that
// back to back backups of unchanged files skip the metadata round trips.
package existscache

import (
	"time"

	"github.com/retailnext/sstablebackup/cache"
	"github.com/retailnext/sstablebackup/metrics"
	"github.com/retailnext/sstablebackup/unixtime"
	"go.uber.org/zap"
)

const cacheName = "bucket_exists"

type ExistsCache struct {
	cache *cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// New returns a cache whose entries are trusted for ttl after the freshen
// that recorded them.
func New(storage *cache.Storage, ttl time.Duration) *ExistsCache {
	return &ExistsCache{
		cache: storage.Cache(cacheName),
		ttl:   ttl,
		now:   time.Now,
	}
}

func key(path, encryptionKeyID string) []byte {
	return []byte(path + "\x00" + encryptionKeyID)
}

// Get reports whether path was freshened with encryptionKeyID recently.
func (e *ExistsCache) Get(path, encryptionKeyID string) bool {
	if e == nil {
		return false
	}
	var exists bool
	err := e.cache.Get(key(path, encryptionKeyID), func(value []byte) error {
		var freshenedAt unixtime.Seconds
		if err := freshenedAt.UnmarshalBinary(value); err != nil {
			return err
		}
		if e.now().Before(freshenedAt.Time().Add(e.ttl)) {
			exists = true
			return nil
		}
		metrics.Freshen.ExistsCacheExpiry.Inc()
		return cache.DoNotPromote
	})
	if err != nil {
		switch err {
		case cache.NotFound, cache.DoNotPromote:
		default:
			zap.S().Warnw("exists_cache_get_error", "path", path, "err", err)
		}
	}
	return exists
}

func (e *ExistsCache) Put(path, encryptionKeyID string) {
	if e == nil {
		return
	}
	value, err := unixtime.FromTime(e.now()).MarshalBinary()
	if err != nil {
		panic(err)
	}
	if err := e.cache.Put(key(path, encryptionKeyID), value); err != nil {
		zap.S().Warnw("exists_cache_put_error", "path", path, "err", err)
	}
}

// Forget drops path, for objects that turned out to be gone.
func (e *ExistsCache) Forget(path, encryptionKeyID string) {
	if e == nil {
		return
	}
	if err := e.cache.Delete(key(path, encryptionKeyID)); err != nil {
		zap.S().Warnw("exists_cache_delete_error", "path", path, "err", err)
	}
}

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

// Package cache is a small bbolt key/value store whose entries expire by
// living in time-rotated top-level buckets. Values read from the previous
// period are promoted into the current one so hot entries survive rotation.
package cache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/retailnext/sstablebackup/metrics"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	DoNotPromote = errors.New("do not promote")
	NotFound     = errors.New("not found")
)

const defaultPeriod = 1 << 20 // ~12 days

var (
	Shared    *Storage
	sharedErr error
	once      sync.Once
)

// OpenShared opens the process-wide cache once. Later calls return the
// result of the first.
func OpenShared(path string) (*Storage, error) {
	once.Do(func() {
		Shared, sharedErr = Open(path, 0644)
	})
	return Shared, sharedErr
}

func Open(path string, mode os.FileMode) (*Storage, error) {
	db, err := bbolt.Open(path, mode, &bbolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, err
	}
	ensureFileOwnership(path)
	return &Storage{
		db:     db,
		period: defaultPeriod,
		now:    time.Now,
	}, nil
}

// ensureFileOwnership keeps the database owned by the same uid/gid as the containing directory.
// Without this, running the tool as root to restore can make the cache db unusable by the user it normally runs as.
func ensureFileOwnership(path string) {
	if os.Geteuid() != 0 {
		return
	}
	lgr := zap.S()
	dbInfo, err := os.Stat(path)
	if err != nil {
		lgr.Errorw("cache_db_stat_error", "err", err)
		return
	}
	parentInfo, err := os.Stat(filepath.Dir(path))
	if err != nil {
		lgr.Errorw("cache_db_stat_error", "err", err)
		return
	}
	dbStat, ok := dbInfo.Sys().(*syscall.Stat_t)
	if !ok {
		lgr.Warnw("cache_db_stat_unsupported")
		return
	}
	parentStat, ok := parentInfo.Sys().(*syscall.Stat_t)
	if !ok {
		lgr.Warnw("cache_db_stat_unsupported")
		return
	}
	if dbStat.Uid == parentStat.Uid && dbStat.Gid == parentStat.Gid {
		return
	}
	if err := os.Chown(path, int(parentStat.Uid), int(parentStat.Gid)); err != nil {
		lgr.Errorw("cache_db_chown_error", "err", err)
		return
	}
	lgr.Infow("cache_db_chown_ok", "uid", parentStat.Uid, "gid", parentStat.Gid)
}

type Storage struct {
	db     *bbolt.DB
	period int64
	now    func() time.Time
}

func (s *Storage) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Cache returns a named keyspace inside the storage.
func (s *Storage) Cache(name string) *Cache {
	return &Cache{
		storage:  s,
		name:     []byte(name),
		counters: metrics.NewCacheCounters(name),
	}
}

type Cache struct {
	storage  *Storage
	name     []byte
	counters *metrics.CacheCounters
}

// WithValueFunc sees the stored value only for the duration of the call.
// Returning DoNotPromote reports the value as unusable.
type WithValueFunc func(value []byte) error

func (c *Cache) Get(key []byte, f WithValueFunc) error {
	var promote []byte
	viewErr := c.storage.db.View(func(tx *bbolt.Tx) error {
		current, previous := c.storage.periods()
		if value := c.lookup(tx, current, key); value != nil {
			return f(value)
		}
		if value := c.lookup(tx, previous, key); value != nil {
			if err := f(value); err != nil {
				return err
			}
			promote = bytes.Clone(value)
			return nil
		}
		return NotFound
	})
	if viewErr != nil {
		c.counters.Misses.Inc()
		return viewErr
	}
	c.counters.Hits.Inc()
	if promote == nil {
		return nil
	}
	c.counters.Promotions.Inc()
	return c.put(key, promote)
}

func (c *Cache) lookup(tx *bbolt.Tx, period, key []byte) []byte {
	top := tx.Bucket(period)
	if top == nil {
		return nil
	}
	bucket := top.Bucket(c.name)
	if bucket == nil {
		return nil
	}
	return bucket.Get(key)
}

func (c *Cache) Put(key, value []byte) error {
	c.counters.Puts.Inc()
	return c.put(key, value)
}

// Delete removes the key from both live periods.
func (c *Cache) Delete(key []byte) error {
	return c.storage.db.Update(func(tx *bbolt.Tx) error {
		current, previous := c.storage.periods()
		for _, period := range [][]byte{current, previous} {
			if top := tx.Bucket(period); top != nil {
				if bucket := top.Bucket(c.name); bucket != nil {
					if err := bucket.Delete(key); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
}

func (c *Cache) put(key, value []byte) error {
	return c.storage.db.Update(func(tx *bbolt.Tx) error {
		current, previous := c.storage.periods()
		top := tx.Bucket(current)
		if top == nil {
			if err := purgeExpired(tx, current, previous); err != nil {
				return err
			}
			var err error
			if top, err = tx.CreateBucket(current); err != nil {
				return err
			}
			zap.S().Debugw("cache_period_created", "period", binary.BigEndian.Uint64(current))
		}
		bucket, err := top.CreateBucketIfNotExists(c.name)
		if err != nil {
			return err
		}
		return bucket.Put(key, value)
	})
}

func purgeExpired(tx *bbolt.Tx, current, previous []byte) error {
	var expired [][]byte
	err := tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
		if !bytes.Equal(name, current) && !bytes.Equal(name, previous) {
			expired = append(expired, bytes.Clone(name))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, name := range expired {
		if err := tx.DeleteBucket(name); err != nil {
			return err
		}
		zap.S().Debugw("cache_period_removed", "period", binary.BigEndian.Uint64(name))
	}
	return nil
}

func (s *Storage) periods() ([]byte, []byte) {
	now := s.now().Unix()
	currentTs := (now / s.period) * s.period
	previousTs := currentTs - s.period

	current := make([]byte, 8)
	binary.BigEndian.PutUint64(current, uint64(currentTs))
	previous := make([]byte, 8)
	binary.BigEndian.PutUint64(previous, uint64(previousTs))
	return current, previous
}

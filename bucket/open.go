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

package bucket

import (
	"context"
	"fmt"
	"sync"

	"github.com/retailnext/sstablebackup/bucket/aws"
	"github.com/retailnext/sstablebackup/bucket/existscache"
	"github.com/retailnext/sstablebackup/bucket/google"
	"github.com/retailnext/sstablebackup/bucket/keystore"
	"github.com/retailnext/sstablebackup/bucket/local"
	"github.com/retailnext/sstablebackup/bucket/minio"
	"github.com/retailnext/sstablebackup/bucket/store"
	"github.com/retailnext/sstablebackup/cache"
	"github.com/retailnext/sstablebackup/config"
	"github.com/retailnext/sstablebackup/retrier"
	"go.uber.org/zap"
)

var (
	Shared    Client
	sharedErr error
	once      sync.Once
)

// OpenShared opens the process-wide client once. Later calls return the
// result of the first, whatever node they pass.
func OpenShared(ctx context.Context, cfg *config.Config, node keystore.Node) (Client, error) {
	once.Do(func() {
		Shared, sharedErr = Open(ctx, cfg, node)
	})
	return Shared, sharedErr
}

func Open(ctx context.Context, cfg *config.Config, node keystore.Node) (Client, error) {
	objectStore, err := OpenStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	var exists *existscache.ExistsCache
	if cfg.CacheFile != "" && cfg.ExistsTTL > 0 {
		storage, err := cache.OpenShared(cfg.CacheFile)
		if err != nil {
			zap.S().Warnw("exists_cache_unavailable", "path", cfg.CacheFile, "err", err)
		} else {
			exists = existscache.New(storage, cfg.ExistsTTL)
		}
	}

	return New(Options{
		Store:           objectStore,
		Keys:            keystore.NewKeyStore(cfg.Storage.Bucket, cfg.Storage.Prefix, node),
		Retrier:         retrier.New(cfg.Retry, nil),
		ExistsCache:     exists,
		MetadataRate:    cfg.MetadataRate,
		EncryptionKeyID: cfg.Storage.EncryptionKeyID,
	}), nil
}

// OpenStore connects to the configured provider.
func OpenStore(ctx context.Context, s config.Storage) (store.ObjectStore, error) {
	switch s.Provider {
	case config.ProviderAWS:
		return aws.New(ctx, s)
	case config.ProviderGoogle:
		return google.New(ctx, s)
	case config.ProviderMinio:
		return minio.New(s)
	case config.ProviderLocal:
		return local.New(s.LocalRoot, s.Bucket)
	}
	return nil, fmt.Errorf("unknown cloud provider %q", s.Provider)
}

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


// Package backup snapshots a node and uploads the snapshot's files followed
// by the manifest that describes them.
package backup

import (
	"context"
	"fmt"

	"github.com/retailnext/sstablebackup/bucket"
	"github.com/retailnext/sstablebackup/cache"
	"github.com/retailnext/sstablebackup/config"
	"github.com/retailnext/sstablebackup/hashing"
	"github.com/retailnext/sstablebackup/manifests"
	"github.com/retailnext/sstablebackup/snapshots"
	"github.com/retailnext/sstablebackup/systemlocal"
	"github.com/retailnext/sstablebackup/transfer"
	"github.com/retailnext/sstablebackup/unixtime"
	"go.uber.org/zap"
)

const snapshotPrefix = "sstablebackup-"

type Options struct {
	Identity systemlocal.Options
	Entities manifests.DatabaseEntities
	// Tag backs up an existing snapshot. It is never cleared.
	Tag          string
	KeepSnapshot bool
	FailFast     bool

	// Client defaults to the shared client for this node.
	Client bucket.Client
	// Tracker defaults to the shared tracker.
	Tracker *transfer.Tracker
}

// Open identifies the node and returns the client for its backups.
func Open(ctx context.Context, cfg *config.Config, opts Options) (systemlocal.Identity, bucket.Client, error) {
	identity, err := systemlocal.Identify(ctx, opts.Identity)
	if err != nil {
		return identity, nil, err
	}
	if opts.Client != nil {
		return identity, opts.Client, nil
	}
	client, err := bucket.OpenShared(ctx, cfg, identity.Node)
	return identity, client, err
}

// Run takes a snapshot, or reuses opts.Tag, and backs it up. The manifest is
// only uploaded once every file it references is in the bucket, so a failed
// run leaves no manifest behind. The returned manifest is set whenever the
// snapshot was parsed.
func Run(ctx context.Context, cfg *config.Config, opts Options) (*manifests.Manifest, error) {
	lgr := zap.S()
	identity, client, err := Open(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	now := unixtime.Now()
	cleanup := &snapshotCleanup{name: opts.Tag, keep: true}
	if cleanup.name == "" {
		cleanup.name = snapshotPrefix + now.Tag()
		cleanup.keep = opts.KeepSnapshot
		if err := takeSnapshot(ctx, cleanup.name, opts.Entities); err != nil {
			return nil, err
		}
	}
	defer func() {
		if err := cleanup.Execute(ctx); err != nil {
			lgr.Errorw("clear_snapshot_error", "tag", cleanup.name, "err", err)
		}
	}()
	tag := cleanup.name

	hasher := fileHasher(cfg)
	parsed, err := snapshots.Parse(ctx, snapshots.Request{
		DataDirs: identity.DataDirectories,
		Tag:      tag,
		Entities: opts.Entities,
		Hasher:   hasher,
	})
	if err != nil {
		return nil, err
	}
	snapshot, ok := parsed[tag]
	if !ok {
		return nil, fmt.Errorf("snapshot %q not found in %v", tag, identity.DataDirectories)
	}
	manifest := manifests.New(snapshot, identity.SchemaVersion, identity.Tokens, hasher.Algorithm().String(), now)
	entries := manifest.Entries(true)
	lgr.Infow("backup_starting", "tag", tag, "node", identity.Node, "files", len(entries), "size", manifest.Size())

	tracker := opts.Tracker
	if tracker == nil {
		tracker = transfer.OpenShared()
	}
	session := tracker.Submit(ctx, transfer.Request{
		Client:      client,
		Direction:   transfer.Upload,
		Entries:     entries,
		Tag:         tag,
		Concurrency: cfg.Transfer.Concurrency,
		Bandwidth:   cfg.Transfer.Bandwidth,
		Duration:    cfg.Transfer.Duration,
		FailFast:    opts.FailFast,
	})
	defer tracker.RemoveSession(session)
	// The snapshot is cleared on return, so no upload may still be
	// reading it.
	defer session.WaitUntilStopped()

	if err := session.WaitUntilConsideredFinished(ctx); err != nil {
		return manifest, err
	}
	if !session.IsSuccessful() {
		failures := session.Failures()
		if len(failures) == 0 {
			return manifest, session.Err()
		}
		lgr.Errorw("backup_upload_failed", "tag", tag, "failed", len(failures), "failures", failures)
		return manifest, failures
	}

	if err := putManifest(ctx, client, manifest); err != nil {
		lgr.Errorw("manifest_put_error", "tag", tag, "err", err)
		return manifest, err
	}
	cleanup.MarkManifestUploadSuccess()
	lgr.Infow("put_manifest", "tag", tag, "files", len(entries), "size", manifest.Size())
	return manifest, nil
}

func putManifest(ctx context.Context, client bucket.Client, manifest *manifests.Manifest) error {
	data, err := manifest.MarshalJSON()
	if err != nil {
		return err
	}
	ref := client.ObjectKeyToNodeAwareRemoteReference(manifest.Entry.ObjectKey)
	return client.UploadText(ctx, string(data), ref)
}

// fileHasher remembers digests in the cache file when there is one, since
// most files of consecutive snapshots are the same hard-linked sstables.
func fileHasher(cfg *config.Config) hashing.FileHasher {
	hasher := hashing.New(cfg.Hash)
	if cfg.CacheFile == "" || !hasher.Enabled() {
		return hasher
	}
	storage, err := cache.OpenShared(cfg.CacheFile)
	if err != nil {
		zap.S().Warnw("digest_cache_unavailable", "path", cfg.CacheFile, "err", err)
		return hasher
	}
	return hashing.NewCache(storage, hasher)
}

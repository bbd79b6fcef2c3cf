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


// Package restore downloads a node's backup into cassandra's data layout.
package restore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"strconv"

	"github.com/retailnext/sstablebackup/bucket"
	"github.com/retailnext/sstablebackup/config"
	"github.com/retailnext/sstablebackup/hashing"
	"github.com/retailnext/sstablebackup/manifests"
	"github.com/retailnext/sstablebackup/snapshots"
	"github.com/retailnext/sstablebackup/systemlocal"
	"github.com/retailnext/sstablebackup/transfer"
	"github.com/retailnext/writefile"
	"go.uber.org/zap"
)

type Options struct {
	Identity systemlocal.Options
	// HostnamePattern restores the backup of the node matching this node's
	// numeric suffix under another name.
	HostnamePattern string
	// Tag, or a prefix of it, selects the manifest. Empty means the latest.
	Tag string
	Selection
	// Target defaults to the node's first data directory.
	Target string
	// SchemaSnapshot names a local snapshot whose schemas must agree with
	// the manifest before anything is downloaded.
	SchemaSnapshot string
	// Owner owns restored files and directories when set.
	Owner    string
	DryRun   bool
	FailFast bool

	// Client defaults to the shared client for this node.
	Client bucket.Client
	// Tracker defaults to the shared tracker.
	Tracker *transfer.Tracker
}

// Run restores the selected manifest and returns the plan it followed.
func Run(ctx context.Context, cfg *config.Config, opts Options) (Plan, error) {
	identity, err := systemlocal.Identify(ctx, opts.Identity)
	if err != nil {
		return Plan{}, err
	}
	client := opts.Client
	if client == nil {
		if client, err = bucket.OpenShared(ctx, cfg, identity.Node); err != nil {
			return Plan{}, err
		}
	}
	source, err := SourceNode(ctx, client, identity.Node, opts.HostnamePattern)
	if err != nil {
		return Plan{}, err
	}
	if source != identity.Node {
		zap.S().Infow("restoring_from_other_node", "node", identity.Node, "source", source)
	}
	client = client.ForNode(source)

	manifest, err := GetManifest(ctx, client, opts.Tag)
	if err != nil {
		return Plan{}, err
	}
	if opts.SchemaSnapshot != "" {
		if err := checkSchemas(ctx, identity.DataDirectories, opts.SchemaSnapshot, opts.Entities, manifest); err != nil {
			return Plan{}, err
		}
	}

	target := opts.Target
	if target == "" {
		if len(identity.DataDirectories) == 0 {
			return Plan{}, errors.New("no target directory")
		}
		target = identity.DataDirectories[0]
	}
	plan, err := NewPlan(manifest, target, opts.Selection)
	if err != nil {
		return Plan{}, err
	}
	if opts.DryRun {
		plan.LogWouldDownload()
		return plan, nil
	}
	writeTarget, err := targetConfig(target, opts.Owner)
	if err != nil {
		return plan, err
	}
	return plan, download(ctx, cfg, client, plan, writeTarget, opts)
}

func download(ctx context.Context, cfg *config.Config, client bucket.Client, plan Plan, target writefile.Config, opts Options) error {
	lgr := zap.S()
	if err := os.MkdirAll(target.Directory, target.DirectoryMode); err != nil {
		return err
	}
	lock, err := lockTarget(target.Directory)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			lgr.Warnw("release_restore_lock_error", "dir", target.Directory, "err", err)
		}
	}()
	if err := checkFreeSpace(target.Directory, pendingBytes(plan)); err != nil {
		return err
	}

	algorithm, err := hashing.ParseAlgorithm(plan.Manifest.HashAlgorithm)
	if err != nil {
		return err
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = transfer.OpenShared()
	}
	session := tracker.Submit(ctx, transfer.Request{
		Client:      client,
		Direction:   transfer.Download,
		Entries:     plan.Entries,
		Tag:         plan.Manifest.Tag(),
		Concurrency: cfg.Transfer.Concurrency,
		Bandwidth:   cfg.Transfer.Bandwidth,
		Duration:    cfg.Transfer.Duration,
		Hasher:      hashing.New(algorithm),
		Target:      target,
		FailFast:    opts.FailFast,
	})
	defer tracker.RemoveSession(session)
	// The lock is released on return, so no download may still be
	// writing under the target.
	defer session.WaitUntilStopped()

	if err := session.WaitUntilConsideredFinished(ctx); err != nil {
		return err
	}
	if !session.IsSuccessful() {
		failures := session.Failures()
		if len(failures) == 0 {
			return session.Err()
		}
		for _, key := range failures.Keys() {
			lgr.Errorw("restore_file_error", "object_key", key, "err", failures[key])
		}
		return failures
	}
	p := session.Progress()
	lgr.Infow("restore_complete", "tag", plan.Manifest.Tag(), "files", p.Units, "transferred_bytes", p.TransferredBytes, "total_bytes", p.TotalBytes)
	return nil
}

// pendingBytes is the size of the plan less files already in place with the
// right size, which a re-run will most likely keep.
func pendingBytes(plan Plan) int64 {
	var total int64
	for _, entry := range plan.Entries {
		if info, err := os.Stat(entry.LocalFile); err == nil && info.Size() == entry.Size {
			continue
		}
		total += entry.Size
	}
	return total
}

func targetConfig(directory, owner string) (writefile.Config, error) {
	target := writefile.Config{
		Directory:     directory,
		DirectoryMode: 0755,
		FileMode:      0644,
	}
	if owner == "" {
		return target, nil
	}
	osUser, err := user.Lookup(owner)
	if err != nil {
		return target, fmt.Errorf("user lookup %s: %w", owner, err)
	}
	uid, err := strconv.Atoi(osUser.Uid)
	if err != nil {
		return target, fmt.Errorf("uid %s: %w", osUser.Uid, err)
	}
	gid, err := strconv.Atoi(osUser.Gid)
	if err != nil {
		return target, fmt.Errorf("gid %s: %w", osUser.Gid, err)
	}
	target.EnsureDirectoryOwnership = true
	target.DirectoryUID = uid
	target.DirectoryGID = gid
	target.EnsureFileOwnership = true
	target.FileUID = uid
	target.FileGID = gid
	return target, nil
}

// checkSchemas compares the manifest against a local snapshot, usually one
// taken of the freshly created schema on the node being restored.
func checkSchemas(ctx context.Context, dataDirs []string, tag string, entities manifests.DatabaseEntities, m *manifests.Manifest) error {
	parsed, err := snapshots.Parse(ctx, snapshots.Request{
		DataDirs: dataDirs,
		Tag:      tag,
		Entities: entities,
	})
	if err != nil {
		return err
	}
	local, ok := parsed[tag]
	if !ok {
		return fmt.Errorf("local snapshot %q not found", tag)
	}
	backedUp := m.Snapshot.Filter(entities)
	if manifests.HasSameSchemas(backedUp, local) {
		return nil
	}
	return &manifests.SchemaConflict{Snapshot: tag, Tables: manifests.SchemaDifferences(backedUp, local)}
}

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

// Package bucket is what backups and restores see of object storage. Every
// provider is reached through the same Client, built over a store.ObjectStore
// and wrapped in the retrier.
package bucket

import (
	"context"
	"io"

	"github.com/retailnext/sstablebackup/bucket/keystore"
	"github.com/retailnext/sstablebackup/bucket/store"
	"github.com/retailnext/sstablebackup/manifests"
)

// RemoteRef is an object key together with the bucket path it lives at.
type RemoteRef struct {
	ObjectKey string
	Path      string
}

type FreshenResult int

const (
	// Freshened means the remote copy is current and was marked as still
	// wanted.
	Freshened FreshenResult = iota
	// UploadRequired means the bytes have to be sent.
	UploadRequired
)

func (r FreshenResult) String() string {
	switch r {
	case Freshened:
		return "FRESHENED"
	case UploadRequired:
		return "UPLOAD_REQUIRED"
	}
	return "UNKNOWN"
}

type References interface {
	// ObjectKeyToRemoteReference places key under the bucket prefix only.
	ObjectKeyToRemoteReference(objectKey string) RemoteRef
	// ObjectKeyToNodeAwareRemoteReference places key under this node's
	// cluster/datacenter/node directory.
	ObjectKeyToNodeAwareRemoteReference(objectKey string) RemoteRef
}

type Backuper interface {
	References
	FreshenRemoteObject(ctx context.Context, entry manifests.ManifestEntry, ref RemoteRef) (FreshenResult, error)
	// UploadFile sends entry.LocalFile and fails if the file changes while
	// it is read.
	UploadFile(ctx context.Context, entry manifests.ManifestEntry, ref RemoteRef, filter store.ReaderFilter) error
	UploadText(ctx context.Context, text string, ref RemoteRef) error
}

type Restorer interface {
	References
	// DownloadFile writes the object to w and returns the bytes written.
	// A missing object is store.ErrNotFound.
	DownloadFile(ctx context.Context, ref RemoteRef, w io.Writer, filter store.ReaderFilter) (int64, error)
	DownloadFileToString(ctx context.Context, ref RemoteRef) (string, error)
	Delete(ctx context.Context, ref RemoteRef) error
	// ConsumeFiles calls fn for every object under prefix.
	ConsumeFiles(ctx context.Context, prefix RemoteRef, fn func(RemoteRef, store.ObjectInfo) error) error
	// ListManifests returns the snapshot tags with a manifest for node,
	// oldest first.
	ListManifests(ctx context.Context, node keystore.Node) ([]string, error)
	ListNodes(ctx context.Context, cluster, datacenter string) ([]keystore.Node, error)
	ListDcs(ctx context.Context, cluster string) ([]string, error)
	ListClusters(ctx context.Context) ([]string, error)
}

type BucketService interface {
	Exists(ctx context.Context) (bool, error)
	Create(ctx context.Context) error
	Delete(ctx context.Context) error
}

type Client interface {
	Backuper
	Restorer
	// Bucket manages the bucket itself. It is separate from the object
	// calls because Delete means something else there.
	Bucket() BucketService
	Node() keystore.Node
	// ForNode shares the connection but resolves references under node's
	// prefix, for reading another node's backups.
	ForNode(node keystore.Node) Client
	Close() error
}

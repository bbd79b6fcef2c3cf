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
	"sort"
	"strings"

	"github.com/retailnext/sstablebackup/bucket/keystore"
	"github.com/retailnext/sstablebackup/bucket/store"
	"github.com/retailnext/sstablebackup/manifests"
	"go.uber.org/zap"
)

func (c *client) ConsumeFiles(ctx context.Context, prefix RemoteRef, fn func(RemoteRef, store.ObjectInfo) error) error {
	return c.call(ctx, func() error {
		return c.store.List(ctx, prefix.Path, func(info store.ObjectInfo) error {
			if !strings.HasPrefix(info.Path, prefix.Path) {
				return nil
			}
			ref := RemoteRef{
				ObjectKey: prefix.ObjectKey + strings.TrimPrefix(info.Path, prefix.Path),
				Path:      info.Path,
			}
			return fn(ref, info)
		})
	})
}

func (c *client) ListManifests(ctx context.Context, node keystore.Node) ([]string, error) {
	keys := c.keys.ForNode(node)
	dir := manifests.ManifestsDir()
	prefix := RemoteRef{
		ObjectKey: dir,
		Path:      keys.NodeAware(dir),
	}
	var tags []string
	err := c.ConsumeFiles(ctx, prefix, func(ref RemoteRef, _ store.ObjectInfo) error {
		tag, ok := manifests.TagFromManifestObjectKey(ref.ObjectKey)
		if !ok {
			zap.S().Warnw("unexpected_object_in_manifests", "path", ref.Path)
			return nil
		}
		tags = append(tags, tag)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(tags)
	return tags, nil
}

func (c *client) ListNodes(ctx context.Context, cluster, datacenter string) ([]keystore.Node, error) {
	names, err := c.listSegments(ctx, c.keys.DatacenterPrefix(cluster, datacenter))
	if err != nil {
		return nil, err
	}
	nodes := make([]keystore.Node, 0, len(names))
	for _, name := range names {
		nodes = append(nodes, keystore.Node{
			Cluster:    cluster,
			Datacenter: datacenter,
			Name:       name,
		})
	}
	return nodes, nil
}

func (c *client) ListDcs(ctx context.Context, cluster string) ([]string, error) {
	return c.listSegments(ctx, c.keys.ClusterPrefix(cluster))
}

func (c *client) ListClusters(ctx context.Context) ([]string, error) {
	return c.listSegments(ctx, c.keys.ClustersPrefix())
}

func (c *client) listSegments(ctx context.Context, parent string) ([]string, error) {
	var listed []string
	err := c.call(ctx, func() error {
		var err error
		listed, err = c.store.ListPrefixes(ctx, parent)
		return err
	})
	if err != nil {
		return nil, err
	}
	result := make([]string, 0, len(listed))
	for _, p := range listed {
		segment, err := c.keys.DecodeSegment(parent, p)
		if err != nil {
			zap.S().Errorw("decode_segment_error", "prefix", p, "err", err)
			continue
		}
		result = append(result, segment)
	}
	sort.Strings(result)
	return result, nil
}

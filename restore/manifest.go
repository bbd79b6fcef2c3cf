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


package restore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/retailnext/sstablebackup/bucket"
	"github.com/retailnext/sstablebackup/bucket/keystore"
	"github.com/retailnext/sstablebackup/manifests"
	"github.com/retailnext/sstablebackup/systemlocal"
	"go.uber.org/zap"
)

var (
	ErrAmbiguousManifest = errors.New("more than one manifest matches")
	ErrNodeNotFound      = errors.New("no backed up node matches")
	ErrAmbiguousNode     = errors.New("more than one backed up node matches")
)

// SelectTag picks from tags, which are sorted. An empty want means the last
// one. An exact match wins; otherwise want must be the prefix of exactly one
// tag.
func SelectTag(tags []string, want string) (string, error) {
	if len(tags) == 0 {
		return "", manifests.ErrManifestNotFound
	}
	if want == "" {
		return tags[len(tags)-1], nil
	}
	var matches []string
	for _, tag := range tags {
		if tag == want {
			return tag, nil
		}
		if strings.HasPrefix(tag, want) {
			matches = append(matches, tag)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", manifests.ErrManifestNotFound, want)
	case 1:
		return matches[0], nil
	}
	return "", fmt.Errorf("%w %q: %s", ErrAmbiguousManifest, want, strings.Join(matches, ", "))
}

// GetManifest downloads the manifest of the client's node that want selects.
func GetManifest(ctx context.Context, client bucket.Client, want string) (*manifests.Manifest, error) {
	tags, err := client.ListManifests(ctx, client.Node())
	if err != nil {
		return nil, err
	}
	tag, err := SelectTag(tags, want)
	if err != nil {
		return nil, err
	}
	text, err := client.DownloadFileToString(ctx, client.ObjectKeyToNodeAwareRemoteReference(manifests.ManifestObjectKey(tag)))
	if err != nil {
		return nil, err
	}
	manifest := new(manifests.Manifest)
	if err := manifest.UnmarshalJSON([]byte(text)); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", tag, err)
	}
	zap.S().Infow("selected_manifest", "node", client.Node(), "tag", tag, "time", manifest.Time.String(), "size", manifest.Size())
	return manifest, nil
}

// SourceNode is the node whose backups restore into node. With a hostname
// pattern it is the one backed up node whose name matches
// systemlocal.HostnameExpr.
func SourceNode(ctx context.Context, client bucket.Client, node keystore.Node, hostnamePattern string) (keystore.Node, error) {
	if hostnamePattern == "" {
		return node, nil
	}
	nodes, err := client.ListNodes(ctx, node.Cluster, node.Datacenter)
	if err != nil {
		return node, err
	}
	expr := systemlocal.HostnameExpr(node.Name, hostnamePattern)
	var matches []keystore.Node
	for _, candidate := range nodes {
		if expr.MatchString(candidate.Name) {
			matches = append(matches, candidate)
		}
	}
	switch len(matches) {
	case 0:
		return node, fmt.Errorf("%w %s in %s/%s", ErrNodeNotFound, expr, node.Cluster, node.Datacenter)
	case 1:
		return matches[0], nil
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m.Name)
	}
	return node, fmt.Errorf("%w %s: %s", ErrAmbiguousNode, expr, strings.Join(names, ", "))
}

// NodesMatching lists the backed up nodes of a datacenter whose names start
// with prefix.
func NodesMatching(ctx context.Context, client bucket.Client, cluster, datacenter, prefix string) ([]keystore.Node, error) {
	nodes, err := client.ListNodes(ctx, cluster, datacenter)
	if err != nil {
		return nil, err
	}
	var result []keystore.Node
	for _, node := range nodes {
		if strings.HasPrefix(node.Name, prefix) {
			result = append(result, node)
		}
	}
	return result, nil
}

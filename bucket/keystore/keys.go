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

package keystore

import (
	"errors"
	"net/url"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Node identifies whose files a path belongs to.
type Node struct {
	Cluster    string
	Datacenter string
	Name       string
}

func (n Node) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("cluster", n.Cluster)
	enc.AddString("datacenter", n.Datacenter)
	enc.AddString("node", n.Name)
	return nil
}

func (n Node) Validate() error {
	if n.Cluster == "" || n.Datacenter == "" || n.Name == "" {
		return errors.New("node identity needs cluster, datacenter and node name")
	}
	return nil
}

// KeyStore maps object keys to bucket paths laid out as
// [prefix/]<cluster>/<datacenter>/<node>/<object key>. Identity segments are
// path-escaped so that any cluster name is a single segment.
type KeyStore struct {
	Bucket string
	Prefix string
	Node   Node
}

func NewKeyStore(bucket, prefix string, node Node) KeyStore {
	return KeyStore{
		Bucket: bucket,
		Prefix: strings.Trim(prefix, "/"),
		Node:   node,
	}
}

// ForNode returns the same layout for another node's files.
func (k KeyStore) ForNode(node Node) KeyStore {
	k.Node = node
	return k
}

func (k KeyStore) keyWithPrefix(key string) string {
	if k.Prefix == "" {
		return key
	}
	return k.Prefix + "/" + key
}

// Absolute places key under the bucket prefix only.
func (k KeyStore) Absolute(key string) string {
	return k.keyWithPrefix(key)
}

// NodeAware places key under this node's directory.
func (k KeyStore) NodeAware(key string) string {
	return k.NodePrefix() + key
}

func (k KeyStore) ClustersPrefix() string {
	if k.Prefix == "" {
		return ""
	}
	return k.Prefix + "/"
}

func (k KeyStore) ClusterPrefix(cluster string) string {
	return k.ClustersPrefix() + url.PathEscape(cluster) + "/"
}

func (k KeyStore) DatacenterPrefix(cluster, datacenter string) string {
	return k.ClusterPrefix(cluster) + url.PathEscape(datacenter) + "/"
}

func (k KeyStore) NodePrefix() string {
	return k.DatacenterPrefix(k.Node.Cluster, k.Node.Datacenter) + url.PathEscape(k.Node.Name) + "/"
}

// ObjectKey is the inverse of NodeAware.
func (k KeyStore) ObjectKey(path string) (string, bool) {
	prefix := k.NodePrefix()
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	return strings.TrimPrefix(path, prefix), true
}

// DecodeSegment returns the identity segment that a listed "directory" under
// parent names.
func (k KeyStore) DecodeSegment(parent, listed string) (string, error) {
	segment := strings.TrimSuffix(strings.TrimPrefix(listed, parent), "/")
	if segment == "" || strings.Contains(segment, "/") {
		return "", errors.New("invalid identity segment in " + listed)
	}
	return url.PathUnescape(segment)
}

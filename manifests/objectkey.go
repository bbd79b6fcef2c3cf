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

package manifests

import (
	"path"
	"strings"
)

const (
	dataPrefix      = "data"
	manifestsPrefix = "manifests"
	manifestSuffix  = ".json"

	SchemaFileName   = "schema.cql"
	schemaGeneration = "schema"
)

// DataRoot is the object key prefix under which a keyspace's files live.
func DataRoot(keyspace string) string {
	return path.Join(dataPrefix, keyspace)
}

// SSTableObjectKey builds <root>/<table>/<generation>-<hash>/<file>. An index
// generation key (".idx/<gen>") keeps its directory in front of the hashed
// segment.
func SSTableObjectKey(root, table, generation, hash, file string) string {
	dir, gen := path.Split(generation)
	return path.Join(root, table, dir, gen+"-"+hash, file)
}

func SchemaObjectKey(keyspace, table, hash string) string {
	return SSTableObjectKey(DataRoot(keyspace), table, schemaGeneration, hash, SchemaFileName)
}

// ManifestsDir is the object key prefix every manifest shares.
func ManifestsDir() string {
	return manifestsPrefix + "/"
}

func ManifestObjectKey(tag string) string {
	return manifestsPrefix + "/" + tag + manifestSuffix
}

// TagFromManifestObjectKey is the inverse of ManifestObjectKey.
func TagFromManifestObjectKey(key string) (string, bool) {
	if !strings.HasPrefix(key, manifestsPrefix+"/") || !strings.HasSuffix(key, manifestSuffix) {
		return "", false
	}
	tag := strings.TrimSuffix(strings.TrimPrefix(key, manifestsPrefix+"/"), manifestSuffix)
	if tag == "" || strings.Contains(tag, "/") {
		return "", false
	}
	return tag, true
}

// GenerationFromObjectKey recovers the generation key that SSTableObjectKey
// encoded. It accepts keys with or without the data/<keyspace> root.
func GenerationFromObjectKey(key string) (string, bool) {
	parts := strings.Split(key, "/")
	if len(parts) < 3 {
		return "", false
	}
	hashed := parts[len(parts)-2]
	idx := strings.LastIndexByte(hashed, '-')
	if idx <= 0 {
		return "", false
	}
	generation := hashed[:idx]
	if len(parts) >= 4 && strings.HasPrefix(parts[len(parts)-3], ".") {
		generation = parts[len(parts)-3] + "/" + generation
	}
	return generation, true
}

func IsIndexGeneration(generation string) bool {
	return strings.HasPrefix(generation, ".")
}

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

// Package manifests models snapshots of on-disk tables and the manifest
// documents that record which content-addressed objects make up a backup.
package manifests

import (
	"github.com/retailnext/sstablebackup/unixtime"
)

type Manifest struct {
	Snapshot      *Snapshot
	Entry         ManifestEntry
	SchemaVersion string
	Tokens        []string
	HashAlgorithm string
	Time          unixtime.Seconds
}

// New wraps snapshot in a manifest whose own entry points at
// manifests/<name>.json.
func New(snapshot *Snapshot, schemaVersion string, tokens []string, hashAlgorithm string, t unixtime.Seconds) *Manifest {
	return &Manifest{
		Snapshot:      snapshot,
		Entry:         ManifestEntry{ObjectKey: ManifestObjectKey(snapshot.Name), Type: EntryTypeManifestFile},
		SchemaVersion: schemaVersion,
		Tokens:        tokens,
		HashAlgorithm: hashAlgorithm,
		Time:          t,
	}
}

func (m *Manifest) Tag() string {
	return m.Snapshot.Name
}

// Entries lists every data file, optionally with the tables' schema files.
func (m *Manifest) Entries(withSchemas bool) []ManifestEntry {
	return m.Snapshot.Entries(withSchemas)
}

// ManifestFiles selects the entries a backup or restore of entities touches.
// System keyspaces are left out unless restoreSystemKeyspace is set, or
// newCluster is set and the keyspace is needed to bootstrap a node.
func (m *Manifest) ManifestFiles(entities DatabaseEntities, restoreSystemKeyspace, newCluster, withSchemas bool) []ManifestEntry {
	var result []ManifestEntry
	for _, ksName := range m.Snapshot.KeyspaceNames() {
		if !keyspaceAllowed(ksName, restoreSystemKeyspace, newCluster) {
			continue
		}
		ks := m.Snapshot.Keyspaces[ksName]
		for _, tableName := range ks.TableNames() {
			if !entities.Contains(ksName, tableName) {
				continue
			}
			result = append(result, ks.Tables[tableName].Entries(withSchemas)...)
		}
	}
	return result
}

func keyspaceAllowed(keyspace string, restoreSystemKeyspace, newCluster bool) bool {
	if !IsSystemKeyspace(keyspace) || restoreSystemKeyspace {
		return true
	}
	return newCluster && IsBootstrapKeyspace(keyspace)
}

func (m *Manifest) Size() int64 {
	var total int64
	for _, ks := range m.Snapshot.Keyspaces {
		for _, table := range ks.Tables {
			total += table.Size()
		}
	}
	return total
}

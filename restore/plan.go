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
	"path"
	"path/filepath"
	"strings"

	"github.com/retailnext/sstablebackup/manifests"
	"go.uber.org/zap"
)

// Selection narrows a manifest to the files a restore downloads.
type Selection struct {
	Entities              manifests.DatabaseEntities
	RestoreSystemKeyspace bool
	// NewCluster keeps the system keyspaces a fresh node needs to bootstrap.
	NewCluster  bool
	SkipIndexes bool
}

// Plan is the download list of one manifest, each entry's LocalFile set to
// where it lands under the target.
type Plan struct {
	Manifest *manifests.Manifest
	Entries  []manifests.ManifestEntry
}

func NewPlan(m *manifests.Manifest, target string, sel Selection) (Plan, error) {
	p := Plan{Manifest: m}
	for _, entry := range m.ManifestFiles(sel.Entities, sel.RestoreSystemKeyspace, sel.NewCluster, false) {
		if sel.SkipIndexes && isIndexEntry(entry) {
			continue
		}
		table := m.Snapshot.Table(entry.Keyspace(), entry.Table())
		if table == nil {
			return Plan{}, &manifests.IllegalManifestLayout{Path: entry.ObjectKey, Reason: "entry has no table"}
		}
		rel, err := relativePath(entry, table.ID)
		if err != nil {
			return Plan{}, err
		}
		p.Entries = append(p.Entries, entry.WithLocalFile(filepath.Join(target, rel)))
	}
	return p, nil
}

func (p Plan) Size() int64 {
	var total int64
	for _, entry := range p.Entries {
		total += entry.Size
	}
	return total
}

func (p Plan) LogWouldDownload() {
	lgr := zap.S()
	for _, entry := range p.Entries {
		lgr.Infow("would_download", "object_key", entry.ObjectKey, "path", entry.LocalFile, "size", entry.Size)
	}
	lgr.Infow("would_download_total", "tag", p.Manifest.Tag(), "files", len(p.Entries), "size", p.Size())
}

func isIndexEntry(entry manifests.ManifestEntry) bool {
	generation, ok := manifests.GenerationFromObjectKey(entry.ObjectKey)
	return ok && manifests.IsIndexGeneration(generation)
}

// relativePath turns data/<ks>/<table>/[.<index>/]<gen>-<hash>/<file> into
// <ks>/<table>-<id>/[.<index>/]<file>, the layout cassandra loads from.
func relativePath(entry manifests.ManifestEntry, tableID string) (string, error) {
	prefix := path.Join(manifests.DataRoot(entry.Keyspace()), entry.Table()) + "/"
	if !strings.HasPrefix(entry.ObjectKey, prefix) {
		return "", &manifests.IllegalManifestLayout{Path: entry.ObjectKey, Reason: "object key is outside its table"}
	}
	parts := strings.Split(strings.TrimPrefix(entry.ObjectKey, prefix), "/")
	if len(parts) < 2 {
		return "", &manifests.IllegalManifestLayout{Path: entry.ObjectKey, Reason: "object key has no generation"}
	}
	kept := make([]string, 0, len(parts)+1)
	kept = append(kept, entry.Keyspace(), entry.Table()+"-"+tableID)
	kept = append(kept, parts[:len(parts)-2]...)
	kept = append(kept, parts[len(parts)-1])
	return filepath.Join(kept...), nil
}

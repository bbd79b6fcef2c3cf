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
	"regexp"
	"sort"
	"strings"
)

type Table struct {
	ID            string
	SchemaContent string
	Schema        *ManifestEntry
	SSTables      map[string][]ManifestEntry
}

func NewTable(id string) *Table {
	return &Table{
		ID:       id,
		SSTables: make(map[string][]ManifestEntry),
	}
}

func (t *Table) Clone() *Table {
	result := &Table{
		ID:            t.ID,
		SchemaContent: t.SchemaContent,
		SSTables:      make(map[string][]ManifestEntry, len(t.SSTables)),
	}
	if t.Schema != nil {
		schema := t.Schema.clone()
		result.Schema = &schema
	}
	for generation, entries := range t.SSTables {
		copied := make([]ManifestEntry, len(entries))
		for i, entry := range entries {
			copied[i] = entry.clone()
		}
		result.SSTables[generation] = copied
	}
	return result
}

// Generations returns the SSTable generation keys in sorted order.
func (t *Table) Generations() []string {
	result := make([]string, 0, len(t.SSTables))
	for generation := range t.SSTables {
		result = append(result, generation)
	}
	sort.Strings(result)
	return result
}

// Entries lists the table's files with the schema entry first when asked for.
func (t *Table) Entries(withSchema bool) []ManifestEntry {
	var result []ManifestEntry
	if withSchema && t.Schema != nil {
		result = append(result, *t.Schema)
	}
	for _, generation := range t.Generations() {
		result = append(result, t.SSTables[generation]...)
	}
	return result
}

func (t *Table) Size() int64 {
	var total int64
	for _, entries := range t.SSTables {
		for _, entry := range entries {
			total += entry.Size
		}
	}
	return total
}

type Keyspace struct {
	Tables map[string]*Table
}

func NewKeyspace() *Keyspace {
	return &Keyspace{Tables: make(map[string]*Table)}
}

func (k *Keyspace) TableNames() []string {
	result := make([]string, 0, len(k.Tables))
	for name := range k.Tables {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

func (k *Keyspace) Clone() *Keyspace {
	result := &Keyspace{Tables: make(map[string]*Table, len(k.Tables))}
	for name, table := range k.Tables {
		result.Tables[name] = table.Clone()
	}
	return result
}

// Snapshot is a named point in time view of keyspaces and their tables.
type Snapshot struct {
	Name      string
	Keyspaces map[string]*Keyspace
}

func NewSnapshot(name string) *Snapshot {
	return &Snapshot{
		Name:      name,
		Keyspaces: make(map[string]*Keyspace),
	}
}

func (s *Snapshot) KeyspaceNames() []string {
	result := make([]string, 0, len(s.Keyspaces))
	for name := range s.Keyspaces {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

func (s *Snapshot) Table(keyspace, table string) *Table {
	ks, ok := s.Keyspaces[keyspace]
	if !ok {
		return nil
	}
	return ks.Tables[table]
}

// PutTable adds or replaces a table, creating its keyspace as needed.
func (s *Snapshot) PutTable(keyspace, name string, table *Table) {
	ks, ok := s.Keyspaces[keyspace]
	if !ok {
		ks = NewKeyspace()
		s.Keyspaces[keyspace] = ks
	}
	ks.Tables[name] = table
}

// Clone returns a structural copy that shares nothing with s.
func (s *Snapshot) Clone() *Snapshot {
	result := &Snapshot{
		Name:      s.Name,
		Keyspaces: make(map[string]*Keyspace, len(s.Keyspaces)),
	}
	for name, ks := range s.Keyspaces {
		result.Keyspaces[name] = ks.Clone()
	}
	return result
}

// Filter returns a copy containing only the selected tables.
func (s *Snapshot) Filter(entities DatabaseEntities) *Snapshot {
	result := NewSnapshot(s.Name)
	for ksName, ks := range s.Keyspaces {
		for tableName, table := range ks.Tables {
			if entities.Contains(ksName, tableName) {
				result.PutTable(ksName, tableName, table.Clone())
			}
		}
	}
	return result
}

// Entries lists every file in keyspace, table, generation order.
func (s *Snapshot) Entries(withSchemas bool) []ManifestEntry {
	var result []ManifestEntry
	for _, ksName := range s.KeyspaceNames() {
		ks := s.Keyspaces[ksName]
		for _, tableName := range ks.TableNames() {
			result = append(result, ks.Tables[tableName].Entries(withSchemas)...)
		}
	}
	return result
}

// Merge unions same-named snapshots found in different data directories.
// Tables present in more than one input must agree on schema.
func Merge(snapshots []*Snapshot, name string) (*Snapshot, error) {
	if len(snapshots) == 1 {
		return snapshots[0], nil
	}
	result := NewSnapshot(name)
	var conflicts []KeyspaceTable
	for _, snapshot := range snapshots {
		for ksName, ks := range snapshot.Keyspaces {
			for tableName, table := range ks.Tables {
				existing := result.Table(ksName, tableName)
				if existing == nil {
					result.PutTable(ksName, tableName, table.Clone())
					continue
				}
				if !sameSchema(existing.SchemaContent, table.SchemaContent) {
					conflicts = append(conflicts, KeyspaceTable{Keyspace: ksName, Table: tableName})
					continue
				}
				mergeTable(existing, table)
			}
		}
	}
	if len(conflicts) > 0 {
		sortKeyspaceTables(conflicts)
		return nil, &SchemaConflict{Snapshot: name, Tables: conflicts}
	}
	return result, nil
}

func mergeTable(into, from *Table) {
	if into.SchemaContent == "" {
		into.SchemaContent = from.SchemaContent
	}
	if into.Schema == nil && from.Schema != nil {
		schema := from.Schema.clone()
		into.Schema = &schema
	}
	for generation, entries := range from.SSTables {
		seen := make(map[string]struct{}, len(into.SSTables[generation]))
		for _, entry := range into.SSTables[generation] {
			seen[entry.ObjectKey] = struct{}{}
		}
		for _, entry := range entries {
			if _, ok := seen[entry.ObjectKey]; ok {
				continue
			}
			into.SSTables[generation] = append(into.SSTables[generation], entry.clone())
		}
	}
}

// HasSameSchemas compares the schema text of tables present in both
// snapshots. Tables missing from either side are ignored.
func HasSameSchemas(a, b *Snapshot) bool {
	return len(SchemaDifferences(a, b)) == 0
}

func SchemaDifferences(a, b *Snapshot) []KeyspaceTable {
	var result []KeyspaceTable
	for ksName, ks := range a.Keyspaces {
		for tableName, table := range ks.Tables {
			other := b.Table(ksName, tableName)
			if other == nil {
				continue
			}
			if !sameSchema(table.SchemaContent, other.SchemaContent) {
				result = append(result, KeyspaceTable{Keyspace: ksName, Table: tableName})
			}
		}
	}
	sortKeyspaceTables(result)
	return result
}

var (
	storageOptionsRe = regexp.MustCompile(`(?is)\)\s*WITH\s.*$`)
	whitespaceRe     = regexp.MustCompile(`\s+`)
)

// NormalizeSchema drops the node-local WITH clause and collapses whitespace.
func NormalizeSchema(schema string) string {
	schema = storageOptionsRe.ReplaceAllString(schema, ")")
	schema = whitespaceRe.ReplaceAllString(schema, " ")
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(schema), ";"))
}

// sameSchema treats a missing schema as compatible with anything.
func sameSchema(a, b string) bool {
	if a == "" || b == "" {
		return true
	}
	return NormalizeSchema(a) == NormalizeSchema(b)
}

func sortKeyspaceTables(kts []KeyspaceTable) {
	sort.Slice(kts, func(i, j int) bool {
		if kts[i].Keyspace != kts[j].Keyspace {
			return kts[i].Keyspace < kts[j].Keyspace
		}
		return kts[i].Table < kts[j].Table
	})
}

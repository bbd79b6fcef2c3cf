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
	"testing"

	"github.com/go-test/deep"
	"github.com/retailnext/sstablebackup/unixtime"
)

func entry(ks, table, generation, hash, file string, size int64) ManifestEntry {
	return ManifestEntry{
		ObjectKey:     SSTableObjectKey(DataRoot(ks), table, generation, hash, file),
		LocalFile:     "/var/lib/cassandra/data/" + ks + "/" + table + "-0011/snapshots/tag/" + file,
		Type:          EntryTypeFile,
		Size:          size,
		Hash:          hash,
		KeyspaceTable: &KeyspaceTable{Keyspace: ks, Table: table},
	}
}

func table(ks, name string, generations ...string) *Table {
	t := NewTable(name + "-id")
	t.SchemaContent = "CREATE TABLE " + ks + "." + name + " (k int PRIMARY KEY) WITH comment = 'x';"
	schema := ManifestEntry{
		ObjectKey:     SchemaObjectKey(ks, name, "42"),
		Type:          EntryTypeSchema,
		Size:          int64(len(t.SchemaContent)),
		Hash:          "42",
		KeyspaceTable: &KeyspaceTable{Keyspace: ks, Table: name},
	}
	t.Schema = &schema
	for _, generation := range generations {
		t.SSTables[generation] = []ManifestEntry{
			entry(ks, name, generation, "123", name+"-"+path.Base(generation)+"-big-Data.db", 100),
			entry(ks, name, generation, "123", name+"-"+path.Base(generation)+"-big-Index.db", 10),
		}
	}
	return t
}

func testSnapshot() *Snapshot {
	s := NewSnapshot("tag")
	s.PutTable("ks1", "tbl1", table("ks1", "tbl1", "1", "2"))
	s.PutTable("ks1", "tbl2", table("ks1", "tbl2", "3"))
	s.PutTable("ks2", "tbl", table("ks2", "tbl", "1", ".tbl_idx/1"))
	for _, ks := range SystemKeyspaces {
		s.PutTable(ks, "t", table(ks, "t", "9"))
	}
	return s
}

func TestParseDatabaseEntities(t *testing.T) {
	entities, err := ParseDatabaseEntities("ks1,ks2.tbl")
	if err != nil {
		t.Fatal(err)
	}
	expected := DatabaseEntities{
		Keyspaces: []string{"ks1"},
		Tables:    []KeyspaceTable{{Keyspace: "ks2", Table: "tbl"}},
	}
	if diff := deep.Equal(entities, expected); diff != nil {
		t.Fatal(diff)
	}
	if !entities.Contains("ks2", "tbl") {
		t.Error("expected ks2.tbl")
	}
	if !entities.Contains("ks1", "anything") {
		t.Error("expected whole keyspace ks1")
	}
	if entities.Contains("ks3") {
		t.Error("unexpected ks3")
	}
	if entities.Contains("ks2") {
		t.Error("ks2 is only partially selected")
	}
	if !entities.Mentions("ks2") {
		t.Error("expected ks2 to be mentioned")
	}
	if entities.String() != "ks1,ks2.tbl" {
		t.Errorf("unexpected String() %q", entities.String())
	}
}

func TestParseDatabaseEntitiesEdgeCases(t *testing.T) {
	for _, input := range []string{"", " ", ",,"} {
		entities, err := ParseDatabaseEntities(input)
		if err != nil {
			t.Fatalf("input=%q: %v", input, err)
		}
		if !entities.IsEmpty() || !entities.Contains("any", "thing") {
			t.Fatalf("input=%q should select everything", input)
		}
	}
	for _, input := range []string{"a.b.c", ".tbl", "ks."} {
		if _, err := ParseDatabaseEntities(input); err == nil {
			t.Errorf("input=%q expected error", input)
		}
	}
	entities, err := ParseDatabaseEntities("ks1, ks1 ,ks2.a,ks2.a")
	if err != nil {
		t.Fatal(err)
	}
	if len(entities.Keyspaces) != 1 || len(entities.Tables) != 1 {
		t.Fatalf("duplicates not collapsed: %+v", entities)
	}
}

func keysOf(entries []ManifestEntry) map[string]bool {
	result := make(map[string]bool)
	for _, e := range entries {
		result[e.Keyspace()] = true
	}
	return result
}

func TestManifestFilesSystemKeyspacePolicy(t *testing.T) {
	m := New(testSnapshot(), "v", []string{"1"}, "XXHASH", 0)
	type testCase struct {
		restoreSystem bool
		newCluster    bool
		expected      map[string]bool
	}
	cases := []testCase{
		{expected: map[string]bool{"ks1": true, "ks2": true}},
		{newCluster: true, expected: map[string]bool{"ks1": true, "ks2": true, KeyspaceSystemSchema: true, KeyspaceSystemAuth: true}},
		{restoreSystem: true, expected: map[string]bool{
			"ks1": true, "ks2": true, KeyspaceSystem: true, KeyspaceSystemAuth: true,
			KeyspaceSystemSchema: true, KeyspaceSystemDistributed: true, KeyspaceSystemTraces: true,
		}},
	}
	for _, tc := range cases {
		actual := keysOf(m.ManifestFiles(DatabaseEntities{}, tc.restoreSystem, tc.newCluster, false))
		if diff := deep.Equal(actual, tc.expected); diff != nil {
			t.Errorf("restoreSystem=%v newCluster=%v: %v", tc.restoreSystem, tc.newCluster, diff)
		}
	}
}

func TestManifestFilesSelection(t *testing.T) {
	m := New(testSnapshot(), "v", nil, "XXHASH", 0)
	entities, err := ParseDatabaseEntities("ks1.tbl2,ks2,system_auth")
	if err != nil {
		t.Fatal(err)
	}
	files := m.ManifestFiles(entities, false, false, true)
	var keys []string
	for _, f := range files {
		keys = append(keys, f.ObjectKey)
	}
	expected := []string{
		"data/ks1/tbl2/schema-42/schema.cql",
		"data/ks1/tbl2/3-123/tbl2-3-big-Data.db",
		"data/ks1/tbl2/3-123/tbl2-3-big-Index.db",
		"data/ks2/tbl/schema-42/schema.cql",
		"data/ks2/tbl/.tbl_idx/1-123/tbl-1-big-Data.db",
		"data/ks2/tbl/.tbl_idx/1-123/tbl-1-big-Index.db",
		"data/ks2/tbl/1-123/tbl-1-big-Data.db",
		"data/ks2/tbl/1-123/tbl-1-big-Index.db",
	}
	if diff := deep.Equal(keys, expected); diff != nil {
		t.Fatal(diff)
	}
}

func TestRoundTrip(t *testing.T) {
	m := New(testSnapshot(), "5a4b3c", []string{"-9000", "42"}, "XXHASH", unixtime.Seconds(1700000000))
	m.Entry.Size = 1234
	data, err := m.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	var decoded Manifest
	if err := decoded.UnmarshalJSON(data); err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(&decoded, m); diff != nil {
		t.Fatal(diff)
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	data := `{"extra":{"a":[1,2]},"snapshot":{"name":"t","keyspaces":{"ks":{"tables":{"tb":{"id":"x","future":true,"sstables":{}}}}}},"tokens":["1"],"time":"2020-01-01T00:00:00Z"}`
	var m Manifest
	if err := m.UnmarshalJSON([]byte(data)); err != nil {
		t.Fatal(err)
	}
	if m.Snapshot.Table("ks", "tb") == nil {
		t.Fatal("missing table")
	}
	if m.Entry.ObjectKey != "manifests/t.json" || m.Entry.Type != EntryTypeManifestFile {
		t.Fatalf("unexpected default entry %+v", m.Entry)
	}
}

func TestLegacyEntries(t *testing.T) {
	data := `{"snapshot":{"name":"old","keyspaces":{"ks1":{"tables":{"tbl1":{"id":"abc","entries":[
		{"objectKey":"tbl1/1-77/tbl1-1-big-Index.db","localFile":"","type":"FILE","size":5},
		{"objectKey":"tbl1/1-77/tbl1-1-big-Data.db","localFile":"","type":"FILE","size":9,"hash":"77"},
		{"objectKey":"tbl1/.idx/2-88/tbl1-2-big-Data.db","localFile":"","type":"FILE","size":3},
		{"objectKey":"tbl1/schema-1/schema.cql","localFile":"","type":"SCHEMA","size":3}
	]}}}}},"tokens":[],"time":"2020-01-01T00:00:00Z"}`
	var m Manifest
	if err := m.UnmarshalJSON([]byte(data)); err != nil {
		t.Fatal(err)
	}
	tbl := m.Snapshot.Table("ks1", "tbl1")
	if tbl == nil {
		t.Fatal("missing table")
	}
	if diff := deep.Equal(tbl.Generations(), []string{".idx/2", "1"}); diff != nil {
		t.Fatal(diff)
	}
	first := tbl.SSTables["1"]
	if len(first) != 2 || first[0].ObjectKey != "tbl1/1-77/tbl1-1-big-Data.db" {
		t.Fatalf("unexpected generation 1: %+v", first)
	}
	if first[0].Table() != "tbl1" || first[0].Keyspace() != "ks1" {
		t.Fatalf("table identity not filled: %+v", first[0])
	}
	if tbl.Schema == nil || tbl.Schema.Type != EntryTypeSchema {
		t.Fatal("schema entry not recovered")
	}
}

func TestLegacyEntriesBadKey(t *testing.T) {
	data := `{"snapshot":{"name":"old","keyspaces":{"ks1":{"tables":{"tbl1":{"id":"abc","entries":[
		{"objectKey":"nohash","type":"FILE","size":5}]}}}}}}`
	var m Manifest
	err := m.UnmarshalJSON([]byte(data))
	if !IsIllegalManifestLayout(err) {
		t.Fatalf("expected IllegalManifestLayout, got %v", err)
	}
}

func TestCloneIsolation(t *testing.T) {
	original := testSnapshot()
	clone := original.Clone()
	if diff := deep.Equal(original, clone); diff != nil {
		t.Fatal(diff)
	}
	tbl := clone.Table("ks1", "tbl1")
	tbl.SSTables["1"][0].KeyspaceTable.Table = "changed"
	tbl.SSTables["1"][0].Hash = "changed"
	tbl.Schema.Hash = "changed"
	delete(clone.Keyspaces, "ks2")

	orig := original.Table("ks1", "tbl1")
	if orig.SSTables["1"][0].Table() != "tbl1" || orig.SSTables["1"][0].Hash != "123" || orig.Schema.Hash != "42" {
		t.Fatal("clone shares state with original")
	}
	if original.Table("ks2", "tbl") == nil {
		t.Fatal("clone shares keyspace map with original")
	}
}

func TestFilter(t *testing.T) {
	entities, _ := ParseDatabaseEntities("ks1.tbl1")
	filtered := testSnapshot().Filter(entities)
	if len(filtered.Keyspaces) != 1 || len(filtered.Keyspaces["ks1"].Tables) != 1 {
		t.Fatalf("unexpected filter result %v", filtered.KeyspaceNames())
	}
}

func TestMerge(t *testing.T) {
	a := NewSnapshot("tag")
	a.PutTable("ks1", "tbl1", table("ks1", "tbl1", "1"))
	b := NewSnapshot("tag")
	b.PutTable("ks1", "tbl1", table("ks1", "tbl1", "1", "2"))
	b.PutTable("ks1", "other", table("ks1", "other", "5"))

	single, err := Merge([]*Snapshot{a}, "tag")
	if err != nil || single != a {
		t.Fatalf("single input should be returned unchanged: %v", err)
	}

	merged, err := Merge([]*Snapshot{a, b}, "tag")
	if err != nil {
		t.Fatal(err)
	}
	tbl := merged.Table("ks1", "tbl1")
	if diff := deep.Equal(tbl.Generations(), []string{"1", "2"}); diff != nil {
		t.Fatal(diff)
	}
	if len(tbl.SSTables["1"]) != 2 {
		t.Fatalf("duplicate entries after merge: %d", len(tbl.SSTables["1"]))
	}
	if merged.Table("ks1", "other") == nil {
		t.Fatal("table from second snapshot missing")
	}

	c := NewSnapshot("tag")
	conflicting := table("ks1", "tbl1", "7")
	conflicting.SchemaContent = "CREATE TABLE ks1.tbl1 (k text PRIMARY KEY);"
	c.PutTable("ks1", "tbl1", conflicting)
	_, err = Merge([]*Snapshot{a, c}, "tag")
	if !IsSchemaConflict(err) {
		t.Fatalf("expected SchemaConflict, got %v", err)
	}
	if !strings.Contains(err.Error(), "ks1.tbl1") {
		t.Fatalf("conflict should name the table: %v", err)
	}
}

func TestHasSameSchemas(t *testing.T) {
	a := NewSnapshot("a")
	ta := NewTable("1")
	ta.SchemaContent = "CREATE TABLE ks.t (\n    k int PRIMARY KEY,\n    v text\n) WITH ID = 1111\n    AND compaction = {'class': 'x'};"
	a.PutTable("ks", "t", ta)
	a.PutTable("ks", "only_a", NewTable("2"))

	b := NewSnapshot("b")
	tb := NewTable("3")
	tb.SchemaContent = "CREATE TABLE ks.t ( k int PRIMARY KEY, v text ) WITH ID = 2222;"
	b.PutTable("ks", "t", tb)
	b.PutTable("other", "t", NewTable("4"))

	if !HasSameSchemas(a, b) {
		t.Fatal("storage options and whitespace should not matter")
	}

	tb.SchemaContent = "CREATE TABLE ks.t ( k int PRIMARY KEY, v blob ) WITH ID = 2222;"
	if HasSameSchemas(a, b) {
		t.Fatal("column type change should be detected")
	}
	if diff := deep.Equal(SchemaDifferences(a, b), []KeyspaceTable{{Keyspace: "ks", Table: "t"}}); diff != nil {
		t.Fatal(diff)
	}
}

func TestObjectKeys(t *testing.T) {
	type testCase struct {
		key        string
		generation string
		ok         bool
	}
	cases := []testCase{
		{key: "data/ks/tbl/1-123/tbl-1-big-Data.db", generation: "1", ok: true},
		{key: "tbl1/1-123/tbl1-1-big-Data.db", generation: "1", ok: true},
		{key: "data/ks/tbl/.idx/3gfn_0sjz_2wbzk2b3z9n0d7v0vc-99/nb-3gfn_0sjz_2wbzk2b3z9n0d7v0vc-big-Data.db", generation: ".idx/3gfn_0sjz_2wbzk2b3z9n0d7v0vc", ok: true},
		{key: "data/ks/tbl/schema-1/schema.cql", generation: "schema", ok: true},
		{key: "x/y", ok: false},
		{key: "a/nohash/file", ok: false},
	}
	for _, tc := range cases {
		generation, ok := GenerationFromObjectKey(tc.key)
		if ok != tc.ok || generation != tc.generation {
			t.Errorf("key=%q expected=%q,%v actual=%q,%v", tc.key, tc.generation, tc.ok, generation, ok)
		}
	}
	if key := SSTableObjectKey(DataRoot("ks"), "tbl", ".idx/2", "5", "f"); key != "data/ks/tbl/.idx/2-5/f" {
		t.Errorf("unexpected index key %q", key)
	}
	if tag, ok := TagFromManifestObjectKey(ManifestObjectKey("snap-1")); !ok || tag != "snap-1" {
		t.Errorf("unexpected tag %q %v", tag, ok)
	}
	if _, ok := TagFromManifestObjectKey("data/x.json"); ok {
		t.Error("data key is not a manifest")
	}
}

func TestClassification(t *testing.T) {
	cases := map[string]Classification{
		"system":             ClassificationSystem,
		"system_distributed": ClassificationSystem,
		"system_traces":      ClassificationSystem,
		"system_auth":        ClassificationSystemAuth,
		"system_schema":      ClassificationSchema,
		"app":                ClassificationOther,
	}
	for ks, expected := range cases {
		if actual := (KeyspaceTable{Keyspace: ks, Table: "t"}).Classification(); actual != expected {
			t.Errorf("%s: expected=%s actual=%s", ks, expected, actual)
		}
	}
}

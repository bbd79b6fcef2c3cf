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
	"sort"

	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

func (m *Manifest) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	m.MarshalEasyJSON(&w)
	return w.BuildBytes()
}

func (m *Manifest) UnmarshalJSON(data []byte) error {
	r := jlexer.Lexer{Data: data}
	m.UnmarshalEasyJSON(&r)
	return r.Error()
}

func (m *Manifest) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawString(`{"snapshot":`)
	marshalSnapshot(w, m.Snapshot)
	w.RawString(`,"schemaVersion":`)
	w.String(m.SchemaVersion)
	w.RawString(`,"tokens":[`)
	for i, token := range m.Tokens {
		if i > 0 {
			w.RawByte(',')
		}
		w.String(token)
	}
	w.RawString(`],"hashAlgorithm":`)
	w.String(m.HashAlgorithm)
	w.RawString(`,"time":`)
	m.Time.MarshalEasyJSON(w)
	w.RawString(`,"manifest":`)
	marshalEntry(w, &m.Entry)
	w.RawByte('}')
}

func marshalSnapshot(w *jwriter.Writer, s *Snapshot) {
	w.RawString(`{"name":`)
	w.String(s.Name)
	w.RawString(`,"keyspaces":{`)
	for i, ksName := range s.KeyspaceNames() {
		if i > 0 {
			w.RawByte(',')
		}
		w.String(ksName)
		w.RawString(`:{"tables":{`)
		ks := s.Keyspaces[ksName]
		for j, tableName := range ks.TableNames() {
			if j > 0 {
				w.RawByte(',')
			}
			w.String(tableName)
			w.RawByte(':')
			marshalTable(w, ks.Tables[tableName])
		}
		w.RawString(`}}`)
	}
	w.RawString(`}}`)
}

func marshalTable(w *jwriter.Writer, t *Table) {
	w.RawString(`{"id":`)
	w.String(t.ID)
	if t.SchemaContent != "" {
		w.RawString(`,"schemaContent":`)
		w.String(t.SchemaContent)
	}
	if t.Schema != nil {
		w.RawString(`,"schema":`)
		marshalEntry(w, t.Schema)
	}
	w.RawString(`,"sstables":{`)
	for i, generation := range t.Generations() {
		if i > 0 {
			w.RawByte(',')
		}
		w.String(generation)
		w.RawString(`:[`)
		for j := range t.SSTables[generation] {
			if j > 0 {
				w.RawByte(',')
			}
			marshalEntry(w, &t.SSTables[generation][j])
		}
		w.RawByte(']')
	}
	w.RawString(`}}`)
}

func marshalEntry(w *jwriter.Writer, e *ManifestEntry) {
	w.RawString(`{"objectKey":`)
	w.String(e.ObjectKey)
	w.RawString(`,"localFile":`)
	w.String(e.LocalFile)
	w.RawString(`,"type":`)
	w.String(e.Type.String())
	w.RawString(`,"size":`)
	w.Int64(e.Size)
	if e.Hash != "" {
		w.RawString(`,"hash":`)
		w.String(e.Hash)
	}
	if e.KeyspaceTable != nil {
		w.RawString(`,"keyspace":`)
		w.String(e.KeyspaceTable.Keyspace)
		w.RawString(`,"table":`)
		w.String(e.KeyspaceTable.Table)
	}
	w.RawByte('}')
}

func (m *Manifest) UnmarshalEasyJSON(in *jlexer.Lexer) {
	isTopLevel := in.IsStart()
	if in.IsNull() {
		if isTopLevel {
			in.Consumed()
		}
		in.Skip()
		return
	}
	var haveEntry bool
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "snapshot":
			m.Snapshot = unmarshalSnapshot(in)
		case "schemaVersion":
			m.SchemaVersion = in.String()
		case "tokens":
			m.Tokens = nil
			in.Delim('[')
			for !in.IsDelim(']') {
				m.Tokens = append(m.Tokens, in.String())
				in.WantComma()
			}
			in.Delim(']')
		case "hashAlgorithm":
			m.HashAlgorithm = in.String()
		case "time":
			m.Time.UnmarshalEasyJSON(in)
		case "manifest":
			m.Entry = unmarshalEntry(in)
			haveEntry = true
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	if isTopLevel {
		in.Consumed()
	}
	if m.Snapshot == nil {
		m.Snapshot = NewSnapshot("")
	}
	if !haveEntry {
		m.Entry = ManifestEntry{ObjectKey: ManifestObjectKey(m.Snapshot.Name), Type: EntryTypeManifestFile}
	}
}

func unmarshalSnapshot(in *jlexer.Lexer) *Snapshot {
	result := NewSnapshot("")
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "name":
			result.Name = in.String()
		case "keyspaces":
			in.Delim('{')
			for !in.IsDelim('}') {
				ksName := in.String()
				in.WantColon()
				result.Keyspaces[ksName] = unmarshalKeyspace(in, ksName)
				in.WantComma()
			}
			in.Delim('}')
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	return result
}

func unmarshalKeyspace(in *jlexer.Lexer, ksName string) *Keyspace {
	result := NewKeyspace()
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "tables":
			in.Delim('{')
			for !in.IsDelim('}') {
				tableName := in.String()
				in.WantColon()
				kt := KeyspaceTable{Keyspace: ksName, Table: tableName}
				result.Tables[tableName] = unmarshalTable(in, kt)
				in.WantComma()
			}
			in.Delim('}')
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	return result
}

func unmarshalTable(in *jlexer.Lexer, kt KeyspaceTable) *Table {
	result := NewTable("")
	var legacy []ManifestEntry
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "id":
			result.ID = in.String()
		case "schemaContent":
			result.SchemaContent = in.String()
		case "schema":
			schema := withTable(unmarshalEntry(in), kt)
			result.Schema = &schema
		case "sstables":
			in.Delim('{')
			for !in.IsDelim('}') {
				generation := in.String()
				in.WantColon()
				var entries []ManifestEntry
				in.Delim('[')
				for !in.IsDelim(']') {
					entries = append(entries, withTable(unmarshalEntry(in), kt))
					in.WantComma()
				}
				in.Delim(']')
				result.SSTables[generation] = entries
				in.WantComma()
			}
			in.Delim('}')
		case "entries":
			in.Delim('[')
			for !in.IsDelim(']') {
				legacy = append(legacy, withTable(unmarshalEntry(in), kt))
				in.WantComma()
			}
			in.Delim(']')
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	groupLegacyEntries(in, result, legacy)
	return result
}

// groupLegacyEntries files entries from the older flat layout under the
// generation encoded in their object keys.
func groupLegacyEntries(in *jlexer.Lexer, t *Table, legacy []ManifestEntry) {
	for _, entry := range legacy {
		if entry.Type == EntryTypeSchema {
			schema := entry
			t.Schema = &schema
			continue
		}
		generation, ok := GenerationFromObjectKey(entry.ObjectKey)
		if !ok {
			in.AddError(&IllegalManifestLayout{Path: entry.ObjectKey, Reason: "object key has no generation"})
			return
		}
		t.SSTables[generation] = append(t.SSTables[generation], entry)
	}
	for _, entries := range t.SSTables {
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].ObjectKey < entries[j].ObjectKey
		})
	}
}

func withTable(e ManifestEntry, kt KeyspaceTable) ManifestEntry {
	if e.KeyspaceTable == nil {
		e.KeyspaceTable = &kt
	}
	return e
}

func unmarshalEntry(in *jlexer.Lexer) ManifestEntry {
	var result ManifestEntry
	var keyspace, table string
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "objectKey":
			result.ObjectKey = in.String()
		case "localFile":
			result.LocalFile = in.String()
		case "type":
			entryType, err := ParseEntryType(in.String())
			if err != nil {
				in.AddError(err)
			}
			result.Type = entryType
		case "size":
			result.Size = in.Int64()
		case "hash":
			result.Hash = in.String()
		case "keyspace":
			keyspace = in.String()
		case "table":
			table = in.String()
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	if keyspace != "" || table != "" {
		result.KeyspaceTable = &KeyspaceTable{Keyspace: keyspace, Table: table}
	}
	return result
}

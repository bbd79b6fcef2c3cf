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
	"fmt"

	"go.uber.org/zap/zapcore"
)

type EntryType int

const (
	EntryTypeFile EntryType = iota
	EntryTypeManifestFile
	EntryTypeSchema
)

func (t EntryType) String() string {
	switch t {
	case EntryTypeManifestFile:
		return "MANIFEST_FILE"
	case EntryTypeSchema:
		return "SCHEMA"
	default:
		return "FILE"
	}
}

func ParseEntryType(s string) (EntryType, error) {
	switch s {
	case "FILE", "":
		return EntryTypeFile, nil
	case "MANIFEST_FILE":
		return EntryTypeManifestFile, nil
	case "SCHEMA":
		return EntryTypeSchema, nil
	}
	return EntryTypeFile, fmt.Errorf("unknown manifest entry type %q", s)
}

// ManifestEntry is one physical file. ObjectKey is relative to the node's
// prefix in the bucket and carries the content hash, so entries for equal
// content have equal keys.
type ManifestEntry struct {
	ObjectKey     string
	LocalFile     string
	Type          EntryType
	Size          int64
	Hash          string
	KeyspaceTable *KeyspaceTable
}

// WithLocalFile returns a copy pointing at a different local path.
func (e ManifestEntry) WithLocalFile(path string) ManifestEntry {
	e.LocalFile = path
	if e.KeyspaceTable != nil {
		kt := *e.KeyspaceTable
		e.KeyspaceTable = &kt
	}
	return e
}

// WithRemote returns a copy with size and hash confirmed by the storage
// side. Empty or zero values keep what the entry already had.
func (e ManifestEntry) WithRemote(size int64, hash string) ManifestEntry {
	if size > 0 {
		e.Size = size
	}
	if hash != "" {
		e.Hash = hash
	}
	return e
}

func (e ManifestEntry) Keyspace() string {
	if e.KeyspaceTable == nil {
		return ""
	}
	return e.KeyspaceTable.Keyspace
}

func (e ManifestEntry) Table() string {
	if e.KeyspaceTable == nil {
		return ""
	}
	return e.KeyspaceTable.Table
}

func (e ManifestEntry) clone() ManifestEntry {
	return e.WithLocalFile(e.LocalFile)
}

func (e ManifestEntry) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("object_key", e.ObjectKey)
	enc.AddString("local_file", e.LocalFile)
	enc.AddString("type", e.Type.String())
	enc.AddInt64("size", e.Size)
	if e.Hash != "" {
		enc.AddString("hash", e.Hash)
	}
	return nil
}

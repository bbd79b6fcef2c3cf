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

// Package snapshots finds the snapshot directories a node's data directories
// hold and turns them into manifest snapshots.
package snapshots

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/retailnext/sstablebackup/hashing"
	"github.com/retailnext/sstablebackup/manifests"
	"github.com/retailnext/sstablebackup/paranoid"
	"github.com/retailnext/sstablebackup/sstables"
	"go.uber.org/zap"
)

const snapshotsDir = "snapshots"

var ignoredTagPrefixes = []string{"truncated-", "dropped-"}

type Request struct {
	DataDirs []string
	// Tag restricts the walk to one snapshot. Empty means every tag.
	Tag      string
	Entities manifests.DatabaseEntities
	Hasher   hashing.FileHasher
}

// Parse walks <dataDir>/<keyspace>/<table>-<id>/snapshots/<tag>/ in every
// data directory and returns the snapshots found, keyed by tag.
func Parse(ctx context.Context, req Request) (map[string]*manifests.Snapshot, error) {
	lgr := zap.S()

	byTag := make(map[string][]*manifests.Snapshot)
	for _, dataDir := range req.DataDirs {
		found, err := parseDataDir(ctx, dataDir, req)
		if err != nil {
			return nil, err
		}
		for tag, snapshot := range found {
			byTag[tag] = append(byTag[tag], snapshot)
		}
	}

	result := make(map[string]*manifests.Snapshot, len(byTag))
	for tag, snapshots := range byTag {
		merged, err := manifests.Merge(snapshots, tag)
		if err != nil {
			return nil, err
		}
		lgr.Debugw("parsed_snapshot", "tag", tag, "data_dirs", len(snapshots), "keyspaces", len(merged.Keyspaces))
		result[tag] = merged
	}
	return result, nil
}

// Tags lists the snapshot tags present under the data directories.
func Tags(dataDirs []string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, dataDir := range dataDirs {
		err := forEachTable(dataDir, func(keyspace, tableDir string) error {
			tags, err := readDirNames(filepath.Join(tableDir, snapshotsDir))
			if err != nil {
				return err
			}
			for _, tag := range tags {
				if !ignoredTag(tag) {
					seen[tag] = struct{}{}
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	result := make([]string, 0, len(seen))
	for tag := range seen {
		result = append(result, tag)
	}
	sort.Strings(result)
	return result, nil
}

func parseDataDir(ctx context.Context, dataDir string, req Request) (map[string]*manifests.Snapshot, error) {
	result := make(map[string]*manifests.Snapshot)
	err := forEachTable(dataDir, func(keyspace, tableDir string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		tableName, tableID, err := splitTableDir(tableDir)
		if err != nil {
			return err
		}
		if !req.Entities.Contains(keyspace, tableName) {
			return nil
		}
		tags, err := readDirNames(filepath.Join(tableDir, snapshotsDir))
		if err != nil {
			return err
		}
		for _, tag := range tags {
			if ignoredTag(tag) || (req.Tag != "" && tag != req.Tag) {
				continue
			}
			table, err := parseTable(ctx, req, keyspace, tableName, tableID, filepath.Join(tableDir, snapshotsDir, tag))
			if err != nil {
				return err
			}
			snapshot, ok := result[tag]
			if !ok {
				snapshot = manifests.NewSnapshot(tag)
				result[tag] = snapshot
			}
			snapshot.PutTable(keyspace, tableName, table)
		}
		return nil
	})
	return result, err
}

func parseTable(ctx context.Context, req Request, keyspace, tableName, tableID, dir string) (*manifests.Table, error) {
	kt := manifests.KeyspaceTable{Keyspace: keyspace, Table: tableName}
	generations, err := sstables.Classify(ctx, sstables.ClassifyRequest{
		Root:          manifests.DataRoot(keyspace),
		Table:         tableName,
		Dir:           dir,
		KeyspaceTable: kt,
		Hasher:        req.Hasher,
	})
	if err != nil {
		return nil, err
	}
	table := manifests.NewTable(tableID)
	table.SSTables = generations

	schemaPath := filepath.Join(dir, manifests.SchemaFileName)
	info, err := os.Stat(schemaPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return table, nil
	case err != nil:
		return nil, err
	}
	content, err := os.ReadFile(schemaPath)
	if err != nil {
		return nil, err
	}
	checksum, err := sstables.CalculateChecksum(schemaPath)
	if err != nil {
		return nil, err
	}
	schema := manifests.ManifestEntry{
		ObjectKey:     manifests.SchemaObjectKey(keyspace, tableName, strconv.FormatUint(uint64(checksum), 10)),
		LocalFile:     schemaPath,
		Type:          manifests.EntryTypeSchema,
		Size:          info.Size(),
		KeyspaceTable: &kt,
	}
	if req.Hasher != nil {
		if schema.Hash, err = req.Hasher.Digest(ctx, paranoid.NewFileFromInfo(schemaPath, info)); err != nil {
			return nil, err
		}
	}
	table.SchemaContent = string(content)
	table.Schema = &schema
	return table, nil
}

// forEachTable calls fn for every table directory that has a snapshots
// directory.
func forEachTable(dataDir string, fn func(keyspace, tableDir string) error) error {
	keyspaces, err := readDirNames(dataDir)
	if err != nil {
		return err
	}
	for _, keyspace := range keyspaces {
		tables, err := readDirNames(filepath.Join(dataDir, keyspace))
		if err != nil {
			return err
		}
		for _, table := range tables {
			tableDir := filepath.Join(dataDir, keyspace, table)
			info, err := os.Stat(filepath.Join(tableDir, snapshotsDir))
			if err != nil || !info.IsDir() {
				continue
			}
			if err := fn(keyspace, tableDir); err != nil {
				return err
			}
		}
	}
	return nil
}

func splitTableDir(tableDir string) (string, string, error) {
	base := filepath.Base(tableDir)
	idx := strings.LastIndexByte(base, '-')
	if idx <= 0 || idx == len(base)-1 {
		return "", "", &manifests.IllegalManifestLayout{Path: tableDir, Reason: "table directory is not <table>-<id>"}
	}
	return base[:idx], base[idx+1:], nil
}

func ignoredTag(tag string) bool {
	for _, prefix := range ignoredTagPrefixes {
		if strings.HasPrefix(tag, prefix) {
			return true
		}
	}
	return false
}

// readDirNames lists subdirectory names, sorted. A missing directory has
// none.
func readDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var result []string
	for _, entry := range entries {
		if entry.IsDir() {
			result = append(result, entry.Name())
		}
	}
	return result, nil
}

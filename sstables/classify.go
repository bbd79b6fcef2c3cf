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

package sstables

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/retailnext/sstablebackup/hashing"
	"github.com/retailnext/sstablebackup/manifests"
	"github.com/retailnext/sstablebackup/paranoid"
	"go.uber.org/zap"
)

type ClassifyRequest struct {
	// Root is the object key prefix the table's keys are built under.
	Root          string
	Table         string
	Dir           string
	KeyspaceTable manifests.KeyspaceTable
	// Hasher fills in ManifestEntry.Hash. Nil leaves it empty.
	Hasher hashing.FileHasher
}

type file struct {
	component Component
	path      string
	info      os.FileInfo
}

// Classify groups the components under req.Dir by generation. Secondary
// index directories (".name") are included with generation keys of the
// form ".name/<generation>".
func Classify(ctx context.Context, req ClassifyRequest) (map[string][]manifests.ManifestEntry, error) {
	generations := make(map[string][]file)
	if err := collect(req.Dir, "", generations); err != nil {
		return nil, err
	}

	result := make(map[string][]manifests.ManifestEntry, len(generations))
	for generation, files := range generations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sort.Slice(files, func(i, j int) bool {
			return files[i].component.FileName < files[j].component.FileName
		})
		hash, err := generationHash(files)
		if err != nil {
			return nil, err
		}
		entries := make([]manifests.ManifestEntry, 0, len(files))
		for _, f := range files {
			entry := manifests.ManifestEntry{
				ObjectKey: manifests.SSTableObjectKey(req.Root, req.Table, generation, hash, f.component.FileName),
				LocalFile: f.path,
				Type:      manifests.EntryTypeFile,
				Size:      f.info.Size(),
			}
			kt := req.KeyspaceTable
			entry.KeyspaceTable = &kt
			if req.Hasher != nil {
				entry.Hash, err = req.Hasher.Digest(ctx, paranoid.NewFileFromInfo(f.path, f.info))
				if err != nil {
					return nil, err
				}
			}
			entries = append(entries, entry)
		}
		result[generation] = entries
	}
	return result, nil
}

// nonComponentFiles sit next to SSTables in a snapshot without being part of
// one.
var nonComponentFiles = map[string]struct{}{
	manifests.SchemaFileName: {},
	"manifest.json":          {},
}

func collect(dir, indexPrefix string, generations map[string][]file) error {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, dirEntry := range dirEntries {
		name := dirEntry.Name()
		path := filepath.Join(dir, name)
		if dirEntry.IsDir() {
			if indexPrefix == "" && strings.HasPrefix(name, ".") {
				if err := collect(path, name+"/", generations); err != nil {
					return err
				}
			}
			continue
		}
		component, ok := ParseComponent(name)
		if !ok {
			if _, known := nonComponentFiles[name]; !known {
				zap.S().Warnw("unrecognized_file_in_table", "path", path)
			}
			continue
		}
		info, err := dirEntry.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			continue
		}
		key := indexPrefix + component.Generation
		generations[key] = append(generations[key], file{component: component, path: path, info: info})
	}
	return nil
}

var sidecarDigestRe = regexp.MustCompile(`^[0-9A-Za-z]+$`)

// generationHash prefers a digest sidecar and otherwise checksums the tail
// of the largest component.
func generationHash(files []file) (string, error) {
	best := -1
	var sidecar file
	for _, f := range files {
		if p := digestPriority(f.component.Name); p >= 0 && (best < 0 || p < best) {
			best = p
			sidecar = f
		}
	}
	if best >= 0 {
		content, err := os.ReadFile(sidecar.path)
		if err != nil {
			return "", err
		}
		digest := strings.TrimSpace(string(content))
		if sidecarDigestRe.MatchString(digest) {
			return digest, nil
		}
		zap.S().Warnw("unusable_digest_sidecar", "path", sidecar.path)
	}

	var largest file
	for _, f := range files {
		if largest.info == nil || f.info.Size() > largest.info.Size() {
			largest = f
		}
	}
	if largest.info == nil {
		return "", fmt.Errorf("no components")
	}
	zap.S().Debugw("checksumming_generation", "path", largest.path, "size", largest.info.Size())
	sum, err := CalculateChecksum(largest.path)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(uint64(sum), 10), nil
}

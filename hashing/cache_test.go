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

package hashing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/retailnext/sstablebackup/cache"
	"github.com/retailnext/sstablebackup/paranoid"
)

func TestCacheSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "cache.db")
	testFilePath := filepath.Join(dir, "bigfile")
	if err := os.WriteFile(testFilePath, make([]byte, 1024*1024*3), 0o644); err != nil {
		t.Fatal(err)
	}
	safeFile, err := paranoid.NewFile(testFilePath)
	if err != nil {
		t.Fatal(err)
	}

	storage, err := cache.Open(cachePath, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	c := NewCache(storage, New(SHA256))
	first, err := c.Digest(context.Background(), safeFile)
	if err != nil {
		t.Fatal(err)
	}
	uncached, err := New(SHA256).HashFile(context.Background(), testFilePath)
	if err != nil {
		t.Fatal(err)
	}
	if first != uncached {
		t.Fatalf("cached digest %s differs from direct digest %s", first, uncached)
	}
	if err := storage.Close(); err != nil {
		t.Fatal(err)
	}

	storage, err = cache.Open(cachePath, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := storage.Close(); err != nil {
			t.Error(err)
		}
	}()

	// A hit must not touch the file, so removing it proves the value came from the cache.
	if err := os.Remove(testFilePath); err != nil {
		t.Fatal(err)
	}
	c = NewCache(storage, New(SHA256))
	second, err := c.Digest(context.Background(), safeFile)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("digest mismatch after reopen %s %s", first, second)
	}

	// Another algorithm keeps its own entries.
	other := NewCache(storage, New(CRC))
	if _, err := other.Digest(context.Background(), safeFile); err == nil {
		t.Fatal("expected a miss for a different algorithm to read the removed file")
	}
}

func TestCacheDisabled(t *testing.T) {
	storage, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"), 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = storage.Close()
	}()
	name := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(name, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	file, err := paranoid.NewFile(name)
	if err != nil {
		t.Fatal(err)
	}
	digest, err := NewCache(storage, New(None)).Digest(context.Background(), file)
	if err != nil || digest != "" {
		t.Fatalf("unexpected %q %v", digest, err)
	}
}

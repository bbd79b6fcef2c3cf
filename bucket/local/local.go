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

// Package local keeps buckets as directories. It serves single machine
// setups and tests.
package local

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/retailnext/sstablebackup/bucket/store"
	"github.com/retailnext/writefile"
)

type Store struct {
	dir    string
	target writefile.Config
}

// New returns a store for the bucket directory root/bucket.
func New(root, bucket string) (*Store, error) {
	if root == "" || bucket == "" {
		return nil, errors.New("local store needs a root and a bucket name")
	}
	dir := filepath.Join(root, bucket)
	return &Store{
		dir: dir,
		target: writefile.Config{
			Directory:     dir,
			DirectoryMode: 0755,
			FileMode:      0644,
		},
	}, nil
}

func (s *Store) fsPath(p string) string {
	return filepath.Join(s.dir, filepath.FromSlash(p))
}

func notFound(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return store.ErrNotFound
	}
	return err
}

func (s *Store) Stat(ctx context.Context, p string) (store.ObjectInfo, error) {
	info, err := os.Stat(s.fsPath(p))
	if err != nil {
		return store.ObjectInfo{}, notFound(err)
	}
	if info.IsDir() {
		return store.ObjectInfo{}, store.ErrNotFound
	}
	return store.ObjectInfo{
		Path:         p,
		Size:         info.Size(),
		LastModified: info.ModTime(),
	}, nil
}

// Touch moves the modification time forward, which is what a retention sweep
// over the directory would look at.
func (s *Store) Touch(ctx context.Context, p string) error {
	now := time.Now()
	return notFound(os.Chtimes(s.fsPath(p), now, now))
}

func (s *Store) Put(ctx context.Context, p string, body store.Body) error {
	return s.target.WriteFile(filepath.FromSlash(p), func(file *os.File) error {
		_, err := io.Copy(file, body.Reader())
		return err
	})
}

func (s *Store) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	file, err := os.Open(s.fsPath(p))
	if err != nil {
		return nil, notFound(err)
	}
	return file, nil
}

func (s *Store) Delete(ctx context.Context, p string) error {
	err := os.Remove(s.fsPath(p))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *Store) List(ctx context.Context, prefix string, fn func(store.ObjectInfo) error) error {
	base := prefix
	if !strings.HasSuffix(base, "/") {
		base, _ = path.Split(base)
	}
	root := s.fsPath(base)
	err := filepath.WalkDir(root, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && name == root {
				return filepath.SkipDir
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.dir, name)
		if err != nil {
			return err
		}
		p := filepath.ToSlash(rel)
		if !strings.HasPrefix(p, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return notFound(err)
		}
		return fn(store.ObjectInfo{
			Path:         p,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *Store) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.fsPath(prefix))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var result []string
	for _, entry := range entries {
		if entry.IsDir() {
			result = append(result, prefix+entry.Name()+"/")
		}
	}
	sort.Strings(result)
	return result, nil
}

func (s *Store) BucketExists(ctx context.Context) (bool, error) {
	info, err := os.Stat(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (s *Store) CreateBucket(ctx context.Context) error {
	return os.MkdirAll(s.dir, 0755)
}

// DeleteBucket only removes an empty bucket.
func (s *Store) DeleteBucket(ctx context.Context) error {
	return os.Remove(s.dir)
}

func (s *Store) Close() error {
	return nil
}

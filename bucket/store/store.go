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

// Package store is the contract each object storage provider implements.
// Paths are absolute within the bucket.
package store

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrNotFound = errors.New("object not found")

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

type ObjectInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
	// EncryptionKeyID is the provider's name for the server side key the
	// object is encrypted with, empty when none or provider default.
	EncryptionKeyID string
}

type ObjectStore interface {
	// Stat returns ErrNotFound (possibly wrapped) for missing objects.
	Stat(ctx context.Context, path string) (ObjectInfo, error)
	// Touch marks an existing object as still wanted without moving bytes.
	Touch(ctx context.Context, path string) error
	Put(ctx context.Context, path string, body Body) error
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	// List calls fn for every object under prefix.
	List(ctx context.Context, prefix string, fn func(ObjectInfo) error) error
	// ListPrefixes returns the immediate "directories" under prefix, each
	// ending in "/".
	ListPrefixes(ctx context.Context, prefix string) ([]string, error)

	BucketExists(ctx context.Context) (bool, error)
	CreateBucket(ctx context.Context) error
	DeleteBucket(ctx context.Context) error

	Close() error
}

// ReaderFilter wraps the byte stream of a transfer, for rate limiting and
// progress accounting.
type ReaderFilter func(io.Reader) io.Reader

// Body is the content of an upload. Providers read it in sections so that
// parts can be sent, and resent, independently.
type Body struct {
	ReaderAt io.ReaderAt
	Size     int64
	Filter   ReaderFilter
}

// Section returns a seekable reader over [offset, offset+length). Seeking
// back to the start re-applies the filter.
func (b Body) Section(offset, length int64) io.ReadSeeker {
	s := &filteredSection{
		section: io.NewSectionReader(b.ReaderAt, offset, length),
		filter:  b.Filter,
	}
	s.reset()
	return s
}

func (b Body) Reader() io.ReadSeeker {
	return b.Section(0, b.Size)
}

type filteredSection struct {
	section *io.SectionReader
	filter  ReaderFilter
	reader  io.Reader
}

func (s *filteredSection) reset() {
	s.reader = s.section
	if s.filter != nil {
		s.reader = s.filter(s.section)
	}
}

func (s *filteredSection) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

// Seek supports the rewinding and size discovery SDK retries need. The
// filter is rebuilt around the section's new position.
func (s *filteredSection) Seek(offset int64, whence int) (int64, error) {
	pos, err := s.section.Seek(offset, whence)
	if err != nil {
		return pos, err
	}
	s.reset()
	return pos, nil
}

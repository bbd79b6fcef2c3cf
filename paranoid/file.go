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


// Package paranoid tracks local files by a stat fingerprint so that a file
// rewritten while it is being hashed or uploaded is detected instead of being
// silently stored with the wrong content.
package paranoid

import (
	"os"
	"time"
)

// File is a path plus the fingerprint it had when it was first seen.
type File struct {
	name        string
	fingerprint fingerprint
}

func NewFileFromInfo(name string, info os.FileInfo) File {
	f := File{name: name}
	f.fingerprint.fromInfo(info)
	return f
}

func NewFile(name string) (File, error) {
	info, err := os.Stat(name)
	if err != nil {
		return File{}, err
	}
	return NewFileFromInfo(name, info), nil
}

func (f File) Name() string {
	return f.name
}

func (f File) Len() int64 {
	return f.fingerprint.size
}

func (f File) ModTime() time.Time {
	return time.Unix(f.fingerprint.mtimeSec, f.fingerprint.mtimeNsec)
}

// SameVersion reports whether other was fingerprinted from the same inode
// with the same size and modification time.
func (f File) SameVersion(other File) bool {
	return f.fingerprint == other.fingerprint
}

// Verify stats the path again and fails with *FingerprintMismatch when it
// no longer matches.
func (f File) Verify() error {
	info, err := os.Stat(f.name)
	if err != nil {
		return err
	}
	return f.compare(info)
}

func (f File) compare(info os.FileInfo) error {
	var current fingerprint
	current.fromInfo(info)
	if current == f.fingerprint {
		return nil
	}
	return &FingerprintMismatch{
		Name:     f.name,
		expected: f.fingerprint,
		actual:   current,
	}
}

// Handle is an open descriptor of a fingerprinted file.
type Handle struct {
	*os.File
	file File
}

// Open opens the file for reading, refusing a file that already changed.
func (f File) Open() (*Handle, error) {
	osFile, err := os.Open(f.name)
	if err != nil {
		return nil, err
	}
	h := &Handle{File: osFile, file: f}
	if err := h.Verify(); err != nil {
		_ = osFile.Close()
		return nil, err
	}
	return h, nil
}

// Verify checks the open descriptor against the fingerprint. Called after
// the content was consumed, it proves the bytes read belong to the version
// that was fingerprinted.
func (h *Handle) Verify() error {
	info, err := h.File.Stat()
	if err != nil {
		return err
	}
	return h.file.compare(info)
}

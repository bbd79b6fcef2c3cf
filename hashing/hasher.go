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

// Package hashing computes and verifies whole-file content digests. The
// algorithm is chosen once per run and carried by the Hasher value.
package hashing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
)

type Algorithm string

const (
	None    Algorithm = "NONE"
	CRC     Algorithm = "CRC"
	SHA256  Algorithm = "SHA-256"
	XXHash  Algorithm = "XXHASH"
	BLAKE2b Algorithm = "BLAKE2B"
)

var Algorithms = []Algorithm{None, CRC, SHA256, XXHash, BLAKE2b}

func ParseAlgorithm(s string) (Algorithm, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	switch normalized {
	case "", "NONE":
		return None, nil
	case "CRC", "CRC32":
		return CRC, nil
	case "SHA-256", "SHA256":
		return SHA256, nil
	case "XXHASH", "XXHASH64":
		return XXHash, nil
	case "BLAKE2B", "BLAKE2B-512":
		return BLAKE2b, nil
	}
	return None, fmt.Errorf("unknown hash algorithm %q", s)
}

func (a Algorithm) String() string {
	if a == "" {
		return string(None)
	}
	return string(a)
}

func (a Algorithm) newHash() hash.Hash {
	switch a {
	case CRC:
		return crc32.NewIEEE()
	case SHA256:
		return sha256.New()
	case XXHash:
		return xxhash.New()
	case BLAKE2b:
		h, err := blake2b.New512(nil)
		if err != nil {
			panic(err)
		}
		return h
	}
	return nil
}

const checkContextBytesInterval = 1024 * 1024 * 8
const bufferSize = 4 * 1024 * 8

// Hasher is safe for concurrent use.
type Hasher struct {
	algorithm Algorithm
}

func New(algorithm Algorithm) Hasher {
	return Hasher{algorithm: algorithm}
}

func (h Hasher) Algorithm() Algorithm {
	return h.algorithm
}

func (h Hasher) Enabled() bool {
	return h.algorithm != "" && h.algorithm != None
}

// Hash returns the hex digest of everything read from reader. With NONE the
// reader is not consumed and the digest is empty.
func (h Hasher) Hash(ctx context.Context, reader io.Reader) (string, error) {
	digest := h.algorithm.newHash()
	if digest == nil {
		return "", nil
	}
	buf := make([]byte, bufferSize)
	var lastChecked, size int64
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if _, werr := digest.Write(buf[:n]); werr != nil {
				panic(werr)
			}
			size += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		if size-lastChecked > checkContextBytesInterval {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			lastChecked = size
		}
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

func (h Hasher) HashFile(ctx context.Context, path string) (string, error) {
	if !h.Enabled() {
		return "", nil
	}
	file, err := os.Open(path)
	if err != nil {
		return "", &IOFailure{Path: path, Err: err}
	}
	defer func() {
		_ = file.Close()
	}()
	sum, err := h.Hash(ctx, file)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &IOFailure{Path: path, Err: err}
	}
	return sum, nil
}

// Verify returns nil when the file matches expected. NONE always matches, as
// does an empty expected digest, which is what entries recorded without
// hashing carry.
func (h Hasher) Verify(ctx context.Context, path, expected string) error {
	if !h.Enabled() || expected == "" {
		return nil
	}
	actual, err := h.HashFile(ctx, path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(actual, expected) {
		return &HashMismatch{
			Path:      path,
			Algorithm: h.algorithm,
			Expected:  expected,
			Actual:    actual,
		}
	}
	return nil
}

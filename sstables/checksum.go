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
	"hash/adler32"
	"io"
	"os"
)

// ChecksumWindow is how much of the end of a file CalculateChecksum reads.
const ChecksumWindow = 10 * 1024 * 1024

// CalculateChecksum returns the Adler-32 of the last ChecksumWindow bytes of
// the file, or of the whole file when it is smaller.
func CalculateChecksum(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if offset := info.Size() - ChecksumWindow; offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return 0, err
		}
	}

	h := adler32.New()
	if _, err := io.Copy(h, io.LimitReader(f, ChecksumWindow)); err != nil {
		return 0, err
	}
	return h.Sum32(), nil
}

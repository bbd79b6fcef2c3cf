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


package restore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/shirou/gopsutil/disk"
)

const lockFileName = ".sstablebackup-restore.lock"

var getUsage = disk.Usage

// checkFreeSpace fails when dir's filesystem cannot hold need more bytes.
func checkFreeSpace(dir string, need int64) error {
	usage, err := getUsage(dir)
	if err != nil {
		return err
	}
	if need > 0 && uint64(need) > usage.Free {
		return fmt.Errorf("restore needs %d bytes but %s has %d free", need, dir, usage.Free)
	}
	return nil
}

type targetLock struct {
	file *flock.Flock
}

// lockTarget keeps two restores from writing into the same directory.
func lockTarget(dir string) (*targetLock, error) {
	name := filepath.Join(dir, lockFileName)
	lock := flock.New(name)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("another restore is already writing to %s (lock: %s)", dir, name)
	}
	return &targetLock{file: lock}, nil
}

func (l *targetLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Unlock()
	_ = os.Remove(l.file.Path())
	return err
}

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

package paranoid

import (
	"os"
	"syscall"
)

type identity struct {
	device uint64
	inode  uint64
}

type fingerprint struct {
	identity  identity
	size      int64
	mtimeSec  int64
	mtimeNsec int64
}

func (fp *fingerprint) fromInfo(info os.FileInfo) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		panic("paranoid: unsupported FileInfo.Sys()")
	}
	fp.identity = identity{
		device: uint64(stat.Dev),
		inode:  uint64(stat.Ino),
	}
	fp.size = stat.Size
	fp.mtimeSec, fp.mtimeNsec = mtimeFromStat(stat)
}

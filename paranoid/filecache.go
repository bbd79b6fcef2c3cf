// Copyright 2023 RetailNext, Inc.
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
	"bytes"
	"encoding/binary"
)

const (
	cacheKeyIdentityLen = 16 // device + inode
	cacheValueHeaderLen = 24 // sec + nsec + size
)

// CacheKey identifies the file on this host. The namespace keeps values
// computed by different algorithms for the same inode apart.
func (f File) CacheKey(namespace string) []byte {
	key := make([]byte, cacheKeyIdentityLen, cacheKeyIdentityLen+len(namespace))
	binary.BigEndian.PutUint64(key[0:], f.fingerprint.identity.device)
	binary.BigEndian.PutUint64(key[8:], f.fingerprint.identity.inode)
	return append(key, namespace...)
}

func (f File) cacheValueHeader() [cacheValueHeaderLen]byte {
	var header [cacheValueHeaderLen]byte
	binary.BigEndian.PutUint64(header[0:], uint64(f.fingerprint.mtimeSec))
	binary.BigEndian.PutUint64(header[8:], uint64(f.fingerprint.mtimeNsec))
	binary.BigEndian.PutUint64(header[16:], uint64(f.fingerprint.size))
	return header
}

// UnwrapCacheEntry returns the payload of a value written by WrapCacheEntry,
// or nil when the value describes a different version of the file.
func (f File) UnwrapCacheEntry(cacheValue []byte) []byte {
	if len(cacheValue) < cacheValueHeaderLen {
		return nil
	}
	header := f.cacheValueHeader()
	if !bytes.Equal(header[:], cacheValue[0:cacheValueHeaderLen]) {
		return nil
	}
	return cacheValue[cacheValueHeaderLen:]
}

func (f File) WrapCacheEntry(data []byte) []byte {
	r := make([]byte, 0, cacheValueHeaderLen+len(data))
	header := f.cacheValueHeader()
	r = append(r, header[:]...)
	r = append(r, data...)
	return r
}

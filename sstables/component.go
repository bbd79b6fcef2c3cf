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

// Package sstables groups the component files of a table directory into
// SSTable generations and assigns each component a content-addressed key.
package sstables

import "regexp"

// Accepts, among others:
//
//	ks-table-ka-1-Data.db                      (2.0 and earlier)
//	la-1-big-Data.db, md-462-big-Summary.db    (2.2 and later)
//	nb-3gfn_0sjz_2wbzk2b3z9n0d7v0vc-bti-Rows.db (uuid generations)
var componentRe = regexp.MustCompile(`^(?:(.+)-)?(\d+|[0-9a-z]{4}_[0-9a-z]{4}_[0-9a-z]{18})(?:-(big|bti))?-([A-Za-z0-9_.]+)$`)

type Component struct {
	FileName   string
	Prefix     string
	Generation string
	Format     string
	Name       string
}

func ParseComponent(fileName string) (Component, bool) {
	m := componentRe.FindStringSubmatch(fileName)
	if m == nil {
		return Component{}, false
	}
	return Component{
		FileName:   fileName,
		Prefix:     m[1],
		Generation: m[2],
		Format:     m[3],
		Name:       m[4],
	}, true
}

// digestComponents lists the digest sidecars in the order they are trusted.
var digestComponents = []string{
	"Digest.crc32",
	"Digest.adler32",
	"Digest.sha1",
	"Digest.sha256",
}

func digestPriority(name string) int {
	for i, candidate := range digestComponents {
		if candidate == name {
			return i
		}
	}
	return -1
}

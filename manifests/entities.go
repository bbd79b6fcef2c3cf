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

package manifests

import (
	"fmt"
	"sort"
	"strings"
)

// DatabaseEntities selects whole keyspaces and individual tables. The empty
// selection means everything.
type DatabaseEntities struct {
	Keyspaces []string
	Tables    []KeyspaceTable
}

// ParseDatabaseEntities reads comma separated "keyspace" and
// "keyspace.table" tokens.
func ParseDatabaseEntities(s string) (DatabaseEntities, error) {
	var result DatabaseEntities
	seenKeyspaces := make(map[string]struct{})
	seenTables := make(map[KeyspaceTable]struct{})
	for _, token := range strings.Split(s, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		parts := strings.Split(token, ".")
		switch {
		case len(parts) == 1:
			if _, ok := seenKeyspaces[token]; !ok {
				seenKeyspaces[token] = struct{}{}
				result.Keyspaces = append(result.Keyspaces, token)
			}
		case len(parts) == 2 && parts[0] != "" && parts[1] != "":
			kt := KeyspaceTable{Keyspace: parts[0], Table: parts[1]}
			if _, ok := seenTables[kt]; !ok {
				seenTables[kt] = struct{}{}
				result.Tables = append(result.Tables, kt)
			}
		default:
			return DatabaseEntities{}, fmt.Errorf("invalid entity %q: expected keyspace or keyspace.table", token)
		}
	}
	return result, nil
}

func (e DatabaseEntities) IsEmpty() bool {
	return len(e.Keyspaces) == 0 && len(e.Tables) == 0
}

// Contains reports whether a keyspace, or one of its tables when a table is
// given, is selected. Without a table only whole-keyspace selections match.
func (e DatabaseEntities) Contains(keyspace string, table ...string) bool {
	if e.IsEmpty() {
		return true
	}
	for _, ks := range e.Keyspaces {
		if ks == keyspace {
			return true
		}
	}
	if len(table) == 0 {
		return false
	}
	for _, kt := range e.Tables {
		if kt.Keyspace == keyspace && kt.Table == table[0] {
			return true
		}
	}
	return false
}

// Mentions reports whether anything in keyspace is selected.
func (e DatabaseEntities) Mentions(keyspace string) bool {
	if e.Contains(keyspace) {
		return true
	}
	for _, kt := range e.Tables {
		if kt.Keyspace == keyspace {
			return true
		}
	}
	return false
}

func (e DatabaseEntities) String() string {
	tokens := make([]string, 0, len(e.Keyspaces)+len(e.Tables))
	tokens = append(tokens, e.Keyspaces...)
	for _, kt := range e.Tables {
		tokens = append(tokens, kt.String())
	}
	return strings.Join(tokens, ",")
}

// KeyspaceNames lists every keyspace the selection touches, sorted.
func (e DatabaseEntities) KeyspaceNames() []string {
	seen := make(map[string]struct{})
	for _, ks := range e.Keyspaces {
		seen[ks] = struct{}{}
	}
	for _, kt := range e.Tables {
		seen[kt.Keyspace] = struct{}{}
	}
	result := make([]string, 0, len(seen))
	for ks := range seen {
		result = append(result, ks)
	}
	sort.Strings(result)
	return result
}

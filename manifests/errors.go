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
	"errors"
	"fmt"
	"strings"
)

type IllegalManifestLayout struct {
	Path   string
	Reason string
}

func (e *IllegalManifestLayout) Error() string {
	return fmt.Sprintf("illegal manifest layout at %q: %s", e.Path, e.Reason)
}

func IsIllegalManifestLayout(err error) bool {
	var target *IllegalManifestLayout
	return errors.As(err, &target)
}

// SchemaConflict lists tables whose schemas differ between two snapshots.
type SchemaConflict struct {
	Snapshot string
	Tables   []KeyspaceTable
}

func (e *SchemaConflict) Error() string {
	names := make([]string, 0, len(e.Tables))
	for _, kt := range e.Tables {
		names = append(names, kt.String())
	}
	return fmt.Sprintf("snapshot %q has conflicting schemas for %s", e.Snapshot, strings.Join(names, ", "))
}

func IsSchemaConflict(err error) bool {
	var target *SchemaConflict
	return errors.As(err, &target)
}

// ErrManifestNotFound is returned when no manifest has the requested tag.
var ErrManifestNotFound = errors.New("manifest not found")

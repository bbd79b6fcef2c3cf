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

package nodetool

import (
	"testing"

	"github.com/go-test/deep"
	"github.com/retailnext/sstablebackup/manifests"
)

func TestSnapshotArgs(t *testing.T) {
	everything := snapshotArgs("tag", manifests.DatabaseEntities{})
	if diff := deep.Equal(everything, []string{"-h", "localhost", "snapshot", "-t", "tag"}); diff != nil {
		t.Error(diff)
	}

	keyspaces, err := manifests.ParseDatabaseEntities("ks1,ks2")
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(snapshotArgs("tag", keyspaces), []string{"-h", "localhost", "snapshot", "-t", "tag", "ks1", "ks2"}); diff != nil {
		t.Error(diff)
	}

	tables, err := manifests.ParseDatabaseEntities("ks1.a,ks2.b")
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(snapshotArgs("tag", tables), []string{"-h", "localhost", "snapshot", "-t", "tag", "-kt", "ks1.a,ks2.b"}); diff != nil {
		t.Error(diff)
	}
}

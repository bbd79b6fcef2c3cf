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


package backup

import (
	"context"

	"github.com/retailnext/sstablebackup/nodetool"
	"go.uber.org/zap"
)

var (
	takeSnapshot  = nodetool.TakeSnapshot
	clearSnapshot = nodetool.ClearSnapshot
)

// snapshotCleanup clears a snapshot this process took once the backup is
// over, whatever its outcome.
type snapshotCleanup struct {
	name string
	keep bool

	manifestUploaded bool
}

func (ch *snapshotCleanup) MarkManifestUploadSuccess() {
	ch.manifestUploaded = true
}

func (ch *snapshotCleanup) Execute(ctx context.Context) error {
	lgr := zap.S()
	if ch.keep {
		lgr.Infow("keeping_snapshot", "tag", ch.name, "manifest_uploaded", ch.manifestUploaded)
		return nil
	}
	if !ch.manifestUploaded {
		lgr.Warnw("clearing_snapshot_without_manifest", "tag", ch.name)
	}
	// The backup ctx may already be done; clearing must still happen.
	return clearSnapshot(context.WithoutCancel(ctx), ch.name)
}

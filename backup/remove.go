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


package backup

import (
	"context"
	"fmt"
	"sort"

	"github.com/retailnext/sstablebackup/bucket"
	"github.com/retailnext/sstablebackup/manifests"
	"go.uber.org/zap"
)

// Remove deletes the manifest tagged tag from the client's node. The files
// it referenced stay; they may be shared with other manifests and expire
// through the bucket's retention once nothing freshens them.
func Remove(ctx context.Context, client bucket.Client, tag string) error {
	tags, err := client.ListManifests(ctx, client.Node())
	if err != nil {
		return err
	}
	if i := sort.SearchStrings(tags, tag); i == len(tags) || tags[i] != tag {
		return fmt.Errorf("%w: %s", manifests.ErrManifestNotFound, tag)
	}
	ref := client.ObjectKeyToNodeAwareRemoteReference(manifests.ManifestObjectKey(tag))
	if err := client.Delete(ctx, ref); err != nil {
		return err
	}
	zap.S().Infow("removed_manifest", "tag", tag, "node", client.Node())
	return nil
}

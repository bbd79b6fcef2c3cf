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

package bucket

import (
	"context"
	"errors"
	"strings"

	"github.com/retailnext/sstablebackup/bucket/store"
	"github.com/retailnext/sstablebackup/manifests"
	"github.com/retailnext/sstablebackup/metrics"
	"go.uber.org/zap"
)

// FreshenRemoteObject keeps an already uploaded object alive without sending
// its bytes again. Anything that makes the remote copy unusable for entry
// comes back as UploadRequired rather than as an error.
func (c *client) FreshenRemoteObject(ctx context.Context, entry manifests.ManifestEntry, ref RemoteRef) (FreshenResult, error) {
	if c.exists.Get(ref.Path, c.encryptionKeyID) {
		metrics.Freshen.ExistsCacheHits.Inc()
		return Freshened, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return UploadRequired, err
	}
	var info store.ObjectInfo
	err := c.call(ctx, func() error {
		var err error
		info, err = c.store.Stat(ctx, ref.Path)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return c.uploadRequired(ref, "not_found"), nil
	}
	if err != nil {
		return UploadRequired, err
	}
	if entry.Size > 0 && info.Size != entry.Size {
		zap.S().Infow("freshen_saw_wrong_length", "path", ref.Path, "expected", entry.Size, "actual", info.Size)
		return c.uploadRequired(ref, "size_mismatch"), nil
	}
	if !SameEncryptionKey(c.encryptionKeyID, info.EncryptionKeyID) {
		zap.S().Infow("freshen_saw_other_encryption_key", "path", ref.Path, "expected", c.encryptionKeyID, "actual", info.EncryptionKeyID)
		return c.uploadRequired(ref, "encryption_key_mismatch"), nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return UploadRequired, err
	}
	err = c.call(ctx, func() error {
		return c.store.Touch(ctx, ref.Path)
	})
	if errors.Is(err, store.ErrNotFound) {
		return c.uploadRequired(ref, "vanished"), nil
	}
	if err != nil {
		return UploadRequired, err
	}

	c.exists.Put(ref.Path, c.encryptionKeyID)
	metrics.Freshen.Freshened.Inc()
	metrics.Freshen.FreshenedBytes.Add(float64(info.Size))
	return Freshened, nil
}

func (c *client) uploadRequired(ref RemoteRef, reason string) FreshenResult {
	zap.S().Debugw("freshen_upload_required", "path", ref.Path, "reason", reason)
	c.exists.Forget(ref.Path, c.encryptionKeyID)
	metrics.Freshen.UploadRequired.Inc()
	return UploadRequired
}

// SameEncryptionKey reports whether an object encrypted with have can stand
// in for one written with want. The rule is symmetric: an object carrying a
// key while none is configured is rewritten just like the reverse. Key names
// are compared after dropping GCS key versions, and a bare key id matches an
// ARN or resource name that ends in it.
func SameEncryptionKey(want, have string) bool {
	want = normalizeKeyID(want)
	have = normalizeKeyID(have)
	switch {
	case want == have:
		return true
	case want == "" || have == "":
		return false
	}
	return strings.HasSuffix(want, "/"+have) || strings.HasSuffix(have, "/"+want)
}

func normalizeKeyID(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.Index(id, "/cryptoKeyVersions/"); i >= 0 {
		id = id[:i]
	}
	return id
}

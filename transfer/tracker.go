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

package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/retailnext/sstablebackup/bucket"
	"github.com/retailnext/sstablebackup/config"
	"github.com/retailnext/sstablebackup/hashing"
	"github.com/retailnext/sstablebackup/manifests"
	"github.com/retailnext/sstablebackup/metrics"
	"github.com/retailnext/writefile"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

type Request struct {
	Client    bucket.Client
	Direction Direction
	// Entries are uploaded from, or downloaded to, their LocalFile.
	Entries     []manifests.ManifestEntry
	Tag         string
	Concurrency int
	Bandwidth   int64
	Duration    time.Duration
	// Hasher verifies downloads against the entry hashes.
	Hasher hashing.Hasher
	// Target supplies modes and ownership for downloaded files. Its
	// Directory is the root they are written relative to.
	Target writefile.Config
	// FailFast cancels the session's other units after the first failure.
	FailFast bool
}

// Tracker is the registry of units across every live session.
type Tracker struct {
	lock     sync.Mutex
	units    map[string]*Unit
	sessions map[*Session]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{
		units:    make(map[string]*Unit),
		sessions: make(map[*Session]struct{}),
	}
}

var (
	Shared     *Tracker
	sharedOnce sync.Once
)

// OpenShared returns the process-wide tracker.
func OpenShared() *Tracker {
	sharedOnce.Do(func() {
		Shared = NewTracker()
	})
	return Shared
}

// Submit registers req and starts its new units in the background. Entries
// whose destination is already tracked by a unit that has not failed reuse
// that unit instead of transferring again.
func (t *Tracker) Submit(ctx context.Context, req Request) *Session {
	concurrency := config.ClampConcurrency(req.Concurrency)

	var totalBytes int64
	for _, entry := range req.Entries {
		totalBytes += entry.Size
	}
	bandwidth := EffectiveBandwidth(totalBytes, req.Bandwidth, req.Duration)

	sessionCtx, cancel := context.WithCancel(ctx)
	session := &Session{
		tag:        req.Tag,
		direction:  req.Direction,
		totalBytes: totalBytes,
		bandwidth:  bandwidth,
		started:    time.Now(),
		ctx:        sessionCtx,
		cancel:     cancel,
	}

	var created []*Unit
	reused := 0
	seen := make(map[string]struct{}, len(req.Entries))

	t.lock.Lock()
	for _, entry := range req.Entries {
		ref := req.Client.ObjectKeyToNodeAwareRemoteReference(entry.ObjectKey)
		key := unitKey(req.Direction, entry, ref)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if existing, ok := t.units[key]; ok && existing.State() != Failed {
			existing.refs++
			session.units = append(session.units, existing)
			reused++
			continue
		}
		u := newUnit(req.Direction, entry, ref)
		u.refs = 1
		u.owner = session
		t.units[key] = u
		session.units = append(session.units, u)
		created = append(created, u)
	}
	session.created = created
	t.sessions[session] = struct{}{}
	metrics.Transfer.Units.Set(float64(len(t.units)))
	metrics.Transfer.Sessions.Set(float64(len(t.sessions)))
	t.lock.Unlock()

	zap.S().Infow("transfer_session_submitted",
		"tag", req.Tag,
		"direction", req.Direction.String(),
		"units", len(session.units),
		"created", len(created),
		"reused", reused,
		"total_bytes", totalBytes,
		"bandwidth", bandwidth,
		"concurrency", concurrency,
	)

	target := req.Target
	if target.DirectoryMode == 0 {
		target.DirectoryMode = 0755
	}
	if target.FileMode == 0 {
		target.FileMode = 0644
	}
	e := &env{
		client:      req.Client,
		hasher:      req.Hasher,
		target:      target,
		failFast:    req.FailFast,
		cancelOwner: cancel,
	}
	if bandwidth > 0 {
		e.unitRate = float64(bandwidth) / float64(concurrency)
	}
	pool := semaphore.NewWeighted(int64(concurrency))
	for _, u := range created {
		go func(u *Unit) {
			if err := pool.Acquire(sessionCtx, 1); err != nil {
				u.cancel()
				return
			}
			defer pool.Release(1)
			if sessionCtx.Err() != nil {
				u.cancel()
				return
			}
			u.run(sessionCtx, e)
		}(u)
	}
	return session
}

// RemoveSession releases the session's hold on its units. A unit leaves the
// tracker once no session holds it. A session's context is released once it
// is removed and no other session still holds a unit it created.
func (t *Tracker) RemoveSession(session *Session) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if _, ok := t.sessions[session]; !ok {
		return
	}
	delete(t.sessions, session)
	session.removed = true
	owners := map[*Session]struct{}{session: {}}
	for _, u := range session.units {
		u.refs--
		if u.refs > 0 {
			continue
		}
		if t.units[u.key] == u {
			delete(t.units, u.key)
		}
		owners[u.owner] = struct{}{}
	}
	for owner := range owners {
		owner.releaseIfUnheld()
	}
	metrics.Transfer.Units.Set(float64(len(t.units)))
	metrics.Transfer.Sessions.Set(float64(len(t.sessions)))
}

// Tracked returns the number of distinct units held.
func (t *Tracker) Tracked() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.units)
}

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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/ratelimit"
	"github.com/retailnext/sstablebackup/bucket"
	"github.com/retailnext/sstablebackup/bucket/store"
	"github.com/retailnext/sstablebackup/hashing"
	"github.com/retailnext/sstablebackup/manifests"
	"github.com/retailnext/sstablebackup/metrics"
	"github.com/retailnext/writefile"
	"go.uber.org/zap"
)

// Unit is one file moving in one direction. Units are shared between the
// sessions that asked for the same destination.
type Unit struct {
	direction Direction
	entry     manifests.ManifestEntry
	ref       bucket.RemoteRef
	key       string

	state       atomic.Int32
	transferred atomic.Int64
	skipped     atomic.Bool
	done        chan struct{}

	errLock sync.Mutex
	err     error

	// refs and owner are guarded by the tracker's lock.
	refs  int
	owner *Session
}

func newUnit(direction Direction, entry manifests.ManifestEntry, ref bucket.RemoteRef) *Unit {
	return &Unit{
		direction: direction,
		entry:     entry,
		ref:       ref,
		key:       unitKey(direction, entry, ref),
		done:      make(chan struct{}),
	}
}

// unitKey is what makes two requests the same work. Uploads are the same
// when they land on the same object. Downloads must also read the same
// object, since restores of different nodes or tags can share a file name.
func unitKey(direction Direction, entry manifests.ManifestEntry, ref bucket.RemoteRef) string {
	if direction == Download {
		return direction.String() + ":" + entry.LocalFile + "\x00" + ref.Path
	}
	return direction.String() + ":" + ref.Path
}

func (u *Unit) Direction() Direction {
	return u.direction
}

func (u *Unit) Entry() manifests.ManifestEntry {
	return u.entry
}

func (u *Unit) Ref() bucket.RemoteRef {
	return u.ref
}

func (u *Unit) State() State {
	return State(u.state.Load())
}

// Skipped reports whether the unit finished without moving bytes.
func (u *Unit) Skipped() bool {
	return u.skipped.Load()
}

func (u *Unit) Transferred() int64 {
	return u.transferred.Load()
}

// Done is closed once the unit is terminal.
func (u *Unit) Done() <-chan struct{} {
	return u.done
}

func (u *Unit) Err() error {
	u.errLock.Lock()
	defer u.errLock.Unlock()
	return u.err
}

func (u *Unit) finish() {
	u.state.Store(int32(Finished))
	close(u.done)
}

func (u *Unit) fail(err error) {
	u.errLock.Lock()
	u.err = err
	u.errLock.Unlock()
	u.state.Store(int32(Failed))
	close(u.done)
}

// cancel fails a unit that never started.
func (u *Unit) cancel() bool {
	if !u.state.CompareAndSwap(int32(Pending), int32(Failed)) {
		return false
	}
	u.errLock.Lock()
	u.err = ErrCancelled
	u.errLock.Unlock()
	close(u.done)
	return true
}

// env is what the submitting session lends the units it creates.
type env struct {
	client      bucket.Client
	hasher      hashing.Hasher
	target      writefile.Config
	unitRate    float64
	failFast    bool
	cancelOwner context.CancelFunc
}

func (u *Unit) run(ctx context.Context, e *env) {
	if !u.state.CompareAndSwap(int32(Pending), int32(Running)) {
		return
	}
	direction := u.direction.String()
	metrics.Transfer.InFlight.WithLabelValues(direction).Inc()
	defer metrics.Transfer.InFlight.WithLabelValues(direction).Dec()

	start := time.Now()
	var err error
	switch u.direction {
	case Upload:
		err = u.upload(ctx, e)
	case Download:
		err = u.download(ctx, e)
	default:
		err = fmt.Errorf("unknown direction %d", u.direction)
	}
	metrics.Transfer.SecondsVec.WithLabelValues(direction).Add(time.Since(start).Seconds())

	lgr := zap.S()
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrCancelled) {
			err = fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		metrics.Transfer.ErrorsVec.WithLabelValues(direction).Inc()
		lgr.Errorw("transfer_error", "direction", direction, "key", u.entry.ObjectKey, "file", u.entry.LocalFile, "err", err)
		u.fail(err)
		if e.failFast && e.cancelOwner != nil {
			e.cancelOwner()
		}
		return
	}
	if u.Skipped() {
		metrics.Transfer.SkippedVec.WithLabelValues(direction).Inc()
		lgr.Debugw("transfer_skipped", "direction", direction, "key", u.entry.ObjectKey)
	} else {
		metrics.Transfer.FilesVec.WithLabelValues(direction).Inc()
		lgr.Infow("transfer_done", "direction", direction, "key", u.entry.ObjectKey, "size", u.Transferred())
	}
	u.finish()
}

func (u *Unit) upload(ctx context.Context, e *env) error {
	if u.entry.Type != manifests.EntryTypeManifestFile {
		result, err := e.client.FreshenRemoteObject(ctx, u.entry, u.ref)
		if err != nil {
			return err
		}
		if result == bucket.Freshened {
			u.skipped.Store(true)
			return nil
		}
	}
	return e.client.UploadFile(ctx, u.entry, u.ref, u.filter(ctx, e))
}

func (u *Unit) download(ctx context.Context, e *env) error {
	destination := u.entry.LocalFile
	if destination == "" {
		return fmt.Errorf("no local destination for %s", u.entry.ObjectKey)
	}
	if u.existingMatches(ctx, e) {
		u.skipped.Store(true)
		return nil
	}

	// Under the target root, writefile creates the missing directories with
	// the configured ownership. Elsewhere the parent must already exist.
	target := e.target
	name, relErr := filepath.Rel(target.Directory, destination)
	if target.Directory == "" || relErr != nil || name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) {
		target.Directory = filepath.Dir(destination)
		name = filepath.Base(destination)
	}
	var downloadErr error
	err := target.WriteFile(name, func(file *os.File) error {
		downloadErr = u.downloadTo(ctx, e, file)
		return downloadErr
	})
	if downloadErr != nil {
		return downloadErr
	}
	return err
}

func (u *Unit) downloadTo(ctx context.Context, e *env, file *os.File) error {
	n, err := e.client.DownloadFile(ctx, u.ref, file, u.filter(ctx, e))
	if err != nil {
		return err
	}
	if u.entry.Size > 0 && n != u.entry.Size {
		return fmt.Errorf("downloaded %d bytes of %s, expected %d", n, u.entry.ObjectKey, u.entry.Size)
	}
	return u.verify(ctx, e, file)
}

// existingMatches keeps a destination that already holds the right bytes.
// Without a recorded hash there is nothing to trust it on.
func (u *Unit) existingMatches(ctx context.Context, e *env) bool {
	if !e.hasher.Enabled() || u.entry.Hash == "" {
		return false
	}
	info, err := os.Stat(u.entry.LocalFile)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if u.entry.Size > 0 && info.Size() != u.entry.Size {
		return false
	}
	if err := e.hasher.Verify(ctx, u.entry.LocalFile, u.entry.Hash); err != nil {
		zap.S().Infow("existing_file_mismatch", "path", u.entry.LocalFile, "err", err)
		return false
	}
	return true
}

func (u *Unit) verify(ctx context.Context, e *env, file *os.File) error {
	if !e.hasher.Enabled() || u.entry.Hash == "" {
		return nil
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	actual, err := e.hasher.Hash(ctx, file)
	if err != nil {
		return err
	}
	if !strings.EqualFold(actual, u.entry.Hash) {
		return &hashing.HashMismatch{
			Path:      u.entry.LocalFile,
			Algorithm: e.hasher.Algorithm(),
			Expected:  u.entry.Hash,
			Actual:    actual,
		}
	}
	return nil
}

// filter wraps transfer streams so they stop on cancellation, keep to the
// unit's share of the bandwidth and report progress. One token bucket serves
// every stream of the unit, including parallel parts.
func (u *Unit) filter(ctx context.Context, e *env) store.ReaderFilter {
	var tokens *ratelimit.Bucket
	if e.unitRate > 0 {
		capacity := int64(e.unitRate)
		if capacity < 32*1024 {
			capacity = 32 * 1024
		}
		tokens = ratelimit.NewBucketWithRate(e.unitRate, capacity)
	}
	bytesCounter := metrics.Transfer.BytesVec.WithLabelValues(u.direction.String())
	return func(r io.Reader) io.Reader {
		var reader io.Reader = &cancelReader{ctx: ctx, r: r}
		if tokens != nil {
			reader = ratelimit.Reader(reader, tokens)
		}
		return &countingReader{r: reader, unit: u, counter: bytesCounter}
	}
}

type cancelReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *cancelReader) Read(p []byte) (int, error) {
	if c.ctx.Err() != nil {
		return 0, ErrCancelled
	}
	return c.r.Read(p)
}

type adder interface {
	Add(float64)
}

type countingReader struct {
	r       io.Reader
	unit    *Unit
	counter adder
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.unit.transferred.Add(int64(n))
		c.counter.Add(float64(n))
	}
	return n, err
}

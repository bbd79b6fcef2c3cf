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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/retailnext/sstablebackup/bucket"
	"github.com/retailnext/sstablebackup/bucket/keystore"
	"github.com/retailnext/sstablebackup/bucket/local"
	"github.com/retailnext/sstablebackup/bucket/store"
	"github.com/retailnext/sstablebackup/hashing"
	"github.com/retailnext/sstablebackup/manifests"
)

func TestEffectiveBandwidth(t *testing.T) {
	cases := []struct {
		total      int64
		configured int64
		duration   time.Duration
		expected   int64
	}{
		{total: 1 << 30, expected: 0},
		{total: 1 << 30, configured: 10 << 20, expected: 10 << 20},
		{total: 1 << 30, configured: 1000, expected: MinimumBandwidth},
		{total: 3600 << 20, duration: time.Hour, expected: 1 << 20},
		{total: 3600 << 20, configured: 512 << 10, duration: time.Hour, expected: 512 << 10},
		{total: 3600 << 20, configured: 4 << 20, duration: time.Hour, expected: 1 << 20},
		{total: 10, duration: time.Hour, expected: MinimumBandwidth},
	}
	for i, tc := range cases {
		if got := EffectiveBandwidth(tc.total, tc.configured, tc.duration); got != tc.expected {
			t.Errorf("case %d: got %d expected %d", i, got, tc.expected)
		}
	}
}

// gatedClient counts uploads and holds each one until released.
type gatedClient struct {
	bucket.Client
	uploads int32
	gate    chan struct{}
	failFor map[string]int
	lock    sync.Mutex
}

func (c *gatedClient) UploadFile(ctx context.Context, entry manifests.ManifestEntry, ref bucket.RemoteRef, filter store.ReaderFilter) error {
	atomic.AddInt32(&c.uploads, 1)
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.lock.Lock()
	if c.failFor[entry.ObjectKey] > 0 {
		c.failFor[entry.ObjectKey]--
		c.lock.Unlock()
		return errors.New("injected failure")
	}
	c.lock.Unlock()
	return c.Client.UploadFile(ctx, entry, ref, filter)
}

func newLocalClient(t *testing.T) bucket.Client {
	t.Helper()
	objectStore, err := local.New(t.TempDir(), "backups")
	if err != nil {
		t.Fatal(err)
	}
	node := keystore.Node{Cluster: "c", Datacenter: "dc", Name: "n1"}
	return bucket.New(bucket.Options{
		Store: objectStore,
		Keys:  keystore.NewKeyStore("backups", "", node),
	})
}

func sha256Hex(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func localEntry(t *testing.T, dir, key, content string) manifests.ManifestEntry {
	t.Helper()
	name := filepath.Join(dir, filepath.Base(key))
	if err := os.WriteFile(name, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return manifests.ManifestEntry{
		ObjectKey: key,
		LocalFile: name,
		Type:      manifests.EntryTypeFile,
		Size:      int64(len(content)),
		Hash:      sha256Hex(content),
	}
}

func waitSession(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.WaitUntilConsideredFinished(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestOverlappingSessionsShareUnits(t *testing.T) {
	ctx := context.Background()
	client := &gatedClient{Client: newLocalClient(t), gate: make(chan struct{})}
	dir := t.TempDir()
	shared := localEntry(t, dir, "data/ks/t/1-1/t-1-big-Data.db", "shared")
	onlyA := localEntry(t, dir, "data/ks/t/2-2/t-2-big-Data.db", "only a")
	onlyB := localEntry(t, dir, "data/ks/t/3-3/t-3-big-Data.db", "only b")

	tracker := NewTracker()
	a := tracker.Submit(ctx, Request{Client: client, Direction: Upload, Entries: []manifests.ManifestEntry{shared, onlyA}, Tag: "a", Concurrency: 2})
	b := tracker.Submit(ctx, Request{Client: client, Direction: Upload, Entries: []manifests.ManifestEntry{shared, onlyB}, Tag: "b", Concurrency: 2})
	if n := tracker.Tracked(); n != 3 {
		t.Fatalf("expected 3 tracked units, got %d", n)
	}
	if a.Units()[0] != b.Units()[0] {
		t.Fatal("shared entry did not share a unit")
	}
	close(client.gate)

	waitSession(t, a)
	waitSession(t, b)
	if !a.IsSuccessful() || !b.IsSuccessful() {
		t.Fatalf("sessions failed: %v / %v", a.Err(), b.Err())
	}
	if n := atomic.LoadInt32(&client.uploads); n != 3 {
		t.Fatalf("expected 3 uploads, got %d", n)
	}

	tracker.RemoveSession(a)
	if n := tracker.Tracked(); n != 2 {
		t.Fatalf("expected the shared unit to survive, %d tracked", n)
	}
	if a.Cancelled() {
		t.Fatal("a's context was released while b still holds a unit a created")
	}
	tracker.RemoveSession(b)
	if n := tracker.Tracked(); n != 0 {
		t.Fatalf("expected an empty tracker, %d tracked", n)
	}
	if !a.Cancelled() || !b.Cancelled() {
		t.Fatalf("contexts not released after removal: a=%v b=%v", a.Cancelled(), b.Cancelled())
	}
}

func TestFailedUnitsAreNotReused(t *testing.T) {
	ctx := context.Background()
	entry := localEntry(t, t.TempDir(), "data/ks/t/1-1/t-1-big-Data.db", "bytes")
	client := &gatedClient{Client: newLocalClient(t), failFor: map[string]int{entry.ObjectKey: 1}}
	tracker := NewTracker()

	first := tracker.Submit(ctx, Request{Client: client, Direction: Upload, Entries: []manifests.ManifestEntry{entry}, Tag: "first", Concurrency: 1})
	waitSession(t, first)
	if first.IsSuccessful() {
		t.Fatal("expected the first session to fail")
	}
	failures := first.Failures()
	if _, ok := failures[entry.ObjectKey]; !ok || len(failures) != 1 {
		t.Fatalf("unexpected failures %v", failures)
	}

	second := tracker.Submit(ctx, Request{Client: client, Direction: Upload, Entries: []manifests.ManifestEntry{entry}, Tag: "second", Concurrency: 1})
	waitSession(t, second)
	if !second.IsSuccessful() {
		t.Fatalf("retry session failed: %v", second.Err())
	}
	if second.Units()[0] == first.Units()[0] {
		t.Fatal("failed unit was reused")
	}

	tracker.RemoveSession(first)
	if n := tracker.Tracked(); n != 1 {
		t.Fatalf("removing the failed session evicted the live unit, %d tracked", n)
	}
	tracker.RemoveSession(second)
}

func TestFailureDoesNotAbortSiblings(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	bad := localEntry(t, dir, "data/ks/t/1-1/t-1-big-Data.db", "bad")
	good := localEntry(t, dir, "data/ks/t/2-2/t-2-big-Data.db", "good")
	client := &gatedClient{Client: newLocalClient(t), failFor: map[string]int{bad.ObjectKey: 1}}

	session := NewTracker().Submit(ctx, Request{Client: client, Direction: Upload, Entries: []manifests.ManifestEntry{bad, good}, Concurrency: 1})
	waitSession(t, session)
	if session.IsSuccessful() {
		t.Fatal("expected failure")
	}
	failed := session.FailedUnits()
	if len(failed) != 1 || failed[0].Entry().ObjectKey != bad.ObjectKey {
		t.Fatalf("unexpected failed units %v", failed)
	}
	if state := session.Units()[1].State(); state != Finished {
		t.Fatalf("sibling ended %s", state)
	}
	if session.Err() == nil {
		t.Fatal("expected an aggregated error")
	}
}

func TestFailFastCancelsSession(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	var entries []manifests.ManifestEntry
	for i, name := range []string{"a", "b", "c", "d"} {
		entries = append(entries, localEntry(t, dir, "data/ks/t/"+name+"/t-"+string(rune('1'+i))+"-big-Data.db", name))
	}
	failFor := make(map[string]int)
	for _, entry := range entries {
		failFor[entry.ObjectKey] = 1
	}
	client := &gatedClient{Client: newLocalClient(t), failFor: failFor}

	session := NewTracker().Submit(ctx, Request{Client: client, Direction: Upload, Entries: entries, Concurrency: 1, FailFast: true})
	waitSession(t, session)
	for _, u := range session.Units() {
		<-u.Done()
	}
	if !session.Cancelled() {
		t.Fatal("expected the session to be cancelled")
	}
	if session.IsSuccessful() {
		t.Fatal("expected failure")
	}
	if n := atomic.LoadInt32(&client.uploads); n != 1 {
		t.Fatalf("expected one attempt before cancelling, got %d", n)
	}
	if n := len(session.FailedUnits()); n != len(entries) {
		t.Fatalf("expected every unit to fail, %d failed", n)
	}
}

func TestUploadFreshensSecondTime(t *testing.T) {
	ctx := context.Background()
	client := newLocalClient(t)
	entry := localEntry(t, t.TempDir(), "data/ks/t/1-1/t-1-big-Data.db", "content")
	tracker := NewTracker()

	first := tracker.Submit(ctx, Request{Client: client, Direction: Upload, Entries: []manifests.ManifestEntry{entry}, Concurrency: 1})
	waitSession(t, first)
	tracker.RemoveSession(first)
	if first.Units()[0].Skipped() {
		t.Fatal("first upload should move bytes")
	}
	if got := first.Units()[0].Transferred(); got != entry.Size {
		t.Fatalf("transferred %d bytes", got)
	}

	second := tracker.Submit(ctx, Request{Client: client, Direction: Upload, Entries: []manifests.ManifestEntry{entry}, Concurrency: 1})
	waitSession(t, second)
	tracker.RemoveSession(second)
	u := second.Units()[0]
	if !u.Skipped() || u.Transferred() != 0 {
		t.Fatalf("second upload should freshen, skipped=%v transferred=%d", u.Skipped(), u.Transferred())
	}
}

func TestDownload(t *testing.T) {
	ctx := context.Background()
	client := newLocalClient(t)
	entry := localEntry(t, t.TempDir(), "data/ks/t/1-1/t-1-big-Data.db", "sstable content")
	tracker := NewTracker()
	up := tracker.Submit(ctx, Request{Client: client, Direction: Upload, Entries: []manifests.ManifestEntry{entry}, Concurrency: 1})
	waitSession(t, up)
	tracker.RemoveSession(up)

	hasher := hashing.New(hashing.SHA256)
	restoreDir := t.TempDir()
	dest := entry.WithLocalFile(filepath.Join(restoreDir, "ks", "t-1", "t-1-big-Data.db"))
	down := tracker.Submit(ctx, Request{Client: client, Direction: Download, Entries: []manifests.ManifestEntry{dest}, Concurrency: 1, Hasher: hasher})
	waitSession(t, down)
	tracker.RemoveSession(down)
	if !down.IsSuccessful() {
		t.Fatal(down.Err())
	}
	content, err := os.ReadFile(dest.LocalFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "sstable content" {
		t.Fatalf("got %q", content)
	}

	again := tracker.Submit(ctx, Request{Client: client, Direction: Download, Entries: []manifests.ManifestEntry{dest}, Concurrency: 1, Hasher: hasher})
	waitSession(t, again)
	tracker.RemoveSession(again)
	if !again.Units()[0].Skipped() {
		t.Fatal("verified local file should be kept")
	}
}

func TestDownloadHashMismatch(t *testing.T) {
	ctx := context.Background()
	client := newLocalClient(t)
	entry := localEntry(t, t.TempDir(), "data/ks/t/1-1/t-1-big-Data.db", "sstable content")
	tracker := NewTracker()
	up := tracker.Submit(ctx, Request{Client: client, Direction: Upload, Entries: []manifests.ManifestEntry{entry}, Concurrency: 1})
	waitSession(t, up)

	dest := entry.WithLocalFile(filepath.Join(t.TempDir(), "t-1-big-Data.db"))
	dest.Hash = sha256Hex("something else")
	down := tracker.Submit(ctx, Request{Client: client, Direction: Download, Entries: []manifests.ManifestEntry{dest}, Concurrency: 1, Hasher: hashing.New(hashing.SHA256)})
	waitSession(t, down)
	if down.IsSuccessful() {
		t.Fatal("expected a hash mismatch")
	}
	if !hashing.IsHashMismatch(down.FailedUnits()[0].Err()) {
		t.Fatalf("unexpected error %v", down.FailedUnits()[0].Err())
	}
	if _, err := os.Stat(dest.LocalFile); !os.IsNotExist(err) {
		t.Fatalf("partial file left behind: %v", err)
	}
}

func TestDownloadMissingObject(t *testing.T) {
	ctx := context.Background()
	client := newLocalClient(t)
	dest := manifests.ManifestEntry{
		ObjectKey: "data/ks/t/9-9/t-9-big-Data.db",
		LocalFile: filepath.Join(t.TempDir(), "t-9-big-Data.db"),
		Size:      10,
	}
	down := NewTracker().Submit(ctx, Request{Client: client, Direction: Download, Entries: []manifests.ManifestEntry{dest}, Concurrency: 1})
	waitSession(t, down)
	if down.IsSuccessful() {
		t.Fatal("expected failure")
	}
	if !store.IsNotFound(down.FailedUnits()[0].Err()) {
		t.Fatalf("unexpected error %v", down.FailedUnits()[0].Err())
	}
}

func upload(t *testing.T, client bucket.Client, entries ...manifests.ManifestEntry) {
	t.Helper()
	tracker := NewTracker()
	session := tracker.Submit(context.Background(), Request{Client: client, Direction: Upload, Entries: entries, Concurrency: 2})
	waitSession(t, session)
	tracker.RemoveSession(session)
	if !session.IsSuccessful() {
		t.Fatal(session.Err())
	}
}

func TestDownloadsOfDifferentObjectsToOneFileAreNotShared(t *testing.T) {
	ctx := context.Background()
	client := newLocalClient(t)
	fromA := localEntry(t, t.TempDir(), "data/ks/t/1-111/a-Data.db", "content from node A")
	fromB := localEntry(t, t.TempDir(), "data/ks/t/1-222/a-Data.db", "content from node B")
	upload(t, client, fromA, fromB)

	destination := filepath.Join(t.TempDir(), "a-Data.db")
	hasher := hashing.New(hashing.SHA256)
	tracker := NewTracker()
	first := tracker.Submit(ctx, Request{Client: client, Direction: Download, Entries: []manifests.ManifestEntry{fromA.WithLocalFile(destination)}, Concurrency: 1, Hasher: hasher})
	waitSession(t, first)
	second := tracker.Submit(ctx, Request{Client: client, Direction: Download, Entries: []manifests.ManifestEntry{fromB.WithLocalFile(destination)}, Concurrency: 1, Hasher: hasher})
	waitSession(t, second)
	defer tracker.RemoveSession(first)
	defer tracker.RemoveSession(second)

	if !first.IsSuccessful() || !second.IsSuccessful() {
		t.Fatalf("downloads failed: %v / %v", first.Err(), second.Err())
	}
	if first.Units()[0] == second.Units()[0] {
		t.Fatal("downloads of different objects shared a unit")
	}
	if got := second.Units()[0].Entry().ObjectKey; got != fromB.ObjectKey {
		t.Fatalf("second session ran %s", got)
	}
	content, err := os.ReadFile(destination)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "content from node B" {
		t.Fatalf("got %q", content)
	}
}

func TestBandwidthThrottlesTransfer(t *testing.T) {
	ctx := context.Background()
	client := newLocalClient(t)
	// The token bucket starts full, so only what exceeds one second's worth
	// is paced.
	content := strings.Repeat("x", MinimumBandwidth+768000)
	entry := localEntry(t, t.TempDir(), "data/ks/t/1-1/t-1-big-Data.db", content)

	tracker := NewTracker()
	start := time.Now()
	session := tracker.Submit(ctx, Request{Client: client, Direction: Upload, Entries: []manifests.ManifestEntry{entry}, Concurrency: 1, Bandwidth: 1000})
	waitSession(t, session)
	elapsed := time.Since(start)
	tracker.RemoveSession(session)

	if !session.IsSuccessful() {
		t.Fatal(session.Err())
	}
	if got := session.Bandwidth(); got != MinimumBandwidth {
		t.Fatalf("expected bandwidth %d, got %d", MinimumBandwidth, got)
	}
	if elapsed < time.Second {
		t.Fatalf("transfer of %d bytes at %d/s took only %s", len(content), MinimumBandwidth, elapsed)
	}
	if got := session.Units()[0].Transferred(); got != int64(len(content)) {
		t.Fatalf("transferred %d bytes", got)
	}
}

func TestCancelDuringRead(t *testing.T) {
	ctx := context.Background()
	client := newLocalClient(t)
	content := strings.Repeat("y", 2<<20)
	entry := localEntry(t, t.TempDir(), "data/ks/t/1-1/t-1-big-Data.db", content)
	upload(t, client, entry)

	dest := entry.WithLocalFile(filepath.Join(t.TempDir(), "t-1-big-Data.db"))
	tracker := NewTracker()
	session := tracker.Submit(ctx, Request{Client: client, Direction: Download, Entries: []manifests.ManifestEntry{dest}, Concurrency: 1, Bandwidth: 1000, Hasher: hashing.New(hashing.SHA256)})
	defer tracker.RemoveSession(session)
	u := session.Units()[0]

	deadline := time.Now().Add(10 * time.Second)
	for u.Transferred() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("download never started reading")
		}
		time.Sleep(time.Millisecond)
	}
	session.Cancel()
	select {
	case <-u.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("cancelled download kept reading")
	}

	if u.State() != Failed || !errors.Is(u.Err(), ErrCancelled) {
		t.Fatalf("unexpected end state=%s err=%v", u.State(), u.Err())
	}
	if got := u.Transferred(); got >= int64(len(content)) {
		t.Fatalf("read all %d bytes despite cancellation", got)
	}
	if _, err := os.Stat(dest.LocalFile); !os.IsNotExist(err) {
		t.Fatalf("partial file left behind: %v", err)
	}
}

// heldClient keeps the upload of one key running, ignoring cancellation,
// until released, and fails another once the first is running.
type heldClient struct {
	bucket.Client
	held    string
	failing string
	started chan struct{}
	release chan struct{}
}

func (c *heldClient) UploadFile(ctx context.Context, entry manifests.ManifestEntry, ref bucket.RemoteRef, filter store.ReaderFilter) error {
	switch entry.ObjectKey {
	case c.held:
		close(c.started)
		<-c.release
		return ctx.Err()
	case c.failing:
		<-c.started
		return errors.New("injected failure")
	}
	return c.Client.UploadFile(ctx, entry, ref, filter)
}

func TestWaitUntilStoppedOutlastsCancellation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	held := localEntry(t, dir, "data/ks/t/1-1/t-1-big-Data.db", "held")
	failing := localEntry(t, dir, "data/ks/t/2-2/t-2-big-Data.db", "failing")
	client := &heldClient{
		Client:  newLocalClient(t),
		held:    held.ObjectKey,
		failing: failing.ObjectKey,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}

	tracker := NewTracker()
	session := tracker.Submit(ctx, Request{Client: client, Direction: Upload, Entries: []manifests.ManifestEntry{held, failing}, Concurrency: 2, FailFast: true})
	defer tracker.RemoveSession(session)
	waitSession(t, session)
	if !session.Cancelled() {
		t.Fatal("expected the failure to cancel the session")
	}
	if state := session.Units()[0].State(); state != Running {
		t.Fatalf("held unit is %s", state)
	}

	stopped := make(chan struct{})
	go func() {
		session.WaitUntilStopped()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("returned while a unit was still running")
	case <-time.After(50 * time.Millisecond):
	}
	close(client.release)
	select {
	case <-stopped:
	case <-time.After(10 * time.Second):
		t.Fatal("did not return after the unit ended")
	}
}

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
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const progressInterval = 10 * time.Second

// Session is one submission's view of the tracker: the units it asked for,
// whether created for it or shared with another session.
type Session struct {
	tag        string
	direction  Direction
	units      []*Unit
	totalBytes int64
	bandwidth  int64
	started    time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// created and removed are guarded by the tracker's lock.
	created []*Unit
	removed bool
}

func (s *Session) Tag() string {
	return s.tag
}

func (s *Session) Direction() Direction {
	return s.direction
}

func (s *Session) Units() []*Unit {
	return s.units
}

func (s *Session) TotalBytes() int64 {
	return s.totalBytes
}

// Bandwidth is the aggregate rate the session's own units are held to, zero
// when unlimited.
func (s *Session) Bandwidth() int64 {
	return s.bandwidth
}

// Cancel stops the units this session created. Units it shares with other
// sessions stop too if this session created them.
func (s *Session) Cancel() {
	s.cancel()
}

func (s *Session) Cancelled() bool {
	return s.ctx.Err() != nil
}

// WaitUntilConsideredFinished blocks until every unit is terminal or the
// session was cancelled, logging progress while it waits. It only fails when
// ctx ends first.
func (s *Session) WaitUntilConsideredFinished(ctx context.Context) error {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for _, u := range s.units {
	waitUnit:
		for {
			select {
			case <-u.Done():
				break waitUnit
			case <-s.ctx.Done():
				return ctx.Err()
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				s.logProgress()
			}
		}
	}
	return nil
}

// WaitUntilStopped blocks until every unit this session created has ended.
// After a cancellation those units may still be reading or writing their
// local files for a moment; callers wait here before touching those files.
func (s *Session) WaitUntilStopped() {
	for _, u := range s.created {
		<-u.Done()
	}
}

func (s *Session) releaseIfUnheld() {
	if !s.removed {
		return
	}
	for _, u := range s.created {
		if u.refs > 0 {
			return
		}
	}
	s.cancel()
}

func (s *Session) logProgress() {
	p := s.Progress()
	zap.S().Infow("transfer_progress",
		"tag", s.tag,
		"direction", s.direction.String(),
		"units_done", p.DoneUnits,
		"units", p.Units,
		"bytes", p.TransferredBytes,
		"total_bytes", p.TotalBytes,
		"elapsed", time.Since(s.started).Round(time.Second).String(),
	)
}

type Progress struct {
	Units            int
	DoneUnits        int
	FailedUnits      int
	TransferredBytes int64
	TotalBytes       int64
}

func (s *Session) Progress() Progress {
	p := Progress{
		Units:      len(s.units),
		TotalBytes: s.totalBytes,
	}
	for _, u := range s.units {
		switch u.State() {
		case Finished:
			p.DoneUnits++
		case Failed:
			p.DoneUnits++
			p.FailedUnits++
		}
		p.TransferredBytes += u.Transferred()
	}
	return p
}

// IsSuccessful reports whether every unit finished.
func (s *Session) IsSuccessful() bool {
	for _, u := range s.units {
		if u.State() != Finished {
			return false
		}
	}
	return true
}

func (s *Session) FailedUnits() []*Unit {
	var failed []*Unit
	for _, u := range s.units {
		if u.State() == Failed {
			failed = append(failed, u)
		}
	}
	return failed
}

// Failures is keyed by object key.
func (s *Session) Failures() Failures {
	var failures Failures
	for _, u := range s.FailedUnits() {
		if failures == nil {
			failures = make(Failures)
		}
		failures[u.entry.ObjectKey] = u.Err()
	}
	return failures
}

// Err combines the failure of every failed unit, plus ErrCancelled when the
// session was cancelled before all units ended.
func (s *Session) Err() error {
	var err error
	unfinished := false
	for _, u := range s.units {
		switch u.State() {
		case Failed:
			err = multierr.Append(err, fmt.Errorf("%s: %w", u.entry.ObjectKey, u.Err()))
		case Pending, Running:
			unfinished = true
		}
	}
	if unfinished && s.Cancelled() {
		err = multierr.Append(err, ErrCancelled)
	}
	return err
}

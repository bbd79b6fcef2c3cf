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

// Package transfer moves manifest entries between local disk and a bucket.
// A Tracker makes sure that concurrent sessions asking for the same object
// share one unit of work.
package transfer

import (
	"errors"
	"time"
)

var ErrCancelled = errors.New("transfer cancelled")

type Direction int

const (
	Upload Direction = iota
	Download
)

func (d Direction) String() string {
	switch d {
	case Upload:
		return "upload"
	case Download:
		return "download"
	}
	return "unknown"
}

type State int32

const (
	Pending State = iota
	Running
	Finished
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Running:
		return "RUNNING"
	case Finished:
		return "FINISHED"
	case Failed:
		return "FAILED"
	}
	return "UNKNOWN"
}

func (s State) Terminal() bool {
	return s == Finished || s == Failed
}

// MinimumBandwidth is the slowest a shaped transfer is allowed to go, in
// bytes per second.
const MinimumBandwidth = 500 * 1024

// EffectiveBandwidth picks the aggregate rate for moving totalBytes: the
// lower of the configured cap and what finishing within duration needs,
// never below MinimumBandwidth. Zero means unlimited.
func EffectiveBandwidth(totalBytes, configured int64, duration time.Duration) int64 {
	var rate int64
	if configured > 0 {
		rate = configured
	}
	if duration > 0 {
		byDuration := int64(float64(totalBytes) / duration.Seconds())
		if rate == 0 || byDuration < rate {
			rate = byDuration
		}
	} else if rate == 0 {
		return 0
	}
	if rate < MinimumBandwidth {
		rate = MinimumBandwidth
	}
	return rate
}

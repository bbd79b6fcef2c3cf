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

// Package retrier retries operations that report a transient failure.
package retrier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"go.uber.org/zap"
)

type Strategy string

const (
	Linear      Strategy = "LINEAR"
	Exponential Strategy = "EXPONENTIAL"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToUpper(s)) {
	case Linear:
		return Linear, nil
	case Exponential:
		return Exponential, nil
	}
	return "", fmt.Errorf("unknown retry strategy %q", s)
}

type Spec struct {
	Enabled     bool
	Strategy    Strategy
	MaxAttempts int
	Interval    time.Duration
}

var DefaultSpec = Spec{
	Enabled:     true,
	Strategy:    Exponential,
	MaxAttempts: 5,
	Interval:    time.Second,
}

func (s Spec) Validate() error {
	if !s.Enabled {
		return nil
	}
	if s.Strategy != Linear && s.Strategy != Exponential {
		return fmt.Errorf("unknown retry strategy %q", s.Strategy)
	}
	if s.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1, got %d", s.MaxAttempts)
	}
	if s.Interval <= 0 {
		return fmt.Errorf("retry interval must be positive, got %s", s.Interval)
	}
	return nil
}

type retriable struct {
	err error
}

func (r *retriable) Error() string {
	return r.err.Error()
}

func (r *retriable) Unwrap() error {
	return r.err
}

// Retriable marks err as worth another attempt. Nil stays nil.
func Retriable(err error) error {
	if err == nil {
		return nil
	}
	return &retriable{err: err}
}

func IsRetriable(err error) bool {
	var target *retriable
	return errors.As(err, &target)
}

func unwrapRetriable(err error) error {
	var target *retriable
	if errors.As(err, &target) {
		return target.err
	}
	return err
}

type Retrier struct {
	spec  Spec
	clock clock.Clock
}

// New returns a Retrier for spec. A nil clock means the wall clock.
func New(spec Spec, clk clock.Clock) *Retrier {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Retrier{spec: spec, clock: clk}
}

func (r *Retrier) Spec() Spec {
	return r.spec
}

// Submit runs op until it succeeds, fails without the Retriable mark, or
// runs out of attempts. The error returned is the last one op returned,
// stripped of its Retriable mark.
func (r *Retrier) Submit(ctx context.Context, op func() error) error {
	if !r.spec.Enabled || r.spec.MaxAttempts <= 1 {
		return unwrapRetriable(op())
	}

	var last error
	args := retry.CallArgs{
		Func: func() error {
			last = op()
			return last
		},
		IsFatalError: func(err error) bool {
			return !IsRetriable(err)
		},
		NotifyFunc: func(err error, attempt int) {
			if IsRetriable(err) && attempt < r.spec.MaxAttempts {
				zap.S().Debugw("retrying", "attempt", attempt, "max_attempts", r.spec.MaxAttempts, "err", err)
			}
		},
		Attempts: r.spec.MaxAttempts,
		Delay:    r.spec.Interval,
		Clock:    r.clock,
		Stop:     ctx.Done(),
	}
	if r.spec.Strategy == Exponential {
		args.BackoffFunc = retry.DoubleDelay
	}

	err := retry.Call(args)
	switch {
	case err == nil:
		return nil
	case retry.IsRetryStopped(err):
		return ctx.Err()
	}
	return unwrapRetriable(last)
}

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

package retrier

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
)

var errTransient = errors.New("503 slow down")

type result struct {
	err   error
	calls int32
}

func submitAsync(r *Retrier, ctx context.Context, op func() error) (<-chan result, *int32) {
	var calls int32
	ch := make(chan result, 1)
	go func() {
		err := r.Submit(ctx, func() error {
			atomic.AddInt32(&calls, 1)
			return op()
		})
		ch <- result{err: err, calls: atomic.LoadInt32(&calls)}
	}()
	return ch, &calls
}

func TestLinearTiming(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := testclock.NewClock(start)
	r := New(Spec{Enabled: true, Strategy: Linear, MaxAttempts: 3, Interval: 5 * time.Second}, clk)

	ch, _ := submitAsync(r, context.Background(), func() error {
		return Retriable(errTransient)
	})
	for i := 0; i < 2; i++ {
		if err := clk.WaitAdvance(5*time.Second, time.Second, 1); err != nil {
			t.Fatal(err)
		}
	}
	res := <-ch
	if res.err != errTransient {
		t.Fatalf("expected the last failure unchanged, got %v", res.err)
	}
	if res.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", res.calls)
	}
	if elapsed := clk.Now().Sub(start); elapsed < 10*time.Second {
		t.Fatalf("gave up after %s", elapsed)
	}
}

func TestExponentialTiming(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := testclock.NewClock(start)
	r := New(Spec{Enabled: true, Strategy: Exponential, MaxAttempts: 4, Interval: time.Second}, clk)

	ch, _ := submitAsync(r, context.Background(), func() error {
		return Retriable(errTransient)
	})
	for _, d := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		if err := clk.WaitAdvance(d, time.Second, 1); err != nil {
			t.Fatal(err)
		}
	}
	res := <-ch
	if res.err != errTransient || res.calls != 4 {
		t.Fatalf("unexpected result %v after %d calls", res.err, res.calls)
	}
	if elapsed := clk.Now().Sub(start); elapsed != 7*time.Second {
		t.Fatalf("expected 7s of backoff, got %s", elapsed)
	}
}

func TestFatalNotRetried(t *testing.T) {
	fatal := errors.New("403 forbidden")
	r := New(Spec{Enabled: true, Strategy: Linear, MaxAttempts: 5, Interval: time.Hour}, testclock.NewClock(time.Now()))
	calls := 0
	err := r.Submit(context.Background(), func() error {
		calls++
		return fatal
	})
	if err != fatal || calls != 1 {
		t.Fatalf("expected one call returning the fatal error, got %v after %d", err, calls)
	}
}

func TestSucceedsAfterRetry(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	r := New(Spec{Enabled: true, Strategy: Linear, MaxAttempts: 3, Interval: time.Second}, clk)
	ch, _ := submitAsync(r, context.Background(), func() error {
		return nil
	})
	res := <-ch
	if res.err != nil || res.calls != 1 {
		t.Fatalf("unexpected %v %d", res.err, res.calls)
	}

	var n int32
	ch, _ = submitAsync(r, context.Background(), func() error {
		if atomic.AddInt32(&n, 1) < 2 {
			return Retriable(errTransient)
		}
		return nil
	})
	if err := clk.WaitAdvance(time.Second, time.Second, 1); err != nil {
		t.Fatal(err)
	}
	res = <-ch
	if res.err != nil || res.calls != 2 {
		t.Fatalf("unexpected %v %d", res.err, res.calls)
	}
}

func TestDisabled(t *testing.T) {
	r := New(Spec{Enabled: false, MaxAttempts: 10}, nil)
	calls := 0
	err := r.Submit(context.Background(), func() error {
		calls++
		return Retriable(errTransient)
	})
	if err != errTransient || calls != 1 {
		t.Fatalf("expected a single attempt, got %v after %d", err, calls)
	}
}

func TestCancelledWhileWaiting(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	r := New(Spec{Enabled: true, Strategy: Linear, MaxAttempts: 3, Interval: time.Minute}, clk)
	ctx, cancel := context.WithCancel(context.Background())
	ch, calls := submitAsync(r, ctx, func() error {
		return Retriable(errTransient)
	})
	if err := clk.WaitAdvance(0, time.Second, 1); err != nil {
		t.Fatal(err)
	}
	cancel()
	res := <-ch
	if !errors.Is(res.err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", res.err)
	}
	if atomic.LoadInt32(calls) != 1 {
		t.Fatalf("expected one call, got %d", atomic.LoadInt32(calls))
	}
}

func TestValidate(t *testing.T) {
	bad := []Spec{
		{Enabled: true, Strategy: "RANDOM", MaxAttempts: 1, Interval: time.Second},
		{Enabled: true, Strategy: Linear, MaxAttempts: 0, Interval: time.Second},
		{Enabled: true, Strategy: Linear, MaxAttempts: 1},
	}
	for _, spec := range bad {
		if spec.Validate() == nil {
			t.Errorf("expected %+v to be invalid", spec)
		}
	}
	if err := (Spec{}).Validate(); err != nil {
		t.Errorf("disabled spec should validate: %v", err)
	}
	if err := DefaultSpec.Validate(); err != nil {
		t.Error(err)
	}
	if s, err := ParseStrategy("linear"); err != nil || s != Linear {
		t.Errorf("unexpected %q %v", s, err)
	}
}

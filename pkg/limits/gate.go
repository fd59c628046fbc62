// Copyright 2025 Tom Barlow
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

package limits

import (
	"context"

	"golang.org/x/time/rate"
)

// ConcurrencyGate turns a tier's MaxConcurrency ceiling into a runtime-
// enforced limit, not just an advisory number the scheduler happens to
// respect. The scheduler acquires one token per dispatched step and
// releases it on completion.
type ConcurrencyGate struct {
	limiter *rate.Limiter
	tokens  chan struct{}
}

// NewConcurrencyGate builds a gate bounding in-flight work to tier's
// MaxConcurrency (at least 1) through a buffered slot channel. Its
// rate.Limiter is built with an infinite rate, so it never delays.
func NewConcurrencyGate(tier TierLimits) *ConcurrencyGate {
	n := tier.MaxConcurrency
	if n <= 0 {
		n = 1
	}
	return &ConcurrencyGate{
		limiter: rate.NewLimiter(rate.Inf, n),
		tokens:  make(chan struct{}, n),
	}
}

// Acquire blocks until a concurrency slot is available or ctx is
// cancelled.
func (g *ConcurrencyGate) Acquire(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	select {
	case g.tokens <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a concurrency slot to the gate.
func (g *ConcurrencyGate) Release() {
	select {
	case <-g.tokens:
	default:
	}
}

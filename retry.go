// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
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

package authkey

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (0 = no retry)
	MaxAttempts int
	// InitialBackoff is the initial backoff duration
	InitialBackoff time.Duration
	// MaxBackoff is the maximum backoff duration
	MaxBackoff time.Duration
	// BackoffMultiplier is the factor by which the backoff increases
	BackoffMultiplier float64
	// Jitter adds randomness to backoff to avoid thundering herd
	Jitter float64
	// RetryTimeout is the overall timeout for all retry attempts
	RetryTimeout time.Duration
	// OnRetry, if set, is called before sleeping ahead of the next attempt
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        1 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryTimeout:      5 * time.Second,
	}
}

// BusRetryConfig returns the retry policy for frontend register access.
// Register reads sit inside a poll cycle, so the total budget stays well
// below the contactless frame wait time.
func BusRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       BusAccessRetries,
		InitialBackoff:    BusAccessInitialBackoff,
		MaxBackoff:        BusAccessMaxBackoff,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryTimeout:      BusAccessRetryTimeout,
	}
}

// BridgeOpenRetryConfig returns the retry policy for opening a serial bridge.
func BridgeOpenRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       DefaultConnectionRetries,
		InitialBackoff:    ConnectionInitialBackoff,
		MaxBackoff:        ConnectionMaxBackoff,
		BackoffMultiplier: ConnectionBackoffMultiplier,
		Jitter:            ConnectionJitter,
		RetryTimeout:      ConnectionRetryTimeout,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// RetryWithConfig runs retryFunc until it succeeds, returns an error that
// IsRetryable rejects, or the attempts or RetryTimeout run out. The last
// error is returned in the latter case. A nil config selects
// DefaultRetryConfig; zero MaxAttempts runs retryFunc once.
func RetryWithConfig(ctx context.Context, config *RetryConfig, retryFunc RetryableFunc) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.MaxAttempts <= 0 {
		return retryFunc()
	}

	if config.RetryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.RetryTimeout)
		defer cancel()
	}

	b := backoff{config: config, next: config.InitialBackoff}
	var lastErr error
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return lastErr
			}
			return fmt.Errorf("retry context cancelled: %w", ctx.Err())
		}

		err := retryFunc()
		if err == nil || !IsRetryable(err) {
			return err
		}
		lastErr = err
		if attempt == config.MaxAttempts {
			return lastErr
		}

		if config.OnRetry != nil {
			config.OnRetry(attempt, err)
		}
		if !b.wait(ctx) {
			return lastErr
		}
	}
}

// backoff yields the jittered sleeps between attempts.
type backoff struct {
	config *RetryConfig
	next   time.Duration
}

// wait sleeps for the current backoff and grows it. It returns false when
// ctx ends first.
func (b *backoff) wait(ctx context.Context) bool {
	timer := time.NewTimer(jittered(b.next, b.config.Jitter))
	defer timer.Stop()
	b.next = b.grow(b.next)

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (b *backoff) grow(d time.Duration) time.Duration {
	return min(time.Duration(float64(d)*b.config.BackoffMultiplier), b.config.MaxBackoff)
}

// jittered adds up to factor*d to d.
func jittered(d time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return d
	}
	return d + time.Duration(rand.Float64()*factor*float64(d))
}

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

package polling

import (
	"fmt"
	"time"

	"github.com/ZaparooProject/go-authkey"
)

// Config holds the scheduling intervals of both actors.
type Config struct {
	// PollInterval is the contactless poll period when no IRQ line is wired.
	PollInterval time.Duration
	// ReportInterval is the USB read/write period.
	ReportInterval time.Duration
	// WaitExtensionInterval caps the delay between wait extension checks.
	// It must stay below FrameWaitTime or the reader gives up on the card.
	WaitExtensionInterval time.Duration
	// FrameWaitTime is the frame waiting time announced to readers (FWI 8).
	FrameWaitTime time.Duration
	// KeepAliveInterval is the USB keepalive period while processing.
	KeepAliveInterval time.Duration
}

// DefaultConfig returns the default scheduling configuration.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:          2 * time.Millisecond,
		ReportInterval:        time.Millisecond,
		WaitExtensionInterval: authkey.WaitExtensionRecheck,
		FrameWaitTime:         77 * time.Millisecond,
		KeepAliveInterval:     authkey.KeepAliveInterval,
	}
}

// Validate checks that every interval is positive and that wait extensions
// are sent before the frame waiting time runs out.
func (c *Config) Validate() error {
	for name, d := range map[string]time.Duration{
		"PollInterval":          c.PollInterval,
		"ReportInterval":        c.ReportInterval,
		"WaitExtensionInterval": c.WaitExtensionInterval,
		"FrameWaitTime":         c.FrameWaitTime,
		"KeepAliveInterval":     c.KeepAliveInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %v", authkey.ErrInvalidParameter, name, d)
		}
	}
	if c.WaitExtensionInterval >= c.FrameWaitTime {
		return fmt.Errorf("%w: WaitExtensionInterval %v must be below FrameWaitTime %v",
			authkey.ErrInvalidParameter, c.WaitExtensionInterval, c.FrameWaitTime)
	}
	return nil
}

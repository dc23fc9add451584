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

import "time"

// Connection retry constants control how the CLI opens serial bridges.
const (
	// DefaultConnectionRetries is the number of attempts to open a bridge port.
	DefaultConnectionRetries = 3
	// ConnectionInitialBackoff is the initial delay between open attempts.
	ConnectionInitialBackoff = 100 * time.Millisecond
	// ConnectionMaxBackoff is the maximum delay between open attempts.
	ConnectionMaxBackoff = 500 * time.Millisecond
	// ConnectionBackoffMultiplier is the exponential backoff multiplier.
	ConnectionBackoffMultiplier = 2.0
	// ConnectionJitter is the random jitter factor (0.0-1.0).
	ConnectionJitter = 0.1
	// ConnectionRetryTimeout is the overall timeout for all open attempts.
	ConnectionRetryTimeout = 10 * time.Second
)

// Frontend bus retry constants. A register access that NACKs is retried a
// few times with sub-millisecond backoff; the whole budget must fit well
// inside one wait-extension interval.
const (
	// BusAccessRetries is the number of attempts for one register access.
	BusAccessRetries = 3
	// BusAccessInitialBackoff is the delay before the first retry.
	BusAccessInitialBackoff = 200 * time.Microsecond
	// BusAccessMaxBackoff caps the delay between retries.
	BusAccessMaxBackoff = 1 * time.Millisecond
	// BusAccessRetryTimeout bounds all attempts of one access.
	BusAccessRetryTimeout = 5 * time.Millisecond
)

// FM11NT08x transmit polling limits, counted in register reads.
const (
	// TxStartPolls is how often NFC_STATUS is read waiting for the chip to
	// start transmitting.
	TxStartPolls = 100
	// TxWaterLevelPolls is how often FIFO_IRQ is read waiting for the FIFO
	// to drain below its water level.
	TxWaterLevelPolls = 300
	// EepromWriteDelay is the settle time after an eeprom page write.
	EepromWriteDelay = 10 * time.Millisecond
)

// Link timing defaults. The contactless values follow ISO 14443-4 with
// FWI=8; the USB values follow CTAPHID.
const (
	// DefaultFrameWaitTime is the contactless response deadline (FWI=8).
	DefaultFrameWaitTime = 77 * time.Millisecond
	// ActivityRecheck is returned by the contactless poll after a command
	// has been handed off.
	ActivityRecheck = 30 * time.Millisecond
	// WaitExtensionRecheck is returned while a wait extension is in flight.
	WaitExtensionRecheck = 32 * time.Millisecond
	// KeepAliveInterval is the CTAPHID keepalive cadence.
	KeepAliveInterval = 100 * time.Millisecond
)

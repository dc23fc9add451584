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
	"fmt"
	"time"
)

// PollStatus is what an engine poll reports back to its scheduler: either
// nothing to follow up, or a request to be called again after a delay.
// Engines never measure time themselves; honouring the delay is the
// scheduler's side of the contract.
type PollStatus struct {
	after  time.Duration
	active bool
}

// Idle reports that no follow-up call is needed.
var Idle = PollStatus{}

// RecheckAfter reports activity and asks to be polled again after d.
func RecheckAfter(d time.Duration) PollStatus {
	return PollStatus{active: true, after: d}
}

// IsIdle returns true when no follow-up is requested.
func (s PollStatus) IsIdle() bool {
	return !s.active
}

// After returns the requested follow-up delay and whether one was requested.
func (s PollStatus) After() (time.Duration, bool) {
	return s.after, s.active
}

func (s PollStatus) String() string {
	if !s.active {
		return "idle"
	}
	return fmt.Sprintf("recheck after %v", s.after)
}

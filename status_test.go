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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPollStatus(t *testing.T) {
	t.Parallel()

	assert.True(t, Idle.IsIdle())
	d, ok := Idle.After()
	assert.False(t, ok)
	assert.Zero(t, d)
	assert.Equal(t, "idle", Idle.String())

	s := RecheckAfter(ActivityRecheck)
	assert.False(t, s.IsIdle())
	d, ok = s.After()
	assert.True(t, ok)
	assert.Equal(t, 30*time.Millisecond, d)
	assert.Equal(t, "recheck after 30ms", s.String())

	assert.Equal(t, RecheckAfter(WaitExtensionRecheck), RecheckAfter(32*time.Millisecond))
}

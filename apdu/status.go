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

package apdu

import "fmt"

// Status is the two-byte status word that ends every response.
type Status uint16

// Status words used by the applications and engines.
const (
	Success                    Status = 0x9000
	WrongLength                Status = 0x6700
	SecurityStatusNotSatisfied Status = 0x6982
	ConditionsNotSatisfied     Status = 0x6985
	CommandNotAllowedNoEF      Status = 0x6986
	WrongData                  Status = 0x6A80
	FileNotFound               Status = 0x6A82
	WrongParameters            Status = 0x6B00
	InstructionNotSupported    Status = 0x6D00
	ClassNotSupported          Status = 0x6E00
	UnspecifiedCheckingError   Status = 0x6F00
)

// SW1 returns the high status byte.
func (s Status) SW1() byte { return byte(s >> 8) }

// SW2 returns the low status byte.
func (s Status) SW2() byte { return byte(s) }

// IsSuccess reports whether the status is 9000.
func (s Status) IsSuccess() bool { return s == Success }

func (s Status) String() string {
	return fmt.Sprintf("%04X", uint16(s))
}

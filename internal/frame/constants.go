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

package frame

// Serial bridge framing. Every bridge frame carries exactly one HID report:
//
//	Start | report[ReportSize] | checksum
//
// where the checksum makes the report bytes plus checksum sum to zero.
const (
	BridgeStart     = 0xA5
	ReportSize      = 64
	BridgeFrameSize = 1 + ReportSize + 1
)

// MaxMessageSize bounds a reassembled request or response on either link.
// It is the largest payload one initialisation packet plus 128
// continuation packets can carry.
const MaxMessageSize = 7609

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

// CalculateChecksum computes the checksum for a data buffer
// This is a simple sum of all bytes in the provided data
func CalculateChecksum(data []byte) byte {
	chk := byte(0)
	for _, b := range data {
		chk += b
	}
	return chk
}

// ComplementChecksum returns the byte that makes data sum to zero.
func ComplementChecksum(data []byte) byte {
	return ^CalculateChecksum(data) + 1
}

// ChecksumValid reports whether data, including its trailing checksum byte,
// sums to zero.
func ChecksumValid(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	return CalculateChecksum(data) == 0
}

// EncodeBridgeFrame wraps one report into a serial bridge frame.
// Short reports are zero padded; long reports are truncated.
func EncodeBridgeFrame(report []byte) []byte {
	out := make([]byte, BridgeFrameSize)
	out[0] = BridgeStart
	copy(out[1:1+ReportSize], report)
	out[BridgeFrameSize-1] = ComplementChecksum(out[1 : 1+ReportSize])
	return out
}

// DecodeBridgeFrame validates a bridge frame and returns the report it
// carries. ok is false for a bad start marker, a wrong size or a checksum
// mismatch.
func DecodeBridgeFrame(data []byte) (report []byte, ok bool) {
	if len(data) != BridgeFrameSize || data[0] != BridgeStart {
		return nil, false
	}
	if !ChecksumValid(data[1:]) {
		return nil, false
	}
	return data[1 : 1+ReportSize], true
}

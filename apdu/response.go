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

// Response is a response APDU: optional data followed by a status word.
type Response struct {
	Data   []byte
	Status Status
}

// NewResponse builds a response with the given status and data.
func NewResponse(status Status, data []byte) Response {
	return Response{Data: data, Status: status}
}

// StatusResponse builds a data-less response.
func StatusResponse(status Status) Response {
	return Response{Status: status}
}

// ParseResponse splits raw bytes into data and status. ok is false when
// b is shorter than a status word.
func ParseResponse(b []byte) (resp Response, ok bool) {
	if len(b) < 2 {
		return Response{}, false
	}
	n := len(b) - 2
	return Response{
		Data:   b[:n],
		Status: Status(uint16(b[n])<<8 | uint16(b[n+1])),
	}, true
}

// Bytes serializes the response.
func (r Response) Bytes() []byte {
	out := make([]byte, 0, len(r.Data)+2)
	out = append(out, r.Data...)
	return append(out, r.Status.SW1(), r.Status.SW2())
}

// Len is the serialized length.
func (r Response) Len() int { return len(r.Data) + 2 }

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

package ctaphid

// Endpoint is a pair of 64-byte interrupt endpoints. Both calls return
// authkey.ErrWouldBlock when the hardware buffer is not available; a
// write that fails with anything else is unrecoverable.
type Endpoint interface {
	ReadReport(buf []byte) (int, error)
	WriteReport(report []byte) (int, error)
}

// Winker is notified of CTAPHID_WINK.
type Winker interface {
	Wink()
}

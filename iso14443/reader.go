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

package iso14443

// MaxFrameSize is the largest frame a reader can negotiate (FSD 256).
const MaxFrameSize = 256

// Reader is the contactless frontend driven by the Engine.
//
// Read copies one received frame, CRC removed, into buf. newSession is
// true when the frontend saw a field activation before the frame. When no
// frame is available it returns authkey.ErrNoActivity, or
// authkey.ErrSessionReset when a new session started without a frame.
// Any other error is an I/O fault.
//
// FrameSize reports the reader's negotiated maximum frame size in bytes,
// CRC included.
type Reader interface {
	Read(buf []byte) (n int, newSession bool, err error)
	Send(frame []byte) error
	FrameSize() int
}

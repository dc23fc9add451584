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

import "errors"

// ErrBufferFull is returned when an append would exceed the buffer capacity.
var ErrBufferFull = errors.New("message buffer full")

// Buffer is a fixed-capacity, length-tracked byte buffer used to reassemble
// a chained message. Its storage is allocated once; Reset only rewinds the
// length. Bytes beyond Len are never exposed.
type Buffer struct {
	data []byte
	n    int
}

// NewBuffer returns an empty buffer able to hold capacity bytes.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// Append copies p onto the end of the buffer. Nothing is copied when p does
// not fit.
func (b *Buffer) Append(p []byte) error {
	if len(p) > b.Free() {
		return ErrBufferFull
	}
	b.n += copy(b.data[b.n:], p)
	return nil
}

// Set replaces the buffer contents with p.
func (b *Buffer) Set(p []byte) error {
	b.n = 0
	return b.Append(p)
}

// Bytes returns the filled part of the buffer. The slice aliases the
// buffer and is only valid until the next mutation.
func (b *Buffer) Bytes() []byte { return b.data[:b.n] }

// Slice returns bytes [start, end) of the filled part, clamped to Len.
func (b *Buffer) Slice(start, end int) []byte {
	if end > b.n {
		end = b.n
	}
	if start < 0 {
		start = 0
	}
	if start > end {
		return nil
	}
	return b.data[start:end]
}

// Clone returns a copy of the filled part.
func (b *Buffer) Clone() []byte {
	out := make([]byte, b.n)
	copy(out, b.data[:b.n])
	return out
}

func (b *Buffer) Len() int      { return b.n }
func (b *Buffer) Cap() int      { return len(b.data) }
func (b *Buffer) Free() int     { return len(b.data) - b.n }
func (b *Buffer) IsEmpty() bool { return b.n == 0 }

// Reset empties the buffer.
func (b *Buffer) Reset() { b.n = 0 }

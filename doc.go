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

// Package authkey holds the pieces shared by the command transport of a
// security key: error classification, debug logging and the poll status
// that engines hand back to their scheduler.
//
// The transport itself lives in subpackages:
//
//   - iso14443: contactless block protocol (ISO 14443-4) engine and codec
//   - ctaphid: USB HID framing (CTAPHID) engine and packet codec
//   - interchange: single-slot request/response handoff to dispatch
//   - polling: actors that drive the engines on an injected clock
//   - dispatch, apps/...: application side of the interchange
//   - transport/...: hardware adapters (FM11NT08x over I2C, serial bridge,
//     USB HID device)
package authkey

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
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ZaparooProject/go-authkey/internal/syncutil"
)

// SessionDetail is one "Key: Value" line of the session log header, such
// as the transports a run was started with.
type SessionDetail struct {
	Key   string
	Value string
}

// sessionLog is the open session log. Both engines and both actors log
// concurrently.
var sessionLog struct {
	file  *os.File
	w     io.Writer
	path  string
	lines int
	mu    syncutil.Mutex
}

// InitSessionLog creates authkey_YYYYMMDD_HHMMSS.log in dir, or in the
// working directory when dir is empty, and returns its path. Every
// Debugf and Debugln line is copied there until CloseSessionLog.
func InitSessionLog(dir string, details ...SessionDetail) (string, error) {
	filename := filepath.Join(dir, "authkey_"+time.Now().Format("20060102_150405")+".log")

	logFile, err := os.Create(filename) //nolint:gosec // name is built here, dir comes from the operator
	if err != nil {
		return "", fmt.Errorf("failed to create session log: %w", err)
	}

	sessionLog.mu.Lock()
	defer sessionLog.mu.Unlock()

	if sessionLog.file != nil {
		_ = sessionLog.file.Close()
	}
	sessionLog.file = logFile
	sessionLog.w = logFile
	sessionLog.path = filename
	sessionLog.lines = 0

	writeSessionHeader(logFile, details)
	return filename, nil
}

// CloseSessionLog writes the footer and closes the session log. It is a
// no-op without an open log.
func CloseSessionLog() error {
	sessionLog.mu.Lock()
	defer sessionLog.mu.Unlock()

	if sessionLog.file == nil {
		return nil
	}
	_, _ = fmt.Fprintf(sessionLog.w, "\n%s === Session ended (%d debug lines) ===\n",
		time.Now().Format("15:04:05.000"), sessionLog.lines)

	err := sessionLog.file.Close()
	sessionLog.file = nil
	sessionLog.w = nil
	sessionLog.path = ""
	if err != nil {
		return fmt.Errorf("failed to close session log: %w", err)
	}
	return nil
}

// SessionLogPath returns the open session log's path, or "".
func SessionLogPath() string {
	sessionLog.mu.Lock()
	defer sessionLog.mu.Unlock()
	return sessionLog.path
}

func writeSessionLine(message string) {
	sessionLog.mu.Lock()
	defer sessionLog.mu.Unlock()
	if sessionLog.w == nil {
		return
	}
	sessionLog.lines++
	_, _ = fmt.Fprintf(sessionLog.w, "%s DEBUG: %s\n", time.Now().Format("15:04:05.000"), message)
}

func writeSessionHeader(w io.Writer, details []SessionDetail) {
	_, _ = fmt.Fprint(w, "=== authkey Debug Session Log ===\n")
	_, _ = fmt.Fprintf(w, "Started: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "PID: %d\n", os.Getpid())
	_, _ = fmt.Fprintf(w, "OS: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	_, _ = fmt.Fprintf(w, "Go Version: %s\n", runtime.Version())
	if exe, err := os.Executable(); err == nil {
		_, _ = fmt.Fprintf(w, "Executable: %s\n", exe)
	}
	_, _ = fmt.Fprintf(w, "Command Line: %s\n", strings.Join(os.Args, " "))
	for _, d := range details {
		_, _ = fmt.Fprintf(w, "%s: %s\n", d.Key, d.Value)
	}
	_, _ = fmt.Fprint(w, "=================================\n\n")
}

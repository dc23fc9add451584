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

//nolint:paralleltest // Tests modify package-level session log state and the working directory
package authkey

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir changes into a fresh temp directory and closes any session log
// the test leaves open.
func inTempDir(t *testing.T) {
	t.Helper()
	origDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() {
		_ = CloseSessionLog()
		_ = os.Chdir(origDir)
	})
}

func TestInitSessionLog_CreatesFile(t *testing.T) {
	inTempDir(t)

	path, err := InitSessionLog("")
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err, "Log file should exist")

	matched, err := regexp.MatchString(`^authkey_\d{8}_\d{6}\.log$`, path)
	require.NoError(t, err)
	assert.True(t, matched, "Filename should match authkey_YYYYMMDD_HHMMSS.log, got: %s", path)
	assert.Equal(t, path, SessionLogPath())
}

func TestSessionLog_RecordsDebugLinesAndFooter(t *testing.T) {
	inTempDir(t)
	origEnabled := DebugEnabled()
	SetDebugEnabled(false)
	t.Cleanup(func() { SetDebugEnabled(origEnabled) })

	path, err := InitSessionLog("", SessionDetail{Key: "NFC bus", Value: "/dev/i2c-1"})
	require.NoError(t, err)

	Debugf("deselected, state reset")
	Debugln("wait extension", 2)
	require.NoError(t, CloseSessionLog())

	content, err := os.ReadFile(path) //nolint:gosec // path is from InitSessionLog
	require.NoError(t, err)

	text := string(content)
	assert.Contains(t, text, "=== authkey Debug Session Log ===")
	assert.Contains(t, text, "PID:")
	assert.Contains(t, text, "Go Version:")
	assert.Contains(t, text, "DEBUG: deselected, state reset")
	assert.Contains(t, text, "NFC bus: /dev/i2c-1")
	assert.Contains(t, text, "DEBUG: wait extension2")
	assert.Contains(t, text, "=== Session ended (2 debug lines) ===")
	assert.Empty(t, SessionLogPath())
}

func TestInitSessionLog_Directory(t *testing.T) {
	inTempDir(t)
	dir := t.TempDir()

	path, err := InitSessionLog(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	_, err = InitSessionLog(filepath.Join(dir, "missing"))
	require.Error(t, err)
	assert.Equal(t, path, SessionLogPath(), "a failed init keeps the open log")
}

func TestCloseSessionLog_NoOpenLog(t *testing.T) {
	inTempDir(t)

	require.NoError(t, CloseSessionLog())
	require.NoError(t, CloseSessionLog())
}

// go-authkey
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-authkey.
//
// go-authkey is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-authkey is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-authkey; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	authkey "github.com/ZaparooProject/go-authkey"
	"github.com/ZaparooProject/go-authkey/apdu"
	"github.com/ZaparooProject/go-authkey/apps/fido"
	"github.com/ZaparooProject/go-authkey/apps/ndef"
	"github.com/ZaparooProject/go-authkey/ctap"
	"github.com/ZaparooProject/go-authkey/ctaphid"
	virt "github.com/ZaparooProject/go-authkey/internal/testing"
	"github.com/fido-device-onboard/go-fdo/cbor"
)

const (
	// selfTestFrameSize forces chained responses for longer URIs.
	selfTestFrameSize = 64
	roundTimeout      = 5 * time.Second
	maxURIBytes       = 400
	uriBase           = "https://zaparoo.org/t/"
)

var errSelfTestFailed = errors.New("self-test failed")

// uriChars is the pool for random URI paths: ASCII plus multi-byte UTF-8.
//
//nolint:gosmopolitan // Intentionally using non-Latin scripts for IRI paths
var uriChars = []rune(
	"ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~" +
		"àáâãäåæçèéêëìíîïðñòóôõöøùúûüýþÿ" +
		"αβγδεζηθικλμνξοπρστυφχψω" +
		"中文日本語한국어" +
		"🎮📱💻🔥⚡🚀🎯🏆🎲🃏",
)

// SelfTestResult holds the outcome of one round.
type SelfTestResult struct {
	URI       string
	CrashFile string
	Duration  time.Duration
	Round     int
	Passed    int
	Failed    int
	Success   bool
}

// CrashReport contains all information for debugging a failure.
type CrashReport struct {
	Timestamp    time.Time  `json:"timestamp"`
	Step         string     `json:"step"`
	Error        string     `json:"error"`
	URI          string     `json:"uri"`
	ExpectedHex  string     `json:"expected_hex,omitempty"`
	ActualHex    string     `json:"actual_hex,omitempty"`
	OperationLog []LogEntry `json:"operation_log"`
	Round        int        `json:"round"`
}

// LogEntry represents a single operation in the log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	DataHex   string    `json:"data_hex,omitempty"`
	Error     string    `json:"error,omitempty"`
	Success   bool      `json:"success"`
}

// stepError carries the expected and actual bytes of a failed check.
type stepError struct {
	err      error
	expected []byte
	actual   []byte
}

func (e *stepError) Error() string { return e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

func mismatch(what string, expected, actual []byte) error {
	return &stepError{err: fmt.Errorf("%s mismatch", what), expected: expected, actual: actual}
}

// roundContext is the state of one self-test round.
type roundContext struct {
	out    io.Writer
	pcd    *virt.VirtualPCD
	host   *virt.VirtualHIDHost
	result *SelfTestResult
	log    []LogEntry
	dir    string
	// mle is the READ BINARY size announced in the capability container.
	mle     int
	channel uint32
}

type step struct {
	name string
	run  func(ctx context.Context, rc *roundContext) ([]byte, error)
}

func printSelfTestBanner(out io.Writer, rounds int) {
	_, _ = fmt.Fprintln(out, "================================================================================")
	_, _ = fmt.Fprintln(out, "                            authkey Loopback Self-Test")
	_, _ = fmt.Fprintln(out, "================================================================================")
	_, _ = fmt.Fprintf(out, "Rounds: %d (CTAPHID INIT, GetInfo, NDEF read, NFC GetInfo)\n", rounds)
}

func runSelfTest(ctx context.Context, cfg *config, out io.Writer) error {
	rounds := max(cfg.selftestRounds, 1)
	printSelfTestBanner(out, rounds)

	results := make([]*SelfTestResult, 0, rounds)
	for round := 1; round <= rounds; round++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result := runSelfTestRound(ctx, round, cfg.selftestDir, out)
		printRoundSummary(out, result)
		results = append(results, result)
	}
	printFinalSummary(out, results)

	for _, r := range results {
		if !r.Success {
			return errSelfTestFailed
		}
	}
	return nil
}

func selfTestSteps() []step {
	return []step{
		{"ctaphid init", stepInit},
		{"ctaphid cbor getinfo", stepUSBGetInfo},
		{"iso14443 select ndef", stepSelect(ndef.AID)},
		{"iso14443 read cc", stepReadCC},
		{"iso14443 read ndef", stepReadNDEF},
		{"iso14443 select fido", stepSelect(fido.AID)},
		{"iso14443 ctap2 getinfo", stepNFCGetInfo},
		{"iso14443 deselect", stepDeselect},
	}
}

func runSelfTestRound(ctx context.Context, round int, dir string, out io.Writer) *SelfTestResult {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, roundTimeout)
	defer cancel()

	result := &SelfTestResult{Round: round, URI: uriBase + generateRandomText(randomInt(1, maxURIBytes-len(uriBase)))}
	_, _ = fmt.Fprintf(out, "\n--- Round %d: %d byte URI ---\n", round, len(result.URI))

	rc := &roundContext{
		out:    out,
		pcd:    virt.NewVirtualPCD(selfTestFrameSize),
		host:   virt.NewVirtualHIDHost(virt.WithBlockEvery(5)),
		result: result,
		dir:    dir,
	}
	if err := rc.start(ctx); err != nil {
		rc.fail(ctx, "start", err)
		result.Duration = time.Since(started)
		return result
	}

	for _, s := range selfTestSteps() {
		data, err := s.run(ctx, rc)
		rc.record(s.name, data, err)
		if err != nil {
			rc.fail(ctx, s.name, err)
			break
		}
		result.Passed++
		_, _ = fmt.Fprintf(out, "  [PASS] %s\n", s.name)
	}
	result.Success = result.Failed == 0
	result.Duration = time.Since(started)
	return result
}

// start runs a contactless and a USB device sharing one authenticator.
func (rc *roundContext) start(ctx context.Context) error {
	tag, err := ndef.NewURIApp(rc.result.URI)
	if err != nil {
		return err
	}
	auth := fido.NewAuthenticator(fido.NewMemoryStore())

	card, err := virt.StartCard(ctx, rc.pcd, rc.pcd.Activity(), fido.NewApp(auth), tag)
	if err != nil {
		return err
	}
	key, _, err := virt.StartKey(ctx, rc.host, auth)
	if err != nil {
		_ = card.Close()
		return err
	}
	context.AfterFunc(ctx, func() {
		_ = key.Close()
		_ = card.Close()
	})
	rc.pcd.Activate()
	return nil
}

func (rc *roundContext) record(op string, data []byte, err error) {
	entry := LogEntry{
		Timestamp: time.Now(),
		Operation: op,
		Success:   err == nil,
	}
	if len(data) > 0 {
		entry.DataHex = authkey.FormatHex(data)
	}
	if err != nil {
		entry.Error = err.Error()
	}
	rc.log = append(rc.log, entry)
}

func (rc *roundContext) fail(ctx context.Context, stepName string, err error) {
	rc.result.Failed++
	_, _ = fmt.Fprintf(rc.out, "  [FAIL] %s: %v\n", stepName, err)

	report := &CrashReport{
		Timestamp:    time.Now(),
		Round:        rc.result.Round,
		Step:         stepName,
		Error:        err.Error(),
		URI:          rc.result.URI,
		OperationLog: rc.log,
	}
	var se *stepError
	if errors.As(err, &se) {
		report.ExpectedHex = formatHexString(se.expected)
		report.ActualHex = formatHexString(se.actual)
	}
	if ctx.Err() != nil {
		report.Error += " (" + ctx.Err().Error() + ")"
	}

	filename, werr := writeCrashReportToFile(rc.dir, report)
	if werr != nil {
		_, _ = fmt.Fprintf(rc.out, "  Failed to write crash report: %v\n", werr)
		return
	}
	rc.result.CrashFile = filename
	_, _ = fmt.Fprintf(rc.out, "  Crash report: %s\n", filename)
}

func stepInit(ctx context.Context, rc *roundContext) ([]byte, error) {
	channel, err := rc.host.Init(ctx)
	if err != nil {
		return nil, err
	}
	if channel == 0 || channel == ctaphid.BroadcastChannel {
		return nil, fmt.Errorf("invalid channel %08X", channel)
	}
	rc.channel = channel
	return []byte{byte(channel >> 24), byte(channel >> 16), byte(channel >> 8), byte(channel)}, nil
}

func checkGetInfo(resp []byte) error {
	if len(resp) == 0 {
		return errors.New("empty GetInfo response")
	}
	if resp[0] != byte(ctap.StatusOK) {
		return fmt.Errorf("GetInfo status %v", ctap.Error(resp[0]))
	}
	var info ctap.AuthenticatorInfo
	if err := cbor.Unmarshal(resp[1:], &info); err != nil {
		return fmt.Errorf("decoding GetInfo: %w", err)
	}
	for _, v := range info.Versions {
		if v == "FIDO_2_0" {
			return nil
		}
	}
	return fmt.Errorf("versions %v lack FIDO_2_0", info.Versions)
}

func stepUSBGetInfo(ctx context.Context, rc *roundContext) ([]byte, error) {
	cmd, resp, err := rc.host.Transact(ctx, rc.channel, ctaphid.CmdCBOR, []byte{ctap.CmdGetInfo})
	if err != nil {
		return nil, err
	}
	if cmd != ctaphid.CmdCBOR {
		return resp, fmt.Errorf("answered with %s", cmd)
	}
	return resp, checkGetInfo(resp)
}

// exchange sends one APDU and requires 9000.
func (rc *roundContext) exchange(ctx context.Context, command []byte) ([]byte, error) {
	resp, err := rc.pcd.Exchange(ctx, command)
	if err != nil {
		return nil, err
	}
	data, sw := virt.SplitStatus(resp)
	if sw != apdu.Success {
		return resp, fmt.Errorf("status %v", sw)
	}
	return data, nil
}

func stepSelect(aid []byte) func(context.Context, *roundContext) ([]byte, error) {
	return func(ctx context.Context, rc *roundContext) ([]byte, error) {
		return rc.exchange(ctx, virt.SelectAPDU(aid))
	}
}

func stepReadCC(ctx context.Context, rc *roundContext) ([]byte, error) {
	if _, err := rc.exchange(ctx, virt.SelectFileAPDU(ndef.CCFileID)); err != nil {
		return nil, err
	}
	cc, err := rc.exchange(ctx, virt.ReadBinaryAPDU(0, 15))
	if err != nil {
		return nil, err
	}
	if len(cc) != 15 || cc[1] != 0x0F {
		return cc, errors.New("malformed capability container")
	}
	rc.mle = int(binary.BigEndian.Uint16(cc[3:5]))
	if rc.mle == 0 {
		return cc, errors.New("capability container announces MLe 0")
	}
	return cc, nil
}

func stepReadNDEF(ctx context.Context, rc *roundContext) ([]byte, error) {
	if _, err := rc.exchange(ctx, virt.SelectFileAPDU(ndef.NDEFFileID)); err != nil {
		return nil, err
	}
	prefix, err := rc.exchange(ctx, virt.ReadBinaryAPDU(0, 2))
	if err != nil {
		return nil, err
	}
	if len(prefix) != 2 {
		return prefix, errors.New("short NDEF length prefix")
	}
	size := 2 + int(binary.BigEndian.Uint16(prefix))
	file := prefix
	for len(file) < size {
		chunk, err := rc.exchange(ctx, virt.ReadBinaryAPDU(uint16(len(file)), min(rc.mle, size-len(file)))) //nolint:gosec // bounded by the file size
		if err != nil {
			return file, err
		}
		if len(chunk) == 0 {
			return file, errors.New("empty READ BINARY response")
		}
		file = append(file, chunk...)
	}
	msg, err := ndef.DecodeMessage(file[2:])
	if err != nil {
		return file, err
	}
	if len(msg) != 1 {
		return file, fmt.Errorf("expected one record, got %d", len(msg))
	}
	uri, err := msg[0].URI()
	if err != nil {
		return file, err
	}
	if uri != rc.result.URI {
		return file, mismatch("URI", []byte(rc.result.URI), []byte(uri))
	}
	return file, nil
}

func stepNFCGetInfo(ctx context.Context, rc *roundContext) ([]byte, error) {
	resp, err := rc.exchange(ctx, virt.CTAP2APDU([]byte{ctap.CmdGetInfo}))
	if err != nil {
		return resp, err
	}
	return resp, checkGetInfo(resp)
}

func stepDeselect(ctx context.Context, rc *roundContext) ([]byte, error) {
	return nil, rc.pcd.Deselect(ctx)
}

// generateRandomText creates random text from the character pool up to maxBytes
func generateRandomText(maxBytes int) string {
	result := make([]rune, 0, maxBytes)
	currentBytes := 0

	for currentBytes < maxBytes {
		char := uriChars[randomInt(0, len(uriChars)-1)]
		charBytes := len(string(char))
		if currentBytes+charBytes > maxBytes {
			break
		}
		result = append(result, char)
		currentBytes += charBytes
	}
	return string(result)
}

// randomInt returns a random int in [low, high] inclusive
func randomInt(low, high int) int {
	if low >= high {
		return low
	}
	var b [4]byte
	_, _ = rand.Read(b[:])
	n := int(b[0]&0x7F)<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3])
	return low + (n % (high - low + 1))
}

func writeCrashReportToFile(dir string, report *CrashReport) (string, error) {
	timestamp := report.Timestamp.Format("20060102_150405")
	filename := filepath.Join(dir, fmt.Sprintf("selftest_crash_round%d_%s.json", report.Round, timestamp))

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal crash report: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write crash report: %w", err)
	}
	return filename, nil
}

func formatHexString(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}

func printRoundSummary(out io.Writer, result *SelfTestResult) {
	status := "PASS"
	if !result.Success {
		status = "FAIL"
	}
	_, _ = fmt.Fprintf(out, "  [%s] round %d - %d/%d steps passed - %s\n",
		status, result.Round, result.Passed, len(selfTestSteps()),
		result.Duration.Round(time.Millisecond))
}

func printFinalSummary(out io.Writer, results []*SelfTestResult) {
	if len(results) == 0 {
		return
	}

	_, _ = fmt.Fprintln(out, "================================================================================")
	_, _ = fmt.Fprintln(out, "                              SELF-TEST SUMMARY")
	_, _ = fmt.Fprintln(out, "================================================================================")

	passCount, failCount, crashCount := 0, 0, 0
	for _, r := range results {
		if r.Success {
			passCount++
			continue
		}
		failCount++
		if r.CrashFile != "" {
			crashCount++
		}
	}
	_, _ = fmt.Fprintf(out, "Overall: %d PASS, %d FAIL\n", passCount, failCount)
	if crashCount > 0 {
		_, _ = fmt.Fprintf(out, "Crash reports written: %d\n", crashCount)
	}
	_, _ = fmt.Fprintln(out, "================================================================================")
}

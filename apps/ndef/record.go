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

package ndef

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Type name formats used by the records this tag serves.
const (
	TNFEmpty     byte = 0x00
	TNFWellKnown byte = 0x01
	TNFMedia     byte = 0x02
	TNFUnchanged byte = 0x06
	tnfMask      byte = 0x07

	flagMB byte = 0x80
	flagME byte = 0x40
	flagCF byte = 0x20
	flagSR byte = 0x10
	flagIL byte = 0x08

	shortPayloadMax = 255
)

// Well-known record types.
const (
	TypeURI  = "U"
	TypeText = "T"
)

// Record errors.
var (
	ErrEmptyMessage    = errors.New("ndef: empty message")
	ErrTruncatedRecord = errors.New("ndef: truncated record")
	ErrInvalidTNF      = errors.New("ndef: invalid TNF")
	ErrChunkedRecord   = errors.New("ndef: chunked records not supported")
	ErrFieldTooLong    = errors.New("ndef: type or id longer than 255 bytes")
	ErrBadURIPayload   = errors.New("ndef: malformed URI payload")
)

// Record is one NDEF record. Message begin and end flags are derived from
// the record's position when a Message is encoded.
type Record struct {
	Type    string
	ID      string
	Payload []byte
	TNF     byte
}

// Message is an ordered list of records.
type Message []Record

// Encode serializes the message.
func (m Message) Encode() ([]byte, error) {
	if len(m) == 0 {
		return nil, ErrEmptyMessage
	}
	var out []byte
	for i, rec := range m {
		var err error
		out, err = rec.appendTo(out, i == 0, i == len(m)-1)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return out, nil
}

func (r Record) appendTo(out []byte, first, last bool) ([]byte, error) {
	if r.TNF > TNFUnchanged {
		return nil, ErrInvalidTNF
	}
	if len(r.Type) > 0xFF || len(r.ID) > 0xFF {
		return nil, ErrFieldTooLong
	}

	flags := r.TNF & tnfMask
	if first {
		flags |= flagMB
	}
	if last {
		flags |= flagME
	}
	short := len(r.Payload) <= shortPayloadMax
	if short {
		flags |= flagSR
	}
	if r.ID != "" {
		flags |= flagIL
	}

	out = append(out, flags, byte(len(r.Type)))
	if short {
		out = append(out, byte(len(r.Payload)))
	} else {
		out = binary.BigEndian.AppendUint32(out, uint32(len(r.Payload))) //nolint:gosec // len is non-negative
	}
	if r.ID != "" {
		out = append(out, byte(len(r.ID)))
	}
	out = append(out, r.Type...)
	out = append(out, r.ID...)
	return append(out, r.Payload...), nil
}

// DecodeMessage parses records up to and including the first one that
// carries the message end flag.
func DecodeMessage(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}
	var msg Message
	for off := 0; off < len(data); {
		rec, n, last, err := decodeRecord(data[off:])
		if err != nil {
			return nil, fmt.Errorf("record at offset %d: %w", off, err)
		}
		msg = append(msg, rec)
		off += n
		if last {
			break
		}
	}
	return msg, nil
}

func decodeRecord(data []byte) (rec Record, n int, last bool, err error) {
	if len(data) < 3 {
		return Record{}, 0, false, ErrTruncatedRecord
	}
	flags := data[0]
	if flags&flagCF != 0 {
		return Record{}, 0, false, ErrChunkedRecord
	}
	rec.TNF = flags & tnfMask
	if rec.TNF > TNFUnchanged {
		return Record{}, 0, false, ErrInvalidTNF
	}

	typeLen := int(data[1])
	off := 2
	var payloadLen int
	if flags&flagSR != 0 {
		payloadLen = int(data[off])
		off++
	} else {
		if len(data) < off+4 {
			return Record{}, 0, false, ErrTruncatedRecord
		}
		payloadLen = int(binary.BigEndian.Uint32(data[off:]))
		off += 4
	}
	var idLen int
	if flags&flagIL != 0 {
		if len(data) <= off {
			return Record{}, 0, false, ErrTruncatedRecord
		}
		idLen = int(data[off])
		off++
	}
	if payloadLen < 0 || len(data)-off < typeLen+idLen+payloadLen {
		return Record{}, 0, false, ErrTruncatedRecord
	}

	rec.Type = string(data[off : off+typeLen])
	off += typeLen
	rec.ID = string(data[off : off+idLen])
	off += idLen
	rec.Payload = append([]byte(nil), data[off:off+payloadLen]...)
	off += payloadLen
	return rec, off, flags&flagME != 0, nil
}

// URI identifier codes, indexed by code.
var uriPrefixes = [...]string{
	"", "http://www.", "https://www.", "http://", "https://", "tel:",
	"mailto:", "ftp://anonymous:anonymous@", "ftp://ftp.", "ftps://",
	"sftp://", "smb://", "nfs://", "ftp://", "dav://", "news:",
	"telnet://", "imap:", "rtsp://", "urn:", "pop:", "sip:", "sips:",
	"tftp:", "btspp://", "btl2cap://", "btgoep://", "tcpobex://",
	"irdaobex://", "file://", "urn:epc:id:", "urn:epc:tag:",
	"urn:epc:pat:", "urn:epc:raw:", "urn:epc:", "urn:nfc:",
}

// URIRecord returns a well-known URI record, abbreviating the longest
// matching prefix.
func URIRecord(uri string) Record {
	code, best := 0, 0
	for i := 1; i < len(uriPrefixes); i++ {
		if p := uriPrefixes[i]; len(p) > best && strings.HasPrefix(uri, p) {
			code, best = i, len(p)
		}
	}
	payload := make([]byte, 0, 1+len(uri)-best)
	payload = append(payload, byte(code))
	payload = append(payload, uri[best:]...)
	return Record{TNF: TNFWellKnown, Type: TypeURI, Payload: payload}
}

// URI expands a URI record payload.
func (r Record) URI() (string, error) {
	if r.TNF != TNFWellKnown || r.Type != TypeURI || len(r.Payload) == 0 {
		return "", ErrBadURIPayload
	}
	code := int(r.Payload[0])
	if code >= len(uriPrefixes) {
		return "", fmt.Errorf("%w: prefix code 0x%02X", ErrBadURIPayload, code)
	}
	return uriPrefixes[code] + string(r.Payload[1:]), nil
}

// TextRecord returns a UTF-8 well-known text record.
func TextRecord(text, lang string) Record {
	if lang == "" {
		lang = "en"
	}
	payload := make([]byte, 0, 1+len(lang)+len(text))
	payload = append(payload, byte(len(lang)&0x3F))
	payload = append(payload, lang...)
	payload = append(payload, text...)
	return Record{TNF: TNFWellKnown, Type: TypeText, Payload: payload}
}

// Copyright (c) 2026 John Earle
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

package mailparse

import (
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message/charset"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
)

// decodeHeader decodes RFC 2047 encoded words in a header value. Unknown
// or garbled encodings fall back to the raw value rather than failing,
// since headers from the wild are frequently mislabelled.
func decodeHeader(raw string) string {
	if raw == "" {
		return ""
	}
	dec := mime.WordDecoder{CharsetReader: charsetReader}
	decoded, err := dec.DecodeHeader(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return strings.TrimSpace(decoded)
}

// charsetReader resolves a charset by IANA name, trying the go-message
// registry first and falling back to a small alias table for labels the
// registry does not know. Completely unknown charsets pass bytes through
// untouched.
func charsetReader(name string, input io.Reader) (io.Reader, error) {
	if r, err := charset.Reader(name, input); err == nil {
		return r, nil
	}

	switch strings.ToLower(name) {
	case "iso-2022-jp":
		return japanese.ISO2022JP.NewDecoder().Reader(input), nil
	case "shift_jis", "shift-jis", "sjis":
		return japanese.ShiftJIS.NewDecoder().Reader(input), nil
	case "euc-jp":
		return japanese.EUCJP.NewDecoder().Reader(input), nil
	case "latin1", "latin-1", "iso-8859-1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	case "cp1252", "windows-1252":
		return charmap.Windows1252.NewDecoder().Reader(input), nil
	default:
		return input, nil
	}
}

// bestEffortText converts raw bytes to a string, reinterpreting them as
// Latin-1 when they are not valid UTF-8. Latin-1 maps every byte, so
// this never drops content.
func bestEffortText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(decoded)
}

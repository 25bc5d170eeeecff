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
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"
)

var subjectPrefixRe = regexp.MustCompile(`^(?i)(re|fw|fwd)\s*:\s*`)

// NormalizeSubject lowercases a subject, strips reply/forward prefixes
// (applied repeatedly so "Re: Fwd: x" reduces to "x"), drops punctuation
// and collapses whitespace. The result is the subject fingerprint used
// for fuzzy duplicate matching.
func NormalizeSubject(subject string) string {
	s := strings.ToLower(strings.TrimSpace(subject))
	for {
		stripped := subjectPrefixRe.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// SubjectTokens returns the word set of a normalized subject, used for
// Jaccard similarity between subject fingerprints.
func SubjectTokens(subject string) []string {
	return strings.Fields(NormalizeSubject(subject))
}

// ContentHash computes the stable dedup digest over sender, subject and
// body. All three inputs are condensed first so trivial whitespace or
// punctuation differences between resends do not change the hash.
func ContentHash(sender, subject, body string) string {
	h := sha256.New()
	h.Write([]byte(condense(sender)))
	h.Write([]byte("|"))
	h.Write([]byte(condense(subject)))
	h.Write([]byte("|"))
	h.Write([]byte(condense(body)))
	return hex.EncodeToString(h.Sum(nil))
}

// condense lowercases and keeps only letters and digits.
func condense(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var (
	multiBlankRe = regexp.MustCompile(`\n\s*\n\s*\n+`)
	runSpaceRe   = regexp.MustCompile(`[ \t]+`)
)

// cleanText normalizes line endings, collapses runs of spaces and limits
// consecutive blank lines to one.
func cleanText(body string) string {
	if body == "" {
		return ""
	}
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")
	body = runSpaceRe.ReplaceAllString(body, " ")
	body = multiBlankRe.ReplaceAllString(body, "\n\n")
	return strings.TrimSpace(body)
}

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
	"regexp"
	"strings"
)

var (
	onWroteRe     = regexp.MustCompile(`(?i)^On .* wrote:\s*$`)
	origMessageRe = regexp.MustCompile(`^-{3,}\s*Original Message\s*-{3,}`)
)

// signaturePrefixes mark the start of a signature block. Matching is
// case-insensitive against the trimmed line.
var signaturePrefixes = []string{
	"sent from my iphone",
	"sent from my android",
	"get outlook for",
	"this email was sent from",
	"best regards,",
	"kind regards,",
	"sincerely,",
	"thank you,",
	"thanks,",
}

// quotedHeaderPrefixes mark the header block of an embedded reply or
// forward ("From: ... Sent: ... To: ...").
var quotedHeaderPrefixes = []string{
	"from:",
	"date:",
	"subject:",
	"to:",
}

// ExtractMainContent removes signatures and quoted reply text from a
// cleaned body. The scan stops at the first line that looks like a
// signature delimiter, a quote marker or an embedded reply header.
// Stripping is best-effort: if it would leave nothing, the original
// body is returned unchanged.
func ExtractMainContent(body string) string {
	if body == "" {
		return ""
	}

	lines := strings.Split(body, "\n")
	var kept []string

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if isSignatureStart(trimmed) || isQuotedReplyStart(trimmed) {
			break
		}

		// Skip leading blank lines
		if len(kept) == 0 && trimmed == "" {
			continue
		}

		kept = append(kept, line)
	}

	main := strings.TrimSpace(strings.Join(kept, "\n"))
	main = multiBlankRe.ReplaceAllString(main, "\n\n")

	if main == "" {
		return body
	}
	return main
}

func isSignatureStart(trimmed string) bool {
	if trimmed == "--" {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, p := range signaturePrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

func isQuotedReplyStart(trimmed string) bool {
	if strings.HasPrefix(trimmed, ">") {
		return true
	}
	if onWroteRe.MatchString(trimmed) || origMessageRe.MatchString(trimmed) {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, p := range quotedHeaderPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

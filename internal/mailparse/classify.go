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
	"strings"
	"unicode"

	"github.com/bcem/mailingest/internal/models"
)

// classifyInput carries the lowercased views of a message that the
// classification rules match against. HeaderFunc returns the raw value
// of a header by canonical name, or "" when absent.
type classifyInput struct {
	header  func(name string) string
	sender  string
	subject string
	body    string
}

// rule is one first-match-wins classification step. Rules are evaluated
// in declaration order; the first rule whose match fires decides the type.
type rule struct {
	name  string
	class models.MessageType
	match func(in classifyInput) bool
}

// classifyRules are ordered most-authoritative first: protocol-level
// auto-reply headers beat any keyword heuristic.
var classifyRules = []rule{
	{name: "auto-reply-headers", class: models.TypeAutoReply, match: matchAutoReplyHeaders},
	{name: "auto-reply-text", class: models.TypeAutoReply, match: matchAutoReplyText},
	{name: "system-sender", class: models.TypeSystem, match: matchSystemSender},
	{name: "newsletter", class: models.TypeNewsletter, match: matchNewsletter},
	{name: "support-keywords", class: models.TypeSupportRequest, match: matchSupportKeywords},
}

// classify runs the rule pipeline and returns the detected message type.
// When no rule fires the message is treated as a support request, since
// everything landing in a support mailbox is a candidate ticket.
func classify(in classifyInput) models.MessageType {
	for _, r := range classifyRules {
		if r.match(in) {
			return r.class
		}
	}
	return models.TypeSupportRequest
}

func matchAutoReplyHeaders(in classifyInput) bool {
	if v := in.header("Auto-Submitted"); v != "" && !strings.EqualFold(v, "no") {
		return true
	}
	if in.header("X-Autoreply") != "" || in.header("X-Autorespond") != "" {
		return true
	}
	if in.header("X-Auto-Response-Suppress") != "" {
		return true
	}
	switch strings.ToLower(in.header("Precedence")) {
	case "bulk", "auto_reply", "junk":
		return true
	}
	return false
}

var autoReplyIndicators = []string{
	"out of office",
	"automatic reply",
	"auto-reply",
	"vacation message",
	"away message",
	"delivery failure",
	"mailer-daemon",
	"postmaster",
}

func matchAutoReplyText(in classifyInput) bool {
	for _, ind := range autoReplyIndicators {
		if strings.Contains(in.subject, ind) || strings.Contains(in.body, ind) {
			return true
		}
	}
	return false
}

var systemSenderMarkers = []string{"noreply", "no-reply", "mailer-daemon", "postmaster"}

func matchSystemSender(in classifyInput) bool {
	for _, m := range systemSenderMarkers {
		if strings.Contains(in.sender, m) {
			return true
		}
	}
	return false
}

var newsletterMarkers = []string{"unsubscribe", "newsletter", "marketing", "promotional"}

func matchNewsletter(in classifyInput) bool {
	if in.header("List-Unsubscribe") != "" || in.header("List-Id") != "" {
		return true
	}
	for _, m := range newsletterMarkers {
		if strings.Contains(in.body, m) {
			return true
		}
	}
	return false
}

var supportKeywords = []string{
	"help", "problem", "issue", "error", "bug", "support", "assistance",
	"question", "trouble", "broken", "not working", "failed",
}

func matchSupportKeywords(in classifyInput) bool {
	for _, kw := range supportKeywords {
		if strings.Contains(in.subject, kw) || strings.Contains(in.body, kw) {
			return true
		}
	}
	return false
}

var urgencyKeywords = []string{
	"urgent", "asap", "immediately", "emergency", "critical", "high priority",
}

// UrgencyScore computes a bounded 0-100 heuristic from keyword and
// punctuation signals. It is a triage hint, not a probability.
func UrgencyScore(subject, body string) int {
	lowerSubject := strings.ToLower(subject)
	lowerBody := strings.ToLower(body)

	score := 0
	for _, kw := range urgencyKeywords {
		if strings.Contains(lowerSubject, kw) || strings.Contains(lowerBody, kw) {
			score += 25
		}
	}

	if strings.Count(subject, "!")+strings.Count(body, "!") >= 3 {
		score += 10
	}

	if shoutingSubject(subject) {
		score += 15
	}

	if score > 100 {
		score = 100
	}
	return score
}

// shoutingSubject reports whether a subject is mostly uppercase letters.
// Short subjects are ignored so acronym-heavy subjects do not trip it.
func shoutingSubject(subject string) bool {
	var upper, letters int
	for _, r := range subject {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	return letters >= 8 && upper*2 > letters
}

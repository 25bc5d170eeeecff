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
	"testing"

	"github.com/bcem/mailingest/internal/models"
)

func input(headers map[string]string, sender, subject, body string) classifyInput {
	return classifyInput{
		header:  func(name string) string { return headers[name] },
		sender:  sender,
		subject: subject,
		body:    body,
	}
}

// TestClassify_AutoReplyHeaderBeatsKeywords verifies that a protocol-level
// auto-reply header wins over any later keyword rule.
func TestClassify_AutoReplyHeaderBeatsKeywords(t *testing.T) {
	in := input(
		map[string]string{"Auto-Submitted": "auto-replied"},
		"alice@example.com",
		"help with unsubscribe",
		"please unsubscribe me, i have a problem",
	)

	if got := classify(in); got != models.TypeAutoReply {
		t.Errorf("classify = %q, want %q", got, models.TypeAutoReply)
	}
}

// TestClassify_AutoSubmittedNo verifies Auto-Submitted: no does not mark
// a message as an auto-reply.
func TestClassify_AutoSubmittedNo(t *testing.T) {
	in := input(
		map[string]string{"Auto-Submitted": "no"},
		"alice@example.com",
		"billing problem",
		"my invoice is wrong",
	)

	if got := classify(in); got != models.TypeSupportRequest {
		t.Errorf("classify = %q, want %q", got, models.TypeSupportRequest)
	}
}

// TestClassify_OutOfOfficeSubject verifies the textual auto-reply
// indicators fire on the subject.
func TestClassify_OutOfOfficeSubject(t *testing.T) {
	in := input(nil, "bob@example.com", "out of office: back monday", "i am away")

	if got := classify(in); got != models.TypeAutoReply {
		t.Errorf("classify = %q, want %q", got, models.TypeAutoReply)
	}
}

// TestClassify_SystemSenderBeatsNewsletter verifies rule ordering between
// the system-sender rule and the newsletter rule.
func TestClassify_SystemSenderBeatsNewsletter(t *testing.T) {
	in := input(nil, "noreply@shop.example", "your receipt", "click unsubscribe to stop")

	if got := classify(in); got != models.TypeSystem {
		t.Errorf("classify = %q, want %q", got, models.TypeSystem)
	}
}

// TestClassify_NewsletterHeader verifies List-Unsubscribe marks a message
// as a newsletter.
func TestClassify_NewsletterHeader(t *testing.T) {
	in := input(
		map[string]string{"List-Unsubscribe": "<mailto:leave@news.example>"},
		"digest@news.example",
		"weekly digest",
		"here is what happened this week",
	)

	if got := classify(in); got != models.TypeNewsletter {
		t.Errorf("classify = %q, want %q", got, models.TypeNewsletter)
	}
}

// TestClassify_SupportKeywords verifies the support keyword rule.
func TestClassify_SupportKeywords(t *testing.T) {
	in := input(nil, "carol@example.com", "login not working", "the page is broken")

	if got := classify(in); got != models.TypeSupportRequest {
		t.Errorf("classify = %q, want %q", got, models.TypeSupportRequest)
	}
}

// TestClassify_DefaultsToSupportRequest verifies that a message with no
// signals at all is still treated as a support request.
func TestClassify_DefaultsToSupportRequest(t *testing.T) {
	in := input(nil, "dave@example.com", "quick note", "just wanted to say the new dashboard looks nice")

	if got := classify(in); got != models.TypeSupportRequest {
		t.Errorf("classify = %q, want %q", got, models.TypeSupportRequest)
	}
}

// TestUrgencyScore verifies keyword and punctuation signals add up and
// the score stays within bounds.
func TestUrgencyScore(t *testing.T) {
	if got := UrgencyScore("monthly report", "numbers attached"); got != 0 {
		t.Errorf("calm message score = %d, want 0", got)
	}

	got := UrgencyScore("URGENT: production down!!!", "this is critical, we need help immediately")
	if got < 50 {
		t.Errorf("urgent message score = %d, want >= 50", got)
	}
	if got > 100 {
		t.Errorf("score = %d, must not exceed 100", got)
	}
}

// TestUrgencyScore_Shouting verifies the all-caps subject signal.
func TestUrgencyScore_Shouting(t *testing.T) {
	calm := UrgencyScore("everything is broken", "")
	loud := UrgencyScore("EVERYTHING IS BROKEN", "")

	if loud <= calm {
		t.Errorf("shouting subject should score higher: calm=%d loud=%d", calm, loud)
	}
}

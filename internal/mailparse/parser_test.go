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
	"testing"
	"time"

	"github.com/bcem/mailingest/internal/models"
)

var fetchedAt = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

// TestParse_PlainText verifies the basic fields of a simple text message.
func TestParse_PlainText(t *testing.T) {
	raw := []byte("From: Alice Customer <Alice@Example.com>\r\n" +
		"To: support@acme.test\r\n" +
		"Subject: Problem with my order\r\n" +
		"Date: Mon, 02 Jun 2025 10:04:05 +0000\r\n" +
		"Message-ID: <abc-123@example.com>\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"My order never arrived. Can you help?\r\n")

	email, parts, err := Parse(7, raw, fetchedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if email.UID != 7 {
		t.Errorf("UID = %d, want 7", email.UID)
	}
	if email.MessageID != "abc-123@example.com" {
		t.Errorf("MessageID = %q, want abc-123@example.com", email.MessageID)
	}
	if email.From.Address != "alice@example.com" {
		t.Errorf("From.Address = %q, want lowercased alice@example.com", email.From.Address)
	}
	if email.From.Name != "Alice Customer" {
		t.Errorf("From.Name = %q, want Alice Customer", email.From.Name)
	}
	if len(email.To) != 1 || email.To[0].Address != "support@acme.test" {
		t.Errorf("To = %v, want [support@acme.test]", email.To)
	}
	if !strings.Contains(email.Body, "My order never arrived") {
		t.Errorf("Body = %q, want the message text", email.Body)
	}
	if email.Type != models.TypeSupportRequest {
		t.Errorf("Type = %q, want %q", email.Type, models.TypeSupportRequest)
	}
	if email.ContentHash == "" {
		t.Error("ContentHash should be set")
	}
	if !email.ArrivedAt.Equal(time.Date(2025, 6, 2, 10, 4, 5, 0, time.UTC)) {
		t.Errorf("ArrivedAt = %v, want the Date header value", email.ArrivedAt)
	}
	if len(parts) != 0 {
		t.Errorf("expected no attachment parts, got %d", len(parts))
	}
}

// TestParse_MissingDateUsesFetchTime verifies the fallback arrival time.
func TestParse_MissingDateUsesFetchTime(t *testing.T) {
	raw := []byte("From: bob@example.com\r\n" +
		"Subject: hi\r\n" +
		"\r\n" +
		"short note\r\n")

	email, _, err := Parse(1, raw, fetchedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !email.ArrivedAt.Equal(fetchedAt) {
		t.Errorf("ArrivedAt = %v, want fetch time %v", email.ArrivedAt, fetchedAt)
	}
}

// TestParse_EncodedSubject verifies RFC 2047 encoded words are decoded.
func TestParse_EncodedSubject(t *testing.T) {
	raw := []byte("From: alice@example.fr\r\n" +
		"Subject: =?ISO-8859-1?Q?Probl=E8me_de_facturation?=\r\n" +
		"\r\n" +
		"Bonjour\r\n")

	email, _, err := Parse(2, raw, fetchedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if email.Subject != "Problème de facturation" {
		t.Errorf("Subject = %q, want decoded value", email.Subject)
	}
}

// TestParse_HTMLOnlyBody verifies HTML-only messages get a text body
// derived from the HTML part.
func TestParse_HTMLOnlyBody(t *testing.T) {
	raw := []byte("From: carol@example.com\r\n" +
		"Subject: broken page\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<html><body><p>The login page shows an error.</p></body></html>\r\n")

	email, _, err := Parse(3, raw, fetchedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !email.BodyFromHTML {
		t.Error("BodyFromHTML should be true for an HTML-only message")
	}
	if !strings.Contains(email.Body, "The login page shows an error") {
		t.Errorf("Body = %q, want text extracted from HTML", email.Body)
	}
	if strings.Contains(email.Body, "<p>") {
		t.Errorf("Body still contains markup: %q", email.Body)
	}
}

// TestParse_Attachments verifies attachment parts are extracted with
// filename, declared type and decoded content.
func TestParse_Attachments(t *testing.T) {
	raw := []byte("From: bob@example.com\r\n" +
		"To: support@acme.test\r\n" +
		"Subject: invoice attached\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"XYZ\"\r\n" +
		"\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Please see the attached invoice, there is a billing problem.\r\n" +
		"--XYZ\r\n" +
		"Content-Type: application/pdf; name=\"invoice.pdf\"\r\n" +
		"Content-Disposition: attachment; filename=\"invoice.pdf\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"JVBERi0xLjQK\r\n" +
		"--XYZ--\r\n")

	email, parts, err := Parse(4, raw, fetchedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(email.Body, "attached invoice") {
		t.Errorf("Body = %q, want the text part", email.Body)
	}
	if len(parts) != 1 {
		t.Fatalf("expected 1 attachment part, got %d", len(parts))
	}
	if parts[0].Filename != "invoice.pdf" {
		t.Errorf("Filename = %q, want invoice.pdf", parts[0].Filename)
	}
	if parts[0].ContentType != "application/pdf" {
		t.Errorf("ContentType = %q, want application/pdf", parts[0].ContentType)
	}
	if !strings.HasPrefix(string(parts[0].Content), "%PDF-") {
		t.Errorf("Content = %q, want decoded PDF bytes", parts[0].Content)
	}
}

// TestParse_SignatureAndQuoteStripped verifies the reply chain and
// signature are removed from the body.
func TestParse_SignatureAndQuoteStripped(t *testing.T) {
	raw := []byte("From: dana@example.com\r\n" +
		"Subject: Re: ticket 42\r\n" +
		"\r\n" +
		"The fix did not work, still seeing the issue.\r\n" +
		"\r\n" +
		"On Mon, Jun 2, 2025 at 9:00 AM Support <support@acme.test> wrote:\r\n" +
		"> Please try clearing the cache.\r\n" +
		"--\r\n" +
		"Dana\r\n" +
		"Sent from my iPhone\r\n")

	email, _, err := Parse(5, raw, fetchedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(email.Body, "still seeing the issue") {
		t.Errorf("Body = %q, want the new content kept", email.Body)
	}
	if strings.Contains(email.Body, "wrote:") || strings.Contains(email.Body, "clearing the cache") {
		t.Errorf("Body = %q, quoted reply should be stripped", email.Body)
	}
	if strings.Contains(email.Body, "Sent from my iPhone") {
		t.Errorf("Body = %q, signature should be stripped", email.Body)
	}
}

// TestParse_StrippingNeverEmptiesBody verifies that a body consisting
// only of quoted text survives stripping.
func TestParse_StrippingNeverEmptiesBody(t *testing.T) {
	raw := []byte("From: erin@example.com\r\n" +
		"Subject: fwd\r\n" +
		"\r\n" +
		"> the entire body is a quote\r\n" +
		"> with nothing new added\r\n")

	email, _, err := Parse(6, raw, fetchedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if email.Body == "" {
		t.Error("stripping must never leave an empty body")
	}
	if !strings.Contains(email.Body, "entire body is a quote") {
		t.Errorf("Body = %q, want the original quoted text kept", email.Body)
	}
}

// TestParse_AutoReplyHeader verifies header-based classification flows
// through Parse.
func TestParse_AutoReplyHeader(t *testing.T) {
	raw := []byte("From: frank@example.com\r\n" +
		"Subject: Re: your ticket\r\n" +
		"Auto-Submitted: auto-replied\r\n" +
		"\r\n" +
		"I am currently away.\r\n")

	email, _, err := Parse(8, raw, fetchedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if email.Type != models.TypeAutoReply {
		t.Errorf("Type = %q, want %q", email.Type, models.TypeAutoReply)
	}
}

// TestParse_EmptyMessage verifies empty payloads fail with a malformed
// message error.
func TestParse_EmptyMessage(t *testing.T) {
	_, _, err := Parse(9, []byte("  \r\n "), fetchedAt)
	if err == nil {
		t.Fatal("expected error for empty message, got nil")
	}
	if !IsMalformed(err) {
		t.Errorf("error = %v, want MalformedMessageError", err)
	}
}

// TestParse_ContentHashIgnoresMessageID verifies two resends with
// different message-ids but the same content hash identically.
func TestParse_ContentHashIgnoresMessageID(t *testing.T) {
	build := func(msgID, body string) []byte {
		return []byte("From: gina@example.com\r\n" +
			"Subject: Payment issue\r\n" +
			"Message-ID: <" + msgID + ">\r\n" +
			"\r\n" +
			body + "\r\n")
	}

	first, _, err := Parse(10, build("one@example.com", "My card was charged twice."), fetchedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, _, err := Parse(11, build("two@example.com", "My  card was charged twice."), fetchedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.ContentHash != second.ContentHash {
		t.Errorf("hashes differ across resends:\n a=%s\n b=%s", first.ContentHash, second.ContentHash)
	}
}

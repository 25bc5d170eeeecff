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

// Package mailparse turns raw RFC 5322 messages into normalized email
// records: decoded headers, cleaned body text, a stable content hash, a
// detected message type and an urgency score.
package mailparse

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/jaytaylor/html2text"
	"github.com/jhillyerd/enmime"

	"github.com/bcem/mailingest/internal/models"
)

// MalformedMessageError reports a message that could not be parsed even
// with best-effort fallbacks. The message is skipped; the sync continues.
type MalformedMessageError struct {
	UID    uint32
	Reason string
	Err    error
}

func (e *MalformedMessageError) Error() string {
	if e.UID != 0 {
		return fmt.Sprintf("malformed message uid=%d: %s", e.UID, e.Reason)
	}
	return fmt.Sprintf("malformed message: %s", e.Reason)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

// IsMalformed reports whether err is a MalformedMessageError.
func IsMalformed(err error) bool {
	var m *MalformedMessageError
	return errors.As(err, &m)
}

// Parse converts one raw message into a NormalizedEmail plus the raw
// attachment parts found in it. Mailbox and folder provenance are left
// for the caller to stamp. fetchedAt is used as the arrival time when
// the Date header is missing or unparseable.
func Parse(uid uint32, raw []byte, fetchedAt time.Time) (*models.NormalizedEmail, []models.AttachmentPart, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil, &MalformedMessageError{UID: uid, Reason: "empty message"}
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		// enmime rejects some messages that a looser reader can still
		// extract headers and a body from.
		return fallbackParse(uid, raw, fetchedAt)
	}
	if len(env.Errors) > 0 {
		slog.Debug("message parsed with defects", "uid", uid, "defects", len(env.Errors))
	}

	subject := decodeHeader(env.GetHeader("Subject"))
	from := parseAddress(decodeHeader(env.GetHeader("From")))
	to := parseAddressList(decodeHeader(env.GetHeader("To")))
	to = append(to, parseAddressList(decodeHeader(env.GetHeader("Cc")))...)

	// enmime down-converts HTML to text itself when no text/plain part
	// exists and records a defect for it; mirror that into the record.
	fromHTML := false
	for _, e := range env.Errors {
		if e.Name == enmime.ErrorPlainTextFromHTML {
			fromHTML = true
			break
		}
	}
	body := cleanText(env.Text)
	if body == "" && env.HTML != "" {
		body = cleanText(htmlToText(env.HTML))
		fromHTML = true
	}

	arrived := fetchedAt
	if d := env.GetHeader("Date"); d != "" {
		if t, err := mail.ParseDate(d); err == nil {
			arrived = t
		}
	}

	email := assemble(uid, env.GetHeader, messageID(env.GetHeader("Message-Id")), subject, from, to, body, fromHTML, arrived)

	parts := make([]models.AttachmentPart, 0, len(env.Attachments)+len(env.Inlines))
	for _, p := range env.Attachments {
		parts = append(parts, models.AttachmentPart{
			Filename:    p.FileName,
			ContentType: p.ContentType,
			Content:     p.Content,
		})
	}
	for _, p := range env.Inlines {
		// Inline parts without a filename are the rendered body, not files.
		if p.FileName == "" {
			continue
		}
		parts = append(parts, models.AttachmentPart{
			Filename:    p.FileName,
			ContentType: p.ContentType,
			Content:     p.Content,
			Inline:      true,
		})
	}

	return email, parts, nil
}

// fallbackParse handles messages enmime rejects, treating the payload as
// headers plus a single best-guess-charset text body. Attachments are not
// recovered on this path.
func fallbackParse(uid uint32, raw []byte, fetchedAt time.Time) (*models.NormalizedEmail, []models.AttachmentPart, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, &MalformedMessageError{UID: uid, Reason: "unparseable message", Err: err}
	}

	bodyBytes, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, nil, &MalformedMessageError{UID: uid, Reason: "unreadable body", Err: err}
	}

	subject := decodeHeader(msg.Header.Get("Subject"))
	from := parseAddress(decodeHeader(msg.Header.Get("From")))
	to := parseAddressList(decodeHeader(msg.Header.Get("To")))
	body := cleanText(bestEffortText(bodyBytes))

	arrived := fetchedAt
	if t, err := msg.Header.Date(); err == nil {
		arrived = t
	}

	header := func(name string) string { return msg.Header.Get(name) }
	email := assemble(uid, header, messageID(msg.Header.Get("Message-Id")), subject, from, to, body, false, arrived)
	return email, nil, nil
}

// assemble strips quoted text, classifies and hashes the message, and
// builds the final record.
func assemble(uid uint32, header func(string) string, msgID, subject string, from models.Address, to []models.Address, body string, fromHTML bool, arrived time.Time) *models.NormalizedEmail {
	main := ExtractMainContent(body)

	in := classifyInput{
		header:  header,
		sender:  from.Address,
		subject: strings.ToLower(subject),
		body:    strings.ToLower(main),
	}

	return &models.NormalizedEmail{
		MessageID:    msgID,
		UID:          uid,
		From:         from,
		To:           to,
		Subject:      subject,
		Body:         main,
		BodyFromHTML: fromHTML,
		ContentHash:  ContentHash(from.Address, subject, main),
		Type:         classify(in),
		Urgency:      UrgencyScore(subject, main),
		ArrivedAt:    arrived.UTC(),
	}
}

// messageID strips the angle brackets message-ids are wrapped in so the
// same id compares equal across providers that differ on bracketing.
func messageID(raw string) string {
	return strings.Trim(strings.TrimSpace(raw), "<>")
}

// parseAddress parses one mailbox address, falling back to the raw string
// as the address when it is not RFC 5322 clean. Addresses are lowercased
// so sender comparison and hashing are case-insensitive.
func parseAddress(raw string) models.Address {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.Address{}
	}
	if a, err := mail.ParseAddress(raw); err == nil {
		return models.Address{Address: strings.ToLower(a.Address), Name: a.Name}
	}
	return models.Address{Address: strings.ToLower(raw)}
}

func parseAddressList(raw string) []models.Address {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	list, err := mail.ParseAddressList(raw)
	if err != nil {
		if one := parseAddress(raw); one.Address != "" {
			return []models.Address{one}
		}
		return nil
	}
	out := make([]models.Address, 0, len(list))
	for _, a := range list {
		out = append(out, models.Address{Address: strings.ToLower(a.Address), Name: a.Name})
	}
	return out
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

// htmlToText converts an HTML body to plain text. html2text handles
// layout; if it fails the tags are stripped with a regexp so an HTML-only
// message never loses its body entirely.
func htmlToText(htmlBody string) string {
	text, err := html2text.FromString(htmlBody, html2text.Options{TextOnly: true})
	if err != nil {
		slog.Debug("html2text conversion failed, stripping tags", "error", err)
		return html.UnescapeString(tagRe.ReplaceAllString(htmlBody, " "))
	}
	return text
}

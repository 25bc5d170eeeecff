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

// Package models defines the data structures shared across the ingestion pipeline.
package models

import "time"

// Address represents a sender or recipient with an address and optional name.
type Address struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// MessageType classifies an email by intent. Classification is heuristic;
// auto-reply header markers win over keyword rules.
type MessageType string

const (
	TypeSupportRequest MessageType = "support-request"
	TypeAutoReply      MessageType = "auto-reply"
	TypeNewsletter     MessageType = "newsletter"
	TypeSystem         MessageType = "system"
	TypeOther          MessageType = "other"
)

// RiskLevel is the coarse security classification of an attachment.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// AtLeast returns the higher of the two risk levels.
func (r RiskLevel) AtLeast(min RiskLevel) RiskLevel {
	if r.rank() < min.rank() {
		return min
	}
	return r
}

func (r RiskLevel) rank() int {
	switch r {
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// FileCategory is the inferred kind of an attachment.
type FileCategory string

const (
	CategoryDocument   FileCategory = "document"
	CategoryImage      FileCategory = "image"
	CategoryArchive    FileCategory = "archive"
	CategoryExecutable FileCategory = "executable"
	CategoryOther      FileCategory = "other"
)

// SecurityVerdict is the heuristic risk assessment of one attachment.
type SecurityVerdict struct {
	Risk       RiskLevel `json:"risk"`
	Indicators []string  `json:"indicators,omitempty"`
}

// AttachmentPart carries the raw bytes of a MIME part between the parser
// and the attachment processor. Transient; never serialised.
type AttachmentPart struct {
	Filename    string
	ContentType string
	Content     []byte
	Inline      bool
}

// AttachmentRecord describes one processed attachment. If policy rejected
// the file, Rejected carries the reason and the sink was never called.
type AttachmentRecord struct {
	Filename    string          `json:"filename"`
	ContentType string          `json:"content_type"`
	Size        int64           `json:"size"`
	ContentHash string          `json:"content_hash"`
	Category    FileCategory    `json:"category"`
	Security    SecurityVerdict `json:"security"`
	StorageKey  string          `json:"storage_key,omitempty"`
	Stored      bool            `json:"stored"`
	Rejected    string          `json:"rejected,omitempty"`
}

// NormalizedEmail is the canonical parsed form of one fetched message.
// Immutable after the parser and attachment processor have run; ownership
// passes to the dedup cache and then to the ticket sink.
type NormalizedEmail struct {
	MessageID    string             `json:"message_id,omitempty"`
	Mailbox      string             `json:"mailbox"`
	Folder       string             `json:"folder"`
	UID          uint32             `json:"uid"`
	From         Address            `json:"from"`
	To           []Address          `json:"to"`
	Subject      string             `json:"subject"`
	Body         string             `json:"body"`
	BodyFromHTML bool               `json:"body_from_html,omitempty"`
	ContentHash  string             `json:"content_hash"`
	Type         MessageType        `json:"type"`
	Urgency      int                `json:"urgency"`
	ArrivedAt    time.Time          `json:"arrived_at"`
	Attachments  []AttachmentRecord `json:"attachments"`
}

// Classification is filled in downstream by the ML workers. The pipeline
// only carries the placeholder.
type Classification struct {
	Category  string `json:"category,omitempty"`
	Sentiment string `json:"sentiment,omitempty"`
	Priority  string `json:"priority,omitempty"`
}

// TicketRecord is the record handed to the ticket sink.
//
// This struct's JSON serialisation MUST stay compatible with the ticket
// worker's create_ticket_from_email task payload; the Python side
// deserialises it via TicketRecord.from_dict().
type TicketRecord struct {
	NormalizedEmail

	IsDuplicate    bool            `json:"is_duplicate"`
	DuplicateOfKey string          `json:"duplicate_of_key,omitempty"`
	Classification *Classification `json:"classification"`
	IngestedAt     string          `json:"ingested_at"`
}

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

package config

import (
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
mailboxes:
  - name: support
    provider: gmail
    address: support@example.com
    auth:
      method: password
      password: hunter2
`

// TestParse_Defaults verifies that a minimal config gets the documented
// defaults for batching, dedup and attachment limits.
func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Mailboxes) != 1 {
		t.Fatalf("expected 1 mailbox, got %d", len(cfg.Mailboxes))
	}

	mb := cfg.Mailboxes[0]
	if mb.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want 50", mb.BatchSize)
	}
	if mb.LookbackDays != 30 {
		t.Errorf("LookbackDays = %d, want 30", mb.LookbackDays)
	}
	if !mb.TLS {
		t.Error("TLS should default to true")
	}
	if _, ok := mb.Folders["INBOX"]; !ok {
		t.Error("expected INBOX folder default when none configured")
	}

	if cfg.MaxEmailsPerSession != 1000 {
		t.Errorf("MaxEmailsPerSession = %d, want 1000", cfg.MaxEmailsPerSession)
	}
	if cfg.Workers != 3 {
		t.Errorf("Workers = %d, want 3", cfg.Workers)
	}
	if cfg.Dedup.Capacity != 10000 {
		t.Errorf("Dedup.Capacity = %d, want 10000", cfg.Dedup.Capacity)
	}
	if cfg.Dedup.TTL != 7*24*time.Hour {
		t.Errorf("Dedup.TTL = %v, want 168h", cfg.Dedup.TTL)
	}
	if cfg.Dedup.FuzzyThreshold != 0.9 {
		t.Errorf("Dedup.FuzzyThreshold = %v, want 0.9", cfg.Dedup.FuzzyThreshold)
	}
	if cfg.Attachments.MaxFileBytes != 25*1024*1024 {
		t.Errorf("MaxFileBytes = %d, want 25 MiB", cfg.Attachments.MaxFileBytes)
	}
	if cfg.Attachments.MaxTotalBytes != 100*1024*1024 {
		t.Errorf("MaxTotalBytes = %d, want 100 MiB", cfg.Attachments.MaxTotalBytes)
	}
	if cfg.Attachments.Storage != "filesystem" {
		t.Errorf("Attachments.Storage = %q, want filesystem", cfg.Attachments.Storage)
	}
}

// TestParse_EnvExpansion verifies ${VAR} references in the YAML are expanded
// from the environment before parsing.
func TestParse_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_IMAP_PASSWORD", "s3cret")

	yaml := `
mailboxes:
  - name: support
    provider: outlook
    address: support@example.com
    auth:
      method: password
      password: ${TEST_IMAP_PASSWORD}
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := cfg.Mailboxes[0].Auth.Password; got != "s3cret" {
		t.Errorf("password = %q, want expanded env value", got)
	}
}

// TestParse_UnknownProvider verifies that an unrecognized provider tag is a
// hard configuration error rather than a silent fallback.
func TestParse_UnknownProvider(t *testing.T) {
	yaml := `
mailboxes:
  - name: support
    provider: protonmail
    address: support@example.com
    auth:
      method: password
      password: x
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected error for unknown provider, got nil")
	}
	if !strings.Contains(err.Error(), "unknown provider") {
		t.Errorf("error = %v, want mention of unknown provider", err)
	}
}

// TestParse_CustomRequiresHost verifies that provider custom without an
// explicit host and port is rejected.
func TestParse_CustomRequiresHost(t *testing.T) {
	yaml := `
mailboxes:
  - name: internal
    provider: custom
    address: help@corp.example
    auth:
      method: password
      password: x
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected error for custom provider without host, got nil")
	}
}

// TestParse_SkipsMailboxWithoutCredentials verifies that mailboxes whose
// credentials expand to empty strings are skipped, not treated as errors.
func TestParse_SkipsMailboxWithoutCredentials(t *testing.T) {
	yaml := `
mailboxes:
  - name: disabled
    provider: gmail
    address: old@example.com
    auth:
      method: password
      password: ""
  - name: support
    provider: gmail
    address: support@example.com
    auth:
      method: password
      password: x
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Mailboxes) != 1 {
		t.Fatalf("expected 1 mailbox after skipping, got %d", len(cfg.Mailboxes))
	}
	if cfg.Mailboxes[0].Name != "support" {
		t.Errorf("kept mailbox = %q, want support", cfg.Mailboxes[0].Name)
	}
}

// TestParse_NoMailboxes verifies that a config with zero usable mailboxes
// fails loudly.
func TestParse_NoMailboxes(t *testing.T) {
	_, err := Parse([]byte(`mailboxes: []`))
	if err == nil {
		t.Fatal("expected error for empty mailbox list, got nil")
	}
}

// TestParse_OAuth2Validation verifies the oauth2 method requires the full
// client-credentials triple.
func TestParse_OAuth2Validation(t *testing.T) {
	yaml := `
mailboxes:
  - name: support
    provider: outlook
    address: support@example.com
    auth:
      method: oauth2
      client_id: abc
      client_secret: def
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected error for oauth2 without token_url, got nil")
	}
}

// TestParse_FolderPolicies verifies folder policies survive parsing and
// EnabledFolders returns only enabled names in stable order.
func TestParse_FolderPolicies(t *testing.T) {
	yaml := `
mailboxes:
  - name: support
    provider: yahoo
    address: support@example.com
    auth:
      method: password
      password: x
    folders:
      INBOX:
        enabled: true
        process_auto_replies: true
      Support:
        enabled: true
        process_all: true
      Archive:
        enabled: false
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mb := cfg.Mailboxes[0]
	enabled := mb.EnabledFolders()
	if len(enabled) != 2 {
		t.Fatalf("expected 2 enabled folders, got %d: %v", len(enabled), enabled)
	}
	if enabled[0] != "INBOX" || enabled[1] != "Support" {
		t.Errorf("enabled folders = %v, want [INBOX Support]", enabled)
	}
	if !mb.Folders["INBOX"].ProcessAutoReplies {
		t.Error("INBOX should carry process_auto_replies")
	}
	if !mb.Folders["Support"].ProcessAll {
		t.Error("Support should carry process_all")
	}
}

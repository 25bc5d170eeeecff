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

import "testing"

// TestNormalizeSubject verifies reply/forward prefixes are stripped
// repeatedly and punctuation is dropped.
func TestNormalizeSubject(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Payment issue", "payment issue"},
		{"Re: Payment issue", "payment issue"},
		{"RE: FWD: Payment issue", "payment issue"},
		{"Fwd:Re: payment   issue!!!", "payment issue"},
		{"  URGENT: Server down  ", "urgent server down"},
		{"", ""},
	}

	for _, c := range cases {
		if got := NormalizeSubject(c.in); got != c.want {
			t.Errorf("NormalizeSubject(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

// TestSubjectTokens verifies tokenization of the normalized subject.
func TestSubjectTokens(t *testing.T) {
	tokens := SubjectTokens("Re: Payment issue")
	if len(tokens) != 2 || tokens[0] != "payment" || tokens[1] != "issue" {
		t.Errorf("SubjectTokens = %v, want [payment issue]", tokens)
	}
}

// TestContentHash_StableAcrossWhitespace verifies that trivial whitespace,
// case and punctuation differences do not change the content hash.
func TestContentHash_StableAcrossWhitespace(t *testing.T) {
	a := ContentHash("alice@example.com", "Payment issue", "My card was charged twice.")
	b := ContentHash("Alice@Example.COM", "payment  issue", "My card was  charged twice")

	if a != b {
		t.Errorf("hashes differ for trivially different inputs:\n a=%s\n b=%s", a, b)
	}
	if a == "" {
		t.Error("hash should not be empty")
	}
}

// TestContentHash_DiffersOnSender verifies the sender participates in
// the hash.
func TestContentHash_DiffersOnSender(t *testing.T) {
	a := ContentHash("alice@example.com", "Payment issue", "body")
	b := ContentHash("bob@example.com", "Payment issue", "body")

	if a == b {
		t.Error("hashes should differ when the sender differs")
	}
}

// TestCleanText verifies line ending normalization and blank line
// collapsing.
func TestCleanText(t *testing.T) {
	in := "line one\r\n\r\n\r\n\r\nline\ttwo  three\r\n"
	want := "line one\n\nline two three"

	if got := cleanText(in); got != want {
		t.Errorf("cleanText = %q, want %q", got, want)
	}
}

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

package mailclient

import (
	"fmt"

	"github.com/bcem/mailingest/internal/config"
)

// Profile is the connection profile for one provider: host, port and
// whether the port speaks implicit TLS.
type Profile struct {
	Host string
	Port int
	TLS  bool
}

// Known providers all use implicit TLS on 993. "custom" mailboxes carry
// their own host, port and TLS flag in the configuration.
var providerProfiles = map[string]Profile{
	"gmail":   {Host: "imap.gmail.com", Port: 993, TLS: true},
	"outlook": {Host: "outlook.office365.com", Port: 993, TLS: true},
	"yahoo":   {Host: "imap.mail.yahoo.com", Port: 993, TLS: true},
	"icloud":  {Host: "imap.mail.me.com", Port: 993, TLS: true},
}

// ProfileFor resolves the connection profile for a mailbox.
func ProfileFor(mb config.Mailbox) (Profile, error) {
	if mb.Provider == "custom" {
		return Profile{Host: mb.Host, Port: mb.Port, TLS: mb.TLS}, nil
	}
	profile, ok := providerProfiles[mb.Provider]
	if !ok {
		return Profile{}, fmt.Errorf("no connection profile for provider %q", mb.Provider)
	}
	return profile, nil
}

// Addr returns the host:port dial address.
func (p Profile) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

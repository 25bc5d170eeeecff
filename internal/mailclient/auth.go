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
	"context"
	"fmt"

	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/bcem/mailingest/internal/config"
)

// authenticate logs in with the mailbox's configured method: plain IMAP
// LOGIN, or a client-credentials OAuth2 token presented via SASL
// OAUTHBEARER (the flow Gmail and Office 365 expect for service
// accounts).
func authenticate(ctx context.Context, client *imapclient.Client, mb config.Mailbox, profile Profile) error {
	switch mb.Auth.Method {
	case "", "password":
		if err := client.Login(mb.Address, mb.Auth.Password).Wait(); err != nil {
			return &AuthError{Mailbox: mb.Name, Err: err}
		}

	case "oauth2":
		creds := &clientcredentials.Config{
			ClientID:     mb.Auth.ClientID,
			ClientSecret: mb.Auth.ClientSecret,
			TokenURL:     mb.Auth.TokenURL,
			Scopes:       mb.Auth.Scopes,
		}
		token, err := creds.Token(ctx)
		if err != nil {
			return &AuthError{Mailbox: mb.Name, Err: fmt.Errorf("fetching oauth2 token: %w", err)}
		}

		saslClient := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: mb.Address,
			Token:    token.AccessToken,
			Host:     profile.Host,
			Port:     profile.Port,
		})
		if err := client.Authenticate(saslClient); err != nil {
			return &AuthError{Mailbox: mb.Name, Err: err}
		}

	default:
		return &AuthError{Mailbox: mb.Name, Err: fmt.Errorf("unsupported auth method %q", mb.Auth.Method)}
	}
	return nil
}

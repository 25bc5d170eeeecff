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
	"errors"
	"fmt"
)

// AuthError means the server rejected our credentials. Not retryable
// within a run; the operator has to fix the configuration.
type AuthError struct {
	Mailbox string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Mailbox, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError wraps a failed protocol operation: dial, search, fetch,
// store. Retryable.
type NetworkError struct {
	Op   string
	Addr string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TLSError means the TLS handshake or certificate verification failed.
type TLSError struct {
	Addr string
	Err  error
}

func (e *TLSError) Error() string {
	return fmt.Sprintf("tls handshake with %s: %v", e.Addr, e.Err)
}

func (e *TLSError) Unwrap() error { return e.Err }

// NoSuchFolderError means a configured folder does not exist on the
// server.
type NoSuchFolderError struct {
	Mailbox string
	Folder  string
}

func (e *NoSuchFolderError) Error() string {
	return fmt.Sprintf("no such folder %q in mailbox %s", e.Folder, e.Mailbox)
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsNetwork reports whether err is a transient network failure.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsTLS reports whether err is a TLS failure.
func IsTLS(err error) bool {
	var te *TLSError
	return errors.As(err, &te)
}

// IsNoSuchFolder reports whether err names a missing folder.
func IsNoSuchFolder(err error) bool {
	var fe *NoSuchFolderError
	return errors.As(err, &fe)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/awnumar/memguard"
)

// ErrNoAPIKey is returned when a request needs a key but none was configured.
var ErrNoAPIKey = errors.New("api key not configured")

// APIKey keeps the engine credential sealed in a memguard enclave.
//
// # Description
//
// The plaintext only exists inside a locked buffer for the few microseconds
// it takes to set an Authorization header. The source slice passed to
// NewAPIKey is wiped by memguard.
//
// # Thread Safety
//
// Safe for concurrent use; every Open yields an independent buffer.
type APIKey struct {
	enclave *memguard.Enclave
}

// NewAPIKey seals raw. An empty raw value yields a key that reports
// Present() == false.
func NewAPIKey(raw string) *APIKey {
	if raw == "" {
		return &APIKey{}
	}
	return &APIKey{enclave: memguard.NewEnclave([]byte(raw))}
}

// Present reports whether a key was configured.
func (k *APIKey) Present() bool {
	return k != nil && k.enclave != nil
}

// Authorize sets "Authorization: Bearer <key>" on h.
func (k *APIKey) Authorize(h http.Header) error {
	if !k.Present() {
		return ErrNoAPIKey
	}
	buf, err := k.enclave.Open()
	if err != nil {
		return fmt.Errorf("open api key enclave: %w", err)
	}
	defer buf.Destroy()
	h.Set("Authorization", "Bearer "+buf.String())
	return nil
}

// AuthTransport injects the API key into every outbound request.
//
// It lets third-party clients (go-openai) share the sealed key without ever
// receiving it as a plain string.
type AuthTransport struct {
	Key  *APIKey
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper. The caller's request is cloned,
// never modified.
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	out := req.Clone(req.Context())
	if err := t.Key.Authorize(out.Header); err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}
	return base.RoundTrip(out)
}

// NewHTTPClient returns an http.Client that authenticates with key.
func NewHTTPClient(key *APIKey, base http.RoundTripper) *http.Client {
	return &http.Client{Transport: &AuthTransport{Key: key, Base: base}}
}

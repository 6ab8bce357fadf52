// Package auth validates provider credentials before an import may proceed.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jyang234/taskport/internal/provider"
	"github.com/jyang234/taskport/internal/registry"
)

// Auth error kinds.
const (
	KindEmpty       = "empty"       // blank credential, rejected without a network call
	KindRejected    = "rejected"    // provider answered 401/403
	KindUnreachable = "unreachable" // transport failure or 5xx, retryable
)

// Error reports a failed credential validation.
type Error struct {
	Kind string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s: %v", e.Kind, e.Err)
	}
	return "auth " + e.Kind
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient; the wizard lets the
// user retry the auth step without re-entering anything.
func (e *Error) Retryable() bool { return e.Kind == KindUnreachable }

// ValidatedCredential wraps a secret that passed validation, plus the account
// identifier the provider reported for it.
type ValidatedCredential struct {
	secret    string
	AccountID string
}

// Secret returns the raw credential for use in provider requests. Never log
// this; use Masked for anything user-visible.
func (c *ValidatedCredential) Secret() string { return c.secret }

// Masked returns a display-safe preview of the secret.
func (c *ValidatedCredential) Masked() string { return MaskSecret(c.secret) }

// MaskSecret renders a credential as a short preview: first and last two
// characters with the middle elided. Short secrets are fully elided.
func MaskSecret(s string) string {
	if len(s) <= 6 {
		return "******"
	}
	return s[:2] + "****" + s[len(s)-2:]
}

// Validator checks credentials against providers.
type Validator struct {
	// Timeout bounds the one-shot probe request.
	Timeout time.Duration
}

// NewValidator returns a validator with the default 10s probe timeout.
func NewValidator() *Validator {
	return &Validator{Timeout: 10 * time.Second}
}

// Validate checks that credential is usable with the given adapter.
// Empty credentials fail immediately with no network call. Providers without
// authentication (csv) short-circuit to success.
func (v *Validator) Validate(ctx context.Context, desc registry.Descriptor, adapter provider.Adapter, credential string) (*ValidatedCredential, error) {
	if desc.AuthMethod == registry.AuthNone {
		account, err := adapter.Authenticate(ctx, credential)
		if err != nil {
			// Local adapters should not fail here, but classify anyway.
			return nil, classify(err)
		}
		return &ValidatedCredential{secret: credential, AccountID: account}, nil
	}

	if strings.TrimSpace(credential) == "" {
		return nil, &Error{Kind: KindEmpty}
	}

	probeCtx, cancel := context.WithTimeout(ctx, v.Timeout)
	defer cancel()

	account, err := adapter.Authenticate(probeCtx, credential)
	if err != nil {
		return nil, classify(err)
	}
	return &ValidatedCredential{secret: credential, AccountID: account}, nil
}

// classify maps provider errors onto the auth taxonomy: 401/403 means the
// credential itself was refused, everything else is treated as the provider
// being unreachable (and therefore worth retrying).
func classify(err error) *Error {
	var pe *provider.Error
	if errors.As(err, &pe) && pe.Kind == provider.KindUnauthorized {
		return &Error{Kind: KindRejected, Err: err}
	}
	return &Error{Kind: KindUnreachable, Err: err}
}

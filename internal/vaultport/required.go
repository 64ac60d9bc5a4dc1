package vaultport

import (
	"context"
	"fmt"

	"github.com/estuary/test-probe/internal/model"
)

// Vault is the subset of ports.Vault RequiredFields depends on, kept
// local so this package never imports ports.
type Vault interface {
	FetchCredentials(ctx context.Context, id model.TestId, directives []model.TopicDirective) ([]model.Credentials, error)
}

// RequiredFields wraps a Vault adapter, enforcing that the credential map
// returned for every directive contains at least the configured required
// set (spec §3, §4.3 phase 2, §4.8: "missing-required-field is a hard
// error"). The required set is declared by the vault's own configuration,
// not by topic, so it applies uniformly to every directive's result.
type RequiredFields struct {
	inner    Vault
	required []string
}

// WithRequiredFields wraps inner so FetchCredentials fails with
// model.ErrVault when any returned credential map lacks one of required.
// An empty required set makes this a no-op passthrough.
func WithRequiredFields(inner Vault, required []string) *RequiredFields {
	return &RequiredFields{inner: inner, required: required}
}

func (r *RequiredFields) FetchCredentials(ctx context.Context, id model.TestId, directives []model.TopicDirective) ([]model.Credentials, error) {
	out, err := r.inner.FetchCredentials(ctx, id, directives)
	if err != nil {
		return nil, err
	}
	for i, creds := range out {
		for _, field := range r.required {
			if _, ok := creds[field]; !ok {
				return nil, fmt.Errorf("%w: credentials for topic %q missing required field %q", model.ErrVault, directives[i].Topic, field)
			}
		}
	}
	return out, nil
}

package vaultport

import (
	"context"
	"fmt"

	vapi "github.com/hashicorp/vault/api"

	"github.com/estuary/test-probe/internal/model"
)

// HashiVault resolves credentials from a HashiCorp Vault KV mount, one
// read per topic directive at path MountPrefix/<topic>. Every field of
// the returned secret becomes a Credentials entry.
type HashiVault struct {
	client      *vapi.Client
	MountPrefix string
}

func NewHashiVault(client *vapi.Client, mountPrefix string) *HashiVault {
	if mountPrefix == "" {
		mountPrefix = "secret/data"
	}
	return &HashiVault{client: client, MountPrefix: mountPrefix}
}

func (h *HashiVault) FetchCredentials(ctx context.Context, id model.TestId, directives []model.TopicDirective) ([]model.Credentials, error) {
	out := make([]model.Credentials, 0, len(directives))
	for _, d := range directives {
		path := fmt.Sprintf("%s/%s", h.MountPrefix, d.Topic)
		secret, err := h.client.Logical().ReadWithContext(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %q: %v", model.ErrVault, path, err)
		}
		if secret == nil || secret.Data == nil {
			return nil, fmt.Errorf("%w: no secret at %q for topic %q", model.ErrVault, path, d.Topic)
		}
		raw := secret.Data
		if nested, ok := secret.Data["data"].(map[string]interface{}); ok {
			raw = nested
		}
		creds := make(model.Credentials, len(raw))
		for k, v := range raw {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%w: non-string field %q at %q", model.ErrVault, k, path)
			}
			creds[k] = s
		}
		out = append(out, creds)
	}
	return out, nil
}

package vaultport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/test-probe/internal/model"
)

func TestLocalFetchCredentialsReturnsOneEntryPerDirective(t *testing.T) {
	v := NewLocal(map[string]model.Credentials{
		"orders": {"username": "alice", "password": "secret"},
		"events": {"apiKey": "k-123"},
	})
	directives := []model.TopicDirective{
		{Topic: "orders", Role: model.RoleProducer},
		{Topic: "events", Role: model.RoleConsumer},
	}

	creds, err := v.FetchCredentials(context.Background(), model.NewTestId(), directives)
	require.NoError(t, err)
	require.Len(t, creds, 2)
	require.Equal(t, "alice", creds[0]["username"])
	require.Equal(t, "k-123", creds[1]["apiKey"])
}

func TestLocalFetchCredentialsMissingTopicIsVaultError(t *testing.T) {
	v := NewLocal(map[string]model.Credentials{})
	directives := []model.TopicDirective{{Topic: "unknown", Role: model.RoleProducer}}

	_, err := v.FetchCredentials(context.Background(), model.NewTestId(), directives)
	require.Error(t, err)
	require.True(t, errors.Is(err, model.ErrVault))
}

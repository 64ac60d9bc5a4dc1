package vaultport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/test-probe/internal/model"
)

func TestRequiredFieldsPassesThroughWhenAllPresent(t *testing.T) {
	v := WithRequiredFields(NewLocal(map[string]model.Credentials{
		"orders": {"username": "alice", "password": "secret"},
	}), []string{"username", "password"})
	directives := []model.TopicDirective{{Topic: "orders", Role: model.RoleProducer}}

	creds, err := v.FetchCredentials(context.Background(), model.NewTestId(), directives)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	require.Equal(t, "alice", creds[0]["username"])
}

func TestRequiredFieldsFailsWhenFieldMissing(t *testing.T) {
	v := WithRequiredFields(NewLocal(map[string]model.Credentials{
		"orders": {"username": "alice"}, // "password" deliberately missing.
	}), []string{"username", "password"})
	directives := []model.TopicDirective{{Topic: "orders", Role: model.RoleProducer}}

	_, err := v.FetchCredentials(context.Background(), model.NewTestId(), directives)
	require.Error(t, err)
	require.True(t, errors.Is(err, model.ErrVault))
}

func TestRequiredFieldsEmptySetIsPassthrough(t *testing.T) {
	v := WithRequiredFields(NewLocal(map[string]model.Credentials{
		"orders": {},
	}), nil)
	directives := []model.TopicDirective{{Topic: "orders", Role: model.RoleProducer}}

	creds, err := v.FetchCredentials(context.Background(), model.NewTestId(), directives)
	require.NoError(t, err)
	require.Len(t, creds, 1)
}

func TestRequiredFieldsPropagatesInnerError(t *testing.T) {
	v := WithRequiredFields(NewLocal(map[string]model.Credentials{}), []string{"username"})
	directives := []model.TopicDirective{{Topic: "unknown", Role: model.RoleProducer}}

	_, err := v.FetchCredentials(context.Background(), model.NewTestId(), directives)
	require.Error(t, err)
	require.True(t, errors.Is(err, model.ErrVault))
}

package ports

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/test-probe/internal/storage"
)

func TestBuildLocalDefaultsProduceUsablePorts(t *testing.T) {
	p, err := Build(context.Background(), Settings{
		StorageProvider: "local",
		ScratchBase:     t.TempDir(),
		VaultProvider:   "local",
		SchemaBackend:   "raw",
	})
	require.NoError(t, err)
	require.NotNil(t, p.Storage)
	require.NotNil(t, p.Vault)
	require.NotNil(t, p.BrokerFactory)
	require.NotNil(t, p.Codec)
	_, ok := p.Storage.(*storage.Local)
	require.True(t, ok)
}

func TestBuildUnknownProvidersAggregateErrors(t *testing.T) {
	_, err := Build(context.Background(), Settings{
		StorageProvider: "nope",
		VaultProvider:   "nope",
		SchemaBackend:   "nope",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown storage provider")
	require.Contains(t, err.Error(), "unknown vault provider")
	require.Contains(t, err.Error(), "unknown schema backend")
}

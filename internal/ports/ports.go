// Package ports defines the Storage Port and Vault Port contracts of spec
// §4.7/§4.8, and the Ports bundle that threads concrete adapters through
// the actor hierarchy (spec §9 Design Notes: "a small Ports value ...
// threaded explicitly; each component receives only the ports it needs.
// Avoid globals.").
package ports

import (
	"context"

	"github.com/estuary/test-probe/internal/broker"
	"github.com/estuary/test-probe/internal/codec"
	"github.com/estuary/test-probe/internal/model"
	"github.com/estuary/test-probe/internal/workspace"
)

// Storage fetches a bucket into a scratch workspace and uploads an
// evidence tree back (spec §4.7).
type Storage interface {
	Fetch(ctx context.Context, id model.TestId, bucket string) (workspace.Workspace, error)
	Upload(ctx context.Context, id model.TestId, bucket, evidenceDir string) error
}

// Vault resolves per-topic credentials (spec §4.8).
type Vault interface {
	FetchCredentials(ctx context.Context, id model.TestId, directives []model.TopicDirective) ([]model.Credentials, error)
}

// Ports bundles every adapter an Execution needs, resolved once at
// startup by Build.
type Ports struct {
	Storage       Storage
	Vault         Vault
	BrokerFactory broker.Factory
	Codec         *codec.Codec
}

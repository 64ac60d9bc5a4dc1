// Package vaultport provides Vault Port adapters (spec §4.8). Local is a
// dev/test adapter backed by a static in-process map; HashiCorp and AWS
// are the production adapters.
package vaultport

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/estuary/test-probe/internal/model"
)

// Local resolves credentials from a static map keyed by topic, set up
// ahead of time (env vars, a config file, or a test fixture). It never
// performs I/O.
type Local struct {
	ByTopic map[string]model.Credentials
}

func NewLocal(byTopic map[string]model.Credentials) *Local {
	return &Local{ByTopic: byTopic}
}

// LoadLocalFile reads a YAML file mapping topic name to its credentials,
// e.g.:
//
//	cmds:
//	  username: u
//	  password: p
func LoadLocalFile(path string) (map[string]model.Credentials, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading local vault file %q: %w", path, err)
	}
	var byTopic map[string]model.Credentials
	if err := yaml.Unmarshal(raw, &byTopic); err != nil {
		return nil, fmt.Errorf("parsing local vault file %q: %w", path, err)
	}
	return byTopic, nil
}

func (l *Local) FetchCredentials(ctx context.Context, id model.TestId, directives []model.TopicDirective) ([]model.Credentials, error) {
	out := make([]model.Credentials, 0, len(directives))
	for _, d := range directives {
		creds, ok := l.ByTopic[d.Topic]
		if !ok {
			return nil, fmt.Errorf("%w: no local credentials configured for topic %q", model.ErrVault, d.Topic)
		}
		out = append(out, creds)
	}
	return out, nil
}

// Package manifest parses the topic-directive manifest carried in a test
// bucket (spec §6 "Bucket layout") into model.TopicDirective values,
// enforcing the validation rules from spec §4.3 phase 1.
package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/estuary/test-probe/internal/model"
)

type wireFilter struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

type wireTopic struct {
	Topic            string       `yaml:"topic"`
	Role             string       `yaml:"role"`
	BootstrapServers *string      `yaml:"bootstrapServers"`
	Principal        string       `yaml:"principal"`
	EventFilters     []wireFilter `yaml:"eventFilters"`
}

type wireManifest struct {
	Topics []wireTopic `yaml:"topics"`
}

// Load reads and validates the manifest at path, returning one
// TopicDirective per entry in declaration order.
func Load(path string) ([]model.TopicDirective, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return Parse(raw)
}

// Parse validates and decodes manifest bytes. Exported separately from
// Load so tests can exercise validation without touching a filesystem.
func Parse(raw []byte) ([]model.TopicDirective, error) {
	var wm wireManifest
	if err := yaml.Unmarshal(raw, &wm); err != nil {
		return nil, fmt.Errorf("%w: parsing manifest: %v", model.ErrBucket, err)
	}
	if len(wm.Topics) == 0 {
		return nil, fmt.Errorf("%w: manifest declares no topics", model.ErrBucket)
	}

	seen := make(map[string]bool, len(wm.Topics))
	directives := make([]model.TopicDirective, 0, len(wm.Topics))
	for _, t := range wm.Topics {
		if t.Topic == "" {
			return nil, fmt.Errorf("%w: manifest entry missing topic name", model.ErrBucket)
		}
		if seen[t.Topic] {
			return nil, fmt.Errorf("%w: duplicate topic name %q", model.ErrBucket, t.Topic)
		}
		seen[t.Topic] = true

		var bootstrapServers string
		if t.BootstrapServers != nil {
			if *t.BootstrapServers == "" {
				return nil, fmt.Errorf("%w: topic %q has empty bootstrapServers", model.ErrBucket, t.Topic)
			}
			bootstrapServers = *t.BootstrapServers
		}

		role := model.RoleProducer
		switch t.Role {
		case "", "Producer":
			role = model.RoleProducer
		case "Consumer":
			role = model.RoleConsumer
		default:
			return nil, fmt.Errorf("%w: topic %q has unknown role %q", model.ErrBucket, t.Topic, t.Role)
		}

		filters := make([]model.EventFilter, 0, len(t.EventFilters))
		for _, f := range t.EventFilters {
			filters = append(filters, model.EventFilter{EventType: f.Key, PayloadVersion: f.Value})
		}

		directives = append(directives, model.TopicDirective{
			Topic:            t.Topic,
			Role:             role,
			BootstrapServers: bootstrapServers,
			EventFilters:     filters,
			Principal:        t.Principal,
		})
	}
	return directives, nil
}

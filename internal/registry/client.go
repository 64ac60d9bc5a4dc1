// Package registry is a minimal schema-registry HTTP client: given a
// subject, it resolves the latest schema id and schema text. No
// third-party schema-registry client library appears anywhere in the
// retrieval pack (the closest relative, axonops-axonops-schema-registry,
// is a registry *server*); this client is therefore hand-rolled against
// the standard Confluent-compatible REST contract, kept deliberately thin
// per spec §9 ("keep the wire framing explicit in-repo").
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Registerer is satisfied by the JSON and Avro codec backends: SchemaID
// feeds the resolved schema text straight into whichever backend will
// need it to encode/decode, so callers never fetch schema text twice.
type Registerer interface {
	Register(id int, schemaText string) error
}

type Client struct {
	baseURL string
	http    *http.Client
	backend Registerer // optional; nil for Protobuf/Raw backends

	mu    sync.RWMutex
	cache map[string]int
}

// New builds a Client. backend may be nil when the chosen codec backend
// doesn't need schema text up front (Protobuf registers message types in
// code; Raw doesn't use a registry at all).
func New(baseURL string, backend Registerer) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		backend: backend,
		cache:   make(map[string]int),
	}
}

type subjectVersion struct {
	Subject string `json:"subject"`
	Version int    `json:"version"`
	ID      int    `json:"id"`
	Schema  string `json:"schema"`
}

// Latest fetches the latest registered schema (id + schema text) for
// subject.
func (c *Client) Latest(ctx context.Context, subject string) (id int, schemaText string, err error) {
	url := fmt.Sprintf("%s/subjects/%s/versions/latest", c.baseURL, subject)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", fmt.Errorf("building registry request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("registry request for subject %q: %w", subject, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("registry returned status %d for subject %q", resp.StatusCode, subject)
	}
	var sv subjectVersion
	if err := json.NewDecoder(resp.Body).Decode(&sv); err != nil {
		return 0, "", fmt.Errorf("decoding registry response for subject %q: %w", subject, err)
	}
	return sv.ID, sv.Schema, nil
}

// SchemaID implements codec.SchemaLookup: it resolves the latest schema id
// for subject, registering the schema text with backend (if configured)
// the first time a subject is seen, and caching the id for the life of
// the process — a subject's schema id never changes once a version is
// assigned (spec §4.6).
func (c *Client) SchemaID(subject string) (int, error) {
	c.mu.RLock()
	id, ok := c.cache[subject]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	id, schemaText, err := c.Latest(context.Background(), subject)
	if err != nil {
		return 0, err
	}
	if c.backend != nil {
		if err := c.backend.Register(id, schemaText); err != nil {
			return 0, fmt.Errorf("registering schema %d for subject %q: %w", id, subject, err)
		}
	}

	c.mu.Lock()
	c.cache[subject] = id
	c.mu.Unlock()
	return id, nil
}

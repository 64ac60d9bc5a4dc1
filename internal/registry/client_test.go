package registry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	registered map[int]string
}

func (f *fakeBackend) Register(id int, schemaText string) error {
	f.registered[id] = schemaText
	return nil
}

func TestSchemaIDRegistersWithBackendAndCaches(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "/subjects/cmds-Envelope/versions/latest", r.URL.Path)
		_ = json.NewEncoder(w).Encode(subjectVersion{
			Subject: "cmds-Envelope",
			Version: 1,
			ID:      7,
			Schema:  `{"type":"object"}`,
		})
	}))
	defer srv.Close()

	backend := &fakeBackend{registered: make(map[int]string)}
	c := New(srv.URL, backend)

	id, err := c.SchemaID("cmds-Envelope")
	require.NoError(t, err)
	require.Equal(t, 7, id)
	require.Equal(t, `{"type":"object"}`, backend.registered[7])

	id, err = c.SchemaID("cmds-Envelope")
	require.NoError(t, err)
	require.Equal(t, 7, id)
	require.Equal(t, 1, calls, "second lookup should be served from cache")
}

func TestSchemaIDSurfacesRegistryErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	_, err := c.SchemaID("missing-Envelope")
	require.Error(t, err)
}

package index

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/models"
)

func newMeili(t *testing.T, handler http.Handler) *MeiliIndex {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := common.NewDefaultConfig()
	cfg.Lexical.URL = server.URL
	cfg.Lexical.AdminKey = "test-key"
	cfg.Lexical.IndexName = "documents"

	return NewMeiliIndex(&cfg.Lexical, common.GetLogger())
}

func TestEnsureIndexCreatesAndConfigures(t *testing.T) {
	var paths []string
	idx := newMeili(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusAccepted)
	}))

	require.NoError(t, idx.EnsureIndex(context.Background()))
	assert.Equal(t, []string{
		"POST /indexes",
		"PATCH /indexes/documents/settings",
	}, paths)
}

func TestEnsureIndexAlreadyExists(t *testing.T) {
	idx := newMeili(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"code":"index_already_exists"}`))
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))

	require.NoError(t, idx.EnsureIndex(context.Background()))
}

func TestUpsertSendsRecordArray(t *testing.T) {
	var gotRecords []models.DocumentRecord
	idx := newMeili(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/indexes/documents/documents", r.URL.Path)
		require.Equal(t, "id", r.URL.Query().Get("primaryKey"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRecords))
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := &models.DocumentRecord{ID: "job-1", FileName: "a.pdf", DocType: models.DocTypeInvoice}
	require.NoError(t, idx.Upsert(context.Background(), rec))
	require.Len(t, gotRecords, 1)
	assert.Equal(t, "job-1", gotRecords[0].ID)
}

func TestUpsertErrorKinds(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantKind   models.Kind
	}{
		{"server error is retryable", http.StatusInternalServerError, models.KindTransient},
		{"bad document is permanent", http.StatusBadRequest, models.KindPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := newMeili(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))

			err := idx.Upsert(context.Background(), &models.DocumentRecord{ID: "job-1"})
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, models.KindOf(err))
		})
	}
}

func TestUpsertOutageIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	cfg := common.NewDefaultConfig()
	cfg.Lexical.URL = server.URL
	idx := NewMeiliIndex(&cfg.Lexical, common.GetLogger())

	err := idx.Upsert(context.Background(), &models.DocumentRecord{ID: "job-1"})
	require.Error(t, err)
	assert.Equal(t, models.KindTransient, models.KindOf(err))
}

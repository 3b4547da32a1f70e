package reporting

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"consulting-crm/internal/common/errors"
	"consulting-crm/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	body   []byte
}

// fakeElasticsearch answers like a cluster would; the product header is
// required by the v8 client.
func fakeElasticsearch(t *testing.T, status func(r *http.Request) int) (*elasticsearch.Client, *[]recorded) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, recorded{method: r.Method, path: r.URL.Path, body: body})
		mu.Unlock()

		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status(r))
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return client, &reqs
}

func approvedApp() models.Application {
	amount := decimal.RequireFromString("8.50")
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	tl := models.NewTimeline(
		models.TimelineEntry{Status: models.StatusDraft, Note: "Application created"},
		models.TimelineEntry{Status: models.StatusApproved, Note: "Application approved for 8.50"},
	)
	return models.Application{
		ApplicationID:  "APP-20240301-ABCD1234",
		Status:         models.StatusApproved,
		Client:         models.ClientRef{ID: "client-1", Name: "Acme"},
		AssignedTo:     "sales-1",
		AppliedAmount:  decimal.NewFromInt(10),
		ApprovedAmount: &amount,
		ApprovalDate:   &day,
		Timeline:       tl,
		Version:        3,
	}
}

func TestNewDocument(t *testing.T) {
	doc := NewDocument(approvedApp())
	assert.Equal(t, "APPROVED", doc.Status)
	assert.Equal(t, "10", doc.AppliedAmount)
	assert.Equal(t, "8.5", doc.ApprovedAmount)
	assert.Equal(t, 2, doc.TimelineLength)
	assert.Equal(t, "Application approved for 8.50", doc.LastNote)
}

func TestIndexApplication(t *testing.T) {
	client, reqs := fakeElasticsearch(t, func(*http.Request) int { return http.StatusCreated })
	idx := NewIndexer(client, "applications")

	require.NoError(t, idx.IndexApplication(context.Background(), approvedApp()))

	require.Len(t, *reqs, 1)
	req := (*reqs)[0]
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "/applications/_doc/APP-20240301-ABCD1234", req.path)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(req.body, &doc))
	assert.Equal(t, "APPROVED", doc["status"])
}

func TestIndexApplication_ErrorResponse(t *testing.T) {
	client, _ := fakeElasticsearch(t, func(*http.Request) int { return http.StatusBadRequest })
	idx := NewIndexer(client, "applications")

	err := idx.IndexApplication(context.Background(), approvedApp())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeIndexingFailed, errors.CodeOf(err))
}

func TestEnsureIndex_CreatesWhenMissing(t *testing.T) {
	client, reqs := fakeElasticsearch(t, func(r *http.Request) int {
		if r.Method == http.MethodHead {
			return http.StatusNotFound
		}
		return http.StatusOK
	})

	require.NoError(t, NewIndexer(client, "").EnsureIndex(context.Background()))
	require.Len(t, *reqs, 2)
	assert.Equal(t, http.MethodPut, (*reqs)[1].method)
	assert.Equal(t, "/applications", (*reqs)[1].path)
	assert.Contains(t, string((*reqs)[1].body), `"status"`)
}

func TestEnsureIndex_ExistingIsNoop(t *testing.T) {
	client, reqs := fakeElasticsearch(t, func(*http.Request) int { return http.StatusOK })

	require.NoError(t, NewIndexer(client, "applications").EnsureIndex(context.Background()))
	assert.Len(t, *reqs, 1)
}

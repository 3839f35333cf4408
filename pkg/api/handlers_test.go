package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/detbench/reviewoor/pkg/config"
	"github.com/detbench/reviewoor/pkg/ingest"
	"github.com/detbench/reviewoor/pkg/query"
	"github.com/detbench/reviewoor/pkg/review"
	"github.com/detbench/reviewoor/pkg/store"
)

const findingJSON = `{
	"project": "-p-",
	"version": "-v-",
	"detector": "-d-",
	"result": "success",
	"runtime": 42.1,
	"number_of_findings": 23,
	"potential_hits": [
		{
			"misuse": "0",
			"rank": "0",
			"target_snippets": [{"first_line_number": 5, "code": "-code-"}],
			"custom1": "-val1-",
			"custom2": "-val2-"
		}
	]
}`

func setupTestServer(t *testing.T) (*server, http.Handler) {
	t.Helper()

	return newTestServer(t, &config.Config{
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			SQLite: config.SQLiteConfig{Path: ":memory:"},
		},
	})
}

func newTestServer(
	t *testing.T, cfg *config.Config,
) (*server, http.Handler) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	st := store.NewStore(log, &cfg.Database)
	require.NoError(t, st.Start(context.Background()))

	t.Cleanup(func() { _ = st.Stop() })

	require.NoError(t, st.SeedViolationTypes(context.Background(),
		[]string{"missing/call"}))
	require.NoError(t, st.SeedReviewers(context.Background(),
		[]string{"alex"}))

	s := &server{
		log:    log,
		cfg:    cfg,
		store:  st,
		ingest: ingest.NewProcessor(log, st),
		query:  query.NewProcessor(log, st),
		review: review.NewAggregator(log, st),
	}

	return s, s.buildRouter()
}

func doRequest(
	t *testing.T, router http.Handler, method, path, body string,
) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	return rec
}

func TestHandleHealth(t *testing.T) {
	_, router := setupTestServer(t)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleUploadRunAndGetRuns(t *testing.T) {
	_, router := setupTestServer(t)

	rec := doRequest(t, router, http.MethodPost,
		"/api/v1/upload/ex2", findingJSON)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var uploaded map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploaded))
	assert.Equal(t, "ex2", uploaded["experiment"])
	assert.Equal(t, "-p-", uploaded["project"])

	rec = doRequest(t, router, http.MethodGet,
		"/api/v1/detectors/-d-/experiments/ex2/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var runs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "ex2", runs[0]["exp"])

	misuses, ok := runs[0]["misuses"].([]any)
	require.True(t, ok)
	require.Len(t, misuses, 1)
}

func TestHandleUploadRun_Validation(t *testing.T) {
	_, router := setupTestServer(t)

	rec := doRequest(t, router, http.MethodPost,
		"/api/v1/upload/ex1", `{"project": "-p-"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPost,
		"/api/v1/upload/ex1", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetMisuse(t *testing.T) {
	_, router := setupTestServer(t)

	rec := doRequest(t, router, http.MethodPost,
		"/api/v1/upload/ex2", findingJSON)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodGet,
		"/api/v1/detectors/-d-/experiments/ex2/projects/-p-/versions/-v-/misuses/0",
		"")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var misuse map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &misuse))
	assert.Equal(t, "0", misuse["misuse"])

	rec = doRequest(t, router, http.MethodGet,
		"/api/v1/detectors/-d-/experiments/ex2/projects/-p-/versions/-v-/misuses/missing",
		"")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleUpdateReview(t *testing.T) {
	s, router := setupTestServer(t)

	misuse, err := s.store.EnsureMisuse(
		context.Background(), "-p-", "-v-", "-m-")
	require.NoError(t, err)
	require.Equal(t, uint(1), misuse.ID)

	rec := doRequest(t, router, http.MethodPut,
		"/api/v1/misuses/1/reviews/1",
		`{"comment": "-comment-", "hits": [{"hit": "Yes"}, {"hit": "No"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Yes", resp["decision"])

	rec = doRequest(t, router, http.MethodGet,
		"/api/v1/misuses/1/reviews/1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var rev map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rev))
	assert.Equal(t, "-comment-", rev["comment"])
	assert.Equal(t, "Yes", rev["decision"])
}

func TestHandleUpdateReview_Errors(t *testing.T) {
	_, router := setupTestServer(t)

	// Unknown misuse.
	rec := doRequest(t, router, http.MethodPut,
		"/api/v1/misuses/999/reviews/1",
		`{"comment": "", "hits": [{"hit": "Yes"}]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Malformed id.
	rec = doRequest(t, router, http.MethodPut,
		"/api/v1/misuses/abc/reviews/1",
		`{"comment": "", "hits": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListViolationTypes(t *testing.T) {
	_, router := setupTestServer(t)

	rec := doRequest(t, router, http.MethodGet,
		"/api/v1/violation-types", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var types []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &types))
	require.Len(t, types, 1)
	assert.Equal(t, "missing/call", types[0]["name"])
}

func TestRateLimitOnUploads(t *testing.T) {
	_, router := newTestServer(t, &config.Config{
		Server: config.ServerConfig{
			RateLimit: config.RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 2,
			},
		},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			SQLite: config.SQLiteConfig{Path: ":memory:"},
		},
	})

	for i := 0; i < 2; i++ {
		rec := doRequest(t, router, http.MethodPost,
			"/api/v1/upload/metadata", `[]`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doRequest(t, router, http.MethodPost,
		"/api/v1/upload/metadata", `[]`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Only the upload group is limited.
	rec = doRequest(t, router, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleUploadMetadata(t *testing.T) {
	_, router := setupTestServer(t)

	rec := doRequest(t, router, http.MethodPost,
		"/api/v1/upload/metadata",
		`[{"project": "-p-", "version": "-v-", "misuse": "-m-",
		   "description": "-desc-",
		   "snippets": [{"first_line_number": 273, "code": "-code-"}],
		   "patterns": []}]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Missing misuse id in a record rejects the upload.
	rec = doRequest(t, router, http.MethodPost,
		"/api/v1/upload/metadata",
		`[{"project": "-p-", "version": "-v-"}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/asaidimu/go-anansi-schema/core/persistence"
	"github.com/asaidimu/go-anansi-schema/memory"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testMasterKey = "master-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	p, err := persistence.NewPersistence(memory.NewMemoryInteractor(logger), &persistence.Options{Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return NewServer(p, testMasterKey, logger)
}

type call struct {
	method  string
	path    string
	body    string
	headers map[string]string
}

func master() map[string]string { return map[string]string{HeaderMasterKey: testMasterKey} }

func do(t *testing.T, s *Server, c call) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(c.method, c.path, strings.NewReader(c.body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	var body map[string]any
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	}
	return w, body
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w, body := do(t, s, call{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))

	w, _ = do(t, s, call{method: http.MethodGet, path: "/health", headers: map[string]string{HeaderRequestID: "req-1"}})
	assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))

	w, _ = do(t, s, call{method: http.MethodGet, path: "/metrics"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "anansi_http_requests_total")
}

func TestSchemaRoutesRequireMaster(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name    string
		headers map[string]string
		status  int
		message string
	}{
		{"anonymous", nil, http.StatusForbidden, "unauthorized: master key is required"},
		{"user", map[string]string{HeaderUserID: "u1"}, http.StatusForbidden, "unauthorized: master key is required"},
		{"wrong key", map[string]string{HeaderMasterKey: "nope"}, http.StatusForbidden, "unauthorized"},
		{"master", master(), http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := do(t, s, call{method: http.MethodGet, path: "/schemas", headers: tt.headers})
			assert.Equal(t, tt.status, w.Code)
			if tt.message != "" {
				assert.Equal(t, float64(119), body["code"])
				assert.Equal(t, tt.message, body["error"])
			}
		})
	}
}

func TestSchemaLifecycle(t *testing.T) {
	s := newTestServer(t)

	w, body := do(t, s, call{method: http.MethodPost, path: "/schemas/Post", headers: master(),
		body: `{"fields": {"title": {"type": "String"}}, "indexes": {"by_title": {"title": 1}}}`})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Post", body["className"])

	w, body = do(t, s, call{method: http.MethodPost, path: "/schemas/Post", headers: master()})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, float64(103), body["code"])
	assert.Equal(t, "Class Post already exists.", body["error"])

	w, body = do(t, s, call{method: http.MethodGet, path: "/schemas/Post", headers: master()})
	require.Equal(t, http.StatusOK, w.Code)
	fields := body["fields"].(map[string]any)
	assert.Equal(t, map[string]any{"type": "String"}, fields["title"])
	assert.Contains(t, body["indexes"], "by_title")

	w, body = do(t, s, call{method: http.MethodPut, path: "/schemas/Post", headers: master(),
		body: `{"fields": {"views": {"type": "Number"}}}`})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, body["fields"], "views")

	w, body = do(t, s, call{method: http.MethodGet, path: "/schemas", headers: master()})
	require.Equal(t, http.StatusOK, w.Code)
	results := body["results"].([]any)
	var names []string
	for _, r := range results {
		entry := r.(map[string]any)
		names = append(names, entry["className"].(string))
		assert.NotContains(t, entry, "indexes")
	}
	assert.Contains(t, names, "Post")

	w, body = do(t, s, call{method: http.MethodGet, path: "/schemas/Post/verify", headers: master()})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["missing"])
	assert.Empty(t, body["undeclared"])

	w, body = do(t, s, call{method: http.MethodDelete, path: "/schemas/Post", headers: master()})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body)

	w, body = do(t, s, call{method: http.MethodGet, path: "/schemas/Post", headers: master()})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Class Post does not exist.", body["error"])
}

func TestSchemaClassNameResolution(t *testing.T) {
	s := newTestServer(t)

	w, body := do(t, s, call{method: http.MethodPost, path: "/schemas/Post", headers: master(), body: `{"className": "Other"}`})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, float64(103), body["code"])
	assert.Equal(t, "Class name mismatch between Other and Post.", body["error"])

	w, body = do(t, s, call{method: http.MethodPost, path: "/schemas", headers: master(), body: `{}`})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, float64(135), body["code"])

	w, body = do(t, s, call{method: http.MethodPost, path: "/schemas", headers: master(), body: `{"className": "Post"}`})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Post", body["className"])

	w, body = do(t, s, call{method: http.MethodPut, path: "/schemas/Post", headers: master(), body: `{"className": "Other"}`})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Class name mismatch between Other and Post.", body["error"])

	w, body = do(t, s, call{method: http.MethodPost, path: "/schemas/Broken", headers: master(), body: `{"fields": `})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, float64(107), body["code"])
}

func TestObjectRoutes(t *testing.T) {
	s := newTestServer(t)

	w, created := do(t, s, call{method: http.MethodPost, path: "/classes/Post", body: `{"title": "hello", "views": 1}`})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := created["objectId"].(string)
	require.NotEmpty(t, id)

	_, _ = do(t, s, call{method: http.MethodPost, path: "/classes/Post", body: `{"title": "other"}`})

	w, got := do(t, s, call{method: http.MethodGet, path: "/classes/Post/" + id})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", got["title"])

	where := url.QueryEscape(`{"title": "hello"}`)
	w, found := do(t, s, call{method: http.MethodGet, path: "/classes/Post?where=" + where})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), found["count"])

	w, counted := do(t, s, call{method: http.MethodGet, path: "/classes/Post?count=1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), counted["count"])

	w, updated := do(t, s, call{method: http.MethodPut, path: "/classes/Post/" + id, body: `{"views": {"__op": "Increment", "amount": 4}}`})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(5), updated["views"])

	w, _ = do(t, s, call{method: http.MethodDelete, path: "/classes/Post/" + id})
	require.Equal(t, http.StatusOK, w.Code)

	w, body := do(t, s, call{method: http.MethodGet, path: "/classes/Post/" + id})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, float64(101), body["code"])
	assert.Equal(t, "Object not found.", body["error"])
}

func TestObjectRouteErrors(t *testing.T) {
	s := newTestServer(t)

	w, body := do(t, s, call{method: http.MethodPost, path: "/classes/Post", body: `[1, 2]`})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, float64(107), body["code"])

	w, body = do(t, s, call{method: http.MethodGet, path: "/classes/Post?where=notjson"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, float64(102), body["code"])

	w, body = do(t, s, call{method: http.MethodPost, path: "/classes/Post", body: `{"objectId": "x"}`})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "objectId is an invalid field name.", body["error"])

	_, _ = do(t, s, call{method: http.MethodPost, path: "/schemas/Private", headers: master(),
		body: `{"classLevelPermissions": {"create": {"abcDEF1234": true}}}`})

	w, body = do(t, s, call{method: http.MethodPost, path: "/classes/Private", body: `{}`})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, float64(119), body["code"])

	w, _ = do(t, s, call{method: http.MethodPost, path: "/classes/Private", body: `{}`, headers: map[string]string{HeaderUserID: "zzzzzzzzzz"}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = do(t, s, call{method: http.MethodPost, path: "/classes/Private", body: `{}`, headers: map[string]string{HeaderUserID: "abcDEF1234"}})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

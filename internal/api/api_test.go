package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rawblock/mule-engine/internal/alerts"
	"github.com/rawblock/mule-engine/internal/cache"
	"github.com/rawblock/mule-engine/internal/config"
	"github.com/rawblock/mule-engine/internal/db"
	"github.com/rawblock/mule-engine/internal/events"
	"github.com/rawblock/mule-engine/internal/heuristics"
	"github.com/rawblock/mule-engine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const cycleCSV = "transaction_id,sender_id,receiver_id,amount,timestamp\n" +
	"T1,A,B,1000,2024-03-01 09:00:00\n" +
	"T2,B,C,1000,2024-03-01 10:00:00\n" +
	"T3,C,A,1000,2024-03-01 11:00:00\n"

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*models.SessionDetail
	next     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*models.SessionDetail)}
}

func (s *fakeStore) SaveSession(_ context.Context, filename string, result *models.AnalysisResult) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := fmt.Sprintf("session-%d", s.next)
	s.sessions[id] = &models.SessionDetail{
		SessionSummary: models.SessionSummary{
			ID:              id,
			Filename:        filename,
			TotalAccounts:   result.Summary.TotalAccountsAnalyzed,
			SuspiciousCount: result.Summary.SuspiciousAccountsFlagged,
			RingsDetected:   result.Summary.FraudRingsDetected,
		},
		SuspiciousAccounts: result.SuspiciousAccounts,
		FraudRings:         result.FraudRings,
	}
	return id, nil
}

func (s *fakeStore) ListSessions(context.Context, int) ([]models.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SessionSummary, 0, len(s.sessions))
	for _, d := range s.sessions {
		out = append(out, d.SessionSummary)
	}
	return out, nil
}

func (s *fakeStore) GetSession(_ context.Context, id string) (*models.SessionDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.sessions[id]
	if !ok {
		return nil, db.ErrSessionNotFound
	}
	return d, nil
}

func (s *fakeStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return db.ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *fakeStore) Ping(context.Context) error { return nil }

type fakeCache struct {
	entries     map[string]*cache.Entry
	invalidated []string
}

func (c *fakeCache) Get(_ context.Context, key string) (*cache.Entry, error) {
	return c.entries[key], nil
}

func (c *fakeCache) Put(_ context.Context, key string, entry *cache.Entry) error {
	c.entries[key] = entry
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, sessionID string) error {
	c.invalidated = append(c.invalidated, sessionID)
	return nil
}

type recordingSink struct {
	mu    sync.Mutex
	types []string
}

func (s *recordingSink) Emit(_ context.Context, typ, _ string, _ any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types = append(s.types, typ)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func testDeps(t *testing.T) Deps {
	t.Helper()
	logger := zaptest.NewLogger(t)
	return Deps{
		Analyzer: heuristics.NewAnalyzer(heuristics.DefaultConfig(), logger),
		Server:   config.Default().Server,
		Logger:   logger,
	}
}

func uploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func newRouter(t *testing.T, d Deps) *gin.Engine {
	t.Helper()
	r, stop := SetupRouter(d)
	t.Cleanup(stop)
	return r
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	r := newRouter(t, testDeps(t))

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "disabled", body["database"])
	assert.Equal(t, "disabled", body["cache"])
	assert.Equal(t, "disabled", body["events"])
}

func TestMetricsEndpoint(t *testing.T) {
	r := newRouter(t, testDeps(t))

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mule_engine_websocket_clients")
}

func TestUpload_DetectsCycle(t *testing.T) {
	r := newRouter(t, testDeps(t))

	rec := serve(r, uploadRequest(t, "transactions.csv", cycleCSV))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		SuspiciousAccounts []models.SuspiciousAccount `json:"suspicious_accounts"`
		FraudRings         []models.FraudRing         `json:"fraud_rings"`
		Summary            models.Summary             `json:"summary"`
		SessionID          string                     `json:"session_id"`
		Graph              models.GraphView           `json:"graph"`
		Cached             bool                       `json:"cached"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.FraudRings, 1)
	assert.Equal(t, "RING_001", body.FraudRings[0].RingID)
	assert.Equal(t, "cycle", body.FraudRings[0].PatternType)
	assert.Len(t, body.SuspiciousAccounts, 3)
	assert.Equal(t, 3, body.Summary.TotalAccountsAnalyzed)
	assert.Empty(t, body.SessionID, "no store configured")
	assert.Len(t, body.Graph.Nodes, 3)
	assert.Len(t, body.Graph.Edges, 3)
	assert.False(t, body.Cached)
	assert.Contains(t, rec.Body.String(), `"suspicion_score":40.0`)
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
		status   int
	}{
		{"not a csv", "transactions.xlsx", cycleCSV, http.StatusBadRequest},
		{"empty file", "transactions.csv", "  \n", http.StatusBadRequest},
		{"missing columns", "transactions.csv", "transaction_id,sender_id\nT1,A\n", http.StatusUnprocessableEntity},
		{"no valid rows", "transactions.csv", "transaction_id,sender_id,receiver_id,amount,timestamp\nT1,A,B,x,y\n", http.StatusUnprocessableEntity},
	}

	r := newRouter(t, testDeps(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(r, uploadRequest(t, tt.filename, tt.content))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestUpload_MissingFile(t *testing.T) {
	r := newRouter(t, testDeps(t))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", nil)
	rec := serve(r, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_PersistsCachesAndPublishes(t *testing.T) {
	deps := testDeps(t)
	store := newFakeStore()
	c := &fakeCache{entries: make(map[string]*cache.Entry)}
	sink := &recordingSink{}
	am := alerts.NewAlertManager("info", nil, deps.Logger)
	deps.Sessions, deps.Cache, deps.Events, deps.Alerts = store, c, sink, am
	r := newRouter(t, deps)

	rec := serve(r, uploadRequest(t, "transactions.csv", cycleCSV))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var first struct {
		SessionID string `json:"session_id"`
		Cached    bool   `json:"cached"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Equal(t, "session-1", first.SessionID)
	assert.False(t, first.Cached)
	assert.Len(t, c.entries, 1)
	assert.Equal(t, []string{events.TypeAnalysisCompleted}, sink.types)

	raised := am.GetRecentAlerts(0)
	require.Len(t, raised, 1)
	assert.Equal(t, "RING_001", raised[0].RingID)
	assert.Equal(t, "session-1", raised[0].SessionID)

	rec = serve(r, uploadRequest(t, "again.csv", cycleCSV))
	require.Equal(t, http.StatusOK, rec.Code)
	var second struct {
		SessionID string `json:"session_id"`
		Cached    bool   `json:"cached"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.True(t, second.Cached)
	assert.Equal(t, "session-1", second.SessionID)
	assert.Len(t, store.sessions, 1, "a cache hit does not create a new session")
}

func TestAnalyze_JSON(t *testing.T) {
	r := newRouter(t, testDeps(t))

	body := `{"transactions":[
		{"transaction_id":"T1","sender_id":"A","receiver_id":"B","amount":500,"timestamp":"2024-03-01 09:00:00"},
		{"transaction_id":"T2","sender_id":"B","receiver_id":"C","amount":500,"timestamp":"2024-03-01T10:00:00Z"},
		{"transaction_id":"T3","sender_id":"C","receiver_id":"A","amount":500,"timestamp":"2024-03-01 11:00:00"}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(r, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res models.AnalysisResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.FraudRings, 1)
	assert.Equal(t, []string{"A", "B", "C"}, res.FraudRings[0].MemberAccounts)
}

func TestAnalyze_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed json", `{"transactions":`, http.StatusBadRequest},
		{"empty list", `{"transactions":[]}`, http.StatusBadRequest},
		{"missing sender", `{"transactions":[{"transaction_id":"T1","receiver_id":"B","amount":1,"timestamp":"2024-03-01 09:00:00"}]}`, http.StatusBadRequest},
		{"bad timestamp", `{"transactions":[{"transaction_id":"T1","sender_id":"A","receiver_id":"B","amount":1,"timestamp":"yesterday"}]}`, http.StatusUnprocessableEntity},
	}

	r := newRouter(t, testDeps(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := serve(r, req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestSessions_DisabledWithoutStore(t *testing.T) {
	r := newRouter(t, testDeps(t))

	for _, path := range []string{"/api/v1/sessions", "/api/v1/sessions/abc"} {
		rec := serve(r, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestSessions_Lifecycle(t *testing.T) {
	deps := testDeps(t)
	store := newFakeStore()
	c := &fakeCache{entries: make(map[string]*cache.Entry)}
	sink := &recordingSink{}
	deps.Sessions, deps.Cache, deps.Events = store, c, sink
	r := newRouter(t, deps)

	require.Equal(t, http.StatusOK, serve(r, uploadRequest(t, "t.csv", cycleCSV)).Code)

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/session-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var detail models.SessionDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "t.csv", detail.Filename)
	assert.Len(t, detail.FraudRings, 1)

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/session-1/accounts/B", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var inv accountInvestigation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inv))
	assert.Equal(t, "B", inv.Account.AccountID)
	require.Len(t, inv.Rings, 1)
	assert.NotEmpty(t, inv.Severity)

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/session-1/accounts/NOPE", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(r, httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/session-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"session-1"}, c.invalidated)
	assert.Equal(t, []string{events.TypeAnalysisCompleted, events.TypeSessionDeleted}, sink.types)

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/session-1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = serve(r, httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/session-1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuth_MutatingRoutes(t *testing.T) {
	deps := testDeps(t)
	deps.Server.AuthToken = "s3cret"
	deps.Sessions = newFakeStore()
	r := newRouter(t, deps)

	rec := serve(r, uploadRequest(t, "t.csv", cycleCSV))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := uploadRequest(t, "t.csv", cycleCSV)
	req.Header.Set("Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusForbidden, serve(r, req).Code)

	req = uploadRequest(t, "t.csv", cycleCSV)
	req.Header.Set("Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, serve(r, req).Code)

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "reads stay public")
}

func TestRateLimit(t *testing.T) {
	deps := testDeps(t)
	deps.Server.RateLimitPerMinute = 1
	r := newRouter(t, deps)

	assert.Equal(t, http.StatusOK, serve(r, uploadRequest(t, "t.csv", cycleCSV)).Code)
	rec := serve(r, uploadRequest(t, "t.csv", cycleCSV))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestAlertsEndpoint(t *testing.T) {
	deps := testDeps(t)
	deps.Alerts = alerts.NewAlertManager("info", nil, deps.Logger)
	r := newRouter(t, deps)

	require.Equal(t, http.StatusOK, serve(r, uploadRequest(t, "t.csv", cycleCSV)).Code)

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/alerts?severity=critical", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":0`)
}

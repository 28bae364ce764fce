package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recruitment-sync-service/internal/applicants"
	"recruitment-sync-service/internal/cache"
	"recruitment-sync-service/internal/sheets"
	"recruitment-sync-service/internal/store"
	"recruitment-sync-service/internal/sync"
)

type nopNotifier struct{}

func (nopNotifier) ThankYou(ctx context.Context, to, name string) error { return nil }
func (nopNotifier) Reminder(ctx context.Context, to, name string) error { return nil }

type testServer struct {
	router  http.Handler
	store   *store.MemoryStore
	backend *sheets.MemoryBackend
	manager *sync.Manager
	svc     *applicants.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewMemoryStore()
	backend := sheets.NewMemoryBackend()
	client := sheets.NewClient(backend, sheets.Options{MaxAttempts: 1, InitialBackoff: time.Millisecond})

	manager := sync.NewManager(sync.NewEngine(st, st, st, client, sync.Options{}), st)
	t.Cleanup(manager.Close)

	svc := applicants.NewService(st, st, client, nopNotifier{}, "Final")
	t.Cleanup(svc.Wait)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	layer := cache.NewLayer(rdb)
	layer.Register(ResourceUsers, 10*time.Minute, svc.ExportUsers)
	layer.Register(ResourceApplications, time.Hour, svc.ExportApplications)

	h := NewHandler(manager, svc, layer, nil)
	return &testServer{router: h.Routes(), store: st, backend: backend, manager: manager, svc: svc}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

var registration = map[string]string{
	"firstname": "Ada",
	"lastname":  "Lovelace",
	"regNo":     "R1",
	"college":   "Engineering",
	"year":      "2",
	"email":     "a@x.com",
	"phone":     "555",
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestRegisterUser(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/user/register", registration)
	require.Equal(t, http.StatusCreated, rec.Code)
	user := decodeBody(t, rec)["user"].(map[string]any)
	assert.NotEmpty(t, user["userId"])

	rec = s.do(t, http.MethodPost, "/api/user/register", registration)
	require.Equal(t, http.StatusOK, rec.Code)
	again := decodeBody(t, rec)["user"].(map[string]any)
	assert.Equal(t, user["userId"], again["userId"])

	users, err := s.store.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1)

	rec = s.do(t, http.MethodPost, "/api/user/register", map[string]string{"firstname": "Ada"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "missing required fields")

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewBufferString("{"))
	bad := httptest.NewRecorder()
	s.router.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestSubmitApplication(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/user/register", registration).Code)

	payload := map[string]any{
		"registrationNumber": "R1",
		"department":         "dev",
		"answers":            []map[string]string{{"questionId": "q1", "answerText": "x"}},
	}

	rec := s.do(t, http.MethodPost, "/api/application", payload)
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decodeBody(t, rec)
	assert.Equal(t, "Application saved", first["message"])
	firstHash := first["application"].(map[string]any)["lastHash"]

	rec = s.do(t, http.MethodPost, "/api/application", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "No changes detected", decodeBody(t, rec)["message"])

	payload["answers"] = []map[string]string{{"questionId": "q1", "answerText": "y"}}
	rec = s.do(t, http.MethodPost, "/api/application", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeBody(t, rec)
	assert.Equal(t, "Application updated", updated["message"])
	assert.NotEqual(t, firstHash, updated["application"].(map[string]any)["lastHash"])

	payload["department"] = "music"
	rec = s.do(t, http.MethodPost, "/api/application", payload)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendThankYouMail(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/send-thankyou-mail", map[string]string{"email": "a@x.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/send-thankyou-mail", map[string]string{"email": "a@x.com", "name": "Ada"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Mail sent successfully", decodeBody(t, rec)["message"])
}

func TestCachedUsers(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/user/register", registration).Code)

	rec := s.do(t, http.MethodGet, "/applicants/users", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Contains(t, rec.Header().Values("Vary"), "Accept-Encoding")

	var users []store.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	require.Len(t, users, 1)
	assert.Equal(t, "R1", users[0].RegNo)

	rec = s.do(t, http.MethodGet, "/applicants/users", nil, "Accept-Encoding", "gzip, deflate")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	raw, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &users))
	assert.Len(t, users, 1)
}

func TestCachedApplications(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/user/register", registration).Code)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/application", map[string]any{
		"registrationNumber": "R1",
		"department":         "video",
		"answers":            []map[string]string{{"questionId": "q1", "answerText": "x"}},
	}).Code)

	rec := s.do(t, http.MethodGet, "/applicants/applications", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var apps []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apps))
	require.Len(t, apps, 1)
	assert.Equal(t, "video", apps[0]["department"])
	details := apps[0]["userDetails"].(map[string]any)
	assert.Equal(t, "Ada", details["firstname"])
}

func TestBulkUserActions(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/user/register", registration)
	require.Equal(t, http.StatusCreated, rec.Code)
	user := decodeBody(t, rec)["user"]

	rec = s.do(t, http.MethodPost, "/applicants/send-unfilled-emails", map[string]any{"users": []any{user}})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	results := body["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "success", results[0].(map[string]any)["status"])

	rec = s.do(t, http.MethodPost, "/add-users-to-sheet", map[string]any{"users": []any{user}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, s.backend.Rows("Final"), 2)

	rec = s.do(t, http.MethodPost, "/add-users-to-sheet", map[string]any{"users": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncEndpoints(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/user/register", registration).Code)

	rec := s.do(t, http.MethodPost, "/api/v1/sync/trigger", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	assert.Eventually(t, func() bool {
		return s.manager.GetStatus().State == sync.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	rec = s.do(t, http.MethodGet, "/api/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sync.StatusCompleted, decodeBody(t, rec)["state"])

	rec = s.do(t, http.MethodGet, "/api/v1/sync/history?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history, 1)

	rec = s.do(t, http.MethodGet, "/api/v1/sync/conflicts", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	users := s.backend.Rows("Users")
	require.Len(t, users, 2)
	assert.Equal(t, "R1", users[1][4])
}

func TestAcceptsGzip(t *testing.T) {
	assert.True(t, acceptsGzip("gzip"))
	assert.True(t, acceptsGzip("deflate, gzip;q=0.8"))
	assert.True(t, acceptsGzip("*"))
	assert.False(t, acceptsGzip(""))
	assert.False(t, acceptsGzip("gzip;q=0"))
	assert.False(t, acceptsGzip("br, deflate"))
}

func TestCorsPreflight(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodOptions, "/api/user/register", nil, "Origin", "http://localhost:3000")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

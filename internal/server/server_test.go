// internal/server/server_test.go
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/avivl/conference-lock/internal/auth"
	"github.com/avivl/conference-lock/internal/conference"
	"github.com/avivl/conference-lock/internal/database"
	"github.com/avivl/conference-lock/internal/events"
	"github.com/avivl/conference-lock/internal/lockservice"
	"github.com/avivl/conference-lock/internal/observability"
	"github.com/avivl/conference-lock/internal/store/memory"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "server-test-secret-value"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testUser struct {
	id    int64
	name  string
	roles []string
}

var (
	alice = testUser{id: 1, name: "Alice", roles: []string{"editor"}}
	bob   = testUser{id: 2, name: "Bob", roles: []string{"editor"}}
	admin = testUser{id: 99, name: "Root", roles: []string{"admin"}}
)

type harness struct {
	server      *Server
	locks       *lockservice.Service
	conferences *conference.GormRepository
	prom        *observability.PromMetrics
	clock       *fakeClock
	confIDs     []int64
}

func setupServer(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := observability.NewNopLogger()
	ctx := context.Background()

	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	locks := lockservice.New(memory.New(memory.NewMemoryConfig(), logger), 30*time.Minute, logger,
		lockservice.WithClock(clock.Now))

	dbCfg := database.DefaultConfig()
	dbCfg.Driver = database.DriverSQLite
	dbCfg.DSN = filepath.Join(t.TempDir(), "conferences.db")
	dbCfg.MaxOpenConns = 1
	dbCfg.MaxIdleConns = 1
	dbCfg.LogLevel = "silent"
	db, err := database.Open(ctx, dbCfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	repo := conference.NewGormRepository(db, logger)
	require.NoError(t, repo.AutoMigrate(ctx))

	h := &harness{locks: locks, conferences: repo, clock: clock}
	for _, title := range []string{"Alpha", "Beta"} {
		c := conference.Conference{Title: title}
		require.NoError(t, repo.Create(ctx, &c))
		h.confIDs = append(h.confIDs, c.ID)
	}

	authCfg := auth.DefaultConfig()
	authCfg.JWTSecret = testSecret
	h.prom = observability.NewPromMetrics(observability.Config{ServiceName: "conference-lock"}, logger)

	h.server, err = NewServer(Config{Address: "127.0.0.1:0"}, Dependencies{
		Locks:          locks,
		Conferences:    repo,
		Auth:           auth.NewAuthenticator(authCfg),
		Hub:            events.NewHub(logger),
		Metrics:        h.prom,
		MetricsHandler: h.prom.Handler(),
		Logger:         logger,
	})
	require.NoError(t, err)
	return h
}

func token(t *testing.T, u testUser) string {
	t.Helper()
	claims := auth.Claims{
		Name:  u.name,
		Email: strings.ToLower(u.name) + "@example.org",
		Roles: u.roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(u.id),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (h *harness) do(t *testing.T, u *testUser, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if u != nil {
		req.Header.Set("Authorization", "Bearer "+token(t, *u))
	}

	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	var decoded map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func confPath(id int64, suffix string) string {
	return fmt.Sprintf("/api/conferences/%d%s", id, suffix)
}

func lockHolder(t *testing.T, body map[string]any) float64 {
	t.Helper()
	info, ok := body["lock_info"].(map[string]any)
	require.True(t, ok, "response carries lock_info: %v", body)
	return info["user_id"].(float64)
}

func TestNewServerRequiresDependencies(t *testing.T) {
	_, err := NewServer(Config{}, Dependencies{})
	assert.EqualError(t, err, "lock service is nil")
}

func TestHealthz(t *testing.T) {
	h := setupServer(t)
	rec, body := h.do(t, nil, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestRequestIDPassThrough(t *testing.T) {
	h := setupServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

func TestAPIRequiresAuthentication(t *testing.T) {
	h := setupServer(t)
	rec, body := h.do(t, nil, http.MethodGet, "/api/conferences", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthenticated", body["message"])
}

func TestConferenceResolution(t *testing.T) {
	h := setupServer(t)

	rec, _ := h.do(t, &alice, http.MethodGet, "/api/conferences/abc/lock", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := h.do(t, &alice, http.MethodGet, confPath(999, "/lock"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Conference not found", body["message"])
}

func TestLockEndpoints(t *testing.T) {
	h := setupServer(t)
	id := h.confIDs[0]

	rec, body := h.do(t, &alice, http.MethodGet, confPath(id, "/lock"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["is_locked"])
	assert.NotContains(t, body, "lock_info")

	rec, body = h.do(t, &alice, http.MethodPost, confPath(id, "/lock"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(alice.id), lockHolder(t, body))

	rec, body = h.do(t, &bob, http.MethodPost, confPath(id, "/lock"), nil)
	require.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, lockedMessage, body["message"])
	assert.Equal(t, float64(alice.id), lockHolder(t, body))
	assert.Equal(t, "Alice", body["lock_info"].(map[string]any)["user_name"])

	rec, body = h.do(t, &bob, http.MethodGet, confPath(id, "/lock"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["is_locked"])
	assert.Equal(t, float64(alice.id), lockHolder(t, body))

	rec, _ = h.do(t, &bob, http.MethodPost, confPath(id, "/lock/refresh"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = h.do(t, &alice, http.MethodPost, confPath(id, "/lock/refresh"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = h.do(t, &bob, http.MethodDelete, confPath(id, "/lock"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = h.do(t, &alice, http.MethodDelete, confPath(id, "/lock"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	holder, err := h.locks.CheckLock(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, holder)
}

func TestForceReleaseRequiresAdmin(t *testing.T) {
	h := setupServer(t)
	id := h.confIDs[0]

	rec, _ := h.do(t, &alice, http.MethodPost, confPath(id, "/lock"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := h.do(t, &bob, http.MethodDelete, confPath(id, "/lock/force"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Administrator role required", body["message"])

	rec, _ = h.do(t, &admin, http.MethodDelete, confPath(id, "/lock/force"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = h.do(t, &admin, http.MethodDelete, confPath(id, "/lock/force"), nil)
	assert.Equal(t, http.StatusOK, rec.Code, "force release of an unlocked conference still succeeds")

	rec, _ = h.do(t, &bob, http.MethodPost, confPath(id, "/lock"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGateRejectsOtherEditors(t *testing.T) {
	h := setupServer(t)
	id := h.confIDs[0]

	rec, _ := h.do(t, &alice, http.MethodPost, confPath(id, "/lock"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := h.do(t, &bob, http.MethodPut, confPath(id, ""), map[string]string{"title": "Hijacked"})
	require.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, float64(alice.id), lockHolder(t, body))

	c, err := h.conferences.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", c.Title)
}

func TestGateRefreshesHolderLock(t *testing.T) {
	h := setupServer(t)
	id := h.confIDs[0]

	rec, _ := h.do(t, &alice, http.MethodPost, confPath(id, "/lock"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	h.clock.Advance(20 * time.Minute)
	rec, body := h.do(t, &alice, http.MethodPut, confPath(id, ""), map[string]string{"title": "Alpha 2025"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Alpha 2025", body["data"].(map[string]any)["title"])

	h.clock.Advance(20 * time.Minute)
	holder, err := h.locks.CheckLock(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, holder, "the gated write extended the lease")
	assert.Equal(t, alice.id, holder.UserID)
}

func TestGateAdmitsUnlockedConference(t *testing.T) {
	h := setupServer(t)
	id := h.confIDs[1]

	rec, _ := h.do(t, &bob, http.MethodPut, confPath(id, ""), map[string]string{"acronym": "BET"})
	require.Equal(t, http.StatusOK, rec.Code)

	holder, err := h.locks.CheckLock(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, holder, "an admitted write does not take a lock")

	rec, body := h.do(t, &bob, http.MethodPut, confPath(id, ""), map[string]string{"title": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, conference.ErrInvalidUpdate.Error(), body["message"])
}

func TestGateAfterExpiry(t *testing.T) {
	h := setupServer(t)
	id := h.confIDs[0]

	rec, _ := h.do(t, &alice, http.MethodPost, confPath(id, "/lock"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	h.clock.Advance(30 * time.Minute)
	rec, _ = h.do(t, &bob, http.MethodPut, confPath(id, ""), map[string]string{"title": "Beta takeover"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSetLatestChecksBothLocks(t *testing.T) {
	h := setupServer(t)
	ctx := context.Background()
	current, target := h.confIDs[0], h.confIDs[1]

	_, err := h.conferences.SetLatest(ctx, current)
	require.NoError(t, err)

	rec, _ := h.do(t, &alice, http.MethodPost, confPath(current, "/lock"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := h.do(t, &bob, http.MethodPut, confPath(target, "/latest"), nil)
	require.Equal(t, http.StatusLocked, rec.Code, "current latest is locked by alice")
	assert.Equal(t, float64(alice.id), lockHolder(t, body))

	rec, _ = h.do(t, &alice, http.MethodPut, confPath(target, "/latest"), nil)
	require.Equal(t, http.StatusOK, rec.Code, "the holder may flip the flag")

	latest, err := h.conferences.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, target, latest.ID)

	rec, _ = h.do(t, &bob, http.MethodPost, confPath(target, "/lock"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = h.do(t, &alice, http.MethodPut, confPath(current, "/latest"), nil)
	assert.Equal(t, http.StatusLocked, rec.Code, "current latest is now locked by bob")
}

func TestListAndShowAnnotateLocks(t *testing.T) {
	h := setupServer(t)
	rec, _ := h.do(t, &alice, http.MethodPost, confPath(h.confIDs[1], "/lock"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := h.do(t, &bob, http.MethodGet, "/api/conferences", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].([]any)
	require.Len(t, data, 2)
	assert.Equal(t, false, data[0].(map[string]any)["is_locked"])
	assert.Equal(t, true, data[1].(map[string]any)["is_locked"])
	assert.Equal(t, float64(alice.id), lockHolder(t, data[1].(map[string]any)))

	rec, body = h.do(t, &bob, http.MethodGet, confPath(h.confIDs[1], ""), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Beta", body["data"].(map[string]any)["title"])
	assert.Equal(t, true, body["data"].(map[string]any)["is_locked"])
}

func TestLogoutReleasesAllLocks(t *testing.T) {
	h := setupServer(t)
	for _, id := range h.confIDs {
		rec, _ := h.do(t, &alice, http.MethodPost, confPath(id, "/lock"), nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, body := h.do(t, &alice, http.MethodGet, "/api/locks/mine", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["locks"], 2)

	rec, body = h.do(t, &alice, http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["released_locks"])

	rec, body = h.do(t, &alice, http.MethodGet, "/api/locks/mine", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["locks"])
}

func TestCleanupEndpoint(t *testing.T) {
	h := setupServer(t)
	rec, _ := h.do(t, &alice, http.MethodPost, confPath(h.confIDs[0], "/lock"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = h.do(t, &alice, http.MethodPost, "/api/admin/locks/cleanup", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	h.clock.Advance(time.Hour)
	rec, body := h.do(t, &admin, http.MethodPost, "/api/admin/locks/cleanup", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["removed"])
}

func TestDetachEditorReleasesLock(t *testing.T) {
	h := setupServer(t)
	id := h.confIDs[0]

	rec, _ := h.do(t, &admin, http.MethodPost, confPath(id, "/editors"), map[string]int64{"user_id": bob.id})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = h.do(t, &admin, http.MethodPost, confPath(id, "/editors"), map[string]int64{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, &bob, http.MethodPost, confPath(id, "/lock"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = h.do(t, &alice, http.MethodDelete, confPath(id, fmt.Sprintf("/editors/%d", bob.id)), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := h.do(t, &admin, http.MethodDelete, confPath(id, fmt.Sprintf("/editors/%d", bob.id)), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["detached"])
	assert.Equal(t, true, body["released_lock"])

	holder, err := h.locks.CheckLock(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, holder)
}

type unavailableLocks struct {
	LockService
}

func (unavailableLocks) CheckLock(context.Context, int64) (*lockservice.LockRecord, error) {
	return nil, fmt.Errorf("check: %w", lockservice.ErrStoreUnavailable)
}

func (unavailableLocks) Ping(context.Context) error {
	return fmt.Errorf("ping: %w", lockservice.ErrStoreUnavailable)
}

func TestStoreUnavailableIsNotUnlocked(t *testing.T) {
	h := setupServer(t)
	h.server.locks = unavailableLocks{}

	rec, body := h.do(t, &alice, http.MethodPut, confPath(h.confIDs[0], ""), map[string]string{"title": "Nope"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Lock store unavailable, try again later", body["message"])

	rec, _ = h.do(t, &alice, http.MethodGet, confPath(h.confIDs[0], "/lock"), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, _ = h.do(t, nil, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	c, err := h.conferences.Get(context.Background(), h.confIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "Alpha", c.Title)
}

func TestFailedRequestLogsCause(t *testing.T) {
	h := setupServer(t)
	h.server.locks = unavailableLocks{}
	logger, logs, err := observability.NewTestLogger()
	require.NoError(t, err)
	h.server.logger = logger

	rec, _ := h.do(t, &alice, http.MethodGet, confPath(h.confIDs[0], "/lock"), nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	failed := logs.FilterMessage("Request failed").All()
	require.Len(t, failed, 1)
	fields := failed[0].ContextMap()
	assert.Equal(t, int64(http.StatusServiceUnavailable), fields["status"])
	assert.Contains(t, fmt.Sprint(fields["errors"]), "lock store unavailable")
	assert.Zero(t, logs.FilterMessage("Request processed").Len())
}

// handoverLocks hands the conference to another user between the gate's
// check and its refresh.
type handoverLocks struct {
	*lockservice.Service
	next *lockservice.User
}

func (l handoverLocks) RefreshLock(ctx context.Context, conferenceID, userID int64) (bool, error) {
	if _, err := l.Service.ForceReleaseLock(ctx, conferenceID); err != nil {
		return false, err
	}
	if l.next != nil {
		if _, err := l.Service.AcquireLock(ctx, conferenceID, *l.next); err != nil {
			return false, err
		}
	}
	return l.Service.RefreshLock(ctx, conferenceID, userID)
}

func TestGateRechecksWhenRefreshFails(t *testing.T) {
	t.Run("taken over", func(t *testing.T) {
		h := setupServer(t)
		id := h.confIDs[0]
		rec, _ := h.do(t, &alice, http.MethodPost, confPath(id, "/lock"), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		h.server.locks = handoverLocks{Service: h.locks, next: &lockservice.User{ID: bob.id, Name: bob.name, Email: "bob@example.org"}}
		rec, body := h.do(t, &alice, http.MethodPut, confPath(id, ""), map[string]string{"title": "Too late"})
		require.Equal(t, http.StatusLocked, rec.Code)
		assert.Equal(t, float64(bob.id), lockHolder(t, body))

		c, err := h.conferences.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "Alpha", c.Title)
	})

	t.Run("released", func(t *testing.T) {
		h := setupServer(t)
		id := h.confIDs[0]
		rec, _ := h.do(t, &alice, http.MethodPost, confPath(id, "/lock"), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		h.server.locks = handoverLocks{Service: h.locks}
		rec, _ = h.do(t, &alice, http.MethodPut, confPath(id, ""), map[string]string{"title": "Alpha 2025"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestLockStreamRefusesForeignOrigin(t *testing.T) {
	h := setupServer(t)
	srv := httptest.NewServer(h.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/locks"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token(t, alice))

	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", srv.URL)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestRecoveryMiddleware(t *testing.T) {
	h := setupServer(t)
	h.server.router.GET("/panic", func(*gin.Context) { panic("boom") })

	rec, body := h.do(t, nil, http.MethodGet, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", body["message"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := setupServer(t)
	h.do(t, nil, http.MethodGet, "/healthz", nil)
	h.do(t, &alice, http.MethodPost, confPath(h.confIDs[0], "/lock"), nil)
	h.do(t, &bob, http.MethodPut, confPath(h.confIDs[0], ""), map[string]string{"title": "x"})

	rec, _ := h.do(t, nil, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, `conference_lock_http_requests{route="/healthz",status="200"} 1`)
	assert.Contains(t, out, `conference_lock_lock_gate{result="rejected"} 1`)
	assert.Contains(t, out, "conference_lock_request_duration_seconds_bucket")
}

func TestStartAndStop(t *testing.T) {
	h := setupServer(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.server.Serve(ctx, listener) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + listener.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

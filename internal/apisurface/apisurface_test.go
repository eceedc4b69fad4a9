package apisurface

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doge-flow-trader/internal/auth"
	"doge-flow-trader/internal/events"
)

type fakeController struct {
	status      StatusSnapshot
	stopErr     error
	startErr    error
	triggerErr  error
	stopReason  string
	triggered   bool
}

func (f *fakeController) Status() StatusSnapshot { return f.status }
func (f *fakeController) Stop(reason string) error {
	f.stopReason = reason
	return f.stopErr
}
func (f *fakeController) Start() error { return f.startErr }
func (f *fakeController) TriggerAnalysis() error {
	f.triggered = true
	return f.triggerErr
}

func testServer(t *testing.T) (*Server, *fakeController) {
	t.Helper()
	pm := auth.NewPasswordManager(4, auth.MinPasswordLength)
	hash, err := pm.HashPassword("Str0ng!Pass")
	require.NoError(t, err)

	operatorCfg := auth.Config{
		JWTSecret:            "test-secret",
		AccessTokenDuration:  15 * time.Minute,
		RefreshTokenDuration: 7 * 24 * time.Hour,
		OperatorName:         "ginie",
		OperatorPasswordHash: hash,
	}
	fc := &fakeController{status: StatusSnapshot{Symbol: "DOGEUSDT", PositionState: "FLAT"}}
	s := New(Config{ShutdownTimeout: time.Second}, operatorCfg, fc, events.NewBus())
	return s, fc
}

func authedToken(t *testing.T, s *Server) string {
	t.Helper()
	pair, err := s.jwtManager.GenerateTokenPair(auth.OperatorClaims{Operator: "ginie"})
	require.NoError(t, err)
	return pair.AccessToken
}

func TestLogin_ValidCredentialsReturnsTokenPair(t *testing.T) {
	s, _ := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"operator":"ginie","password":"Str0ng!Pass"}`))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "access_token")
}

func TestLogin_WrongPasswordRejected(t *testing.T) {
	s, _ := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"operator":"ginie","password":"wrong"}`))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatus_RequiresBearerToken(t *testing.T) {
	s, _ := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatus_ReturnsControllerSnapshotWithValidToken(t *testing.T) {
	s, fc := testServer(t)
	fc.status.PositionState = "LONG"
	token := authedToken(t, s)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "LONG")
}

func TestTriggerAnalysis_InvokesController(t *testing.T) {
	s, fc := testServer(t)
	token := authedToken(t, s)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/trigger-analysis", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, fc.triggered)
}

func TestStop_PropagatesControllerError(t *testing.T) {
	s, fc := testServer(t)
	fc.stopErr = errors.New("already stopped")
	token := authedToken(t, s)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/stop", strings.NewReader(`{"reason":"manual"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "manual", fc.stopReason)
}

func TestRateLimiter_BlocksAfterLimitExceeded(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := newRateLimiter(2, time.Minute)
	router := gin.New()
	router.GET("/probe", rl.middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	var lastCode int
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		router.ServeHTTP(rec, req)
		lastCode = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, lastCode)
}

func TestHub_BroadcastDeliversToRegisteredClient(t *testing.T) {
	h := NewHub()
	go h.Run()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, h.ClientCount())

	c := &client{send: make(chan []byte, 1), hub: h}
	h.register <- c
	h.Broadcast(events.Event{Type: events.EventGateRejected})

	select {
	case data := <-c.send:
		assert.Contains(t, string(data), "GATE_REJECTED")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast delivery")
	}
	assert.Equal(t, 1, h.ClientCount())
}

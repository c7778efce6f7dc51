package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swing-trading-bot/config"
	"swing-trading-bot/internal/auth"
	"swing-trading-bot/internal/bot"
	"swing-trading-bot/internal/circuit"
	"swing-trading-bot/internal/drawdown"
	"swing-trading-bot/internal/events"
	"swing-trading-bot/internal/monitor"
	"swing-trading-bot/internal/regime"
	"swing-trading-bot/internal/rotation"
)

func testServer(t *testing.T, authSvc *auth.Service) *Server {
	t.Helper()
	nop := zerolog.Nop()
	cfg := config.Default()
	return NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, Deps{
		Bot:       bot.New(cfg, bot.Components{}, nop),
		Protector: drawdown.NewProtector(drawdown.Config{ThresholdPercent: -8, RecoveryDays: 10}, nop),
		Regime:    regime.NewDetector(regime.Config{}, nop),
		Rotation:  rotation.NewManager(rotation.Config{StandardMultiplier: 1.0}, nop),
		Monitor:   monitor.NewMonitor(monitor.Config{FallbackStopPct: 8}, nop),
		Breaker:   circuit.NewBreaker("broker", nil),
		Auth:      authSvc,
		Bus:       events.NewBus(),
	}, nop)
}

func serve(s *Server, method, path, body, token string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestHealthIsOpen(t *testing.T) {
	s := testServer(t, nil)

	w := serve(s, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestStatusOpenWithoutAuth(t *testing.T) {
	s := testServer(t, nil)

	w := serve(s, http.MethodGet, "/api/v1/status", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["entries_halted"])
	assert.EqualValues(t, 0, resp["open_positions"])
	assert.Contains(t, resp, "breaker")
	assert.NotContains(t, resp, "last_cycle") // No cycle has run
}

func TestLoginDisabled(t *testing.T) {
	s := testServer(t, nil)

	w := serve(s, http.MethodPost, "/api/v1/login", `{"password":"x"}`, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthFlow(t *testing.T) {
	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	svc := auth.NewService(auth.Config{
		JWTSecret:            "test-secret",
		OperatorPasswordHash: hash,
		TokenTTL:             time.Minute,
	})
	s := testServer(t, svc)

	// Protected routes refuse without a token.
	w := serve(s, http.MethodGet, "/api/v1/status", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(s, http.MethodGet, "/api/v1/status", "", "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Wrong password is refused.
	w = serve(s, http.MethodPost, "/api/v1/login", `{"password":"wrong"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Login issues a token that opens the protected routes.
	w = serve(s, http.MethodPost, "/api/v1/login", `{"password":"hunter2"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	var login map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	require.NotEmpty(t, login["token"])

	w = serve(s, http.MethodGet, "/api/v1/status", "", login["token"])
	assert.Equal(t, http.StatusOK, w.Code)

	// Health stays open even with auth on.
	w = serve(s, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPositionsEndpoint(t *testing.T) {
	s := testServer(t, nil)
	s.monitor.TrackPosition("AAPL", 100, 4, 60, "swing_low", time.Now(), false)

	w := serve(s, http.MethodGet, "/api/v1/positions", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Positions map[string]monitor.Metadata `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Contains(t, resp.Positions, "AAPL")
	assert.Equal(t, 100.0, resp.Positions["AAPL"].EntryPrice)
}

func TestRotationEndpointHandlesInfiniteProfitFactor(t *testing.T) {
	s := testServer(t, nil)
	// All wins, no losses: the profit factor is +Inf and must not break
	// the JSON encoder.
	s.rotation.RecordTradeClose("NVDA", 100)
	s.rotation.RecordTradeClose("NVDA", 50)

	w := serve(s, http.MethodGet, "/api/v1/rotation", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Rotation []map[string]interface{} `json:"rotation"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Rotation, 1)
	assert.Equal(t, "NVDA", resp.Rotation[0]["symbol"])
	assert.Nil(t, resp.Rotation[0]["profit_factor"])
}

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"apex-core/internal/alpha"
	"apex-core/internal/engine"
	"apex-core/internal/events"
	"apex-core/internal/monitor"
	"apex-core/internal/notify"
	"apex-core/internal/risk"
	"apex-core/internal/router"
	"apex-core/internal/sentinel"
	"apex-core/internal/shutdown"
	"apex-core/internal/state"
	"apex-core/pkg/db"
	"apex-core/pkg/exchanges/common"
	"apex-core/pkg/exchanges/paper"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPIServer(t *testing.T) (*httptest.Server, *state.Store, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(database))

	bus := events.NewBus()
	store := state.NewStore(bus, database)
	venue := paper.New(10000)
	physics := risk.New(risk.Config{MaxCapital: 100, MaxLeverage: 10})
	rt := router.New(router.Config{}, physics)
	protocol := shutdown.New(shutdown.Config{RetryDelay: time.Millisecond},
		store, rt, physics, notify.Noop{}, nil)

	eng := engine.New(engine.Config{
		Symbols: []string{"BTCUSDT"},
	}, engine.Deps{
		Venue:    venue,
		Store:    store,
		Sentinel: sentinel.New(sentinel.Config{}),
		Alpha:    alpha.New(alpha.Config{MinEVScore: 100}),
		Router:   rt,
		Guard:    risk.NewGuard(),
		Notifier: notify.Noop{},
		Protocol: protocol,
	})

	server := NewServer(eng, store, bus, database, monitor.NewMetrics(), SystemMeta{
		Venue:   "paper",
		Symbols: []string{"BTCUSDT"},
		DryRun:  true,
		Version: "test",
	}, "test-secret")

	httpServer := httptest.NewServer(server.Router)
	cleanup := func() {
		eng.Stop()
		httpServer.Close()
		_ = database.Close()
	}
	return httpServer, store, cleanup
}

func doJSON(t *testing.T, method, url, token string, payload any, out any) int {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	if out != nil {
		_ = json.NewDecoder(res.Body).Decode(out)
	}
	return res.StatusCode
}

func login(t *testing.T, baseURL string) string {
	t.Helper()
	creds := map[string]string{"email": "op@example.com", "password": "hunter22"}
	code := doJSON(t, http.MethodPost, baseURL+"/api/auth/register", "", creds, nil)
	require.Equal(t, http.StatusCreated, code)

	var res struct {
		Token string `json:"token"`
	}
	code = doJSON(t, http.MethodPost, baseURL+"/api/auth/login", "", creds, &res)
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, res.Token)
	return res.Token
}

func TestHealth(t *testing.T) {
	srv, _, cleanup := newTestAPIServer(t)
	defer cleanup()

	res, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	srv, _, cleanup := newTestAPIServer(t)
	defer cleanup()

	for _, path := range []string{"/api/status", "/api/positions", "/api/stats"} {
		code := doJSON(t, http.MethodGet, srv.URL+path, "", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, code, path)
	}
	code := doJSON(t, http.MethodGet, srv.URL+"/api/status", "not-a-token", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestRegisterValidation(t *testing.T) {
	srv, _, cleanup := newTestAPIServer(t)
	defer cleanup()

	code := doJSON(t, http.MethodPost, srv.URL+"/api/auth/register", "",
		map[string]string{"email": "not-an-email", "password": "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	creds := map[string]string{"email": "dup@example.com", "password": "x"}
	assert.Equal(t, http.StatusCreated,
		doJSON(t, http.MethodPost, srv.URL+"/api/auth/register", "", creds, nil))
	assert.Equal(t, http.StatusConflict,
		doJSON(t, http.MethodPost, srv.URL+"/api/auth/register", "", creds, nil))
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	srv, _, cleanup := newTestAPIServer(t)
	defer cleanup()

	creds := map[string]string{"email": "op@example.com", "password": "right"}
	require.Equal(t, http.StatusCreated,
		doJSON(t, http.MethodPost, srv.URL+"/api/auth/register", "", creds, nil))

	code := doJSON(t, http.MethodPost, srv.URL+"/api/auth/login", "",
		map[string]string{"email": "op@example.com", "password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestStatusEndpoint(t *testing.T) {
	srv, store, cleanup := newTestAPIServer(t)
	defer cleanup()
	token := login(t, srv.URL)

	store.SetBalance(1234.5)

	var res struct {
		Status       string  `json:"status"`
		Balance      float64 `json:"balance"`
		ShuttingDown bool    `json:"shutting_down"`
		Meta         struct {
			Venue string `json:"venue"`
		} `json:"meta"`
	}
	code := doJSON(t, http.MethodGet, srv.URL+"/api/status", token, nil, &res)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "idle", res.Status)
	assert.Equal(t, 1234.5, res.Balance)
	assert.False(t, res.ShuttingDown)
	assert.Equal(t, "paper", res.Meta.Venue)
}

func TestEngineStartStop(t *testing.T) {
	srv, store, cleanup := newTestAPIServer(t)
	defer cleanup()
	token := login(t, srv.URL)

	code := doJSON(t, http.MethodPost, srv.URL+"/api/engine/start", token, nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, state.StatusRunning, store.Status())

	code = doJSON(t, http.MethodPost, srv.URL+"/api/engine/start", token, nil, nil)
	assert.Equal(t, http.StatusConflict, code, "double start")

	code = doJSON(t, http.MethodPost, srv.URL+"/api/engine/stop", token, nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, state.StatusIdle, store.Status())
}

func TestEngineStartRejectsVenueMismatch(t *testing.T) {
	srv, store, cleanup := newTestAPIServer(t)
	defer cleanup()
	token := login(t, srv.URL)

	var res struct {
		Code string `json:"code"`
	}
	code := doJSON(t, http.MethodPost, srv.URL+"/api/engine/start", token,
		map[string]string{"exchange": "bybit"}, &res)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VENUE_MISMATCH", res.Code)
	assert.Equal(t, state.StatusIdle, store.Status())
}

func TestShutdownEndpointReturnsRecord(t *testing.T) {
	srv, _, cleanup := newTestAPIServer(t)
	defer cleanup()
	token := login(t, srv.URL)

	var res state.ShutdownState
	code := doJSON(t, http.MethodPost, srv.URL+"/api/engine/shutdown", token,
		map[string]string{"reason": "maintenance"}, &res)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "maintenance", res.Reason)

	// Once protected for exit the process cannot be started back up.
	var startRes struct {
		Code string `json:"code"`
	}
	code = doJSON(t, http.MethodPost, srv.URL+"/api/engine/start", token, nil, &startRes)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "SHUTDOWN_COMPLETE", startRes.Code)
}

func TestPositionsEndpoint(t *testing.T) {
	srv, store, cleanup := newTestAPIServer(t)
	defer cleanup()
	token := login(t, srv.URL)

	store.AddPosition(state.Position{ID: "p1", Symbol: "BTCUSDT", Size: 0.5, EntryPrice: 100})

	var res struct {
		Positions []state.Position `json:"positions"`
	}
	code := doJSON(t, http.MethodGet, srv.URL+"/api/positions", token, nil, &res)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, res.Positions, 1)
	assert.Equal(t, "BTCUSDT", res.Positions[0].Symbol)
}

func TestPositionDetailEndpoint(t *testing.T) {
	srv, store, cleanup := newTestAPIServer(t)
	defer cleanup()
	token := login(t, srv.URL)

	require.True(t, store.AddPosition(state.Position{
		ID: "p1", Symbol: "BTCUSDT", Exchange: "paper",
		Side: common.DirectionLong, Size: 0.5, EntryPrice: 100,
	}))
	_, ok := store.ClosePosition("p1", 5, 0.25)
	require.True(t, ok)

	var res struct {
		Position struct {
			ID     string
			Symbol string
			Status string
		}
		Fills []struct {
			Side  string
			Price float64
		}
	}
	code := doJSON(t, http.MethodGet, srv.URL+"/api/positions/p1", token, nil, &res)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "p1", res.Position.ID)
	assert.Equal(t, "CLOSED", res.Position.Status)
	require.Len(t, res.Fills, 2)
	assert.Equal(t, string(common.DirectionLong), res.Fills[0].Side)
	assert.InDelta(t, 110.0, res.Fills[1].Price, 1e-9)

	code = doJSON(t, http.MethodGet, srv.URL+"/api/positions/nope", token, nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Digital-Creators-Team/slot-progressives/auth"
	"github.com/Digital-Creators-Team/slot-progressives/config"
	"github.com/Digital-Creators-Team/slot-progressives/events"
	"github.com/Digital-Creators-Team/slot-progressives/game"
	"github.com/Digital-Creators-Team/slot-progressives/persistence"
	"github.com/Digital-Creators-Team/slot-progressives/pkg/progressive"
	"github.com/Digital-Creators-Team/slot-progressives/provider"
	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type testStack struct {
	app      *App
	bridge   *RuntimeBridge
	disabler *provider.DisableProvider
	game     *progressive.ProgressiveGameProvider
}

// newTestStack builds the real providers over an in-memory store.
// Device ids: 1 Grand@1000, 2 Major@1000, 3 Grand@5000, 4 Major@5000.
func newTestStack(t *testing.T) *testStack {
	t.Helper()

	ctx := context.Background()
	logger := zerolog.Nop()
	store := persistence.NewStore(persistence.NewMemoryBackend(), logger)
	bus := events.NewBus(logger)
	clock := quartz.NewMock(t)

	mystery, err := progressive.NewMysteryProvider(ctx, store, logger)
	require.NoError(t, err)
	levels, err := progressive.NewLevelProvider(ctx, store, progressive.PoolCreationDefault, logger)
	require.NoError(t, err)
	require.NoError(t, levels.LoadProgressiveLevels(ctx, testManifest()))
	sap, err := progressive.NewSapProvider(ctx, store, bus, levels, mystery, logger)
	require.NoError(t, err)
	shared, err := progressive.NewSharedSapProvider(ctx, store, bus, mystery, logger)
	require.NoError(t, err)
	linked, err := progressive.NewLinkedProgressiveProvider(ctx, store, bus, clock, progressive.LinkedOptions{}, logger)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.JWT.Secret = testSecret
	disabler := provider.NewDisableProvider(nil, cfg.Storage.KeyPrefix, clock, logger)
	bridge := NewRuntimeBridge(NewBroadcaster(16), logger)

	gameProvider, err := progressive.NewProgressiveGameProvider(ctx, progressive.GameProviderDeps{
		Storage: store,
		Bus:     bus,
		Clock:   clock,
		Levels:  levels,
		Sap:     sap,
		Shared:  shared,
		Linked:  linked,
		Mystery: mystery,
		Runtime: bridge,
		History: provider.NewHistoryProvider(cfg, logger),
	}, logger)
	require.NoError(t, err)
	configService := progressive.NewConfigurationService(store, bus, levels, shared, linked, disabler, logger)

	t.Cleanup(func() {
		configService.Dispose()
		gameProvider.Dispose()
		linked.Dispose()
		shared.Dispose()
		sap.Dispose()
	})

	app := New(Options{
		Config: cfg,
		Logger: logger,
		Services: Services{
			Game:     gameProvider,
			Config:   configService,
			Shared:   shared,
			Linked:   linked,
			History:  provider.NewHistoryProvider(cfg, logger),
			Disabler: disabler,
			Runtime:  bridge,
		},
	})
	app.UseCommonMiddlewares()
	app.RegisterHealthCheck()
	app.RegisterRoutes()

	return &testStack{app: app, bridge: bridge, disabler: disabler, game: gameProvider}
}

func testManifest() *game.Manifest {
	return &game.Manifest{
		Games: []game.Detail{{
			GameID:           7,
			ThemeName:        "Dragon Gold",
			Denominations:    []int64{1000, 5000},
			BetOptions:       []game.BetOption{{Name: "40L", MaxBetCredits: 400}},
			ProgressivePacks: []string{"classic"},
		}},
		Packs: []game.ProgressivePack{{
			ID:   1,
			Name: "classic",
			Levels: []game.LevelDefinition{
				{
					LevelID: 0, Name: "Grand", LevelType: "sap", FundingType: "standard",
					StartValue: 1_000_000, ResetValue: 1_000_000, MaximumValue: 5_000_000, IncrementRate: 1,
				},
				{
					LevelID: 1, Name: "Major", LevelType: "sap", FundingType: "standard",
					StartValue: 100_000, ResetValue: 100_000, MaximumValue: 200_000, IncrementRate: 0.5,
				},
			},
		}},
	}
}

func (s *testStack) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.app.Router().ServeHTTP(w, req)
	return w
}

func decodeData[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var resp SuccessResponse[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	require.True(t, resp.IsSuccess)
	return resp.Data
}

func token(t *testing.T, role string) string {
	t.Helper()
	tok, err := auth.GenerateToken(testSecret, role+"-1", role, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestHealthCheck(t *testing.T) {
	s := newTestStack(t)

	w := s.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	require.NoError(t, s.disabler.Disable(context.Background(), "door", "Main door open"))
	w = s.do(t, http.MethodGet, "/api/health", nil, "")
	assert.Contains(t, w.Body.String(), `"status":"disabled"`)
}

func TestGameWinFlow(t *testing.T) {
	s := newTestStack(t)

	w := s.do(t, http.MethodPost, "/api/game/activate", ActivateRequest{GameID: 7, Denomination: 1000, BetOption: "40L"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	levels := decodeData[[]LevelValue](t, w)
	require.Len(t, levels, 2)
	assert.Equal(t, "Grand", levels[0].LevelName)
	assert.Equal(t, int64(1_000_000), levels[0].Value)

	w = s.do(t, http.MethodPost, "/api/game/wager", WagerRequest{PackName: "classic", Wager: 140_000}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, decodeData[WagerResponse](t, w).Hits)

	w = s.do(t, http.MethodGet, "/api/game/levels", nil, "")
	levels = decodeData[[]LevelValue](t, w)
	assert.Equal(t, int64(1_001_400), levels[0].Value)

	w = s.do(t, http.MethodPost, "/api/game/trigger", TriggerRequest{PackName: "classic", LevelIDs: []int{0}}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	txs := decodeData[TriggerResponse](t, w).Transactions
	require.Len(t, txs, 1)
	txID := txs[0]

	w = s.do(t, http.MethodGet, "/api/game/transactions", nil, "")
	pending := decodeData[[]progressive.JackpotTransaction](t, w)
	require.Len(t, pending, 1)
	assert.Equal(t, txID, pending[0].TransactionID)
	assert.Equal(t, int64(1_001_000), pending[0].WinAmount)

	w = s.do(t, http.MethodPost, "/api/game/commit", CommitRequest{TransactionIDs: []int64{txID, 999}}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []int64{999}, decodeData[CommitResponse](t, w).Failed)
	assert.Empty(t, s.game.PendingTransactions())

	w = s.do(t, http.MethodPost, "/api/game/deactivate", nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestGameRequestErrors(t *testing.T) {
	s := newTestStack(t)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"activate without denomination", "/api/game/activate", map[string]any{"gameId": 7}, http.StatusBadRequest},
		{"wager without active game", "/api/game/wager", WagerRequest{PackName: "classic", Wager: 100}, http.StatusConflict},
		{"empty wager", "/api/game/wager", WagerRequest{PackName: "classic"}, http.StatusBadRequest},
		{"trigger without levels", "/api/game/trigger", map[string]any{"packName": "classic"}, http.StatusBadRequest},
		{"commit without ids", "/api/game/commit", map[string]any{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, tt.path, tt.body, "")
			assert.Equal(t, tt.status, w.Code, w.Body.String())

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.False(t, resp.IsSuccess)
			assert.Equal(t, "/api/game/"+strings.Split(tt.path, "/")[3], resp.Error.Path)
		})
	}
}

func TestWagerRejectedWhileDisabled(t *testing.T) {
	s := newTestStack(t)
	w := s.do(t, http.MethodPost, "/api/game/activate", ActivateRequest{GameID: 7, Denomination: 1000, BetOption: "40L"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.NoError(t, s.disabler.Disable(context.Background(), "door", "Main door open"))
	w = s.do(t, http.MethodPost, "/api/game/wager", WagerRequest{PackName: "classic", Wager: 100}, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "Main door open")

	require.NoError(t, s.disabler.Enable(context.Background(), "door"))
	w = s.do(t, http.MethodPost, "/api/game/wager", WagerRequest{PackName: "classic", Wager: 100}, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHistoryWithoutService(t *testing.T) {
	s := newTestStack(t)

	w := s.do(t, http.MethodGet, "/api/game/history?gameId=7", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	page := decodeData[provider.JackpotHistoryPage](t, w)
	assert.Empty(t, page.Items)

	w = s.do(t, http.MethodGet, "/api/game/history?limit=500", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOperatorRoutesRequireToken(t *testing.T) {
	s := newTestStack(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/progressives/levels", nil, "").Code)

	w := s.do(t, http.MethodGet, "/api/progressives/levels", nil, token(t, auth.RoleOperator))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeData[[]progressive.ProgressiveLevel](t, w), 4)

	w = s.do(t, http.MethodGet, "/api/progressives/levels/3", nil, token(t, auth.RoleOperator))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(5000), decodeData[progressive.ProgressiveLevel](t, w).Denominations[0])

	w = s.do(t, http.MethodGet, "/api/progressives/levels/42", nil, token(t, auth.RoleOperator))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/progressives/levels/lock", LockRequest{DeviceIDs: []int{1}}, token(t, auth.RoleOperator))
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(t, http.MethodPost, "/api/progressives/levels/lock", LockRequest{DeviceIDs: []int{1}}, token(t, auth.RoleTechnician))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestSharedPoolRoutes(t *testing.T) {
	s := newTestStack(t)
	tech := token(t, auth.RoleTechnician)

	body := map[string]any{
		"name":          "Bank Grand",
		"fundingType":   "standard",
		"initialValue":  2_000_000,
		"resetValue":    2_000_000,
		"maximumValue":  9_000_000,
		"incrementRate": 1,
	}
	w := s.do(t, http.MethodPost, "/api/progressives/shared", body, tech)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	added := decodeData[progressive.SharedSapLevel](t, w)
	require.NotEmpty(t, added.ID)
	assert.Equal(t, int64(2_000_000), added.CurrentValue)

	w = s.do(t, http.MethodGet, "/api/progressives/shared/"+added.ID, nil, token(t, auth.RoleOperator))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Bank Grand", decodeData[progressive.SharedSapLevel](t, w).Name)

	body["resetValue"] = 10_000_000
	w = s.do(t, http.MethodPut, "/api/progressives/shared/"+added.ID, body, tech)
	assert.Equal(t, http.StatusBadRequest, w.Code, "reset above maximum is an invalid assignment")

	w = s.do(t, http.MethodDelete, "/api/progressives/shared/"+added.ID, nil, tech)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodGet, "/api/progressives/shared/"+added.ID, nil, tech)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLinkedRoutes(t *testing.T) {
	s := newTestStack(t)
	tech := token(t, auth.RoleTechnician)

	w := s.do(t, http.MethodPost, "/api/progressives/linked", []progressive.LinkedProgressiveLevel{
		{LevelName: "Super", ProtocolName: "sas", ProgressiveGroupID: 3, LevelID: 1, Amount: 2_500_000},
	}, tech)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/progressives/linked/Super", nil, tech)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(2_500_000), decodeData[progressive.LinkedProgressiveLevel](t, w).Amount)

	w = s.do(t, http.MethodDelete, "/api/progressives/linked/Super", nil, tech)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodGet, "/api/progressives/linked", nil, tech)
	assert.Empty(t, decodeData[[]progressive.LinkedProgressiveLevel](t, w))
}

func TestFaultRoutes(t *testing.T) {
	s := newTestStack(t)
	require.NoError(t, s.disabler.Disable(context.Background(), "door", "Main door open"))

	w := s.do(t, http.MethodGet, "/api/progressives/faults", nil, token(t, auth.RoleOperator))
	require.Equal(t, http.StatusOK, w.Code)
	faults := decodeData[FaultsResponse](t, w)
	assert.True(t, faults.Disabled)
	assert.Empty(t, faults.Faults)
	require.Len(t, faults.Reasons, 1)
	assert.Equal(t, "door", faults.Reasons[0].Key)

	w = s.do(t, http.MethodDelete, "/api/progressives/faults/unknown", nil, token(t, auth.RoleOperator))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStreamSSE(t *testing.T) {
	s := newTestStack(t)
	w := s.do(t, http.MethodPost, "/api/game/activate", ActivateRequest{GameID: 7, Denomination: 1000, BetOption: "40L"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decodeData[[]LevelValue](t, w), 2, "stream needs active levels to report")

	srv := httptest.NewServer(s.app.Router())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/game/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	next := func() StreamMessage {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
				var msg StreamMessage
				require.NoError(t, json.Unmarshal([]byte(data), &msg))
				return msg
			}
		}
	}

	assert.Equal(t, EventTypeConnected, next().Type)
	values := next()
	require.Equal(t, EventTypeValues, values.Type)
	assert.Len(t, values.Levels, 2)
	assert.True(t, s.bridge.Connected())

	require.NoError(t, s.bridge.JackpotWinNotification(ctx, "classic", map[int]int64{0: 11}))
	win := next()
	assert.Equal(t, EventTypeWin, win.Type)
	assert.Equal(t, "classic", win.PackName)
	assert.Equal(t, map[int]int64{0: 11}, win.Wins)

	require.NoError(t, s.bridge.JackpotNotification(ctx))
	assert.Equal(t, EventTypeValues, next().Type)
}

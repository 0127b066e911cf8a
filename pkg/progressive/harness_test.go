package progressive

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Digital-Creators-Team/slot-progressives/events"
	"github.com/Digital-Creators-Team/slot-progressives/game"
	"github.com/Digital-Creators-Team/slot-progressives/persistence"
	"github.com/Digital-Creators-Team/slot-progressives/pkg/providers"
	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// recorder captures every event published on a bus.
type recorder struct {
	mu     sync.Mutex
	events []any
}

func record(bus *events.Bus) *recorder {
	r := &recorder{}
	bus.SubscribeAll(r, func(evt any) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, evt)
	})
	return r
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func eventsOf[E any](r *recorder) []E {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []E
	for _, evt := range r.events {
		if e, ok := evt.(E); ok {
			out = append(out, e)
		}
	}
	return out
}

type fakeRuntime struct {
	mu        sync.Mutex
	connected bool
	refreshes int
	wins      []map[int]int64
}

func (f *fakeRuntime) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeRuntime) JackpotNotification(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return nil
}

func (f *fakeRuntime) JackpotWinNotification(_ context.Context, _ string, wins map[int]int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wins = append(f.wins, wins)
	return nil
}

type fakeHistory struct {
	mu      sync.Mutex
	records []providers.JackpotInfo
}

func (f *fakeHistory) AppendJackpotInfo(_ context.Context, info *providers.JackpotInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, *info)
	return nil
}

type fakeDisabler struct {
	mu       sync.Mutex
	disabled map[string]string
}

func (f *fakeDisabler) Disable(_ context.Context, key, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disabled == nil {
		f.disabled = make(map[string]string)
	}
	f.disabled[key] = message
	return nil
}

func (f *fakeDisabler) Enable(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.disabled, key)
	return nil
}

func (f *fakeDisabler) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.disabled))
	for k := range f.disabled {
		out = append(out, k)
	}
	return out
}

type harness struct {
	ctx      context.Context
	store    *persistence.Store
	backend  *persistence.MemoryBackend
	bus      *events.Bus
	clock    *quartz.Mock
	mystery  *MysteryProvider
	levels   *LevelProvider
	sap      *SapProvider
	shared   *SharedSapProvider
	linked   *LinkedProgressiveProvider
	game     *ProgressiveGameProvider
	config   *ConfigurationService
	runtime  *fakeRuntime
	history  *fakeHistory
	disabler *fakeDisabler
	events   *recorder
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	backend *persistence.MemoryBackend
	policy  PoolCreationPolicy
	mystery []MysteryOption
}

func withBackend(b *persistence.MemoryBackend) harnessOption {
	return func(c *harnessConfig) { c.backend = b }
}

func withPolicy(p PoolCreationPolicy) harnessOption {
	return func(c *harnessConfig) { c.policy = p }
}

func withMystery(opts ...MysteryOption) harnessOption {
	return func(c *harnessConfig) { c.mystery = opts }
}

// newHarness wires every provider over an in-memory store with a mock clock.
func newHarness(t *testing.T, manifest *game.Manifest, opts ...harnessOption) *harness {
	t.Helper()

	cfg := harnessConfig{backend: persistence.NewMemoryBackend()}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx := context.Background()
	logger := zerolog.Nop()
	h := &harness{
		ctx:      ctx,
		backend:  cfg.backend,
		store:    persistence.NewStore(cfg.backend, logger),
		bus:      events.NewBus(logger),
		clock:    quartz.NewMock(t),
		runtime:  &fakeRuntime{connected: true},
		history:  &fakeHistory{},
		disabler: &fakeDisabler{},
	}
	h.events = record(h.bus)

	var err error
	h.mystery, err = NewMysteryProvider(ctx, h.store, logger, cfg.mystery...)
	require.NoError(t, err)
	h.levels, err = NewLevelProvider(ctx, h.store, cfg.policy, logger)
	require.NoError(t, err)
	if manifest != nil {
		require.NoError(t, h.levels.LoadProgressiveLevels(ctx, manifest))
	}
	h.sap, err = NewSapProvider(ctx, h.store, h.bus, h.levels, h.mystery, logger)
	require.NoError(t, err)
	h.shared, err = NewSharedSapProvider(ctx, h.store, h.bus, h.mystery, logger)
	require.NoError(t, err)
	h.linked, err = NewLinkedProgressiveProvider(ctx, h.store, h.bus, h.clock, LinkedOptions{
		MonitorInterval: 250 * time.Millisecond,
		ClaimTimeout:    500 * time.Millisecond,
	}, logger)
	require.NoError(t, err)
	h.game, err = NewProgressiveGameProvider(ctx, GameProviderDeps{
		Storage: h.store,
		Bus:     h.bus,
		Clock:   h.clock,
		Levels:  h.levels,
		Sap:     h.sap,
		Shared:  h.shared,
		Linked:  h.linked,
		Mystery: h.mystery,
		Runtime: h.runtime,
		History: h.history,
	}, logger)
	require.NoError(t, err)
	h.config = NewConfigurationService(h.store, h.bus, h.levels, h.shared, h.linked, h.disabler, logger)

	t.Cleanup(func() {
		h.config.Dispose()
		h.game.Dispose()
		h.linked.Dispose()
		h.shared.Dispose()
		h.sap.Dispose()
	})
	return h
}

// testManifest has one game at two denominations playing a pack with a standard and a
// mystery level. Device ids come out as 1: Grand@1000, 2: Major@1000, 3: Grand@5000, 4: Major@5000.
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
					LevelID: 1, Name: "Major", LevelType: "sap", FundingType: "standard", TriggerControl: "mystery",
					StartValue: 100_000, ResetValue: 100_000, MaximumValue: 200_000, IncrementRate: 0.5,
				},
			},
		}},
	}
}

// zeroRandom makes every mystery trigger equal the current value.
type zeroRandom struct{}

func (zeroRandom) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

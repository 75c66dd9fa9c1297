package orchestrator

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowlab/glowd/internal/area"
	"github.com/glowlab/glowd/internal/curve"
	"github.com/glowlab/glowd/internal/light"
	"github.com/glowlab/glowd/internal/router"
)

// fakeClock equates solar time with UTC civil time, which keeps test
// arithmetic readable: 12:00 is solar noon.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	crossed bool
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) setCrossed(v bool) {
	c.mu.Lock()
	c.crossed = v
	c.mu.Unlock()
}

func (c *fakeClock) SolarTimeAt(t time.Time) float64 {
	t = t.UTC()
	return math.Mod(float64(t.Hour())+float64(t.Minute())/60+float64(t.Second())/3600, 24)
}

func (c *fakeClock) CrossedMidnightSince(_, _ time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.crossed
}

type sentCommand struct {
	areaID string
	value  light.Value
	on     bool
	rgb    *light.RGB
	flash  bool
}

// fakeDispatcher resolves every known area to a broadcast target and
// records everything dispatched.
type fakeDispatcher struct {
	mu          sync.Mutex
	sent        []sentCommand
	deviceArea  map[string]string
	unknown     map[string]bool
	dispatchErr error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		deviceArea: make(map[string]string),
		unknown:    make(map[string]bool),
	}
}

func (f *fakeDispatcher) Resolve(_ context.Context, areaID string) (router.Decision, error) {
	if f.unknown[areaID] {
		return router.Decision{}, router.ErrNothingToControl
	}
	return router.Decision{AreaID: areaID, Kind: router.TargetAreaBroadcast, TargetID: areaID}, nil
}

func (f *fakeDispatcher) Dispatch(_ context.Context, d router.Decision, v light.Value, _ time.Duration) error {
	if f.dispatchErr != nil {
		return f.dispatchErr
	}
	f.record(sentCommand{areaID: d.AreaID, value: v, on: true})
	return nil
}

func (f *fakeDispatcher) DispatchRGB(_ context.Context, d router.Decision, rgb light.RGB, brightness int, _ time.Duration) error {
	f.record(sentCommand{areaID: d.AreaID, on: true, rgb: &rgb, value: light.Value{Brightness: brightness}})
	return nil
}

func (f *fakeDispatcher) TurnOff(_ context.Context, d router.Decision, _ time.Duration) error {
	f.record(sentCommand{areaID: d.AreaID, on: false})
	return nil
}

func (f *fakeDispatcher) Acknowledge(_ context.Context, d router.Decision) error {
	f.record(sentCommand{areaID: d.AreaID, on: true, flash: true})
	return nil
}

func (f *fakeDispatcher) AreaForDevice(_ context.Context, deviceID string) (string, error) {
	if a, ok := f.deviceArea[deviceID]; ok {
		return a, nil
	}
	return "", errors.New("unknown device")
}

func (f *fakeDispatcher) record(c sentCommand) {
	f.mu.Lock()
	f.sent = append(f.sent, c)
	f.mu.Unlock()
}

func (f *fakeDispatcher) commands() []sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCommand(nil), f.sent...)
}

// memStore duplicates the area package's test store; kept local so these
// tests read standalone.
type memStore struct {
	mu      sync.Mutex
	offsets map[string]time.Duration
}

func newMemStore() *memStore { return &memStore{offsets: make(map[string]time.Duration)} }

func (s *memStore) SaveOffset(areaID string, offset time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[areaID] = offset
	return nil
}

func (s *memStore) LoadOffsets() (map[string]time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Duration, len(s.offsets))
	for k, v := range s.offsets {
		out[k] = v
	}
	return out, nil
}

type fixture struct {
	clock      *fakeClock
	dispatcher *fakeDispatcher
	areas      *area.Manager
	store      *memStore
	orch       *Orchestrator
}

func newFixture(t *testing.T, store *memStore) *fixture {
	t.Helper()
	if store == nil {
		store = newMemStore()
	}
	areas, err := area.NewManager(store)
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	dispatcher := newFakeDispatcher()
	orch := New(clock, curve.NewEngine(curve.DefaultParams()), areas, dispatcher, Options{})

	return &fixture{clock: clock, dispatcher: dispatcher, areas: areas, store: store, orch: orch}
}

func TestSetMode_TurnOnAppliesAdaptiveValues(t *testing.T) {
	f := newFixture(t, nil)
	// 18:00 solar time, i.e. sun position +0.5, past noon toward evening.
	f.clock.set(time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC))

	v, err := f.orch.SetMode(context.Background(), "kitchen", area.ModeMagic)
	require.NoError(t, err)

	assert.Equal(t, area.ModeMagic, f.areas.Mode("kitchen"))
	assert.Equal(t, time.Duration(0), f.areas.Offset("kitchen"))
	assert.GreaterOrEqual(t, v.Brightness, 1)
	assert.LessOrEqual(t, v.Brightness, 100)
	assert.Greater(t, v.Brightness, 50, "position 0.5 should be on the bright half")
	assert.GreaterOrEqual(t, v.Kelvin, 500)
	assert.LessOrEqual(t, v.Kelvin, 6500)

	cmds := f.dispatcher.commands()
	require.Len(t, cmds, 1)
	assert.True(t, cmds[0].on)
	assert.Equal(t, "kitchen", cmds[0].areaID)
}

func TestSetMode_OffKeepsOffsetForNextActivation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.orch.SetMode(ctx, "kitchen", area.ModeMagic)
	require.NoError(t, err)
	f.areas.SetOffset("kitchen", 90*time.Minute)

	_, err = f.orch.SetMode(ctx, "kitchen", area.ModeOff)
	require.NoError(t, err)

	assert.Equal(t, area.ModeOff, f.areas.Mode("kitchen"))
	assert.Equal(t, 90*time.Minute, f.areas.Offset("kitchen"), "offset survives turning off")

	cmds := f.dispatcher.commands()
	require.Len(t, cmds, 2)
	assert.False(t, cmds[1].on, "second command must be an off")
}

func TestSetMode_ManualFlashesWhenLeavingMagic(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.orch.SetMode(ctx, "den", area.ModeMagic)
	require.NoError(t, err)
	_, err = f.orch.SetMode(ctx, "den", area.ModeManual)
	require.NoError(t, err)

	cmds := f.dispatcher.commands()
	require.Len(t, cmds, 2)
	assert.True(t, cmds[1].flash, "leaving magic mode acknowledges with a flash")
	assert.Equal(t, area.ModeManual, f.areas.Mode("den"))

	// Manual -> manual again: no flash.
	_, err = f.orch.SetMode(ctx, "den", area.ModeManual)
	require.NoError(t, err)
	assert.Len(t, f.dispatcher.commands(), 2)
}

func TestStep_FiveDownPressesFromTop(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	// Solar noon: top of the curve.
	f.clock.set(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	_, err := f.orch.SetMode(ctx, "bedroom", area.ModeMagic)
	require.NoError(t, err)

	want := []int{90, 80, 70, 60, 50}
	for i := 0; i < 5; i++ {
		v, err := f.orch.Step(ctx, "bedroom", curve.StepDown)
		require.NoError(t, err)
		assert.InDelta(t, want[i], v.Brightness, 1, "press %d", i+1)
		assert.GreaterOrEqual(t, v.Brightness, 1)
	}

	// The offset moved; the engine path is the only thing that changed it.
	assert.NotZero(t, f.areas.Offset("bedroom"))
	assert.Equal(t, area.ModeMagic, f.areas.Mode("bedroom"), "stepping never changes mode")
}

func TestStep_ClampsAtMinimumThenNoops(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.clock.set(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	_, err := f.orch.SetMode(ctx, "bedroom", area.ModeMagic)
	require.NoError(t, err)

	var last light.Value
	for i := 0; i < 15; i++ {
		v, err := f.orch.Step(ctx, "bedroom", curve.StepDown)
		require.NoError(t, err)
		require.GreaterOrEqual(t, v.Brightness, 1, "brightness must never drop below 1%%")
		last = v
	}
	assert.LessOrEqual(t, last.Brightness, 3, "repeated dimming ends pinned near the curve floor")
	assert.Equal(t, area.ModeMagic, f.areas.Mode("bedroom"), "clamped steps never turn the area off")
}

func TestStep_WhileOffIsRejected(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.orch.Step(context.Background(), "hall", curve.StepUp)
	assert.ErrorIs(t, err, ErrAreaOff)
	assert.Empty(t, f.dispatcher.commands())
}

func TestStep_WorksInManualMode(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.orch.SetMode(ctx, "den", area.ModeMagic)
	require.NoError(t, err)
	_, err = f.orch.SetMode(ctx, "den", area.ModeManual)
	require.NoError(t, err)

	_, err = f.orch.Step(ctx, "den", curve.StepDown)
	require.NoError(t, err)
	assert.Equal(t, area.ModeManual, f.areas.Mode("den"), "stepping keeps manual mode")
}

func TestRestart_TickUsesRestoredOffset(t *testing.T) {
	store := newMemStore()
	store.offsets["office"] = 2 * time.Hour

	f := newFixture(t, store)
	ctx := context.Background()
	// 10:00 with a +2h offset computes the curve at solar time 12.
	f.clock.set(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))

	assert.Equal(t, 2*time.Hour, f.areas.Offset("office"))

	f.areas.SetMode("office", area.ModeMagic)
	f.orch.Tick(ctx)

	cmds := f.dispatcher.commands()
	require.Len(t, cmds, 1)
	assert.InDelta(t, 12.0, cmds[0].value.SolarTime, 0.01, "tick must evaluate at the restored offset")
}

func TestTick_OnlyMagicAreasUpdated(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.orch.SetMode(ctx, "a", area.ModeMagic)
	require.NoError(t, err)
	_, err = f.orch.SetMode(ctx, "b", area.ModeMagic)
	require.NoError(t, err)
	_, err = f.orch.SetMode(ctx, "b", area.ModeManual)
	require.NoError(t, err)
	f.areas.SetMode("c", area.ModeOff)

	before := len(f.dispatcher.commands())
	f.orch.Tick(ctx)

	cmds := f.dispatcher.commands()[before:]
	require.Len(t, cmds, 1)
	assert.Equal(t, "a", cmds[0].areaID)
}

func TestTick_MidnightCrossingResetsOffsetsSilently(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.orch.SetMode(ctx, "kitchen", area.ModeMagic)
	require.NoError(t, err)
	f.areas.SetOffset("kitchen", 3*time.Hour)

	f.clock.setCrossed(true)
	f.orch.Tick(ctx)

	assert.Equal(t, time.Duration(0), f.areas.Offset("kitchen"), "offset resets at solar midnight")
	assert.Equal(t, area.ModeMagic, f.areas.Mode("kitchen"), "no mode change on reset")
	assert.Equal(t, time.Duration(0), f.store.offsets["kitchen"], "reset is persisted")
}

// blockingDispatcher stalls the first Dispatch until released, so a test
// can act while a tick is mid-pass.
type blockingDispatcher struct {
	*fakeDispatcher
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (d *blockingDispatcher) Dispatch(ctx context.Context, dec router.Decision, v light.Value, tr time.Duration) error {
	d.once.Do(func() {
		close(d.entered)
		<-d.release
	})
	return d.fakeDispatcher.Dispatch(ctx, dec, v, tr)
}

func TestTick_SwitchEventSupersedesPendingPass(t *testing.T) {
	f := newFixture(t, nil)
	f.areas.SetMode("a", area.ModeMagic)
	f.areas.SetMode("b", area.ModeMagic)

	bd := &blockingDispatcher{
		fakeDispatcher: f.dispatcher,
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	f.orch.router = bd

	done := make(chan struct{})
	go func() {
		f.orch.Tick(context.Background())
		close(done)
	}()

	// The tick is stalled dispatching "a" and has already captured its
	// sequence snapshot.
	<-bd.entered

	// A switch press for "b" lands now; its computation is fresher than
	// the tick's pending one. The press itself would queue behind the
	// pass, so mark its arrival the way Step does.
	f.orch.bumpSeq("b")

	close(bd.release)
	<-done

	cmds := f.dispatcher.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, "a", cmds[0].areaID, "superseded area must be skipped")
}

func TestTick_ConcurrentCallsSerialize(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.orch.SetMode(ctx, "a", area.ModeMagic)
	require.NoError(t, err)

	// Run's ticker and the curve-update refresh can both call Tick; whole
	// runs must serialize, including the midnight bookkeeping.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				f.orch.Tick(ctx)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 25; j++ {
			if _, err := f.orch.Step(ctx, "a", curve.StepDown); err != nil {
				return
			}
		}
	}()
	wg.Wait()

	assert.Equal(t, area.ModeMagic, f.areas.Mode("a"))
}

func TestCompute_NothingToControlIsNotFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatcher.unknown["void"] = true

	v, err := f.orch.Compute(context.Background(), "void")
	assert.NoError(t, err, "missing target is a reported no-op")
	assert.GreaterOrEqual(t, v.Brightness, 1)
	assert.Empty(t, f.dispatcher.commands())
}

func TestSetMode_DispatchFailureStillAppliesTransition(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatcher.dispatchErr = errors.New("channel timeout")

	_, err := f.orch.SetMode(context.Background(), "kitchen", area.ModeMagic)
	assert.Error(t, err, "failure is reported to the caller")
	assert.Equal(t, area.ModeMagic, f.areas.Mode("kitchen"),
		"transition applies optimistically; the next tick reconciles")
}

func TestHandleButton(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.dispatcher.deviceArea["switch-1"] = "kitchen"

	// on_press toggles the area on.
	require.NoError(t, f.orch.HandleButton(ctx, "switch-1", CmdOnPress))
	assert.Equal(t, area.ModeMagic, f.areas.Mode("kitchen"))

	// up_press steps along the curve.
	require.NoError(t, f.orch.HandleButton(ctx, "switch-1", CmdUpPress))

	// on_press again toggles off.
	require.NoError(t, f.orch.HandleButton(ctx, "switch-1", CmdOnPress))
	assert.Equal(t, area.ModeOff, f.areas.Mode("kitchen"))

	// Steps while off are swallowed, not errors.
	require.NoError(t, f.orch.HandleButton(ctx, "switch-1", CmdDownPress))

	// off_press resets: offset zero, magic on.
	f.areas.SetOffset("kitchen", time.Hour)
	require.NoError(t, f.orch.HandleButton(ctx, "switch-1", CmdOffPress))
	assert.Equal(t, area.ModeMagic, f.areas.Mode("kitchen"))
	assert.Equal(t, time.Duration(0), f.areas.Offset("kitchen"))

	// Unknown device: warn and ignore.
	require.NoError(t, f.orch.HandleButton(ctx, "ghost", CmdOnPress))
}

func TestRandomColor(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.orch.SetMode(ctx, "kitchen", area.ModeMagic)
	require.NoError(t, err)

	before := len(f.dispatcher.commands())
	require.NoError(t, f.orch.RandomColor(ctx, "kitchen"))

	assert.Equal(t, area.ModeManual, f.areas.Mode("kitchen"), "random color freezes the area")
	cmds := f.dispatcher.commands()[before:]
	require.Len(t, cmds, 1)
	require.NotNil(t, cmds[0].rgb)
	assert.Equal(t, 80, cmds[0].value.Brightness)
}

func TestIsolation_OperationsOnOneAreaDontTouchAnother(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.orch.SetMode(ctx, "a", area.ModeMagic)
	require.NoError(t, err)
	_, err = f.orch.SetMode(ctx, "b", area.ModeMagic)
	require.NoError(t, err)
	f.areas.SetOffset("b", time.Hour)

	_, err = f.orch.Step(ctx, "a", curve.StepDown)
	require.NoError(t, err)
	_, err = f.orch.SetMode(ctx, "a", area.ModeOff)
	require.NoError(t, err)

	got := f.areas.Get("b")
	assert.Equal(t, area.ModeMagic, got.Mode)
	assert.Equal(t, time.Hour, got.Offset)
}

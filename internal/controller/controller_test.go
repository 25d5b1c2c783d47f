package controller

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/ChuLiYu/pacemaker/internal/clock"
	"github.com/ChuLiYu/pacemaker/internal/feedback"
	"github.com/ChuLiYu/pacemaker/internal/geo"
	"github.com/ChuLiYu/pacemaker/internal/metrics"
	"github.com/ChuLiYu/pacemaker/internal/positioning"
	"github.com/ChuLiYu/pacemaker/internal/session"
	"github.com/ChuLiYu/pacemaker/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

var t0 = time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)

func northOf(meters float64) float64 {
	return 40 + meters/(geo.EarthRadiusKm*1000*math.Pi/180)
}

func sampleAt(meters float64, secs int64) types.PositionSample {
	return types.PositionSample{
		Latitude:  northOf(meters),
		Longitude: -74,
		Timestamp: t0.Add(time.Duration(secs) * time.Second).UnixMilli(),
		Accuracy:  types.Accuracy(5),
	}
}

// fakePositioning is driven by the test: samples are pushed on ch, buffered
// samples are returned by DrainBuffered.
type fakePositioning struct {
	mu          sync.Mutex
	perms       positioning.Permissions
	fix         *types.PositionSample
	ch          chan types.PositionSample
	buffered    []types.PositionSample
	streaming   bool
	stops       int
	suspends    int
	foregrounds int
}

func newFakePositioning() *fakePositioning {
	return &fakePositioning{
		perms: positioning.Permissions{Foreground: true, Background: true},
		ch:    make(chan types.PositionSample),
	}
}

func (f *fakePositioning) RequestPermissions(context.Context) (positioning.Permissions, error) {
	return f.perms, nil
}

func (f *fakePositioning) CurrentFix(context.Context) (*types.PositionSample, error) {
	if f.fix == nil {
		return nil, positioning.ErrNoFix
	}
	return f.fix, nil
}

func (f *fakePositioning) StartStream(context.Context) (<-chan types.PositionSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streaming = true
	return f.ch, nil
}

func (f *fakePositioning) StopStream() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streaming = false
	f.stops++
	return nil
}

func (f *fakePositioning) DrainBuffered(context.Context) ([]types.PositionSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.buffered
	f.buffered = nil
	return out, nil
}

func (f *fakePositioning) Suspend() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suspends++
}

func (f *fakePositioning) Foreground() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.foregrounds++
}

type fakeAnnouncer struct {
	mu    sync.Mutex
	calls [][]feedback.Message
}

func (a *fakeAnnouncer) Announce(msgs ...feedback.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, msgs)
	return nil
}

func (a *fakeAnnouncer) Calls() [][]feedback.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][]feedback.Message(nil), a.calls...)
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs []types.CompletedRun
}

func (r *fakeRecorder) Append(_ context.Context, run types.CompletedRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func (r *fakeRecorder) Runs() []types.CompletedRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.CompletedRun(nil), r.runs...)
}

type harness struct {
	ctrl     *Controller
	pos      *fakePositioning
	speech   *fakeAnnouncer
	history  *fakeRecorder
	clock    *clock.Manual
	registry *prometheus.Registry
}

func newHarness(t *testing.T, goal types.RunGoal, settings types.RunSettings, opts ...func(*Config)) *harness {
	t.Helper()

	sess, err := session.New(goal, settings,
		session.WithRand(rand.New(rand.NewSource(1))),
		session.WithIDGenerator(func() string { return "run-1" }),
	)
	require.NoError(t, err)

	// ticks are driven by samples and resume in these tests
	config := Config{TickInterval: time.Hour}
	for _, opt := range opts {
		opt(&config)
	}

	h := &harness{
		pos:      newFakePositioning(),
		speech:   &fakeAnnouncer{},
		history:  &fakeRecorder{},
		clock:    clock.NewManual(t0),
		registry: prometheus.NewRegistry(),
	}

	h.ctrl, err = New(sess, Deps{
		Positioning: h.pos,
		Speech:      h.speech,
		History:     h.history,
		Metrics:     metrics.NewCollector(h.registry),
		Clock:       h.clock,
	}, config)
	require.NoError(t, err)
	t.Cleanup(h.ctrl.Stop)
	return h
}

// push advances the manual clock to the sample time and delivers it.
func (h *harness) push(t *testing.T, s types.PositionSample) {
	t.Helper()
	h.clock.Set(time.UnixMilli(s.Timestamp))
	select {
	case h.pos.ch <- s:
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not take the sample")
	}
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
	}
}

// ============================================================================
// Lifecycle Tests
// ============================================================================

func TestNewRequiresPositioning(t *testing.T) {
	sess, err := session.New(types.RunGoal{DistanceKm: 5, TimeMinutes: 25}, types.DefaultSettings())
	require.NoError(t, err)

	_, err = New(sess, Deps{}, Config{})
	assert.Error(t, err)
	_, err = New(nil, Deps{Positioning: newFakePositioning()}, Config{})
	assert.Error(t, err)
}

func TestStartForegroundDenied(t *testing.T) {
	h := newHarness(t, types.RunGoal{DistanceKm: 5, TimeMinutes: 25}, types.DefaultSettings())
	h.pos.perms = positioning.Permissions{}

	err := h.ctrl.Start(context.Background())
	assert.ErrorIs(t, err, ErrForegroundDenied)
	assert.Equal(t, types.StateWaiting, h.ctrl.Snapshot().State)
	assert.False(t, h.pos.streaming)
	assert.Nil(t, h.ctrl.Result())
	assert.Empty(t, h.history.Runs())
}

func TestStartBackgroundDeniedStillRuns(t *testing.T) {
	h := newHarness(t, types.RunGoal{DistanceKm: 5, TimeMinutes: 25}, types.DefaultSettings())
	h.pos.perms = positioning.Permissions{Foreground: true}

	require.NoError(t, h.ctrl.Start(context.Background()))
	assert.Equal(t, types.StateRunning, h.ctrl.Snapshot().State)
	assert.ErrorIs(t, h.ctrl.Start(context.Background()), ErrAlreadyStarted)
}

func TestStartAnchorsOnCurrentFix(t *testing.T) {
	h := newHarness(t, types.RunGoal{DistanceKm: 5, TimeMinutes: 25}, types.DefaultSettings())
	fix := sampleAt(0, 0)
	h.pos.fix = &fix

	require.NoError(t, h.ctrl.Start(context.Background()))
	assert.Equal(t, 1, h.ctrl.Snapshot().TrackPoints)
}

func TestSuspendBeforeStart(t *testing.T) {
	h := newHarness(t, types.RunGoal{DistanceKm: 5, TimeMinutes: 25}, types.DefaultSettings())
	assert.ErrorIs(t, h.ctrl.Suspend(), ErrNotStarted)
	assert.ErrorIs(t, h.ctrl.Resume(), ErrNotStarted)
}

func TestManualStopRecordsOnce(t *testing.T) {
	h := newHarness(t, types.RunGoal{DistanceKm: 5, TimeMinutes: 25}, types.DefaultSettings())
	require.NoError(t, h.ctrl.Start(context.Background()))

	h.push(t, sampleAt(0, 0))
	h.push(t, sampleAt(400, 120))
	h.clock.Set(t0.Add(150 * time.Second))

	h.ctrl.Stop()
	h.ctrl.Stop()

	runs := h.history.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.False(t, runs[0].CompletedGoal)
	assert.Equal(t, int64(150), runs[0].ActualTimeSeconds)
	assert.InDelta(t, 0.4, runs[0].ActualDistanceKm, 1e-6)

	assert.Equal(t, types.StateFinished, h.ctrl.Snapshot().State)
	assert.Equal(t, 1, h.pos.stops)
	assert.Len(t, h.ctrl.Track(), 2)
	assert.ErrorIs(t, h.ctrl.Resume(), ErrControllerStopped)
}

func TestContextCancelStopsRun(t *testing.T) {
	h := newHarness(t, types.RunGoal{DistanceKm: 5, TimeMinutes: 25}, types.DefaultSettings())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.ctrl.Start(ctx))

	cancel()
	waitDone(t, h.ctrl)
	require.NotNil(t, h.ctrl.Result())
	assert.Len(t, h.history.Runs(), 1)
}

func TestStopOnStreamEnd(t *testing.T) {
	sess, err := session.New(types.RunGoal{DistanceKm: 5, TimeMinutes: 25}, types.DefaultSettings())
	require.NoError(t, err)
	pos := newFakePositioning()
	rec := &fakeRecorder{}

	ctrl, err := New(sess, Deps{Positioning: pos, History: rec, Clock: clock.NewManual(t0)},
		Config{TickInterval: time.Hour, StopOnStreamEnd: true})
	require.NoError(t, err)
	require.NoError(t, ctrl.Start(context.Background()))

	close(pos.ch)
	waitDone(t, ctrl)
	assert.Len(t, rec.Runs(), 1)
}

// ============================================================================
// Run Tests
// ============================================================================

func TestAutoStopOnGoalCompletesExactlyOnce(t *testing.T) {
	settings := types.DefaultSettings()
	settings.AutoStopOnGoal = true
	h := newHarness(t, types.RunGoal{DistanceKm: 1, TimeMinutes: 6}, settings)
	require.NoError(t, h.ctrl.Start(context.Background()))

	for i := int64(0); i < 10; i++ {
		h.push(t, sampleAt(float64(i)*100, i*30))
	}
	h.push(t, sampleAt(1050, 315))
	waitDone(t, h.ctrl)

	// late events are dropped
	h.ctrl.Stop()
	select {
	case h.pos.ch <- sampleAt(1100, 330):
		t.Fatal("sample accepted after finish")
	case <-time.After(50 * time.Millisecond):
	}

	runs := h.history.Runs()
	require.Len(t, runs, 1)
	assert.True(t, runs[0].CompletedGoal)
	assert.Equal(t, int64(315), runs[0].ActualTimeSeconds)

	calls := h.speech.Calls()
	require.NotEmpty(t, calls)
	last := calls[len(calls)-1]
	require.Len(t, last, 1)
	assert.Equal(t, feedback.KindGoal, last[0].Kind)
}

func TestResumeAfterBackgroundGap(t *testing.T) {
	h := newHarness(t, types.RunGoal{DistanceKm: 5, TimeMinutes: 25}, types.DefaultSettings())
	require.NoError(t, h.ctrl.Start(context.Background()))

	// 1.0 km in 300 s in the foreground
	for i := int64(0); i <= 30; i++ {
		h.push(t, sampleAt(float64(i)*1000.0/30, i*10))
	}
	require.NoError(t, h.ctrl.Suspend())
	assert.InDelta(t, 1.0, h.ctrl.Snapshot().Metrics.DistanceKm, 1e-6)
	assert.Equal(t, int64(300), h.ctrl.Snapshot().Metrics.ElapsedSeconds)
	before := len(h.speech.Calls())

	// another 0.5 km captured while suspended
	h.pos.mu.Lock()
	for i := int64(1); i <= 60; i++ {
		h.pos.buffered = append(h.pos.buffered, sampleAt(1000+float64(i)*500.0/60, 300+i*10))
	}
	h.pos.mu.Unlock()

	h.clock.Set(t0.Add(900 * time.Second))
	require.NoError(t, h.ctrl.Resume())

	snap := h.ctrl.Snapshot()
	assert.InDelta(t, 1.5, snap.Metrics.DistanceKm, 1e-6)
	assert.Equal(t, int64(900), snap.Metrics.ElapsedSeconds)
	assert.InDelta(t, 10.0, snap.Metrics.Pace.MinPerKm, 1e-6)
	assert.Equal(t, types.StateRunning, snap.State)
	assert.Equal(t, 1, h.pos.suspends)
	assert.Equal(t, 1, h.pos.foregrounds)

	calls := h.speech.Calls()
	require.Len(t, calls, before+1, "one announcement for the whole gap")
	require.Len(t, calls[before], 1)
	assert.Equal(t, feedback.KindPace, calls[before][0].Kind)
	assert.Equal(t, feedback.StatusBehind, calls[before][0].Status)
}

func TestResumeCanFinishRun(t *testing.T) {
	settings := types.DefaultSettings()
	settings.AutoStopOnGoal = true
	h := newHarness(t, types.RunGoal{DistanceKm: 1, TimeMinutes: 6}, settings)
	require.NoError(t, h.ctrl.Start(context.Background()))
	require.NoError(t, h.ctrl.Suspend())

	h.pos.mu.Lock()
	for i := int64(0); i <= 12; i++ {
		h.pos.buffered = append(h.pos.buffered, sampleAt(float64(i)*100, i*30))
	}
	h.pos.mu.Unlock()

	h.clock.Set(t0.Add(400 * time.Second))
	require.NoError(t, h.ctrl.Resume())
	waitDone(t, h.ctrl)

	require.NotNil(t, h.ctrl.Result())
	assert.True(t, h.ctrl.Result().CompletedGoal)
	assert.Len(t, h.history.Runs(), 1)
}

// bufferMeters queues samples as if captured while suspended.
func (h *harness) bufferMeters(from, to, step float64, startSecs, secsPerStep int64) {
	h.pos.mu.Lock()
	defer h.pos.mu.Unlock()
	secs := startSecs
	for m := from; m <= to+1e-9; m += step {
		h.pos.buffered = append(h.pos.buffered, sampleAt(m, secs))
		secs += secsPerStep
	}
}

func (h *harness) bufferedLen() int {
	h.pos.mu.Lock()
	defer h.pos.mu.Unlock()
	return len(h.pos.buffered)
}

func TestStopWhileSuspendedKeepsBufferedSamples(t *testing.T) {
	h := newHarness(t, types.RunGoal{DistanceKm: 5, TimeMinutes: 25}, types.DefaultSettings())
	require.NoError(t, h.ctrl.Start(context.Background()))

	for i := int64(0); i <= 5; i++ {
		h.push(t, sampleAt(float64(i)*100, i*30))
	}
	require.NoError(t, h.ctrl.Suspend())
	before := len(h.speech.Calls())

	h.bufferMeters(600, 1000, 100, 180, 30)
	h.clock.Set(t0.Add(330 * time.Second))
	h.ctrl.Stop()

	runs := h.history.Runs()
	require.Len(t, runs, 1)
	assert.InDelta(t, 1.0, runs[0].ActualDistanceKm, 1e-6, "background distance is part of the record")
	assert.Equal(t, int64(330), runs[0].ActualTimeSeconds)
	assert.False(t, runs[0].CompletedGoal)
	assert.Zero(t, h.bufferedLen())
	assert.Equal(t, 1, h.pos.foregrounds)
	assert.Len(t, h.ctrl.Track(), 11)
	assert.Len(t, h.speech.Calls(), before, "stopping says nothing about the gap")
}

func TestStreamEndWhileSuspendedCanReachGoal(t *testing.T) {
	settings := types.DefaultSettings()
	settings.AutoStopOnGoal = true
	h := newHarness(t, types.RunGoal{DistanceKm: 1, TimeMinutes: 6}, settings,
		func(c *Config) { c.StopOnStreamEnd = true })
	require.NoError(t, h.ctrl.Start(context.Background()))

	for i := int64(0); i <= 5; i++ {
		h.push(t, sampleAt(float64(i)*100, i*30))
	}
	require.NoError(t, h.ctrl.Suspend())
	before := len(h.speech.Calls())

	h.bufferMeters(600, 1100, 100, 180, 30)
	h.clock.Set(t0.Add(330 * time.Second))
	close(h.pos.ch)
	waitDone(t, h.ctrl)

	runs := h.history.Runs()
	require.Len(t, runs, 1)
	assert.True(t, runs[0].CompletedGoal)
	assert.InDelta(t, 1.1, runs[0].ActualDistanceKm, 1e-6)
	assert.Zero(t, h.bufferedLen())
	assert.Len(t, h.speech.Calls(), before)
}

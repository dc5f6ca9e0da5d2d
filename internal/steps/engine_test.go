package steps

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/claude/fitcycle/internal/clock/clocktest"
	"github.com/claude/fitcycle/internal/models"
	"github.com/claude/fitcycle/internal/store"
)

var day1 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

// fakeSensor records subscriptions and lets tests push readings.
type fakeSensor struct {
	mu         sync.Mutex
	available  bool
	availErr   error
	subErr     error
	total      int64
	totalErr   error
	subs       map[int]func(int64)
	nextID     int
	subscribed int
	queries    [][2]time.Time
}

func newFakeSensor(available bool) *fakeSensor {
	return &fakeSensor{available: available, subs: map[int]func(int64){}, totalErr: ErrRangeUnsupported}
}

type fakeSub struct {
	s  *fakeSensor
	id int
}

func (f fakeSub) Cancel() {
	f.s.mu.Lock()
	delete(f.s.subs, f.id)
	f.s.mu.Unlock()
}

func (s *fakeSensor) Available(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available, s.availErr
}

func (s *fakeSensor) Subscribe(fn func(int64)) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subErr != nil {
		return nil, s.subErr
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subscribed++
	return fakeSub{s: s, id: id}, nil
}

func (s *fakeSensor) QueryRange(_ context.Context, start, end time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, [2]time.Time{start, end})
	return s.total, s.totalErr
}

func (s *fakeSensor) push(count int64) {
	s.mu.Lock()
	fns := make([]func(int64), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(count)
	}
}

func (s *fakeSensor) live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// gatedSensor holds Available until release is closed.
type gatedSensor struct {
	*fakeSensor
	entered chan struct{}
	release chan struct{}
}

func newGatedSensor() *gatedSensor {
	return &gatedSensor{
		fakeSensor: newFakeSensor(true),
		entered:    make(chan struct{}, 1),
		release:    make(chan struct{}),
	}
}

func (g *gatedSensor) Available(ctx context.Context) (bool, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return g.fakeSensor.Available(ctx)
}

type harness struct {
	engine *Engine
	store  store.Store
	sensor *fakeSensor
	clock  *clocktest.Fake
	sched  *clocktest.Scheduler
}

func newHarness(t *testing.T, st store.Store, sensor *fakeSensor, now time.Time) *harness {
	t.Helper()
	h := &harness{store: st, sensor: sensor, clock: clocktest.NewFake(now), sched: clocktest.NewScheduler()}
	deps := Deps{
		Store:     st,
		Clock:     h.clock,
		Scheduler: h.sched,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if sensor != nil {
		deps.Sensor = sensor
	}
	h.engine = New(deps, Config{DefaultGoal: 8000})
	h.engine.Load(context.Background())
	t.Cleanup(h.engine.Close)
	return h
}

func (h *harness) stored(t *testing.T) models.StepData {
	t.Helper()
	if err := h.engine.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	raw, err := h.store.Get(context.Background(), models.KeyStepData)
	if err != nil {
		t.Fatal(err)
	}
	d, err := models.DecodeStepData(raw)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// TestAccumulationExample walks the baseline, credit and discard sequence
// 1000 -> 1050 -> 20 -> 70 -> 1100.
func TestAccumulationExample(t *testing.T) {
	h := newHarness(t, store.NewMemory(), nil, day1)
	e := h.engine

	steps := []struct {
		reading   int64
		wantSteps int64
		wantBase  int64
	}{
		{1000, 0, 1000},
		{1050, 50, 1050},
		{20, 50, 1050},
		{70, 50, 1050},
		{1050, 50, 1050},
		{1100, 100, 1100},
	}
	for _, s := range steps {
		e.HandleReading(s.reading)
		if got := e.Steps(); got != s.wantSteps {
			t.Errorf("after %d: steps = %d, want %d", s.reading, got, s.wantSteps)
		}
		d := h.stored(t)
		if d.LastSensorValue == nil || *d.LastSensorValue != s.wantBase {
			t.Errorf("after %d: lastSensorValue = %v, want %d", s.reading, d.LastSensorValue, s.wantBase)
		}
		if d.Steps != s.wantSteps {
			t.Errorf("after %d: stored steps = %d", s.reading, d.Steps)
		}
	}
}

// TestRolloverExample verifies a new date resets steps and the baseline but
// keeps the goal.
func TestRolloverExample(t *testing.T) {
	st := store.NewMemory()
	st.Set(context.Background(), models.KeyStepData,
		[]byte(`{"version":1,"date":"2024-03-04","steps":8000,"lastSensorValue":52000,"stepGoal":12000}`))

	h := newHarness(t, st, nil, day1)
	if h.engine.Steps() != 8000 {
		t.Fatalf("steps = %d", h.engine.Steps())
	}

	h.clock.Set(day1.AddDate(0, 0, 1))
	h.engine.Resume(context.Background())

	d := h.stored(t)
	if d.Date != "2024-03-05" || d.Steps != 0 || d.LastSensorValue != nil || d.StepGoal != 12000 {
		t.Errorf("after rollover = %+v", d)
	}
	if h.engine.Goal() != 12000 {
		t.Errorf("goal = %d", h.engine.Goal())
	}
}

// TestRolloverOnTick verifies the periodic check resets the day and the next
// reading only sets a new baseline.
func TestRolloverOnTick(t *testing.T) {
	sensor := newFakeSensor(true)
	h := newHarness(t, store.NewMemory(), sensor, time.Date(2024, 3, 4, 23, 58, 0, 0, time.UTC))
	h.engine.Start(context.Background())
	sensor.push(100)
	sensor.push(400)
	if h.engine.Steps() != 300 {
		t.Fatalf("steps = %d", h.engine.Steps())
	}

	h.clock.Advance(5 * time.Minute)
	h.sched.Fire()
	if h.engine.Steps() != 0 {
		t.Errorf("steps after midnight = %d", h.engine.Steps())
	}
	sensor.push(450)
	if h.engine.Steps() != 0 {
		t.Errorf("first reading of the day credited %d steps", h.engine.Steps())
	}
	sensor.push(460)
	if h.engine.Steps() != 10 {
		t.Errorf("steps = %d, want 10", h.engine.Steps())
	}
}

// TestLoadRollsOverStaleRecord verifies a record from an earlier date is
// reset on load and archived into history.
func TestLoadRollsOverStaleRecord(t *testing.T) {
	st := store.NewMemory()
	st.Set(context.Background(), models.KeyStepData,
		[]byte(`{"version":1,"date":"2024-03-03","steps":6500,"lastSensorValue":9000,"stepGoal":7000}`))

	h := newHarness(t, st, nil, day1)
	if h.engine.Steps() != 0 || h.engine.Goal() != 7000 {
		t.Errorf("steps = %d, goal = %d", h.engine.Steps(), h.engine.Goal())
	}
	hist := h.engine.History(2)
	if len(hist) != 2 || hist[0].Date != "2024-03-03" || hist[0].Steps != 6500 {
		t.Errorf("history = %+v", hist)
	}
}

// TestHistoryArchivesFinishedDays verifies each finished day's total is kept
// and today's entry is the running total.
func TestHistoryArchivesFinishedDays(t *testing.T) {
	h := newHarness(t, store.NewMemory(), nil, day1)
	e := h.engine
	for i, walked := range []int64{300, 0, 1200} {
		h.clock.Set(day1.AddDate(0, 0, i))
		e.HandleReading(0)
		e.HandleReading(walked)
	}

	got := e.History(4)
	want := []DayTotal{
		{"2024-03-03", 0},
		{"2024-03-04", 300},
		{"2024-03-05", 0},
		{"2024-03-06", 1200},
	}
	if len(got) != len(want) {
		t.Fatalf("history = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("history[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	if err := e.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	raw, err := h.store.Get(context.Background(), models.KeyStepHistory)
	if err != nil {
		t.Fatal(err)
	}
	stored, err := models.DecodeStepHistory(raw)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Days["2024-03-04"] != 300 {
		t.Errorf("stored history = %v", stored.Days)
	}
}

// TestResumeRaisesToPlatformTotal verifies reconciliation only ever raises
// the tracked total, and queries from local midnight.
func TestResumeRaisesToPlatformTotal(t *testing.T) {
	sensor := newFakeSensor(true)
	h := newHarness(t, store.NewMemory(), sensor, day1)
	e := h.engine
	e.HandleReading(100)
	e.HandleReading(600)

	sensor.mu.Lock()
	sensor.total, sensor.totalErr = 2500, nil
	sensor.mu.Unlock()
	e.Resume(context.Background())
	if e.Steps() != 2500 {
		t.Errorf("steps = %d, want 2500", e.Steps())
	}

	sensor.mu.Lock()
	sensor.total = 1000
	q := sensor.queries[0]
	sensor.mu.Unlock()
	e.Resume(context.Background())
	if e.Steps() != 2500 {
		t.Errorf("lower platform total changed steps to %d", e.Steps())
	}
	if !q[0].Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)) || !q[1].Equal(day1) {
		t.Errorf("query range = %v..%v", q[0], q[1])
	}

	// Sensor deltas keep accumulating on top of the reconciled total.
	e.HandleReading(650)
	if e.Steps() != 2550 {
		t.Errorf("steps = %d, want 2550", e.Steps())
	}
	if got := h.stored(t).Steps; got != 2550 {
		t.Errorf("stored steps = %d", got)
	}
}

// TestResumeToleratesQueryFailure verifies unsupported or failing range
// queries leave the count alone.
func TestResumeToleratesQueryFailure(t *testing.T) {
	sensor := newFakeSensor(true)
	h := newHarness(t, store.NewMemory(), sensor, day1)
	h.engine.HandleReading(10)
	h.engine.HandleReading(40)

	h.engine.Resume(context.Background())
	sensor.mu.Lock()
	sensor.totalErr = errors.New("health store locked")
	sensor.total = 9999
	sensor.mu.Unlock()
	h.engine.Resume(context.Background())

	if h.engine.Steps() != 30 {
		t.Errorf("steps = %d, want 30", h.engine.Steps())
	}
}

// TestAvailabilityIsTriState verifies nil before Start, then the sensor's
// answer, with errors and missing sensors reported as unavailable.
func TestAvailabilityIsTriState(t *testing.T) {
	tests := []struct {
		name   string
		sensor *fakeSensor
		want   bool
	}{
		{"available", newFakeSensor(true), true},
		{"denied", newFakeSensor(false), false},
		{"no sensor", nil, false},
		{"check fails", &fakeSensor{available: true, availErr: errors.New("permission"), subs: map[int]func(int64){}}, false},
		{"subscribe fails", &fakeSensor{available: true, subErr: errors.New("busy"), subs: map[int]func(int64){}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, store.NewMemory(), tt.sensor, day1)
			if h.engine.Available() != nil {
				t.Fatal("availability should be unknown before Start")
			}
			h.engine.Start(context.Background())
			got := h.engine.Available()
			if got == nil || *got != tt.want {
				t.Errorf("Available() = %v, want %v", got, tt.want)
			}
			if s := h.engine.Snapshot(); s.Available == nil || *s.Available != tt.want {
				t.Errorf("snapshot availability = %v", s.Available)
			}
		})
	}
}

// TestNoDoubleSubscription verifies repeated Start calls keep one
// subscription and one timer, and Stop tears both down.
func TestNoDoubleSubscription(t *testing.T) {
	sensor := newFakeSensor(true)
	h := newHarness(t, store.NewMemory(), sensor, day1)
	for i := 0; i < 3; i++ {
		h.engine.Start(context.Background())
	}
	if sensor.live() != 1 || sensor.subscribed != 1 {
		t.Errorf("live = %d, subscribed = %d; want 1, 1", sensor.live(), sensor.subscribed)
	}
	if h.sched.Active() != 1 {
		t.Errorf("timers = %d", h.sched.Active())
	}

	h.engine.Stop()
	if sensor.live() != 0 || h.sched.Active() != 0 {
		t.Errorf("after Stop: live = %d, timers = %d", sensor.live(), h.sched.Active())
	}

	h.engine.Start(context.Background())
	if sensor.live() != 1 || h.sched.Active() != 1 {
		t.Errorf("after restart: live = %d, timers = %d", sensor.live(), h.sched.Active())
	}
}

// TestConcurrentStart verifies racing Start calls still subscribe once.
func TestConcurrentStart(t *testing.T) {
	sensor := newFakeSensor(true)
	h := newHarness(t, store.NewMemory(), sensor, day1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.engine.Start(context.Background())
		}()
	}
	wg.Wait()
	if sensor.live() != 1 {
		t.Errorf("live subscriptions = %d, want 1", sensor.live())
	}
}

// TestStopDuringStart verifies a Stop issued while Start waits on the
// sensor leaves no subscription behind, and a later Start still works.
func TestStopDuringStart(t *testing.T) {
	sensor := newGatedSensor()
	st := store.NewMemory()
	clk := clocktest.NewFake(day1)
	e := New(Deps{
		Store:     st,
		Clock:     clk,
		Scheduler: clocktest.NewScheduler(),
		Sensor:    sensor,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Config{})
	e.Load(context.Background())
	defer e.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Start(context.Background())
	}()
	<-sensor.entered
	e.Stop()
	close(sensor.release)
	<-done

	if sensor.live() != 0 {
		t.Errorf("live subscriptions after Stop = %d, want 0", sensor.live())
	}
	e.mu.Lock()
	leaked := e.sub != nil
	e.mu.Unlock()
	if leaked {
		t.Error("engine kept a subscription after Stop")
	}

	e.Start(context.Background())
	if sensor.live() != 1 {
		t.Errorf("live subscriptions after restart = %d, want 1", sensor.live())
	}
}

// TestRecheckFollowsAvailability verifies availability can drop and return,
// taking the subscription with it.
func TestRecheckFollowsAvailability(t *testing.T) {
	sensor := newFakeSensor(true)
	h := newHarness(t, store.NewMemory(), sensor, day1)
	h.engine.Start(context.Background())

	transitions := []struct {
		available bool
		wantLive  int
	}{
		{false, 0},
		{false, 0},
		{true, 1},
		{true, 1},
	}
	for i, step := range transitions {
		sensor.mu.Lock()
		sensor.available = step.available
		sensor.mu.Unlock()

		h.engine.Recheck(context.Background())

		got := h.engine.Available()
		if got == nil || *got != step.available {
			t.Errorf("step %d: Available() = %v, want %v", i, got, step.available)
		}
		if sensor.live() != step.wantLive {
			t.Errorf("step %d: live subscriptions = %d, want %d", i, sensor.live(), step.wantLive)
		}
	}

	// The restored subscription feeds the accumulator again.
	sensor.push(100)
	sensor.push(150)
	if got := h.engine.Steps(); got != 50 {
		t.Errorf("steps = %d, want 50", got)
	}
}

// TestSetGoal verifies validation and persistence of the goal.
func TestSetGoal(t *testing.T) {
	h := newHarness(t, store.NewMemory(), nil, day1)
	for _, g := range []int{0, -5} {
		if err := h.engine.SetGoal(g); !errors.Is(err, ErrInvalidGoal) {
			t.Errorf("SetGoal(%d) err = %v", g, err)
		}
	}
	if err := h.engine.SetGoal(5000); err != nil {
		t.Fatal(err)
	}
	if h.stored(t).StepGoal != 5000 {
		t.Error("goal not persisted")
	}
}

// TestProgressIsClamped verifies progress tops out at 100.
func TestProgressIsClamped(t *testing.T) {
	h := newHarness(t, store.NewMemory(), nil, day1)
	h.engine.SetGoal(1000)
	h.engine.HandleReading(0)
	h.engine.HandleReading(250)
	if got := h.engine.Progress(); got != 25 {
		t.Errorf("progress = %v, want 25", got)
	}
	h.engine.HandleReading(5000)
	if got := h.engine.Progress(); got != 100 {
		t.Errorf("progress = %v, want 100", got)
	}
}

// TestMalformedRecordStartsFresh verifies corrupt data resets to defaults.
func TestMalformedRecordStartsFresh(t *testing.T) {
	st := store.NewMemory()
	st.Set(context.Background(), models.KeyStepData, []byte(`not json`))
	h := newHarness(t, st, nil, day1)
	d := h.stored(t)
	if d.Date != "2024-03-04" || d.Steps != 0 || d.LastSensorValue != nil || d.StepGoal != 8000 {
		t.Errorf("stored = %+v", d)
	}
}

// TestPersistedBaselineSurvivesRestart verifies a reading after reload is
// measured against the stored baseline.
func TestPersistedBaselineSurvivesRestart(t *testing.T) {
	st := store.NewMemory()
	h := newHarness(t, st, nil, day1)
	h.engine.HandleReading(1000)
	h.engine.HandleReading(1200)
	h.engine.Close()

	h2 := newHarness(t, st, nil, day1.Add(time.Hour))
	h2.engine.HandleReading(1500)
	if got := h2.engine.Steps(); got != 500 {
		t.Errorf("steps = %d, want 500", got)
	}
	if d := h2.stored(t); d.LastSensorValue == nil || *d.LastSensorValue != 1500 {
		t.Errorf("baseline = %v", d.LastSensorValue)
	}
}

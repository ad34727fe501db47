package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunm-dev/wheelhouse/internal/engine"
	"github.com/arjunm-dev/wheelhouse/internal/models"
	"github.com/arjunm-dev/wheelhouse/internal/periodclock"
	"github.com/arjunm-dev/wheelhouse/internal/store"
)

type fakeSettler struct {
	mu         sync.Mutex
	calls      []string // period ids
	settlement engine.Settlement
	err        error
}

func (f *fakeSettler) Settle(_ context.Context, _ models.Room, periodID string) (engine.Settlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, periodID)
	if f.settlement.Result != nil {
		res := *f.settlement.Result
		res.PeriodID = periodID
		return engine.Settlement{Status: f.settlement.Status, Result: &res, Mode: f.settlement.Mode}, f.err
	}
	return f.settlement, f.err
}

type fakeEvents struct {
	mu      sync.Mutex
	started []string
	closed  []string
	results []string
	errors  []string
	beats   int
}

func (f *fakeEvents) PeriodStarted(_ models.Room, snap models.PeriodSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, snap.PeriodID)
	return nil
}

func (f *fakeEvents) BettingClosed(_ models.Room, periodID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, periodID)
	return nil
}

func (f *fakeEvents) Result(_ models.Room, result models.PeriodResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result.PeriodID)
	return nil
}

func (f *fakeEvents) PeriodError(_ models.Room, periodID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, periodID)
	return nil
}

func (f *fakeEvents) Heartbeat(_ string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beats++
	return nil
}

type schedulerFixture struct {
	sched     *Scheduler
	room      models.Room
	clock     *clockwork.FakeClock
	snapshots *store.MemorySnapshotStore
	locker    *store.MemoryLocker
	settler   *fakeSettler
	events    *fakeEvents
}

// newFixture positions the fake clock exactly at a period boundary of the
// wingo:30 room.
func newFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	room := models.Room{GameType: models.GameTypeWingo, Duration: 30 * time.Second}
	boundary := time.Date(2024, time.June, 15, 10, 0, 0, 0, periodclock.Location())
	clock := clockwork.NewFakeClockAt(boundary)

	snapshots := store.NewMemorySnapshotStore()
	locker := store.NewMemoryLocker(clock)
	settler := &fakeSettler{settlement: engine.Settlement{
		Status: engine.StatusSettled,
		Result: &models.PeriodResult{GameType: room.GameType, DurationSeconds: room.Seconds()},
		Mode:   "protected",
	}}
	events := &fakeEvents{}

	sched := New(
		[]models.Room{room},
		snapshots,
		locker,
		store.NewMemorySequenceStore(),
		settler,
		events,
		clock,
		Config{},
	)
	return &schedulerFixture{
		sched:     sched,
		room:      room,
		clock:     clock,
		snapshots: snapshots,
		locker:    locker,
		settler:   settler,
		events:    events,
	}
}

func TestTick_WritesSnapshotEveryTick(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := &roomState{}

	prevRemaining := f.room.Seconds()
	for i := 0; i < 10; i++ {
		f.sched.tick(ctx, f.room, st)

		snap, err := f.snapshots.ReadSnapshot(ctx, f.room)
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, periodclock.PeriodID(f.room, f.clock.Now()), snap.PeriodID)
		assert.GreaterOrEqual(t, snap.TimeRemaining, 0)
		assert.LessOrEqual(t, snap.TimeRemaining, prevRemaining, "countdown never increases within a period")
		assert.Equal(t, f.clock.Now().UTC(), snap.UpdatedAt)

		prevRemaining = snap.TimeRemaining
		f.clock.Advance(time.Second)
	}
}

func TestTick_BettingClosesOnceInCloseWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := &roomState{}

	// Walk a full period one second at a time.
	var periodID string
	for i := 0; i < 30; i++ {
		f.sched.tick(ctx, f.room, st)
		if i == 0 {
			periodID = st.cachedPeriod
		}
		snap, err := f.snapshots.ReadSnapshot(ctx, f.room)
		require.NoError(t, err)
		if snap.TimeRemaining >= 5 {
			assert.True(t, snap.BettingOpen, "tick %d remaining %d", i, snap.TimeRemaining)
		} else {
			assert.False(t, snap.BettingOpen, "tick %d remaining %d", i, snap.TimeRemaining)
		}
		f.clock.Advance(time.Second)
	}

	assert.Equal(t, []string{periodID}, f.events.closed, "exactly one betting-closed event")
}

func TestTick_TransitionSettlesPreviousPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := &roomState{}

	f.sched.tick(ctx, f.room, st)
	first := st.cachedPeriod

	// Cross the boundary.
	f.clock.Advance(30 * time.Second)
	f.sched.tick(ctx, f.room, st)
	second := st.cachedPeriod

	assert.NotEqual(t, first, second)
	assert.Equal(t, []string{first}, f.settler.calls)
	assert.Equal(t, []string{first}, f.events.results, "winner broadcasts the result")
	assert.Empty(t, f.events.errors)
}

func TestSettlePrevious_LockLoserIsSilent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := &roomState{}

	f.sched.tick(ctx, f.room, st)
	first := st.cachedPeriod

	// Another instance already holds the settlement lock.
	held, err := f.locker.TryAcquire(ctx, lockKey(f.room, first), "other-instance", 30*time.Second)
	require.NoError(t, err)
	require.True(t, held)

	f.clock.Advance(30 * time.Second)
	f.sched.tick(ctx, f.room, st)

	assert.Empty(t, f.settler.calls, "loser must not settle")
	assert.Empty(t, f.events.results)
	assert.Empty(t, f.events.errors)
}

func TestSettlePrevious_OutsideGraceWindowSkips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := periodclock.PeriodID(f.room, f.clock.Now())
	// Jump far past the period's settlement window.
	f.clock.Advance(10 * time.Minute)
	f.sched.settlePrevious(ctx, f.room, old)

	assert.Empty(t, f.settler.calls)
}

func TestSettlePrevious_TerminalErrorBroadcastsPeriodError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := &roomState{}

	f.settler.settlement = engine.Settlement{Status: engine.StatusAbandoned}
	f.settler.err = assert.AnError

	f.sched.tick(ctx, f.room, st)
	first := st.cachedPeriod
	f.clock.Advance(30 * time.Second)
	f.sched.tick(ctx, f.room, st)

	assert.Equal(t, []string{first}, f.events.errors)
	assert.Empty(t, f.events.results)
}

func TestSettlePrevious_ReleasesLockAfterSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := &roomState{}

	f.sched.tick(ctx, f.room, st)
	first := st.cachedPeriod
	f.clock.Advance(30 * time.Second)
	f.sched.tick(ctx, f.room, st)

	// The lock must be free again once settlement finished.
	held, err := f.locker.TryAcquire(ctx, lockKey(f.room, first), "next-owner", time.Second)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestRunOnce_PurgesOldSequenceKeys(t *testing.T) {
	room := models.Room{GameType: models.GameTypeWingo, Duration: 30 * time.Second}
	clock := clockwork.NewFakeClockAt(time.Date(2024, time.June, 15, 3, 0, 0, 0, periodclock.Location()))
	sequences := store.NewMemorySequenceStore()
	locker := store.NewMemoryLocker(clock)
	ctx := context.Background()

	require.NoError(t, sequences.RecordSequence(ctx, room, "20240610", 100))
	require.NoError(t, sequences.RecordSequence(ctx, room, "20240614", 200))
	require.NoError(t, sequences.RecordSequence(ctx, room, "20240615", 5))

	job := NewResetJob(sequences, locker, clock)
	job.runOnce(ctx)

	// RetainDays=2 keeps the current and previous betting day.
	purged, err := sequences.PurgeBefore(ctx, "99999999")
	require.NoError(t, err)
	assert.Equal(t, 2, purged, "only the two retained days remain")
}

func TestResetJob_UntilNextRun(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, time.June, 15, 1, 0, 0, 0, periodclock.Location()))
	job := NewResetJob(store.NewMemorySequenceStore(), store.NewMemoryLocker(clock), clock)

	assert.Equal(t, 2*time.Hour, job.untilNextRun())

	clock.Advance(3 * time.Hour) // now 04:00, next run tomorrow 03:00
	assert.Equal(t, 23*time.Hour, job.untilNextRun())
}

func TestLockKey(t *testing.T) {
	room := models.Room{GameType: models.GameTypeK3, Duration: 60 * time.Second}
	assert.Equal(t, "settle.k3:60.20240615000000001", lockKey(room, "20240615000000001"))
}

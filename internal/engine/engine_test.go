package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunm-dev/wheelhouse/internal/models"
	"github.com/arjunm-dev/wheelhouse/internal/periodclock"
	"github.com/arjunm-dev/wheelhouse/internal/store"
)

type fakeLedger struct {
	bets     []models.Bet
	bettors  int
	listErr  error
	countErr error
	blockCtx bool // CountDistinctBettors waits for ctx cancellation
}

func (f *fakeLedger) ListBets(_ context.Context, _ models.Room, _ string) ([]models.Bet, error) {
	return f.bets, f.listErr
}

func (f *fakeLedger) CountDistinctBettors(ctx context.Context, _ models.Room, _ string) (int, error) {
	if f.blockCtx {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return f.bettors, f.countErr
}

// fakeResults mimics the insert-once-then-reread contract of the real
// result repository.
type fakeResults struct {
	mu        sync.Mutex
	results   map[string]models.PeriodResult
	inserts   int
	getErr    error
	commitErr error
}

func newFakeResults() *fakeResults {
	return &fakeResults{results: make(map[string]models.PeriodResult)}
}

func resultKey(room models.Room, periodID string) string {
	return room.Key() + "/" + periodID
}

func (f *fakeResults) GetResult(_ context.Context, room models.Room, periodID string) (*models.PeriodResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if res, ok := f.results[resultKey(room, periodID)]; ok {
		return &res, nil
	}
	return nil, nil
}

func (f *fakeResults) CommitResult(_ context.Context, res models.PeriodResult) (*models.PeriodResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return nil, f.commitErr
	}
	key := resultKey(res.Room(), res.PeriodID)
	if existing, ok := f.results[key]; ok {
		return &existing, nil
	}
	f.results[key] = res
	f.inserts++
	return &res, nil
}

type fakeProofs struct {
	external bool
}

func (f *fakeProofs) Proof(_ context.Context, digit, _ int) (string, bool) {
	return strings.Repeat("a", 63) + fmt.Sprintf("%d", digit), f.external
}

// endedPeriod returns a room, a period id and a fake clock positioned one
// second after that period's end.
func endedPeriod(t *testing.T) (models.Room, string, *clockwork.FakeClock) {
	t.Helper()
	room := models.Room{GameType: models.GameTypeWingo, Duration: 30 * time.Second}
	base := time.Date(2024, time.June, 15, 10, 0, 12, 0, periodclock.Location())
	periodID := periodclock.PeriodID(room, base)
	_, end, err := periodclock.Bounds(periodID, room.Duration)
	require.NoError(t, err)
	return room, periodID, clockwork.NewFakeClockAt(end.Add(time.Second))
}

func TestSettle_ProtectedMode(t *testing.T) {
	room, periodID, clock := endedPeriod(t)
	ledger := &fakeLedger{
		bettors: 3,
		bets: []models.Bet{
			{UserID: "u1", Type: models.BetTypeNumber, Value: "1", Stake: 10},
			{UserID: "u2", Type: models.BetTypeNumber, Value: "3", Stake: 5},
			{UserID: "u3", Type: models.BetTypeNumber, Value: "3", Stake: 20},
		},
	}
	results := newFakeResults()
	eng := New(ledger, results, &fakeProofs{external: true}, Config{}, clock)

	settlement, err := eng.Settle(context.Background(), room, periodID)
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, settlement.Status)
	assert.Equal(t, "protected", settlement.Mode)
	require.NotNil(t, settlement.Result)
	assert.Equal(t, 0, settlement.Result.Outcome.Value(), "zero-liability digit")
	assert.Equal(t, models.ProofSourceExternal, settlement.Result.ProofSource)
	assert.False(t, settlement.Result.Fallback)
	assert.Equal(t, 1, results.inserts)
}

func TestSettle_FairModeAtThreshold(t *testing.T) {
	room, periodID, clock := endedPeriod(t)
	ledger := &fakeLedger{bettors: 100}
	results := newFakeResults()
	eng := New(ledger, results, &fakeProofs{}, Config{LiquidityThreshold: 100}, clock)

	settlement, err := eng.Settle(context.Background(), room, periodID)
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, settlement.Status)
	assert.Equal(t, "fair", settlement.Mode)
	n := settlement.Result.Outcome.Value()
	assert.GreaterOrEqual(t, n, 0)
	assert.LessOrEqual(t, n, 9)
	assert.Equal(t, models.ProofSourceSynthesized, settlement.Result.ProofSource)
}

func TestSettle_TimingGates(t *testing.T) {
	room, periodID, _ := endedPeriod(t)
	_, end, err := periodclock.Bounds(periodID, room.Duration)
	require.NoError(t, err)

	t.Run("not due before end", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(end.Add(-10 * time.Second))
		eng := New(&fakeLedger{}, newFakeResults(), &fakeProofs{}, Config{}, clock)
		settlement, err := eng.Settle(context.Background(), room, periodID)
		require.NoError(t, err)
		assert.Equal(t, StatusNotDue, settlement.Status)
	})

	t.Run("within premature margin settles", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(end.Add(-time.Second))
		eng := New(&fakeLedger{bettors: 1}, newFakeResults(), &fakeProofs{}, Config{}, clock)
		settlement, err := eng.Settle(context.Background(), room, periodID)
		require.NoError(t, err)
		assert.Equal(t, StatusSettled, settlement.Status)
	})

	t.Run("stale after the window", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(end.Add(121 * time.Second))
		results := newFakeResults()
		eng := New(&fakeLedger{}, results, &fakeProofs{}, Config{}, clock)
		settlement, err := eng.Settle(context.Background(), room, periodID)
		require.NoError(t, err)
		assert.Equal(t, StatusStale, settlement.Status)
		assert.Equal(t, 0, results.inserts, "stale periods are never committed")
	})
}

func TestSettle_RepublishesExistingResult(t *testing.T) {
	room, periodID, clock := endedPeriod(t)
	results := newFakeResults()
	prior := models.PeriodResult{
		GameType:        room.GameType,
		DurationSeconds: room.Seconds(),
		PeriodID:        periodID,
		Outcome:         models.DigitResult(7),
		SettledAt:       clock.Now().UTC(),
	}
	_, err := results.CommitResult(context.Background(), prior)
	require.NoError(t, err)

	eng := New(&fakeLedger{bettors: 1}, results, &fakeProofs{}, Config{}, clock)
	settlement, err := eng.Settle(context.Background(), room, periodID)
	require.NoError(t, err)
	assert.Equal(t, StatusRepublished, settlement.Status)
	assert.Equal(t, 7, settlement.Result.Outcome.Value())
	assert.Equal(t, 1, results.inserts, "no second insert")
}

func TestSettle_IdempotencyCheckFailureStillSettles(t *testing.T) {
	room, periodID, clock := endedPeriod(t)
	results := newFakeResults()
	results.getErr = errors.New("read replica down")
	eng := New(&fakeLedger{bettors: 1}, results, &fakeProofs{}, Config{}, clock)

	// The pre-check read failing must not abandon the period; the commit
	// is idempotent, so settlement proceeds.
	settlement, err := eng.Settle(context.Background(), room, periodID)
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, settlement.Status)
	assert.Equal(t, 1, results.inserts)
}

func TestSettle_FallbackOnLedgerFailure(t *testing.T) {
	room, periodID, clock := endedPeriod(t)
	ledger := &fakeLedger{countErr: errors.New("ledger down")}
	results := newFakeResults()
	eng := New(ledger, results, &fakeProofs{}, Config{}, clock)

	settlement, err := eng.Settle(context.Background(), room, periodID)
	require.NoError(t, err)
	assert.Equal(t, StatusFallback, settlement.Status)
	require.NotNil(t, settlement.Result)
	assert.True(t, settlement.Result.Fallback)
	assert.Equal(t, 1, results.inserts)
}

func TestSettle_FallbackOnGenerationTimeout(t *testing.T) {
	room, periodID, clock := endedPeriod(t)
	ledger := &fakeLedger{blockCtx: true}
	results := newFakeResults()
	eng := New(ledger, results, &fakeProofs{}, Config{GenerationTimeout: 10 * time.Millisecond}, clock)

	settlement, err := eng.Settle(context.Background(), room, periodID)
	require.NoError(t, err)
	assert.Equal(t, StatusFallback, settlement.Status)
	assert.True(t, settlement.Result.Fallback)
}

func TestSettle_AbandonedWhenFallbackCommitFails(t *testing.T) {
	room, periodID, clock := endedPeriod(t)
	ledger := &fakeLedger{countErr: errors.New("ledger down")}
	results := newFakeResults()
	results.commitErr = errors.New("store down")
	eng := New(ledger, results, &fakeProofs{}, Config{}, clock)

	settlement, err := eng.Settle(context.Background(), room, periodID)
	require.Error(t, err)
	assert.Equal(t, StatusAbandoned, settlement.Status)
}

func TestSettle_ConcurrentReplicasCommitOnce(t *testing.T) {
	room, periodID, clock := endedPeriod(t)
	results := newFakeResults()
	ledger := &fakeLedger{bettors: 1}
	eng := New(ledger, results, &fakeProofs{}, Config{}, clock)
	locker := store.NewMemoryLocker(clock)

	const replicas = 8
	var (
		wg      sync.WaitGroup
		settled int32
		mu      sync.Mutex
	)
	start := make(chan struct{})
	for i := 0; i < replicas; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			<-start
			token := fmt.Sprintf("replica-%d", id)
			key := "settle." + room.Key() + "." + periodID
			ok, err := locker.TryAcquire(context.Background(), key, token, 30*time.Second)
			if !assert.NoError(t, err) || !ok {
				return
			}
			defer func() { _ = locker.Release(context.Background(), key, token) }()
			settlement, err := eng.Settle(context.Background(), room, periodID)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			if settlement.Status == StatusSettled {
				settled++
			}
			mu.Unlock()
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), settled, "exactly one replica wins the lock")
	assert.Equal(t, 1, results.inserts, "exactly one result committed")
}

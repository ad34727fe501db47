// Package scheduler runs the tick-driven period lifecycle for every room:
// transition detection, snapshot upkeep, betting-close announcements, and
// lock-guarded settlement of just-ended periods. Correctness holds with N
// independent instances running against the same shared store; the clock
// function alone reconstructs truth after any restart.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/arjunm-dev/wheelhouse/internal/engine"
	"github.com/arjunm-dev/wheelhouse/internal/metrics"
	"github.com/arjunm-dev/wheelhouse/internal/models"
	"github.com/arjunm-dev/wheelhouse/internal/periodclock"
	"github.com/arjunm-dev/wheelhouse/internal/store"
)

// Settler settles one period; the engine implements it.
type Settler interface {
	Settle(ctx context.Context, room models.Room, periodID string) (engine.Settlement, error)
}

// Events is the slice of the broadcaster the scheduler uses.
type Events interface {
	PeriodStarted(room models.Room, snap models.PeriodSnapshot) error
	BettingClosed(room models.Room, periodID string) error
	Result(room models.Room, result models.PeriodResult) error
	PeriodError(room models.Room, periodID, reason string) error
	Heartbeat(instanceID string, roomCount int) error
}

// Config tunes the lifecycle manager. Zero values get defaults.
type Config struct {
	// TickInterval is the per-room polling cadence.
	TickInterval time.Duration
	// CloseWindow closes betting when timeRemaining drops below it.
	CloseWindow time.Duration
	// SettleGraceBefore/After bound how far from a period's end time a
	// transition may still trigger settlement of that period.
	SettleGraceBefore time.Duration
	SettleGraceAfter  time.Duration
	// LockTTL must exceed worst-case settlement latency with margin.
	LockTTL time.Duration
	// HeartbeatInterval paces the liveness signal.
	HeartbeatInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.CloseWindow <= 0 {
		c.CloseWindow = 5 * time.Second
	}
	if c.SettleGraceBefore <= 0 {
		c.SettleGraceBefore = 2 * time.Second
	}
	if c.SettleGraceAfter <= 0 {
		c.SettleGraceAfter = 60 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	return c
}

// Scheduler owns one lifecycle loop per room. Per-room state lives in the
// loop, never in ambient globals; rooms coordinate only through the shared
// store.
type Scheduler struct {
	rooms      []models.Room
	snapshots  store.SnapshotStore
	locker     store.Locker
	sequences  store.SequenceStore
	settler    Settler
	events     Events
	clock      clockwork.Clock
	cfg        Config
	instanceID string
}

// New builds a scheduler for the room catalog.
func New(
	rooms []models.Room,
	snapshots store.SnapshotStore,
	locker store.Locker,
	sequences store.SequenceStore,
	settler Settler,
	events Events,
	clock clockwork.Clock,
	cfg Config,
) *Scheduler {
	return &Scheduler{
		rooms:      rooms,
		snapshots:  snapshots,
		locker:     locker,
		sequences:  sequences,
		settler:    settler,
		events:     events,
		clock:      clock,
		cfg:        cfg.withDefaults(),
		instanceID: uuid.NewString()[:8],
	}
}

// InstanceID identifies this scheduler replica in logs and heartbeats.
func (s *Scheduler) InstanceID() string {
	return s.instanceID
}

// Run starts one lifecycle loop per room plus the heartbeat loop and blocks
// until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().
		Str("instance", s.instanceID).
		Int("rooms", len(s.rooms)).
		Msg("scheduler started")
	metrics.RoomsActive.Set(float64(len(s.rooms)))

	var wg sync.WaitGroup
	for _, room := range s.rooms {
		wg.Add(1)
		go func(r models.Room) {
			defer wg.Done()
			s.roomLoop(ctx, r)
		}(room)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.heartbeatLoop(ctx)
	}()

	wg.Wait()
	log.Info().Str("instance", s.instanceID).Msg("scheduler stopped")
	return ctx.Err()
}

// roomState is the explicit per-loop state; one loop owns it exclusively.
type roomState struct {
	cachedPeriod string
	prevOpen     bool
}

func (s *Scheduler) roomLoop(ctx context.Context, room models.Room) {
	log.Info().
		Str("instance", s.instanceID).
		Str("room", room.Key()).
		Msg("room lifecycle loop started")

	ticker := s.clock.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	st := &roomState{}
	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("instance", s.instanceID).
				Str("room", room.Key()).
				Msg("room lifecycle loop shutting down")
			return
		case <-ticker.Chan():
			s.tick(ctx, room, st)
		}
	}
}

// tick recomputes the current period from wall-clock time and reconciles
// state against it. Cheap, idempotent, self-healing: no catch-up state is
// needed after a restart or clock hiccup.
func (s *Scheduler) tick(ctx context.Context, room models.Room, st *roomState) {
	now := s.clock.Now()
	currentID := periodclock.PeriodID(room, now)

	if st.cachedPeriod != "" && st.cachedPeriod != currentID {
		s.settlePrevious(ctx, room, st.cachedPeriod)
	}
	if st.cachedPeriod != currentID {
		st.cachedPeriod = currentID
		st.prevOpen = false
		s.recordSequence(ctx, room, currentID)
		// No period-start broadcast here: with N instances every replica
		// sees the same transition within the same second. Starts are
		// announced lazily via the snapshot or an explicit request.
	}

	start, end, err := periodclock.Bounds(currentID, room.Duration)
	if err != nil {
		log.Error().Err(err).Str("room", room.Key()).Str("period_id", currentID).Msg("cannot resolve period bounds")
		return
	}

	remaining := int(end.Sub(now).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	if remaining > room.Seconds() {
		remaining = room.Seconds()
	}
	open := time.Duration(remaining)*time.Second >= s.cfg.CloseWindow

	snap := models.PeriodSnapshot{
		PeriodID:        currentID,
		GameType:        room.GameType,
		DurationSeconds: room.Seconds(),
		StartTime:       start,
		EndTime:         end,
		TimeRemaining:   remaining,
		BettingOpen:     open,
		UpdatedAt:       now.UTC(),
	}
	if err := s.snapshots.WriteSnapshot(ctx, snap); err != nil {
		metrics.SnapshotWriteErrors.WithLabelValues(string(room.GameType)).Inc()
		log.Error().Err(err).Str("room", room.Key()).Msg("snapshot write failed")
	}

	if !open && st.prevOpen {
		if err := s.events.BettingClosed(room, currentID); err != nil {
			log.Error().Err(err).Str("room", room.Key()).Str("period_id", currentID).Msg("betting-closed broadcast failed")
		}
	}
	st.prevOpen = open
}

// settlePrevious attempts lock-guarded settlement of the period that just
// ended. Losing the lock race is a silent no-op; the winner's broadcast
// reaches everyone.
func (s *Scheduler) settlePrevious(ctx context.Context, room models.Room, periodID string) {
	_, end, err := periodclock.Bounds(periodID, room.Duration)
	if err != nil {
		log.Error().Err(err).Str("room", room.Key()).Str("period_id", periodID).Msg("cannot resolve previous period bounds")
		return
	}

	lag := s.clock.Now().Sub(end)
	if lag < -s.cfg.SettleGraceBefore || lag > s.cfg.SettleGraceAfter {
		log.Warn().
			Str("room", room.Key()).
			Str("period_id", periodID).
			Dur("lag", lag).
			Msg("previous period outside settlement grace window")
		return
	}

	token := fmt.Sprintf("%s-%s", s.instanceID, uuid.NewString())
	key := lockKey(room, periodID)
	acquired, err := s.locker.TryAcquire(ctx, key, token, s.cfg.LockTTL)
	if err != nil {
		log.Error().Err(err).Str("room", room.Key()).Str("period_id", periodID).Msg("lock acquisition failed")
		return
	}
	if !acquired {
		metrics.LockContention.WithLabelValues(string(room.GameType)).Inc()
		log.Debug().
			Str("instance", s.instanceID).
			Str("room", room.Key()).
			Str("period_id", periodID).
			Msg("period being settled by another instance")
		return
	}
	defer func() {
		if err := s.locker.Release(ctx, key, token); err != nil {
			log.Error().Err(err).Str("room", room.Key()).Str("period_id", periodID).Msg("lock release failed")
		}
	}()

	settlement, err := s.settler.Settle(ctx, room, periodID)
	if err != nil {
		log.Error().Err(err).
			Str("room", room.Key()).
			Str("period_id", periodID).
			Str("status", settlement.Status.String()).
			Msg("settlement failed terminally")
		if pubErr := s.events.PeriodError(room, periodID, err.Error()); pubErr != nil {
			log.Error().Err(pubErr).Str("room", room.Key()).Msg("error broadcast failed")
		}
		return
	}

	switch settlement.Status {
	case engine.StatusSettled, engine.StatusFallback, engine.StatusRepublished:
		if err := s.events.Result(room, *settlement.Result); err != nil {
			log.Error().Err(err).Str("room", room.Key()).Str("period_id", periodID).Msg("result broadcast failed")
		}
	case engine.StatusNotDue, engine.StatusStale:
		log.Debug().
			Str("room", room.Key()).
			Str("period_id", periodID).
			Str("status", settlement.Status.String()).
			Msg("settlement rejected by timing gate")
	}
}

func (s *Scheduler) recordSequence(ctx context.Context, room models.Room, periodID string) {
	seq, err := periodclock.Sequence(periodID)
	if err != nil {
		return
	}
	date, err := periodclock.AnchorDate(periodID)
	if err != nil {
		return
	}
	// Best effort; the clock never reads this back.
	if err := s.sequences.RecordSequence(ctx, room, date, seq); err != nil {
		log.Debug().Err(err).Str("room", room.Key()).Msg("sequence bookkeeping write failed")
	}
}

func (s *Scheduler) heartbeatLoop(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := s.events.Heartbeat(s.instanceID, len(s.rooms)); err != nil {
				log.Warn().Err(err).Str("instance", s.instanceID).Msg("heartbeat publish failed")
			}
		}
	}
}

func lockKey(room models.Room, periodID string) string {
	return fmt.Sprintf("settle.%s.%s", room.Key(), periodID)
}

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/arjunm-dev/wheelhouse/internal/periodclock"
	"github.com/arjunm-dev/wheelhouse/internal/store"
)

// ResetJob purges stale per-room daily sequence bookkeeping keys once per
// day, under its own distributed lock so only one instance does the work.
// Purely hygiene: it bounds key growth across days and never affects the
// period clock, which derives everything from wall-clock time.
type ResetJob struct {
	sequences store.SequenceStore
	locker    store.Locker
	clock     clockwork.Clock

	// RunHour is the local (anchor-timezone) hour of the daily run.
	RunHour int
	// RetainDays keeps this many betting days of keys.
	RetainDays int
	// LockTTL covers the purge pass.
	LockTTL time.Duration
}

// NewResetJob builds the job with its defaults: 03:00 local, two days of
// history retained.
func NewResetJob(sequences store.SequenceStore, locker store.Locker, clock clockwork.Clock) *ResetJob {
	return &ResetJob{
		sequences:  sequences,
		locker:     locker,
		clock:      clock,
		RunHour:    3,
		RetainDays: 2,
		LockTTL:    5 * time.Minute,
	}
}

// Run blocks until ctx is cancelled, firing once per day at RunHour.
func (j *ResetJob) Run(ctx context.Context) {
	for {
		wait := j.untilNextRun()
		log.Info().Dur("wait", wait).Msg("daily sequence reset scheduled")

		timer := j.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
			j.runOnce(ctx)
		}
	}
}

func (j *ResetJob) untilNextRun() time.Duration {
	now := j.clock.Now().In(periodclock.Location())
	next := time.Date(now.Year(), now.Month(), now.Day(), j.RunHour, 0, 0, 0, periodclock.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

// runOnce takes the daily lock and purges keys older than the retention
// window. Losing the lock means another instance already ran today.
func (j *ResetJob) runOnce(ctx context.Context) {
	now := j.clock.Now()
	cutoff := periodclock.AnchorFor(now).AddDate(0, 0, -(j.RetainDays - 1)).Format("20060102")
	lockName := fmt.Sprintf("daily_reset.%s", periodclock.AnchorFor(now).Format("20060102"))
	token := uuid.NewString()

	acquired, err := j.locker.TryAcquire(ctx, lockName, token, j.LockTTL)
	if err != nil {
		log.Error().Err(err).Msg("daily reset lock acquisition failed")
		return
	}
	if !acquired {
		log.Debug().Msg("daily reset handled by another instance")
		return
	}
	defer func() {
		if err := j.locker.Release(ctx, lockName, token); err != nil {
			log.Error().Err(err).Msg("daily reset lock release failed")
		}
	}()

	purged, err := j.sequences.PurgeBefore(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Str("cutoff", cutoff).Msg("sequence key purge failed")
		return
	}
	log.Info().Int("purged", purged).Str("cutoff", cutoff).Msg("daily sequence reset complete")
}

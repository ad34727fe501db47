// Package broadcast publishes lifecycle events to the shared pub/sub medium
// with local, short-TTL deduplication. Dedup only bounds duplicate
// announcements from racing replicas; the settlement lock is what prevents
// duplicate settlement.
package broadcast

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/arjunm-dev/wheelhouse/internal/metrics"
	"github.com/arjunm-dev/wheelhouse/internal/models"
)

// Publisher is the transport contract; *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

const defaultDedupCapacity = 4096

// Broadcaster publishes lifecycle events, suppressing repeats of dedupable
// events within the dedup TTL.
type Broadcaster struct {
	pub   Publisher
	clock clockwork.Clock
	dedup *expirable.LRU[string, struct{}]
}

// New creates a Broadcaster. dedupTTL is heuristic tuning (tens of seconds),
// kept configurable rather than treated as an invariant.
func New(pub Publisher, dedupTTL time.Duration, clock clockwork.Clock) *Broadcaster {
	return &Broadcaster{
		pub:   pub,
		clock: clock,
		dedup: expirable.NewLRU[string, struct{}](defaultDedupCapacity, nil, dedupTTL),
	}
}

// PeriodStarted re-announces the current snapshot for a room. Used by the
// request responder, not by the per-tick loop.
func (b *Broadcaster) PeriodStarted(room models.Room, snap models.PeriodSnapshot) error {
	return b.publishDeduped(EventPeriodStart, room, snap.PeriodID, SubjectPeriodStart, PeriodStartedPayload{
		Room:      room.Key(),
		PeriodID:  snap.PeriodID,
		Snapshot:  snap,
		Timestamp: b.clock.Now().UTC(),
	})
}

// BettingClosed fires when a period crosses into its close window.
func (b *Broadcaster) BettingClosed(room models.Room, periodID string) error {
	return b.publishDeduped(EventBettingClosed, room, periodID, SubjectBettingClosed, BettingClosedPayload{
		Room:      room.Key(),
		PeriodID:  periodID,
		Timestamp: b.clock.Now().UTC(),
	})
}

// Result announces a committed outcome.
func (b *Broadcaster) Result(room models.Room, result models.PeriodResult) error {
	return b.publishDeduped(EventResult, room, result.PeriodID, SubjectResult, ResultPayload{
		Room:      room.Key(),
		PeriodID:  result.PeriodID,
		Result:    result,
		Timestamp: b.clock.Now().UTC(),
	})
}

// PeriodError surfaces a terminal settlement failure.
func (b *Broadcaster) PeriodError(room models.Room, periodID, reason string) error {
	return b.publishDeduped(EventPeriodError, room, periodID, SubjectPeriodError, PeriodErrorPayload{
		Room:      room.Key(),
		PeriodID:  periodID,
		Reason:    reason,
		Timestamp: b.clock.Now().UTC(),
	})
}

// Heartbeat is never deduplicated.
func (b *Broadcaster) Heartbeat(instanceID string, roomCount int) error {
	return b.publish(SubjectHeartbeat, HeartbeatPayload{
		InstanceID: instanceID,
		Rooms:      roomCount,
		Timestamp:  b.clock.Now().UTC(),
	})
}

// RequestSubject returns the snapshot-request subject for a room.
func RequestSubject(room models.Room) string {
	return SubjectRequestPrefix + strings.ReplaceAll(room.Key(), ":", ".")
}

func dedupKey(eventType string, room models.Room, periodID string) string {
	return fmt.Sprintf("%s_%s_%s", eventType, room.Key(), periodID)
}

func (b *Broadcaster) publishDeduped(eventType string, room models.Room, periodID, subject string, payload any) error {
	key := dedupKey(eventType, room, periodID)
	if _, seen := b.dedup.Get(key); seen {
		metrics.BroadcastDedupHits.WithLabelValues(eventType).Inc()
		log.Debug().
			Str("event", eventType).
			Str("room", room.Key()).
			Str("period_id", periodID).
			Msg("suppressing duplicate broadcast")
		return nil
	}
	if err := b.publish(subject, payload); err != nil {
		return err
	}
	b.dedup.Add(key, struct{}{})
	return nil
}

func (b *Broadcaster) publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	if err := b.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	metrics.EventsPublished.WithLabelValues(subject).Inc()
	return nil
}

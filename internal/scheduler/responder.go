package scheduler

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/arjunm-dev/wheelhouse/internal/broadcast"
	"github.com/arjunm-dev/wheelhouse/internal/models"
)

// ServeSnapshotRequests answers manual "what period is live" signals: a
// message on period.request.<game>.<secs> makes the manager re-announce the
// room's current snapshot without touching any lock state. Requests with a
// reply subject get the snapshot directly; fire-and-forget requests trigger
// a deduplicated period-start broadcast.
func (s *Scheduler) ServeSnapshotRequests(ctx context.Context, nc *nats.Conn) (*nats.Subscription, error) {
	return nc.Subscribe(broadcast.SubjectRequestPrefix+">", func(msg *nats.Msg) {
		roomKey := strings.ReplaceAll(strings.TrimPrefix(msg.Subject, broadcast.SubjectRequestPrefix), ".", ":")
		room, err := models.ParseRoomKey(roomKey)
		if err != nil {
			log.Warn().Str("subject", msg.Subject).Msg("snapshot request for unknown room")
			return
		}

		snap, err := s.snapshots.ReadSnapshot(ctx, room)
		if err != nil {
			log.Error().Err(err).Str("room", room.Key()).Msg("snapshot read failed on request")
			return
		}
		if snap == nil {
			log.Warn().Str("room", room.Key()).Msg("no snapshot available for request")
			return
		}

		if msg.Reply != "" {
			data, err := json.Marshal(snap)
			if err != nil {
				log.Error().Err(err).Str("room", room.Key()).Msg("snapshot marshal failed")
				return
			}
			if err := msg.Respond(data); err != nil {
				log.Error().Err(err).Str("room", room.Key()).Msg("snapshot reply failed")
			}
			return
		}

		if err := s.events.PeriodStarted(room, *snap); err != nil {
			log.Error().Err(err).Str("room", room.Key()).Msg("period-start re-announcement failed")
		}
	})
}

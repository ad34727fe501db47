package broadcast

import (
	"time"

	"github.com/arjunm-dev/wheelhouse/internal/models"
)

// Subjects every lifecycle event is published on. A separate real-time
// delivery layer and any number of scheduler replicas subscribe to these.
const (
	SubjectPeriodStart   = "period.start"
	SubjectBettingClosed = "period.betting_closed"
	SubjectResult        = "period.result"
	SubjectPeriodError   = "period.error"
	SubjectHeartbeat     = "scheduler.heartbeat"

	// SubjectRequestPrefix + "<game>.<secs>" asks the lifecycle manager to
	// re-announce the current snapshot for that room.
	SubjectRequestPrefix = "period.request."
)

// Event type tags used in dedup keys and payloads.
const (
	EventPeriodStart   = "start"
	EventBettingClosed = "betting_closed"
	EventResult        = "result"
	EventPeriodError   = "error"
)

// PeriodStartedPayload announces the live period for a room. Starts are
// announced lazily, on request or via the snapshot store, never on every
// scheduler tick.
type PeriodStartedPayload struct {
	Room      string                `json:"room"`
	PeriodID  string                `json:"period_id"`
	Snapshot  models.PeriodSnapshot `json:"snapshot"`
	Timestamp time.Time             `json:"timestamp"`
}

// BettingClosedPayload fires once when a period enters its close window.
type BettingClosedPayload struct {
	Room      string    `json:"room"`
	PeriodID  string    `json:"period_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ResultPayload carries a settled outcome.
type ResultPayload struct {
	Room      string              `json:"room"`
	PeriodID  string              `json:"period_id"`
	Result    models.PeriodResult `json:"result"`
	Timestamp time.Time           `json:"timestamp"`
}

// PeriodErrorPayload surfaces a terminal settlement failure. The period is
// abandoned, never silently swallowed.
type PeriodErrorPayload struct {
	Room      string    `json:"room"`
	PeriodID  string    `json:"period_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// HeartbeatPayload is the liveness signal from one scheduler instance.
type HeartbeatPayload struct {
	InstanceID string    `json:"instance_id"`
	Rooms      int       `json:"rooms"`
	Timestamp  time.Time `json:"timestamp"`
}

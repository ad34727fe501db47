package broadcast

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunm-dev/wheelhouse/internal/models"
)

type capturingPublisher struct {
	mu       sync.Mutex
	messages []capturedMessage
}

type capturedMessage struct {
	subject string
	data    []byte
}

func (p *capturingPublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, capturedMessage{subject: subject, data: data})
	return nil
}

func (p *capturingPublisher) count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.messages {
		if m.subject == subject {
			n++
		}
	}
	return n
}

func testRoom() models.Room {
	return models.Room{GameType: models.GameTypeWingo, Duration: 30 * time.Second}
}

func TestBroadcaster_SuppressesDuplicates(t *testing.T) {
	pub := &capturingPublisher{}
	b := New(pub, time.Minute, clockwork.NewFakeClock())
	room := testRoom()

	require.NoError(t, b.BettingClosed(room, "20240615000000001"))
	require.NoError(t, b.BettingClosed(room, "20240615000000001"))
	require.NoError(t, b.BettingClosed(room, "20240615000000001"))

	assert.Equal(t, 1, pub.count(SubjectBettingClosed))
}

func TestBroadcaster_DistinctPeriodsAndEventsPass(t *testing.T) {
	pub := &capturingPublisher{}
	b := New(pub, time.Minute, clockwork.NewFakeClock())
	room := testRoom()

	require.NoError(t, b.BettingClosed(room, "20240615000000001"))
	require.NoError(t, b.BettingClosed(room, "20240615000000002"))
	assert.Equal(t, 2, pub.count(SubjectBettingClosed))

	// Same period, different event type: not a duplicate.
	result := models.PeriodResult{
		GameType:        room.GameType,
		DurationSeconds: room.Seconds(),
		PeriodID:        "20240615000000001",
		Outcome:         models.DigitResult(4),
	}
	require.NoError(t, b.Result(room, result))
	assert.Equal(t, 1, pub.count(SubjectResult))
}

func TestBroadcaster_DedupScopedPerRoom(t *testing.T) {
	pub := &capturingPublisher{}
	b := New(pub, time.Minute, clockwork.NewFakeClock())

	wingo := models.Room{GameType: models.GameTypeWingo, Duration: 30 * time.Second}
	trx := models.Room{GameType: models.GameTypeTrxWin, Duration: 60 * time.Second}

	require.NoError(t, b.BettingClosed(wingo, "20240615000000001"))
	require.NoError(t, b.BettingClosed(trx, "20240615000000001"))
	assert.Equal(t, 2, pub.count(SubjectBettingClosed))
}

func TestBroadcaster_DedupExpires(t *testing.T) {
	pub := &capturingPublisher{}
	b := New(pub, 20*time.Millisecond, clockwork.NewFakeClock())
	room := testRoom()

	require.NoError(t, b.BettingClosed(room, "20240615000000001"))
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, b.BettingClosed(room, "20240615000000001"))

	assert.Equal(t, 2, pub.count(SubjectBettingClosed))
}

func TestBroadcaster_HeartbeatNeverDeduped(t *testing.T) {
	pub := &capturingPublisher{}
	b := New(pub, time.Minute, clockwork.NewFakeClock())

	require.NoError(t, b.Heartbeat("abcd1234", 16))
	require.NoError(t, b.Heartbeat("abcd1234", 16))
	assert.Equal(t, 2, pub.count(SubjectHeartbeat))
}

func TestBroadcaster_PayloadShape(t *testing.T) {
	pub := &capturingPublisher{}
	clock := clockwork.NewFakeClockAt(time.Date(2024, time.June, 15, 10, 0, 0, 0, time.UTC))
	b := New(pub, time.Minute, clock)
	room := testRoom()

	require.NoError(t, b.PeriodError(room, "20240615000000009", "settlement failed"))
	require.Len(t, pub.messages, 1)

	var payload PeriodErrorPayload
	require.NoError(t, json.Unmarshal(pub.messages[0].data, &payload))
	assert.Equal(t, "wingo:30", payload.Room)
	assert.Equal(t, "20240615000000009", payload.PeriodID)
	assert.Equal(t, "settlement failed", payload.Reason)
	assert.Equal(t, clock.Now().UTC(), payload.Timestamp)
}

func TestRequestSubject(t *testing.T) {
	assert.Equal(t, SubjectRequestPrefix+"wingo.30", RequestSubject(testRoom()))
}

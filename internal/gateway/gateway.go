// Package gateway is the real-time delivery layer: it subscribes to the
// scheduler's broadcast subjects and fans lifecycle events out to websocket
// clients per room. It consumes only public contracts (broadcast subjects
// and the snapshot store) and never mutates scheduler state.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/arjunm-dev/wheelhouse/internal/broadcast"
	"github.com/arjunm-dev/wheelhouse/internal/models"
	"github.com/arjunm-dev/wheelhouse/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The gateway is origin-agnostic; auth happens upstream.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gateway bridges NATS broadcast subjects to websocket clients.
type Gateway struct {
	cm        *ConnectionManager
	nc        *nats.Conn
	snapshots store.SnapshotStore
	subs      []*nats.Subscription
}

func New(nc *nats.Conn, snapshots store.SnapshotStore) *Gateway {
	return &Gateway{
		cm:        NewConnectionManager(),
		nc:        nc,
		snapshots: snapshots,
	}
}

// envelope is what clients receive: the original payload wrapped with the
// event name.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Start subscribes to every lifecycle subject.
func (g *Gateway) Start() error {
	subjects := map[string]string{
		broadcast.SubjectPeriodStart:   "period_start",
		broadcast.SubjectBettingClosed: "betting_closed",
		broadcast.SubjectResult:        "result",
		broadcast.SubjectPeriodError:   "period_error",
	}
	for subject, event := range subjects {
		sub, err := g.nc.Subscribe(subject, g.fanout(event))
		if err != nil {
			return err
		}
		g.subs = append(g.subs, sub)
	}
	log.Info().Int("subjects", len(g.subs)).Msg("gateway subscribed to lifecycle events")
	return nil
}

// fanout routes one subject's messages to the clients of the room named in
// the payload.
func (g *Gateway) fanout(event string) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var peek struct {
			Room string `json:"room"`
		}
		if err := json.Unmarshal(msg.Data, &peek); err != nil || peek.Room == "" {
			log.Warn().Str("subject", msg.Subject).Msg("event without room field")
			return
		}
		out, err := json.Marshal(envelope{Event: event, Payload: msg.Data})
		if err != nil {
			return
		}
		g.cm.Broadcast(peek.Room, out)
	}
}

// HandleWS upgrades a client connection and registers it for the requested
// room. The current snapshot, if any, is pushed immediately so late joiners
// see the live countdown without waiting for the next event.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	roomKey := r.URL.Query().Get("room")
	room, err := models.ParseRoomKey(roomKey)
	if err != nil {
		http.Error(w, "unknown room", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := g.cm.Register(room.Key(), conn)

	// The snapshot goes through the write pump like every other message;
	// fanout may already be delivering to this client.
	if snap, err := g.snapshots.ReadSnapshot(r.Context(), room); err == nil && snap != nil {
		if data, err := json.Marshal(snap); err == nil {
			out, _ := json.Marshal(envelope{Event: "snapshot", Payload: data})
			client.Queue(out)
		}
	}
}

// Handler returns the CORS-wrapped HTTP handler for the gateway.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.HandleWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

// Close drains subscriptions.
func (g *Gateway) Close(ctx context.Context) {
	for _, sub := range g.subs {
		_ = sub.Unsubscribe()
	}
}

package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	sendBufferSize = 64
	writeTimeout   = 10 * time.Second
	pingInterval   = 30 * time.Second
	readTimeout    = 60 * time.Second
	maxMessageSize = 1024
)

// Client is one websocket subscriber. All writes to the underlying
// connection go through the send channel and are drained by a single
// writePump goroutine; the websocket allows at most one concurrent writer.
type Client struct {
	roomKey string
	conn    *websocket.Conn
	send    chan []byte
	manager *ConnectionManager
}

// Queue hands a message to the client's write pump. A client whose buffer
// is full is considered dead and dropped.
func (c *Client) Queue(message []byte) {
	if !c.manager.trySend(c, message) {
		log.Warn().Str("room", c.roomKey).Msg("client send buffer full, dropping client")
		c.manager.unregister(c)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.manager.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("room", c.roomKey).Msg("client write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump exists to detect disconnects and answer pings; clients never
// send application messages.
func (c *Client) readPump() {
	defer c.manager.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ConnectionManager tracks websocket clients per room and fans events out
// to them. The gateway holds no scheduler state: everything it serves comes
// off the broadcast subjects and the snapshot store.
type ConnectionManager struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]bool
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{rooms: make(map[string]map[*Client]bool)}
}

// Register adds a connection to a room's fanout set and starts its pumps.
func (cm *ConnectionManager) Register(roomKey string, conn *websocket.Conn) *Client {
	client := &Client{
		roomKey: roomKey,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		manager: cm,
	}

	cm.mu.Lock()
	if cm.rooms[roomKey] == nil {
		cm.rooms[roomKey] = make(map[*Client]bool)
	}
	cm.rooms[roomKey][client] = true
	count := len(cm.rooms[roomKey])
	cm.mu.Unlock()

	go client.writePump()
	go client.readPump()

	log.Debug().Str("room", roomKey).Int("clients", count).Msg("client registered")
	return client
}

// unregister removes a client exactly once, closing its send channel so the
// write pump drains and shuts the connection.
func (cm *ConnectionManager) unregister(c *Client) {
	cm.mu.Lock()
	clients, ok := cm.rooms[c.roomKey]
	if ok {
		if _, registered := clients[c]; registered {
			delete(clients, c)
			close(c.send)
			if len(clients) == 0 {
				delete(cm.rooms, c.roomKey)
			}
		} else {
			ok = false
		}
	}
	cm.mu.Unlock()

	if ok {
		_ = c.conn.Close()
	}
}

// trySend queues under the read lock. The send channel is only ever closed
// under the write lock, so a queued send can never hit a closed channel.
func (cm *ConnectionManager) trySend(c *Client, message []byte) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if !cm.rooms[c.roomKey][c] {
		return true // already unregistered, nothing to deliver
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// Broadcast queues a message for every client subscribed to the room. Safe
// to call from any number of goroutines concurrently.
func (cm *ConnectionManager) Broadcast(roomKey string, message []byte) {
	cm.mu.RLock()
	clients := make([]*Client, 0, len(cm.rooms[roomKey]))
	for client := range cm.rooms[roomKey] {
		clients = append(clients, client)
	}
	cm.mu.RUnlock()

	for _, client := range clients {
		client.Queue(message)
	}
}

// ClientCount returns the number of connected clients for a room.
func (cm *ConnectionManager) ClientCount(roomKey string) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.rooms[roomKey])
}

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"puzzle-server/internal/session"
)

const writeTimeout = 5 * time.Second

// wsClient is one live websocket plus the identity bound to it. It doubles as
// the per-player callback handed to game sessions and as the health probe the
// heartbeat monitor consults: a closed socket reports unhealthy immediately,
// before any beat goes missing.
type wsClient struct {
	id       string
	conn     *websocket.Conn
	playerID string
	username string
	avatar   string
	healthy  atomic.Bool
}

func (c *wsClient) IsHealthy() bool {
	return c.healthy.Load()
}

// Send pushes an engine payload to the client, wrapping it in the wire
// envelope. Sessions hand us bare domain values, so the message type is
// derived from the payload type.
func (c *wsClient) Send(payload any) error {
	switch v := payload.(type) {
	case ServerMessage:
		return c.sendMessage(v)
	case *session.MatchCompletedNotice:
		return c.sendMessage(ServerMessage{Type: "match_completed", Payload: v})
	case session.MatchCompletedNotice:
		return c.sendMessage(ServerMessage{Type: "match_completed", Payload: v})
	default:
		return c.sendMessage(ServerMessage{Type: "message", Payload: payload})
	}
}

func (c *wsClient) sendMessage(msg ServerMessage) error {
	if !c.healthy.Load() {
		return fmt.Errorf("connection %s is closed", c.id)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msg.Type, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

type ConnectionManager struct {
	connections map[string]*wsClient // connectionID → client
	byUsername  map[string]*wsClient // bound username → client
	mu          sync.RWMutex
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*wsClient),
		byUsername:  make(map[string]*wsClient),
	}
}

func (cm *ConnectionManager) Add(id string, conn *websocket.Conn) *wsClient {
	client := &wsClient{id: id, conn: conn}
	client.healthy.Store(true)

	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[id] = client
	return client
}

// Bind attaches a player identity to a connection. A username already bound
// to another live connection is rejected; rebinding the same connection
// (e.g. a second register message) updates in place.
func (cm *ConnectionManager) Bind(id, playerID, username, avatar string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	client, ok := cm.connections[id]
	if !ok {
		return fmt.Errorf("unknown connection %s", id)
	}
	if other, taken := cm.byUsername[username]; taken && other.id != id {
		return fmt.Errorf("USERNAME_TAKEN: %q is connected elsewhere", username)
	}

	if client.username != "" && client.username != username {
		delete(cm.byUsername, client.username)
	}
	client.playerID = playerID
	client.username = username
	client.avatar = avatar
	cm.byUsername[username] = client
	return nil
}

// Unbind detaches the identity from a connection without dropping the socket,
// freeing the username for other connections. Used when a bind turns out to
// be provisional, e.g. a guest whose invitation is denied.
func (cm *ConnectionManager) Unbind(id string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	client, ok := cm.connections[id]
	if !ok || client.username == "" {
		return
	}
	if cm.byUsername[client.username] == client {
		delete(cm.byUsername, client.username)
	}
	client.playerID = ""
	client.username = ""
	client.avatar = ""
}

// Remove drops a connection and returns the client that was bound to it, if
// any, so the caller can fan out disconnect cleanup.
func (cm *ConnectionManager) Remove(id string) *wsClient {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	client, ok := cm.connections[id]
	if !ok {
		return nil
	}
	delete(cm.connections, id)
	if client.username != "" && cm.byUsername[client.username] == client {
		delete(cm.byUsername, client.username)
	}
	client.healthy.Store(false)
	return client
}

func (cm *ConnectionManager) Get(id string) *wsClient {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.connections[id]
}

func (cm *ConnectionManager) ByUsername(username string) *wsClient {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byUsername[username]
}

func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

package heartbeat

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// HealthProbe reports whether a client's underlying channel is still open.
// The transport adapter implements it.
type HealthProbe interface {
	IsHealthy() bool
}

// DisconnectHandler is invoked exactly once per client judged dead. It fans
// out to lobby and session cleanup and must never panic upward.
type DisconnectHandler func(username string)

// clientInfo is the per-connection liveness record.
type clientInfo struct {
	username      string
	registeredAt  time.Time
	lastBeat      time.Time
	lastSeq       uint64
	missed        int
	probe         HealthProbe
	disconnecting atomic.Bool
}

// Monitor tracks per-connection liveness independent of game state. A
// background sweep counts missed intervals; a client past the threshold (or
// with a dead channel) is disconnected at most once.
type Monitor struct {
	mu      sync.Mutex
	clients map[string]*clientInfo

	interval        time.Duration
	missedThreshold int
	onDisconnect    DisconnectHandler
	logger          *zap.Logger

	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

func NewMonitor(interval time.Duration, missedThreshold int, onDisconnect DisconnectHandler, logger *zap.Logger) *Monitor {
	return &Monitor{
		clients:         make(map[string]*clientInfo),
		interval:        interval,
		missedThreshold: missedThreshold,
		onDisconnect:    onDisconnect,
		logger:          logger,
	}
}

// Register starts tracking a connection. Returns false on duplicate
// registration for the username.
func (m *Monitor) Register(username string, probe HealthProbe) bool {
	if username == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.clients[username]; exists {
		return false
	}

	now := time.Now()
	m.clients[username] = &clientInfo{
		username:     username,
		registeredAt: now,
		lastBeat:     now,
		probe:        probe,
	}
	m.logger.Debug("heartbeat client registered", zap.String("user", username))
	return true
}

// RecordHeartbeat accepts a beat only if its sequence number is strictly
// greater than the last accepted one, so reordered or duplicated network
// delivery never rewinds liveness. Returns whether the beat was accepted.
func (m *Monitor) RecordHeartbeat(username string, seq uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[username]
	if !ok {
		return false
	}
	if seq <= c.lastSeq {
		// Stale or duplicate: liveness state stays untouched.
		return false
	}

	c.lastSeq = seq
	c.lastBeat = time.Now()
	c.missed = 0
	return true
}

// Unregister stops tracking, bypassing the sweep. Used on graceful logout.
func (m *Monitor) Unregister(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, username)
}

func (m *Monitor) ClientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// LastSequence returns the last accepted sequence for a client.
func (m *Monitor) LastSequence(username string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[username]
	if !ok {
		return 0, false
	}
	return c.lastSeq, true
}

// Start launches the sweep loop. No-op if already running.
func (m *Monitor) Start() {
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.sweepOnce()
			case <-m.stop:
				return
			}
		}
	}()
	m.logger.Info("heartbeat monitor started",
		zap.Duration("interval", m.interval), zap.Int("threshold", m.missedThreshold))
}

// Stop halts the sweep loop and waits for it to exit.
func (m *Monitor) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	close(m.stop)
	<-m.done
	m.logger.Info("heartbeat monitor stopped")
}

// sweepOnce examines every client: a silent interval bumps the missed
// counter; crossing the threshold or a dead channel triggers the
// exactly-once disconnect path.
func (m *Monitor) sweepOnce() {
	now := time.Now()

	m.mu.Lock()
	var expired []*clientInfo
	for _, c := range m.clients {
		if now.Sub(c.lastBeat) > m.interval {
			c.missed++
		}
		if c.missed >= m.missedThreshold || (c.probe != nil && !c.probe.IsHealthy()) {
			expired = append(expired, c)
		}
	}
	for _, c := range expired {
		delete(m.clients, c.username)
	}
	m.mu.Unlock()

	for _, c := range expired {
		// The CAS makes the transition single-shot even if concurrent sweeps
		// or an explicit disconnect race on the same record.
		if !c.disconnecting.CompareAndSwap(false, true) {
			continue
		}
		m.logger.Warn("client timed out",
			zap.String("user", c.username), zap.Int("missed", c.missed))
		m.invokeDisconnect(c.username)
	}
}

func (m *Monitor) invokeDisconnect(username string) {
	if m.onDisconnect == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			// Cleanup must continue for remaining clients.
			m.logger.Error("disconnect handler panicked",
				zap.String("user", username), zap.Any("panic", r))
		}
	}()
	m.onDisconnect(username)
}

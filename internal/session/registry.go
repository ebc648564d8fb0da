package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"puzzle-server/internal/puzzle"
	"puzzle-server/internal/scoring"
)

// Seed is the initial roster entry handed to a freshly created session.
type Seed struct {
	ID       string
	Username string
	Avatar   string
	Callback ClientCallback
}

// Registry is the process-wide map from lobby code to live GameSession. It is
// the single point of session creation and destruction; piece actions are
// routed through it so a vanished session is a logged no-op, not an error.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*GameSession

	assets   AssetSource
	generate LayoutGenerator
	calc     *scoring.Calculator
	stats    StatsStore
	settings Settings
	logger   *zap.Logger

	onSessionEnded func(lobbyCode string)
}

func NewRegistry(assets AssetSource, generate LayoutGenerator, calc *scoring.Calculator,
	stats StatsStore, settings Settings, logger *zap.Logger) *Registry {

	return &Registry{
		sessions: make(map[string]*GameSession),
		assets:   assets,
		generate: generate,
		calc:     calc,
		stats:    stats,
		settings: settings,
		logger:   logger,
	}
}

// SetSessionEndedHook installs a callback fired whenever a session is torn
// down, whatever the cause: completion, emptied roster, or an early end below
// the player minimum. Matchmaking uses it to retire the lobby behind the
// session. Must be set during wiring, before any session exists.
func (r *Registry) SetSessionEndedHook(fn func(lobbyCode string)) {
	r.onSessionEnded = fn
}

// CreateSession materializes a GameSession for a started lobby: resolves the
// puzzle asset, generates the piece layout for the difficulty, seeds the
// roster, and registers under lobbyCode. Only one creation per code wins.
func (r *Registry) CreateSession(lobbyCode, puzzleID string, difficulty puzzle.Difficulty, players []Seed) (*GameSession, error) {
	if lobbyCode == "" {
		return nil, fmt.Errorf("lobby code cannot be blank")
	}
	if puzzleID == "" {
		return nil, fmt.Errorf("puzzle id cannot be blank")
	}

	imagePath, err := r.assets.ImagePath(puzzleID)
	if err != nil {
		return nil, err
	}

	layout, err := r.generate(imagePath, difficulty)
	if err != nil {
		return nil, fmt.Errorf("generate layout for %s: %w", puzzleID, err)
	}

	matchID := uuid.New().String()
	sess, err := NewGameSession(lobbyCode, matchID, puzzleID, layout, r.calc, r.stats, r.settings, r.logger)
	if err != nil {
		return nil, err
	}
	for _, p := range players {
		if err := sess.AddPlayer(p.ID, p.Username, p.Avatar, p.Callback); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[lobbyCode]; exists {
		return nil, fmt.Errorf("session already exists for lobby %s", lobbyCode)
	}
	r.sessions[lobbyCode] = sess

	r.logger.Info("session created",
		zap.String("lobby", lobbyCode),
		zap.String("match", matchID),
		zap.String("puzzle", puzzleID),
		zap.Int("pieces", len(layout.Pieces)),
		zap.Int("players", len(players)))
	return sess, nil
}

// Session looks up by lobby code. Nil for blank or unknown codes; lookups
// never fail loudly.
func (r *Registry) Session(lobbyCode string) *GameSession {
	if lobbyCode == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[lobbyCode]
}

func (r *Registry) HandlePieceDrag(lobbyCode, playerID string, pieceID int) bool {
	sess := r.Session(lobbyCode)
	if sess == nil {
		r.warnMissing(lobbyCode, "drag")
		return false
	}
	return sess.HandlePieceDrag(playerID, pieceID)
}

func (r *Registry) HandlePieceMove(lobbyCode, playerID string, pieceID int, x, y float64) bool {
	sess := r.Session(lobbyCode)
	if sess == nil {
		r.warnMissing(lobbyCode, "move")
		return false
	}
	return sess.HandlePieceMove(playerID, pieceID, x, y)
}

func (r *Registry) HandlePieceDrop(lobbyCode, playerID string, pieceID int, x, y float64) DropResult {
	sess := r.Session(lobbyCode)
	if sess == nil {
		r.warnMissing(lobbyCode, "drop")
		return DropResult{}
	}

	result := sess.HandlePieceDrop(playerID, pieceID, x, y)
	if result.Completed {
		// End-of-match teardown: the session already persisted and notified.
		r.RemoveSession(lobbyCode)
	}
	return result
}

func (r *Registry) HandlePieceRelease(lobbyCode, playerID string, pieceID int) bool {
	sess := r.Session(lobbyCode)
	if sess == nil {
		r.warnMissing(lobbyCode, "release")
		return false
	}
	return sess.HandlePieceRelease(playerID, pieceID)
}

// HandlePlayerDisconnect locates the single session holding the player,
// releases their pieces, and removes them. An emptied session is removed and
// disposed; a below-minimum session ends early.
func (r *Registry) HandlePlayerDisconnect(username, playerID string) {
	r.mu.RLock()
	var owner *GameSession
	for _, sess := range r.sessions {
		// A player belongs to at most one session, so stop at the first hit.
		if id, ok := sess.PlayerIDByUsername(username); ok {
			owner = sess
			playerID = id
			break
		}
	}
	r.mu.RUnlock()

	if owner == nil {
		return
	}

	owner.ReleaseHeldPieces(playerID)
	if _, ok := owner.RemovePlayer(playerID); !ok {
		return
	}
	r.logger.Info("player removed from session after disconnect",
		zap.String("lobby", owner.LobbyCode()), zap.String("player", playerID))

	r.cleanupAfterDeparture(owner)
}

// HandleVoluntaryLeave resolves the username inside the session for the code,
// releases held pieces, removes the player, and applies the same empty /
// below-minimum consequences as a disconnect.
func (r *Registry) HandleVoluntaryLeave(lobbyCode, username string) bool {
	sess := r.Session(lobbyCode)
	if sess == nil {
		r.warnMissing(lobbyCode, "leave")
		return false
	}

	playerID, ok := sess.PlayerIDByUsername(username)
	if !ok {
		return false
	}

	sess.ReleaseHeldPieces(playerID)
	if _, ok := sess.RemovePlayer(playerID); !ok {
		return false
	}

	r.cleanupAfterDeparture(sess)
	return true
}

// IsPlayerInAnySession reports whether the username is a live participant
// anywhere. Used as a busy check by matchmaking.
func (r *Registry) IsPlayerInAnySession(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sess := range r.sessions {
		if _, ok := sess.PlayerIDByUsername(username); ok {
			return true
		}
	}
	return false
}

// RemoveSession tears down the session for a code. Idempotent: only the call
// that actually removes the entry disposes it and fires the ended hook.
func (r *Registry) RemoveSession(lobbyCode string) {
	r.mu.Lock()
	sess, ok := r.sessions[lobbyCode]
	if ok {
		delete(r.sessions, lobbyCode)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	sess.Dispose()
	if r.onSessionEnded != nil {
		r.onSessionEnded(lobbyCode)
	}
}

func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) cleanupAfterDeparture(sess *GameSession) {
	switch {
	case sess.PlayerCount() == 0:
		r.RemoveSession(sess.LobbyCode())
	case sess.BelowMinimum():
		sess.EndEarly()
		r.RemoveSession(sess.LobbyCode())
	}
}

func (r *Registry) warnMissing(lobbyCode, action string) {
	// The client may race a session that just ended; benign, not an error.
	r.logger.Warn("piece action for unknown session",
		zap.String("lobby", lobbyCode), zap.String("action", action))
}

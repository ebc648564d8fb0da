package session

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"puzzle-server/internal/puzzle"
	"puzzle-server/internal/scoring"
)

const statsWriteTimeout = 10 * time.Second

// Settings are the per-session engine knobs, sourced from configuration.
type Settings struct {
	// PlacementTolerance is the max distance between a drop and the piece's
	// target for the drop to count as correct.
	PlacementTolerance float64
	// MinPlayersInMatch is the floor below which a running match ends early.
	MinPlayersInMatch int
}

type pieceState struct {
	ID        int
	TargetX   float64
	TargetY   float64
	Edge      bool
	X         float64
	Y         float64
	Placed    bool
	HolderID  string
	HeldSince time.Time
}

type playerState struct {
	ID             string
	Username       string
	Avatar         string
	Callback       ClientCallback
	Score          int
	PiecesPlaced   int
	PositiveStreak int
	NegativeStreak int
	JoinedAt       time.Time
	// Recent placement times, newest last. Kept short; feeds the pace field
	// in snapshots.
	recentPlacements []time.Time
}

// PlayerSummary is a read-only snapshot of one participant.
type PlayerSummary struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Avatar         string `json:"avatar"`
	Score          int    `json:"score"`
	PiecesPlaced   int    `json:"piecesPlaced"`
	PositiveStreak int    `json:"positiveStreak"`
	NegativeStreak int    `json:"negativeStreak"`
	// Placements in the last minute, for pace display.
	RecentPace int `json:"recentPace"`
}

// PieceSummary is a read-only snapshot of one piece.
type PieceSummary struct {
	ID       int     `json:"id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Placed   bool    `json:"placed"`
	HolderID string  `json:"holderId,omitempty"`
}

// DropResult reports what one drop attempt did. Handled is false when the
// drop was a benign no-op (wrong holder, placed piece, unknown piece).
type DropResult struct {
	Handled        bool
	Placed         bool
	PointsDelta    int
	FirstBlood     bool
	Completed      bool
	Score          int
	PositiveStreak int
	NegativeStreak int
}

// MatchCompletedNotice is pushed to every participant when the puzzle is done
// or the match ends early.
type MatchCompletedNotice struct {
	MatchID         string          `json:"matchId"`
	LobbyCode       string          `json:"lobbyCode"`
	Completed       bool            `json:"completed"`
	DurationSeconds float64         `json:"durationSeconds"`
	Standings       []PlayerSummary `json:"standings"`
}

// GameSession owns the authoritative state of one running puzzle match. All
// mutation goes through its methods, each synchronized by a single session
// mutex; external I/O (stats, notifications) happens after the mutex is
// released.
type GameSession struct {
	lobbyCode string
	matchID   string
	puzzleID  string
	layout    *puzzle.Layout

	mu          sync.Mutex
	players     map[string]*playerState
	pieces      map[int]*pieceState
	placedCount int
	disposed    bool
	finished    bool

	firstBlood       atomic.Bool
	firstBloodPlayer string // guarded by mu, set by the CAS winner

	startedAt time.Time
	settings  Settings
	calc      *scoring.Calculator
	stats     StatsStore
	logger    *zap.Logger
}

func NewGameSession(lobbyCode, matchID, puzzleID string, layout *puzzle.Layout,
	calc *scoring.Calculator, stats StatsStore, settings Settings, logger *zap.Logger) (*GameSession, error) {

	if lobbyCode == "" {
		return nil, fmt.Errorf("lobby code cannot be blank")
	}
	if layout == nil || len(layout.Pieces) == 0 {
		return nil, fmt.Errorf("puzzle layout cannot be empty")
	}

	s := &GameSession{
		lobbyCode: lobbyCode,
		matchID:   matchID,
		puzzleID:  puzzleID,
		layout:    layout,
		players:   make(map[string]*playerState),
		pieces:    make(map[int]*pieceState, len(layout.Pieces)),
		startedAt: time.Now(),
		settings:  settings,
		calc:      calc,
		stats:     stats,
		logger:    logger.With(zap.String("lobby", lobbyCode), zap.String("match", matchID)),
	}

	for _, p := range layout.Pieces {
		s.pieces[p.ID] = &pieceState{
			ID:      p.ID,
			TargetX: p.TargetX,
			TargetY: p.TargetY,
			Edge:    p.Edge,
			// Pieces start scattered client-side; the server only tracks the
			// last reported transient position.
			X: p.TargetX,
			Y: p.TargetY,
		}
	}

	return s, nil
}

func (s *GameSession) LobbyCode() string { return s.lobbyCode }
func (s *GameSession) MatchID() string   { return s.matchID }
func (s *GameSession) PuzzleID() string  { return s.puzzleID }

// AddPlayer inserts a new participant. Duplicate ids are rejected.
func (s *GameSession) AddPlayer(id, username, avatar string, callback ClientCallback) error {
	if id == "" {
		return fmt.Errorf("player id cannot be blank")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return fmt.Errorf("session %s is disposed", s.lobbyCode)
	}
	if _, exists := s.players[id]; exists {
		return fmt.Errorf("player %s already in session %s", id, s.lobbyCode)
	}

	s.players[id] = &playerState{
		ID:       id,
		Username: username,
		Avatar:   avatar,
		Callback: callback,
		JoinedAt: time.Now(),
	}
	return nil
}

// HandlePieceDrag attempts to acquire an exclusive hold on an unplaced, free
// piece. Exactly one of any set of racing callers succeeds; losers get false,
// which the caller reports as "piece unavailable", not an error.
func (s *GameSession) HandlePieceDrag(playerID string, pieceID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed || s.finished {
		return false
	}
	if _, ok := s.players[playerID]; !ok {
		return false
	}

	piece, ok := s.pieces[pieceID]
	if !ok || piece.Placed || piece.HolderID != "" {
		return false
	}

	piece.HolderID = playerID
	piece.HeldSince = time.Now()
	return true
}

// HandlePieceMove updates a held piece's transient coordinates. Silently
// rejected unless playerID is the current holder. No scoring side effects.
func (s *GameSession) HandlePieceMove(playerID string, pieceID int, x, y float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return false
	}

	piece, ok := s.pieces[pieceID]
	if !ok || piece.Placed || piece.HolderID != playerID {
		return false
	}

	piece.X = x
	piece.Y = y
	return true
}

// HandlePieceDrop resolves a drop by the current holder. Within tolerance the
// piece is placed terminally and scored; outside it the hold is released and
// the holder's negative streak is penalized.
func (s *GameSession) HandlePieceDrop(playerID string, pieceID int, x, y float64) DropResult {
	s.mu.Lock()

	if s.disposed {
		s.mu.Unlock()
		return DropResult{}
	}

	player, ok := s.players[playerID]
	if !ok {
		s.mu.Unlock()
		return DropResult{}
	}

	piece, ok := s.pieces[pieceID]
	if !ok || piece.Placed || piece.HolderID != playerID {
		s.mu.Unlock()
		return DropResult{}
	}

	piece.X = x
	piece.Y = y
	piece.HolderID = ""
	piece.HeldSince = time.Time{}

	if math.Hypot(x-piece.TargetX, y-piece.TargetY) > s.settings.PlacementTolerance {
		// Miss: release without placing, grow the negative streak.
		player.NegativeStreak++
		player.PositiveStreak = 0
		penalty := s.calc.PenaltyPoints(player.NegativeStreak)
		player.Score -= penalty

		result := DropResult{
			Handled:        true,
			PointsDelta:    -penalty,
			Score:          player.Score,
			NegativeStreak: player.NegativeStreak,
		}
		s.mu.Unlock()
		return result
	}

	piece.Placed = true
	piece.X = piece.TargetX
	piece.Y = piece.TargetY
	s.placedCount++

	firstBlood := s.firstBlood.CompareAndSwap(false, true)
	if firstBlood {
		s.firstBloodPlayer = playerID
	}
	completed := s.placedCount == len(s.pieces)

	points := s.calc.PointsForPlacement(scoring.PlacementContext{
		EdgePiece:       piece.Edge,
		FirstBlood:      firstBlood,
		CompletesPuzzle: completed,
	})

	player.Score += points
	player.PiecesPlaced++
	player.PositiveStreak++
	player.NegativeStreak = 0
	player.recentPlacements = appendPlacement(player.recentPlacements, time.Now())

	result := DropResult{
		Handled:        true,
		Placed:         true,
		PointsDelta:    points,
		FirstBlood:     firstBlood,
		Completed:      completed,
		Score:          player.Score,
		PositiveStreak: player.PositiveStreak,
	}

	var notice *MatchCompletedNotice
	var results []MatchResult
	var callbacks []ClientCallback
	if completed {
		notice, results, callbacks = s.finishLocked(true)
	}
	s.mu.Unlock()

	if completed {
		s.deliverFinish(notice, results, callbacks)
	}
	return result
}

// HandlePieceRelease is a voluntary release of a held, unplaced piece. No
// scoring effect.
func (s *GameSession) HandlePieceRelease(playerID string, pieceID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return false
	}

	piece, ok := s.pieces[pieceID]
	if !ok || piece.Placed || piece.HolderID != playerID {
		return false
	}

	piece.HolderID = ""
	piece.HeldSince = time.Time{}
	return true
}

// ReleaseHeldPieces drops every hold the player has, without penalty. Used on
// disconnect and departure. Returns the released piece ids.
func (s *GameSession) ReleaseHeldPieces(playerID string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released []int
	for _, piece := range s.pieces {
		if !piece.Placed && piece.HolderID == playerID {
			piece.HolderID = ""
			piece.HeldSince = time.Time{}
			released = append(released, piece.ID)
		}
	}
	return released
}

// RemovePlayer removes a participant and returns their final snapshot. The
// second return is false if the player was not present. The caller (registry)
// decides what an empty or under-populated session means.
func (s *GameSession) RemovePlayer(playerID string) (PlayerSummary, bool) {
	s.mu.Lock()

	player, ok := s.players[playerID]
	if !ok {
		s.mu.Unlock()
		return PlayerSummary{}, false
	}

	for _, piece := range s.pieces {
		if !piece.Placed && piece.HolderID == playerID {
			piece.HolderID = ""
			piece.HeldSince = time.Time{}
		}
	}

	delete(s.players, playerID)
	summary := summarize(player)
	departed := s.departureResult(player)
	finished := s.finished
	s.mu.Unlock()

	// Partial stats for the leaver; never blocks the removal path.
	if !finished {
		go s.persistResults([]MatchResult{departed})
	}
	return summary, true
}

// PlayerIDByUsername resolves a username to the player id, if present.
func (s *GameSession) PlayerIDByUsername(username string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, p := range s.players {
		if p.Username == username {
			return id, true
		}
	}
	return "", false
}

func (s *GameSession) PlayerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players)
}

// BelowMinimum reports whether the remaining roster is under the configured
// mid-match floor (an empty session is handled separately).
func (s *GameSession) BelowMinimum() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players) > 0 && len(s.players) < s.settings.MinPlayersInMatch
}

// EndEarly finishes a still-running match (too few players left). Stats are
// persisted and participants notified exactly once.
func (s *GameSession) EndEarly() {
	s.mu.Lock()
	if s.disposed || s.finished {
		s.mu.Unlock()
		return
	}
	notice, results, callbacks := s.finishLocked(false)
	s.mu.Unlock()

	s.deliverFinish(notice, results, callbacks)
}

// Players returns summaries sorted by descending score.
func (s *GameSession) Players() []PlayerSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.standingsLocked()
}

// Pieces returns piece snapshots, unsorted.
func (s *GameSession) Pieces() []PieceSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PieceSummary, 0, len(s.pieces))
	for _, p := range s.pieces {
		out = append(out, PieceSummary{
			ID:       p.ID,
			X:        p.X,
			Y:        p.Y,
			Placed:   p.Placed,
			HolderID: p.HolderID,
		})
	}
	return out
}

func (s *GameSession) PlacedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.placedCount
}

// Dispose marks the session dead. Safe to call more than once; in-flight
// operations either completed against the pre-disposal state or observe the
// flag and no-op.
func (s *GameSession) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return
	}
	s.disposed = true
	s.logger.Info("session disposed",
		zap.Int("placed", s.placedCount),
		zap.Int("pieces", len(s.pieces)))
}

func (s *GameSession) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// finishLocked seals the match and assembles everything the post-lock
// delivery needs. Caller holds s.mu and must pass the returns to
// deliverFinish after unlocking.
func (s *GameSession) finishLocked(completed bool) (*MatchCompletedNotice, []MatchResult, []ClientCallback) {
	s.finished = true

	standings := s.standingsLocked()
	top := 0
	for _, p := range standings {
		if p.Score > top {
			top = p.Score
		}
	}

	results := make([]MatchResult, 0, len(s.players))
	callbacks := make([]ClientCallback, 0, len(s.players))
	for _, p := range s.players {
		var achievements []string
		if completed {
			achievements = append(achievements, "team_finish")
		}
		if p.ID == s.firstBloodPlayer {
			achievements = append(achievements, "first_blood")
		}
		won := completed && p.Score == top
		if won {
			achievements = append(achievements, "top_scorer")
		}

		results = append(results, MatchResult{
			MatchID:      s.matchID,
			PlayerID:     p.ID,
			Username:     p.Username,
			Score:        p.Score,
			PiecesPlaced: p.PiecesPlaced,
			Won:          won,
			Completed:    completed,
			Playtime:     time.Since(p.JoinedAt),
			Achievements: achievements,
		})
		if p.Callback != nil {
			callbacks = append(callbacks, p.Callback)
		}
	}

	notice := &MatchCompletedNotice{
		MatchID:         s.matchID,
		LobbyCode:       s.lobbyCode,
		Completed:       completed,
		DurationSeconds: time.Since(s.startedAt).Seconds(),
		Standings:       standings,
	}
	return notice, results, callbacks
}

func (s *GameSession) deliverFinish(notice *MatchCompletedNotice, results []MatchResult, callbacks []ClientCallback) {
	go s.persistResults(results)
	go func() {
		for _, cb := range callbacks {
			if err := cb.Send(notice); err != nil {
				s.logger.Warn("completion notify failed", zap.Error(err))
			}
		}
	}()
}

func (s *GameSession) persistResults(results []MatchResult) {
	if s.stats == nil {
		return
	}
	for _, r := range results {
		ctx, cancel := context.WithTimeout(context.Background(), statsWriteTimeout)
		if err := s.stats.RecordMatchResult(ctx, r); err != nil {
			s.logger.Error("stats persistence failed",
				zap.String("player", r.PlayerID), zap.Error(err))
		}
		cancel()
	}
}

func (s *GameSession) departureResult(p *playerState) MatchResult {
	return MatchResult{
		MatchID:      s.matchID,
		PlayerID:     p.ID,
		Username:     p.Username,
		Score:        p.Score,
		PiecesPlaced: p.PiecesPlaced,
		Playtime:     time.Since(p.JoinedAt),
	}
}

func (s *GameSession) standingsLocked() []PlayerSummary {
	out := make([]PlayerSummary, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, summarize(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Username < out[j].Username
	})
	return out
}

func summarize(p *playerState) PlayerSummary {
	pace := 0
	cutoff := time.Now().Add(-time.Minute)
	for _, t := range p.recentPlacements {
		if t.After(cutoff) {
			pace++
		}
	}
	return PlayerSummary{
		ID:             p.ID,
		Username:       p.Username,
		Avatar:         p.Avatar,
		Score:          p.Score,
		PiecesPlaced:   p.PiecesPlaced,
		PositiveStreak: p.PositiveStreak,
		NegativeStreak: p.NegativeStreak,
		RecentPace:     pace,
	}
}

func appendPlacement(times []time.Time, t time.Time) []time.Time {
	times = append(times, t)
	if len(times) > 16 {
		times = times[len(times)-16:]
	}
	return times
}

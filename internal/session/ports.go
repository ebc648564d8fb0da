package session

import (
	"context"
	"time"

	"puzzle-server/internal/puzzle"
)

// ClientCallback is the outbound capability for one connected player. The
// transport layer implements it; the engine only ever sends and probes.
type ClientCallback interface {
	Send(notification any) error
	IsHealthy() bool
}

// MatchResult is one player's final line for a match. Stores must treat
// (MatchID, PlayerID) as the idempotency key.
type MatchResult struct {
	MatchID      string
	PlayerID     string
	Username     string
	Score        int
	PiecesPlaced int
	Won          bool
	Completed    bool
	Playtime     time.Duration
	Achievements []string
}

// StatsStore persists match outcomes. Calls are fire-and-forget from the
// engine's perspective; failures are logged, never surfaced to piece actions.
type StatsStore interface {
	RecordMatchResult(ctx context.Context, result MatchResult) error
}

// AssetSource resolves a puzzle id to an image path on disk.
type AssetSource interface {
	ImagePath(puzzleID string) (string, error)
}

// LayoutGenerator slices an image into a piece layout for a difficulty.
type LayoutGenerator func(imagePath string, difficulty puzzle.Difficulty) (*puzzle.Layout, error)

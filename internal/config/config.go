package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable the engine recognizes. Values come from the
// environment (a .env file is loaded by the godotenv autoload import in main).
type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`

	PuzzleAssetDir string `env:"PUZZLE_ASSET_DIR" envDefault:"./assets/puzzles"`

	// Liveness. A client missing HeartbeatMissedThreshold consecutive
	// intervals is treated as silently disconnected.
	HeartbeatIntervalMS      int `env:"HEARTBEAT_INTERVAL_MS" envDefault:"5000"`
	HeartbeatMissedThreshold int `env:"HEARTBEAT_MISSED_THRESHOLD" envDefault:"3"`

	// Lobby rules.
	MinPlayersToStart  int `env:"MIN_PLAYERS_TO_START" envDefault:"2"`
	MaxPlayersPerLobby int `env:"MAX_PLAYERS_PER_LOBBY" envDefault:"8"`
	MinPlayersInMatch  int `env:"MIN_PLAYERS_IN_MATCH" envDefault:"1"`

	// Piece placement. Tolerance is the max distance (in board units) between
	// a dropped piece and its target for the drop to count as correct.
	PlacementTolerance float64 `env:"PLACEMENT_TOLERANCE" envDefault:"40"`

	// Scoring.
	InteriorPiecePoints int `env:"INTERIOR_PIECE_POINTS" envDefault:"10"`
	EdgePiecePoints     int `env:"EDGE_PIECE_POINTS" envDefault:"15"`
	FirstBloodBonus     int `env:"FIRST_BLOOD_BONUS" envDefault:"25"`
	CompletionBonus     int `env:"COMPLETION_BONUS" envDefault:"50"`
	PenaltyBase         int `env:"PENALTY_BASE" envDefault:"2"`
	PenaltyStep         int `env:"PENALTY_STEP" envDefault:"2"`
	PenaltyCap          int `env:"PENALTY_CAP" envDefault:"10"`
}

func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse config from environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.HeartbeatIntervalMS <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL_MS must be positive, got %d", c.HeartbeatIntervalMS)
	}
	if c.HeartbeatMissedThreshold <= 0 {
		return fmt.Errorf("HEARTBEAT_MISSED_THRESHOLD must be positive, got %d", c.HeartbeatMissedThreshold)
	}
	if c.MinPlayersToStart < 1 {
		return fmt.Errorf("MIN_PLAYERS_TO_START must be at least 1, got %d", c.MinPlayersToStart)
	}
	if c.MaxPlayersPerLobby < c.MinPlayersToStart {
		return fmt.Errorf("MAX_PLAYERS_PER_LOBBY (%d) must not be below MIN_PLAYERS_TO_START (%d)",
			c.MaxPlayersPerLobby, c.MinPlayersToStart)
	}
	if c.PlacementTolerance <= 0 {
		return fmt.Errorf("PLACEMENT_TOLERANCE must be positive, got %v", c.PlacementTolerance)
	}
	return nil
}

func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
}

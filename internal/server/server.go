package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	_ "github.com/joho/godotenv/autoload"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"puzzle-server/internal/config"
	"puzzle-server/internal/database"
	"puzzle-server/internal/heartbeat"
	"puzzle-server/internal/lobby"
	"puzzle-server/internal/puzzle"
	"puzzle-server/internal/scoring"
	"puzzle-server/internal/session"
	"puzzle-server/internal/storage"
)

const messagesPerSecond = 60

type Server struct {
	cfg    config.Config
	logger *zap.Logger
	db     database.Service

	connectionManager *ConnectionManager
	rateLimiter       *RateLimiter
	registry          *session.Registry
	lobbies           *lobby.Service
	heartbeats        *heartbeat.Monitor
	invites           *storage.InviteStore

	shutdown chan struct{}
}

// NewServer wires the whole engine together and returns both the wired
// Server and the http.Server serving its routes.
func NewServer(cfg config.Config, logger *zap.Logger) (*Server, *http.Server, error) {
	dbService, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	if err := runMigrations(dbService.DB()); err != nil {
		dbService.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations applied")

	statsStore := storage.NewStatsStore(dbService.DB(), logger)
	inviteStore := storage.NewInviteStore(dbService.DB(), logger)

	assets := puzzle.NewFileAssetStore(cfg.PuzzleAssetDir)
	if err := assets.LoadCatalog(); err != nil {
		// Puzzles can still be registered at runtime; start with an empty
		// catalog rather than refusing to boot.
		logger.Warn("puzzle catalog load failed", zap.String("dir", cfg.PuzzleAssetDir), zap.Error(err))
	}

	calc := scoring.NewCalculator(scoring.Rules{
		InteriorPiecePoints: cfg.InteriorPiecePoints,
		EdgePiecePoints:     cfg.EdgePiecePoints,
		FirstBloodBonus:     cfg.FirstBloodBonus,
		CompletionBonus:     cfg.CompletionBonus,
		PenaltyBase:         cfg.PenaltyBase,
		PenaltyStep:         cfg.PenaltyStep,
		PenaltyCap:          cfg.PenaltyCap,
	})

	connectionManager := NewConnectionManager()

	registry := session.NewRegistry(assets, puzzle.GenerateLayout, calc, statsStore, session.Settings{
		PlacementTolerance: cfg.PlacementTolerance,
		MinPlayersInMatch:  cfg.MinPlayersInMatch,
	}, logger)

	notifier := &wsNotifier{connections: connectionManager, logger: logger}
	starter := &registryStarter{registry: registry, connections: connectionManager, logger: logger}

	lobbies := lobby.NewService(notifier, inviteStore, starter, registry,
		cfg.MinPlayersToStart, cfg.MaxPlayersPerLobby, logger)

	// Every session teardown, however it happens, retires the lobby behind it
	// so the code frees up: completion, emptied roster, early end alike.
	registry.SetSessionEndedHook(lobbies.HandleSessionEnded)

	s := &Server{
		cfg:               cfg,
		logger:            logger,
		db:                dbService,
		connectionManager: connectionManager,
		rateLimiter:       NewRateLimiter(messagesPerSecond, time.Second),
		registry:          registry,
		lobbies:           lobbies,
		invites:           inviteStore,
		shutdown:          make(chan struct{}),
	}

	s.heartbeats = heartbeat.NewMonitor(cfg.HeartbeatInterval(), cfg.HeartbeatMissedThreshold,
		s.handlePresenceLoss, logger)
	s.heartbeats.Start()

	go s.rateLimiterCleanupTask()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s, httpServer, nil
}

// handlePresenceLoss is invoked by the heartbeat monitor when a client goes
// silent past the missed-beat threshold. The socket is closed last so the
// read loop's own cleanup finds the player already gone; every step is
// idempotent.
func (s *Server) handlePresenceLoss(username string) {
	s.logger.Info("presence lost", zap.String("username", username))

	s.lobbies.HandleUserDisconnect(username)
	s.registry.HandlePlayerDisconnect(username, "")

	if client := s.connectionManager.ByUsername(username); client != nil {
		client.conn.Close(websocket.StatusPolicyViolation, "heartbeat timeout")
	}
}

// Shutdown stops background work and closes the database. The HTTP listener
// is shut down separately by the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.shutdown)
	s.heartbeats.Stop()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// runMigrations applies database migrations using goose
func runMigrations(db *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "./db/migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// rateLimiterCleanupTask periodically drops rate-limit state for idle
// connections so the map does not grow with connection churn.
func (s *Server) rateLimiterCleanupTask() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.rateLimiter.Cleanup()
		case <-s.shutdown:
			return
		}
	}
}

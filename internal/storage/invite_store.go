package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"puzzle-server/internal/lobby"
)

const inviteQueryTimeout = 5 * time.Second

// InviteStore persists guest passes. It implements lobby.Invitations; the
// extra CreateInvitation method is used by the transport layer when a host
// invites by email.
type InviteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewInviteStore(db *sql.DB, logger *zap.Logger) *InviteStore {
	return &InviteStore{db: db, logger: logger}
}

func (s *InviteStore) CreateInvitation(lobbyCode, email string, ttl time.Duration) (lobby.Invitation, error) {
	if lobbyCode == "" || email == "" {
		return lobby.Invitation{}, fmt.Errorf("invitation requires lobby code and email")
	}

	inv := lobby.Invitation{
		ID:        uuid.New().String(),
		LobbyCode: lobbyCode,
		Email:     email,
		ExpiresAt: time.Now().Add(ttl),
	}

	ctx, cancel := context.WithTimeout(context.Background(), inviteQueryTimeout)
	defer cancel()

	const insert = `
		INSERT INTO invitations (id, lobby_code, email, expires_at, used)
		VALUES ($1, $2, $3, $4, FALSE)
	`
	if _, err := s.db.ExecContext(ctx, insert, inv.ID, inv.LobbyCode, inv.Email, inv.ExpiresAt); err != nil {
		return lobby.Invitation{}, fmt.Errorf("create invitation for %s: %w", lobbyCode, err)
	}
	return inv, nil
}

// FindInvitation returns the most recent invitation for the lobby and email,
// used or not; the lobby service decides what a used or expired pass means.
func (s *InviteStore) FindInvitation(lobbyCode, email string) (*lobby.Invitation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), inviteQueryTimeout)
	defer cancel()

	const query = `
		SELECT id, lobby_code, email, expires_at, used
		FROM invitations
		WHERE lobby_code = $1 AND email = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	var inv lobby.Invitation
	err := s.db.QueryRowContext(ctx, query, lobbyCode, email).
		Scan(&inv.ID, &inv.LobbyCode, &inv.Email, &inv.ExpiresAt, &inv.Used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lobby.ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find invitation for %s: %w", lobbyCode, err)
	}
	return &inv, nil
}

func (s *InviteStore) MarkUsed(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), inviteQueryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `UPDATE invitations SET used = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark invitation %s used: %w", id, err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return lobby.ErrInvitationNotFound
	}
	return nil
}

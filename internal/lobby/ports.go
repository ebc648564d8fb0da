package lobby

import (
	"errors"
	"time"

	"puzzle-server/internal/puzzle"
)

// Event is what the lifecycle service pushes through the notification
// collaborator. Reason is a machine-readable code for localization.
type Event struct {
	Type   string            `json:"type"`
	Reason string            `json:"reason,omitempty"`
	Params map[string]string `json:"params,omitempty"`
	Lobby  *Snapshot         `json:"lobby,omitempty"`
}

const (
	EventLobbyUpdated   = "lobby_updated"
	EventLobbyDestroyed = "lobby_destroyed"
	EventKicked         = "kicked"
	EventInvited        = "invited"
	EventGameStarted    = "game_started"
)

// Notifier pushes lobby events out to clients. Fire-and-forget from the
// service's perspective.
type Notifier interface {
	NotifyUser(username string, event Event)
	NotifyLobby(usernames []string, event Event)
}

var ErrInvitationNotFound = errors.New("INVITE_NOT_FOUND: no invitation for that lobby and email")

// Invitation is an emailed guest pass for one lobby. Marking it used is a
// one-way transition owned by the collaborator.
type Invitation struct {
	ID        string
	LobbyCode string
	Email     string
	ExpiresAt time.Time
	Used      bool
}

type Invitations interface {
	FindInvitation(lobbyCode, email string) (*Invitation, error)
	MarkUsed(id string) error
}

// PlayerRef identifies one roster member handed to the session layer on
// start.
type PlayerRef struct {
	ID       string
	Username string
	Avatar   string
}

// SessionStarter materializes the in-game session when a lobby starts. The
// registry sits behind this seam; the transport layer supplies callbacks.
type SessionStarter interface {
	StartSession(lobbyCode, puzzleID string, difficulty puzzle.Difficulty, players []PlayerRef) error
}

// BusyChecker reports whether a player is already in a running match.
type BusyChecker interface {
	IsPlayerInAnySession(username string) bool
}

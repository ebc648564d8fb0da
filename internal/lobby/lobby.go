package lobby

import (
	"math/rand"
	"strings"
	"time"

	"puzzle-server/internal/puzzle"
)

type Phase string

const (
	PhaseOpen    Phase = "open"
	PhaseStarted Phase = "started"
	PhaseEnded   Phase = "ended"
)

type Member struct {
	ID       string
	Username string
	Avatar   string
	Guest    bool
	JoinedAt time.Time
}

// Lobby is the pre-game grouping of players under a host. Owned by the
// Service; callers only ever see Snapshot copies.
type Lobby struct {
	Code       string
	HostID     string
	Members    []Member // ordered roster, host first
	Difficulty puzzle.Difficulty
	PuzzleID   string
	Phase      Phase
	Banned     map[string]bool // usernames kicked out, barred from rejoining
	CreatedAt  time.Time
}

func (l *Lobby) member(username string) (Member, bool) {
	for _, m := range l.Members {
		if m.Username == username {
			return m, true
		}
	}
	return Member{}, false
}

func (l *Lobby) host() (Member, bool) {
	for _, m := range l.Members {
		if m.ID == l.HostID {
			return m, true
		}
	}
	return Member{}, false
}

func (l *Lobby) isHost(username string) bool {
	h, ok := l.host()
	return ok && h.Username == username
}

func (l *Lobby) removeMember(username string) bool {
	for i, m := range l.Members {
		if m.Username == username {
			l.Members = append(l.Members[:i], l.Members[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot is the wire-safe view of a lobby pushed to clients.
type Snapshot struct {
	Code       string           `json:"code"`
	Host       string           `json:"host"`
	Members    []MemberSnapshot `json:"members"`
	Difficulty string           `json:"difficulty"`
	PuzzleID   string           `json:"puzzleId"`
	Phase      string           `json:"phase"`
}

type MemberSnapshot struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Guest    bool   `json:"guest"`
}

func (l *Lobby) snapshot() Snapshot {
	host, _ := l.host()
	members := make([]MemberSnapshot, 0, len(l.Members))
	for _, m := range l.Members {
		members = append(members, MemberSnapshot{Username: m.Username, Avatar: m.Avatar, Guest: m.Guest})
	}
	return Snapshot{
		Code:       l.Code,
		Host:       host.Username,
		Members:    members,
		Difficulty: string(l.Difficulty),
		PuzzleID:   l.PuzzleID,
		Phase:      string(l.Phase),
	}
}

func (l *Lobby) memberUsernames() []string {
	names := make([]string, 0, len(l.Members))
	for _, m := range l.Members {
		names = append(names, m.Username)
	}
	return names
}

const codeLength = 4

// GenerateLobbyCode returns a fresh 4-letter code not present in usedCodes.
// Codes are stored upper-case and compared case-insensitively everywhere.
func GenerateLobbyCode(usedCodes map[string]bool) string {
	for {
		code := make([]byte, codeLength)
		for i := range code {
			code[i] = 'A' + byte(rand.Intn(26))
		}
		if !usedCodes[string(code)] {
			return string(code)
		}
	}
}

func NormalizeLobbyCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func ValidLobbyCode(code string) bool {
	if len(code) != codeLength {
		return false
	}
	for _, ch := range NormalizeLobbyCode(code) {
		if ch < 'A' || ch > 'Z' {
			return false
		}
	}
	return true
}

package lobby

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"puzzle-server/internal/puzzle"
)

// Service owns every pre-game lobby and drives the lifecycle state machine:
// create, join, guest-join, invite, kick, difficulty change, start, leave,
// disconnect. Validation is delegated to the pure predicates in
// validation.go; results are pushed through the Notifier.
type Service struct {
	mu        sync.RWMutex
	lobbies   map[string]*Lobby // normalized code -> lobby
	usedCodes map[string]bool

	notifier Notifier
	invites  Invitations
	starter  SessionStarter
	busy     BusyChecker

	minPlayers int
	maxPlayers int
	logger     *zap.Logger
}

func NewService(notifier Notifier, invites Invitations, starter SessionStarter, busy BusyChecker,
	minPlayers, maxPlayers int, logger *zap.Logger) *Service {

	return &Service{
		lobbies:    make(map[string]*Lobby),
		usedCodes:  make(map[string]bool),
		notifier:   notifier,
		invites:    invites,
		starter:    starter,
		busy:       busy,
		minPlayers: minPlayers,
		maxPlayers: maxPlayers,
		logger:     logger,
	}
}

// Create allocates a fresh lobby with the requester as host. Returns the
// result and, on success, the new lobby code.
func (s *Service) Create(hostID, username, avatar, puzzleID string, difficulty puzzle.Difficulty) (Result, string) {
	busy := s.busy != nil && s.busy.IsPlayerInAnySession(username)

	s.mu.Lock()
	hosting := s.hostsLobbyLocked(username)
	if r := CanCreateLobby(username, hosting, busy); !r.OK {
		s.mu.Unlock()
		return r, ""
	}

	code := GenerateLobbyCode(s.usedCodes)
	s.usedCodes[code] = true

	l := &Lobby{
		Code:       code,
		HostID:     hostID,
		Difficulty: difficulty,
		PuzzleID:   puzzleID,
		Phase:      PhaseOpen,
		Banned:     make(map[string]bool),
		CreatedAt:  time.Now(),
		Members: []Member{{
			ID:       hostID,
			Username: username,
			Avatar:   avatar,
			JoinedAt: time.Now(),
		}},
	}
	s.lobbies[code] = l
	snap := l.snapshot()
	s.mu.Unlock()

	s.logger.Info("lobby created", zap.String("code", code), zap.String("host", username))
	s.notifier.NotifyUser(username, Event{Type: EventLobbyUpdated, Lobby: &snap})
	return Allowed(), code
}

// Join adds a registered player to an open lobby.
func (s *Service) Join(code, playerID, username, avatar string) Result {
	return s.join(code, Member{ID: playerID, Username: username, Avatar: avatar, JoinedAt: time.Now()})
}

// GuestJoin admits a player through an emailed invitation: the invitation
// must match the lobby and email, be unused and unexpired. An empty playerID
// gets a generated one; the caller keeps whatever id ends up on the roster.
func (s *Service) GuestJoin(code, email, playerID, username, avatar string) Result {
	normalized := NormalizeLobbyCode(code)

	inv, err := s.invites.FindInvitation(normalized, email)
	if err != nil {
		return Denied(ReasonInviteNotFound)
	}
	if inv.Used {
		return Denied(ReasonInviteUsed)
	}
	if time.Now().After(inv.ExpiresAt) {
		return Denied(ReasonInviteExpired)
	}

	if playerID == "" {
		playerID = uuid.New().String()
	}
	result := s.join(code, Member{
		ID:       playerID,
		Username: username,
		Avatar:   avatar,
		Guest:    true,
		JoinedAt: time.Now(),
	})
	if !result.OK {
		return result
	}

	if err := s.invites.MarkUsed(inv.ID); err != nil {
		// The guest is already in; an unmarked invitation is recoverable,
		// a rolled-back join is not.
		s.logger.Error("mark invitation used failed", zap.String("invite", inv.ID), zap.Error(err))
	}
	return result
}

func (s *Service) join(code string, joiner Member) Result {
	normalized := NormalizeLobbyCode(code)
	busy := s.busy != nil && s.busy.IsPlayerInAnySession(joiner.Username)

	s.mu.Lock()
	l := s.lobbies[normalized]
	if r := CanJoinLobby(l, joiner.Username, code, s.maxPlayers, busy); !r.OK {
		s.mu.Unlock()
		return r
	}
	if s.memberOfLobbyLocked(joiner.Username) {
		// Sitting in one lobby while joining another would let a single
		// player get seeded into two sessions.
		s.mu.Unlock()
		return Denied(ReasonAlreadyInLobby)
	}

	l.Members = append(l.Members, joiner)
	snap := l.snapshot()
	names := l.memberUsernames()
	s.mu.Unlock()

	s.logger.Info("player joined lobby",
		zap.String("code", normalized), zap.String("player", joiner.Username), zap.Bool("guest", joiner.Guest))
	s.notifier.NotifyLobby(names, Event{Type: EventLobbyUpdated, Lobby: &snap})
	return Allowed()
}

// Invite validates and notifies the target; issuing the emailed invitation
// itself belongs to the external collaborator.
func (s *Service) Invite(code, requester, target string) Result {
	normalized := NormalizeLobbyCode(code)

	s.mu.RLock()
	l := s.lobbies[normalized]
	r := CanInvitePlayer(l, target, s.maxPlayers)
	var snap Snapshot
	if r.OK {
		snap = l.snapshot()
	}
	s.mu.RUnlock()

	if !r.OK {
		return r
	}
	s.notifier.NotifyUser(target, Event{
		Type:   EventInvited,
		Params: map[string]string{"from": requester, "code": normalized},
		Lobby:  &snap,
	})
	return Allowed()
}

// Kick removes the target from the roster and bans them from rejoining.
func (s *Service) Kick(code, requester, target string) Result {
	normalized := NormalizeLobbyCode(code)

	s.mu.Lock()
	l := s.lobbies[normalized]
	if r := CanKickPlayer(l, requester, target); !r.OK {
		s.mu.Unlock()
		return r
	}

	l.removeMember(target)
	l.Banned[target] = true
	snap := l.snapshot()
	names := l.memberUsernames()
	s.mu.Unlock()

	s.logger.Info("player kicked", zap.String("code", normalized), zap.String("target", target))
	s.notifier.NotifyUser(target, Event{Type: EventKicked, Reason: ReasonBanned})
	s.notifier.NotifyLobby(names, Event{Type: EventLobbyUpdated, Lobby: &snap})
	return Allowed()
}

// SetDifficulty changes puzzle difficulty, host-only and pre-start only.
func (s *Service) SetDifficulty(code, requester string, difficulty puzzle.Difficulty) Result {
	normalized := NormalizeLobbyCode(code)

	s.mu.Lock()
	l := s.lobbies[normalized]
	if r := CanChangeDifficulty(l, requester); !r.OK {
		s.mu.Unlock()
		return r
	}

	l.Difficulty = difficulty
	snap := l.snapshot()
	names := l.memberUsernames()
	s.mu.Unlock()

	s.notifier.NotifyLobby(names, Event{Type: EventLobbyUpdated, Lobby: &snap})
	return Allowed()
}

// Start transitions an open lobby to Started, asking the session layer to
// materialize the match first. If that fails the lobby stays open.
func (s *Service) Start(code, requester string) Result {
	normalized := NormalizeLobbyCode(code)

	s.mu.Lock()
	l := s.lobbies[normalized]
	if r := CanStartGame(l, requester, s.minPlayers); !r.OK {
		s.mu.Unlock()
		return r
	}

	players := make([]PlayerRef, 0, len(l.Members))
	for _, m := range l.Members {
		players = append(players, PlayerRef{ID: m.ID, Username: m.Username, Avatar: m.Avatar})
	}
	puzzleID := l.PuzzleID
	difficulty := l.Difficulty
	s.mu.Unlock()

	if err := s.starter.StartSession(normalized, puzzleID, difficulty, players); err != nil {
		s.logger.Error("session start failed", zap.String("code", normalized), zap.Error(err))
		return DeniedWith(ReasonStartFailed, map[string]string{"error": err.Error()})
	}

	s.mu.Lock()
	l = s.lobbies[normalized]
	if l == nil {
		// Destroyed while the session was being built; the registry's
		// teardown path owns cleanup from here.
		s.mu.Unlock()
		return Denied(ReasonLobbyNotFound)
	}
	l.Phase = PhaseStarted
	snap := l.snapshot()
	names := l.memberUsernames()
	s.mu.Unlock()

	s.logger.Info("lobby started", zap.String("code", normalized), zap.Int("players", len(names)))
	s.notifier.NotifyLobby(names, Event{Type: EventGameStarted, Lobby: &snap})
	return Allowed()
}

// Leave removes a member from the roster. Pre-game, a leaving host destroys
// the lobby. The second return reports whether the lobby had already started,
// in which case the caller must also route the departure to the session's
// voluntary-leave path.
func (s *Service) Leave(code, username string) (Result, bool) {
	normalized := NormalizeLobbyCode(code)

	s.mu.Lock()
	l := s.lobbies[normalized]
	if l == nil {
		s.mu.Unlock()
		return Denied(ReasonLobbyNotFound), false
	}
	if _, present := l.member(username); !present {
		s.mu.Unlock()
		return Denied(ReasonNotInLobby), false
	}

	started := l.Phase == PhaseStarted
	if !started && l.isHost(username) {
		s.destroyLocked(l)
		s.mu.Unlock()
		return Allowed(), false
	}

	l.removeMember(username)
	snap := l.snapshot()
	names := l.memberUsernames()
	s.mu.Unlock()

	s.notifier.NotifyLobby(names, Event{Type: EventLobbyUpdated, Lobby: &snap})
	return Allowed(), started
}

// HandleUserDisconnect drops the user from any lobby they host or occupy.
// A hosting user takes the lobby down with them. Idempotent toward the
// session registry's own disconnect cleanup.
func (s *Service) HandleUserDisconnect(username string) {
	s.mu.Lock()
	var destroyed bool
	var snap Snapshot
	var names []string
	for _, l := range s.lobbies {
		if _, present := l.member(username); !present {
			continue
		}
		if l.isHost(username) {
			s.destroyLocked(l)
			destroyed = true
		} else {
			l.removeMember(username)
			snap = l.snapshot()
			names = l.memberUsernames()
		}
		break
	}
	s.mu.Unlock()

	if !destroyed && names != nil {
		s.notifier.NotifyLobby(names, Event{Type: EventLobbyUpdated, Lobby: &snap})
	}
}

// HandleSessionEnded retires the lobby record once its match is over.
func (s *Service) HandleSessionEnded(code string) {
	normalized := NormalizeLobbyCode(code)

	s.mu.Lock()
	l := s.lobbies[normalized]
	if l == nil {
		s.mu.Unlock()
		return
	}
	l.Phase = PhaseEnded
	delete(s.lobbies, normalized)
	delete(s.usedCodes, normalized)
	s.mu.Unlock()

	s.logger.Info("lobby retired", zap.String("code", normalized))
}

// Get returns a snapshot of the lobby, if it exists.
func (s *Service) Get(code string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l := s.lobbies[NormalizeLobbyCode(code)]
	if l == nil {
		return Snapshot{}, false
	}
	return l.snapshot(), true
}

// LobbyOf returns the code of the lobby holding the username, if any.
func (s *Service) LobbyOf(username string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for code, l := range s.lobbies {
		if _, present := l.member(username); present {
			return code, true
		}
	}
	return "", false
}

func (s *Service) LobbyCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lobbies)
}

func (s *Service) memberOfLobbyLocked(username string) bool {
	for _, l := range s.lobbies {
		if _, present := l.member(username); present {
			return true
		}
	}
	return false
}

func (s *Service) hostsLobbyLocked(username string) bool {
	for _, l := range s.lobbies {
		if l.isHost(username) {
			return true
		}
	}
	return false
}

// destroyLocked removes the lobby and notifies remaining members. Caller
// holds s.mu; notification is deferred to a goroutine so the lock is never
// held across the notifier.
func (s *Service) destroyLocked(l *Lobby) {
	l.Phase = PhaseEnded
	delete(s.lobbies, l.Code)
	delete(s.usedCodes, l.Code)

	names := l.memberUsernames()
	code := l.Code
	go func() {
		s.notifier.NotifyLobby(names, Event{Type: EventLobbyDestroyed, Reason: ReasonLobbyNotFound})
		s.logger.Info("lobby destroyed", zap.String("code", code))
	}()
}

package lobby

import (
	"strconv"
	"strings"
)

// Pure predicates over lobby state. No side effects; every denial carries a
// machine-readable reason code.

func ValidUsername(username string) Result {
	trimmed := strings.TrimSpace(username)
	if trimmed == "" || len(trimmed) > 20 {
		return Denied(ReasonUsernameInvalid)
	}
	return Allowed()
}

// CanCreateLobby checks the would-be host: valid name, not hosting another
// lobby, not in a running match.
func CanCreateLobby(username string, alreadyHosting, busyInSession bool) Result {
	if r := ValidUsername(username); !r.OK {
		return r
	}
	if alreadyHosting {
		return Denied(ReasonAlreadyHosting)
	}
	if busyInSession {
		return Denied(ReasonPlayerBusy)
	}
	return Allowed()
}

// CanJoinLobby checks code match, phase, capacity, bans, duplicates, and that
// the joiner is not tied up in a running match.
func CanJoinLobby(l *Lobby, username, suppliedCode string, maxPlayers int, busyInSession bool) Result {
	if r := ValidUsername(username); !r.OK {
		return r
	}
	if l == nil {
		return Denied(ReasonLobbyNotFound)
	}
	if NormalizeLobbyCode(suppliedCode) != l.Code {
		return Denied(ReasonCodeMismatch)
	}
	if l.Phase != PhaseOpen {
		return Denied(ReasonAlreadyStarted)
	}
	if l.Banned[username] {
		return Denied(ReasonBanned)
	}
	if _, present := l.member(username); present {
		return Denied(ReasonAlreadyInLobby)
	}
	if busyInSession {
		return Denied(ReasonPlayerBusy)
	}
	if len(l.Members) >= maxPlayers {
		return DeniedWith(ReasonLobbyFull, map[string]string{"max": strconv.Itoa(maxPlayers)})
	}
	return Allowed()
}

// CanInvitePlayer checks the target is not already present and there is room.
func CanInvitePlayer(l *Lobby, target string, maxPlayers int) Result {
	if l == nil {
		return Denied(ReasonLobbyNotFound)
	}
	if l.Phase != PhaseOpen {
		return Denied(ReasonAlreadyStarted)
	}
	if _, present := l.member(target); present {
		return Denied(ReasonAlreadyInLobby)
	}
	if len(l.Members) >= maxPlayers {
		return DeniedWith(ReasonLobbyFull, map[string]string{"max": strconv.Itoa(maxPlayers)})
	}
	return Allowed()
}

// CanKickPlayer: host only, never self, target must be present.
func CanKickPlayer(l *Lobby, requester, target string) Result {
	if l == nil {
		return Denied(ReasonLobbyNotFound)
	}
	if !l.isHost(requester) {
		return Denied(ReasonNotHost)
	}
	if requester == target {
		return Denied(ReasonCannotKickSelf)
	}
	if _, present := l.member(target); !present {
		return DeniedWith(ReasonTargetNotInLobby, map[string]string{"target": target})
	}
	return Allowed()
}

// CanStartGame: host only, enough players, not already started.
func CanStartGame(l *Lobby, requester string, minPlayers int) Result {
	if l == nil {
		return Denied(ReasonLobbyNotFound)
	}
	if l.Phase != PhaseOpen {
		return Denied(ReasonAlreadyStarted)
	}
	if !l.isHost(requester) {
		return Denied(ReasonNotHost)
	}
	if len(l.Members) < minPlayers {
		return DeniedWith(ReasonNotEnoughPlayers, map[string]string{"min": strconv.Itoa(minPlayers)})
	}
	return Allowed()
}

// CanChangeDifficulty: host only, pre-start only.
func CanChangeDifficulty(l *Lobby, requester string) Result {
	if l == nil {
		return Denied(ReasonLobbyNotFound)
	}
	if l.Phase != PhaseOpen {
		return Denied(ReasonAlreadyStarted)
	}
	if !l.isHost(requester) {
		return Denied(ReasonNotHost)
	}
	return Allowed()
}

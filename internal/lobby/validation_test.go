package lobby

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"puzzle-server/internal/puzzle"
)

func openLobby() *Lobby {
	return &Lobby{
		Code:       "ABCD",
		HostID:     "h1",
		Difficulty: puzzle.DifficultyMedium,
		PuzzleID:   "forest",
		Phase:      PhaseOpen,
		Banned:     make(map[string]bool),
		CreatedAt:  time.Now(),
		Members: []Member{
			{ID: "h1", Username: "Host"},
			{ID: "p2", Username: "Bob"},
		},
	}
}

func TestValidUsername(t *testing.T) {
	assert := assert.New(t)

	assert.True(ValidUsername("Alice").OK)
	assert.False(ValidUsername("").OK)
	assert.False(ValidUsername("   ").OK)
	assert.False(ValidUsername("123456789012345678901").OK)
}

func TestCanCreateLobby(t *testing.T) {
	assert := assert.New(t)

	assert.True(CanCreateLobby("Alice", false, false).OK)
	assert.Equal(ReasonAlreadyHosting, CanCreateLobby("Alice", true, false).Code)
	assert.Equal(ReasonPlayerBusy, CanCreateLobby("Alice", false, true).Code)
	assert.Equal(ReasonUsernameInvalid, CanCreateLobby("", false, false).Code)
}

func TestCanJoinLobby(t *testing.T) {
	assert := assert.New(t)
	l := openLobby()

	assert.True(CanJoinLobby(l, "Carol", "abcd", 4, false).OK) // case-insensitive code

	assert.Equal(ReasonLobbyNotFound, CanJoinLobby(nil, "Carol", "ABCD", 4, false).Code)
	assert.Equal(ReasonCodeMismatch, CanJoinLobby(l, "Carol", "WXYZ", 4, false).Code)
	assert.Equal(ReasonAlreadyInLobby, CanJoinLobby(l, "Bob", "ABCD", 4, false).Code)
	assert.Equal(ReasonPlayerBusy, CanJoinLobby(l, "Carol", "ABCD", 4, true).Code)

	l.Banned["Carol"] = true
	assert.Equal(ReasonBanned, CanJoinLobby(l, "Carol", "ABCD", 4, false).Code)

	full := CanJoinLobby(l, "Dave", "ABCD", 2, false)
	assert.Equal(ReasonLobbyFull, full.Code)
	assert.Equal("2", full.Params["max"])

	l.Phase = PhaseStarted
	assert.Equal(ReasonAlreadyStarted, CanJoinLobby(l, "Dave", "ABCD", 8, false).Code)
}

func TestCanInvitePlayer(t *testing.T) {
	assert := assert.New(t)
	l := openLobby()

	assert.True(CanInvitePlayer(l, "Carol", 4).OK)
	assert.Equal(ReasonAlreadyInLobby, CanInvitePlayer(l, "Bob", 4).Code)
	assert.Equal(ReasonLobbyFull, CanInvitePlayer(l, "Carol", 2).Code)
	assert.Equal(ReasonLobbyNotFound, CanInvitePlayer(nil, "Carol", 4).Code)
}

func TestCanKickPlayer(t *testing.T) {
	assert := assert.New(t)
	l := openLobby()

	assert.True(CanKickPlayer(l, "Host", "Bob").OK)
	assert.Equal(ReasonNotHost, CanKickPlayer(l, "Bob", "Host").Code)
	assert.Equal(ReasonCannotKickSelf, CanKickPlayer(l, "Host", "Host").Code)
	assert.Equal(ReasonTargetNotInLobby, CanKickPlayer(l, "Host", "Ghost").Code)
}

func TestCanStartGame(t *testing.T) {
	assert := assert.New(t)
	l := openLobby()

	assert.True(CanStartGame(l, "Host", 2).OK)
	assert.Equal(ReasonNotHost, CanStartGame(l, "Bob", 2).Code)

	short := CanStartGame(l, "Host", 3)
	assert.Equal(ReasonNotEnoughPlayers, short.Code)
	assert.Equal("3", short.Params["min"])

	l.Phase = PhaseStarted
	assert.Equal(ReasonAlreadyStarted, CanStartGame(l, "Host", 2).Code)
}

func TestCanChangeDifficulty(t *testing.T) {
	assert := assert.New(t)
	l := openLobby()

	assert.True(CanChangeDifficulty(l, "Host").OK)
	assert.Equal(ReasonNotHost, CanChangeDifficulty(l, "Bob").Code)

	l.Phase = PhaseStarted
	assert.Equal(ReasonAlreadyStarted, CanChangeDifficulty(l, "Host").Code)
}

func TestGenerateLobbyCode(t *testing.T) {
	assert := assert.New(t)

	used := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code := GenerateLobbyCode(used)
		assert.True(ValidLobbyCode(code))
		assert.False(used[code])
		used[code] = true
	}
}

func TestNormalizeLobbyCode(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("ABCD", NormalizeLobbyCode(" abCd "))
	assert.True(ValidLobbyCode("wxyz"))
	assert.False(ValidLobbyCode("AB1D"))
	assert.False(ValidLobbyCode("ABCDE"))
}

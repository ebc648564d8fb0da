package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"puzzle-server/internal/puzzle"
)

type fakeAssets struct {
	known map[string]string
}

func (f *fakeAssets) ImagePath(puzzleID string) (string, error) {
	path, ok := f.known[puzzleID]
	if !ok {
		return "", fmt.Errorf("%w: %s", puzzle.ErrPuzzleNotFound, puzzleID)
	}
	return path, nil
}

func newTestRegistry(stats StatsStore) *Registry {
	assets := &fakeAssets{known: map[string]string{"forest": "/assets/forest.png"}}
	generate := func(_ string, difficulty puzzle.Difficulty) (*puzzle.Layout, error) {
		return puzzle.GenerateLayoutFromBounds(400, 400, difficulty)
	}
	return NewRegistry(assets, generate, testCalculator(), stats,
		Settings{PlacementTolerance: 10, MinPlayersInMatch: 2}, zap.NewNop())
}

func seedPlayers() []Seed {
	return []Seed{
		{ID: "p1", Username: "Alice", Callback: newFakeCallback()},
		{ID: "p2", Username: "Bob", Callback: newFakeCallback()},
	}
}

func TestCreateSession_PieceCountMatchesDifficulty(t *testing.T) {
	assert := assert.New(t)
	reg := newTestRegistry(nil)

	sess, err := reg.CreateSession("ABCD", "forest", puzzle.DifficultyEasy, seedPlayers())
	require.NoError(t, err)

	pieces := sess.Pieces()
	assert.Len(pieces, 16)
	for _, p := range pieces {
		assert.False(p.Placed, "piece %d", p.ID)
		assert.Empty(p.HolderID, "piece %d", p.ID)
	}
	assert.Equal(2, sess.PlayerCount())
	assert.NotEmpty(sess.MatchID())
}

func TestCreateSession_Preconditions(t *testing.T) {
	assert := assert.New(t)
	reg := newTestRegistry(nil)

	_, err := reg.CreateSession("", "forest", puzzle.DifficultyEasy, seedPlayers())
	assert.Error(err)

	_, err = reg.CreateSession("ABCD", "", puzzle.DifficultyEasy, seedPlayers())
	assert.Error(err)

	_, err = reg.CreateSession("ABCD", "unknown-puzzle", puzzle.DifficultyEasy, seedPlayers())
	assert.ErrorIs(err, puzzle.ErrPuzzleNotFound)
}

func TestCreateSession_DuplicateCodeLoses(t *testing.T) {
	assert := assert.New(t)
	reg := newTestRegistry(nil)

	_, err := reg.CreateSession("ABCD", "forest", puzzle.DifficultyEasy, seedPlayers())
	require.NoError(t, err)

	_, err = reg.CreateSession("ABCD", "forest", puzzle.DifficultyEasy, seedPlayers())
	assert.Error(err)
	assert.Equal(1, reg.SessionCount())
}

func TestSession_Lookup(t *testing.T) {
	assert := assert.New(t)
	reg := newTestRegistry(nil)

	assert.Nil(reg.Session(""))
	assert.Nil(reg.Session("ZZZZ"))

	sess, err := reg.CreateSession("ABCD", "forest", puzzle.DifficultyEasy, seedPlayers())
	require.NoError(t, err)
	assert.Same(sess, reg.Session("ABCD"))
}

func TestRouting_MissingSessionIsNoOp(t *testing.T) {
	assert := assert.New(t)
	reg := newTestRegistry(nil)

	assert.False(reg.HandlePieceDrag("GONE", "p1", 0))
	assert.False(reg.HandlePieceMove("GONE", "p1", 0, 1, 1))
	assert.False(reg.HandlePieceDrop("GONE", "p1", 0, 1, 1).Handled)
	assert.False(reg.HandlePieceRelease("GONE", "p1", 0))
	assert.False(reg.HandleVoluntaryLeave("GONE", "Alice"))
}

func TestRouting_ForwardsToSession(t *testing.T) {
	assert := assert.New(t)
	reg := newTestRegistry(nil)

	_, err := reg.CreateSession("ABCD", "forest", puzzle.DifficultyEasy, seedPlayers())
	require.NoError(t, err)

	assert.True(reg.HandlePieceDrag("ABCD", "p1", 0))
	assert.True(reg.HandlePieceMove("ABCD", "p1", 0, 5, 5))
	assert.True(reg.HandlePieceRelease("ABCD", "p1", 0))
}

func TestIsPlayerInAnySession(t *testing.T) {
	assert := assert.New(t)
	reg := newTestRegistry(nil)

	assert.False(reg.IsPlayerInAnySession("Alice"))

	_, err := reg.CreateSession("ABCD", "forest", puzzle.DifficultyEasy, seedPlayers())
	require.NoError(t, err)

	assert.True(reg.IsPlayerInAnySession("Alice"))
	assert.False(reg.IsPlayerInAnySession("Mallory"))
}

func TestHandlePlayerDisconnect_RemovesAndCleansUp(t *testing.T) {
	assert := assert.New(t)
	stats := &fakeStats{}
	reg := newTestRegistry(stats)

	sess, err := reg.CreateSession("ABCD", "forest", puzzle.DifficultyEasy, seedPlayers())
	require.NoError(t, err)
	require.True(t, sess.HandlePieceDrag("p1", 0))

	// Two players with a floor of two: the departure ends the match early.
	reg.HandlePlayerDisconnect("Alice", "p1")

	assert.False(reg.IsPlayerInAnySession("Alice"))
	assert.Equal(0, reg.SessionCount())
	assert.True(sess.Disposed())
}

func TestHandlePlayerDisconnect_UnknownPlayerIsNoOp(t *testing.T) {
	reg := newTestRegistry(nil)

	_, err := reg.CreateSession("ABCD", "forest", puzzle.DifficultyEasy, seedPlayers())
	require.NoError(t, err)

	reg.HandlePlayerDisconnect("Mallory", "")
	assert.Equal(t, 1, reg.SessionCount())
}

func TestEmptySession_RemovedAndDisposedExactlyOnce(t *testing.T) {
	assert := assert.New(t)
	reg := newTestRegistry(nil)

	sess, err := reg.CreateSession("ABCD", "forest", puzzle.DifficultyEasy,
		[]Seed{{ID: "p1", Username: "Alice", Callback: newFakeCallback()}})
	require.NoError(t, err)

	// Disconnect and voluntary leave race for the same last player.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		reg.HandlePlayerDisconnect("Alice", "p1")
	}()
	go func() {
		defer wg.Done()
		reg.HandleVoluntaryLeave("ABCD", "Alice")
	}()
	wg.Wait()

	assert.Equal(0, reg.SessionCount())
	assert.True(sess.Disposed())
}

func TestSessionEndedHook_FiresOncePerTeardown(t *testing.T) {
	assert := assert.New(t)
	reg := newTestRegistry(&fakeStats{})

	var mu sync.Mutex
	var ended []string
	reg.SetSessionEndedHook(func(code string) {
		mu.Lock()
		defer mu.Unlock()
		ended = append(ended, code)
	})

	_, err := reg.CreateSession("ABCD", "forest", puzzle.DifficultyEasy, seedPlayers())
	require.NoError(t, err)

	// Dropping below the two-player floor ends the match early; the hook
	// reports the teardown exactly once, repeats stay silent.
	reg.HandlePlayerDisconnect("Bob", "p2")
	reg.RemoveSession("ABCD")

	assert.Equal(0, reg.SessionCount())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal([]string{"ABCD"}, ended)
}

func TestRemoveSession_Idempotent(t *testing.T) {
	assert := assert.New(t)
	reg := newTestRegistry(nil)

	sess, err := reg.CreateSession("ABCD", "forest", puzzle.DifficultyEasy, seedPlayers())
	require.NoError(t, err)

	reg.RemoveSession("ABCD")
	reg.RemoveSession("ABCD")
	reg.RemoveSession("NOPE")

	assert.Equal(0, reg.SessionCount())
	assert.True(sess.Disposed())
}

func TestDrop_CompletionTearsDownSession(t *testing.T) {
	assert := assert.New(t)

	assets := &fakeAssets{known: map[string]string{"forest": "/assets/forest.png"}}
	generate := func(string, puzzle.Difficulty) (*puzzle.Layout, error) {
		return &puzzle.Layout{Rows: 1, Cols: 1, Pieces: []puzzle.Piece{
			{ID: 0, TargetX: 0, TargetY: 0, Width: 10, Height: 10, Edge: true},
		}}, nil
	}
	reg := NewRegistry(assets, generate, testCalculator(), &fakeStats{},
		Settings{PlacementTolerance: 10, MinPlayersInMatch: 1}, zap.NewNop())

	_, err := reg.CreateSession("ABCD", "forest", puzzle.DifficultyEasy,
		[]Seed{{ID: "p1", Username: "Alice", Callback: newFakeCallback()}})
	require.NoError(t, err)

	require.True(t, reg.HandlePieceDrag("ABCD", "p1", 0))
	result := reg.HandlePieceDrop("ABCD", "p1", 0, 0, 0)

	assert.True(result.Completed)
	assert.Equal(0, reg.SessionCount())
}

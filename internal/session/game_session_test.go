package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"puzzle-server/internal/puzzle"
	"puzzle-server/internal/scoring"
)

type fakeCallback struct {
	mu      sync.Mutex
	sent    []any
	healthy bool
}

func newFakeCallback() *fakeCallback {
	return &fakeCallback{healthy: true}
}

func (c *fakeCallback) Send(notification any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, notification)
	return nil
}

func (c *fakeCallback) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

func (c *fakeCallback) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type fakeStats struct {
	mu      sync.Mutex
	results []MatchResult
}

func (f *fakeStats) RecordMatchResult(_ context.Context, result MatchResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
	return nil
}

func (f *fakeStats) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}

func (f *fakeStats) byPlayer(id string) (MatchResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.results {
		if r.PlayerID == id {
			return r, true
		}
	}
	return MatchResult{}, false
}

func testCalculator() *scoring.Calculator {
	return scoring.NewCalculator(scoring.Rules{
		InteriorPiecePoints: 10,
		EdgePiecePoints:     15,
		FirstBloodBonus:     25,
		CompletionBonus:     50,
		PenaltyBase:         2,
		PenaltyStep:         2,
		PenaltyCap:          10,
	})
}

// twoPieceLayout keeps completion scenarios small: piece 0 is an edge piece at
// (0,0), piece 1 interior at (100,0).
func twoPieceLayout() *puzzle.Layout {
	return &puzzle.Layout{
		Rows: 1,
		Cols: 2,
		Pieces: []puzzle.Piece{
			{ID: 0, Row: 0, Col: 0, TargetX: 0, TargetY: 0, Width: 100, Height: 100, Edge: true},
			{ID: 1, Row: 0, Col: 1, TargetX: 100, TargetY: 0, Width: 100, Height: 100},
		},
	}
}

func newTestSession(t *testing.T, stats StatsStore) *GameSession {
	t.Helper()

	sess, err := NewGameSession("ABCD", "match-1", "forest", twoPieceLayout(),
		testCalculator(), stats, Settings{PlacementTolerance: 10, MinPlayersInMatch: 1}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, sess.AddPlayer("p1", "Alice", "fox", newFakeCallback()))
	require.NoError(t, sess.AddPlayer("p2", "Bob", "owl", newFakeCallback()))
	return sess
}

func TestNewGameSession_Preconditions(t *testing.T) {
	assert := assert.New(t)

	_, err := NewGameSession("", "m", "p", twoPieceLayout(), testCalculator(), nil, Settings{}, zap.NewNop())
	assert.Error(err)

	_, err = NewGameSession("ABCD", "m", "p", nil, testCalculator(), nil, Settings{}, zap.NewNop())
	assert.Error(err)
}

func TestAddPlayer_DuplicateRejected(t *testing.T) {
	sess := newTestSession(t, nil)
	err := sess.AddPlayer("p1", "Alice2", "", newFakeCallback())
	assert.Error(t, err)
}

func TestHandlePieceDrag_ExclusiveHold(t *testing.T) {
	assert := assert.New(t)
	sess := newTestSession(t, nil)

	assert.True(sess.HandlePieceDrag("p1", 0))
	// Second player loses the occupied piece, quietly.
	assert.False(sess.HandlePieceDrag("p2", 0))
	// Unknown piece and unknown player are no-ops.
	assert.False(sess.HandlePieceDrag("p1", 99))
	assert.False(sess.HandlePieceDrag("ghost", 1))
}

func TestHandlePieceDrag_RacingDrags_ExactlyOneWins(t *testing.T) {
	assert := assert.New(t)

	layout := twoPieceLayout()
	sess, err := NewGameSession("ABCD", "m", "p", layout, testCalculator(), nil,
		Settings{PlacementTolerance: 10, MinPlayersInMatch: 1}, zap.NewNop())
	require.NoError(t, err)

	const n = 32
	for i := 0; i < n; i++ {
		require.NoError(t, sess.AddPlayer(playerID(i), playerID(i), "", newFakeCallback()))
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			if sess.HandlePieceDrag(id, 0) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(playerID(i))
	}

	close(start)
	wg.Wait()
	assert.Equal(1, wins)
}

func playerID(i int) string {
	return string(rune('A'+i%26)) + string(rune('a'+i/26))
}

func TestHandlePieceMove_HolderOnly(t *testing.T) {
	assert := assert.New(t)
	sess := newTestSession(t, nil)

	// Not held yet: rejected.
	assert.False(sess.HandlePieceMove("p1", 0, 5, 5))

	require.True(t, sess.HandlePieceDrag("p1", 0))
	assert.True(sess.HandlePieceMove("p1", 0, 5, 5))
	// Non-holder rejected silently.
	assert.False(sess.HandlePieceMove("p2", 0, 9, 9))
}

func TestHandlePieceDrop_CorrectPlacement(t *testing.T) {
	assert := assert.New(t)
	sess := newTestSession(t, nil)

	require.True(t, sess.HandlePieceDrag("p1", 0))
	result := sess.HandlePieceDrop("p1", 0, 3, 4) // within tolerance 10 of (0,0)

	assert.True(result.Handled)
	assert.True(result.Placed)
	assert.True(result.FirstBlood)
	assert.False(result.Completed)
	// Edge base 15 + first blood 25.
	assert.Equal(40, result.PointsDelta)
	assert.Equal(40, result.Score)
	assert.Equal(1, result.PositiveStreak)
	assert.Equal(1, sess.PlacedCount())
}

func TestHandlePieceDrop_MissReleasesAndPenalizes(t *testing.T) {
	assert := assert.New(t)
	sess := newTestSession(t, nil)

	require.True(t, sess.HandlePieceDrag("p1", 1))
	result := sess.HandlePieceDrop("p1", 1, 500, 500)

	assert.True(result.Handled)
	assert.False(result.Placed)
	assert.Equal(-2, result.PointsDelta)
	assert.Equal(1, result.NegativeStreak)
	assert.Equal(0, sess.PlacedCount())

	// The hold was released; anyone can grab it again.
	assert.True(sess.HandlePieceDrag("p2", 1))
}

func TestHandlePieceDrop_PenaltyGrowsThenResets(t *testing.T) {
	assert := assert.New(t)
	sess := newTestSession(t, nil)

	for i, wantDelta := range []int{-2, -4, -6} {
		require.True(t, sess.HandlePieceDrag("p1", 1), "miss %d", i)
		result := sess.HandlePieceDrop("p1", 1, 500, 500)
		assert.Equal(wantDelta, result.PointsDelta, "miss %d", i)
		assert.Equal(i+1, result.NegativeStreak, "miss %d", i)
	}

	// Correct placement resets the negative streak to baseline.
	require.True(t, sess.HandlePieceDrag("p1", 1))
	result := sess.HandlePieceDrop("p1", 1, 100, 0)
	assert.True(result.Placed)
	assert.Equal(0, result.NegativeStreak)
	assert.Equal(1, result.PositiveStreak)

	// The next miss starts from the base penalty again.
	require.True(t, sess.HandlePieceDrag("p1", 0))
	result = sess.HandlePieceDrop("p1", 0, 500, 500)
	assert.Equal(-2, result.PointsDelta)
	assert.Equal(1, result.NegativeStreak)
}

func TestHandlePieceDrop_RequiresHold(t *testing.T) {
	sess := newTestSession(t, nil)

	result := sess.HandlePieceDrop("p1", 0, 0, 0)
	assert.False(t, result.Handled)
}

func TestPlacedPieceIsTerminal(t *testing.T) {
	assert := assert.New(t)
	sess := newTestSession(t, nil)

	require.True(t, sess.HandlePieceDrag("p1", 0))
	require.True(t, sess.HandlePieceDrop("p1", 0, 0, 0).Placed)

	assert.False(sess.HandlePieceDrag("p1", 0))
	assert.False(sess.HandlePieceDrag("p2", 0))
	assert.False(sess.HandlePieceMove("p1", 0, 9, 9))
	assert.False(sess.HandlePieceRelease("p1", 0))
	assert.False(sess.HandlePieceDrop("p1", 0, 0, 0).Handled)

	for _, p := range sess.Pieces() {
		if p.ID == 0 {
			assert.True(p.Placed)
			assert.Empty(p.HolderID)
		}
	}
}

func TestFirstBlood_ClaimedOnce_ConcurrentDrops(t *testing.T) {
	assert := assert.New(t)
	sess := newTestSession(t, nil)

	require.True(t, sess.HandlePieceDrag("p1", 0))
	require.True(t, sess.HandlePieceDrag("p2", 1))

	start := make(chan struct{})
	results := make([]DropResult, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		results[0] = sess.HandlePieceDrop("p1", 0, 0, 0)
	}()
	go func() {
		defer wg.Done()
		<-start
		results[1] = sess.HandlePieceDrop("p2", 1, 100, 0)
	}()
	close(start)
	wg.Wait()

	claims := 0
	for _, r := range results {
		assert.True(r.Placed)
		if r.FirstBlood {
			claims++
		}
	}
	assert.Equal(1, claims)
}

func TestCompletion_LastPiecePersistsAndNotifies(t *testing.T) {
	assert := assert.New(t)
	stats := &fakeStats{}

	sess, err := NewGameSession("ABCD", "match-9", "forest", twoPieceLayout(),
		testCalculator(), stats, Settings{PlacementTolerance: 10, MinPlayersInMatch: 1}, zap.NewNop())
	require.NoError(t, err)

	alice := newFakeCallback()
	bob := newFakeCallback()
	require.NoError(t, sess.AddPlayer("p1", "Alice", "", alice))
	require.NoError(t, sess.AddPlayer("p2", "Bob", "", bob))

	require.True(t, sess.HandlePieceDrag("p1", 0))
	require.True(t, sess.HandlePieceDrop("p1", 0, 0, 0).Placed)

	require.True(t, sess.HandlePieceDrag("p2", 1))
	result := sess.HandlePieceDrop("p2", 1, 100, 0)
	assert.True(result.Completed)
	// Interior base 10 + completion 50.
	assert.Equal(60, result.PointsDelta)

	assert.Eventually(func() bool { return stats.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(func() bool { return alice.sentCount() == 1 && bob.sentCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	r1, ok := stats.byPlayer("p1")
	assert.True(ok)
	assert.True(r1.Completed)
	assert.Contains(r1.Achievements, "first_blood")
	r2, ok := stats.byPlayer("p2")
	assert.True(ok)
	assert.Contains(r2.Achievements, "team_finish")
}

func TestReleaseHeldPieces(t *testing.T) {
	assert := assert.New(t)
	sess := newTestSession(t, nil)

	require.True(t, sess.HandlePieceDrag("p1", 0))
	require.True(t, sess.HandlePieceDrag("p1", 1))

	released := sess.ReleaseHeldPieces("p1")
	assert.Len(released, 2)

	// No penalty was applied.
	for _, p := range sess.Players() {
		assert.Equal(0, p.Score)
		assert.Equal(0, p.NegativeStreak)
	}
	assert.True(sess.HandlePieceDrag("p2", 0))
}

func TestRemovePlayer(t *testing.T) {
	assert := assert.New(t)
	sess := newTestSession(t, nil)

	require.True(t, sess.HandlePieceDrag("p1", 0))

	summary, ok := sess.RemovePlayer("p1")
	assert.True(ok)
	assert.Equal("Alice", summary.Username)
	assert.Equal(1, sess.PlayerCount())

	// Their hold was released on the way out.
	assert.True(sess.HandlePieceDrag("p2", 0))

	_, ok = sess.RemovePlayer("p1")
	assert.False(ok)
}

func TestPlayerIDByUsername(t *testing.T) {
	assert := assert.New(t)
	sess := newTestSession(t, nil)

	id, ok := sess.PlayerIDByUsername("Bob")
	assert.True(ok)
	assert.Equal("p2", id)

	_, ok = sess.PlayerIDByUsername("Mallory")
	assert.False(ok)
}

func TestDispose_BlocksFurtherOperations(t *testing.T) {
	assert := assert.New(t)
	sess := newTestSession(t, nil)

	sess.Dispose()
	sess.Dispose() // safe to repeat

	assert.True(sess.Disposed())
	assert.False(sess.HandlePieceDrag("p1", 0))
	assert.False(sess.HandlePieceMove("p1", 0, 1, 1))
	assert.False(sess.HandlePieceDrop("p1", 0, 0, 0).Handled)
	assert.Error(sess.AddPlayer("p3", "Carol", "", newFakeCallback()))
}

func TestEndEarly_OnlyOnce(t *testing.T) {
	assert := assert.New(t)
	stats := &fakeStats{}
	sess := newTestSession(t, stats)

	sess.EndEarly()
	sess.EndEarly()

	assert.Eventually(func() bool { return stats.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	// Stable: the second call recorded nothing new.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(2, stats.count())
}

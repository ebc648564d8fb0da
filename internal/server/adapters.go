package server

import (
	"fmt"

	"go.uber.org/zap"

	"puzzle-server/internal/lobby"
	"puzzle-server/internal/puzzle"
	"puzzle-server/internal/session"
)

// wsNotifier delivers lobby events over the bound websocket connections.
// Members without a live connection are skipped; the lobby service treats
// notification as fire-and-forget.
type wsNotifier struct {
	connections *ConnectionManager
	logger      *zap.Logger
}

func (n *wsNotifier) NotifyUser(username string, event lobby.Event) {
	client := n.connections.ByUsername(username)
	if client == nil {
		return
	}
	if err := client.sendMessage(ServerMessage{Type: event.Type, Payload: event}); err != nil {
		n.logger.Debug("lobby event delivery failed",
			zap.String("username", username), zap.String("event", event.Type), zap.Error(err))
	}
}

func (n *wsNotifier) NotifyLobby(usernames []string, event lobby.Event) {
	for _, username := range usernames {
		n.NotifyUser(username, event)
	}
}

// registryStarter bridges lobby start into session creation, resolving each
// roster member's live connection into the session callback.
type registryStarter struct {
	registry    *session.Registry
	connections *ConnectionManager
	logger      *zap.Logger
}

func (st *registryStarter) StartSession(lobbyCode, puzzleID string, difficulty puzzle.Difficulty, players []lobby.PlayerRef) error {
	seeds := make([]session.Seed, 0, len(players))
	for _, p := range players {
		var callback session.ClientCallback = offlineCallback{}
		if client := st.connections.ByUsername(p.Username); client != nil {
			callback = client
		}
		seeds = append(seeds, session.Seed{
			ID:       p.ID,
			Username: p.Username,
			Avatar:   p.Avatar,
			Callback: callback,
		})
	}

	sess, err := st.registry.CreateSession(lobbyCode, puzzleID, difficulty, seeds)
	if err != nil {
		return err
	}

	state := MatchStateMessage{
		MatchID:   sess.MatchID(),
		LobbyCode: sess.LobbyCode(),
		PuzzleID:  sess.PuzzleID(),
		Pieces:    sess.Pieces(),
		Players:   sess.Players(),
	}
	for _, seed := range seeds {
		if err := seed.Callback.Send(ServerMessage{Type: "match_state", Payload: state}); err != nil {
			st.logger.Warn("initial match state delivery failed",
				zap.String("lobby", lobbyCode), zap.String("username", seed.Username), zap.Error(err))
		}
	}
	return nil
}

// offlineCallback stands in for a roster member whose connection dropped
// between lobby start and session creation.
type offlineCallback struct{}

func (offlineCallback) Send(any) error  { return fmt.Errorf("player has no live connection") }
func (offlineCallback) IsHealthy() bool { return false }

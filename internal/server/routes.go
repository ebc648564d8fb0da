package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"puzzle-server/internal/lobby"
	"puzzle-server/internal/puzzle"
)

func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.rootHandler)

	mux.HandleFunc("/health", s.healthHandler)

	mux.HandleFunc("/websocket", s.websocketHandler)

	// Wrap the mux with CORS middleware
	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*") // Replace "*" with specific origins if needed
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Credentials", "false")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"service": "puzzle-server"}
	jsonResp, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(jsonResp); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := json.Marshal(s.db.Health())
	if err != nil {
		http.Error(w, "Failed to marshal health check response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(resp); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // TODO: make environment-specific
	})
	if err != nil {
		http.Error(w, "Failed to open websocket", http.StatusInternalServerError)
		return
	}
	defer socket.Close(websocket.StatusGoingAway, "Server closing")

	ctx := r.Context()

	connectionID := uuid.New().String()
	client := s.connectionManager.Add(connectionID, socket)
	s.logger.Info("new connection", zap.String("connection", connectionID))

	defer func() {
		s.rateLimiter.RemoveConnection(connectionID)
		removed := s.connectionManager.Remove(connectionID)
		s.logger.Info("connection closed", zap.String("connection", connectionID))

		// A bound identity gets full disconnect cleanup: liveness tracking,
		// lobby membership, any running match.
		if removed != nil && removed.username != "" {
			s.heartbeats.Unregister(removed.username)
			s.lobbies.HandleUserDisconnect(removed.username)
			s.registry.HandlePlayerDisconnect(removed.username, removed.playerID)
		}
	}()

	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			s.logger.Debug("connection read error", zap.String("connection", connectionID), zap.Error(err))
			return
		}

		if msgType != websocket.MessageText {
			s.logger.Warn("non-text input", zap.String("connection", connectionID))
			continue
		}

		if !s.rateLimiter.Allow(connectionID) {
			s.sendError(client, "RATE_LIMITED", "Too many messages, slow down")
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("invalid json", zap.String("connection", connectionID), zap.Error(err))
			s.sendError(client, "INVALID_JSON", "Invalid JSON")
			continue
		}

		if err := ValidateMessageType(msg.Type); err != nil {
			s.sendError(client, "INVALID_MESSAGE_TYPE", err.Error())
			continue
		}

		switch msg.Type {
		case "ping":
			s.handlePing(client)

		case "register":
			s.handleRegister(client, msg.Payload)

		case "heartbeat":
			s.handleHeartbeat(client, msg.Payload)

		case "create_lobby":
			s.handleCreateLobby(client, msg.Payload)

		case "join_lobby":
			s.handleJoinLobby(client, msg.Payload)

		case "guest_join":
			s.handleGuestJoin(client, msg.Payload)

		case "invite_player":
			s.handleInvitePlayer(client, msg.Payload)

		case "kick_player":
			s.handleKickPlayer(client, msg.Payload)

		case "leave_lobby":
			s.handleLeaveLobby(client, msg.Payload)

		case "set_difficulty":
			s.handleSetDifficulty(client, msg.Payload)

		case "start_game":
			s.handleStartGame(client, msg.Payload)

		case "piece_drag":
			s.handlePieceDrag(client, msg.Payload)

		case "piece_move":
			s.handlePieceMove(client, msg.Payload)

		case "piece_drop":
			s.handlePieceDrop(client, msg.Payload)

		case "piece_release":
			s.handlePieceRelease(client, msg.Payload)
		}
	}
}

func (s *Server) sendError(client *wsClient, code, message string) {
	response := ServerMessage{
		Type: "error",
		Payload: ErrorMessage{
			Message: message,
			Code:    code,
		},
	}

	if err := client.sendMessage(response); err != nil {
		s.logger.Debug("failed to send error message", zap.Error(err))
	}
}

// sendDenied reports a failed lobby result back to the requester.
func (s *Server) sendDenied(client *wsClient, result lobby.Result) {
	response := ServerMessage{
		Type: "error",
		Payload: ErrorMessage{
			Message: result.Code,
			Code:    result.Code,
			Params:  result.Params,
		},
	}

	if err := client.sendMessage(response); err != nil {
		s.logger.Debug("failed to send denial", zap.String("code", result.Code), zap.Error(err))
	}
}

// requireIdentity rejects messages from connections that have not bound a
// player identity via register (or guest_join).
func (s *Server) requireIdentity(client *wsClient) bool {
	if client.username == "" {
		s.sendError(client, "NOT_REGISTERED", "Register before sending this message")
		return false
	}
	return true
}

// broadcastToSession pushes a message to every player of a running match.
func (s *Server) broadcastToSession(lobbyCode, messageType string, payload interface{}) {
	sess := s.registry.Session(lobbyCode)
	if sess == nil {
		return
	}

	msg := ServerMessage{Type: messageType, Payload: payload}
	for _, p := range sess.Players() {
		client := s.connectionManager.ByUsername(p.Username)
		if client == nil {
			continue
		}
		if err := client.sendMessage(msg); err != nil {
			s.logger.Debug("session broadcast failed",
				zap.String("lobby", lobbyCode), zap.String("username", p.Username), zap.Error(err))
		}
	}
}

func (s *Server) handlePing(client *wsClient) {
	if err := client.sendMessage(ServerMessage{Type: "pong", Payload: struct{}{}}); err != nil {
		s.logger.Debug("failed to send pong", zap.Error(err))
	}
}

func (s *Server) handleRegister(client *wsClient, payload json.RawMessage) {
	var req RegisterRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(client, "INVALID_PAYLOAD", "Invalid register payload")
		return
	}

	if r := lobby.ValidUsername(req.Username); !r.OK {
		s.sendDenied(client, r)
		return
	}

	playerID := req.PlayerID
	if playerID == "" {
		playerID = uuid.New().String()
	}

	if err := s.connectionManager.Bind(client.id, playerID, req.Username, req.Avatar); err != nil {
		s.sendError(client, "USERNAME_TAKEN", err.Error())
		return
	}
	s.heartbeats.Register(req.Username, client)

	response := ServerMessage{
		Type:    "registered",
		Payload: RegisterResponse{Success: true, Username: req.Username},
	}
	if err := client.sendMessage(response); err != nil {
		s.logger.Debug("failed to send registered response", zap.Error(err))
	}
}

func (s *Server) handleHeartbeat(client *wsClient, payload json.RawMessage) {
	var req HeartbeatRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(client, "INVALID_PAYLOAD", "Invalid heartbeat payload")
		return
	}
	if client.username == "" {
		return
	}

	// Stale or replayed sequence numbers are dropped without an ack.
	if !s.heartbeats.RecordHeartbeat(client.username, req.Seq) {
		return
	}

	if err := client.sendMessage(ServerMessage{Type: "heartbeat_ack", Payload: HeartbeatAck{Seq: req.Seq}}); err != nil {
		s.logger.Debug("failed to send heartbeat ack", zap.Error(err))
	}
}

func (s *Server) handleCreateLobby(client *wsClient, payload json.RawMessage) {
	var req CreateLobbyRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(client, "INVALID_PAYLOAD", "Invalid create_lobby payload")
		return
	}
	if !s.requireIdentity(client) {
		return
	}

	difficulty, err := puzzle.ParseDifficulty(req.Difficulty)
	if err != nil {
		s.sendError(client, lobby.ReasonBadDifficulty, err.Error())
		return
	}

	result, code := s.lobbies.Create(client.playerID, client.username, client.avatar, req.PuzzleID, difficulty)
	if !result.OK {
		s.sendDenied(client, result)
		return
	}

	response := ServerMessage{
		Type:    "lobby_created",
		Payload: LobbyCreatedResponse{Code: code},
	}
	if err := client.sendMessage(response); err != nil {
		s.logger.Debug("failed to send lobby_created", zap.Error(err))
	}
}

func (s *Server) handleJoinLobby(client *wsClient, payload json.RawMessage) {
	var req JoinLobbyRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(client, "INVALID_PAYLOAD", "Invalid join_lobby payload")
		return
	}
	if !s.requireIdentity(client) {
		return
	}

	result := s.lobbies.Join(req.Code, client.playerID, client.username, client.avatar)
	if !result.OK {
		s.sendDenied(client, result)
	}
	// Success is announced by the lobby_updated broadcast.
}

func (s *Server) handleGuestJoin(client *wsClient, payload json.RawMessage) {
	var req GuestJoinRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(client, "INVALID_PAYLOAD", "Invalid guest_join payload")
		return
	}

	if r := lobby.ValidUsername(req.Username); !r.OK {
		s.sendDenied(client, r)
		return
	}

	// Guests skip register; bind the connection now so lobby notifications
	// reach them.
	guestID := uuid.New().String()
	if err := s.connectionManager.Bind(client.id, guestID, req.Username, req.Avatar); err != nil {
		s.sendError(client, "USERNAME_TAKEN", err.Error())
		return
	}
	s.heartbeats.Register(req.Username, client)

	result := s.lobbies.GuestJoin(req.Code, req.Email, guestID, req.Username, req.Avatar)
	if !result.OK {
		// The bind was provisional; a denied guest gives the username back
		// and drops out of liveness tracking.
		s.heartbeats.Unregister(req.Username)
		s.connectionManager.Unbind(client.id)
		s.sendDenied(client, result)
	}
}

func (s *Server) handleInvitePlayer(client *wsClient, payload json.RawMessage) {
	var req InvitePlayerRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(client, "INVALID_PAYLOAD", "Invalid invite_player payload")
		return
	}
	if !s.requireIdentity(client) {
		return
	}

	result := s.lobbies.Invite(req.Code, client.username, req.Target)
	if !result.OK {
		s.sendDenied(client, result)
		return
	}

	// An email produces a guest pass the invitee can redeem via guest_join.
	if req.Email != "" && s.invites != nil {
		if _, err := s.invites.CreateInvitation(lobby.NormalizeLobbyCode(req.Code), req.Email, inviteTTL); err != nil {
			s.logger.Warn("invitation persist failed",
				zap.String("lobby", req.Code), zap.String("email", req.Email), zap.Error(err))
		}
	}
}

func (s *Server) handleKickPlayer(client *wsClient, payload json.RawMessage) {
	var req KickPlayerRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(client, "INVALID_PAYLOAD", "Invalid kick_player payload")
		return
	}
	if !s.requireIdentity(client) {
		return
	}

	if result := s.lobbies.Kick(req.Code, client.username, req.Target); !result.OK {
		s.sendDenied(client, result)
	}
}

func (s *Server) handleLeaveLobby(client *wsClient, payload json.RawMessage) {
	var req LeaveLobbyRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(client, "INVALID_PAYLOAD", "Invalid leave_lobby payload")
		return
	}
	if !s.requireIdentity(client) {
		return
	}

	result, started := s.lobbies.Leave(req.Code, client.username)
	if !result.OK {
		s.sendDenied(client, result)
		return
	}
	if started {
		// Mid-match leave also exits the running session.
		s.registry.HandleVoluntaryLeave(lobby.NormalizeLobbyCode(req.Code), client.username)
	}
}

func (s *Server) handleSetDifficulty(client *wsClient, payload json.RawMessage) {
	var req SetDifficultyRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(client, "INVALID_PAYLOAD", "Invalid set_difficulty payload")
		return
	}
	if !s.requireIdentity(client) {
		return
	}

	difficulty, err := puzzle.ParseDifficulty(req.Difficulty)
	if err != nil {
		s.sendError(client, lobby.ReasonBadDifficulty, err.Error())
		return
	}

	if result := s.lobbies.SetDifficulty(req.Code, client.username, difficulty); !result.OK {
		s.sendDenied(client, result)
	}
}

func (s *Server) handleStartGame(client *wsClient, payload json.RawMessage) {
	var req StartGameRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(client, "INVALID_PAYLOAD", "Invalid start_game payload")
		return
	}
	if !s.requireIdentity(client) {
		return
	}

	if result := s.lobbies.Start(req.Code, client.username); !result.OK {
		s.sendDenied(client, result)
	}
	// game_started and match_state go out through the notifier and starter.
}

func (s *Server) handlePieceDrag(client *wsClient, payload json.RawMessage) {
	var req PieceActionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(client, "INVALID_PAYLOAD", "Invalid piece_drag payload")
		return
	}
	if !s.requireIdentity(client) {
		return
	}

	code := lobby.NormalizeLobbyCode(req.Code)
	if !s.registry.HandlePieceDrag(code, client.playerID, req.PieceID) {
		// Lost the race for the piece, or the piece is already placed.
		s.sendError(client, "PIECE_UNAVAILABLE", "Piece is held or already placed")
		return
	}

	s.broadcastToSession(code, "piece_held", PieceHeldNotice{
		PieceID:  req.PieceID,
		Username: client.username,
	})
}

func (s *Server) handlePieceMove(client *wsClient, payload json.RawMessage) {
	var req PieceActionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(client, "INVALID_PAYLOAD", "Invalid piece_move payload")
		return
	}
	if !s.requireIdentity(client) {
		return
	}

	code := lobby.NormalizeLobbyCode(req.Code)
	if !s.registry.HandlePieceMove(code, client.playerID, req.PieceID, req.X, req.Y) {
		return
	}

	s.broadcastToSession(code, "piece_moved", PieceMovedNotice{
		PieceID:  req.PieceID,
		X:        req.X,
		Y:        req.Y,
		Username: client.username,
	})
}

func (s *Server) handlePieceDrop(client *wsClient, payload json.RawMessage) {
	var req PieceActionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(client, "INVALID_PAYLOAD", "Invalid piece_drop payload")
		return
	}
	if !s.requireIdentity(client) {
		return
	}

	code := lobby.NormalizeLobbyCode(req.Code)
	result := s.registry.HandlePieceDrop(code, client.playerID, req.PieceID, req.X, req.Y)
	if !result.Handled {
		return
	}

	response := ServerMessage{
		Type: "piece_drop_result",
		Payload: PieceDropResponse{
			Placed:         result.Placed,
			PointsDelta:    result.PointsDelta,
			FirstBlood:     result.FirstBlood,
			Completed:      result.Completed,
			Score:          result.Score,
			PositiveStreak: result.PositiveStreak,
			NegativeStreak: result.NegativeStreak,
		},
	}
	if err := client.sendMessage(response); err != nil {
		s.logger.Debug("failed to send piece_drop_result", zap.Error(err))
	}

	if result.Completed {
		// The session already pushed match_completed to every player; the
		// registry teardown retired it, lobby included.
		return
	}

	if result.Placed {
		sess := s.registry.Session(code)
		placedCount := 0
		if sess != nil {
			placedCount = sess.PlacedCount()
		}
		s.broadcastToSession(code, "piece_placed", PiecePlacedNotice{
			PieceID:     req.PieceID,
			Username:    client.username,
			PointsDelta: result.PointsDelta,
			FirstBlood:  result.FirstBlood,
			Score:       result.Score,
			PlacedCount: placedCount,
		})
	} else {
		s.broadcastToSession(code, "piece_released", PieceReleasedNotice{
			PieceID:  req.PieceID,
			Username: client.username,
		})
	}
}

func (s *Server) handlePieceRelease(client *wsClient, payload json.RawMessage) {
	var req PieceActionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(client, "INVALID_PAYLOAD", "Invalid piece_release payload")
		return
	}
	if !s.requireIdentity(client) {
		return
	}

	code := lobby.NormalizeLobbyCode(req.Code)
	if !s.registry.HandlePieceRelease(code, client.playerID, req.PieceID) {
		return
	}

	s.broadcastToSession(code, "piece_released", PieceReleasedNotice{
		PieceID:  req.PieceID,
		Username: client.username,
	})
}

const inviteTTL = 24 * time.Hour

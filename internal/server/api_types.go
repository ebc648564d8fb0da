package server

import "puzzle-server/internal/session"

// ============================================================================
// ERROR RESPONSES
// ============================================================================
// tygo:generate
type ErrorMessage struct {
	Message string            `json:"message"`
	Code    string            `json:"code,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
}

// ============================================================================
// REGISTER (register)
// ============================================================================
// tygo:generate
type RegisterRequest struct {
	PlayerID string `json:"playerId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// tygo:generate
type RegisterResponse struct {
	Success  bool   `json:"success"`
	Username string `json:"username"`
}

// ============================================================================
// HEARTBEAT (heartbeat)
// ============================================================================
// tygo:generate
type HeartbeatRequest struct {
	Seq uint64 `json:"seq"`
}

// tygo:generate
type HeartbeatAck struct {
	Seq uint64 `json:"seq"`
}

// ============================================================================
// CREATE LOBBY (create_lobby)
// ============================================================================
// tygo:generate
type CreateLobbyRequest struct {
	PuzzleID   string `json:"puzzleId"`
	Difficulty string `json:"difficulty"`
}

// tygo:generate
type LobbyCreatedResponse struct {
	Code string `json:"code"`
}

// ============================================================================
// JOIN LOBBY (join_lobby)
// ============================================================================
// tygo:generate
type JoinLobbyRequest struct {
	Code string `json:"code"`
}

// ============================================================================
// GUEST JOIN (guest_join)
// ============================================================================
// tygo:generate
type GuestJoinRequest struct {
	Code     string `json:"code"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// ============================================================================
// INVITE PLAYER (invite_player)
// ============================================================================
// tygo:generate
type InvitePlayerRequest struct {
	Code   string `json:"code"`
	Target string `json:"target"`
	Email  string `json:"email,omitempty"`
}

// ============================================================================
// KICK PLAYER (kick_player)
// ============================================================================
// tygo:generate
type KickPlayerRequest struct {
	Code   string `json:"code"`
	Target string `json:"target"`
}

// ============================================================================
// LEAVE LOBBY (leave_lobby)
// ============================================================================
// tygo:generate
type LeaveLobbyRequest struct {
	Code string `json:"code"`
}

// ============================================================================
// SET DIFFICULTY (set_difficulty)
// ============================================================================
// tygo:generate
type SetDifficultyRequest struct {
	Code       string `json:"code"`
	Difficulty string `json:"difficulty"`
}

// ============================================================================
// START GAME (start_game)
// ============================================================================
// tygo:generate
type StartGameRequest struct {
	Code string `json:"code"`
}

// ============================================================================
// PIECE ACTIONS (piece_drag / piece_move / piece_drop / piece_release)
// ============================================================================
// tygo:generate
type PieceActionRequest struct {
	Code    string  `json:"code"`
	PieceID int     `json:"pieceId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

// tygo:generate
type PieceDropResponse struct {
	Placed         bool `json:"placed"`
	PointsDelta    int  `json:"pointsDelta"`
	FirstBlood     bool `json:"firstBlood"`
	Completed      bool `json:"completed"`
	Score          int  `json:"score"`
	PositiveStreak int  `json:"positiveStreak"`
	NegativeStreak int  `json:"negativeStreak"`
}

// ============================================================================
// MATCH STATE (match_state broadcast on start)
// ============================================================================
// tygo:generate
type MatchStateMessage struct {
	MatchID   string                  `json:"matchId"`
	LobbyCode string                  `json:"lobbyCode"`
	PuzzleID  string                  `json:"puzzleId"`
	Pieces    []session.PieceSummary  `json:"pieces"`
	Players   []session.PlayerSummary `json:"players"`
}

// ============================================================================
// PIECE BROADCASTS
// ============================================================================
// tygo:generate
type PieceHeldNotice struct {
	PieceID  int    `json:"pieceId"`
	Username string `json:"username"`
}

// tygo:generate
type PieceMovedNotice struct {
	PieceID  int     `json:"pieceId"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Username string  `json:"username"`
}

// tygo:generate
type PieceReleasedNotice struct {
	PieceID  int    `json:"pieceId"`
	Username string `json:"username"`
}

// tygo:generate
type PiecePlacedNotice struct {
	PieceID     int    `json:"pieceId"`
	Username    string `json:"username"`
	PointsDelta int    `json:"pointsDelta"`
	FirstBlood  bool   `json:"firstBlood"`
	Score       int    `json:"score"`
	PlacedCount int    `json:"placedCount"`
}

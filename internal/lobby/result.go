package lobby

// Reason codes carried by failed Results. Machine-readable so the transport
// layer can map them to localized user-facing messages.
const (
	ReasonLobbyNotFound    = "LOBBY_NOT_FOUND"
	ReasonCodeMismatch     = "CODE_MISMATCH"
	ReasonLobbyFull        = "LOBBY_FULL"
	ReasonAlreadyInLobby   = "ALREADY_IN_LOBBY"
	ReasonAlreadyHosting   = "ALREADY_HOSTING"
	ReasonPlayerBusy       = "PLAYER_BUSY"
	ReasonBanned           = "BANNED"
	ReasonNotHost          = "NOT_HOST"
	ReasonCannotKickSelf   = "CANNOT_KICK_SELF"
	ReasonTargetNotInLobby = "TARGET_NOT_IN_LOBBY"
	ReasonNotEnoughPlayers = "NOT_ENOUGH_PLAYERS"
	ReasonAlreadyStarted   = "ALREADY_STARTED"
	ReasonNotInLobby       = "NOT_IN_LOBBY"
	ReasonInviteNotFound   = "INVITE_NOT_FOUND"
	ReasonInviteExpired    = "INVITE_EXPIRED"
	ReasonInviteUsed       = "INVITE_USED"
	ReasonUsernameInvalid  = "USERNAME_INVALID"
	ReasonBadDifficulty    = "BAD_DIFFICULTY"
	ReasonStartFailed      = "START_FAILED"
)

// Result is the outcome of a lobby action or validation. Business-rule
// failures are values, never errors: OK plus a reason code plus optional
// parameters for message formatting.
type Result struct {
	OK     bool              `json:"ok"`
	Code   string            `json:"code,omitempty"`
	Params map[string]string `json:"params,omitempty"`
}

func Allowed() Result {
	return Result{OK: true}
}

func Denied(code string) Result {
	return Result{Code: code}
}

func DeniedWith(code string, params map[string]string) Result {
	return Result{Code: code, Params: params}
}

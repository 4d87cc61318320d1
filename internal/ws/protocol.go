package ws

import "encoding/json"

// Close codes in the 44xx family mean the credential itself was rejected;
// clients must not auto-reconnect on them.
const (
	CloseUnauthorized = 4401
	CloseTokenExpired = 4402
)

// client -> server message types
const (
	TypeFindMatch    = "find_match"
	TypeCancelSearch = "cancel_search"
	TypeMove         = "move"
	TypeResign       = "resign"
	TypeLeaveSession = "leave_session"
	TypeSyncSession  = "sync_session"
)

// server -> client message types
const (
	TypeWelcome         = "welcome"
	TypeSearching       = "searching"
	TypeSearchCancelled = "search_cancelled"
	TypeError           = "error"
)

// Message is the wire envelope. Data stays raw until the type is known;
// unknown types keep their payload intact so they can be logged and passed
// to observers without loss.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type FindMatchPayload struct {
	Wager      float64 `json:"wager"`
	GameType   string  `json:"game_type,omitempty"`
	PlayerIDs  []int   `json:"player_ids,omitempty"`
	PlayerName string  `json:"player_name,omitempty"`
}

type MovePayload struct {
	Move string `json:"move"`
}

type ResignPayload struct {
	DBSessionID int    `json:"db_session_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
}

type SyncPayload struct {
	SessionID string `json:"session_id"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

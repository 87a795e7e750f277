package chat

import "time"

// Session is a best-effort record of a client device across reconnects.
// The token is an opaque identifier, not a security credential.
type Session struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	DeviceID  string    `json:"device_id"`
	SessionID string    `json:"session_id"`
	LastSeen  time.Time `json:"last_seen"`
}

package chat

import "time"

// Message types as stored in the messages table.
const (
	TypeUser = "user"
	TypeAI   = "ai"
)

// Message is one persisted chat turn. Rows are immutable once written;
// the only mutations the store supports are insert and delete-by-age.
type Message struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	Type       string    `json:"type"`
	Text       string    `json:"text"`
	Structured bool      `json:"structured"`
	AudioURL   string    `json:"audio_url,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Model      string    `json:"model,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

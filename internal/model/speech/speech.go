package speech

import "time"

// TTSRequest asks for one synthesized utterance.
type TTSRequest struct {
	Text   string  `json:"text"`
	Voice  string  `json:"voice,omitempty"`
	Speed  float32 `json:"speed,omitempty"`
	Volume float32 `json:"volume,omitempty"`
}

// TTSResponse points at the synthesized audio file.
type TTSResponse struct {
	AudioURL  string    `json:"audioUrl"`
	Voice     string    `json:"voice"`
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

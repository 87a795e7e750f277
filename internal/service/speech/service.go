package speech

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/kirachat/backend/internal/config"
	speechmodel "github.com/kirachat/backend/internal/model/speech"
)

// ttsSuccessCode is the code the TTS API returns on success.
const ttsSuccessCode = 3000

// Service synthesizes speech through the volcengine HTTP TTS API and
// stores the resulting audio under the static audio directory, where
// the file server exposes it at /audio/<id>.mp3.
type Service struct {
	cfg    config.SpeechConfig
	client *resty.Client
}

// NewService builds the TTS client from configuration.
func NewService(cfg config.SpeechConfig) *Service {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.Timeout) * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer;"+cfg.AccessToken)

	return &Service{cfg: cfg, client: client}
}

// Voice returns the configured voice identifier.
func (s *Service) Voice() string {
	return s.cfg.Voice
}

type ttsAPIRequest struct {
	App     ttsApp     `json:"app"`
	User    ttsUser    `json:"user"`
	Audio   ttsAudio   `json:"audio"`
	Request ttsPayload `json:"request"`
}

type ttsApp struct {
	AppID   string `json:"appid"`
	Token   string `json:"token"`
	Cluster string `json:"cluster"`
}

type ttsUser struct {
	UID string `json:"uid"`
}

type ttsAudio struct {
	VoiceType   string  `json:"voice_type"`
	Encoding    string  `json:"encoding"`
	SpeedRatio  float32 `json:"speed_ratio"`
	VolumeRatio float32 `json:"volume_ratio"`
}

type ttsPayload struct {
	ReqID     string `json:"reqid"`
	Text      string `json:"text"`
	Operation string `json:"operation"`
}

type ttsAPIResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

// Synthesize converts text to speech, writes the MP3 into the audio
// directory, and returns its public URL. One attempt, no retry.
func (s *Service) Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	voice := req.Voice
	if voice == "" {
		voice = s.cfg.Voice
	}
	speed := req.Speed
	if speed == 0 {
		speed = s.cfg.Speed
	}
	volume := req.Volume
	if volume == 0 {
		volume = s.cfg.Volume
	}

	reqID := uuid.NewString()
	payload := ttsAPIRequest{
		App:   ttsApp{AppID: s.cfg.AppID, Token: s.cfg.AccessToken, Cluster: s.cfg.Cluster},
		User:  ttsUser{UID: "kira"},
		Audio: ttsAudio{VoiceType: voice, Encoding: "mp3", SpeedRatio: speed, VolumeRatio: volume},
		Request: ttsPayload{
			ReqID:     reqID,
			Text:      req.Text,
			Operation: "query",
		},
	}

	var result ttsAPIResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&result).
		Post("/api/v1/tts")
	if err != nil {
		return nil, fmt.Errorf("tts request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("tts request failed: %s", resp.Status())
	}
	if result.Code != ttsSuccessCode {
		return nil, fmt.Errorf("tts synthesis failed: %s (code %d)", result.Message, result.Code)
	}

	audio, err := base64.StdEncoding.DecodeString(result.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tts audio: %w", err)
	}

	if err := os.MkdirAll(s.cfg.AudioDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio directory: %w", err)
	}
	filename := "tts_" + reqID + ".mp3"
	if err := os.WriteFile(filepath.Join(s.cfg.AudioDir, filename), audio, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write audio file: %w", err)
	}

	return &speechmodel.TTSResponse{
		AudioURL:  "/audio/" + filename,
		Voice:     voice,
		RequestID: reqID,
		CreatedAt: time.Now().UTC(),
	}, nil
}

package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/kirachat/backend/internal/routing"
)

// Generator backend names accepted by GENERATOR_BACKEND.
const (
	BackendAgent = "agent"
	BackendArk   = "ark"
)

// Config aggregates every runtime setting of the service.
type Config struct {
	Server ServerConfig
	Store  StoreConfig
	Chat   ChatConfig
	AI     AIConfig
	Speech SpeechConfig
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	chatCfg, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig(server.StaticDir)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Store:  StoreConfig{Path: getEnvOrDefault("DATABASE_PATH", "./kira.db")},
		Chat:   chatCfg,
		AI:     ai,
		Speech: speech,
	}, nil
}

// ServerConfig describes the HTTP listener and static assets.
type ServerConfig struct {
	Addr      string
	StaticDir string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "3000"
	}

	addr := port
	if !strings.Contains(port, ":") {
		if strings.Contains(port, " ") {
			return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
		}
		addr = ":" + port
	}

	return ServerConfig{
		Addr:      addr,
		StaticDir: getEnvOrDefault("STATIC_DIR", "./public"),
	}, nil
}

// StoreConfig locates the embedded database.
type StoreConfig struct {
	Path string
}

// ChatConfig carries the chat pipeline settings. UserID is the
// single-tenant user identifier every row is written under.
type ChatConfig struct {
	UserID        string
	Backend       string
	AgentCommand  string
	AgentArgs     []string
	AnnotateModel bool
}

func loadChatConfig() (ChatConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("GENERATOR_BACKEND", ""))
	switch backend {
	case "", BackendAgent, BackendArk:
	default:
		return ChatConfig{}, fmt.Errorf("invalid GENERATOR_BACKEND value: %q", backend)
	}

	annotate, err := parseBoolEnv("ANNOTATE_MODEL", true)
	if err != nil {
		return ChatConfig{}, err
	}

	args := strings.Fields(getEnvOrDefault("AGENT_ARGS", "agent"))

	return ChatConfig{
		UserID:        getEnvOrDefault("CHAT_USER_ID", "kira-user"),
		Backend:       backend,
		AgentCommand:  getEnvOrDefault("AGENT_COMMAND", "openclaw"),
		AgentArgs:     args,
		AnnotateModel: annotate,
	}, nil
}

// AIConfig holds the hosted model credentials and the per-tier models.
type AIConfig struct {
	APIKey       string
	AccessKey    string
	SecretKey    string
	BaseURL      string
	Region       string
	Temperature  *float64
	MaxTokens    *int
	SystemPrompt string
	Models       routing.Models
}

// Enabled reports whether the hosted backend has usable credentials.
func (c AIConfig) Enabled() bool {
	return c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != "")
}

// NewChatModel creates one chat model instance for the given model id.
func (c AIConfig) NewChatModel(ctx context.Context, modelID string) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials missing: provide ARK_API_KEY or ARK_ACCESS_KEY + ARK_SECRET_KEY")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       modelID,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:       strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:    strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:    strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		BaseURL:      getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:       getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:  temperature,
		MaxTokens:    maxTokens,
		SystemPrompt: getEnvOrDefault("KIRA_SYSTEM_PROMPT", "You are Kira, a friendly and concise assistant."),
		Models: routing.Models{
			Lite: routing.ModelInfo{
				ID:          getEnvOrDefault("ARK_MODEL_LITE", "doubao-lite-32k"),
				DisplayName: "Kira Lite",
			},
			Flash: routing.ModelInfo{
				ID:          getEnvOrDefault("ARK_MODEL_FLASH", "doubao-pro-32k"),
				DisplayName: "Kira Flash",
			},
			Pro: routing.ModelInfo{
				ID:          getEnvOrDefault("ARK_MODEL_PRO", "doubao-1-5-pro-32k"),
				DisplayName: "Kira Pro",
			},
			Ultra: routing.ModelInfo{
				ID:          getEnvOrDefault("ARK_MODEL_ULTRA", "doubao-1-5-thinking-pro"),
				DisplayName: "Kira Ultra",
			},
		},
	}, nil
}

// SpeechConfig describes the text-to-speech provider.
type SpeechConfig struct {
	AppID       string
	AccessToken string
	Cluster     string
	BaseURL     string
	Voice       string
	Speed       float32
	Volume      float32
	Timeout     int
	AudioDir    string
	Enabled     bool
}

func loadSpeechConfig(staticDir string) (SpeechConfig, error) {
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0)
	if speed != nil {
		ttsSpeed = *speed
	}

	volume, err := parseOptionalFloat32Env("SPEECH_TTS_VOLUME")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsVolume := float32(1.0)
	if volume != nil {
		ttsVolume = *volume
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))
	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))

	return SpeechConfig{
		AppID:       appID,
		AccessToken: accessToken,
		Cluster:     getEnvOrDefault("SPEECH_CLUSTER", "volcano_tts"),
		BaseURL:     getEnvOrDefault("SPEECH_BASE_URL", "https://openspeech.bytedance.com"),
		Voice:       getEnvOrDefault("SPEECH_TTS_VOICE", "en_female_candice_emo_v2_mars_bigtts"),
		Speed:       ttsSpeed,
		Volume:      ttsVolume,
		Timeout:     timeoutSeconds,
		AudioDir:    getEnvOrDefault("AUDIO_DIR", staticDir+"/audio"),
		Enabled:     appID != "" && accessToken != "",
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}

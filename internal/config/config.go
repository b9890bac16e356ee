// Package config loads the gateway's YAML configuration file with
// environment-variable overrides, following the same Load/applyEnvOverrides/
// Validate shape the teacher uses.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the streaming gateway.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	Python    PythonConfig    `yaml:"python"`
	System    SystemConfig    `yaml:"system"`
	AI        AIConfig        `yaml:"ai"`
	WebSearch WebSearchConfig `yaml:"web-search"`
	Resource  ResourceConfig  `yaml:"resource"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Inference InferenceConfig `yaml:"inference"`
	Logging   LoggingConfig   `yaml:"logging"`
	Redis     RedisConfig     `yaml:"redis"`
}

// RedisConfig addresses the optional Redis instance backing the sentence
// event bus (internal/bus) and the TTS pool's dead-letter queue
// (internal/tts). Both fall back to in-process behavior when Addr is empty.
type RedisConfig struct {
	Addr string `yaml:"addr"`
}

// ServerConfig defines HTTP/WebSocket listener settings.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// OllamaConfig mirrors spec.md §6's app.ollama.* keys.
type OllamaConfig struct {
	BaseURL     string  `yaml:"baseUrl"`
	Model       string  `yaml:"model"`
	Timeout     string  `yaml:"timeout"`
	MaxTokens   int     `yaml:"maxTokens"`
	Temperature float64 `yaml:"temperature"`
	Stream      bool    `yaml:"stream"`
}

// GetTimeout returns the configured timeout, defaulting to 60s.
func (o *OllamaConfig) GetTimeout() time.Duration {
	if o.Timeout == "" {
		return 60 * time.Second
	}
	d, err := time.ParseDuration(o.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// PythonConfig mirrors app.python.services.* and app.python.timeout.*: the
// external ASR/TTS/VAD/OCR microservices the gateway calls out to.
type PythonConfig struct {
	Services PythonServices `yaml:"services"`
	Timeout  PythonTimeouts `yaml:"timeout"`
}

// PythonServices names the base URLs of the Python-side services.
type PythonServices struct {
	ASRURL string `yaml:"asrUrl"`
	TTSURL string `yaml:"ttsUrl"`
	VADURL string `yaml:"vadUrl"`
	OCRURL string `yaml:"ocrUrl"`
}

// PythonTimeouts are all expressed in seconds, per spec.md §6.
type PythonTimeouts struct {
	ConnectSeconds       int `yaml:"connectSeconds"`
	ReadSeconds          int `yaml:"readSeconds"`
	WriteSeconds         int `yaml:"writeSeconds"`
	TTSTaskSeconds       int `yaml:"ttsTaskSeconds"`
	Live2DTTSTaskSeconds int `yaml:"live2dTtsTaskSeconds"`
}

// SystemConfig mirrors app.system.*.
type SystemConfig struct {
	MaxContextTokens int             `yaml:"maxContextTokens"`
	SessionTimeout   string          `yaml:"sessionTimeout"`
	WebSocket        WebSocketConfig `yaml:"websocket"`
}

// GetSessionTimeout returns the configured idle-session timeout, defaulting
// to 30 minutes (spec.md §4.4).
func (s *SystemConfig) GetSessionTimeout() time.Duration {
	if s.SessionTimeout == "" {
		return 30 * time.Minute
	}
	d, err := time.ParseDuration(s.SessionTimeout)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// WebSocketConfig mirrors app.system.websocket.*.
type WebSocketConfig struct {
	PingIntervalSeconds  int `yaml:"pingInterval"`
	MaxReconnectAttempts int `yaml:"maxReconnectAttempts"`
}

// AIConfig mirrors app.ai.*.
type AIConfig struct {
	StreamingChunkSize int                `yaml:"streamingChunkSize"`
	StreamingDelayMs   int                `yaml:"streamingDelayMs"`
	SystemPrompt       SystemPromptConfig `yaml:"systemPrompt"`
	WebSearchDecision  WebSearchDecision  `yaml:"webSearchDecision"`
}

// SystemPromptConfig mirrors app.ai.systemPrompt.*.
type SystemPromptConfig struct {
	Base          string `yaml:"base"`
	Fallback      string `yaml:"fallback"`
	EnablePersona bool   `yaml:"enablePersona"`
}

// WebSearchDecision mirrors app.ai.webSearchDecision.*.
type WebSearchDecision struct {
	TimeoutSeconds        int  `yaml:"timeoutSeconds"`
	EnableTimeoutFallback bool `yaml:"enableTimeoutFallback"`
}

// WebSearchConfig mirrors app.web-search.*.
type WebSearchConfig struct {
	Enabled        bool   `yaml:"enabled"`
	MaxResults     int    `yaml:"maxResults"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
	DefaultEngine  string `yaml:"defaultEngine"`
	EnableFallback bool   `yaml:"enableFallback"`
}

// ResourceConfig mirrors app.resource.*: on-disk layout for logs and the
// history/persona/preferences/memory stores.
type ResourceConfig struct {
	BasePath string     `yaml:"basePath"`
	LogPath  string      `yaml:"logPath"`
	Data     ResourceData `yaml:"data"`
}

// ResourceData mirrors app.resource.data.*.
type ResourceData struct {
	Memories string `yaml:"memories"`
	Personas string `yaml:"personas"`
	Sessions string `yaml:"sessions"`
}

// ChannelsConfig defines the secondary text_only channel configurations.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
	WebChat  WebChatConfig  `yaml:"webchat"`
}

// TelegramConfig defines Telegram channel settings.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// DiscordConfig defines Discord channel settings.
type DiscordConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// WebChatConfig defines the primary WebSocket channel settings.
type WebChatConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// EngineConfig defines an inference engine configuration.
type EngineConfig struct {
	Name            string   `yaml:"name"`
	Type            string   `yaml:"type"`
	URL             string   `yaml:"url,omitempty"`
	APIKey          string   `yaml:"api_key,omitempty"`
	PreferredModels []string `yaml:"preferred_models,omitempty"`
	Models          []string `yaml:"models,omitempty"`
}

// LaneConfig defines an inference lane configuration.
type LaneConfig struct {
	Name     string   `yaml:"name"`
	Engine   string   `yaml:"engine,omitempty"`
	Provider string   `yaml:"provider,omitempty"`
	BaseURL  string   `yaml:"base_url,omitempty"`
	APIKey   string   `yaml:"api_key,omitempty"`
	Models   []string `yaml:"models,omitempty"`
	Strategy string   `yaml:"strategy,omitempty"`
}

// InferenceConfig defines inference engine/lane configurations.
type InferenceConfig struct {
	AutoDetect  bool           `yaml:"auto_detect"`
	Engines     []EngineConfig `yaml:"engines,omitempty"`
	Lanes       []LaneConfig   `yaml:"lanes"`
	DefaultLane string         `yaml:"default_lane,omitempty"`
}

// LoggingConfig defines structured-logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from a YAML file with environment variable
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	return &cfg, nil
}

// applyDefaults fills in the sizing/timeout defaults spec.md §6 calls for
// when the config file omits them.
func (c *Config) applyDefaults() {
	if c.System.MaxContextTokens <= 0 {
		c.System.MaxContextTokens = 4000
	}
	if c.AI.StreamingChunkSize <= 0 {
		c.AI.StreamingChunkSize = 1
	}
	if c.WebSearch.MaxResults <= 0 {
		c.WebSearch.MaxResults = 3
	}
	if c.WebSearch.TimeoutSeconds <= 0 {
		c.WebSearch.TimeoutSeconds = 5
	}
	if c.Resource.BasePath == "" {
		c.Resource.BasePath = "./data"
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("GATEWAY_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.Port)
	}
	if url := os.Getenv("OLLAMA_URL"); url != "" {
		c.Ollama.BaseURL = url
	}
	if token := os.Getenv("TELEGRAM_TOKEN"); token != "" {
		c.Channels.Telegram.Token = token
	}
	if token := os.Getenv("DISCORD_TOKEN"); token != "" {
		c.Channels.Discord.Token = token
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		for i := range c.Inference.Engines {
			if c.Inference.Engines[i].Type == "anthropic" {
				c.Inference.Engines[i].APIKey = apiKey
			}
		}
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		for i := range c.Inference.Lanes {
			if c.Inference.Lanes[i].Provider == "openai" {
				c.Inference.Lanes[i].APIKey = apiKey
			}
		}
		for i := range c.Inference.Engines {
			if c.Inference.Engines[i].Type == "openai-compatible" || c.Inference.Engines[i].Type == "openai" {
				c.Inference.Engines[i].APIKey = apiKey
			}
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Ollama.BaseURL == "" && len(c.Inference.Lanes) == 0 && len(c.Inference.Engines) == 0 {
		return fmt.Errorf("at least one inference engine (ollama url, lane, or engine) is required")
	}
	if len(c.Inference.Lanes) == 0 {
		return fmt.Errorf("at least one inference lane is required")
	}
	return nil
}

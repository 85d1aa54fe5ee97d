package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	CompactionModeRetain = "retain"
	CompactionModeClear  = "clear"

	CompactionFailureTruncate = "truncate"
	CompactionFailureReset    = "reset"
)

const defaultPersonaPrompt = `You are ReysQ, a warm and emotionally aware health companion who remembers how the user has been feeling.

You receive a short memory of earlier conversation before the latest messages. Treat it as what you already know about the user.

Guide the user through symptoms with empathy and simple follow-up questions.
Suggest safe home care for mild or moderate issues, with a 2-3 day plan and what to watch for.
Flag serious symptoms calmly and recommend seeing a real doctor. Never diagnose or prescribe.
Keep replies supportive and human, in clear friendly language without jargon or legal disclaimers.`

// Config contains all runtime settings for the companion gateway.
type Config struct {
	BindAddr         string        `yaml:"bind_addr" toml:"bind_addr" env:"APP_BIND_ADDR"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout" env:"APP_SHUTDOWN_TIMEOUT"`
	MetricsNamespace string        `yaml:"metrics_namespace" toml:"metrics_namespace" env:"APP_METRICS_NAMESPACE"`
	LogLevel         string        `yaml:"log_level" toml:"log_level" env:"LOG_LEVEL"`
	LogFormat        string        `yaml:"log_format" toml:"log_format" env:"LOG_FORMAT"`

	// MemoryMaxTurns is the bound K on recent turns kept verbatim per user.
	MemoryMaxTurns        int           `yaml:"memory_max_turns" toml:"memory_max_turns" env:"MEMORY_MAX_TURNS"`
	CompactionMode        string        `yaml:"compaction_mode" toml:"compaction_mode" env:"COMPACTION_MODE"`
	CompactionKeepTurns   int           `yaml:"compaction_keep_turns" toml:"compaction_keep_turns" env:"COMPACTION_KEEP_TURNS"`
	CompactionFailureMode string        `yaml:"compaction_failure_mode" toml:"compaction_failure_mode" env:"COMPACTION_FAILURE_MODE"`
	SummaryMaxTokens      int           `yaml:"summary_max_tokens" toml:"summary_max_tokens" env:"SUMMARY_MAX_TOKENS"`
	SummaryCacheTTL       time.Duration `yaml:"summary_cache_ttl" toml:"summary_cache_ttl" env:"SUMMARY_CACHE_TTL"`
	ReplyMaxTokens        int           `yaml:"reply_max_tokens" toml:"reply_max_tokens" env:"REPLY_MAX_TOKENS"`

	GateCooldown       time.Duration `yaml:"gate_cooldown" toml:"gate_cooldown" env:"GATE_COOLDOWN"`
	GateJunkUtterances []string      `yaml:"gate_junk_utterances" toml:"gate_junk_utterances" env:"GATE_JUNK_UTTERANCES" envSeparator:"|"`
	GateDedupeTTL      time.Duration `yaml:"gate_dedupe_ttl" toml:"gate_dedupe_ttl" env:"GATE_DEDUPE_TTL"`
	GateDedupeSize     int           `yaml:"gate_dedupe_size" toml:"gate_dedupe_size" env:"GATE_DEDUPE_SIZE"`

	WelcomeEnabled       bool   `yaml:"welcome_enabled" toml:"welcome_enabled" env:"WELCOME_ENABLED"`
	WelcomeMessage       string `yaml:"welcome_message" toml:"welcome_message" env:"WELCOME_MESSAGE"`
	FallbackReply        string `yaml:"fallback_reply" toml:"fallback_reply" env:"FALLBACK_REPLY"`
	TranscriptionApology string `yaml:"transcription_apology" toml:"transcription_apology" env:"TRANSCRIPTION_APOLOGY"`
	UnsupportedNotice    string `yaml:"unsupported_notice" toml:"unsupported_notice" env:"UNSUPPORTED_NOTICE"`
	PersonaPrompt        string `yaml:"persona_prompt" toml:"persona_prompt" env:"PERSONA_PROMPT"`

	BrainMode             string        `yaml:"brain_mode" toml:"brain_mode" env:"BRAIN_MODE"`
	OpenAIAPIKey          string        `yaml:"openai_api_key" toml:"openai_api_key" env:"OPENAI_API_KEY"`
	OpenAIBaseURL         string        `yaml:"openai_base_url" toml:"openai_base_url" env:"OPENAI_BASE_URL"`
	OpenAIModel           string        `yaml:"openai_model" toml:"openai_model" env:"OPENAI_MODEL"`
	OpenAIFallbackModel   string        `yaml:"openai_fallback_model" toml:"openai_fallback_model" env:"OPENAI_FALLBACK_MODEL"`
	OpenAITranscribeModel string        `yaml:"openai_transcribe_model" toml:"openai_transcribe_model" env:"OPENAI_TRANSCRIBE_MODEL"`
	OpenAITemperature     float64       `yaml:"openai_temperature" toml:"openai_temperature" env:"OPENAI_TEMPERATURE"`
	CollaboratorTimeout   time.Duration `yaml:"collaborator_timeout" toml:"collaborator_timeout" env:"COLLABORATOR_TIMEOUT"`

	DatabaseURL string `yaml:"database_url" toml:"database_url" env:"DATABASE_URL"`
	SQLitePath  string `yaml:"sqlite_path" toml:"sqlite_path" env:"SQLITE_PATH"`

	MetaVerifyToken    string  `yaml:"meta_verify_token" toml:"meta_verify_token" env:"META_VERIFY_TOKEN"`
	MetaAppSecret      string  `yaml:"meta_app_secret" toml:"meta_app_secret" env:"META_APP_SECRET"`
	WhatsAppToken      string  `yaml:"whatsapp_token" toml:"whatsapp_token" env:"ACCESS_TOKEN"`
	PhoneNumberID      string  `yaml:"phone_number_id" toml:"phone_number_id" env:"PHONE_NUMBER_ID"`
	GraphAPIBaseURL    string  `yaml:"graph_api_base_url" toml:"graph_api_base_url" env:"GRAPH_API_BASE_URL"`
	GraphAPIVersion    string  `yaml:"graph_api_version" toml:"graph_api_version" env:"GRAPH_API_VERSION"`
	WhatsAppRatePerSec float64 `yaml:"whatsapp_rate_per_sec" toml:"whatsapp_rate_per_sec" env:"WHATSAPP_RATE_PER_SEC"`

	DiscordToken     string   `yaml:"discord_token" toml:"discord_token" env:"DISCORD_TOKEN"`
	DiscordAllowFrom []string `yaml:"discord_allow_from" toml:"discord_allow_from" env:"DISCORD_ALLOW_FROM"`

	ElevenLabsAPIKey       string `yaml:"elevenlabs_api_key" toml:"elevenlabs_api_key" env:"ELEVENLABS_API_KEY"`
	ElevenLabsWSBaseURL    string `yaml:"elevenlabs_ws_base_url" toml:"elevenlabs_ws_base_url" env:"ELEVENLABS_WS_BASE_URL"`
	ElevenLabsVoiceID      string `yaml:"elevenlabs_voice_id" toml:"elevenlabs_voice_id" env:"ELEVENLABS_VOICE_ID"`
	ElevenLabsModelID      string `yaml:"elevenlabs_model_id" toml:"elevenlabs_model_id" env:"ELEVENLABS_MODEL_ID"`
	ElevenLabsOutputFormat string `yaml:"elevenlabs_output_format" toml:"elevenlabs_output_format" env:"ELEVENLABS_OUTPUT_FORMAT"`
	VoiceReplies           bool   `yaml:"voice_replies" toml:"voice_replies" env:"VOICE_REPLIES"`

	AdminJWTSecret string `yaml:"admin_jwt_secret" toml:"admin_jwt_secret" env:"ADMIN_JWT_SECRET"`
}

// Default returns the settings used when neither a config file nor the
// environment overrides them.
func Default() Config {
	return Config{
		BindAddr:         ":8080",
		ShutdownTimeout:  15 * time.Second,
		MetricsNamespace: "reysq",
		LogLevel:         "info",
		LogFormat:        "text",

		MemoryMaxTurns:        8,
		CompactionMode:        CompactionModeRetain,
		CompactionKeepTurns:   2,
		CompactionFailureMode: CompactionFailureTruncate,
		SummaryMaxTokens:      150,
		SummaryCacheTTL:       10 * time.Minute,
		ReplyMaxTokens:        500,

		GateCooldown: 30 * time.Second,
		GateJunkUtterances: []string{
			"ok", "okay", "k", "kk", "hmm", "hm", "yes", "no", "thanks", "thank you", "ty", "cool", "nice", "👍", "🙏",
		},
		GateDedupeTTL:  10 * time.Minute,
		GateDedupeSize: 4096,

		WelcomeEnabled:       true,
		WelcomeMessage:       "Hi, I'm ReysQ, your health companion. Tell me how you're feeling today and I'll remember it for next time.",
		FallbackReply:        "Sorry, I couldn't think that through just now. Could you tell me again in a moment?",
		TranscriptionApology: "Sorry, I couldn't understand that voice note. Could you try again or type it out?",
		UnsupportedNotice:    "I can only read text messages and voice notes for now.",
		PersonaPrompt:        defaultPersonaPrompt,

		BrainMode:             "auto",
		OpenAIBaseURL:         "https://api.openai.com/v1",
		OpenAIModel:           "gpt-4o",
		OpenAITranscribeModel: "whisper-1",
		OpenAITemperature:     0.7,
		CollaboratorTimeout:   20 * time.Second,

		GraphAPIBaseURL:    "https://graph.facebook.com",
		GraphAPIVersion:    "v19.0",
		WhatsAppRatePerSec: 20,

		ElevenLabsWSBaseURL: "wss://api.elevenlabs.io",
		// Warm premade voice.
		ElevenLabsVoiceID:      "cgSgspJ2msm6clMCkdW9",
		ElevenLabsModelID:      "eleven_multilingual_v2",
		ElevenLabsOutputFormat: "mp3_44100_128",
	}
}

// Load builds the configuration from defaults, an optional YAML or TOML file
// and the process environment, in that order.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, env.ToMap(os.Environ()))
}

// LoadWithEnv is Load with an explicit environment, used by tests.
func LoadWithEnv(path string, environ map[string]string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		if err := loadFile(path, environ, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, environ map[string]string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	expanded := expandEnvVars(string(data), environ)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return fmt.Errorf("parse yaml config %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return fmt.Errorf("parse toml config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config extension %q (want .yaml, .yml or .toml)", filepath.Ext(path))
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the value from environ.
// Unknown variables expand to the empty string.
func expandEnvVars(s string, environ map[string]string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		return environ[name]
	})
}

func (c *Config) normalize() {
	c.CompactionMode = strings.ToLower(strings.TrimSpace(c.CompactionMode))
	c.CompactionFailureMode = strings.ToLower(strings.TrimSpace(c.CompactionFailureMode))
	c.BrainMode = strings.ToLower(strings.TrimSpace(c.BrainMode))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.OpenAIBaseURL = strings.TrimRight(strings.TrimSpace(c.OpenAIBaseURL), "/")
	c.GraphAPIBaseURL = strings.TrimRight(strings.TrimSpace(c.GraphAPIBaseURL), "/")
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.SQLitePath = strings.TrimSpace(c.SQLitePath)
}

// Validate checks bounds and enumerations.
func (c Config) Validate() error {
	if c.MemoryMaxTurns < 2 {
		return fmt.Errorf("MEMORY_MAX_TURNS must be at least 2")
	}
	switch c.CompactionMode {
	case CompactionModeRetain:
		if c.CompactionKeepTurns < 1 || c.CompactionKeepTurns >= c.MemoryMaxTurns {
			return fmt.Errorf("COMPACTION_KEEP_TURNS must be between 1 and MEMORY_MAX_TURNS-1")
		}
	case CompactionModeClear:
	default:
		return fmt.Errorf("COMPACTION_MODE must be %q or %q", CompactionModeRetain, CompactionModeClear)
	}
	switch c.CompactionFailureMode {
	case CompactionFailureTruncate, CompactionFailureReset:
	default:
		return fmt.Errorf("COMPACTION_FAILURE_MODE must be %q or %q", CompactionFailureTruncate, CompactionFailureReset)
	}
	if c.SummaryMaxTokens <= 0 {
		return fmt.Errorf("SUMMARY_MAX_TOKENS must be positive")
	}
	if c.ReplyMaxTokens <= 0 {
		return fmt.Errorf("REPLY_MAX_TOKENS must be positive")
	}
	if c.GateCooldown < 0 {
		return fmt.Errorf("GATE_COOLDOWN must be >= 0")
	}
	if c.GateDedupeSize <= 0 {
		return fmt.Errorf("GATE_DEDUPE_SIZE must be positive")
	}
	if c.GateDedupeTTL <= 0 {
		return fmt.Errorf("GATE_DEDUPE_TTL must be positive")
	}
	if c.CollaboratorTimeout <= 0 {
		return fmt.Errorf("COLLABORATOR_TIMEOUT must be positive")
	}
	switch c.BrainMode {
	case "auto", "openai", "mock":
	default:
		return fmt.Errorf("BRAIN_MODE must be one of auto, openai, mock")
	}
	if c.BrainMode == "openai" && strings.TrimSpace(c.OpenAIAPIKey) == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when BRAIN_MODE=openai")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json")
	}
	if c.WhatsAppRatePerSec <= 0 {
		return fmt.Errorf("WHATSAPP_RATE_PER_SEC must be positive")
	}
	if c.WelcomeEnabled && strings.TrimSpace(c.WelcomeMessage) == "" {
		return fmt.Errorf("WELCOME_MESSAGE must be set when WELCOME_ENABLED=true")
	}
	if strings.TrimSpace(c.FallbackReply) == "" {
		return fmt.Errorf("FALLBACK_REPLY must not be empty")
	}
	return nil
}

// WhatsAppEnabled reports whether outbound WhatsApp delivery is configured.
func (c Config) WhatsAppEnabled() bool {
	return strings.TrimSpace(c.WhatsAppToken) != "" && strings.TrimSpace(c.PhoneNumberID) != ""
}

// StoreMode names the memory backend selected by the configuration.
func (c Config) StoreMode() string {
	switch {
	case c.DatabaseURL != "":
		return "postgres"
	case c.SQLitePath != "":
		return "sqlite"
	default:
		return "memory"
	}
}

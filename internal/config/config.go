package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
	"gopkg.in/yaml.v3"
)

// placeholderAPIKey is the value shipped in sample .env files.
const placeholderAPIKey = "SUA_CHAVE_API_REAL_AQUI"

const minAPIKeyLength = 10

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	StdoutTraces bool   `yaml:"stdout_traces"`
}

type HTTPConfig struct {
	Bind             string   `yaml:"bind"`
	Port             int      `yaml:"port"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	RequestTimeoutMS int      `yaml:"request_timeout_ms"`
	MaxBodyBytes     int      `yaml:"max_body_bytes"`
	// Zero lifts the limit.
	MaxChunks int `yaml:"max_chunks"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Provider    ProviderConfig   `yaml:"provider"`
	Concat      ConcatConfig     `yaml:"concat"`
	Workspace   WorkspaceConfig  `yaml:"workspace"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Bus         BusConfig        `yaml:"bus"`
}

// ProviderConfig describes the upstream speech synthesis provider.
type ProviderConfig struct {
	Mode                string  `yaml:"mode"` // google, mock
	APIKey              string  `yaml:"api_key"`
	Endpoint            string  `yaml:"endpoint"`
	LanguageCode        string  `yaml:"language_code"`
	DefaultVoice        string  `yaml:"default_voice"`
	DefaultSpeakingRate float64 `yaml:"default_speaking_rate"`
	TimeoutMS           int     `yaml:"timeout_ms"`
}

// ConcatConfig describes the external audio concatenation tool.
type ConcatConfig struct {
	Mode      string `yaml:"mode"` // exec, memory
	Command   string `yaml:"command"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type WorkspaceConfig struct {
	Dir          string `yaml:"dir"`
	StaleAfterMS int    `yaml:"stale_after_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// DefaultAllowedOrigins are prefixes of the web front-ends that call the proxy.
var DefaultAllowedOrigins = []string{
	"http://localhost",
	"http://127.0.0.1",
	"null",
	"https://magoja-br.github.io/catecismo-web",
	"https://magoja-br.github.io/texto-mp3",
	"https://magoja-br.github.io/meu-leitor-web",
	"https://magoja-br.github.io/minha-biblia-web",
	"https://magoja-br.github.io",
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-tts-proxy",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:             "0.0.0.0",
			Port:             3000,
			AllowedOrigins:   append([]string(nil), DefaultAllowedOrigins...),
			RequestTimeoutMS: 180000,
			MaxBodyBytes:     100 << 10,
			MaxChunks:        500,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
		Provider: ProviderConfig{
			Mode:                "google",
			Endpoint:            "https://texttospeech.googleapis.com",
			LanguageCode:        "pt-BR",
			DefaultVoice:        "pt-BR-Chirp3-HD-Algieba",
			DefaultSpeakingRate: 1.0,
			TimeoutMS:           30000,
		},
		Concat: ConcatConfig{
			Mode:      "exec",
			Command:   "ffmpeg -hide_banner -loglevel error",
			TimeoutMS: 60000,
		},
		Workspace: WorkspaceConfig{
			Dir:          "./tmp/tts",
			StaleAfterMS: 3600000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/ttsproxy-events.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Plain variable names kept for existing deployments.
	overrideString(&cfg.Provider.APIKey, "GOOGLE_TTS_API_KEY")
	overrideInt(&cfg.HTTP.Port, "PORT")

	overrideString(&cfg.RuntimeName, "TTSPROXY_RUNTIME_NAME")
	overrideString(&cfg.Environment, "TTSPROXY_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "TTSPROXY_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "TTSPROXY_HTTP_PORT")
	overrideStringSlice(&cfg.HTTP.AllowedOrigins, "TTSPROXY_HTTP_ALLOWED_ORIGINS")
	overrideInt(&cfg.HTTP.RequestTimeoutMS, "TTSPROXY_HTTP_REQUEST_TIMEOUT_MS")
	overrideInt(&cfg.HTTP.MaxBodyBytes, "TTSPROXY_HTTP_MAX_BODY_BYTES")
	overrideInt(&cfg.HTTP.MaxChunks, "TTSPROXY_HTTP_MAX_CHUNKS")
	overrideString(&cfg.Telemetry.LogLevel, "TTSPROXY_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "TTSPROXY_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "TTSPROXY_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "TTSPROXY_TELEMETRY_STDOUT_TRACES")
	overrideString(&cfg.Provider.Mode, "TTSPROXY_PROVIDER_MODE")
	overrideString(&cfg.Provider.APIKey, "TTSPROXY_PROVIDER_API_KEY")
	overrideString(&cfg.Provider.Endpoint, "TTSPROXY_PROVIDER_ENDPOINT")
	overrideString(&cfg.Provider.LanguageCode, "TTSPROXY_PROVIDER_LANGUAGE_CODE")
	overrideString(&cfg.Provider.DefaultVoice, "TTSPROXY_PROVIDER_DEFAULT_VOICE")
	overrideFloat(&cfg.Provider.DefaultSpeakingRate, "TTSPROXY_PROVIDER_DEFAULT_SPEAKING_RATE")
	overrideInt(&cfg.Provider.TimeoutMS, "TTSPROXY_PROVIDER_TIMEOUT_MS")
	overrideString(&cfg.Concat.Mode, "TTSPROXY_CONCAT_MODE")
	overrideString(&cfg.Concat.Command, "TTSPROXY_CONCAT_COMMAND")
	overrideInt(&cfg.Concat.TimeoutMS, "TTSPROXY_CONCAT_TIMEOUT_MS")
	overrideString(&cfg.Workspace.Dir, "TTSPROXY_WORKSPACE_DIR")
	overrideInt(&cfg.Workspace.StaleAfterMS, "TTSPROXY_WORKSPACE_STALE_AFTER_MS")
	overrideString(&cfg.EventStore.Path, "TTSPROXY_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "TTSPROXY_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "TTSPROXY_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "TTSPROXY_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "TTSPROXY_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Bus.Enabled, "TTSPROXY_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "TTSPROXY_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "TTSPROXY_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "TTSPROXY_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "TTSPROXY_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "TTSPROXY_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "TTSPROXY_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "TTSPROXY_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "TTSPROXY_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "TTSPROXY_BUS_CONNECT_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

// Validate reports the first configuration problem found.
func Validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.RequestTimeoutMS <= 0 {
		return errors.New("http.request_timeout_ms must be positive")
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		return errors.New("http.max_body_bytes must be positive")
	}
	if cfg.HTTP.MaxChunks < 0 {
		return errors.New("http.max_chunks must not be negative")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if err := validateProvider(cfg.Provider); err != nil {
		return err
	}
	if err := validateConcat(cfg.Concat); err != nil {
		return err
	}
	if cfg.Workspace.Dir == "" {
		return errors.New("workspace.dir must not be empty")
	}
	if cfg.Workspace.StaleAfterMS < 0 {
		return errors.New("workspace.stale_after_ms must be >= 0")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	return nil
}

func validateProvider(p ProviderConfig) error {
	switch p.Mode {
	case "google":
		key := strings.TrimSpace(p.APIKey)
		if key == "" || key == placeholderAPIKey || len(key) < minAPIKeyLength {
			return errors.New("provider.api_key is missing or invalid (set GOOGLE_TTS_API_KEY)")
		}
		if p.Endpoint == "" {
			return errors.New("provider.endpoint must be set when mode=google")
		}
	case "mock":
	default:
		return errors.New("provider.mode must be one of google|mock")
	}
	if p.LanguageCode == "" {
		return errors.New("provider.language_code must not be empty")
	}
	if p.DefaultVoice == "" {
		return errors.New("provider.default_voice must not be empty")
	}
	if p.DefaultSpeakingRate <= 0 {
		return errors.New("provider.default_speaking_rate must be positive")
	}
	if p.TimeoutMS <= 0 {
		return errors.New("provider.timeout_ms must be positive")
	}
	return nil
}

func validateConcat(c ConcatConfig) error {
	switch c.Mode {
	case "exec":
		args, err := shellwords.Parse(c.Command)
		if err != nil {
			return fmt.Errorf("concat.command is not a valid command line: %w", err)
		}
		if len(args) == 0 {
			return errors.New("concat.command must be set when mode=exec")
		}
	case "memory":
	default:
		return errors.New("concat.mode must be one of exec|memory")
	}
	if c.TimeoutMS <= 0 {
		return errors.New("concat.timeout_ms must be positive")
	}
	return nil
}

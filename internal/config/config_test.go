package config

import (
	"os"
	"path/filepath"
	"testing"
)

const validAPIKey = "AIzaSyTestKey-0123456789"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GOOGLE_TTS_API_KEY", validAPIKey)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 3000 {
		t.Fatalf("expected default port 3000, got %d", cfg.HTTP.Port)
	}
	if cfg.Provider.DefaultVoice != "pt-BR-Chirp3-HD-Algieba" {
		t.Fatalf("unexpected default voice %q", cfg.Provider.DefaultVoice)
	}
	if cfg.Provider.DefaultSpeakingRate != 1.0 {
		t.Fatalf("expected default speaking rate 1.0, got %v", cfg.Provider.DefaultSpeakingRate)
	}
	if len(cfg.HTTP.AllowedOrigins) != len(DefaultAllowedOrigins) {
		t.Fatalf("expected default origins, got %v", cfg.HTTP.AllowedOrigins)
	}
}

func TestLoadRejectsMissingAPIKey(t *testing.T) {
	t.Setenv("GOOGLE_TTS_API_KEY", "")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"empty", "", true},
		{"placeholder", placeholderAPIKey, true},
		{"too short", "abc123", true},
		{"valid", validAPIKey, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Provider.APIKey = tt.key
			err := Validate(cfg)
			if tt.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestMockProviderNeedsNoKey(t *testing.T) {
	cfg := Default()
	cfg.Provider.Mode = "mock"
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateConcatCommand(t *testing.T) {
	cfg := Default()
	cfg.Provider.APIKey = validAPIKey
	cfg.Concat.Command = "   "
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty concat command")
	}

	cfg.Concat.Command = `ffmpeg "-unterminated`
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for malformed concat command")
	}

	cfg.Concat.Mode = "memory"
	if err := Validate(cfg); err != nil {
		t.Fatalf("memory mode should ignore command: %v", err)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttsproxy.yaml")
	yamlDoc := `
runtime_name: proxy-test
http:
  port: 8081
provider:
  mode: mock
  default_voice: pt-BR-Standard-A
concat:
  mode: memory
workspace:
  dir: /var/tmp/tts
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PORT", "9090")
	t.Setenv("TTSPROXY_HTTP_ALLOWED_ORIGINS", "https://one.example, https://two.example")
	t.Setenv("TTSPROXY_PROVIDER_DEFAULT_SPEAKING_RATE", "1.25")
	t.Setenv("TTSPROXY_CONCAT_TIMEOUT_MS", "5000")
	t.Setenv("TTSPROXY_BUS_ENABLED", "true")
	t.Setenv("TTSPROXY_BUS_SERVERS", "nats://one:4222,nats://two:4222")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "proxy-test" {
		t.Fatalf("expected runtime name from file, got %q", cfg.RuntimeName)
	}
	if cfg.HTTP.Port != 9090 {
		t.Fatalf("expected PORT override, got %d", cfg.HTTP.Port)
	}
	if len(cfg.HTTP.AllowedOrigins) != 2 || cfg.HTTP.AllowedOrigins[1] != "https://two.example" {
		t.Fatalf("expected origins override, got %v", cfg.HTTP.AllowedOrigins)
	}
	if cfg.Provider.DefaultVoice != "pt-BR-Standard-A" {
		t.Fatalf("expected voice from file, got %q", cfg.Provider.DefaultVoice)
	}
	if cfg.Provider.DefaultSpeakingRate != 1.25 {
		t.Fatalf("expected rate override, got %v", cfg.Provider.DefaultSpeakingRate)
	}
	if cfg.Provider.LanguageCode != "pt-BR" {
		t.Fatalf("expected default language to survive partial file, got %q", cfg.Provider.LanguageCode)
	}
	if cfg.Concat.TimeoutMS != 5000 {
		t.Fatalf("expected concat timeout override, got %d", cfg.Concat.TimeoutMS)
	}
	if !cfg.Bus.Enabled || len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected bus overrides, got %+v", cfg.Bus)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestRequestLimits(t *testing.T) {
	t.Setenv("GOOGLE_TTS_API_KEY", validAPIKey)
	t.Setenv("TTSPROXY_HTTP_MAX_CHUNKS", "40")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.MaxBodyBytes != 100<<10 {
		t.Fatalf("expected 100KiB body cap, got %d", cfg.HTTP.MaxBodyBytes)
	}
	if cfg.HTTP.MaxChunks != 40 {
		t.Fatalf("expected env override of max chunks, got %d", cfg.HTTP.MaxChunks)
	}

	cfg.HTTP.MaxBodyBytes = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for a zero body cap")
	}
	cfg.HTTP.MaxBodyBytes = 1024
	cfg.HTTP.MaxChunks = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative max chunks")
	}
}

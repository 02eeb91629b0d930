package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/loqalabs/loqa-tts-proxy/internal/concat"
	"github.com/loqalabs/loqa-tts-proxy/internal/config"
	"github.com/loqalabs/loqa-tts-proxy/internal/eventstore"
	"github.com/loqalabs/loqa-tts-proxy/internal/synth"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'validate', 'probe', 'session' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "validate":
		flags := flag.NewFlagSet("validate", flag.ExitOnError)
		configPath := flags.String("file", "", "Path to configuration file")
		envFile := flags.String("env-file", ".env", "Path to a dotenv file")
		flags.Parse(os.Args[2:])
		if _, err := loadConfig(*configPath, *envFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("configuration valid")
	case "probe":
		flags := flag.NewFlagSet("probe", flag.ExitOnError)
		configPath := flags.String("config", "", "Path to configuration file")
		envFile := flags.String("env-file", ".env", "Path to a dotenv file")
		text := flags.String("text", "", "Also synthesize this text through the configured provider")
		flags.Parse(os.Args[2:])
		if err := runProbe(*configPath, *envFile, *text); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "session":
		flags := flag.NewFlagSet("session", flag.ExitOnError)
		configPath := flags.String("config", "", "Path to configuration file")
		envFile := flags.String("env-file", ".env", "Path to a dotenv file")
		id := flags.String("id", "", "Session id to inspect")
		limit := flags.Int("limit", 100, "Maximum number of events to print")
		flags.Parse(os.Args[2:])
		if *id == "" {
			fmt.Fprintln(os.Stderr, "-id is required")
			os.Exit(2)
		}
		if err := runSession(*configPath, *envFile, *id, *limit); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func loadConfig(path, envFile string) (config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return config.Config{}, fmt.Errorf("load env file: %w", err)
		}
	}
	return config.Load(path)
}

func runProbe(path, envFile, text string) error {
	cfg, err := loadConfig(path, envFile)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if cfg.Concat.Mode == "exec" {
		if err := concat.Probe(ctx, cfg.Concat.Command); err != nil {
			return err
		}
		fmt.Println("concatenation tool: ok")
	} else {
		fmt.Println("concatenation tool: in-memory")
	}

	if text == "" {
		return nil
	}
	var s synth.Synthesizer = synth.NewMockSynthesizer()
	if cfg.Provider.Mode == "google" {
		s = synth.NewGoogleSynthesizer(cfg.Provider.APIKey, synth.WithGoogleEndpoint(cfg.Provider.Endpoint))
	}
	audio, err := s.Synthesize(ctx, synth.Request{
		Text:         text,
		Voice:        cfg.Provider.DefaultVoice,
		LanguageCode: cfg.Provider.LanguageCode,
		SpeakingRate: cfg.Provider.DefaultSpeakingRate,
	})
	if err != nil {
		return fmt.Errorf("provider probe failed: %w", err)
	}
	fmt.Printf("provider (%s): ok, %d bytes of audio\n", cfg.Provider.Mode, len(audio))
	return nil
}

// runSession prints the audit trail recorded for one request.
func runSession(path, envFile, id string, limit int) error {
	cfg, err := loadConfig(path, envFile)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := eventstore.Open(ctx, cfg.EventStore, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if !store.Persistent() {
		return errors.New("event store is ephemeral; nothing is recorded")
	}

	sess, err := store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("session %s not found", id)
	}
	fmt.Printf("session %s mode=%s chunks=%d started=%s\n",
		sess.SessionID, sess.Mode, sess.ChunkCount, sess.CreatedAt.Format(time.RFC3339))

	events, err := store.ListSessionEvents(ctx, id, limit)
	if err != nil {
		return err
	}
	for _, e := range events {
		fmt.Printf("%s  %-18s %s\n", e.CreatedAt.Format(time.RFC3339Nano), e.Type, e.Detail)
	}
	return nil
}

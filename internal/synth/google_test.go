package synth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGoogleSynthesizeSuccess(t *testing.T) {
	var got googleRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != googleSynthesizePath {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("X-Goog-Api-Key") != "test-key-123456" {
			t.Errorf("expected api key header, got %q", r.Header.Get("X-Goog-Api-Key"))
		}
		if r.URL.RawQuery != "" {
			t.Errorf("expected no query string, got %q", r.URL.RawQuery)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(googleResponse{AudioContent: base64.StdEncoding.EncodeToString([]byte("mp3-bytes"))})
	}))
	defer srv.Close()

	g := NewGoogleSynthesizer("test-key-123456", WithGoogleEndpoint(srv.URL))
	audio, err := g.Synthesize(context.Background(), Request{
		Text:         "Olá",
		Voice:        "pt-BR-Chirp3-HD-Algieba",
		LanguageCode: "pt-BR",
		SpeakingRate: 1.5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio) != "mp3-bytes" {
		t.Fatalf("unexpected audio %q", audio)
	}
	if got.Input.Text != "Olá" || got.Voice.Name != "pt-BR-Chirp3-HD-Algieba" || got.Voice.LanguageCode != "pt-BR" {
		t.Fatalf("unexpected request body %+v", got)
	}
	if got.AudioConfig.AudioEncoding != "MP3" || got.AudioConfig.SpeakingRate != 1.5 {
		t.Fatalf("unexpected audio config %+v", got.AudioConfig)
	}
}

func TestGoogleSynthesizeErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		clientFault bool
		malformed   bool
	}{
		{"bad request", http.StatusBadRequest, `{"error":{"code":400,"message":"invalid voice","status":"INVALID_ARGUMENT"}}`, true, false},
		{"forbidden", http.StatusForbidden, `{"error":{"code":403,"message":"key disabled"}}`, true, false},
		{"server error", http.StatusInternalServerError, `oops`, false, false},
		{"missing audio", http.StatusOK, `{}`, false, true},
		{"bad base64", http.StatusOK, `{"audioContent":"***"}`, false, true},
		{"not json", http.StatusOK, `<html>`, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			g := NewGoogleSynthesizer("test-key-123456", WithGoogleEndpoint(srv.URL))
			_, err := g.Synthesize(context.Background(), Request{Text: "x"})
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.malformed {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Fatalf("expected malformed response error, got %v", err)
				}
				return
			}
			var perr *ProviderError
			if !errors.As(err, &perr) {
				t.Fatalf("expected ProviderError, got %v", err)
			}
			if perr.StatusCode != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, perr.StatusCode)
			}
			if perr.ClientFault() != tt.clientFault {
				t.Fatalf("expected client fault %v", tt.clientFault)
			}
		})
	}
}

func TestGoogleProviderMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"Voice does not exist"}}`))
	}))
	defer srv.Close()

	g := NewGoogleSynthesizer("test-key-123456", WithGoogleEndpoint(srv.URL))
	_, err := g.Synthesize(context.Background(), Request{Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "Voice does not exist") {
		t.Fatalf("expected provider message in error, got %v", err)
	}
}

func TestGoogleUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	g := NewGoogleSynthesizer("secret-key-123456", WithGoogleEndpoint(endpoint))
	_, err := g.Synthesize(context.Background(), Request{Text: "x"})
	if !errors.Is(err, ErrProviderUnreachable) {
		t.Fatalf("expected unreachable error, got %v", err)
	}
	if strings.Contains(err.Error(), "secret-key-123456") {
		t.Fatalf("error leaks api key: %v", err)
	}
}

func TestGoogleTimeoutIsUnreachable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	g := NewGoogleSynthesizer("test-key-123456", WithGoogleEndpoint(srv.URL))
	_, err := g.Synthesize(ctx, Request{Text: "x"})
	if !errors.Is(err, ErrProviderUnreachable) {
		t.Fatalf("expected unreachable error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded in chain, got %v", err)
	}
}

func TestGoogleTimeoutWhileReadingBodyIsUnreachable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"audioContent":"bXAz`))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	g := NewGoogleSynthesizer("test-key-123456", WithGoogleEndpoint(srv.URL))
	_, err := g.Synthesize(ctx, Request{Text: "x"})
	if !errors.Is(err, ErrProviderUnreachable) {
		t.Fatalf("expected unreachable error, got %v", err)
	}
	if errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("stalled body must not be reported as malformed: %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded in chain, got %v", err)
	}
}

package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	googleDefaultEndpoint = "https://texttospeech.googleapis.com"
	googleSynthesizePath  = "/v1/text:synthesize"
	googleAudioEncoding   = "MP3"

	defaultGoogleTimeout = 30 * time.Second

	// Upper bound on error bodies read back from the provider.
	maxErrorBody = 64 << 10
)

// GoogleSynthesizer calls the Google Cloud Text-to-Speech REST API with an API key.
type GoogleSynthesizer struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// GoogleOption configures a GoogleSynthesizer.
type GoogleOption func(*GoogleSynthesizer)

// WithGoogleEndpoint overrides the API base URL (tests, regional endpoints).
func WithGoogleEndpoint(endpoint string) GoogleOption {
	return func(g *GoogleSynthesizer) {
		if endpoint != "" {
			g.endpoint = strings.TrimRight(endpoint, "/")
		}
	}
}

// WithGoogleClient sets the HTTP client used for provider calls.
func WithGoogleClient(client *http.Client) GoogleOption {
	return func(g *GoogleSynthesizer) {
		if client != nil {
			g.client = client
		}
	}
}

func NewGoogleSynthesizer(apiKey string, opts ...GoogleOption) *GoogleSynthesizer {
	g := &GoogleSynthesizer{
		apiKey:   apiKey,
		endpoint: googleDefaultEndpoint,
		client:   &http.Client{Timeout: defaultGoogleTimeout},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type googleRequest struct {
	Input       googleInput       `json:"input"`
	Voice       googleVoice       `json:"voice"`
	AudioConfig googleAudioConfig `json:"audioConfig"`
}

type googleInput struct {
	Text string `json:"text"`
}

type googleVoice struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name"`
}

type googleAudioConfig struct {
	AudioEncoding string  `json:"audioEncoding"`
	SpeakingRate  float64 `json:"speakingRate"`
}

type googleResponse struct {
	AudioContent string `json:"audioContent"`
}

type googleErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (g *GoogleSynthesizer) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	payload := googleRequest{
		Input: googleInput{Text: req.Text},
		Voice: googleVoice{LanguageCode: req.LanguageCode, Name: req.Voice},
		AudioConfig: googleAudioConfig{
			AudioEncoding: googleAudioEncoding,
			SpeakingRate:  req.SpeakingRate,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+googleSynthesizePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// Sent as a header so the key never appears in URLs, traces or errors.
	httpReq.Header.Set("X-Goog-Api-Key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("%w: %w", ErrProviderUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeGoogleError(resp)
	}

	var out googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// A deadline hit while the body streams in is still a timeout.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: read response: %w", ErrProviderUnreachable, ctxErr)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: read response: %w", ErrProviderUnreachable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if out.AudioContent == "" {
		return nil, ErrMalformedResponse
	}
	audio, err := base64.StdEncoding.DecodeString(out.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("%w: decode audio content: %v", ErrMalformedResponse, err)
	}
	return audio, nil
}

func decodeGoogleError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	perr := &ProviderError{StatusCode: resp.StatusCode}
	var body googleErrorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Message != "" {
		perr.Message = body.Error.Message
	}
	return perr
}

// Package pipeline drives synthesis requests end to end.
//
// A multi-chunk request synthesizes every chunk in order, stages the audio in a
// session-scoped working area, stitches the clips with a Concatenator and returns the
// merged bytes. The session's artifacts are removed on every exit path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-tts-proxy/internal/concat"
	"github.com/loqalabs/loqa-tts-proxy/internal/config"
	"github.com/loqalabs/loqa-tts-proxy/internal/protocol"
	"github.com/loqalabs/loqa-tts-proxy/internal/session"
	"github.com/loqalabs/loqa-tts-proxy/internal/synth"
)

const (
	ModeSingle = "single"
	ModeConcat = "concat"
)

// Audit event types.
const (
	EventSessionStarted   = "session.started"
	EventChunkStaged      = "chunk.staged"
	EventConcatCompleted  = "concat.completed"
	EventSessionCompleted = "session.completed"
	EventSessionFailed    = "session.failed"
	EventCleanupFailed    = "cleanup.failed"
)

// Recorder keeps an audit trail of requests. Failures are logged and otherwise ignored.
type Recorder interface {
	RecordSession(ctx context.Context, sessionID, mode string, chunks int) error
	RecordEvent(ctx context.Context, sessionID, eventType, detail string) error
}

// Notifier announces finished requests.
type Notifier interface {
	PublishOutcome(ctx context.Context, outcome protocol.SessionOutcome) error
}

// SingleRequest asks for one fragment of text.
type SingleRequest struct {
	Text         string
	Voice        string
	SpeakingRate float64
}

// ConcatRequest asks for several fragments rendered and merged in order.
type ConcatRequest struct {
	Chunks       []string
	Voice        string
	SpeakingRate float64
}

type Coordinator struct {
	cfg      config.ProviderConfig
	synth    synth.Synthesizer
	concat   concat.Concatenator
	ws       *session.Workspace
	recorder Recorder
	notifier Notifier
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  instruments
	clock    func() time.Time
}

type Option func(*Coordinator)

func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

func NewCoordinator(cfg config.ProviderConfig, synthesizer synth.Synthesizer, concatenator concat.Concatenator, ws *session.Workspace, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:    cfg,
		synth:  synthesizer,
		concat: concatenator,
		ws:     ws,
		logger: logger.With(slog.String("component", "coordinator")),
		tracer: otel.Tracer(instrumentationName),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	metrics, err := defaultInstruments()
	if err != nil {
		c.logger.Warn("failed to initialize metrics", slogError(err))
	}
	c.metrics = metrics
	return c
}

// Synthesize renders a single fragment. No working-area files are involved.
func (c *Coordinator) Synthesize(ctx context.Context, req SingleRequest) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("%w: text is required", ErrInvalidRequest)
	}

	start := c.clock()
	requestID := uuid.NewString()
	ctx, span := c.tracer.Start(ctx, "pipeline.synthesize",
		trace.WithAttributes(attribute.String("session.id", requestID)))
	defer span.End()

	c.recordSession(ctx, requestID, ModeSingle, 1)
	voice, rate := c.voiceParams(req.Voice, req.SpeakingRate)
	audio, err := c.callProvider(ctx, 0, req.Text, voice, rate)
	c.finish(ctx, span, requestID, ModeSingle, 1, start, len(audio), err)
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// SynthesizeConcatenated renders every chunk strictly in order, merges the clips and
// returns the merged audio. The first failure aborts the remaining chunks. Whatever the
// outcome, every artifact scoped to the session is deleted before returning.
func (c *Coordinator) SynthesizeConcatenated(ctx context.Context, req ConcatRequest) (audio []byte, err error) {
	if err := validateChunks(req.Chunks); err != nil {
		return nil, err
	}

	start := c.clock()
	sess, err := c.ws.Begin()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	ctx, span := c.tracer.Start(ctx, "pipeline.synthesize_concat",
		trace.WithAttributes(
			attribute.String("session.id", sess.ID),
			attribute.Int("chunks", len(req.Chunks)),
		))
	defer span.End()

	logger := c.logger.With(slog.String("session_id", sess.ID))
	logger.Info("session started", slog.Int("chunks", len(req.Chunks)))
	c.recordSession(ctx, sess.ID, ModeConcat, len(req.Chunks))

	defer func() {
		c.release(ctx, sess)
		c.finish(ctx, span, sess.ID, ModeConcat, len(req.Chunks), start, len(audio), err)
	}()

	return c.run(ctx, sess, req, logger)
}

func (c *Coordinator) run(ctx context.Context, sess *session.Session, req ConcatRequest, logger *slog.Logger) ([]byte, error) {
	voice, rate := c.voiceParams(req.Voice, req.SpeakingRate)
	total := len(req.Chunks)

	for i, text := range req.Chunks {
		audio, err := c.callProvider(ctx, i, text, voice, rate)
		if err != nil {
			logger.Warn("chunk synthesis failed", slog.Int("chunk", i), slogError(err))
			return nil, fmt.Errorf("chunk %d of %d: %w", i+1, total, err)
		}
		if _, err := sess.Stage(i, audio); err != nil {
			return nil, fmt.Errorf("stage chunk %d of %d: %w", i+1, total, err)
		}
		c.metrics.chunks.Add(ctx, 1)
		c.recordEvent(ctx, sess.ID, EventChunkStaged, fmt.Sprintf("index=%d bytes=%d", i, len(audio)))
	}

	manifest, err := sess.WriteManifest()
	if err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	concatCtx, span := c.tracer.Start(ctx, "concat.run")
	err = c.concat.Concatenate(concatCtx, manifest, sess.OutputPath())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "concatenation failed")
		span.End()
		attrs := []any{slogError(err), slog.String("manifest", sess.ManifestPath())}
		var cerr *concat.Error
		if errors.As(err, &cerr) && cerr.Diagnostics != "" {
			attrs = append(attrs, slog.String("diagnostics", cerr.Diagnostics))
		}
		logger.Error("concatenation failed", attrs...)
		return nil, err
	}
	span.End()
	c.recordEvent(ctx, sess.ID, EventConcatCompleted, fmt.Sprintf("inputs=%d", total))

	return sess.ReadOutput()
}

func (c *Coordinator) callProvider(ctx context.Context, index int, text, voice string, rate float64) ([]byte, error) {
	if c.cfg.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.cfg.TimeoutMS)*time.Millisecond)
		defer cancel()
	}
	ctx, span := c.tracer.Start(ctx, "provider.synthesize",
		trace.WithAttributes(attribute.Int("chunk.index", index), attribute.String("voice", voice)))
	defer span.End()

	audio, err := c.synth.Synthesize(ctx, synth.Request{
		Text:         text,
		Voice:        voice,
		LanguageCode: c.cfg.LanguageCode,
		SpeakingRate: rate,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider call failed")
		return nil, err
	}
	if len(audio) == 0 {
		return nil, synth.ErrMalformedResponse
	}
	return audio, nil
}

func (c *Coordinator) voiceParams(voice string, rate float64) (string, float64) {
	if strings.TrimSpace(voice) == "" {
		voice = c.cfg.DefaultVoice
	}
	if rate == 0 {
		rate = c.cfg.DefaultSpeakingRate
	}
	return voice, rate
}

func (c *Coordinator) release(ctx context.Context, sess *session.Session) {
	if err := sess.Close(); err != nil {
		c.metrics.cleanupFailures.Add(ctx, 1)
		c.recordEvent(ctx, sess.ID, EventCleanupFailed, err.Error())
	}
}

func (c *Coordinator) finish(ctx context.Context, span trace.Span, sessionID, mode string, chunks int, start time.Time, audioBytes int, err error) {
	elapsed := c.clock().Sub(start)
	category := Classify(err)
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", string(category)),
	)
	c.metrics.sessions.Add(ctx, 1, attrs)
	c.metrics.duration.Record(ctx, elapsed.Seconds(), attrs)

	outcome := protocol.SessionOutcome{
		SessionID:  sessionID,
		Mode:       mode,
		Chunks:     chunks,
		Completed:  err == nil,
		Category:   string(category),
		AudioBytes: audioBytes,
		DurationMS: elapsed.Milliseconds(),
		Timestamp:  c.clock().UTC(),
	}
	logger := c.logger.With(slog.String("session_id", sessionID), slog.String("mode", mode))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(category))
		outcome.Error = err.Error()
		outcome.AudioBytes = 0
		logger.Warn("session failed", slog.String("category", string(category)), slog.Duration("elapsed", elapsed), slogError(err))
		c.recordEvent(ctx, sessionID, EventSessionFailed, string(category)+": "+err.Error())
	} else {
		logger.Info("session completed", slog.Int("audio_bytes", audioBytes), slog.Duration("elapsed", elapsed))
		c.recordEvent(ctx, sessionID, EventSessionCompleted, fmt.Sprintf("bytes=%d", audioBytes))
	}

	if c.notifier != nil {
		if nerr := c.notifier.PublishOutcome(context.WithoutCancel(ctx), outcome); nerr != nil {
			c.logger.Warn("failed to publish session outcome", slog.String("session_id", sessionID), slogError(nerr))
		}
	}
}

func (c *Coordinator) recordSession(ctx context.Context, sessionID, mode string, chunks int) {
	if c.recorder == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := c.recorder.RecordSession(ctx, sessionID, mode, chunks); err != nil {
		c.logger.Warn("failed to record session", slog.String("session_id", sessionID), slogError(err))
		return
	}
	c.recordEvent(ctx, sessionID, EventSessionStarted, fmt.Sprintf("mode=%s chunks=%d", mode, chunks))
}

func (c *Coordinator) recordEvent(ctx context.Context, sessionID, eventType, detail string) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordEvent(context.WithoutCancel(ctx), sessionID, eventType, detail); err != nil {
		c.logger.Warn("failed to record event", slog.String("session_id", sessionID), slog.String("event", eventType), slogError(err))
	}
}

func validateChunks(chunks []string) error {
	if len(chunks) == 0 {
		return fmt.Errorf("%w: chunks must be a non-empty list", ErrInvalidRequest)
	}
	for i, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			return fmt.Errorf("%w: chunk %d is empty", ErrInvalidRequest, i+1)
		}
	}
	return nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

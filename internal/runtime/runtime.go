package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/loqalabs/loqa-tts-proxy/internal/bus"
	"github.com/loqalabs/loqa-tts-proxy/internal/concat"
	"github.com/loqalabs/loqa-tts-proxy/internal/config"
	"github.com/loqalabs/loqa-tts-proxy/internal/eventstore"
	"github.com/loqalabs/loqa-tts-proxy/internal/httpapi"
	"github.com/loqalabs/loqa-tts-proxy/internal/natsserver"
	"github.com/loqalabs/loqa-tts-proxy/internal/pipeline"
	"github.com/loqalabs/loqa-tts-proxy/internal/session"
	"github.com/loqalabs/loqa-tts-proxy/internal/synth"
)

const prunePeriod = time.Hour

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	telemetryClose func(context.Context) error
	store          *eventstore.Store
	embedded       *natsserver.EmbeddedServer
	busClient      *bus.Client
	workspace      *session.Workspace
	coordinator    *pipeline.Coordinator
	handler        http.Handler
	httpServer     *http.Server

	concatAvailable atomic.Bool
	ready           atomic.Bool
	initialized     bool
	cancel          context.CancelFunc
	wg              sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "runtime")),
	}
}

// Init builds every component and the HTTP handler without listening.
func (r *Runtime) Init(ctx context.Context) error {
	if r.initialized {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	shutdownTelemetry, metricsHandler, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = shutdownTelemetry

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.store = store
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		store.RunPruner(ctx, prunePeriod)
	}()

	opts := []pipeline.Option{pipeline.WithRecorder(store)}
	if r.cfg.Bus.Enabled {
		client, err := r.connectBus(ctx)
		if err != nil {
			return err
		}
		opts = append(opts, pipeline.WithNotifier(client))
	}

	ws, err := session.NewWorkspace(r.cfg.Workspace.Dir, r.logger)
	if err != nil {
		return fmt.Errorf("failed to prepare workspace: %w", err)
	}
	r.workspace = ws
	if r.cfg.Workspace.StaleAfterMS > 0 {
		removed, err := ws.SweepStale(time.Duration(r.cfg.Workspace.StaleAfterMS) * time.Millisecond)
		if err != nil {
			r.logger.Warn("stale artifact sweep failed", slog.String("error", err.Error()))
		} else if removed > 0 {
			r.logger.Info("removed stale artifacts", slog.Int("count", removed), slog.String("dir", ws.Dir()))
		}
	}

	synthesizer := r.buildSynthesizer()
	concatenator, err := r.buildConcatenator(ctx)
	if err != nil {
		return err
	}

	r.coordinator = pipeline.NewCoordinator(r.cfg.Provider, synthesizer, concatenator, ws, r.logger, opts...)

	if r.cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(r.coordinator, httpapi.Options{
		AllowedOrigins: r.cfg.HTTP.AllowedOrigins,
		RequestTimeout: time.Duration(r.cfg.HTTP.RequestTimeoutMS) * time.Millisecond,
		MaxBodyBytes:   int64(r.cfg.HTTP.MaxBodyBytes),
		MaxChunks:      r.cfg.HTTP.MaxChunks,
		Metrics:        metricsHandler,
		Checks:         r.readinessChecks(),
	}, r.logger)
	r.handler = otelhttp.NewHandler(router, "ttsproxy")

	r.initialized = true
	r.ready.Store(true)
	return nil
}

func (r *Runtime) connectBus(ctx context.Context) (*bus.Client, error) {
	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		embedded, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to start embedded NATS: %w", err)
		}
		r.embedded = embedded
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	r.busClient = client
	return client, nil
}

func (r *Runtime) buildSynthesizer() synth.Synthesizer {
	if r.cfg.Provider.Mode == "mock" {
		r.logger.Warn("using mock speech provider")
		return synth.NewMockSynthesizer()
	}
	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	return synth.NewGoogleSynthesizer(r.cfg.Provider.APIKey,
		synth.WithGoogleEndpoint(r.cfg.Provider.Endpoint),
		synth.WithGoogleClient(client),
	)
}

func (r *Runtime) buildConcatenator(ctx context.Context) (concat.Concatenator, error) {
	if r.cfg.Concat.Mode == "memory" {
		r.logger.Warn("using in-memory concatenation; output is a byte-level join of the clips")
		r.concatAvailable.Store(true)
		return concat.NewMemoryConcatenator(), nil
	}
	concatenator, err := concat.NewExecConcatenator(r.cfg.Concat.Command, time.Duration(r.cfg.Concat.TimeoutMS)*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to configure concatenation tool: %w", err)
	}
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := concat.Probe(probeCtx, r.cfg.Concat.Command); err != nil {
		// Single-text synthesis still works without the tool.
		r.logger.Warn("concatenation tool unavailable", slog.String("command", r.cfg.Concat.Command), slog.String("error", err.Error()))
	} else {
		r.concatAvailable.Store(true)
	}
	return concatenator, nil
}

func (r *Runtime) readinessChecks() map[string]httpapi.Check {
	checks := map[string]httpapi.Check{
		"runtime": func(context.Context) error {
			if !r.ready.Load() {
				return errors.New("not ready")
			}
			return nil
		},
		"eventstore": r.store.Ping,
		"workspace": func(context.Context) error {
			return r.workspace.Ensure()
		},
		"concat": func(context.Context) error {
			if !r.concatAvailable.Load() {
				return errors.New("concatenation tool not available")
			}
			return nil
		},
	}
	if r.busClient != nil {
		checks["bus"] = func(context.Context) error {
			if !r.busClient.Healthy() {
				return errors.New("NATS connection not established")
			}
			return nil
		}
	}
	return checks
}

// Handler returns the instrumented HTTP handler. Init must have succeeded.
func (r *Runtime) Handler() http.Handler {
	return r.handler
}

// Start initializes the runtime if needed and serves HTTP until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.Init(ctx); err != nil {
		r.Close(context.Background())
		return err
	}

	addr := net.JoinHostPort(r.cfg.HTTP.Bind, strconv.Itoa(r.cfg.HTTP.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		r.Close(context.Background())
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	r.httpServer = &http.Server{
		Handler:           r.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.logger.Info("runtime started",
		slog.String("addr", listener.Addr().String()),
		slog.String("provider", r.cfg.Provider.Mode),
		slog.String("concat", r.cfg.Concat.Mode),
		slog.String("workspace", r.workspace.Dir()),
		slog.Bool("audit_persistent", r.store.Persistent()),
		slog.Bool("outcomes_persistent", r.busClient.Persistent()))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.Close(shutdownCtx)
	return nil
}

// Close releases everything Init acquired. In-flight requests must have drained.
func (r *Runtime) Close(ctx context.Context) {
	r.ready.Store(false)
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	if r.busClient != nil {
		r.busClient.Close()
	}
	r.embedded.Shutdown()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
	if r.telemetryClose != nil {
		if err := r.telemetryClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

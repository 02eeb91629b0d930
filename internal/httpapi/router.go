// Package httpapi exposes the synthesis pipeline over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/loqalabs/loqa-tts-proxy/internal/pipeline"
)

const banner = "TTS proxy server is running"

// Pipeline is the part of the coordinator the handlers depend on.
type Pipeline interface {
	Synthesize(ctx context.Context, req pipeline.SingleRequest) ([]byte, error)
	SynthesizeConcatenated(ctx context.Context, req pipeline.ConcatRequest) ([]byte, error)
}

// Check reports whether a dependency is ready to serve traffic.
type Check func(ctx context.Context) error

type Options struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	// MaxBodyBytes caps synthesis request bodies; zero disables the cap.
	MaxBodyBytes int64
	MaxChunks    int
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Checks  map[string]Check
}

type handler struct {
	pipeline Pipeline
	opts     Options
	logger   *slog.Logger
}

// NewRouter wires routes, CORS and request logging onto a fresh gin engine.
func NewRouter(p Pipeline, opts Options, logger *slog.Logger) *gin.Engine {
	h := &handler{
		pipeline: p,
		opts:     opts,
		logger:   logger.With(slog.String("component", "httpapi")),
	}

	r := gin.New()
	r.Use(gin.Recovery(), h.logRequests(), cors.New(corsConfig(opts.AllowedOrigins, h.logger)))

	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, banner) })
	r.GET("/healthz", h.healthz)
	r.GET("/readyz", h.readyz)
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	r.POST("/synthesize", h.limitBody(), h.synthesize)
	r.POST("/synthesize/concat", h.limitBody(), h.synthesizeConcat)
	return r
}

// corsConfig allows requests without an Origin header, the literal "null" origin sent by
// file:// pages, and any origin starting with an allowed prefix. Everything else is refused
// with 403 by the middleware.
func corsConfig(allowed []string, logger *slog.Logger) cors.Config {
	return cors.Config{
		AllowOriginFunc: func(origin string) bool {
			if OriginAllowed(origin, allowed) {
				return true
			}
			logger.Warn("origin not allowed", slog.String("origin", origin))
			return false
		},
		AllowMethods: []string{http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}
}

// OriginAllowed applies the prefix allow-list.
func OriginAllowed(origin string, allowed []string) bool {
	if origin == "" || origin == "null" {
		return true
	}
	for _, prefix := range allowed {
		if prefix != "" && strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

func (h *handler) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Info("request handled",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}

func (h *handler) limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.opts.MaxBodyBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxBodyBytes)
		}
		c.Next()
	}
}

func (h *handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failing := gin.H{}
	for name, check := range h.opts.Checks {
		if err := check(ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failing": failing})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

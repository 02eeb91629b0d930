package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loqalabs/loqa-tts-proxy/internal/pipeline"
	"github.com/loqalabs/loqa-tts-proxy/internal/synth"
)

type synthesizeRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
}

type concatRequest struct {
	Chunks []string `json:"chunks"`
	Voice  string   `json:"voice"`
	Speed  float64  `json:"speed"`
}

type audioResponse struct {
	AudioContent string `json:"audioContent"`
}

func (h *handler) synthesize(c *gin.Context) {
	var req synthesizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.rejectBody(c, err, "request body must be a JSON object with a text field")
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	audio, err := h.pipeline.Synthesize(ctx, pipeline.SingleRequest{
		Text:         req.Text,
		Voice:        req.Voice,
		SpeakingRate: req.Speed,
	})
	h.respond(c, audio, err)
}

func (h *handler) synthesizeConcat(c *gin.Context) {
	var req concatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.rejectBody(c, err, "request body must be a JSON object with a chunks list of strings")
		return
	}
	if h.opts.MaxChunks > 0 && len(req.Chunks) > h.opts.MaxChunks {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("too many chunks: %d, at most %d allowed", len(req.Chunks), h.opts.MaxChunks)})
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	audio, err := h.pipeline.SynthesizeConcatenated(ctx, pipeline.ConcatRequest{
		Chunks:       req.Chunks,
		Voice:        req.Voice,
		SpeakingRate: req.Speed,
	})
	h.respond(c, audio, err)
}

func (h *handler) rejectBody(c *gin.Context, err error, message string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.logger.Warn("request body too large", slog.Int64("limit", tooLarge.Limit))
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}

func (h *handler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.opts.RequestTimeout > 0 {
		return context.WithTimeout(c.Request.Context(), h.opts.RequestTimeout)
	}
	return context.WithCancel(c.Request.Context())
}

func (h *handler) respond(c *gin.Context, audio []byte, err error) {
	if err != nil {
		status, message := errorResponse(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("synthesis request failed", slog.Int("status", status), slog.String("error", err.Error()))
		}
		c.JSON(status, gin.H{"error": message})
		return
	}
	c.JSON(http.StatusOK, audioResponse{AudioContent: base64.StdEncoding.EncodeToString(audio)})
}

// errorResponse maps a pipeline failure to its status code and caller-facing message.
// Tool diagnostics and internal paths stay in the logs.
func errorResponse(err error) (int, string) {
	switch pipeline.Classify(err) {
	case pipeline.CategoryInvalidRequest:
		return http.StatusBadRequest, err.Error()
	case pipeline.CategoryProviderRejected:
		return http.StatusBadRequest, providerMessage(err)
	case pipeline.CategoryProviderError:
		var perr *synth.ProviderError
		if errors.As(err, &perr) {
			return http.StatusInternalServerError, providerMessage(err)
		}
		return http.StatusInternalServerError, "invalid response from the speech provider"
	case pipeline.CategoryProviderUnreachable:
		return http.StatusGatewayTimeout, "could not reach the speech provider"
	case pipeline.CategoryConcatFailed:
		return http.StatusInternalServerError, "failed to merge the synthesized audio"
	default:
		return http.StatusInternalServerError, "internal error while processing the audio request"
	}
}

func providerMessage(err error) string {
	var perr *synth.ProviderError
	if !errors.As(err, &perr) {
		return "speech provider error"
	}
	detail := perr.Message
	if detail == "" {
		detail = "no detail available"
	}
	return fmt.Sprintf("speech provider error (%d): %s", perr.StatusCode, detail)
}

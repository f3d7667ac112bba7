package server

import (
	"context"
	"fmt"
	"net/http"

	"age-classifier/src/config"
	"age-classifier/src/labels"
	"age-classifier/src/prompts"
	"age-classifier/src/records"
	"age-classifier/src/upstream"

	"github.com/rs/zerolog"
)

const defaultModel = "qwen-vl"

type handlerFunc func(ctx appContext, w http.ResponseWriter, r *http.Request) (int, error)

// appHandler adapts a handlerFunc to http.Handler and writes the error body
// for any non-nil error.
type appHandler struct {
	ctx appContext
	fn  handlerFunc
}

func (h appHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	code, err := h.fn(h.ctx, w, r)
	if err != nil {
		if code < http.StatusBadRequest {
			code = http.StatusInternalServerError
		}
		writeError(zerolog.Ctx(r.Context()), code, err.Error(), w)
	}
}

func handleHealth(ctx appContext, w http.ResponseWriter, r *http.Request) (int, error) {
	writeJSON(w, http.StatusOK, HealthRes{
		Status:   "healthy",
		Service:  config.ServiceName,
		Database: ctx.pool.State().String(),
	})
	return http.StatusOK, nil
}

// handleQueue reports the work queues. Requests are served synchronously so
// both are always empty.
func handleQueue(ctx appContext, w http.ResponseWriter, r *http.Request) (int, error) {
	writeJSON(w, http.StatusOK, QueueRes{Pending: []string{}, Running: []string{}})
	return http.StatusOK, nil
}

func handleClassifyAge(ctx appContext, w http.ResponseWriter, r *http.Request) (int, error) {
	logger := zerolog.Ctx(r.Context())

	var req ImageReq
	if code, err := decodeBody(ctx, r, &req); err != nil {
		return code, err
	}

	content, err := ctx.chat.RunWithImage(r.Context(), req.ImageURL, prompts.AgeClassification, prompts.ImageQuestion)
	if err != nil {
		logger.Error().Err(err).Str("image_url", req.ImageURL).Msg("chat classification failed")
		return http.StatusInternalServerError, fmt.Errorf("error while processing request: %w", err)
	}

	label := labels.Normalize(content)
	ctx.metrics.IncLabel("classify-age", string(label))
	logger.Info().Str("image_url", req.ImageURL).Str("label", string(label)).Msg("image classified")

	writeJSON(w, http.StatusOK, AgeClassificationRes{
		Result: string(label),
		RawResponse: RawResponse{
			Content:        content,
			CleanedContent: string(label),
		},
	})
	return http.StatusOK, nil
}

// handleQwenVL forwards the image to a model endpoint. Upstream failures are
// reported in the body with a 200 status, and every attempt is persisted.
func handleQwenVL(ctx appContext, w http.ResponseWriter, r *http.Request) (int, error) {
	var req QwenVLReq
	if code, err := decodeBody(ctx, r, &req); err != nil {
		return code, err
	}

	outcome := ctx.classifier.Classify(r.Context(), req.ImageURL, prompts.AgeClassification, req.RequestInfo)
	res := qwenVLResponse(outcome)

	if label, ok := outcome.Label(); ok {
		ctx.metrics.IncLabel("qwen-vl", string(label))
	}

	// The insert outlives a client disconnect.
	ctx.recorder.Record(context.WithoutCancel(r.Context()), records.Entry{
		RequestInfo: req.RequestInfo,
		Models:      []string{modelName(req.RequestInfo)},
		ImageURL:    req.ImageURL,
		Status:      string(outcome.Status()),
		Result:      res,
	})

	writeJSON(w, http.StatusOK, res)
	return http.StatusOK, nil
}

func qwenVLResponse(o upstream.Outcome) QwenVLRes {
	label, ok := o.Label()
	if !ok {
		return QwenVLRes{Status: string(o.Status()), ErrMessage: o.Err()}
	}
	return QwenVLRes{
		Status:      string(o.Status()),
		Result:      label.Lower(),
		RawResponse: o.Raw(),
	}
}

func modelName(info map[string]interface{}) string {
	if m, ok := info["model"].(string); ok && m != "" {
		return m
	}
	return defaultModel
}

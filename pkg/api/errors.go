package api

import (
	"context"
	"errors"
	"net/http"

	"parkinson-voice/pkg/artifact"
	"parkinson-voice/pkg/audio"
	"parkinson-voice/pkg/features"
	"parkinson-voice/pkg/pipeline"
	"parkinson-voice/pkg/scoring"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

// classify maps an inference error to an HTTP status and a stable kind
// clients can branch on.
func classify(err error) (int, string) {
	var aerr *artifact.Error
	switch {
	case errors.Is(err, features.ErrInsufficientAudio):
		return http.StatusUnprocessableEntity, "insufficient_audio"
	case errors.Is(err, audio.ErrDecode):
		return http.StatusUnprocessableEntity, "invalid_audio"
	case errors.Is(err, features.ErrExtraction):
		return http.StatusUnprocessableEntity, "extraction_failed"
	case errors.Is(err, scoring.ErrFeatureShapeMismatch):
		return http.StatusInternalServerError, "feature_shape_mismatch"
	case errors.As(err, &aerr):
		if aerr.Retryable() {
			return http.StatusServiceUnavailable, "artifact_unavailable"
		}
		return http.StatusInternalServerError, "artifact_unavailable"
	case errors.Is(err, pipeline.ErrQueueFull), errors.Is(err, pipeline.ErrShuttingDown):
		return http.StatusServiceUnavailable, "busy"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		// The client went away; nobody reads this.
		return 499, "canceled"
	}
	return http.StatusInternalServerError, "internal"
}

func writeInferenceError(w http.ResponseWriter, err error) {
	code, kind := classify(err)
	writeJSON(w, code, errorResponse{Error: err.Error(), Kind: kind})
}

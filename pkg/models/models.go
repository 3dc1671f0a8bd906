package models

import (
	"time"

	"github.com/google/uuid"
)

// Label is the discrete outcome of a fused prediction.
type Label string

const (
	LabelHealthy   Label = "Healthy"
	LabelParkinson Label = "Parkinson"
)

// Covariates are optional demographic inputs to the fusion meta-model.
type Covariates struct {
	Age *float64 `json:"age,omitempty" msgpack:"age,omitempty"`
	Sex string   `json:"sex,omitempty" msgpack:"sex,omitempty"`
}

// Request is a single inference request. The core only reads Path and
// Covariates; the identifiers travel with the request for the caller.
type Request struct {
	ID         string      `json:"id"`
	UserID     string      `json:"user_id"`
	SessionID  string      `json:"session_id"`
	Path       string      `json:"path"`
	Covariates *Covariates `json:"covariates,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

func NewRequest(userID, sessionID, path string, cov *Covariates) *Request {
	return &Request{
		ID:         uuid.New().String(),
		UserID:     userID,
		SessionID:  sessionID,
		Path:       path,
		Covariates: cov,
		Timestamp:  time.Now(),
	}
}

// FeatureVector is an ordered, fixed-length sequence of named features.
// Values must not be modified after extraction.
type FeatureVector struct {
	Version string
	Names   []string
	Values  []float64
}

func (v FeatureVector) Len() int { return len(v.Values) }

// ScoreSet holds the per-request outputs of the scoring stages. It is
// owned by the request that produced it and never persisted.
type ScoreSet struct {
	PAudio  float64
	PBridge float64
	Reduced []float64
}

// FusionResult is the output contract of the inference core. JSON field
// names are indexed by downstream consumers and must not change.
type FusionResult struct {
	Label       Label     `json:"label" msgpack:"label"`
	PAudio      float64   `json:"audio_full_proba" msgpack:"audio_full_proba"`
	PBridge     float64   `json:"pca22_proba" msgpack:"pca22_proba"`
	PFusion     float64   `json:"fusion_proba" msgpack:"fusion_proba"`
	PCAFeatures []float64 `json:"pca_features" msgpack:"pca_features"`
	Summary     string    `json:"ai_summary" msgpack:"ai_summary"`
}

// Record is a persisted FusionResult together with the request it answered.
type Record struct {
	ID        string       `json:"id" msgpack:"id"`
	UserID    string       `json:"user_id" msgpack:"user_id"`
	SessionID string       `json:"session_id" msgpack:"session_id"`
	AudioPath string       `json:"audio_path,omitempty" msgpack:"audio_path,omitempty"`
	Result    FusionResult `json:"result" msgpack:"result"`
	CreatedAt time.Time    `json:"created_at" msgpack:"created_at"`
}

func NewRecord(req *Request, res *FusionResult) *Record {
	return &Record{
		ID:        req.ID,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		AudioPath: req.Path,
		Result:    *res,
		CreatedAt: time.Now().UTC(),
	}
}

// Status is the lifecycle state of a request.
type Status string

const (
	StatusReceived         Status = "received"
	StatusFeatureExtracted Status = "feature_extracted"
	StatusScoredAudio      Status = "scored_audio"
	StatusScoredBridge     Status = "scored_bridge"
	StatusFused            Status = "fused"
	StatusSanitized        Status = "sanitized"
	StatusReturned         Status = "returned"
	StatusFailed           Status = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s Status) Terminal() bool {
	return s == StatusReturned || s == StatusFailed
}

// RequestStatus is the tracked state of a request in flight.
type RequestStatus struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	SessionID string        `json:"session_id"`
	Status    Status        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Result    *FusionResult `json:"result,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

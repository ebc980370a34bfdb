package http

import (
	"github.com/fyrsmithlabs/patternd/internal/lifecycle"
	"github.com/fyrsmithlabs/patternd/internal/telemetry"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Error     string                  `json:"error,omitempty"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

// PatternsResponse is the response body for GET /api/v1/patterns.
type PatternsResponse struct {
	Patterns []lifecycle.DiscoveredPattern `json:"patterns"`
	Count    int                           `json:"count"`
}

// FeedbackCandidatesResponse is the response body for
// GET /api/v1/patterns/needing-feedback.
type FeedbackCandidatesResponse struct {
	Patterns []lifecycle.PatternSummary `json:"patterns"`
}

// FeedbackRequest is the request body for POST /api/v1/patterns/:id/feedback.
type FeedbackRequest struct {
	Helpful *bool  `json:"helpful"`
	Comment string `json:"comment,omitempty"`
}

// SurfaceRequest is the request body for POST /api/v1/patterns/surface.
// Now is RFC3339 and defaults to the server clock.
type SurfaceRequest struct {
	Message string `json:"message"`
	Now     string `json:"now,omitempty"`
}

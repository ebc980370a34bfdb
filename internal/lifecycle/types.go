// Package lifecycle persists discovered patterns and keeps their confidence
// current.
//
// A pattern is created active, only after passing the significance and
// minimum-occurrence gates. Evidence (replayed from fresh events, or
// submitted as user feedback) nudges its confidence up or down. Once
// confidence falls below ArchiveThreshold the pattern is archived, and that
// transition is never reversed: rediscovery creates a new pattern.
package lifecycle

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/patternd/internal/detection"
)

// Status is the lifecycle state of a pattern.
type Status string

const (
	// StatusActive patterns are listed and surfaced.
	StatusActive Status = "active"
	// StatusArchived patterns fell below the archive threshold. They are
	// only returned when explicitly requested.
	StatusArchived Status = "archived"
)

// EvidenceType is the direction of a piece of evidence.
type EvidenceType string

const (
	EvidencePositive EvidenceType = "positive"
	EvidenceNegative EvidenceType = "negative"
)

// EvidenceSource records where evidence came from.
type EvidenceSource string

const (
	SourceReplay   EvidenceSource = "replay"
	SourceFeedback EvidenceSource = "feedback"
)

// Evidence is a single confirm or disconfirm observation. It is consumed
// once by UpdateConfidence; only the aggregate counts are kept afterwards.
type Evidence struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EvidenceType   `json:"evidence_type"`
	Source    EvidenceSource `json:"source"`
	Context   string         `json:"context"`
}

// Validate checks the evidence fields.
func (e Evidence) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: empty ID", ErrInvalidEvidence)
	}
	if e.Type != EvidencePositive && e.Type != EvidenceNegative {
		return fmt.Errorf("%w: type %q", ErrInvalidEvidence, e.Type)
	}
	return nil
}

// EvidenceSummary counts the evidence applied to a pattern.
type EvidenceSummary struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
}

// PatternMetadata is bookkeeping attached to a pattern.
type PatternMetadata struct {
	LastSurfacedAt       *time.Time     `json:"last_surfaced_at,omitempty"`
	SurfaceCount         int            `json:"surface_count"`
	LastEvaluatedAt      *time.Time     `json:"last_evaluated_at,omitempty"`
	FeedbackCount        int            `json:"feedback_count"`
	HelpfulCount         int            `json:"helpful_count"`
	AdjustedFromFeedback bool           `json:"confidence_adjusted_from_feedback"`
	Extra                map[string]any `json:"extra,omitempty"`
}

// DiscoveredPattern is a persisted, lifecycle-managed pattern.
type DiscoveredPattern struct {
	ID                string                `json:"id"`
	UserID            string                `json:"user_id"`
	Type              detection.PatternType `json:"pattern_type"`
	Rule              detection.Rule        `json:"pattern_rule"`
	RuleKey           string                `json:"rule_key"`
	Confidence        float64               `json:"confidence"`
	Occurrences       int                   `json:"occurrences"`
	PValue            float64               `json:"p_value"`
	EffectSize        *float64              `json:"effect_size,omitempty"`
	ImpactScore       float64               `json:"impact_score"`
	ActionableInsight string                `json:"actionable_insight"`
	Status            Status                `json:"status"`
	EvidenceSummary   EvidenceSummary       `json:"evidence_summary"`
	Metadata          PatternMetadata       `json:"metadata"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

// NewDiscoveredPattern builds an active pattern from a candidate. The
// candidate's confidence is capped at MaxInitialConfidence.
func NewDiscoveredPattern(userID string, c detection.Candidate, impact float64, insight string, now time.Time) *DiscoveredPattern {
	return &DiscoveredPattern{
		ID:                uuid.New().String(),
		UserID:            userID,
		Type:              c.Type,
		Rule:              c.Rule,
		RuleKey:           c.Rule.Key(),
		Confidence:        math.Min(c.Confidence, MaxInitialConfidence),
		Occurrences:       c.Occurrences,
		PValue:            c.PValue,
		EffectSize:        c.EffectSize,
		ImpactScore:       impact,
		ActionableInsight: insight,
		Status:            StatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Active reports whether the pattern is active.
func (p *DiscoveredPattern) Active() bool {
	return p.Status == StatusActive
}

// Clone returns a copy that shares no mutable state with p.
func (p *DiscoveredPattern) Clone() *DiscoveredPattern {
	cp := *p
	if p.EffectSize != nil {
		v := *p.EffectSize
		cp.EffectSize = &v
	}
	if p.Metadata.LastSurfacedAt != nil {
		v := *p.Metadata.LastSurfacedAt
		cp.Metadata.LastSurfacedAt = &v
	}
	if p.Metadata.LastEvaluatedAt != nil {
		v := *p.Metadata.LastEvaluatedAt
		cp.Metadata.LastEvaluatedAt = &v
	}
	if p.Metadata.Extra != nil {
		cp.Metadata.Extra = make(map[string]any, len(p.Metadata.Extra))
		for k, v := range p.Metadata.Extra {
			cp.Metadata.Extra[k] = v
		}
	}
	return &cp
}

// PatternSummary is the compact view returned for feedback prompts.
type PatternSummary struct {
	ID                string                `json:"id"`
	Type              detection.PatternType `json:"pattern_type"`
	ActionableInsight string                `json:"actionable_insight"`
	Confidence        float64               `json:"confidence"`
	ImpactScore       float64               `json:"impact_score"`
	FeedbackCount     int                   `json:"feedback_count"`
}

// Summary returns the compact view of p.
func (p *DiscoveredPattern) Summary() PatternSummary {
	return PatternSummary{
		ID:                p.ID,
		Type:              p.Type,
		ActionableInsight: p.ActionableInsight,
		Confidence:        p.Confidence,
		ImpactScore:       p.ImpactScore,
		FeedbackCount:     p.Metadata.FeedbackCount,
	}
}

// ConfidenceUpdate reports the outcome of applying evidence.
type ConfidenceUpdate struct {
	PatternID       string          `json:"pattern_id"`
	OldConfidence   float64         `json:"old_confidence"`
	NewConfidence   float64         `json:"new_confidence"`
	EvidenceSummary EvidenceSummary `json:"evidence_summary"`
	Applied         int             `json:"applied"`
	Archived        bool            `json:"archived"`
}

// FeedbackResult is returned by SubmitFeedback.
type FeedbackResult struct {
	PatternID            string  `json:"pattern_id"`
	NewConfidence        float64 `json:"new_confidence"`
	Status               Status  `json:"status"`
	AdjustedFromFeedback bool    `json:"confidence_adjusted_from_feedback"`
}

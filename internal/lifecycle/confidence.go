package lifecycle

import "math"

const (
	// ArchiveThreshold is the confidence below which a pattern is archived.
	ArchiveThreshold = 0.50

	// PositiveStep is the share of the remaining headroom gained per
	// confirmation.
	PositiveStep = 0.10

	// NegativeStep is the share of current confidence lost per
	// disconfirmation.
	NegativeStep = 0.15

	// MaxInitialConfidence caps a new pattern's confidence so positive
	// evidence can always raise it.
	MaxInitialConfidence = 0.99

	// FeedbackTransparencyThreshold is the feedback count after which a
	// pattern is flagged as adjusted from feedback.
	FeedbackTransparencyThreshold = 5
)

// AdjustConfidence applies one piece of evidence.
//
// Positive evidence moves confidence toward 1 with diminishing returns and
// never reaches it. A stored confidence of 1 is treated as
// MaxInitialConfidence. Negative evidence removes a fixed share: three
// disconfirmations take a 0.70 pattern below the archive threshold, while a
// confirmation lifts it by 0.03.
func AdjustConfidence(confidence float64, positive bool) float64 {
	if confidence < 0 {
		confidence = 0
	}
	if confidence >= 1 {
		confidence = MaxInitialConfidence
	}
	if positive {
		return math.Min(confidence+PositiveStep*(1-confidence), math.Nextafter(1, 0))
	}
	return confidence - NegativeStep*confidence
}

// apply folds evidence into p, archiving it when confidence drops below the
// threshold. It reports whether this call archived the pattern.
func apply(p *DiscoveredPattern, evidence []Evidence) bool {
	archived := false
	for _, e := range evidence {
		positive := e.Type == EvidencePositive
		p.Confidence = AdjustConfidence(p.Confidence, positive)
		if positive {
			p.EvidenceSummary.Positive++
		} else {
			p.EvidenceSummary.Negative++
		}
		if p.Status == StatusActive && p.Confidence < ArchiveThreshold {
			p.Status = StatusArchived
			archived = true
		}
	}
	return archived
}

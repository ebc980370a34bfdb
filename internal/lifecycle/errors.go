package lifecycle

import "errors"

var (
	// ErrPatternNotFound indicates the pattern does not exist or belongs to
	// another user.
	ErrPatternNotFound = errors.New("pattern not found")

	// ErrEmptyUserID indicates a missing user ID.
	ErrEmptyUserID = errors.New("user ID cannot be empty")

	// ErrEmptyPatternID indicates a missing pattern ID.
	ErrEmptyPatternID = errors.New("pattern ID cannot be empty")

	// ErrInvalidCandidate indicates a malformed candidate or impact score.
	ErrInvalidCandidate = errors.New("invalid pattern candidate")

	// ErrInsignificant indicates a candidate with p >= 0.05.
	ErrInsignificant = errors.New("candidate is not statistically significant")

	// ErrBelowMinimumOccurrences indicates too few occurrences for the type.
	ErrBelowMinimumOccurrences = errors.New("candidate is below the minimum occurrences")

	// ErrInvalidEvidence indicates malformed evidence.
	ErrInvalidEvidence = errors.New("invalid evidence")
)

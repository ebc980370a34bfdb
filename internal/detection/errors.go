package detection

import "errors"

var (
	// ErrUnknownPatternType indicates an unsupported pattern type.
	ErrUnknownPatternType = errors.New("unknown pattern type")
	// ErrRuleMismatch indicates the rule does not describe the pattern type.
	ErrRuleMismatch = errors.New("pattern rule does not match pattern type")
	// ErrOutOfRange indicates a numeric field outside its domain.
	ErrOutOfRange = errors.New("value out of range")
	// ErrInvalidConfig indicates detector parameters that cannot be used.
	ErrInvalidConfig = errors.New("invalid detector configuration")
)

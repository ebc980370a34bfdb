package sanitize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidUserID indicates a user ID with a disallowed format.
var ErrInvalidUserID = errors.New("invalid user ID format")

// MaxUserIDLength bounds user IDs.
const MaxUserIDLength = 128

// userIDPattern allows the characters common in account IDs, emails and
// UUIDs.
var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.@:+-]*$`)

// ValidateUserID checks that id is non-empty, at most MaxUserIDLength
// bytes and free of path and wildcard characters.
func ValidateUserID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(id) > MaxUserIDLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidUserID, MaxUserIDLength)
	}
	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: contains path characters", ErrInvalidUserID)
	}
	if !userIDPattern.MatchString(id) {
		return fmt.Errorf("%w: must start with a letter or digit and contain only letters, digits and _ . @ : + -", ErrInvalidUserID)
	}
	return nil
}

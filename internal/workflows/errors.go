package workflows

import (
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/patternd/internal/mining"
)

// unknownUserErrorType marks activity failures that no retry can fix.
const unknownUserErrorType = "UnknownUser"

// ErrNoUsers is returned when a backfill names no users.
var ErrNoUsers = errors.New("backfill requires at least one user")

// classifyCycleError turns a mining failure into an activity error. Unknown
// users fail permanently; everything else is retried by the policy.
func classifyCycleError(userID string, err error) error {
	if errors.Is(err, mining.ErrUnknownUser) {
		return temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("user %s: %v", userID, err), unknownUserErrorType, err)
	}
	return fmt.Errorf("run mining cycle for %s: %w", userID, err)
}

// userFailure renders an activity failure for a UserResult. Temporal wraps
// activity errors in several layers; the application message is the useful
// part.
func userFailure(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	return err.Error()
}

package subscription

import (
	"errors"
	"fmt"

	"github.com/brandforge/metering/pkg/types"
)

var (
	// ErrNoSubscription means the user has no billing record; the caller
	// should direct the user to plan selection.
	ErrNoSubscription = errors.New("no subscription for user")
	// ErrSubscriptionCanceled guards the terminal state: no transition
	// leaves canceled.
	ErrSubscriptionCanceled = errors.New("subscription is canceled")
	// ErrInvalidBuildType rejects build types outside the known set.
	ErrInvalidBuildType = errors.New("invalid build type")
)

// BuildNotAllowedError is returned when a record call is denied by the
// quota check. It carries the denial decision so callers can surface
// reason/used/limit to the user.
type BuildNotAllowedError struct {
	Decision *types.Decision
}

func (e *BuildNotAllowedError) Error() string {
	if e.Decision != nil && e.Decision.Reason != "" {
		return fmt.Sprintf("build not allowed: %s", e.Decision.Reason)
	}
	return "build not allowed"
}

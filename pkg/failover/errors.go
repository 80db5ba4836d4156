package failover

import (
	"errors"
	"fmt"
)

// Common failover errors that can be checked with errors.Is().
var (
	// ErrNoSwitchPossible is returned when the group has fewer than two
	// available backends.
	ErrNoSwitchPossible = errors.New("no switch possible")

	// ErrAutoSwitchDisabled is returned when failover is requested for a group
	// whose auto-switch flag is off.
	ErrAutoSwitchDisabled = errors.New("auto-switch disabled for group")

	// ErrAlreadySwitched is returned when the active backend changed under
	// the caller: a concurrent failure or manual switch already moved traffic.
	ErrAlreadySwitched = errors.New("active backend already switched")

	// ErrAlreadyActive is returned by a manual switch to the backend that is
	// already active.
	ErrAlreadyActive = errors.New("backend is already active")

	// ErrCrossGroup is returned when a switch would leave the group.
	ErrCrossGroup = errors.New("cross-group switch not allowed")
)

// ValidationError is returned when a source or target backend does not belong
// to the group the switch was requested for. Nothing is written when it is
// returned.
type ValidationError struct {
	// Role is "source" or "target".
	Role string

	// BackendID is the offending backend.
	BackendID int64

	// BackendGroupID is the group the backend actually belongs to.
	BackendGroupID int64

	// GroupID is the group the switch was requested for.
	GroupID int64
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s backend %d belongs to group %d, not group %d",
		e.Role, e.BackendID, e.BackendGroupID, e.GroupID)
}

// Is implements error matching for errors.Is().
func (e *ValidationError) Is(target error) bool {
	return target == ErrCrossGroup
}

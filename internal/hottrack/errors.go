package hottrack

import "errors"

var (
	// ErrResourceExhausted is returned when an item cannot be created, either
	// because a configured item limit is reached or a root cannot be built.
	ErrResourceExhausted = errors.New("hottrack: resource exhausted")

	// ErrDuplicateName is returned when registering a policy under a name
	// that is already taken.
	ErrDuplicateName = errors.New("hottrack: duplicate policy name")

	// ErrInvariantViolation marks internal consistency failures such as a
	// double free or a missing index entry. It always indicates a bug.
	ErrInvariantViolation = errors.New("hottrack: invariant violation")

	ErrInvalidOption = errors.New("hottrack: invalid option")
)

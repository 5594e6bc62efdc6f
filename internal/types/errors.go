package types

import "errors"

// Outcome classes. Every admission or lifecycle failure wraps exactly one of
// these so callers can branch with errors.Is.
var (
	// ErrFormal indicates a malformed or self-conflicting rule. Never stored.
	ErrFormal = errors.New("formal validation failed")

	// ErrContext indicates the environment rejected the rule. Stored as PENDING.
	ErrContext = errors.New("context validation failed")

	// ErrConflict indicates an equal or higher priority rule holds. Stored as PENDING.
	ErrConflict = errors.New("conflict validation failed")

	// ErrDuplicate indicates an identical rule is already held.
	ErrDuplicate = errors.New("duplicated policy")

	// ErrNotFound indicates an unknown id or an id not in the required state.
	ErrNotFound = errors.New("policy not found")

	// ErrEmptyInput indicates a push without rules.
	ErrEmptyInput = errors.New("there is no new policy")
)

// Detail errors, wrapped together with ErrFormal.
var (
	// ErrSelfConflictingConditions indicates one clause constrains a variable to two values.
	ErrSelfConflictingConditions = errors.New("policy has self-conflicting conditions")

	// ErrSelfConflictingActions indicates two actions set a variable to different values.
	ErrSelfConflictingActions = errors.New("policy has self-conflicting actions")

	// ErrTypeNotRegistered indicates the rule's type is not in the registry.
	ErrTypeNotRegistered = errors.New("policy type not registered")

	// ErrInvalidRule indicates missing type, conditions, actions or an empty clause.
	ErrInvalidRule = errors.New("invalid policy")

	// ErrInvalidPriority indicates a priority below MinPriority.
	ErrInvalidPriority = errors.New("priority must be higher than 0")

	// ErrInvalidForm indicates a form other than CNF or DNF.
	ErrInvalidForm = errors.New("form must be CNF or DNF")
)

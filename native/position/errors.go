package position

import "errors"

var (
	// ErrAlreadyActivated indicates a second activation of the same position.
	ErrAlreadyActivated = errors.New("position: already activated")
	// ErrNotActivated indicates the position does not exist or was never activated.
	ErrNotActivated = errors.New("position: not activated")
	// ErrAlreadyReleasing indicates an accrual against a position whose
	// release latch has flipped.
	ErrAlreadyReleasing = errors.New("position: already releasing")
	// ErrInvalidCap indicates a non-positive USD value cap.
	ErrInvalidCap = errors.New("position: value cap must be positive")
	// ErrInvalidAmount indicates a non-positive allocation amount.
	ErrInvalidAmount = errors.New("position: amount must be positive")
	// ErrInvalidKind indicates an unknown allocation kind.
	ErrInvalidKind = errors.New("position: unknown allocation kind")

	errNilState = errors.New("position registry: state not configured")
)

package phase

import "errors"

var (
	// ErrNoActivePhase indicates the active phase index is outside the ladder.
	ErrNoActivePhase = errors.New("phase: no active phase")
	// ErrNoNextPhase indicates the ladder has no phase after the active one.
	ErrNoNextPhase = errors.New("phase: no next phase")
	// ErrInvalidVolume indicates a non-positive sold volume report.
	ErrInvalidVolume = errors.New("phase: sold volume must be positive")

	errNilState = errors.New("phase ladder: state not configured")
)

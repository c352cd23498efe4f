package sale

import "errors"

var (
	// ErrAssetUnknown indicates the payment asset is not registered.
	ErrAssetUnknown = errors.New("sale: payment asset unknown")
	// ErrInvalidAmount indicates a non-positive payment amount.
	ErrInvalidAmount = errors.New("sale: payment amount must be positive")
	// ErrAmountTooSmall indicates the payment truncates to zero minted tokens.
	ErrAmountTooSmall = errors.New("sale: payment below one token unit")
	// ErrPositionReleasing rejects purchases into a position whose release
	// latch has flipped.
	ErrPositionReleasing = errors.New("sale: position already releasing")
	// ErrPaymentFailed indicates the payment asset rejected the pull.
	ErrPaymentFailed = errors.New("sale: payment transfer failed")

	errNilState       = errors.New("sale engine: state not configured")
	errNilLadder      = errors.New("sale engine: price ladder not configured")
	errNilPositions   = errors.New("sale engine: position registry not configured")
	errNilDistributor = errors.New("sale engine: distributor not configured")
)

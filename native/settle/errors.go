package settle

import "errors"

var (
	// ErrBurnPercent indicates a burn percentage outside [MinBurnPercent, MaxBurnPercent].
	ErrBurnPercent = errors.New("settle: burn percent out of range")
	// ErrNotHolder indicates the caller is not the position's recorded holder.
	ErrNotHolder = errors.New("settle: caller is not the position holder")
	// ErrAlreadySettled indicates the position's burn record is already set.
	ErrAlreadySettled = errors.New("settle: position already settled")
	// ErrNotReleasing indicates the position has not crossed its value cap.
	ErrNotReleasing = errors.New("settle: position not releasing")
	// ErrInsufficientBalance indicates the holder no longer has custody of the
	// full allocation. Settlement requires continued custody, not merely
	// historical entitlement.
	ErrInsufficientBalance = errors.New("settle: holder balance below total allocation")
	// ErrSettlementPayoutFailed indicates the stable asset rejected the
	// treasury payout.
	ErrSettlementPayoutFailed = errors.New("settle: stable payout failed")

	errNilState    = errors.New("settle engine: state not configured")
	errNilTreasury = errors.New("settle engine: treasury not configured")
)

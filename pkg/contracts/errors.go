package contracts

import "errors"

// Error taxonomy for the vault core. Packages wrap these sentinels with
// fmt.Errorf("...: %w", ...) so callers branch on kind via errors.Is while
// messages stay specific. Validation failures surface immediately; nothing
// is retried internally, and every error leaves vault state consistent for
// the next call.
var (
	// ErrInvalidInput covers bad amounts, bad epochs and duplicate IDs.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized means the caller fails the authorization predicate.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound means the referenced entry, condition or delegation is absent.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState means the operation is illegal in the current entry
	// lifecycle state or vault mode.
	ErrInvalidState = errors.New("invalid state")

	// ErrNotUnlocked means the entry's unlock predicate has not yet passed.
	ErrNotUnlocked = errors.New("not unlocked")

	// ErrAlreadyUnlocked means an early exit was attempted on an entry that
	// is already withdrawable through the normal path.
	ErrAlreadyUnlocked = errors.New("already unlocked")

	// ErrTransferFailed propagates an external asset-transfer failure. It is
	// never swallowed.
	ErrTransferFailed = errors.New("external transfer failed")

	// ErrEpochNotElapsed means the current epoch's duration has not run out.
	ErrEpochNotElapsed = errors.New("epoch not elapsed")
)

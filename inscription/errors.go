package inscription

import (
	"errors"
	"fmt"
)

// ErrInsufficientFunds is returned by the planner when the available UTXO set
// cannot cover the reveal funding target plus the fees of every chain step.
var ErrInsufficientFunds = errors.New("insufficient funds for inscription chain")

// ErrPayloadTooLarge is returned by the envelope builder when the payload
// exceeds the maximum inscription size.
var ErrPayloadTooLarge = errors.New("payload exceeds maximum inscription size")

// ErrScriptTooLarge is returned before broadcast when the assembled reveal
// script exceeds policy limits.
var ErrScriptTooLarge = errors.New("reveal script exceeds policy size limit")

// ErrUnknownExtension is returned when a file extension has no content type
// mapping. The job fails before any chain work begins.
var ErrUnknownExtension = errors.New("unsupported file extension")

// ErrWalletUnavailable marks a resume attempt that must be deferred because
// the signing wallet cannot be reached. The job stays incomplete.
var ErrWalletUnavailable = errors.New("wallet unavailable, resume deferred")

// SigningError reports a key/input mismatch surfaced by the node while
// signing a chain step.
type SigningError struct {
	TxId   string
	Detail string
}

func (e *SigningError) Error() string {
	if e.TxId != "" {
		return fmt.Sprintf("signing failed for %s: %s", e.TxId, e.Detail)
	}
	return fmt.Sprintf("signing failed: %s", e.Detail)
}

// BroadcastTimeoutError wraps a network-level broadcast failure after the
// idempotency probe also failed. The step may be retried.
type BroadcastTimeoutError struct {
	TxId string
	Err  error
}

func (e *BroadcastTimeoutError) Error() string {
	return fmt.Sprintf("broadcast timed out for %s: %v", e.TxId, e.Err)
}

func (e *BroadcastTimeoutError) Unwrap() error {
	return e.Err
}

package swap

import "errors"

// ErrPriceTamper means the PSBT's payment output does not match the price the
// caller agreed to. The buy flow aborts before anything is signed.
var ErrPriceTamper = errors.New("listing price does not match agreed price")

// ErrNotListed means the asset's latest ledger row is not a live listing.
var ErrNotListed = errors.New("asset is not listed")

// ErrNotSeller means the caller is not the seller of the latest listing.
var ErrNotSeller = errors.New("caller is not the listing seller")

// ErrIncompleteSwap means the node could not produce a fully signed swap
// transaction. Nothing was broadcast and no ledger row was appended.
var ErrIncompleteSwap = errors.New("swap transaction signature set incomplete")

// ErrInsufficientFunds means the buyer's wallet cannot cover price plus fee.
var ErrInsufficientFunds = errors.New("insufficient funds to complete swap")

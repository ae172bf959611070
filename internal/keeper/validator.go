package keeper

import (
	"errors"
	"fmt"

	"github.com/v3-keepers/keepers/internal/chain"
)

// Sentinel errors returned by Validator. All wrap ErrInvalidAction.
var (
	ErrInvalidAction    = errors.New("invalid action")
	ErrEmptyBatch       = fmt.Errorf("%w: empty settlement batch", ErrInvalidAction)
	ErrBatchTooLarge    = fmt.Errorf("%w: settlement batch exceeds size limit", ErrInvalidAction)
	ErrZeroAddress      = fmt.Errorf("%w: zero address", ErrInvalidAction)
	ErrMarketRefsLength = fmt.Errorf("%w: market list does not match positions", ErrInvalidAction)
)

// Validator performs pre-flight checks on actions before any network work.
// It fails fast: the first failing check rejects the action.
type Validator struct {
	maxBatch int
}

// NewValidator creates a Validator enforcing BatchSize.
func NewValidator() *Validator {
	return &Validator{maxBatch: BatchSize}
}

// ValidateLiquidation checks the fixed accounts and that refs lines up with
// the account's positions one-to-one.
func (v *Validator) ValidateLiquidation(a *LiquidationAction, refs chain.MarketRefs) error {
	// 1. Fixed accounts.
	acc := a.Accounts
	for _, f := range []struct {
		name string
		addr chain.Address
	}{
		{"margin account", acc.MarginAccount},
		{"exchange", acc.Exchange},
		{"owner", acc.Owner},
		{"liquidator", acc.Liquidator},
		{"liquidator margin account", acc.LiquidatorMarginAccount},
	} {
		if f.addr == (chain.Address{}) {
			return fmt.Errorf("%w: %s", ErrZeroAddress, f.name)
		}
	}

	// 2. One market ref per position.
	if len(refs) != len(a.MarginAccount.Account.Positions) {
		return fmt.Errorf("%w: %d refs for %d positions",
			ErrMarketRefsLength, len(refs), len(a.MarginAccount.Account.Positions))
	}
	return nil
}

// ValidateSettlement checks batch size and that every entry is complete.
func (v *Validator) ValidateSettlement(b *SettlementBatch) error {
	// 1. Size.
	if len(b.Entries) == 0 {
		return ErrEmptyBatch
	}
	if len(b.Entries) > v.maxBatch {
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(b.Entries), v.maxBatch)
	}

	// 2. Entries.
	for i, e := range b.Entries {
		if e.Request == (chain.Address{}) || e.OwnerTokenAccount == (chain.Address{}) || e.Owner == (chain.Address{}) {
			return fmt.Errorf("%w: entry %d", ErrZeroAddress, i)
		}
	}
	return nil
}

package chain

import (
	"errors"
	"fmt"
)

// Error classes shared by the keeper core and its collaborators. Callers
// branch on them with errors.Is.
var (
	ErrConfiguration       = errors.New("configuration error")
	ErrDataIntegrity       = errors.New("data integrity error")
	ErrTransient           = errors.New("transient network error")
	ErrTransactionRejected = errors.New("transaction rejected")
)

// ConfigurationError reports a missing or invalid startup parameter, or an
// exchange that cannot be resolved. It is always fatal.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// MissingMarketError reports a position that references a market id absent
// from the current market map.
type MissingMarketError struct {
	MarketID uint32
}

func (e *MissingMarketError) Error() string {
	return fmt.Sprintf("market is missing from markets map (id=%d)", e.MarketID)
}

func (e *MissingMarketError) Unwrap() error { return ErrDataIntegrity }

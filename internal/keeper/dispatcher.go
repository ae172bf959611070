package keeper

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/v3-keepers/keepers/internal/chain"
	"github.com/v3-keepers/keepers/internal/observability"
)

// Recorder receives every outcome after it is logged. Implementations must
// not block the dispatcher.
type Recorder interface {
	Record(ctx context.Context, service string, o Outcome)
}

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Service  string
	Tx       chain.TransactionService
	Signer   chain.Signer
	Params   *chain.LiquidateParams
	Recorder Recorder               // optional
	Metrics  *observability.Metrics // optional
	Logger   zerolog.Logger
}

// Dispatcher submits actions one at a time. Each action is fully confirmed
// or failed before the next begins; a failure never stops the sweep.
type Dispatcher struct {
	cfg       DispatcherConfig
	validator *Validator
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{cfg: cfg, validator: NewValidator()}
}

// Dispatch processes actions in order and returns one outcome per action.
func (d *Dispatcher) Dispatch(ctx context.Context, snap *Snapshot, actions []Action) []Outcome {
	outcomes := make([]Outcome, 0, len(actions))
	for _, a := range actions {
		o := d.dispatch(ctx, snap, a)
		d.Record(ctx, o)
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func (d *Dispatcher) dispatch(ctx context.Context, snap *Snapshot, a Action) Outcome {
	o := Outcome{Kind: a.Kind(), Target: a.Target(), Size: 1}

	switch a := a.(type) {
	case *LiquidationAction:
		o.Signature, o.Err = d.liquidate(ctx, snap, a)
	case *SettlementBatch:
		o.Size = len(a.Entries)
		o.Signature, o.Err = d.settle(ctx, a)
	default:
		o.Err = fmt.Errorf("%w: unsupported action %T", ErrInvalidAction, a)
	}
	return o
}

func (d *Dispatcher) liquidate(ctx context.Context, snap *Snapshot, a *LiquidationAction) (chain.Signature, error) {
	refs, err := ResolveMarkets(a.MarginAccount.Account, snap.Markets)
	if err != nil {
		return chain.Signature{}, err
	}
	if err := d.validator.ValidateLiquidation(a, refs); err != nil {
		return chain.Signature{}, err
	}

	bh, err := d.cfg.Tx.LatestBlockhash(ctx)
	if err != nil {
		return chain.Signature{}, fmt.Errorf("latest blockhash: %w", err)
	}

	return d.cfg.Tx.SubmitLiquidation(ctx, chain.LiquidationTx{
		Accounts:  a.Accounts,
		Markets:   refs,
		Params:    d.cfg.Params,
		Signers:   []chain.Signer{d.cfg.Signer},
		FeePayer:  d.cfg.Signer.Address(),
		Blockhash: bh,
	})
}

func (d *Dispatcher) settle(ctx context.Context, b *SettlementBatch) (chain.Signature, error) {
	if err := d.validator.ValidateSettlement(b); err != nil {
		return chain.Signature{}, err
	}

	bh, err := d.cfg.Tx.LatestBlockhash(ctx)
	if err != nil {
		return chain.Signature{}, fmt.Errorf("latest blockhash: %w", err)
	}

	return d.cfg.Tx.SubmitSettlementBatch(ctx, chain.SettlementTx{
		Accounts:  b.Accounts,
		Entries:   b.Entries,
		Signers:   []chain.Signer{d.cfg.Signer},
		FeePayer:  d.cfg.Signer.Address(),
		Blockhash: bh,
	})
}

// Record logs an outcome, updates metrics and forwards it to the recorder.
func (d *Dispatcher) Record(ctx context.Context, o Outcome) {
	log := d.cfg.Logger
	result := "success"
	if o.Succeeded() {
		log.Info().
			Str("kind", o.Kind.String()).
			Str("target", o.Target.Hex()).
			Int("size", o.Size).
			Str("signature", o.Signature.Hex()).
			Msg("action confirmed")
	} else {
		result = "failed"
		class := ErrorClass(o.Err)
		log.Error().
			Err(o.Err).
			Str("kind", o.Kind.String()).
			Str("target", o.Target.Hex()).
			Int("size", o.Size).
			Str("class", class).
			Msg("action failed")
		if d.cfg.Metrics != nil {
			d.cfg.Metrics.ActionErrors.WithLabelValues(d.cfg.Service, class).Inc()
		}
	}

	if d.cfg.Metrics != nil {
		d.cfg.Metrics.Actions.WithLabelValues(d.cfg.Service, o.Kind.String(), result).Inc()
	}
	if d.cfg.Recorder != nil {
		d.cfg.Recorder.Record(ctx, d.cfg.Service, o)
	}
}

// ErrorClass buckets a per-action error for metrics and logs.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, chain.ErrDataIntegrity):
		return "data_integrity"
	case errors.Is(err, ErrInvalidAction):
		return "invalid_action"
	case errors.Is(err, chain.ErrTransactionRejected):
		return "rejected"
	case errors.Is(err, chain.ErrTransient),
		errors.Is(err, context.DeadlineExceeded):
		return "transient"
	default:
		return "unknown"
	}
}

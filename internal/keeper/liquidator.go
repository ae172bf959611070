package keeper

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/v3-keepers/keepers/internal/observability"
)

// Liquidator finds undercollateralized margin accounts and liquidates them.
type Liquidator struct {
	planner    *Planner
	decider    *Decider
	dispatcher *Dispatcher
	metrics    *observability.Metrics
	log        zerolog.Logger
	nowFunc    func() time.Time // injectable clock for testing
}

// NewLiquidator wires the liquidation cycle. metrics may be nil.
func NewLiquidator(planner *Planner, decider *Decider, dispatcher *Dispatcher, metrics *observability.Metrics, log zerolog.Logger) *Liquidator {
	return &Liquidator{
		planner:    planner,
		decider:    decider,
		dispatcher: dispatcher,
		metrics:    metrics,
		log:        log,
		nowFunc:    time.Now,
	}
}

// RunCycle performs one poll-decide-dispatch pass. Only snapshot errors are
// returned; per-account failures are recorded in the report.
func (l *Liquidator) RunCycle(ctx context.Context) (*Report, error) {
	start := l.nowFunc()
	cycleID := uuid.NewString()
	log := l.log.With().Str("cycle_id", cycleID).Logger()

	snap, err := l.planner.LiquidationSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	log.Info().
		Int("margin_accounts", len(snap.MarginAccounts)).
		Int("markets", len(snap.Markets)).
		Int("price_feeds", len(snap.PriceFeeds)).
		Msg("fetched margin accounts")

	actions, failed := l.decider.Decide(snap, l.nowFunc().Unix())
	for _, o := range failed {
		l.dispatcher.Record(ctx, o)
	}
	for _, a := range actions {
		la := a.(*LiquidationAction)
		if la.MarginAccount.Account.InLiquidation {
			log.Info().Str("margin_account", la.Target().Hex()).Msg("liquidating account already in liquidation")
		} else {
			log.Info().Str("margin_account", la.Target().Hex()).Msg("starting liquidation")
		}
	}

	outcomes := append(failed, l.dispatcher.Dispatch(ctx, snap, actions)...)
	report := newReport(cycleID, "liquidator", len(snap.MarginAccounts), len(actions), outcomes, l.nowFunc().Sub(start))
	finishCycle(log, l.metrics, report)
	return report, nil
}

// finishCycle logs the cycle summary and updates cycle metrics.
func finishCycle(log zerolog.Logger, metrics *observability.Metrics, r *Report) {
	log.Info().
		Int("scanned", r.Scanned).
		Int("actions", r.Actions).
		Int("succeeded", r.Succeeded).
		Int("failed", r.Failed).
		Dur("duration", r.Duration).
		Msg("cycle complete")

	if metrics == nil {
		return
	}
	metrics.Cycles.WithLabelValues(r.Service).Inc()
	metrics.CycleDuration.WithLabelValues(r.Service).Observe(r.Duration.Seconds())
	metrics.AccountsScanned.WithLabelValues(r.Service).Set(float64(r.Scanned))
}

package keeper

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/v3-keepers/keepers/internal/chain"
	"github.com/v3-keepers/keepers/internal/observability"
)

// Settler processes matured settlement requests in fixed-size batches.
type Settler struct {
	planner            *Planner
	dispatcher         *Dispatcher
	payer              chain.Address
	keeperTokenAccount chain.Address
	metrics            *observability.Metrics
	log                zerolog.Logger
	nowFunc            func() time.Time // injectable clock for testing
}

// NewSettler wires the settlement cycle. keeperTokenAccount is the payer's
// collateral token account, derived once at startup. metrics may be nil.
func NewSettler(planner *Planner, dispatcher *Dispatcher, payer, keeperTokenAccount chain.Address, metrics *observability.Metrics, log zerolog.Logger) *Settler {
	return &Settler{
		planner:            planner,
		dispatcher:         dispatcher,
		payer:              payer,
		keeperTokenAccount: keeperTokenAccount,
		metrics:            metrics,
		log:                log,
		nowFunc:            time.Now,
	}
}

// KeeperTokenAccount derives the payer's token account for the exchange's
// collateral mint.
func KeeperTokenAccount(ex *chain.Exchange, payer chain.Address) chain.Address {
	return chain.AssociatedTokenAddress(ex.CollateralMint, payer)
}

// RunCycle performs one poll-batch-dispatch pass. Only snapshot errors are
// returned; per-batch failures are recorded in the report.
func (s *Settler) RunCycle(ctx context.Context) (*Report, error) {
	start := s.nowFunc()
	cycleID := uuid.NewString()
	log := s.log.With().Str("cycle_id", cycleID).Logger()

	snap, err := s.planner.SettlementSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	log.Info().Int("settlement_requests", len(snap.SettlementRequests)).Msg("fetched settlement requests")

	now := float64(s.nowFunc().UnixNano()) / float64(time.Second)
	actions := s.Actions(snap, now)

	outcomes := s.dispatcher.Dispatch(ctx, snap, actions)
	report := newReport(cycleID, "settler", len(snap.SettlementRequests), len(actions), outcomes, s.nowFunc().Sub(start))
	finishCycle(log, s.metrics, report)
	return report, nil
}

// Actions turns the snapshot's mature requests into settlement batches.
func (s *Settler) Actions(snap *Snapshot, nowSeconds float64) []Action {
	accounts := chain.SettlementAccounts{
		Exchange:           snap.ExchangeAddress,
		CollateralVault:    snap.Exchange.CollateralVault,
		KeeperTokenAccount: s.keeperTokenAccount,
		Payer:              s.payer,
	}

	var actions []Action
	for _, entries := range Batch(Mature(snap.SettlementRequests, nowSeconds)) {
		actions = append(actions, &SettlementBatch{Accounts: accounts, Entries: entries})
	}
	return actions
}

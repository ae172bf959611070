package keeper

import (
	"fmt"

	"github.com/v3-keepers/keepers/internal/chain"
)

// Decider turns margin accounts into liquidation actions.
type Decider struct {
	evaluator               chain.RiskEvaluator
	liquidator              chain.Address
	liquidatorMarginAccount chain.Address
}

// NewDecider creates a Decider. liquidator is the keeper identity (actor and
// fee payer); liquidatorMarginAccount receives the liquidation incentive.
func NewDecider(evaluator chain.RiskEvaluator, liquidator, liquidatorMarginAccount chain.Address) *Decider {
	return &Decider{
		evaluator:               evaluator,
		liquidator:              liquidator,
		liquidatorMarginAccount: liquidatorMarginAccount,
	}
}

// Decide walks the snapshot's margin accounts in source order. Accounts whose
// decision fails are returned as failed outcomes and do not affect the rest.
func (d *Decider) Decide(snap *Snapshot, nowSeconds int64) ([]Action, []Outcome) {
	var (
		actions []Action
		failed  []Outcome
	)
	for _, acct := range snap.MarginAccounts {
		action, err := d.decide(snap, acct, nowSeconds)
		if err != nil {
			failed = append(failed, Outcome{
				Kind:   KindLiquidation,
				Target: acct.Address,
				Size:   1,
				Err:    err,
			})
			continue
		}
		if action != nil {
			actions = append(actions, action)
		}
	}
	return actions, failed
}

// decide applies, first match wins:
//  1. already in liquidation: must be driven to completion, no evaluation.
//  2. evaluator reports the account liquidatable: start liquidation.
//  3. otherwise healthy, no action.
func (d *Decider) decide(snap *Snapshot, acct chain.ProgramAccount[chain.MarginAccount], nowSeconds int64) (*LiquidationAction, error) {
	if acct.Account.InLiquidation {
		return d.liquidation(acct), nil
	}

	if _, err := ResolveMarkets(acct.Account, snap.Markets); err != nil {
		return nil, err
	}

	margins, err := d.evaluator.Evaluate(acct.Account, snap.Exchange, snap.Markets, snap.PriceFeeds, nowSeconds)
	if err != nil {
		return nil, fmt.Errorf("evaluate margins: %w", err)
	}
	if margins.CanLiquidate {
		return d.liquidation(acct), nil
	}
	return nil, nil
}

func (d *Decider) liquidation(acct chain.ProgramAccount[chain.MarginAccount]) *LiquidationAction {
	return &LiquidationAction{
		MarginAccount: acct,
		Accounts: chain.LiquidateAccounts{
			MarginAccount:           acct.Address,
			Exchange:                acct.Account.Exchange,
			Owner:                   acct.Account.Owner,
			Liquidator:              d.liquidator,
			LiquidatorMarginAccount: d.liquidatorMarginAccount,
		},
	}
}

// ResolveMarkets returns the (market, price feed) pair for every open
// position, in position order. A position in an unknown market is a
// MissingMarketError.
func ResolveMarkets(account chain.MarginAccount, markets chain.MarketMap) (chain.MarketRefs, error) {
	refs := make(chain.MarketRefs, 0, len(account.Positions))
	for _, pos := range account.Positions {
		m, ok := markets[pos.MarketID]
		if !ok {
			return nil, &chain.MissingMarketError{MarketID: pos.MarketID}
		}
		refs = append(refs, chain.MarketRef{Market: m.Address, PriceFeed: m.PriceFeed})
	}
	return refs, nil
}

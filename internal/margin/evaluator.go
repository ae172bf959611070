package margin

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/v3-keepers/keepers/internal/chain"
)

var ErrMissingPriceFeed = errors.New("price feed missing from price feed map")

var bpsDenominator = decimal.NewFromInt(10_000)

// Evaluator is a mark-to-market maintenance margin check. It never reports
// an account liquidatable when any price it depends on is older than
// MaxPriceAge.
type Evaluator struct {
	MaxPriceAge time.Duration
}

// NewEvaluator creates an Evaluator rejecting prices older than maxPriceAge.
func NewEvaluator(maxPriceAge time.Duration) *Evaluator {
	return &Evaluator{MaxPriceAge: maxPriceAge}
}

// Evaluate implements chain.RiskEvaluator.
func (e *Evaluator) Evaluate(account chain.MarginAccount, _ chain.Exchange, markets chain.MarketMap, priceFeeds chain.PriceFeedMap, nowSeconds int64) (chain.Margins, error) {
	res := chain.Margins{InLiquidation: account.InLiquidation}

	equity := account.Collateral
	required := decimal.Zero
	stale := false

	for _, pos := range account.Positions {
		m, ok := markets[pos.MarketID]
		if !ok {
			return chain.Margins{}, &chain.MissingMarketError{MarketID: pos.MarketID}
		}
		feed, ok := priceFeeds[m.PriceFeed]
		if !ok {
			return chain.Margins{}, fmt.Errorf("%w: %s (market %d)", ErrMissingPriceFeed, m.PriceFeed.Hex(), m.ID)
		}
		if e.MaxPriceAge > 0 && nowSeconds-feed.PublishTime > int64(e.MaxPriceAge/time.Second) {
			stale = true
		}

		pnl := pos.Size.Mul(feed.Price.Sub(pos.EntryPrice))
		equity = equity.Add(pnl)

		notional := pos.Size.Abs().Mul(feed.Price)
		bps := decimal.NewFromInt(int64(m.MaintenanceMarginBps))
		required = required.Add(notional.Mul(bps).Div(bpsDenominator))
	}

	if stale || len(account.Positions) == 0 {
		return res, nil
	}
	res.CanLiquidate = equity.LessThan(required)
	return res, nil
}

package keeper

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"github.com/v3-keepers/keepers/internal/chain"
)

// Snapshot is the working set of one cycle. It is rebuilt from scratch
// every cycle and never shared between cycles.
type Snapshot struct {
	ExchangeAddress    chain.Address
	Exchange           chain.Exchange
	Markets            chain.MarketMap
	PriceFeeds         chain.PriceFeedMap
	MarginAccounts     []chain.ProgramAccount[chain.MarginAccount]
	SettlementRequests []chain.ProgramAccount[chain.SettlementRequest]
}

// Planner acquires per-cycle snapshots for the one exchange this process
// serves.
type Planner struct {
	source   chain.AccountSource
	exchange chain.Address
}

// NewPlanner creates a Planner reading exchangeAddr from source.
func NewPlanner(source chain.AccountSource, exchangeAddr chain.Address) *Planner {
	return &Planner{source: source, exchange: exchangeAddr}
}

// Exchange fetches the exchange. An absent exchange means the configured
// address is wrong and is reported as a ConfigurationError.
func (p *Planner) Exchange(ctx context.Context) (*chain.Exchange, error) {
	ex, err := p.source.Exchange(ctx, p.exchange)
	if err != nil {
		return nil, fmt.Errorf("fetch exchange: %w", err)
	}
	if ex == nil {
		return nil, &chain.ConfigurationError{
			Field:  "exchange",
			Reason: "invalid exchange address " + p.exchange.Hex(),
		}
	}
	return ex, nil
}

// MarketAddresses derives the address of every market the exchange lists,
// skipping reserved empty slots.
func MarketAddresses(exchangeAddr chain.Address, ex *chain.Exchange) []chain.Address {
	addrs := make([]chain.Address, 0, len(ex.MarketIDs))
	for _, id := range ex.MarketIDs {
		if id == chain.EmptyMarketID {
			continue
		}
		addrs = append(addrs, chain.MarketAddress(exchangeAddr, id))
	}
	return addrs
}

// LiquidationSnapshot reads the exchange, its markets and price feeds, and
// every margin account. Markets+feeds and margin accounts are fetched
// concurrently and joined before returning.
func (p *Planner) LiquidationSnapshot(ctx context.Context) (*Snapshot, error) {
	ex, err := p.Exchange(ctx)
	if err != nil {
		return nil, err
	}
	marketAddrs := MarketAddresses(p.exchange, ex)

	snap := &Snapshot{ExchangeAddress: p.exchange, Exchange: *ex}

	wg := pool.New().WithContext(ctx).WithCancelOnError()
	wg.Go(func(ctx context.Context) error {
		markets, feeds, err := p.marketsAndPriceFeeds(ctx, marketAddrs)
		if err != nil {
			return err
		}
		snap.Markets = markets
		snap.PriceFeeds = feeds
		return nil
	})
	wg.Go(func(ctx context.Context) error {
		accounts, err := p.source.AllMarginAccounts(ctx)
		if err != nil {
			return fmt.Errorf("fetch margin accounts: %w", err)
		}
		snap.MarginAccounts = accounts
		return nil
	})
	if err := wg.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

// SettlementSnapshot reads the exchange and every settlement request.
func (p *Planner) SettlementSnapshot(ctx context.Context) (*Snapshot, error) {
	ex, err := p.Exchange(ctx)
	if err != nil {
		return nil, err
	}
	requests, err := p.source.AllSettlementRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch settlement requests: %w", err)
	}
	return &Snapshot{
		ExchangeAddress:    p.exchange,
		Exchange:           *ex,
		SettlementRequests: requests,
	}, nil
}

// marketsAndPriceFeeds builds the market map and then fetches only the
// price feeds those markets reference. Absent markets and feeds are still
// being provisioned and are dropped.
func (p *Planner) marketsAndPriceFeeds(ctx context.Context, marketAddrs []chain.Address) (chain.MarketMap, chain.PriceFeedMap, error) {
	markets := make(chain.MarketMap, len(marketAddrs))
	feeds := make(chain.PriceFeedMap)
	if len(marketAddrs) == 0 {
		return markets, feeds, nil
	}

	fetched, err := p.source.Markets(ctx, marketAddrs)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch markets: %w", err)
	}
	if len(fetched) != len(marketAddrs) {
		return nil, nil, fmt.Errorf("fetch markets: got %d results for %d addresses", len(fetched), len(marketAddrs))
	}

	var feedAddrs []chain.Address
	seen := make(map[chain.Address]struct{})
	for i, m := range fetched {
		if m == nil {
			continue
		}
		markets[m.ID] = chain.AddressedMarket{Address: marketAddrs[i], Market: *m}
		if _, dup := seen[m.PriceFeed]; !dup {
			seen[m.PriceFeed] = struct{}{}
			feedAddrs = append(feedAddrs, m.PriceFeed)
		}
	}
	if len(feedAddrs) == 0 {
		return markets, feeds, nil
	}

	fetchedFeeds, err := p.source.PriceFeeds(ctx, feedAddrs)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch price feeds: %w", err)
	}
	if len(fetchedFeeds) != len(feedAddrs) {
		return nil, nil, fmt.Errorf("fetch price feeds: got %d results for %d addresses", len(fetchedFeeds), len(feedAddrs))
	}
	for i, f := range fetchedFeeds {
		if f == nil {
			continue
		}
		feeds[feedAddrs[i]] = *f
	}
	return markets, feeds, nil
}

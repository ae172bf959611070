package keeper

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/v3-keepers/keepers/internal/chain"
)

func addr(b byte) chain.Address {
	return common.BytesToAddress([]byte{b})
}

var (
	testExchange  = chain.ExchangeAddress(0)
	testKeeper    = addr(0xEE)
	testKeeperMA  = addr(0xEF)
	testFeedA     = addr(0xA1)
	testFeedB     = addr(0xB1)
	testMintAddr  = addr(0xC0)
	testVaultAddr = addr(0xC1)
)

// fakeSource is an in-memory AccountSource keyed by address.
type fakeSource struct {
	mu sync.Mutex

	exchange *chain.Exchange
	markets  map[chain.Address]*chain.Market
	feeds    map[chain.Address]*chain.PriceFeed
	accounts []chain.ProgramAccount[chain.MarginAccount]
	requests []chain.ProgramAccount[chain.SettlementRequest]

	exchangeErr error
	accountsErr error

	feedRequests [][]chain.Address
}

func (f *fakeSource) Exchange(_ context.Context, a chain.Address) (*chain.Exchange, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	if a != testExchange {
		return nil, nil
	}
	return f.exchange, nil
}

func (f *fakeSource) Markets(_ context.Context, addrs []chain.Address) ([]*chain.Market, error) {
	out := make([]*chain.Market, len(addrs))
	for i, a := range addrs {
		out[i] = f.markets[a]
	}
	return out, nil
}

func (f *fakeSource) PriceFeeds(_ context.Context, addrs []chain.Address) ([]*chain.PriceFeed, error) {
	f.mu.Lock()
	f.feedRequests = append(f.feedRequests, append([]chain.Address(nil), addrs...))
	f.mu.Unlock()

	out := make([]*chain.PriceFeed, len(addrs))
	for i, a := range addrs {
		out[i] = f.feeds[a]
	}
	return out, nil
}

func (f *fakeSource) AllMarginAccounts(context.Context) ([]chain.ProgramAccount[chain.MarginAccount], error) {
	if f.accountsErr != nil {
		return nil, f.accountsErr
	}
	return f.accounts, nil
}

func (f *fakeSource) AllSettlementRequests(context.Context) ([]chain.ProgramAccount[chain.SettlementRequest], error) {
	return f.requests, nil
}

// newScenarioSource returns an exchange with markets {5: feed A, 9: feed B}.
func newScenarioSource() *fakeSource {
	return &fakeSource{
		exchange: &chain.Exchange{
			MarketIDs:       []uint32{5, 0, 9},
			CollateralMint:  testMintAddr,
			CollateralVault: testVaultAddr,
		},
		markets: map[chain.Address]*chain.Market{
			chain.MarketAddress(testExchange, 5): {ID: 5, PriceFeed: testFeedA, MaintenanceMarginBps: 500},
			chain.MarketAddress(testExchange, 9): {ID: 9, PriceFeed: testFeedB, MaintenanceMarginBps: 500},
		},
		feeds: map[chain.Address]*chain.PriceFeed{
			testFeedA: {Price: decimal.NewFromInt(100), PublishTime: 1_700_000_000},
			testFeedB: {Price: decimal.NewFromInt(200), PublishTime: 1_700_000_000},
		},
	}
}

func marginAccount(a chain.Address, inLiquidation bool, marketIDs ...uint32) chain.ProgramAccount[chain.MarginAccount] {
	positions := make([]chain.Position, len(marketIDs))
	for i, id := range marketIDs {
		positions[i] = chain.Position{MarketID: id, Size: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100)}
	}
	return chain.ProgramAccount[chain.MarginAccount]{
		Address: a,
		Account: chain.MarginAccount{
			Owner:         addr(a[19] + 0x40),
			Exchange:      testExchange,
			Positions:     positions,
			InLiquidation: inLiquidation,
		},
	}
}

func settlementRequest(a chain.Address, maturity float64) chain.ProgramAccount[chain.SettlementRequest] {
	return chain.ProgramAccount[chain.SettlementRequest]{
		Address: a,
		Account: chain.SettlementRequest{
			Owner:             addr(a[19] + 0x40),
			OwnerTokenAccount: addr(a[19] + 0x80),
			Maturity:          maturity,
		},
	}
}

// fakeEvaluator marks the listed owners liquidatable and counts calls.
type fakeEvaluator struct {
	liquidatable map[chain.Address]bool
	calls        []chain.Address
	lastNow      int64
	err          error
}

func (f *fakeEvaluator) Evaluate(acct chain.MarginAccount, _ chain.Exchange, _ chain.MarketMap, _ chain.PriceFeedMap, now int64) (chain.Margins, error) {
	f.calls = append(f.calls, acct.Owner)
	f.lastNow = now
	if f.err != nil {
		return chain.Margins{}, f.err
	}
	return chain.Margins{InLiquidation: acct.InLiquidation, CanLiquidate: f.liquidatable[acct.Owner]}, nil
}

// fakeSigner is a keeper identity that never signs anything.
type fakeSigner struct{ address chain.Address }

func (s fakeSigner) Address() chain.Address { return s.address }
func (s fakeSigner) SignHash([]byte) ([]byte, error) { return make([]byte, 65), nil }

// fakeTx records every request and fails targets listed in failOn. Each
// blockhash is distinct so reuse across actions is detectable.
type fakeTx struct {
	blockhashes  int
	liquidations []chain.LiquidationTx
	settlements  []chain.SettlementTx
	failOn       map[chain.Address]error
	blockhashErr error
}

func (f *fakeTx) LatestBlockhash(context.Context) (chain.Blockhash, error) {
	if f.blockhashErr != nil {
		return chain.Blockhash{}, f.blockhashErr
	}
	f.blockhashes++
	return common.BigToHash(big.NewInt(int64(f.blockhashes))), nil
}

func (f *fakeTx) SubmitLiquidation(_ context.Context, tx chain.LiquidationTx) (chain.Signature, error) {
	f.liquidations = append(f.liquidations, tx)
	if err := f.failOn[tx.Accounts.MarginAccount]; err != nil {
		return chain.Signature{}, err
	}
	return common.BytesToHash(tx.Accounts.MarginAccount.Bytes()), nil
}

func (f *fakeTx) SubmitSettlementBatch(_ context.Context, tx chain.SettlementTx) (chain.Signature, error) {
	f.settlements = append(f.settlements, tx)
	if err := f.failOn[tx.Entries[0].Request]; err != nil {
		return chain.Signature{}, err
	}
	return common.BytesToHash(tx.Entries[0].Request.Bytes()), nil
}

// recordingRecorder captures outcomes passed to the Recorder hook.
type recordingRecorder struct {
	outcomes []Outcome
}

func (r *recordingRecorder) Record(_ context.Context, _ string, o Outcome) {
	r.outcomes = append(r.outcomes, o)
}

func newTestDispatcher(tx *fakeTx, rec Recorder) *Dispatcher {
	cfg := DispatcherConfig{
		Service: "test",
		Tx:      tx,
		Signer:  fakeSigner{address: testKeeper},
		Logger:  zerolog.Nop(),
	}
	if rec != nil {
		cfg.Recorder = rec
	}
	return NewDispatcher(cfg)
}

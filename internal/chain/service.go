package chain

import "context"

// AccountSource reads protocol state. Bulk lookups by address are
// order-preserving and return nil for accounts that do not exist.
type AccountSource interface {
	Exchange(ctx context.Context, addr Address) (*Exchange, error)
	Markets(ctx context.Context, addrs []Address) ([]*Market, error)
	PriceFeeds(ctx context.Context, addrs []Address) ([]*PriceFeed, error)
	AllMarginAccounts(ctx context.Context) ([]ProgramAccount[MarginAccount], error)
	AllSettlementRequests(ctx context.Context) ([]ProgramAccount[SettlementRequest], error)
}

// RiskEvaluator decides whether a margin account may be liquidated.
// nowSeconds is wall-clock unix time supplied by the caller.
type RiskEvaluator interface {
	Evaluate(account MarginAccount, exchange Exchange, markets MarketMap, priceFeeds PriceFeedMap, nowSeconds int64) (Margins, error)
}

// Signer signs transaction hashes on behalf of a keeper identity.
type Signer interface {
	Address() Address
	SignHash(hash []byte) ([]byte, error)
}

// TransactionService builds, signs, submits and confirms transactions.
type TransactionService interface {
	// LatestBlockhash returns a fresh freshness token. It is never cached.
	LatestBlockhash(ctx context.Context) (Blockhash, error)
	SubmitLiquidation(ctx context.Context, tx LiquidationTx) (Signature, error)
	SubmitSettlementBatch(ctx context.Context, tx SettlementTx) (Signature, error)
}

// LiquidateAccounts are the fixed accounts of a liquidate instruction.
type LiquidateAccounts struct {
	MarginAccount           Address
	Exchange                Address
	Owner                   Address
	Liquidator              Address
	LiquidatorMarginAccount Address
}

// LiquidateParams are optional instruction parameters.
type LiquidateParams struct {
	// PriorityFee is paid per compute unit on top of the base fee.
	PriorityFee uint64
}

// MarketRef is the (market, price feed) pair for one open position.
type MarketRef struct {
	Market    Address
	PriceFeed Address
}

// MarketRefs is ordered to match the account's positions.
type MarketRefs []MarketRef

// Flatten splits the refs into the two parallel lists the instruction expects.
func (r MarketRefs) Flatten() (markets, priceFeeds []Address) {
	markets = make([]Address, len(r))
	priceFeeds = make([]Address, len(r))
	for i, ref := range r {
		markets[i] = ref.Market
		priceFeeds[i] = ref.PriceFeed
	}
	return markets, priceFeeds
}

// LiquidationTx is everything needed to build one liquidate transaction.
type LiquidationTx struct {
	Accounts  LiquidateAccounts
	Markets   MarketRefs
	Params    *LiquidateParams
	Signers   []Signer
	FeePayer  Address
	Blockhash Blockhash
}

// SettlementAccounts are the fixed accounts of a process-settlement-requests
// instruction.
type SettlementAccounts struct {
	Exchange           Address
	CollateralVault    Address
	KeeperTokenAccount Address
	Payer              Address
}

// SettlementEntry is one settlement request together with the accounts that
// receive its funds.
type SettlementEntry struct {
	Request           Address
	OwnerTokenAccount Address
	Owner             Address
}

// SettlementEntries is an ordered settlement batch.
type SettlementEntries []SettlementEntry

// Flatten splits the entries into the three parallel lists the instruction
// expects, kept in lock-step by index.
func (e SettlementEntries) Flatten() (requests, ownerTokenAccounts, owners []Address) {
	requests = make([]Address, len(e))
	ownerTokenAccounts = make([]Address, len(e))
	owners = make([]Address, len(e))
	for i, entry := range e {
		requests[i] = entry.Request
		ownerTokenAccounts[i] = entry.OwnerTokenAccount
		owners[i] = entry.Owner
	}
	return requests, ownerTokenAccounts, owners
}

// SettlementTx is everything needed to build one settlement transaction.
type SettlementTx struct {
	Accounts  SettlementAccounts
	Entries   SettlementEntries
	Signers   []Signer
	FeePayer  Address
	Blockhash Blockhash
}

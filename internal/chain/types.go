package chain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Address identifies any on-chain account (exchange, market, feed, wallet).
type Address = common.Address

// Signature is the identifier of a confirmed transaction.
type Signature = common.Hash

// Blockhash is the short-lived freshness token a transaction must embed
// for the ledger to accept it.
type Blockhash = common.Hash

// EmptyMarketID marks an unused slot in an exchange's market list.
const EmptyMarketID uint32 = 0

// Exchange is the protocol singleton that owns every market.
type Exchange struct {
	MarketIDs       []uint32 `json:"marketIds"`
	CollateralMint  Address  `json:"collateralMint"`
	CollateralVault Address  `json:"collateralVault"`
}

// Market is a single tradable market and the price feed it settles against.
type Market struct {
	ID                   uint32  `json:"id"`
	PriceFeed            Address `json:"priceFeed"`
	MaintenanceMarginBps uint32  `json:"maintenanceMarginBps"`
}

// PriceFeed is an oracle snapshot. Only the risk evaluator interprets it.
type PriceFeed struct {
	Price       decimal.Decimal `json:"price"`
	PublishTime int64           `json:"publishTime"`
}

// Position is one open position of a margin account.
type Position struct {
	MarketID   uint32          `json:"marketId"`
	Size       decimal.Decimal `json:"size"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
}

// MarginAccount holds a trader's collateral and open positions.
type MarginAccount struct {
	Owner         Address         `json:"owner"`
	Exchange      Address         `json:"exchange"`
	Collateral    decimal.Decimal `json:"collateral"`
	Positions     []Position      `json:"positions"`
	InLiquidation bool            `json:"inLiquidation"`
}

// SettlementRequest is a pending withdrawal that may only be processed once
// Maturity (unix seconds) has passed.
type SettlementRequest struct {
	Owner             Address `json:"owner"`
	OwnerTokenAccount Address `json:"ownerTokenAccount"`
	Maturity          float64 `json:"maturity"`
}

// ProgramAccount pairs a decoded account with the address it was read from.
type ProgramAccount[T any] struct {
	Address Address `json:"address"`
	Account T       `json:"account"`
}

// AddressedMarket is a market together with its derived address.
type AddressedMarket struct {
	Address Address
	Market
}

// MarketMap indexes the current cycle's markets by id.
type MarketMap map[uint32]AddressedMarket

// PriceFeedMap indexes the current cycle's price feeds by feed address.
type PriceFeedMap map[Address]PriceFeed

// Margins is the risk evaluator's verdict for one account.
type Margins struct {
	InLiquidation bool
	CanLiquidate  bool
}

package keeper

import "github.com/v3-keepers/keepers/internal/chain"

// BatchSize is the number of settlement requests processed per transaction.
// It is bounded by the ledger's per-transaction account limit.
const BatchSize = 4

// Mature returns the requests whose maturity is at or before now, in source
// order. Immature requests are left for a later cycle.
func Mature(requests []chain.ProgramAccount[chain.SettlementRequest], nowSeconds float64) []chain.ProgramAccount[chain.SettlementRequest] {
	var mature []chain.ProgramAccount[chain.SettlementRequest]
	for _, r := range requests {
		if nowSeconds >= r.Account.Maturity {
			mature = append(mature, r)
		}
	}
	return mature
}

// Batch partitions requests, in order, into groups of at most BatchSize.
func Batch(requests []chain.ProgramAccount[chain.SettlementRequest]) []chain.SettlementEntries {
	var batches []chain.SettlementEntries
	for i := 0; i < len(requests); i += BatchSize {
		end := min(i+BatchSize, len(requests))
		batch := make(chain.SettlementEntries, 0, end-i)
		for _, r := range requests[i:end] {
			batch = append(batch, chain.SettlementEntry{
				Request:           r.Address,
				OwnerTokenAccount: r.Account.OwnerTokenAccount,
				Owner:             r.Account.Owner,
			})
		}
		batches = append(batches, batch)
	}
	return batches
}

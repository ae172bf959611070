package keeper

import (
	"time"

	"github.com/v3-keepers/keepers/internal/chain"
)

// ActionKind distinguishes the two kinds of work a keeper dispatches.
type ActionKind uint8

const (
	KindLiquidation ActionKind = iota + 1
	KindSettlementBatch
)

func (k ActionKind) String() string {
	switch k {
	case KindLiquidation:
		return "liquidation"
	case KindSettlementBatch:
		return "settlement_batch"
	default:
		return "unknown"
	}
}

// Action is a cycle-scoped unit of work. Actions are never persisted.
type Action interface {
	Kind() ActionKind
	// Target is the account the action is logged and recorded under.
	Target() chain.Address
}

// LiquidationAction liquidates one margin account.
type LiquidationAction struct {
	MarginAccount chain.ProgramAccount[chain.MarginAccount]
	Accounts      chain.LiquidateAccounts
}

func (a *LiquidationAction) Kind() ActionKind { return KindLiquidation }
func (a *LiquidationAction) Target() chain.Address { return a.MarginAccount.Address }

// SettlementBatch settles up to BatchSize mature requests in one transaction.
type SettlementBatch struct {
	Accounts chain.SettlementAccounts
	Entries  chain.SettlementEntries
}

func (b *SettlementBatch) Kind() ActionKind { return KindSettlementBatch }

// Target is the first request of the batch.
func (b *SettlementBatch) Target() chain.Address {
	if len(b.Entries) == 0 {
		return chain.Address{}
	}
	return b.Entries[0].Request
}

// Outcome is the recorded result of one action, or of an account whose
// decision failed before an action could be built.
type Outcome struct {
	Kind      ActionKind
	Target    chain.Address
	Size      int
	Signature chain.Signature
	Err       error
}

// Succeeded reports whether the transaction was confirmed.
func (o Outcome) Succeeded() bool { return o.Err == nil }

// Report summarises one cycle.
type Report struct {
	CycleID   string
	Service   string
	Scanned   int
	Actions   int
	Succeeded int
	Failed    int
	Duration  time.Duration
	Outcomes  []Outcome
}

func newReport(cycleID, service string, scanned, actions int, outcomes []Outcome, d time.Duration) *Report {
	r := &Report{
		CycleID:  cycleID,
		Service:  service,
		Scanned:  scanned,
		Actions:  actions,
		Duration: d,
		Outcomes: outcomes,
	}
	for _, o := range outcomes {
		if o.Succeeded() {
			r.Succeeded++
		} else {
			r.Failed++
		}
	}
	return r
}

package keeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/v3-keepers/keepers/internal/chain"
	"github.com/v3-keepers/keepers/internal/observability"
)

func newTestLiquidator(src *fakeSource, eval *fakeEvaluator, tx *fakeTx, rec Recorder, m *observability.Metrics) *Liquidator {
	l := NewLiquidator(
		NewPlanner(src, testExchange),
		NewDecider(eval, testKeeper, testKeeperMA),
		newTestDispatcher(tx, rec),
		m,
		zerolog.Nop(),
	)
	l.nowFunc = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return l
}

func TestLiquidator_RunCycle(t *testing.T) {
	src := newScenarioSource()
	healthy := marginAccount(addr(1), false, 5)
	broken := marginAccount(addr(2), false, 42)
	stuck := marginAccount(addr(3), true, 9)
	under := marginAccount(addr(4), false, 5, 9)
	src.accounts = []chain.ProgramAccount[chain.MarginAccount]{healthy, broken, stuck, under}

	eval := &fakeEvaluator{liquidatable: map[chain.Address]bool{under.Account.Owner: true}}
	tx := &fakeTx{}
	rec := &recordingRecorder{}
	m := observability.NewMetrics(prometheus.NewRegistry())

	report, err := newTestLiquidator(src, eval, tx, rec, m).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Scanned != 4 || report.Actions != 2 || report.Succeeded != 2 || report.Failed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.CycleID == "" || report.Service != "liquidator" {
		t.Fatalf("report missing identity: %+v", report)
	}
	if len(tx.liquidations) != 2 ||
		tx.liquidations[0].Accounts.MarginAccount != stuck.Address ||
		tx.liquidations[1].Accounts.MarginAccount != under.Address {
		t.Fatalf("unexpected liquidation order %+v", tx.liquidations)
	}
	if len(rec.outcomes) != 3 {
		t.Fatalf("recorder should see the failed decision and both dispatches, got %d", len(rec.outcomes))
	}
	if eval.lastNow != 1_700_000_000 {
		t.Fatalf("evaluator got now=%d", eval.lastNow)
	}
	if got := testutil.ToFloat64(m.Cycles.WithLabelValues("liquidator")); got != 1 {
		t.Fatalf("expected 1 cycle metric, got %v", got)
	}
	if got := testutil.ToFloat64(m.AccountsScanned.WithLabelValues("liquidator")); got != 4 {
		t.Fatalf("expected 4 accounts scanned, got %v", got)
	}
}

func TestLiquidator_SnapshotErrorIsFatal(t *testing.T) {
	src := newScenarioSource()
	src.exchange = nil

	_, err := newTestLiquidator(src, &fakeEvaluator{}, &fakeTx{}, nil, nil).RunCycle(context.Background())
	if !errors.Is(err, chain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestLiquidator_RetriesByRederivation(t *testing.T) {
	src := newScenarioSource()
	stuck := marginAccount(addr(3), true, 9)
	src.accounts = []chain.ProgramAccount[chain.MarginAccount]{stuck}
	tx := &fakeTx{failOn: map[chain.Address]error{stuck.Address: chain.ErrTransient}}
	l := newTestLiquidator(src, &fakeEvaluator{}, tx, nil, nil)

	first, err := l.RunCycle(context.Background())
	if err != nil || first.Failed != 1 {
		t.Fatalf("first cycle: report=%+v err=%v", first, err)
	}

	delete(tx.failOn, stuck.Address)
	second, err := l.RunCycle(context.Background())
	if err != nil || second.Succeeded != 1 {
		t.Fatalf("second cycle should retry and succeed: report=%+v err=%v", second, err)
	}
	if first.CycleID == second.CycleID {
		t.Fatal("each cycle gets its own id")
	}
}

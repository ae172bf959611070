package keeper

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/v3-keepers/keepers/internal/chain"
)

func requests(n int, maturity float64) []chain.ProgramAccount[chain.SettlementRequest] {
	out := make([]chain.ProgramAccount[chain.SettlementRequest], n)
	for i := range out {
		out[i] = settlementRequest(addr(byte(i+1)), maturity)
	}
	return out
}

func TestMature_Boundary(t *testing.T) {
	now := 1_700_000_000.0
	reqs := []chain.ProgramAccount[chain.SettlementRequest]{
		settlementRequest(addr(1), now),     // exactly now: included
		settlementRequest(addr(2), now+1),   // one second ahead: excluded
		settlementRequest(addr(3), now-0.5), // past: included
	}

	got := Mature(reqs, now)
	if len(got) != 2 || got[0].Address != addr(1) || got[1].Address != addr(3) {
		t.Fatalf("unexpected mature set %v", got)
	}
}

func TestMature_FractionalNow(t *testing.T) {
	reqs := []chain.ProgramAccount[chain.SettlementRequest]{settlementRequest(addr(1), 100)}
	if len(Mature(reqs, 99.999)) != 0 {
		t.Fatal("request must not mature before its timestamp")
	}
	if len(Mature(reqs, 100.001)) != 1 {
		t.Fatal("request must mature once its timestamp passed")
	}
}

func TestBatch_PartitionLaw(t *testing.T) {
	for n := 0; n <= 13; n++ {
		reqs := requests(n, 0)
		batches := Batch(reqs)

		wantBatches := (n + BatchSize - 1) / BatchSize
		if len(batches) != wantBatches {
			t.Fatalf("n=%d: expected %d batches, got %d", n, wantBatches, len(batches))
		}

		var concat []chain.Address
		for i, b := range batches {
			want := BatchSize
			if i == len(batches)-1 && n%BatchSize != 0 {
				want = n % BatchSize
			}
			if len(b) != want {
				t.Fatalf("n=%d: batch %d has %d entries, want %d", n, i, len(b), want)
			}
			for _, e := range b {
				concat = append(concat, e.Request)
			}
		}

		for i, r := range reqs {
			if concat[i] != r.Address {
				t.Fatalf("n=%d: order broken at %d", n, i)
			}
		}
	}
}

func TestBatch_EntriesInLockStep(t *testing.T) {
	reqs := requests(3, 0)
	batch := Batch(reqs)[0]

	requestsList, tokenAccounts, owners := batch.Flatten()
	for i, r := range reqs {
		if requestsList[i] != r.Address ||
			tokenAccounts[i] != r.Account.OwnerTokenAccount ||
			owners[i] != r.Account.Owner {
			t.Fatalf("entry %d out of lock-step", i)
		}
	}
}

func TestSettler_TenMatureRequests(t *testing.T) {
	src := newScenarioSource()
	src.requests = append(requests(10, 50), settlementRequest(addr(0x99), 1e12))
	tx := &fakeTx{}
	keeperToken := KeeperTokenAccount(src.exchange, testKeeper)

	s := NewSettler(NewPlanner(src, testExchange), newTestDispatcher(tx, nil), testKeeper, keeperToken, nil, zerolog.Nop())
	s.nowFunc = func() time.Time { return time.Unix(100, 0) }

	report, err := s.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sizes []int
	for _, st := range tx.settlements {
		sizes = append(sizes, len(st.Entries))
	}
	if !reflect.DeepEqual(sizes, []int{4, 4, 2}) {
		t.Fatalf("batch sizes = %v, want [4 4 2]", sizes)
	}
	if report.Scanned != 11 || report.Actions != 3 || report.Succeeded != 3 {
		t.Fatalf("unexpected report %+v", report)
	}

	want := chain.SettlementAccounts{
		Exchange:           testExchange,
		CollateralVault:    testVaultAddr,
		KeeperTokenAccount: keeperToken,
		Payer:              testKeeper,
	}
	for i, st := range tx.settlements {
		if st.Accounts != want {
			t.Fatalf("batch %d accounts = %+v, want %+v", i, st.Accounts, want)
		}
	}
	if tx.blockhashes != 3 {
		t.Fatalf("expected a fresh blockhash per batch, got %d", tx.blockhashes)
	}
}

func TestKeeperTokenAccount_DependsOnMintAndPayer(t *testing.T) {
	ex := &chain.Exchange{CollateralMint: testMintAddr}
	a := KeeperTokenAccount(ex, testKeeper)
	if a != chain.AssociatedTokenAddress(testMintAddr, testKeeper) {
		t.Fatal("keeper token account must be the associated token address")
	}
	if a == KeeperTokenAccount(ex, addr(0x01)) {
		t.Fatal("different payers must have different token accounts")
	}
}

package main

import (
	"context"
	"os"

	"github.com/v3-keepers/keepers/internal/config"
	"github.com/v3-keepers/keepers/internal/daemon"
	"github.com/v3-keepers/keepers/internal/keeper"
)

func main() {
	os.Exit(daemon.Main("settler", (*config.Config).ValidateSettler, build))
}

// build resolves the exchange once so the keeper's collateral token account
// can be derived before the first cycle.
func build(ctx context.Context, rt *daemon.Runtime) (daemon.Cycle, error) {
	planner := keeper.NewPlanner(rt.Client, rt.Config.ExchangeAddress())

	ex, err := planner.Exchange(ctx)
	if err != nil {
		return nil, err
	}

	payer := rt.Keystore.Address()
	dispatcher := keeper.NewDispatcher(rt.DispatcherConfig(nil))
	settler := keeper.NewSettler(planner, dispatcher, payer, keeper.KeeperTokenAccount(ex, payer), rt.Metrics, rt.Log)
	return settler.RunCycle, nil
}

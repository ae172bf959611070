package main

import (
	"context"
	"os"

	"github.com/v3-keepers/keepers/internal/chain"
	"github.com/v3-keepers/keepers/internal/config"
	"github.com/v3-keepers/keepers/internal/daemon"
	"github.com/v3-keepers/keepers/internal/keeper"
	"github.com/v3-keepers/keepers/internal/margin"
)

func main() {
	os.Exit(daemon.Main("liquidator", (*config.Config).ValidateLiquidator, build))
}

func build(_ context.Context, rt *daemon.Runtime) (daemon.Cycle, error) {
	cfg := rt.Config

	var params *chain.LiquidateParams
	if cfg.Keeper.PriorityFee > 0 {
		params = &chain.LiquidateParams{PriorityFee: cfg.Keeper.PriorityFee}
	}

	planner := keeper.NewPlanner(rt.Client, cfg.ExchangeAddress())
	decider := keeper.NewDecider(margin.NewEvaluator(cfg.MaxPriceAge()), rt.Keystore.Address(), cfg.LiquidatorMarginAccount())
	dispatcher := keeper.NewDispatcher(rt.DispatcherConfig(params))

	return keeper.NewLiquidator(planner, decider, dispatcher, rt.Metrics, rt.Log).RunCycle, nil
}

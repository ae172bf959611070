// Package daemon wires the process-level collaborators shared by the
// liquidator and settler binaries.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/v3-keepers/keepers/internal/chain"
	"github.com/v3-keepers/keepers/internal/chain/rpc"
	"github.com/v3-keepers/keepers/internal/config"
	"github.com/v3-keepers/keepers/internal/health"
	"github.com/v3-keepers/keepers/internal/keeper"
	"github.com/v3-keepers/keepers/internal/kms"
	"github.com/v3-keepers/keepers/internal/observability"
	"github.com/v3-keepers/keepers/internal/outcome"
	"github.com/v3-keepers/keepers/internal/signer"
)

// Cycle is one keeper pass, typically Liquidator.RunCycle or Settler.RunCycle.
type Cycle func(ctx context.Context) (*keeper.Report, error)

// Builder assembles the service-specific core on top of a started Runtime.
type Builder func(ctx context.Context, rt *Runtime) (Cycle, error)

// Runtime holds the collaborators both keepers share.
type Runtime struct {
	Service  string
	Config   *config.Config
	Log      zerolog.Logger
	Keystore *signer.Keystore
	Client   *rpc.Client
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Recorder keeper.Recorder // nil when no outcome sink is configured

	health     *health.Server
	redisClose func() error
	stopBg     context.CancelFunc
	bg         conc.WaitGroup
}

// Main runs a keeper process to completion and returns its exit code.
// Configuration and startup failures exit 1, as does any fatal cycle error.
// SIGINT and SIGTERM stop the process cleanly with 0.
func Main(service string, validate func(*config.Config) error, build Builder) int {
	defer memguard.Purge()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	log := observability.NewLogger(service, cfg.LogLevel)
	if err := validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := Start(ctx, service, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return 1
	}
	defer rt.Close()

	cycle, err := build(ctx, rt)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return 1
	}

	log.Info().
		Str("env", cfg.Env).
		Str("keeper", rt.Keystore.Address().Hex()).
		Str("exchange", cfg.ExchangeAddress().Hex()).
		Dur("interval", cfg.Interval()).
		Msg("keeper starting")

	if err := rt.Run(ctx, cycle); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Str("class", keeper.ErrorClass(err)).Msg("fatal cycle error")
		return 1
	}
	log.Info().Msg("keeper stopped")
	return 0
}

// Start loads the keeper key, dials the node and brings up the optional
// metrics, health and outcome-sink side services. On error everything
// already started is torn down.
func Start(ctx context.Context, service string, cfg *config.Config, log zerolog.Logger) (rt *Runtime, err error) {
	bgCtx, stopBg := context.WithCancel(ctx)
	rt = &Runtime{Service: service, Config: cfg, Log: log, stopBg: stopBg}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	rt.Keystore, err = LoadKeystore(ctx, cfg, nil)
	if err != nil {
		return rt, err
	}

	rt.Client, err = rpc.Dial(ctx, rpc.Config{
		URL:            cfg.RPCURL,
		Commitment:     cfg.Commitment,
		ConfirmTimeout: cfg.ConfirmTimeout(),
	})
	if err != nil {
		return rt, err
	}

	rt.Registry = prometheus.NewRegistry()
	rt.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.Metrics = observability.NewMetrics(rt.Registry)

	if cfg.MetricsAddr != "" {
		rt.bg.Go(func() {
			if err := observability.ServeMetrics(bgCtx, cfg.MetricsAddr, rt.Registry); err != nil {
				log.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics server failed")
			}
		})
	}

	if cfg.HealthSocket != "" {
		rt.health, err = health.New(cfg.HealthSocket, service)
		if err != nil {
			return rt, err
		}
		hs := rt.health
		rt.bg.Go(func() {
			if err := hs.Serve(); err != nil {
				log.Error().Err(err).Msg("health server failed")
			}
		})
	}

	if cfg.Redis.Addr != "" {
		client, closeFn, err := outcome.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return rt, err
		}
		rt.redisClose = closeFn
		w := outcome.NewRedisWriter(client, log)
		rt.bg.Go(func() { w.Run(bgCtx) })
		rt.Recorder = w
	}

	return rt, nil
}

// DispatcherConfig returns the dispatcher wiring for this process.
func (rt *Runtime) DispatcherConfig(params *chain.LiquidateParams) keeper.DispatcherConfig {
	return keeper.DispatcherConfig{
		Service:  rt.Service,
		Tx:       rt.Client,
		Signer:   rt.Keystore,
		Params:   params,
		Recorder: rt.Recorder,
		Metrics:  rt.Metrics,
		Logger:   rt.Log,
	}
}

// Run drives cycle on the configured interval. The health service reports
// SERVING once a cycle has completed without a fatal error.
func (rt *Runtime) Run(ctx context.Context, cycle Cycle) error {
	return keeper.NewScheduler(rt.Config.Interval()).Run(ctx, func(ctx context.Context) error {
		if _, err := cycle(ctx); err != nil {
			return err
		}
		if rt.health != nil {
			rt.health.SetServing(true)
		}
		return nil
	})
}

// Close stops the side services and releases the key, connection and pool.
// It is safe on a partially started Runtime.
func (rt *Runtime) Close() {
	if rt.health != nil {
		rt.health.SetServing(false)
	}
	if rt.stopBg != nil {
		rt.stopBg()
	}
	if rt.health != nil {
		rt.health.GracefulStop()
	}
	rt.bg.Wait()

	if rt.redisClose != nil {
		if err := rt.redisClose(); err != nil {
			rt.Log.Warn().Err(err).Msg("close redis")
		}
	}
	if rt.Client != nil {
		rt.Client.Close()
	}
	if rt.Keystore != nil {
		rt.Keystore.Destroy()
	}
}

// KeyDecrypter recovers the plaintext keeper key from a KMS ciphertext.
type KeyDecrypter interface {
	DecryptKey(ctx context.Context, ciphertextB64 string) ([]byte, error)
}

// LoadKeystore seals the keeper key from KEEPER_PRIVATE_KEY or, failing
// that, from KEEPER_KMS_KEY_CIPHERTEXT. A nil decrypter dials AWS KMS.
func LoadKeystore(ctx context.Context, cfg *config.Config, decrypter KeyDecrypter) (*signer.Keystore, error) {
	if cfg.Keeper.PrivateKey != "" {
		ks, err := signer.NewKeystoreFromHex(cfg.Keeper.PrivateKey)
		if err != nil {
			return nil, &chain.ConfigurationError{Field: "KEEPER_PRIVATE_KEY", Reason: err.Error()}
		}
		return ks, nil
	}

	if decrypter == nil {
		c, err := kms.New(ctx, cfg.Keeper.KMSRegion, cfg.LocalStackEndpoint)
		if err != nil {
			return nil, err
		}
		decrypter = c
	}

	keyBytes, err := decrypter.DecryptKey(ctx, cfg.Keeper.KMSKeyCiphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt keeper key: %w", err)
	}
	ks, err := signer.NewKeystore(keyBytes)
	if err != nil {
		return nil, &chain.ConfigurationError{Field: "KEEPER_KMS_KEY_CIPHERTEXT", Reason: err.Error()}
	}
	return ks, nil
}

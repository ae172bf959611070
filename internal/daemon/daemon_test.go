package daemon

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/v3-keepers/keepers/internal/chain"
	"github.com/v3-keepers/keepers/internal/config"
	"github.com/v3-keepers/keepers/internal/keeper"
)

type fakeDecrypter struct {
	key []byte
	err error
	got string
}

func (f *fakeDecrypter) DecryptKey(_ context.Context, ciphertextB64 string) ([]byte, error) {
	f.got = ciphertextB64
	if f.err != nil {
		return nil, f.err
	}
	out := make([]byte, len(f.key))
	copy(out, f.key)
	return out, nil
}

func TestLoadKeystore_FromHex(t *testing.T) {
	key, _ := crypto.GenerateKey()
	cfg := &config.Config{Keeper: config.KeeperConfig{PrivateKey: hexutil.Encode(crypto.FromECDSA(key))}}

	ks, err := LoadKeystore(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer ks.Destroy()

	if ks.Address() != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatal("keystore address does not match the configured key")
	}
}

func TestLoadKeystore_BadHexIsConfigurationError(t *testing.T) {
	cfg := &config.Config{Keeper: config.KeeperConfig{PrivateKey: "not-a-key"}}

	_, err := LoadKeystore(context.Background(), cfg, nil)
	if !errors.Is(err, chain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestLoadKeystore_FromKMS(t *testing.T) {
	key, _ := crypto.GenerateKey()
	dec := &fakeDecrypter{key: crypto.FromECDSA(key)}
	cfg := &config.Config{Keeper: config.KeeperConfig{KMSKeyCiphertext: "Y2lwaGVy"}}

	ks, err := LoadKeystore(context.Background(), cfg, dec)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer ks.Destroy()

	if dec.got != "Y2lwaGVy" {
		t.Fatalf("decrypter received %q", dec.got)
	}
	if ks.Address() != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatal("keystore address does not match the decrypted key")
	}
}

func TestLoadKeystore_KMSFailure(t *testing.T) {
	dec := &fakeDecrypter{err: errors.New("access denied")}
	cfg := &config.Config{Keeper: config.KeeperConfig{KMSKeyCiphertext: "Y2lwaGVy"}}

	if _, err := LoadKeystore(context.Background(), cfg, dec); err == nil {
		t.Fatal("expected decrypt failure to propagate")
	}
}

func TestRun_CycleErrorIsFatal(t *testing.T) {
	rt := &Runtime{Config: &config.Config{IntervalSec: 1}, Log: zerolog.Nop()}
	boom := errors.New("snapshot failed")

	calls := 0
	err := rt.Run(context.Background(), func(context.Context) (*keeper.Report, error) {
		calls++
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one cycle, got %d", calls)
	}
}

func TestRun_CancelStopsLoop(t *testing.T) {
	rt := &Runtime{Config: &config.Config{IntervalSec: 300}, Log: zerolog.Nop()}
	ctx, cancel := context.WithCancel(context.Background())

	err := rt.Run(ctx, func(context.Context) (*keeper.Report, error) {
		cancel()
		return &keeper.Report{}, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestClose_PartialRuntime(t *testing.T) {
	rt := &Runtime{Log: zerolog.Nop()}
	rt.Close()
}

func TestDispatcherConfig_NoRecorder(t *testing.T) {
	rt := &Runtime{Service: "settler", Log: zerolog.Nop()}
	cfg := rt.DispatcherConfig(nil)
	if cfg.Recorder != nil {
		t.Fatal("recorder must stay nil when no sink is configured")
	}
	if cfg.Service != "settler" || cfg.Params != nil {
		t.Fatalf("unexpected dispatcher config %+v", cfg)
	}
}

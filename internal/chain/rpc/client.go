package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/v3-keepers/keepers/internal/chain"
)

// Namespace of the protocol's JSON-RPC methods.
const Namespace = "keeper"

// Options carries per-request settings understood by the node.
type Options struct {
	Commitment string `json:"commitment,omitempty"`
}

// Config tunes a Client.
type Config struct {
	URL            string
	Commitment     string
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// Client reads protocol state and submits transactions over JSON-RPC. It
// implements chain.AccountSource and chain.TransactionService.
type Client struct {
	rpc  *gethrpc.Client
	cfg  Config
	opts *Options
}

// Dial connects to the node at cfg.URL (http, ws or ipc).
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	c, err := gethrpc.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", cfg.URL, err)
	}
	return NewClient(c, cfg), nil
}

// NewClient wraps an existing go-ethereum RPC client.
func NewClient(c *gethrpc.Client, cfg Config) *Client {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	var opts *Options
	if cfg.Commitment != "" {
		opts = &Options{Commitment: cfg.Commitment}
	}
	return &Client{rpc: c, cfg: cfg, opts: opts}
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) call(ctx context.Context, result any, method string, args ...any) error {
	if c.opts != nil {
		args = append(args, c.opts)
	}
	if err := c.rpc.CallContext(ctx, result, Namespace+"_"+method, args...); err != nil {
		return fmt.Errorf("rpc: %s: %w", method, classify(err))
	}
	return nil
}

// classify tags transport failures as transient. Errors reported by the
// node itself are passed through for the caller to interpret.
func classify(err error) error {
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", chain.ErrTransient, err)
}

// Exchange returns nil when no exchange exists at addr.
func (c *Client) Exchange(ctx context.Context, addr chain.Address) (*chain.Exchange, error) {
	var ex *chain.Exchange
	if err := c.call(ctx, &ex, "getExchange", addr); err != nil {
		return nil, err
	}
	return ex, nil
}

// Markets returns one entry per address, nil where the market is absent.
func (c *Client) Markets(ctx context.Context, addrs []chain.Address) ([]*chain.Market, error) {
	var out []*chain.Market
	if err := c.call(ctx, &out, "getMarkets", addrs); err != nil {
		return nil, err
	}
	if len(out) != len(addrs) {
		return nil, fmt.Errorf("rpc: getMarkets: %d results for %d addresses", len(out), len(addrs))
	}
	return out, nil
}

// PriceFeeds returns one entry per address, nil where the feed is absent.
func (c *Client) PriceFeeds(ctx context.Context, addrs []chain.Address) ([]*chain.PriceFeed, error) {
	var out []*chain.PriceFeed
	if err := c.call(ctx, &out, "getPriceFeeds", addrs); err != nil {
		return nil, err
	}
	if len(out) != len(addrs) {
		return nil, fmt.Errorf("rpc: getPriceFeeds: %d results for %d addresses", len(out), len(addrs))
	}
	return out, nil
}

func (c *Client) AllMarginAccounts(ctx context.Context) ([]chain.ProgramAccount[chain.MarginAccount], error) {
	var out []chain.ProgramAccount[chain.MarginAccount]
	if err := c.call(ctx, &out, "getAllMarginAccounts"); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AllSettlementRequests(ctx context.Context) ([]chain.ProgramAccount[chain.SettlementRequest], error) {
	var out []chain.ProgramAccount[chain.SettlementRequest]
	if err := c.call(ctx, &out, "getAllSettlementRequests"); err != nil {
		return nil, err
	}
	return out, nil
}

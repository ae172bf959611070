package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/v3-keepers/keepers/internal/chain"
)

// Instruction tags understood by the program.
const (
	tagLiquidate                 uint8 = 1
	tagProcessSettlementRequests uint8 = 2
)

type liquidateInstruction struct {
	Tag                     uint8
	MarginAccount           common.Address
	Exchange                common.Address
	Owner                   common.Address
	Liquidator              common.Address
	LiquidatorMarginAccount common.Address
	Markets                 []common.Address
	PriceFeeds              []common.Address
	PriorityFee             uint64
}

type settleInstruction struct {
	Tag                uint8
	Exchange           common.Address
	CollateralVault    common.Address
	KeeperTokenAccount common.Address
	Payer              common.Address
	Requests           []common.Address
	OwnerTokenAccounts []common.Address
	Owners             []common.Address
}

// message is the signed portion of a transaction.
type message struct {
	FeePayer    common.Address
	Blockhash   common.Hash
	Instruction []byte
}

type signedTransaction struct {
	Message    []byte
	Signatures [][]byte
}

// SignatureStatus is the node's view of a submitted transaction.
type SignatureStatus struct {
	ConfirmationStatus string  `json:"confirmationStatus"`
	Err                *string `json:"err"`
}

var commitmentRank = map[string]int{
	"processed": 1,
	"confirmed": 2,
	"finalized": 3,
}

// LatestBlockhash implements chain.TransactionService.
func (c *Client) LatestBlockhash(ctx context.Context) (chain.Blockhash, error) {
	var bh common.Hash
	if err := c.call(ctx, &bh, "getLatestBlockhash"); err != nil {
		return chain.Blockhash{}, err
	}
	return bh, nil
}

// SubmitLiquidation implements chain.TransactionService.
func (c *Client) SubmitLiquidation(ctx context.Context, tx chain.LiquidationTx) (chain.Signature, error) {
	markets, feeds := tx.Markets.Flatten()
	ix := liquidateInstruction{
		Tag:                     tagLiquidate,
		MarginAccount:           tx.Accounts.MarginAccount,
		Exchange:                tx.Accounts.Exchange,
		Owner:                   tx.Accounts.Owner,
		Liquidator:              tx.Accounts.Liquidator,
		LiquidatorMarginAccount: tx.Accounts.LiquidatorMarginAccount,
		Markets:                 markets,
		PriceFeeds:              feeds,
	}
	if tx.Params != nil {
		ix.PriorityFee = tx.Params.PriorityFee
	}
	return c.sendAndConfirm(ctx, ix, tx.FeePayer, tx.Blockhash, tx.Signers)
}

// SubmitSettlementBatch implements chain.TransactionService.
func (c *Client) SubmitSettlementBatch(ctx context.Context, tx chain.SettlementTx) (chain.Signature, error) {
	requests, tokenAccounts, owners := tx.Entries.Flatten()
	ix := settleInstruction{
		Tag:                tagProcessSettlementRequests,
		Exchange:           tx.Accounts.Exchange,
		CollateralVault:    tx.Accounts.CollateralVault,
		KeeperTokenAccount: tx.Accounts.KeeperTokenAccount,
		Payer:              tx.Accounts.Payer,
		Requests:           requests,
		OwnerTokenAccounts: tokenAccounts,
		Owners:             owners,
	}
	return c.sendAndConfirm(ctx, ix, tx.FeePayer, tx.Blockhash, tx.Signers)
}

// BuildSigned encodes the instruction into a message, signs its keccak256
// hash with every signer and returns the raw transaction and its id.
func BuildSigned(instruction any, feePayer common.Address, blockhash common.Hash, signers []chain.Signer) ([]byte, common.Hash, error) {
	ixBytes, err := rlp.EncodeToBytes(instruction)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("encode instruction: %w", err)
	}
	msg, err := rlp.EncodeToBytes(message{FeePayer: feePayer, Blockhash: blockhash, Instruction: ixBytes})
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("encode message: %w", err)
	}
	hash := crypto.Keccak256(msg)

	sigs := make([][]byte, 0, len(signers))
	for _, s := range signers {
		sig, err := s.SignHash(hash)
		if err != nil {
			return nil, common.Hash{}, fmt.Errorf("sign as %s: %w", s.Address().Hex(), err)
		}
		sigs = append(sigs, sig)
	}

	raw, err := rlp.EncodeToBytes(signedTransaction{Message: msg, Signatures: sigs})
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("encode transaction: %w", err)
	}
	return raw, common.BytesToHash(hash), nil
}

func (c *Client) sendAndConfirm(ctx context.Context, instruction any, feePayer common.Address, blockhash common.Hash, signers []chain.Signer) (chain.Signature, error) {
	raw, _, err := BuildSigned(instruction, feePayer, blockhash, signers)
	if err != nil {
		return chain.Signature{}, err
	}

	var sig common.Hash
	if err := c.call(ctx, &sig, "sendTransaction", hexutil.Bytes(raw)); err != nil {
		if !errors.Is(err, chain.ErrTransient) && !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%w: %w", chain.ErrTransactionRejected, err)
		}
		return chain.Signature{}, err
	}

	if err := c.confirm(ctx, sig); err != nil {
		return chain.Signature{}, err
	}
	return sig, nil
}

// confirm polls the signature status until it reaches the configured
// commitment, fails on-chain, or ConfirmTimeout elapses.
func (c *Client) confirm(ctx context.Context, sig common.Hash) error {
	want := commitmentRank[c.cfg.Commitment]
	if want == 0 {
		want = commitmentRank["confirmed"]
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		var status *SignatureStatus
		if err := c.rpc.CallContext(ctx, &status, Namespace+"_getSignatureStatus", sig); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: confirm %s: %w", chain.ErrTransient, sig.Hex(), ctx.Err())
			}
			return fmt.Errorf("rpc: getSignatureStatus: %w", classify(err))
		}
		if status != nil {
			if status.Err != nil {
				return fmt.Errorf("%w: %s: %s", chain.ErrTransactionRejected, sig.Hex(), *status.Err)
			}
			if commitmentRank[status.ConfirmationStatus] >= want {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: confirm %s: %w", chain.ErrTransient, sig.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

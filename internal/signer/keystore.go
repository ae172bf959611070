package signer

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrKeystoreDestroyed = errors.New("keystore destroyed")
	ErrInvalidHash       = errors.New("hash must be 32 bytes")
)

// Keystore holds the keeper's private key in locked memory. The key is
// encrypted at rest via memguard.Enclave and only opened momentarily
// during SignHash. The address is derived once and never changes.
type Keystore struct {
	mu      sync.Mutex
	enclave *memguard.Enclave
	address common.Address
}

// NewKeystore seals keyBytes into a memguard Enclave and derives the keeper
// address from it. keyBytes is wiped before returning.
func NewKeystore(keyBytes []byte) (*Keystore, error) {
	privKey, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		memguard.WipeBytes(keyBytes)
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	addr := crypto.PubkeyToAddress(privKey.PublicKey)

	// NewEnclave wipes keyBytes.
	return &Keystore{
		enclave: memguard.NewEnclave(keyBytes),
		address: addr,
	}, nil
}

// NewKeystoreFromHex parses a hex encoded secp256k1 key, with or without
// a 0x prefix.
func NewKeystoreFromHex(s string) (*Keystore, error) {
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	return NewKeystore(keyBytes)
}

// Address returns the keeper address. It doubles as the fee payer.
func (k *Keystore) Address() common.Address {
	return k.address
}

// SignHash opens the enclave, signs the 32-byte hash with ECDSA and returns
// a 65-byte signature (r || s || v) with v in {0, 1}.
func (k *Keystore) SignHash(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, ErrInvalidHash
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.enclave == nil {
		return nil, ErrKeystoreDestroyed
	}

	buf, err := k.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("open enclave: %w", err)
	}

	var privKey *ecdsa.PrivateKey
	privKey, err = crypto.ToECDSA(buf.Bytes())
	buf.Destroy()
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return nil, fmt.Errorf("ecdsa sign: %w", err)
	}
	return sig, nil
}

// Destroy drops the enclave. Subsequent SignHash calls fail.
func (k *Keystore) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.enclave = nil
}

package chain

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Seeds used for deterministic address derivation. They must match the
// program's own derivation or every lookup comes back absent.
var (
	exchangeSeed   = []byte("exchange")
	marketSeed     = []byte("market")
	associatedSeed = []byte("associated_token")
)

// deriveAddress hashes the seeds with keccak256 and keeps the low 20 bytes.
func deriveAddress(seeds ...[]byte) Address {
	return common.BytesToAddress(crypto.Keccak256(seeds...))
}

// ExchangeAddress derives the address of the exchange with the given index.
func ExchangeAddress(index uint64) Address {
	var idx [8]byte
	binary.LittleEndian.PutUint64(idx[:], index)
	return deriveAddress(exchangeSeed, idx[:])
}

// MarketAddress derives the address of market id under exchange.
func MarketAddress(exchange Address, id uint32) Address {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], id)
	return deriveAddress(marketSeed, exchange.Bytes(), buf[:])
}

// AssociatedTokenAddress derives owner's token account for mint.
func AssociatedTokenAddress(mint, owner Address) Address {
	return deriveAddress(associatedSeed, owner.Bytes(), mint.Bytes())
}

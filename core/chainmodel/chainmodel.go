// Package chainmodel defines the engine's value types for blocks and
// transactions, and the conversions from the raw hex-string dictionary form
// produced by an upstream RPC client into those typed values.
package chainmodel

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TxKind distinguishes the two transaction fee shapes this engine
// understands. Any on-chain type other than 0x2 collapses to KindLegacy
// (0x1's access-list-with-legacy-fee semantics included).
type TxKind uint8

const (
	KindLegacy TxKind = iota
	KindDynamicFee
)

// ProducerID is the block's producer/validator identity. The engine never
// interprets it beyond equality and string formatting.
type ProducerID string

// TxBase holds the fields common to every transaction variant.
type TxBase struct {
	TxHash    common.Hash
	From      common.Address
	TxNonce   uint64
	TxGas     uint64
	FirstSeen uint64
	// CensoredAt accumulates the numbers of blocks that omitted this
	// transaction while it was economically includable. Empty for a
	// transaction that has never been censored or that is no longer
	// pending.
	CensoredAt []uint64
}

func (b *TxBase) Hash() common.Hash    { return b.TxHash }
func (b *TxBase) Sender() common.Address { return b.From }
func (b *TxBase) Nonce() uint64        { return b.TxNonce }
func (b *TxBase) Gas() uint64          { return b.TxGas }
func (b *TxBase) FirstSeenAt() uint64  { return b.FirstSeen }

func (b *TxBase) CensoredBlocks() []uint64 {
	return b.CensoredAt
}

func (b *TxBase) AppendCensoredBlock(blockNumber uint64) {
	b.CensoredAt = append(b.CensoredAt, blockNumber)
}

// Tx is the sum type over the two transaction fee shapes this engine
// understands. Identity is Hash().
type Tx interface {
	Hash() common.Hash
	Sender() common.Address
	Nonce() uint64
	Gas() uint64
	FirstSeenAt() uint64
	CensoredBlocks() []uint64
	AppendCensoredBlock(blockNumber uint64)
	Kind() TxKind
}

// LegacyTx is a pre-EIP-1559 transaction: a single gas_price field.
type LegacyTx struct {
	TxBase
	GasPrice *big.Int
}

func (t *LegacyTx) Kind() TxKind { return KindLegacy }

// DynamicFeeTx is an EIP-1559-style transaction.
type DynamicFeeTx struct {
	TxBase
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

func (t *DynamicFeeTx) Kind() TxKind { return KindDynamicFee }

var (
	_ Tx = (*LegacyTx)(nil)
	_ Tx = (*DynamicFeeTx)(nil)
)

// Block is an immutable, already-canonical block as reported by a
// ChainSource.
type Block struct {
	Number        uint64
	Hash          common.Hash
	ParentHash    common.Hash
	Timestamp     uint64
	BaseFeePerGas *big.Int
	GasLimit      uint64
	GasUsed       uint64
	ProducerID    ProducerID
	Transactions  []Tx
}

// GasRemaining returns the gas room left in the block.
func (b *Block) GasRemaining() uint64 {
	if b.GasUsed >= b.GasLimit {
		return 0
	}
	return b.GasLimit - b.GasUsed
}

// BadPayloadError reports a missing or malformed required field while
// converting a raw hex-string payload to a typed value.
type BadPayloadError struct {
	Field  string
	Reason string
}

func (e *BadPayloadError) Error() string {
	return "bad payload: field " + e.Field + ": " + e.Reason
}

package chainmodel

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Raw is the normalized-but-untyped hex-string dictionary form an upstream
// RPC client produces for a transaction or a block. Unknown keys are
// ignored by every parser in this file.
type Raw map[string]any

// ParseTx converts a raw transaction body to a typed Tx. now is consulted
// only when the body carries no usable first-seen hint of its own; callers
// that already resolved first_seen (e.g. chainstate draining its timestamp
// map) should set raw["firstSeen"] before calling ParseTx, or just set the
// field on the returned value directly.
func ParseTx(raw Raw, now func() uint64) (Tx, error) {
	hash, err := decodeHash(raw, "hash")
	if err != nil {
		return nil, err
	}
	sender, err := decodeAddress(raw, "from")
	if err != nil {
		return nil, err
	}
	nonce, err := decodeUint64(raw, "nonce")
	if err != nil {
		return nil, err
	}
	gas, err := decodeUint64(raw, "gas")
	if err != nil {
		return nil, err
	}

	var firstSeen uint64
	if n, ok := raw["firstSeen"].(uint64); ok {
		firstSeen = n
	} else {
		firstSeen = now()
	}

	base := TxBase{
		TxHash:    hash,
		From:      sender,
		TxNonce:   nonce,
		TxGas:     gas,
		FirstSeen: firstSeen,
	}

	kind := txKind(raw)
	if kind == KindDynamicFee {
		maxFee, err := decodeBig(raw, "maxFeePerGas")
		if err != nil {
			return nil, err
		}
		maxPriority, err := decodeBig(raw, "maxPriorityFeePerGas")
		if err != nil {
			return nil, err
		}
		return &DynamicFeeTx{TxBase: base, MaxFeePerGas: maxFee, MaxPriorityFeePerGas: maxPriority}, nil
	}

	gasPrice, err := decodeBig(raw, "gasPrice")
	if err != nil {
		return nil, err
	}
	return &LegacyTx{TxBase: base, GasPrice: gasPrice}, nil
}

// txKind inspects the type field first, per the spec: only 0x2 selects
// DynamicFee, any other value (including a missing field) is Legacy.
func txKind(raw Raw) TxKind {
	v, ok := raw["type"]
	if !ok {
		return KindLegacy
	}
	s, ok := v.(string)
	if !ok {
		return KindLegacy
	}
	n, err := hexutil.DecodeUint64(s)
	if err != nil || n != 2 {
		return KindLegacy
	}
	return KindDynamicFee
}

// ParseBlock converts a raw block body, including its nested transactions,
// to a typed Block. A malformed transaction within an otherwise well-formed
// block is dropped rather than failing the whole block; the caller is
// expected to log the dropped transaction's error.
func ParseBlock(raw Raw, now func() uint64) (*Block, []error, error) {
	number, err := decodeUint64(raw, "number")
	if err != nil {
		return nil, nil, err
	}
	hash, err := decodeHash(raw, "hash")
	if err != nil {
		return nil, nil, err
	}
	parentHash, err := decodeHash(raw, "parentHash")
	if err != nil {
		return nil, nil, err
	}
	timestamp, err := decodeUint64(raw, "timestamp")
	if err != nil {
		return nil, nil, err
	}
	baseFee, err := decodeBig(raw, "baseFeePerGas")
	if err != nil {
		return nil, nil, err
	}
	gasLimit, err := decodeUint64(raw, "gasLimit")
	if err != nil {
		return nil, nil, err
	}
	gasUsed, err := decodeUint64(raw, "gasUsed")
	if err != nil {
		return nil, nil, err
	}
	producer, err := decodeString(raw, "miner")
	if err != nil {
		return nil, nil, err
	}

	rawTxs := asRawSlice(raw["transactions"])
	txs := make([]Tx, 0, len(rawTxs))
	var txErrs []error
	for _, rawTx := range rawTxs {
		tx, err := ParseTx(rawTx, now)
		if err != nil {
			txErrs = append(txErrs, err)
			continue
		}
		txs = append(txs, tx)
	}

	return &Block{
		Number:        number,
		Hash:          hash,
		ParentHash:    parentHash,
		Timestamp:     timestamp,
		BaseFeePerGas: baseFee,
		GasLimit:      gasLimit,
		GasUsed:       gasUsed,
		ProducerID:    ProducerID(producer),
		Transactions:  txs,
	}, txErrs, nil
}

// asRawSlice normalizes the "transactions" field to []Raw regardless of
// whether it arrived as a hand-built []Raw (tests) or as the
// []interface{} of map[string]interface{} that encoding/json produces for
// a nested array of objects decoded into an any-typed field.
func asRawSlice(v any) []Raw {
	switch vs := v.(type) {
	case []Raw:
		return vs
	case []any:
		out := make([]Raw, 0, len(vs))
		for _, item := range vs {
			switch m := item.(type) {
			case Raw:
				out = append(out, m)
			case map[string]any:
				out = append(out, Raw(m))
			}
		}
		return out
	default:
		return nil
	}
}

func decodeString(raw Raw, field string) (string, error) {
	v, ok := raw[field]
	if !ok {
		return "", &BadPayloadError{Field: field, Reason: "missing"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &BadPayloadError{Field: field, Reason: "not a string"}
	}
	return s, nil
}

func decodeHash(raw Raw, field string) (common.Hash, error) {
	s, err := decodeString(raw, field)
	if err != nil {
		return common.Hash{}, err
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, &BadPayloadError{Field: field, Reason: err.Error()}
	}
	if len(b) != common.HashLength {
		return common.Hash{}, &BadPayloadError{Field: field, Reason: "wrong length for a hash"}
	}
	return common.BytesToHash(b), nil
}

func decodeAddress(raw Raw, field string) (common.Address, error) {
	s, err := decodeString(raw, field)
	if err != nil {
		return common.Address{}, err
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Address{}, &BadPayloadError{Field: field, Reason: err.Error()}
	}
	if len(b) != common.AddressLength {
		return common.Address{}, &BadPayloadError{Field: field, Reason: "wrong length for an address"}
	}
	return common.BytesToAddress(b), nil
}

func decodeUint64(raw Raw, field string) (uint64, error) {
	s, err := decodeString(raw, field)
	if err != nil {
		return 0, err
	}
	n, err := hexutil.DecodeUint64(s)
	if err != nil {
		return 0, &BadPayloadError{Field: field, Reason: err.Error()}
	}
	return n, nil
}

func decodeBig(raw Raw, field string) (*big.Int, error) {
	s, err := decodeString(raw, field)
	if err != nil {
		return nil, err
	}
	n, err := hexutil.DecodeBig(s)
	if err != nil {
		return nil, &BadPayloadError{Field: field, Reason: err.Error()}
	}
	return n, nil
}

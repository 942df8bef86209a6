// Package feemath implements the engine's pure fee arithmetic over
// EIP-1559 and legacy transactions. Every function here is total and
// side-effect free given well-typed input; a caller passing a transaction
// with nil fee fields has already violated the chainmodel contract and gets
// a panic, not an error return.
package feemath

import (
	"math/big"

	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/core/chainmodel"
)

// EffectivePriorityFee returns the per-gas amount tx actually pays the
// block producer given baseFee, saturating at zero rather than going
// negative.
func EffectivePriorityFee(tx chainmodel.Tx, baseFee *big.Int) *big.Int {
	switch t := tx.(type) {
	case *chainmodel.DynamicFeeTx:
		headroom := new(big.Int).Sub(t.MaxFeePerGas, baseFee)
		if headroom.Sign() < 0 {
			return new(big.Int)
		}
		if headroom.Cmp(t.MaxPriorityFeePerGas) > 0 {
			return new(big.Int).Set(t.MaxPriorityFeePerGas)
		}
		return headroom
	case *chainmodel.LegacyTx:
		tip := new(big.Int).Sub(t.GasPrice, baseFee)
		if tip.Sign() < 0 {
			return new(big.Int)
		}
		return tip
	default:
		panic("feemath: unknown tx variant")
	}
}

// MaxBaseFeePayable returns the highest base fee tx could pay while still
// honoring its own fee cap.
func MaxBaseFeePayable(tx chainmodel.Tx) *big.Int {
	switch t := tx.(type) {
	case *chainmodel.DynamicFeeTx:
		return new(big.Int).Sub(t.MaxFeePerGas, t.MaxPriorityFeePerGas)
	case *chainmodel.LegacyTx:
		return new(big.Int).Set(t.GasPrice)
	default:
		panic("feemath: unknown tx variant")
	}
}

// BlockMinPriorityFee returns the minimum effective priority fee paid by
// any transaction actually included in block, or zero for an empty block.
// The empty-block case is the only source of a zero floor here — unlike a
// bootstrapped-at-zero running minimum, a non-empty block's floor is always
// the true minimum over its own transactions.
func BlockMinPriorityFee(block *chainmodel.Block) *big.Int {
	if len(block.Transactions) == 0 {
		return new(big.Int)
	}
	min := EffectivePriorityFee(block.Transactions[0], block.BaseFeePerGas)
	for _, tx := range block.Transactions[1:] {
		fee := EffectivePriorityFee(tx, block.BaseFeePerGas)
		if fee.Cmp(min) < 0 {
			min = fee
		}
	}
	return min
}

// BaseFeeCeiling returns floor(baseFee * headroomNum / headroomDen), the
// conservative margin a pending tx's MaxBaseFeePayable must clear to be
// considered includable against next-block base-fee escalation.
func BaseFeeCeiling(baseFee *big.Int, headroomNum, headroomDen int64) *big.Int {
	ceil := new(big.Int).Mul(baseFee, big.NewInt(headroomNum))
	return ceil.Div(ceil, big.NewInt(headroomDen))
}

package feemath

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/core/chainmodel"
)

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

func dynamicTx(maxFee, maxPriority int64) *chainmodel.DynamicFeeTx {
	return &chainmodel.DynamicFeeTx{
		TxBase:               chainmodel.TxBase{TxHash: common.HexToHash("0x1")},
		MaxFeePerGas:         gwei(maxFee),
		MaxPriorityFeePerGas: gwei(maxPriority),
	}
}

func legacyTx(gasPrice int64) *chainmodel.LegacyTx {
	return &chainmodel.LegacyTx{
		TxBase:   chainmodel.TxBase{TxHash: common.HexToHash("0x2")},
		GasPrice: gwei(gasPrice),
	}
}

func TestEffectivePriorityFeeDynamic(t *testing.T) {
	tx := dynamicTx(200, 10)
	require.Equal(t, gwei(10), EffectivePriorityFee(tx, gwei(100)))
}

func TestEffectivePriorityFeeDynamicCappedByHeadroom(t *testing.T) {
	tx := dynamicTx(105, 10)
	require.Equal(t, gwei(5), EffectivePriorityFee(tx, gwei(100)))
}

func TestEffectivePriorityFeeDynamicBelowBaseFeeSaturatesAtZero(t *testing.T) {
	tx := dynamicTx(90, 10)
	require.Equal(t, big.NewInt(0), EffectivePriorityFee(tx, gwei(100)))
}

func TestEffectivePriorityFeeLegacy(t *testing.T) {
	tx := legacyTx(105)
	require.Equal(t, gwei(5), EffectivePriorityFee(tx, gwei(100)))
}

func TestEffectivePriorityFeeLegacySaturatesAtZero(t *testing.T) {
	tx := legacyTx(90)
	require.Equal(t, big.NewInt(0), EffectivePriorityFee(tx, gwei(100)))
}

func TestMaxBaseFeePayable(t *testing.T) {
	require.Equal(t, gwei(190), MaxBaseFeePayable(dynamicTx(200, 10)))
	require.Equal(t, gwei(105), MaxBaseFeePayable(legacyTx(105)))
}

func TestBlockMinPriorityFeeEmptyBlock(t *testing.T) {
	block := &chainmodel.Block{BaseFeePerGas: gwei(100)}
	require.Equal(t, big.NewInt(0), BlockMinPriorityFee(block))
}

func TestBlockMinPriorityFeeNonEmptyBlock(t *testing.T) {
	block := &chainmodel.Block{
		BaseFeePerGas: gwei(100),
		Transactions: []chainmodel.Tx{
			dynamicTx(200, 20),
			legacyTx(108),
			dynamicTx(115, 50),
		},
	}
	// effective fees: 20, 8, 15 -> min is 8
	require.Equal(t, gwei(8), BlockMinPriorityFee(block))
}

func TestBaseFeeCeiling(t *testing.T) {
	require.Equal(t, gwei(150), BaseFeeCeiling(gwei(100), 3, 2))
}

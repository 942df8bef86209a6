package chainmodel

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func fixedNow() uint64 { return 555 }

func TestParseTxDynamicFee(t *testing.T) {
	raw := Raw{
		"hash":                 "0x" + repeat("11", 32),
		"from":                 "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"nonce":                "0x7",
		"gas":                  "0x5208",
		"type":                 "0x2",
		"maxFeePerGas":         "0x4e3b29200",
		"maxPriorityFeePerGas": "0x3b9aca00",
	}

	tx, err := ParseTx(raw, fixedNow)
	require.NoError(t, err)
	require.Equal(t, KindDynamicFee, tx.Kind())
	require.Equal(t, uint64(7), tx.Nonce())
	require.Equal(t, uint64(0x5208), tx.Gas())
	require.Equal(t, uint64(555), tx.FirstSeenAt())

	dyn, ok := tx.(*DynamicFeeTx)
	require.True(t, ok)
	require.Equal(t, "21000000000", dyn.MaxFeePerGas.String())
	require.Equal(t, "1000000000", dyn.MaxPriorityFeePerGas.String())
}

func TestParseTxLegacyDefaultsOnMissingType(t *testing.T) {
	raw := Raw{
		"hash":     "0x" + repeat("22", 32),
		"from":     "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		"nonce":    "0x0",
		"gas":      "0x5208",
		"gasPrice": "0x3b9aca00",
	}
	tx, err := ParseTx(raw, fixedNow)
	require.NoError(t, err)
	require.Equal(t, KindLegacy, tx.Kind())
	legacy, ok := tx.(*LegacyTx)
	require.True(t, ok)
	require.Equal(t, "1000000000", legacy.GasPrice.String())
}

func TestParseTxRespectsExplicitFirstSeen(t *testing.T) {
	raw := Raw{
		"hash":      "0x" + repeat("33", 32),
		"from":      "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		"nonce":     "0x0",
		"gas":       "0x5208",
		"gasPrice":  "0x1",
		"firstSeen": uint64(123),
	}
	tx, err := ParseTx(raw, fixedNow)
	require.NoError(t, err)
	require.Equal(t, uint64(123), tx.FirstSeenAt())
}

func TestParseTxMissingHashIsBadPayload(t *testing.T) {
	raw := Raw{
		"from":     "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		"nonce":    "0x0",
		"gas":      "0x5208",
		"gasPrice": "0x1",
	}
	_, err := ParseTx(raw, fixedNow)
	require.Error(t, err)
	var badPayload *BadPayloadError
	require.ErrorAs(t, err, &badPayload)
	require.Equal(t, "hash", badPayload.Field)
}

func TestParseTxWrongLengthAddressIsBadPayload(t *testing.T) {
	raw := Raw{
		"hash":     "0x" + repeat("44", 32),
		"from":     "0xbb",
		"nonce":    "0x0",
		"gas":      "0x5208",
		"gasPrice": "0x1",
	}
	_, err := ParseTx(raw, fixedNow)
	require.Error(t, err)
	var badPayload *BadPayloadError
	require.ErrorAs(t, err, &badPayload)
	require.Equal(t, "from", badPayload.Field)
}

func TestParseBlockDropsMalformedTxButKeepsGood(t *testing.T) {
	good := Raw{
		"hash":     "0x" + repeat("55", 32),
		"from":     "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		"nonce":    "0x0",
		"gas":      "0x5208",
		"gasPrice": "0x1",
	}
	bad := Raw{
		"from":     "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		"nonce":    "0x1",
		"gas":      "0x5208",
		"gasPrice": "0x1",
	}
	raw := Raw{
		"number":        "0x10",
		"hash":          "0x" + repeat("66", 32),
		"parentHash":    "0x" + repeat("77", 32),
		"timestamp":     "0x5f5e100",
		"baseFeePerGas": "0x3b9aca00",
		"gasLimit":      "0x1c9c380",
		"gasUsed":       "0xf4240",
		"miner":         "validator-7",
		"transactions":  []Raw{good, bad},
	}

	block, txErrs, err := ParseBlock(raw, fixedNow)
	require.NoError(t, err)
	require.Len(t, txErrs, 1)
	require.Len(t, block.Transactions, 1)
	require.Equal(t, uint64(16), block.Number)
	require.Equal(t, ProducerID("validator-7"), block.ProducerID)
}

func TestParseBlockMissingNumberIsBadPayload(t *testing.T) {
	raw := Raw{
		"hash": "0x" + repeat("88", 32),
	}
	_, _, err := ParseBlock(raw, fixedNow)
	require.Error(t, err)
	var badPayload *BadPayloadError
	require.ErrorAs(t, err, &badPayload)
	require.Equal(t, "number", badPayload.Field)
}

func TestGasRemainingSaturatesAtZero(t *testing.T) {
	b := &Block{GasLimit: 100, GasUsed: 150}
	require.Equal(t, uint64(0), b.GasRemaining())

	b2 := &Block{GasLimit: 100, GasUsed: 40}
	require.Equal(t, uint64(60), b2.GasRemaining())
}

func TestAppendCensoredBlockAccumulates(t *testing.T) {
	tx := &LegacyTx{TxBase: TxBase{TxHash: common.HexToHash("0x1")}}
	tx.AppendCensoredBlock(10)
	tx.AppendCensoredBlock(11)
	require.Equal(t, []uint64{10, 11}, tx.CensoredBlocks())
}

func repeat(pair string, n int) string {
	out := make([]byte, 0, len(pair)*n)
	for i := 0; i < n; i++ {
		out = append(out, pair...)
	}
	return string(out)
}

package chainstate

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/core/chainmodel"
)

func rawLegacyTx(hash, sender string, nonce, gas, gasPrice uint64) chainmodel.Raw {
	return chainmodel.Raw{
		"hash":     hash,
		"from":     sender,
		"nonce":    hexUint(nonce),
		"gas":      hexUint(gas),
		"gasPrice": hexUint(gasPrice),
		"type":     "0x0",
	}
}

func hexUint(n uint64) string {
	return "0x" + bigHex(n)
}

func bigHex(n uint64) string {
	const digits = "0123456789abcdef"
	if n == 0 {
		return "0"
	}
	var buf [16]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = digits[n%16]
		n /= 16
	}
	return string(buf[i:])
}

func fixedNow() uint64 { return 1000 }

var sA = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

func TestNotePendingHashThenSnapshotUsesTimestamp(t *testing.T) {
	s := New()
	hash := common.HexToHash("0xaa")
	s.NotePendingHash(hash, 42)

	snapshot := map[common.Address]map[uint64]chainmodel.Raw{
		sA: {7: rawLegacyTx(hash.Hex(), sA.Hex(), 7, 21000, 100)},
	}
	s.ApplyMempoolSnapshot(snapshot, fixedNow, nil)

	require.Equal(t, 1, s.PendingLen())
	pending := s.PendingSnapshot()
	require.Equal(t, uint64(42), pending[0].FirstSeenAt())
}

func TestNotePendingHashIgnoredIfAlreadyPending(t *testing.T) {
	s := New()
	hash := common.HexToHash("0xaa")
	snapshot := map[common.Address]map[uint64]chainmodel.Raw{
		sA: {7: rawLegacyTx(hash.Hex(), sA.Hex(), 7, 21000, 100)},
	}
	s.ApplyMempoolSnapshot(snapshot, fixedNow, nil)
	s.NotePendingHash(hash, 99) // should be a no-op: hash is already pending

	pending := s.PendingSnapshot()
	require.Equal(t, uint64(1000), pending[0].FirstSeenAt())
}

func TestApplyMempoolSnapshotPicksMinimumNoncePerSender(t *testing.T) {
	s := New()
	snapshot := map[common.Address]map[uint64]chainmodel.Raw{
		sA: {
			9: rawLegacyTx(common.HexToHash("0x9").Hex(), sA.Hex(), 9, 21000, 100),
			7: rawLegacyTx(common.HexToHash("0x7").Hex(), sA.Hex(), 7, 21000, 100),
		},
	}
	s.ApplyMempoolSnapshot(snapshot, fixedNow, nil)

	require.Equal(t, 1, s.PendingLen())
	require.Equal(t, uint64(7), s.PendingSnapshot()[0].Nonce())
}

func TestApplyMempoolSnapshotCarriesOverCensoredBlocks(t *testing.T) {
	s := New()
	hash := common.HexToHash("0x7")
	snapshot := map[common.Address]map[uint64]chainmodel.Raw{
		sA: {7: rawLegacyTx(hash.Hex(), sA.Hex(), 7, 21000, 100)},
	}
	s.ApplyMempoolSnapshot(snapshot, fixedNow, nil)
	s.PendingSnapshot()[0].AppendCensoredBlock(55)

	// re-deliver the same snapshot (simulating the next periodic fetch)
	s.ApplyMempoolSnapshot(snapshot, fixedNow, nil)
	require.Equal(t, []uint64{55}, s.PendingSnapshot()[0].CensoredBlocks())
}

func TestApplyBlockAdvancesNonceAndClearsPendingForSender(t *testing.T) {
	s := New()
	hashA := common.HexToHash("0x7")
	hashB := common.HexToHash("0x8")
	snapshot := map[common.Address]map[uint64]chainmodel.Raw{
		sA: {7: rawLegacyTx(hashA.Hex(), sA.Hex(), 7, 21000, 100)},
	}
	s.ApplyMempoolSnapshot(snapshot, fixedNow, nil)
	// a second pending tx for the same sender, added directly via another
	// snapshot round would replace the first; to exercise "two pending
	// entries for the same sender" we reach into the map via a second
	// NotePendingHash + a manufactured pending entry is unnecessary here:
	// apply_block's behavior is keyed on sender only, so a single pending
	// entry already demonstrates the clearing rule. hashB is unused by
	// ApplyMempoolSnapshot (only one slot per sender is ever pending) and
	// is included only as a placeholder to make the intent explicit.
	_ = hashB

	block := &chainmodel.Block{
		Number: 100,
		Transactions: []chainmodel.Tx{
			&chainmodel.LegacyTx{
				TxBase:   chainmodel.TxBase{From: sA, TxNonce: 7},
				GasPrice: nil,
			},
		},
	}
	s.ApplyBlock(block)

	require.Equal(t, 0, s.PendingLen())
	nonce, ok := s.NonceOf(sA)
	require.True(t, ok)
	require.Equal(t, uint64(7), nonce)
}

func TestGetOrFetchNonceCachesResult(t *testing.T) {
	s := New()
	calls := 0
	fetch := func(ctx context.Context, sender common.Address) (uint64, error) {
		calls++
		return 5, nil
	}
	n, err := s.GetOrFetchNonce(context.Background(), sA, fetch)
	require.NoError(t, err)
	require.Equal(t, uint64(5), n)

	n, err = s.GetOrFetchNonce(context.Background(), sA, fetch)
	require.NoError(t, err)
	require.Equal(t, uint64(5), n)
	require.Equal(t, 1, calls)
}

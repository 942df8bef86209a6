package pebblestore

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/core/analyzer"
	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/core/chainmodel"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMem()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestPutBlockIsInsertOrIgnore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	block := &chainmodel.Block{Number: 10, Hash: common.HexToHash("0xa"), ProducerID: "validator-1", Timestamp: 100}
	require.NoError(t, s.PutBlock(ctx, block))

	// a second write for the same block number, with different fields,
	// must not overwrite the first: insert-or-ignore by primary key.
	conflicting := &chainmodel.Block{Number: 10, Hash: common.HexToHash("0xb"), ProducerID: "validator-2", Timestamp: 200}
	require.NoError(t, s.PutBlock(ctx, conflicting))

	blocks, err := s.RecentBlocks(10)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, "validator-1", blocks[0].ProducerID)
}

func TestPutTransactionIsInsertOrIgnore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tx := &chainmodel.LegacyTx{
		TxBase:   chainmodel.TxBase{TxHash: common.HexToHash("0xc"), From: common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")},
		GasPrice: big.NewInt(1),
	}
	require.NoError(t, s.PutTransaction(ctx, tx, 100))
	require.NoError(t, s.PutTransaction(ctx, tx, 999)) // second observation, later first-seen: ignored

	txs, err := s.RecentTransactions(10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, uint64(100), txs[0].FirstSeen)
}

func TestPutFindingIsInsertOrIgnore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	finding := analyzer.Finding{TxHash: common.HexToHash("0xd"), BlockNumber: 5, ProducerID: "validator-1", SeenAt: 50}
	require.NoError(t, s.PutFinding(ctx, finding))
	require.NoError(t, s.PutFinding(ctx, finding))

	validators, err := s.ValidatorsWithLastCensored()
	require.NoError(t, err)
	require.Len(t, validators, 1)
	require.Equal(t, 1, validators[0].CensoredCount)
}

func TestStatsCountsAllNamespaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutBlock(ctx, &chainmodel.Block{Number: 1, Hash: common.HexToHash("0x1")}))
	require.NoError(t, s.PutTransaction(ctx, &chainmodel.LegacyTx{TxBase: chainmodel.TxBase{TxHash: common.HexToHash("0x2")}, GasPrice: big.NewInt(1)}, 0))
	require.NoError(t, s.PutFinding(ctx, analyzer.Finding{TxHash: common.HexToHash("0x2"), BlockNumber: 1}))

	stats, err := s.Stats()
	require.NoError(t, err)
	require.Equal(t, Stats{BlockCount: 1, TransactionCount: 1, FindingCount: 1}, stats)
}

func TestRecentBlocksOrdersDescendingAndRespectsLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, s.PutBlock(ctx, &chainmodel.Block{Number: i, Hash: common.HexToHash("0x1")}))
	}

	blocks, err := s.RecentBlocks(2)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	require.Equal(t, uint64(5), blocks[0].Number)
	require.Equal(t, uint64(4), blocks[1].Number)
}

func TestValidatorsWithLastCensoredTracksHighestBlock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutFinding(ctx, analyzer.Finding{TxHash: common.HexToHash("0x1"), BlockNumber: 3, ProducerID: "validator-1"}))
	require.NoError(t, s.PutFinding(ctx, analyzer.Finding{TxHash: common.HexToHash("0x2"), BlockNumber: 7, ProducerID: "validator-1"}))
	require.NoError(t, s.PutFinding(ctx, analyzer.Finding{TxHash: common.HexToHash("0x3"), BlockNumber: 5, ProducerID: "validator-2"}))

	validators, err := s.ValidatorsWithLastCensored()
	require.NoError(t, err)
	require.Len(t, validators, 2)
	require.Equal(t, "validator-1", validators[0].ProducerID)
	require.Equal(t, uint64(7), validators[0].LastCensoredBlock)
	require.Equal(t, 2, validators[0].CensoredCount)
	require.Equal(t, "validator-2", validators[1].ProducerID)
}

// Package analyzer implements the per-block censorship-inclusion test: for
// each pending transaction, decide whether it was economically and
// structurally includable in a newly canonical block and, if so, whether
// its sender's next-slot nonce says it actually belonged there.
package analyzer

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/core/chainmodel"
	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/core/chainstate"
	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/core/feemath"
	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/internal/metrics"
)

// NonceSource is the subset of chainsource.ChainSource the analyzer needs
// to resolve an unseen sender's nonce.
type NonceSource interface {
	GetNonceAt(ctx context.Context, address common.Address, blockNumber uint64) (uint64, error)
}

// Finding records one block's omission of one pending transaction.
type Finding struct {
	TxHash      common.Hash
	BlockNumber uint64
	BlockHash   common.Hash
	ProducerID  chainmodel.ProducerID
	SeenAt      uint64
}

// Analyzer holds the small amount of configuration the inclusion test
// needs beyond the block and state it is given per call.
type Analyzer struct {
	// NonceTimeout bounds a single GetNonceAt call made to resolve an
	// unseen sender. A timeout is treated as "not ready", not an error.
	NonceTimeout time.Duration
	// BaseFeeHeadroomNum/Den express the conservative multiplier (3/2 by
	// default) a pending tx's max payable base fee must clear.
	BaseFeeHeadroomNum int64
	BaseFeeHeadroomDen int64
}

// New returns an Analyzer with the spec's default 10s nonce timeout and
// 3/2 base-fee headroom.
func New() *Analyzer {
	return &Analyzer{
		NonceTimeout:       10 * time.Second,
		BaseFeeHeadroomNum: 3,
		BaseFeeHeadroomDen: 2,
	}
}

// Analyze evaluates every transaction in state's pending snapshot against
// block and returns the findings for transactions that were censored. It
// also appends block.Number to the CensoredBlocks of every pending entry
// it finds censored, so repeated omission accumulates in state.
//
// The snapshot is taken once at the start: state mutations performed by a
// concurrent caller are not visible here (there is no concurrent caller in
// this engine's single-threaded design, but the contract holds regardless).
func (a *Analyzer) Analyze(ctx context.Context, block *chainmodel.Block, state *chainstate.ChainState, source NonceSource) []Finding {
	latest := state.Latest()
	if latest == nil {
		// No prior head means no pending set could have existed at the
		// canonical timestamp this block is measured against.
		return nil
	}

	blockMinFee := feemath.BlockMinPriorityFee(block)
	baseFeeCeiling := feemath.BaseFeeCeiling(block.BaseFeePerGas, a.BaseFeeHeadroomNum, a.BaseFeeHeadroomDen)
	gasRemaining := block.GasRemaining()

	var findings []Finding
	for _, tx := range state.PendingSnapshot() {
		if !a.isCensored(ctx, tx, block, latest.Timestamp, blockMinFee, baseFeeCeiling, gasRemaining, state, source) {
			continue
		}

		tx.AppendCensoredBlock(block.Number)
		findings = append(findings, Finding{
			TxHash:      tx.Hash(),
			BlockNumber: block.Number,
			BlockHash:   block.Hash,
			ProducerID:  block.ProducerID,
			SeenAt:      tx.FirstSeenAt(),
		})
	}
	return findings
}

func (a *Analyzer) isCensored(
	ctx context.Context,
	tx chainmodel.Tx,
	block *chainmodel.Block,
	latestTimestamp uint64,
	blockMinFee, baseFeeCeiling *big.Int,
	gasRemaining uint64,
	state *chainstate.ChainState,
	source NonceSource,
) bool {
	// 1. Timing: a tx cannot be censored before it was visible at the
	// previous canonical head.
	if latestTimestamp < tx.FirstSeenAt() {
		return false
	}

	// 2. Priority-fee floor: tie goes to includable.
	if feemath.EffectivePriorityFee(tx, block.BaseFeePerGas).Cmp(blockMinFee) < 0 {
		return false
	}

	// 3. Base-fee ceiling: conservative margin against next-block
	// base-fee escalation.
	if feemath.MaxBaseFeePayable(tx).Cmp(baseFeeCeiling) < 0 {
		return false
	}

	// 4. Gas room.
	if tx.Gas() > gasRemaining {
		return false
	}

	// 5. Nonce readiness.
	nonceCtx := ctx
	var cancel context.CancelFunc
	if a.NonceTimeout > 0 {
		nonceCtx, cancel = context.WithTimeout(ctx, a.NonceTimeout)
		defer cancel()
	}
	nonce, err := state.GetOrFetchNonce(nonceCtx, tx.Sender(), func(ctx context.Context, sender common.Address) (uint64, error) {
		defer metrics.TimeNonceFetch(time.Now())()
		return source.GetNonceAt(ctx, sender, block.Number-1)
	})
	if err != nil {
		// Timeout or RPC error: a negative answer, not an error for the
		// overall Analyze call.
		return false
	}

	return nonce == tx.Nonce()
}

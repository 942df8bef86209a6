// Package chainsource defines the engine's abstract event producer: the
// push events a ChainSource delivers (new heads, pending-hash
// announcements, mempool snapshots) and the pull requests it answers
// (GetBlockByNumber, GetNonceAt). Concrete implementations live outside
// this package (see internal/rpcsource for the JSON-RPC/WebSocket one).
package chainsource

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/core/chainmodel"
)

// Header is the minimal new-head announcement: enough for the engine to
// decide to fetch the full block.
type Header struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
}

// Event is the sealed union of everything a ChainSource can push into the
// engine's mailbox.
type Event interface {
	sealed()
}

// NewHeadEvent announces a new canonical head. NewHead events are
// monotonic by block number on a single canonical chain; the source is
// trusted not to emit anything but canonical heads (reorgs are out of
// scope).
type NewHeadEvent struct {
	Header Header
}

func (NewHeadEvent) sealed() {}

// NewPendingHashEvent announces a transaction hash seen in the public
// mempool before its body was fetched. Duplicates are tolerated by the
// engine.
type NewPendingHashEvent struct {
	Hash   common.Hash
	SeenAt uint64
}

func (NewPendingHashEvent) sealed() {}

// MempoolSnapshotEvent delivers a point-in-time view of the pending pool,
// partitioned by sender and nonce, as raw (not yet typed) transaction
// bodies.
type MempoolSnapshotEvent struct {
	Snapshot map[common.Address]map[uint64]chainmodel.Raw
}

func (MempoolSnapshotEvent) sealed() {}

// ChainSource abstracts an upstream execution client: a push half that
// streams events into mailbox until ctx is canceled, and a pull half the
// engine and analyzer call synchronously.
type ChainSource interface {
	// Run delivers events into mailbox until ctx is canceled or an
	// unrecoverable error occurs. It owns whatever producer goroutines
	// it needs internally.
	Run(ctx context.Context, mailbox chan<- Event) error

	// GetBlockByNumber fetches the full block with transactions,
	// retrying a transient nil result with bounded backoff until success
	// or ctx cancellation.
	GetBlockByNumber(ctx context.Context, number uint64, includeTxs bool) (*chainmodel.Block, error)

	// GetNonceAt returns the transaction count for address at the given
	// block number, honoring ctx's deadline.
	GetNonceAt(ctx context.Context, address common.Address, blockNumber uint64) (uint64, error)
}

// Package sink defines the engine's write-only persistence contract.
package sink

import (
	"context"

	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/core/analyzer"
	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/core/chainmodel"
)

// Sink persists observed blocks, transactions, and findings. Every method
// is idempotent by primary key: re-observing the same block after a
// restart must silently ignore the duplicate rather than error.
type Sink interface {
	PutBlock(ctx context.Context, block *chainmodel.Block) error
	PutTransaction(ctx context.Context, tx chainmodel.Tx, firstSeen uint64) error
	PutFinding(ctx context.Context, finding analyzer.Finding) error
}

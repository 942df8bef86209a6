// Package engine drives a ChainSource's events into ChainState mutations
// and CensorshipAnalyzer invocations, persisting the results through a
// Sink. The loop is single-threaded and cooperative: it suspends only at
// its mailbox receive, at ChainSource pull calls (its own GetBlockByNumber
// and the GetNonceAt calls the analyzer makes on its behalf), and at Sink
// writes.
package engine

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/core/analyzer"
	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/core/chainsource"
	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/core/chainstate"
	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/core/sink"
	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/internal/metrics"
)

// Clock supplies the engine's notion of "now" for defaulting a
// transaction's first-seen timestamp. SystemClock is used in production;
// tests inject a fixed-value fake for determinism.
type Clock interface {
	Now() uint64
}

// SystemClock reports wall-clock seconds.
type SystemClock struct{}

func (SystemClock) Now() uint64 { return uint64(time.Now().Unix()) }

// MailboxSize is the default bounded-channel capacity for the engine's
// single event mailbox.
const MailboxSize = 256

// Engine is the single-threaded event loop. It owns both the ChainSource
// and the Sink directly — there is no ownership cycle between them; the
// analyzer receives the source as a plain argument on each call.
type Engine struct {
	state    *chainstate.ChainState
	analyzer *analyzer.Analyzer
	source   chainsource.ChainSource
	sink     sink.Sink
	clock    Clock
	mailbox  chan chainsource.Event
}

// New constructs an Engine over an empty ChainState.
func New(source chainsource.ChainSource, snk sink.Sink, az *analyzer.Analyzer, clock Clock) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Engine{
		state:    chainstate.New(),
		analyzer: az,
		source:   source,
		sink:     snk,
		clock:    clock,
		mailbox:  make(chan chainsource.Event, MailboxSize),
	}
}

// State exposes the engine's ChainState for read-only introspection (e.g.
// by a collaborator metrics exporter). Mutating it from outside the
// engine's own goroutine is a programming error.
func (e *Engine) State() *chainstate.ChainState {
	return e.state
}

// Run starts the ChainSource's producer goroutines and drains the mailbox
// until ctx is canceled or the source's Run returns a fatal error.
func (e *Engine) Run(ctx context.Context) error {
	sourceErr := make(chan error, 1)
	go func() {
		sourceErr <- e.source.Run(ctx, e.mailbox)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sourceErr:
			return err
		case ev := <-e.mailbox:
			e.handle(ctx, ev)
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev chainsource.Event) {
	switch v := ev.(type) {
	case chainsource.NewPendingHashEvent:
		e.state.NotePendingHash(v.Hash, v.SeenAt)

	case chainsource.MempoolSnapshotEvent:
		e.state.ApplyMempoolSnapshot(v.Snapshot, e.clock.Now, func(sender common.Address, err error) {
			log.Warn("engine: dropping malformed mempool entry", "sender", sender, "err", err)
		})
		metrics.ObservePendingSetSize(e.state.PendingLen())

	case chainsource.NewHeadEvent:
		e.handleNewHead(ctx, v)

	default:
		log.Warn("engine: dropping unrecognized event", "type", v)
	}
}

func (e *Engine) handleNewHead(ctx context.Context, ev chainsource.NewHeadEvent) {
	defer metrics.TimeBlockProcessing(time.Now())()

	block, err := e.source.GetBlockByNumber(ctx, ev.Header.Number, true)
	if err != nil {
		log.Error("engine: failed to fetch new head block", "number", ev.Header.Number, "err", err)
		return
	}

	if latest := e.state.Latest(); latest != nil && block.ParentHash != latest.Hash {
		log.Warn("engine: new block's parent does not match latest known block; reorgs are not modeled, proceeding anyway",
			"block", block.Number, "parent", block.ParentHash, "latest", latest.Hash)
	}

	findings := e.analyzer.Analyze(ctx, block, e.state, e.source)

	if err := e.sink.PutBlock(ctx, block); err != nil {
		log.Error("engine: failed to persist block", "number", block.Number, "err", err)
		metrics.RecordSinkWriteError("block")
	}
	for _, tx := range block.Transactions {
		if err := e.sink.PutTransaction(ctx, tx, tx.FirstSeenAt()); err != nil {
			log.Error("engine: failed to persist transaction", "hash", tx.Hash(), "err", err)
			metrics.RecordSinkWriteError("transaction")
		}
	}
	metrics.RecordFindings(len(findings))
	for _, f := range findings {
		if err := e.sink.PutFinding(ctx, f); err != nil {
			log.Error("engine: failed to persist finding", "tx", f.TxHash, "block", f.BlockNumber, "err", err)
			metrics.RecordSinkWriteError("finding")
		}
		log.Info("engine: censored transaction", "tx", f.TxHash, "block", f.BlockNumber, "producer", f.ProducerID)
	}

	e.state.ApplyBlock(block)
	metrics.ObservePendingSetSize(e.state.PendingLen())
}

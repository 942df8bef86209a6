// Package chainstate holds the engine's in-memory reconciliation state:
// the pending-tx set, the per-sender nonce cache, the first-seen timestamp
// map for hashes announced before their bodies arrive, and the latest
// processed block.
//
// ChainState has exactly one owner — the Engine's event loop — and does no
// internal locking. Calling any method from more than one goroutine is a
// programming error.
package chainstate

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/core/chainmodel"
)

// NonceFetcher resolves the next-expected nonce for sender, typically by
// calling ChainSource.GetNonceAt against the previous block.
type NonceFetcher func(ctx context.Context, sender common.Address) (uint64, error)

// ChainState is single-owner, mutated only by the Engine event loop.
type ChainState struct {
	pending    map[common.Hash]chainmodel.Tx
	nonces     map[common.Address]uint64
	timestamps map[common.Hash]uint64
	latest     *chainmodel.Block
}

// New returns an empty ChainState.
func New() *ChainState {
	return &ChainState{
		pending:    make(map[common.Hash]chainmodel.Tx),
		nonces:     make(map[common.Address]uint64),
		timestamps: make(map[common.Hash]uint64),
	}
}

// Latest returns the most recently applied block, or nil before the first
// ApplyBlock call.
func (s *ChainState) Latest() *chainmodel.Block {
	return s.latest
}

// NonceOf returns the cached next-expected nonce for sender.
func (s *ChainState) NonceOf(sender common.Address) (uint64, bool) {
	n, ok := s.nonces[sender]
	return n, ok
}

// PendingLen reports the size of the pending set.
func (s *ChainState) PendingLen() int {
	return len(s.pending)
}

// PendingSnapshot returns the current pending transactions. The slice is a
// fresh copy but its elements are the same chainmodel.Tx values stored in
// the pending map: appending a censored block via AppendCensoredBlock
// during analysis is visible to chainstate, while removing an entry from
// pending after the snapshot was taken does not affect iteration over it.
func (s *ChainState) PendingSnapshot() []chainmodel.Tx {
	out := make([]chainmodel.Tx, 0, len(s.pending))
	for _, tx := range s.pending {
		out = append(out, tx)
	}
	return out
}

// NotePendingHash records seenAt as the first-sight time for hash, unless
// hash is already a pending transaction (whose first-seen time is already
// fixed). It never creates a pending entry on its own — the transaction
// body is not yet known.
func (s *ChainState) NotePendingHash(hash common.Hash, seenAt uint64) {
	if _, ok := s.pending[hash]; ok {
		return
	}
	s.timestamps[hash] = seenAt
}

// ApplyMempoolSnapshot replaces the pending set from scratch using, for
// each sender, only the body at the minimum nonce key (the "next to
// include" slot). now is used as a first-seen fallback for a body whose
// hash has no entry in the timestamp map. A body that fails to parse is
// reported via onBadPayload and its sender's slot is skipped; it does not
// abort the rest of the snapshot.
func (s *ChainState) ApplyMempoolSnapshot(snapshot map[common.Address]map[uint64]chainmodel.Raw, now func() uint64, onBadPayload func(sender common.Address, err error)) {
	fresh := make(map[common.Hash]chainmodel.Tx, len(snapshot))

	for sender, byNonce := range snapshot {
		if len(byNonce) == 0 {
			continue
		}
		_, body := minNonceEntry(byNonce)

		raw := cloneRaw(body)
		hash, err := peekHash(raw)
		if err != nil {
			if onBadPayload != nil {
				onBadPayload(sender, err)
			}
			continue
		}

		if ts, ok := s.timestamps[hash]; ok {
			raw["firstSeen"] = ts
			delete(s.timestamps, hash)
		}

		tx, err := chainmodel.ParseTx(raw, now)
		if err != nil {
			if onBadPayload != nil {
				onBadPayload(sender, err)
			}
			continue
		}

		if prior, ok := s.pending[hash]; ok {
			for _, b := range prior.CensoredBlocks() {
				tx.AppendCensoredBlock(b)
			}
		}

		fresh[hash] = tx
	}

	s.pending = fresh
}

// ApplyBlock folds a newly canonical block into state: every sender that
// appears in the block has its nonce cache advanced to the block's nonce
// for that sender (never decreasing, since a sender cannot be included
// twice at a lower nonce than before), and any pending entry for that
// sender is removed, since the sender's true next-slot nonce has changed.
// Every included hash also has its timestamps entry discarded, whether or
// not it ever made it into pending: a hash noted via NotePendingHash that
// gets mined before a snapshot promotes it must not linger forever.
func (s *ChainState) ApplyBlock(block *chainmodel.Block) {
	sendersSeen := make(map[common.Address]struct{}, len(block.Transactions))
	for _, tx := range block.Transactions {
		sender := tx.Sender()
		sendersSeen[sender] = struct{}{}
		if current, ok := s.nonces[sender]; !ok || tx.Nonce() > current {
			s.nonces[sender] = tx.Nonce()
		}
		delete(s.timestamps, tx.Hash())
	}

	for hash, tx := range s.pending {
		if _, included := sendersSeen[tx.Sender()]; included {
			delete(s.pending, hash)
		}
	}

	s.latest = block
}

// GetOrFetchNonce returns the cached nonce for sender, fetching and
// caching it via fetch on a cache miss.
func (s *ChainState) GetOrFetchNonce(ctx context.Context, sender common.Address, fetch NonceFetcher) (uint64, error) {
	if n, ok := s.nonces[sender]; ok {
		return n, nil
	}
	n, err := fetch(ctx, sender)
	if err != nil {
		return 0, err
	}
	s.nonces[sender] = n
	return n, nil
}

func minNonceEntry(byNonce map[uint64]chainmodel.Raw) (uint64, chainmodel.Raw) {
	first := true
	var minNonce uint64
	var body chainmodel.Raw
	for nonce, b := range byNonce {
		if first || nonce < minNonce {
			minNonce, body, first = nonce, b, false
		}
	}
	return minNonce, body
}

func cloneRaw(in chainmodel.Raw) chainmodel.Raw {
	out := make(chainmodel.Raw, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func peekHash(raw chainmodel.Raw) (common.Hash, error) {
	v, ok := raw["hash"]
	if !ok {
		return common.Hash{}, &chainmodel.BadPayloadError{Field: "hash", Reason: "missing"}
	}
	s, ok := v.(string)
	if !ok {
		return common.Hash{}, &chainmodel.BadPayloadError{Field: "hash", Reason: "not a string"}
	}
	if len(s) != 2+2*common.HashLength {
		return common.Hash{}, &chainmodel.BadPayloadError{Field: "hash", Reason: "wrong length for a hash"}
	}
	return common.HexToHash(s), nil
}

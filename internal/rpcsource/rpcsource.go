// Package rpcsource implements core/chainsource.ChainSource against a live
// execution client over JSON-RPC and WebSocket, using go-ethereum's rpc
// client directly rather than its higher-level ethclient: the engine wants
// the untyped hex-map form chainmodel already knows how to parse, not
// go-ethereum's own typed block/transaction structs.
package rpcsource

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/core/chainmodel"
	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/core/chainsource"
)

// Clock supplies first-seen timestamps for pending-hash announcements.
type Clock func() uint64

// Source dials an execution client's WebSocket endpoint for the push half
// (subscriptions) and its HTTP endpoint for the pull half (GetBlockByNumber,
// GetNonceAt), matching the common production split of a sticky websocket
// for events and a load-balanced HTTP endpoint for request/response calls.
type Source struct {
	ws   *rpc.Client
	http *rpc.Client
	now  Clock

	mempoolInterval time.Duration
}

// Dial connects both the websocket and HTTP clients. Both URLs are always
// dialed, and Dial fails if either connection cannot be established.
func Dial(ctx context.Context, wsURL, httpURL string, mempoolInterval time.Duration, now Clock) (*Source, error) {
	ws, err := rpc.DialContext(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("rpcsource: dial websocket: %w", err)
	}
	httpClient, err := rpc.DialContext(ctx, httpURL)
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("rpcsource: dial http: %w", err)
	}
	return &Source{ws: ws, http: httpClient, now: now, mempoolInterval: mempoolInterval}, nil
}

// Close releases both underlying RPC clients.
func (s *Source) Close() {
	s.ws.Close()
	s.http.Close()
}

var _ chainsource.ChainSource = (*Source)(nil)

type subscriptionHeader struct {
	Number     string `json:"number"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parentHash"`
}

// Run subscribes to newHeads and newPendingTransactions and starts the
// head-gated mempool-polling ticker, forwarding everything into mailbox
// until ctx is canceled or a subscription dies.
func (s *Source) Run(ctx context.Context, mailbox chan<- chainsource.Event) error {
	headCh := make(chan subscriptionHeader, 16)
	headSub, err := s.ws.EthSubscribe(ctx, headCh, "newHeads")
	if err != nil {
		return fmt.Errorf("rpcsource: subscribe newHeads: %w", err)
	}
	defer headSub.Unsubscribe()

	pendingCh := make(chan common.Hash, 256)
	pendingSub, err := s.ws.EthSubscribe(ctx, pendingCh, "newPendingTransactions")
	if err != nil {
		return fmt.Errorf("rpcsource: subscribe newPendingTransactions: %w", err)
	}
	defer pendingSub.Unsubscribe()

	var ticker *time.Ticker
	var tickerC <-chan time.Time
	sawHead := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-headSub.Err():
			return fmt.Errorf("rpcsource: newHeads subscription: %w", err)

		case err := <-pendingSub.Err():
			return fmt.Errorf("rpcsource: newPendingTransactions subscription: %w", err)

		case h := <-headCh:
			number, err := decodeHexUint64(h.Number)
			if err != nil {
				log.Warn("rpcsource: dropping malformed head", "err", err)
				continue
			}
			mailbox <- chainsource.NewHeadEvent{Header: chainsource.Header{
				Number:     number,
				Hash:       common.HexToHash(h.Hash),
				ParentHash: common.HexToHash(h.ParentHash),
			}}
			if !sawHead {
				sawHead = true
				ticker = time.NewTicker(s.mempoolInterval)
				tickerC = ticker.C
				defer ticker.Stop()
			}

		case hash := <-pendingCh:
			mailbox <- chainsource.NewPendingHashEvent{Hash: hash, SeenAt: s.now()}

		case <-tickerC:
			snapshot, err := s.fetchMempoolSnapshot(ctx)
			if err != nil {
				log.Warn("rpcsource: txpool_content fetch failed", "err", err)
				continue
			}
			mailbox <- chainsource.MempoolSnapshotEvent{Snapshot: snapshot}
		}
	}
}

// txpoolContentResult is the shape of a txpool_content RPC response:
// {"pending": {sender: {nonce: tx}}, "queued": {...}}. Only "pending" feeds
// the analyzer; "queued" transactions are not yet includable by
// definition and are intentionally ignored.
type txpoolContentResult struct {
	Pending map[string]map[string]chainmodel.Raw `json:"pending"`
}

func (s *Source) fetchMempoolSnapshot(ctx context.Context) (map[common.Address]map[uint64]chainmodel.Raw, error) {
	var result txpoolContentResult
	if err := s.http.CallContext(ctx, &result, "txpool_content"); err != nil {
		return nil, err
	}

	out := make(map[common.Address]map[uint64]chainmodel.Raw, len(result.Pending))
	for senderHex, byNonceDecimal := range result.Pending {
		sender := common.HexToAddress(senderHex)
		byNonce := make(map[uint64]chainmodel.Raw, len(byNonceDecimal))
		for nonceDecimal, raw := range byNonceDecimal {
			// txpool_content's per-sender map keys its nonces as plain
			// decimal strings, unlike every hex-quantity field elsewhere in
			// the JSON-RPC API.
			nonce, err := strconv.ParseUint(nonceDecimal, 10, 64)
			if err != nil {
				log.Warn("rpcsource: dropping malformed txpool_content nonce key", "sender", senderHex, "nonce", nonceDecimal, "err", err)
				continue
			}
			byNonce[nonce] = raw
		}
		if len(byNonce) > 0 {
			out[sender] = byNonce
		}
	}
	return out, nil
}

// blockRetryMinInterval and blockRetryMaxInterval bound GetBlockByNumber's
// exponential backoff, per the external-interface envelope for transient
// "block not found yet" responses (the head notification can race the
// node's own block-by-number index).
const (
	blockRetryMinInterval = 50 * time.Millisecond
	blockRetryMaxInterval = 5 * time.Second
)

// GetBlockByNumber retries a nil result — the node has not yet indexed the
// block it just announced — and a failed RPC call with bounded exponential
// backoff until it succeeds or ctx is canceled. A block that fails to parse
// is returned as an error without retrying.
func (s *Source) GetBlockByNumber(ctx context.Context, number uint64, includeTxs bool) (*chainmodel.Block, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = blockRetryMinInterval
	policy.MaxInterval = blockRetryMaxInterval
	policy.RandomizationFactor = 0 // keep every wait inside the min/max bounds
	policy.MaxElapsedTime = 0      // retry until ctx cancellation, not a wall-clock cap

	var block *chainmodel.Block
	operation := func() error {
		var raw chainmodel.Raw
		if err := s.http.CallContext(ctx, &raw, "eth_getBlockByNumber", hexutilEncodeUint64(number), includeTxs); err != nil {
			return fmt.Errorf("rpcsource: eth_getBlockByNumber: %w", err)
		}
		if raw == nil {
			return fmt.Errorf("rpcsource: block %d not yet available", number)
		}
		parsed, txErrs, err := chainmodel.ParseBlock(raw, func() uint64 { return uint64(time.Now().Unix()) })
		if err != nil {
			return backoff.Permanent(fmt.Errorf("rpcsource: parse block %d: %w", number, err))
		}
		for _, txErr := range txErrs {
			log.Warn("rpcsource: dropping malformed transaction in block", "block", number, "err", txErr)
		}
		block = parsed
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return block, nil
}

// GetNonceAt issues eth_getTransactionCount against blockNumber, honoring
// ctx's deadline (the analyzer supplies a bounded one).
func (s *Source) GetNonceAt(ctx context.Context, address common.Address, blockNumber uint64) (uint64, error) {
	var result string
	if err := s.http.CallContext(ctx, &result, "eth_getTransactionCount", address.Hex(), hexutilEncodeUint64(blockNumber)); err != nil {
		return 0, fmt.Errorf("rpcsource: eth_getTransactionCount: %w", err)
	}
	return decodeHexUint64(result)
}

func decodeHexUint64(s string) (uint64, error) {
	var n uint64
	if _, err := fmt.Sscanf(s, "0x%x", &n); err != nil {
		return 0, fmt.Errorf("rpcsource: malformed hex uint64 %q: %w", s, err)
	}
	return n, nil
}

func hexutilEncodeUint64(n uint64) string {
	return fmt.Sprintf("0x%x", n)
}

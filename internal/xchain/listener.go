package xchain

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru"

	"github.com/warpdotgreen/cli/internal/chains"
	"github.com/warpdotgreen/cli/internal/store"
)

// createCoinOpcode is the CLVM CREATE_COIN condition code.
const createCoinOpcode = 51

// processedSkipListSize bounds the in-memory skip-list of already-ingested
// coin ids kept across page drains, per spec.md §4.5 "skip-list of already
// processed ids ... to amortize RPC cost": it saves a redundant
// Store.GetMessage round trip for a coin this process has already
// confirmed earlier in the same run.
const processedSkipListSize = 8192

// ErrReorg is returned internally by the inner message-ingestion loop when
// a coin that appeared to carry a message disappears or changes shape
// before confirmation (spec.md §7 kind 2).
var ErrReorg = fmt.Errorf("xchain: reorg detected")

// Listener implements component C5 (spec.md §4.5): it scans coins paid to
// the BRIDGING puzzle hash, extracts the attached message memo, waits for
// confirmation depth, and persists the resulting Message.
type Listener struct {
	Chain              chains.ChainID
	Node               NodeClient
	Puzzle             PuzzleRunner
	Store              *store.Store
	BridgingPuzzleHash []byte
	PerMessageToll     uint64
	MinHeight          uint64
	SignMinHeight      uint64

	pollInterval time.Duration
	processed    *lru.Cache
}

// NewListener constructs a Listener with the standard 30s idle poll
// interval used by the original implementation's message listener.
func NewListener(chain chains.ChainID, node NodeClient, puzzle PuzzleRunner, st *store.Store, bridgingPuzzleHash []byte, perMessageToll, minHeight, signMinHeight uint64) *Listener {
	processed, err := lru.New(processedSkipListSize)
	if err != nil {
		panic(err) // only fails for a non-positive size, which processedSkipListSize never is
	}
	return &Listener{
		Chain:              chain,
		Node:               node,
		Puzzle:             puzzle,
		Store:              st,
		BridgingPuzzleHash: bridgingPuzzleHash,
		PerMessageToll:     perMessageToll,
		MinHeight:          minHeight,
		SignMinHeight:      signMinHeight,
		pollInterval:       30 * time.Second,
		processed:          processed,
	}
}

// Run drains newly confirmed bridging coins forever, per spec.md §4.5. It
// is idempotent: a coin whose derived nonce is already stored is skipped,
// so restarting at an earlier height only re-derives already-known
// messages without re-persisting them (spec.md §4.5 "The listener is
// idempotent").
func (l *Listener) Run(ctx context.Context) error {
	startHeight := l.MinHeight
	if highest, ok, err := l.Store.GetHighestBlockNumber(l.Chain); err != nil {
		return fmt.Errorf("xchain listener %s: %w", l.Chain, err)
	} else if ok && highest > 0 {
		startHeight = highest - 1
	}

	for {
		advanced, err := l.scanOnce(ctx, startHeight)
		if err != nil {
			return fmt.Errorf("xchain listener %s: %w", l.Chain, err)
		}
		if advanced > startHeight {
			startHeight = advanced
		}

		select {
		case <-time.After(l.pollInterval):
		case <-ctx.Done():
			return nil
		}
	}
}

// scanOnce drains one full page of get_coin_records_by_puzzle_hash results
// before returning, per spec.md §4.5 "Results of a single
// get_coin_records_by_puzzle_hash call are drained fully... to amortize
// RPC cost". It returns the highest confirmed_block_index observed among
// spent coins it processed without error (persisted, already known, or
// skipped as carrying no message), to advance the next call's startHeight.
func (l *Listener) scanOnce(ctx context.Context, startHeight uint64) (uint64, error) {
	records, err := l.Node.GetCoinRecordsByPuzzleHash(ctx, l.BridgingPuzzleHash, startHeight, true)
	if err != nil {
		return startHeight, err
	}

	highest := startHeight
	for _, rec := range records {
		if !rec.Spent {
			continue // toll coin not yet consumed into a message
		}
		if err := l.ingestOne(ctx, rec); err != nil {
			if err == ErrReorg {
				log.Info("xchain listener: reorg while confirming message, will retry next scan", "chain", l.Chain)
				continue
			}
			return highest, err
		}
		if rec.ConfirmedBlockIndex > highest {
			highest = rec.ConfirmedBlockIndex
		}
	}
	return highest, nil
}

// ingestOne resolves one candidate toll coin into a Message and persists
// it, or returns ErrReorg if the coin's state changes before confirmation.
func (l *Listener) ingestOne(ctx context.Context, rec CoinRecord) error {
	parentCoinInfo, err := hex.DecodeString(rec.Coin.ParentCoinInfo)
	if err != nil {
		return fmt.Errorf("decode parent_coin_info: %w", err)
	}
	puzzleHash, err := hex.DecodeString(rec.Coin.PuzzleHash)
	if err != nil {
		return fmt.Errorf("decode puzzle_hash: %w", err)
	}
	nonce := coinID(parentCoinInfo, puzzleHash, rec.Coin.Amount)

	if _, skip := l.processed.Get(string(nonce[:])); skip {
		return nil // already ingested earlier this run, per the skip-list
	}
	if existing, err := l.Store.GetMessage(l.Chain, nonce[:]); err == nil && existing != nil {
		l.processed.Add(string(nonce[:]), struct{}{})
		return nil // already ingested
	} else if err != nil && err != store.ErrNotFound {
		return err
	}

	if rec.Coin.Amount < l.PerMessageToll {
		return nil // not a bridging toll payment
	}

	parentSpend, err := l.Node.GetPuzzleAndSolution(ctx, parentCoinInfo, rec.ConfirmedBlockIndex)
	if err != nil {
		return fmt.Errorf("get parent spend: %w", err)
	}
	conditions, err := l.Puzzle.Run(ctx, parentSpend.PuzzleReveal, parentSpend.Solution)
	if err != nil {
		return fmt.Errorf("run parent puzzle: %w", err)
	}

	destChain, dest, contents, found := extractMessage(conditions, l.BridgingPuzzleHash, l.PerMessageToll)
	if !found {
		return nil // this spend's CREATE_COIN to the bridging ph carried no message memo
	}

	parentRecord, err := l.Node.GetCoinRecordByName(ctx, parentCoinInfo)
	if err != nil {
		return fmt.Errorf("get parent coin record: %w", err)
	}
	sourcePuzzleHash, err := hex.DecodeString(parentRecord.Coin.PuzzleHash)
	if err != nil {
		return fmt.Errorf("decode parent puzzle_hash: %w", err)
	}

	if err := chains.WaitUntil(ctx, 5*time.Second, func(ctx context.Context) (bool, error) {
		peak, err := l.Node.GetBlockchainState(ctx)
		if err != nil {
			return false, nil // transient: keep polling
		}
		return peak >= rec.ConfirmedBlockIndex+l.SignMinHeight, nil
	}); err != nil {
		return err
	}

	refetched, err := l.Node.GetCoinRecordByName(ctx, nonce[:])
	if err != nil {
		return fmt.Errorf("refetch coin record: %w", err)
	}
	if refetched.ConfirmedBlockIndex != rec.ConfirmedBlockIndex {
		return ErrReorg
	}

	destChainID, err := chains.ChainIDFromTag(string(destChain))
	if err != nil {
		return fmt.Errorf("destination chain tag: %w", err)
	}

	msg := &chains.Message{
		SourceChain:      l.Chain,
		Nonce:            nonce[:],
		Source:           chains.Pad32(sourcePuzzleHash),
		DestinationChain: destChainID,
		Destination:      chains.Pad32(dest),
		Contents:         contents,
		BlockNumber:      rec.ConfirmedBlockIndex,
		Signature:        "",
	}
	log.Info("xchain listener: persisting message", "chain", l.Chain, "nonce", hex.EncodeToString(nonce[:]))
	if err := l.Store.PutMessage(msg); err != nil {
		return err
	}
	l.processed.Add(string(nonce[:]), struct{}{})
	return nil
}

// extractMessage scans conditions for a CREATE_COIN emitting into
// bridgingPuzzleHash with amount >= toll, and returns its attached memo
// list normalized to (destination_chain, destination, contents), per
// spec.md §4.5.
func extractMessage(conditions []Condition, bridgingPuzzleHash []byte, toll uint64) (destChain, dest []byte, contents []byte, found bool) {
	for _, c := range conditions {
		if c.Opcode != createCoinOpcode || len(c.Args) < 2 {
			continue
		}
		ph, amountBytes := c.Args[0], c.Args[1]
		if string(ph) != string(bridgingPuzzleHash) {
			continue
		}
		if len(c.Args) < 3 {
			continue // no memo list attached
		}
		memo := c.Args[2:]
		if len(memo) < 2 {
			continue // need at least destination_chain and destination
		}
		amount := bytesToUint64(amountBytes)
		if amount < toll {
			continue
		}

		destChain = memo[0]
		dest = memo[1]
		var contentWords [][]byte
		for _, word := range memo[2:] {
			contentWords = append(contentWords, chains.Pad32(word))
		}
		return destChain, dest, chains.JoinWords(contentWords), true
	}
	return nil, nil, nil, false
}

func bytesToUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

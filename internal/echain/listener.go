package echain

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/warpdotgreen/cli/internal/chains"
	"github.com/warpdotgreen/cli/internal/store"
)

// maxQueryBlockLimit is the widest single eth_getLogs window the listener
// queries at once, per original_source's max_query_block_limit.
const maxQueryBlockLimit = 1000

// l1BlockInputOffset is the byte offset of the packed L1 block number
// inside an Optimism-style L1Block system transaction's calldata, per
// https://github.com/ethereum-optimism/optimism L1Block.sol's setL1BlockValues
// packed layout (also named in original_source/commands/followers/eth_follower.py).
const l1BlockInputOffset = 28

// l1BlockNumberSelector is the 4-byte selector of L1Block.number().
var l1BlockNumberSelector = crypto.Keccak256([]byte("number()"))[:4]

// Listener implements the message-ingestion half of component C4 (spec.md
// §4.4): it finds each next-expected nonce's MessageSent log, waits for
// confirmation depth (direct block depth on L1, L1-anchored depth via the
// L1Block contract on L2s), double-checks the log is still there
// afterwards, and persists the resulting Message.
type Listener struct {
	Chain          chains.ChainID
	Client         Client
	PortalAddress  common.Address
	Store          *store.Store
	MinHeight      uint64
	SignMinHeight  uint64
	IsL2           bool
	L1BlockAddress common.Address

	pollInterval   time.Duration
	lastSafeHeight uint64
}

// NewListener constructs a Listener.
func NewListener(chain chains.ChainID, client Client, portalAddress common.Address, st *store.Store, minHeight, signMinHeight uint64, isL2 bool, l1BlockAddress common.Address) *Listener {
	return &Listener{
		Chain:          chain,
		Client:         client,
		PortalAddress:  portalAddress,
		Store:          st,
		MinHeight:      minHeight,
		SignMinHeight:  signMinHeight,
		IsL2:           isL2,
		L1BlockAddress: l1BlockAddress,
		pollInterval:   30 * time.Second,
	}
}

// Run drains newly confirmed messages forever, per spec.md §4.4.
func (l *Listener) Run(ctx context.Context) error {
	nextNonce := uint64(1)
	lastSyncedHeight := l.MinHeight

	if latest, err := l.Store.GetLatestMessage(l.Chain); err == nil {
		nextNonce = NonceFromBytes(latest.Nonce) + 1
		lastSyncedHeight = latest.BlockNumber
	} else if err != store.ErrNotFound {
		return fmt.Errorf("echain listener %s: %w", l.Chain, err)
	}
	log.Info("echain listener: starting", "chain", l.Chain, "next_nonce", nextNonce)

	for {
		ev, height, err := l.findEventByNonce(ctx, nextNonce, saturatingSub(lastSyncedHeight, 1))
		if err != nil {
			return fmt.Errorf("echain listener %s: %w", l.Chain, err)
		}
		if ev == nil {
			log.Info("echain listener: all on-chain messages synced; listening for new ones", "chain", l.Chain)
			select {
			case <-time.After(l.pollInterval):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		if err := l.waitConfirmed(ctx, ev, height); err != nil {
			return fmt.Errorf("echain listener %s: %w", l.Chain, err)
		}

		evAgain, _, err := l.findEventByNonce(ctx, nextNonce, saturatingSub(lastSyncedHeight, 1))
		if err != nil {
			return fmt.Errorf("echain listener %s: %w", l.Chain, err)
		}
		if evAgain == nil || !sameLog(ev, evAgain) {
			log.Info("echain listener: message event mismatch, assuming reorg and retrying", "chain", l.Chain)
			lastSyncedHeight = saturatingSub(lastSyncedHeight, maxQueryBlockLimit)
			l.lastSafeHeight = saturatingSub(l.lastSafeHeight, 10*maxQueryBlockLimit)
			continue
		}

		msg, err := l.eventToMessage(ev, height)
		if err != nil {
			return fmt.Errorf("echain listener %s: decode event: %w", l.Chain, err)
		}
		log.Info("echain listener: persisting message", "chain", l.Chain, "nonce", nextNonce)
		if err := l.Store.PutMessage(msg); err != nil {
			return fmt.Errorf("echain listener %s: %w", l.Chain, err)
		}

		nextNonce++
		lastSyncedHeight = height
	}
}

// findEventByNonce searches forward from startHeight in maxQueryBlockLimit-
// sized windows for the MessageSent log carrying nonce, per
// original_source's getEventByIntNonce. lastSafeHeight caches how far back
// a reorg could plausibly reach, trimmed conservatively (3/4 of a window)
// on every empty page, so a later reorg-triggered rewind never has to
// rescan from genesis.
func (l *Listener) findEventByNonce(ctx context.Context, nonce, startHeight uint64) (*types.Log, uint64, error) {
	if l.lastSafeHeight == 0 {
		l.lastSafeHeight = startHeight
	}
	queryStart := maxUint64(l.lastSafeHeight, startHeight)
	topic := nonceTopic(nonce)

	for {
		current, err := l.Client.BlockNumber(ctx)
		if err != nil {
			return nil, 0, err
		}
		if queryStart >= current {
			return nil, 0, nil
		}

		queryEnd := minUint64(queryStart+maxQueryBlockLimit-1, current)
		log.Info("echain listener: searching for message", "chain", l.Chain, "nonce", nonce, "from", queryStart, "to", queryEnd)

		logs, err := l.Client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(queryStart),
			ToBlock:   new(big.Int).SetUint64(queryEnd),
			Addresses: []common.Address{l.PortalAddress},
			Topics:    [][]common.Hash{{messageSentTopic}, {topic}},
		})
		if err != nil {
			return nil, 0, err
		}
		if len(logs) > 0 {
			return &logs[0], logs[0].BlockNumber, nil
		}

		l.lastSafeHeight = maxUint64(l.lastSafeHeight, saturatingSub(queryEnd, maxQueryBlockLimit*3/4))
		queryStart = queryEnd + 1
	}
}

// waitConfirmed blocks until ev has accumulated SignMinHeight confirmations:
// on L1, a direct block-height wait; on an OP-stack L2, a wait on the
// L1-anchored height recorded in the L2 block's L1Block system
// transaction, since finality there is governed by the sequencer's L1
// commitments rather than L2 block depth (spec.md §4.4, grounded on
// original_source/commands/followers/eth_follower.py's is_optimism branch).
func (l *Listener) waitConfirmed(ctx context.Context, ev *types.Log, height uint64) error {
	if !l.IsL2 {
		for {
			current, err := l.Client.BlockNumber(ctx)
			if err != nil {
				return err
			}
			if current >= height+l.SignMinHeight {
				return nil
			}
			log.Info("echain listener: waiting for confirmation", "chain", l.Chain, "need", height+l.SignMinHeight, "current", current)
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	eventL1Height, err := l.l1HeightAtL2Block(ctx, height)
	if err != nil {
		return err
	}
	for {
		currentL1Height, err := l.currentL1BlockNumber(ctx)
		if err != nil {
			return err
		}
		if currentL1Height >= eventL1Height+l.SignMinHeight {
			return nil
		}
		log.Info("echain listener: waiting for L1-anchored confirmation", "chain", l.Chain, "need", eventL1Height+l.SignMinHeight, "current", currentL1Height)
		select {
		case <-time.After(10 * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// l1HeightAtL2Block reads the L1 block number the sequencer recorded for
// L2 block height, by locating the block's L1Block system transaction and
// decoding the packed uint64 at l1BlockInputOffset.
func (l *Listener) l1HeightAtL2Block(ctx context.Context, height uint64) (uint64, error) {
	block, err := l.Client.BlockByNumber(ctx, new(big.Int).SetUint64(height))
	if err != nil {
		return 0, fmt.Errorf("get L2 block %d: %w", height, err)
	}
	for _, tx := range block.Transactions() {
		if tx.To() == nil || *tx.To() != l.L1BlockAddress {
			continue
		}
		data := tx.Data()
		if len(data) < l1BlockInputOffset+8 {
			continue
		}
		return bytesToUint64(data[l1BlockInputOffset : l1BlockInputOffset+8]), nil
	}
	return 0, fmt.Errorf("no L1Block system transaction found in L2 block %d", height)
}

func (l *Listener) currentL1BlockNumber(ctx context.Context) (uint64, error) {
	out, err := l.Client.CallContract(ctx, ethereum.CallMsg{To: &l.L1BlockAddress, Data: l1BlockNumberSelector}, nil)
	if err != nil {
		return 0, err
	}
	if len(out) < 32 {
		return 0, fmt.Errorf("short L1Block.number() response: %d bytes", len(out))
	}
	return bytesToUint64(out[len(out)-8:]), nil
}

// eventToMessage normalizes a decoded MessageSent log into a Message, per
// spec.md §4.4 and original_source's eventObjectToMessage.
func (l *Listener) eventToMessage(ev *types.Log, height uint64) (*chains.Message, error) {
	var decoded struct {
		Source            common.Address
		DestinationChain  [3]byte
		Destination       [32]byte
		Contents          [][32]byte
	}
	if err := messageSentABI.UnpackIntoInterface(&decoded, "MessageSent", ev.Data); err != nil {
		return nil, err
	}

	contentWords := make([][]byte, len(decoded.Contents))
	for i, w := range decoded.Contents {
		contentWords[i] = append([]byte(nil), w[:]...)
	}

	return &chains.Message{
		SourceChain:      l.Chain,
		Nonce:            append([]byte(nil), ev.Topics[1].Bytes()...),
		Source:           chains.Pad32(decoded.Source.Bytes()),
		DestinationChain: chains.ChainID(decoded.DestinationChain),
		Destination:      append([]byte(nil), decoded.Destination[:]...),
		Contents:         chains.JoinWords(contentWords),
		BlockNumber:      height,
		Signature:        "",
	}, nil
}

func nonceTopic(nonce uint64) common.Hash {
	return common.BytesToHash(nonceBytes32(nonce))
}

func nonceBytes32(nonce uint64) []byte {
	buf := make([]byte, 32)
	for i := 0; i < 8; i++ {
		buf[31-i] = byte(nonce >> (8 * i))
	}
	return buf
}

// NonceFromBytes recovers a uint64 nonce from a message's left-padded
// 32-byte nonce field.
func NonceFromBytes(b []byte) uint64 {
	return bytesToUint64(chains.Pad32(b))
}

func bytesToUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b[len(b)-8:] {
		v = v<<8 | uint64(c)
	}
	return v
}

func sameLog(a, b *types.Log) bool {
	return a.BlockNumber == b.BlockNumber && a.TxHash == b.TxHash && a.Index == b.Index && bytes.Equal(a.Data, b.Data)
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

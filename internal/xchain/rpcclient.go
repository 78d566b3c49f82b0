package xchain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
)

// CoinRecord mirrors the subset of a Chia full node's coin_record fields
// this relay needs (spec.md §4.5).
type CoinRecord struct {
	Coin struct {
		ParentCoinInfo string `json:"parent_coin_info"`
		PuzzleHash     string `json:"puzzle_hash"`
		Amount         uint64 `json:"amount"`
	} `json:"coin"`
	CoinID              string `json:"coin_id"` // not a real node field; this client never populates it (coin ids are computed by coinID in coinid.go)
	ConfirmedBlockIndex uint64 `json:"confirmed_block_index"`
	Spent               bool   `json:"spent"`
	SpentBlockIndex     uint64 `json:"spent_block_index"`
}

// CoinSpend mirrors a Chia coin_spend: the reveal of a coin's puzzle and
// the solution it was spent with. Running the puzzle against the solution
// to recover emitted conditions is explicitly out of scope for this relay
// (spec.md §1 "on-chain puzzle source... external collaborators via
// narrow interfaces"): that is the job of PuzzleRunner.
type CoinSpend struct {
	Coin         CoinRecord
	PuzzleReveal []byte
	Solution     []byte
}

// Condition is one parsed CLVM condition, e.g. CREATE_COIN.
type Condition struct {
	Opcode int64
	Args   [][]byte
}

// PuzzleRunner runs a puzzle reveal against a solution and returns the
// conditions it emits. This is the narrow external interface the spec
// treats the X-chain's puzzle layer through (spec.md §1): production
// deployments back it with an actual CLVM evaluator (out of this repo's
// scope, matching spec.md's explicit exclusion of "spend-program (on-chain
// puzzle) source"); tests back it with a fake.
type PuzzleRunner interface {
	Run(ctx context.Context, puzzleReveal, solution []byte) ([]Condition, error)
}

// NodeClient is the subset of Chia full node RPC calls the listener and
// tracker need. *Client implements it against a real node; tests implement
// it with a fake to avoid any network dependency.
type NodeClient interface {
	GetBlockchainState(ctx context.Context) (uint64, error)
	GetCoinRecordsByPuzzleHash(ctx context.Context, puzzleHash []byte, startHeight uint64, includeSpentCoins bool) ([]CoinRecord, error)
	GetCoinRecordByName(ctx context.Context, coinID []byte) (*CoinRecord, error)
	GetPuzzleAndSolution(ctx context.Context, coinID []byte, spentHeight uint64) (*CoinSpend, error)
}

// Client is a minimal JSON-over-HTTPS client for a Chia full node RPC
// endpoint, grounded on
// original_source/commands/http_full_node_rpc_client.py's fetch() helper:
// POST {base_url}/{path} with a JSON body, and raise on `success: false`.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client whose http.Client uses httpClient's Transport,
// expected to be a chains.RetryTransport per spec.md §4.4's "middleware
// layer wrapping the RPC transport".
func NewClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: baseURL, http: httpClient}
}

func (c *Client) fetch(ctx context.Context, path string, reqBody, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("xchain rpc: marshal request for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("xchain rpc: build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("xchain rpc: %s: %w", path, err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Success bool `json:"success"`
	}
	raw := json.RawMessage{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return fmt.Errorf("xchain rpc: decode response for %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("xchain rpc: decode envelope for %s: %w", path, err)
	}
	if !envelope.Success {
		return fmt.Errorf("xchain rpc: %s returned success=false: %s", path, string(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("xchain rpc: decode result for %s: %w", path, err)
		}
	}
	return nil
}

// GetBlockchainState returns the node's reported peak height, used both as
// a liveness probe and to drive confirmation-depth waits.
func (c *Client) GetBlockchainState(ctx context.Context) (peakHeight uint64, err error) {
	var out struct {
		BlockchainState struct {
			Peak struct {
				Height uint64 `json:"height"`
			} `json:"peak"`
		} `json:"blockchain_state"`
	}
	if err := c.fetch(ctx, "get_blockchain_state", map[string]any{}, &out); err != nil {
		return 0, err
	}
	return out.BlockchainState.Peak.Height, nil
}

// GetCoinRecordsByPuzzleHash returns every coin record (spent or not) paid
// to puzzleHash at or after startHeight, per spec.md §4.5.
func (c *Client) GetCoinRecordsByPuzzleHash(ctx context.Context, puzzleHash []byte, startHeight uint64, includeSpentCoins bool) ([]CoinRecord, error) {
	var out struct {
		CoinRecords []CoinRecord `json:"coin_records"`
	}
	req := map[string]any{
		"puzzle_hash":         hex.EncodeToString(puzzleHash),
		"start_height":        startHeight,
		"include_spent_coins": includeSpentCoins,
	}
	if err := c.fetch(ctx, "get_coin_records_by_puzzle_hash", req, &out); err != nil {
		return nil, err
	}
	return out.CoinRecords, nil
}

// GetCoinRecordByName returns the single coin record for coinID, used to
// re-fetch a coin to detect a reorg (spec.md §4.5 step "re-fetch the coin
// record and confirm its confirmed_block_index is unchanged").
func (c *Client) GetCoinRecordByName(ctx context.Context, coinID []byte) (*CoinRecord, error) {
	var out struct {
		CoinRecord CoinRecord `json:"coin_record"`
	}
	req := map[string]any{"name": hex.EncodeToString(coinID)}
	if err := c.fetch(ctx, "get_coin_record_by_name", req, &out); err != nil {
		return nil, err
	}
	return &out.CoinRecord, nil
}

// GetPuzzleAndSolution returns the reveal+solution of the spend that
// consumed coinID, spent at spentHeight.
func (c *Client) GetPuzzleAndSolution(ctx context.Context, coinID []byte, spentHeight uint64) (*CoinSpend, error) {
	var out struct {
		CoinSolution struct {
			Coin         CoinRecord `json:"coin"`
			PuzzleReveal string     `json:"puzzle_reveal"`
			Solution     string     `json:"solution"`
		} `json:"coin_solution"`
	}
	req := map[string]any{"coin_id": hex.EncodeToString(coinID), "height": spentHeight}
	if err := c.fetch(ctx, "get_puzzle_and_solution", req, &out); err != nil {
		return nil, err
	}
	reveal, err := hex.DecodeString(out.CoinSolution.PuzzleReveal)
	if err != nil {
		return nil, fmt.Errorf("xchain rpc: decode puzzle reveal: %w", err)
	}
	solution, err := hex.DecodeString(out.CoinSolution.Solution)
	if err != nil {
		return nil, fmt.Errorf("xchain rpc: decode solution: %w", err)
	}
	return &CoinSpend{Coin: out.CoinSolution.Coin, PuzzleReveal: reveal, Solution: solution}, nil
}

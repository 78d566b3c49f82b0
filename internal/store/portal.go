package store

import (
	"database/sql"
	"fmt"

	"github.com/warpdotgreen/cli/internal/chains"
)

// PortalState is the durable record of one node in the portal singleton
// lineage (spec.md §3). ConfirmedBlockHeight is nil for a provisional or
// rolled-back snapshot; exactly one row per chain has it set, and that row
// is the current tip.
type PortalState struct {
	ChainID             chains.ChainID
	CoinID              []byte
	ParentID            []byte
	UsedChainsAndNonces []byte // compact run-length encoding, see internal/xchain.UsedSet
	ConfirmedHeight     *uint64
}

// PutPortalState upserts a PortalState row.
func (s *Store) PutPortalState(p *PortalState) error {
	var h sql.NullInt64
	if p.ConfirmedHeight != nil {
		h = sql.NullInt64{Int64: int64(*p.ConfirmedHeight), Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO portal_states (chain_id, coin_id, parent_id, used_chains_and_nonces, confirmed_block_height)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (chain_id, coin_id) DO UPDATE SET
			parent_id=excluded.parent_id,
			used_chains_and_nonces=excluded.used_chains_and_nonces,
			confirmed_block_height=excluded.confirmed_block_height
	`, p.ChainID[:], p.CoinID, p.ParentID, p.UsedChainsAndNonces, h)
	if err != nil {
		return fmt.Errorf("store: put portal state %s/%x: %w", p.ChainID, p.CoinID, err)
	}
	return nil
}

func scanPortalState(row interface {
	Scan(dest ...any) error
}) (*PortalState, error) {
	var p PortalState
	var chainID []byte
	var h sql.NullInt64
	if err := row.Scan(&chainID, &p.CoinID, &p.ParentID, &p.UsedChainsAndNonces, &h); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	copy(p.ChainID[:], chainID)
	if h.Valid {
		v := uint64(h.Int64)
		p.ConfirmedHeight = &v
	}
	return &p, nil
}

// GetTip returns the PortalState row with a non-null confirmed height for
// chain, i.e. the current tip (spec.md §3 "Exactly one row with non-null
// height is the current tip"), or ErrNotFound if there is none yet.
func (s *Store) GetTip(chainID chains.ChainID) (*PortalState, error) {
	row := s.db.QueryRow(`
		SELECT chain_id, coin_id, parent_id, used_chains_and_nonces, confirmed_block_height
		FROM portal_states WHERE chain_id = ? AND confirmed_block_height IS NOT NULL
		ORDER BY confirmed_block_height DESC LIMIT 1
	`, chainID[:])
	p, err := scanPortalState(row)
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get tip for %s: %w", chainID, err)
	}
	return p, nil
}

// GetPortalState returns the PortalState row for (chainID, coinID), which
// may be provisional (ConfirmedHeight == nil).
func (s *Store) GetPortalState(chainID chains.ChainID, coinID []byte) (*PortalState, error) {
	row := s.db.QueryRow(`
		SELECT chain_id, coin_id, parent_id, used_chains_and_nonces, confirmed_block_height
		FROM portal_states WHERE chain_id = ? AND coin_id = ?
	`, chainID[:], coinID)
	p, err := scanPortalState(row)
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get portal state %s/%x: %w", chainID, coinID, err)
	}
	return p, nil
}

// DeletePortalStatesByParent deletes every PortalState row whose ParentID
// equals parentID, used by the tracker to prune stale siblings after a
// lineage advance (spec.md §4.6 "null-out stale siblings by parent_id").
func (s *Store) DeletePortalStatesByParent(chainID chains.ChainID, parentID []byte) error {
	_, err := s.db.Exec(`DELETE FROM portal_states WHERE chain_id = ? AND parent_id = ?`, chainID[:], parentID)
	if err != nil {
		return fmt.Errorf("store: delete portal states by parent %x: %w", parentID, err)
	}
	return nil
}

// NullConfirmedHeightsAtOrAbove nulls out ConfirmedHeight on every row at or
// above height, the reorg helper named in spec.md §4.1.
func (s *Store) NullConfirmedHeightsAtOrAbove(chainID chains.ChainID, height uint64) error {
	_, err := s.db.Exec(`
		UPDATE portal_states SET confirmed_block_height = NULL
		WHERE chain_id = ? AND confirmed_block_height >= ?
	`, chainID[:], height)
	if err != nil {
		return fmt.Errorf("store: null confirmed heights >= %d: %w", height, err)
	}
	return nil
}

// PersistLastPortalCoinID caches the current tip's coin id so restarts can
// resume quickly (spec.md §3 "Portal coin identity cache").
func (s *Store) PersistLastPortalCoinID(coinID []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO portal_coin_id_cache (chain_id, coin_id) VALUES (0, ?)
		ON CONFLICT (chain_id) DO UPDATE SET coin_id = excluded.coin_id
	`, coinID)
	if err != nil {
		return fmt.Errorf("store: persist last portal coin id: %w", err)
	}
	return nil
}

// LoadLastPortalCoinID returns the cached coin id, or (nil, false) if none
// has been persisted yet.
func (s *Store) LoadLastPortalCoinID() ([]byte, bool, error) {
	var coinID []byte
	err := s.db.QueryRow(`SELECT coin_id FROM portal_coin_id_cache WHERE chain_id = 0`).Scan(&coinID)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: load last portal coin id: %w", err)
	}
	return coinID, true, nil
}

package store

import (
	"database/sql"
	"fmt"

	"github.com/warpdotgreen/cli/internal/chains"
)

// PutMessage upserts a Message, keyed by (source_chain, nonce) per
// invariant I1. Used both by followers on first ingestion and by the
// signer/tracker when updating Signature.
func (s *Store) PutMessage(m *chains.Message) error {
	_, err := s.db.Exec(`
		INSERT INTO messages (source_chain, nonce, source, destination_chain, destination, contents, block_number, signature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_chain, nonce) DO UPDATE SET
			source=excluded.source,
			destination_chain=excluded.destination_chain,
			destination=excluded.destination,
			contents=excluded.contents,
			block_number=excluded.block_number,
			signature=excluded.signature
	`, m.SourceChain[:], m.Nonce, m.Source, m.DestinationChain[:], m.Destination, m.Contents, m.BlockNumber, m.Signature)
	if err != nil {
		return fmt.Errorf("store: put message %s-%x: %w", m.SourceChain, m.Nonce, err)
	}
	return nil
}

func scanMessage(row interface {
	Scan(dest ...any) error
}) (*chains.Message, error) {
	var m chains.Message
	var srcChain, dstChain []byte
	if err := row.Scan(&srcChain, &m.Nonce, &m.Source, &dstChain, &m.Destination, &m.Contents, &m.BlockNumber, &m.Signature); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	copy(m.SourceChain[:], srcChain)
	copy(m.DestinationChain[:], dstChain)
	return &m, nil
}

// GetMessage returns the Message identified by (sourceChain, nonce), or
// ErrNotFound.
func (s *Store) GetMessage(sourceChain chains.ChainID, nonce []byte) (*chains.Message, error) {
	row := s.db.QueryRow(`
		SELECT source_chain, nonce, source, destination_chain, destination, contents, block_number, signature
		FROM messages WHERE source_chain = ? AND nonce = ?
	`, sourceChain[:], nonce)
	m, err := scanMessage(row)
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get message %s-%x: %w", sourceChain, nonce, err)
	}
	return m, nil
}

// GetHighestBlockNumber returns the highest block_number recorded for the
// given source chain, or (0, false) if the chain has no messages yet.
func (s *Store) GetHighestBlockNumber(sourceChain chains.ChainID) (uint64, bool, error) {
	var n sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(block_number) FROM messages WHERE source_chain = ?`, sourceChain[:]).Scan(&n)
	if err != nil {
		return 0, false, fmt.Errorf("store: get highest block number for %s: %w", sourceChain, err)
	}
	if !n.Valid {
		return 0, false, nil
	}
	return uint64(n.Int64), true, nil
}

// GetLatestMessage returns the message with the highest nonce for the given
// source chain, ordered byte-wise over the left-padded 32-byte nonce
// (equivalent to numeric order since nonces are monotonically increasing
// integers encoded big-endian, per spec.md §5 ordering invariant).
func (s *Store) GetLatestMessage(sourceChain chains.ChainID) (*chains.Message, error) {
	row := s.db.QueryRow(`
		SELECT source_chain, nonce, source, destination_chain, destination, contents, block_number, signature
		FROM messages WHERE source_chain = ? ORDER BY nonce DESC LIMIT 1
	`, sourceChain[:])
	m, err := scanMessage(row)
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get latest message for %s: %w", sourceChain, err)
	}
	return m, nil
}

// ListUnsignedForDestination returns every Message destined for chain whose
// Signature is empty (i.e. not yet signed, and not "used"), in nonce order,
// for the signer loops of both follower flavors (spec.md §4.4, §4.7).
func (s *Store) ListUnsignedForDestination(destChain chains.ChainID) ([]*chains.Message, error) {
	rows, err := s.db.Query(`
		SELECT source_chain, nonce, source, destination_chain, destination, contents, block_number, signature
		FROM messages WHERE destination_chain = ? AND signature = '' ORDER BY source_chain, nonce
	`, destChain[:])
	if err != nil {
		return nil, fmt.Errorf("store: list unsigned for %s: %w", destChain, err)
	}
	defer rows.Close()

	var out []*chains.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list unsigned for %s: %w", destChain, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListNonUsedForDestination returns every Message destined for chain whose
// Signature is neither empty nor "used" -- candidates for the X-chain
// portal-rotation re-sign pass (spec.md §4.6 "Resync on rotation").
func (s *Store) ListNonUsedForDestination(destChain chains.ChainID) ([]*chains.Message, error) {
	rows, err := s.db.Query(`
		SELECT source_chain, nonce, source, destination_chain, destination, contents, block_number, signature
		FROM messages WHERE destination_chain = ? AND signature != '' AND signature != ? ORDER BY source_chain, nonce
	`, destChain[:], chains.SigUsed)
	if err != nil {
		return nil, fmt.Errorf("store: list non-used for %s: %w", destChain, err)
	}
	defer rows.Close()

	var out []*chains.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list non-used for %s: %w", destChain, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetSignature sets the Signature field of the Message identified by
// (sourceChain, nonce). Per invariant I2, callers must not call this to
// move a Message away from the "used" sentinel; SetSignature itself does
// not enforce this (it mirrors a plain column update), so callers own the
// invariant. Writers are the signers (which set encoded signatures, and the
// X-chain signer also "used" for a nonce its tracker already saw consumed)
// and the portal tracker (which sets "used").
func (s *Store) SetSignature(sourceChain chains.ChainID, nonce []byte, sig string) error {
	res, err := s.db.Exec(`UPDATE messages SET signature = ? WHERE source_chain = ? AND nonce = ?`, sig, sourceChain[:], nonce)
	if err != nil {
		return fmt.Errorf("store: set signature %s-%x: %w", sourceChain, nonce, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: set signature %s-%x: %w", sourceChain, nonce, err)
	}
	if n == 0 {
		return fmt.Errorf("store: set signature %s-%x: %w", sourceChain, nonce, ErrNotFound)
	}
	return nil
}

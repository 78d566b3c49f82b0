// Package store implements the persistent record of messages, signatures and
// portal lineage described in spec.md §3/§4.1 (component C1). It is a thin
// wrapper over database/sql and the sqlite3 driver, in the teacher's own
// minimal style of hand-written SQL rather than an ORM (compare geth's
// ethdb: a narrow interface over a concrete KV engine, not a heavy
// abstraction layer).
package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

// Store is the durable backend for Messages and PortalStates. All
// multi-row mutations commit atomically (spec.md §4.1 "Failure semantics").
// Store errors are returned to the caller; per spec.md §4.1, a store error
// is fatal to the current task iteration.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at dsn and
// ensures its schema exists. Pass ":memory:" for an ephemeral store, used
// throughout this package's tests.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dsn, err)
	}
	// sqlite3 does not support concurrent writers; the relay only ever
	// has one writer per table (spec.md §3 "Ownership"), so a single
	// connection avoids SQLITE_BUSY entirely instead of papering over it
	// with busy-timeout retries.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	source_chain      BLOB NOT NULL,
	nonce             BLOB NOT NULL,
	source            BLOB NOT NULL,
	destination_chain BLOB NOT NULL,
	destination       BLOB NOT NULL,
	contents          BLOB NOT NULL,
	block_number      INTEGER NOT NULL,
	signature         TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (source_chain, nonce)
);

CREATE INDEX IF NOT EXISTS idx_messages_dest_unsigned
	ON messages (destination_chain, signature);

CREATE TABLE IF NOT EXISTS portal_states (
	chain_id               BLOB NOT NULL,
	coin_id                BLOB NOT NULL,
	parent_id              BLOB NOT NULL,
	used_chains_and_nonces BLOB NOT NULL,
	confirmed_block_height INTEGER,
	PRIMARY KEY (chain_id, coin_id)
);

CREATE INDEX IF NOT EXISTS idx_portal_states_parent
	ON portal_states (parent_id);

CREATE TABLE IF NOT EXISTS portal_coin_id_cache (
	chain_id INTEGER PRIMARY KEY CHECK (chain_id = 0),
	coin_id  BLOB NOT NULL
);
`

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

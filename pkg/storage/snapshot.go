// Package storage provides an optional, host-side snapshot of known peers
// and stored DHT values, backed by SQLite. pkg/dht never imports this
// package or reads from it directly (spec.md §6: "no on-disk state in the
// core; persistence, if any, is the host's responsibility") — it exists so
// a standalone node can survive a restart without rebuilding its routing
// table and value store from scratch.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("storage: not found")

// Snapshot is a WAL-mode SQLite-backed persistence layer for a node's
// known peers and DHT values, grounded on pkg/storage/database.go's
// MessageDB shape (same sql.Open/WAL/initSchema structure, repurposed).
type Snapshot struct {
	db *sql.DB
}

// Open creates or reopens a snapshot database at path.
func Open(path string) (*Snapshot, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("storage: opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: enabling WAL mode: %w", err)
	}

	s := &Snapshot{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Snapshot) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS known_peers (
		node_id TEXT PRIMARY KEY,
		public_key BLOB NOT NULL,
		addresses BLOB NOT NULL,
		signature BLOB NOT NULL,
		version INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS dht_values (
		key_hash TEXT PRIMARY KEY,
		owner_key BLOB NOT NULL,
		update_rule INTEGER NOT NULL,
		ttl INTEGER NOT NULL,
		payload BLOB NOT NULL,
		signature BLOB NOT NULL,
		stored_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("storage: initializing schema: %w", err)
	}
	return nil
}

// PeerRow is one persisted known-peer entry.
type PeerRow struct {
	NodeID    string
	PublicKey []byte
	Addresses []byte
	Signature []byte
	Version   uint32
}

// SavePeer upserts a known peer's last-seen record.
func (s *Snapshot) SavePeer(p PeerRow) error {
	_, err := s.db.Exec(`
		INSERT INTO known_peers (node_id, public_key, addresses, signature, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			public_key = excluded.public_key,
			addresses = excluded.addresses,
			signature = excluded.signature,
			version = excluded.version,
			updated_at = excluded.updated_at
	`, p.NodeID, p.PublicKey, p.Addresses, p.Signature, p.Version, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("storage: saving peer: %w", err)
	}
	return nil
}

// LoadPeers returns every persisted known peer.
func (s *Snapshot) LoadPeers() ([]PeerRow, error) {
	rows, err := s.db.Query(`SELECT node_id, public_key, addresses, signature, version FROM known_peers`)
	if err != nil {
		return nil, fmt.Errorf("storage: loading peers: %w", err)
	}
	defer rows.Close()

	var out []PeerRow
	for rows.Next() {
		var p PeerRow
		if err := rows.Scan(&p.NodeID, &p.PublicKey, &p.Addresses, &p.Signature, &p.Version); err != nil {
			return nil, fmt.Errorf("storage: scanning peer row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ValueRow is one persisted DHT value entry.
type ValueRow struct {
	KeyHash    string
	OwnerKey   []byte
	UpdateRule uint8
	TTL        uint32
	Payload    []byte
	Signature  []byte
}

// SaveValue upserts a stored DHT value.
func (s *Snapshot) SaveValue(v ValueRow) error {
	_, err := s.db.Exec(`
		INSERT INTO dht_values (key_hash, owner_key, update_rule, ttl, payload, signature, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key_hash) DO UPDATE SET
			owner_key = excluded.owner_key,
			update_rule = excluded.update_rule,
			ttl = excluded.ttl,
			payload = excluded.payload,
			signature = excluded.signature,
			stored_at = excluded.stored_at
	`, v.KeyHash, v.OwnerKey, v.UpdateRule, v.TTL, v.Payload, v.Signature, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("storage: saving value: %w", err)
	}
	return nil
}

// LoadValues returns every persisted DHT value that has not yet expired
// as of now.
func (s *Snapshot) LoadValues(now uint32) ([]ValueRow, error) {
	rows, err := s.db.Query(`
		SELECT key_hash, owner_key, update_rule, ttl, payload, signature
		FROM dht_values WHERE ttl > ?
	`, now)
	if err != nil {
		return nil, fmt.Errorf("storage: loading values: %w", err)
	}
	defer rows.Close()

	var out []ValueRow
	for rows.Next() {
		var v ValueRow
		if err := rows.Scan(&v.KeyHash, &v.OwnerKey, &v.UpdateRule, &v.TTL, &v.Payload, &v.Signature); err != nil {
			return nil, fmt.Errorf("storage: scanning value row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle.
func (s *Snapshot) Close() error {
	return s.db.Close()
}

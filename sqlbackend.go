package merkavl

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLBackend persists the tree in an embedded SQLite database. Node rows
// are keyed by hex digest; leaf and inner rows cascade from them. The root
// table maps each committed version to its root digest, while
// node.root_version records the version at which a node first became a
// committed root.
type SQLBackend struct {
	db *sql.DB
	tx *sql.Tx
}

var _ Backend = (*SQLBackend)(nil)

type sqlMigration struct {
	name string
	up   string
}

var sqlMigrations = []sqlMigration{
	{
		name: "v1",
		up: `
CREATE TABLE node (
    hash         TEXT PRIMARY KEY,
    root_version INTEGER
);

CREATE TABLE leaf (
    hash    TEXT PRIMARY KEY REFERENCES node(hash) ON DELETE CASCADE,
    key     BLOB NOT NULL,
    value   BLOB NOT NULL,
    version INTEGER NOT NULL
);

CREATE TABLE "inner" (
    hash    TEXT PRIMARY KEY REFERENCES node(hash) ON DELETE CASCADE,
    key     BLOB NOT NULL,
    height  INTEGER NOT NULL,
    size    INTEGER NOT NULL,
    "left"  TEXT NOT NULL REFERENCES node(hash),
    "right" TEXT NOT NULL REFERENCES node(hash),
    version INTEGER NOT NULL
);

CREATE TABLE orphan (
    hash  TEXT PRIMARY KEY REFERENCES node(hash) ON DELETE CASCADE,
    until INTEGER NOT NULL
);

CREATE TABLE root (
    version INTEGER PRIMARY KEY,
    hash    TEXT NOT NULL REFERENCES node(hash)
);

CREATE INDEX idx_leaf_version ON leaf(version);
CREATE INDEX idx_inner_version ON "inner"(version);
CREATE INDEX idx_orphan_until ON orphan(until);
`,
	},
}

// NewSQLBackend opens or creates the SQLite database at path and applies
// pending migrations.
func NewSQLBackend(path string) (*SQLBackend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLBackend{db: db}, nil
}

func migrate(db *sql.DB) error {
	var current int
	if err := db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	for i, m := range sqlMigrations[current:] {
		if _, err := db.Exec(m.up); err != nil {
			return fmt.Errorf("applying migration %s: %w", m.name, err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", current+i+1)); err != nil {
			return fmt.Errorf("bumping schema version: %w", err)
		}
	}
	return nil
}

// exec routes through the open batch transaction when one is active.
func (b *SQLBackend) exec(query string, args ...any) error {
	var err error
	if b.tx != nil {
		_, err = b.tx.Exec(query, args...)
	} else {
		_, err = b.db.Exec(query, args...)
	}
	return err
}

func (b *SQLBackend) queryRow(query string, args ...any) *sql.Row {
	if b.tx != nil {
		return b.tx.QueryRow(query, args...)
	}
	return b.db.QueryRow(query, args...)
}

func (b *SQLBackend) BeginBatch() error {
	if b.tx != nil {
		return fmt.Errorf("batch already open")
	}
	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning batch: %w", err)
	}
	// Cascading deletes touch parent and child rows in one statement;
	// checking foreign keys at commit keeps the intermediate states legal.
	if _, err := tx.Exec("PRAGMA defer_foreign_keys = ON"); err != nil {
		tx.Rollback()
		return err
	}
	b.tx = tx
	return nil
}

func (b *SQLBackend) CommitBatch() error {
	if b.tx == nil {
		return fmt.Errorf("no batch open")
	}
	err := b.tx.Commit()
	b.tx = nil
	if err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

func (b *SQLBackend) SaveNode(node *Node) error {
	hash := hex.EncodeToString(node.hash)
	if err := b.exec("INSERT OR IGNORE INTO node(hash) VALUES(?)", hash); err != nil {
		return fmt.Errorf("inserting node %s: %w", hash, err)
	}
	if node.isLeaf() {
		if err := b.exec(
			"INSERT OR IGNORE INTO leaf(hash, key, value, version) VALUES(?, ?, ?, ?)",
			hash, node.key, node.value, node.version,
		); err != nil {
			return fmt.Errorf("inserting leaf %s: %w", hash, err)
		}
	} else {
		if err := b.exec(
			`INSERT OR IGNORE INTO "inner"(hash, key, height, size, "left", "right", version) VALUES(?, ?, ?, ?, ?, ?, ?)`,
			hash, node.key, node.height, node.size,
			hex.EncodeToString(node.leftHash), hex.EncodeToString(node.rightHash), node.version,
		); err != nil {
			return fmt.Errorf("inserting inner %s: %w", hash, err)
		}
	}
	node.persisted = true
	return nil
}

func (b *SQLBackend) GetNode(hash []byte) (*Node, error) {
	hexHash := hex.EncodeToString(hash)
	node := &Node{
		hash:      append([]byte{}, hash...),
		size:      1,
		persisted: true,
	}

	err := b.queryRow("SELECT key, value, version FROM leaf WHERE hash = ?", hexHash).
		Scan(&node.key, &node.value, &node.version)
	switch err {
	case nil:
		return node, nil
	case sql.ErrNoRows:
	default:
		return nil, fmt.Errorf("reading leaf %s: %w", hexHash, err)
	}

	var leftHex, rightHex string
	err = b.queryRow(`SELECT key, height, size, "left", "right", version FROM "inner" WHERE hash = ?`, hexHash).
		Scan(&node.key, &node.height, &node.size, &leftHex, &rightHex, &node.version)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNodeMissing, hexHash)
	}
	if err != nil {
		return nil, fmt.Errorf("reading inner %s: %w", hexHash, err)
	}
	if node.leftHash, err = hex.DecodeString(leftHex); err != nil {
		return nil, fmt.Errorf("decoding left hash of %s: %w", hexHash, err)
	}
	if node.rightHash, err = hex.DecodeString(rightHex); err != nil {
		return nil, fmt.Errorf("decoding right hash of %s: %w", hexHash, err)
	}
	return node, nil
}

func (b *SQLBackend) DeleteNodesAt(version int64) error {
	batching := b.tx != nil
	if !batching {
		if err := b.BeginBatch(); err != nil {
			return err
		}
	}
	err := b.exec(
		`DELETE FROM node WHERE hash IN (
			SELECT hash FROM leaf WHERE version = ?
			UNION SELECT hash FROM "inner" WHERE version = ?)`,
		version, version,
	)
	if !batching {
		if err != nil {
			b.tx.Rollback()
			b.tx = nil
			return fmt.Errorf("deleting nodes at version %d: %w", version, err)
		}
		return b.CommitBatch()
	}
	if err != nil {
		return fmt.Errorf("deleting nodes at version %d: %w", version, err)
	}
	return nil
}

func (b *SQLBackend) SaveRoot(version int64, hash []byte) error {
	hexHash := hex.EncodeToString(hash)
	// The empty root has no leaf or inner row; a bare node row anchors the
	// foreign key either way.
	if err := b.exec("INSERT OR IGNORE INTO node(hash) VALUES(?)", hexHash); err != nil {
		return fmt.Errorf("anchoring root node %s: %w", hexHash, err)
	}
	if err := b.exec(
		"UPDATE node SET root_version = ? WHERE hash = ? AND root_version IS NULL",
		version, hexHash,
	); err != nil {
		return fmt.Errorf("marking root node %s: %w", hexHash, err)
	}
	if err := b.exec("INSERT OR REPLACE INTO root(version, hash) VALUES(?, ?)", version, hexHash); err != nil {
		return fmt.Errorf("saving root %d: %w", version, err)
	}
	return nil
}

func (b *SQLBackend) GetRoot(version int64) ([]byte, bool, error) {
	var hexHash string
	err := b.queryRow("SELECT hash FROM root WHERE version = ?", version).Scan(&hexHash)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading root %d: %w", version, err)
	}
	hash, err := hex.DecodeString(hexHash)
	if err != nil {
		return nil, false, fmt.Errorf("decoding root hash %s: %w", hexHash, err)
	}
	return hash, true, nil
}

func (b *SQLBackend) DeleteRoot(version int64) error {
	if err := b.exec("DELETE FROM root WHERE version = ?", version); err != nil {
		return fmt.Errorf("deleting root %d: %w", version, err)
	}
	if err := b.exec(
		`UPDATE node SET root_version = NULL
		 WHERE root_version = ? AND NOT EXISTS (SELECT 1 FROM root WHERE root.hash = node.hash)`,
		version,
	); err != nil {
		return fmt.Errorf("unmarking root %d: %w", version, err)
	}
	return nil
}

func (b *SQLBackend) Versions() ([]int64, error) {
	rows, err := b.db.Query("SELECT version FROM root ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (b *SQLBackend) SaveOrphan(hash []byte, until int64) error {
	if err := b.exec(
		"INSERT OR REPLACE INTO orphan(hash, until) VALUES(?, ?)",
		hex.EncodeToString(hash), until,
	); err != nil {
		return fmt.Errorf("saving orphan: %w", err)
	}
	return nil
}

func (b *SQLBackend) DeleteOrphansAt(until int64) error {
	if err := b.exec("DELETE FROM orphan WHERE until = ?", until); err != nil {
		return fmt.Errorf("deleting orphans at %d: %w", until, err)
	}
	return nil
}

func (b *SQLBackend) Orphans(fn func(hash []byte, until int64) bool) error {
	rows, err := b.db.Query("SELECT hash, until FROM orphan ORDER BY until")
	if err != nil {
		return fmt.Errorf("listing orphans: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			hexHash string
			until   int64
		)
		if err := rows.Scan(&hexHash, &until); err != nil {
			return err
		}
		hash, err := hex.DecodeString(hexHash)
		if err != nil {
			return fmt.Errorf("decoding orphan hash %s: %w", hexHash, err)
		}
		if fn(hash, until) {
			return nil
		}
	}
	return rows.Err()
}

func (b *SQLBackend) Close() error {
	if b.tx != nil {
		b.tx.Rollback()
		b.tx = nil
	}
	return b.db.Close()
}

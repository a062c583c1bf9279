// Package tablestore implements the Table Store (C3, spec.md §4 durable
// schema): the SQLite-backed home for every relational entity the engine
// persists (memories, sector vectors, waypoints, facts, temporal edges,
// users, classifier models, maintenance stats). Grounded on the teacher's
// store.go Init/createTables (modernc.org/sqlite, WAL pragmas, connection
// pool sizing), generalized from a single embeddings table to the full
// schema spec.md §6 names.
package tablestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hsgraph/hsg/pkg/errs"
)

// Store owns the SQLite connection shared by the table and vector stores.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path in WAL
// mode and runs the schema migration. An empty path opens an in-memory
// database, useful for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	dsn += "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errs.Internal("tablestore.Open", fmt.Errorf("open database: %w", err))
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying *sql.DB for sibling stores (the vector store
// shares this connection rather than opening its own).
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id                TEXT PRIMARY KEY,
	tenant_id         TEXT,
	content_encrypted BLOB NOT NULL,
	primary_sector    TEXT NOT NULL,
	tags_json         TEXT NOT NULL DEFAULT '[]',
	metadata_json     TEXT NOT NULL DEFAULT '{}',
	segment           INTEGER NOT NULL DEFAULT 0,
	simhash           INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL,
	last_seen_at      INTEGER NOT NULL,
	salience          REAL NOT NULL DEFAULT 1.0,
	decay_lambda      REAL NOT NULL,
	version           INTEGER NOT NULL DEFAULT 1,
	mean_dim          INTEGER NOT NULL DEFAULT 0,
	mean_vec          BLOB,
	compressed_vec    BLOB,
	coactivations     INTEGER NOT NULL DEFAULT 0,
	feedback_score    REAL NOT NULL DEFAULT 0,
	generated_summary TEXT
);
CREATE INDEX IF NOT EXISTS idx_memories_tenant ON memories(tenant_id);
CREATE INDEX IF NOT EXISTS idx_memories_segment ON memories(tenant_id, segment);
CREATE INDEX IF NOT EXISTS idx_memories_sector ON memories(tenant_id, primary_sector);

CREATE TABLE IF NOT EXISTS sector_vectors (
	mem_id     TEXT NOT NULL,
	sector     TEXT NOT NULL,
	tenant_id  TEXT,
	vector_blob BLOB NOT NULL,
	dim        INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (mem_id, sector)
);
CREATE INDEX IF NOT EXISTS idx_sector_vectors_tenant_sector ON sector_vectors(tenant_id, sector);

CREATE TABLE IF NOT EXISTS waypoints (
	src_id            TEXT NOT NULL,
	dst_id            TEXT NOT NULL,
	tenant_id         TEXT,
	weight            REAL NOT NULL,
	created_at        INTEGER NOT NULL,
	last_traversed_at INTEGER NOT NULL,
	PRIMARY KEY (src_id, dst_id)
);
CREATE INDEX IF NOT EXISTS idx_waypoints_tenant_src ON waypoints(tenant_id, src_id);

CREATE TABLE IF NOT EXISTS facts (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT,
	subject    TEXT NOT NULL,
	predicate  TEXT NOT NULL,
	object     TEXT NOT NULL,
	valid_from INTEGER NOT NULL,
	valid_to   INTEGER,
	confidence REAL NOT NULL DEFAULT 1.0,
	metadata_json TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_facts_tenant_subject ON facts(tenant_id, subject);

CREATE TABLE IF NOT EXISTS temporal_edges (
	id            TEXT PRIMARY KEY,
	source_id     TEXT NOT NULL,
	target_id     TEXT NOT NULL,
	relation_type TEXT NOT NULL,
	valid_from    INTEGER NOT NULL,
	valid_to      INTEGER,
	weight        REAL NOT NULL DEFAULT 1.0,
	tenant_id     TEXT,
	metadata_json TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_temporal_edges_tenant_source ON temporal_edges(tenant_id, source_id);

CREATE TABLE IF NOT EXISTS users (
	tenant_id        TEXT PRIMARY KEY,
	summary          TEXT NOT NULL DEFAULT '',
	reflection_count INTEGER NOT NULL DEFAULT 0,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS classifier_models (
	tenant_id   TEXT PRIMARY KEY,
	weights_json TEXT NOT NULL,
	biases_json  TEXT NOT NULL,
	version      INTEGER NOT NULL DEFAULT 1,
	updated_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS stats (
	id   TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	count INTEGER NOT NULL,
	ts    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stats_type_ts ON stats(type, ts);

CREATE TABLE IF NOT EXISTS audit_log (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT,
	actor      TEXT NOT NULL,
	action     TEXT NOT NULL,
	subject_id TEXT,
	ts         INTEGER NOT NULL,
	detail     TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_log_tenant_ts ON audit_log(tenant_id, ts);
`

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errs.Internal("tablestore.migrate", fmt.Errorf("create schema: %w", err))
	}
	return nil
}

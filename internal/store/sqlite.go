package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SnapshotDB persists GraphStore snapshots and file content hashes in SQLite.
// Save replaces the previous snapshot wholesale.
type SnapshotDB struct {
	db *sql.DB
}

// OpenSnapshotDB opens a SQLite database at dbPath with WAL mode enabled.
func OpenSnapshotDB(dbPath string) (*SnapshotDB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &SnapshotDB{db: db}, nil
}

// Close closes the underlying database connection.
func (d *SnapshotDB) Close() error {
	return d.db.Close()
}

// Migrate creates the snapshot tables. Idempotent.
func (d *SnapshotDB) Migrate() error {
	if _, err := d.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS nodes (
  id              TEXT PRIMARY KEY,
  kind            TEXT NOT NULL,
  name            TEXT NOT NULL,
  path            TEXT,
  meta            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS edges (
  id              TEXT PRIMARY KEY,
  from_id         TEXT NOT NULL,
  to_id           TEXT NOT NULL,
  kind            TEXT NOT NULL,
  confidence      TEXT NOT NULL,
  reason          TEXT,
  meta            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS issues (
  id              TEXT PRIMARY KEY,
  kind            TEXT NOT NULL,
  severity        TEXT NOT NULL,
  file_path       TEXT,
  body            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS file_hashes (
  path            TEXT PRIMARY KEY,
  hash            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_nodes_path ON nodes(path);
CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_id);
CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(to_id);
`

// Save writes snap and hashes in a single transaction, replacing what was
// stored before.
func (d *SnapshotDB) Save(ctx context.Context, snap Snapshot, hashes map[string]string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save snapshot: begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"nodes", "edges", "issues", "file_hashes", "metadata"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("save snapshot: clear %s: %w", table, err)
		}
	}

	nodeStmt, err := tx.PrepareContext(ctx, `INSERT INTO nodes (id, kind, name, path, meta) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("save snapshot: prepare nodes: %w", err)
	}
	defer nodeStmt.Close()
	for _, n := range snap.Nodes {
		meta, err := json.Marshal(n.Meta)
		if err != nil {
			return fmt.Errorf("save snapshot: node %s meta: %w", n.ID, err)
		}
		if _, err := nodeStmt.ExecContext(ctx, n.ID, string(n.Kind), n.Name, nullString(n.Path), string(meta)); err != nil {
			return fmt.Errorf("save snapshot: node %s: %w", n.ID, err)
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx, `INSERT INTO edges (id, from_id, to_id, kind, confidence, reason, meta) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("save snapshot: prepare edges: %w", err)
	}
	defer edgeStmt.Close()
	for _, e := range snap.Edges {
		meta, err := json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("save snapshot: edge %s meta: %w", e.ID, err)
		}
		if _, err := edgeStmt.ExecContext(ctx, e.ID, e.From, e.To, string(e.Kind), string(e.Confidence), e.Reason, string(meta)); err != nil {
			return fmt.Errorf("save snapshot: edge %s: %w", e.ID, err)
		}
	}

	for _, iss := range snap.Issues {
		body, err := json.Marshal(iss)
		if err != nil {
			return fmt.Errorf("save snapshot: issue %s: %w", iss.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO issues (id, kind, severity, file_path, body) VALUES (?, ?, ?, ?, ?)`,
			iss.ID, string(iss.Kind), string(iss.Severity), iss.Meta.FilePath, string(body),
		); err != nil {
			return fmt.Errorf("save snapshot: issue %s: %w", iss.ID, err)
		}
	}

	for path, hash := range hashes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO file_hashes (path, hash) VALUES (?, ?)`, path, hash); err != nil {
			return fmt.Errorf("save snapshot: hash %s: %w", path, err)
		}
	}

	meta := map[string]string{
		"version":           strconv.Itoa(snap.Version),
		"last_indexed":      snap.Meta.LastIndexed.UTC().Format(time.RFC3339Nano),
		"index_duration_ms": strconv.FormatInt(snap.Meta.IndexDurationMs, 10),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO metadata (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("save snapshot: metadata %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save snapshot: commit: %w", err)
	}
	return nil
}

// Load reads the stored snapshot and file hashes. An empty database yields an
// empty snapshot.
func (d *SnapshotDB) Load(ctx context.Context) (Snapshot, map[string]string, error) {
	snap := Snapshot{Version: SnapshotVersion, Nodes: []Node{}, Edges: []Edge{}, Issues: []Issue{}}

	rows, err := d.db.QueryContext(ctx, `SELECT id, kind, name, path, meta FROM nodes ORDER BY id`)
	if err != nil {
		return snap, nil, fmt.Errorf("load snapshot: nodes: %w", err)
	}
	for rows.Next() {
		var n Node
		var kind, meta string
		var path sql.NullString
		if err := rows.Scan(&n.ID, &kind, &n.Name, &path, &meta); err != nil {
			rows.Close()
			return snap, nil, fmt.Errorf("load snapshot: scan node: %w", err)
		}
		n.Kind = NodeKind(kind)
		n.Path = path.String
		if err := json.Unmarshal([]byte(meta), &n.Meta); err != nil {
			rows.Close()
			return snap, nil, fmt.Errorf("load snapshot: node %s meta: %w", n.ID, err)
		}
		snap.Nodes = append(snap.Nodes, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, nil, fmt.Errorf("load snapshot: nodes: %w", err)
	}

	rows, err = d.db.QueryContext(ctx, `SELECT id, from_id, to_id, kind, confidence, reason, meta FROM edges ORDER BY id`)
	if err != nil {
		return snap, nil, fmt.Errorf("load snapshot: edges: %w", err)
	}
	for rows.Next() {
		var e Edge
		var kind, conf, meta string
		var reason sql.NullString
		if err := rows.Scan(&e.ID, &e.From, &e.To, &kind, &conf, &reason, &meta); err != nil {
			rows.Close()
			return snap, nil, fmt.Errorf("load snapshot: scan edge: %w", err)
		}
		e.Kind = EdgeKind(kind)
		e.Confidence = Confidence(conf)
		e.Reason = reason.String
		if err := json.Unmarshal([]byte(meta), &e.Meta); err != nil {
			rows.Close()
			return snap, nil, fmt.Errorf("load snapshot: edge %s meta: %w", e.ID, err)
		}
		snap.Edges = append(snap.Edges, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, nil, fmt.Errorf("load snapshot: edges: %w", err)
	}

	rows, err = d.db.QueryContext(ctx, `SELECT body FROM issues ORDER BY id`)
	if err != nil {
		return snap, nil, fmt.Errorf("load snapshot: issues: %w", err)
	}
	for rows.Next() {
		var body string
		var iss Issue
		if err := rows.Scan(&body); err != nil {
			rows.Close()
			return snap, nil, fmt.Errorf("load snapshot: scan issue: %w", err)
		}
		if err := json.Unmarshal([]byte(body), &iss); err != nil {
			rows.Close()
			return snap, nil, fmt.Errorf("load snapshot: issue body: %w", err)
		}
		snap.Issues = append(snap.Issues, iss)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, nil, fmt.Errorf("load snapshot: issues: %w", err)
	}

	hashes := make(map[string]string)
	rows, err = d.db.QueryContext(ctx, `SELECT path, hash FROM file_hashes`)
	if err != nil {
		return snap, nil, fmt.Errorf("load snapshot: hashes: %w", err)
	}
	for rows.Next() {
		var p, h string
		if err := rows.Scan(&p, &h); err != nil {
			rows.Close()
			return snap, nil, fmt.Errorf("load snapshot: scan hash: %w", err)
		}
		hashes[p] = h
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, nil, fmt.Errorf("load snapshot: hashes: %w", err)
	}

	meta, err := d.metadata(ctx)
	if err != nil {
		return snap, nil, err
	}
	if v, err := strconv.Atoi(meta["version"]); err == nil {
		snap.Version = v
	}
	if t, err := time.Parse(time.RFC3339Nano, meta["last_indexed"]); err == nil {
		snap.Meta.LastIndexed = t
	}
	if ms, err := strconv.ParseInt(meta["index_duration_ms"], 10, 64); err == nil {
		snap.Meta.IndexDurationMs = ms
	}
	snap.Meta.NodeCount = len(snap.Nodes)
	snap.Meta.EdgeCount = len(snap.Edges)
	snap.Meta.IssueCount = len(snap.Issues)
	return snap, hashes, nil
}

func (d *SnapshotDB) metadata(ctx context.Context) (map[string]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT key, value FROM metadata`)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: metadata: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("load snapshot: scan metadata: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

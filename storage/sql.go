package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL driver and placeholder style.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// DB is a Store backed by database/sql. Writes are committed as they
// happen, so Flush and Reload have nothing to do.
type DB struct {
	conn    *sql.DB
	dialect Dialect
}

// NewSQLite opens (creating if needed) the SQLite database at path.
func NewSQLite(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
	conn.SetMaxOpenConns(1)
	return newDB(conn, SQLite)
}

// NewPostgres connects to the Postgres database at dsn through pgx.
func NewPostgres(dsn string) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return newDB(conn, Postgres)
}

func newDB(conn *sql.DB, dialect Dialect) (*DB, error) {
	db := &DB{conn: conn, dialect: dialect}
	if err := db.initSchema(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS candidates (
			host TEXT PRIMARY KEY,
			tokens TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS preferences (
			pref_key TEXT PRIMARY KEY,
			token TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (db *DB) rebind(query string) string {
	if db.dialect != Postgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// ReadCandidates returns the ordered token list stored for host.
func (db *DB) ReadCandidates(ctx context.Context, host string) ([]string, error) {
	var tokensJSON string
	err := db.conn.QueryRowContext(ctx, db.rebind(`SELECT tokens FROM candidates WHERE host = ?`), host).Scan(&tokensJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var tokens []string
	if err := json.Unmarshal([]byte(tokensJSON), &tokens); err != nil {
		return nil, fmt.Errorf("unmarshal tokens: %w", err)
	}
	return tokens, nil
}

// WriteCandidates replaces the token list stored for host.
func (db *DB) WriteCandidates(ctx context.Context, host string, tokens []string) error {
	if tokens == nil {
		tokens = []string{}
	}
	tokensJSON, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("marshal tokens: %w", err)
	}

	query := `
	INSERT INTO candidates (host, tokens) VALUES (?, ?)
	ON CONFLICT(host) DO UPDATE SET tokens = excluded.tokens
	`
	_, err = db.conn.ExecContext(ctx, db.rebind(query), host, string(tokensJSON))
	return err
}

// AppendCandidate appends token to host's list inside one transaction. The
// row is created first so there is always something to lock: Postgres
// locks it with FOR UPDATE, and SQLite's insert takes the database write
// lock. Either way a second writer waits instead of overwriting.
func (db *DB) AppendCandidate(ctx context.Context, host, token string) (bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	insert := `INSERT INTO candidates (host, tokens) VALUES (?, '[]') ON CONFLICT(host) DO NOTHING`
	if _, err := tx.ExecContext(ctx, db.rebind(insert), host); err != nil {
		return false, fmt.Errorf("create candidates row: %w", err)
	}

	query := `SELECT tokens FROM candidates WHERE host = ?`
	if db.dialect == Postgres {
		query += ` FOR UPDATE`
	}
	var tokensJSON string
	if err := tx.QueryRowContext(ctx, db.rebind(query), host).Scan(&tokensJSON); err != nil {
		return false, fmt.Errorf("read candidates: %w", err)
	}
	var tokens []string
	if err := json.Unmarshal([]byte(tokensJSON), &tokens); err != nil {
		return false, fmt.Errorf("unmarshal tokens: %w", err)
	}
	if slices.Contains(tokens, token) {
		return false, tx.Commit()
	}

	updated, err := json.Marshal(append(tokens, token))
	if err != nil {
		return false, fmt.Errorf("marshal tokens: %w", err)
	}
	if _, err := tx.ExecContext(ctx, db.rebind(`UPDATE candidates SET tokens = ? WHERE host = ?`), string(updated), host); err != nil {
		return false, fmt.Errorf("write candidates: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit append: %w", err)
	}
	return true, nil
}

// ReadPreference returns the token pinned under key.
func (db *DB) ReadPreference(ctx context.Context, key string) (string, error) {
	var token string
	err := db.conn.QueryRowContext(ctx, db.rebind(`SELECT token FROM preferences WHERE pref_key = ?`), key).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return token, err
}

// WritePreference stores or replaces the token pinned under key.
func (db *DB) WritePreference(ctx context.Context, key, token string) error {
	query := `
	INSERT INTO preferences (pref_key, token) VALUES (?, ?)
	ON CONFLICT(pref_key) DO UPDATE SET token = excluded.token
	`
	_, err := db.conn.ExecContext(ctx, db.rebind(query), key, token)
	return err
}

// DeletePreference removes key and returns the token it held.
func (db *DB) DeletePreference(ctx context.Context, key string) (string, error) {
	var token string
	err := db.conn.QueryRowContext(ctx, db.rebind(`DELETE FROM preferences WHERE pref_key = ? RETURNING token`), key).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return token, err
}

// Flush is a no-op: every statement is committed when it returns.
func (db *DB) Flush(ctx context.Context) error {
	return nil
}

// Reload is a no-op: reads always hit the database.
func (db *DB) Reload(ctx context.Context) error {
	return nil
}

// Ping checks the database connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Snapshot copies both tables.
func (db *DB) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := NewSnapshot()

	rows, err := db.conn.QueryContext(ctx, `SELECT host, tokens FROM candidates`)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	for rows.Next() {
		var host, tokensJSON string
		if err := rows.Scan(&host, &tokensJSON); err != nil {
			rows.Close()
			return nil, err
		}
		var tokens []string
		if err := json.Unmarshal([]byte(tokensJSON), &tokens); err != nil {
			rows.Close()
			return nil, fmt.Errorf("unmarshal tokens for %s: %w", host, err)
		}
		snap.Candidates[host] = tokens
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.conn.QueryContext(ctx, `SELECT pref_key, token FROM preferences`)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, token string
		if err := rows.Scan(&key, &token); err != nil {
			return nil, err
		}
		snap.Preferences[key] = token
	}
	return snap, rows.Err()
}

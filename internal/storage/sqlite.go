package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// sqliteMaxVars stays under SQLITE_MAX_VARIABLE_NUMBER for IN (...) lookups.
const sqliteMaxVars = 500

// SQLite implements Store with one table per partition in a single SQLite file.
// All operations are serialized through mu; the pool is pinned to one connection.
type SQLite struct {
	db *sql.DB
	mu sync.Mutex
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens or creates the database at dbPath. Parent directories are created if needed.
// Use ":memory:" for a throwaway database.
func NewSQLite(dbPath string) (*SQLite, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	return &SQLite{db: db}, nil
}

// tableName maps a partition onto its table. SQLite identifiers are case-insensitive,
// so upper-case letters are written as "_" plus the lower-case letter and "_" as "__".
func tableName(partition string) string {
	var b strings.Builder
	b.Grow(len(partition) + 4)
	b.WriteString("p_")
	for i := 0; i < len(partition); i++ {
		c := partition[i]
		switch {
		case c == '_':
			b.WriteString("__")
		case c >= 'A' && c <= 'Z':
			b.WriteByte('_')
			b.WriteByte(c - 'A' + 'a')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// partitionName reverses tableName. ok is false for tables it did not produce.
func partitionName(table string) (string, bool) {
	enc, ok := strings.CutPrefix(strings.ToLower(table), "p_")
	if !ok || enc == "" {
		return "", false
	}
	var b strings.Builder
	for i := 0; i < len(enc); i++ {
		c := enc[i]
		if c != '_' {
			b.WriteByte(c)
			continue
		}
		i++
		if i == len(enc) {
			return "", false
		}
		switch n := enc[i]; {
		case n == '_':
			b.WriteByte('_')
		case n >= 'a' && n <= 'z':
			b.WriteByte(n - 'a' + 'A')
		default:
			return "", false
		}
	}
	return b.String(), true
}

func missingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

// partitionErr maps a missing-table failure onto ErrPartitionNotFound.
func partitionErr(partition string, err error) error {
	if missingTable(err) {
		return fmt.Errorf("%w: %s", ErrPartitionNotFound, partition)
	}
	return err
}

// EnsureCreated creates the partition table if it does not exist.
func (s *SQLite) EnsureCreated(ctx context.Context, partition string) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (key INTEGER PRIMARY KEY, data BLOB NOT NULL)`, tableName(partition)))
	if err != nil {
		return fmt.Errorf("failed to create partition %s: %w", partition, err)
	}
	return nil
}

// Exists reports whether the partition table exists.
func (s *SQLite) Exists(ctx context.Context, partition string) (bool, error) {
	if err := ValidatePartition(partition); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, tableName(partition),
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Partitions lists partition tables.
func (s *SQLite) Partitions(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND substr(name, 1, 2) = 'p_'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if p, ok := partitionName(name); ok {
			out = append(out, p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// Drop removes the partition table and all of its rows.
func (s *SQLite) Drop(ctx context.Context, partition string) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, tableName(partition)))
	return err
}

// Upsert inserts or replaces one document.
func (s *SQLite) Upsert(ctx context.Context, partition string, key uint64, data []byte) error {
	return s.UpsertBatch(ctx, partition, []Entry{{Key: key, Data: data}})
}

// UpsertBatch inserts or replaces documents in a single transaction.
func (s *SQLite) UpsertBatch(ctx context.Context, partition string, entries []Entry) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (key, data) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data`, tableName(partition)))
	if err != nil {
		return partitionErr(partition, err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, int64(e.Key), e.Data); err != nil {
			return fmt.Errorf("failed to upsert key %d: %w", e.Key, err)
		}
	}
	return tx.Commit()
}

// Get returns the document stored under key. A missing key is reported as ok=false.
func (s *SQLite) Get(ctx context.Context, partition string, key uint64) ([]byte, bool, error) {
	if err := ValidatePartition(partition); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var data []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT data FROM %s WHERE key = ?`, tableName(partition)), int64(key),
	).Scan(&data)
	if err == sql.ErrNoRows || missingTable(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// GetBatch returns the documents that exist for keys, in no guaranteed order.
func (s *SQLite) GetBatch(ctx context.Context, partition string, keys []uint64) ([]Entry, error) {
	if err := ValidatePartition(partition); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(keys))
	for start := 0; start < len(keys); start += sqliteMaxVars {
		end := min(start+sqliteMaxVars, len(keys))
		chunk := keys[start:end]
		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = int64(k)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
			`SELECT key, data FROM %s WHERE key IN (%s)`, tableName(partition), placeholders), args...)
		if missingTable(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		out, err = scanEntries(rows, out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Delete removes one document; deleting a missing key is not an error.
func (s *SQLite) Delete(ctx context.Context, partition string, key uint64) error {
	return s.DeleteBatch(ctx, partition, []uint64{key})
}

// DeleteBatch removes documents in a single transaction.
func (s *SQLite) DeleteBatch(ctx context.Context, partition string, keys []uint64) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, tableName(partition)))
	if err != nil {
		return partitionErr(partition, err)
	}
	defer stmt.Close()

	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, int64(k)); err != nil {
			return fmt.Errorf("failed to delete key %d: %w", k, err)
		}
	}
	return tx.Commit()
}

// GetAll returns every document in the partition ordered by key.
func (s *SQLite) GetAll(ctx context.Context, partition string) ([]Entry, error) {
	if err := ValidatePartition(partition); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT key, data FROM %s ORDER BY key`, tableName(partition)))
	if missingTable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return scanEntries(rows, nil)
}

// Count returns the number of documents in the partition.
func (s *SQLite) Count(ctx context.Context, partition string) (int64, error) {
	if err := ValidatePartition(partition); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, tableName(partition))).Scan(&n)
	if missingTable(err) {
		return 0, nil
	}
	return n, err
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func scanEntries(rows *sql.Rows, out []Entry) ([]Entry, error) {
	defer rows.Close()
	for rows.Next() {
		var k int64
		var data []byte
		if err := rows.Scan(&k, &data); err != nil {
			return nil, err
		}
		out = append(out, Entry{Key: uint64(k), Data: data})
	}
	return out, rows.Err()
}

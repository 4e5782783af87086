// Package store persists patterns, catalog targets and command records.
//
// Every row carries its JSON payload and a SHA-256 checksum of it. Rows that
// fail to decode, fail the checksum or fail validation are moved to the
// quarantine table on load and reported as StoreCorruptionError, so one bad
// record never blocks startup.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/ports"
)

const (
	collectionPatterns = "patterns"
	collectionTargets  = "targets"
	collectionRecords  = "records"
)

const schema = `
CREATE TABLE IF NOT EXISTS patterns (
	signature  TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	checksum   TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS targets (
	key        TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	checksum   TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS records (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	timestamp  TEXT NOT NULL,
	signature  TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	payload    TEXT NOT NULL,
	checksum   TEXT NOT NULL,
	applied    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS records_timestamp ON records(timestamp);
CREATE INDEX IF NOT EXISTS records_pending ON records(applied, seq);
CREATE TABLE IF NOT EXISTS quarantine (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	collection  TEXT NOT NULL,
	key         TEXT NOT NULL,
	payload     TEXT NOT NULL,
	reason      TEXT NOT NULL,
	quarantined TEXT NOT NULL
);`

// timeLayout is fixed width so timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// errChecksum marks a payload whose stored checksum no longer matches.
var errChecksum = errors.New("checksum mismatch")

// SQLiteStore keeps all engine state in a single SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
	// mu serializes writers; SQLite allows one at a time anyway.
	mu sync.Mutex
}

// DefaultPath is <dir>/pcpilot.db.
func DefaultPath(dir string) string {
	return filepath.Join(dir, "pcpilot.db")
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), domain.DirectoryPermissions); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	// One connection keeps ":memory:" databases shared and writes serialized.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init store schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database location.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertPattern writes one pattern atomically.
func (s *SQLiteStore) UpsertPattern(ctx context.Context, p domain.Pattern) error {
	if err := validatePattern(p); err != nil {
		return err
	}
	payload, sum, err := seal(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `INSERT INTO patterns (signature, payload, checksum, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(signature) DO UPDATE SET payload = excluded.payload, checksum = excluded.checksum, updated_at = excluded.updated_at`,
		p.Signature, payload, sum, now())
	return err
}

// DeletePattern removes a pattern; deleting a missing one is not an error.
func (s *SQLiteStore) DeletePattern(ctx context.Context, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM patterns WHERE signature = ?`, signature)
	return err
}

// LoadPatterns returns every valid pattern and quarantines the rest.
func (s *SQLiteStore) LoadPatterns(ctx context.Context) ([]domain.Pattern, []domain.StoreCorruptionError, error) {
	var out []domain.Pattern
	corrupt, err := s.loadAll(ctx, collectionPatterns, "signature", func(key, payload string) error {
		var p domain.Pattern
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return err
		}
		if p.Signature != key {
			return fmt.Errorf("signature %q stored under %q", p.Signature, key)
		}
		if err := validatePattern(p); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, corrupt, err
}

// UpsertTarget writes one catalog entry atomically.
func (s *SQLiteStore) UpsertTarget(ctx context.Context, e domain.TargetEntry) error {
	if err := validateTarget(e); err != nil {
		return err
	}
	payload, sum, err := seal(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `INSERT INTO targets (key, payload, checksum, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, checksum = excluded.checksum, updated_at = excluded.updated_at`,
		e.Key(), payload, sum, now())
	return err
}

// LoadTargets returns every valid catalog entry and quarantines the rest.
func (s *SQLiteStore) LoadTargets(ctx context.Context) ([]domain.TargetEntry, []domain.StoreCorruptionError, error) {
	var out []domain.TargetEntry
	corrupt, err := s.loadAll(ctx, collectionTargets, "key", func(key, payload string) error {
		var e domain.TargetEntry
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return err
		}
		if err := validateTarget(e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, corrupt, err
}

// AppendRecord inserts a record; an existing ID is rejected since records are immutable.
func (s *SQLiteStore) AppendRecord(ctx context.Context, rec domain.CommandRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	payload, sum, err := seal(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `INSERT INTO records (id, timestamp, signature, outcome, payload, checksum)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UTC().Format(timeLayout), rec.Signature, string(rec.Outcome), payload, sum)
	if err != nil {
		return fmt.Errorf("append record %s: %w", rec.ID, err)
	}
	return nil
}

// LoadRecords returns the full history in append order.
func (s *SQLiteStore) LoadRecords(ctx context.Context) ([]domain.CommandRecord, []domain.StoreCorruptionError, error) {
	var out []domain.CommandRecord
	corrupt, err := s.loadAll(ctx, collectionRecords, "id", func(key, payload string) error {
		rec, err := decodeRecord(key, payload)
		if err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, corrupt, err
}

// RecordsSince returns records newer than since, oldest first, keeping the
// newest limit of them when limit > 0.
func (s *SQLiteStore) RecordsSince(ctx context.Context, since time.Time, limit int) ([]domain.CommandRecord, error) {
	query := `SELECT id, payload, checksum FROM records`
	var args []interface{}
	if !since.IsZero() {
		query += ` WHERE timestamp > ?`
		args = append(args, since.UTC().Format(timeLayout))
	}
	query += ` ORDER BY timestamp DESC, seq DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	recs, err := s.queryRecords(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

// PendingRecords returns the oldest records not yet applied to the pattern store.
func (s *SQLiteStore) PendingRecords(ctx context.Context, limit int) ([]domain.CommandRecord, error) {
	query := `SELECT id, payload, checksum FROM records WHERE applied = 0 ORDER BY seq`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryRecords(ctx, query, args...)
}

// MarkApplied flags records as applied in one transaction.
func (s *SQLiteStore) MarkApplied(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `UPDATE records SET applied = 1 WHERE id = ?`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("mark %s applied: %w", id, err)
		}
	}
	return tx.Commit()
}

// ClearRecords deletes the command history.
func (s *SQLiteStore) ClearRecords(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM records`)
	return err
}

// QuarantineCount reports how many rows were set aside per collection.
func (s *SQLiteStore) QuarantineCount(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT collection, COUNT(*) FROM quarantine GROUP BY collection`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var (
			collection string
			n          int
		)
		if err := rows.Scan(&collection, &n); err != nil {
			return nil, err
		}
		out[collection] = n
	}
	return out, rows.Err()
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...interface{}) ([]domain.CommandRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.CommandRecord
	for rows.Next() {
		var id, payload, sum string
		if err := rows.Scan(&id, &payload, &sum); err != nil {
			return nil, err
		}
		if checksum(payload) != sum {
			// Left for the next full load to quarantine.
			continue
		}
		rec, err := decodeRecord(id, payload)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// loadAll scans a collection, hands each intact row to decode and moves the
// rows that fail into quarantine.
func (s *SQLiteStore) loadAll(ctx context.Context, collection, keyColumn string, decode func(key, payload string) error) ([]domain.StoreCorruptionError, error) {
	order := keyColumn
	if collection == collectionRecords {
		order = "seq"
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s, payload, checksum FROM %s ORDER BY %s`, keyColumn, collection, order))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", collection, err)
	}

	type bad struct{ key, payload, reason string }
	var broken []bad
	var corrupt []domain.StoreCorruptionError
	for rows.Next() {
		var key, payload, sum string
		if err := rows.Scan(&key, &payload, &sum); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		cause := errChecksum
		if checksum(payload) == sum {
			cause = decode(key, payload)
		}
		if cause != nil {
			broken = append(broken, bad{key, payload, cause.Error()})
			corrupt = append(corrupt, domain.StoreCorruptionError{Collection: collection, Key: key, Cause: cause})
		}
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", collection, err)
	}

	for _, b := range broken {
		if err := s.quarantine(ctx, collection, keyColumn, b.key, b.payload, b.reason); err != nil {
			return corrupt, err
		}
	}
	return corrupt, nil
}

func (s *SQLiteStore) quarantine(ctx context.Context, collection, keyColumn, key, payload, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO quarantine (collection, key, payload, reason, quarantined) VALUES (?, ?, ?, ?, ?)`,
		collection, key, payload, reason, now()); err != nil {
		tx.Rollback()
		return fmt.Errorf("quarantine %s %s: %w", collection, key, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, collection, keyColumn), key); err != nil {
		tx.Rollback()
		return fmt.Errorf("quarantine %s %s: %w", collection, key, err)
	}
	return tx.Commit()
}

func decodeRecord(id, payload string) (domain.CommandRecord, error) {
	var rec domain.CommandRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return rec, err
	}
	if rec.ID != id {
		return rec, fmt.Errorf("record id %q stored under %q", rec.ID, id)
	}
	return rec, validateRecord(rec)
}

func seal(v interface{}) (string, string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", "", err
	}
	payload := string(b)
	return payload, checksum(payload), nil
}

func checksum(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

func validatePattern(p domain.Pattern) error {
	switch {
	case strings.TrimSpace(p.Signature) == "":
		return errors.New("pattern has empty signature")
	case p.Confidence != domain.ClampConfidence(p.Confidence):
		return fmt.Errorf("pattern %s confidence %v outside [0,1]", p.Signature, p.Confidence)
	case p.HitCount < 0 || p.SuccessCount < 0 || p.FailureCount < 0:
		return fmt.Errorf("pattern %s has negative counters", p.Signature)
	case p.Template.Action == "":
		return fmt.Errorf("pattern %s has no action", p.Signature)
	}
	return nil
}

func validateTarget(e domain.TargetEntry) error {
	if e.Key() == "" {
		return errors.New("target has empty name")
	}
	switch e.Kind {
	case domain.KindApplication, domain.KindFile, domain.KindFolder:
		return nil
	}
	return fmt.Errorf("target %s has unknown kind %q", e.CanonicalName, e.Kind)
}

func validateRecord(rec domain.CommandRecord) error {
	switch {
	case rec.ID == "":
		return errors.New("record has no id")
	case !rec.Outcome.Valid():
		return fmt.Errorf("record %s has unknown outcome %q", rec.ID, rec.Outcome)
	case rec.Timestamp.IsZero():
		return fmt.Errorf("record %s has no timestamp", rec.ID)
	}
	return nil
}

var (
	_ ports.PatternRepository = (*SQLiteStore)(nil)
	_ ports.TargetRepository  = (*SQLiteStore)(nil)
	_ ports.RecordRepository  = (*SQLiteStore)(nil)
)

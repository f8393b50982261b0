// Package sqlite persists normalized records and firehose cursors in a
// single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/blackmichael/socialnorm/internal/domain"
	"github.com/blackmichael/socialnorm/internal/jsonmap"
)

// Repository implements domain.RecordSink, domain.RecordDeleter and
// domain.CursorRepository.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository opens the database at dsn, configures WAL mode and creates
// the schema. The caller should call Close when the repository is no longer
// needed.
func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}

	r := &Repository{db: db, now: time.Now}
	if err := r.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS records (
	key        TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	indexed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cursors (
	service      TEXT PRIMARY KEY,
	cursor_value INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_indexed_at ON records(indexed_at, key);
`

func (r *Repository) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// RecordKey identifies a record for storage: its uri when it has one (posts),
// else its id (tweets, users), else its did (profiles).
func RecordKey(rec domain.Record) string {
	for _, field := range []string{"uri", "id", "did"} {
		if k := rec.String(field); k != "" {
			return k
		}
	}
	return ""
}

// Write upserts records in a single transaction.
func (r *Repository) Write(ctx context.Context, records ...domain.Record) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin transaction")
	}
	defer tx.Rollback()

	indexedAt := r.now().UTC().UnixMilli()
	for _, rec := range records {
		key := RecordKey(rec)
		if key == "" {
			return eris.New("sqlite: record has no uri, id or did")
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal record %s", key)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO records (key, data, indexed_at)
			VALUES (?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET data = excluded.data, indexed_at = excluded.indexed_at`,
			key, string(data), indexedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert record %s", key)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit transaction")
}

// Delete removes a record by key.
func (r *Repository) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, key)
	return eris.Wrapf(err, "sqlite: delete record %s", key)
}

// ListRecords returns records newest first, paginated by cursor.
// The cursor format is "indexedAt::key" (unix millis::key).
func (r *Repository) ListRecords(ctx context.Context, limit int, cursor string) ([]domain.Record, string, error) {
	var (
		rows *sql.Rows
		err  error
	)

	if cursor != "" {
		cursorMillis, cursorKey, parseErr := parseCursor(cursor)
		if parseErr != nil {
			return nil, "", eris.Wrapf(parseErr, "sqlite: invalid cursor '%s'", cursor)
		}

		rows, err = r.db.QueryContext(ctx, `
			SELECT key, data, indexed_at
			FROM records
			WHERE (indexed_at, key) < (?, ?)
			ORDER BY indexed_at DESC, key DESC
			LIMIT ?`,
			cursorMillis, cursorKey, limit,
		)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT key, data, indexed_at
			FROM records
			ORDER BY indexed_at DESC, key DESC
			LIMIT ?`,
			limit,
		)
	}
	if err != nil {
		return nil, "", eris.Wrapf(err, "sqlite: query records (cursor=%q, limit=%d)", cursor, limit)
	}
	defer rows.Close()

	var (
		records   []domain.Record
		lastKey   string
		lastMilli int64
	)
	for rows.Next() {
		var data string
		if err := rows.Scan(&lastKey, &data, &lastMilli); err != nil {
			return nil, "", eris.Wrap(err, "sqlite: scan record")
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, "", eris.Wrapf(err, "sqlite: decode record %s", lastKey)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, "", eris.Wrap(err, "sqlite: iterate records")
	}

	var nextCursor string
	if len(records) == limit {
		nextCursor = strconv.FormatInt(lastMilli, 10) + "::" + lastKey
	}
	return records, nextCursor, nil
}

func decodeRecord(data string) (domain.Record, error) {
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return domain.Record(jsonmap.Normalize(raw).(map[string]any)), nil
}

// Prune removes records older than maxAge and any excess rows beyond
// maxRows, keeping the most recent records. Returns the total number of rows
// deleted.
func (r *Repository) Prune(ctx context.Context, maxAge time.Duration, maxRows int) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE indexed_at < ?`,
		r.now().UTC().Add(-maxAge).UnixMilli(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired records")
	}
	ttlDeleted, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx, `
		DELETE FROM records WHERE key IN (
			SELECT key FROM records
			ORDER BY indexed_at DESC, key DESC
			LIMIT -1 OFFSET ?
		)`, maxRows,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete excess records")
	}
	capDeleted, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit transaction")
	}
	return ttlDeleted + capDeleted, nil
}

// GetCursor retrieves the saved firehose cursor for a service.
func (r *Repository) GetCursor(ctx context.Context, service string) (int64, error) {
	var cursor int64
	err := r.db.QueryRowContext(ctx,
		`SELECT cursor_value FROM cursors WHERE service = ?`, service,
	).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return cursor, eris.Wrapf(err, "sqlite: get cursor %s", service)
}

// UpdateCursor upserts the firehose cursor for a service.
func (r *Repository) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cursors (service, cursor_value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (service) DO UPDATE SET cursor_value = excluded.cursor_value, updated_at = excluded.updated_at`,
		service, cursor, r.now().UTC().UnixMilli(),
	)
	return eris.Wrapf(err, "sqlite: update cursor %s", service)
}

func parseCursor(cursor string) (int64, string, error) {
	millis, key, ok := strings.Cut(cursor, "::")
	if !ok {
		return 0, "", eris.New("cursor must be in format 'timestamp::key'")
	}
	n, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return 0, "", eris.Wrap(err, "invalid timestamp in cursor")
	}
	return n, key, nil
}

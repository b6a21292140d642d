package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sweeney/ward-monitor/internal/reading"
)

// Record is one history row as written by the batch importer: the canonical
// reading, the original source text, and the import batch it came from.
type Record struct {
	Reading reading.Reading
	RawJSON string
	BatchID string
}

// SQLStore keeps the latest reading in a single-row table and the history
// in an indexed append-only table.
type SQLStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewSQLStore opens (creating if needed) the SQLite database at path and
// applies the schema.
func NewSQLStore(path string) (*SQLStore, error) {
	if path == "" {
		return nil, errors.New("store: sqlite store needs a database path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &Error{Op: "create dir", Path: dir, Err: err}
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &Error{Op: "open", Path: path, Err: err}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &Error{Op: "apply schema", Path: path, Err: err}
	}
	return &SQLStore{db: db, path: path, now: time.Now}, nil
}

// DB exposes the underlying handle for read-only consumers such as the
// metrics source.
func (s *SQLStore) DB() *sql.DB { return s.db }

// PutLatest upserts the single latest row.
func (s *SQLStore) PutLatest(ctx context.Context, r reading.Reading) error {
	r = r.StampReceived(s.now())
	data, err := json.Marshal(r)
	if err != nil {
		return &Error{Op: "put latest", Path: s.path, Err: err}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO iot_latest (id, reading_json, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET reading_json = excluded.reading_json, updated_at = excluded.updated_at`,
		string(data), formatTS(s.now()))
	if err != nil {
		return &Error{Op: "put latest", Path: s.path, Err: err}
	}
	return nil
}

// GetLatest returns the latest row, or ErrNotFound.
func (s *SQLStore) GetLatest(ctx context.Context) (reading.Reading, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT reading_json FROM iot_latest WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return reading.Reading{}, ErrNotFound
	}
	if err != nil {
		return reading.Reading{}, &Error{Op: "get latest", Path: s.path, Err: err}
	}

	var r reading.Reading
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return reading.Reading{}, &Error{Op: "get latest", Path: s.path, Err: err}
	}
	return r, nil
}

// AppendHistory inserts one history row.
func (s *SQLStore) AppendHistory(ctx context.Context, r reading.Reading) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return &Error{Op: "append history", Path: s.path, Err: err}
	}
	if _, err := s.db.ExecContext(ctx, insertLogSQL, logArgs(Record{Reading: r, RawJSON: string(raw)})...); err != nil {
		return &Error{Op: "append history", Path: s.path, Err: err}
	}
	return nil
}

// InsertBatch writes records in a single transaction: either all rows land
// or none do.
func (s *SQLStore) InsertBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Op: "insert batch", Path: s.path, Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertLogSQL)
	if err != nil {
		return &Error{Op: "insert batch", Path: s.path, Err: err}
	}
	defer stmt.Close()

	for i, rec := range records {
		if _, err := stmt.ExecContext(ctx, logArgs(rec)...); err != nil {
			return &Error{Op: "insert batch", Path: s.path, Err: fmt.Errorf("row %d: %w", i, err)}
		}
	}
	if err := tx.Commit(); err != nil {
		return &Error{Op: "insert batch", Path: s.path, Err: err}
	}
	return nil
}

// GetHistory returns the last limit rows by sample time, oldest first.
func (s *SQLStore) GetHistory(ctx context.Context, limit int) ([]reading.Reading, error) {
	if limit <= 0 {
		return emptyHistory(), nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, ts, received_at, temperature, humidity, oxygen, co2,
		       energy_instant, energy_total, energy_peak
		FROM (SELECT * FROM iot_log ORDER BY ts DESC, id DESC LIMIT ?)
		ORDER BY ts ASC, id ASC`, limit)
	if err != nil {
		return nil, &Error{Op: "get history", Path: s.path, Err: err}
	}
	defer rows.Close()

	out := emptyHistory()
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, &Error{Op: "get history", Path: s.path, Err: err}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "get history", Path: s.path, Err: err}
	}
	return out, nil
}

// Count returns the number of history rows.
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM iot_log`).Scan(&n); err != nil {
		return 0, &Error{Op: "count", Path: s.path, Err: err}
	}
	return n, nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

const insertLogSQL = `
	INSERT INTO iot_log (device_id, ts, received_at, temperature, humidity, oxygen, co2,
	                     energy_instant, energy_total, energy_peak, raw_json, batch_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func logArgs(rec Record) []any {
	r := rec.Reading
	var received any
	if r.ReceivedAt != nil {
		received = formatTS(*r.ReceivedAt)
	}
	return []any{
		nullString(r.DeviceID),
		formatTS(r.Timestamp),
		received,
		nullFloat(r.Temperature),
		nullFloat(r.Humidity),
		nullFloat(r.Oxygen),
		nullInt(r.CO2),
		nullFloat(r.Energy.Instant),
		nullFloat(r.Energy.Total),
		nullFloat(r.Energy.Peak),
		nullString(rec.RawJSON),
		rec.BatchID,
	}
}

func scanReading(rows *sql.Rows) (reading.Reading, error) {
	var (
		device, received                     sql.NullString
		ts                                   string
		temp, hum, oxy, instant, total, peak sql.NullFloat64
		co2                                  sql.NullInt64
	)
	if err := rows.Scan(&device, &ts, &received, &temp, &hum, &oxy, &co2, &instant, &total, &peak); err != nil {
		return reading.Reading{}, err
	}

	t, err := time.Parse(tsLayout, ts)
	if err != nil {
		return reading.Reading{}, fmt.Errorf("parse ts %q: %w", ts, err)
	}
	r := reading.Reading{
		DeviceID:    device.String,
		Timestamp:   t,
		Temperature: floatPtr(temp),
		Humidity:    floatPtr(hum),
		Oxygen:      floatPtr(oxy),
		Energy: reading.Energy{
			Instant: floatPtr(instant),
			Total:   floatPtr(total),
			Peak:    floatPtr(peak),
		},
	}
	if co2.Valid {
		r.CO2 = reading.Int(co2.Int64)
	}
	if received.Valid {
		if rt, err := time.Parse(tsLayout, received.String); err == nil {
			r.ReceivedAt = &rt
		}
	}
	return r, nil
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullInt(i *int64) any {
	if i == nil {
		return nil
	}
	return *i
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return reading.Float(v.Float64)
}

// Package importer replays a file-backed telemetry history log into the
// relational store. Records whose timestamp cannot be read are quarantined
// to an error log; every other record is inserted in fixed-size
// transactional batches.
package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sweeney/ward-monitor/internal/reading"
	"github.com/sweeney/ward-monitor/internal/store"
)

// DefaultBatchSize is the number of accepted rows committed per transaction.
const DefaultBatchSize = 500

// ErrNotArray is returned when the log document is not a JSON array.
var ErrNotArray = errors.New("import: log is not a JSON array")

// Inserter is the relational side of an import.
type Inserter interface {
	InsertBatch(ctx context.Context, records []store.Record) error
}

// Report summarizes one import run.
type Report struct {
	BatchID     string `json:"batch_id"`
	Inserted    int    `json:"inserted"`
	Quarantined int    `json:"quarantined"`
	ErrorLog    string `json:"error_log,omitempty"` // empty when nothing was quarantined
}

// Importer reads a history log and writes it to an Inserter.
type Importer struct {
	dst       Inserter
	errorLog  string
	batchSize int
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

// Option configures an Importer.
type Option func(*Importer)

// WithBatchSize sets the number of rows per transaction. Values below 1 are
// ignored.
func WithBatchSize(n int) Option {
	return func(im *Importer) {
		if n > 0 {
			im.batchSize = n
		}
	}
}

// WithClock overrides the time source used for quarantine entries.
func WithClock(now func() time.Time) Option {
	return func(im *Importer) { im.now = now }
}

// New returns an Importer writing rows to dst and quarantined records to
// errorLog.
func New(dst Inserter, errorLog string, logger *zap.Logger, opts ...Option) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	im := &Importer{
		dst:       dst,
		errorLog:  errorLog,
		batchSize: DefaultBatchSize,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// ImportFile opens path and imports it.
func (im *Importer) ImportFile(ctx context.Context, path string) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()
	return im.Import(ctx, f)
}

// Import decodes r as a JSON array, one element at a time. A bad element is
// quarantined and the run continues. A flush failure stops the run; rows
// committed by earlier flushes stay committed and are counted in the
// returned Report.
func (im *Importer) Import(ctx context.Context, r io.Reader) (Report, error) {
	rep := Report{BatchID: im.newID()}

	if err := os.Remove(im.errorLog); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return rep, fmt.Errorf("remove old error log: %w", err)
	}
	q := &quarantine{path: im.errorLog, now: im.now}
	defer q.close()

	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return rep, fmt.Errorf("read log: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return rep, ErrNotArray
	}

	batch := make([]store.Record, 0, im.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := im.dst.InsertBatch(ctx, batch); err != nil {
			return fmt.Errorf("flush after %d rows: %w", rep.Inserted, err)
		}
		rep.Inserted += len(batch)
		im.logger.Info("batch committed",
			zap.String("batch_id", rep.BatchID),
			zap.Int("rows", len(batch)),
			zap.Int("total", rep.Inserted))
		batch = batch[:0]
		return nil
	}

	for index := 0; dec.More(); index++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return im.finish(rep, q), fmt.Errorf("decode record %d: %w", index, err)
		}

		rec, bad, ok := toRecord(raw)
		if !ok {
			if err := q.add(index, bad); err != nil {
				return im.finish(rep, q), err
			}
			rep.Quarantined++
			continue
		}
		rec.BatchID = rep.BatchID
		batch = append(batch, rec)

		if len(batch) >= im.batchSize {
			if err := flush(); err != nil {
				return im.finish(rep, q), err
			}
		}
	}

	if err := flush(); err != nil {
		return im.finish(rep, q), err
	}
	return im.finish(rep, q), nil
}

func (im *Importer) finish(rep Report, q *quarantine) Report {
	if rep.Quarantined > 0 {
		rep.ErrorLog = q.path
	}
	im.logger.Info("import finished",
		zap.String("batch_id", rep.BatchID),
		zap.Int("inserted", rep.Inserted),
		zap.Int("quarantined", rep.Quarantined))
	return rep
}

// toRecord converts one log element. When the element cannot be imported,
// ok is false and bad holds the value to quarantine: the timestamp
// candidate for objects, the element itself otherwise.
func toRecord(raw json.RawMessage) (rec store.Record, bad []byte, ok bool) {
	fields, err := reading.Decode(raw)
	if err != nil {
		return store.Record{}, compact(raw), false
	}

	r, ok := reading.FromMap(fields)
	if !ok {
		candidate, err := json.Marshal(reading.TimestampCandidate(fields))
		if err != nil {
			candidate = []byte("null")
		}
		return store.Record{}, candidate, false
	}
	return store.Record{Reading: r, RawJSON: string(compact(raw))}, nil, true
}

func compact(raw []byte) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

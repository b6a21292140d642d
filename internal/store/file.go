package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
	"go.uber.org/zap"

	"github.com/sweeney/ward-monitor/internal/reading"
)

// File names used by FileStore inside its directory.
const (
	LatestFile = "iot_latest.json"
	LogFile    = "iot_log.json"
)

// FileStore keeps the latest reading in one JSON file and the whole history
// as a JSON array in another. Every append rewrites the history file, so
// append latency grows with the size of the log.
//
// Both files are replaced atomically (temp file + rename); readers never see
// a partially written document. Appends are serialized by an in-process
// mutex plus an exclusive advisory lock on LogFile+".lock", which covers
// other processes sharing the directory.
type FileStore struct {
	latestPath string
	logPath    string
	lockPath   string

	latestMu  sync.Mutex
	historyMu sync.RWMutex

	now    func() time.Time
	logger *zap.Logger
}

// NewFileStore creates the directory if needed and returns a store rooted
// there.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("store: file store needs a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &Error{Op: "create dir", Path: dir, Err: err}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logPath := filepath.Join(dir, LogFile)
	return &FileStore{
		latestPath: filepath.Join(dir, LatestFile),
		logPath:    logPath,
		lockPath:   logPath + ".lock",
		now:        time.Now,
		logger:     logger,
	}, nil
}

// LogPath returns the location of the history file.
func (s *FileStore) LogPath() string { return s.logPath }

// PutLatest overwrites the latest slot.
func (s *FileStore) PutLatest(_ context.Context, r reading.Reading) error {
	r = r.StampReceived(s.now())
	data, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return &Error{Op: "put latest", Path: s.latestPath, Err: err}
	}

	s.latestMu.Lock()
	defer s.latestMu.Unlock()

	if err := renameio.WriteFile(s.latestPath, data, 0o644); err != nil {
		return &Error{Op: "put latest", Path: s.latestPath, Err: err}
	}
	return nil
}

// GetLatest reads the latest slot.
func (s *FileStore) GetLatest(_ context.Context) (reading.Reading, error) {
	data, err := os.ReadFile(s.latestPath)
	if errors.Is(err, fs.ErrNotExist) {
		return reading.Reading{}, ErrNotFound
	}
	if err != nil {
		return reading.Reading{}, &Error{Op: "get latest", Path: s.latestPath, Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return reading.Reading{}, ErrNotFound
	}

	var r reading.Reading
	if err := json.Unmarshal(data, &r); err != nil {
		return reading.Reading{}, &Error{Op: "get latest", Path: s.latestPath, Err: err}
	}
	return r, nil
}

// AppendHistory reads the whole log, appends r and rewrites the file, all
// while holding the history lock.
func (s *FileStore) AppendHistory(_ context.Context, r reading.Reading) error {
	record, err := json.Marshal(r)
	if err != nil {
		return &Error{Op: "append history", Path: s.logPath, Err: err}
	}

	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	lock := flock.New(s.lockPath)
	if err := lock.Lock(); err != nil {
		return &Error{Op: "lock history", Path: s.lockPath, Err: err}
	}
	defer lock.Unlock()

	records, err := s.readLog()
	if err != nil {
		return err
	}
	records = append(records, record)

	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return &Error{Op: "append history", Path: s.logPath, Err: err}
	}
	if err := renameio.WriteFile(s.logPath, data, 0o644); err != nil {
		return &Error{Op: "append history", Path: s.logPath, Err: err}
	}
	return nil
}

// GetHistory returns the last limit readings in receipt order.
func (s *FileStore) GetHistory(_ context.Context, limit int) ([]reading.Reading, error) {
	if limit <= 0 {
		return emptyHistory(), nil
	}

	s.historyMu.RLock()
	records, err := s.readLog()
	s.historyMu.RUnlock()
	if err != nil {
		return nil, err
	}

	if len(records) > limit {
		records = records[len(records)-limit:]
	}

	out := make([]reading.Reading, 0, len(records))
	for i, raw := range records {
		fields, err := reading.Decode(raw)
		if err != nil {
			s.logger.Warn("skipping non-object history record",
				zap.Int("offset", i), zap.Error(err))
			continue
		}
		r, _ := reading.FromMap(fields)
		out = append(out, r)
	}
	return out, nil
}

// Close is a no-op; FileStore holds no open handles between calls.
func (s *FileStore) Close() error { return nil }

// readLog loads the history array. A missing or empty file is an empty log;
// anything that is not a JSON array is an error rather than a reset, so a
// damaged log is never silently overwritten.
func (s *FileStore) readLog() ([]json.RawMessage, error) {
	data, err := os.ReadFile(s.logPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Op: "read history", Path: s.logPath, Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, &Error{Op: "read history", Path: s.logPath, Err: fmt.Errorf("decode log: %w", err)}
	}
	return records, nil
}

package importer

import (
	"fmt"
	"os"
	"time"
)

// quarantine appends one line per rejected record. The file is created on
// the first entry.
type quarantine struct {
	path string
	now  func() time.Time
	f    *os.File
}

func (q *quarantine) add(index int, raw []byte) error {
	if q.f == nil {
		f, err := os.OpenFile(q.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open error log: %w", err)
		}
		q.f = f
	}
	_, err := fmt.Fprintf(q.f, "[%s] index %d: invalid timestamp -> %s\n",
		q.now().Format(time.RFC3339), index, raw)
	if err != nil {
		return fmt.Errorf("write error log: %w", err)
	}
	return nil
}

func (q *quarantine) close() {
	if q.f != nil {
		q.f.Close()
	}
}

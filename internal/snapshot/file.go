package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"firestige.xyz/lswitch/internal/core"
)

// FileSink writes the table of each record to <dir>/<switch>-table.json,
// replacing the previous snapshot atomically.
type FileSink struct {
	dir string
}

// NewFileSink creates dir if needed and returns a sink writing into it.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Path returns the file a record for switchName is written to.
func (f *FileSink) Path(switchName string) string {
	return filepath.Join(f.dir, switchName+"-table.json")
}

// Write implements Sink.
func (f *FileSink) Write(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec.Table)
	if err != nil {
		return fmt.Errorf("%w: failed to encode table: %v", core.ErrPersistence, err)
	}

	path := f.Path(rec.Switch)
	tmp, err := os.CreateTemp(f.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to write %s: %v", core.ErrPersistence, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to commit %s: %v", core.ErrPersistence, path, err)
	}
	return nil
}

// Close implements Sink.
func (f *FileSink) Close() error { return nil }

// Package store persists completed runs. The JSONL run log is the
// authoritative record; the SQLite index is derived from it and can be
// rebuilt at any time with Reindex.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"metaflow/pkg/workflow"
)

const runLogFilename = "runs.jsonl"

// RunLogPath returns where the run log lives inside a data directory.
func RunLogPath(dir string) string {
	return filepath.Join(dir, runLogFilename)
}

// RunLog is an append-only JSONL file of completed runs, one record per
// line. Records are flushed to disk before Append returns.
type RunLog struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// OpenRunLog opens (creating if needed) the run log inside dir.
func OpenRunLog(dir string) (*RunLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &StorageError{Op: "mkdir", Path: dir, Err: err}
	}
	path := RunLogPath(dir)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}
	return &RunLog{path: path, file: file}, nil
}

// Path returns the location of the log file.
func (l *RunLog) Path() string {
	return l.path
}

// Append writes one run record and syncs it to disk.
func (l *RunLog) Append(result *workflow.MetaWorkflowResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return &StorageError{Op: "encode", Path: l.path, Err: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return &StorageError{Op: "append", Path: l.path, Err: fmt.Errorf("run log is closed")}
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return &StorageError{Op: "append", Path: l.path, Err: err}
	}
	if err := l.file.Sync(); err != nil {
		return &StorageError{Op: "sync", Path: l.path, Err: err}
	}
	return nil
}

// ReadAll parses every record in the log, in append order.
func (l *RunLog) ReadAll() ([]workflow.MetaWorkflowResult, error) {
	return ReadRunLog(l.path)
}

// Close releases the log file handle.
func (l *RunLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return &StorageError{Op: "close", Path: l.path, Err: err}
	}
	return nil
}

// ReadRunLog parses a run log file outside of an open RunLog, for replay
// tools and reindexing.
func ReadRunLog(path string) ([]workflow.MetaWorkflowResult, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &StorageError{Op: "read", Path: path, Err: err}
	}
	defer file.Close()

	var results []workflow.MetaWorkflowResult
	scanner := bufio.NewScanner(file)
	// Run records with many agents can exceed the default line limit.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var result workflow.MetaWorkflowResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, &StorageError{Op: "decode", Path: path, Err: fmt.Errorf("line %d: %w", line, err)}
		}
		results = append(results, result)
	}
	if err := scanner.Err(); err != nil {
		return nil, &StorageError{Op: "read", Path: path, Err: err}
	}
	return results, nil
}

package store

import (
	"path/filepath"

	"metaflow/pkg/logx"
	"metaflow/pkg/workflow"
)

const indexFilename = "index.db"

// Store combines the authoritative JSONL run log with the derived SQLite
// index. A run is considered saved once it is in the log; index failures are
// logged and repaired by the next Reindex.
type Store struct {
	log    *RunLog
	index  *Index
	logger *logx.Logger
}

// Open sets up the store inside dir, creating it if needed.
func Open(dir string) (*Store, error) {
	runLog, err := OpenRunLog(dir)
	if err != nil {
		return nil, err
	}
	index, err := OpenIndex(filepath.Join(dir, indexFilename))
	if err != nil {
		_ = runLog.Close()
		return nil, err
	}
	return &Store{
		log:    runLog,
		index:  index,
		logger: logx.NewLogger("store"),
	}, nil
}

// SaveRun persists one completed run. The JSONL append is the commit point;
// a failed index write does not fail the save.
func (s *Store) SaveRun(result *workflow.MetaWorkflowResult) error {
	if err := s.log.Append(result); err != nil {
		return err
	}
	if err := s.index.IndexRun(result); err != nil {
		s.logger.Warn("run %s saved but not indexed: %v", result.RunID, err)
	}
	return nil
}

// ReadAll returns every run in the log, in append order.
func (s *Store) ReadAll() ([]workflow.MetaWorkflowResult, error) {
	return s.log.ReadAll()
}

// ListRuns queries the index for recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]RunSummary, error) {
	return s.index.ListRuns(limit)
}

// RunsForTemplate queries the index for one template's runs.
func (s *Store) RunsForTemplate(templateID string) ([]RunSummary, error) {
	return s.index.RunsForTemplate(templateID)
}

// StatsForTemplate aggregates one template's indexed runs.
func (s *Store) StatsForTemplate(templateID string) (*TemplateStats, error) {
	return s.index.StatsForTemplate(templateID)
}

// Reindex rebuilds the SQLite index from the run log. Safe to run over an
// existing index.
func (s *Store) Reindex() (int, error) {
	results, err := s.log.ReadAll()
	if err != nil {
		return 0, err
	}
	for i := range results {
		if err := s.index.IndexRun(&results[i]); err != nil {
			return i, err
		}
	}
	s.logger.Info("reindexed %d runs from %s", len(results), s.log.Path())
	return len(results), nil
}

// Close releases both the log and the index.
func (s *Store) Close() error {
	logErr := s.log.Close()
	indexErr := s.index.Close()
	if logErr != nil {
		return logErr
	}
	return indexErr
}

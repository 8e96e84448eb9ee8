package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"metaflow/pkg/workflow"
)

// currentSchemaVersion tracks the index schema for migration support.
const currentSchemaVersion = 1

// Index is the SQLite query index over the run log. It holds no data of its
// own: everything in it can be rebuilt from the JSONL file.
type Index struct {
	db   *sql.DB
	path string
}

// OpenIndex opens (creating if needed) the SQLite index at dbPath.
func OpenIndex(dbPath string) (*Index, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, &StorageError{Op: "open", Path: dbPath, Err: err}
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, &StorageError{Op: "ping", Path: dbPath, Err: err}
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, &StorageError{Op: "migrate", Path: dbPath, Err: err}
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Index{db: db, path: dbPath}, nil
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version == currentSchemaVersion {
		return nil
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("index schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if version == 0 {
		if err := createSchema(db); err != nil {
			return err
		}
	}
	// Future versions migrate stepwise from here.
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			run_id         TEXT PRIMARY KEY,
			template_id    TEXT NOT NULL,
			success        INTEGER NOT NULL,
			total_cost_usd REAL NOT NULL,
			duration_ms    INTEGER NOT NULL,
			agent_count    INTEGER NOT NULL,
			started_at     TEXT NOT NULL,
			completed_at   TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_template ON runs(template_id);
		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

		CREATE TABLE IF NOT EXISTS agent_results (
			run_id         TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
			role           TEXT NOT NULL,
			required       INTEGER NOT NULL,
			final_tier     TEXT,
			success        INTEGER NOT NULL,
			cost_usd       REAL NOT NULL,
			attempt_count  INTEGER NOT NULL,
			failure_reason TEXT,
			PRIMARY KEY (run_id, role)
		);
		CREATE INDEX IF NOT EXISTS idx_agent_results_role ON agent_results(role);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// IndexRun upserts one run record. Indexing is idempotent so Reindex can
// replay the full log over an existing index.
func (ix *Index) IndexRun(result *workflow.MetaWorkflowResult) error {
	tx, err := ix.db.Begin()
	if err != nil {
		return &StorageError{Op: "index", Path: ix.path, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO runs (run_id, template_id, success, total_cost_usd, duration_ms, agent_count, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			template_id    = excluded.template_id,
			success        = excluded.success,
			total_cost_usd = excluded.total_cost_usd,
			duration_ms    = excluded.duration_ms,
			agent_count    = excluded.agent_count,
			started_at     = excluded.started_at,
			completed_at   = excluded.completed_at
	`, result.RunID, result.TemplateID, boolInt(result.Success), result.TotalCostUSD,
		result.DurationMS, len(result.Agents),
		result.StartedAt.UTC().Format(time.RFC3339Nano),
		result.CompletedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &StorageError{Op: "index", Path: ix.path, Err: fmt.Errorf("upsert run %s: %w", result.RunID, err)}
	}

	if _, err := tx.Exec("DELETE FROM agent_results WHERE run_id = ?", result.RunID); err != nil {
		return &StorageError{Op: "index", Path: ix.path, Err: err}
	}
	for i := range result.Agents {
		agent := &result.Agents[i]
		_, err := tx.Exec(`
			INSERT INTO agent_results (run_id, role, required, final_tier, success, cost_usd, attempt_count, failure_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, result.RunID, agent.Role, boolInt(agent.Required), string(agent.FinalTier),
			boolInt(agent.Success), agent.CostUSD, len(agent.Attempts), agent.FailureReason)
		if err != nil {
			return &StorageError{Op: "index", Path: ix.path, Err: fmt.Errorf("insert agent %s: %w", agent.Role, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "index", Path: ix.path, Err: err}
	}
	return nil
}

// RunSummary is a compact view of one indexed run.
type RunSummary struct {
	RunID        string
	TemplateID   string
	Success      bool
	TotalCostUSD float64
	DurationMS   int64
	AgentCount   int
	StartedAt    time.Time
}

// ListRuns returns the most recent runs, newest first. A limit of zero means
// no limit.
func (ix *Index) ListRuns(limit int) ([]RunSummary, error) {
	query := `
		SELECT run_id, template_id, success, total_cost_usd, duration_ms, agent_count, started_at
		FROM runs ORDER BY started_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return ix.queryRuns(query, args...)
}

// RunsForTemplate returns every indexed run of one template, newest first.
func (ix *Index) RunsForTemplate(templateID string) ([]RunSummary, error) {
	return ix.queryRuns(`
		SELECT run_id, template_id, success, total_cost_usd, duration_ms, agent_count, started_at
		FROM runs WHERE template_id = ? ORDER BY started_at DESC
	`, templateID)
}

func (ix *Index) queryRuns(query string, args ...any) ([]RunSummary, error) {
	rows, err := ix.db.Query(query, args...)
	if err != nil {
		return nil, &StorageError{Op: "query", Path: ix.path, Err: err}
	}
	defer rows.Close()

	var summaries []RunSummary
	for rows.Next() {
		var s RunSummary
		var success int
		var started string
		if err := rows.Scan(&s.RunID, &s.TemplateID, &success, &s.TotalCostUSD, &s.DurationMS, &s.AgentCount, &started); err != nil {
			return nil, &StorageError{Op: "scan", Path: ix.path, Err: err}
		}
		s.Success = success != 0
		if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
			s.StartedAt = t
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "query", Path: ix.path, Err: err}
	}
	return summaries, nil
}

// TemplateStats aggregates run outcomes for one template.
type TemplateStats struct {
	TemplateID  string
	Runs        int
	Successes   int
	TotalCost   float64
	AvgCostUSD  float64
	AvgDuration time.Duration
}

// StatsForTemplate aggregates the indexed runs of one template.
func (ix *Index) StatsForTemplate(templateID string) (*TemplateStats, error) {
	row := ix.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(success), 0), COALESCE(SUM(total_cost_usd), 0), COALESCE(AVG(duration_ms), 0)
		FROM runs WHERE template_id = ?
	`, templateID)

	stats := &TemplateStats{TemplateID: templateID}
	var avgDurationMS float64
	if err := row.Scan(&stats.Runs, &stats.Successes, &stats.TotalCost, &avgDurationMS); err != nil {
		return nil, &StorageError{Op: "query", Path: ix.path, Err: err}
	}
	if stats.Runs > 0 {
		stats.AvgCostUSD = stats.TotalCost / float64(stats.Runs)
	}
	stats.AvgDuration = time.Duration(avgDurationMS) * time.Millisecond
	return stats, nil
}

// Close releases the database handle.
func (ix *Index) Close() error {
	if err := ix.db.Close(); err != nil {
		return &StorageError{Op: "close", Path: ix.path, Err: err}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

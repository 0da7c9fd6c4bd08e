package session

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/diffuservo/internal/control"
	"github.com/danielpatrickdp/diffuservo/internal/logging"
	"github.com/danielpatrickdp/diffuservo/internal/score"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id           TEXT PRIMARY KEY,
	theme            TEXT NOT NULL,
	status           TEXT NOT NULL,
	outcome          TEXT,
	initial_tier     TEXT NOT NULL,
	best_score       REAL NOT NULL DEFAULT 0,
	best_iteration   INTEGER NOT NULL DEFAULT 0,
	best_artifact    TEXT,
	best_params_json TEXT,
	error            TEXT,
	created_at       TEXT NOT NULL,
	created_unix     INTEGER NOT NULL,
	updated_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS iterations (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	iteration     INTEGER NOT NULL,
	state         TEXT NOT NULL,
	tier          TEXT NOT NULL,
	final_score   REAL,
	sample_json   TEXT,
	params_json   TEXT NOT NULL,
	artifact_ref  TEXT,
	skipped       INTEGER NOT NULL DEFAULT 0,
	skip_reason   TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS idx_iterations_run ON iterations(run_id, iteration);
`
// #endregion schema

// #region store-struct
// Store persists runs and their iterations in SQLite.
type Store struct {
	db *sql.DB
}
// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations, including the
// decision_log table.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := logging.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate decisions: %w", err)
	}
	return &Store{db: db}, nil
}
// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}
// #endregion db-accessor

// #region create-run
// CreateRun inserts a running run for theme.
func (s *Store) CreateRun(theme string, initial control.Tier) (Run, error) {
	now := time.Now().UTC()
	run := Run{
		ID:          uuid.New().String(),
		Theme:       theme,
		Status:      StatusRunning,
		InitialTier: initial,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, theme, status, initial_tier, created_at, created_unix, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, theme, string(StatusRunning), string(initial),
		now.Format(time.RFC3339Nano), now.Unix(), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}
// #endregion create-run

// #region add-iteration
// AddIteration appends one iteration row.
func (s *Store) AddIteration(it Iteration) error {
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	paramsJSON, err := json.Marshal(it.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	var finalPtr, samplePtr interface{}
	if it.Sample != nil {
		sampleJSON, err := json.Marshal(it.Sample)
		if err != nil {
			return fmt.Errorf("marshal sample: %w", err)
		}
		finalPtr = it.Sample.Final
		samplePtr = string(sampleJSON)
	}

	skipped := 0
	if it.Skipped {
		skipped = 1
	}

	_, err = s.db.Exec(
		`INSERT INTO iterations (run_id, iteration, state, tier, final_score, sample_json, params_json, artifact_ref, skipped, skip_reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.RunID, it.Index, string(it.State), string(it.Tier), finalPtr, samplePtr,
		string(paramsJSON), nullIfEmpty(it.ArtifactRef), skipped, nullIfEmpty(it.SkipReason),
		it.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert iteration: %w", err)
	}
	return nil
}
// #endregion add-iteration

// #region complete-fail
// CompleteRun marks a run completed with its outcome and best record.
func (s *Store) CompleteRun(runID string, outcome control.Outcome, best control.BestRecord) error {
	var paramsPtr interface{}
	if best.Found() {
		b, err := json.Marshal(best.Params)
		if err != nil {
			return fmt.Errorf("marshal best params: %w", err)
		}
		paramsPtr = string(b)
	}
	bestScore := 0.0
	if best.Found() {
		bestScore = best.Score
	}
	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, outcome = ?, best_score = ?, best_iteration = ?,
		 best_artifact = ?, best_params_json = ?, updated_at = ? WHERE run_id = ?`,
		string(StatusCompleted), string(outcome), bestScore, best.Iteration,
		nullIfEmpty(best.ArtifactRef), paramsPtr, time.Now().UTC().Format(time.RFC3339Nano), runID,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return requireRow(res, runID)
}

// FailRun marks a run failed with reason.
func (s *Store) FailRun(runID string, reason string) error {
	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE run_id = ?`,
		string(StatusFailed), nullIfEmpty(reason), time.Now().UTC().Format(time.RFC3339Nano), runID,
	)
	if err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	return requireRow(res, runID)
}
// #endregion complete-fail

// #region log-decision
// LogDecision writes a decision_log row for runID.
func (s *Store) LogDecision(entry logging.DecisionEntry) error {
	return logging.LogDecision(s.db, entry)
}

// ListDecisions returns the decision_log rows for runID in insertion order.
func (s *Store) ListDecisions(runID string) ([]logging.DecisionEntry, error) {
	return logging.ListDecisions(s.db, runID)
}
// #endregion log-decision

// #region get-run
// GetRun retrieves a run by ID. Returns ErrNotFound if absent.
func (s *Store) GetRun(runID string) (Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("get run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}
// #endregion get-run

// #region list-runs
// ListRuns returns the most recent runs.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT `+runColumns+` FROM runs ORDER BY created_unix DESC, created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
// #endregion list-runs

// #region list-iterations
// ListIterations returns all iterations of a run in order.
func (s *Store) ListIterations(runID string) ([]Iteration, error) {
	rows, err := s.db.Query(
		`SELECT run_id, iteration, state, tier, sample_json, params_json, artifact_ref, skipped, skip_reason, created_at
		 FROM iterations WHERE run_id = ? ORDER BY iteration ASC, id ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list iterations: %w", err)
	}
	defer rows.Close()

	var out []Iteration
	for rows.Next() {
		var it Iteration
		var state, tier, paramsJSON, createdStr string
		var sampleJSON, artifact, skipReason sql.NullString
		var skipped int
		if err := rows.Scan(&it.RunID, &it.Index, &state, &tier, &sampleJSON, &paramsJSON,
			&artifact, &skipped, &skipReason, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		it.State = control.State(state)
		it.Tier = control.Tier(tier)
		if sampleJSON.Valid {
			var smp score.Sample
			if err := json.Unmarshal([]byte(sampleJSON.String), &smp); err != nil {
				return nil, fmt.Errorf("unmarshal sample: %w", err)
			}
			it.Sample = &smp
		}
		if err := json.Unmarshal([]byte(paramsJSON), &it.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
		it.ArtifactRef = artifact.String
		it.Skipped = skipped == 1
		it.SkipReason = skipReason.String
		it.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, it)
	}
	return out, rows.Err()
}
// #endregion list-iterations

// #region cleanup
// CleanupOlderThan deletes runs created before now-age, along with their
// iterations and decisions. Returns the number of runs removed.
func (s *Store) CleanupOlderThan(age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age).Unix()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const stale = `SELECT run_id FROM runs WHERE created_unix < ?`
	if _, err := tx.Exec(`DELETE FROM iterations WHERE run_id IN (`+stale+`)`, cutoff); err != nil {
		return 0, fmt.Errorf("delete iterations: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM decision_log WHERE run_id IN (`+stale+`)`, cutoff); err != nil {
		return 0, fmt.Errorf("delete decisions: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM runs WHERE created_unix < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete runs: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	log.Printf("[SESSION] cleanup: removed %d runs older than %s", n, age)
	return n, nil
}
// #endregion cleanup

// #region helpers
const runColumns = `run_id, theme, status, outcome, initial_tier, best_score, best_iteration,
	best_artifact, best_params_json, error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(r rowScanner) (Run, error) {
	var run Run
	var status, tier, createdStr, updatedStr string
	var outcome, artifact, paramsJSON, errText sql.NullString
	if err := r.Scan(&run.ID, &run.Theme, &status, &outcome, &tier, &run.BestScore, &run.BestIteration,
		&artifact, &paramsJSON, &errText, &createdStr, &updatedStr); err != nil {
		return Run{}, err
	}
	run.Status = Status(status)
	run.Outcome = control.Outcome(outcome.String)
	run.InitialTier = control.Tier(tier)
	run.BestArtifact = artifact.String
	run.Error = errText.String
	if paramsJSON.Valid {
		var p control.Params
		if err := json.Unmarshal([]byte(paramsJSON.String), &p); err != nil {
			return Run{}, fmt.Errorf("unmarshal best params: %w", err)
		}
		run.BestParams = &p
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	run.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	return run, nil
}

func requireRow(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers

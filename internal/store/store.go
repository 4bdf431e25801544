package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/api/schemas"
)

// ErrNotFound is returned when a workflow run does not exist.
var ErrNotFound = errors.New("workflow run not found")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS workflow_runs (
    run_id       TEXT PRIMARY KEY,
    task_prompt  TEXT NOT NULL,
    success      BOOLEAN NOT NULL,
    is_complete  BOOLEAN NOT NULL,
    total_steps  INTEGER NOT NULL,
    completed_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS workflow_steps (
    run_id      TEXT NOT NULL REFERENCES workflow_runs (run_id) ON DELETE CASCADE,
    step_index  INTEGER NOT NULL,
    success     BOOLEAN NOT NULL,
    complete    BOOLEAN NOT NULL,
    action_type TEXT NOT NULL,
    action      JSONB,
    result      JSONB,
    message     TEXT NOT NULL,
    reasoning   TEXT NOT NULL,
    error       TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (run_id, step_index)
);`

const (
	sqlUpsertRun = `
        INSERT INTO workflow_runs (run_id, task_prompt, success, is_complete, total_steps, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (run_id) DO UPDATE SET
            task_prompt = EXCLUDED.task_prompt,
            success = EXCLUDED.success,
            is_complete = EXCLUDED.is_complete,
            total_steps = EXCLUDED.total_steps,
            completed_at = EXCLUDED.completed_at;
    `
	sqlDeleteSteps = `DELETE FROM workflow_steps WHERE run_id = $1;`
	sqlSelectRun   = `
        SELECT task_prompt, success, is_complete, total_steps, completed_at
        FROM workflow_runs
        WHERE run_id = $1;
    `
	sqlSelectSteps = `
        SELECT success, complete, action, result, message, reasoning, error, created_at
        FROM workflow_steps
        WHERE run_id = $1
        ORDER BY step_index ASC;
    `
)

var stepColumns = []string{"run_id", "step_index", "success", "complete", "action_type", "action", "result", "message", "reasoning", "error", "created_at"}

// Store keeps automation run logs in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.WorkflowStore = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveWorkflow writes a run and its full step log in one transaction. Saving
// the same run again replaces it.
func (s *Store) SaveWorkflow(ctx context.Context, wf *schemas.WorkflowResult) error {
	if wf == nil || wf.RunID == "" {
		return errors.New("cannot save a workflow without a run id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlUpsertRun,
		wf.RunID, wf.TaskPrompt, wf.Success, wf.IsComplete, wf.TotalSteps, wf.CompletedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to upsert workflow run: %w", err)
	}
	if _, err := tx.Exec(ctx, sqlDeleteSteps, wf.RunID); err != nil {
		return fmt.Errorf("failed to clear previous steps: %w", err)
	}

	if len(wf.Steps) > 0 {
		if err := s.persistSteps(ctx, tx, wf.RunID, wf.Steps); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Saved workflow run", zap.String("run_id", wf.RunID), zap.Int("steps", len(wf.Steps)))
	return nil
}

func (s *Store) persistSteps(ctx context.Context, tx pgx.Tx, runID string, steps []schemas.StepResult) error {
	rows := make([][]any, len(steps))
	for i, step := range steps {
		action, err := jsonColumn(step.Action)
		if err != nil {
			return fmt.Errorf("failed to encode action of step %d: %w", i, err)
		}
		result, err := jsonColumn(step.Result)
		if err != nil {
			return fmt.Errorf("failed to encode result of step %d: %w", i, err)
		}
		actionType := ""
		if step.Action != nil {
			actionType = string(step.Action.Type)
		}
		rows[i] = []any{
			runID, i, step.Success, step.Complete, actionType,
			action, result,
			step.Message, step.Reasoning, step.Error,
			step.Timestamp.UTC(),
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"workflow_steps"}, stepColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy workflow steps: %w", err)
	}
	if int(copyCount) != len(steps) {
		return fmt.Errorf("mismatch in copied steps count: expected %d, got %d", len(steps), copyCount)
	}
	return nil
}

// jsonColumn encodes v for a nullable JSONB column.
func jsonColumn[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// GetWorkflow loads a run and its steps in order.
func (s *Store) GetWorkflow(ctx context.Context, runID string) (*schemas.WorkflowResult, error) {
	wf, err := s.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, sqlSelectSteps, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var step schemas.StepResult
		var action, result []byte
		if err := rows.Scan(
			&step.Success, &step.Complete, &action, &result,
			&step.Message, &step.Reasoning, &step.Error, &step.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan workflow step row: %w", err)
		}
		if len(action) > 0 {
			step.Action = &schemas.AutomationAction{}
			if err := json.Unmarshal(action, step.Action); err != nil {
				return nil, fmt.Errorf("failed to decode stored action: %w", err)
			}
		}
		if len(result) > 0 {
			step.Result = &schemas.ExecutionResult{}
			if err := json.Unmarshal(result, step.Result); err != nil {
				return nil, fmt.Errorf("failed to decode stored result: %w", err)
			}
		}
		wf.Steps = append(wf.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return wf, nil
}

func (s *Store) getRun(ctx context.Context, runID string) (*schemas.WorkflowResult, error) {
	rows, err := s.pool.Query(ctx, sqlSelectRun, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query workflow run: %w", err)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	wf := &schemas.WorkflowResult{RunID: runID, Steps: []schemas.StepResult{}}
	if err := rows.Scan(&wf.TaskPrompt, &wf.Success, &wf.IsComplete, &wf.TotalSteps, &wf.CompletedAt); err != nil {
		return nil, fmt.Errorf("failed to scan workflow run row: %w", err)
	}
	return wf, nil
}

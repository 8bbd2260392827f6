package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mel-run/taskflow/internal/apperr"
	"github.com/mel-run/taskflow/internal/model"
)

// PostgresStore implements Store against a Postgres database via lib/pq,
// using raw database/sql, with JSON-shaped fields stored in JSONB columns.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-connected, already-migrated *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func marshalJSON(m model.JSONMap) ([]byte, error) {
	if m == nil {
		m = model.JSONMap{}
	}
	return json.Marshal(m)
}

func unmarshalJSON(raw []byte) (model.JSONMap, error) {
	if len(raw) == 0 {
		return model.JSONMap{}, nil
	}
	var m model.JSONMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ---- Workflow ----

func (s *PostgresStore) InsertWorkflow(ctx context.Context, wf *model.Workflow, steps []*model.WorkflowStep) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	metaJSON, err := marshalJSON(wf.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	if wf.ID == uuid.Nil {
		wf.ID = uuid.New()
	}

	const insertWorkflow = `
		INSERT INTO workflows (id, name, description, status, version, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`
	if err := tx.QueryRowContext(ctx, insertWorkflow,
		wf.ID, wf.Name, wf.Description, wf.Status, wf.Version, metaJSON,
	).Scan(&wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}

	for _, step := range steps {
		if step.ID == uuid.Nil {
			step.ID = uuid.New()
		}
		step.WorkflowID = wf.ID
		if err := insertStepTx(ctx, tx, step); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, id uuid.UUID) (*model.Workflow, error) {
	const q = `SELECT id, name, description, status, version, metadata, created_at, updated_at FROM workflows WHERE id = $1`
	return scanWorkflow(s.db.QueryRowContext(ctx, q, id), "Workflow", id)
}

func (s *PostgresStore) GetLatestWorkflowByName(ctx context.Context, name string) (*model.Workflow, error) {
	const q = `
		SELECT id, name, description, status, version, metadata, created_at, updated_at
		FROM workflows WHERE name = $1 ORDER BY version DESC LIMIT 1`
	row := s.db.QueryRowContext(ctx, q, name)
	wf, err := scanWorkflowRow(row)
	if err == sql.ErrNoRows {
		return nil, &apperr.NotFoundError{Entity: "Workflow", ID: name}
	}
	return wf, err
}

func scanWorkflow(row *sql.Row, entity string, id uuid.UUID) (*model.Workflow, error) {
	wf, err := scanWorkflowRow(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound(entity, id)
	}
	return wf, err
}

func scanWorkflowRow(row *sql.Row) (*model.Workflow, error) {
	var wf model.Workflow
	var metaJSON []byte
	if err := row.Scan(&wf.ID, &wf.Name, &wf.Description, &wf.Status, &wf.Version, &metaJSON, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	meta, err := unmarshalJSON(metaJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	wf.Metadata = meta
	return &wf, nil
}

func (s *PostgresStore) ListWorkflows(ctx context.Context, filter WorkflowFilter, page Page) ([]*model.Workflow, int, error) {
	where := ""
	args := []any{}
	if filter.Status != nil {
		where = "WHERE status = $1"
		args = append(args, *filter.Status)
	}

	countQ := fmt.Sprintf(`SELECT COUNT(*) FROM workflows %s`, where)
	var total int
	if err := s.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count workflows: %w", err)
	}

	limitPos := len(args) + 1
	offsetPos := len(args) + 2
	listQ := fmt.Sprintf(`
		SELECT id, name, description, status, version, metadata, created_at, updated_at
		FROM workflows %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, limitPos, offsetPos)
	args = append(args, page.Limit, page.Offset)

	rows, err := s.db.QueryContext(ctx, listQ, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var result []*model.Workflow
	for rows.Next() {
		var wf model.Workflow
		var metaJSON []byte
		if err := rows.Scan(&wf.ID, &wf.Name, &wf.Description, &wf.Status, &wf.Version, &metaJSON, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, 0, err
		}
		meta, err := unmarshalJSON(metaJSON)
		if err != nil {
			return nil, 0, err
		}
		wf.Metadata = meta
		result = append(result, &wf)
	}
	return result, total, rows.Err()
}

func (s *PostgresStore) UpdateWorkflowStatus(ctx context.Context, id uuid.UUID, status model.WorkflowStatus) error {
	const q = `UPDATE workflows SET status = $1, updated_at = now() WHERE id = $2`
	res, err := s.db.ExecContext(ctx, q, status, id)
	if err != nil {
		return fmt.Errorf("update workflow status: %w", err)
	}
	return requireRowsAffected(res, "Workflow", id)
}

// ---- Step ----

func (s *PostgresStore) InsertStep(ctx context.Context, step *model.WorkflowStep) error {
	if step.ID == uuid.Nil {
		step.ID = uuid.New()
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		return insertStepTx(ctx, tx, step)
	})
}

func insertStepTx(ctx context.Context, tx *sql.Tx, step *model.WorkflowStep) error {
	configJSON, err := marshalJSON(step.Config)
	if err != nil {
		return fmt.Errorf("marshal step config: %w", err)
	}
	const q = `
		INSERT INTO workflow_steps (id, workflow_id, name, task_type, step_order, config, timeout_seconds, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := tx.ExecContext(ctx, q,
		step.ID, step.WorkflowID, step.Name, step.TaskType, step.StepOrder, configJSON, step.TimeoutSeconds, step.MaxRetries,
	); err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListStepsByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*model.WorkflowStep, error) {
	const q = `
		SELECT id, workflow_id, name, task_type, step_order, config, timeout_seconds, max_retries
		FROM workflow_steps WHERE workflow_id = $1 ORDER BY step_order ASC`
	rows, err := s.db.QueryContext(ctx, q, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []*model.WorkflowStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func (s *PostgresStore) GetStep(ctx context.Context, id uuid.UUID) (*model.WorkflowStep, error) {
	const q = `
		SELECT id, workflow_id, name, task_type, step_order, config, timeout_seconds, max_retries
		FROM workflow_steps WHERE id = $1`
	row := s.db.QueryRowContext(ctx, q, id)
	var step model.WorkflowStep
	var configJSON []byte
	if err := row.Scan(&step.ID, &step.WorkflowID, &step.Name, &step.TaskType, &step.StepOrder, &configJSON, &step.TimeoutSeconds, &step.MaxRetries); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("WorkflowStep", id)
		}
		return nil, err
	}
	cfg, err := unmarshalJSON(configJSON)
	if err != nil {
		return nil, err
	}
	step.Config = cfg
	return &step, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStep(rows rowScanner) (*model.WorkflowStep, error) {
	var step model.WorkflowStep
	var configJSON []byte
	if err := rows.Scan(&step.ID, &step.WorkflowID, &step.Name, &step.TaskType, &step.StepOrder, &configJSON, &step.TimeoutSeconds, &step.MaxRetries); err != nil {
		return nil, err
	}
	cfg, err := unmarshalJSON(configJSON)
	if err != nil {
		return nil, err
	}
	step.Config = cfg
	return &step, nil
}

// ---- Execution ----

func (s *PostgresStore) InsertExecution(ctx context.Context, exec *model.WorkflowExecution) error {
	if exec.ID == uuid.Nil {
		exec.ID = uuid.New()
	}
	inputJSON, err := marshalJSON(exec.InputData)
	if err != nil {
		return fmt.Errorf("marshal input_data: %w", err)
	}
	outputJSON, err := marshalJSON(exec.OutputData)
	if err != nil {
		return fmt.Errorf("marshal output_data: %w", err)
	}

	const q = `
		INSERT INTO workflow_executions (
			id, workflow_id, idempotency_key, status, current_step_order,
			retry_count, max_retries, input_data, output_data, error_message, scheduled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`
	if err := s.db.QueryRowContext(ctx, q,
		exec.ID, exec.WorkflowID, exec.IdempotencyKey, exec.Status, exec.CurrentStepOrder,
		exec.RetryCount, exec.MaxRetries, inputJSON, outputJSON, exec.ErrorMessage, exec.ScheduledAt,
	).Scan(&exec.CreatedAt, &exec.UpdatedAt); err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetExecution(ctx context.Context, id uuid.UUID) (*model.WorkflowExecution, error) {
	const q = executionSelect + ` WHERE id = $1`
	exec, err := scanExecution(s.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("WorkflowExecution", id)
	}
	return exec, err
}

func (s *PostgresStore) GetExecutionByIdempotencyKey(ctx context.Context, workflowID uuid.UUID, key string) (*model.WorkflowExecution, error) {
	const q = executionSelect + ` WHERE workflow_id = $1 AND idempotency_key = $2`
	exec, err := scanExecution(s.db.QueryRowContext(ctx, q, workflowID, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return exec, err
}

const executionSelect = `
	SELECT id, workflow_id, idempotency_key, status, current_step_order, retry_count, max_retries,
	       input_data, output_data, error_message, scheduled_at, started_at, completed_at, created_at, updated_at
	FROM workflow_executions`

func scanExecution(row *sql.Row) (*model.WorkflowExecution, error) {
	var e model.WorkflowExecution
	var inputJSON, outputJSON []byte
	if err := row.Scan(
		&e.ID, &e.WorkflowID, &e.IdempotencyKey, &e.Status, &e.CurrentStepOrder, &e.RetryCount, &e.MaxRetries,
		&inputJSON, &outputJSON, &e.ErrorMessage, &e.ScheduledAt, &e.StartedAt, &e.CompletedAt, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if e.InputData, err = unmarshalJSON(inputJSON); err != nil {
		return nil, err
	}
	if e.OutputData, err = unmarshalJSON(outputJSON); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanExecutionRows(rows *sql.Rows) (*model.WorkflowExecution, error) {
	var e model.WorkflowExecution
	var inputJSON, outputJSON []byte
	if err := rows.Scan(
		&e.ID, &e.WorkflowID, &e.IdempotencyKey, &e.Status, &e.CurrentStepOrder, &e.RetryCount, &e.MaxRetries,
		&inputJSON, &outputJSON, &e.ErrorMessage, &e.ScheduledAt, &e.StartedAt, &e.CompletedAt, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if e.InputData, err = unmarshalJSON(inputJSON); err != nil {
		return nil, err
	}
	if e.OutputData, err = unmarshalJSON(outputJSON); err != nil {
		return nil, err
	}
	return &e, nil
}

// UpdateExecution applies a partial update, auto-stamping started_at on the
// first transition into running and completed_at on any transition into a
// terminal status.
func (s *PostgresStore) UpdateExecution(ctx context.Context, id uuid.UUID, update ExecutionUpdate) error {
	sets := []string{"updated_at = now()"}
	args := []any{}
	pos := 1

	if update.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", pos))
		args = append(args, *update.Status)
		pos++

		if *update.Status == model.ExecutionRunning {
			sets = append(sets, "started_at = COALESCE(started_at, now())")
		}
		if isTerminalStatus(*update.Status) {
			sets = append(sets, "completed_at = now()")
		}
	}
	if update.ErrorMessage != nil {
		sets = append(sets, fmt.Sprintf("error_message = $%d", pos))
		args = append(args, *update.ErrorMessage)
		pos++
	}
	if update.CurrentStepOrder != nil {
		sets = append(sets, fmt.Sprintf("current_step_order = $%d", pos))
		args = append(args, *update.CurrentStepOrder)
		pos++
	}
	if update.OutputData != nil {
		outputJSON, err := marshalJSON(update.OutputData)
		if err != nil {
			return fmt.Errorf("marshal output_data: %w", err)
		}
		sets = append(sets, fmt.Sprintf("output_data = $%d", pos))
		args = append(args, outputJSON)
		pos++
	}

	args = append(args, id)
	q := fmt.Sprintf(`UPDATE workflow_executions SET %s WHERE id = $%d`, joinSets(sets), pos)
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	return requireRowsAffected(res, "WorkflowExecution", id)
}

func isTerminalStatus(s model.ExecutionStatus) bool {
	return s == model.ExecutionCompleted || s == model.ExecutionFailed || s == model.ExecutionCancelled
}

func joinSets(sets []string) string {
	out := ""
	for i, s := range sets {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

func (s *PostgresStore) IncrementRetryCount(ctx context.Context, id uuid.UUID) (int, error) {
	const q = `UPDATE workflow_executions SET retry_count = retry_count + 1, updated_at = now() WHERE id = $1 RETURNING retry_count`
	var count int
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&count); err != nil {
		if err == sql.ErrNoRows {
			return 0, apperr.NotFound("WorkflowExecution", id)
		}
		return 0, fmt.Errorf("increment retry count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) SetExecutionOutput(ctx context.Context, id uuid.UUID, output model.JSONMap) error {
	outputJSON, err := marshalJSON(output)
	if err != nil {
		return fmt.Errorf("marshal output_data: %w", err)
	}
	const q = `UPDATE workflow_executions SET output_data = $1, updated_at = now() WHERE id = $2`
	res, err := s.db.ExecContext(ctx, q, outputJSON, id)
	if err != nil {
		return fmt.Errorf("set execution output: %w", err)
	}
	return requireRowsAffected(res, "WorkflowExecution", id)
}

func (s *PostgresStore) ListExecutions(ctx context.Context, filter ExecutionFilter, page Page) ([]*model.WorkflowExecution, int, error) {
	var clauses []string
	var args []any
	if filter.WorkflowID != nil {
		clauses = append(clauses, fmt.Sprintf("workflow_id = $%d", len(args)+1))
		args = append(args, *filter.WorkflowID)
	}
	if filter.Status != nil {
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + joinSets(clauses)
	}

	var total int
	countQ := fmt.Sprintf(`SELECT COUNT(*) FROM workflow_executions %s`, where)
	if err := s.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}

	limitPos := len(args) + 1
	offsetPos := len(args) + 2
	listQ := fmt.Sprintf(`%s %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, executionSelect, where, limitPos, offsetPos)
	args = append(args, page.Limit, page.Offset)

	rows, err := s.db.QueryContext(ctx, listQ, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var result []*model.WorkflowExecution
	for rows.Next() {
		e, err := scanExecutionRows(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, e)
	}
	return result, total, rows.Err()
}

func (s *PostgresStore) ListPendingReady(ctx context.Context, page Page) ([]*model.WorkflowExecution, error) {
	q := fmt.Sprintf(`%s WHERE status = 'pending' AND (scheduled_at IS NULL OR scheduled_at <= now())
		ORDER BY created_at ASC LIMIT $1 OFFSET $2`, executionSelect)
	rows, err := s.db.QueryContext(ctx, q, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("list pending ready: %w", err)
	}
	defer rows.Close()

	var result []*model.WorkflowExecution
	for rows.Next() {
		e, err := scanExecutionRows(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// ---- StepExecution ----

func (s *PostgresStore) InsertStepExecution(ctx context.Context, se *model.StepExecution) error {
	if se.ID == uuid.Nil {
		se.ID = uuid.New()
	}
	inputJSON, err := marshalJSON(se.InputData)
	if err != nil {
		return fmt.Errorf("marshal step input: %w", err)
	}
	outputJSON, err := marshalJSON(se.OutputData)
	if err != nil {
		return fmt.Errorf("marshal step output: %w", err)
	}
	detailsJSON, err := marshalJSON(se.ErrorDetails)
	if err != nil {
		return fmt.Errorf("marshal step error_details: %w", err)
	}

	const q = `
		INSERT INTO step_executions (
			id, execution_id, step_id, step_order, status, attempt_number,
			input_data, output_data, error_message, error_details, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	if _, err := s.db.ExecContext(ctx, q,
		se.ID, se.ExecutionID, se.StepID, se.StepOrder, se.Status, se.AttemptNumber,
		inputJSON, outputJSON, se.ErrorMessage, detailsJSON, se.StartedAt, se.CompletedAt,
	); err != nil {
		return fmt.Errorf("insert step execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStepExecution(ctx context.Context, id uuid.UUID, update StepExecutionUpdate) error {
	sets := []string{}
	args := []any{}
	pos := 1

	if update.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", pos))
		args = append(args, *update.Status)
		pos++
		switch *update.Status {
		case model.StepRunning:
			sets = append(sets, "started_at = COALESCE(started_at, now())")
		case model.StepCompleted, model.StepFailed, model.StepSkipped:
			sets = append(sets, "completed_at = now()")
		}
	}
	if update.OutputData != nil {
		outputJSON, err := marshalJSON(update.OutputData)
		if err != nil {
			return fmt.Errorf("marshal step output: %w", err)
		}
		sets = append(sets, fmt.Sprintf("output_data = $%d", pos))
		args = append(args, outputJSON)
		pos++
	}
	if update.ErrorMessage != nil {
		sets = append(sets, fmt.Sprintf("error_message = $%d", pos))
		args = append(args, *update.ErrorMessage)
		pos++
	}
	if update.ErrorDetails != nil {
		detailsJSON, err := marshalJSON(update.ErrorDetails)
		if err != nil {
			return fmt.Errorf("marshal step error_details: %w", err)
		}
		sets = append(sets, fmt.Sprintf("error_details = $%d", pos))
		args = append(args, detailsJSON)
		pos++
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	q := fmt.Sprintf(`UPDATE step_executions SET %s WHERE id = $%d`, joinSets(sets), pos)
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update step execution: %w", err)
	}
	return requireRowsAffected(res, "StepExecution", id)
}

func (s *PostgresStore) ListStepExecutionsByExecution(ctx context.Context, executionID uuid.UUID) ([]*model.StepExecution, error) {
	const q = `
		SELECT id, execution_id, step_id, step_order, status, attempt_number,
		       input_data, output_data, error_message, error_details, started_at, completed_at
		FROM step_executions WHERE execution_id = $1 ORDER BY step_order ASC, attempt_number ASC`
	rows, err := s.db.QueryContext(ctx, q, executionID)
	if err != nil {
		return nil, fmt.Errorf("list step executions: %w", err)
	}
	defer rows.Close()

	var result []*model.StepExecution
	for rows.Next() {
		var se model.StepExecution
		var inputJSON, outputJSON, detailsJSON []byte
		if err := rows.Scan(&se.ID, &se.ExecutionID, &se.StepID, &se.StepOrder, &se.Status, &se.AttemptNumber,
			&inputJSON, &outputJSON, &se.ErrorMessage, &detailsJSON, &se.StartedAt, &se.CompletedAt); err != nil {
			return nil, err
		}
		var err error
		if se.InputData, err = unmarshalJSON(inputJSON); err != nil {
			return nil, err
		}
		if se.OutputData, err = unmarshalJSON(outputJSON); err != nil {
			return nil, err
		}
		if se.ErrorDetails, err = unmarshalJSON(detailsJSON); err != nil {
			return nil, err
		}
		result = append(result, &se)
	}
	return result, rows.Err()
}

// ---- Log ----

func (s *PostgresStore) InsertLog(ctx context.Context, logEntry *model.ExecutionLog) error {
	if logEntry.ID == uuid.Nil {
		logEntry.ID = uuid.New()
	}
	detailsJSON, err := marshalJSON(logEntry.Details)
	if err != nil {
		return fmt.Errorf("marshal log details: %w", err)
	}
	const q = `
		INSERT INTO execution_logs (id, execution_id, step_execution_id, level, message, details, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))`
	var ts any
	if !logEntry.Timestamp.IsZero() {
		ts = logEntry.Timestamp
	}
	if _, err := s.db.ExecContext(ctx, q, logEntry.ID, logEntry.ExecutionID, logEntry.StepExecutionID, logEntry.Level, logEntry.Message, detailsJSON, ts); err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListLogsByExecution(ctx context.Context, executionID uuid.UUID, filter LogFilter, page Page) ([]*model.ExecutionLog, int, error) {
	clauses := []string{"execution_id = $1"}
	args := []any{executionID}
	if filter.Level != nil {
		clauses = append(clauses, fmt.Sprintf("level = $%d", len(args)+1))
		args = append(args, *filter.Level)
	}
	where := "WHERE " + joinSets(clauses)

	var total int
	countQ := fmt.Sprintf(`SELECT COUNT(*) FROM execution_logs %s`, where)
	if err := s.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count logs: %w", err)
	}

	limitPos := len(args) + 1
	offsetPos := len(args) + 2
	listQ := fmt.Sprintf(`
		SELECT id, execution_id, step_execution_id, level, message, details, timestamp
		FROM execution_logs %s ORDER BY timestamp ASC LIMIT $%d OFFSET $%d`, where, limitPos, offsetPos)
	args = append(args, page.Limit, page.Offset)

	rows, err := s.db.QueryContext(ctx, listQ, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var result []*model.ExecutionLog
	for rows.Next() {
		var l model.ExecutionLog
		var detailsJSON []byte
		if err := rows.Scan(&l.ID, &l.ExecutionID, &l.StepExecutionID, &l.Level, &l.Message, &detailsJSON, &l.Timestamp); err != nil {
			return nil, 0, err
		}
		details, err := unmarshalJSON(detailsJSON)
		if err != nil {
			return nil, 0, err
		}
		l.Details = details
		result = append(result, &l)
	}
	return result, total, rows.Err()
}

// ---- helpers ----

func requireRowsAffected(res sql.Result, entity string, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound(entity, id)
	}
	return nil
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505), such as a duplicate idempotency key on
// InsertExecution. Callers use this to translate into apperr.DuplicateExecution.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func withTx(ctx context.Context, conn *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

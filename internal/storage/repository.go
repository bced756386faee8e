package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/mfgtest/orchestrator/internal/aliasing"
	"github.com/mfgtest/orchestrator/internal/testplan"
)

// Sentinel errors for the test-orchestrator persistence boundary (spec.md
// §4.I), mirroring the teacher's convention of one errors.New var per
// failure category checked with errors.Is.
var (
	// ErrSessionNotFound is returned by GetSession for an unknown id.
	ErrSessionNotFound = errors.New("storage: session not found")

	// ErrTestPlanEmpty is returned when a (project, station, plan) scope
	// has no enabled items.
	ErrTestPlanEmpty = errors.New("storage: test plan has no items")

	// ErrRepositoryRetryable marks a transient failure (spec.md §4.I,
	// §7) eligible for the engine's retry-with-backoff wrapper.
	ErrRepositoryRetryable = errors.New("storage: retryable repository failure")

	// ErrRepositoryFatal marks a non-retryable failure.
	ErrRepositoryFatal = errors.New("storage: fatal repository failure")
)

// SessionStatus mirrors testplan-adjacent session lifecycle states
// (spec.md §3.1), kept as a distinct string type in the storage layer so
// the package doesn't need to import internal/session (the dependency
// runs the other way: session depends on storage).
type SessionStatus string

const (
	StatusCreated   SessionStatus = "created"
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
	StatusAborted   SessionStatus = "aborted"
	StatusErrored   SessionStatus = "errored"
)

// FinalResult mirrors spec.md §3.1's final_result enumeration.
type FinalResult string

const (
	ResultPass  FinalResult = "PASS"
	ResultFail  FinalResult = "FAIL"
	ResultAbort FinalResult = "ABORT"
	ResultError FinalResult = "ERROR"
)

type (
	// Session is the persisted row for a TestSession (spec.md §3.1).
	Session struct {
		ID           string
		SerialNumber string
		StationID    string
		ProjectID    string
		OperatorID   string
		PlanName     string
		Status       SessionStatus
		StartedAt    *time.Time
		EndedAt      *time.Time
		TotalItems   int
		PassItems    int
		FailItems    int
		ErrorItems   int
		FinalResult  *FinalResult
		DurationMs   int64
		ReportPath   string
		CreatedAt    time.Time
	}

	// Result is the persisted row for a TestResult (spec.md §3.1).
	Result struct {
		ID                  int64
		SessionID           string
		TestPlanItemID      int64
		ItemNo              int
		ItemName            string
		MeasuredValue       string
		LowerLimit          *float64
		UpperLimit          *float64
		Unit                string
		Result              string // PASS/FAIL/ERROR/SKIP/ABORT
		ErrorMessage        string
		ExecutionDurationMs int64
		StartedAt           time.Time
	}

	// SessionAggregates is what Finalize writes transactionally at session
	// termination (spec.md §4.G.3).
	SessionAggregates struct {
		Status      SessionStatus
		TotalItems  int
		PassItems   int
		FailItems   int
		ErrorItems  int
		FinalResult FinalResult
		DurationMs  int64
		EndedAt     time.Time
		ReportPath  string
	}

	// SessionFilter narrows ListSessions (supplements the distilled spec
	// per original_source's sessions listing endpoint, SPEC_FULL.md §6).
	SessionFilter struct {
		StationID    string
		ProjectID    string
		SerialNumber string
		Status       SessionStatus
		Limit        int
		Offset       int
	}

	// InstrumentConfig is the persisted row for an instrument (spec.md §3.1).
	InstrumentConfig struct {
		ID         string
		Type       string
		Connection json.RawMessage
		Options    json.RawMessage
		Enabled    bool
		UpdatedAt  time.Time
	}

	// testPlanItemRow pairs a testplan.Item with its persisted surrogate
	// ID; the scope columns (project/station/plan) are not carried.
	testPlanItemRow struct {
		ID         int64
		Item       testplan.Item
	}
)

// Repository is the abstract persistence boundary the session engine
// consumes (spec.md §4.I). The implementer chooses the backing store;
// PostgresRepository below is this repo's choice.
type Repository interface {
	LoadTestPlan(ctx context.Context, projectID, stationID, planName string) ([]testplan.Item, error)
	CreateSession(ctx context.Context, sess Session) (Session, error)
	AppendResult(ctx context.Context, result Result) error
	FinalizeSession(ctx context.Context, id string, agg SessionAggregates) error
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error)
	ListResults(ctx context.Context, sessionID string) ([]Result, error)
	ListInstruments(ctx context.Context) ([]InstrumentConfig, error)

	// DeleteSessionsBefore purges every terminal session (and its cascaded
	// results) with created_at older than cutoff, for the cmd/cleanup CLI
	// (spec.md §9 "Cleanup policy"). Returns the number of sessions
	// deleted. dryRun counts matching rows without deleting them.
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time, dryRun bool) (int, error)
}

// PostgresRepository implements Repository over the lib/pq driver,
// following the same injected-*Connection-plus-*slog.Logger shape as the
// teacher's LineageStore.
type PostgresRepository struct {
	conn     *Connection
	logger   *slog.Logger
	resolver *aliasing.Resolver
}

// PostgresRepositoryOption configures optional PostgresRepository
// behavior, the same composition-over-inheritance idiom the teacher uses
// for LineageStoreOption.
type PostgresRepositoryOption func(*PostgresRepository)

// WithFieldResolver installs an aliasing.Resolver that normalizes legacy
// switch_mode/command spellings at load time (spec.md §9 Open Question).
func WithFieldResolver(r *aliasing.Resolver) PostgresRepositoryOption {
	return func(p *PostgresRepository) {
		p.resolver = r
	}
}

// NewPostgresRepository builds a Repository backed by conn.
func NewPostgresRepository(conn *Connection, logger *slog.Logger, opts ...PostgresRepositoryOption) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}

	r := &PostgresRepository{conn: conn, logger: logger}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// LoadTestPlan implements spec.md §4.I's load_test_plan, returning enabled
// items for (project, station, plan) in item_no order, with legacy field
// spellings normalized (spec.md §9).
func (p *PostgresRepository) LoadTestPlan(ctx context.Context, projectID, stationID, planName string) ([]testplan.Item, error) {
	if planName == "" {
		planName = "default"
	}

	rows, err := p.conn.QueryContext(ctx, `
		SELECT item_no, item_name, item_key, command, switch_mode, parameters,
		       value_type, limit_type, lower_limit, upper_limit, eq_limit,
		       unit, enabled, timeout_ms, wait_ms, use_result
		FROM test_plan_items
		WHERE project_id = $1 AND station_id = $2 AND plan_name = $3 AND enabled = TRUE
		ORDER BY item_no ASC`, projectID, stationID, planName)
	if err != nil {
		return nil, classifyPgError(err)
	}
	defer rows.Close()

	var items []testplan.Item

	for rows.Next() {
		var (
			item       testplan.Item
			paramsJSON []byte
			lowerLimit sql.NullFloat64
			upperLimit sql.NullFloat64
			eqLimit    sql.NullString
			timeoutMs  sql.NullInt64
			waitMs     sql.NullInt64
			useResult  sql.NullString
		)

		if err := rows.Scan(&item.ItemNo, &item.ItemName, &item.ItemKey, &item.Command,
			&item.SwitchMode, &paramsJSON, &item.ValueType, &item.LimitType,
			&lowerLimit, &upperLimit, &eqLimit, &item.Unit, &item.Enabled,
			&timeoutMs, &waitMs, &useResult); err != nil {
			return nil, classifyPgError(err)
		}

		if err := json.Unmarshal(paramsJSON, &item.Parameters); err != nil {
			return nil, fmt.Errorf("%w: parameters: %w", ErrRepositoryFatal, err)
		}

		if lowerLimit.Valid {
			item.LowerLimit = &lowerLimit.Float64
		}

		if upperLimit.Valid {
			item.UpperLimit = &upperLimit.Float64
		}

		if eqLimit.Valid {
			item.EqLimit = &eqLimit.String
		}

		if timeoutMs.Valid {
			v := int(timeoutMs.Int64)
			item.TimeoutMs = &v
		}

		if waitMs.Valid {
			v := int(waitMs.Int64)
			item.WaitMs = &v
		}

		item.UseResult = useResult.String

		if p.resolver != nil {
			item = p.resolver.NormalizeItem(item)
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyPgError(err)
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("%w: project=%s station=%s plan=%s", ErrTestPlanEmpty, projectID, stationID, planName)
	}

	return items, nil
}

// CreateSession inserts a new Session row in the created state.
func (p *PostgresRepository) CreateSession(ctx context.Context, sess Session) (Session, error) {
	row := p.conn.QueryRowContext(ctx, `
		INSERT INTO test_sessions (id, serial_number, station_id, project_id, operator_id, plan_name, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		sess.ID, sess.SerialNumber, sess.StationID, sess.ProjectID, sess.OperatorID, sess.PlanName, StatusCreated)

	sess.Status = StatusCreated

	if err := row.Scan(&sess.CreatedAt); err != nil {
		return Session{}, classifyPgError(err)
	}

	return sess, nil
}

// AppendResult persists one TestResult in its own transaction, per
// spec.md §4.G.2: results are never batched so partial progress survives
// a crash.
func (p *PostgresRepository) AppendResult(ctx context.Context, r Result) error {
	tx, err := p.conn.BeginTx(ctx, nil)
	if err != nil {
		return classifyPgError(err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO test_results (session_id, test_plan_item_id, item_no, item_name,
		                           measured_value, lower_limit, upper_limit, unit,
		                           result, error_message, execution_duration_ms, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.SessionID, r.TestPlanItemID, r.ItemNo, r.ItemName, r.MeasuredValue,
		r.LowerLimit, r.UpperLimit, r.Unit, r.Result, r.ErrorMessage,
		r.ExecutionDurationMs, r.StartedAt)
	if err != nil {
		return classifyPgError(err)
	}

	if err := tx.Commit(); err != nil {
		return classifyPgError(err)
	}

	return nil
}

// FinalizeSession updates the session record transactionally with the
// engine's computed aggregates (spec.md §4.G.3).
func (p *PostgresRepository) FinalizeSession(ctx context.Context, id string, agg SessionAggregates) error {
	tx, err := p.conn.BeginTx(ctx, nil)
	if err != nil {
		return classifyPgError(err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		UPDATE test_sessions
		SET status = $2, ended_at = $3, total_items = $4, pass_items = $5,
		    fail_items = $6, error_items = $7, final_result = $8,
		    duration_ms = $9, report_path = $10
		WHERE id = $1`,
		id, agg.Status, agg.EndedAt, agg.TotalItems, agg.PassItems, agg.FailItems,
		agg.ErrorItems, agg.FinalResult, agg.DurationMs, agg.ReportPath)
	if err != nil {
		return classifyPgError(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return classifyPgError(err)
	}

	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	return tx.Commit()
}

// GetSession fetches one session by id.
func (p *PostgresRepository) GetSession(ctx context.Context, id string) (Session, error) {
	row := p.conn.QueryRowContext(ctx, `
		SELECT id, serial_number, station_id, project_id, operator_id, plan_name,
		       status, started_at, ended_at, total_items, pass_items, fail_items,
		       error_items, final_result, duration_ms, report_path, created_at
		FROM test_sessions WHERE id = $1`, id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	if err != nil {
		return Session{}, classifyPgError(err)
	}

	return sess, nil
}

// ListSessions returns sessions matching filter, newest first.
func (p *PostgresRepository) ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := p.conn.QueryContext(ctx, `
		SELECT id, serial_number, station_id, project_id, operator_id, plan_name,
		       status, started_at, ended_at, total_items, pass_items, fail_items,
		       error_items, final_result, duration_ms, report_path, created_at
		FROM test_sessions
		WHERE ($1 = '' OR station_id = $1)
		  AND ($2 = '' OR project_id = $2)
		  AND ($3 = '' OR serial_number = $3)
		  AND ($4 = '' OR status = $4)
		ORDER BY created_at DESC
		LIMIT $5 OFFSET $6`,
		filter.StationID, filter.ProjectID, filter.SerialNumber, filter.Status, limit, filter.Offset)
	if err != nil {
		return nil, classifyPgError(err)
	}
	defer rows.Close()

	var out []Session

	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, classifyPgError(err)
		}

		out = append(out, sess)
	}

	return out, rows.Err()
}

// ListResults returns every persisted result for sessionID in item_no order.
func (p *PostgresRepository) ListResults(ctx context.Context, sessionID string) ([]Result, error) {
	rows, err := p.conn.QueryContext(ctx, `
		SELECT id, session_id, test_plan_item_id, item_no, item_name, measured_value,
		       lower_limit, upper_limit, unit, result, error_message,
		       execution_duration_ms, started_at
		FROM test_results WHERE session_id = $1 ORDER BY item_no ASC`, sessionID)
	if err != nil {
		return nil, classifyPgError(err)
	}
	defer rows.Close()

	var out []Result

	for rows.Next() {
		var r Result

		if err := rows.Scan(&r.ID, &r.SessionID, &r.TestPlanItemID, &r.ItemNo, &r.ItemName,
			&r.MeasuredValue, &r.LowerLimit, &r.UpperLimit, &r.Unit, &r.Result,
			&r.ErrorMessage, &r.ExecutionDurationMs, &r.StartedAt); err != nil {
			return nil, classifyPgError(err)
		}

		out = append(out, r)
	}

	return out, rows.Err()
}

// ListInstruments returns every configured instrument (spec.md §3.1
// InstrumentConfig), loaded once at process start per spec.md §6.3.
func (p *PostgresRepository) ListInstruments(ctx context.Context) ([]InstrumentConfig, error) {
	rows, err := p.conn.QueryContext(ctx, `
		SELECT id, type, connection, options, enabled, updated_at FROM instrument_configs`)
	if err != nil {
		return nil, classifyPgError(err)
	}
	defer rows.Close()

	var out []InstrumentConfig

	for rows.Next() {
		var ic InstrumentConfig

		if err := rows.Scan(&ic.ID, &ic.Type, &ic.Connection, &ic.Options, &ic.Enabled, &ic.UpdatedAt); err != nil {
			return nil, classifyPgError(err)
		}

		out = append(out, ic)
	}

	return out, rows.Err()
}

// DeleteSessionsBefore implements Repository.DeleteSessionsBefore. Only
// terminal sessions are eligible for deletion; a still-running session
// older than cutoff (a stuck/abandoned run) is left for an operator to
// investigate rather than silently purged.
func (p *PostgresRepository) DeleteSessionsBefore(ctx context.Context, cutoff time.Time, dryRun bool) (int, error) {
	terminalStatuses := []SessionStatus{StatusCompleted, StatusFailed, StatusAborted, StatusErrored}

	if dryRun {
		var count int

		err := p.conn.QueryRowContext(ctx, `
			SELECT count(*) FROM test_sessions
			WHERE created_at < $1 AND status = ANY($2)`,
			cutoff, pq.Array(terminalStatuses)).Scan(&count)
		if err != nil {
			return 0, classifyPgError(err)
		}

		return count, nil
	}

	result, err := p.conn.ExecContext(ctx, `
		DELETE FROM test_sessions
		WHERE created_at < $1 AND status = ANY($2)`,
		cutoff, pq.Array(terminalStatuses))
	if err != nil {
		return 0, classifyPgError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, classifyPgError(err)
	}

	return int(affected), nil
}

func scanSession(scanner interface{ Scan(...any) error }) (Session, error) {
	var (
		sess        Session
		startedAt   sql.NullTime
		endedAt     sql.NullTime
		finalResult sql.NullString
	)

	err := scanner.Scan(&sess.ID, &sess.SerialNumber, &sess.StationID, &sess.ProjectID,
		&sess.OperatorID, &sess.PlanName, &sess.Status, &startedAt, &endedAt,
		&sess.TotalItems, &sess.PassItems, &sess.FailItems, &sess.ErrorItems,
		&finalResult, &sess.DurationMs, &sess.ReportPath, &sess.CreatedAt)
	if err != nil {
		return Session{}, err
	}

	if startedAt.Valid {
		sess.StartedAt = &startedAt.Time
	}

	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}

	if finalResult.Valid {
		fr := FinalResult(finalResult.String)
		sess.FinalResult = &fr
	}

	return sess, nil
}

// classifyPgError wraps err as ErrRepositoryRetryable for connection-level
// failures (spec.md §4.I: "tolerate transient RepositoryRetryable
// failures by retrying ... up to 3 times"), otherwise ErrRepositoryFatal.
func classifyPgError(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57": // connection exception, insufficient resources, operator intervention
			return fmt.Errorf("%w: %w", ErrRepositoryRetryable, err)
		}

		return fmt.Errorf("%w: %w", ErrRepositoryFatal, err)
	}

	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w: %w", ErrRepositoryRetryable, err)
	}

	return fmt.Errorf("%w: %w", ErrRepositoryFatal, err)
}

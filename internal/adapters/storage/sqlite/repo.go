package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hylla/flode/internal/app"
	"github.com/hylla/flode/internal/domain"
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

// Repository is the sqlite implementation of the app persistence port. Every
// aggregate row carries a version column; updates compare-and-swap on it and
// report app.ErrConflict when another writer got there first.
type Repository struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// OpenInMemory opens a throwaway in-memory database, used by tests.
func OpenInMemory() (*Repository, error) {
	db, err := sql.Open(driverName, "file::memory:?cache=shared")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the underlying database.
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS change_requests (
			tenant_id TEXT NOT NULL,
			id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			change_type TEXT NOT NULL,
			risk_level TEXT NOT NULL,
			priority TEXT NOT NULL,
			status TEXT NOT NULL,
			requires_cab INTEGER NOT NULL DEFAULT 0,
			impact_assessment TEXT NOT NULL DEFAULT '',
			rollback_plan TEXT NOT NULL DEFAULT '',
			review_notes TEXT NOT NULL DEFAULT '',
			denial_reason TEXT NOT NULL DEFAULT '',
			failure_reason TEXT NOT NULL DEFAULT '',
			rollback_reason TEXT NOT NULL DEFAULT '',
			cancel_reason TEXT NOT NULL DEFAULT '',
			scheduled_start_at TEXT,
			scheduled_end_at TEXT,
			maintenance_window TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL,
			reviewed_by TEXT NOT NULL DEFAULT '',
			approved_by TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			submitted_at TEXT,
			reviewed_at TEXT,
			approved_at TEXT,
			denied_at TEXT,
			scheduled_at TEXT,
			started_at TEXT,
			completed_at TEXT,
			failed_at TEXT,
			rolled_back_at TEXT,
			cancelled_at TEXT,
			version INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (tenant_id, id)
		);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			tenant_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL,
			status TEXT NOT NULL,
			assigned_to_user_id TEXT NOT NULL DEFAULT '',
			assigned_to_department_id TEXT NOT NULL DEFAULT '',
			department_name TEXT NOT NULL DEFAULT '',
			estimated_hours REAL,
			actual_hours REAL NOT NULL DEFAULT 0,
			resolution_notes TEXT NOT NULL DEFAULT '',
			blocked_reason TEXT NOT NULL DEFAULT '',
			blocked_at TEXT,
			due_at TEXT,
			created_by TEXT NOT NULL DEFAULT '',
			completed_by TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			cancelled_at TEXT,
			version INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (tenant_id, id)
		);`,
		`CREATE TABLE IF NOT EXISTS checklist_items (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			description TEXT NOT NULL,
			position INTEGER NOT NULL,
			completed INTEGER NOT NULL DEFAULT 0,
			completed_by TEXT NOT NULL DEFAULT '',
			completed_at TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY(tenant_id, task_id) REFERENCES tasks(tenant_id, id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS activity_logs (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			activity_type TEXT NOT NULL,
			description TEXT NOT NULL,
			actor_id TEXT NOT NULL DEFAULT '',
			detail_json TEXT NOT NULL DEFAULT '{}',
			occurred_at TEXT NOT NULL,
			FOREIGN KEY(tenant_id, task_id) REFERENCES tasks(tenant_id, id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS domain_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			aggregate_type TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			name TEXT NOT NULL,
			actor_id TEXT NOT NULL DEFAULT '',
			payload_json TEXT NOT NULL DEFAULT '{}',
			occurred_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_change_requests_status_start ON change_requests(status, scheduled_start_at);`,
		`CREATE INDEX IF NOT EXISTS idx_change_requests_status_end ON change_requests(status, scheduled_end_at);`,
		`CREATE INDEX IF NOT EXISTS idx_change_requests_tenant_status ON change_requests(tenant_id, status);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_tenant_project ON tasks(tenant_id, project_id);`,
		`CREATE INDEX IF NOT EXISTS idx_checklist_items_task_position ON checklist_items(tenant_id, task_id, position);`,
		`CREATE INDEX IF NOT EXISTS idx_activity_logs_task_occurred ON activity_logs(tenant_id, task_id, occurred_at ASC, id ASC);`,
		`CREATE INDEX IF NOT EXISTS idx_domain_events_aggregate ON domain_events(tenant_id, aggregate_id, occurred_at DESC, id DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

const changeColumns = `tenant_id, id, title, description, change_type, risk_level, priority, status, requires_cab,
	impact_assessment, rollback_plan, review_notes, denial_reason, failure_reason, rollback_reason, cancel_reason,
	scheduled_start_at, scheduled_end_at, maintenance_window, created_by, reviewed_by, approved_by,
	created_at, updated_at, submitted_at, reviewed_at, approved_at, denied_at, scheduled_at,
	started_at, completed_at, failed_at, rolled_back_at, cancelled_at, version`

// CreateChangeRequest inserts a new change request at version zero.
func (r *Repository) CreateChangeRequest(ctx context.Context, cr domain.ChangeRequest) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO change_requests(`+changeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		cr.TenantID, cr.ID, cr.Title, cr.Description, string(cr.ChangeType), string(cr.Risk), string(cr.Priority), string(cr.Status), boolToInt(cr.RequiresCAB),
		cr.ImpactAssessment, cr.RollbackPlan, cr.ReviewNotes, cr.DenialReason, cr.FailureReason, cr.RollbackReason, cr.CancelReason,
		nullableTS(cr.ScheduledStartAt), nullableTS(cr.ScheduledEndAt), cr.MaintenanceWindow, cr.CreatedBy, cr.ReviewedBy, cr.ApprovedBy,
		ts(cr.CreatedAt), ts(cr.UpdatedAt), nullableTS(cr.SubmittedAt), nullableTS(cr.ReviewedAt), nullableTS(cr.ApprovedAt), nullableTS(cr.DeniedAt), nullableTS(cr.ScheduledAt),
		nullableTS(cr.StartedAt), nullableTS(cr.CompletedAt), nullableTS(cr.FailedAt), nullableTS(cr.RolledBackAt), nullableTS(cr.CancelledAt), cr.Version,
	)
	return err
}

// UpdateChangeRequest saves a loaded change request, compare-and-swapping on
// the version the caller read. A stale version yields app.ErrConflict.
func (r *Repository) UpdateChangeRequest(ctx context.Context, cr domain.ChangeRequest) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE change_requests
		SET title = ?, description = ?, change_type = ?, risk_level = ?, priority = ?, status = ?, requires_cab = ?,
			impact_assessment = ?, rollback_plan = ?, review_notes = ?, denial_reason = ?, failure_reason = ?,
			rollback_reason = ?, cancel_reason = ?, scheduled_start_at = ?, scheduled_end_at = ?, maintenance_window = ?,
			reviewed_by = ?, approved_by = ?, updated_at = ?, submitted_at = ?, reviewed_at = ?, approved_at = ?,
			denied_at = ?, scheduled_at = ?, started_at = ?, completed_at = ?, failed_at = ?, rolled_back_at = ?,
			cancelled_at = ?, version = version + 1
		WHERE tenant_id = ? AND id = ? AND version = ?
	`,
		cr.Title, cr.Description, string(cr.ChangeType), string(cr.Risk), string(cr.Priority), string(cr.Status), boolToInt(cr.RequiresCAB),
		cr.ImpactAssessment, cr.RollbackPlan, cr.ReviewNotes, cr.DenialReason, cr.FailureReason,
		cr.RollbackReason, cr.CancelReason, nullableTS(cr.ScheduledStartAt), nullableTS(cr.ScheduledEndAt), cr.MaintenanceWindow,
		cr.ReviewedBy, cr.ApprovedBy, ts(cr.UpdatedAt), nullableTS(cr.SubmittedAt), nullableTS(cr.ReviewedAt), nullableTS(cr.ApprovedAt),
		nullableTS(cr.DeniedAt), nullableTS(cr.ScheduledAt), nullableTS(cr.StartedAt), nullableTS(cr.CompletedAt), nullableTS(cr.FailedAt), nullableTS(cr.RolledBackAt),
		nullableTS(cr.CancelledAt),
		cr.TenantID, cr.ID, cr.Version,
	)
	if err != nil {
		return err
	}
	return r.translateStaleWrite(ctx, res, `SELECT 1 FROM change_requests WHERE tenant_id = ? AND id = ?`, cr.TenantID, cr.ID)
}

// GetChangeRequest loads one change request.
func (r *Repository) GetChangeRequest(ctx context.Context, tenantID, id string) (domain.ChangeRequest, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+changeColumns+`
		FROM change_requests
		WHERE tenant_id = ? AND id = ?
	`, tenantID, id)
	return scanChangeRequest(row)
}

// ListChangeRequestsByStatus lists a tenant's change requests in one status,
// oldest first.
func (r *Repository) ListChangeRequestsByStatus(ctx context.Context, tenantID string, status domain.ChangeStatus) ([]domain.ChangeRequest, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+changeColumns+`
		FROM change_requests
		WHERE tenant_id = ? AND status = ?
		ORDER BY created_at ASC, id ASC
	`, tenantID, string(status))
	if err != nil {
		return nil, err
	}
	return collectChangeRequests(rows)
}

// ListChangeRequestsDueToStart returns scheduled changes whose window has
// opened as of the given instant, across all tenants.
func (r *Repository) ListChangeRequestsDueToStart(ctx context.Context, asOf time.Time) ([]domain.ChangeRequest, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+changeColumns+`
		FROM change_requests
		WHERE status = ? AND scheduled_start_at IS NOT NULL AND scheduled_start_at <= ?
		ORDER BY scheduled_start_at ASC, id ASC
	`, string(domain.ChangeStatusScheduled), ts(asOf))
	if err != nil {
		return nil, err
	}
	return collectChangeRequests(rows)
}

// ListChangeRequestsStartingBetween returns scheduled changes whose start
// falls inside [from, to), across all tenants.
func (r *Repository) ListChangeRequestsStartingBetween(ctx context.Context, from, to time.Time) ([]domain.ChangeRequest, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+changeColumns+`
		FROM change_requests
		WHERE status = ? AND scheduled_start_at IS NOT NULL AND scheduled_start_at >= ? AND scheduled_start_at < ?
		ORDER BY scheduled_start_at ASC, id ASC
	`, string(domain.ChangeStatusScheduled), ts(from), ts(to))
	if err != nil {
		return nil, err
	}
	return collectChangeRequests(rows)
}

// ListOverdueChangeRequests returns changes whose scheduled end has passed
// without completion, across all tenants. Both executing changes and ones
// still sitting in scheduled qualify: a change that never started is just as
// far past its window.
func (r *Repository) ListOverdueChangeRequests(ctx context.Context, asOf time.Time) ([]domain.ChangeRequest, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+changeColumns+`
		FROM change_requests
		WHERE status IN (?, ?) AND scheduled_end_at IS NOT NULL AND scheduled_end_at < ?
		ORDER BY scheduled_end_at ASC, id ASC
	`, string(domain.ChangeStatusInProgress), string(domain.ChangeStatusScheduled), ts(asOf))
	if err != nil {
		return nil, err
	}
	return collectChangeRequests(rows)
}

const taskColumns = `tenant_id, project_id, id, title, description, priority, status,
	assigned_to_user_id, assigned_to_department_id, department_name, estimated_hours, actual_hours,
	resolution_notes, blocked_reason, blocked_at, due_at, created_by, completed_by,
	created_at, updated_at, started_at, completed_at, cancelled_at, version`

// CreateTask inserts a new task and its child rows.
func (r *Repository) CreateTask(ctx context.Context, t domain.Task) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks(`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.TenantID, t.ProjectID, t.ID, t.Title, t.Description, string(t.Priority), string(t.Status),
		t.AssignedToUserID, t.AssignedToDepartmentID, t.DepartmentName, t.EstimatedHours, t.ActualHours,
		t.ResolutionNotes, t.BlockedReason, nullableTS(t.BlockedAt), nullableTS(t.DueAt), t.CreatedBy, t.CompletedBy,
		ts(t.CreatedAt), ts(t.UpdatedAt), nullableTS(t.StartedAt), nullableTS(t.CompletedAt), nullableTS(t.CancelledAt), t.Version,
	)
	if err != nil {
		return err
	}
	if err := writeTaskChildren(ctx, tx, t); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateTask saves a loaded task and rewrites its child rows, with the same
// compare-and-swap semantics as UpdateChangeRequest.
func (r *Repository) UpdateTask(ctx context.Context, t domain.Task) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET title = ?, description = ?, priority = ?, status = ?,
			assigned_to_user_id = ?, assigned_to_department_id = ?, department_name = ?,
			estimated_hours = ?, actual_hours = ?, resolution_notes = ?, blocked_reason = ?, blocked_at = ?,
			due_at = ?, completed_by = ?, updated_at = ?, started_at = ?, completed_at = ?, cancelled_at = ?,
			version = version + 1
		WHERE tenant_id = ? AND id = ? AND version = ?
	`,
		t.Title, t.Description, string(t.Priority), string(t.Status),
		t.AssignedToUserID, t.AssignedToDepartmentID, t.DepartmentName,
		t.EstimatedHours, t.ActualHours, t.ResolutionNotes, t.BlockedReason, nullableTS(t.BlockedAt),
		nullableTS(t.DueAt), t.CompletedBy, ts(t.UpdatedAt), nullableTS(t.StartedAt), nullableTS(t.CompletedAt), nullableTS(t.CancelledAt),
		t.TenantID, t.ID, t.Version,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE tenant_id = ? AND id = ?`, t.TenantID, t.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return app.ErrNotFound
		}
		if err != nil {
			return err
		}
		return app.ErrConflict
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM checklist_items WHERE tenant_id = ? AND task_id = ?`, t.TenantID, t.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM activity_logs WHERE tenant_id = ? AND task_id = ?`, t.TenantID, t.ID); err != nil {
		return err
	}
	if err := writeTaskChildren(ctx, tx, t); err != nil {
		return err
	}
	return tx.Commit()
}

// GetTask loads one task with its checklist and activity children.
func (r *Repository) GetTask(ctx context.Context, tenantID, id string) (domain.Task, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE tenant_id = ? AND id = ?
	`, tenantID, id)
	t, err := scanTask(row)
	if err != nil {
		return domain.Task{}, err
	}
	if err := r.loadTaskChildren(ctx, &t); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// ListTasksByProject lists a tenant's tasks in one project, oldest first,
// children included.
func (r *Repository) ListTasksByProject(ctx context.Context, tenantID, projectID string) ([]domain.Task, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE tenant_id = ? AND project_id = ?
		ORDER BY created_at ASC, id ASC
	`, tenantID, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := r.loadTaskChildren(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// AppendEvent inserts one row into the append-only event ledger.
func (r *Repository) AppendEvent(ctx context.Context, e domain.Event) error {
	payload := e.Payload
	if payload == nil {
		payload = map[string]string{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO domain_events(tenant_id, aggregate_type, aggregate_id, name, actor_id, payload_json, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.TenantID, e.AggregateType, e.AggregateID, e.Name, e.ActorID, string(payloadJSON), ts(e.OccurredAt))
	return err
}

// ListEvents returns one aggregate's ledger rows, most recent first. A
// limit of zero or less means no limit.
func (r *Repository) ListEvents(ctx context.Context, tenantID, aggregateID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT tenant_id, aggregate_type, aggregate_id, name, actor_id, payload_json, occurred_at
		FROM domain_events
		WHERE tenant_id = ? AND aggregate_id = ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`, tenantID, aggregateID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Event{}
	for rows.Next() {
		var (
			e          domain.Event
			payloadRaw string
			occurred   string
		)
		if err := rows.Scan(&e.TenantID, &e.AggregateType, &e.AggregateID, &e.Name, &e.ActorID, &payloadRaw, &occurred); err != nil {
			return nil, err
		}
		if strings.TrimSpace(payloadRaw) == "" {
			payloadRaw = "{}"
		}
		if err := json.Unmarshal([]byte(payloadRaw), &e.Payload); err != nil {
			return nil, fmt.Errorf("decode event payload_json: %w", err)
		}
		e.OccurredAt = parseTS(occurred)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) loadTaskChildren(ctx context.Context, t *domain.Task) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, task_id, description, position, completed, completed_by, completed_at, created_at
		FROM checklist_items
		WHERE tenant_id = ? AND task_id = ?
		ORDER BY position ASC
	`, t.TenantID, t.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item        domain.ChecklistItem
			completed   int
			completedAt sql.NullString
			createdRaw  string
		)
		if err := rows.Scan(&item.ID, &item.TaskID, &item.Description, &item.Position, &completed, &item.CompletedBy, &completedAt, &createdRaw); err != nil {
			return err
		}
		item.Completed = completed != 0
		item.CompletedAt = parseNullTS(completedAt)
		item.CreatedAt = parseTS(createdRaw)
		t.Checklist = append(t.Checklist, item)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	actRows, err := r.db.QueryContext(ctx, `
		SELECT id, task_id, activity_type, description, actor_id, detail_json, occurred_at
		FROM activity_logs
		WHERE tenant_id = ? AND task_id = ?
		ORDER BY occurred_at ASC, id ASC
	`, t.TenantID, t.ID)
	if err != nil {
		return err
	}
	defer actRows.Close()

	for actRows.Next() {
		var (
			entry       domain.ActivityEntry
			kind        string
			detailRaw   string
			occurredRaw string
		)
		if err := actRows.Scan(&entry.ID, &entry.TaskID, &kind, &entry.Description, &entry.ActorID, &detailRaw, &occurredRaw); err != nil {
			return err
		}
		entry.Type = domain.ActivityType(kind)
		if strings.TrimSpace(detailRaw) == "" {
			detailRaw = "{}"
		}
		if err := json.Unmarshal([]byte(detailRaw), &entry.Detail); err != nil {
			return fmt.Errorf("decode activity detail_json: %w", err)
		}
		entry.OccurredAt = parseTS(occurredRaw)
		t.Activity = append(t.Activity, entry)
	}
	return actRows.Err()
}

func writeTaskChildren(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	for _, item := range t.Checklist {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO checklist_items(id, tenant_id, task_id, description, position, completed, completed_by, completed_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, item.ID, t.TenantID, t.ID, item.Description, item.Position, boolToInt(item.Completed), item.CompletedBy, nullableTS(item.CompletedAt), ts(item.CreatedAt)); err != nil {
			return err
		}
	}
	for _, entry := range t.Activity {
		detail := entry.Detail
		if detail == nil {
			detail = map[string]string{}
		}
		detailJSON, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("encode activity detail: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO activity_logs(id, tenant_id, task_id, activity_type, description, actor_id, detail_json, occurred_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, entry.ID, t.TenantID, t.ID, string(entry.Type), entry.Description, entry.ActorID, string(detailJSON), ts(entry.OccurredAt)); err != nil {
			return err
		}
	}
	return nil
}

// translateStaleWrite distinguishes a missing row from a version mismatch
// after an update touched zero rows.
func (r *Repository) translateStaleWrite(ctx context.Context, res sql.Result, existsQuery string, args ...any) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var one int
	err = r.db.QueryRowContext(ctx, existsQuery, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return app.ErrNotFound
	}
	if err != nil {
		return err
	}
	return app.ErrConflict
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChangeRequest(s scanner) (domain.ChangeRequest, error) {
	var (
		cr           domain.ChangeRequest
		changeType   string
		risk         string
		priority     string
		status       string
		requiresCAB  int
		schedStart   sql.NullString
		schedEnd     sql.NullString
		createdRaw   string
		updatedRaw   string
		submittedRaw sql.NullString
		reviewedRaw  sql.NullString
		approvedRaw  sql.NullString
		deniedRaw    sql.NullString
		scheduledRaw sql.NullString
		startedRaw   sql.NullString
		completedRaw sql.NullString
		failedRaw    sql.NullString
		rolledRaw    sql.NullString
		cancelledRaw sql.NullString
	)
	if err := s.Scan(
		&cr.TenantID, &cr.ID, &cr.Title, &cr.Description, &changeType, &risk, &priority, &status, &requiresCAB,
		&cr.ImpactAssessment, &cr.RollbackPlan, &cr.ReviewNotes, &cr.DenialReason, &cr.FailureReason, &cr.RollbackReason, &cr.CancelReason,
		&schedStart, &schedEnd, &cr.MaintenanceWindow, &cr.CreatedBy, &cr.ReviewedBy, &cr.ApprovedBy,
		&createdRaw, &updatedRaw, &submittedRaw, &reviewedRaw, &approvedRaw, &deniedRaw, &scheduledRaw,
		&startedRaw, &completedRaw, &failedRaw, &rolledRaw, &cancelledRaw, &cr.Version,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ChangeRequest{}, app.ErrNotFound
		}
		return domain.ChangeRequest{}, err
	}
	cr.ChangeType = domain.ChangeType(changeType)
	cr.Risk = domain.RiskLevel(risk)
	cr.Priority = domain.Priority(priority)
	cr.Status = domain.ChangeStatus(status)
	cr.RequiresCAB = requiresCAB != 0
	cr.ScheduledStartAt = parseNullTS(schedStart)
	cr.ScheduledEndAt = parseNullTS(schedEnd)
	cr.CreatedAt = parseTS(createdRaw)
	cr.UpdatedAt = parseTS(updatedRaw)
	cr.SubmittedAt = parseNullTS(submittedRaw)
	cr.ReviewedAt = parseNullTS(reviewedRaw)
	cr.ApprovedAt = parseNullTS(approvedRaw)
	cr.DeniedAt = parseNullTS(deniedRaw)
	cr.ScheduledAt = parseNullTS(scheduledRaw)
	cr.StartedAt = parseNullTS(startedRaw)
	cr.CompletedAt = parseNullTS(completedRaw)
	cr.FailedAt = parseNullTS(failedRaw)
	cr.RolledBackAt = parseNullTS(rolledRaw)
	cr.CancelledAt = parseNullTS(cancelledRaw)
	return cr, nil
}

func collectChangeRequests(rows *sql.Rows) ([]domain.ChangeRequest, error) {
	defer rows.Close()
	out := []domain.ChangeRequest{}
	for rows.Next() {
		cr, err := scanChangeRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cr)
	}
	return out, rows.Err()
}

func scanTask(s scanner) (domain.Task, error) {
	var (
		t            domain.Task
		priority     string
		status       string
		estimated    sql.NullFloat64
		blockedRaw   sql.NullString
		dueRaw       sql.NullString
		createdRaw   string
		updatedRaw   string
		startedRaw   sql.NullString
		completedRaw sql.NullString
		cancelledRaw sql.NullString
	)
	if err := s.Scan(
		&t.TenantID, &t.ProjectID, &t.ID, &t.Title, &t.Description, &priority, &status,
		&t.AssignedToUserID, &t.AssignedToDepartmentID, &t.DepartmentName, &estimated, &t.ActualHours,
		&t.ResolutionNotes, &t.BlockedReason, &blockedRaw, &dueRaw, &t.CreatedBy, &t.CompletedBy,
		&createdRaw, &updatedRaw, &startedRaw, &completedRaw, &cancelledRaw, &t.Version,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Task{}, app.ErrNotFound
		}
		return domain.Task{}, err
	}
	t.Priority = domain.Priority(priority)
	t.Status = domain.TaskStatus(status)
	if estimated.Valid {
		v := estimated.Float64
		t.EstimatedHours = &v
	}
	t.BlockedAt = parseNullTS(blockedRaw)
	t.DueAt = parseNullTS(dueRaw)
	t.CreatedAt = parseTS(createdRaw)
	t.UpdatedAt = parseTS(updatedRaw)
	t.StartedAt = parseNullTS(startedRaw)
	t.CompletedAt = parseNullTS(completedRaw)
	t.CancelledAt = parseNullTS(cancelledRaw)
	return t, nil
}

// tsLayout pads the fractional seconds to a fixed width so stored strings
// compare lexicographically in the same order as the instants they encode.
// RFC3339Nano drops trailing zeros, which breaks range predicates for
// mixed-precision values within the same second.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(tsLayout)
}

func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

func parseNullTS(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	ts := parseTS(v.String)
	return &ts
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/craftpage/wizard-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const requestColumns = `id, owner_id, session_id, request_type, status, admin_id,
	request_payload, generated_content, estimated_cost, actual_cost, retry_count,
	processing_duration_ms, error_message, expires_at, created_at, assigned_at,
	started_at, completed_at, updated_at`

type PostgresRequestsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRequestsRepository(ctx context.Context, databaseURL string) (*PostgresRequestsRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresRequestsRepository{pool: pool}, nil
}

func NewPostgresRequestsRepositoryFromPool(pool *pgxpool.Pool) *PostgresRequestsRepository {
	return &PostgresRequestsRepository{pool: pool}
}

func (r *PostgresRequestsRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRequestsRepository) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ai_requests (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			request_type TEXT NOT NULL,
			status TEXT NOT NULL,
			admin_id TEXT NOT NULL DEFAULT '',
			request_payload JSONB,
			generated_content JSONB,
			estimated_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
			actual_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
			retry_count INT NOT NULL DEFAULT 0,
			processing_duration_ms BIGINT NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			assigned_at TIMESTAMPTZ,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ai_requests_status ON ai_requests (status, created_at)`,
		`CREATE INDEX IF NOT EXISTS ai_requests_session ON ai_requests (session_id)`,
		`CREATE TABLE IF NOT EXISTS ai_request_history (
			id BIGSERIAL PRIMARY KEY,
			request_id TEXT NOT NULL,
			previous_status TEXT NOT NULL DEFAULT '',
			new_status TEXT NOT NULL,
			changed_by TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ai_request_history_request ON ai_request_history (request_id, id)`,
		`CREATE TABLE IF NOT EXISTS admin_activity_log (
			id BIGSERIAL PRIMARY KEY,
			admin_id TEXT NOT NULL,
			action TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS admin_activity_admin ON admin_activity_log (admin_id, id)`,
	}
	for _, statement := range statements {
		if _, err := r.pool.Exec(ctx, statement); err != nil {
			return fmt.Errorf("ensure requests schema: %w", err)
		}
	}
	return nil
}

func (r *PostgresRequestsRepository) CreateRequest(ctx context.Context, request *domain.AiRequest) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create request: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO ai_requests (
			id, owner_id, session_id, request_type, status, admin_id,
			request_payload, generated_content, estimated_cost, actual_cost,
			retry_count, processing_duration_ms, error_message, expires_at,
			created_at, assigned_at, started_at, completed_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`,
		request.ID,
		request.OwnerID,
		request.SessionID,
		string(request.RequestType),
		string(request.Status),
		request.AdminID,
		request.RequestPayload,
		request.GeneratedContent,
		request.EstimatedCost,
		request.ActualCost,
		request.RetryCount,
		request.ProcessingDurationMs,
		request.ErrorMessage,
		request.ExpiresAt,
		request.CreatedAt,
		request.AssignedAt,
		request.StartedAt,
		request.CompletedAt,
		request.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ai_request_history (request_id, previous_status, new_status, changed_by, reason, created_at)
		VALUES ($1, '', $2, $3, 'request created', $4)
	`, request.ID, string(request.Status), request.OwnerID, request.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert creation history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create request: %w", err)
	}
	return nil
}

func (r *PostgresRequestsRepository) GetRequest(ctx context.Context, requestID string) (*domain.AiRequest, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM ai_requests WHERE id = $1`, requestID)
	return scanRequest(row)
}

func (r *PostgresRequestsRepository) ClaimRequest(
	ctx context.Context,
	requestID, adminID string,
	now time.Time,
) (*domain.AiRequest, error) {
	return r.transition(ctx, requestID, adminID, "", now,
		func(request *domain.AiRequest) error {
			if request.Status != domain.RequestStatusPending {
				return &domain.ConflictError{
					Status:  request.Status,
					AdminID: request.AdminID,
					Reason:  "request is not pending",
				}
			}
			return nil
		},
		func(request *domain.AiRequest) {
			request.Status = domain.RequestStatusAssigned
			request.AdminID = adminID
			assignedAt := now
			request.AssignedAt = &assignedAt
		},
	)
}

func (r *PostgresRequestsRepository) BeginRequest(
	ctx context.Context,
	requestID, adminID string,
	now time.Time,
) (*domain.AiRequest, error) {
	return r.transition(ctx, requestID, adminID, "", now,
		func(request *domain.AiRequest) error {
			if request.Status != domain.RequestStatusAssigned || request.AdminID != adminID {
				return &domain.ConflictError{
					Status:  request.Status,
					AdminID: request.AdminID,
					Reason:  "request is not assigned to caller",
				}
			}
			return nil
		},
		func(request *domain.AiRequest) {
			request.Status = domain.RequestStatusProcessing
			startedAt := now
			request.StartedAt = &startedAt
		},
	)
}

func (r *PostgresRequestsRepository) CompleteRequest(
	ctx context.Context,
	requestID, adminID string,
	content json.RawMessage,
	actualCost float64,
	now time.Time,
) (*domain.AiRequest, error) {
	return r.transition(ctx, requestID, adminID, "", now,
		func(request *domain.AiRequest) error {
			if request.Status != domain.RequestStatusProcessing || request.AdminID != adminID {
				return &domain.ConflictError{
					Status:  request.Status,
					AdminID: request.AdminID,
					Reason:  "request is not processing under caller",
				}
			}
			return nil
		},
		func(request *domain.AiRequest) {
			request.Status = domain.RequestStatusCompleted
			request.AdminID = ""
			request.GeneratedContent = append(json.RawMessage(nil), content...)
			request.ActualCost = actualCost
			if request.StartedAt != nil {
				request.ProcessingDurationMs = now.Sub(*request.StartedAt).Milliseconds()
			}
			completedAt := now
			request.CompletedAt = &completedAt
		},
	)
}

func (r *PostgresRequestsRepository) ReleaseRequest(
	ctx context.Context,
	requestID, adminID, actor, reason string,
	now time.Time,
) (*domain.AiRequest, error) {
	return r.transition(ctx, requestID, actor, reason, now,
		func(request *domain.AiRequest) error {
			held := request.Status == domain.RequestStatusAssigned ||
				request.Status == domain.RequestStatusProcessing
			if !held || (adminID != "" && request.AdminID != adminID) {
				return &domain.ConflictError{
					Status:  request.Status,
					AdminID: request.AdminID,
					Reason:  "request is not claimed by caller",
				}
			}
			return nil
		},
		func(request *domain.AiRequest) {
			request.Status = domain.RequestStatusPending
			request.AdminID = ""
			request.AssignedAt = nil
			request.StartedAt = nil
			request.RetryCount++
		},
	)
}

func (r *PostgresRequestsRepository) TerminateRequest(
	ctx context.Context,
	requestID string,
	to domain.RequestStatus,
	expectFrom []domain.RequestStatus,
	actor, reason string,
	now time.Time,
) (*domain.AiRequest, error) {
	return r.transition(ctx, requestID, actor, reason, now,
		func(request *domain.AiRequest) error {
			for _, from := range expectFrom {
				if request.Status == from {
					return nil
				}
			}
			if !domain.CanTransition(request.Status, to) {
				return &domain.InvalidTransitionError{From: request.Status, To: to}
			}
			return &domain.ConflictError{
				Status:  request.Status,
				AdminID: request.AdminID,
				Reason:  "request state changed since it was read",
			}
		},
		func(request *domain.AiRequest) {
			request.Status = to
			// Terminal rows carry no assignee; the actor stays in history.
			request.AdminID = ""
			if to == domain.RequestStatusFailed {
				request.ErrorMessage = reason
			}
		},
	)
}

// transition runs check+apply inside a transaction holding the row lock, then
// writes the updated row and its history entry together. The row lock is what
// serializes concurrent writers per request.
func (r *PostgresRequestsRepository) transition(
	ctx context.Context,
	requestID, actor, reason string,
	now time.Time,
	check func(*domain.AiRequest) error,
	apply func(*domain.AiRequest),
) (*domain.AiRequest, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM ai_requests WHERE id = $1 FOR UPDATE`, requestID)
	request, err := scanRequest(row)
	if err != nil {
		return nil, err
	}

	if err := check(request); err != nil {
		return nil, err
	}

	previous := request.Status
	apply(request)
	request.UpdatedAt = now

	_, err = tx.Exec(ctx, `
		UPDATE ai_requests
		SET status = $2,
			admin_id = $3,
			generated_content = $4,
			actual_cost = $5,
			retry_count = $6,
			processing_duration_ms = $7,
			error_message = $8,
			assigned_at = $9,
			started_at = $10,
			completed_at = $11,
			updated_at = $12
		WHERE id = $1
	`,
		request.ID,
		string(request.Status),
		request.AdminID,
		request.GeneratedContent,
		request.ActualCost,
		request.RetryCount,
		request.ProcessingDurationMs,
		request.ErrorMessage,
		request.AssignedAt,
		request.StartedAt,
		request.CompletedAt,
		request.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update request: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ai_request_history (request_id, previous_status, new_status, changed_by, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, request.ID, string(previous), string(request.Status), actor, reason, now)
	if err != nil {
		return nil, fmt.Errorf("insert history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return request, nil
}

func (r *PostgresRequestsRepository) ListRequests(
	ctx context.Context,
	filter domain.RequestListFilter,
) ([]*domain.AiRequest, int, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	baseQuery, args := buildRequestFilters(filter)

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) "+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}

	listQuery := fmt.Sprintf(
		`SELECT %s %s ORDER BY created_at ASC LIMIT $%d OFFSET $%d`,
		requestColumns,
		baseQuery,
		len(args)+1,
		len(args)+2,
	)
	listArgs := append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	rows, err := r.pool.Query(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	requests := make([]*domain.AiRequest, 0)
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan request: %w", err)
		}
		requests = append(requests, request)
	}
	if rows.Err() != nil {
		return nil, 0, fmt.Errorf("iterate requests: %w", rows.Err())
	}
	return requests, total, nil
}

func (r *PostgresRequestsRepository) ListHistory(
	ctx context.Context,
	requestID string,
) ([]domain.RequestHistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT request_id, previous_status, new_status, changed_by, reason, created_at
		FROM ai_request_history
		WHERE request_id = $1
		ORDER BY id ASC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.RequestHistoryEntry, 0)
	for rows.Next() {
		var (
			entry    domain.RequestHistoryEntry
			previous string
			current  string
		)
		if err := rows.Scan(&entry.RequestID, &previous, &current, &entry.ChangedBy, &entry.Reason, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entry.PreviousStatus = domain.RequestStatus(previous)
		entry.NewStatus = domain.RequestStatus(current)
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate history: %w", rows.Err())
	}
	return entries, nil
}

func (r *PostgresRequestsRepository) AppendAdminActivity(
	ctx context.Context,
	entry domain.AdminActivityEntry,
) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO admin_activity_log (admin_id, action, target_type, target_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.AdminID, entry.Action, entry.TargetType, entry.TargetID, entry.Details, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("insert admin activity: %w", err)
	}
	return nil
}

func (r *PostgresRequestsRepository) ListAdminActivity(
	ctx context.Context,
	adminID string,
	page, pageSize int,
) ([]domain.AdminActivityEntry, int, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	where := ""
	args := make([]any, 0, 3)
	if adminID != "" {
		where = " WHERE admin_id = $1"
		args = append(args, adminID)
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM admin_activity_log"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count admin activity: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT admin_id, action, target_type, target_id, details, created_at
		FROM admin_activity_log%s ORDER BY id ASC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2,
	)
	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list admin activity: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.AdminActivityEntry, 0)
	for rows.Next() {
		var entry domain.AdminActivityEntry
		if err := rows.Scan(&entry.AdminID, &entry.Action, &entry.TargetType, &entry.TargetID, &entry.Details, &entry.Timestamp); err != nil {
			return nil, 0, fmt.Errorf("scan admin activity: %w", err)
		}
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, 0, fmt.Errorf("iterate admin activity: %w", rows.Err())
	}
	return entries, total, nil
}

func (r *PostgresRequestsRepository) ListExpiredPending(
	ctx context.Context,
	now time.Time,
	limit int,
) ([]*domain.AiRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+requestColumns+` FROM ai_requests
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired pending: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (r *PostgresRequestsRepository) ListStaleClaims(
	ctx context.Context,
	cutoff time.Time,
	limit int,
) ([]*domain.AiRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+requestColumns+` FROM ai_requests
		WHERE status IN ('assigned', 'processing') AND assigned_at IS NOT NULL AND assigned_at <= $1
		ORDER BY assigned_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale claims: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

func collectRequests(rows pgx.Rows) ([]*domain.AiRequest, error) {
	requests := make([]*domain.AiRequest, 0)
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		requests = append(requests, request)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate requests: %w", rows.Err())
	}
	return requests, nil
}

func scanRequest(row pgx.Row) (*domain.AiRequest, error) {
	var (
		request     domain.AiRequest
		requestType string
		status      string
		payload     []byte
		generated   []byte
	)
	err := row.Scan(
		&request.ID,
		&request.OwnerID,
		&request.SessionID,
		&requestType,
		&status,
		&request.AdminID,
		&payload,
		&generated,
		&request.EstimatedCost,
		&request.ActualCost,
		&request.RetryCount,
		&request.ProcessingDurationMs,
		&request.ErrorMessage,
		&request.ExpiresAt,
		&request.CreatedAt,
		&request.AssignedAt,
		&request.StartedAt,
		&request.CompletedAt,
		&request.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	request.RequestType = domain.RequestType(requestType)
	request.Status = domain.RequestStatus(status)
	request.RequestPayload = json.RawMessage(payload)
	request.GeneratedContent = json.RawMessage(generated)
	return &request, nil
}

func buildRequestFilters(filter domain.RequestListFilter) (string, []any) {
	query := strings.Builder{}
	query.WriteString("FROM ai_requests WHERE 1=1")

	args := make([]any, 0, 4)
	argIndex := 1

	if filter.Status != "" {
		query.WriteString(fmt.Sprintf(" AND status = $%d", argIndex))
		args = append(args, string(filter.Status))
		argIndex++
	}
	if filter.Type != "" {
		query.WriteString(fmt.Sprintf(" AND request_type = $%d", argIndex))
		args = append(args, string(filter.Type))
		argIndex++
	}
	if filter.AdminID != "" {
		query.WriteString(fmt.Sprintf(" AND admin_id = $%d", argIndex))
		args = append(args, filter.AdminID)
		argIndex++
	}
	if filter.OwnerID != "" {
		query.WriteString(fmt.Sprintf(" AND owner_id = $%d", argIndex))
		args = append(args, filter.OwnerID)
		argIndex++
	}

	return query.String(), args
}

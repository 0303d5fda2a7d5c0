package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/craftpage/wizard-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

const sessionColumns = `id, owner_id, COALESCE(site_name, ''), current_step, draft_data, status, created_at, updated_at`

type PostgresSessionsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresSessionsRepository(ctx context.Context, databaseURL string) (*PostgresSessionsRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresSessionsRepository{pool: pool}, nil
}

// NewPostgresSessionsRepositoryFromPool shares an existing pool, so the API
// process opens a single pool for both repositories.
func NewPostgresSessionsRepositoryFromPool(pool *pgxpool.Pool) *PostgresSessionsRepository {
	return &PostgresSessionsRepository{pool: pool}
}

func (r *PostgresSessionsRepository) Close() {
	r.pool.Close()
}

// EnsureSchema creates the session tables when they do not exist yet. The
// partial unique index is what makes duplicate-name races lose at insert time
// instead of overwriting.
func (r *PostgresSessionsRepository) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS wizard_sessions (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			site_name TEXT,
			current_step INT NOT NULL DEFAULT 0,
			draft_data JSONB NOT NULL DEFAULT '{}'::jsonb,
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS wizard_sessions_active_site_name
			ON wizard_sessions (site_name)
			WHERE status = 'active' AND site_name IS NOT NULL AND site_name <> ''`,
		`CREATE INDEX IF NOT EXISTS wizard_sessions_owner
			ON wizard_sessions (owner_id)`,
		`CREATE TABLE IF NOT EXISTS provisioned_sites (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			site_name TEXT NOT NULL UNIQUE,
			provisioned_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, statement := range statements {
		if _, err := r.pool.Exec(ctx, statement); err != nil {
			return fmt.Errorf("ensure sessions schema: %w", err)
		}
	}
	return nil
}

func (r *PostgresSessionsRepository) CreateSession(ctx context.Context, session *domain.WizardSession) error {
	draft, err := encodeDraft(session.DraftData)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO wizard_sessions (id, owner_id, site_name, current_step, draft_data, status, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
	`,
		session.ID,
		session.OwnerID,
		session.SiteName,
		session.CurrentStep,
		draft,
		string(session.Status),
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrNameTaken
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *PostgresSessionsRepository) GetSession(ctx context.Context, sessionID string) (*domain.WizardSession, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM wizard_sessions WHERE id = $1`, sessionID)
	return scanSession(row)
}

func (r *PostgresSessionsRepository) SaveDraft(
	ctx context.Context,
	sessionID string,
	step int,
	mode domain.SaveMode,
	fragment domain.DraftData,
) (*domain.WizardSession, error) {
	draft, err := encodeDraft(fragment)
	if err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE wizard_sessions
		SET draft_data = draft_data || $2::jsonb,
			current_step = CASE WHEN $3 THEN $4 ELSE GREATEST(current_step, $4) END,
			updated_at = $5
		WHERE id = $1 AND status = 'active'
		RETURNING `+sessionColumns,
		sessionID,
		draft,
		mode == domain.SaveModeResumeTo,
		step,
		time.Now().UTC(),
	)
	return scanSession(row)
}

func (r *PostgresSessionsRepository) MergeDraft(
	ctx context.Context,
	sessionID string,
	fragment domain.DraftData,
) (*domain.WizardSession, error) {
	draft, err := encodeDraft(fragment)
	if err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE wizard_sessions
		SET draft_data = draft_data || $2::jsonb,
			updated_at = $3
		WHERE id = $1 AND status = 'active'
		RETURNING `+sessionColumns,
		sessionID,
		draft,
		time.Now().UTC(),
	)
	return scanSession(row)
}

func (r *PostgresSessionsRepository) SetSiteName(
	ctx context.Context,
	sessionID, name string,
) (*domain.WizardSession, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin set site name: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var reserved bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM provisioned_sites WHERE site_name = $1)`, name,
	).Scan(&reserved)
	if err != nil {
		return nil, fmt.Errorf("check provisioned name: %w", err)
	}
	if reserved {
		return nil, ErrNameTaken
	}

	row := tx.QueryRow(ctx, `
		UPDATE wizard_sessions
		SET site_name = $2, updated_at = $3
		WHERE id = $1 AND status = 'active'
		RETURNING `+sessionColumns,
		sessionID, name, time.Now().UTC(),
	)
	session, err := scanSession(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrNameTaken
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrNameTaken
		}
		return nil, fmt.Errorf("commit set site name: %w", err)
	}
	return session, nil
}

func (r *PostgresSessionsRepository) MarkDeleted(ctx context.Context, sessionID string) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE wizard_sessions SET status = 'deleted', updated_at = $2 WHERE id = $1
	`, sessionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark session deleted: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresSessionsRepository) Provision(
	ctx context.Context,
	sessionID string,
	site *domain.ProvisionedSite,
) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin provision: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	command, err := tx.Exec(ctx, `
		UPDATE wizard_sessions SET status = 'provisioned', updated_at = $2
		WHERE id = $1 AND status = 'active'
	`, sessionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("retire session: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO provisioned_sites (id, owner_id, session_id, site_name, provisioned_at)
		VALUES ($1, $2, $3, $4, $5)
	`, site.ID, site.OwnerID, site.SessionID, site.SiteName, site.ProvisionedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrNameTaken
		}
		return fmt.Errorf("insert provisioned site: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit provision: %w", err)
	}
	return nil
}

func (r *PostgresSessionsRepository) SiteNameVariants(ctx context.Context, base string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT site_name FROM wizard_sessions
		WHERE status = 'active' AND (site_name = $1 OR site_name LIKE $2)
		UNION
		SELECT site_name FROM provisioned_sites
		WHERE site_name = $1 OR site_name LIKE $2
		ORDER BY 1
	`, base, base+"-%")
	if err != nil {
		return nil, fmt.Errorf("query site name variants: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan site name: %w", err)
		}
		names = append(names, name)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate site names: %w", rows.Err())
	}
	return names, nil
}

func scanSession(row pgx.Row) (*domain.WizardSession, error) {
	var (
		session domain.WizardSession
		status  string
		draft   []byte
	)
	err := row.Scan(
		&session.ID,
		&session.OwnerID,
		&session.SiteName,
		&session.CurrentStep,
		&draft,
		&status,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	session.Status = domain.SessionStatus(status)
	if len(draft) > 0 {
		if err := json.Unmarshal(draft, &session.DraftData); err != nil {
			return nil, fmt.Errorf("decode draft data: %w", err)
		}
	}
	if session.DraftData == nil {
		session.DraftData = domain.DraftData{}
	}
	return &session, nil
}

func encodeDraft(draft domain.DraftData) ([]byte, error) {
	if draft == nil {
		draft = domain.DraftData{}
	}
	encoded, err := json.Marshal(draft)
	if err != nil {
		return nil, fmt.Errorf("encode draft data: %w", err)
	}
	return encoded, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"refaccess/internal/access/models"
	id "refaccess/pkg/domain"
	"refaccess/pkg/platform/sentinel"
)

const requestColumns = `id, requester_id, target_user_id, data_type, reason, status,
		price_amount, currency, payment_status, created_at, expires_at,
		consent_given_at, paid_at, decided_at, rejection_reason,
		data_accessed, data_accessed_at, access_count`

// PostgresStore persists access requests in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

// NewPostgres constructs a PostgreSQL-backed request store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresTx constructs a request store bound to an open transaction.
func NewPostgresTx(tx *sql.Tx) *PostgresStore {
	return &PostgresStore{tx: tx}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer() dbExecutor {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, req *models.Request) error {
	if req == nil {
		return fmt.Errorf("access request is required")
	}
	query := `
		INSERT INTO access_requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := s.execer().ExecContext(ctx, query,
		uuid.UUID(req.ID),
		uuid.UUID(req.RequesterID),
		uuid.UUID(req.TargetUserID),
		string(req.DataType),
		req.Reason,
		string(req.Status),
		req.PriceAmount,
		req.Currency,
		string(req.PaymentStatus),
		req.CreatedAt,
		req.ExpiresAt,
		req.ConsentGivenAt,
		req.PaidAt,
		req.DecidedAt,
		req.RejectionReason,
		req.DataAccessed,
		req.DataAccessedAt,
		req.AccessCount,
	)
	if err != nil {
		return fmt.Errorf("insert access request: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert access request rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM access_requests WHERE id = $1`
	req, err := scanRequest(s.execer().QueryRowContext(ctx, query, uuid.UUID(requestID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find access request: %w", err)
	}
	return req, nil
}

// Execute atomically validates and mutates a request under a row lock.
func (s *PostgresStore) Execute(ctx context.Context, requestID id.RequestID, validate func(*models.Request) error, mutate func(*models.Request)) (*models.Request, error) {
	if s.tx != nil {
		return s.executeWithTx(ctx, s.tx, requestID, validate, mutate)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin access request execute tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	req, err := s.executeWithTx(ctx, tx, requestID, validate, mutate)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit access request execute: %w", err)
	}
	return req, nil
}

func (s *PostgresStore) executeWithTx(ctx context.Context, tx *sql.Tx, requestID id.RequestID, validate func(*models.Request) error, mutate func(*models.Request)) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM access_requests WHERE id = $1 FOR UPDATE`
	req, err := scanRequest(tx.QueryRowContext(ctx, query, uuid.UUID(requestID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find access request for execute: %w", err)
	}

	if err := validate(req); err != nil {
		return nil, err
	}

	mutate(req)
	if err := updateRequest(ctx, tx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// ExpirePending expires up to limit overdue pending requests in one
// statement. Rows locked by an in-flight transition are skipped and picked up
// by the next sweep.
func (s *PostgresStore) ExpirePending(ctx context.Context, now time.Time, limit int) ([]*models.Request, error) {
	query := `
		UPDATE access_requests
		SET status = 'expired', decided_at = $1
		WHERE id IN (
			SELECT id FROM access_requests
			WHERE status = 'pending' AND expires_at < $1
			ORDER BY expires_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + requestColumns
	rows, err := s.execer().QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("expire pending access requests: %w", err)
	}
	defer rows.Close()

	var expired []*models.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired access request: %w", err)
		}
		expired = append(expired, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired access requests: %w", err)
	}
	return expired, nil
}

func updateRequest(ctx context.Context, exec dbExecutor, req *models.Request) error {
	query := `
		UPDATE access_requests
		SET status = $2, payment_status = $3, consent_given_at = $4, paid_at = $5,
			decided_at = $6, rejection_reason = $7, data_accessed = $8,
			data_accessed_at = $9, access_count = $10
		WHERE id = $1
	`
	res, err := exec.ExecContext(ctx, query,
		uuid.UUID(req.ID),
		string(req.Status),
		string(req.PaymentStatus),
		req.ConsentGivenAt,
		req.PaidAt,
		req.DecidedAt,
		req.RejectionReason,
		req.DataAccessed,
		req.DataAccessedAt,
		req.AccessCount,
	)
	if err != nil {
		return fmt.Errorf("update access request: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update access request rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.Request, error) {
	var (
		req                          models.Request
		requestID, requester, target uuid.UUID
		dataType, status, payment    string
	)
	err := row.Scan(
		&requestID,
		&requester,
		&target,
		&dataType,
		&req.Reason,
		&status,
		&req.PriceAmount,
		&req.Currency,
		&payment,
		&req.CreatedAt,
		&req.ExpiresAt,
		&req.ConsentGivenAt,
		&req.PaidAt,
		&req.DecidedAt,
		&req.RejectionReason,
		&req.DataAccessed,
		&req.DataAccessedAt,
		&req.AccessCount,
	)
	if err != nil {
		return nil, err
	}
	req.ID = id.RequestID(requestID)
	req.RequesterID = id.OrgID(requester)
	req.TargetUserID = id.SubjectID(target)
	req.DataType = models.DataType(dataType)
	req.Status = models.Status(status)
	req.PaymentStatus = models.PaymentStatus(payment)
	return &req, nil
}

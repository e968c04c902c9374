package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"settlement-service/internal/payment"
)

var ErrNotFound = errors.New("payment not found")

// StatusUpdate carries the optional fields written together with a status.
type StatusUpdate struct {
	FailureReason *string
	PaidAt        *time.Time
}

type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) Create(ctx context.Context, entity *PaymentEntity) (*PaymentEntity, error) {
	query := `INSERT INTO payment (id, order_ref, status, amount, user_id, listing_id, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING id`
	now := time.Now()
	entity.CreatedAt = now
	entity.UpdatedAt = now
	err := r.pool.QueryRow(ctx, query, entity.ID, entity.OrderRef, entity.Status, entity.Amount,
		entity.UserID, entity.ListingID, now).Scan(&entity.ID)
	if err != nil {
		return nil, errors.Wrap(err, "inserting payment")
	}
	return entity, nil
}

const selectColumns = `id, order_ref, status, amount, user_id, listing_id, failure_reason, created_at, updated_at, paid_at`

func (r *PaymentRepository) SelectByOrderRef(ctx context.Context, orderRef string) (*PaymentEntity, error) {
	query := `SELECT ` + selectColumns + ` FROM payment WHERE order_ref = $1`
	return scanPayment(r.pool.QueryRow(ctx, query, orderRef))
}

func (r *PaymentRepository) SelectByID(ctx context.Context, id uuid.UUID) (*PaymentEntity, error) {
	query := `SELECT ` + selectColumns + ` FROM payment WHERE id = $1`
	return scanPayment(r.pool.QueryRow(ctx, query, id))
}

// UpdateStatus applies a status transition under a row lock. Transitions
// that would regress a terminal status or move backwards are skipped and the
// current row is returned unchanged, so concurrent writers cannot corrupt a
// settled payment.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, orderRef string, status payment.Status, update StatusUpdate) (*PaymentEntity, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "starting transaction")
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + selectColumns + ` FROM payment WHERE order_ref = $1 FOR UPDATE`
	current, err := scanPayment(tx.QueryRow(ctx, query, orderRef))
	if err != nil {
		return nil, err
	}

	if !payment.CanTransition(current.Status, status) {
		return current, nil
	}

	now := time.Now()
	updateQuery := `UPDATE payment SET status = $1, failure_reason = $2, paid_at = COALESCE($3, paid_at), updated_at = $4
	                WHERE order_ref = $5`
	_, err = tx.Exec(ctx, updateQuery, status, update.FailureReason, update.PaidAt, now, orderRef)
	if err != nil {
		return nil, errors.Wrap(err, "updating payment status")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "committing status update")
	}

	current.Status = status
	current.FailureReason = update.FailureReason
	current.UpdatedAt = now
	if update.PaidAt != nil {
		current.PaidAt = update.PaidAt
	}
	return current, nil
}

func scanPayment(row pgx.Row) (*PaymentEntity, error) {
	var entity PaymentEntity
	err := row.Scan(&entity.ID, &entity.OrderRef, &entity.Status, &entity.Amount, &entity.UserID,
		&entity.ListingID, &entity.FailureReason, &entity.CreatedAt, &entity.UpdatedAt, &entity.PaidAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scanning payment")
	}
	return &entity, nil
}

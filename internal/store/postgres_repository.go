/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains the SQL queries for the `payment_acceptances` table, which holds
 * the append-only record of accepted payment verifications keyed uniquely by
 * transaction signature.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SimpleFlex/boost-era-payments/internal/domain"
)

var (
	ErrAcceptanceNotFound = errors.New("payment acceptance not found")
	ErrDuplicateSignature = errors.New("signature already recorded")
)

// uniqueViolation is the PostgreSQL error code for a unique constraint breach.
const uniqueViolation = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindAcceptanceBySignature retrieves an acceptance record by its signature.
func (r *PostgresRepository) FindAcceptanceBySignature(ctx context.Context, signature string) (*domain.PaymentAcceptance, error) {
	var acceptance domain.PaymentAcceptance
	var planID string
	query := `
		SELECT signature, payer, plan_id, token_address, paid_lamports, required_lamports, created_at
		FROM payment_acceptances
		WHERE signature = $1
	`
	var paid, required int64
	err := r.db.QueryRow(ctx, query, signature).Scan(
		&acceptance.Signature,
		&acceptance.Payer,
		&planID,
		&acceptance.TokenAddress,
		&paid,
		&required,
		&acceptance.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAcceptanceNotFound
		}
		return nil, err
	}
	acceptance.PlanID = domain.PlanID(planID)
	acceptance.PaidLamports = uint64(paid)
	acceptance.RequiredLamports = uint64(required)
	return &acceptance, nil
}

// CreateAcceptance inserts a new acceptance record. The unique index on
// signature makes concurrent verifications of the same signature race-safe:
// exactly one insert wins, the rest see ErrDuplicateSignature.
func (r *PostgresRepository) CreateAcceptance(ctx context.Context, acceptance *domain.PaymentAcceptance) error {
	if acceptance.CreatedAt.IsZero() {
		acceptance.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO payment_acceptances (signature, payer, plan_id, token_address, paid_lamports, required_lamports, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		acceptance.Signature,
		acceptance.Payer,
		string(acceptance.PlanID),
		acceptance.TokenAddress,
		int64(acceptance.PaidLamports),
		int64(acceptance.RequiredLamports),
		acceptance.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSignature
		}
		return err
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

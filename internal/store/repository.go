/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for
 * the data access operations required by the payment service. By defining an
 * interface, we decouple the verification logic from the specific database
 * implementation (PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context: Standard Go library.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/SimpleFlex/boost-era-payments/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
//
// The acceptance store is append-only: records are created once when a payment
// verification is accepted and never updated or deleted. The unique signature
// key is what prevents a confirmed transaction from being redeemed twice.
type Repository interface {
	// FindAcceptanceBySignature returns the acceptance record for a signature,
	// or ErrAcceptanceNotFound when the signature has never been accepted.
	FindAcceptanceBySignature(ctx context.Context, signature string) (*domain.PaymentAcceptance, error)

	// CreateAcceptance inserts a new acceptance record. Returns
	// ErrDuplicateSignature when the signature was already recorded, which
	// callers must treat as a replay, not as a fresh acceptance.
	CreateAcceptance(ctx context.Context, acceptance *domain.PaymentAcceptance) error
}

/**
 * @description
 * This file defines the payment-flow domain models for the service: the API
 * request DTOs for the two payment endpoints, the persisted acceptance record
 * used for replay protection, and the Solana address format check shared by the
 * API and service layers.
 *
 * @notes
 * - A payment intent (payer, plan, token address) is ephemeral: it exists for a
 *   single build call and is never stored. Only accepted verifications are
 *   persisted, keyed uniquely by transaction signature.
 */

package domain

import (
	"regexp"
	"strings"
	"time"
)

// BuildPaymentRequest is the DTO for POST /build-payment-transaction.
// The token address is carried through for display and audit only; it is
// never placed into the transaction.
type BuildPaymentRequest struct {
	Payer        string `json:"payer" validate:"required,solana_address"`
	TokenAddress string `json:"tokenAddress" validate:"required,solana_address"`
	Plan         string `json:"plan" validate:"required"`
}

// VerifyPaymentRequest is the DTO for POST /verify-payment.
type VerifyPaymentRequest struct {
	Signature string `json:"signature" validate:"required"`
	Payer     string `json:"payer" validate:"required,solana_address"`
	Plan      string `json:"plan" validate:"required"`
}

// PaymentAcceptance is the append-only record of an accepted payment
// verification. The signature is the unique key: a signature that has been
// accepted once can never be redeemed again.
type PaymentAcceptance struct {
	Signature        string    `json:"signature"`
	Payer            string    `json:"payer"`
	PlanID           PlanID    `json:"plan"`
	TokenAddress     string    `json:"token_address,omitempty"`
	PaidLamports     uint64    `json:"paid_lamports"`
	RequiredLamports uint64    `json:"required_lamports"`
	CreatedAt        time.Time `json:"created_at"`
}

// Base58 alphabet used by Solana addresses; excludes 0, O, I and l.
var base58Pattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)

// IsValidSolanaAddress reports whether s looks like a well-formed base58
// Solana address: 32 to 44 characters from the base58 alphabet. Surrounding
// whitespace is ignored.
func IsValidSolanaAddress(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 32 || len(s) > 44 {
		return false
	}
	return base58Pattern.MatchString(s)
}

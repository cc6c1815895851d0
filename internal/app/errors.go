package app

import (
	"errors"
	"fmt"
)

// Sentinel errors for caller-attributable failures. Handlers map these to
// HTTP statuses; anything else is treated as a server-side failure.
var (
	ErrInvalidPayer             = errors.New("invalid payer address")
	ErrInvalidTokenAddress      = errors.New("invalid token address")
	ErrUnknownPlan              = errors.New("unknown plan")
	ErrMissingSignature         = errors.New("missing signature")
	ErrInvalidSignature         = errors.New("invalid signature")
	ErrSignatureAlreadyRedeemed = errors.New("signature already redeemed")
)

// UnderpaidError reports a payment whose qualifying transfers summed below the
// plan's required amount. Both values are carried so the caller can display
// the shortfall.
type UnderpaidError struct {
	PaidLamports     uint64
	RequiredLamports uint64
}

func (e *UnderpaidError) Error() string {
	return fmt.Sprintf("Underpaid. Paid %d, need %d", e.PaidLamports, e.RequiredLamports)
}

// RateLimitedError reports that a payer exceeded the verify rate limit.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfterSeconds)
}

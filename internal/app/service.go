/**
 * @description
 * This file contains the core business logic for the payment service. The
 * `Service` struct orchestrates the two payment operations, coordinating
 * between the Solana RPC client, the acceptance repository, and the message
 * broker.
 *
 * Key features:
 * - Builds unsigned SOL transfer transactions (payer -> merchant) for a plan's
 *   required lamports, anchored to a fresh blockhash.
 * - Verifies confirmed transactions by scanning parsed System-program transfer
 *   instructions, summing every transfer whose source is the payer and whose
 *   destination is the merchant.
 * - Records accepted signatures so a confirmed transfer can be redeemed once.
 * - Publishes an event to RabbitMQ for asynchronous fulfillment.
 *
 * @dependencies
 * - github.com/gagliardetto/solana-go: Transaction assembly and decoding.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq, pkg/solanaclient: For external service communication.
 */

package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SimpleFlex/boost-era-payments/internal/domain"
	"github.com/SimpleFlex/boost-era-payments/internal/metrics"
	"github.com/SimpleFlex/boost-era-payments/internal/store"
	"github.com/SimpleFlex/boost-era-payments/pkg/rabbitmq"
)

// ChainReader is the subset of Solana RPC reads the payment flow needs.
// pkg/solanaclient implements it; tests inject fakes.
type ChainReader interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	ConfirmedTransaction(ctx context.Context, sig solana.Signature) (*solana.Transaction, error)
}

// VerifyRateLimiter throttles verify calls per payer. A nil limiter disables
// throttling.
type VerifyRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// BuiltPayment is the result of the transaction builder.
type BuiltPayment struct {
	TransactionBase64 string
	AmountLamports    uint64
	AmountSOL         string
	MerchantAddress   string
	PlanID            domain.PlanID
	PlanLabel         string
	TokenAddress      string
}

// VerifiedPayment is the result of an accepted payment verification.
type VerifiedPayment struct {
	Signature        string
	PaidLamports     uint64
	RequiredLamports uint64
}

// Service provides the core business logic for payment building and verification.
type Service struct {
	chain         ChainReader
	repo          store.Repository
	eventProducer rabbitmq.Publisher
	eventExchange string
	recorder      metrics.Recorder
	logger        *zap.Logger
	merchant      solana.PublicKey
	limiter       VerifyRateLimiter
	verifyPerMin  int
}

// NewService creates a new payment service instance.
func NewService(
	chain ChainReader,
	repo store.Repository,
	producer rabbitmq.Publisher,
	eventExchange string,
	recorder metrics.Recorder,
	logger *zap.Logger,
	merchant solana.PublicKey,
) *Service {
	return &Service{
		chain:         chain,
		repo:          repo,
		eventProducer: producer,
		eventExchange: eventExchange,
		recorder:      recorder,
		logger:        logger,
		merchant:      merchant,
	}
}

// SetVerifyRateLimiter enables per-payer throttling of verify calls.
func (s *Service) SetVerifyRateLimiter(limiter VerifyRateLimiter, perMinute int) {
	s.limiter = limiter
	s.verifyPerMin = perMinute
}

// MerchantAddress returns the canonical merchant wallet address.
func (s *Service) MerchantAddress() string {
	return s.merchant.String()
}

// BuildPaymentTransaction constructs an unsigned SOL transfer of the plan's
// required lamports from the payer to the merchant wallet, anchored to the
// latest blockhash, and returns it base64-encoded for client-side signing.
//
// Validation order is part of the contract: payer, token address, plan.
func (s *Service) BuildPaymentTransaction(ctx context.Context, payer, planID, tokenAddress string) (*BuiltPayment, error) {
	payer = strings.TrimSpace(payer)
	tokenAddress = strings.TrimSpace(tokenAddress)

	if !domain.IsValidSolanaAddress(payer) {
		return nil, ErrInvalidPayer
	}
	payerKey, err := solana.PublicKeyFromBase58(payer)
	if err != nil {
		return nil, ErrInvalidPayer
	}
	if !domain.IsValidSolanaAddress(tokenAddress) {
		return nil, ErrInvalidTokenAddress
	}

	plan, ok := domain.PlanByID(domain.PlanID(planID))
	if !ok {
		return nil, ErrUnknownPlan
	}

	start := time.Now()
	blockhash, err := s.chain.LatestBlockhash(ctx)
	s.recorder.ObserveLatency("get_latest_blockhash", time.Since(start), nil)
	if err != nil {
		s.recorder.IncCounter("payment_build", map[string]string{"outcome": "rpc_error"})
		return nil, fmt.Errorf("fetch latest blockhash: %w", err)
	}

	transfer := system.NewTransferInstruction(plan.Lamports, payerKey, s.merchant).Build()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{transfer},
		blockhash,
		solana.TransactionPayer(payerKey),
	)
	if err != nil {
		s.recorder.IncCounter("payment_build", map[string]string{"outcome": "build_error"})
		return nil, fmt.Errorf("assemble transaction: %w", err)
	}

	// Placeholder slots for the signatures the wallet will fill in client-side;
	// the transaction leaves here unsigned.
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)

	raw, err := tx.MarshalBinary()
	if err != nil {
		s.recorder.IncCounter("payment_build", map[string]string{"outcome": "build_error"})
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}

	s.recorder.IncCounter("payment_build", map[string]string{"outcome": "ok"})
	s.logger.Info("payment transaction built",
		zap.String("payer", payerKey.String()),
		zap.String("plan", string(plan.ID)),
		zap.Uint64("lamports", plan.Lamports),
	)

	return &BuiltPayment{
		TransactionBase64: base64.StdEncoding.EncodeToString(raw),
		AmountLamports:    plan.Lamports,
		AmountSOL:         plan.SOLAmount(),
		MerchantAddress:   s.merchant.String(),
		PlanID:            plan.ID,
		PlanLabel:         plan.Label,
		TokenAddress:      tokenAddress,
	}, nil
}

// VerifyPayment checks that the confirmed transaction behind a signature pays
// the plan's required lamports from the payer to the merchant, records the
// acceptance, and publishes an event. A signature can be redeemed exactly once.
func (s *Service) VerifyPayment(ctx context.Context, signature, payer, planID string) (*VerifiedPayment, error) {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return nil, ErrMissingSignature
	}

	payerKey, err := solana.PublicKeyFromBase58(strings.TrimSpace(payer))
	if err != nil {
		return nil, ErrInvalidPayer
	}

	plan, ok := domain.PlanByID(domain.PlanID(planID))
	if !ok {
		return nil, ErrUnknownPlan
	}

	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, ErrInvalidSignature
	}

	if s.limiter != nil && s.verifyPerMin > 0 {
		count, retryAfter, limErr := s.limiter.ConsumeRateLimit(ctx, "verify_payment", payerKey.String(), s.verifyPerMin, time.Minute)
		if limErr != nil {
			// Throttling is protective, not load-bearing; a broken limiter
			// must not block payment verification.
			s.logger.Warn("verify rate limiter unavailable", zap.Error(limErr))
		} else if count > s.verifyPerMin {
			s.recorder.IncCounter("payment_verify", map[string]string{"outcome": "rate_limited"})
			return nil, &RateLimitedError{RetryAfterSeconds: retryAfter}
		}
	}

	// Replay guard: a signature that was already accepted cannot be redeemed
	// again, regardless of what is on chain.
	if _, err := s.repo.FindAcceptanceBySignature(ctx, signature); err == nil {
		s.recorder.IncCounter("payment_verify", map[string]string{"outcome": "replay"})
		return nil, ErrSignatureAlreadyRedeemed
	} else if !errors.Is(err, store.ErrAcceptanceNotFound) {
		return nil, fmt.Errorf("look up acceptance: %w", err)
	}

	start := time.Now()
	tx, err := s.chain.ConfirmedTransaction(ctx, sig)
	s.recorder.ObserveLatency("get_transaction", time.Since(start), nil)
	if err != nil {
		return nil, err
	}

	paid := sumQualifyingTransfers(tx, payerKey, s.merchant)
	if paid < plan.Lamports {
		s.recorder.IncCounter("payment_verify", map[string]string{"outcome": "underpaid"})
		return nil, &UnderpaidError{PaidLamports: paid, RequiredLamports: plan.Lamports}
	}

	acceptance := &domain.PaymentAcceptance{
		Signature:        signature,
		Payer:            payerKey.String(),
		PlanID:           plan.ID,
		PaidLamports:     paid,
		RequiredLamports: plan.Lamports,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.repo.CreateAcceptance(ctx, acceptance); err != nil {
		if errors.Is(err, store.ErrDuplicateSignature) {
			// A concurrent verification of the same signature won the insert.
			s.recorder.IncCounter("payment_verify", map[string]string{"outcome": "replay"})
			return nil, ErrSignatureAlreadyRedeemed
		}
		return nil, fmt.Errorf("record acceptance: %w", err)
	}

	event := rabbitmq.PaymentAcceptedEvent{
		EventID:          uuid.New(),
		Signature:        signature,
		Payer:            payerKey.String(),
		Plan:             string(plan.ID),
		PaidLamports:     paid,
		RequiredLamports: plan.Lamports,
		Timestamp:        acceptance.CreatedAt,
	}
	if err := s.eventProducer.PublishPaymentAccepted(ctx, s.eventExchange, event); err != nil {
		// The acceptance is already durable; fulfillment consumers can recover
		// from the store, so a publish failure is logged, not surfaced.
		s.logger.Warn("payment accepted event publish failed",
			zap.String("signature", signature), zap.Error(err))
	}

	s.recorder.IncCounter("payment_verify", map[string]string{"outcome": "ok"})
	s.logger.Info("payment verified",
		zap.String("signature", signature),
		zap.String("payer", payerKey.String()),
		zap.String("plan", string(plan.ID)),
		zap.Uint64("paid_lamports", paid),
		zap.Uint64("required_lamports", plan.Lamports),
	)

	return &VerifiedPayment{
		Signature:        signature,
		PaidLamports:     paid,
		RequiredLamports: plan.Lamports,
	}, nil
}

// sumQualifyingTransfers walks every instruction in the transaction message
// and sums the lamports of each System-program transfer whose source is the
// payer and whose destination is the merchant. Instructions that belong to
// other programs or fail to decode as a transfer are simply non-qualifying,
// never an error. A transaction may legitimately carry several qualifying
// transfers; all are credited.
func sumQualifyingTransfers(tx *solana.Transaction, payer, merchant solana.PublicKey) uint64 {
	var paid uint64

	for _, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
			continue
		}
		prog := tx.Message.AccountKeys[inst.ProgramIDIndex]
		if !prog.Equals(solana.SystemProgramID) {
			continue
		}

		// Rebuild account metas so the System-program decoder can resolve
		// the instruction's accounts.
		metas := make([]*solana.AccountMeta, 0, len(inst.Accounts))
		resolvable := true
		for _, accIdx := range inst.Accounts {
			if int(accIdx) >= len(tx.Message.AccountKeys) {
				resolvable = false
				break
			}
			pub := tx.Message.AccountKeys[accIdx]
			writable, err := tx.Message.IsWritable(pub)
			if err != nil {
				resolvable = false
				break
			}
			metas = append(metas, &solana.AccountMeta{
				PublicKey:  pub,
				IsSigner:   tx.Message.IsSigner(pub),
				IsWritable: writable,
			})
		}
		if !resolvable || len(metas) < 2 {
			continue
		}

		decoded, err := system.DecodeInstruction(metas, inst.Data)
		if err != nil {
			continue
		}
		transfer, ok := decoded.Impl.(*system.Transfer)
		if !ok || transfer.Lamports == nil {
			continue
		}

		// Qualifying iff source == payer AND destination == merchant, both in
		// canonical encoding. A transfer to the merchant from anyone else does
		// not count.
		if !metas[0].PublicKey.Equals(payer) || !metas[1].PublicKey.Equals(merchant) {
			continue
		}

		paid += *transfer.Lamports
	}

	return paid
}

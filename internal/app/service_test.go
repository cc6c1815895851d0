package app

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"go.uber.org/zap"

	"github.com/SimpleFlex/boost-era-payments/internal/domain"
	"github.com/SimpleFlex/boost-era-payments/internal/metrics"
	"github.com/SimpleFlex/boost-era-payments/internal/store"
	"github.com/SimpleFlex/boost-era-payments/pkg/rabbitmq"
	"github.com/SimpleFlex/boost-era-payments/pkg/solanaclient"
)

// A confirmed-looking signature for verify tests. The exact value is
// irrelevant as long as it decodes to 64 bytes of base58.
const testSignature = "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"

type fakeChain struct {
	blockhash    solana.Hash
	blockhashErr error
	tx           *solana.Transaction
	txErr        error
}

func (c *fakeChain) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return c.blockhash, c.blockhashErr
}

func (c *fakeChain) ConfirmedTransaction(ctx context.Context, sig solana.Signature) (*solana.Transaction, error) {
	if c.txErr != nil {
		return nil, c.txErr
	}
	return c.tx, nil
}

type fakeRepo struct {
	acceptances map[string]*domain.PaymentAcceptance
	createErr   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{acceptances: make(map[string]*domain.PaymentAcceptance)}
}

func (r *fakeRepo) FindAcceptanceBySignature(ctx context.Context, signature string) (*domain.PaymentAcceptance, error) {
	if acc, ok := r.acceptances[signature]; ok {
		return acc, nil
	}
	return nil, store.ErrAcceptanceNotFound
}

func (r *fakeRepo) CreateAcceptance(ctx context.Context, acceptance *domain.PaymentAcceptance) error {
	if r.createErr != nil {
		return r.createErr
	}
	if _, ok := r.acceptances[acceptance.Signature]; ok {
		return store.ErrDuplicateSignature
	}
	r.acceptances[acceptance.Signature] = acceptance
	return nil
}

type capturePublisher struct {
	exchange string
	events   []rabbitmq.PaymentAcceptedEvent
}

func (p *capturePublisher) PublishPaymentAccepted(ctx context.Context, exchange string, event rabbitmq.PaymentAcceptedEvent) error {
	p.exchange = exchange
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) Close() {}

type fakeLimiter struct {
	count      int
	retryAfter int
	err        error
}

func (l *fakeLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	return l.count, l.retryAfter, l.err
}

func newTestService(chain ChainReader, repo store.Repository, publisher rabbitmq.Publisher, merchant solana.PublicKey) *Service {
	return NewService(chain, repo, publisher, "boostera.events", metrics.NoopRecorder{}, zap.NewNop(), merchant)
}

type testTransfer struct {
	from     solana.PublicKey
	to       solana.PublicKey
	lamports uint64
}

func transferTx(t *testing.T, blockhash solana.Hash, payer solana.PublicKey, transfers []testTransfer) *solana.Transaction {
	t.Helper()
	instrs := make([]solana.Instruction, 0, len(transfers))
	for _, tr := range transfers {
		instrs = append(instrs, system.NewTransferInstruction(tr.lamports, tr.from, tr.to).Build())
	}
	tx, err := solana.NewTransaction(instrs, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		t.Fatalf("failed to assemble test transaction: %v", err)
	}
	return tx
}

func TestBuildPaymentTransactionEmbedsPlanTransfer(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	merchant := solana.NewWallet().PublicKey()
	token := solana.NewWallet().PublicKey()
	blockhash := solana.HashFromBytes([]byte("blockhash-for-build-test-32bytes"))

	chain := &fakeChain{blockhash: blockhash}
	svc := newTestService(chain, newFakeRepo(), &capturePublisher{}, merchant)

	built, err := svc.BuildPaymentTransaction(context.Background(), payer.String(), "growth", token.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if built.AmountLamports != 1_600_000_000 {
		t.Fatalf("expected amount=1600000000, got %d", built.AmountLamports)
	}
	if built.AmountSOL != "1.6" {
		t.Fatalf("expected amountSOL=%q, got %q", "1.6", built.AmountSOL)
	}
	if built.MerchantAddress != merchant.String() {
		t.Fatalf("expected merchant=%s, got %s", merchant.String(), built.MerchantAddress)
	}

	raw, err := base64.StdEncoding.DecodeString(built.TransactionBase64)
	if err != nil {
		t.Fatalf("transaction is not valid base64: %v", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		t.Fatalf("transaction does not decode: %v", err)
	}

	if tx.Message.RecentBlockhash != blockhash {
		t.Fatalf("expected blockhash=%s, got %s", blockhash, tx.Message.RecentBlockhash)
	}
	if len(tx.Signatures) != int(tx.Message.Header.NumRequiredSignatures) {
		t.Fatalf("expected %d signature slots, got %d", tx.Message.Header.NumRequiredSignatures, len(tx.Signatures))
	}
	for i, sig := range tx.Signatures {
		if !sig.IsZero() {
			t.Fatalf("expected signature slot %d to be empty, got %s", i, sig)
		}
	}
	if tx.Message.AccountKeys[0] != payer {
		t.Fatalf("expected fee payer=%s, got %s", payer, tx.Message.AccountKeys[0])
	}
	if got := sumQualifyingTransfers(tx, payer, merchant); got != 1_600_000_000 {
		t.Fatalf("expected transfer of 1600000000 lamports payer->merchant, got %d", got)
	}
}

func TestBuildPaymentTransactionFreshBlockhashPerCall(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	merchant := solana.NewWallet().PublicKey()
	token := solana.NewWallet().PublicKey()

	chain := &fakeChain{blockhash: solana.HashFromBytes([]byte("first-blockhash-aaaaaaaaaaaaaaaa"))}
	svc := newTestService(chain, newFakeRepo(), &capturePublisher{}, merchant)

	first, err := svc.BuildPaymentTransaction(context.Background(), payer.String(), "starter", token.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	chain.blockhash = solana.HashFromBytes([]byte("second-blockhash-bbbbbbbbbbbbbbb"))
	second, err := svc.BuildPaymentTransaction(context.Background(), payer.String(), "starter", token.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.TransactionBase64 == second.TransactionBase64 {
		t.Fatal("expected different serialized transactions for different blockhashes")
	}
	if first.AmountLamports != second.AmountLamports {
		t.Fatalf("expected identical amounts, got %d and %d", first.AmountLamports, second.AmountLamports)
	}
	if first.MerchantAddress != second.MerchantAddress {
		t.Fatalf("expected identical merchant, got %s and %s", first.MerchantAddress, second.MerchantAddress)
	}
}

func TestBuildPaymentTransactionValidation(t *testing.T) {
	payer := solana.NewWallet().PublicKey().String()
	token := solana.NewWallet().PublicKey().String()

	tests := []struct {
		name    string
		payer   string
		plan    string
		token   string
		wantErr error
	}{
		{name: "empty payer", payer: "", plan: "starter", token: token, wantErr: ErrInvalidPayer},
		{name: "short payer", payer: "abc", plan: "starter", token: token, wantErr: ErrInvalidPayer},
		{name: "payer with invalid characters", payer: "0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl", plan: "starter", token: token, wantErr: ErrInvalidPayer},
		{name: "empty token address", payer: payer, plan: "starter", token: "", wantErr: ErrInvalidTokenAddress},
		{name: "short token address", payer: payer, plan: "starter", token: "tok", wantErr: ErrInvalidTokenAddress},
		{name: "unknown plan", payer: payer, plan: "enterprise", token: token, wantErr: ErrUnknownPlan},
		{name: "empty plan", payer: payer, plan: "", token: token, wantErr: ErrUnknownPlan},
		{name: "payer checked before plan", payer: "bad", plan: "enterprise", token: token, wantErr: ErrInvalidPayer},
	}

	merchant := solana.NewWallet().PublicKey()
	chain := &fakeChain{blockhash: solana.HashFromBytes([]byte("validation-test-blockhash-32byte"))}
	svc := newTestService(chain, newFakeRepo(), &capturePublisher{}, merchant)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.BuildPaymentTransaction(context.Background(), tt.payer, tt.plan, tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestVerifyPaymentAccepted(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	merchant := solana.NewWallet().PublicKey()
	blockhash := solana.HashFromBytes([]byte("verify-accept-blockhash-32bytess"))

	repo := newFakeRepo()
	publisher := &capturePublisher{}
	chain := &fakeChain{
		tx: transferTx(t, blockhash, payer, []testTransfer{
			{from: payer, to: merchant, lamports: 1_000_000_000},
		}),
	}
	svc := newTestService(chain, repo, publisher, merchant)

	verified, err := svc.VerifyPayment(context.Background(), testSignature, payer.String(), "starter")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verified.PaidLamports != 1_000_000_000 {
		t.Fatalf("expected paid=1000000000, got %d", verified.PaidLamports)
	}
	if verified.RequiredLamports != 1_000_000_000 {
		t.Fatalf("expected required=1000000000, got %d", verified.RequiredLamports)
	}

	acc, ok := repo.acceptances[testSignature]
	if !ok {
		t.Fatal("expected acceptance to be recorded")
	}
	if acc.Payer != payer.String() || acc.PlanID != domain.PlanStarter {
		t.Fatalf("unexpected acceptance record: %+v", acc)
	}

	if len(publisher.events) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(publisher.events))
	}
	if publisher.exchange != "boostera.events" {
		t.Fatalf("expected exchange=boostera.events, got %s", publisher.exchange)
	}
	event := publisher.events[0]
	if event.Signature != testSignature || event.Plan != "starter" || event.PaidLamports != 1_000_000_000 {
		t.Fatalf("unexpected event payload: %+v", event)
	}
}

func TestVerifyPaymentOverpaymentAccepted(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	merchant := solana.NewWallet().PublicKey()
	blockhash := solana.HashFromBytes([]byte("verify-overpay-blockhash-32bytes"))

	chain := &fakeChain{
		tx: transferTx(t, blockhash, payer, []testTransfer{
			{from: payer, to: merchant, lamports: 150_000_000},
		}),
	}
	svc := newTestService(chain, newFakeRepo(), &capturePublisher{}, merchant)

	verified, err := svc.VerifyPayment(context.Background(), testSignature, payer.String(), "discovery")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verified.PaidLamports != 150_000_000 {
		t.Fatalf("expected paid=150000000, got %d", verified.PaidLamports)
	}
	if verified.RequiredLamports != 100_000_000 {
		t.Fatalf("expected required=100000000, got %d", verified.RequiredLamports)
	}
}

func TestVerifyPaymentUnderpaid(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	merchant := solana.NewWallet().PublicKey()
	blockhash := solana.HashFromBytes([]byte("verify-underpay-blockhash-32byte"))

	repo := newFakeRepo()
	chain := &fakeChain{
		tx: transferTx(t, blockhash, payer, []testTransfer{
			{from: payer, to: merchant, lamports: 999_999_999},
		}),
	}
	svc := newTestService(chain, repo, &capturePublisher{}, merchant)

	_, err := svc.VerifyPayment(context.Background(), testSignature, payer.String(), "starter")
	var underpaid *UnderpaidError
	if !errors.As(err, &underpaid) {
		t.Fatalf("expected UnderpaidError, got %v", err)
	}
	if underpaid.PaidLamports != 999_999_999 || underpaid.RequiredLamports != 1_000_000_000 {
		t.Fatalf("unexpected underpaid detail: %+v", underpaid)
	}
	if got, want := underpaid.Error(), "Underpaid. Paid 999999999, need 1000000000"; got != want {
		t.Fatalf("expected message %q, got %q", want, got)
	}
	if len(repo.acceptances) != 0 {
		t.Fatal("expected no acceptance to be recorded for an underpaid transaction")
	}
}

func TestVerifyPaymentAggregatesMultipleTransfers(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	merchant := solana.NewWallet().PublicKey()
	blockhash := solana.HashFromBytes([]byte("verify-multi-blockhash-32bytesss"))

	chain := &fakeChain{
		tx: transferTx(t, blockhash, payer, []testTransfer{
			{from: payer, to: merchant, lamports: 600_000_000},
			{from: payer, to: merchant, lamports: 400_000_000},
		}),
	}
	svc := newTestService(chain, newFakeRepo(), &capturePublisher{}, merchant)

	verified, err := svc.VerifyPayment(context.Background(), testSignature, payer.String(), "starter")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verified.PaidLamports != 1_000_000_000 {
		t.Fatalf("expected aggregated paid=1000000000, got %d", verified.PaidLamports)
	}
}

func TestVerifyPaymentIgnoresNonQualifyingTransfers(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	merchant := solana.NewWallet().PublicKey()
	stranger := solana.NewWallet().PublicKey()
	blockhash := solana.HashFromBytes([]byte("verify-foreign-blockhash-32bytes"))

	// Only the payer->merchant portion counts; transfers from a third party
	// to the merchant and from the payer elsewhere do not.
	chain := &fakeChain{
		tx: transferTx(t, blockhash, payer, []testTransfer{
			{from: payer, to: merchant, lamports: 500_000_000},
			{from: stranger, to: merchant, lamports: 600_000_000},
			{from: payer, to: stranger, lamports: 600_000_000},
		}),
	}
	svc := newTestService(chain, newFakeRepo(), &capturePublisher{}, merchant)

	_, err := svc.VerifyPayment(context.Background(), testSignature, payer.String(), "starter")
	var underpaid *UnderpaidError
	if !errors.As(err, &underpaid) {
		t.Fatalf("expected UnderpaidError, got %v", err)
	}
	if underpaid.PaidLamports != 500_000_000 {
		t.Fatalf("expected qualifying paid=500000000, got %d", underpaid.PaidLamports)
	}
}

func TestVerifyPaymentReplayRejected(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	merchant := solana.NewWallet().PublicKey()
	blockhash := solana.HashFromBytes([]byte("verify-replay-blockhash-32bytess"))

	repo := newFakeRepo()
	publisher := &capturePublisher{}
	chain := &fakeChain{
		tx: transferTx(t, blockhash, payer, []testTransfer{
			{from: payer, to: merchant, lamports: 1_000_000_000},
		}),
	}
	svc := newTestService(chain, repo, publisher, merchant)

	if _, err := svc.VerifyPayment(context.Background(), testSignature, payer.String(), "starter"); err != nil {
		t.Fatalf("unexpected error on first verification: %v", err)
	}
	_, err := svc.VerifyPayment(context.Background(), testSignature, payer.String(), "starter")
	if !errors.Is(err, ErrSignatureAlreadyRedeemed) {
		t.Fatalf("expected ErrSignatureAlreadyRedeemed, got %v", err)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("expected exactly 1 published event, got %d", len(publisher.events))
	}
}

func TestVerifyPaymentConcurrentInsertLoses(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	merchant := solana.NewWallet().PublicKey()
	blockhash := solana.HashFromBytes([]byte("verify-race-blockhash-32bytessss"))

	repo := newFakeRepo()
	repo.createErr = store.ErrDuplicateSignature
	chain := &fakeChain{
		tx: transferTx(t, blockhash, payer, []testTransfer{
			{from: payer, to: merchant, lamports: 1_000_000_000},
		}),
	}
	svc := newTestService(chain, repo, &capturePublisher{}, merchant)

	_, err := svc.VerifyPayment(context.Background(), testSignature, payer.String(), "starter")
	if !errors.Is(err, ErrSignatureAlreadyRedeemed) {
		t.Fatalf("expected ErrSignatureAlreadyRedeemed, got %v", err)
	}
}

func TestVerifyPaymentTransactionNotFound(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	merchant := solana.NewWallet().PublicKey()

	chain := &fakeChain{txErr: solanaclient.ErrTransactionNotFound}
	svc := newTestService(chain, newFakeRepo(), &capturePublisher{}, merchant)

	_, err := svc.VerifyPayment(context.Background(), testSignature, payer.String(), "starter")
	if !errors.Is(err, solanaclient.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestVerifyPaymentInputValidation(t *testing.T) {
	payer := solana.NewWallet().PublicKey().String()

	tests := []struct {
		name      string
		signature string
		payer     string
		plan      string
		wantErr   error
	}{
		{name: "missing signature", signature: "", payer: payer, plan: "starter", wantErr: ErrMissingSignature},
		{name: "whitespace signature", signature: "   ", payer: payer, plan: "starter", wantErr: ErrMissingSignature},
		{name: "missing signature checked before plan", signature: "", payer: payer, plan: "enterprise", wantErr: ErrMissingSignature},
		{name: "unknown plan", signature: testSignature, payer: payer, plan: "enterprise", wantErr: ErrUnknownPlan},
		{name: "invalid payer", signature: testSignature, payer: "not-a-key", plan: "starter", wantErr: ErrInvalidPayer},
		{name: "malformed signature", signature: "zz0!", payer: payer, plan: "starter", wantErr: ErrInvalidSignature},
	}

	merchant := solana.NewWallet().PublicKey()
	svc := newTestService(&fakeChain{}, newFakeRepo(), &capturePublisher{}, merchant)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.VerifyPayment(context.Background(), tt.signature, tt.payer, tt.plan)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestVerifyPaymentRateLimited(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	merchant := solana.NewWallet().PublicKey()

	svc := newTestService(&fakeChain{}, newFakeRepo(), &capturePublisher{}, merchant)
	svc.SetVerifyRateLimiter(&fakeLimiter{count: 31, retryAfter: 42}, 30)

	_, err := svc.VerifyPayment(context.Background(), testSignature, payer.String(), "starter")
	var rateLimited *RateLimitedError
	if !errors.As(err, &rateLimited) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rateLimited.RetryAfterSeconds != 42 {
		t.Fatalf("expected retry after 42s, got %d", rateLimited.RetryAfterSeconds)
	}
}

func TestVerifyPaymentLimiterFailureDoesNotBlock(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	merchant := solana.NewWallet().PublicKey()
	blockhash := solana.HashFromBytes([]byte("verify-limiter-blockhash-32bytes"))

	chain := &fakeChain{
		tx: transferTx(t, blockhash, payer, []testTransfer{
			{from: payer, to: merchant, lamports: 1_000_000_000},
		}),
	}
	svc := newTestService(chain, newFakeRepo(), &capturePublisher{}, merchant)
	svc.SetVerifyRateLimiter(&fakeLimiter{err: errors.New("redis down")}, 30)

	if _, err := svc.VerifyPayment(context.Background(), testSignature, payer.String(), "starter"); err != nil {
		t.Fatalf("expected verification to proceed when limiter fails, got %v", err)
	}
}

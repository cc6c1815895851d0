/**
 * @description
 * This file contains the HTTP handlers for the payment service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * Error bodies are plain text, matching what the checkout frontend displays
 * verbatim. Server-side failures never echo upstream detail to the caller.
 *
 * @dependencies
 * - encoding/json, net/http: Standard Go libraries.
 * - github.com/go-playground/validator/v10: Request body validation.
 * - internal/app, internal/domain: For service logic, models, and errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/SimpleFlex/boost-era-payments/internal/app"
	"github.com/SimpleFlex/boost-era-payments/internal/domain"
	"github.com/SimpleFlex/boost-era-payments/pkg/solanaclient"
)

// PaymentHandlers holds the application service that handlers will use.
type PaymentHandlers struct {
	service  *app.Service
	validate *validator.Validate
	logger   *zap.Logger
}

// NewPaymentHandlers creates a new instance of PaymentHandlers and registers
// the solana_address validation rule used by the request DTOs.
func NewPaymentHandlers(service *app.Service, logger *zap.Logger) *PaymentHandlers {
	validate := validator.New()
	_ = validate.RegisterValidation("solana_address", func(fl validator.FieldLevel) bool {
		return domain.IsValidSolanaAddress(fl.Field().String())
	})
	return &PaymentHandlers{service: service, validate: validate, logger: logger}
}

type buildPaymentResponse struct {
	TransactionBase64 string `json:"transactionBase64"`
	AmountLamports    uint64 `json:"amountLamports"`
	AmountSOL         string `json:"amountSOL"`
	MerchantAddress   string `json:"merchantAddress"`
	PlanLabel         string `json:"planLabel"`
	TokenAddress      string `json:"tokenAddress"`
	Plan              string `json:"plan"`
}

type verifyPaymentResponse struct {
	OK               bool   `json:"ok"`
	PaidLamports     uint64 `json:"paidLamports"`
	RequiredLamports uint64 `json:"requiredLamports"`
	Signature        string `json:"signature"`
}

type planResponse struct {
	ID        string   `json:"id"`
	Label     string   `json:"label"`
	USD       string   `json:"usd"`
	Lamports  uint64   `json:"lamports"`
	AmountSOL string   `json:"amountSOL"`
	Features  []string `json:"features"`
	Purpose   string   `json:"purpose"`
}

// BuildPaymentTransactionHandler handles POST /build-payment-transaction.
func (h *PaymentHandlers) BuildPaymentTransactionHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.BuildPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Payer = strings.TrimSpace(req.Payer)
	req.TokenAddress = strings.TrimSpace(req.TokenAddress)

	if msg, ok := h.firstValidationMessage(req); !ok {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	built, err := h.service.BuildPaymentTransaction(r.Context(), req.Payer, req.Plan, req.TokenAddress)
	if err != nil {
		h.writeServiceError(w, r, "build_payment_transaction", err)
		return
	}

	writeJSON(w, http.StatusOK, buildPaymentResponse{
		TransactionBase64: built.TransactionBase64,
		AmountLamports:    built.AmountLamports,
		AmountSOL:         built.AmountSOL,
		MerchantAddress:   built.MerchantAddress,
		PlanLabel:         built.PlanLabel,
		TokenAddress:      built.TokenAddress,
		Plan:              string(built.PlanID),
	})
}

// VerifyPaymentHandler handles POST /verify-payment.
func (h *PaymentHandlers) VerifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Signature = strings.TrimSpace(req.Signature)
	req.Payer = strings.TrimSpace(req.Payer)

	if msg, ok := h.firstValidationMessage(req); !ok {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	verified, err := h.service.VerifyPayment(r.Context(), req.Signature, req.Payer, req.Plan)
	if err != nil {
		h.writeServiceError(w, r, "verify_payment", err)
		return
	}

	writeJSON(w, http.StatusOK, verifyPaymentResponse{
		OK:               true,
		PaidLamports:     verified.PaidLamports,
		RequiredLamports: verified.RequiredLamports,
		Signature:        verified.Signature,
	})
}

// ListPlansHandler handles GET /plans, serving the static catalog.
func (h *PaymentHandlers) ListPlansHandler(w http.ResponseWriter, r *http.Request) {
	catalog := domain.Plans()
	out := make([]planResponse, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, planResponse{
			ID:        string(p.ID),
			Label:     p.Label,
			USD:       p.USD.String(),
			Lamports:  p.Lamports,
			AmountSOL: p.SOLAmount(),
			Features:  p.Features,
			Purpose:   p.Purpose,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// firstValidationMessage runs struct validation and converts the first
// failing field into the caller-facing message. Struct field order mirrors
// the contract's check order (payer, token address, plan).
func (h *PaymentHandlers) firstValidationMessage(req any) (string, bool) {
	err := h.validate.Struct(req)
	if err == nil {
		return "", true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return validationMessage(verrs[0]), false
	}
	return "Invalid request body", false
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Field() {
	case "Payer":
		return "Invalid payer"
	case "TokenAddress":
		return "Invalid token address (ca)"
	case "Signature":
		return "Missing signature"
	case "Plan":
		return "Unknown plan"
	}
	return "Invalid request"
}

// writeServiceError maps service-layer failures to HTTP statuses. Input and
// business-rule failures are attributable to the caller (400/409/429);
// everything else is a server-side failure reported generically.
func (h *PaymentHandlers) writeServiceError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	var underpaid *app.UnderpaidError
	var rateLimited *app.RateLimitedError

	switch {
	case errors.Is(err, app.ErrInvalidPayer):
		http.Error(w, "Invalid payer", http.StatusBadRequest)
	case errors.Is(err, app.ErrInvalidTokenAddress):
		http.Error(w, "Invalid token address (ca)", http.StatusBadRequest)
	case errors.Is(err, app.ErrUnknownPlan):
		http.Error(w, "Unknown plan", http.StatusBadRequest)
	case errors.Is(err, app.ErrMissingSignature):
		http.Error(w, "Missing signature", http.StatusBadRequest)
	case errors.Is(err, app.ErrInvalidSignature):
		http.Error(w, "Invalid signature", http.StatusBadRequest)
	case errors.Is(err, solanaclient.ErrTransactionNotFound):
		// Expected transient state right after submission; the caller retries.
		http.Error(w, "Transaction not found/confirmed yet", http.StatusBadRequest)
	case errors.As(err, &underpaid):
		http.Error(w, underpaid.Error(), http.StatusBadRequest)
	case errors.Is(err, app.ErrSignatureAlreadyRedeemed):
		http.Error(w, "Signature already redeemed", http.StatusConflict)
	case errors.As(err, &rateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(rateLimited.RetryAfterSeconds))
		http.Error(w, "Too many verification attempts. Please wait and try again.", http.StatusTooManyRequests)
	default:
		h.logger.Error("payment request failed",
			zap.String("endpoint", endpoint), zap.Error(err))
		http.Error(w, "Server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

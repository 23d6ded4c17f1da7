package services

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log"
	"net/http"
	"time"

	"github.com/theycallmesabb/bank-api/internal/ledger"
	"github.com/theycallmesabb/bank-api/internal/middleware"
	"github.com/theycallmesabb/bank-api/internal/models"
)

// Ledger is the slice of the ledger core the banking surface consumes.
// Amounts cross this boundary already converted to minor units.
type Ledger interface {
	Fund(ctx context.Context, username string, amount int64) (int64, error)
	Transfer(ctx context.Context, fromUsername, toUsername string, amount int64) (int64, error)
	Balance(ctx context.Context, username string) (int64, error)
	History(ctx context.Context, username string) (iter.Seq2[models.TransactionRecord, error], error)
}

type BankingService struct {
	ledger    Ledger
	currency  *CurrencyService
	validator *ValidationHelper
}

// FundRequest represents the funding request payload
// @Description Funding request structure
type FundRequest struct {
	Amount float64 `json:"amt" validate:"required,gt=0" example:"100.00"` // Amount in major units
}

// PaymentRequest represents the peer-to-peer payment payload
// @Description Payment request structure
type PaymentRequest struct {
	To     string  `json:"to" validate:"required" example:"bob"`         // Recipient username
	Amount float64 `json:"amt" validate:"required,gt=0" example:"40.00"` // Amount in major units
}

// BalanceResponse represents a balance reply
// @Description Balance response structure
type BalanceResponse struct {
	Balance  float64 `json:"balance" example:"100.00"` // Balance in major units
	Currency string  `json:"currency" example:"INR"`   // Currency the balance is expressed in
}

// TransactionResponse is one statement line
// @Description Statement entry structure
type TransactionResponse struct {
	Kind           string    `json:"kind" example:"credit"`        // credit or debit
	Amount         float64   `json:"amt" example:"100.00"`         // Amount in major units
	UpdatedBalance float64   `json:"updated_bal" example:"100.00"` // Balance after the operation
	Timestamp      time.Time `json:"timestamp"`                    // When the operation committed
}

func NewBankingService(ledgerCore Ledger, currency *CurrencyService) *BankingService {
	return &BankingService{
		ledger:    ledgerCore,
		currency:  currency,
		validator: NewValidationHelper(),
	}
}

// Fund handles account funding
// @Summary Fund own account
// @Description Credit the authenticated user's account
// @Tags banking
// @Accept json
// @Produce json
// @Param request body FundRequest true "Funding request"
// @Success 200 {object} BalanceResponse "New balance"
// @Failure 400 {object} ErrorResponse "Invalid amount"
// @Failure 404 {object} ErrorResponse "Account not found"
// @Failure 409 {object} ErrorResponse "Contention"
// @Router /fund [post]
func (bs *BankingService) Fund(w http.ResponseWriter, r *http.Request) {
	username, ok := middleware.UsernameFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req FundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if err := bs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	log.Printf("[BANKING] Fund request for %s: %.2f", username, req.Amount)

	newBalance, err := bs.ledger.Fund(r.Context(), username, models.ToMinorUnits(req.Amount))
	if err != nil {
		bs.sendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(BalanceResponse{Balance: models.FromMinorUnits(newBalance), Currency: BaseCurrency})
}

// Pay handles peer-to-peer payment
// @Summary Pay another user
// @Description Transfer from the authenticated user to the recipient
// @Tags banking
// @Accept json
// @Produce json
// @Param request body PaymentRequest true "Payment request"
// @Success 200 {object} BalanceResponse "Sender's new balance"
// @Failure 400 {object} ErrorResponse "Invalid amount, insufficient funds or recipient not found"
// @Failure 404 {object} ErrorResponse "Sender account not found"
// @Failure 409 {object} ErrorResponse "Contention"
// @Router /pay [post]
func (bs *BankingService) Pay(w http.ResponseWriter, r *http.Request) {
	username, ok := middleware.UsernameFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req PaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if err := bs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	log.Printf("[BANKING] Payment request %s -> %s: %.2f", username, req.To, req.Amount)

	newBalance, err := bs.ledger.Transfer(r.Context(), username, req.To, models.ToMinorUnits(req.Amount))
	if err != nil {
		bs.sendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(BalanceResponse{Balance: models.FromMinorUnits(newBalance), Currency: BaseCurrency})
}

// Balance handles balance enquiry
// @Summary Get balance
// @Description Balance of the authenticated user, optionally converted to another currency
// @Tags banking
// @Produce json
// @Param currency query string false "Display currency code"
// @Success 200 {object} BalanceResponse "Balance"
// @Failure 404 {object} ErrorResponse "Account not found"
// @Router /bal [get]
func (bs *BankingService) Balance(w http.ResponseWriter, r *http.Request) {
	username, ok := middleware.UsernameFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	balance, err := bs.ledger.Balance(r.Context(), username)
	if err != nil {
		bs.sendLedgerError(w, err)
		return
	}

	// Conversion is best-effort: when the rate service is unavailable
	// the base amount comes back with its own currency code.
	amount, currency := bs.currency.Convert(r.Context(), models.FromMinorUnits(balance), r.URL.Query().Get("currency"))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(BalanceResponse{Balance: amount, Currency: currency})
}

// Statement handles transaction history retrieval
// @Summary Get statement
// @Description Transaction history of the authenticated user, most recent first
// @Tags banking
// @Produce json
// @Success 200 {array} TransactionResponse "Statement"
// @Failure 404 {object} ErrorResponse "Account not found"
// @Router /stmt [get]
func (bs *BankingService) Statement(w http.ResponseWriter, r *http.Request) {
	username, ok := middleware.UsernameFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	history, err := bs.ledger.History(r.Context(), username)
	if err != nil {
		bs.sendLedgerError(w, err)
		return
	}

	statement := []TransactionResponse{}
	for record, err := range history {
		if err != nil {
			bs.sendLedgerError(w, err)
			return
		}
		statement = append(statement, TransactionResponse{
			Kind:           record.Kind,
			Amount:         models.FromMinorUnits(record.Amount),
			UpdatedBalance: models.FromMinorUnits(record.ResultingBalance),
			Timestamp:      record.Timestamp,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statement)
}

// sendLedgerError maps the ledger's error taxonomy to response codes.
func (bs *BankingService) sendLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		SendErrorResponse(w, "Invalid amount", http.StatusBadRequest, nil)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		SendErrorResponse(w, "Insufficient funds", http.StatusBadRequest, nil)
	case errors.Is(err, ledger.ErrRecipientNotFound):
		SendErrorResponse(w, "Recipient not found", http.StatusBadRequest, nil)
	case errors.Is(err, ledger.ErrNotFound):
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
	case errors.Is(err, ledger.ErrContention):
		SendErrorResponse(w, "Operation contended, please retry", http.StatusConflict, nil)
	default:
		log.Printf("[BANKING] Operation failed: %v", err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
	}
}

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/theycallmesabb/bank-api/internal/ledger"
	"github.com/theycallmesabb/bank-api/internal/middleware"
	"github.com/theycallmesabb/bank-api/internal/models"
)

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Fund(ctx context.Context, username string, amount int64) (int64, error) {
	args := m.Called(ctx, username, amount)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedger) Transfer(ctx context.Context, fromUsername, toUsername string, amount int64) (int64, error) {
	args := m.Called(ctx, fromUsername, toUsername, amount)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedger) Balance(ctx context.Context, username string) (int64, error) {
	args := m.Called(ctx, username)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedger) History(ctx context.Context, username string) (iter.Seq2[models.TransactionRecord, error], error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(iter.Seq2[models.TransactionRecord, error]), args.Error(1)
}

func historyOf(records ...models.TransactionRecord) iter.Seq2[models.TransactionRecord, error] {
	return func(yield func(models.TransactionRecord, error) bool) {
		for _, record := range records {
			if !yield(record, nil) {
				return
			}
		}
	}
}

func authenticatedRequest(method, target string, body []byte, username string) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewBuffer(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	return r.WithContext(middleware.WithUsername(r.Context(), username))
}

func TestBankingService_Fund(t *testing.T) {
	t.Run("successful funding", func(t *testing.T) {
		ledgerMock := new(MockLedger)
		ledgerMock.On("Fund", mock.Anything, "alice", int64(10000)).Return(int64(10000), nil)
		service := NewBankingService(ledgerMock, NewCurrencyService(nil))

		body, _ := json.Marshal(FundRequest{Amount: 100.00})
		w := httptest.NewRecorder()
		service.Fund(w, authenticatedRequest("POST", "/fund", body, "alice"))

		assert.Equal(t, http.StatusOK, w.Code)
		var response BalanceResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, 100.00, response.Balance)
		assert.Equal(t, BaseCurrency, response.Currency)
		ledgerMock.AssertExpectations(t)
	})

	t.Run("non-positive amount never reaches the ledger", func(t *testing.T) {
		ledgerMock := new(MockLedger)
		service := NewBankingService(ledgerMock, NewCurrencyService(nil))

		for _, body := range []string{`{"amt": -5}`, `{"amt": 0}`} {
			w := httptest.NewRecorder()
			service.Fund(w, authenticatedRequest("POST", "/fund", []byte(body), "alice"))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		}
		ledgerMock.AssertNotCalled(t, "Fund")
	})

	t.Run("unknown account", func(t *testing.T) {
		ledgerMock := new(MockLedger)
		ledgerMock.On("Fund", mock.Anything, "alice", int64(10000)).Return(int64(0), ledger.ErrNotFound)
		service := NewBankingService(ledgerMock, NewCurrencyService(nil))

		body, _ := json.Marshal(FundRequest{Amount: 100.00})
		w := httptest.NewRecorder()
		service.Fund(w, authenticatedRequest("POST", "/fund", body, "alice"))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing authentication", func(t *testing.T) {
		service := NewBankingService(new(MockLedger), NewCurrencyService(nil))

		body, _ := json.Marshal(FundRequest{Amount: 100.00})
		r := httptest.NewRequest("POST", "/fund", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		service.Fund(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestBankingService_Pay(t *testing.T) {
	t.Run("successful payment", func(t *testing.T) {
		ledgerMock := new(MockLedger)
		ledgerMock.On("Transfer", mock.Anything, "alice", "bob", int64(4000)).Return(int64(6000), nil)
		service := NewBankingService(ledgerMock, NewCurrencyService(nil))

		body, _ := json.Marshal(PaymentRequest{To: "bob", Amount: 40.00})
		w := httptest.NewRecorder()
		service.Pay(w, authenticatedRequest("POST", "/pay", body, "alice"))

		assert.Equal(t, http.StatusOK, w.Code)
		var response BalanceResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, 60.00, response.Balance)
		ledgerMock.AssertExpectations(t)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		ledgerMock := new(MockLedger)
		ledgerMock.On("Transfer", mock.Anything, "alice", "bob", int64(4000)).Return(int64(0), ledger.ErrInsufficientFunds)
		service := NewBankingService(ledgerMock, NewCurrencyService(nil))

		body, _ := json.Marshal(PaymentRequest{To: "bob", Amount: 40.00})
		w := httptest.NewRecorder()
		service.Pay(w, authenticatedRequest("POST", "/pay", body, "alice"))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var response ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "Insufficient funds", response.Error)
	})

	t.Run("recipient not found", func(t *testing.T) {
		ledgerMock := new(MockLedger)
		ledgerMock.On("Transfer", mock.Anything, "alice", "nobody", int64(4000)).Return(int64(0), ledger.ErrRecipientNotFound)
		service := NewBankingService(ledgerMock, NewCurrencyService(nil))

		body, _ := json.Marshal(PaymentRequest{To: "nobody", Amount: 40.00})
		w := httptest.NewRecorder()
		service.Pay(w, authenticatedRequest("POST", "/pay", body, "alice"))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var response ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "Recipient not found", response.Error)
	})

	t.Run("contention surfaces as conflict", func(t *testing.T) {
		ledgerMock := new(MockLedger)
		ledgerMock.On("Transfer", mock.Anything, "alice", "bob", int64(4000)).Return(int64(0), ledger.ErrContention)
		service := NewBankingService(ledgerMock, NewCurrencyService(nil))

		body, _ := json.Marshal(PaymentRequest{To: "bob", Amount: 40.00})
		w := httptest.NewRecorder()
		service.Pay(w, authenticatedRequest("POST", "/pay", body, "alice"))

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("missing recipient field", func(t *testing.T) {
		service := NewBankingService(new(MockLedger), NewCurrencyService(nil))

		w := httptest.NewRecorder()
		service.Pay(w, authenticatedRequest("POST", "/pay", []byte(`{"amt": 40}`), "alice"))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestBankingService_Balance(t *testing.T) {
	t.Run("base currency", func(t *testing.T) {
		ledgerMock := new(MockLedger)
		ledgerMock.On("Balance", mock.Anything, "alice").Return(int64(6000), nil)
		service := NewBankingService(ledgerMock, NewCurrencyService(nil))

		w := httptest.NewRecorder()
		service.Balance(w, authenticatedRequest("GET", "/bal", nil, "alice"))

		assert.Equal(t, http.StatusOK, w.Code)
		var response BalanceResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, 60.00, response.Balance)
		assert.Equal(t, BaseCurrency, response.Currency)
	})

	t.Run("unknown account", func(t *testing.T) {
		ledgerMock := new(MockLedger)
		ledgerMock.On("Balance", mock.Anything, "alice").Return(int64(0), ledger.ErrNotFound)
		service := NewBankingService(ledgerMock, NewCurrencyService(nil))

		w := httptest.NewRecorder()
		service.Balance(w, authenticatedRequest("GET", "/bal", nil, "alice"))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestBankingService_Statement(t *testing.T) {
	t.Run("renders records most recent first", func(t *testing.T) {
		now := time.Now().UTC()
		ledgerMock := new(MockLedger)
		ledgerMock.On("History", mock.Anything, "alice").Return(historyOf(
			models.TransactionRecord{Kind: models.KindDebit, Amount: 4000, ResultingBalance: 6000, Timestamp: now},
			models.TransactionRecord{Kind: models.KindCredit, Amount: 10000, ResultingBalance: 10000, Timestamp: now.Add(-time.Minute)},
		), nil)
		service := NewBankingService(ledgerMock, NewCurrencyService(nil))

		w := httptest.NewRecorder()
		service.Statement(w, authenticatedRequest("GET", "/stmt", nil, "alice"))

		assert.Equal(t, http.StatusOK, w.Code)
		var statement []TransactionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &statement))
		require.Len(t, statement, 2)
		assert.Equal(t, models.KindDebit, statement[0].Kind)
		assert.Equal(t, 40.00, statement[0].Amount)
		assert.Equal(t, 60.00, statement[0].UpdatedBalance)
		assert.Equal(t, models.KindCredit, statement[1].Kind)
		assert.Equal(t, 100.00, statement[1].Amount)
	})

	t.Run("empty history is an empty array", func(t *testing.T) {
		ledgerMock := new(MockLedger)
		ledgerMock.On("History", mock.Anything, "alice").Return(historyOf(), nil)
		service := NewBankingService(ledgerMock, NewCurrencyService(nil))

		w := httptest.NewRecorder()
		service.Statement(w, authenticatedRequest("GET", "/stmt", nil, "alice"))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, "[]", w.Body.String())
	})

	t.Run("unknown account", func(t *testing.T) {
		ledgerMock := new(MockLedger)
		ledgerMock.On("History", mock.Anything, "alice").Return(nil, ledger.ErrNotFound)
		service := NewBankingService(ledgerMock, NewCurrencyService(nil))

		w := httptest.NewRecorder()
		service.Statement(w, authenticatedRequest("GET", "/stmt", nil, "alice"))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

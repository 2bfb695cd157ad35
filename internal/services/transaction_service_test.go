package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authedPostJSON(t *testing.T, handler http.HandlerFunc, path string, userID int64, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(context.WithValue(req.Context(), "userID", userID))

	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestTransactionService_CreateTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewTransactionService(db, NewLedgerService(), NewAuditService(db))

	t.Run("deposit commits balance update and transaction row together", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT a.id, a.holder_id").
			WithArgs(int64(10)).
			WillReturnRows(lockedAccountRows(10, 3, "checking", "USD", 0, 1, 7))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(10000), int64(10), 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO transactions").
			WithArgs(int64(10), "deposit", int64(10000), "USD", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))
		mock.ExpectExec("INSERT INTO audit_logs").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		w := authedPostJSON(t, service.CreateTransaction, "/api/v1/transactions", 7, map[string]any{
			"account_id": 10, "type": "deposit", "amount": 10000, "currency": "USD",
		})

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("withdrawal beyond balance rolls back with 400", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT a.id, a.holder_id").
			WithArgs(int64(10)).
			WillReturnRows(lockedAccountRows(10, 3, "checking", "USD", 500, 1, 7))
		mock.ExpectRollback()

		w := authedPostJSON(t, service.CreateTransaction, "/api/v1/transactions", 7, map[string]any{
			"account_id": 10, "type": "withdrawal", "amount": 1000, "currency": "USD",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, ErrInsufficientFunds.Error(), resp.Error)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("transfer types are not accepted directly", func(t *testing.T) {
		w := authedPostJSON(t, service.CreateTransaction, "/api/v1/transactions", 7, map[string]any{
			"account_id": 10, "type": "transfer_out", "amount": 1000, "currency": "USD",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, ErrUnsupportedTransactionType.Error(), resp.Error)
	})

	t.Run("someone else's account yields 403", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT a.id, a.holder_id").
			WithArgs(int64(10)).
			WillReturnRows(lockedAccountRows(10, 3, "checking", "USD", 500, 1, 42))
		mock.ExpectRollback()

		w := authedPostJSON(t, service.CreateTransaction, "/api/v1/transactions", 7, map[string]any{
			"account_id": 10, "type": "deposit", "amount": 1000, "currency": "USD",
		})

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no principal yields 401", func(t *testing.T) {
		payload, _ := json.Marshal(map[string]any{
			"account_id": 10, "type": "deposit", "amount": 1000, "currency": "USD",
		})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewReader(payload))
		w := httptest.NewRecorder()
		service.CreateTransaction(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestTransactionService_CreateTransfer(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewTransactionService(db, NewLedgerService(), NewAuditService(db))

	t.Run("successful transfer returns the transfer row", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT a.id, a.holder_id").
			WithArgs(int64(1)).
			WillReturnRows(lockedAccountRows(1, 3, "checking", "USD", 10000, 1, 7))
		mock.ExpectQuery("SELECT a.id, a.holder_id").
			WithArgs(int64(2)).
			WillReturnRows(lockedAccountRows(2, 3, "savings", "USD", 0, 1, 7))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(7500), int64(1), 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(2500), int64(2), 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO transfers").
			WithArgs(int64(1), int64(2), int64(2500), "USD", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(9, time.Now()))
		mock.ExpectQuery("INSERT INTO transactions").
			WithArgs(int64(1), "transfer_out", int64(2500), "USD", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(2, time.Now()))
		mock.ExpectQuery("INSERT INTO transactions").
			WithArgs(int64(2), "transfer_in", int64(2500), "USD", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(3, time.Now()))
		mock.ExpectExec("INSERT INTO audit_logs").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		w := authedPostJSON(t, service.CreateTransfer, "/api/v1/transfers", 7, map[string]any{
			"from_account_id": 1, "to_account_id": 2, "amount": 2500, "currency": "USD",
		})

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("same source and destination rejected by validation", func(t *testing.T) {
		w := authedPostJSON(t, service.CreateTransfer, "/api/v1/transfers", 7, map[string]any{
			"from_account_id": 4, "to_account_id": 4, "amount": 1000, "currency": "USD",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("currency mismatch rejected with 400", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT a.id, a.holder_id").
			WithArgs(int64(1)).
			WillReturnRows(lockedAccountRows(1, 3, "checking", "USD", 10000, 1, 7))
		mock.ExpectQuery("SELECT a.id, a.holder_id").
			WithArgs(int64(2)).
			WillReturnRows(lockedAccountRows(2, 4, "savings", "EUR", 0, 1, 9))
		mock.ExpectRollback()

		w := authedPostJSON(t, service.CreateTransfer, "/api/v1/transfers", 7, map[string]any{
			"from_account_id": 1, "to_account_id": 2, "amount": 1000, "currency": "USD",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, ErrCurrencyMismatch.Error(), resp.Error)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

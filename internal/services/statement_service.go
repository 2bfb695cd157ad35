package services

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coralbank/backend/internal/models"
)

type StatementService struct {
	db *sql.DB
}

type StatementResponse struct {
	AccountID    int64                `json:"account_id"`
	Currency     string               `json:"currency"`
	Balance      int64                `json:"balance"`
	GeneratedAt  time.Time            `json:"generated_at"`
	Transactions []models.Transaction `json:"transactions"`
}

func NewStatementService(db *sql.DB) *StatementService {
	return &StatementService{db: db}
}

// GetStatement returns the account's history, newest first
// @Summary Get an account statement
// @Tags statements
// @Produce json
// @Param accountId path int true "Account ID"
// @Success 200 {object} StatementResponse
// @Failure 403 {object} ErrorResponse "Account not accessible"
// @Failure 404 {object} ErrorResponse "Account not found"
// @Router /statements/{accountId} [get]
func (s *StatementService) GetStatement(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	accountID, err := strconv.ParseInt(chi.URLParam(r, "accountId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return
	}

	statement, err := s.Statement(userID, accountID)
	if err != nil {
		SendDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statement)
}

// Statement enforces the same ownership rule as the ledger core, then reads
// the account's transactions ordered by recency. Purely a read; repeated
// calls with no intervening writes return identical results.
func (s *StatementService) Statement(userID, accountID int64) (*StatementResponse, error) {
	var ownerUserID int64
	var currency string
	var balance int64
	err := s.db.QueryRow(`
		SELECT h.user_id, a.currency, a.balance
		FROM accounts a
		JOIN account_holders h ON h.id = a.holder_id
		WHERE a.id = $1`, accountID,
	).Scan(&ownerUserID, &currency, &balance)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	if ownerUserID != userID {
		return nil, ErrAccountNotAccessible
	}

	rows, err := s.db.Query(`
		SELECT id, account_id, type, amount, currency, created_at
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Type, &t.Amount, &t.Currency, &t.CreatedAt); err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &StatementResponse{
		AccountID:    accountID,
		Currency:     currency,
		Balance:      balance,
		GeneratedAt:  time.Now(),
		Transactions: transactions,
	}, nil
}

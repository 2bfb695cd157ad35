package services

import (
	"database/sql"
	"log"
	"net/http"
	"strconv"

	"github.com/coralbank/backend/internal/models"
)

// TransactionService is the HTTP boundary over the ledger core: it resolves
// the principal, opens the unit of work, invokes one core operation and
// commits. Every domain check lives in LedgerService; a failure at any point
// rolls the whole unit back with no partial writes.
type TransactionService struct {
	db        *sql.DB
	ledger    *LedgerService
	audit     *AuditService
	validator *ValidationHelper
}

type TransactionCreateRequest struct {
	AccountID int64  `json:"account_id" validate:"required,gt=0"`
	Type      string `json:"type" validate:"required"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	Currency  string `json:"currency" validate:"required,min=3,max=10"`
}

type TransferCreateRequest struct {
	FromAccountID int64  `json:"from_account_id" validate:"required,gt=0"`
	ToAccountID   int64  `json:"to_account_id" validate:"required,gt=0,nefield=FromAccountID"`
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	Currency      string `json:"currency" validate:"required,min=3,max=10"`
}

func NewTransactionService(db *sql.DB, ledger *LedgerService, audit *AuditService) *TransactionService {
	return &TransactionService{
		db:        db,
		ledger:    ledger,
		audit:     audit,
		validator: NewValidationHelper(),
	}
}

// CreateTransaction applies a deposit or withdrawal
// @Summary Deposit into or withdraw from an account
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body TransactionCreateRequest true "Transaction data"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} ErrorResponse "Invalid request or insufficient funds"
// @Failure 403 {object} ErrorResponse "Account not accessible"
// @Failure 404 {object} ErrorResponse "Account not found"
// @Router /transactions [post]
func (ts *TransactionService) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req TransactionCreateRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.Type != models.TransactionTypeDeposit && req.Type != models.TransactionTypeWithdrawal {
		SendDomainError(w, ErrUnsupportedTransactionType)
		return
	}

	tx, err := ts.db.Begin()
	if err != nil {
		log.Printf("[TRANSACTION] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to process transaction", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	var transaction *models.Transaction
	if req.Type == models.TransactionTypeDeposit {
		transaction, err = ts.ledger.DepositTx(tx, userID, req.AccountID, req.Amount, req.Currency)
	} else {
		transaction, err = ts.ledger.WithdrawTx(tx, userID, req.AccountID, req.Amount, req.Currency)
	}
	if err != nil {
		log.Printf("[TRANSACTION] %s rejected for account %d: %v", req.Type, req.AccountID, err)
		SendDomainError(w, err)
		return
	}

	ipAddress, deviceID := RequestContext(r)
	if err := ts.audit.WriteTx(tx, AuditEntry{
		UserID:       &userID,
		EventType:    "transaction",
		ResourceType: "transaction",
		ResourceID:   strconv.FormatInt(transaction.ID, 10),
		Status:       models.AuditStatusSuccess,
		IPAddress:    ipAddress,
		DeviceID:     deviceID,
		Metadata:     models.Metadata{"type": req.Type, "amount": req.Amount, "currency": req.Currency},
	}); err != nil {
		log.Printf("[TRANSACTION] Audit write failed: %v", err)
		SendErrorResponse(w, "Failed to process transaction", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[TRANSACTION] Failed to commit transaction: %v", err)
		SendErrorResponse(w, "Failed to process transaction", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[TRANSACTION] %s of %d %s on account %d", req.Type, req.Amount, req.Currency, req.AccountID)
	writeJSON(w, http.StatusCreated, transaction)
}

// CreateTransfer moves money between two accounts
// @Summary Transfer between accounts
// @Tags transfers
// @Accept json
// @Produce json
// @Param request body TransferCreateRequest true "Transfer data"
// @Success 201 {object} models.Transfer
// @Failure 400 {object} ErrorResponse "Invalid request or insufficient funds"
// @Failure 403 {object} ErrorResponse "Source account not accessible"
// @Failure 404 {object} ErrorResponse "Account not found"
// @Router /transfers [post]
func (ts *TransactionService) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req TransferCreateRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	tx, err := ts.db.Begin()
	if err != nil {
		log.Printf("[TRANSFER] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to process transfer", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	transfer, err := ts.ledger.TransferTx(tx, userID, req.FromAccountID, req.ToAccountID, req.Amount, req.Currency)
	if err != nil {
		log.Printf("[TRANSFER] Rejected %d -> %d: %v", req.FromAccountID, req.ToAccountID, err)
		SendDomainError(w, err)
		return
	}

	ipAddress, deviceID := RequestContext(r)
	if err := ts.audit.WriteTx(tx, AuditEntry{
		UserID:       &userID,
		EventType:    "transfer",
		ResourceType: "transfer",
		ResourceID:   strconv.FormatInt(transfer.ID, 10),
		Status:       models.AuditStatusSuccess,
		IPAddress:    ipAddress,
		DeviceID:     deviceID,
		Metadata:     models.Metadata{"from": req.FromAccountID, "to": req.ToAccountID, "amount": req.Amount, "currency": req.Currency},
	}); err != nil {
		log.Printf("[TRANSFER] Audit write failed: %v", err)
		SendErrorResponse(w, "Failed to process transfer", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[TRANSFER] Failed to commit transfer: %v", err)
		SendErrorResponse(w, "Failed to process transfer", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[TRANSFER] %d %s moved from account %d to account %d", req.Amount, req.Currency, req.FromAccountID, req.ToAccountID)
	writeJSON(w, http.StatusCreated, transfer)
}

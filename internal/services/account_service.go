package services

import (
	"database/sql"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"

	"github.com/coralbank/backend/internal/models"
)

type AccountService struct {
	db        *sql.DB
	validator *ValidationHelper
}

type AccountHolderCreateRequest struct {
	FirstName string `json:"first_name" validate:"required,min=1,max=100"`
	LastName  string `json:"last_name" validate:"required,min=1,max=100"`
	DOB       string `json:"dob" validate:"required,datetime=2006-01-02"`
}

type AccountCreateRequest struct {
	Type     string `json:"type" validate:"required,oneof=checking savings"`
	Currency string `json:"currency" validate:"required,min=3,max=10"`
}

func NewAccountService(db *sql.DB) *AccountService {
	return &AccountService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// CreateAccountHolder creates a holder profile
// @Summary Create the account holder profile for the authenticated user
// @Tags account-holders
// @Accept json
// @Produce json
// @Param request body AccountHolderCreateRequest true "Holder details"
// @Success 201 {object} models.AccountHolder
// @Failure 409 {object} ErrorResponse "Holder already exists"
// @Router /account-holders [post]
func (s *AccountService) CreateAccountHolder(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req AccountHolderCreateRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	dob, err := time.Parse("2006-01-02", req.DOB)
	if err != nil || dob.After(time.Now()) {
		SendErrorResponse(w, "date of birth cannot be in the future", http.StatusBadRequest, nil)
		return
	}

	holder := models.AccountHolder{
		UserID:      userID,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		DateOfBirth: dob,
	}
	err = s.db.QueryRow(`
		INSERT INTO account_holders (user_id, first_name, last_name, dob, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		userID, req.FirstName, req.LastName, dob, time.Now(),
	).Scan(&holder.ID, &holder.CreatedAt)
	if err != nil {
		if pqErr, isPQ := err.(*pq.Error); isPQ && pqErr.Code == uniqueViolation {
			SendDomainError(w, ErrAccountHolderAlreadyExists)
			return
		}
		log.Printf("[ACCOUNT] Holder creation failed for user %d: %v", userID, err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	writeJSON(w, http.StatusCreated, holder)
}

// ListAccountHolders lists the caller's holder profile
// @Summary List the authenticated user's account holder profile
// @Tags account-holders
// @Produce json
// @Success 200 {array} models.AccountHolder
// @Router /account-holders [get]
func (s *AccountService) ListAccountHolders(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	holders := []models.AccountHolder{}
	holder, err := s.holderForUser(userID)
	if err == nil {
		holders = append(holders, *holder)
	} else if err != ErrAccountHolderNotFound {
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	writeJSON(w, http.StatusOK, holders)
}

// GetAccountHolder fetches one holder profile by id
// @Summary Get an account holder owned by the authenticated user
// @Tags account-holders
// @Produce json
// @Param holderId path int true "Holder ID"
// @Success 200 {object} models.AccountHolder
// @Failure 404 {object} ErrorResponse "Holder not found"
// @Router /account-holders/{holderId} [get]
func (s *AccountService) GetAccountHolder(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	holderID, err := strconv.ParseInt(chi.URLParam(r, "holderId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid holder id", http.StatusBadRequest, nil)
		return
	}

	var holder models.AccountHolder
	err = s.db.QueryRow(`
		SELECT id, user_id, first_name, last_name, dob, created_at
		FROM account_holders
		WHERE id = $1 AND user_id = $2`, holderID, userID,
	).Scan(&holder.ID, &holder.UserID, &holder.FirstName, &holder.LastName,
		&holder.DateOfBirth, &holder.CreatedAt)
	if err == sql.ErrNoRows {
		SendDomainError(w, ErrAccountHolderNotFound)
		return
	}
	if err != nil {
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	writeJSON(w, http.StatusOK, holder)
}

// CreateAccount opens a new account under the caller's holder
// @Summary Open a checking or savings account
// @Tags accounts
// @Accept json
// @Produce json
// @Param request body AccountCreateRequest true "Account details"
// @Success 201 {object} models.Account
// @Failure 404 {object} ErrorResponse "Holder not found"
// @Router /accounts [post]
func (s *AccountService) CreateAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req AccountCreateRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	holder, err := s.holderForUser(userID)
	if err != nil {
		SendDomainError(w, err)
		return
	}

	account := models.Account{
		HolderID: holder.ID,
		Type:     req.Type,
		Currency: req.Currency,
		Balance:  0,
		Status:   models.AccountStatusActive,
	}
	err = s.db.QueryRow(`
		INSERT INTO accounts (holder_id, type, currency, balance, status, version, created_at)
		VALUES ($1, $2, $3, 0, $4, 1, $5)
		RETURNING id, created_at`,
		holder.ID, req.Type, req.Currency, models.AccountStatusActive, time.Now(),
	).Scan(&account.ID, &account.CreatedAt)
	if err != nil {
		log.Printf("[ACCOUNT] Account creation failed for holder %d: %v", holder.ID, err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[ACCOUNT] Account %d (%s/%s) opened for holder %d", account.ID, req.Type, req.Currency, holder.ID)
	writeJSON(w, http.StatusCreated, account)
}

// ListAccounts lists the caller's accounts
// @Summary List accounts owned by the authenticated user
// @Tags accounts
// @Produce json
// @Success 200 {array} models.Account
// @Router /accounts [get]
func (s *AccountService) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := s.db.Query(`
		SELECT a.id, a.holder_id, a.type, a.currency, a.balance, a.status, a.created_at
		FROM accounts a
		JOIN account_holders h ON h.id = a.holder_id
		WHERE h.user_id = $1
		ORDER BY a.id`, userID)
	if err != nil {
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.HolderID, &a.Type, &a.Currency, &a.Balance, &a.Status, &a.CreatedAt); err != nil {
			SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
			return
		}
		accounts = append(accounts, a)
	}

	writeJSON(w, http.StatusOK, accounts)
}

// GetAccount fetches one account by id
// @Summary Get an account owned by the authenticated user
// @Tags accounts
// @Produce json
// @Param accountId path int true "Account ID"
// @Success 200 {object} models.Account
// @Failure 404 {object} ErrorResponse "Account not found"
// @Router /accounts/{accountId} [get]
func (s *AccountService) GetAccount(w http.ResponseWriter, r *http.Request) {
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

	var a models.Account
	err = s.db.QueryRow(`
		SELECT a.id, a.holder_id, a.type, a.currency, a.balance, a.status, a.created_at
		FROM accounts a
		JOIN account_holders h ON h.id = a.holder_id
		WHERE a.id = $1 AND h.user_id = $2`, accountID, userID,
	).Scan(&a.ID, &a.HolderID, &a.Type, &a.Currency, &a.Balance, &a.Status, &a.CreatedAt)
	if err == sql.ErrNoRows {
		SendDomainError(w, ErrAccountNotFound)
		return
	}
	if err != nil {
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	writeJSON(w, http.StatusOK, a)
}

func (s *AccountService) holderForUser(userID int64) (*models.AccountHolder, error) {
	var holder models.AccountHolder
	err := s.db.QueryRow(`
		SELECT id, user_id, first_name, last_name, dob, created_at
		FROM account_holders
		WHERE user_id = $1`, userID,
	).Scan(&holder.ID, &holder.UserID, &holder.FirstName, &holder.LastName,
		&holder.DateOfBirth, &holder.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountHolderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &holder, nil
}

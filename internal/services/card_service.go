package services

import (
	cryptorand "crypto/rand"
	"database/sql"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"time"

	"github.com/coralbank/backend/internal/models"
)

type CardService struct {
	db        *sql.DB
	validator *ValidationHelper
}

type CardCreateRequest struct {
	AccountID int64  `json:"account_id" validate:"required,gt=0"`
	Type      string `json:"type" validate:"required,oneof=virtual physical"`
}

func NewCardService(db *sql.DB) *CardService {
	return &CardService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// IssueCard issues a card against an owned account
// @Summary Issue a virtual or physical card
// @Tags cards
// @Accept json
// @Produce json
// @Param request body CardCreateRequest true "Card details"
// @Success 201 {object} models.Card
// @Failure 403 {object} ErrorResponse "Account not accessible"
// @Failure 404 {object} ErrorResponse "Account not found"
// @Router /cards [post]
func (s *CardService) IssueCard(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req CardCreateRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var ownerUserID int64
	err := s.db.QueryRow(`
		SELECT h.user_id
		FROM accounts a
		JOIN account_holders h ON h.id = a.holder_id
		WHERE a.id = $1`, req.AccountID,
	).Scan(&ownerUserID)
	if err == sql.ErrNoRows {
		SendDomainError(w, ErrAccountNotFound)
		return
	}
	if err != nil {
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}
	if ownerUserID != userID {
		SendDomainError(w, ErrAccountNotAccessible)
		return
	}

	last4, err := randomLast4()
	if err != nil {
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	card := models.Card{
		AccountID: req.AccountID,
		Type:      req.Type,
		Last4:     last4,
		Status:    models.CardStatusActive,
	}
	err = s.db.QueryRow(`
		INSERT INTO cards (account_id, type, last4, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		req.AccountID, req.Type, last4, models.CardStatusActive, time.Now(),
	).Scan(&card.ID, &card.CreatedAt)
	if err != nil {
		log.Printf("[CARD] Issuance failed for account %d: %v", req.AccountID, err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[CARD] Issued %s card ending %s for account %d", req.Type, last4, req.AccountID)
	writeJSON(w, http.StatusCreated, card)
}

func randomLast4() (string, error) {
	n, err := cryptorand.Int(cryptorand.Reader, big.NewInt(10000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

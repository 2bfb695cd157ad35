package services

import (
	"bytes"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
)

// qrCodeTTL bounds how long a receive code stays redeemable.
const qrCodeTTL = 5 * time.Minute

type QRService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *ValidationHelper
}

type ReceiveQRRequest struct {
	Amount *int64 `json:"amount,omitempty" validate:"omitempty,gt=0"`
}

type ReceiveQRResponse struct {
	Code      string    `json:"code"`
	Image     string    `json:"image"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewQRService(db *sql.DB, redis *redis.Client) *QRService {
	return &QRService{
		db:        db,
		redis:     redis,
		validator: NewValidationHelper(),
	}
}

// GenerateReceiveQR creates a short-lived QR code for receiving funds into an account
// @Summary Generate a receive QR code for an account
// @Tags accounts
// @Accept json
// @Produce json
// @Param accountId path int true "Account ID"
// @Param request body ReceiveQRRequest false "Optional fixed amount"
// @Success 201 {object} ReceiveQRResponse
// @Failure 403 {object} ErrorResponse "Account not accessible"
// @Failure 404 {object} ErrorResponse "Account not found"
// @Router /accounts/{accountId}/receive-qr [post]
func (s *QRService) GenerateReceiveQR(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	// Receive codes live in Redis only; without it we cannot issue them.
	if s.redis == nil {
		SendErrorResponse(w, "Receive QR is temporarily unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	accountID, err := strconv.ParseInt(chi.URLParam(r, "accountId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return
	}

	var req ReceiveQRRequest
	// Body is optional; ignore decode errors on an empty body.
	_ = DecodeJSON(w, r, &req)
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var ownerUserID int64
	var currency string
	err = s.db.QueryRow(`
		SELECT h.user_id, a.currency
		FROM accounts a
		JOIN account_holders h ON h.id = a.holder_id
		WHERE a.id = $1`, accountID,
	).Scan(&ownerUserID, &currency)
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

	payload := map[string]any{
		"account_id": accountID,
		"currency":   currency,
		"nonce":      generateNonce(),
		"timestamp":  time.Now().Unix(),
	}
	if req.Amount != nil {
		payload["amount"] = *req.Amount
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	code := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("qr:%s", code)
	if err := s.redis.Set(r.Context(), key, jsonData, qrCodeTTL).Err(); err != nil {
		log.Printf("[QR] Failed to store code for account %d: %v", accountID, err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	writeJSON(w, http.StatusCreated, ReceiveQRResponse{
		Code:      code,
		Image:     base64.StdEncoding.EncodeToString(buf.Bytes()),
		ExpiresAt: time.Now().Add(qrCodeTTL),
	})
}

var errReceiveCodeInvalid = errors.New("invalid or expired QR code")

// RedeemReceiveQR godoc
// @Summary Redeem a receive QR code
// @Description Resolves a receive code issued by the generate endpoint and returns its payment payload. Codes are single-use.
// @Tags qr
// @Produce json
// @Security BearerAuth
// @Param code path string true "Receive code"
// @Success 200 {object} map[string]any
// @Failure 404 {object} ErrorResponse "Invalid or expired code"
// @Router /receive-qr/{code} [get]
func (s *QRService) RedeemReceiveQR(w http.ResponseWriter, r *http.Request) {
	if s.redis == nil {
		SendErrorResponse(w, "Receive QR is temporarily unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	payload, err := s.ResolveReceiveCode(r)
	if errors.Is(err, errReceiveCodeInvalid) {
		SendErrorResponse(w, "Invalid or expired QR code", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[QR] Failed to resolve receive code: %v", err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	writeJSON(w, http.StatusOK, payload)
}

// ResolveReceiveCode redeems a previously issued receive code. Codes are
// single-use: the Redis key is deleted on first successful resolution.
func (s *QRService) ResolveReceiveCode(r *http.Request) (map[string]any, error) {
	if s.redis == nil {
		return nil, errReceiveCodeInvalid
	}

	code := chi.URLParam(r, "code")
	key := fmt.Sprintf("qr:%s", code)

	data, err := s.redis.Get(r.Context(), key).Bytes()
	if err == redis.Nil {
		return nil, errReceiveCodeInvalid
	}
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	s.redis.Del(r.Context(), key)

	return result, nil
}

func generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}

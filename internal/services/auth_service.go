package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/coralbank/backend/internal/models"
)

const uniqueViolation = "23505"

type AuthService struct {
	db         *sql.DB
	redis      *redis.Client
	creds      *Credentials
	audit      *AuditService
	validator  *ValidationHelper
	refreshTTL time.Duration
}

// SignupRequest represents the signup request payload
// @Description Signup request structure
type SignupRequest struct {
	Email     string `json:"email" validate:"required,email" example:"user@example.com"`
	Password  string `json:"password" validate:"required,min=8,max=72" example:"supersecure123"`
	FirstName string `json:"first_name" validate:"required,min=1,max=100" example:"Ada"`
	LastName  string `json:"last_name" validate:"required,min=1,max=100" example:"Lovelace"`
	DOB       string `json:"dob" validate:"required,datetime=2006-01-02" example:"1990-01-01"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type SignupResponse struct {
	User          models.User          `json:"user"`
	AccountHolder models.AccountHolder `json:"account_holder"`
}

// TokenResponse is returned by login and refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"` // seconds until access-token expiry
}

func NewAuthService(db *sql.DB, redisClient *redis.Client, creds *Credentials, audit *AuditService, refreshTTL time.Duration) *AuthService {
	return &AuthService{
		db:         db,
		redis:      redisClient,
		creds:      creds,
		audit:      audit,
		validator:  NewValidationHelper(),
		refreshTTL: refreshTTL,
	}
}

// Signup handles user registration
// @Summary Register a new user with an account holder profile
// @Tags auth
// @Accept json
// @Produce json
// @Param request body SignupRequest true "Signup request"
// @Success 201 {object} SignupResponse "Signup successful"
// @Failure 400 {object} ErrorResponse "Invalid request"
// @Failure 409 {object} ErrorResponse "Email already registered"
// @Router /auth/signup [post]
func (s *AuthService) Signup(w http.ResponseWriter, r *http.Request) {
	ipAddress, deviceID := RequestContext(r)
	log.Printf("[AUTH] Signup attempt from IP: %s", ipAddress)

	var req SignupRequest
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

	// Hash before opening the unit of work: an oversized password must be
	// rejected before anything touches the store.
	passwordHash, err := s.creds.HashPassword(req.Password)
	if err != nil {
		log.Printf("[AUTH] Password hashing failed for %s: %v", req.Email, err)
		SendDomainError(w, err)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("[AUTH] Transaction start failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	user, holder, err := s.createUserWithHolderTx(tx, req.Email, passwordHash, req.FirstName, req.LastName, dob)
	if err != nil {
		log.Printf("[AUTH] User creation failed for %s: %v", req.Email, err)
		SendDomainError(w, err)
		return
	}

	if err := s.audit.WriteTx(tx, AuditEntry{
		UserID:    &user.ID,
		EventType: "signup",
		Status:    models.AuditStatusSuccess,
		IPAddress: ipAddress,
		DeviceID:  deviceID,
	}); err != nil {
		log.Printf("[AUTH] Audit write failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[AUTH] Transaction commit failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] User created successfully - ID: %d, Email: %s", user.ID, user.Email)
	writeJSON(w, http.StatusCreated, SignupResponse{User: *user, AccountHolder: *holder})
}

// Login handles user authentication
// @Summary Authenticate and receive an access/refresh token pair
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} TokenResponse "Login successful"
// @Failure 401 {object} ErrorResponse "Invalid credentials"
// @Router /auth/login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	ipAddress, deviceID := RequestContext(r)
	log.Printf("[AUTH] Login attempt from IP: %s", ipAddress)

	var req LoginRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	user, err := s.authenticate(req.Email, req.Password)
	if err != nil {
		// The audit row commits in its own unit of work; the request itself
		// denies access with no transaction to commit.
		if auditErr := s.audit.Write(AuditEntry{
			EventType: "login",
			Status:    models.AuditStatusFailure,
			IPAddress: ipAddress,
			DeviceID:  deviceID,
			Metadata:  models.Metadata{"email": req.Email},
		}); auditErr != nil {
			log.Printf("[AUTH] Failed-login audit write failed: %v", auditErr)
		}
		SendDomainError(w, err)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	tokens, err := s.issueTokensTx(tx, user, ipAddress, deviceID)
	if err != nil {
		log.Printf("[AUTH] Token issuance failed for user %d: %v", user.ID, err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}
	if err := tx.Commit(); err != nil {
		log.Printf("[AUTH] Token issuance commit failed for user %d: %v", user.ID, err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Login successful for user %d", user.ID)
	writeJSON(w, http.StatusOK, tokens)
}

// Refresh rotates a refresh token
// @Summary Exchange a refresh token for a new token pair
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "Refresh request"
// @Success 200 {object} TokenResponse "Rotation successful"
// @Failure 401 {object} ErrorResponse "Invalid token"
// @Router /auth/refresh [post]
func (s *AuthService) Refresh(w http.ResponseWriter, r *http.Request) {
	ipAddress, deviceID := RequestContext(r)

	var req RefreshRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	tokens, err := s.RotateRefreshToken(req.RefreshToken, ipAddress, deviceID)
	if err != nil {
		log.Printf("[AUTH] Refresh rotation rejected from IP %s: %v", ipAddress, err)
		SendDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

// Logout revokes the session
// @Summary Blacklist the access token and revoke the refresh-token family
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string "Logout successful"
// @Router /auth/logout [post]
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	ipAddress, deviceID := RequestContext(r)
	userID, ok := r.Context().Value("userID").(int64)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req LogoutRequest
	// Body is optional; ignore decode errors on an empty body.
	_ = DecodeJSON(w, r, &req)

	if token, tokenOK := r.Context().Value("accessToken").(string); tokenOK && s.redis != nil {
		key := fmt.Sprintf("blacklist:%s", token)
		if err := s.redis.Set(context.Background(), key, "1", s.creds.jwt.AccessTokenTTL).Err(); err != nil {
			log.Printf("[AUTH] Failed to blacklist token: %v", err)
		}
	}

	if req.RefreshToken != "" {
		if err := s.revokeTokenFamily(req.RefreshToken, userID); err != nil {
			log.Printf("[AUTH] Failed to revoke refresh family for user %d: %v", userID, err)
		}
	}

	if err := s.audit.Write(AuditEntry{
		UserID:    &userID,
		EventType: "logout",
		Status:    models.AuditStatusSuccess,
		IPAddress: ipAddress,
		DeviceID:  deviceID,
	}); err != nil {
		log.Printf("[AUTH] Logout audit write failed: %v", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

// Me returns the authenticated principal
// @Summary Get the authenticated user's identity
// @Tags auth
// @Produce json
// @Success 200 {object} models.User "User identity"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Router /auth/me [get]
func (s *AuthService) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var user models.User
	err := s.db.QueryRow(`SELECT id, email, created_at FROM users WHERE id = $1`, userID).
		Scan(&user.ID, &user.Email, &user.CreatedAt)
	if err != nil {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// Session core

func (s *AuthService) createUserWithHolderTx(tx *sql.Tx, email, passwordHash, firstName, lastName string, dob time.Time) (*models.User, *models.AccountHolder, error) {
	user := &models.User{Email: email, PasswordHash: passwordHash}
	err := tx.QueryRow(`
		INSERT INTO users (email, password_hash, created_at)
		VALUES (LOWER($1), $2, $3)
		RETURNING id, email, created_at`,
		email, passwordHash, time.Now(),
	).Scan(&user.ID, &user.Email, &user.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return nil, nil, ErrEmailAlreadyRegistered
		}
		return nil, nil, err
	}

	holder := &models.AccountHolder{
		UserID:      user.ID,
		FirstName:   firstName,
		LastName:    lastName,
		DateOfBirth: dob,
	}
	err = tx.QueryRow(`
		INSERT INTO account_holders (user_id, first_name, last_name, dob, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		user.ID, firstName, lastName, dob, time.Now(),
	).Scan(&holder.ID, &holder.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return nil, nil, ErrAccountHolderAlreadyExists
		}
		return nil, nil, err
	}

	return user, holder, nil
}

// authenticate returns ErrInvalidCredentials for both unknown email and a
// wrong password; callers cannot enumerate accounts from the difference.
func (s *AuthService) authenticate(email, password string) (*models.User, error) {
	var user models.User
	err := s.db.QueryRow(`
		SELECT id, email, password_hash, created_at FROM users WHERE email = LOWER($1)`,
		email,
	).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if !s.creds.VerifyPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// issueTokensTx mints a fresh pair with a brand-new family id and persists
// the refresh row plus a login audit entry in the caller's unit of work.
func (s *AuthService) issueTokensTx(tx *sql.Tx, user *models.User, ipAddress, deviceID string) (*TokenResponse, error) {
	accessToken, expiresAt, err := s.creds.MintAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.creds.MintRefreshToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.insertRefreshTokenTx(tx, user.ID, s.creds.HashRefreshToken(refreshToken),
		uuid.NewString(), now, now.Add(s.refreshTTL), ipAddress, deviceID); err != nil {
		return nil, err
	}

	if err := s.audit.WriteTx(tx, AuditEntry{
		UserID:    &user.ID,
		EventType: "login",
		Status:    models.AuditStatusSuccess,
		IPAddress: ipAddress,
		DeviceID:  deviceID,
	}); err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int(time.Until(expiresAt).Seconds()),
	}, nil
}

// RotateRefreshToken drives the refresh-token state machine. The presented
// row is locked FOR UPDATE so two concurrent rotations of the same token
// yield exactly one success. A revoked row presented again signals reuse and
// fails; an expired row is marked revoked as a side effect of the failure —
// that revocation commits even though the rotation is denied, to keep
// forensic state about stale-token reuse.
func (s *AuthService) RotateRefreshToken(presented, ipAddress, deviceID string) (*TokenResponse, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	tokenHash := s.creds.HashRefreshToken(presented)

	var row models.RefreshToken
	err = tx.QueryRow(`
		SELECT id, user_id, family_id, issued_at, expires_at, revoked_at
		FROM refresh_tokens
		WHERE token_hash = $1
		FOR UPDATE`, tokenHash,
	).Scan(&row.ID, &row.UserID, &row.FamilyID, &row.IssuedAt, &row.ExpiresAt, &row.RevokedAt)
	if err == sql.ErrNoRows {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	if row.RevokedAt != nil {
		log.Printf("[AUTH] Revoked refresh token presented again - family %s, user %d", row.FamilyID, row.UserID)
		return nil, ErrInvalidToken
	}

	now := time.Now()
	if !row.ExpiresAt.After(now) {
		if _, err := tx.Exec(`UPDATE refresh_tokens SET revoked_at = $1 WHERE id = $2`, now, row.ID); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return nil, ErrInvalidToken
	}

	var user models.User
	err = tx.QueryRow(`SELECT id, email, created_at FROM users WHERE id = $1`, row.UserID).
		Scan(&user.ID, &user.Email, &user.CreatedAt)
	if err != nil {
		return nil, ErrInvalidToken
	}

	if _, err := tx.Exec(`UPDATE refresh_tokens SET revoked_at = $1 WHERE id = $2`, now, row.ID); err != nil {
		return nil, err
	}

	accessToken, expiresAt, err := s.creds.MintAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	newRefreshToken, err := s.creds.MintRefreshToken()
	if err != nil {
		return nil, err
	}

	// The new row keeps the old family id so reuse of any ancestor token
	// stays attributable to this login's chain.
	if err := s.insertRefreshTokenTx(tx, user.ID, s.creds.HashRefreshToken(newRefreshToken),
		row.FamilyID, now, now.Add(s.refreshTTL), ipAddress, deviceID); err != nil {
		return nil, err
	}

	if err := s.audit.WriteTx(tx, AuditEntry{
		UserID:    &user.ID,
		EventType: "token_refresh",
		Status:    models.AuditStatusSuccess,
		IPAddress: ipAddress,
		DeviceID:  deviceID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int(time.Until(expiresAt).Seconds()),
	}, nil
}

func (s *AuthService) insertRefreshTokenTx(tx *sql.Tx, userID int64, tokenHash, familyID string, issuedAt, expiresAt time.Time, ipAddress, deviceID string) error {
	_, err := tx.Exec(`
		INSERT INTO refresh_tokens (user_id, token_hash, family_id, issued_at, expires_at, ip_address, device_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		userID, tokenHash, familyID, issuedAt, expiresAt, ipAddress, deviceID)
	return err
}

// revokeTokenFamily revokes every live token descended from the same login
// as the presented token. Rows stay in place; only revoked_at changes.
func (s *AuthService) revokeTokenFamily(presented string, userID int64) error {
	tokenHash := s.creds.HashRefreshToken(presented)
	_, err := s.db.Exec(`
		UPDATE refresh_tokens SET revoked_at = NOW()
		WHERE revoked_at IS NULL
		  AND user_id = $2
		  AND family_id = (
			SELECT family_id FROM refresh_tokens WHERE token_hash = $1 AND user_id = $2
		  )`, tokenHash, userID)
	return err
}

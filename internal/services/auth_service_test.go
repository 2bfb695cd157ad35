package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthService(t *testing.T) (*AuthService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	creds := NewCredentials(testJWTConfig())
	service := NewAuthService(db, nil, creds, NewAuditService(db), 14*24*time.Hour)
	return service, mock, func() { db.Close() }
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestAuthService_Signup(t *testing.T) {
	service, mock, closeDB := newTestAuthService(t)
	defer closeDB()

	validBody := map[string]any{
		"email":      "ada@example.com",
		"password":   "supersecure123",
		"first_name": "Ada",
		"last_name":  "Lovelace",
		"dob":        "1990-01-01",
	}

	t.Run("successful signup creates user, holder and audit row in one unit of work", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO users").
			WithArgs("ada@example.com", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "created_at"}).
				AddRow(1, "ada@example.com", time.Now()))
		mock.ExpectQuery("INSERT INTO account_holders").
			WithArgs(int64(1), "Ada", "Lovelace", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))
		mock.ExpectExec("INSERT INTO audit_logs").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		w := postJSON(t, service.Signup, "/api/v1/auth/signup", validBody)

		assert.Equal(t, http.StatusCreated, w.Code)
		var resp SignupResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "ada@example.com", resp.User.Email)
		assert.Equal(t, int64(1), resp.AccountHolder.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate email maps to 409", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO users").
			WillReturnError(&pq.Error{Code: uniqueViolation})
		mock.ExpectRollback()

		w := postJSON(t, service.Signup, "/api/v1/auth/signup", validBody)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("oversized password rejected before any store access", func(t *testing.T) {
		body := map[string]any{}
		for k, v := range validBody {
			body[k] = v
		}
		body["password"] = strings.Repeat("a", 73)

		w := postJSON(t, service.Signup, "/api/v1/auth/signup", body)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("future date of birth rejected", func(t *testing.T) {
		body := map[string]any{}
		for k, v := range validBody {
			body[k] = v
		}
		body["dob"] = "2999-01-01"

		w := postJSON(t, service.Signup, "/api/v1/auth/signup", body)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing fields rejected by validation", func(t *testing.T) {
		w := postJSON(t, service.Signup, "/api/v1/auth/signup", map[string]any{"email": "ada@example.com"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthService_Login(t *testing.T) {
	service, mock, closeDB := newTestAuthService(t)
	defer closeDB()

	passwordHash, err := service.creds.HashPassword("supersecure123")
	require.NoError(t, err)

	t.Run("successful login issues a token pair", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email, password_hash, created_at FROM users").
			WithArgs("ada@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "created_at"}).
				AddRow(1, "ada@example.com", passwordHash, time.Now()))
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO refresh_tokens").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO audit_logs").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		w := postJSON(t, service.Login, "/api/v1/auth/login", map[string]any{
			"email": "ada@example.com", "password": "supersecure123",
		})

		assert.Equal(t, http.StatusOK, w.Code)
		var resp TokenResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "bearer", resp.TokenType)
		assert.NotEmpty(t, resp.AccessToken)
		assert.NotEmpty(t, resp.RefreshToken)
		assert.Greater(t, resp.ExpiresIn, 0)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown email denied with an audit trail", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email, password_hash, created_at FROM users").
			WithArgs("nobody@example.com").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO audit_logs").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		w := postJSON(t, service.Login, "/api/v1/auth/login", map[string]any{
			"email": "nobody@example.com", "password": "whatever123",
		})

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wrong password indistinguishable from unknown email", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email, password_hash, created_at FROM users").
			WithArgs("ada@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "created_at"}).
				AddRow(1, "ada@example.com", passwordHash, time.Now()))
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO audit_logs").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		w := postJSON(t, service.Login, "/api/v1/auth/login", map[string]any{
			"email": "ada@example.com", "password": "not-the-password",
		})

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, ErrInvalidCredentials.Error(), resp.Error)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuthService_RotateRefreshToken(t *testing.T) {
	refreshRow := func(revokedAt any, expiresAt time.Time) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "user_id", "family_id", "issued_at", "expires_at", "revoked_at"}).
			AddRow(11, 1, "4f9c6a1e-2d7b-4f7a-9a51-0c3de0e5b21a", time.Now().Add(-time.Hour), expiresAt, revokedAt)
	}

	t.Run("successful rotation revokes the old row and keeps the family id", func(t *testing.T) {
		service, mock, closeDB := newTestAuthService(t)
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, user_id, family_id").
			WillReturnRows(refreshRow(nil, time.Now().Add(time.Hour)))
		mock.ExpectQuery("SELECT id, email, created_at FROM users").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "created_at"}).
				AddRow(1, "ada@example.com", time.Now()))
		mock.ExpectExec("UPDATE refresh_tokens SET revoked_at").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO refresh_tokens").
			WithArgs(int64(1), sqlmock.AnyArg(), "4f9c6a1e-2d7b-4f7a-9a51-0c3de0e5b21a",
				sqlmock.AnyArg(), sqlmock.AnyArg(), "203.0.113.9", "device-1").
			WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectExec("INSERT INTO audit_logs").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		tokens, err := service.RotateRefreshToken("presented-token", "203.0.113.9", "device-1")
		require.NoError(t, err)
		assert.NotEmpty(t, tokens.AccessToken)
		assert.NotEmpty(t, tokens.RefreshToken)
		assert.NotEqual(t, "presented-token", tokens.RefreshToken)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown token rejected", func(t *testing.T) {
		service, mock, closeDB := newTestAuthService(t)
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, user_id, family_id").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := service.RotateRefreshToken("bogus", "203.0.113.9", "device-1")
		assert.ErrorIs(t, err, ErrInvalidToken)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("revoked token presented again is reuse, not rotation", func(t *testing.T) {
		service, mock, closeDB := newTestAuthService(t)
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, user_id, family_id").
			WillReturnRows(refreshRow(time.Now().Add(-time.Minute), time.Now().Add(time.Hour)))
		mock.ExpectRollback()

		_, err := service.RotateRefreshToken("stolen-token", "203.0.113.9", "device-1")
		assert.ErrorIs(t, err, ErrInvalidToken)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired token is marked revoked and that side effect commits", func(t *testing.T) {
		service, mock, closeDB := newTestAuthService(t)
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, user_id, family_id").
			WillReturnRows(refreshRow(nil, time.Now().Add(-time.Hour)))
		mock.ExpectExec("UPDATE refresh_tokens SET revoked_at").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		_, err := service.RotateRefreshToken("stale-token", "203.0.113.9", "device-1")
		assert.ErrorIs(t, err, ErrInvalidToken)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuthService_Logout(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	creds := NewCredentials(testJWTConfig())
	service := NewAuthService(db, redisClient, creds, NewAuditService(db), 14*24*time.Hour)

	t.Run("blacklists the access token and revokes the refresh family", func(t *testing.T) {
		redisMock.ExpectSet("blacklist:access-token-value", "1", 15*time.Minute).SetVal("OK")
		mock.ExpectExec("UPDATE refresh_tokens SET revoked_at").
			WithArgs(sqlmock.AnyArg(), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO audit_logs").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		payload, _ := json.Marshal(map[string]any{"refresh_token": "live-refresh-token"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		ctx := context.WithValue(req.Context(), "userID", int64(1))
		ctx = context.WithValue(ctx, "accessToken", "access-token-value")
		req = req.WithContext(ctx)

		w := httptest.NewRecorder()
		service.Logout(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("missing principal rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
		w := httptest.NewRecorder()
		service.Logout(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

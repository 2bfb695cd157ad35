package services

import (
	cryptorand "crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/coralbank/backend/internal/config"
)

// bcrypt truncates input beyond 72 bytes, so longer passwords are rejected
// outright instead of being silently weakened.
const maxPasswordBytes = 72

const refreshTokenBytes = 48

// AccessClaims is the signed claim set carried by access tokens.
type AccessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Credentials owns password hashing and token mint/verify. It is constructed
// once from config and shared by the auth service and middleware.
type Credentials struct {
	jwt config.JWTConfig
}

func NewCredentials(cfg config.JWTConfig) *Credentials {
	return &Credentials{jwt: cfg}
}

func (c *Credentials) HashPassword(password string) (string, error) {
	if len([]byte(password)) > maxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword never returns an error: an oversized password fails the
// same way a wrong one does.
func (c *Credentials) VerifyPassword(password, hash string) bool {
	if len([]byte(password)) > maxPasswordBytes {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// MintAccessToken signs a fresh access token for the user. The jti is random
// per token and only exists for log correlation; it is never persisted.
func (c *Credentials) MintAccessToken(userID int64, email string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(c.jwt.AccessTokenTTL)

	claims := AccessClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    c.jwt.Issuer,
			Audience:  jwt.ClaimStrings{c.jwt.Audience},
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.jwt.SecretKey))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// VerifyAccessToken validates signature, issuer, audience and expiry.
func (c *Credentials) VerifyAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return []byte(c.jwt.SecretKey), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.jwt.Issuer),
		jwt.WithAudience(c.jwt.Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// MintRefreshToken returns an opaque high-entropy token. Only its hash is
// ever stored.
func (c *Credentials) MintRefreshToken() (string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := cryptorand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashRefreshToken is a deterministic one-way hash used as lookup key and
// storage form. Refresh tokens are already high-entropy, so a slow password
// hash is unnecessary here.
func (c *Credentials) HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// UserID parses the numeric subject claim.
func (ac *AccessClaims) UserID() (int64, error) {
	return strconv.ParseInt(ac.Subject, 10, 64)
}


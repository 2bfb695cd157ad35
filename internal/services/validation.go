package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// DecodeJSON decodes a single JSON object from the request body with a 1 MB
// cap, rejecting unknown fields and trailing objects.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("request body must only contain a single JSON object")
	}
	return nil
}

// RequestContext extracts the caller IP and device id used for audit rows
// and refresh-token rows.
func RequestContext(r *http.Request) (ipAddress, deviceID string) {
	ipAddress = r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ipAddress = strings.TrimSpace(strings.Split(forwarded, ",")[0])
	} else if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		ipAddress = realIP
	}
	// RemoteAddr carries a port; forwarded headers usually do not. SplitHostPort
	// handles bracketed IPv6 literals, so leave the value alone when it fails.
	if host, _, err := net.SplitHostPort(ipAddress); err == nil && host != "" {
		ipAddress = host
	}

	deviceID = r.Header.Get("X-Device-Id")
	if deviceID == "" {
		deviceID = "unknown"
	}
	return ipAddress, deviceID
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	var ve validator.ValidationErrors
	if errors.As(validationErr, &ve) {
		errorResp.Details = make(map[string]string)
		for _, err := range ve {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendDomainError maps a domain error kind to its HTTP status code.
// Authentication failures deliberately share one opaque message.
func SendDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEmailAlreadyRegistered),
		errors.Is(err, ErrAccountHolderAlreadyExists):
		SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	case errors.Is(err, ErrAccountHolderNotFound),
		errors.Is(err, ErrAccountNotFound):
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, ErrAccountNotAccessible):
		SendErrorResponse(w, err.Error(), http.StatusForbidden, nil)
	case errors.Is(err, ErrCurrencyMismatch),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrSameAccountTransfer),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrPasswordTooLong),
		errors.Is(err, ErrUnsupportedTransactionType):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrInvalidToken):
		SendErrorResponse(w, err.Error(), http.StatusUnauthorized, nil)
	default:
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
	}
}

package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Account types
const (
	AccountTypeChecking = "checking"
	AccountTypeSavings  = "savings"
)

// Account statuses
const (
	AccountStatusActive = "active"
	AccountStatusFrozen = "frozen"
	AccountStatusClosed = "closed"
)

// Transaction types
const (
	TransactionTypeDeposit     = "deposit"
	TransactionTypeWithdrawal  = "withdrawal"
	TransactionTypeTransferIn  = "transfer_in"
	TransactionTypeTransferOut = "transfer_out"
)

// Card types and statuses
const (
	CardTypeVirtual  = "virtual"
	CardTypePhysical = "physical"

	CardStatusActive  = "active"
	CardStatusBlocked = "blocked"
)

// Audit statuses
const (
	AuditStatusSuccess = "success"
	AuditStatusFailure = "failure"
)

type User struct {
	ID           int64     `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

type AccountHolder struct {
	ID          int64     `json:"id" db:"id"`
	UserID      int64     `json:"user_id" db:"user_id"`
	FirstName   string    `json:"first_name" db:"first_name"`
	LastName    string    `json:"last_name" db:"last_name"`
	DateOfBirth time.Time `json:"dob" db:"dob"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Account balances are integer minor units; no floating point anywhere.
type Account struct {
	ID        int64     `json:"id" db:"id"`
	HolderID  int64     `json:"holder_id" db:"holder_id"`
	Type      string    `json:"type" db:"type"`
	Currency  string    `json:"currency" db:"currency"`
	Balance   int64     `json:"balance" db:"balance"`
	Status    string    `json:"status" db:"status"`
	Version   int       `json:"-" db:"version"` // optimistic lock guard
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Transaction rows are append-only; nothing updates or deletes them.
type Transaction struct {
	ID        int64     `json:"id" db:"id"`
	AccountID int64     `json:"account_id" db:"account_id"`
	Type      string    `json:"type" db:"type"`
	Amount    int64     `json:"amount" db:"amount"`
	Currency  string    `json:"currency" db:"currency"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Transfer struct {
	ID            int64     `json:"id" db:"id"`
	FromAccountID int64     `json:"from_account_id" db:"from_account_id"`
	ToAccountID   int64     `json:"to_account_id" db:"to_account_id"`
	Amount        int64     `json:"amount" db:"amount"`
	Currency      string    `json:"currency" db:"currency"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

type Card struct {
	ID        int64     `json:"id" db:"id"`
	AccountID int64     `json:"account_id" db:"account_id"`
	Type      string    `json:"type" db:"type"`
	Last4     string    `json:"last4" db:"last4"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// RefreshToken rows are retained after revocation for reuse forensics.
type RefreshToken struct {
	ID        int64      `json:"id" db:"id"`
	UserID    int64      `json:"user_id" db:"user_id"`
	TokenHash string     `json:"-" db:"token_hash"`
	FamilyID  string     `json:"family_id" db:"family_id"`
	IssuedAt  time.Time  `json:"issued_at" db:"issued_at"`
	ExpiresAt time.Time  `json:"expires_at" db:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at" db:"revoked_at"`
	IPAddress string     `json:"ip_address" db:"ip_address"`
	DeviceID  string     `json:"device_id" db:"device_id"`
}

type AuditLog struct {
	ID           int64     `json:"id" db:"id"`
	UserID       *int64    `json:"user_id" db:"user_id"`
	EventType    string    `json:"event_type" db:"event_type"`
	ResourceType string    `json:"resource_type,omitempty" db:"resource_type"`
	ResourceID   string    `json:"resource_id,omitempty" db:"resource_id"`
	Status       string    `json:"status" db:"status"`
	IPAddress    string    `json:"ip_address" db:"ip_address"`
	DeviceID     string    `json:"device_id" db:"device_id"`
	Metadata     Metadata  `json:"metadata,omitempty" db:"metadata"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Metadata type for JSONB fields
type Metadata map[string]any

// Value implements driver.Valuer for Metadata
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for Metadata
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, m)
}

package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/coralbank/backend/internal/models"
)

// AuditEntry describes one append-only audit row. UserID is nil for events
// with no resolved principal (e.g. a failed login for an unknown email).
type AuditEntry struct {
	UserID       *int64
	EventType    string
	ResourceType string
	ResourceID   string
	Status       string
	IPAddress    string
	DeviceID     string
	Metadata     models.Metadata
}

// AuditService appends audit rows and mirrors each one to the log stream.
type AuditService struct {
	db *sql.DB
}

func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// WriteTx appends an audit row inside the caller's transaction, so the row
// commits or rolls back with the operation it describes.
func (a *AuditService) WriteTx(tx *sql.Tx, entry AuditEntry) error {
	a.emit(entry)
	_, err := tx.Exec(`
		INSERT INTO audit_logs (user_id, event_type, resource_type, resource_id, status, ip_address, device_id, metadata, created_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9)`,
		entry.UserID, entry.EventType, entry.ResourceType, entry.ResourceID,
		entry.Status, entry.IPAddress, entry.DeviceID, entry.Metadata, time.Now())
	return err
}

// Write appends an audit row in its own short transaction. Used when the
// surrounding request fails and has no transaction of its own to commit,
// e.g. rejected logins: the trail must survive the denial.
func (a *AuditService) Write(entry AuditEntry) error {
	tx, err := a.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := a.WriteTx(tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (a *AuditService) emit(entry AuditEntry) {
	data, _ := json.Marshal(map[string]any{
		"timestamp":  time.Now(),
		"event_type": entry.EventType,
		"status":     entry.Status,
		"user_id":    entry.UserID,
		"ip_address": entry.IPAddress,
		"device_id":  entry.DeviceID,
		"metadata":   entry.Metadata,
	})
	log.Printf("AUDIT: %s", string(data))
}

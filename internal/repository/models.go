package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type Product struct {
	ID          uuid.UUID      `json:"id"`
	Sku         string         `json:"sku"`
	Ean         sql.NullString `json:"ean"`
	Name        string         `json:"name"`
	Category    string         `json:"category"`
	Claims      []string       `json:"claims"`
	Ingredients []string       `json:"ingredients"`
	Status      string         `json:"status"`
	QrCode      sql.NullString `json:"qr_code"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type LabReport struct {
	ID         uuid.UUID       `json:"id"`
	ProductID  uuid.UUID       `json:"product_id"`
	Laboratory string          `json:"laboratory"`
	Analysis   json.RawMessage `json:"analysis"`
	ReceivedAt time.Time       `json:"received_at"`
}

type Validation struct {
	ID              uuid.UUID             `json:"id"`
	ProductID       uuid.UUID             `json:"product_id"`
	ReportID        uuid.NullUUID         `json:"report_id"`
	Status          string                `json:"status"`
	ClaimsValidated pqtype.NullRawMessage `json:"claims_validated"`
	Findings        pqtype.NullRawMessage `json:"findings"`
	Verdict         sql.NullString        `json:"verdict"`
	Remarks         []string              `json:"remarks"`
	Reason          string                `json:"reason"`
	ValidatorID     sql.NullString        `json:"validator_id"`
	ValidatedAt     sql.NullTime          `json:"validated_at"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

type QueueEntry struct {
	ID            uuid.UUID      `json:"id"`
	ProductID     uuid.UUID      `json:"product_id"`
	ValidationID  uuid.UUID      `json:"validation_id"`
	Status        string         `json:"status"`
	Priority      int16          `json:"priority"`
	Category      string         `json:"category"`
	AssignedToID  sql.NullString `json:"assigned_to_id"`
	AssignedAt    sql.NullTime   `json:"assigned_at"`
	StartedAt     sql.NullTime   `json:"started_at"`
	CompletedAt   sql.NullTime   `json:"completed_at"`
	Attempts      int32          `json:"attempts"`
	MaxAttempts   int32          `json:"max_attempts"`
	QueuedAt      time.Time      `json:"queued_at"`
	LastAttemptAt sql.NullTime   `json:"last_attempt_at"`
	NextRetryAt   sql.NullTime   `json:"next_retry_at"`
	DueDate       time.Time      `json:"due_date"`
	Error         sql.NullString `json:"error"`
	AutoProcess   bool           `json:"auto_process"`
	Version       int32          `json:"version"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

type QueueHistory struct {
	ID             int64          `json:"id"`
	QueueEntryID   uuid.UUID      `json:"queue_entry_id"`
	Action         string         `json:"action"`
	PreviousStatus sql.NullString `json:"previous_status"`
	NewStatus      string         `json:"new_status"`
	ActorID        sql.NullString `json:"actor_id"`
	Reason         sql.NullString `json:"reason"`
	CreatedAt      time.Time      `json:"created_at"`
}

type QrAccess struct {
	ID         int64          `json:"id"`
	QrCode     string         `json:"qr_code"`
	AccessedAt time.Time      `json:"accessed_at"`
	IpAddress  pqtype.Inet    `json:"ip_address"`
	UserAgent  sql.NullString `json:"user_agent"`
	Location   sql.NullString `json:"location"`
}

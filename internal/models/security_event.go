package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types for the security audit trail
const (
	EventLoginSucceeded          = "login_succeeded"
	EventLoginFailed             = "login_failed"
	EventLockoutTriggered        = "lockout_triggered"
	EventLogout                  = "logout"
	EventTwoFactorSetup          = "two_factor_setup"
	EventTwoFactorEnabled        = "two_factor_enabled"
	EventTwoFactorVerified       = "two_factor_verified"
	EventTwoFactorDisabled       = "two_factor_disabled"
	EventBackupCodeUsed          = "two_factor_backup_code_used"
	EventBackupCodesRegenerated  = "two_factor_backup_codes_regenerated"
	EventPhoneCodeSent           = "phone_code_sent"
	EventPhoneVerified           = "phone_verified"
	EventSecurityQuestionsSaved  = "security_questions_updated"
	EventSecurityQuestionsCheck  = "security_questions_verified"
	EventSessionCreated          = "session_created"
	EventSessionTerminated       = "session_terminated"
	EventSessionsTerminatedOther = "sessions_terminated_others"
	EventSessionExpired          = "session_expired"
)

// Event status values
const (
	EventStatusSuccess = "success"
	EventStatusFailure = "failure"
)

// SecurityEvent is an append-only audit record.
type SecurityEvent struct {
	ID          uuid.UUID     `db:"id" json:"id"`
	UserID      *string       `db:"user_id" json:"user_id,omitempty"`
	EventType   string        `db:"event_type" json:"event_type"`
	Description string        `db:"description" json:"description"`
	Status      string        `db:"status" json:"status"`
	IPAddress   *string       `db:"ip_address" json:"ip_address,omitempty"`
	Metadata    EventMetadata `db:"metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
}

// EventMetadata holds additional context for security events
type EventMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (m *EventMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = make(EventMetadata)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return ErrBadRequest
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(bytes, &decoded); err != nil {
		return err
	}
	*m = EventMetadata(decoded)
	return nil
}

// Value implements driver.Valuer for JSONB
func (m EventMetadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(map[string]interface{}(m))
}

package models

import (
	"time"
)

// TwoFactorConfig is the TOTP enrolment of a single user.
type TwoFactorConfig struct {
	UserID           string
	SecretEncrypted  []byte // AES-256-GCM encrypted base32 secret
	SecretNonce      []byte // GCM nonce (12 bytes)
	BackupCodeHashes []string
	Enabled          bool
	VerifiedAt       *time.Time
	LastUsedStep     *int64 // For replay prevention
	CreatedAt        time.Time
}

// QRPayload is what an authenticator app scans during enrolment.
type QRPayload struct {
	OTPAuthURL string `json:"otpauth_url"`
	PNGDataURL string `json:"png_data_url"`
}

// TwoFactorSetup is returned once, at enrolment. It is the only time the
// plaintext secret and backup codes leave the service.
type TwoFactorSetup struct {
	Secret      string
	QRPayload   QRPayload
	BackupCodes []string
}

// TwoFactorVerifyResult describes a successful verification.
type TwoFactorVerifyResult struct {
	UsedBackupCode       bool
	Enabled              bool
	JustEnabled          bool
	RemainingBackupCodes int
}

// TwoFactorStatus is the user-facing enrolment state.
type TwoFactorStatus struct {
	Enabled              bool       `json:"enabled"`
	Pending              bool       `json:"pending"`
	VerifiedAt           *time.Time `json:"verified_at,omitempty"`
	RemainingBackupCodes int        `json:"remaining_backup_codes"`
}

package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	TOTPPeriod       = 30 // seconds per step
	TOTPDigits       = 6
	TOTPWindowSteps  = 2 // steps accepted either side of now
	BackupCodeCount  = 10
	BackupCodeLength = 8

	// Uppercase alphanumerics without 0/O/1/I/L
	backupCodeCharset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
	qrCodeSize        = 256
)

var totpOpts = totp.ValidateOpts{
	Period:    TOTPPeriod,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// TOTPManager handles TOTP key generation, secret encryption and code matching
type TOTPManager struct {
	encryptionKey []byte // 32-byte AES-256 key
	issuer        string
}

// TOTPKey is a freshly generated, not yet stored, TOTP secret
type TOTPKey struct {
	Secret     string // base32
	OTPAuthURL string
	QRDataURL  string // data:image/png;base64,...
}

// NewTOTPManager creates a new TOTP manager
// encryptionKey must be exactly 32 bytes for AES-256
func NewTOTPManager(encryptionKey []byte, issuer string) (*TOTPManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}

	return &TOTPManager{
		encryptionKey: encryptionKey,
		issuer:        issuer,
	}, nil
}

// GenerateKey creates a secret for accountName plus its provisioning URL and QR code
func (tm *TOTPManager) GenerateKey(accountName string) (*TOTPKey, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountName,
		SecretSize:  20, // 160 bits, RFC 4226 recommendation for SHA1
		Period:      TOTPPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	png, err := qrcode.Encode(key.URL(), qrcode.Medium, qrCodeSize)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &TOTPKey{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
		QRDataURL:  "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}, nil
}

// EncryptSecret encrypts a TOTP secret using AES-256-GCM
// Returns: (ciphertext, nonce, error)
func (tm *TOTPManager) EncryptSecret(secret string) ([]byte, []byte, error) {
	gcm, err := tm.gcm()
	if err != nil {
		return nil, nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nil, nonce, []byte(secret), nil), nonce, nil
}

// DecryptSecret reverses EncryptSecret
func (tm *TOTPManager) DecryptSecret(ciphertext, nonce []byte) (string, error) {
	gcm, err := tm.gcm()
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("invalid nonce length %d", len(nonce))
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}

	return string(plaintext), nil
}

func (tm *TOTPManager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// StepAt returns the TOTP time step containing t
func StepAt(t time.Time) int64 {
	return t.Unix() / TOTPPeriod
}

// MatchStep compares code against the codes of the steps within
// TOTPWindowSteps of now. It returns the matching step, if any. Every
// candidate is computed and compared so the result does not depend on
// which offset matched.
func (tm *TOTPManager) MatchStep(secret, code string, now time.Time) (int64, bool, error) {
	var (
		matched bool
		step    int64
	)

	for offset := -TOTPWindowSteps; offset <= TOTPWindowSteps; offset++ {
		at := now.Add(time.Duration(offset*TOTPPeriod) * time.Second)
		expected, err := totp.GenerateCodeCustom(secret, at, totpOpts)
		if err != nil {
			return 0, false, fmt.Errorf("failed to generate TOTP code: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 && !matched {
			matched = true
			step = StepAt(at)
		}
	}

	return step, matched, nil
}

// CodeAt returns the code for secret at t
func CodeAt(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t, totpOpts)
}

// GenerateBackupCodes returns count random single-use recovery codes
func GenerateBackupCodes(count int) ([]string, error) {
	codes := make([]string, count)
	for i := range codes {
		code, err := RandomString(backupCodeCharset, BackupCodeLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		codes[i] = code
	}
	return codes, nil
}

// HashBackupCode returns the hex SHA-256 of the normalised code
func HashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(strings.ToUpper(strings.TrimSpace(code))))
	return hex.EncodeToString(sum[:])
}

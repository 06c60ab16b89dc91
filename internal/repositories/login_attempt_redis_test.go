package repositories

import (
	"fmt"
	"testing"
	"time"

	"github.com/carebridge/accountsec/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockoutHash_RoundTripWithLockout(t *testing.T) {
	until := time.Date(2026, 3, 1, 12, 0, 20, 0, time.UTC)
	rec := &models.LoginAttemptRecord{
		IdentityKey:  "account:a@example.com",
		FailureCount: 3,
		LockoutUntil: &until,
		UpdatedAt:    until.Add(-20 * time.Second),
	}

	encoded := encodeLockoutHash(rec)
	fields := make(map[string]string, len(encoded))
	for k, v := range encoded {
		fields[k] = fmt.Sprint(v)
	}

	decoded, err := decodeLockoutHash(rec.IdentityKey, fields)
	require.NoError(t, err)
	assert.Equal(t, 3, decoded.FailureCount)
	require.NotNil(t, decoded.LockoutUntil)
	assert.True(t, until.Equal(*decoded.LockoutUntil))
	assert.True(t, rec.UpdatedAt.Equal(decoded.UpdatedAt))
}

func TestLockoutHash_NoLockoutField(t *testing.T) {
	rec := &models.LoginAttemptRecord{FailureCount: 2}
	encoded := encodeLockoutHash(rec)

	_, hasLockout := encoded[fieldLockoutUntil]
	assert.False(t, hasLockout)
}

func TestDecodeLockoutHash_Corrupt(t *testing.T) {
	_, err := decodeLockoutHash("k", map[string]string{fieldFailureCount: "three"})
	assert.Error(t, err)
}

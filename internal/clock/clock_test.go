package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_Advance(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewFake(start)

	assert.Equal(t, start, c.Now())

	c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), c.Now())
}

func TestFake_SetNormalisesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	c := NewFake(time.Time{})

	c.Set(time.Date(2026, 3, 1, 14, 0, 0, 0, loc))

	assert.Equal(t, time.UTC, c.Now().Location())
	assert.Equal(t, 12, c.Now().Hour())
}

func TestReal_ReturnsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, Real{}.Now().Location())
}

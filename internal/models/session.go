package models

import (
	"fmt"
	"time"
)

// ActiveSession is one authenticated device/browser of a user.
type ActiveSession struct {
	ID           string    `db:"id" json:"id"`
	UserID       string    `db:"user_id" json:"user_id"`
	DeviceInfo   string    `db:"device_info" json:"device_info"`
	IPAddress    string    `db:"ip_address" json:"ip_address"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	LastActivity time.Time `db:"last_activity" json:"last_activity"`
}

// SessionTimeoutPolicy controls idle logout.
type SessionTimeoutPolicy struct {
	IdleTimeout     time.Duration
	WarningLeadTime time.Duration
}

func (p SessionTimeoutPolicy) Validate() error {
	if p.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive (got %s)", p.IdleTimeout)
	}
	if p.WarningLeadTime <= 0 || p.WarningLeadTime >= p.IdleTimeout {
		return fmt.Errorf("warning lead time %s must be positive and shorter than idle timeout %s",
			p.WarningLeadTime, p.IdleTimeout)
	}
	return nil
}

// SessionState is the timeout monitor's view of a session.
type SessionState string

const (
	SessionStateActive  SessionState = "active"
	SessionStateWarning SessionState = "warning"
	SessionStateExpired SessionState = "expired"
)

// MonitorStatus is one observation of a monitored session.
type MonitorStatus struct {
	State     SessionState
	Remaining time.Duration
}

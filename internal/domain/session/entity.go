// Package session defines the session metadata model shared by the
// fleet controller and the storage layer.
package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Source identifies which origination path owns a session.
type Source string

const (
	SourceTelegram Source = "telegram"
	SourceWeb      Source = "web"
)

// Web user ids are allocated from a dedicated integer range so the
// source can be recovered from the user id alone.
const (
	WebUserIDMin = 1_000_000_000
	WebUserIDMax = 1_999_999_999
)

// Status represents the connection status of a session
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusReconnecting Status = "reconnecting"
	StatusAuthMissing  Status = "auth_missing"
	StatusFailed       Status = "failed"
	StatusError        Status = "error"
)

// IsValid checks if the status is a known value
func (s Status) IsValid() bool {
	switch s {
	case StatusConnecting, StatusConnected, StatusDisconnected,
		StatusReconnecting, StatusAuthMissing, StatusFailed, StatusError:
		return true
	default:
		return false
	}
}

// Session is the persisted metadata row for one WhatsApp session.
// Runtime state (socket handle, callbacks, lifecycle flags) is owned
// by the fleet manager and never persisted.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	SessionID            string    `bun:"session_id,pk" json:"session_id"`
	UserID               string    `bun:"user_id,notnull" json:"user_id"`
	PhoneNumber          string    `bun:"phone_number" json:"phone_number,omitempty"`
	Source               Source    `bun:"source,notnull" json:"source"`
	Status               Status    `bun:"status,notnull" json:"status"`
	IsConnected          bool      `bun:"is_connected" json:"is_connected"`
	ReconnectAttempts    int       `bun:"reconnect_attempts" json:"reconnect_attempts"`
	Detected             bool      `bun:"detected" json:"detected"`
	DetectionError       string    `bun:"detection_error" json:"detection_error,omitempty"`
	LastDetectionAttempt time.Time `bun:"last_detection_attempt,nullzero" json:"last_detection_attempt,omitempty"`
	CreatedAt            time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt            time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// UserSettings stores per-user preferences read by the ingress,
// currently only the command prefix ("none" means empty prefix).
type UserSettings struct {
	bun.BaseModel `bun:"table:user_settings,alias:us"`

	UserID    string    `bun:"user_id,pk" json:"user_id"`
	Prefix    string    `bun:"prefix,notnull,default:'.'" json:"prefix"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// IDFor returns the canonical session id for a user id
func IDFor(userID string) string {
	return fmt.Sprintf("session_%s", userID)
}

// UserIDFrom extracts the user id from a canonical session id
func UserIDFrom(sessionID string) string {
	return strings.TrimPrefix(sessionID, "session_")
}

// SourceForUserID recovers the origination path from the user id range
func SourceForUserID(userID string) Source {
	n, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return SourceTelegram
	}
	if n >= WebUserIDMin && n <= WebUserIDMax {
		return SourceWeb
	}
	return SourceTelegram
}

// New builds a fresh session row for a user
func New(userID, phoneNumber string, source Source) *Session {
	now := time.Now()
	return &Session{
		SessionID:   IDFor(userID),
		UserID:      userID,
		PhoneNumber: phoneNumber,
		Source:      source,
		Status:      StatusConnecting,
		Detected:    source == SourceTelegram,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Touch updates the modification timestamp
func (s *Session) Touch() {
	s.UpdatedAt = time.Now()
}

// Package policy is the authoritative disconnect-code routing table.
// It is pure data plus query helpers; all reconnection decisions in
// the fleet controller flow through it.
package policy

import (
	"strings"
	"time"
)

// Well-known disconnect status codes
const (
	CodeLoggedOut           = 401
	CodeForbidden           = 403
	CodeMethodNotAllowed    = 405
	CodeTimedOut            = 408
	CodeConflict            = 409
	CodeConnectionClosed    = 428
	CodeTooManyRequests     = 429
	CodeConnectionReplaced  = 440
	CodeInternalServerError = 500
	CodeUnavailable         = 503
	CodeRestartRequired     = 515
	CodeStreamErrorUnknown  = 516
)

// Entry is one row of the disconnect policy table
type Entry struct {
	ShouldReconnect       bool
	IsPermanent           bool
	RequiresAuthClear     bool
	PreserveCreds         bool
	RequiresCleanup       bool
	RequiresNotification  bool
	ClearVoluntaryFlag    bool
	Supports515Flow       bool
	Skip                  bool
	ReconnectDelay        time.Duration
	UseExponentialBackoff bool
	MaxDelay              time.Duration
	MaxAttempts           int
	Message               string
	UserAction            string
}

// table maps status codes to their policy rows. Codes absent from the
// table use unknownEntry.
var table = map[int]Entry{
	CodeLoggedOut: {
		IsPermanent:          true,
		RequiresCleanup:      true,
		RequiresNotification: true,
		Message:              "logged out from phone",
		UserAction:           "Use /connect to pair again.",
	},
	CodeForbidden: {
		IsPermanent:          true,
		RequiresCleanup:      true,
		RequiresNotification: true,
		Message:              "account banned or access forbidden",
		UserAction:           "This account can no longer connect.",
	},
	CodeMethodNotAllowed: {
		Skip:    true,
		Message: "method not allowed (ignored)",
	},
	CodeTimedOut: {
		IsPermanent:          true,
		RequiresCleanup:      true,
		RequiresNotification: true,
		Message:              "connection timed out permanently",
		UserAction:           "Use /connect to pair again.",
	},
	CodeConflict: {
		ShouldReconnect:    true,
		ClearVoluntaryFlag: true,
		ReconnectDelay:     5 * time.Second,
		MaxAttempts:        5,
		Message:            "stream conflict",
	},
	CodeConnectionClosed: {
		ShouldReconnect: true,
		ReconnectDelay:  6 * time.Second,
		MaxAttempts:     10,
		Message:         "connection closed",
	},
	CodeTooManyRequests: {
		ShouldReconnect:       true,
		ReconnectDelay:        5 * time.Second,
		UseExponentialBackoff: true,
		MaxDelay:              5 * time.Minute,
		MaxAttempts:           10,
		Message:               "rate limited",
	},
	CodeConnectionReplaced: {
		ShouldReconnect:   true,
		RequiresAuthClear: true,
		PreserveCreds:     true,
		ReconnectDelay:    8 * time.Second,
		MaxAttempts:       5,
		Message:           "connection replaced by another client",
	},
	CodeInternalServerError: {
		ShouldReconnect:   true,
		RequiresAuthClear: true,
		PreserveCreds:     true,
		ReconnectDelay:    10 * time.Second,
		MaxAttempts:       5,
		Message:           "server internal error",
	},
	CodeUnavailable: {
		ShouldReconnect: true,
		ReconnectDelay:  10 * time.Second,
		MaxAttempts:     7,
		Message:         "service unavailable",
	},
	CodeRestartRequired: {
		ShouldReconnect: true,
		Supports515Flow: true,
		ReconnectDelay:  2 * time.Second,
		MaxAttempts:     10,
		Message:         "restart required after pairing",
	},
	CodeStreamErrorUnknown: {
		ShouldReconnect: true,
		Supports515Flow: true,
		ReconnectDelay:  3 * time.Second,
		MaxAttempts:     10,
		Message:         "unknown stream error",
	},
}

// badSessionEntry is the 500 variant selected when the error text
// carries a bad-session/bad-MAC hint.
var badSessionEntry = Entry{
	ShouldReconnect:   true,
	RequiresAuthClear: true,
	PreserveCreds:     true,
	ReconnectDelay:    2 * time.Second,
	MaxAttempts:       10,
	Message:           "bad session state",
}

// unknownEntry is the default-safe row for codes not in the table
var unknownEntry = Entry{
	ShouldReconnect:   true,
	RequiresAuthClear: true,
	PreserveCreds:     true,
	ReconnectDelay:    10 * time.Second,
	MaxAttempts:       3,
	Message:           "unknown disconnect reason",
}

// badSessionHints select the BAD_SESSION curve for code 500
var badSessionHints = []string{"bad session", "bad mac", "bad-mac"}

// Lookup returns the policy row for a status code. errText
// disambiguates the shared 500 code.
func Lookup(code int, errText string) Entry {
	if code == CodeInternalServerError && isBadSessionHint(errText) {
		return badSessionEntry
	}
	if entry, ok := table[code]; ok {
		return entry
	}
	return unknownEntry
}

// Unknown returns the default-safe row used for unclassifiable errors
func Unknown() Entry {
	return unknownEntry
}

func isBadSessionHint(errText string) bool {
	lower := strings.ToLower(errText)
	for _, hint := range badSessionHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// ShouldReconnect reports whether the code is a reconnection candidate
func ShouldReconnect(code int, errText string) bool {
	return Lookup(code, errText).ShouldReconnect
}

// IsPermanent reports whether the code terminates the session
func IsPermanent(code int, errText string) bool {
	return Lookup(code, errText).IsPermanent
}

// RequiresAuthClear reports whether non-cred auth blobs must be wiped
func RequiresAuthClear(code int, errText string) bool {
	return Lookup(code, errText).RequiresAuthClear
}

// RequiresCleanup reports whether full cleanup must run
func RequiresCleanup(code int, errText string) bool {
	return Lookup(code, errText).RequiresCleanup
}

// RequiresNotification reports whether the user must be notified
func RequiresNotification(code int, errText string) bool {
	return Lookup(code, errText).RequiresNotification
}

// ShouldClearVoluntaryFlag reports whether the voluntary-disconnect
// flag must be cleared for this code
func ShouldClearVoluntaryFlag(code int, errText string) bool {
	return Lookup(code, errText).ClearVoluntaryFlag
}

// Supports515Flow reports whether the code follows the post-pairing
// restart sequence
func Supports515Flow(code int) bool {
	return Lookup(code, "").Supports515Flow
}

// ShouldSkip reports whether the code must be ignored entirely
func ShouldSkip(code int) bool {
	return Lookup(code, "").Skip
}

// ReconnectDelay computes the delay before reconnection attempt n
// (0-based), applying exponential backoff when the row requires it.
func ReconnectDelay(code int, errText string, attempt int) time.Duration {
	entry := Lookup(code, errText)
	delay := entry.ReconnectDelay
	if delay <= 0 {
		delay = unknownEntry.ReconnectDelay
	}
	if !entry.UseExponentialBackoff {
		return delay
	}
	for i := 0; i < attempt; i++ {
		delay *= 2
		if entry.MaxDelay > 0 && delay >= entry.MaxDelay {
			return entry.MaxDelay
		}
	}
	return delay
}

// MaxAttempts returns the reconnection attempt budget for a code
func MaxAttempts(code int, errText string) int {
	entry := Lookup(code, errText)
	if entry.MaxAttempts <= 0 {
		return unknownEntry.MaxAttempts
	}
	return entry.MaxAttempts
}

// UserAction returns the user-facing remediation text for a code
func UserAction(code int) string {
	return Lookup(code, "").UserAction
}

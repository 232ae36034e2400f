package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLookupPermanentCodes(t *testing.T) {
	for _, code := range []int{CodeLoggedOut, CodeForbidden, CodeTimedOut} {
		entry := Lookup(code, "")
		assert.True(t, entry.IsPermanent, "code %d should be permanent", code)
		assert.False(t, entry.ShouldReconnect, "code %d should not reconnect", code)
		assert.True(t, entry.RequiresCleanup, "code %d should require cleanup", code)
		assert.True(t, entry.RequiresNotification, "code %d should notify", code)
	}
}

func TestMethodNotAllowedIsSkipped(t *testing.T) {
	assert.True(t, ShouldSkip(CodeMethodNotAllowed))
	assert.False(t, ShouldReconnect(CodeMethodNotAllowed, ""))
	assert.False(t, IsPermanent(CodeMethodNotAllowed, ""))
}

func Test515FlowCodes(t *testing.T) {
	for _, code := range []int{CodeRestartRequired, CodeStreamErrorUnknown} {
		entry := Lookup(code, "")
		assert.True(t, entry.Supports515Flow, "code %d", code)
		assert.True(t, entry.ShouldReconnect, "code %d", code)
		assert.Equal(t, 10, entry.MaxAttempts, "code %d", code)

		delay := ReconnectDelay(code, "", 0)
		assert.GreaterOrEqual(t, delay, 2*time.Second, "code %d", code)
		assert.LessOrEqual(t, delay, 3*time.Second, "code %d", code)
	}
}

func TestUnknownCodeDefaults(t *testing.T) {
	entry := Lookup(999, "")
	assert.True(t, entry.ShouldReconnect)
	assert.True(t, entry.RequiresAuthClear)
	assert.True(t, entry.PreserveCreds)
	assert.Equal(t, 10*time.Second, entry.ReconnectDelay)
	assert.Equal(t, 3, entry.MaxAttempts)
}

func TestBadSessionDisambiguation(t *testing.T) {
	plain := Lookup(CodeInternalServerError, "stream errored")
	assert.Equal(t, 10*time.Second, plain.ReconnectDelay)
	assert.Equal(t, 5, plain.MaxAttempts)

	bad := Lookup(CodeInternalServerError, "Bad MAC error in decryption")
	assert.Equal(t, 2*time.Second, bad.ReconnectDelay)
	assert.Equal(t, 10, bad.MaxAttempts)
	assert.True(t, bad.PreserveCreds)
	assert.True(t, bad.RequiresAuthClear)
}

func TestExponentialBackoffCaps(t *testing.T) {
	base := ReconnectDelay(CodeTooManyRequests, "", 0)
	assert.Equal(t, 5*time.Second, base)

	second := ReconnectDelay(CodeTooManyRequests, "", 1)
	assert.Equal(t, 10*time.Second, second)

	// 5s * 2^10 far exceeds the cap
	capped := ReconnectDelay(CodeTooManyRequests, "", 10)
	assert.Equal(t, 5*time.Minute, capped)
}

func TestFixedDelayIgnoresAttempt(t *testing.T) {
	assert.Equal(t, ReconnectDelay(CodeConflict, "", 0), ReconnectDelay(CodeConflict, "", 4))
}

func TestConflictClearsVoluntaryFlag(t *testing.T) {
	assert.True(t, ShouldClearVoluntaryFlag(CodeConflict, ""))
	assert.False(t, ShouldClearVoluntaryFlag(CodeUnavailable, ""))
}

func TestUserActionPresentOnNotifiableCodes(t *testing.T) {
	assert.NotEmpty(t, UserAction(CodeLoggedOut))
	assert.NotEmpty(t, UserAction(CodeForbidden))
	assert.Empty(t, UserAction(CodeConflict))
}

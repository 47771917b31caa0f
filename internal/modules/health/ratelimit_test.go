package health

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_PerClient(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newRateLimiter(3, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "request %d", i)
	}
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))

	// один токен в 20 секунд
	now = now.Add(20 * time.Second)
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newRateLimiter(60, func() time.Time { return now })
	for i := 0; i < maxTrackedClients; i++ {
		l.Allow(string(rune('a'+i%26)) + time.Duration(i).String())
	}
	assert.Len(t, l.clients, maxTrackedClients)

	now = now.Add(2 * time.Minute)
	l.Allow("fresh")
	assert.Len(t, l.clients, 1)
}

func TestClientAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/health", nil)
	r.RemoteAddr = "192.0.2.7:5555"
	assert.Equal(t, "192.0.2.7", clientAddr(r))
	r.RemoteAddr = "unix"
	assert.Equal(t, "unix", clientAddr(r))
}

package netutil

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAllowedIP(t *testing.T) {
	cidrs := []string{"10.0.0.0/8", "not-a-cidr", "2001:db8::/32"}

	tests := []struct {
		ip   string
		want bool
	}{
		{ip: "10.1.2.3", want: true},
		{ip: "11.1.2.3", want: false},
		{ip: "2001:db8::1", want: true},
		{ip: "garbage", want: false},
		{ip: "", want: false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.ip, func(t *testing.T) {
			assert.Equal(t, tc.want, IsAllowedIP(tc.ip, cidrs))
		})
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("POST", "/webhooks/payments", nil)
	r.RemoteAddr = "192.0.2.10:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	assert.Equal(t, "192.0.2.10", ClientIP(r, false))
	assert.Equal(t, "203.0.113.7", ClientIP(r, true))

	r.Header.Set("X-Forwarded-For", "unknown")
	assert.Equal(t, "192.0.2.10", ClientIP(r, true))
}

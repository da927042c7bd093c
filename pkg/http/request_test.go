package http_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

func TestExtractClientIP(t *testing.T) {
	proxies := &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8", "fd00::/8"}}

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		config     *pkghttp.IPConfig
		want       string
	}{
		{
			name:       "direct connection ignores forwarded headers",
			remoteAddr: "203.0.113.7:52100",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4", "X-Real-IP": "5.6.7.8"},
			config:     proxies,
			want:       "203.0.113.7",
		},
		{
			name:       "trusted proxy uses first forwarded address",
			remoteAddr: "10.1.2.3:443",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.4, 10.1.2.3"},
			config:     proxies,
			want:       "198.51.100.4",
		},
		{
			name:       "trusted proxy skips garbage entries",
			remoteAddr: "10.1.2.3:443",
			headers:    map[string]string{"X-Forwarded-For": "not-an-ip, 198.51.100.9"},
			config:     proxies,
			want:       "198.51.100.9",
		},
		{
			name:       "trusted proxy falls back to X-Real-IP",
			remoteAddr: "10.1.2.3:443",
			headers:    map[string]string{"X-Real-IP": "198.51.100.5"},
			config:     proxies,
			want:       "198.51.100.5",
		},
		{
			name:       "ipv6 trusted proxy",
			remoteAddr: "[fd00::1]:443",
			headers:    map[string]string{"X-Forwarded-For": "2001:db8::1"},
			config:     proxies,
			want:       "2001:db8::1",
		},
		{
			name:       "nil config never trusts headers",
			remoteAddr: "127.0.0.1:9000",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4"},
			want:       "127.0.0.1",
		},
		{
			name:       "invalid CIDR is ignored",
			remoteAddr: "10.1.2.3:443",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4"},
			config:     &pkghttp.IPConfig{TrustedProxies: []string{"not-a-cidr"}},
			want:       "10.1.2.3",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "192.0.2.10",
			want:       "192.0.2.10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/auth/login", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, pkghttp.ExtractClientIP(req, tt.config))
		})
	}
}

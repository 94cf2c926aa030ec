package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestTrustedRealIP(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	tests := []struct {
		name       string
		trusted    []netip.Prefix
		remoteAddr string
		xff        string
		xRealIP    string
		want       string
	}{
		{
			name:       "no proxies configured ignores headers",
			remoteAddr: "203.0.113.7:5000",
			xff:        "198.51.100.1",
			want:       "203.0.113.7",
		},
		{
			name:       "untrusted peer ignores headers",
			trusted:    trusted,
			remoteAddr: "203.0.113.7:5000",
			xff:        "198.51.100.1",
			xRealIP:    "198.51.100.2",
			want:       "203.0.113.7",
		},
		{
			name:       "trusted peer uses forwarded client",
			trusted:    trusted,
			remoteAddr: "10.1.2.3:5000",
			xff:        "198.51.100.1",
			want:       "198.51.100.1",
		},
		{
			name:       "spoofed left entries are skipped",
			trusted:    trusted,
			remoteAddr: "10.1.2.3:5000",
			xff:        "1.2.3.4, 198.51.100.1, 10.0.0.5",
			want:       "198.51.100.1",
		},
		{
			name:       "trusted peer falls back to X-Real-IP",
			trusted:    trusted,
			remoteAddr: "10.1.2.3:5000",
			xRealIP:    "198.51.100.2",
			want:       "198.51.100.2",
		},
		{
			name:       "garbage header keeps peer",
			trusted:    trusted,
			remoteAddr: "10.1.2.3:5000",
			xff:        "not-an-ip",
			want:       "10.1.2.3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			handler := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = clientIP(r)
			}))

			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("client ip = %q, want %q", got, tt.want)
			}
		})
	}
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestTrustedCIDR(t *testing.T) {
	cases := []struct {
		name   string
		cidr   string
		realIP string
		remote string
		want   int
	}{
		{"empty_allows_all", "", "", "203.0.113.1:1234", http.StatusOK},
		{"inside", "10.0.0.0/24", "10.0.0.42", "203.0.113.1:1234", http.StatusOK},
		{"outside", "10.0.0.0/24", "192.168.1.10", "10.0.0.1:1234", http.StatusForbidden},
		{"remote_addr_fallback", "10.0.0.0/24", "", "10.0.0.7:5555", http.StatusOK},
		{"garbage_header", "10.0.0.0/24", "nope", "10.0.0.7:5555", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mw, err := TrustedCIDR(tc.cidr)
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			rr := httptest.NewRecorder()
			mw(okHandler()).ServeHTTP(rr, req)
			require.Equal(t, tc.want, rr.Code)
		})
	}
}

func TestTrustedCIDR_Invalid(t *testing.T) {
	_, err := TrustedCIDR("wtf")
	require.Error(t, err)
}

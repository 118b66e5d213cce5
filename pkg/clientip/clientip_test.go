package clientip_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/cashier/pkg/clientip"
)

func TestResolver(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		trusted    []string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{
			name:       "first trusted header wins",
			trusted:    []string{"CF-Connecting-IP", "X-Forwarded-For"},
			headers:    map[string]string{"CF-Connecting-IP": "203.0.113.195", "X-Forwarded-For": "192.168.1.1"},
			remoteAddr: "172.16.0.1:54321",
			want:       "203.0.113.195",
		},
		{
			name:       "forwarded list yields first valid entry",
			trusted:    []string{"x-forwarded-for"},
			headers:    map[string]string{"X-Forwarded-For": "garbage, 198.51.100.178, 203.0.113.1"},
			remoteAddr: "10.0.0.1:54321",
			want:       "198.51.100.178",
		},
		{
			name:       "untrusted header ignored",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.178"},
			remoteAddr: "10.0.0.1:54321",
			want:       "10.0.0.1",
		},
		{
			name:       "invalid trusted header falls back",
			trusted:    []string{"CF-Connecting-IP"},
			headers:    map[string]string{"CF-Connecting-IP": "not-an-ip"},
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
		{
			name:       "mapped ipv4 normalized",
			remoteAddr: "[::ffff:192.0.2.1]:443",
			want:       "192.0.2.1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "192.0.2.7",
			want:       "192.0.2.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			got := clientip.NewResolver(tt.trusted...).Resolve(req)
			assert.Equal(t, tt.want, got.String())
		})
	}

	t.Run("unparseable remote addr", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "pipe"
		assert.False(t, clientip.NewResolver().Resolve(req).IsValid())
	})
}

func TestAllowOnly(t *testing.T) {
	t.Parallel()

	prefixes, err := clientip.ParsePrefixes([]string{"3.18.12.63", "54.187.174.0/24", " "})
	require.NoError(t, err)
	require.Len(t, prefixes, 2)

	res := clientip.NewResolver()
	h := res.Middleware(clientip.AllowOnly(prefixes)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	for addr, want := range map[string]int{
		"3.18.12.63:443":     http.StatusNoContent,
		"54.187.174.169:443": http.StatusNoContent,
		"3.18.12.64:443":     http.StatusForbidden,
		"pipe":               http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, addr)
	}

	t.Run("empty list allows all", func(t *testing.T) {
		t.Parallel()
		called := false
		h := clientip.AllowOnly(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
		assert.True(t, called)
	})

	t.Run("invalid entry", func(t *testing.T) {
		t.Parallel()
		_, err := clientip.ParsePrefixes([]string{"10.0.0.0/33"})
		assert.ErrorIs(t, err, clientip.ErrInvalidPrefix)
	})
}

func TestContext(t *testing.T) {
	t.Parallel()

	addr := netip.MustParseAddr("192.0.2.1")
	ctx := clientip.WithContext(context.Background(), addr)
	assert.Equal(t, addr, clientip.FromContext(ctx))
	assert.False(t, clientip.FromContext(context.Background()).IsValid())

	attr, ok := clientip.LoggerExtractor()(ctx)
	require.True(t, ok)
	assert.Equal(t, "client_ip", attr.Key)
	assert.Equal(t, "192.0.2.1", attr.Value.String())

	_, ok = clientip.LoggerExtractor()(context.Background())
	assert.False(t, ok)
}

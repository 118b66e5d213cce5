package clientip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/dmitrymomot/cashier/pkg/logger"
)

// ErrInvalidPrefix is returned by ParsePrefixes for entries that are neither
// an address nor a CIDR.
var ErrInvalidPrefix = errors.New("invalid ip or cidr")

type contextKey struct{}

// Resolver derives the client address from trusted proxy headers, falling
// back to RemoteAddr. Headers are checked in order; X-Forwarded-For style
// lists yield their first valid entry.
type Resolver struct {
	headers []string
}

// NewResolver trusts the given headers, for example "CF-Connecting-IP".
// With no headers only RemoteAddr is used.
func NewResolver(headers ...string) *Resolver {
	hs := make([]string, 0, len(headers))
	for _, h := range headers {
		if h = strings.TrimSpace(h); h != "" {
			hs = append(hs, http.CanonicalHeaderKey(h))
		}
	}
	return &Resolver{headers: hs}
}

// Resolve returns the client address, or an invalid Addr if none parses.
func (res *Resolver) Resolve(r *http.Request) netip.Addr {
	for _, h := range res.headers {
		for v := range strings.SplitSeq(r.Header.Get(h), ",") {
			if addr, ok := parseAddr(v); ok {
				return addr
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, _ := parseAddr(host)
	return addr
}

// Middleware stores the resolved address in the request context.
func (res *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), res.Resolve(r))))
	})
}

// AllowOnly answers 403 to clients outside prefixes. An empty list allows all.
// Run it after Middleware.
func AllowOnly(prefixes []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(prefixes) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !contains(prefixes, FromContext(r.Context())) {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ParsePrefixes accepts CIDRs and bare addresses, which become single-host prefixes.
func ParsePrefixes(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if p, err := netip.ParsePrefix(v); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, ok := parseAddr(v)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPrefix, v)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// WithContext stores addr in ctx.
func WithContext(ctx context.Context, addr netip.Addr) context.Context {
	return context.WithValue(ctx, contextKey{}, addr)
}

// FromContext returns the stored address or an invalid Addr.
func FromContext(ctx context.Context) netip.Addr {
	addr, _ := ctx.Value(contextKey{}).(netip.Addr)
	return addr
}

// LoggerExtractor adds client_ip to records logged with the request context.
func LoggerExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if addr := FromContext(ctx); addr.IsValid() {
			return slog.String("client_ip", addr.String()), true
		}
		return slog.Attr{}, false
	}
}

func parseAddr(s string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func contains(prefixes []netip.Prefix, addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

package middleware

import (
	"log/slog"
	"net/http"
)

// ConnectionCounter reports how many live connections an IP currently holds.
type ConnectionCounter func(ip string) int

// NewConnectionLimiter rejects upgrades from IPs that already hold maxPerIP
// live connections. Login happens in-band after the upgrade, so the IP is
// the only identity available at this point in the chain.
func NewConnectionLimiter(logger *slog.Logger, counter ConnectionCounter, maxPerIP int) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxPerIP <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("Connection limiter could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			if count := counter(reqMeta.IP); count >= maxPerIP {
				logger.Warn("IP connection limit reached", slog.String("ip", reqMeta.IP), slog.Int("count", count))
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

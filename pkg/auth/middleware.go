package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/telemetry"
)

type ctxUserKey struct{}

// allowUnsigned lets identities through without a signature; test/dev only.
var allowUnsigned bool

// SetAllowUnsigned configures signature enforcement (startup only).
func SetAllowUnsigned(v bool) { allowUnsigned = v }

// limiterCfg is applied when the handler chain is built; call SetLimiter
// before RequireIdentity.
var limiterCfg LimiterConfig

func SetLimiter(cfg LimiterConfig) { limiterCfg = cfg }

// RequireIdentity verifies the HMAC-signed caller identity headers and
// injects the verified user into the request context. Every mutating
// operation requires a non-nil caller; unauthenticated calls get 401.
func RequireIdentity(next http.Handler) http.Handler {
	limiter := &limiterPool{cfg: limiterCfg}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		sig := strings.TrimSpace(r.Header.Get("X-User-Signature"))

		if userID == "" {
			logger.Warn("missing_identity", "path", r.URL.Path, "remote", r.RemoteAddr)
			telemetry.Rejected("unauthenticated")
			http.Error(w, `{"error":"missing identity headers"}`, http.StatusUnauthorized)
			return
		}
		if !allowUnsigned {
			if sig == "" {
				logger.Warn("missing_signature", "path", r.URL.Path, "user", userID)
				telemetry.Rejected("unauthenticated")
				http.Error(w, `{"error":"missing signature headers"}`, http.StatusUnauthorized)
				return
			}
			keys := config.GetSigningKeys()
			if len(keys) == 0 {
				logger.Error("no_signing_keys_configured")
				http.Error(w, `{"error":"server misconfigured: no signing secrets available"}`, http.StatusInternalServerError)
				return
			}
			ok := false
			for k := range keys {
				mac := hmac.New(sha256.New, []byte(k))
				mac.Write([]byte(userID))
				expected := hex.EncodeToString(mac.Sum(nil))
				if hmac.Equal([]byte(expected), []byte(sig)) {
					ok = true
					break
				}
			}
			if !ok {
				logger.Warn("invalid_signature", "user", userID)
				telemetry.Rejected("unauthenticated")
				http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
				return
			}
		}

		if !limiter.Allow(userID) {
			telemetry.Rejected("rate_limited")
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}

		u := models.UserRef{
			ID:     userID,
			Name:   strings.TrimSpace(r.Header.Get("X-User-Name")),
			Avatar: strings.TrimSpace(r.Header.Get("X-User-Avatar")),
		}
		ctx := context.WithValue(r.Context(), ctxUserKey{}, u)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFromContext returns the verified caller identity, if any.
func UserFromContext(ctx context.Context) (models.UserRef, bool) {
	if v := ctx.Value(ctxUserKey{}); v != nil {
		if u, ok := v.(models.UserRef); ok && u.ID != "" {
			return u, true
		}
	}
	return models.UserRef{}, false
}

// Sign computes the hex HMAC-SHA256 signature for a user id with the
// given key; clients and tests use it to build identity headers.
func Sign(key, userID string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

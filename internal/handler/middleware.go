package handler

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/service"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

type contextKey int

const principalKey contextKey = iota

// AccessAuthenticator resolves a bearer access token to its principal.
type AccessAuthenticator interface {
	AuthenticateAccess(ctx context.Context, raw string) (*service.Principal, error)
}

// PrincipalFrom returns the authenticated caller, or nil.
func PrincipalFrom(ctx context.Context) *service.Principal {
	p, _ := ctx.Value(principalKey).(*service.Principal)
	return p
}

func withPrincipal(ctx context.Context, p *service.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// requireHTTPS rejects any request that wasn't made over TLS. A
// terminating proxy may vouch for TLS with X-Forwarded-Proto.
func requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil && !strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUpgradeRequired) // 426
			w.Write([]byte(`{"success":false,"error":"https required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
					util.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// Authenticate requires a valid bearer access token and stores the
// principal in the request context.
func Authenticate(tokens AccessAuthenticator, logger *zap.Logger) func(http.Handler) http.Handler {
	rs := responder{logger: logger}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="xamila"`)
				rs.fail(w, r, apperr.Token(apperr.CodeInvalid, nil), "Authentication required")
				return
			}
			principal, err := tokens.AuthenticateAccess(r.Context(), raw)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="xamila", error="invalid_token"`)
				rs.fail(w, r, err, "Authentication failed")
				return
			}
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
		})
	}
}

// requireAdmin admits the Admin role and staff accounts. It must run
// after Authenticate.
func requireAdmin(logger *zap.Logger) func(http.Handler) http.Handler {
	rs := responder{logger: logger}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFrom(r.Context())
			if p == nil || !p.User.IsAdmin() {
				rs.fail(w, r, apperr.Forbidden("administrator access required"), "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// clientMeta describes the caller. RemoteAddr has already been rewritten
// by middleware.RealIP.
func clientMeta(r *http.Request) service.ClientMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return service.ClientMeta{IPAddress: ip, UserAgent: r.UserAgent()}
}

// actor is the authenticated caller as a KYC actor.
func actor(r *http.Request) service.Actor {
	p := PrincipalFrom(r.Context())
	if p == nil {
		return service.Actor{}
	}
	return service.UserActor(p.User.ID, clientMeta(r))
}

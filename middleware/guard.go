package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	goSession "github.com/MrEthical07/goSession"
)

// Transport builds the engine's view of an HTTP request from its cookies
// and its server-side session.
type Transport struct {
	Cookies  *CookieCodec
	Sessions *SessionStore
	// ClientIP extracts the caller address. Default: host part of RemoteAddr.
	ClientIP func(*http.Request) string
	Logger   *slog.Logger
}

// Exchange is one request's channels. Commit must be called before the
// response body is written so session cookie changes reach the client.
type Exchange struct {
	Request goSession.Request
	Jar     *Jar
	Session *Session
	store   *SessionStore
}

func (x *Exchange) Commit(ctx context.Context) error {
	return x.store.Save(ctx, x.Jar, x.Session)
}

func (t *Transport) Begin(w http.ResponseWriter, r *http.Request) (*Exchange, error) {
	jar := t.Cookies.Jar(w, r)
	sess, err := t.Sessions.Load(r.Context(), jar)
	if err != nil {
		return nil, err
	}
	ip := remoteHost(r)
	if t.ClientIP != nil {
		ip = t.ClientIP(r)
	}
	return &Exchange{
		Request: goSession.Request{
			Cookies:   jar,
			Session:   sess,
			IP:        ip,
			UserAgent: r.UserAgent(),
		},
		Jar:     jar,
		Session: sess,
		store:   t.Sessions,
	}, nil
}

func (t *Transport) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return t.Logger
}

// Guard authenticates every request. Rotated or cleared credentials are
// persisted before the wrapped handler runs, and the AuthContext is
// available through goSession.AuthContextFrom.
func Guard(engine *goSession.Engine, t *Transport) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil || t == nil {
				WriteError(w, goSession.ErrInternalFailure)
				return
			}
			x, err := t.Begin(w, r)
			if err != nil {
				t.logger().ErrorContext(r.Context(), "session load failed", slog.Any("error", err))
				WriteError(w, goSession.ErrInternalFailure)
				return
			}

			res, authErr := engine.Authenticate(r.Context(), x.Request)
			if err := x.Commit(r.Context()); err != nil {
				t.logger().ErrorContext(r.Context(), "session save failed", slog.Any("error", err))
				WriteError(w, goSession.ErrInternalFailure)
				return
			}
			if authErr != nil {
				WriteError(w, authErr)
				return
			}

			ctx := goSession.WithAuthContext(r.Context(), res.Context)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole must run inside Guard. It answers 403 when the user holds none
// of roles.
func RequireRole(engine *goSession.Engine, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := goSession.AuthContextFrom(r.Context())
			if !ok {
				WriteError(w, goSession.ErrNotAuthenticated)
				return
			}
			if err := engine.RequireRole(r.Context(), ac, roles...); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// StatusFor maps an engine error to an HTTP status code.
func StatusFor(err error) int {
	switch pub := goSession.PublicError(err); {
	case pub == nil:
		return http.StatusOK
	case errors.Is(pub, goSession.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(pub, goSession.ErrInternalFailure):
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}

// WriteError writes the public form of err as a JSON body. Internal causes
// never reach the client.
func WriteError(w http.ResponseWriter, err error) {
	pub := goSession.PublicError(err)
	if pub == nil {
		pub = goSession.ErrInternalFailure
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(StatusFor(pub))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": pub.Error()})
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/zhouzirui/abby/backend/internal/model/user"
	"github.com/zhouzirui/abby/backend/pkg/utils"
)

const (
	AnonCookieName   = "abby_device"
	AuthCookieName   = "abby_session"
	anonCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const (
	ownerKey contextKey = iota
	userKey
	authTokenKey
)

var anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// SessionLookup resolves an auth session token.
type SessionLookup interface {
	Lookup(token string) (user.User, bool)
}

// Owner returns the storage owner of the request: the signed-in user id or
// the device's anonymous id.
func Owner(ctx context.Context) string {
	if v, ok := ctx.Value(ownerKey).(string); ok {
		return v
	}
	return ""
}

// User returns the signed-in user, or nil.
func User(ctx context.Context) *user.User {
	if v, ok := ctx.Value(userKey).(*user.User); ok {
		return v
	}
	return nil
}

// AuthToken returns the auth session token presented by the request.
func AuthToken(ctx context.Context) string {
	if v, ok := ctx.Value(authTokenKey).(string); ok {
		return v
	}
	return ""
}

// WithIdentity attaches an identity to ctx. Handlers' tests use it directly.
func WithIdentity(ctx context.Context, owner string, u *user.User) context.Context {
	ctx = context.WithValue(ctx, ownerKey, owner)
	if u != nil {
		ctx = context.WithValue(ctx, userKey, u)
	}
	return ctx
}

// NewAnonID returns a fresh anonymous owner id.
func NewAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

// IsAnonID reports whether id has the anonymous owner shape.
func IsAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func setCookie(w http.ResponseWriter, name, value string, maxAge time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		Expires:  time.Now().Add(maxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
}

// SetAuthCookie stores the auth session token on the client.
func SetAuthCookie(w http.ResponseWriter, token string, ttl time.Duration, secure bool) {
	setCookie(w, AuthCookieName, token, ttl, secure)
}

// ClearAuthCookie expires the auth session cookie.
func ClearAuthCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
}

func anonIDFromRequest(w http.ResponseWriter, r *http.Request, secure bool) (string, error) {
	var id string
	if c, err := r.Cookie(AnonCookieName); err == nil && IsAnonID(c.Value) {
		id = c.Value
	} else {
		fresh, err := NewAnonID()
		if err != nil {
			return "", err
		}
		id = fresh
	}
	// 每次访问刷新有效期
	setCookie(w, AnonCookieName, id, anonCookieMaxAge, secure)
	return id, nil
}

// Identity resolves the request owner. A valid auth cookie makes the signed-in
// user the owner; otherwise the anonymous device cookie is used, and issued
// when missing or malformed.
func Identity(sessions SessionLookup, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			anonID, err := anonIDFromRequest(w, r, secure)
			if err != nil {
				utils.RespondError(w, http.StatusInternalServerError, "failed to establish identity")
				return
			}

			ctx := r.Context()
			owner := anonID
			var signedIn *user.User

			if c, err := r.Cookie(AuthCookieName); err == nil && c.Value != "" && sessions != nil {
				ctx = context.WithValue(ctx, authTokenKey, c.Value)
				if u, ok := sessions.Lookup(c.Value); ok {
					signedIn = &u
					owner = u.UID
				}
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, owner, signedIn)))
		})
	}
}

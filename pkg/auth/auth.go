// Package auth issues and verifies HS256 bearer tokens and carries the
// resulting Session through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// StorageTokenHeader carries the drive bearer credential of the caller.
const StorageTokenHeader = "X-Storage-Token"

const issuerName = "driftnote"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSession    = errors.New("no session in context")
)

// Session identifies the caller of an operation.
type Session struct {
	UID string
	// StorageToken is the OAuth access token for the user's drive; empty
	// when the caller did not provide one.
	StorageToken string
}

type Issuer struct {
	secret []byte
	now    func() time.Time
}

func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for uid that expires after ttl.
func (i *Issuer) Issue(uid string, ttl time.Duration) (string, error) {
	if uid == "" {
		return "", fmt.Errorf("%w: empty uid", ErrInvalidToken)
	}
	now := i.now()
	claims := jwt.RegisteredClaims{
		Subject:   uid,
		Issuer:    issuerName,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify checks the signature and expiry and returns the uid.
func (i *Issuer) Verify(tokenStr string) (string, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuerName),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

type contextKey struct{}

func NewContext(ctx context.Context, sess Session) context.Context {
	return context.WithValue(ctx, contextKey{}, sess)
}

// FromContext returns the session stored by Middleware.
func FromContext(ctx context.Context) (Session, error) {
	sess, ok := ctx.Value(contextKey{}).(Session)
	if !ok {
		return Session{}, ErrNoSession
	}
	return sess, nil
}

// Middleware authenticates requests with an "Authorization: Bearer" header,
// or an access_token query parameter for WebSocket clients that cannot
// set headers. Failures are passed to onError.
func Middleware(issuer *Issuer, onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearer(r)
			if tokenStr == "" {
				onError(w, r, fmt.Errorf("%w: missing bearer token", ErrInvalidToken))
				return
			}
			uid, err := issuer.Verify(tokenStr)
			if err != nil {
				onError(w, r, err)
				return
			}
			sess := Session{UID: uid, StorageToken: r.Header.Get(StorageTokenHeader)}
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), sess)))
		})
	}
}

func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

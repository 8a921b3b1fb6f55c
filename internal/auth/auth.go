package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"rtchat/internal/errs"
	"rtchat/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by the bearer token issued at login.
type Claims struct {
	jwt.RegisteredClaims
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UserLookup resolves a verified token subject to a stored user record.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// Verifier validates a bearer credential and resolves it to an active user.
// Used by both the HTTP middleware and the socket handshake.
type Verifier struct {
	secret []byte
	users  UserLookup
}

func NewVerifier(secret string, users UserLookup) *Verifier {
	return &Verifier{secret: []byte(secret), users: users}
}

// Verify parses and validates the token, then checks the resolved identity
// exists and is active. Every failure is classified as an auth error.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*models.User, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return nil, errs.New(errs.KindAuth, "token required")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errs.Newf(errs.KindAuth, "unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindAuth, "invalid token", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errs.New(errs.KindAuth, "invalid token claims")
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(time.Now()) {
		return nil, errs.New(errs.KindAuth, "token expired")
	}
	if claims.Subject == "" {
		return nil, errs.New(errs.KindAuth, "token has no subject")
	}

	user, err := v.users.GetUser(ctx, claims.Subject)
	if err != nil {
		return nil, errs.Wrap(errs.KindAuth, "identity not found", err)
	}
	if !user.Active {
		return nil, errs.New(errs.KindAuth, "identity is inactive")
	}
	return user, nil
}

// IssueToken signs a token for the given user. Used by the login handler and
// by tests that need a valid credential.
func (v *Verifier) IssueToken(user *models.User, ttl time.Duration) (string, error) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Name:  user.Name,
		Email: user.Email,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// ExtractToken extracts the bearer credential from a request (query param or
// Authorization header). Query param takes precedence so browser WebSocket
// clients, which cannot set headers, can authenticate.
func ExtractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

// Package auth verifies the bearer tokens issued by the identity provider and
// turns them into a models.Identity.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/digkill/InfographicAI/internal/models"
)

type UserMetadata struct {
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Country   string `json:"country,omitempty"`
}

type Claims struct {
	Email        string       `json:"email"`
	UserMetadata UserMetadata `json:"user_metadata"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// Identify validates an HS256 token and returns the caller's identity. Any
// failure is reported as models.ErrUnauthenticated.
func (a *Authenticator) Identify(tokenStr string) (models.Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", models.ErrUnauthenticated, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return models.Identity{}, fmt.Errorf("%w: invalid claims", models.ErrUnauthenticated)
	}
	return models.Identity{
		UserID:    claims.Subject,
		Email:     claims.Email,
		FullName:  claims.UserMetadata.FullName,
		AvatarURL: claims.UserMetadata.AvatarURL,
		Country:   claims.UserMetadata.Country,
	}, nil
}

// Sign issues a token for identity. It backs local tooling and tests; production
// tokens come from the identity provider.
func (a *Authenticator) Sign(identity models.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: identity.Email,
		UserMetadata: UserMetadata{
			FullName:  identity.FullName,
			AvatarURL: identity.AvatarURL,
			Country:   identity.Country,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, identity models.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, identity)
}

func IdentityFrom(ctx context.Context) (models.Identity, bool) {
	identity, ok := ctx.Value(ctxKey{}).(models.Identity)
	return identity, ok
}

// BearerToken extracts the token from an "Authorization: Bearer ..." header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Package identity resolves the current user from a signed session token.
package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"masterboxer.com/engagement-sync/models"
)

var ErrInvalidToken = errors.New("identity: token is not valid")

type Claims struct {
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// FromToken validates an HS256 token and returns the author it names.
func FromToken(token string, secret []byte) (models.Author, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil {
		return models.Author{}, err
	}
	if !parsed.Valid || claims.Subject == "" {
		return models.Author{}, ErrInvalidToken
	}
	return models.Author{
		UserID:      claims.Subject,
		DisplayName: claims.Name,
		PhotoURL:    claims.Picture,
	}, nil
}

// Issue signs a token for author. Used by tooling and tests.
func Issue(author models.Author, secret []byte) (string, error) {
	claims := Claims{
		Name:             author.DisplayName,
		Picture:          author.PhotoURL,
		RegisteredClaims: jwt.RegisteredClaims{Subject: author.UserID},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

type contextKey struct{}

func WithAuthor(ctx context.Context, author models.Author) context.Context {
	return context.WithValue(ctx, contextKey{}, author)
}

func FromContext(ctx context.Context) (models.Author, bool) {
	author, ok := ctx.Value(contextKey{}).(models.Author)
	return author, ok
}

// Middleware requires a bearer token and stores its author on the request
// context.
func Middleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				http.Error(w, "Missing bearer token", http.StatusUnauthorized)
				return
			}
			author, err := FromToken(token, secret)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuthor(r.Context(), author)))
		})
	}
}

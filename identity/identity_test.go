package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"masterboxer.com/engagement-sync/models"
)

var secret = []byte("test-secret")

func TestIssueAndFromToken(t *testing.T) {
	author := models.Author{UserID: "u1", DisplayName: "Ana", PhotoURL: "https://cdn/ana.png"}
	token, err := Issue(author, secret)
	require.NoError(t, err)

	got, err := FromToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, author, got)

	_, err = FromToken(token, []byte("other-secret"))
	assert.Error(t, err)
}

func TestFromTokenRequiresSubject(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Name: "nobody"}).SignedString(secret)
	require.NoError(t, err)

	_, err = FromToken(token, secret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestFromTokenRejectsUnsigned(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = FromToken(token, secret)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	var seen models.Author
	handler := Middleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		author, ok := FromContext(r.Context())
		require.True(t, ok)
		seen = author
		w.WriteHeader(http.StatusNoContent)
	}))

	token, err := Issue(models.Author{UserID: "u1"}, secret)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer abc", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
	assert.Equal(t, "u1", seen.UserID)
}

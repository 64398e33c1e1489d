package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmartel/scribe-api/internal/api/shared"
)

const testJWTSecret = "thisisasecretkeythatis32charslong!!"

// signToken creates a signed token for the given subject and expiry.
func signToken(t *testing.T, secret, subject string, expiresAt time.Time) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})

	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

// nextRecorder is a terminal handler that records whether it ran and the
// user ID it observed in the request context.
type nextRecorder struct {
	called bool
	userID uuid.UUID
}

func (n *nextRecorder) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n.called = true
		n.userID, _ = shared.GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticateValidToken(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	m := NewAuthMiddleware(testJWTSecret)
	next := &nextRecorder{}

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testJWTSecret, userID.String(), time.Now().Add(time.Hour)))
	rec := httptest.NewRecorder()

	m.Authenticate(next.handler()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, next.called)
	assert.Equal(t, userID, next.userID)
}

func TestAuthenticateRejections(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	m := NewAuthMiddleware(testJWTSecret)

	tests := []struct {
		name       string
		authHeader string
	}{
		{
			name:       "missing header",
			authHeader: "",
		},
		{
			name:       "not a bearer token",
			authHeader: "Basic dXNlcjpwYXNz",
		},
		{
			name:       "wrong signing secret",
			authHeader: "Bearer " + signToken(t, "adifferentsecretthatisalso32chars!!", userID.String(), time.Now().Add(time.Hour)),
		},
		{
			name:       "expired token",
			authHeader: "Bearer " + signToken(t, testJWTSecret, userID.String(), time.Now().Add(-time.Hour)),
		},
		{
			name:       "subject is not a user ID",
			authHeader: "Bearer " + signToken(t, testJWTSecret, "not-a-uuid", time.Now().Add(time.Hour)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := &nextRecorder{}

			req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()

			m.Authenticate(next.handler()).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.False(t, next.called, "handler should not run for rejected requests")
		})
	}
}

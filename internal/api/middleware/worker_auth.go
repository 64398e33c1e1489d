package middleware

import (
	"net/http"

	"github.com/pmartel/scribe-api/internal/api/shared"
	"golang.org/x/crypto/bcrypt"
)

// workerKeyHeader carries the shared worker-pool key on fetch and
// completion callbacks.
const workerKeyHeader = "X-Worker-Key"

// WorkerAuthMiddleware authenticates requests from the external worker pool.
// Workers present a shared key that is verified against a bcrypt hash from
// configuration, so the plaintext key never lives in config files.
type WorkerAuthMiddleware struct {
	keyHash []byte
}

// NewWorkerAuthMiddleware creates a new WorkerAuthMiddleware with the given
// bcrypt hash of the worker key.
func NewWorkerAuthMiddleware(keyHash string) *WorkerAuthMiddleware {
	return &WorkerAuthMiddleware{
		keyHash: []byte(keyHash),
	}
}

// Authenticate rejects requests whose worker key does not match the
// configured hash.
func (m *WorkerAuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(workerKeyHeader)
		if key == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Worker key required")
			return
		}

		if err := bcrypt.CompareHashAndPassword(m.keyHash, []byte(key)); err != nil {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid worker key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

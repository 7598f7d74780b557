package api

import (
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const adminTokenTTL = 12 * time.Hour

// adminAuth guards the admin surface with a single shared password set via
// CAP_ADMIN_PASSWORD. Login trades the password for a bearer token. With no
// password configured the admin surface is open, which is only acceptable
// for local development.
type adminAuth struct {
	mu       sync.Mutex
	password string
	tokens   map[string]time.Time
}

func newAdminAuthFromEnv() *adminAuth {
	return &adminAuth{
		password: strings.TrimSpace(os.Getenv("CAP_ADMIN_PASSWORD")),
		tokens:   map[string]time.Time{},
	}
}

func (a *adminAuth) enabled() bool { return a.password != "" }

// login returns a fresh token when the password matches.
func (a *adminAuth) login(password string) (string, bool) {
	if !a.enabled() || password != a.password {
		return "", false
	}
	token := uuid.NewString()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[token] = time.Now().Add(adminTokenTTL)
	return token, true
}

func (a *adminAuth) authorized(r *http.Request) bool {
	if !a.enabled() {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" || token == header {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	expiry, ok := a.tokens[token]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(a.tokens, token)
		return false
	}
	return true
}

func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if s.admin.authorized(r) {
		return true
	}
	writeError(w, http.StatusUnauthorized, "unauthorized")
	return false
}

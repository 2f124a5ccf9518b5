package handler

import (
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

const adminPasswordHeader = "X-Admin-Password"

// HashPassword returns the bcrypt hash used by WithAdminHash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// requireAdmin checks the administrator password header against the configured hash.
// Without a configured hash the routes are open, which is how a single-user
// installation runs.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(h.adminHash) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		password := r.Header.Get(adminPasswordHeader)
		if password == "" {
			h.fail(w, r, errUnauthorized)
			return
		}
		if err := bcrypt.CompareHashAndPassword(h.adminHash, []byte(password)); err != nil {
			slog.Warn("admin password rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
			h.fail(w, r, errUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

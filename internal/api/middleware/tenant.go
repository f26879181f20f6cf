package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/capsule-memory/capsule/pkg/models"
)

type contextKey string

const tenancyContextKey contextKey = "capsule_tenancy"

// TenantExtractor reads the X-Capsule-Org/Project/Subject headers and
// attaches the resulting models.Tenancy to the request context. All
// three are required on every non-public route, since every Capsule
// operation is scoped to a tenancy triple.
func TenantExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		org := strings.TrimSpace(r.Header.Get("X-Capsule-Org"))
		project := strings.TrimSpace(r.Header.Get("X-Capsule-Project"))
		subject := strings.TrimSpace(r.Header.Get("X-Capsule-Subject"))

		if org == "" || project == "" || subject == "" {
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error":   "invalid_argument",
				"message": "X-Capsule-Org, X-Capsule-Project, and X-Capsule-Subject headers are required",
			})
			return
		}

		tenancy := models.Tenancy{OrgID: org, ProjectID: project, SubjectID: subject}
		ctx := context.WithValue(r.Context(), tenancyContextKey, tenancy)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Tenancy retrieves the caller's tenancy triple from the request
// context. Only meaningful downstream of TenantExtractor.
func Tenancy(ctx context.Context) models.Tenancy {
	if t, ok := ctx.Value(tenancyContextKey).(models.Tenancy); ok {
		return t
	}
	return models.Tenancy{}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

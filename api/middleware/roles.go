package middleware

import (
	"net/http"

	"github.com/mateovidal/givebridge-backend/api/responses"
	"github.com/mateovidal/givebridge-backend/pkg/enums"
	pkgerrors "github.com/mateovidal/givebridge-backend/pkg/errors"
	"github.com/mateovidal/givebridge-backend/pkg/logger"
)

// RequireBillingMutation rejects requests whose admin role may not run
// billing mutations.
func RequireBillingMutation(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, err := enums.ParseAdminRole(RoleFromContext(r.Context()))
			if err != nil || !role.CanMutateBilling() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "billing mutation role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

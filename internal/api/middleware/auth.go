package middleware

import (
	"context"
	"net/http"
	"zhicuoti/internal/common"
	"zhicuoti/internal/common/security"
	"zhicuoti/internal/domain/model"

	"github.com/go-chi/jwtauth/v5"
	"github.com/rs/zerolog"
)

type contextKey string

const UserCtxKey contextKey = "user"

// UserLoader resolves the token subject to a user.
type UserLoader interface {
	CurrentUser(ctx context.Context, userID string) (*model.User, error)
}

// Authenticator requires a verified bearer token and loads its user into
// the request context. Token problems are reported as forbidden; a token
// whose user is gone is reported as not found.
func Authenticator(users UserLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, claims, err := jwtauth.FromContext(r.Context())
			if err != nil || token == nil {
				common.RespondWithError(w, http.StatusForbidden, common.KindForbidden, "could not validate credentials")
				return
			}

			userID, err := security.GetUserIDFromClaims(claims)
			if err != nil {
				common.RespondWithError(w, http.StatusForbidden, common.KindForbidden, "could not validate credentials")
				return
			}

			user, err := users.CurrentUser(r.Context(), userID)
			if err != nil {
				common.RespondWithDomainError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), UserCtxKey, user)
			zerolog.Ctx(ctx).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("user_id", user.ID)
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requireRole(role model.UserRole, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok || user.Role != role {
				common.RespondWithError(w, http.StatusForbidden, common.KindForbidden, message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// StudentOnly must run after Authenticator.
func StudentOnly(next http.Handler) http.Handler {
	return requireRole(model.RoleStudent, "only students can perform this action")(next)
}

// TeacherOnly must run after Authenticator.
func TeacherOnly(next http.Handler) http.Handler {
	return requireRole(model.RoleTeacher, "only teachers can perform this action")(next)
}

func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(UserCtxKey).(*model.User)
	return user, ok && user != nil
}

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	"zhicuoti/internal/common"
	"zhicuoti/internal/common/security"
	"zhicuoti/internal/domain/model"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type usersByID map[string]*model.User

func (u usersByID) CurrentUser(_ context.Context, id string) (*model.User, error) {
	user, ok := u[id]
	if !ok {
		return nil, common.NotFound("user not found")
	}
	return user, nil
}

func protected(tokens *security.TokenManager, users UserLoader, extra ...func(http.Handler) http.Handler) http.Handler {
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.Write([]byte(user.Name))
	})
	var h http.Handler = final
	for i := len(extra) - 1; i >= 0; i-- {
		h = extra[i](h)
	}
	return jwtauth.Verifier(tokens.JWTAuth())(Authenticator(users)(h))
}

func TestAuthenticator(t *testing.T) {
	tokens := security.NewTokenManager([]byte("secret"), time.Hour)
	studentID, teacherID := uuid.NewString(), uuid.NewString()
	users := usersByID{
		studentID: {ID: studentID, Name: "Student", Role: model.RoleStudent},
		teacherID: {ID: teacherID, Name: "Teacher", Role: model.RoleTeacher},
	}
	token := func(id string) string {
		tok, err := tokens.GenerateToken(id)
		require.NoError(t, err)
		return tok
	}
	expired, err := security.NewTokenManager([]byte("secret"), -time.Minute).GenerateToken(studentID)
	require.NoError(t, err)
	notAUser, err := tokens.GenerateToken("admin")
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		extra  []func(http.Handler) http.Handler
		status int
		body   string
	}{
		{name: "valid token", token: token(studentID), status: http.StatusOK, body: "Student"},
		{name: "missing token", status: http.StatusForbidden},
		{name: "garbage token", token: "abc", status: http.StatusForbidden},
		{name: "expired token", token: expired, status: http.StatusForbidden},
		{name: "subject is not a user id", token: notAUser, status: http.StatusForbidden},
		{name: "deleted user", token: token(uuid.NewString()), status: http.StatusNotFound},
		{name: "student only allows students", token: token(studentID), extra: []func(http.Handler) http.Handler{StudentOnly}, status: http.StatusOK, body: "Student"},
		{name: "student only rejects teachers", token: token(teacherID), extra: []func(http.Handler) http.Handler{StudentOnly}, status: http.StatusForbidden},
		{name: "teacher only rejects students", token: token(studentID), extra: []func(http.Handler) http.Handler{TeacherOnly}, status: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			protected(tokens, users, tt.extra...).ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), common.KindInternal)
}

func TestRequestLoggerAttachesLogger(t *testing.T) {
	var got *zerolog.Logger
	h := RequestLogger(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = zerolog.Ctx(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotNil(t, got)
}

package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusFromError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"invalid payload", InvalidPayload("bad %s", "input"), http.StatusBadRequest, KindInvalidPayload},
		{"forbidden", Forbidden("nope"), http.StatusForbidden, KindForbidden},
		{"not found", NotFound("gone"), http.StatusNotFound, KindNotFound},
		{"prediction", PredictionFailed("unknown subject"), http.StatusInternalServerError, KindPrediction},
		{"wrapped", fmt.Errorf("context: %w", Forbidden("nope")), http.StatusForbidden, KindForbidden},
		{"pgx unique", &pgconn.PgError{Code: "23505"}, http.StatusBadRequest, KindInvalidPayload},
		{"pq unique", &pq.Error{Code: "23505"}, http.StatusBadRequest, KindInvalidPayload},
		{"internal", errors.New("boom"), http.StatusInternalServerError, KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, HTTPStatusFromError(tt.err))
			assert.Equal(t, tt.kind, KindFromError(tt.err))
		})
	}
	assert.Equal(t, http.StatusOK, HTTPStatusFromError(nil))
}

func TestRespondWithDomainError(t *testing.T) {
	t.Run("domain message is exposed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RespondWithDomainError(rec, httptest.NewRequest(http.MethodGet, "/", nil), InvalidPayload("class %s does not exist", "x"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, ErrorResponse{Detail: "class x does not exist", Type: KindInvalidPayload}, body)
	})

	t.Run("driver text of a unique violation is hidden", func(t *testing.T) {
		pgErr := &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint \"classes_invitation_code_key\""}
		rec := httptest.NewRecorder()
		RespondWithDomainError(rec, httptest.NewRequest(http.MethodGet, "/", nil), fmt.Errorf("failed to store invitation code: %w", pgErr))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, ErrorResponse{Detail: DuplicateMessage, Type: KindInvalidPayload}, body)
	})

	t.Run("internal message is hidden", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RespondWithDomainError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("dial tcp: refused"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "refused")
		assert.Contains(t, rec.Body.String(), KindInternal)
	})
}

package common

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
)

type ErrorResponse struct {
	Detail string `json:"detail"`
	Type   string `json:"type"`
}

func RespondWithError(w http.ResponseWriter, code int, kind, message string) {
	RespondWithJSON(w, code, ErrorResponse{Detail: message, Type: kind})
}

// DuplicateMessage replaces driver text for unique violations that no
// repository translated.
const DuplicateMessage = "resource already exists"

// RespondWithDomainError is the single translation point from service errors
// to HTTP responses. Internal errors and driver text are logged, not exposed.
func RespondWithDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := HTTPStatusFromError(err)
	kind := KindFromError(err)
	message := err.Error()
	var domainErr *DomainError
	switch {
	case kind == KindInternal:
		zerolog.Ctx(r.Context()).Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		message = "internal server error"
	case IsUniqueViolation(err) && !errors.As(err, &domainErr):
		zerolog.Ctx(r.Context()).Warn().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("unique violation")
		message = DuplicateMessage
	}
	RespondWithError(w, code, kind, message)
}

func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail": "Failed to marshal JSON response", "type": "InternalError"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

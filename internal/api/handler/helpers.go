package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"zhicuoti/internal/api/middleware"
	"zhicuoti/internal/common"
	"zhicuoti/internal/domain/model"
	"zhicuoti/internal/platform/ai"

	"github.com/rs/zerolog"
)

// Middleware is the shape of chi middlewares handed to RegisterRoutes.
type Middleware = func(http.Handler) http.Handler

func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return common.InvalidPayload("invalid request payload: %v", err)
	}
	return nil
}

// currentUser is only called behind middleware.Authenticator.
func currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusForbidden, common.KindForbidden, "could not validate credentials")
		return nil, false
	}
	return user, true
}

func pageParam(r *http.Request) int {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	return page
}

// streamText forwards completion chunks as they arrive. A client that goes
// away stops the stream; nothing is rolled back.
func streamText(w http.ResponseWriter, r *http.Request, stream ai.Stream) {
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	log := zerolog.Ctx(r.Context())
	for {
		if r.Context().Err() != nil {
			log.Debug().Msg("client went away, stopping stream")
			return
		}
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("completion stream failed")
			return
		}
		if _, err := io.WriteString(w, chunk); err != nil {
			return
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return
		}
	}
}

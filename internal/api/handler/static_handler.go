package handler

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"zhicuoti/internal/common"
	"zhicuoti/internal/platform/storage"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type ObjectReader interface {
	Get(ctx context.Context, key string) (*storage.Object, error)
}

// StaticHandler serves stored images by object key, e.g. /static/boxes/<id>.png.
type StaticHandler struct {
	store ObjectReader
}

func NewStaticHandler(store ObjectReader) *StaticHandler {
	return &StaticHandler{store: store}
}

func (h *StaticHandler) RegisterRoutes(r chi.Router) {
	r.Get("/*", h.serve)
}

func (h *StaticHandler) serve(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if key == "" || strings.Contains(key, "..") {
		common.RespondWithError(w, http.StatusNotFound, common.KindNotFound, "file not found")
		return
	}

	obj, err := h.store.Get(r.Context(), key)
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	defer obj.Body.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("key", key).Msg("failed to stream object")
	}
}

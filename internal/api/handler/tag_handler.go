package handler

import (
	"net/http"
	"zhicuoti/internal/api/middleware"
	"zhicuoti/internal/app/service"
	"zhicuoti/internal/common"

	"github.com/go-chi/chi/v5"
)

type TagHandler struct {
	tagService *service.TagService
}

func NewTagHandler(tagService *service.TagService) *TagHandler {
	return &TagHandler{tagService: tagService}
}

// RegisterRoutes keeps listing, search and lookup public. The "my" views
// need a student.
func (h *TagHandler) RegisterRoutes(r chi.Router, authenticate Middleware) {
	r.Get("/", h.list)
	r.Get("/search", h.search)
	r.Group(func(r chi.Router) {
		r.Use(authenticate, middleware.StudentOnly)
		r.Get("/my", h.listMine)
		r.Get("/{tagID}/my", h.getMine)
	})
	r.Get("/{tagID}", h.get)
}

func (h *TagHandler) list(w http.ResponseWriter, r *http.Request) {
	tags, err := h.tagService.List(r.Context())
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, tags)
}

func (h *TagHandler) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tags, err := h.tagService.Search(r.Context(), q.Get("query"), q.Get("subject_id"))
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, tags)
}

func (h *TagHandler) get(w http.ResponseWriter, r *http.Request) {
	tag, err := h.tagService.Get(r.Context(), chi.URLParam(r, "tagID"))
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, tag)
}

func (h *TagHandler) listMine(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	tags, err := h.tagService.ListMine(r.Context(), user)
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, tags)
}

func (h *TagHandler) getMine(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	tag, err := h.tagService.GetMine(r.Context(), user, chi.URLParam(r, "tagID"))
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, tag)
}

package handler

import (
	"net/http"
	"zhicuoti/internal/app/service"
	"zhicuoti/internal/common"

	"github.com/go-chi/chi/v5"
)

type SubjectHandler struct {
	subjectService *service.SubjectService
}

func NewSubjectHandler(subjectService *service.SubjectService) *SubjectHandler {
	return &SubjectHandler{subjectService: subjectService}
}

func (h *SubjectHandler) RegisterRoutes(r chi.Router, authenticate Middleware) {
	r.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.Get("/", h.list)
		r.Get("/{subjectID}", h.get)
	})
}

func (h *SubjectHandler) list(w http.ResponseWriter, r *http.Request) {
	subjects, err := h.subjectService.List(r.Context())
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, subjects)
}

func (h *SubjectHandler) get(w http.ResponseWriter, r *http.Request) {
	subject, err := h.subjectService.Get(r.Context(), chi.URLParam(r, "subjectID"))
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, subject)
}

package handler

import (
	"net/http"
	"zhicuoti/internal/api/middleware"
	"zhicuoti/internal/app/service"
	"zhicuoti/internal/common"

	"github.com/go-chi/chi/v5"
)

type ClassHandler struct {
	classService *service.ClassService
}

func NewClassHandler(classService *service.ClassService) *ClassHandler {
	return &ClassHandler{classService: classService}
}

func (h *ClassHandler) RegisterRoutes(r chi.Router, authenticate Middleware) {
	r.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.With(middleware.TeacherOnly).Post("/", h.create)
		r.Post("/join", h.join)
		r.Get("/{classID}", h.get)
		// Membership is checked by the service; the role check runs first.
		r.With(middleware.TeacherOnly).Put("/{classID}", h.edit)
		r.With(middleware.TeacherOnly).Delete("/{classID}", h.delete)
		r.With(middleware.TeacherOnly).Get("/{classID}/invitation-code", h.invitationCode)
	})
}

func (h *ClassHandler) create(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req service.ClassRequest
	if err := decodeJSON(r, &req); err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	class, err := h.classService.Create(r.Context(), user, req)
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, class)
}

func (h *ClassHandler) get(w http.ResponseWriter, r *http.Request) {
	class, err := h.classService.Get(r.Context(), chi.URLParam(r, "classID"))
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, class)
}

func (h *ClassHandler) edit(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req service.ClassRequest
	if err := decodeJSON(r, &req); err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	class, err := h.classService.Edit(r.Context(), user, chi.URLParam(r, "classID"), req)
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, class)
}

func (h *ClassHandler) delete(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.classService.Delete(r.Context(), user, chi.URLParam(r, "classID")); err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]string{"detail": "class deleted"})
}

func (h *ClassHandler) invitationCode(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	resp, err := h.classService.InvitationCode(r.Context(), user, chi.URLParam(r, "classID"))
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, resp)
}

func (h *ClassHandler) join(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	class, err := h.classService.Join(r.Context(), user, r.URL.Query().Get("invitation_code"))
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, class)
}

package handler

import (
	"net/http"
	"zhicuoti/internal/api/middleware"
	"zhicuoti/internal/app/service"
	"zhicuoti/internal/common"

	"github.com/go-chi/chi/v5"
)

type UserHandler struct {
	userService *service.UserService
}

func NewUserHandler(userService *service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

func (h *UserHandler) RegisterRoutes(r chi.Router, authenticate Middleware) {
	r.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.With(middleware.TeacherOnly).Put("/teacher", h.editTeacher)
		r.With(middleware.StudentOnly).Put("/student", h.editStudent)
	})
}

func (h *UserHandler) editTeacher(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req service.TeacherEditRequest
	if err := decodeJSON(r, &req); err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	updated, err := h.userService.EditTeacher(r.Context(), user, req)
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, updated)
}

func (h *UserHandler) editStudent(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req service.StudentEditRequest
	if err := decodeJSON(r, &req); err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	updated, err := h.userService.EditStudent(r.Context(), user, req)
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, updated)
}

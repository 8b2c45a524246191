package handler

import (
	"errors"
	"io"
	"net/http"
	"zhicuoti/internal/api/middleware"
	"zhicuoti/internal/app/service"
	"zhicuoti/internal/common"

	"github.com/go-chi/chi/v5"
)

type ProblemHandler struct {
	problemService *service.ProblemService
	maxUploadSize  int64
}

func NewProblemHandler(ps *service.ProblemService, maxUploadSize int64) *ProblemHandler {
	return &ProblemHandler{problemService: ps, maxUploadSize: maxUploadSize}
}

func (h *ProblemHandler) RegisterRoutes(r chi.Router, authenticate Middleware) {
	r.Group(func(r chi.Router) {
		r.Use(authenticate)

		r.Group(func(student chi.Router) {
			student.Use(middleware.StudentOnly)
			student.Post("/ocr", h.ocr)
			student.Post("/", h.create)
			student.Get("/my", h.listMine)
			student.Put("/{problemID}", h.edit)
			student.Delete("/{problemID}", h.delete)
		})

		r.Get("/{problemID}", h.get)
		r.Get("/{problemID}/solution", h.solution)
	})
}

func (h *ProblemHandler) ocr(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	file, header, err := r.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			common.RespondWithError(w, http.StatusBadRequest, common.KindInvalidPayload, "image is too large")
			return
		}
		common.RespondWithError(w, http.StatusBadRequest, common.KindInvalidPayload, "missing image file: "+err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		common.RespondWithError(w, http.StatusBadRequest, common.KindInvalidPayload, "failed to read image: "+err.Error())
		return
	}

	result, err := h.problemService.OCR(r.Context(), user, header.Filename, data)
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, result)
}

func (h *ProblemHandler) create(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req service.CreateProblemRequest
	if err := decodeJSON(r, &req); err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	problem, err := h.problemService.Create(r.Context(), user, req)
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, problem)
}

func (h *ProblemHandler) edit(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req service.EditProblemRequest
	if err := decodeJSON(r, &req); err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	problem, err := h.problemService.Edit(r.Context(), user, chi.URLParam(r, "problemID"), req)
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, problem)
}

func (h *ProblemHandler) listMine(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	page, err := h.problemService.ListMine(r.Context(), user, pageParam(r))
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, page)
}

func (h *ProblemHandler) get(w http.ResponseWriter, r *http.Request) {
	problem, err := h.problemService.Get(r.Context(), chi.URLParam(r, "problemID"))
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, problem)
}

func (h *ProblemHandler) delete(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.problemService.Delete(r.Context(), user, chi.URLParam(r, "problemID")); err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]string{"detail": "problem deleted"})
}

func (h *ProblemHandler) solution(w http.ResponseWriter, r *http.Request) {
	stream, err := h.problemService.Solution(r.Context(), chi.URLParam(r, "problemID"))
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	streamText(w, r, stream)
}

package handler

import (
	"net/http"
	"zhicuoti/internal/api/middleware"
	"zhicuoti/internal/app/service"
	"zhicuoti/internal/common"
	"zhicuoti/internal/domain/model"

	"github.com/go-chi/chi/v5"
)

type AnalyzeHandler struct {
	analyzeService *service.AnalyzeService
}

func NewAnalyzeHandler(as *service.AnalyzeService) *AnalyzeHandler {
	return &AnalyzeHandler{analyzeService: as}
}

type scopeResolver func(r *http.Request, user *model.User) (service.AnalysisScope, error)

type scopedHandler func(w http.ResponseWriter, r *http.Request, scope service.AnalysisScope)

func (h *AnalyzeHandler) RegisterRoutes(r chi.Router, authenticate Middleware) {
	r.Group(func(r chi.Router) {
		r.Use(authenticate)

		r.Group(func(student chi.Router) {
			student.Use(middleware.StudentOnly)
			student.Get("/me", h.scoped(h.self, h.overview))
			student.Get("/me/subject/{subjectID}", h.scoped(h.self, h.subjectOverview))
			student.Get("/me/subject/{subjectID}/ai", h.scoped(h.self, h.subjectAdvice))
			student.Get("/me/tag/{tagID}/ai", h.scoped(h.self, h.tagAdvice))
		})

		r.Group(func(teacher chi.Router) {
			teacher.Use(middleware.TeacherOnly)
			teacher.Get("/student/{userID}", h.scoped(h.student, h.overview))
			teacher.Get("/student/{userID}/subject/{subjectID}", h.scoped(h.student, h.subjectOverview))
			teacher.Get("/student/{userID}/subject/{subjectID}/ai", h.scoped(h.student, h.subjectAdvice))
			teacher.Get("/student/{userID}/tag/{tagID}/ai", h.scoped(h.student, h.tagAdvice))

			teacher.Get("/{classID}", h.scoped(h.class, h.classOverview))
			teacher.Get("/{classID}/latest", h.scoped(h.class, h.latest))
			teacher.Get("/{classID}/subject/{subjectID}", h.scoped(h.class, h.subjectOverview))
			teacher.Get("/{classID}/subject/{subjectID}/latest", h.scoped(h.class, h.subjectLatest))
			teacher.Get("/{classID}/subject/{subjectID}/ai", h.scoped(h.class, h.subjectAdvice))
			teacher.Get("/{classID}/tag/{tagID}", h.scoped(h.class, h.tagProblems))
			teacher.Get("/{classID}/tag/{tagID}/ai", h.scoped(h.class, h.tagAdvice))
		})
	})
}

func (h *AnalyzeHandler) scoped(resolve scopeResolver, next scopedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		scope, err := resolve(r, user)
		if err != nil {
			common.RespondWithDomainError(w, r, err)
			return
		}
		next(w, r, scope)
	}
}

func (h *AnalyzeHandler) self(_ *http.Request, user *model.User) (service.AnalysisScope, error) {
	return h.analyzeService.SelfScope(user), nil
}

func (h *AnalyzeHandler) student(r *http.Request, user *model.User) (service.AnalysisScope, error) {
	return h.analyzeService.StudentScope(r.Context(), user, chi.URLParam(r, "userID"))
}

func (h *AnalyzeHandler) class(r *http.Request, user *model.User) (service.AnalysisScope, error) {
	return h.analyzeService.ClassScope(r.Context(), user, chi.URLParam(r, "classID"))
}

func (h *AnalyzeHandler) overview(w http.ResponseWriter, r *http.Request, scope service.AnalysisScope) {
	overview, err := h.analyzeService.Overview(r.Context(), scope)
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, overview)
}

func (h *AnalyzeHandler) classOverview(w http.ResponseWriter, r *http.Request, scope service.AnalysisScope) {
	overview, err := h.analyzeService.ClassOverview(r.Context(), scope)
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, overview)
}

func (h *AnalyzeHandler) subjectOverview(w http.ResponseWriter, r *http.Request, scope service.AnalysisScope) {
	overview, err := h.analyzeService.SubjectOverview(r.Context(), scope, chi.URLParam(r, "subjectID"))
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, overview)
}

func (h *AnalyzeHandler) latest(w http.ResponseWriter, r *http.Request, scope service.AnalysisScope) {
	problems, err := h.analyzeService.Latest(r.Context(), scope)
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, problems)
}

func (h *AnalyzeHandler) subjectLatest(w http.ResponseWriter, r *http.Request, scope service.AnalysisScope) {
	latest, err := h.analyzeService.SubjectLatest(r.Context(), scope, chi.URLParam(r, "subjectID"))
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, latest)
}

func (h *AnalyzeHandler) tagProblems(w http.ResponseWriter, r *http.Request, scope service.AnalysisScope) {
	page, err := h.analyzeService.TagProblems(r.Context(), scope, chi.URLParam(r, "tagID"), pageParam(r))
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, page)
}

func (h *AnalyzeHandler) subjectAdvice(w http.ResponseWriter, r *http.Request, scope service.AnalysisScope) {
	stream, err := h.analyzeService.SubjectAdvice(r.Context(), scope, chi.URLParam(r, "subjectID"))
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	streamText(w, r, stream)
}

func (h *AnalyzeHandler) tagAdvice(w http.ResponseWriter, r *http.Request, scope service.AnalysisScope) {
	stream, err := h.analyzeService.TagAdvice(r.Context(), scope, chi.URLParam(r, "tagID"))
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	streamText(w, r, stream)
}

package handler

import (
	"net/http"
	"sort"
	"zhicuoti/internal/common"

	"github.com/go-chi/chi/v5"
)

type Endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// UtilsHandler walks the root router at request time, so it sees every
// route registered after it was constructed.
type UtilsHandler struct {
	routes chi.Routes
}

func NewUtilsHandler(routes chi.Routes) *UtilsHandler {
	return &UtilsHandler{routes: routes}
}

func (h *UtilsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/endpoints/", h.listEndpoints)
}

func (h *UtilsHandler) listEndpoints(w http.ResponseWriter, r *http.Request) {
	endpoints, err := ListEndpoints(h.routes)
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, endpoints)
}

// ListEndpoints returns the registered routes sorted by path, then method.
func ListEndpoints(routes chi.Routes) ([]Endpoint, error) {
	var endpoints []Endpoint
	walk := func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		endpoints = append(endpoints, Endpoint{Method: method, Path: route})
		return nil
	}
	if err := chi.Walk(routes, walk); err != nil {
		return nil, err
	}
	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].Path != endpoints[j].Path {
			return endpoints[i].Path < endpoints[j].Path
		}
		return endpoints[i].Method < endpoints[j].Method
	})
	return endpoints, nil
}

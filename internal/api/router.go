package api

import (
	"net/http"
	"zhicuoti/internal/api/handler"
	"zhicuoti/internal/api/middleware"
	"zhicuoti/internal/app/service"
	"zhicuoti/internal/common/security"
	"zhicuoti/internal/platform/config"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
	"github.com/rs/zerolog"
)

// Services groups what the HTTP layer calls into.
type Services struct {
	Auth    *service.AuthService
	User    *service.UserService
	Class   *service.ClassService
	Subject *service.SubjectService
	Tag     *service.TagService
	Problem *service.ProblemService
	Analyze *service.AnalyzeService
}

func NewRouter(cfg config.ServerConfig, cors config.CORSConfig, tokens *security.TokenManager, svc Services, store handler.ObjectReader, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.Recovery(log))
	r.Use(middleware.NewCORS(cors))
	if cfg.RequestTimeout > 0 {
		r.Use(chiMiddleware.Timeout(cfg.RequestTimeout))
	}
	// Verifier only parses the bearer token; Authenticator enforces it per route.
	r.Use(jwtauth.Verifier(tokens.JWTAuth()))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	authenticate := middleware.Authenticator(svc.Auth)

	prefix := cfg.APIPrefix
	if prefix == "" {
		prefix = "/"
	}
	r.Route(prefix, func(v1 chi.Router) {
		v1.Route("/auth", func(sub chi.Router) {
			handler.NewAuthHandler(svc.Auth).RegisterRoutes(sub, authenticate)
		})
		v1.Route("/user", func(sub chi.Router) {
			handler.NewUserHandler(svc.User).RegisterRoutes(sub, authenticate)
		})
		v1.Route("/class", func(sub chi.Router) {
			handler.NewClassHandler(svc.Class).RegisterRoutes(sub, authenticate)
		})
		v1.Route("/subject", func(sub chi.Router) {
			handler.NewSubjectHandler(svc.Subject).RegisterRoutes(sub, authenticate)
		})
		v1.Route("/tag", func(sub chi.Router) {
			handler.NewTagHandler(svc.Tag).RegisterRoutes(sub, authenticate)
		})
		v1.Route("/problem", func(sub chi.Router) {
			handler.NewProblemHandler(svc.Problem, cfg.MaxUploadSize).RegisterRoutes(sub, authenticate)
		})
		v1.Route("/analyze", func(sub chi.Router) {
			handler.NewAnalyzeHandler(svc.Analyze).RegisterRoutes(sub, authenticate)
		})
		v1.Route("/static", handler.NewStaticHandler(store).RegisterRoutes)
		v1.Route("/utils", handler.NewUtilsHandler(r).RegisterRoutes)
	})

	return r
}

package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/surveyforge/surveyforge-backend/internal/domain"
	"github.com/surveyforge/surveyforge-backend/internal/health"
	"github.com/surveyforge/surveyforge-backend/internal/http/handler"
	"github.com/surveyforge/surveyforge-backend/internal/http/middleware"
	"github.com/surveyforge/surveyforge-backend/internal/http/response"
	"github.com/surveyforge/surveyforge-backend/internal/service"
)

type Dependencies struct {
	AuthHandler   *handler.AuthHandler
	UserHandler   *handler.UserHandler
	AdminHandler  *handler.AdminHandler
	SurveyHandler *handler.SurveyHandler
	Sessions      *service.SessionService
	Logger        *slog.Logger

	CORSOrigins        []string
	APIRateLimitRPM    int
	AuthRateLimitRPM   int
	ForgotRateLimitRPM int
	RateLimitBackend   middleware.Limiter

	Readiness      *health.ProbeRunner
	EnableOTelHTTP bool
}

func NewRouter(dep Dependencies) http.Handler {
	if dep.Logger == nil {
		dep.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger(dep.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.MaxBodyBytes(1 << 20))
	r.Use(newLimiter(dep, dep.APIRateLimitRPM, middleware.FailOpen, "api"))

	authLimiter := newLimiter(dep, dep.AuthRateLimitRPM, middleware.FailClosed, "auth")
	forgotLimiter := newLimiter(dep, dep.ForgotRateLimitRPM, middleware.FailClosed, "forgot")
	authenticated := middleware.Authenticate(dep.Sessions)
	maybeAuthenticated := middleware.OptionalAuthenticate(dep.Sessions)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Post("/register", dep.AuthHandler.Register)
			r.With(authLimiter).Post("/register/brand", dep.AuthHandler.RegisterBrand)
			r.With(authLimiter).Post("/login", dep.AuthHandler.Login)
			r.With(authLimiter).Post("/refresh", dep.AuthHandler.Refresh)
			r.With(authLimiter).Post("/logout", dep.AuthHandler.Logout)
			r.With(authenticated).Post("/logout-all", dep.AuthHandler.LogoutAll)
			r.With(authenticated, authLimiter).Post("/password/change", dep.AuthHandler.ChangePassword)
			r.With(forgotLimiter).Post("/password/forgot", dep.AuthHandler.ForgotPassword)
			r.With(authLimiter).Post("/password/reset", dep.AuthHandler.ResetPassword)
			r.With(authenticated, authLimiter).Post("/verify/request", dep.AuthHandler.RequestEmailVerification)
			r.With(authLimiter).Post("/verify/confirm", dep.AuthHandler.ConfirmEmailVerification)
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticated)
			r.Get("/me", dep.UserHandler.Profile)
			r.Patch("/me", dep.UserHandler.UpdateProfile)
			r.Get("/me/sessions", dep.UserHandler.Sessions)
			r.Delete("/me/sessions/{sessionID}", dep.UserHandler.RevokeSession)
		})

		r.Route("/surveys", func(r chi.Router) {
			r.Get("/", dep.SurveyHandler.ListPublished)
			r.Get("/categories", dep.SurveyHandler.ListCategories)
			r.With(maybeAuthenticated).Get("/{formID}", dep.SurveyHandler.GetForm)
			r.With(maybeAuthenticated).Post("/{formID}/responses", dep.SurveyHandler.SubmitResponse)

			r.Group(func(r chi.Router) {
				r.Use(authenticated)
				r.Use(middleware.Authorize(domain.RoleBrand, domain.RoleAdmin))
				r.Get("/mine", dep.SurveyHandler.ListMine)
				r.Post("/", dep.SurveyHandler.CreateForm)
				r.Put("/{formID}", dep.SurveyHandler.UpdateForm)
				r.Patch("/{formID}/status", dep.SurveyHandler.Publish)
				r.Delete("/{formID}", dep.SurveyHandler.DeleteForm)
				r.Get("/{formID}/responses", dep.SurveyHandler.ListResponses)
				r.Get("/{formID}/responses/export", dep.SurveyHandler.ExportResponsesCSV)
				r.Get("/{formID}/stats", dep.SurveyHandler.FormStats)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(authenticated)
			r.Use(middleware.Authorize(domain.RoleAdmin))
			r.Get("/users", dep.AdminHandler.ListUsers)
			r.Patch("/users/{userID}/active", dep.AdminHandler.SetUserActive)
			r.Post("/users/{userID}/revoke-credentials", dep.AdminHandler.RevokeUserCredentials)
			r.Get("/credentials/stats", dep.AdminHandler.CredentialStats)
			r.Post("/credentials/cleanup", dep.AdminHandler.TriggerCleanup)
			r.Post("/credentials/sweep", dep.AdminHandler.TriggerComprehensiveSweep)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}

func newLimiter(dep Dependencies, rpm int, mode middleware.FailureMode, scope string) func(http.Handler) http.Handler {
	backend := dep.RateLimitBackend
	if backend == nil {
		backend = middleware.NewLocalLimiter()
	}
	return middleware.NewRateLimiterWith(backend, rpm, time.Minute, mode, scope, nil).Middleware()
}

package routes

import (
	"net/http"
	"time"

	csrf "filippo.io/csrf/gorilla"
	"github.com/agjmills/huddle/internal/chat"
	"github.com/agjmills/huddle/internal/config"
	"github.com/agjmills/huddle/internal/handlers"
	"github.com/agjmills/huddle/internal/logger"
	"github.com/agjmills/huddle/internal/middleware"
	"github.com/agjmills/huddle/internal/storage"
	"github.com/agjmills/huddle/internal/upload"
	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	gorillahandlers "github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Deps are the long-lived services the routes are wired to.
type Deps struct {
	DB      *gorm.DB
	Storage storage.Backend
	Uploads *upload.Manager
	Chat    *chat.Coordinator
	Version string
}

// NewRouter builds the application router with the global middleware stack.
func NewRouter(cfg *config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.LoggingMiddleware)
	r.Use(middleware.RecoverMiddleware)
	r.Use(middleware.SecurityHeaders)

	Setup(r, cfg, deps)

	if len(cfg.CORSAllowedOrigins) == 0 {
		return r
	}
	return gorillahandlers.CORS(
		gorillahandlers.MaxAge(3600),
		gorillahandlers.AllowedOrigins(cfg.CORSAllowedOrigins),
		gorillahandlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		gorillahandlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
	)(r)
}

// Setup registers health, metrics, room, upload, file and WebSocket routes.
//
// CSRF protection (filippo.io/csrf) uses Fetch Metadata headers rather than
// tokens: cross-site browser requests with unsafe methods are rejected, while
// clients that send neither Sec-Fetch-Site nor Origin pass through. It covers
// every mutating /api route. Room creation and upload initialization are rate
// limited per client IP; proxy headers are only trusted from TrustedProxyCIDRs.
func Setup(r chi.Router, cfg *config.Config, deps Deps) {
	roomHandler := handlers.NewRoomHandler(deps.DB, deps.Chat)
	uploadHandler := handlers.NewUploadHandler(deps.Uploads, cfg)
	fileHandler := handlers.NewFileHandler(deps.DB, deps.Storage)
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Storage, deps.Uploads, deps.Version)
	wsHandler := handlers.NewWSHandler(deps.Chat, cfg.CORSAllowedOrigins)

	trusted := middleware.ParseTrustedCIDRs(cfg.TrustedProxyCIDRs)
	createLimiter := tollbooth.NewLimiter(cfg.RateLimitPerMinute/60.0, &limiter.ExpirableOptions{
		DefaultExpirationTTL: time.Hour,
	})
	createLimiter.SetBurst(max(1, int(cfg.RateLimitPerMinute)))
	createLimiter.SetMessage("Too many requests. Please try again later.")
	rateLimit := middleware.RateLimit(createLimiter, trusted)

	csrfMiddleware := func(next http.Handler) http.Handler { return next }
	if cfg.CSRFEnabled {
		csrfMiddleware = csrf.Protect(
			[]byte(cfg.CSRFSecret),
			csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				logger.Warn("csrf validation failed",
					"reason", csrf.FailureReason(r),
					"method", r.Method,
					"path", r.URL.Path,
				)
				http.Error(w, "Forbidden", http.StatusForbidden)
			})),
		)
	}

	r.NotFound(middleware.NotFoundHandler)
	r.MethodNotAllowed(middleware.MethodNotAllowedHandler)

	r.Get("/health", healthHandler.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", wsHandler.ServeWS)

	r.Route("/files/{id}", func(r chi.Router) {
		r.Get("/", fileHandler.Download)
		r.Get("/preview", fileHandler.Preview)
		r.Get("/info", fileHandler.Info)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(csrfMiddleware)

		r.Get("/rooms", roomHandler.ListRooms)
		r.With(rateLimit).Post("/rooms", roomHandler.CreateRoom)
		r.Get("/rooms/{roomID}", roomHandler.GetRoom)
		r.Delete("/rooms/{roomID}", roomHandler.DeleteRoom)

		r.With(rateLimit).Post("/uploads/init", uploadHandler.InitUpload)
		r.Post("/uploads/{id}/chunk", uploadHandler.UploadChunk)
		r.Post("/uploads/{id}/complete", uploadHandler.CompleteUpload)
		r.Get("/uploads/{id}/progress", uploadHandler.GetProgress)
		r.Delete("/uploads/{id}", uploadHandler.CancelUpload)
	})
}

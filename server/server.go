// Package server wires the services into the HTTP surface: the chi router, its middleware
// chain and the listener lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/postboard/apperror"
	"github.com/user/postboard/auth"
	"github.com/user/postboard/config"
	"github.com/user/postboard/db"
	_ "github.com/user/postboard/docs" // Generated Swagger docs
	"github.com/user/postboard/enrichment"
	"github.com/user/postboard/posts"
	"github.com/user/postboard/users"
)

const (
	requestTimeout  = 60 * time.Second
	shutdownTimeout = 30 * time.Second
)

// Server is the postboard HTTP server.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	logger     *zap.Logger
}

// New builds the services on top of database and registers every route.
func New(cfg *config.AppConfig, database *db.DB, enricher enrichment.Enricher, logger *zap.Logger) *Server {
	authService := auth.NewAuthService(database, *cfg.Auth, logger)
	userService := users.NewUserService(database, enricher, logger)
	postService := posts.NewPostService(database, logger)

	authHandlers := auth.NewHandlers(authService)
	userHandlers := users.NewUserHandlers(userService)
	postHandler := posts.NewPostHandler(postService)

	r := chi.NewRouter()

	// Middleware must be registered before any route.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(recoverer(logger))
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	// Every API route answers with or without its trailing slash.
	r.Use(middleware.StripSlashes)

	// Set before any sub-router is mounted so mounts inherit them.
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apperror.Write(w, apperror.NewNotFoundError("Not found.", nil))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apperror.Write(w, apperror.NewMethodNotAllowedError(r.Method))
	})

	r.Get("/healthz", healthHandler(database))
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Post("/api/user/create", userHandlers.HandleCreateUser())
	r.Post("/api/user/token", authHandlers.HandleToken())
	r.Post("/api/user/token-refresh", authHandlers.HandleRefreshToken())

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(authService, logger))

		r.Get("/api/user/me", userHandlers.HandleGetUserProfile())
		r.Patch("/api/user/me", userHandlers.HandleUpdateUserProfile())

		r.Get("/api/users", userHandlers.HandleListUsers())
		r.Post("/api/users", userHandlers.HandleAdminCreateUser())

		r.Route("/api/posts", postHandler.RegisterRoutes)
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: requestTimeout + 5*time.Second,
			IdleTimeout:  60 * time.Second,
		},
		router: r,
		logger: logger,
	}
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("server starting", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		s.logger.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}

type healthResponse struct {
	Status string `json:"status" example:"ok"`
}

// healthHandler godoc
// @Summary Liveness and database check
// @Tags health
// @Produce json
// @Success 200 {object} healthResponse
// @Failure 503 {object} healthResponse
// @Router /healthz [get]
func healthHandler(database *db.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := database.Ping(ctx); err != nil {
			apperror.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
			return
		}
		apperror.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"adslot/internal/analytics"
	"adslot/internal/api"
	"adslot/internal/auth"
	"adslot/internal/booking"
	"adslot/internal/config"
	"adslot/internal/logger"
	"adslot/internal/wallet"

	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

// Handlers groups the HTTP surface of each domain package.
type Handlers struct {
	Booking   *booking.Handler
	Analytics *analytics.Handler
	Wallet    *wallet.Handler
}

type Server struct {
	router *gin.Engine
	http   *http.Server
}

// New wires middleware and routes. ctx bounds background work owned by the
// router, such as rate limiter cleanup.
func New(ctx context.Context, cfg *config.Config, h Handlers, checks ...HealthCheck) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	api.RegisterValidators()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLoggingMiddleware())
	router.Use(MetricsMiddleware())
	router.Use(corsMiddleware(cfg.CORSAllowOrigins))

	router.GET("/health", Health(checks...))
	router.GET("/metrics", Metrics())

	// optional auth first so the limiter can key on the caller
	limited := router.Group("/")
	limited.Use(auth.OptionalAuth(cfg.JWTSecret), RateLimitMiddleware(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst))
	{
		limited.GET("/slots/active", h.Booking.ListActive)
		limited.POST("/slots/quote", h.Booking.Quote)
		limited.POST("/slots/:id/track", h.Analytics.Track)
		limited.POST("/payments/webhook", h.Booking.Webhook)
	}

	authMiddleware := auth.AuthMiddleware(cfg.JWTSecret)
	protected := limited.Group("/")
	protected.Use(authMiddleware)
	{
		protected.POST("/slots/book", h.Booking.Book)
		protected.GET("/slots/mine", h.Booking.ListMine)
		protected.DELETE("/slots/:id", h.Booking.Cancel)
		protected.GET("/slots/:id/stats", h.Analytics.Stats)
		protected.GET("/slots/:id/events", h.Analytics.Events)
		protected.GET("/wallet", h.Wallet.GetBalance)
		protected.GET("/wallet/transactions", h.Wallet.ListTransactions)
	}

	admin := router.Group("/admin")
	admin.Use(authMiddleware, auth.RequireRole(auth.RoleAdmin))
	{
		admin.POST("/slots/house", h.Booking.CreateHouse)
		admin.POST("/slots/:id/approve", h.Booking.Approve)
		admin.POST("/slots/:id/reject", h.Booking.Reject)
		admin.POST("/slots/:id/stats/rebuild", h.Analytics.RebuildRollup)
		admin.POST("/wallets/:ownerID/credit", h.Wallet.Credit)
	}

	return &Server{
		router: router,
		http: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("server starting on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info("server shutting down")
	return s.http.Shutdown(shutdownCtx)
}

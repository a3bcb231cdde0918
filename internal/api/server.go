package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pinabook/internal/app"
	"pinabook/internal/auth"
	"pinabook/internal/config"
	"pinabook/internal/handlers"
	"pinabook/internal/middleware"
	"pinabook/internal/models"
	"pinabook/internal/service"
)

// Server представляет HTTP сервер API
type Server struct {
	router *gin.Engine
	config *config.Config
	app    *app.App
}

// NewServer создает новый экземпляр сервера поверх подключенного App
func NewServer(cfg *config.Config, a *app.App) *Server {
	gin.SetMode(cfg.GinMode)

	authn := auth.NewJWTAuthenticator(cfg.JWTSecret, cfg.JWTIssuer)
	s := &Server{
		router: NewRouter(cfg, a.Services, authn),
		config: cfg,
		app:    a,
	}
	s.router.GET("/health", s.healthCheck)
	return s
}

// NewRouter собирает middleware и все API роуты
func NewRouter(cfg *config.Config, services *service.Services, authn auth.Authenticator) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger())
	router.Use(middleware.Metrics())
	router.Use(middleware.Timeout(cfg.RequestTimeout))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := handlers.NewHandlers(services)

	api := router.Group("/api")
	api.Use(middleware.Authenticate(authn))
	if cfg.RateLimit.Enabled {
		api.Use(middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst).Middleware())
	}
	{
		affiliateOnly := middleware.RequireRole(models.RoleAffiliate)
		customerOnly := middleware.RequireRole(models.RoleCustomer)

		// Affiliates endpoints
		affiliates := api.Group("/affiliates")
		{
			affiliates.POST("", affiliateOnly, h.RegisterAffiliate)
			affiliates.GET("/:id/facilities", h.ListAffiliateFacilities)

			me := affiliates.Group("/me", affiliateOnly)
			me.GET("", h.GetAffiliate)
			me.PATCH("", h.RenameAffiliate)
			me.GET("/counters", h.GetCounters)
			me.GET("/counters/verify", h.VerifyCounters)
			me.POST("/counters/rebuild", h.RebuildCounters)
			me.GET("/audit", h.ListAudit)
			me.GET("/subscription", h.GetSubscription)
		}

		// Facilities endpoints
		facilities := api.Group("/facilities")
		{
			facilities.GET("", h.SearchFacilities)
			facilities.GET("/:id", h.GetFacility)
			facilities.POST("", affiliateOnly, h.CreateFacility)
			facilities.PATCH("/:id", affiliateOnly, h.UpdateFacility)
			facilities.DELETE("/:id", affiliateOnly, h.DeactivateFacility)
			facilities.PUT("/:id/availability", affiliateOnly, h.SetAvailability)
		}

		// Bookings endpoints
		bookings := api.Group("/bookings")
		{
			bookings.POST("", customerOnly, h.CreateBooking)
			bookings.GET("", customerOnly, h.ListBookings)
			bookings.GET("/:id", h.GetBooking)
			bookings.PATCH("/:id/cancel", customerOnly, h.CancelBooking)
			bookings.PATCH("/:id/confirm", affiliateOnly, h.ConfirmBooking)
			bookings.PATCH("/:id/reject", affiliateOnly, h.RejectBooking)
		}

		api.GET("/affiliate/bookings", affiliateOnly, h.ListAffiliateBookings)

		// Admin endpoints
		admin := api.Group("/admin", middleware.RequireRole(models.RoleAdmin))
		{
			admin.POST("/subscriptions/evaluate", h.EvaluateSubscriptions)
			admin.POST("/subscriptions/:affiliateId/payments", h.ConfirmPayment)
			admin.POST("/counters/verify", h.VerifyAllCounters)
		}
	}

	return router
}

// healthCheck обрабатывает health check запросы
func (s *Server) healthCheck(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":  "ok",
		"service": "pinabook-api",
		"version": "1.0.0",
	}

	if s.app.DB != nil {
		hc := s.app.DB.HealthCheck(c.Request.Context())
		body["database"] = hc
		if hc.Status == "unhealthy" {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	if s.app.Valkey != nil {
		if err := s.app.Valkey.Ping(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["valkey"] = err.Error()
		}
	}
	if s.app.Search != nil {
		if err := s.app.Search.HealthCheck(c.Request.Context()); err != nil {
			// поиск деградирует до скана, сервис жив
			body["search"] = err.Error()
		}
	}

	c.JSON(status, body)
}

// Run запускает HTTP сервер
func (s *Server) Run() error {
	addr := fmt.Sprintf(":%s", s.config.Port)
	return s.router.Run(addr)
}

// GetRouter возвращает роутер для тестирования
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// Cleanup закрывает соединения
func (s *Server) Cleanup() {
	s.app.Close()
}

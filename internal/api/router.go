package api

import (
	"net/http"

	"github.com/frostdev-ops/hmip-go/internal/api/handlers"
	"github.com/frostdev-ops/hmip-go/internal/api/middleware"
	"github.com/frostdev-ops/hmip-go/internal/config"
	"github.com/frostdev-ops/hmip-go/internal/websocket"
	"github.com/frostdev-ops/hmip-go/pkg/logger"
	"github.com/frostdev-ops/hmip-go/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// MetricsProvider records HTTP requests and exposes the scrape endpoint
type MetricsProvider interface {
	middleware.HTTPRecorder
	Handler() http.Handler
}

// NewRouter creates and configures the main HTTP router. metrics and hub may be nil.
func NewRouter(cfg *config.Config, svc handlers.HmIPService, metrics MetricsProvider, hub *websocket.Hub, requestLogger *logger.RequestLogger, log *logrus.Logger) *gin.Engine {
	switch cfg.Server.Mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(cfg.Server.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.ErrorHandlingMiddleware(log))
	router.Use(middleware.LoggingMiddleware(requestLogger))
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	if metrics != nil {
		router.Use(middleware.MetricsMiddleware(metrics))
	}

	h := handlers.NewHandlers(svc, log)

	// Public routes
	router.GET("/health", h.Health)
	if metrics != nil && cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(metrics.Handler()))
	}

	api := router.Group("/api")
	if cfg.Auth.Enabled {
		api.Use(middleware.AuthMiddleware(cfg.Auth.JWTSecret))
	}
	{
		api.GET("/pairing", h.GetPairing)
		api.POST("/pairing", h.StartPairing)

		api.GET("/devices", h.GetDevices)
		api.GET("/devices/:id", h.GetDevice)
		api.POST("/devices/:id/switch", h.SetSwitchState)
		api.POST("/devices/:id/dim", h.SetDimLevel)
		api.POST("/devices/:id/shutter", h.SetShutterLevel)

		api.GET("/groups", h.GetGroups)
		api.POST("/groups/:id/setpoint", h.SetSetPointTemperature)

		api.GET("/clients", h.GetClients)

		api.GET("/home", h.GetHome)
		api.POST("/home/absence", h.ActivateAbsence)
		api.DELETE("/home/absence", h.DeactivateAbsence)

		api.POST("/snapshot/reload", h.ReloadSnapshot)

		if hub != nil {
			api.GET("/events/ws", websocket.Handler(hub, originChecker(cfg.Server.AllowedOrigins)))
		}
	}

	router.NoRoute(func(c *gin.Context) {
		utils.SendError(c, http.StatusNotFound, "Endpoint not found")
	})

	return router
}

// originChecker limits WebSocket upgrades to the CORS origins. nil accepts any origin.
func originChecker(allowed []string) func(r *http.Request) bool {
	for _, origin := range allowed {
		if origin == "*" {
			return nil
		}
	}
	if len(allowed) == 0 {
		return nil
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == origin {
				return true
			}
		}
		return false
	}
}

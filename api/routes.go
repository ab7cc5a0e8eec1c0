package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/mailsweep/mailsweep/api/handlers"
	"github.com/mailsweep/mailsweep/api/middleware"
	"github.com/mailsweep/mailsweep/config"
	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/repository"
	"github.com/mailsweep/mailsweep/internal/session"
	"github.com/mailsweep/mailsweep/internal/tracing"
	"github.com/mailsweep/mailsweep/services"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(ctx context.Context, r *gin.Engine, cfg *config.Config, log logger.Logger, svcs *services.Services, repos *repository.Repositories, store *session.Store) {
	if svcs == nil {
		panic("Services cannot be nil")
	}
	if repos == nil {
		panic("Repositories cannot be nil")
	}

	// Add recovery middlewares
	r.Use(gin.Recovery())                                         // Gin's built-in recovery
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer())) // Our custom Jaeger recovery

	// setup handlers
	apiHandlers := handlers.InitHandlers(cfg, log, svcs, repos, store)

	cookieName := cfg.AppConfig.SessionCookieName
	sessionMw := middleware.SessionMiddleware(store, cookieName)

	// Health check (no session needed)
	r.GET("/health", handlers.HealthCheck)

	// OAuth entry points. Login and callback run before any session exists;
	// the callback creates one.
	oauth := r.Group("/")
	oauth.Use(sessionMw)
	{
		oauth.GET("/login/:provider", apiHandlers.Providers.Login())
		oauth.GET("/callback/:provider", apiHandlers.Providers.Callback())
		oauth.POST("/logout", apiHandlers.Providers.Logout())
	}

	// API group with session, tracing, and credential verification
	api := r.Group("/api")
	api.Use(sessionMw)
	api.Use(middleware.TracingMiddleware())
	{
		// Connecting Yahoo and listing connections only need a session, not
		// a verified credential: Yahoo connect may be the first credential.
		api.POST("/providers/yahoo", apiHandlers.Providers.ConnectYahoo())

		authed := api.Group("/")
		authed.Use(middleware.RequireAuth(store, svcs.Vault, cookieName))
		{
			providers := authed.Group("/providers")
			{
				providers.GET("", apiHandlers.Providers.List())
				providers.POST("/primary", apiHandlers.Providers.SwitchPrimary())
				providers.DELETE("/:provider", apiHandlers.Providers.Disconnect())
			}

			authed.POST("/scan", apiHandlers.Scan.Scan())
			authed.POST("/trash", apiHandlers.Sweep.Trash())
			authed.POST("/archive", apiHandlers.Sweep.Archive())

			stats := authed.Group("/stats")
			{
				stats.GET("/mailbox", apiHandlers.Stats.Mailbox())
				stats.GET("/usage", apiHandlers.Stats.Usage())
			}

			messages := authed.Group("/messages")
			{
				messages.GET("/trash", apiHandlers.Messages.ListTrash())
				messages.GET("/folders", apiHandlers.Messages.Folders())
				messages.GET("/:id", apiHandlers.Messages.Preview())
			}

			vault := authed.Group("/vault")
			{
				vault.POST("", apiHandlers.Vault.Connect())
				vault.GET("", apiHandlers.Vault.Status())
				vault.GET("/objects", apiHandlers.Vault.List())
				vault.GET("/download", apiHandlers.Vault.Download())
				vault.DELETE("", apiHandlers.Vault.Disconnect())
			}
		}
	}
}

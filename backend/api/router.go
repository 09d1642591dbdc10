package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"substarter/backend/repository"
	"substarter/backend/service"
	"substarter/backend/service/core"
	"substarter/backend/service/fetch"
)

type Router struct {
	service *service.Facade
}

func NewRouter(svc *service.Facade) *gin.Engine {
	r := &Router{service: svc}
	engine := gin.New()
	engine.Use(gin.Recovery())
	r.register(engine)
	return engine
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (r *Router) register(engine *gin.Engine) {
	engine.Use(corsMiddleware())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now()})
	})
	engine.GET("/snapshot", r.getSnapshot)

	profiles := engine.Group("/profiles")
	{
		profiles.GET("", r.listProfiles)
		profiles.POST("", r.createProfile)
		profiles.POST("/refresh", r.refreshAllProfiles)
		profiles.GET(":id", r.getProfile)
		profiles.PUT(":id", r.updateProfile)
		profiles.DELETE(":id", r.deleteProfile)
		profiles.POST(":id/refresh", r.refreshProfile)
		profiles.GET(":id/raw", r.getProfileRaw)
		profiles.GET(":id/document", r.getProfileDocument)
		profiles.PUT(":id/document", r.putProfileDocument)
	}

	engine.GET("/catalog", r.getCatalog)

	engine.GET("/settings", r.getSettings)
	engine.PUT("/settings", r.updateSettings)

	engine.GET("/config", r.previewConfig)
	engine.POST("/config/write", r.writeConfig)

	coreAPI := engine.Group("/core")
	{
		coreAPI.GET("/proxies", r.getCoreProxies)
		coreAPI.PUT("/proxies/:name", r.selectCoreProxy)
		coreAPI.GET("/proxies/:name/delay", r.getProxyDelay)
		coreAPI.PUT("/mode", r.setCoreMode)
	}

	engine.GET("/app/logs", r.getAppLogs)
}

func (r *Router) getSnapshot(c *gin.Context) {
	snap, err := r.service.Snapshot(c.Request.Context())
	if err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (r *Router) handleError(c *gin.Context, err error) {
	var statusErr *fetch.HTTPStatusError
	var downloadErr *fetch.DownloadError
	switch {
	case errors.Is(err, repository.ErrInvalidID),
		errors.Is(err, repository.ErrInvalidData),
		errors.Is(err, fetch.ErrEmptyURL):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrProfileNotFound),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, core.ErrProxyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &downloadErr), errors.As(err, &statusErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrCoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func (r *Router) getSettings(c *gin.Context) {
	settings, err := r.service.Settings(c.Request.Context())
	if err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// updateSettings 请求体只需包含要修改的字段
func (r *Router) updateSettings(c *gin.Context) {
	ctx := c.Request.Context()
	settings, err := r.service.Settings(ctx)
	if err != nil {
		r.handleError(c, err)
		return
	}
	if err := c.ShouldBindJSON(&settings); err != nil {
		badRequest(c, err)
		return
	}
	settings.UpdatedAt = time.Time{}
	updated, err := r.service.UpdateSettings(ctx, settings)
	if err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (r *Router) previewConfig(c *gin.Context) {
	data, err := r.service.PreviewConfig(c.Request.Context())
	if err != nil {
		r.handleError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/yaml; charset=utf-8", data)
}

func (r *Router) writeConfig(c *gin.Context) {
	path, err := r.service.WriteConfig(c.Request.Context())
	if err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}

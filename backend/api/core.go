package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (r *Router) getCoreProxies(c *gin.Context) {
	proxies, err := r.service.CoreProxies(c.Request.Context())
	if err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proxies": proxies})
}

// selectCoreProxy PUT /core/proxies/:name，:name 为代理组，请求体 {"name": 成员}
func (r *Router) selectCoreProxy(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := r.service.SelectProxy(c.Request.Context(), c.Param("name"), req.Name); err != nil {
		r.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (r *Router) getProxyDelay(c *gin.Context) {
	ms, err := r.service.NodeDelay(c.Request.Context(), c.Param("name"))
	if err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"delay": ms})
}

func (r *Router) setCoreMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode" binding:"required,oneof=rule global direct"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := r.service.SetMode(c.Request.Context(), req.Mode); err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": req.Mode})
}

package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/sirupsen/logrus"

	"substarter/backend/domain"
)

// maxDocumentBytes 编辑文档请求体上限
const maxDocumentBytes = 16 << 20

type profileRequest struct {
	Name                      string `json:"name"`
	URL                       string `json:"url"`
	Enabled                   *bool  `json:"enabled,omitempty"`
	AutoUpdate                *bool  `json:"autoUpdate,omitempty"`
	AutoUpdateIntervalMinutes *int   `json:"autoUpdateIntervalMinutes,omitempty"`

	// Refresh 创建后立即拉取一次
	Refresh bool `json:"refresh,omitempty"`
}

func (req profileRequest) apply(p domain.Profile) domain.Profile {
	if name := strings.TrimSpace(req.Name); name != "" {
		p.Name = name
	}
	p.URL = strings.TrimSpace(req.URL)
	if req.Enabled != nil {
		p.Enabled = *req.Enabled
	}
	if req.AutoUpdate != nil {
		p.AutoUpdate = *req.AutoUpdate
	}
	if req.AutoUpdateIntervalMinutes != nil {
		p.AutoUpdateIntervalMinutes = *req.AutoUpdateIntervalMinutes
	}
	return p
}

func (r *Router) listProfiles(c *gin.Context) {
	profiles, err := r.service.ListProfiles(c.Request.Context())
	if err != nil {
		r.handleError(c, err)
		return
	}
	refreshing := r.service.RefreshingProfiles()
	if refreshing == nil {
		refreshing = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"profiles":   profiles,
		"refreshing": refreshing,
	})
}

func (r *Router) getProfile(c *gin.Context) {
	p, err := r.service.GetProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (r *Router) createProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	created, err := r.service.CreateProfile(ctx, req.apply(domain.NewProfile()))
	if err != nil {
		r.handleError(c, err)
		return
	}
	if req.Refresh && created.URL != "" {
		// 拉取失败写在 lastError 中，创建本身仍然成功
		if refreshed, err := r.service.RefreshProfile(ctx, created.ID); err != nil {
			logrus.WithField("profile", created.ID).Warnf("[API] 新订阅首次拉取失败: %v", err)
			if p, getErr := r.service.GetProfile(ctx, created.ID); getErr == nil {
				created = p
			}
		} else {
			created = refreshed
		}
	}
	c.JSON(http.StatusCreated, created)
}

func (r *Router) updateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	updated, err := r.service.UpdateProfile(c.Request.Context(), c.Param("id"), func(p domain.Profile) (domain.Profile, error) {
		return req.apply(p), nil
	})
	if err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (r *Router) deleteProfile(c *gin.Context) {
	if err := r.service.DeleteProfile(c.Request.Context(), c.Param("id")); err != nil {
		r.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (r *Router) refreshProfile(c *gin.Context) {
	p, err := r.service.RefreshProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (r *Router) refreshAllProfiles(c *gin.Context) {
	failed, err := r.service.RefreshAllProfiles(c.Request.Context())
	if err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"failed": failed})
}

func (r *Router) getProfileRaw(c *gin.Context) {
	raw, err := r.service.ProfileRaw(c.Request.Context(), c.Param("id"))
	if err != nil {
		r.handleError(c, err)
		return
	}
	c.String(http.StatusOK, raw)
}

func (r *Router) getProfileDocument(c *gin.Context) {
	doc, err := r.service.ProfileDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		r.handleError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/yaml; charset=utf-8", []byte(doc))
}

// putProfileDocument 接受纯文本正文，或 JSON {"content": "..."}
func (r *Router) putProfileDocument(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDocumentBytes+1))
	if err != nil {
		badRequest(c, err)
		return
	}
	if len(body) > maxDocumentBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "document too large"})
		return
	}

	content := string(body)
	if strings.HasPrefix(c.ContentType(), gin.MIMEJSON) {
		var req struct {
			Content *string `json:"content"`
		}
		if err := binding.JSON.BindBody(body, &req); err != nil {
			badRequest(c, err)
			return
		}
		if req.Content == nil {
			badRequest(c, errors.New("content is required"))
			return
		}
		content = *req.Content
	}

	p, err := r.service.ApplyProfileDocument(c.Request.Context(), c.Param("id"), content)
	if err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (r *Router) getCatalog(c *gin.Context) {
	cat, err := r.service.Catalog(c.Request.Context())
	if err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, cat)
}

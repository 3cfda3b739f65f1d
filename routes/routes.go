// Package routes exposes the marketplace over HTTP.
package routes

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gainable/config"
	"gainable/models"
	"gainable/services"
)

// Deps bundles what the handlers need.
type Deps struct {
	Config        *config.Config
	Logger        *zap.Logger
	Auth          *services.AuthService
	Experts       *services.ExpertService
	Leads         *services.LeadService
	Subscriptions *services.SubscriptionService
	Articles      *services.ArticleService
	Profiles      *services.ProfileService
	Admin         *services.AdminService
	Uploads       *services.UploadService
	Maintenance   *services.MaintenanceRunner
}

// Register mounts every route on router.
func Register(router *gin.Engine, d *Deps) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	setupExpertRoutes(api, d)
	setupLeadRoutes(api, d)
	setupAuthRoutes(api, d)
	setupWebhookRoutes(api, d)

	me := api.Group("/me", authMiddleware(d.Auth), requireExpert())
	setupProfileRoutes(me, d)
	setupArticleRoutes(me, d)
	setupBillingRoutes(me, d)

	admin := api.Group("/admin", authMiddleware(d.Auth), requireRole(models.RoleAdmin))
	setupAdminRoutes(admin, d)
}

// writeError maps service errors to HTTP responses.
func writeError(c *gin.Context, log *zap.Logger, err error) {
	var (
		validation *services.ValidationError
		policy     *services.PolicyError
		upstream   *services.UpstreamError
	)
	switch {
	case errors.As(err, &upstream):
		log.Error("Upstream provider failed", zap.String("provider", upstream.Provider), zap.Error(upstream.Err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "le service " + upstream.Provider + " est indisponible, réessayez plus tard"})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error(), "field": validation.Field})
	case errors.As(err, &policy):
		body := gin.H{"error": policy.Error()}
		if policy.UnlockDate != nil {
			body["unlock_date"] = policy.UnlockDate.Format(time.RFC3339)
		}
		c.JSON(policy.Status(), body)
	case errors.Is(err, services.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, services.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		log.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

package routes

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gainable/geo"
	"gainable/models"
	"gainable/services"
)

// listParam accepts both repeated (?tag=a&tag=b) and comma separated (?tag=a,b) values.
func listParam(c *gin.Context, name string) []string {
	var out []string
	for _, v := range c.QueryArray(name) {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseFilter(c *gin.Context) (services.ExpertFilter, bool) {
	f := services.ExpertFilter{
		Query:         c.Query("q"),
		City:          c.Query("city"),
		Country:       c.Query("country"),
		Technologies:  listParam(c, "technology"),
		BuildingTypes: listParam(c, "building_type"),
		Interventions: listParam(c, "intervention"),
		Brands:        listParam(c, "brand"),
	}
	for _, cat := range listParam(c, "category") {
		f.Categories = append(f.Categories, models.ExpertCategory(cat))
	}

	lat, lng := c.Query("lat"), c.Query("lng")
	if lat == "" && lng == "" {
		return f, true
	}
	la, errLat := strconv.ParseFloat(lat, 64)
	ln, errLng := strconv.ParseFloat(lng, 64)
	if errLat != nil || errLng != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng must both be numbers"})
		return f, false
	}
	f.Point = &geo.Point{Lat: la, Lng: ln}
	return f, true
}

func setupExpertRoutes(api *gin.RouterGroup, d *Deps) {
	rg := api.Group("/experts")

	rg.GET("", func(c *gin.Context) {
		f, ok := parseFilter(c)
		if !ok {
			return
		}
		results, err := d.Experts.Search(c.Request.Context(), f)
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"experts": results, "count": len(results)})
	})

	rg.GET("/:slug", func(c *gin.Context) {
		expert, err := d.Experts.GetBySlug(c.Request.Context(), c.Param("slug"))
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		articles, err := d.Articles.ListPublished(c.Request.Context(), expert.ID)
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"expert": expert, "articles": articles})
	})

	rg.GET("/:slug/articles/:articleSlug", func(c *gin.Context) {
		article, err := d.Articles.GetPublished(c.Request.Context(), c.Param("slug"), c.Param("articleSlug"))
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		c.JSON(http.StatusOK, article)
	})
}

func setupLeadRoutes(api *gin.RouterGroup, d *Deps) {
	api.POST("/leads", func(c *gin.Context) {
		var in services.LeadInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		receipt, err := d.Leads.Submit(c.Request.Context(), in)
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		body := gin.H{"success": true}
		if receipt.LeadID != 0 {
			body["id"] = receipt.LeadID
		}
		c.JSON(http.StatusOK, body)
	})

	api.POST("/uploads", uploadHandler(d, services.UploadLeads))
}

func uploadHandler(d *Deps, prefix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, d.Config.MaxUploadB+1<<20)
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
			return
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
			return
		}
		link, err := d.Uploads.Upload(c.Request.Context(), prefix, fh.Filename, data)
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"url": link})
	}
}

func setupAuthRoutes(api *gin.RouterGroup, d *Deps) {
	rg := api.Group("/auth")

	rg.POST("/register", func(c *gin.Context) {
		var in services.RegistrationInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		user, expert, err := d.Profiles.Register(c.Request.Context(), in)
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		token, err := d.Auth.IssueToken(*user, expert.ID)
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"token": token, "expert": expert})
	})

	rg.POST("/login", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		token, user, err := d.Auth.Login(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
	})
}

func setupWebhookRoutes(api *gin.RouterGroup, d *Deps) {
	api.POST("/webhooks/stripe", func(c *gin.Context) {
		payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		if err := d.Subscriptions.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
			// Non-2xx makes the provider redeliver the event.
			d.Logger.Warn("Billing webhook not applied", zap.Error(err))
			writeError(c, d.Logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"received": true})
	})
}

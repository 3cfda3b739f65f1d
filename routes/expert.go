package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gainable/services"
)

func setupProfileRoutes(me *gin.RouterGroup, d *Deps) {
	me.GET("/profile", func(c *gin.Context) {
		expert, err := d.Profiles.Get(c.Request.Context(), claimsFrom(c).ExpertID)
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		c.JSON(http.StatusOK, expert)
	})

	me.PUT("/profile", func(c *gin.Context) {
		var in services.ProfileInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		expert, err := d.Profiles.Update(c.Request.Context(), claimsFrom(c).ExpertID, in)
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		c.JSON(http.StatusOK, expert)
	})

	me.POST("/uploads", uploadHandler(d, services.UploadArticles))
}

func setupArticleRoutes(me *gin.RouterGroup, d *Deps) {
	rg := me.Group("/articles")

	rg.GET("", func(c *gin.Context) {
		articles, err := d.Articles.ListMine(c.Request.Context(), claimsFrom(c).ExpertID)
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		c.JSON(http.StatusOK, articles)
	})

	rg.POST("", func(c *gin.Context) {
		var in services.ArticleInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		article, err := d.Articles.Create(c.Request.Context(), claimsFrom(c).ExpertID, in)
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		c.JSON(http.StatusCreated, article)
	})

	rg.PUT("/:id", func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var in services.ArticleInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		article, err := d.Articles.Update(c.Request.Context(), claimsFrom(c).ExpertID, id, in)
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		c.JSON(http.StatusOK, article)
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		if err := d.Articles.Delete(c.Request.Context(), claimsFrom(c).ExpertID, id); err != nil {
			writeError(c, d.Logger, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	rg.POST("/suggest", func(c *gin.Context) {
		var req struct {
			Topic string `json:"topic"`
			City  string `json:"city"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		content, err := d.Articles.Suggest(c.Request.Context(), req.Topic, req.City)
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		c.JSON(http.StatusOK, content)
	})
}

func setupBillingRoutes(me *gin.RouterGroup, d *Deps) {
	rg := me.Group("/billing")

	rg.GET("/subscription", func(c *gin.Context) {
		sub, err := d.Subscriptions.Get(c.Request.Context(), claimsFrom(c).ExpertID)
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		unlock := services.CancellationWindowStart(sub.CreatedAt)
		c.JSON(http.StatusOK, gin.H{"subscription": sub, "cancellable_from": unlock})
	})

	rg.POST("/checkout", func(c *gin.Context) {
		url, err := d.Subscriptions.Checkout(c.Request.Context(), claimsFrom(c).ExpertID)
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": url})
	})

	rg.GET("/invoices", func(c *gin.Context) {
		invoices, err := d.Subscriptions.Invoices(c.Request.Context(), claimsFrom(c).ExpertID)
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		c.JSON(http.StatusOK, invoices)
	})

	rg.POST("/cancel", func(c *gin.Context) {
		sub, err := d.Subscriptions.Cancel(c.Request.Context(), claimsFrom(c).ExpertID)
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"subscription": sub, "message": "votre abonnement prendra fin à l'échéance de la période en cours"})
	})
}

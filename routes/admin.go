package routes

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gainable/geo"
	"gainable/models"
	"gainable/services"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func setupAdminRoutes(admin *gin.RouterGroup, d *Deps) {
	experts := admin.Group("/experts")

	experts.GET("", func(c *gin.Context) {
		list, err := d.Admin.ListExperts(c.Request.Context(), models.ExpertStatus(c.Query("status")))
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		c.JSON(http.StatusOK, list)
	})

	experts.PATCH("/:id/status", func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var req struct {
			Status models.ExpertStatus `json:"status"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		e, err := d.Admin.SetStatus(c.Request.Context(), id, req.Status)
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		c.JSON(http.StatusOK, e)
	})

	experts.PATCH("/:id/label", func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var req struct {
			Labeled bool `json:"labeled"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		e, err := d.Admin.SetLabel(c.Request.Context(), id, req.Labeled)
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		c.JSON(http.StatusOK, e)
	})

	experts.PATCH("/:id/location", func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var p geo.Point
		if err := c.ShouldBindJSON(&p); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		e, err := d.Admin.CorrectLocation(c.Request.Context(), id, p)
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		c.JSON(http.StatusOK, e)
	})

	experts.DELETE("/:id", func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		if err := d.Admin.DeleteExpert(c.Request.Context(), id); err != nil {
			writeError(c, d.Logger, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	leads := admin.Group("/leads")

	loadLeads := func(c *gin.Context) ([]models.Lead, bool) {
		var since *time.Time
		if s := c.Query("since"); s != "" {
			t, err := time.Parse("2006-01-02", s)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "since must be YYYY-MM-DD"})
				return nil, false
			}
			since = &t
		}
		list, err := d.Admin.ListLeads(c.Request.Context(), since)
		if err != nil {
			writeError(c, d.Logger, err)
			return nil, false
		}
		return list, true
	}

	leads.GET("", func(c *gin.Context) {
		if list, ok := loadLeads(c); ok {
			c.JSON(http.StatusOK, list)
		}
	})

	leads.GET("/export", func(c *gin.Context) {
		list, ok := loadLeads(c)
		if !ok {
			return
		}
		data, err := services.ExportLeadsXLSX(list)
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		name := fmt.Sprintf("leads-%s.xlsx", time.Now().Format("20060102"))
		c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
		c.Data(http.StatusOK, xlsxMIME, data)
	})

	leads.POST("/:id/assign", func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var req struct {
			ExpertIDs []uint `json:"expert_ids"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		lead, err := d.Admin.AssignLead(c.Request.Context(), id, req.ExpertIDs)
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		c.JSON(http.StatusOK, lead)
	})

	admin.PATCH("/articles/:id/moderate", func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var req struct {
			Action string `json:"action"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || (req.Action != "publish" && req.Action != "reject") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "action must be publish or reject"})
			return
		}
		article, err := d.Articles.Moderate(c.Request.Context(), id, req.Action == "publish")
		if err != nil {
			writeError(c, d.Logger, err)
			return
		}
		c.JSON(http.StatusOK, article)
	})

	admin.POST("/maintenance/:job", func(c *gin.Context) {
		var req struct {
			IdempotencyKey string `json:"idempotency_key"`
		}
		// An empty body runs the job under a fresh key.
		_ = c.ShouldBindJSON(&req)
		run, err := d.Maintenance.Run(c.Request.Context(), c.Param("job"), req.IdempotencyKey)
		if err != nil && run == nil {
			writeError(c, d.Logger, err)
			return
		}
		status := http.StatusOK
		if run.Status == services.RunFailed {
			status = http.StatusInternalServerError
		}
		c.JSON(status, run)
	})
}

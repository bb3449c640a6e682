package main

import (
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/models"
	"github.com/gin-gonic/gin"
)

func filtersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireRole(c) {
			return
		}

		storeId := c.Query("store_id")
		if storeId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "store_id is required"})
			return
		}

		options, err := models.GetFilterOptions(c.Request.Context(), storeId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, options)
	}
}

// analyticsRange defaults to the trailing 30 days when from/to are absent.
func analyticsRange(c *gin.Context) (time.Time, time.Time) {
	from, to := timeRangeQuery(c)
	now := time.Now().UTC()
	if to == nil {
		to = &now
	}
	if from == nil {
		start := to.AddDate(0, 0, -30)
		from = &start
	}
	return *from, *to
}

func salesSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireRole(c) {
			return
		}

		storeId := c.Query("store_id")
		if storeId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "store_id is required"})
			return
		}
		from, to := analyticsRange(c)

		summary, err := models.GetSalesSummary(c.Request.Context(), storeId, from, to)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func salesTrendHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireRole(c) {
			return
		}

		storeId := c.Query("store_id")
		if storeId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "store_id is required"})
			return
		}
		from, to := analyticsRange(c)

		points, err := models.GetSalesTrend(c.Request.Context(), storeId, from, to)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, points)
	}
}

func topSkusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireRole(c) {
			return
		}

		storeId := c.Query("store_id")
		if storeId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "store_id is required"})
			return
		}
		from, to := analyticsRange(c)

		skus, err := models.GetTopSkus(c.Request.Context(), storeId, from, to, intQuery(c, "limit"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, skus)
	}
}

func movementsExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireRole(c) {
			return
		}

		filter := movementFilterFromQuery(c)
		if filter.StoreId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "store_id is required"})
			return
		}

		f, err := models.ExportMovementsExcel(c.Request.Context(), filter)
		if err != nil {
			respondError(c, err)
			return
		}

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=movements.xlsx")
		if err := f.Write(c.Writer); err != nil {
			c.Status(http.StatusInternalServerError)
		}
	}
}

package server

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"riskapi/internal/domain"
	"riskapi/internal/metrics"
	"riskapi/internal/storage"
)

type averageResponse struct {
	AverageProbability float64 `json:"average_probability"`
}

func (s *Server) handleAverageProbability(c *gin.Context) {
	var filter storage.Filter
	if m := strings.TrimSpace(c.Query("model")); m != "" {
		d, err := domain.ParseDomain(m)
		if err != nil {
			metrics.AnalyticsRequestsTotal.WithLabelValues("bad_request").Inc()
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		filter.Domain = d
	}

	start := time.Now()
	avg, err := s.deps.Analytics.AverageProbability(c.Request.Context(), filter)
	metrics.ObserveSince("store", start)
	if err != nil {
		metrics.AnalyticsRequestsTotal.WithLabelValues("error").Inc()
		log.Printf("analytics average error domain=%q err=%v", filter.Domain, err)
		c.JSON(http.StatusBadGateway, errorResponse{Error: "analytics unavailable"})
		return
	}
	metrics.AnalyticsRequestsTotal.WithLabelValues("ok").Inc()
	c.JSON(http.StatusOK, averageResponse{AverageProbability: avg})
}

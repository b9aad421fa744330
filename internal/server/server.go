package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"riskapi/internal/domain"
	"riskapi/internal/integrations/llm"
	"riskapi/internal/model"
	"riskapi/internal/storage"
)

const maxBodyBytes = 64 * 1024

type ModelSource interface {
	Get(d domain.Domain) (model.Classifier, bool)
}

type AverageSource interface {
	AverageProbability(ctx context.Context, f storage.Filter) (float64, error)
}

// Deps is the application context shared by every request. Everything in
// it is created once at startup and read-only afterwards.
type Deps struct {
	Models    ModelSource
	Explainer llm.Explainer
	Analytics AverageSource
	// Recorder is nil when predictions are not persisted server-side.
	Recorder storage.PredictionWriter
}

type Options struct {
	AllowedOrigins []string
}

type Server struct {
	deps   Deps
	engine *gin.Engine
}

func New(opts Options, deps Deps) *Server {
	if deps.Explainer == nil {
		deps.Explainer = llm.Disabled{}
	}
	s := &Server{deps: deps, engine: gin.New()}

	s.engine.Use(requestLogger(), gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Printf("http panic method=%s path=%s: %v", c.Request.Method, c.Request.URL.Path, recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}))
	s.engine.Use(echoRequestedHeaders(), newCORS(opts.AllowedOrigins))

	s.engine.GET("/", s.handleRoot)
	for _, d := range domain.All {
		s.engine.POST(fmt.Sprintf("/predict/%s", d), s.handlePredict(d))
	}
	s.engine.GET("/analytics/average_probability", s.handleAverageProbability)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Health Risk Prediction API is running"})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Printf("http method=%s path=%s status=%d dur=%s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}

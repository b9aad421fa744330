package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"riskapi/internal/domain"
	"riskapi/internal/integrations/llm"
	"riskapi/internal/metrics"
	"riskapi/internal/model"
)

type predictResponse struct {
	Prediction  int     `json:"prediction"`
	Probability float64 `json:"probability"`
	RiskLabel   string  `json:"risk_label"`
	Explanation string  `json:"explanation"`
}

type validationResponse struct {
	Error   string   `json:"error"`
	Missing []string `json:"missing,omitempty"`
	Invalid []string `json:"invalid,omitempty"`
}

func (s *Server) handlePredict(d domain.Domain) gin.HandlerFunc {
	return func(c *gin.Context) {
		clf, ok := s.deps.Models.Get(d)
		if !ok {
			metrics.PredictionErrorsTotal.WithLabelValues(string(d), "model_unavailable").Inc()
			c.JSON(http.StatusOK, errorResponse{Error: fmt.Sprintf("%s %v", d, model.ErrModelUnavailable)})
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
		if err != nil {
			metrics.PredictionErrorsTotal.WithLabelValues(string(d), "body").Inc()
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
				return
			}
			c.JSON(http.StatusBadRequest, errorResponse{Error: "could not read request body"})
			return
		}

		req, err := domain.Validate(d, body)
		if err != nil {
			metrics.PredictionErrorsTotal.WithLabelValues(string(d), "validation").Inc()
			var verr *domain.ValidationError
			if errors.As(err, &verr) {
				c.JSON(http.StatusBadRequest, validationResponse{Error: verr.Error(), Missing: verr.Missing, Invalid: verr.Invalid})
				return
			}
			log.Printf("predict validate error domain=%s err=%v", d, err)
			c.JSON(http.StatusInternalServerError, errorResponse{Error: "prediction failed"})
			return
		}

		result, err := infer(clf, req)
		if err != nil {
			metrics.PredictionErrorsTotal.WithLabelValues(string(d), "inference").Inc()
			log.Printf("predict inference error domain=%s err=%v", d, err)
			c.JSON(http.StatusInternalServerError, errorResponse{Error: "prediction failed"})
			return
		}
		metrics.PredictionsTotal.WithLabelValues(string(d), result.RiskLabel).Inc()

		start := time.Now()
		explanation := s.deps.Explainer.Explain(c.Request.Context(), llm.ExplainInput{
			DomainName:        d.DisplayName(),
			Fields:            domain.DisplayFields(req),
			RiskLabel:         result.RiskLabel,
			ConfidencePercent: result.ConfidencePercent(),
		})
		metrics.ObserveSince("llm", start)
		if explanation.Failed() {
			metrics.ExplanationFailuresTotal.WithLabelValues(string(d)).Inc()
			log.Printf("predict explanation failed domain=%s err=%v", d, explanation.Err)
		}

		s.record(c, d, req, result)

		log.Printf("predict domain=%s class=%d label=%q confidence=%.4f", d, result.RawClass, result.RiskLabel, result.Confidence)
		c.JSON(http.StatusOK, predictResponse{
			Prediction:  result.RawClass,
			Probability: result.Confidence,
			RiskLabel:   result.RiskLabel,
			Explanation: llm.Render(explanation),
		})
	}
}

func infer(clf model.Classifier, req domain.PredictionRequest) (domain.PredictionResult, error) {
	row, err := domain.Project(req)
	if err != nil {
		return domain.PredictionResult{}, err
	}
	class, probs, err := model.Classify(clf, row)
	if err != nil {
		return domain.PredictionResult{}, err
	}
	return domain.Interpret(class, probs), nil
}

// record persists the outcome when a recorder is configured. Failures are
// logged and never change the response.
func (s *Server) record(c *gin.Context, d domain.Domain, req domain.PredictionRequest, result domain.PredictionResult) {
	if s.deps.Recorder == nil {
		return
	}
	start := time.Now()
	err := s.deps.Recorder.InsertPrediction(c.Request.Context(), domain.PredictionRecord{
		ModelName:   string(d),
		Input:       req.Values,
		Prediction:  result.RawClass,
		Probability: result.Confidence,
		CreatedAt:   start.UTC(),
	})
	metrics.ObserveSince("store", start)
	if err != nil {
		log.Printf("predict record error domain=%s err=%v", d, err)
	}
}

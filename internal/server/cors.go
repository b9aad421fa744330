package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const (
	headerAllowHeaders   = "Access-Control-Allow-Headers"
	headerAllowOrigin    = "Access-Control-Allow-Origin"
	headerRequestHeaders = "Access-Control-Request-Headers"
	headerRequestMethod  = "Access-Control-Request-Method"
)

func newCORS(origins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept", "Authorization", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// echoRequestedHeaders allows every header a preflight asks for by
// replacing the static Access-Control-Allow-Headers list once cors has
// accepted the origin.
func echoRequestedHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		requested := c.GetHeader(headerRequestHeaders)
		if c.Request.Method != http.MethodOptions || c.GetHeader(headerRequestMethod) == "" || requested == "" {
			c.Next()
			return
		}
		c.Writer = &preflightWriter{ResponseWriter: c.Writer, requested: requested}
		c.Next()
	}
}

type preflightWriter struct {
	gin.ResponseWriter
	requested string
}

func (w *preflightWriter) echo() {
	h := w.Header()
	if h.Get(headerAllowOrigin) != "" && h.Get(headerAllowHeaders) != "" {
		h.Set(headerAllowHeaders, w.requested)
	}
}

func (w *preflightWriter) WriteHeader(code int) {
	w.echo()
	w.ResponseWriter.WriteHeader(code)
}

func (w *preflightWriter) WriteHeaderNow() {
	w.echo()
	w.ResponseWriter.WriteHeaderNow()
}

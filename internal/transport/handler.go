// Package transport exposes the detection engine over HTTP. The boundary
// stays thin: it resolves image bytes (inline base64 or a fetched URL),
// hands them to the engine, and translates engine errors into the stable
// JSON error shape. Authentication lives upstream; the handler only reads
// a client identifier header.
package transport

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/verilens/detection-engine/internal/config"
	"github.com/verilens/detection-engine/internal/engine"
	apperrors "github.com/verilens/detection-engine/internal/errors"
	"github.com/verilens/detection-engine/internal/logger"
	"github.com/verilens/detection-engine/internal/storage"
	"github.com/verilens/detection-engine/pkg/models"
	"github.com/verilens/detection-engine/pkg/validation"
)

const (
	apiVersion      = "1.0.0"
	clientIDHeader  = "X-Client-ID"
	anonymousClient = "anonymous"
)

// NewHandler builds the HTTP surface: analysis, liveness and metrics.
func NewHandler(eng engine.DetectionEngine, fetcher storage.SourceFetcher, cfg *config.Config) http.Handler {
	r := gin.Default()

	// Configure CORS
	r.Use(
		cors.New(cors.Config{
			AllowOrigins:     []string{"*"},
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", clientIDHeader},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
		requestSizeLimiter(cfg.MaxRequestBodySize),
	)

	// Configure routes
	r.GET("/healthz", healthCheck(eng))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/v1/analyze", analyzeImage(eng, fetcher, cfg))

	return r
}

func analyzeImage(eng engine.DetectionEngine, fetcher storage.SourceFetcher, cfg *config.Config) gin.HandlerFunc {
	urls := validation.NewURLValidator()

	return func(c *gin.Context) {
		startTime := time.Now()
		clientID := clientIDFrom(c)

		// Log request start
		logger.WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"client_id": clientID,
			"ip":        c.ClientIP(),
		}).Info("Processing analysis request")

		var req models.AnalyzeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondEngineError(c, apperrors.NewInvalidRequest("invalid request format", err))
			return
		}

		image, err := resolveImage(c.Request.Context(), &req, fetcher, urls, cfg.FetchTimeout)
		if err != nil {
			respondEngineError(c, err)
			return
		}

		result, err := eng.Submit(c.Request.Context(), &models.AnalysisRequest{
			ClientID: clientID,
			Image:    image,
			Format:   req.Format,
			Options:  req.Options.ToAnalysisOptions(),
		})
		if err != nil {
			respondEngineError(c, err)
			return
		}

		// Log successful completion
		logger.WithFields(logrus.Fields{
			"analysis_id":        result.AnalysisID,
			"client_id":          clientID,
			"classification":     result.Classification,
			"confidence":         result.Confidence,
			"processing_time_ms": time.Since(startTime).Milliseconds(),
		}).Info("Analysis completed")

		c.JSON(http.StatusOK, result)
	}
}

// resolveImage produces the raw bytes for one request. Exactly one source
// must be present; URL sources are fetched here so the engine only ever
// receives bytes it can guard.
func resolveImage(ctx context.Context, req *models.AnalyzeRequest, fetcher storage.SourceFetcher, urls *validation.URLValidator, fetchTimeout time.Duration) ([]byte, error) {
	hasInline := strings.TrimSpace(req.ImageBase64) != ""
	hasURL := strings.TrimSpace(req.ImageURL) != ""

	switch {
	case hasInline && hasURL:
		return nil, apperrors.NewInvalidRequest("provide image_base64 or image_url, not both", nil)

	case hasInline:
		data, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			return nil, apperrors.NewInvalidRequest("image_base64 is not valid base64", err)
		}
		return data, nil

	case hasURL:
		if fetcher == nil {
			return nil, apperrors.NewInvalidRequest("image_url sources are not enabled", nil)
		}
		if err := urls.ValidateImageURL(req.ImageURL); err != nil {
			return nil, err
		}
		fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
		defer cancel()
		return fetcher.Fetch(fetchCtx, req.ImageURL)

	default:
		return nil, apperrors.NewInvalidRequest("either image_base64 or image_url is required", nil)
	}
}

func healthCheck(eng engine.DetectionEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := eng.Stats()
		c.JSON(http.StatusOK, models.HealthResponse{
			Status:     "available",
			Version:    apiVersion,
			Time:       time.Now().UTC().Format(time.RFC3339),
			QueueDepth: stats.Scheduler.QueueDepths,
			Workers:    stats.Workers,
		})
	}
}

func clientIDFrom(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(clientIDHeader)); id != "" {
		return id
	}
	return anonymousClient
}

// Middleware and helper functions
func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// respondEngineError maps any error onto the engine taxonomy and writes the
// stable error body. Unknown errors surface as internal.
func respondEngineError(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	status := apperrors.StatusOf(err)

	logger.WithError(err).WithFields(logrus.Fields{
		"error_code":  code,
		"status_code": status,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	}).Error("Request failed")

	c.AbortWithStatusJSON(status, models.ErrorResponse{
		ErrorCode:    string(code),
		Message:      apperrors.MessageOf(err),
		Retriable:    apperrors.IsRetriable(err),
		RetryAfterMS: apperrors.RetryAfterOf(err).Milliseconds(),
	})
}

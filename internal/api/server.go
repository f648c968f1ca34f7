// Package api exposes the operational HTTP surface: statistics, breaker
// status, health, and metrics. It is a local ops/debug endpoint, not an
// application-facing API.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bulwarklabs/bulwark/internal/cache"
	"github.com/bulwarklabs/bulwark/internal/store"
	"github.com/bulwarklabs/bulwark/pkg/config"
	apperrors "github.com/bulwarklabs/bulwark/pkg/errors"
	"github.com/bulwarklabs/bulwark/pkg/health"
	"github.com/bulwarklabs/bulwark/pkg/logging"
	"github.com/bulwarklabs/bulwark/pkg/metrics"
	"github.com/bulwarklabs/bulwark/pkg/monitor"
	"github.com/bulwarklabs/bulwark/pkg/resilience"
)

// Server wires the ops routes over the resilience subsystems.
type Server struct {
	cache     *cache.Cache
	monitor   *monitor.Monitor
	registry  *resilience.Registry
	evaluator *health.Evaluator
	store     store.Store
	metrics   *metrics.Metrics
	logger    *logging.Logger
	http      *http.Server

	invoker   *resilience.Invoker
	invokeCfg resilience.InvokeConfig
	client    *http.Client
}

// NewServer creates the ops server. evaluator, metrics and invoker may be
// nil; without an invoker the proxy route is not registered.
func NewServer(cfg *config.ServerConfig, c *cache.Cache, mon *monitor.Monitor, registry *resilience.Registry, evaluator *health.Evaluator, st store.Store, m *metrics.Metrics, logger *logging.Logger, invoker *resilience.Invoker, invokeCfg resilience.InvokeConfig) *Server {
	if logger == nil {
		logger = logging.GetLogger()
	}

	s := &Server{
		cache:     c,
		monitor:   mon,
		registry:  registry,
		evaluator: evaluator,
		store:     st,
		metrics:   m,
		logger:    logger,
		invoker:   invoker,
		invokeCfg: invokeCfg,
		client:    &http.Client{},
	}

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Router builds the gin engine with all ops routes.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if s.metrics != nil {
		router.Use(s.metrics.PrometheusMiddleware())
	}

	router.GET("/healthz", s.handleLiveness)
	router.GET("/readyz", s.handleReadiness)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := router.Group("/v1")
	{
		v1.GET("/health", s.handleHealth)
		v1.GET("/stats/cache", s.handleCacheStats)
		v1.GET("/stats/monitor", s.handleMonitorStats)
		v1.GET("/report", s.handleReport)
		v1.GET("/breakers", s.handleBreakers)
		v1.GET("/breakers/:name", s.handleBreaker)
		v1.POST("/breakers/:name/reset", s.handleBreakerReset)
		v1.POST("/cache/clear", s.handleCacheClear)
		if s.invoker != nil {
			v1.GET("/proxy", s.handleProxy)
		}
	}

	return router
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("Ops server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

func (s *Server) handleReadiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ready": false,
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ready": true})
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.evaluator == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "health evaluation disabled"})
		return
	}

	eval := s.evaluator.Snapshot()
	if eval.Timestamp.IsZero() {
		eval = s.evaluator.EvaluateOnce(c.Request.Context())
	}

	statusCode := http.StatusOK
	if eval.Overall == health.StatusCritical {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, eval)
}

func (s *Server) handleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.cache.GetStats())
}

func (s *Server) handleMonitorStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.monitor.GetStats())
}

func (s *Server) handleReport(c *gin.Context) {
	report, err := s.monitor.ExportReport()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", report)
}

func (s *Server) handleBreakers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"breakers": s.registry.AllStatuses()})
}

func (s *Server) handleBreaker(c *gin.Context) {
	name := c.Param("name")
	status, ok := s.registry.Status(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no breaker named %q", name)})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleBreakerReset(c *gin.Context) {
	name := c.Param("name")
	if !s.registry.Reset(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no breaker named %q", name)})
		return
	}

	s.logger.Info("Breaker force-reset via ops API", "name", name)
	c.JSON(http.StatusOK, gin.H{"reset": name})
}

// proxyResult is the cached shape of a proxied upstream response.
type proxyResult struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        string `json:"body"`
}

// maxProxyBody bounds how much of an upstream response the proxy will
// buffer and cache.
const maxProxyBody = 1 << 20

// handleProxy fetches an upstream URL through the full resilience stack.
// Each upstream host gets its own breaker while responses are cached per
// URL, so different paths on one host never share a cached body. An
// explicit name parameter overrides both.
func (s *Server) handleProxy(c *gin.Context) {
	rawURL := c.Query("url")
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url query parameter is required"})
		return
	}

	target, err := url.Parse(rawURL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be an absolute http(s) URL"})
		return
	}

	cfg := s.invokeCfg
	var name string
	if explicit := c.Query("name"); explicit != "" {
		name = "proxy:" + explicit
	} else {
		name = "proxy:" + target.Host
		cfg.CacheKey = "proxy:" + rawURL
	}

	op := func(ctx context.Context) (proxyResult, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return proxyResult{}, apperrors.NewValidationError("invalid upstream request").WithCause(err)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return proxyResult{}, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxProxyBody))
		if err != nil {
			return proxyResult{}, err
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			return proxyResult{}, apperrors.NewOperationError(name, fmt.Errorf("upstream returned %d", resp.StatusCode))
		}

		return proxyResult{
			Status:      resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Body:        string(body),
		}, nil
	}

	result, err := resilience.Invoke(c.Request.Context(), s.invoker, name, op, cfg)
	if err != nil {
		switch {
		case apperrors.IsType(err, apperrors.ErrorTypeCircuitOpen):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		case apperrors.IsType(err, apperrors.ErrorTypeTimeout):
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
		case apperrors.IsType(err, apperrors.ErrorTypeValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleCacheClear(c *gin.Context) {
	if !s.cache.Clear(c.Request.Context()) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache clear failed"})
		return
	}

	s.logger.Info("Cache cleared via ops API")
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

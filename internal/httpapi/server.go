// Package httpapi serves the detector parameter tree over HTTP.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danmuck/xspressctl/internal/auth"
	"github.com/danmuck/xspressctl/internal/detector"
	"github.com/danmuck/xspressctl/internal/observability"
	"github.com/danmuck/xspressctl/internal/protocol"
)

const (
	APIPrefix       = "/api/xspress"
	shutdownTimeout = 5 * time.Second
	maxBodyBytes    = 1 << 20
)

var ErrBadBody = errors.New("httpapi: invalid request body")

// Controller is the detector surface the HTTP layer needs.
type Controller interface {
	Get(path string) (any, error)
	PutSingle(ctx context.Context, path string, data any) (any, error)
	PutArray(ctx context.Context, path string, data any) (any, error)
	Connected() bool
}

type Server struct {
	ID       string
	Addr     string
	Appeared time.Time

	ctrl      Controller
	router    *gin.Engine
	logger    zerolog.Logger
	metrics   bool
	writeAuth auth.Validator
}

type Option func(*Server)

// WithWriteAuth requires a bearer token accepted by v on every PUT.
func WithWriteAuth(v auth.Validator) Option {
	return func(s *Server) { s.writeAuth = v }
}

// WithoutMetrics drops the /metrics route.
func WithoutMetrics() Option {
	return func(s *Server) { s.metrics = false }
}

func New(id, addr string, corsOrigins []string, ctrl Controller, logger zerolog.Logger, opts ...Option) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	logger = logger.With().Str("component", "httpapi").Logger()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "PUT"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		ID:       id,
		Addr:     addr,
		Appeared: time.Now(),
		ctrl:     ctrl,
		router:   r,
		logger:   logger,
		metrics:  true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"node":    s.ID,
			"version": "0.1.0",
		})
	})
	s.router.GET("/ready", func(c *gin.Context) {
		status := http.StatusOK
		if !s.ctrl.Connected() {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"ready": status == http.StatusOK, "node": s.ID})
	})
	if s.metrics {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := s.router.Group(APIPrefix)
	api.GET("/*path", s.get)
	if s.writeAuth != nil {
		api.PUT("/*path", auth.Require(s.writeAuth), s.put)
	} else {
		api.PUT("/*path", s.put)
	}
}

func treePath(c *gin.Context) string {
	return strings.Trim(c.Param("path"), "/")
}

func (s *Server) get(c *gin.Context) {
	value, err := s.ctrl.Get(treePath(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	if m, ok := value.(map[string]any); ok {
		c.JSON(http.StatusOK, m)
		return
	}
	c.JSON(http.StatusOK, gin.H{"value": value})
}

func (s *Server) put(c *gin.Context) {
	path := treePath(c)
	data, err := decodeBody(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var reply any
	if isIndexed(path) {
		reply, err = s.ctrl.PutArray(c.Request.Context(), path, data)
	} else {
		reply, err = s.ctrl.PutSingle(c.Request.Context(), path, data)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "reply": reply})
}

func (s *Server) fail(c *gin.Context, err error) {
	status, local := detector.Classify(err)
	if !local {
		s.logger.Error().Err(err).Str("path", c.Param("path")).Msg("remote request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// isIndexed reports whether the last path segment is a list index.
func isIndexed(path string) bool {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return false
	}
	_, err := strconv.Atoi(path[i+1:])
	return err == nil
}

// decodeBody reads one JSON value. An object holding only "value" is
// unwrapped so clients may send either form.
func decodeBody(body io.Reader) (any, error) {
	raw, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBody, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBody, err)
	}
	v = protocol.Normalize(v)
	if m, ok := v.(map[string]any); ok && len(m) == 1 {
		if inner, ok := m["value"]; ok {
			return inner, nil
		}
	}
	return v, nil
}

// Serve listens on Addr until ctx is done, then drains for a few seconds.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: s.Addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info().Str("addr", s.Addr).Msg("http listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}

// Package api exposes the schema controller and the object collections over
// HTTP. Schema routes require the master key; object routes run with the
// identity carried by the request headers.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/asaidimu/go-anansi-schema/core/persistence"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Request headers carrying the caller identity.
const (
	HeaderMasterKey = "X-Master-Key"
	HeaderUserID    = "X-User-Id"
	HeaderRequestID = "X-Request-Id"
)

// Server is the HTTP front of a Persistence.
type Server struct {
	persistence persistence.PersistenceInterface
	masterKey   string
	logger      *zap.Logger
	router      *gin.Engine
}

// NewServer builds the router. An empty masterKey disables master access.
func NewServer(p persistence.PersistenceInterface, masterKey string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		persistence: p,
		masterKey:   masterKey,
		logger:      logger,
		router:      gin.New(),
	}
	s.initRouter()
	return s
}

func (s *Server) initRouter() {
	r := s.router
	r.Use(gin.Recovery(), s.requestContext())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	schemas := r.Group("/schemas", s.requireMaster())
	{
		schemas.GET("", HandleListClasses(s.persistence))
		schemas.GET("/:className", HandleGetClass(s.persistence))
		schemas.POST("", HandleCreateClass(s.persistence))
		schemas.POST("/:className", HandleCreateClass(s.persistence))
		schemas.PUT("/:className", HandleUpdateClass(s.persistence))
		schemas.DELETE("/:className", HandleDeleteClass(s.persistence))
		schemas.GET("/:className/verify", HandleVerifyIndexes(s.persistence))
	}

	classes := r.Group("/classes")
	{
		classes.POST("/:className", HandleCreateObject(s.persistence))
		classes.GET("/:className", HandleFindObjects(s.persistence))
		classes.GET("/:className/:objectId", HandleGetObject(s.persistence))
		classes.PUT("/:className/:objectId", HandleUpdateObject(s.persistence))
		classes.DELETE("/:className/:objectId", HandleDeleteObject(s.persistence))
	}
}

// Router returns the configured engine.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

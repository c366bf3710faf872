package api

import (
	"crypto/subtle"
	"strconv"
	"time"

	"github.com/asaidimu/go-anansi-schema/core"
	"github.com/asaidimu/go-anansi-schema/core/permissions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const authKey = "anansi_auth"

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anansi_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "anansi_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// requestContext tags every request with an id, resolves the caller and
// records the outcome.
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(HeaderRequestID, requestID)

		auth, ok := s.resolveAuth(c)
		if !ok {
			abortWithError(c, core.NewError(core.KindUnauthorized, "unauthorized"))
		} else {
			c.Set(authKey, auth)
			c.Next()
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
		s.logger.Debug("request",
			zap.String("requestId", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)))
	}
}

// resolveAuth maps the headers to a caller. A master key that does not match
// fails the request.
func (s *Server) resolveAuth(c *gin.Context) (permissions.Auth, bool) {
	if key := c.GetHeader(HeaderMasterKey); key != "" {
		if s.masterKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.masterKey)) != 1 {
			return permissions.Auth{}, false
		}
		return permissions.Master(), true
	}
	if userID := c.GetHeader(HeaderUserID); userID != "" {
		return permissions.User(userID), true
	}
	return permissions.Anonymous(), true
}

func (s *Server) requireMaster() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authFrom(c).IsMaster {
			abortWithError(c, core.NewError(core.KindUnauthorized, "unauthorized: master key is required"))
			return
		}
		c.Next()
	}
}

func authFrom(c *gin.Context) permissions.Auth {
	if v, ok := c.Get(authKey); ok {
		if auth, ok := v.(permissions.Auth); ok {
			return auth
		}
	}
	return permissions.Anonymous()
}

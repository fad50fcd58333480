// internal/server/middleware.go
package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/avivl/conference-lock/internal/auth"
	"github.com/avivl/conference-lock/internal/conference"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	requestIDHeader = "X-Request-ID"

	ctxRequestID  = "request_id"
	ctxIdentity   = "identity"
	ctxConference = "conference"
)

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"ip", c.ClientIP(),
			"request_id", c.GetString(ctxRequestID),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.Errors())
			s.logger.WarnCtx(c.Request.Context(), "Request failed", fields...)
			return
		}
		s.logger.InfoCtx(c.Request.Context(), "Request processed", fields...)
	}
}

// recovery converts panics into JSON 500 responses.
func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.ErrorCtx(c.Request.Context(), fmt.Errorf("panic: %v", r),
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
					"request_id", c.GetString(ctxRequestID),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
			}
		}()
		c.Next()
	}
}

// telemetry opens a span per request and records its latency.
func (s *Server) telemetry() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		ctx, span := s.tracer.Start(c.Request.Context(), c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", route),
			),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}

		code := strconv.Itoa(status)
		s.metrics.Increment(ctx, "http.requests", 1, "route", route, "status", code)
		if err := s.metrics.RecordLatency(ctx, time.Since(start), "route", route, "status", code); err != nil {
			s.logger.ErrorCtx(ctx, err)
		}
	}
}

func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := s.auth.Authenticate(c.Request)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Set(ctxIdentity, id)
		c.Next()
	}
}

func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !identity(c).Admin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "Administrator role required"})
			return
		}
		c.Next()
	}
}

// resolveConference loads the :id conference or answers 400/404.
func (s *Server) resolveConference() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "Invalid conference ID"})
			return
		}
		conf, err := s.conferences.Get(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Set(ctxConference, conf)
		c.Next()
	}
}

// conferenceLockGate admits a mutating request only when the conference is
// unlocked or locked by the caller, and extends the caller's lock.
func (s *Server) conferenceLockGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		conf := currentConference(c)
		caller := identity(c)

		holder, err := s.locks.CheckLock(ctx, conf.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		if holder != nil && holder.UserID != caller.User.ID {
			s.metrics.Increment(ctx, "lock.gate", 1, "result", "rejected")
			writeLocked(c, holder)
			return
		}
		if holder != nil {
			refreshed, err := s.locks.RefreshLock(ctx, conf.ID, caller.User.ID)
			if err != nil {
				writeError(c, err)
				return
			}
			// The caller's lock expired or changed hands since the check.
			if !refreshed {
				holder, err = s.locks.CheckLock(ctx, conf.ID)
				if err != nil {
					writeError(c, err)
					return
				}
				if holder != nil && holder.UserID != caller.User.ID {
					s.metrics.Increment(ctx, "lock.gate", 1, "result", "rejected")
					writeLocked(c, holder)
					return
				}
			}
		}
		s.metrics.Increment(ctx, "lock.gate", 1, "result", "admitted")
		c.Next()
	}
}

func identity(c *gin.Context) *auth.Identity {
	return c.MustGet(ctxIdentity).(*auth.Identity)
}

func currentConference(c *gin.Context) *conference.Conference {
	return c.MustGet(ctxConference).(*conference.Conference)
}

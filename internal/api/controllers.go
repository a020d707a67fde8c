package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"apex-core/internal/engine"

	"github.com/gin-gonic/gin"
)

func (s *Server) getStatus(c *gin.Context) {
	lastErr, errCount := s.Store.LastError()
	c.JSON(http.StatusOK, gin.H{
		"status":         s.Store.Status(),
		"shutting_down":  s.Store.IsShuttingDown(),
		"open_positions": s.Store.OpenCount(),
		"balance":        s.Store.Balance(),
		"last_error":     lastErr,
		"error_count":    errCount,
		"meta":           s.Meta,
		"server_time":    time.Now().UTC(),
	})
}

func (s *Server) getPositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.Store.Positions()})
}

func (s *Server) getPositionHistory(c *gin.Context) {
	if s.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":  "NO_DATABASE",
			"error": "persistence is not configured",
		})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	positions, err := s.DB.RecentPositions(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

// getPositionDetail returns one position with its recorded fills, whether it
// is still live or already closed.
func (s *Server) getPositionDetail(c *gin.Context) {
	if s.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":  "NO_DATABASE",
			"error": "persistence is not configured",
		})
		return
	}
	id := c.Param("id")
	pos, err := s.DB.GetPosition(c.Request.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "NOT_FOUND",
			"error": "no position with id " + id,
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	fills, err := s.DB.TradesForPosition(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"position": pos, "fills": fills})
}

func (s *Server) getSignals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"signals": s.Store.PendingSignals()})
}

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Store.Stats())
}

func (s *Server) getDailyStats(c *gin.Context) {
	if s.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":  "NO_DATABASE",
			"error": "persistence is not configured",
		})
		return
	}
	day := c.DefaultQuery("date", time.Now().UTC().Format("2006-01-02"))
	stats, err := s.DB.GetSessionStats(c.Request.Context(), day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) getBalance(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"balance": s.Store.Balance()})
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":  "NO_METRICS",
			"error": "metrics are not configured",
		})
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) getShutdownRecord(c *gin.Context) {
	c.JSON(http.StatusOK, s.Store.Shutdown())
}

func (s *Server) startEngine(c *gin.Context) {
	var req struct {
		Exchange string `json:"exchange"`
	}
	_ = c.ShouldBindJSON(&req)
	// The venue is fixed at process start; refuse a mismatched request
	// rather than silently trading somewhere else.
	if req.Exchange != "" && req.Exchange != s.Meta.Venue {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "VENUE_MISMATCH",
			"error": "configured venue is " + s.Meta.Venue,
		})
		return
	}

	// The loop outlives the request.
	if err := s.Engine.Start(context.Background()); err != nil {
		code := "ALREADY_RUNNING"
		if errors.Is(err, engine.ErrShutdownRan) {
			code = "SHUTDOWN_COMPLETE"
		}
		c.JSON(http.StatusConflict, gin.H{
			"code":  code,
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": s.Store.Status()})
}

func (s *Server) stopEngine(c *gin.Context) {
	var req struct {
		Reason         string `json:"reason"`
		ClosePositions bool   `json:"close_positions"`
	}
	_ = c.ShouldBindJSON(&req)

	s.Engine.Stop()

	closed := 0
	if req.ClosePositions {
		n, err := s.Engine.CloseAllPositions(c.Request.Context())
		closed = n
		if err != nil {
			c.JSON(http.StatusOK, gin.H{
				"status":           s.Store.Status(),
				"positions_closed": closed,
				"error":            err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":           s.Store.Status(),
		"positions_closed": closed,
	})
}

func (s *Server) shutdownEngine(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "operator request"
	}

	// Background context: a dropped client must not abort position
	// protection mid-flight.
	final := s.Engine.Shutdown(context.Background(), req.Reason)
	c.JSON(http.StatusOK, final)
}

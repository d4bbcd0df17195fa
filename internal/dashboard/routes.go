package dashboard

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/archivebot/internal/submission"
	"go.uber.org/zap"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, s *server) {
	router.GET("/healthz", handleHealth())

	api := router.Group("/api")
	api.GET("/submissions", s.handleList())
	api.GET("/submissions/:identifier", s.handleDetail())
	api.GET("/stats", s.handleStats())
	api.GET("/events", s.handleSSE())
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func (s *server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := ListSubmissions(c.Request.Context(), s.store, c.Query("step"), c.Query("unpublished") == "true")
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"submissions": rows, "count": len(rows)})
	}
}

func (s *server) handleDetail() gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := s.store.Get(c.Request.Context(), c.Param("identifier"))
		if errors.Is(err, submission.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "submission not found"})
			return
		}
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, rowFor(*rec))
	}
}

func (s *server) handleStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := s.stats(c)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func (s *server) stats(c *gin.Context) (Stats, error) {
	stats, err := ComputeStats(c.Request.Context(), s.db, s.store, time.Now().Add(-s.staleAfter))
	if err != nil {
		return Stats{}, err
	}
	if s.sessions != nil {
		for _, key := range s.sessions.Keys() {
			stats.ActiveSlots = append(stats.ActiveSlots, key.String())
		}
		stats.ActiveSessions = len(stats.ActiveSlots)
	}
	return stats, nil
}

func (s *server) fail(c *gin.Context, err error) {
	s.log.Error("dashboard: request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

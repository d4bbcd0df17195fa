package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handleSSE streams a "stats" event whenever the open-submission counts
// change, plus a periodic heartbeat.
func (s *server) handleSSE() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		var last Stats
		send := func() {
			stats, err := s.stats(c)
			if err != nil {
				s.log.Warn("dashboard: sse stats", zap.Error(err))
				return
			}
			if sameCounts(last, stats) {
				return
			}
			last = stats
			writeSSE(c.Writer, "stats", stats)
			c.Writer.Flush()
		}
		send()

		ctx := c.Request.Context()
		ticker := time.NewTicker(s.sseInterval)
		heartbeat := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				send()
			}
		}
	}
}

func sameCounts(a, b Stats) bool {
	if a.ByStep == nil || a.Open != b.Open || a.Unpublished != b.Unpublished ||
		a.Stale != b.Stale || a.ActiveSessions != b.ActiveSessions || len(a.ByStep) != len(b.ByStep) {
		return false
	}
	for k, v := range a.ByStep {
		if b.ByStep[k] != v {
			return false
		}
	}
	return true
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}

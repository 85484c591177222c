package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/theredstring/redstring-bridge/pkg/events"
)

const chatReplayWindow = 10 * time.Minute

// writeSSE is the single write site for both streams. Test-tagged events
// are dropped here, so no subscriber path can observe isTest traffic.
func writeSSE(c *gin.Context, ev events.Event) bool {
	if ev.IsTest() {
		return true
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return true
	}
	if _, err := c.Writer.WriteString("event: " + ev.Type + "\ndata: " + string(data) + "\n\n"); err != nil {
		return false
	}
	c.Writer.Flush()
	return true
}

// EventStream is the lifecycle SSE feed. Recent chat history is replayed
// on connect so a reconnecting UI can rehydrate the conversation.
func (s *Server) EventStream(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	for _, ev := range s.core.Events.ReplaySince(time.Now().Add(-chatReplayWindow)) {
		if ev.Type != events.EventChat {
			continue
		}
		if !writeSSE(c, ev) {
			return
		}
	}

	ch, cancel := s.core.Events.Subscribe()
	defer cancel()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-keepalive.C:
			if _, err := c.Writer.WriteString(": keepalive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !writeSSE(c, ev) {
				return
			}
		}
	}
}

// TelemetryStream is the filtered telemetry SSE feed. Query parameters:
// cid scopes to one conversation, type to one telemetry record type, and
// from (RFC 3339) replays the ring from that instant before going live.
func (s *Server) TelemetryStream(c *gin.Context) {
	cid := c.Query("cid")
	recordType := c.Query("type")

	match := func(ev events.Event) bool {
		if ev.Type != events.EventTelemetry {
			return false
		}
		if cid != "" && ev.CID() != cid {
			return false
		}
		if recordType != "" {
			t, _ := ev.Fields["telemetryType"].(string)
			if t != recordType {
				return false
			}
		}
		return true
	}

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	if from := c.Query("from"); from != "" {
		threshold, err := time.Parse(time.RFC3339, from)
		if err != nil {
			// Headers are already committed as a stream; report in-band.
			c.Writer.WriteString("event: error\ndata: {\"error\":\"from must be RFC 3339\"}\n\n")
			c.Writer.Flush()
			return
		}
		for _, ev := range s.core.Events.ReplaySince(threshold) {
			if !match(ev) {
				continue
			}
			if !writeSSE(c, ev) {
				return
			}
		}
	}

	ch, cancel := s.core.Events.Subscribe()
	defer cancel()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-keepalive.C:
			if _, err := c.Writer.WriteString(": keepalive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !match(ev) {
				continue
			}
			if !writeSSE(c, ev) {
				return
			}
		}
	}
}

package bridge

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/cypherdesk/cypher/internal/events"
)

// handleEvents replays retained events after ?since= and then streams live
// ones until the client goes away.
func (r *Router) handleEvents(c *gin.Context) {
	if r.deps.Events == nil {
		unavailable(c, "events")
		return
	}
	since, _ := strconv.ParseInt(c.Query("since"), 10, 64)

	// subscribe first so nothing published during the replay is missed
	ch, cancel := r.deps.Events.Subscribe(64)
	defer cancel()
	backlog := r.deps.Events.Since(since)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	last := since
	send := func(ev events.Event) {
		if ev.Seq <= last {
			return
		}
		last = ev.Seq
		c.Render(-1, sseEvent(ev))
	}
	for _, ev := range backlog {
		send(ev)
	}
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			send(ev)
			return true
		}
	})
}

func sseEvent(ev events.Event) sse.Event {
	return sse.Event{Id: strconv.FormatInt(ev.Seq, 10), Event: string(ev.Type), Data: ev}
}

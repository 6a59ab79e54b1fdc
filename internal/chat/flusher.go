package chat

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

const (
	flusherInterval    = 20 * time.Second
	flusherIdleBackoff = 60 * time.Second
)

// RunFlusher drains the Presence Store's pending_updates hash every 20s and
// issues the corresponding update_latest_message calls. If the hash is
// empty it backs off for 60s before the next attempt (§4.1.2). It blocks
// until ctx is done or the router is shut down, so callers run it in its own
// goroutine.
func (r *Router) RunFlusher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.ctx.Done():
			return
		case <-time.After(flusherInterval):
		}

		drained, err := r.presence.DrainPending(ctx)
		if err != nil {
			slog.Default().Error("chat: flusher drain failed", "error", err)
			continue
		}
		if len(drained) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-r.ctx.Done():
				return
			case <-time.After(flusherIdleBackoff):
			}
			continue
		}

		for convKey, messageID := range drained {
			convID, err := strconv.Atoi(convKey)
			if err != nil {
				slog.Default().Error("chat: flusher bad conversation key", "key", convKey, "error", err)
				continue
			}
			if err := r.convs.UpdateLatestMessage(ctx, int32(convID), messageID); err != nil {
				slog.Default().Error("chat: flusher update_latest_message failed", "conversation_id", convID, "error", err)
			}
		}
	}
}

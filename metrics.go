package main

import (
	"context"
	"log"
	"time"

	"walkietalkie/internal/core"
)

// RunMetrics logs registry-wide stats every interval until ctx is
// canceled, in the same quiet-unless-active style as the rest of this
// process's background loops.
func RunMetrics(ctx context.Context, state *core.State, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := state.Snapshot()
			if len(snap.Sessions) == 0 && len(snap.Channels) == 0 {
				continue
			}
			log.Printf("[metrics] clients=%d channels=%d uptime=%s",
				len(snap.Sessions), len(snap.Channels), snap.Uptime.Round(time.Second))
		}
	}
}

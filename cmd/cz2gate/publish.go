package main

import (
	"context"

	"github.com/kstaniek/cz2gate/internal/cache"
	"github.com/kstaniek/cz2gate/internal/mqttpub"
)

// publishLoop relays every cache update carrying real status data onto
// the MQTT publisher, decoupling the publish from whatever triggered
// the cache write (a command, a refresh, or the warmup read).
func publishLoop(ctx context.Context, c *cache.Cache, pub *mqttpub.Publisher) {
	ch := c.Subscribe()
	defer c.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-ch:
			if !ok {
				return
			}
			if u.Status != nil {
				pub.PublishStatus(*u.Status)
			}
		}
	}
}

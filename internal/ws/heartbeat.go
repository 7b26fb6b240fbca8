package ws

import (
	"log"
	"time"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping
	Timeout  time.Duration // grace after Interval before a conn counts as dead
}

// DefaultHeartbeatConfig returns defaults matched to the read timeout.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// StartHeartbeat launches a background loop that pings all connections and
// closes those with no read activity within Interval + Timeout. It returns
// immediately; the loop exits when the server stops.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				sweepConnections(server, config)
			}
		}
	}()
}

// sweepConnections removes connections that missed the activity deadline
// and pings the rest. A failed ping write is treated as a dead connection.
func sweepConnections(server *Server, config HeartbeatConfig) {
	deadline := config.Interval + config.Timeout
	now := time.Now()

	for _, c := range server.table.all() {
		idle := now.Sub(c.lastActiveAt())
		if idle > deadline {
			log.Printf("[ws] heartbeat timeout user=%s idle=%s",
				c.UserID, idle.Round(time.Second))
			server.removeConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			log.Printf("[ws] heartbeat ping user=%s: %v", c.UserID, err)
			server.removeConnection(c)
		}
	}
}

package plugin

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// FleetStatus is the snapshot the status plugin renders
type FleetStatus struct {
	Total        int
	Connected    int
	Reconnecting int
	Failed       int
}

// StatusProvider exposes fleet counters to the status plugin
type StatusProvider interface {
	FleetStatus() FleetStatus
}

// PingPlugin replies with the round-trip latency of the reply itself
type PingPlugin struct{}

// Name implements Plugin
func (PingPlugin) Name() string { return "ping" }

// Execute implements Plugin
func (PingPlugin) Execute(ctx context.Context, inv *Invocation) error {
	start := time.Now()
	if err := inv.Reply(ctx, "Pinging..."); err != nil {
		return err
	}
	return inv.Reply(ctx, fmt.Sprintf("🏓 Pong! %dms", time.Since(start).Milliseconds()))
}

// StatusPlugin reports the fleet connection counters
type StatusPlugin struct {
	Provider StatusProvider
}

// Name implements Plugin
func (StatusPlugin) Name() string { return "status" }

// Execute implements Plugin
func (p StatusPlugin) Execute(ctx context.Context, inv *Invocation) error {
	st := p.Provider.FleetStatus()

	var b strings.Builder
	b.WriteString("📊 Fleet status\n")
	fmt.Fprintf(&b, "Sessions: %d\n", st.Total)
	fmt.Fprintf(&b, "Connected: %d\n", st.Connected)
	fmt.Fprintf(&b, "Reconnecting: %d\n", st.Reconnecting)
	fmt.Fprintf(&b, "Failed: %d", st.Failed)

	return inv.Reply(ctx, b.String())
}

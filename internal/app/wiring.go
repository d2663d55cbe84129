// Package app assembles the connection stack from configuration.
package app

import (
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/finbrook/tradewire/config"
	"github.com/finbrook/tradewire/internal/conn"
	"github.com/finbrook/tradewire/internal/transport"
	"github.com/finbrook/tradewire/internal/transport/sim"
)

// BuildManager constructs the connection manager with either the live
// websocket transport or the simulated one, per configuration. Swapping the
// transport is the only difference between the two modes.
func BuildManager(cfg config.AppConfig) (*conn.Manager, error) {
	var tr transport.Transport
	endpoints := cfg.Connection.Endpoints
	demoToken := cfg.Connection.DemoToken
	if cfg.Simulation.Enabled {
		tr = sim.New(sim.Options{
			MinLatency:   cfg.Simulation.MinLatency.Duration,
			MaxLatency:   cfg.Simulation.MaxLatency.Duration,
			TickInterval: cfg.Simulation.TickInterval.Duration,
			SlowInterval: cfg.Simulation.SlowInterval.Duration,
			Balance:      decimal.NewFromFloat(cfg.Simulation.Balance),
			Seed:         cfg.Simulation.Seed,
		})
		if len(endpoints) == 0 {
			endpoints = []string{"sim://local"}
		}
		if demoToken == "" {
			demoToken = "sim-token"
		}
	} else {
		endpoints = withAppID(endpoints, cfg.Connection.AppID)
		tr = transport.NewWebsocket(transport.WebsocketOptions{
			Venue:        cfg.Connection.Venue,
			SendInterval: cfg.Connection.SendInterval.Duration,
		})
	}
	return conn.NewManager(conn.Config{
		Venue:                cfg.Connection.Venue,
		Endpoints:            endpoints,
		DemoToken:            demoToken,
		RealToken:            cfg.Connection.RealToken,
		UseReal:              cfg.Connection.UseReal,
		RequestTimeout:       cfg.Connection.RequestTimeout.Duration,
		KeepaliveInterval:    cfg.Connection.KeepaliveInterval.Duration,
		KeepaliveTimeout:     cfg.Connection.KeepaliveTimeout.Duration,
		ReconnectMaxAttempts: cfg.Connection.ReconnectMaxAttempts,
		ReconnectInitialWait: cfg.Connection.ReconnectInitialWait.Duration,
		ReconnectMaxWait:     cfg.Connection.ReconnectMaxWait.Duration,
	}, tr)
}

// withAppID stamps the application identifier onto each endpoint URL. The
// venue identifies the calling application by query parameter.
func withAppID(endpoints []string, appID string) []string {
	if appID == "" {
		return endpoints
	}
	out := make([]string, 0, len(endpoints))
	for _, endpoint := range endpoints {
		u, err := url.Parse(endpoint)
		if err != nil {
			out = append(out, endpoint)
			continue
		}
		q := u.Query()
		q.Set("app_id", appID)
		u.RawQuery = q.Encode()
		out = append(out, u.String())
	}
	return out
}

package connectivity

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"splitsync/internal/logging"

	"github.com/rs/zerolog"
)

// Prober polls the server health endpoint and feeds the result into a Monitor.
// A network-level failure clears the online signal; any HTTP response sets it
// and a 2xx status marks the backend reachable.
type Prober struct {
	monitor  *Monitor
	url      string
	interval time.Duration
	client   *http.Client
	logger   *zerolog.Logger
}

func NewProber(monitor *Monitor, healthURL string, interval, timeout time.Duration, logger *zerolog.Logger) *Prober {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Prober{
		monitor:  monitor,
		url:      healthURL,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
		logger:   logging.Component(logger, "prober"),
	}
}

// Run probes immediately and then every interval until ctx is canceled.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Probe(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Probe performs one health check and updates the monitor.
func (p *Prober) Probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, http.NoBody)
	if err != nil {
		p.logger.Error().Err(err).Str("url", p.url).Msg("invalid health url")
		p.monitor.SetBackendReachable(false)
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			p.logger.Debug().Err(err).Msg("health probe timed out")
			p.monitor.Set(true, false)
			return
		}
		p.logger.Debug().Err(err).Msg("health probe failed")
		p.monitor.Set(false, false)
		return
	}
	resp.Body.Close()

	healthy := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !healthy {
		p.logger.Warn().Int("status", resp.StatusCode).Msg("backend reported unhealthy")
	}
	p.monitor.Set(true, healthy)
}

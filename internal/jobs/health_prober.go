package jobs

import (
	"context"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pinger is the liveness check of the remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthProberConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	// DeploymentHost is the host the pages are served from.
	DeploymentHost string
	ServiceURL     string
}

// HealthStatus is a snapshot of the most recent applied probe.
type HealthStatus struct {
	Healthy   bool
	Checked   bool
	Skipped   bool
	LastProbe time.Time
	LastError string
}

// HealthProber probes the remote service on a fixed interval. Probes do not
// wait for each other; a late result never overwrites a newer one.
type HealthProber struct {
	pinger Pinger
	logger *zap.SugaredLogger
	config HealthProberConfig
	seq    Sequencer

	mu        sync.RWMutex
	status    HealthStatus
	listeners []func(HealthStatus)
	cancelCtx context.CancelFunc
	wg        sync.WaitGroup
}

func NewHealthProber(pinger Pinger, logger *zap.SugaredLogger, config HealthProberConfig) *HealthProber {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 3 * time.Second
	}
	h := &HealthProber{pinger: pinger, logger: logger, config: config}
	if ShouldSkipProbe(config.DeploymentHost, config.ServiceURL) {
		h.status = HealthStatus{Skipped: true, Checked: true, LastError: "probe skipped: local service on remote deployment"}
	}
	return h
}

// OnChange registers fn to be called after each applied probe.
func (h *HealthProber) OnChange(fn func(HealthStatus)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

func (h *HealthProber) Health() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

func (h *HealthProber) Healthy() bool {
	return h.Health().Healthy
}

// Start probes immediately and then on every tick until ctx is done.
func (h *HealthProber) Start(ctx context.Context) error {
	if h.config.Skip() {
		h.logger.Infow("Health probing disabled",
			"deploymentHost", h.config.DeploymentHost,
			"serviceURL", h.config.ServiceURL,
		)
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancelCtx = cancel
	h.mu.Unlock()

	h.logger.Infow("Starting health prober", "interval", h.config.Interval, "timeout", h.config.Timeout)

	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	h.fire(ctx)
	for {
		select {
		case <-ctx.Done():
			h.wg.Wait()
			h.logger.Infow("Health prober stopping due to context cancellation")
			return ctx.Err()
		case <-ticker.C:
			h.fire(ctx)
		}
	}
}

func (h *HealthProber) Stop() {
	h.mu.RLock()
	cancel := h.cancelCtx
	h.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

func (h *HealthProber) fire(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.ProbeNow(ctx)
	}()
}

// ProbeNow runs one probe with the configured timeout and returns its result.
// The result is applied only if no newer probe has been applied already.
func (h *HealthProber) ProbeNow(ctx context.Context) bool {
	if h.config.Skip() {
		return false
	}

	seq := h.seq.Issue()
	probeCtx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	err := h.pinger.Ping(probeCtx)
	cancel()

	status := HealthStatus{Healthy: err == nil, Checked: true, LastProbe: time.Now()}
	if err != nil {
		status.LastError = err.Error()
	}

	var changed bool
	var listeners []func(HealthStatus)
	applied := h.seq.Apply(seq, func() {
		h.mu.Lock()
		changed = h.status.Healthy != status.Healthy || !h.status.Checked
		h.status = status
		listeners = append(listeners, h.listeners...)
		h.mu.Unlock()
	})
	if !applied {
		return status.Healthy
	}

	if changed {
		if status.Healthy {
			h.logger.Infow("Ledger service reachable", "serviceURL", h.config.ServiceURL)
		} else {
			h.logger.Warnw("Ledger service unreachable", "serviceURL", h.config.ServiceURL, "error", status.LastError)
		}
	}
	for _, fn := range listeners {
		fn(status)
	}
	return status.Healthy
}

// Skip reports whether probing is disabled for this deployment.
func (c HealthProberConfig) Skip() bool {
	return ShouldSkipProbe(c.DeploymentHost, c.ServiceURL)
}

// ShouldSkipProbe is true when the pages are served from a non-local host
// while the service URL points at a local one; such a service cannot be
// reached by the browser. An empty deployment host counts as local.
func ShouldSkipProbe(deploymentHost, serviceURL string) bool {
	if deploymentHost == "" {
		return false
	}
	return !isLocalHost(hostOf(deploymentHost)) && isLocalHost(hostOf(serviceURL))
}

func hostOf(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	return u.Hostname()
}

func isLocalHost(host string) bool {
	host = strings.ToLower(host)
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	defaultCacheTTL     = 5 * time.Minute
	defaultProbeTimeout = 15 * time.Second
)

// Tool roles probed by the doctor.
const (
	RoleRender = "render"
	RoleMux    = "mux"
	RoleProbe  = "probe"
	RoleSpeech = "speech"
)

// ToolInfo is the availability of one external tool.
type ToolInfo struct {
	Role      string `json:"role"`
	Tool      string `json:"tool"`
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Capabilities summarises which pipeline stages can run on this host.
type Capabilities struct {
	Tools     []ToolInfo `json:"tools"`
	HasRender bool       `json:"has_render"`
	HasMux    bool       `json:"has_mux"`
	HasProbe  bool       `json:"has_probe"`
	HasSpeech bool       `json:"has_speech"`
	ProbedAt  time.Time  `json:"probed_at"`
}

// ProbeTarget names a tool to check and the flag that prints its version.
type ProbeTarget struct {
	Role        string
	Tool        string
	VersionFlag string
}

// Doctor probes the external tools the pipeline depends on.
type Doctor struct {
	runner  Runner
	targets []ProbeTarget
	timeout time.Duration
	logger  *slog.Logger
}

// NewDoctor creates a Doctor for targets. Roles without a target (for example
// speech when the HTTP engine is used) are reported as available.
func NewDoctor(runner Runner, targets []ProbeTarget, logger *slog.Logger) *Doctor {
	return &Doctor{
		runner:  runner,
		targets: targets,
		timeout: defaultProbeTimeout,
		logger:  logger,
	}
}

// Probe checks every target and derives the capability flags.
func (d *Doctor) Probe(ctx context.Context) (*Capabilities, error) {
	caps := &Capabilities{
		HasRender: true,
		HasMux:    true,
		HasProbe:  true,
		HasSpeech: true,
	}

	for _, t := range d.targets {
		info := d.probeOne(ctx, t)
		caps.Tools = append(caps.Tools, info)
		if !info.Available {
			switch t.Role {
			case RoleRender:
				caps.HasRender = false
			case RoleMux:
				caps.HasMux = false
			case RoleProbe:
				caps.HasProbe = false
			case RoleSpeech:
				caps.HasSpeech = false
			}
		}
	}
	caps.ProbedAt = time.Now()

	d.logger.Info("doctor probe complete",
		"render", caps.HasRender,
		"mux", caps.HasMux,
		"probe", caps.HasProbe,
		"speech", caps.HasSpeech,
	)
	return caps, nil
}

func (d *Doctor) probeOne(ctx context.Context, t ProbeTarget) ToolInfo {
	info := ToolInfo{Role: t.Role, Tool: t.Tool}

	path, err := d.runner.LookPath(t.Tool)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.Path = path
	info.Available = true

	if t.VersionFlag == "" {
		return info
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res, err := d.runner.Run(ctx, Command{Tool: t.Tool, Args: []string{t.VersionFlag}})
	if err != nil {
		// Present but unhealthy (e.g. a broken Python env behind the manim shim).
		info.Available = false
		info.Error = err.Error()
		return info
	}
	info.Version = firstLine(res.Stdout)
	if info.Version == "" {
		info.Version = firstLine(res.Stderr)
	}
	return info
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// Prober is satisfied by *Doctor and by test fakes.
type Prober interface {
	Probe(ctx context.Context) (*Capabilities, error)
}

// CachedDoctor wraps a Prober to cache results with a configurable TTL.
// This avoids spawning version probes on every status request.
type CachedDoctor struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor creates a caching wrapper around doctor probes.
func NewCachedDoctor(prober Prober, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		prober: prober,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe regardless of cache freshness.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.prober.Probe(ctx)
	if err != nil {
		d.logger.Warn("doctor probe failed", "error", err)
		// Return stale cache if available
		if d.cached != nil {
			d.logger.Info("returning stale capabilities cache")
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}

// Invalidate clears the cached capabilities.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}

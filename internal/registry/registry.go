package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Health is the cached probe state of a backend.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthUnknown  Health = "unknown"
)

// Capability tags what a backend can do; components select backends by
// capability instead of hard-coding addresses.
type Capability string

const (
	CapLayout       Capability = "layout-extraction"
	CapOCR          Capability = "ocr"
	CapVisionLLM    Capability = "vision-llm"
	CapTextLLMLocal Capability = "text-llm-local"
	CapTextLLMCloud Capability = "text-llm-cloud"
	CapEmbeddings   Capability = "embeddings"
)

// Prober checks one backend. It must honour ctx; a nil return marks the
// backend healthy.
type Prober func(ctx context.Context) error

// Backend is one registered remote service.
type Backend struct {
	Name         string
	BaseURL      string
	Capabilities []Capability
}

// Snapshot is the externally visible state of one backend.
type Snapshot struct {
	Name      string    `json:"name"`
	Health    Health    `json:"health"`
	LastProbe time.Time `json:"last_probe,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

type entry struct {
	backend   Backend
	probe     Prober
	health    Health
	lastProbe time.Time
	detail    string
}

// Registry tracks named backends and refreshes their health in the
// background. Probe failures only downgrade health; they are never
// fatal.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]*entry
	interval time.Duration
	timeout  time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func New(interval, timeout time.Duration) *Registry {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Registry{
		backends: make(map[string]*entry),
		interval: interval,
		timeout:  timeout,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Register adds a backend with its probe. Initial health is unknown
// until the first probe round.
func (r *Registry) Register(b Backend, probe Prober) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Name] = &entry{backend: b, probe: probe, health: HealthUnknown}
}

// Resolve returns the base URL for name. A degraded backend resolves to
// absent so callers move on to their fallback.
func (r *Registry) Resolve(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.backends[name]
	if !ok || e.health == HealthDegraded {
		return "", false
	}
	return e.backend.BaseURL, true
}

// Health returns the cached probe state for name.
func (r *Registry) Health(name string) Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.backends[name]
	if !ok {
		return HealthUnknown
	}
	return e.health
}

// IsAvailable reports whether at least one healthy backend offers the
// capability.
func (r *Registry) IsAvailable(cap Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.backends {
		if e.health != HealthHealthy {
			continue
		}
		for _, c := range e.backend.Capabilities {
			if c == cap {
				return true
			}
		}
	}
	return false
}

// MarkDegraded downgrades a backend after an observed call failure,
// without waiting for the next probe round.
func (r *Registry) MarkDegraded(name string, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.backends[name]
	if !ok {
		return
	}
	if e.health != HealthDegraded {
		log.Warn().Str("backend", name).Str("cause", trimError(cause)).Msg("backend degraded")
	}
	e.health = HealthDegraded
	e.detail = trimError(cause)
}

// Snapshots returns the state of every backend, sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.backends))
	for _, e := range r.backends {
		out = append(out, Snapshot{
			Name:      e.backend.Name,
			Health:    e.health,
			LastProbe: e.lastProbe,
			Detail:    e.detail,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start launches the background prober. The first round runs
// immediately so health settles before the first interval elapses.
func (r *Registry) Start() {
	r.startOnce.Do(func() {
		go r.loop()
	})
}

// Stop halts the prober and waits for it to exit.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	<-r.done
}

func (r *Registry) loop() {
	defer close(r.done)
	r.probeAll()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.probeAll()
		}
	}
}

func (r *Registry) probeAll() {
	r.mu.RLock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	r.mu.RUnlock()

	for _, name := range names {
		r.probeOne(name)
	}
}

func (r *Registry) probeOne(name string) {
	r.mu.RLock()
	e, ok := r.backends[name]
	r.mu.RUnlock()
	if !ok || e.probe == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	err := e.probe(ctx)
	cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	prev := e.health
	e.lastProbe = time.Now()
	if err != nil {
		e.health = HealthDegraded
		e.detail = trimError(err)
	} else {
		e.health = HealthHealthy
		e.detail = ""
	}
	if prev != e.health {
		log.Info().Str("backend", name).
			Str("from", string(prev)).Str("to", string(e.health)).
			Str("detail", e.detail).
			Msg("backend health changed")
	}
}

// HTTPProbe builds a Prober that expects a 2xx from GET url.
func HTTPProbe(client *http.Client, url string) Prober {
	if client == nil {
		client = &http.Client{}
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return nil
	}
}

// StaticProbe reports a fixed condition, for backends whose health is
// credential presence rather than reachability.
func StaticProbe(ok bool, detail string) Prober {
	return func(context.Context) error {
		if !ok {
			return errors.New(detail)
		}
		return nil
	}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}

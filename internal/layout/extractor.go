package layout

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/docpipeline/internal/fault"
	"github.com/local/docpipeline/internal/metrics"
)

// backendHealth is the slice of the backend registry the extractor
// needs: skip engines whose backend is down, and report failures so the
// registry degrades them without waiting for the next probe.
type backendHealth interface {
	Resolve(name string) (string, bool)
	MarkDegraded(name string, cause error)
}

// Extractor runs an extraction plan over its registered engines.
type Extractor struct {
	engines map[string]Engine
	health  backendHealth
	timeout time.Duration
}

// NewExtractor returns an Extractor with a per-engine attempt timeout.
func NewExtractor(health backendHealth, timeout time.Duration) *Extractor {
	return &Extractor{
		engines: make(map[string]Engine),
		health:  health,
		timeout: timeout,
	}
}

// Register adds an engine under its own name. Later registrations with
// the same name replace earlier ones.
func (x *Extractor) Register(e Engine) {
	x.engines[e.Name()] = e
}

// Extract tries each named engine in order and returns the first
// non-empty output together with the name of the engine that produced
// it. Engines that are unregistered or whose backend is degraded are
// skipped; an engine that fails marks its backend degraded and passes
// the document to the next one. A well-formed empty result also moves
// on, but is kept: when the whole plan agrees the document is blank,
// the empty output wins as success. Only a plan that produced nothing
// but hard failures surfaces BackendUnavailable.
func (x *Extractor) Extract(ctx context.Context, engines []string, req Request) (*Output, string, error) {
	var lastErr error
	var empty *Output
	var emptyEngine string

	for i, name := range engines {
		eng, ok := x.engines[name]
		if !ok {
			log.Debug().Str("engine", name).Msg("engine not configured, skipping")
			continue
		}
		if eng.Remote() && x.health != nil {
			if _, up := x.health.Resolve(name); !up {
				log.Info().Str("engine", name).Str("file", req.Filename).Msg("engine backend unavailable, skipping")
				continue
			}
		}

		if i > 0 {
			metrics.IncEngineFallback()
		}

		start := time.Now()
		ectx, cancel := context.WithTimeout(ctx, x.timeout)
		out, err := eng.Extract(ectx, req)
		cancel()

		if err != nil {
			metrics.IncEngineAttempt(name, "error")
			log.Warn().
				Err(err).
				Str("engine", name).
				Str("file", req.Filename).
				Dur("took", time.Since(start)).
				Msg("extraction engine failed")
			if ctx.Err() != nil {
				return nil, "", fault.Wrap(fault.KindCancelled, "layout", ctx.Err())
			}
			if eng.Remote() && x.health != nil {
				x.health.MarkDegraded(name, err)
			}
			lastErr = fault.Wrap(fault.KindEngineFailed, name, err)
			continue
		}

		if out.Empty() {
			// The engine worked, the document just had nothing for it.
			// No degradation; a later engine may still see content.
			metrics.IncEngineAttempt(name, "empty")
			log.Info().
				Str("engine", name).
				Str("file", req.Filename).
				Dur("took", time.Since(start)).
				Msg("engine returned empty output, trying next")
			if empty == nil {
				empty = out
				emptyEngine = name
			}
			continue
		}

		metrics.IncEngineAttempt(name, "ok")
		log.Info().
			Str("engine", name).
			Str("file", req.Filename).
			Dur("took", time.Since(start)).
			Int("pages", len(out.Pages)).
			Int("images", len(out.Images)).
			Msg("extraction complete")
		return out, name, nil
	}

	if empty != nil {
		log.Info().Str("engine", emptyEngine).Str("file", req.Filename).Msg("document is empty")
		return empty, emptyEngine, nil
	}
	if lastErr != nil {
		// Flattened on purpose: the surfaced kind is BackendUnavailable,
		// the per-engine EngineFailed detail rides along as text.
		return nil, "", fault.New(fault.KindBackendUnavailable, "layout", "all extraction engines failed: %v", lastErr)
	}
	return nil, "", fault.New(fault.KindBackendUnavailable, "layout", "no extraction engine available")
}

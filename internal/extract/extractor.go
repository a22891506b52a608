package extract

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/docpipeline/internal/ai"
	"github.com/local/docpipeline/internal/fault"
	"github.com/local/docpipeline/internal/jsonextract"
	"github.com/local/docpipeline/internal/metrics"
	"github.com/local/docpipeline/internal/templates"
)

// circuitBreaker cools down provider/model pairs that keep failing.
type circuitBreaker interface {
	IsOpen(ctx context.Context, provider, model string) bool
	Open(ctx context.Context, provider, model string)
	Close(ctx context.Context, provider, model string)
}

// Request names the text to extract from and the template and provider
// to use. Model overrides the provider default when set.
type Request struct {
	Text      string
	Provider  string
	Model     string
	Template  *templates.Template
	Overrides templates.Overrides
}

// Result is the outcome of one extraction run. Success distinguishes a
// parsed object from a classified failure; both carry the provider,
// model and wall-clock duration so callers can report timing uniformly.
type Result struct {
	TemplateID string
	Provider   string
	Model      string
	Success    bool
	Data       map[string]any
	ErrorKind  fault.Kind
	ErrorMsg   string
	ParseStage jsonextract.Stage
	Dropped    int
	Duration   time.Duration
}

type Extractor struct {
	providers *Providers
	breaker   circuitBreaker
}

func New(providers *Providers, breaker circuitBreaker) *Extractor {
	return &Extractor{providers: providers, breaker: breaker}
}

// Extract renders req.Template against req.Text, calls the model and
// returns the recovered object. Failures never raise: they come back
// classified on the Result so the caller can report them in the same
// envelope as successes.
func (e *Extractor) Extract(ctx context.Context, req Request) Result {
	start := time.Now()
	res := Result{TemplateID: req.Template.ID, Provider: req.Provider}

	fail := func(kind fault.Kind, msg string) Result {
		res.ErrorKind = kind
		res.ErrorMsg = msg
		res.Duration = time.Since(start)
		metrics.IncExtraction(res.Provider, res.Model, "error")
		log.Warn().
			Str("template", res.TemplateID).
			Str("provider", res.Provider).
			Str("model", res.Model).
			Str("kind", string(kind)).
			Msg("structured extraction failed")
		return res
	}

	prov, err := e.providers.Resolve(req.Provider)
	if err != nil {
		return fail(fault.KindOf(err), err.Error())
	}
	res.Provider = prov.Name
	res.Model = prov.Model
	if req.Model != "" {
		res.Model = req.Model
	}

	if e.breaker.IsOpen(ctx, res.Provider, res.Model) {
		return fail(fault.KindBackendUnavailable, "model is cooling down after repeated failures")
	}

	rendered := req.Template.Render(req.Text, req.Overrides)

	callCtx, cancel := context.WithTimeout(ctx, rendered.Params.Timeout())
	defer cancel()

	resp, err := prov.Client.Do(callCtx, ai.Request{
		Model:        res.Model,
		SystemPrompt: rendered.SystemPrompt,
		Prompt:       rendered.UserPrompt,
		Temperature:  rendered.Params.Temperature,
		MaxTokens:    rendered.Params.MaxTokens,
		JSONMode:     true,
	})
	if err != nil {
		if ai.IsTransient(err) {
			e.breaker.Open(ctx, res.Provider, res.Model)
		}
		return fail(classify(err), err.Error())
	}
	e.breaker.Close(ctx, res.Provider, res.Model)

	obj, stage, perr := jsonextract.Object(resp.Text)
	res.ParseStage = stage
	metrics.IncParseOutcome(string(stage))
	if perr != nil {
		return fail(fault.KindExtractionParse, "unparseable model reply: "+jsonextract.Snippet(resp.Text, 500))
	}

	if req.Template.OutputFormat.StrictSchema {
		obj, res.Dropped = Coerce(req.Template, obj)
		if res.Dropped > 0 {
			log.Debug().
				Str("template", res.TemplateID).
				Int("dropped", res.Dropped).
				Msg("dropped keys outside template schema")
		}
	}

	res.Success = true
	res.Data = obj
	res.Duration = time.Since(start)
	metrics.IncExtraction(res.Provider, res.Model, "ok")
	log.Info().
		Str("template", res.TemplateID).
		Str("provider", res.Provider).
		Str("model", res.Model).
		Str("parse_stage", string(stage)).
		Dur("took", res.Duration).
		Msg("structured extraction done")
	return res
}

// classify maps a model call failure to its result kind. Timeout is
// checked first: transient-looking timeouts still report as timeouts.
func classify(err error) fault.Kind {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || ai.IsTimeout(err):
		return fault.KindExtractionTimeout
	case errors.Is(err, ai.ErrContentRefused):
		return fault.KindExtractionRejected
	case ai.IsTransient(err):
		return fault.KindBackendUnavailable
	case ai.IsFatal(err):
		return fault.KindExtractionRejected
	default:
		return fault.KindInternal
	}
}

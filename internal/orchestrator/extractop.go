package orchestrator

import (
	"context"
	"strings"

	"github.com/local/docpipeline/internal/extract"
	"github.com/local/docpipeline/internal/fault"
	"github.com/local/docpipeline/internal/templates"
)

// ExtractRequest is one structured-extraction call. Text may come
// inline or from a stored document's markdown.
type ExtractRequest struct {
	DocumentID string
	Text       string
	TemplateID string
	Provider   string
	Model      string
	// Variables is the deprecated inline schema accepted when no
	// template id is given.
	Variables []templates.Variable
	Overrides templates.Overrides
}

// Extract resolves the text and template for one request and runs the
// structured extractor. Input and template resolution problems surface
// as errors for the transport to map; everything past that point is
// reported inside the result envelope.
func (o *Orchestrator) Extract(ctx context.Context, req ExtractRequest) (extract.Result, error) {
	text := req.Text
	if text == "" && req.DocumentID != "" {
		rec, ok, err := o.deps.Documents.Get(ctx, req.DocumentID)
		if err != nil {
			return extract.Result{}, fault.Wrap(fault.KindInternal, "extract", err)
		}
		if !ok {
			return extract.Result{}, fault.New(fault.KindNotFound, "extract", "document %s not found", req.DocumentID)
		}
		text = rec.Markdown
	}
	if strings.TrimSpace(text) == "" {
		return extract.Result{}, fault.New(fault.KindInputInvalid, "extract", "no text to extract from")
	}

	tpl, err := o.resolveTemplate(req)
	if err != nil {
		return extract.Result{}, err
	}

	return o.deps.Extractor.Extract(ctx, extract.Request{
		Text:      text,
		Provider:  req.Provider,
		Model:     req.Model,
		Template:  tpl,
		Overrides: req.Overrides,
	}), nil
}

// resolveTemplate picks the template: explicit id first, then the
// legacy inline variables shape, then the registry default.
func (o *Orchestrator) resolveTemplate(req ExtractRequest) (*templates.Template, error) {
	if req.TemplateID != "" {
		tpl, ok := o.deps.Templates.Get(req.TemplateID)
		if !ok {
			return nil, fault.New(fault.KindNotFound, "extract", "unknown template %q", req.TemplateID)
		}
		return tpl, nil
	}
	if len(req.Variables) > 0 {
		return templates.Legacy(req.Variables), nil
	}
	tpl, ok := o.deps.Templates.Default()
	if !ok {
		return nil, fault.New(fault.KindNotFound, "extract", "no templates loaded")
	}
	return tpl, nil
}

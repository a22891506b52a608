// Package layout turns a classified document into markdown text, page
// records and detection regions. Extraction runs through a plan of
// engines tried in order: a remote layout service, in-process native
// text, and a remote OCR service as the last resort.
package layout

import (
	"context"

	"github.com/local/docpipeline/internal/document"
)

// Request carries everything an engine needs to process one file.
type Request struct {
	// Path is the local file to extract.
	Path string
	// Filename is the original upload name, forwarded to remote engines.
	Filename string
	// Device hints the accelerator for remote engines (cpu, cuda, mps).
	Device string
	// Lang hints the OCR language.
	Lang string
}

// Image is an engine-supplied image, base64-decoded.
type Image struct {
	Name       string
	Data       []byte
	PageNumber *int
	ImageIndex int
	MIMEType   string
}

// Output is the extraction result of a single engine.
type Output struct {
	Markdown string
	Pages    []document.Page
	Images   []Image
	// Metadata is whatever the engine reported about itself, used to
	// enrich provenance.
	Metadata map[string]any
}

// Empty reports whether the engine produced neither text nor images.
// The extractor moves past an empty result to later engines, keeping it
// in case the whole plan agrees the document is blank.
func (o *Output) Empty() bool {
	if o == nil {
		return true
	}
	if o.Markdown != "" || len(o.Images) > 0 {
		return false
	}
	for _, p := range o.Pages {
		if p.Text != "" || len(p.Detections) > 0 {
			return false
		}
	}
	return true
}

// Engine extracts a document. Remote engines are health-checked against
// the backend registry before each attempt.
type Engine interface {
	Name() string
	Remote() bool
	Extract(ctx context.Context, req Request) (*Output, error)
}

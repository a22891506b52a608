package layout

import (
	"context"
	"fmt"
	"strings"

	fitz "github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"

	"github.com/local/docpipeline/internal/decoder"
	"github.com/local/docpipeline/internal/document"
	"github.com/local/docpipeline/internal/pdfimages"
)

// NativeEngine extracts the text layer in-process with go-fitz. It only
// works on PDFs that actually carry one, produces no detections, and is
// the cheap middle option for text-heavy documents.
type NativeEngine struct{}

func NewNativeEngine() *NativeEngine { return &NativeEngine{} }

func (e *NativeEngine) Name() string { return decoder.EngineTextNative }

func (e *NativeEngine) Remote() bool { return false }

func (e *NativeEngine) Extract(ctx context.Context, req Request) (*Output, error) {
	doc, err := fitz.New(req.Path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	total := doc.NumPage()
	if n, perr := pdfimages.PageCount(req.Path); perr == nil && n != total {
		log.Debug().Int("fitz", total).Int("pdfcpu", n).Msg("page count disagreement")
	}

	pages := make([]document.Page, 0, total)
	texts := make([]string, 0, total)
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, terr := doc.Text(i)
		if terr != nil {
			return nil, fmt.Errorf("text page %d: %w", i+1, terr)
		}
		text = cleanPageText(text)
		pages = append(pages, document.Page{Number: i + 1, Text: text})
		if text != "" {
			texts = append(texts, text)
		}
	}

	return &Output{
		Markdown: strings.Join(texts, "\n\n"),
		Pages:    pages,
		Metadata: map[string]any{"engine": "go-fitz"},
	}, nil
}

// cleanPageText strips extraction noise: CRLF endings, trailing blanks,
// runs of empty lines left behind by headers and footers.
func cleanPageText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, ln := range lines {
		ln = strings.TrimRight(ln, " \t")
		if ln == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, ln)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

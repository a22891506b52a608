package layout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/local/docpipeline/internal/decoder"
	"github.com/local/docpipeline/internal/document"
)

// OCREngine calls the OCR service. It yields plain page text with no
// detections, which makes it the engine of record for scanned input and
// the last fallback for everything else.
type OCREngine struct {
	http *http.Client
	base string
}

func NewOCREngine(baseURL string) *OCREngine {
	return &OCREngine{http: &http.Client{}, base: strings.TrimRight(baseURL, "/")}
}

func (e *OCREngine) Name() string { return decoder.EngineOCRFallback }

func (e *OCREngine) Remote() bool { return true }

type ocrResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Text    string `json:"text"`
	Pages   []struct {
		PageNumber int    `json:"page_number"`
		Text       string `json:"text"`
	} `json:"pages"`
	Metadata map[string]any `json:"metadata"`
}

func (e *OCREngine) Extract(ctx context.Context, req Request) (*Output, error) {
	body, contentType, err := multipartFile(req.Path, req.Filename, map[string]string{
		"lang": req.Lang,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.base+"/ocr", body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := e.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ocr service HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var r ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("ocr service reply: %w", err)
	}
	if !r.Success {
		return nil, fmt.Errorf("ocr service rejected document: %s", r.Error)
	}

	out := &Output{Markdown: r.Text, Metadata: r.Metadata}
	for _, p := range r.Pages {
		out.Pages = append(out.Pages, document.Page{Number: p.PageNumber, Text: p.Text})
	}
	return out, nil
}

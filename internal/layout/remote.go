package layout

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/docpipeline/internal/decoder"
	"github.com/local/docpipeline/internal/document"
)

// RemoteEngine calls the layout analysis service. It returns per-page
// text plus detection regions with category ids and bboxes, and any
// images the service cropped itself.
type RemoteEngine struct {
	http *http.Client
	base string
}

func NewRemoteEngine(baseURL string) *RemoteEngine {
	return &RemoteEngine{http: &http.Client{}, base: strings.TrimRight(baseURL, "/")}
}

func (e *RemoteEngine) Name() string { return decoder.EngineLayoutRemote }

func (e *RemoteEngine) Remote() bool { return true }

type remoteDetection struct {
	CategoryID int       `json:"category_id"`
	BBox       []float64 `json:"bbox"`
	Content    string    `json:"content"`
	Confidence float64   `json:"confidence"`
}

type remotePage struct {
	PageNumber int               `json:"page_number"`
	Text       string            `json:"text"`
	Detections []remoteDetection `json:"detections"`
}

type remoteImage struct {
	Name       string `json:"name"`
	Base64     string `json:"base64"`
	PageNumber *int   `json:"page_number"`
	ImageIndex int    `json:"image_index"`
	MIMEType   string `json:"mime_type"`
}

type remoteResponse struct {
	Success  bool           `json:"success"`
	Error    string         `json:"error"`
	Text     string         `json:"text"`
	Pages    []remotePage   `json:"pages"`
	Images   []remoteImage  `json:"images"`
	Metadata map[string]any `json:"metadata"`
}

func (e *RemoteEngine) Extract(ctx context.Context, req Request) (*Output, error) {
	body, contentType, err := multipartFile(req.Path, req.Filename, map[string]string{
		"device":          req.Device,
		"lang":            req.Lang,
		"enable_formulas": "true",
		"enable_tables":   "true",
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.base+"/process", body)
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
		return nil, fmt.Errorf("layout service HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var r remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("layout service reply: %w", err)
	}
	if !r.Success {
		return nil, fmt.Errorf("layout service rejected document: %s", r.Error)
	}
	return r.toOutput(), nil
}

func (r *remoteResponse) toOutput() *Output {
	out := &Output{Markdown: r.Text, Metadata: r.Metadata}

	for _, p := range r.Pages {
		page := document.Page{Number: p.PageNumber, Text: p.Text}
		for _, det := range p.Detections {
			cat, ok := document.CategoryFromID(det.CategoryID)
			if !ok {
				log.Debug().Int("category_id", det.CategoryID).Int("page", p.PageNumber).Msg("unknown detection category, dropped")
				continue
			}
			bbox, ok := bboxFromSlice(det.BBox)
			if !ok {
				log.Debug().Int("category_id", det.CategoryID).Int("page", p.PageNumber).Msg("malformed detection bbox, dropped")
				continue
			}
			page.Detections = append(page.Detections, document.Detection{
				Category:   cat,
				BBox:       bbox,
				Content:    det.Content,
				Confidence: det.Confidence,
			})
		}
		out.Pages = append(out.Pages, page)
	}

	for _, img := range r.Images {
		data, err := base64.StdEncoding.DecodeString(img.Base64)
		if err != nil {
			log.Warn().Err(err).Str("name", img.Name).Msg("engine image not valid base64, dropped")
			continue
		}
		out.Images = append(out.Images, Image{
			Name:       img.Name,
			Data:       data,
			PageNumber: img.PageNumber,
			ImageIndex: img.ImageIndex,
			MIMEType:   img.MIMEType,
		})
	}
	return out
}

func bboxFromSlice(v []float64) (document.BBox, bool) {
	if len(v) != 4 {
		return document.BBox{}, false
	}
	b := document.BBox{X0: v[0], Y0: v[1], X1: v[2], Y1: v[3]}
	return b, b.Valid()
}

// multipartFile builds a multipart body with the file under field "file"
// plus the given extra fields. Empty field values are omitted.
func multipartFile(path, filename string, fields map[string]string) (*bytes.Buffer, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	var b bytes.Buffer
	mw := multipart.NewWriter(&b)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, "", err
	}
	for k, v := range fields {
		if v != "" {
			if err := mw.WriteField(k, v); err != nil {
				return nil, "", err
			}
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &b, mw.FormDataContentType(), nil
}

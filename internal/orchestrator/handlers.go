package orchestrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/docpipeline/internal/document"
	"github.com/local/docpipeline/internal/fault"
	"github.com/local/docpipeline/internal/metrics"
	"github.com/local/docpipeline/internal/registry"
	"github.com/local/docpipeline/internal/templates"
)

// maxUploadMemory bounds the in-memory part of multipart parsing;
// larger bodies spill to temp files.
const maxUploadMemory = 64 << 20

// RegisterRoutes attaches every endpoint to mux.
func (o *Orchestrator) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/process", o.handleProcess)
	mux.HandleFunc("/extract-images-only", o.handleImagesOnly)
	mux.HandleFunc("/extract-structured", o.handleExtractStructured)
	mux.HandleFunc("/health", o.handleHealth)
	mux.HandleFunc("/providers", o.handleProviders)
	mux.HandleFunc("/templates", o.handleTemplates)
	mux.HandleFunc("/templates/", o.handleTemplate)
	mux.HandleFunc("/documents/", o.handleDocuments)
	mux.Handle("/metrics", metrics.Handler())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, fault.HTTPStatus(err), map[string]any{
		"success": false,
		"error":   string(fault.KindOf(err)),
		"message": err.Error(),
	})
}

func formBool(v string) bool {
	return v == "true" || v == "on" || v == "1"
}

func (o *Orchestrator) handleProcess(w http.ResponseWriter, r *http.Request) {
	o.serveIngest(w, r, false)
}

// handleImagesOnly runs the same pipeline but answers with the text
// stripped, for callers that only want the image artifacts.
func (o *Orchestrator) handleImagesOnly(w http.ResponseWriter, r *http.Request) {
	o.serveIngest(w, r, true)
}

type processImage struct {
	Name       string `json:"name"`
	Base64     string `json:"base64"`
	PageNumber *int   `json:"page_number"`
	ImageIndex int    `json:"image_index"`
	MIMEType   string `json:"mime_type"`
	BlobKey    string `json:"blob_key,omitempty"`
}

func (o *Orchestrator) serveIngest(w http.ResponseWriter, r *http.Request, imagesOnly bool) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, fault.New(fault.KindInputInvalid, "api", "invalid multipart form"))
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, fault.New(fault.KindInputInvalid, "api", "missing file field"))
		return
	}
	defer file.Close()

	opts := IngestOptions{
		Filename:     hdr.Filename,
		DeclaredMIME: hdr.Header.Get("Content-Type"),
		EnrichImages: formBool(r.FormValue("extract_charts")),
		Provider:     r.FormValue("chart_provider"),
		Device:       r.FormValue("device"),
		Lang:         r.FormValue("lang"),
	}

	res, err := o.Ingest(r.Context(), file, opts, nil)
	if err != nil {
		writeError(w, err)
		return
	}

	images := make([]processImage, 0, len(res.Items))
	for i := range res.Items {
		a := &res.Items[i].Artifact
		images = append(images, processImage{
			Name:       a.Name,
			Base64:     base64.StdEncoding.EncodeToString(res.Items[i].Data),
			PageNumber: a.PageNumber,
			ImageIndex: a.Index,
			MIMEType:   a.MIME,
			BlobKey:    a.BlobKey,
		})
	}

	text := res.Record.Markdown
	if imagesOnly {
		text = ""
	}
	meta := map[string]any{
		"document_id": res.Record.ID,
		"input_class": res.Record.InputClass,
		"state":       res.Record.State,
		"counts":      res.Record.Counts,
		"provenance":  res.Record.Provenance,
	}
	if res.Enrichment != nil {
		meta["enrichment"] = res.Enrichment
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"text":            text,
		"images":          images,
		"metadata":        meta,
		"processing_time": time.Since(start).Seconds(),
	})
}

type extractBody struct {
	Text          string               `json:"text"`
	DocumentID    string               `json:"document_id"`
	Model         string               `json:"model"`
	Provider      string               `json:"provider"`
	TemplateID    string               `json:"template_id"`
	Variables     []templates.Variable `json:"variables"`
	Temperature   *float64             `json:"temperature"`
	MaxTokens     int                  `json:"max_tokens"`
	MaxTextLength int                  `json:"max_text_length"`
	Timeout       int                  `json:"timeout"`
}

func (o *Orchestrator) handleExtractStructured(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var body extractBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fault.New(fault.KindInputInvalid, "api", "invalid json body"))
		return
	}

	res, err := o.Extract(r.Context(), ExtractRequest{
		DocumentID: body.DocumentID,
		Text:       body.Text,
		TemplateID: body.TemplateID,
		Provider:   body.Provider,
		Model:      body.Model,
		Variables:  body.Variables,
		Overrides: templates.Overrides{
			Temperature:   body.Temperature,
			MaxTokens:     body.MaxTokens,
			MaxTextLength: body.MaxTextLength,
			TimeoutSec:    body.Timeout,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}

	// Extraction failures ride the envelope, never the status code.
	resp := map[string]any{
		"success":         res.Success,
		"model":           res.Model,
		"provider":        res.Provider,
		"template_id":     res.TemplateID,
		"processing_time": res.Duration.Seconds(),
	}
	if res.Success {
		resp["data"] = res.Data
		if res.Dropped > 0 {
			resp["dropped_keys"] = res.Dropped
		}
	} else {
		resp["error"] = string(res.ErrorKind)
		resp["message"] = res.ErrorMsg
	}
	writeJSON(w, http.StatusOK, resp)
}

func (o *Orchestrator) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	backends := map[string]string{}
	if o.deps.Backends != nil {
		for _, s := range o.deps.Backends.Snapshots() {
			backends[s.Name] = string(s.Health)
			if s.Health == registry.HealthDegraded {
				status = "degraded"
			}
		}
	}

	redisOK := ping(ctx, o.deps.RedisPing)
	blobOK := ping(ctx, o.deps.BlobPing)
	if !redisOK || !blobOK {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"service":    "docpipeline",
		"version":    Version,
		"backend":    backends,
		"platform":   runtime.GOOS + "/" + runtime.GOARCH,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"redis":      redisOK,
		"blob_store": blobOK,
		"converter":  o.deps.Converter != nil && o.deps.Converter.Available(),
		"templates":  o.deps.Templates.Count(),
	})
}

func ping(ctx context.Context, p Pinger) bool {
	if p == nil {
		return false
	}
	return p.Ping(ctx) == nil
}

func (o *Orchestrator) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": o.deps.Providers.List(),
	})
}

func (o *Orchestrator) handleTemplates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	list := o.deps.Templates.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"templates": list,
		"count":     len(list),
	})
}

func (o *Orchestrator) handleTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/templates/")
	tpl, ok := o.deps.Templates.Get(id)
	if !ok {
		writeError(w, fault.New(fault.KindNotFound, "api", "unknown template %q", id))
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

// handleDocuments routes /documents/{id}[/images|/status|/enrich].
func (o *Orchestrator) handleDocuments(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/documents/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, fault.New(fault.KindInputInvalid, "api", "missing document id"))
		return
	}
	switch {
	case sub == "" && r.Method == http.MethodGet:
		o.handleDocumentGet(w, r, id)
	case sub == "status" && r.Method == http.MethodGet:
		o.handleDocumentStatus(w, r, id)
	case sub == "images" && r.Method == http.MethodGet:
		o.handleDocumentImages(w, r, id)
	case sub == "enrich" && r.Method == http.MethodPost:
		o.handleDocumentEnrich(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (o *Orchestrator) handleDocumentGet(w http.ResponseWriter, r *http.Request, id string) {
	rec, ok, err := o.deps.Documents.Get(r.Context(), id)
	if err != nil {
		writeError(w, fault.Wrap(fault.KindInternal, "api", err))
		return
	}
	if !ok {
		writeError(w, fault.New(fault.KindNotFound, "api", "document %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (o *Orchestrator) handleDocumentStatus(w http.ResponseWriter, r *http.Request, id string) {
	st, ok, err := o.deps.Status.Get(r.Context(), id)
	if err != nil {
		writeError(w, fault.Wrap(fault.KindInternal, "api", err))
		return
	}
	if !ok {
		writeError(w, fault.New(fault.KindNotFound, "api", "no status for document %s", id))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (o *Orchestrator) handleDocumentImages(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok, err := o.deps.Documents.Get(r.Context(), id); err != nil {
		writeError(w, fault.Wrap(fault.KindInternal, "api", err))
		return
	} else if !ok {
		writeError(w, fault.New(fault.KindNotFound, "api", "document %s not found", id))
		return
	}

	arts, err := o.deps.Artifacts.ListByDocument(r.Context(), id)
	if err != nil {
		writeError(w, fault.Wrap(fault.KindInternal, "api", err))
		return
	}

	type artifactOut struct {
		document.Artifact
		SignedURL string `json:"signed_url,omitempty"`
	}
	out := make([]artifactOut, 0, len(arts))
	for i := range arts {
		ao := artifactOut{Artifact: arts[i]}
		if arts[i].BlobKey != "" && o.deps.Blobs != nil {
			if u, err := o.deps.Blobs.Sign(r.Context(), arts[i].BlobKey, 0); err == nil {
				ao.SignedURL = u
			} else {
				log.Debug().Err(err).Str("artifact_id", arts[i].ID).Msg("signed URL failed")
			}
		}
		out = append(out, ao)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document_id": id,
		"images":      out,
		"count":       len(out),
	})
}

type enrichBody struct {
	Provider     string `json:"provider"`
	ForceRefresh bool   `json:"force_refresh"`
}

func (o *Orchestrator) handleDocumentEnrich(w http.ResponseWriter, r *http.Request, id string) {
	defer r.Body.Close()
	var body enrichBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, fault.New(fault.KindInputInvalid, "api", "invalid json body"))
			return
		}
	}

	start := time.Now()
	sum, err := o.Enrich(r.Context(), id, EnrichOptions{Provider: body.Provider, Force: body.ForceRefresh})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"document_id":     sum.DocumentID,
		"processed":       sum.Outcome.Processed,
		"skipped":         sum.Outcome.Skipped,
		"failed":          sum.Outcome.Failed,
		"state":           sum.State,
		"processing_time": time.Since(start).Seconds(),
	})
}

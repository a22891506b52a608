package document

import "time"

// Origin says where an image artifact came from.
type Origin string

const (
	// OriginEmbedded marks images pulled out of the PDF object stream or
	// returned inline by the layout engine.
	OriginEmbedded Origin = "embedded"
	// OriginRegion marks crops rendered from a page raster by bounding box.
	OriginRegion Origin = "region"
)

// Artifact is one persisted image plus its metadata and enrichment
// fields. (DocumentID, PageNumber, Index, Origin) is unique within a
// document; embedded and region variants of the same picture both
// survive with their own indices.
type Artifact struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Name       string `json:"name"`
	// PageNumber is nil for embedded images whose page could not be
	// determined.
	PageNumber *int   `json:"page_number"`
	Index      int    `json:"image_index"`
	Origin     Origin `json:"origin"`

	MIME      string `json:"mime_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	SizeBytes int    `json:"size_bytes"`
	SHA256    string `json:"sha256"`
	BlobKey   string `json:"blob_key"`

	// Enrichment fields, null until the vision stage has run.
	OCRText         *string        `json:"ocr_text"`
	Description     *string        `json:"description"`
	Classification  *string        `json:"classification"`
	Confidence      *float64       `json:"classification_confidence"`
	Analysis        map[string]any `json:"analysis,omitempty"`
	StructuredData  map[string]any `json:"structured_data,omitempty"`
	Embedding       []float64      `json:"embedding,omitempty"`
	EnrichedAt      *time.Time     `json:"enriched_at"`
	EnrichmentError *string        `json:"enrichment_error,omitempty"`

	OCRProcessed       bool `json:"ocr_processed"`
	EmbeddingGenerated bool `json:"embedding_generated"`
}

// Enriched reports whether the artifact already carries a completed
// enrichment: OCR done and an embedding stored. Used to skip work on
// re-runs unless the caller forces a refresh.
func (a *Artifact) Enriched() bool {
	return a.OCRProcessed && a.EmbeddingGenerated
}

package document

import "time"

// InputClass is the detected class of an ingested file.
type InputClass string

const (
	ClassTextPDF    InputClass = "text_pdf"
	ClassScannedPDF InputClass = "scanned_pdf"
	ClassMixedPDF   InputClass = "mixed"
	ClassImage      InputClass = "image"
	ClassOffice     InputClass = "office"
	ClassUnknown    InputClass = "unknown"
)

// IsPDF reports whether the class is one of the PDF sub-classes.
func (c InputClass) IsPDF() bool {
	switch c {
	case ClassTextPDF, ClassScannedPDF, ClassMixedPDF:
		return true
	}
	return false
}

// Counts aggregates what the layout stage found.
type Counts struct {
	Pages          int `json:"pages"`
	CharsExtracted int `json:"chars_extracted"`
	Formulas       int `json:"formulas_count"`
	Tables         int `json:"tables_count"`
	ImageRegions   int `json:"images_detected"`
	EmbeddedImages int `json:"images_embedded"`
}

// Provenance records which engine produced the layout and under what
// settings.
type Provenance struct {
	EngineUsed string `json:"engine_used"`
	Device     string `json:"device"`
	Lang       string `json:"lang"`
	DurationMS int64  `json:"duration_ms"`
}

// Record is the canonical representation of a parsed document. It is
// created by the layout stage and immutable afterwards; enrichment
// writes only to the artifacts persisted alongside it.
type Record struct {
	ID           string     `json:"id"`
	Filename     string     `json:"filename"`
	SizeBytes    int64      `json:"size_bytes"`
	DeclaredMIME string     `json:"declared_mime"`
	InputClass   InputClass `json:"input_class"`

	Pages    []Page `json:"pages"`
	Markdown string `json:"markdown"`

	Counts     Counts     `json:"counts"`
	Provenance Provenance `json:"provenance"`

	State       State     `json:"state"`
	FailureKind string    `json:"failure_kind,omitempty"`
	FailureMsg  string    `json:"failure_msg,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Page is one page of a parsed document.
type Page struct {
	Number     int         `json:"page_number"`
	Text       string      `json:"text"`
	Detections []Detection `json:"detections,omitempty"`
}

// PageText returns the text of the given 1-indexed page, or "" when the
// record has no such page.
func (r *Record) PageText(number int) string {
	for i := range r.Pages {
		if r.Pages[i].Number == number {
			return r.Pages[i].Text
		}
	}
	return ""
}

// Recount rebuilds the layout counts from the pages. Tables are counted
// apart from image regions even though both get cropped. Embedded image
// counts are owned by the materialise stage and left untouched.
func (r *Record) Recount() {
	c := Counts{Pages: len(r.Pages), EmbeddedImages: r.Counts.EmbeddedImages}
	for i := range r.Pages {
		c.CharsExtracted += len(r.Pages[i].Text)
		for _, d := range r.Pages[i].Detections {
			switch d.Category {
			case CategoryFormula:
				c.Formulas++
			case CategoryTable:
				c.Tables++
			case CategoryImage, CategoryFigure:
				c.ImageRegions++
			}
		}
	}
	r.Counts = c
}

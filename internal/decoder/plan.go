package decoder

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/local/docpipeline/internal/document"
)

// Engine names understood by the layout extraction stage, in the order
// the stage tries them.
const (
	EngineLayoutRemote = "layout_remote"
	EngineTextNative   = "text_native"
	EngineOCRFallback  = "ocr_fallback"
)

// Plan is the extraction strategy for a classified input. Engines are
// tried in order until one succeeds. Convert marks Office inputs that
// must become PDF before any engine can run.
type Plan struct {
	Engines []string
	Convert bool
}

// planFor maps an input class to its engine order. Scanned pages carry no
// native text layer, so text_native never appears in the scanned plan.
// Mixed documents prefer OCR over native text because native extraction
// silently drops their scanned pages.
func (d *Decoder) planFor(class document.InputClass, path string) *Plan {
	var engines []string
	switch class {
	case document.ClassTextPDF:
		engines = []string{EngineLayoutRemote, EngineTextNative, EngineOCRFallback}
	case document.ClassScannedPDF:
		engines = []string{EngineLayoutRemote, EngineOCRFallback}
	case document.ClassMixedPDF:
		engines = []string{EngineLayoutRemote, EngineOCRFallback, EngineTextNative}
	case document.ClassImage:
		engines = []string{EngineOCRFallback}
	case document.ClassOffice:
		return &Plan{Convert: true}
	default:
		engines = []string{EngineLayoutRemote, EngineTextNative, EngineOCRFallback}
	}

	if d.layoutMaxBytes > 0 && len(engines) > 0 && engines[0] == EngineLayoutRemote {
		if fi, err := os.Stat(path); err == nil && fi.Size() > d.layoutMaxBytes {
			log.Warn().
				Int64("size_bytes", fi.Size()).
				Int64("max_bytes", d.layoutMaxBytes).
				Msg("file exceeds remote layout size cap, skipping remote engine")
			engines = engines[1:]
		}
	}
	return &Plan{Engines: engines}
}

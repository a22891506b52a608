package enrich

import (
	"strings"

	"github.com/local/docpipeline/internal/document"
)

const contextChars = 500

// surroundingText picks up to 500 chars of page text near the
// artifact's page. Pages without text (scans before OCR) defer to the
// nearest page that has some; artifacts with no known page fall back to
// the first page with text.
func surroundingText(rec *document.Record, pageNumber *int) string {
	if rec == nil || len(rec.Pages) == 0 {
		return ""
	}

	if pageNumber == nil {
		for i := range rec.Pages {
			if t := strings.TrimSpace(rec.Pages[i].Text); t != "" {
				return clamp(t, contextChars)
			}
		}
		return ""
	}

	if t := strings.TrimSpace(rec.PageText(*pageNumber)); t != "" {
		return clamp(t, contextChars)
	}

	best := ""
	bestDist := -1
	for i := range rec.Pages {
		t := strings.TrimSpace(rec.Pages[i].Text)
		if t == "" {
			continue
		}
		dist := rec.Pages[i].Number - *pageNumber
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist < bestDist {
			best, bestDist = t, dist
		}
	}
	return clamp(best, contextChars)
}

func clamp(s string, max int) string {
	r := []rune(s)
	if len(r) > max {
		return string(r[:max])
	}
	return s
}

package decoder

import (
	"regexp"
)

// probePages caps how many leading pages the classifier samples.
const probePages = 3

var whitespaceRegex = regexp.MustCompile(`\s+`)

// stripWhitespace removes all Unicode whitespace from the given string.
func stripWhitespace(s string) string {
	return whitespaceRegex.ReplaceAllString(s, "")
}

// Doc abstracts an opened PDF for text probing.
type Doc interface {
	NumPage() int
	Text(pageNumber int) (string, error)
	Close() error
}

// Opener abstracts opening a PDF path into a Doc.
type Opener interface {
	Open(path string) (Doc, error)
}

type probeResult struct {
	// Pages is the total page count of the document.
	Pages int
	// Sampled is how many leading pages were probed.
	Sampled int
	// Chars is the whitespace-stripped rune count across sampled pages.
	Chars int
}

// probePDF opens the PDF and counts extractable text over the first
// min(probePages, total) pages. Pages that fail to yield text are
// skipped, they count toward the sample but contribute zero characters.
func (d *Decoder) probePDF(path string) (*probeResult, error) {
	doc, err := d.opener.Open(path)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	total := doc.NumPage()
	sampled := total
	if sampled > probePages {
		sampled = probePages
	}

	res := &probeResult{Pages: total, Sampled: sampled}
	for i := 0; i < sampled; i++ {
		text, terr := doc.Text(i)
		if terr != nil {
			continue
		}
		res.Chars += len([]rune(stripWhitespace(text)))
	}
	return res, nil
}

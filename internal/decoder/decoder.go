// Package decoder identifies what kind of document a file actually is and
// decides which extraction engines should handle it. Detection works on
// magic bytes, never on the declared content type, and the classification
// heuristics are deliberately cheap: a few sampled pages, never a full
// parse.
package decoder

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"

	"github.com/local/docpipeline/internal/document"
	"github.com/local/docpipeline/internal/fault"
	"github.com/local/docpipeline/internal/pdfimages"
)

// Result describes a classified input file.
type Result struct {
	Class document.InputClass
	MIME  string
	Plan  *Plan
}

// Decoder classifies input files and builds extraction plans.
type Decoder struct {
	opener         Opener
	countImages    func(path string, maxPage int) (int, error)
	layoutMaxBytes int64
}

// New returns a Decoder. Files larger than layoutMaxMB MiB are kept away
// from the remote layout engine.
func New(layoutMaxMB int) *Decoder {
	return &Decoder{
		opener:         fitzOpener{},
		countImages:    pdfimages.CountInPages,
		layoutMaxBytes: int64(layoutMaxMB) << 20,
	}
}

// Classify detects the file type of path and returns its input class
// together with the extraction plan for it. Detection trusts magic bytes
// over declaredMIME, which is only logged when the two disagree. filename
// is the original upload name; its extension disambiguates container
// formats that magic bytes alone cannot tell apart.
func (d *Decoder) Classify(path, declaredMIME, filename string) (*Result, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindInputInvalid, "classify", err)
	}
	mime := resolveContainerMIME(mtype.String(), filename)

	log.Debug().Str("mime", mime).Str("file", filename).Msg("detected file type")
	if declaredMIME != "" && declaredMIME != mime {
		log.Debug().Str("declared", declaredMIME).Str("detected", mime).Msg("declared content type disagrees with magic bytes")
	}

	switch {
	case mime == "application/pdf":
		class, plan := d.classifyPDF(path)
		return &Result{Class: class, MIME: mime, Plan: plan}, nil
	case strings.HasPrefix(mime, "image/"):
		return &Result{Class: document.ClassImage, MIME: mime, Plan: d.planFor(document.ClassImage, path)}, nil
	case isOfficeMIME(mime):
		return &Result{Class: document.ClassOffice, MIME: mime, Plan: &Plan{Convert: true}}, nil
	default:
		return nil, fault.New(fault.KindInputInvalid, "classify", "unsupported file type %s", mime)
	}
}

// classifyPDF samples the first pages of a PDF and buckets it by how much
// real text and how many embedded images the sample holds. A PDF that
// cannot be opened classifies as unknown rather than failing: the widest
// plan still gives it a chance downstream.
func (d *Decoder) classifyPDF(path string) (document.InputClass, *Plan) {
	res, err := d.probePDF(path)
	if err != nil {
		log.Warn().Err(err).Str("file", filepath.Base(path)).Msg("pdf probe failed, classifying as unknown")
		return document.ClassUnknown, d.planFor(document.ClassUnknown, path)
	}

	images := 0
	if res.Sampled > 0 {
		if n, cerr := d.countImages(path, res.Sampled); cerr == nil {
			images = n
		} else {
			log.Debug().Err(cerr).Str("file", filepath.Base(path)).Msg("embedded image count failed")
		}
	}

	class := classifyCounts(res.Chars, images, res.Sampled)
	log.Info().
		Str("class", string(class)).
		Int("pages", res.Pages).
		Int("sampled", res.Sampled).
		Int("chars", res.Chars).
		Int("images", images).
		Msg("classified pdf")
	return class, d.planFor(class, path)
}

// classifyCounts applies the threshold chain, first match wins. chars is
// the whitespace-stripped rune count over the sampled pages, images the
// embedded image count in those pages.
func classifyCounts(chars, images, sampled int) document.InputClass {
	switch {
	case chars > 8000:
		return document.ClassTextPDF
	case chars > 3000 && images > sampled*2:
		return document.ClassMixedPDF
	case chars > 3000:
		return document.ClassTextPDF
	case chars > 500 && images > sampled:
		return document.ClassMixedPDF
	case chars > 500:
		return document.ClassTextPDF
	case images > 0:
		return document.ClassScannedPDF
	default:
		return document.ClassUnknown
	}
}

// resolveContainerMIME narrows generic ZIP and OLE container types to the
// Office format the upload extension names. Modern Office files are ZIP
// archives and legacy ones OLE storages, so magic bytes stop at the
// container.
func resolveContainerMIME(mime, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))

	if mime == "application/zip" || strings.Contains(mime, "application/x-zip") {
		switch ext {
		case ".docx":
			return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
		case ".xlsx":
			return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		case ".pptx":
			return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
		case ".vsdx":
			return "application/vnd.ms-visio.drawing.main+xml"
		case ".odt":
			return "application/vnd.oasis.opendocument.text"
		case ".ods":
			return "application/vnd.oasis.opendocument.spreadsheet"
		case ".odp":
			return "application/vnd.oasis.opendocument.presentation"
		default:
			log.Warn().Str("ext", ext).Msg("zip container with unrecognised extension")
		}
	}

	if mime == "application/x-ole-storage" || mime == "application/x-cfb" {
		switch ext {
		case ".doc":
			return "application/msword"
		case ".xls":
			return "application/vnd.ms-excel"
		case ".ppt":
			return "application/vnd.ms-powerpoint"
		case ".vsd":
			return "application/vnd.ms-visio.drawing"
		default:
			log.Warn().Str("ext", ext).Msg("ole storage with unrecognised extension")
		}
	}

	return mime
}

var officeMIMEs = map[string]struct{}{
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   {},
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         {},
	"application/msword":                              {},
	"application/vnd.ms-powerpoint":                   {},
	"application/vnd.ms-excel":                        {},
	"application/vnd.oasis.opendocument.text":         {},
	"application/vnd.oasis.opendocument.presentation": {},
	"application/vnd.oasis.opendocument.spreadsheet":  {},
	"application/rtf":                                 {},
	"application/vnd.ms-visio.drawing":                {},
	"application/vnd.ms-visio.drawing.main+xml":       {},
}

func isOfficeMIME(mime string) bool {
	_, ok := officeMIMEs[mime]
	return ok
}

// Package materialise turns extraction output into persistable image
// artifacts. Two streams feed it: images embedded in the document itself
// (engine-returned or pulled from the PDF object stream) and region
// crops rendered from layout detections. Both variants of the same
// picture survive side by side; nothing is de-duplicated.
package materialise

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/docpipeline/internal/document"
	"github.com/local/docpipeline/internal/imagerender"
	"github.com/local/docpipeline/internal/layout"
	"github.com/local/docpipeline/internal/metrics"
	"github.com/local/docpipeline/internal/pdfimages"
)

// Item pairs an artifact record with its image bytes, ready for the blob
// store.
type Item struct {
	Artifact document.Artifact
	Data     []byte
}

// Materialiser builds image artifacts from extraction output.
type Materialiser struct {
	render          func(ctx context.Context, pdfPath string, regions []imagerender.Region) ([]imagerender.Crop, error)
	extractEmbedded func(path string) ([]pdfimages.Extracted, error)
}

func New() *Materialiser {
	return &Materialiser{
		render:          imagerender.RenderRegions,
		extractEmbedded: pdfimages.ExtractAll,
	}
}

// Build materialises every image artifact for one document. Indices are
// dense and 0-based within a page, embedded stream first, region crops
// after in reading order, so blob keys never collide across origins.
// Images that cannot be decoded are skipped with a warning; a render
// failure aborts only if the context died.
func (m *Materialiser) Build(ctx context.Context, docID, path string, class document.InputClass, out *layout.Output) ([]Item, error) {
	next := make(map[int]int)
	var items []Item

	for _, em := range m.embeddedStream(path, class, out) {
		png, w, h, err := imagerender.ReencodePNG(em.data)
		if err != nil {
			log.Warn().Err(err).Str("name", em.name).Str("document_id", docID).Msg("embedded image undecodable, skipped")
			continue
		}
		idx := takeIndex(next, em.page)
		name := em.name
		if name == "" {
			name = fmt.Sprintf("embedded_%s_%d.png", pageTag(em.page), idx)
		}
		items = append(items, newItem(docID, name, em.page, idx, document.OriginEmbedded, png, w, h))
		metrics.IncArtifact(string(document.OriginEmbedded))
	}

	regions, meta := collectRegions(out)
	if len(regions) > 0 {
		crops, err := m.render(ctx, path, regions)
		if err != nil {
			return nil, err
		}
		for _, c := range crops {
			rm := meta[c.ID]
			page := rm.page
			idx := takeIndex(next, &page)
			name := fmt.Sprintf("%s_p%d_%d.png", rm.category, page, idx)
			items = append(items, newItem(docID, name, &page, idx, document.OriginRegion, c.PNG, c.Width, c.Height))
			metrics.IncArtifact(string(document.OriginRegion))
		}
	}

	log.Info().Str("document_id", docID).Int("artifacts", len(items)).Msg("materialised image artifacts")
	return items, nil
}

type embeddedImage struct {
	name string
	data []byte
	page *int
}

// embeddedStream picks the source for embedded images: engine-supplied
// first, the PDF object stream when the engine returned none, and for a
// standalone image upload the file itself becomes the single artifact.
func (m *Materialiser) embeddedStream(path string, class document.InputClass, out *layout.Output) []embeddedImage {
	if len(out.Images) > 0 {
		ems := make([]embeddedImage, 0, len(out.Images))
		for _, img := range out.Images {
			ems = append(ems, embeddedImage{name: img.Name, data: img.Data, page: img.PageNumber})
		}
		return ems
	}

	if class == document.ClassImage {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Msg("cannot read uploaded image")
			return nil
		}
		page := 1
		return []embeddedImage{{data: data, page: &page}}
	}

	if class.IsPDF() || class == document.ClassUnknown {
		extracted, err := m.extractEmbedded(path)
		if err != nil {
			log.Warn().Err(err).Msg("embedded image extraction failed")
			return nil
		}
		ems := make([]embeddedImage, 0, len(extracted))
		for _, ex := range extracted {
			ems = append(ems, embeddedImage{name: ex.Name, data: ex.Data, page: ex.PageNumber})
		}
		return ems
	}
	return nil
}

type regionMeta struct {
	page     int
	category document.Category
}

// collectRegions flattens croppable detections into render requests,
// sorted into reading order within each page: top to bottom, left to
// right on ties.
func collectRegions(out *layout.Output) ([]imagerender.Region, map[string]regionMeta) {
	var regions []imagerender.Region
	meta := make(map[string]regionMeta)

	for _, p := range out.Pages {
		dets := make([]document.Detection, 0, len(p.Detections))
		for _, det := range p.Detections {
			if det.Category.IsRegionSource() {
				dets = append(dets, det)
			}
		}
		sort.SliceStable(dets, func(i, j int) bool {
			if dets[i].BBox.Y0 != dets[j].BBox.Y0 {
				return dets[i].BBox.Y0 < dets[j].BBox.Y0
			}
			return dets[i].BBox.X0 < dets[j].BBox.X0
		})
		for i, det := range dets {
			id := fmt.Sprintf("%d_%d", p.Number, i)
			regions = append(regions, imagerender.Region{ID: id, Page: p.Number, BBox: det.BBox})
			meta[id] = regionMeta{page: p.Number, category: det.Category}
		}
	}
	return regions, meta
}

func newItem(docID, name string, page *int, idx int, origin document.Origin, png []byte, w, h int) Item {
	sum := sha256.Sum256(png)
	return Item{
		Artifact: document.Artifact{
			ID:         uuid.New().String(),
			DocumentID: docID,
			Name:       name,
			PageNumber: page,
			Index:      idx,
			Origin:     origin,
			MIME:       "image/png",
			Width:      w,
			Height:     h,
			SizeBytes:  len(png),
			SHA256:     hex.EncodeToString(sum[:]),
		},
		Data: png,
	}
}

func takeIndex(next map[int]int, page *int) int {
	key := -1
	if page != nil {
		key = *page
	}
	idx := next[key]
	next[key] = idx + 1
	return idx
}

func pageTag(page *int) string {
	if page == nil {
		return "noPage"
	}
	return fmt.Sprintf("p%d", *page)
}

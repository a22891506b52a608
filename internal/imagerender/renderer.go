// Package imagerender rasterises PDF pages with go-fitz and crops
// detection regions out of them. Pages render at double the PDF's native
// resolution so small charts and formulas stay legible for the vision
// models downstream.
package imagerender

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"runtime"
	"sort"
	"sync"

	fitz "github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/local/docpipeline/internal/document"
)

// renderDPI doubles the PDF native 72 dpi.
const renderDPI = 144

// Region identifies one rectangle to crop from a rendered page. BBox is
// in PDF point coordinates, origin top-left. ID is the caller's
// correlation key and must be unique within a call.
type Region struct {
	ID   string
	Page int
	BBox document.BBox
}

// Crop is a rendered region, PNG-encoded.
type Crop struct {
	ID     string
	Page   int
	PNG    []byte
	Width  int
	Height int
}

// Workers returns the render pool size. Rasterising is CPU-bound, so the
// pool never exceeds four regardless of core count.
func Workers() int {
	n := runtime.NumCPU()
	if n > 4 {
		n = 4
	}
	if n < 1 {
		n = 1
	}
	return n
}

// RenderRegions renders each region's page at double resolution and crops
// the scaled bbox. Pages are rendered once each and processed in
// parallel. Regions whose page or crop fails are skipped with a warning;
// results come back in input order.
func RenderRegions(ctx context.Context, pdfPath string, regions []Region) ([]Crop, error) {
	if len(regions) == 0 {
		return nil, nil
	}

	byPage := make(map[int][]Region)
	for _, r := range regions {
		byPage[r.Page] = append(byPage[r.Page], r)
	}
	pages := make([]int, 0, len(byPage))
	for p := range byPage {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(Workers())

	var mu sync.Mutex
	done := make(map[string]Crop, len(regions))

	for _, page := range pages {
		page := page
		regs := byPage[page]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			crops, err := renderPage(pdfPath, page, regs)
			if err != nil {
				log.Warn().Err(err).Int("page", page).Int("regions", len(regs)).Msg("page render failed, skipping regions")
				return nil
			}
			mu.Lock()
			for _, c := range crops {
				done[c.ID] = c
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Crop, 0, len(done))
	for _, r := range regions {
		if c, ok := done[r.ID]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// renderPage opens its own document handle: go-fitz handles are not safe
// for concurrent use.
func renderPage(pdfPath string, page int, regions []Region) ([]Crop, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.ImageDPI(page-1, float64(renderDPI))
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", page, err)
	}

	scale := float64(renderDPI) / 72.0
	out := make([]Crop, 0, len(regions))
	for _, r := range regions {
		c, cerr := cropRegion(img, r, scale)
		if cerr != nil {
			log.Warn().Err(cerr).Int("page", page).Str("region", r.ID).Msg("region crop failed, skipping")
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func cropRegion(img image.Image, r Region, scale float64) (Crop, error) {
	b := r.BBox.Scaled(scale)
	rect := image.Rect(int(b.X0), int(b.Y0), int(b.X1), int(b.Y1)).Intersect(img.Bounds())
	if rect.Empty() {
		return Crop{}, fmt.Errorf("bbox %v outside page bounds", r.BBox)
	}

	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return Crop{}, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return Crop{ID: r.ID, Page: r.Page, PNG: buf.Bytes(), Width: rect.Dx(), Height: rect.Dy()}, nil
}

// ReencodePNG decodes image bytes of any registered format and returns
// them PNG-encoded with their dimensions. Bytes already in PNG form pass
// through untouched.
func ReencodePNG(data []byte) ([]byte, int, int, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to decode image: %w", err)
	}
	if format == "png" {
		return data, cfg.Width, cfg.Height, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to decode image: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to encode PNG: %w", err)
	}
	b := img.Bounds()
	return buf.Bytes(), b.Dx(), b.Dy(), nil
}

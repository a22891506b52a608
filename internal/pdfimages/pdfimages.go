// Package pdfimages pulls embedded raster images out of PDF files via
// pdfcpu. It works on the PDF object level and never rasterises pages,
// so it is cheap enough to run during input classification.
package pdfimages

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// Extracted is a single embedded image recovered from a PDF.
type Extracted struct {
	// Name is the file name pdfcpu assigned on extraction.
	Name string
	// Data is the raw image bytes as stored in the PDF.
	Data []byte
	// PageNumber is the 1-based page the image belongs to, nil when the
	// page could not be recovered from the extraction output.
	PageNumber *int
}

// PageCount returns the number of pages in the PDF at path.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("pdf page count failed: %w", err)
	}
	return n, nil
}

// ExtractAll recovers every embedded image from the PDF at path. Results
// are ordered by page number then by name; images without a recoverable
// page number sort last.
func ExtractAll(path string) ([]Extracted, error) {
	dir, err := os.MkdirTemp("", "pdfimages-")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := api.ExtractImagesFile(path, dir, nil, nil); err != nil {
		return nil, fmt.Errorf("pdf image extraction failed: %w", err)
	}
	return collect(dir)
}

// CountInPages reports how many embedded images appear on pages 1..maxPage.
// A maxPage below 1 counts the whole document.
func CountInPages(path string, maxPage int) (int, error) {
	dir, err := os.MkdirTemp("", "pdfimages-")
	if err != nil {
		return 0, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	var selected []string
	if maxPage > 0 {
		selected = []string{fmt.Sprintf("1-%d", maxPage)}
	}
	if err := api.ExtractImagesFile(path, dir, selected, nil); err != nil {
		return 0, fmt.Errorf("pdf image extraction failed: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read extraction dir: %w", err)
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && isImageName(e.Name()) {
			n++
		}
	}
	return n, nil
}

func collect(dir string) ([]Extracted, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read extraction dir: %w", err)
	}

	var out []Extracted
	for _, e := range entries {
		if e.IsDir() || !isImageName(e.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read extracted image %s: %w", e.Name(), err)
		}
		out = append(out, Extracted{
			Name:       e.Name(),
			Data:       data,
			PageNumber: pageFromName(e.Name()),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].PageNumber, out[j].PageNumber
		switch {
		case pi == nil && pj == nil:
			return out[i].Name < out[j].Name
		case pi == nil:
			return false
		case pj == nil:
			return true
		case *pi != *pj:
			return *pi < *pj
		default:
			return out[i].Name < out[j].Name
		}
	})
	return out, nil
}

func isImageName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".webp":
		return true
	default:
		return false
	}
}

// pageFromName parses the page number out of a pdfcpu extraction file
// name, shaped like <base>_<page>_<resource>.<ext>. The base may itself
// contain underscores, so parsing runs from the end.
func pageFromName(name string) *int {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.Split(stem, "_")
	if len(parts) < 3 {
		return nil
	}
	page, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil || page < 1 {
		return nil
	}
	return &page
}
